// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// User 定义了 users 表的 ORM 模型。
// Stripe 相关字段记录了当前订阅状态，为空则视为免费档位。
type User struct {
	ID                     uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Email                  string     `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Password               string     `gorm:"type:varchar(255);not null" json:"-"`
	Role                   string     `gorm:"type:varchar(20);not null;default:'USER'" json:"role"`
	StripeCustomerID       string     `gorm:"type:varchar(255)" json:"-"`
	StripeSubscriptionID   string     `gorm:"type:varchar(255)" json:"-"`
	StripePriceID          string     `gorm:"type:varchar(255)" json:"-"`
	StripeCurrentPeriodEnd *time.Time `gorm:"default:null" json:"-"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (User) TableName() string {
	return "users"
}

// IsSubscribed 判断用户当前是否处于有效的付费订阅期内。
func (u *User) IsSubscribed() bool {
	return u.StripePriceID != "" &&
		u.StripeCurrentPeriodEnd != nil &&
		u.StripeCurrentPeriodEnd.After(time.Now())
}
