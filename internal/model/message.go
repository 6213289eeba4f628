package model

import "time"

// Message 定义了 messages 表的 ORM 模型。
// 服务端持久化后不可变；ID 使用 ULID，与 created_at 同向单调递增，
// 因此游标分页可以用 id 作为同一时间戳内的次级排序键。
type Message struct {
	ID            string    `gorm:"type:varchar(26);primaryKey" json:"id"`
	FileID        string    `gorm:"type:varchar(36);index;not null" json:"fileId"`
	UserID        uint      `gorm:"index;not null" json:"-"`
	Text          string    `gorm:"type:text;not null" json:"text"`
	IsUserMessage bool      `gorm:"not null" json:"isUserMessage"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Message) TableName() string {
	return "messages"
}

// MessagePage 是一页按时间倒序排列的消息，NextCursor 为空表示没有更早的页。
type MessagePage struct {
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"nextCursor,omitempty"`
}
