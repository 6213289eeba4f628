package model

import "time"

// UploadStatus 表示文件入库管道的处理状态。
// 状态只会从 PENDING/PROCESSING 单向迁移到终态 SUCCESS 或 FAILED，不会回退。
type UploadStatus string

const (
	UploadStatusPending    UploadStatus = "PENDING"
	UploadStatusProcessing UploadStatus = "PROCESSING"
	UploadStatusSuccess    UploadStatus = "SUCCESS"
	UploadStatusFailed     UploadStatus = "FAILED"
)

// IsTerminal 判断状态是否为终态。
func (s UploadStatus) IsTerminal() bool {
	return s == UploadStatusSuccess || s == UploadStatusFailed
}

// File 定义了 files 表的 ORM 模型。
// 每条记录对应一个已上传到对象存储的 PDF 文档。
type File struct {
	ID           string       `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name         string       `gorm:"type:varchar(255);not null" json:"name"`
	StorageKey   string       `gorm:"type:varchar(255);uniqueIndex;not null" json:"storageKey"`
	Size         int64        `gorm:"not null" json:"size"`
	UserID       uint         `gorm:"index;not null" json:"userId"`
	UploadStatus UploadStatus `gorm:"type:varchar(16);not null;default:'PENDING'" json:"uploadStatus"`
	PageCount    int          `gorm:"not null;default:0" json:"pageCount"`
	CreatedAt    time.Time    `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (File) TableName() string {
	return "files"
}
