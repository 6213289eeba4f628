package repository

import (
	"docuchat-go/internal/model"

	"gorm.io/gorm"
)

// ChunkRepository 接口定义了文档分块相关的数据持久化操作。
type ChunkRepository interface {
	BatchCreate(chunks []model.DocumentChunk) error
	FindByFileID(fileID string) ([]model.DocumentChunk, error)
	DeleteByFileID(fileID string) error
}

// chunkRepository 是 ChunkRepository 接口的 GORM 实现。
type chunkRepository struct {
	db *gorm.DB
}

// NewChunkRepository 创建一个新的 ChunkRepository 实例。
func NewChunkRepository(db *gorm.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

// BatchCreate 批量写入分块记录。
func (r *chunkRepository) BatchCreate(chunks []model.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.db.CreateInBatches(chunks, 100).Error
}

// FindByFileID 查找指定文件的全部分块，按分块序号正序。
func (r *chunkRepository) FindByFileID(fileID string) ([]model.DocumentChunk, error) {
	var chunks []model.DocumentChunk
	err := r.db.Where("file_id = ?", fileID).Order("chunk_id asc").Find(&chunks).Error
	return chunks, err
}

// DeleteByFileID 删除指定文件的全部分块记录。
func (r *chunkRepository) DeleteByFileID(fileID string) error {
	return r.db.Where("file_id = ?", fileID).Delete(&model.DocumentChunk{}).Error
}
