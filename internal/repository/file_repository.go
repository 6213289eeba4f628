package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docuchat-go/internal/model"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// statusCacheTTL 是 Redis 状态缓存的有效期。状态接口以 500ms 间隔被轮询，
// 终态写入后客户端随即停止轮询，缓存无需长期保留。
const statusCacheTTL = 24 * time.Hour

// FileRepository 接口定义了文件记录相关的数据持久化操作。
type FileRepository interface {
	Create(file *model.File) error
	FindByID(id string) (*model.File, error)
	FindByIDAndUser(id string, userID uint) (*model.File, error)
	FindByStorageKeyAndUser(key string, userID uint) (*model.File, error)
	FindByUserID(userID uint) ([]model.File, error)
	CountByUserID(userID uint) (int64, error)
	Delete(id string, userID uint) error
	// UpdateUploadStatus 更新处理状态并同步 Redis 状态缓存。
	// 状态只许单向迁移：已处于终态的记录不再改写。
	UpdateUploadStatus(ctx context.Context, fileID string, userID uint, status model.UploadStatus) error
	UpdatePageCount(fileID string, pageCount int) error
	// GetCachedStatus 读取 Redis 中的状态缓存，未命中返回 redis.Nil。
	// 缓存 key 按归属用户隔离，非属主的读取永远未命中。
	GetCachedStatus(ctx context.Context, fileID string, userID uint) (model.UploadStatus, error)
	CacheStatus(ctx context.Context, fileID string, userID uint, status model.UploadStatus) error
}

// fileRepository 是 FileRepository 接口的 GORM+Redis 实现。
type fileRepository struct {
	db          *gorm.DB
	redisClient *redis.Client
}

// NewFileRepository 创建一个新的 FileRepository 实例。
func NewFileRepository(db *gorm.DB, redisClient *redis.Client) FileRepository {
	return &fileRepository{db: db, redisClient: redisClient}
}

// statusCacheKey 生成状态缓存的 Redis key。key 带上归属用户，
// 避免他人凭 fileID 命中缓存绕过归属校验。
func statusCacheKey(fileID string, userID uint) string {
	return fmt.Sprintf("file:status:%d:%s", userID, fileID)
}

// Create 在数据库中创建一个新的文件记录。
func (r *fileRepository) Create(file *model.File) error {
	return r.db.Create(file).Error
}

// FindByID 根据文件 ID 查找文件记录（不校验归属）。
func (r *fileRepository) FindByID(id string) (*model.File, error) {
	var file model.File
	err := r.db.Where("id = ?", id).First(&file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return &file, nil
}

// FindByIDAndUser 根据文件 ID 和归属用户查找文件记录。
func (r *fileRepository) FindByIDAndUser(id string, userID uint) (*model.File, error) {
	var file model.File
	err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return &file, nil
}

// FindByStorageKeyAndUser 根据对象存储 key 和归属用户查找文件记录。
// 上传确认轮询依赖此查询：记录尚未创建时返回 ErrNotFound。
func (r *fileRepository) FindByStorageKeyAndUser(key string, userID uint) (*model.File, error) {
	var file model.File
	err := r.db.Where("storage_key = ? AND user_id = ?", key, userID).First(&file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return &file, nil
}

// FindByUserID 查找指定用户的所有文件，按创建时间倒序。
func (r *fileRepository) FindByUserID(userID uint) ([]model.File, error) {
	var files []model.File
	err := r.db.Where("user_id = ?", userID).Order("created_at desc").Find(&files).Error
	return files, err
}

// CountByUserID 统计指定用户的文件总数（用于档位配额校验）。
func (r *fileRepository) CountByUserID(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&model.File{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}

// Delete 删除文件记录及其关联的消息与分块记录。
func (r *fileRepository) Delete(id string, userID uint) error {
	var errs []error

	if err := r.db.Where("file_id = ?", id).Delete(&model.Message{}).Error; err != nil {
		errs = append(errs, err)
	}
	if err := r.db.Where("file_id = ?", id).Delete(&model.DocumentChunk{}).Error; err != nil {
		errs = append(errs, err)
	}
	if err := r.db.Where("id = ? AND user_id = ?", id, userID).Delete(&model.File{}).Error; err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("删除文件记录部分失败（fileID=%s, userID=%d）: %v", id, userID, errors.Join(errs...))
	}
	return nil
}

// UpdateUploadStatus 更新指定文件的处理状态，并同步写入 Redis 状态缓存。
func (r *fileRepository) UpdateUploadStatus(ctx context.Context, fileID string, userID uint, status model.UploadStatus) error {
	// 终态不可回退
	res := r.db.Model(&model.File{}).
		Where("id = ? AND upload_status NOT IN ?", fileID, []model.UploadStatus{model.UploadStatusSuccess, model.UploadStatusFailed}).
		Update("upload_status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}
	return r.CacheStatus(ctx, fileID, userID, status)
}

// UpdatePageCount 记录解析出的页数。
func (r *fileRepository) UpdatePageCount(fileID string, pageCount int) error {
	return r.db.Model(&model.File{}).Where("id = ?", fileID).Update("page_count", pageCount).Error
}

// GetCachedStatus 读取 Redis 状态缓存。
func (r *fileRepository) GetCachedStatus(ctx context.Context, fileID string, userID uint) (model.UploadStatus, error) {
	val, err := r.redisClient.Get(ctx, statusCacheKey(fileID, userID)).Result()
	if err != nil {
		return "", err
	}
	return model.UploadStatus(val), nil
}

// CacheStatus 将状态写入 Redis 缓存。
func (r *fileRepository) CacheStatus(ctx context.Context, fileID string, userID uint, status model.UploadStatus) error {
	return r.redisClient.Set(ctx, statusCacheKey(fileID, userID), string(status), statusCacheTTL).Err()
}
