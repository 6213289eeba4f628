package service

import (
	"context"
	"errors"
	"time"

	"docuchat-go/internal/config"
	"docuchat-go/internal/model"
	"docuchat-go/internal/repository"
	"docuchat-go/pkg/es"
	"docuchat-go/pkg/log"
	"docuchat-go/pkg/storage"

	"github.com/go-redis/redis/v8"
)

// FileService 接口定义了文件记录相关的业务操作。
type FileService interface {
	// GetUploadStatus 返回文件的处理状态。记录不存在时返回 PENDING 而不是错误：
	// 直传回调与首次轮询之间存在竞态，轮询方会继续等待直到记录出现。
	GetUploadStatus(ctx context.Context, fileID string, userID uint) (model.UploadStatus, error)
	// ResolveByStorageKey 按对象存储 key 查找文件记录，供上传确认轮询使用。
	ResolveByStorageKey(ctx context.Context, storageKey string, userID uint) (*model.File, error)
	Get(ctx context.Context, fileID string, userID uint) (*model.File, error)
	List(ctx context.Context, userID uint) ([]model.File, error)
	// Delete 删除文件及其全部派生数据：消息、分块、向量索引、存储对象。
	Delete(ctx context.Context, fileID string, userID uint) error
	// DownloadURL 签发预签名下载 URL，供前端内嵌 PDF 渲染器加载原始文档。
	DownloadURL(ctx context.Context, fileID string, userID uint) (string, error)
}

type fileService struct {
	fileRepo  repository.FileRepository
	esCfg     config.ElasticsearchConfig
	minioCfg  config.MinIOConfig
	uploadCfg config.UploadConfig
}

// NewFileService 创建一个新的 FileService 实例。
func NewFileService(fileRepo repository.FileRepository, esCfg config.ElasticsearchConfig, minioCfg config.MinIOConfig, uploadCfg config.UploadConfig) FileService {
	return &fileService{
		fileRepo:  fileRepo,
		esCfg:     esCfg,
		minioCfg:  minioCfg,
		uploadCfg: uploadCfg,
	}
}

// GetUploadStatus 优先读 Redis 状态缓存，未命中再回源数据库。
func (s *fileService) GetUploadStatus(ctx context.Context, fileID string, userID uint) (model.UploadStatus, error) {
	status, err := s.fileRepo.GetCachedStatus(ctx, fileID, userID)
	if err == nil {
		return status, nil
	}
	if !errors.Is(err, redis.Nil) {
		log.Warnf("[FileService] 读取状态缓存失败，回源数据库, fileID: %s, error: %v", fileID, err)
	}

	file, err := s.fileRepo.FindByIDAndUser(fileID, userID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			// 记录尚未创建，按约定返回 PENDING 让轮询继续
			return model.UploadStatusPending, nil
		}
		return "", err
	}

	// 回填缓存，后续轮询不再回源
	if cacheErr := s.fileRepo.CacheStatus(ctx, fileID, userID, file.UploadStatus); cacheErr != nil {
		log.Warnf("[FileService] 回填状态缓存失败, fileID: %s, error: %v", fileID, cacheErr)
	}
	return file.UploadStatus, nil
}

// ResolveByStorageKey 按存储 key 查找文件记录。
func (s *fileService) ResolveByStorageKey(ctx context.Context, storageKey string, userID uint) (*model.File, error) {
	return s.fileRepo.FindByStorageKeyAndUser(storageKey, userID)
}

// Get 按 ID 查找文件记录，校验归属。
func (s *fileService) Get(ctx context.Context, fileID string, userID uint) (*model.File, error) {
	return s.fileRepo.FindByIDAndUser(fileID, userID)
}

// List 返回用户的全部文件，按创建时间倒序。
func (s *fileService) List(ctx context.Context, userID uint) ([]model.File, error) {
	return s.fileRepo.FindByUserID(userID)
}

// Delete 删除文件及其派生数据。派生数据清理失败只记日志不中断：
// 文件记录删除后这些数据已不可达，残留可由后台任务回收。
func (s *fileService) Delete(ctx context.Context, fileID string, userID uint) error {
	file, err := s.fileRepo.FindByIDAndUser(fileID, userID)
	if err != nil {
		return err
	}

	log.Infof("[FileService] 开始删除文件及派生数据, fileID: %s, userID: %d", fileID, userID)

	if err := es.DeleteByFileID(ctx, s.esCfg.IndexName, fileID); err != nil {
		log.Warnf("[FileService] 删除向量索引失败, fileID: %s, error: %v", fileID, err)
	}
	if err := storage.RemoveObject(ctx, s.minioCfg.BucketName, file.StorageKey); err != nil {
		log.Warnf("[FileService] 删除存储对象失败, storageKey: %s, error: %v", file.StorageKey, err)
	}
	if err := s.fileRepo.Delete(fileID, userID); err != nil {
		log.Errorf("[FileService] 删除文件记录失败, fileID: %s, error: %v", fileID, err)
		return err
	}

	log.Infof("[FileService] 文件删除完成, fileID: %s", fileID)
	return nil
}

// DownloadURL 签发预签名下载 URL。
func (s *fileService) DownloadURL(ctx context.Context, fileID string, userID uint) (string, error) {
	file, err := s.fileRepo.FindByIDAndUser(fileID, userID)
	if err != nil {
		return "", err
	}
	expiry := time.Duration(s.uploadCfg.PresignExpireMinutes) * time.Minute
	return storage.GetPresignedURL(s.minioCfg.BucketName, file.StorageKey, expiry)
}
