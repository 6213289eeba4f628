package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"docuchat-go/internal/config"
	"docuchat-go/internal/model"
	"docuchat-go/internal/repository"
	"docuchat-go/pkg/kafka"
	"docuchat-go/pkg/log"
	"docuchat-go/pkg/storage"
	"docuchat-go/pkg/tasks"

	"github.com/google/uuid"
)

// PresignResult 是预签名上传授权的返回结果。
type PresignResult struct {
	URL        string `json:"url"`
	StorageKey string `json:"storageKey"`
}

// UploadService 接口定义了文件上传相关的业务操作。
// 上传采用浏览器直传：服务端先签发预签名 PUT URL，
// 客户端直传对象存储后再回调 Complete 创建文件记录并触发入库。
type UploadService interface {
	Presign(ctx context.Context, userID uint, fileName string, size int64) (*PresignResult, error)
	Complete(ctx context.Context, userID uint, storageKey, fileName string) (*model.File, error)
}

type uploadService struct {
	fileRepo  repository.FileRepository
	userRepo  repository.UserRepository
	minioCfg  config.MinIOConfig
	uploadCfg config.UploadConfig
}

// NewUploadService 创建一个新的 UploadService 实例。
func NewUploadService(fileRepo repository.FileRepository, userRepo repository.UserRepository, minioCfg config.MinIOConfig, uploadCfg config.UploadConfig) UploadService {
	return &uploadService{
		fileRepo:  fileRepo,
		userRepo:  userRepo,
		minioCfg:  minioCfg,
		uploadCfg: uploadCfg,
	}
}

// Presign 签发预签名上传 URL。在签发前完成档位校验：
// 文件总数配额、单文件大小上限、文件类型（仅 PDF）。
func (s *uploadService) Presign(ctx context.Context, userID uint, fileName string, size int64) (*PresignResult, error) {
	log.Infof("[UploadService] 开始签发上传授权, userID: %d, fileName: %s, size: %d", userID, fileName, size)

	if !strings.HasSuffix(strings.ToLower(fileName), ".pdf") {
		return nil, fmt.Errorf("%w: 仅支持 PDF 文件", model.ErrValidation)
	}

	user, err := s.userRepo.FindByID(userID)
	if err != nil {
		return nil, err
	}
	plan := PlanForUser(user)

	if plan.MaxFileSize > 0 && size > plan.MaxFileSize {
		log.Warnf("[UploadService] 文件超出大小上限, userID: %d, size: %d, limit: %d", userID, size, plan.MaxFileSize)
		return nil, fmt.Errorf("%w: 文件大小超出 %s 档位上限", model.ErrQuotaExceeded, plan.Name)
	}

	count, err := s.fileRepo.CountByUserID(userID)
	if err != nil {
		return nil, err
	}
	if plan.Quota > 0 && count >= int64(plan.Quota) {
		log.Warnf("[UploadService] 文件数量达到配额上限, userID: %d, count: %d, quota: %d", userID, count, plan.Quota)
		return nil, fmt.Errorf("%w: 文件数量达到 %s 档位上限", model.ErrQuotaExceeded, plan.Name)
	}

	// storageKey 带用户前缀和随机段，确保不同用户、同名文件互不覆盖
	storageKey := fmt.Sprintf("uploads/%d/%s/%s", userID, uuid.NewString(), fileName)
	expiry := time.Duration(s.uploadCfg.PresignExpireMinutes) * time.Minute
	url, err := storage.GetPresignedPutURL(s.minioCfg.BucketName, storageKey, expiry)
	if err != nil {
		return nil, err
	}

	log.Infof("[UploadService] 上传授权签发成功, userID: %d, storageKey: %s", userID, storageKey)
	return &PresignResult{URL: url, StorageKey: storageKey}, nil
}

// Complete 在直传完成后创建文件记录并投递入库任务。
// 先 StatObject 确认对象确实存在，防止凭空创建记录。
func (s *uploadService) Complete(ctx context.Context, userID uint, storageKey, fileName string) (*model.File, error) {
	log.Infof("[UploadService] 开始确认上传完成, userID: %d, storageKey: %s", userID, storageKey)

	// 幂等：同一 storageKey 重复回调直接返回已有记录
	if existing, err := s.fileRepo.FindByStorageKeyAndUser(storageKey, userID); err == nil {
		return existing, nil
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	info, err := storage.StatObject(ctx, s.minioCfg.BucketName, storageKey)
	if err != nil {
		log.Errorf("[UploadService] 对象不存在或不可访问, storageKey: %s, error: %v", storageKey, err)
		return nil, fmt.Errorf("%w: 对象尚未上传完成", model.ErrValidation)
	}

	file := &model.File{
		ID:           uuid.NewString(),
		Name:         fileName,
		StorageKey:   storageKey,
		Size:         info.Size,
		UserID:       userID,
		UploadStatus: model.UploadStatusPending,
	}
	if err := s.fileRepo.Create(file); err != nil {
		log.Errorf("[UploadService] 创建文件记录失败, storageKey: %s, error: %v", storageKey, err)
		return nil, err
	}
	// 状态缓存同步写入，轮询请求无需回源数据库
	if err := s.fileRepo.CacheStatus(ctx, file.ID, userID, model.UploadStatusPending); err != nil {
		log.Warnf("[UploadService] 写入状态缓存失败, fileID: %s, error: %v", file.ID, err)
	}

	task := tasks.FileIngestTask{
		FileID:     file.ID,
		StorageKey: storageKey,
		FileName:   fileName,
		UserID:     userID,
	}
	if err := kafka.ProduceIngestTask(task); err != nil {
		// 投递失败直接置为终态 FAILED，客户端轮询会立即停止
		log.Errorf("[UploadService] 投递入库任务失败, fileID: %s, error: %v", file.ID, err)
		if stErr := s.fileRepo.UpdateUploadStatus(ctx, file.ID, userID, model.UploadStatusFailed); stErr != nil {
			log.Errorf("[UploadService] 更新文件状态为 FAILED 失败, fileID: %s, error: %v", file.ID, stErr)
		}
		return nil, err
	}

	log.Infof("[UploadService] 上传确认完成，入库任务已投递, fileID: %s", file.ID)
	return file, nil
}
