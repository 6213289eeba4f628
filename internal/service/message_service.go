package service

import (
	"context"

	"docuchat-go/internal/model"
	"docuchat-go/internal/repository"
)

// MessageService 接口定义了对话消息的查询操作。
type MessageService interface {
	// ListPage 返回指定文件下的一页消息，按创建时间倒序（最新在前）。
	// cursor 为空时返回第一页；NextCursor 为空表示没有更早的消息。
	ListPage(ctx context.Context, fileID string, userID uint, limit int, cursor string) (*model.MessagePage, error)
}

type messageService struct {
	messageRepo repository.MessageRepository
	fileRepo    repository.FileRepository
}

// NewMessageService 创建一个新的 MessageService 实例。
func NewMessageService(messageRepo repository.MessageRepository, fileRepo repository.FileRepository) MessageService {
	return &messageService{
		messageRepo: messageRepo,
		fileRepo:    fileRepo,
	}
}

// ListPage 校验文件归属后执行游标分页查询。
func (s *messageService) ListPage(ctx context.Context, fileID string, userID uint, limit int, cursor string) (*model.MessagePage, error) {
	if _, err := s.fileRepo.FindByIDAndUser(fileID, userID); err != nil {
		return nil, err
	}
	return s.messageRepo.ListPage(fileID, userID, limit, cursor)
}
