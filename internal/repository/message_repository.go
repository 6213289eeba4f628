package repository

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"docuchat-go/internal/model"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// MessageRepository 接口定义了对话消息相关的数据持久化操作。
type MessageRepository interface {
	Create(message *model.Message) error
	// ListPage 按创建时间倒序返回一页消息。cursor 为空表示第一页；
	// 非空时 cursor 指向的消息是本页第一条（闭区间游标）。
	// 实际查询 limit+1 条，多出的最后一条只用来生成下一页游标，不进入结果。
	ListPage(fileID string, userID uint, limit int, cursor string) (*model.MessagePage, error)
	// FindRecent 返回最近的 limit 条消息，按创建时间正序（旧在前）。
	FindRecent(fileID string, userID uint, limit int) ([]model.Message, error)
	DeleteByFileID(fileID string) error
}

// messageRepository 是 MessageRepository 接口的 GORM 实现。
type messageRepository struct {
	db *gorm.DB

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewMessageRepository 创建一个新的 MessageRepository 实例。
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{
		db:      db,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// newMessageID 生成单调递增的 ULID。同一毫秒内生成的 ID 仍然保持
// 字典序递增，与 created_at 一起构成分页游标的稳定排序键。
func (r *messageRepository) newMessageID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ulid.MustNew(ulid.Now(), r.entropy).String()
}

// Create 在数据库中创建一条消息，自动分配 ULID 主键。
func (r *messageRepository) Create(message *model.Message) error {
	if message.ID == "" {
		message.ID = r.newMessageID()
	}
	return r.db.Create(message).Error
}

// ListPage 执行闭区间游标分页查询。
func (r *messageRepository) ListPage(fileID string, userID uint, limit int, cursor string) (*model.MessagePage, error) {
	query := r.db.Where("file_id = ? AND user_id = ?", fileID, userID)

	if cursor != "" {
		var anchor model.Message
		err := r.db.Where("id = ? AND file_id = ? AND user_id = ?", cursor, fileID, userID).First(&anchor).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, model.ErrNotFound
			}
			return nil, err
		}
		// 游标行本身是本页第一条，所以条件带等号
		query = query.Where("created_at < ? OR (created_at = ? AND id <= ?)",
			anchor.CreatedAt, anchor.CreatedAt, anchor.ID)
	}

	var messages []model.Message
	err := query.Order("created_at DESC").Order("id DESC").Limit(limit + 1).Find(&messages).Error
	if err != nil {
		return nil, err
	}

	page := &model.MessagePage{}
	if len(messages) > limit {
		page.NextCursor = messages[limit].ID
		messages = messages[:limit]
	}
	page.Messages = messages
	return page, nil
}

// FindRecent 取最近 limit 条消息后反转为时间正序，供大模型上下文窗口使用。
func (r *messageRepository) FindRecent(fileID string, userID uint, limit int) ([]model.Message, error) {
	var messages []model.Message
	err := r.db.Where("file_id = ? AND user_id = ?", fileID, userID).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// DeleteByFileID 删除指定文件下的全部消息。
func (r *messageRepository) DeleteByFileID(fileID string) error {
	return r.db.Where("file_id = ?", fileID).Delete(&model.Message{}).Error
}
