package chatclient

import (
	"context"
	"errors"
	"time"

	"docuchat-go/internal/model"
)

// UploadResolver 在直传完成后按对象存储 key 轮询文件记录。
// 上传确认回调与记录创建之间存在窗口，轮询直到记录出现，
// 返回的文件 ID 是会话视图的跳转目标。
type UploadResolver struct {
	client   *Client
	interval time.Duration
}

// NewUploadResolver 创建一个新的 UploadResolver。interval 非正时取默认 500ms。
func NewUploadResolver(client *Client, interval time.Duration) *UploadResolver {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &UploadResolver{client: client, interval: interval}
}

// Resolve 阻塞轮询直到文件记录存在或 ctx 被取消，返回文件 ID。
// ErrNotFound 表示记录尚未创建，继续等待；其他错误直接返回。
func (r *UploadResolver) Resolve(ctx context.Context, storageKey string) (string, error) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		record, err := r.client.ResolveFile(ctx, storageKey)
		if err == nil {
			return record.ID, nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return "", err
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}
