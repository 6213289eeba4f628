package chatclient

import (
	"context"
	"time"

	"docuchat-go/internal/model"
	"docuchat-go/pkg/log"
)

// defaultPollInterval 是状态轮询的默认间隔。
const defaultPollInterval = 500 * time.Millisecond

// StatusPoller 以固定间隔轮询文件的入库处理状态，
// 观察到终态（SUCCESS/FAILED）后自行停止。
type StatusPoller struct {
	client   *Client
	interval time.Duration
}

// NewStatusPoller 创建一个新的 StatusPoller。interval 非正时取默认 500ms。
func NewStatusPoller(client *Client, interval time.Duration) *StatusPoller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &StatusPoller{client: client, interval: interval}
}

// Wait 阻塞轮询直到文件进入终态或 ctx 被取消。
// 单次查询出错只记日志并继续，由 ctx 控制整体放弃。
func (p *StatusPoller) Wait(ctx context.Context, fileID string) (model.UploadStatus, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		status, err := p.client.FileStatus(ctx, fileID)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			log.Warnf("[StatusPoller] 查询状态失败, fileID: %s, error: %v", fileID, err)
		} else if status.IsTerminal() {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}
