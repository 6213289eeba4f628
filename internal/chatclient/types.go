// Package chatclient 实现了对话视图的客户端同步引擎：
// 乐观插入、流式合并、失败回滚、缓存失效与游标分页的合流展示。
// 服务端是消息的唯一权威，这里的缓存只是它的一个前瞻副本。
package chatclient

import "time"

// Kind 标记缓存中一条消息的来源与生命周期阶段。
// 显式的判别字段取代了用保留 ID 充当占位符的做法，
// 不存在与真实持久化 ID 冲突的可能。
type Kind string

const (
	// KindPersisted 表示服务端已持久化的消息。
	KindPersisted Kind = "persisted"
	// KindOptimistic 表示本地乐观插入、尚未得到服务端确认的用户消息。
	KindOptimistic Kind = "optimistic"
	// KindStreaming 表示正在流式接收中的助手回答占位消息。
	// 每个文档的缓存中至多存在一条。
	KindStreaming Kind = "streaming"
	// KindLoading 表示发送进行中的加载指示伪消息，只在展示层出现。
	KindLoading Kind = "loading"
)

// ChatMessage 是缓存与展示层共用的消息结构。
type ChatMessage struct {
	ID            string    `json:"id"`
	Text          string    `json:"text"`
	IsUserMessage bool      `json:"isUserMessage"`
	CreatedAt     time.Time `json:"createdAt"`
	Kind          Kind      `json:"kind"`
}

// Page 是一页按时间倒序排列的消息。NextCursor 为空表示没有更早的页。
type Page struct {
	Messages   []ChatMessage
	NextCursor string
}

// clone 返回页的深拷贝，调用方持有的副本不会被后续缓存写入改动。
func (p Page) clone() Page {
	messages := make([]ChatMessage, len(p.Messages))
	copy(messages, p.Messages)
	return Page{Messages: messages, NextCursor: p.NextCursor}
}
