package chatclient

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"docuchat-go/pkg/log"

	"github.com/google/uuid"
)

var (
	// ErrSendInFlight 表示已有一次发送在进行中。每个文档同一时刻只允许一次发送。
	ErrSendInFlight = errors.New("已有消息正在发送中")
	// ErrEmptyInput 表示输入为空，不发送。
	ErrEmptyInput = errors.New("消息内容为空")
	// ErrNoResponseBody 表示服务端返回了无法读取的响应，视为投递失败。
	ErrNoResponseBody = errors.New("响应不包含可读取的消息流")
)

// Engine 是单个文档对话的同步引擎，串行化发送并独占缓存的写入编排。
// 状态机：Idle → Sending → Streaming → Settled；任何失败路径都完整回滚
// 乐观状态，settle 后统一失效缓存并回源服务端。
type Engine struct {
	client *Client
	cache  *PageCache
	fileID string
	limit  int

	mu      sync.Mutex
	input   string
	backup  string
	loading bool

	// 在途的首页后台刷新。乐观插入前必须先取消并等待它退出，
	// 否则刷新结果可能覆盖掉刚插入的乐观消息。
	refetchCancel context.CancelFunc
	refetchDone   chan struct{}

	fetchMu  sync.Mutex
	inflight map[string]struct{}

	// Notify 在投递失败等需要用户感知的场景被调用，可为 nil。
	Notify func(title, message string)
}

// NewEngine 创建一个新的 Engine 实例。
func NewEngine(client *Client, cache *PageCache, fileID string, limit int) *Engine {
	return &Engine{
		client:   client,
		cache:    cache,
		fileID:   fileID,
		limit:    limit,
		inflight: make(map[string]struct{}),
	}
}

// SetInput 更新可见输入框内容。
func (e *Engine) SetInput(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.input = text
}

// Input 返回当前可见输入框内容。
func (e *Engine) Input() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.input
}

// IsLoading 返回是否有一次发送在进行中。
func (e *Engine) IsLoading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loading
}

// LoadFirstPage 同步拉取首页并整体替换缓存内容。
func (e *Engine) LoadFirstPage(ctx context.Context) error {
	page, err := e.client.ListMessages(ctx, e.fileID, e.limit, "")
	if err != nil {
		return err
	}
	e.cache.ReplaceAll([]Page{*page})
	return nil
}

// RefetchFirstPage 在后台刷新首页，可被 Send 取消。
// 返回的通道在刷新退出（完成或被取消）后关闭。
func (e *Engine) RefetchFirstPage() <-chan struct{} {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	e.mu.Lock()
	e.refetchCancel = cancel
	e.refetchDone = done
	e.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()

		page, err := e.client.ListMessages(ctx, e.fileID, e.limit, "")
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Warnf("[ChatEngine] 后台刷新首页失败, fileID: %s, error: %v", e.fileID, err)
			}
			return
		}
		// 被取消后即使响应已经到达也不写回
		if ctx.Err() != nil {
			return
		}
		e.cache.ReplaceAll([]Page{*page})
	}()
	return done
}

// Send 执行一次完整的发送状态机。
func (e *Engine) Send(ctx context.Context) error {
	// Idle → Sending：捕获回滚缓冲并清空输入，抢占发送权
	e.mu.Lock()
	if e.loading {
		e.mu.Unlock()
		return ErrSendInFlight
	}
	text := strings.TrimSpace(e.input)
	if text == "" {
		e.mu.Unlock()
		return ErrEmptyInput
	}
	e.backup = e.input
	e.input = ""
	e.loading = true
	cancel, done := e.refetchCancel, e.refetchDone
	e.mu.Unlock()

	// 取消并等待在途的首页刷新退出，再做乐观插入
	if cancel != nil {
		cancel()
		<-done
	}

	// 乐观插入前捕获首页快照，失败路径整页还原
	snapshot := e.cache.SnapshotFirstPage()
	e.cache.PatchFirstPage(func(p Page) Page {
		messages := make([]ChatMessage, 0, len(p.Messages)+1)
		messages = append(messages, ChatMessage{
			ID:            uuid.NewString(),
			Text:          text,
			IsUserMessage: true,
			CreatedAt:     time.Now(),
			Kind:          KindOptimistic,
		})
		messages = append(messages, p.Messages...)
		p.Messages = messages
		return p
	})

	// Sending → Streaming
	body, err := e.client.SendMessage(ctx, e.fileID, text)
	if err != nil {
		e.fail(ctx, snapshot)
		e.notify("消息发送失败", "请稍后重试")
		return err
	}
	if body == nil {
		e.fail(ctx, snapshot)
		e.notify("出错了", "刷新页面后重试")
		return ErrNoResponseBody
	}
	defer body.Close()

	// 逐块读取，累积后整体合并进占位消息
	var acc strings.Builder
	buf := make([]byte, 512)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			acc.Write(buf[:n])
			e.applyAccumulator(acc.String())
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			e.fail(ctx, snapshot)
			e.notify("消息接收中断", "请稍后重试")
			return readErr
		}
	}

	// Streaming → Settled：失效缓存并回源，占位消息被持久化记录替换
	e.settle(ctx)
	return nil
}

// applyAccumulator 把当前累积文本合并进首页的流式占位消息。
// 占位消息不存在则前插一条，存在则整体替换其文本，绝不追加第二条。
// 对同一累积值重复应用后缓存内容不变。
func (e *Engine) applyAccumulator(acc string) {
	e.cache.PatchFirstPage(func(p Page) Page {
		for i := range p.Messages {
			if p.Messages[i].Kind == KindStreaming {
				p.Messages[i].Text = acc
				return p
			}
		}
		messages := make([]ChatMessage, 0, len(p.Messages)+1)
		messages = append(messages, ChatMessage{
			ID:            uuid.NewString(),
			Text:          acc,
			IsUserMessage: false,
			CreatedAt:     time.Now(),
			Kind:          KindStreaming,
		})
		messages = append(messages, p.Messages...)
		p.Messages = messages
		return p
	})
}

// fail 执行错误路径：整页还原快照、恢复输入，然后照常 settle。
// 还原与回源之间不存在服务端状态与回滚状态的部分合并。
func (e *Engine) fail(ctx context.Context, snapshot Page) {
	e.cache.ReplaceFirstPage(snapshot)

	e.mu.Lock()
	e.input = e.backup
	e.mu.Unlock()

	e.settle(ctx)
}

// settle 是所有路径的终点：清除 loading，失效缓存并同步回源首页。
func (e *Engine) settle(ctx context.Context) {
	e.mu.Lock()
	e.loading = false
	e.mu.Unlock()

	e.cache.Invalidate()
	if err := e.LoadFirstPage(ctx); err != nil {
		// 回源失败时缓存保持失效态，下一次读取会重新触发拉取
		log.Warnf("[ChatEngine] settle 后回源首页失败, fileID: %s, error: %v", e.fileID, err)
	}
}

// FetchNextPage 用末页游标拉取下一页并追加进缓存。
// 同一游标的并发触发只会发起一次网络请求，陈旧响应不写回。
func (e *Engine) FetchNextPage(ctx context.Context) error {
	cursor := e.cache.NextCursor()
	if cursor == "" {
		return nil
	}

	e.fetchMu.Lock()
	if _, ok := e.inflight[cursor]; ok {
		e.fetchMu.Unlock()
		return nil
	}
	e.inflight[cursor] = struct{}{}
	e.fetchMu.Unlock()

	defer func() {
		e.fetchMu.Lock()
		delete(e.inflight, cursor)
		e.fetchMu.Unlock()
	}()

	page, err := e.client.ListMessages(ctx, e.fileID, e.limit, cursor)
	if err != nil {
		return err
	}
	e.cache.AppendPageAfter(cursor, *page)
	return nil
}

// notify 调用用户通知回调（若已设置）。
func (e *Engine) notify(title, message string) {
	if e.Notify != nil {
		e.Notify(title, message)
	}
}
