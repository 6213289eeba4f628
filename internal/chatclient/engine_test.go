package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"docuchat-go/internal/model"
)

// fakeAPI 模拟消息相关的服务端接口，消息按时间倒序存放（最新在前）。
type fakeAPI struct {
	mu       sync.Mutex
	messages []model.Message

	listCalls map[string]int
	listBlock chan struct{} // 非 nil 时 list 响应前先等待，见 setListBlock

	// send 覆盖发送端点的默认行为
	send http.HandlerFunc
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{listCalls: make(map[string]int)}
}

// seed 写入 n 条持久化消息，message-n 最新。
func (f *fakeAPI) seed(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	base := time.Date(2026, 8, 15, 9, 0, 0, 0, time.UTC)
	for i := n; i >= 1; i-- {
		f.messages = append(f.messages, model.Message{
			ID:            fmt.Sprintf("m%02d", i),
			FileID:        "f1",
			Text:          fmt.Sprintf("message-%d", i),
			IsUserMessage: i%2 == 1,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		})
	}
}

func (f *fakeAPI) append(text string, isUser bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append([]model.Message{{
		ID:            fmt.Sprintf("s%02d", len(f.messages)+1),
		FileID:        "f1",
		Text:          text,
		IsUserMessage: isUser,
		CreatedAt:     time.Now(),
	}}, f.messages...)
}

func (f *fakeAPI) setListBlock(ch chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listBlock = ch
}

func (f *fakeAPI) handleList(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	block := f.listBlock
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-r.Context().Done():
			return
		}
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	cursor := r.URL.Query().Get("cursor")

	f.mu.Lock()
	f.listCalls[cursor]++
	msgs := append([]model.Message(nil), f.messages...)
	f.mu.Unlock()

	start := 0
	if cursor != "" {
		for i, m := range msgs {
			if m.ID == cursor {
				start = i
				break
			}
		}
	}
	end := start + limit + 1
	if end > len(msgs) {
		end = len(msgs)
	}
	window := msgs[start:end]

	page := model.MessagePage{Messages: window}
	if len(window) > limit {
		page.NextCursor = window[limit].ID
		page.Messages = window[:limit]
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"code": 200, "data": page})
}

func (f *fakeAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/messages"):
			f.handleList(w, r)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/messages"):
			if f.send != nil {
				f.send(w, r)
				return
			}
			http.Error(w, "no send handler", http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	})
}

func newTestEngine(t *testing.T, api *fakeAPI, limit int) (*Engine, *PageCache, func()) {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	client := NewClient(srv.URL, "test-token", srv.Client())
	cache := NewPageCache()
	engine := NewEngine(client, cache, "f1", limit)
	return engine, cache, srv.Close
}

// waitFor 轮询直到条件成立，超时即失败。
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for: %s", msg)
}

func countKind(p Page, kind Kind) int {
	n := 0
	for _, m := range p.Messages {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

func firstPage(cache *PageCache) Page {
	pages := cache.Pages()
	if len(pages) == 0 {
		return Page{}
	}
	return pages[0]
}

func TestSend_OptimisticInsertThenStreamingMergeThenReconcile(t *testing.T) {
	api := newFakeAPI()
	api.seed(3)

	chunk2 := make(chan struct{})
	api.send = func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Message string `json:"message"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Refunds"))
		flusher.Flush()

		<-chunk2
		w.Write([]byte(" are available."))
		flusher.Flush()

		// 流完整结束后才提交两条消息
		api.append(req.Message, true)
		api.append("Refunds are available.", false)
	}

	engine, cache, closeSrv := newTestEngine(t, api, 10)
	defer closeSrv()

	if err := engine.LoadFirstPage(context.Background()); err != nil {
		t.Fatalf("load first page: %v", err)
	}
	if got := len(firstPage(cache).Messages); got != 3 {
		t.Fatalf("expected 3 cached messages, got %d", got)
	}

	engine.SetInput("What is the refund policy?")
	sendDone := make(chan error, 1)
	go func() { sendDone <- engine.Send(context.Background()) }()

	// 提交后乐观消息立即出现在首页最前，输入已清空
	waitFor(t, func() bool {
		p := firstPage(cache)
		return countKind(p, KindOptimistic) == 1 && len(p.Messages) >= 4
	}, "optimistic message prepended")
	for _, m := range firstPage(cache).Messages {
		if m.Kind == KindOptimistic {
			if m.Text != "What is the refund policy?" || !m.IsUserMessage {
				t.Fatalf("unexpected optimistic message: %+v", m)
			}
		}
	}
	if engine.Input() != "" {
		t.Fatalf("input not cleared: %q", engine.Input())
	}
	if !engine.IsLoading() {
		t.Fatalf("expected loading state during send")
	}

	// 第一个分块后占位文本等于累积值
	waitFor(t, func() bool {
		p := firstPage(cache)
		for _, m := range p.Messages {
			if m.Kind == KindStreaming {
				return m.Text == "Refunds"
			}
		}
		return false
	}, "streaming placeholder holds first chunk")
	if n := countKind(firstPage(cache), KindStreaming); n != 1 {
		t.Fatalf("expected exactly one streaming placeholder, got %d", n)
	}

	close(chunk2)
	if err := <-sendDone; err != nil {
		t.Fatalf("send: %v", err)
	}

	// settle 后缓存回源：占位与乐观消息消失，持久化记录就位
	final := firstPage(cache)
	if len(final.Messages) != 5 {
		t.Fatalf("expected 5 persisted messages after reconcile, got %d", len(final.Messages))
	}
	for _, m := range final.Messages {
		if m.Kind != KindPersisted {
			t.Fatalf("non-persisted message survived reconcile: %+v", m)
		}
	}
	if final.Messages[0].Text != "Refunds are available." || final.Messages[0].IsUserMessage {
		t.Fatalf("unexpected newest message: %+v", final.Messages[0])
	}
	if final.Messages[1].Text != "What is the refund policy?" || !final.Messages[1].IsUserMessage {
		t.Fatalf("unexpected second message: %+v", final.Messages[1])
	}
	if engine.IsLoading() {
		t.Fatalf("loading state not cleared after settle")
	}
}

func TestApplyAccumulator_IdempotentMerge(t *testing.T) {
	api := newFakeAPI()
	engine, cache, closeSrv := newTestEngine(t, api, 10)
	defer closeSrv()

	engine.applyAccumulator("Refunds")
	before := cache.Pages()

	engine.applyAccumulator("Refunds")
	after := cache.Pages()
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("re-applying the same accumulator changed cache content")
	}

	engine.applyAccumulator("Refunds are available.")
	p := firstPage(cache)
	if n := countKind(p, KindStreaming); n != 1 {
		t.Fatalf("expected one streaming placeholder, got %d", n)
	}
	if p.Messages[0].Text != "Refunds are available." {
		t.Fatalf("placeholder text not replaced: %q", p.Messages[0].Text)
	}
}

func TestSend_FailureRestoresInputAndPage(t *testing.T) {
	api := newFakeAPI()
	api.seed(3)
	api.send = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}

	engine, cache, closeSrv := newTestEngine(t, api, 10)
	defer closeSrv()

	if err := engine.LoadFirstPage(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	before := firstPage(cache)

	var notified int32
	engine.Notify = func(title, message string) { atomic.AddInt32(&notified, 1) }

	engine.SetInput("hello there")
	if err := engine.Send(context.Background()); err == nil {
		t.Fatalf("expected send error")
	}

	if engine.Input() != "hello there" {
		t.Fatalf("input not restored: %q", engine.Input())
	}
	if atomic.LoadInt32(&notified) == 0 {
		t.Fatalf("expected user notification on delivery failure")
	}
	// settle 回源后首页与乐观插入前完全一致（服务端未持久化任何消息）
	after := firstPage(cache)
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("page not rolled back:\nbefore: %+v\nafter:  %+v", before, after)
	}
	if engine.IsLoading() {
		t.Fatalf("loading not cleared after failure")
	}
}

func TestSend_FailureKeepsRollbackWhenServerUnreachable(t *testing.T) {
	api := newFakeAPI()
	api.seed(3)

	engine, cache, closeSrv := newTestEngine(t, api, 10)
	if err := engine.LoadFirstPage(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	before := firstPage(cache)

	// 服务端完全不可达：发送与 settle 回源都会失败
	closeSrv()

	engine.SetInput("hello there")
	if err := engine.Send(context.Background()); err == nil {
		t.Fatalf("expected send error")
	}

	// 回源失败时还原的快照必须保留，会话视图不能被清空
	after := firstPage(cache)
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("rollback lost after failed resync:\nbefore: %+v\nafter:  %+v", before, after)
	}
	if cache.Primed() {
		t.Fatalf("cache should stay unprimed until a resync succeeds")
	}
	if engine.Input() != "hello there" {
		t.Fatalf("input not restored: %q", engine.Input())
	}
	if engine.IsLoading() {
		t.Fatalf("loading not cleared after failure")
	}
}

func TestSend_MidStreamErrorRollsBack(t *testing.T) {
	api := newFakeAPI()
	api.seed(2)
	api.send = func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("partial"))
		flusher.Flush()
		// 直接断开连接模拟流中断
		hj, ok := w.(http.Hijacker)
		if !ok {
			return
		}
		conn, _, _ := hj.Hijack()
		conn.Close()
	}

	engine, cache, closeSrv := newTestEngine(t, api, 10)
	defer closeSrv()

	if err := engine.LoadFirstPage(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	before := firstPage(cache)

	engine.SetInput("will fail")
	if err := engine.Send(context.Background()); err == nil {
		t.Fatalf("expected mid-stream error")
	}

	after := firstPage(cache)
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("mid-stream failure did not roll back the page")
	}
	if n := countKind(after, KindStreaming); n != 0 {
		t.Fatalf("dangling streaming placeholder after rollback")
	}
	if engine.Input() != "will fail" {
		t.Fatalf("input not restored: %q", engine.Input())
	}
}

func TestSend_RejectsConcurrentSend(t *testing.T) {
	api := newFakeAPI()
	api.seed(1)

	release := make(chan struct{})
	api.send = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.Write([]byte("done"))
		api.append("q", true)
		api.append("done", false)
	}

	engine, _, closeSrv := newTestEngine(t, api, 10)
	defer closeSrv()
	if err := engine.LoadFirstPage(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	engine.SetInput("first")
	done := make(chan error, 1)
	go func() { done <- engine.Send(context.Background()) }()

	waitFor(t, engine.IsLoading, "first send in flight")

	engine.SetInput("second")
	if err := engine.Send(context.Background()); err != ErrSendInFlight {
		t.Fatalf("expected ErrSendInFlight, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first send: %v", err)
	}
}

func TestSend_CancelsInFlightRefetchBeforeOptimisticInsert(t *testing.T) {
	api := newFakeAPI()
	api.seed(3)

	streamRelease := make(chan struct{})
	api.send = func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Message string `json:"message"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-streamRelease:
		case <-r.Context().Done():
			return
		}
		w.Write([]byte("answer"))
		api.append(req.Message, true)
		api.append("answer", false)
	}

	engine, cache, closeSrv := newTestEngine(t, api, 10)
	defer closeSrv()
	if err := engine.LoadFirstPage(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	// 挂起一次后台首页刷新
	listBlock := make(chan struct{})
	api.setListBlock(listBlock)
	refetchDone := engine.RefetchFirstPage()

	engine.SetInput("race question")
	sendDone := make(chan error, 1)
	go func() { sendDone <- engine.Send(context.Background()) }()

	// Send 必须先取消并等到刷新退出，然后才做乐观插入
	select {
	case <-refetchDone:
	case <-time.After(3 * time.Second):
		t.Fatalf("send did not await cancellation of in-flight refetch")
	}

	waitFor(t, func() bool {
		return countKind(firstPage(cache), KindOptimistic) == 1
	}, "optimistic message present")

	// 被取消的刷新即使此后被放行，也不得覆盖乐观消息
	api.setListBlock(nil)
	close(listBlock)
	time.Sleep(50 * time.Millisecond)
	if countKind(firstPage(cache), KindOptimistic) != 1 {
		t.Fatalf("cancelled refetch overwrote the optimistic message")
	}

	close(streamRelease)
	if err := <-sendDone; err != nil {
		t.Fatalf("send: %v", err)
	}

	// 合流终态必须包含这条消息（已是持久化形态）
	found := false
	for _, m := range firstPage(cache).Messages {
		if m.Text == "race question" {
			found = true
		}
	}
	if !found {
		t.Fatalf("sent message missing from final merged view")
	}
}

func TestFetchNextPage_WalksAllPagesExactlyOnce(t *testing.T) {
	api := newFakeAPI()
	api.seed(7)

	engine, cache, closeSrv := newTestEngine(t, api, 3)
	defer closeSrv()
	if err := engine.LoadFirstPage(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	for i := 0; i < 5 && cache.NextCursor() != ""; i++ {
		if err := engine.FetchNextPage(context.Background()); err != nil {
			t.Fatalf("fetch next page: %v", err)
		}
	}

	seen := make(map[string]int)
	for _, p := range cache.Pages() {
		for _, m := range p.Messages {
			seen[m.ID]++
		}
	}
	if len(seen) != 7 {
		t.Fatalf("expected 7 distinct messages, got %d", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("message %s appeared %d times", id, n)
		}
	}
}

func TestFetchNextPage_IdempotentUnderRapidTriggers(t *testing.T) {
	api := newFakeAPI()
	api.seed(7)

	engine, cache, closeSrv := newTestEngine(t, api, 3)
	defer closeSrv()
	if err := engine.LoadFirstPage(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	cursor := cache.NextCursor()
	if cursor == "" {
		t.Fatalf("expected a next cursor")
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = engine.FetchNextPage(context.Background())
		}()
	}
	wg.Wait()

	if got := len(cache.Pages()); got != 2 {
		t.Fatalf("expected exactly 2 cached pages, got %d", got)
	}
	api.mu.Lock()
	calls := api.listCalls[cursor]
	api.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected a single fetch for cursor %s, got %d", cursor, calls)
	}
}
