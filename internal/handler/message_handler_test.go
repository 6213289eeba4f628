package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"docuchat-go/internal/config"
	"docuchat-go/internal/model"
	"docuchat-go/pkg/llm"

	"github.com/gin-gonic/gin"
)

type fakeMessageService struct {
	page      *model.MessagePage
	err       error
	gotLimit  int
	gotCursor string
}

func (f *fakeMessageService) ListPage(ctx context.Context, fileID string, userID uint, limit int, cursor string) (*model.MessagePage, error) {
	f.gotLimit = limit
	f.gotCursor = cursor
	return f.page, f.err
}

type fakeChatService struct {
	chunks []string
	err    error
	// errAfterChunks 为 true 时先推送所有分块再返回 err，模拟流中断
	errAfterChunks bool
}

func (f *fakeChatService) StreamAnswer(ctx context.Context, fileID string, userID uint, text string, sink llm.DeltaFunc) error {
	if f.err != nil && !f.errAfterChunks {
		return f.err
	}
	for _, chunk := range f.chunks {
		if err := sink(chunk); err != nil {
			return err
		}
	}
	return f.err
}

func newMessageRouter(messageService *fakeMessageService, chatService *fakeChatService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user", &model.User{ID: 1, Email: "test@example.com"})
	})
	h := NewMessageHandler(messageService, chatService, config.ChatConfig{PageLimit: 10})
	r.GET("/files/:id/messages", h.List)
	r.POST("/files/:id/messages", h.Send)
	return r
}

func TestMessageList_ReturnsPageEnvelope(t *testing.T) {
	messageService := &fakeMessageService{page: &model.MessagePage{
		Messages:   []model.Message{{ID: "m2", Text: "hi", IsUserMessage: true}},
		NextCursor: "m1",
	}}
	router := newMessageRouter(messageService, &fakeChatService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/files/f1/messages?limit=5&cursor=m9", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d, body: %s", w.Code, w.Body.String())
	}
	if messageService.gotLimit != 5 || messageService.gotCursor != "m9" {
		t.Fatalf("service received limit=%d cursor=%q", messageService.gotLimit, messageService.gotCursor)
	}

	var resp struct {
		Data model.MessagePage `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Data.Messages) != 1 || resp.Data.NextCursor != "m1" {
		t.Fatalf("unexpected page: %+v", resp.Data)
	}
}

func TestMessageList_FallsBackToDefaultLimit(t *testing.T) {
	messageService := &fakeMessageService{page: &model.MessagePage{}}
	router := newMessageRouter(messageService, &fakeChatService{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/files/f1/messages?limit=999", nil))

	if messageService.gotLimit != 10 {
		t.Fatalf("out-of-range limit should fall back to default, got %d", messageService.gotLimit)
	}
}

func TestMessageList_MapsNotFound(t *testing.T) {
	messageService := &fakeMessageService{err: model.ErrNotFound}
	router := newMessageRouter(messageService, &fakeChatService{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/files/missing/messages", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestMessageSend_StreamsPlainTextChunks(t *testing.T) {
	chatService := &fakeChatService{chunks: []string{"Refunds", " are", " available."}}
	router := newMessageRouter(&fakeMessageService{}, chatService)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/files/f1/messages", strings.NewReader(`{"message":"refund policy?"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d, body: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("expected plain text stream, got %q", ct)
	}
	if w.Body.String() != "Refunds are available." {
		t.Fatalf("streamed body %q", w.Body.String())
	}
}

func TestMessageSend_EmptyMessageRejected(t *testing.T) {
	router := newMessageRouter(&fakeMessageService{}, &fakeChatService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/files/f1/messages", strings.NewReader(`{"message":""}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestMessageSend_ErrorBeforeFirstChunkIsStructured(t *testing.T) {
	chatService := &fakeChatService{err: model.ErrQuotaExceeded}
	router := newMessageRouter(&fakeMessageService{}, chatService)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/files/f1/messages", strings.NewReader(`{"message":"q"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestMessageSend_MidStreamErrorKeepsPartialBody(t *testing.T) {
	chatService := &fakeChatService{
		chunks:         []string{"partial"},
		err:            errors.New("upstream reset"),
		errAfterChunks: true,
	}
	router := newMessageRouter(&fakeMessageService{}, chatService)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/files/f1/messages", strings.NewReader(`{"message":"q"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	// 已写出的分块无法收回，错误只体现为流的提前终止
	if w.Body.String() != "partial" {
		t.Fatalf("expected the partial chunk only, got %q", w.Body.String())
	}
}
