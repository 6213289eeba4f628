package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"docuchat-go/internal/config"
	"docuchat-go/internal/model"
	"docuchat-go/internal/repository"
	"docuchat-go/pkg/llm"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.User{}, &model.File{}, &model.Message{}, &model.DocumentChunk{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedFile(t *testing.T, db *gorm.DB, fileID string, userID uint) {
	t.Helper()
	file := &model.File{
		ID:           fileID,
		UserID:       userID,
		Name:         "handbook.pdf",
		StorageKey:   fmt.Sprintf("uploads/%d/%s/handbook.pdf", userID, fileID),
		Size:         1024,
		UploadStatus: model.UploadStatusSuccess,
	}
	if err := db.Create(file).Error; err != nil {
		t.Fatalf("seed file: %v", err)
	}
}

// fakeSearchService 返回预置段落，并记录收到的查询。
type fakeSearchService struct {
	passages  []model.Passage
	lastQuery string
	lastTopK  int
}

func (f *fakeSearchService) SimilarPassages(ctx context.Context, fileID, query string, topK int) ([]model.Passage, error) {
	f.lastQuery = query
	f.lastTopK = topK
	return f.passages, nil
}

// fakeLLMClient 把预置分块逐个交给 onDelta，并记录收到的 prompt。
// emit 非 nil 时改用自定义行为。
type fakeLLMClient struct {
	chunks   []string
	messages []llm.Message
	emit     func(ctx context.Context, onDelta llm.DeltaFunc) error
}

func (f *fakeLLMClient) StreamChatMessages(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, onDelta llm.DeltaFunc) error {
	f.messages = messages
	if f.emit != nil {
		return f.emit(ctx, onDelta)
	}
	for _, chunk := range f.chunks {
		if err := onDelta(chunk); err != nil {
			return err
		}
	}
	return nil
}

func newChatFixture(t *testing.T, fileID string, userID uint, llmClient llm.Client, search SearchService) (ChatService, repository.MessageRepository) {
	t.Helper()
	db := openTestDB(t)
	seedFile(t, db, fileID, userID)
	messageRepo := repository.NewMessageRepository(db)
	fileRepo := repository.NewFileRepository(db, nil)
	cfg := config.ChatConfig{PageLimit: 10, ContextWindow: 6, RetrieveTopK: 4}
	return NewChatService(messageRepo, fileRepo, search, llmClient, cfg), messageRepo
}

func TestStreamAnswer_CommitsAssistantAfterStreamEnds(t *testing.T) {
	const fileID = "file-chat-commit"
	const userID uint = 1
	llmClient := &fakeLLMClient{chunks: []string{"Refunds", " are", " available."}}
	search := &fakeSearchService{passages: []model.Passage{{FileID: fileID, TextContent: "Refund policy: 30 days."}}}
	svc, messageRepo := newChatFixture(t, fileID, userID, llmClient, search)

	var streamed strings.Builder
	err := svc.StreamAnswer(context.Background(), fileID, userID, "What is the refund policy?", func(delta string) error {
		streamed.WriteString(delta)
		return nil
	})
	if err != nil {
		t.Fatalf("stream answer: %v", err)
	}
	if streamed.String() != "Refunds are available." {
		t.Fatalf("sink received %q", streamed.String())
	}
	if search.lastQuery != "What is the refund policy?" || search.lastTopK != 4 {
		t.Fatalf("retrieval used query %q topK %d", search.lastQuery, search.lastTopK)
	}

	history, err := messageRepo.FindRecent(fileID, userID, 10)
	if err != nil {
		t.Fatalf("find recent: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected user + assistant messages, got %d", len(history))
	}
	if !history[0].IsUserMessage || history[0].Text != "What is the refund policy?" {
		t.Fatalf("unexpected user message: %+v", history[0])
	}
	if history[1].IsUserMessage || history[1].Text != "Refunds are available." {
		t.Fatalf("unexpected assistant message: %+v", history[1])
	}
}

func TestStreamAnswer_NoAssistantCommitOnStreamError(t *testing.T) {
	const fileID = "file-chat-strerr"
	const userID uint = 1
	streamErr := errors.New("upstream reset")
	llmClient := &fakeLLMClient{emit: func(ctx context.Context, onDelta llm.DeltaFunc) error {
		if err := onDelta("partial"); err != nil {
			return err
		}
		return streamErr
	}}
	svc, messageRepo := newChatFixture(t, fileID, userID, llmClient, &fakeSearchService{})

	err := svc.StreamAnswer(context.Background(), fileID, userID, "question", func(string) error { return nil })
	if !errors.Is(err, streamErr) {
		t.Fatalf("expected stream error, got %v", err)
	}

	// 用户消息保留，半截回答不落库
	history, err := messageRepo.FindRecent(fileID, userID, 10)
	if err != nil {
		t.Fatalf("find recent: %v", err)
	}
	if len(history) != 1 || !history[0].IsUserMessage {
		t.Fatalf("expected only the user message, got %+v", history)
	}
}

func TestStreamAnswer_NoAssistantCommitOnCancelledContext(t *testing.T) {
	const fileID = "file-chat-cancel"
	const userID uint = 1
	ctx, cancel := context.WithCancel(context.Background())
	llmClient := &fakeLLMClient{emit: func(ctx context.Context, onDelta llm.DeltaFunc) error {
		if err := onDelta("partial"); err != nil {
			return err
		}
		// 客户端在流结束前断开
		cancel()
		return nil
	}}
	svc, messageRepo := newChatFixture(t, fileID, userID, llmClient, &fakeSearchService{})

	err := svc.StreamAnswer(ctx, fileID, userID, "question", func(string) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	history, err := messageRepo.FindRecent(fileID, userID, 10)
	if err != nil {
		t.Fatalf("find recent: %v", err)
	}
	if len(history) != 1 || !history[0].IsUserMessage {
		t.Fatalf("expected only the user message, got %+v", history)
	}
}

func TestStreamAnswer_RejectsFileOwnedByAnotherUser(t *testing.T) {
	const fileID = "file-chat-owner"
	llmClient := &fakeLLMClient{chunks: []string{"nope"}}
	svc, messageRepo := newChatFixture(t, fileID, 1, llmClient, &fakeSearchService{})

	err := svc.StreamAnswer(context.Background(), fileID, 99, "question", func(string) error { return nil })
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if history, _ := messageRepo.FindRecent(fileID, 99, 10); len(history) != 0 {
		t.Fatalf("nothing should be persisted for a foreign file, got %+v", history)
	}
}

func TestStreamAnswer_PromptCarriesHistoryContextAndQuestion(t *testing.T) {
	const fileID = "file-chat-prompt"
	const userID uint = 1
	llmClient := &fakeLLMClient{chunks: []string{"answer"}}
	search := &fakeSearchService{passages: []model.Passage{
		{FileID: fileID, TextContent: "passage one"},
		{FileID: fileID, TextContent: "passage two"},
	}}
	svc, messageRepo := newChatFixture(t, fileID, userID, llmClient, search)

	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	prior := []*model.Message{
		{FileID: fileID, UserID: userID, Text: "earlier question", IsUserMessage: true, CreatedAt: base},
		{FileID: fileID, UserID: userID, Text: "earlier answer", IsUserMessage: false, CreatedAt: base.Add(time.Second)},
	}
	for _, m := range prior {
		if err := messageRepo.Create(m); err != nil {
			t.Fatalf("seed history: %v", err)
		}
	}

	if err := svc.StreamAnswer(context.Background(), fileID, userID, "fresh question", func(string) error { return nil }); err != nil {
		t.Fatalf("stream answer: %v", err)
	}

	if len(llmClient.messages) != 2 {
		t.Fatalf("expected system + user messages, got %d", len(llmClient.messages))
	}
	if llmClient.messages[0].Role != "system" {
		t.Fatalf("first message role %q", llmClient.messages[0].Role)
	}
	content := llmClient.messages[1].Content
	if !strings.Contains(content, "User: earlier question") || !strings.Contains(content, "Assistant: earlier answer") {
		t.Fatalf("history missing from prompt:\n%s", content)
	}
	if !strings.Contains(content, "passage one") || !strings.Contains(content, "passage two") {
		t.Fatalf("retrieved context missing from prompt:\n%s", content)
	}
	if !strings.Contains(content, "USER INPUT: fresh question") {
		t.Fatalf("current question missing from prompt:\n%s", content)
	}
	// 刚落库的当前提问不得混入历史区
	if strings.Contains(content, "User: fresh question") {
		t.Fatalf("current question leaked into the history block:\n%s", content)
	}
}
