package service

import (
	"context"
	"fmt"
	"strings"

	"docuchat-go/internal/config"
	"docuchat-go/internal/model"
	"docuchat-go/internal/repository"
	"docuchat-go/pkg/llm"
	"docuchat-go/pkg/log"
)

// systemPrompt 约束模型只依据检索到的文档片段回答。
const systemPrompt = "Use the following pieces of context (or previous conversation if needed) to answer the user's question in markdown format."

// ChatService 接口定义了流式问答的业务操作。
type ChatService interface {
	// StreamAnswer 处理一次提问：先持久化用户消息，再检索相关段落与最近历史，
	// 将模型的流式回答逐块交给 sink。完整回答只在流正常结束后才作为
	// 助手消息持久化；流中断（连接断开、模型报错）不落库。
	StreamAnswer(ctx context.Context, fileID string, userID uint, text string, sink llm.DeltaFunc) error
}

type chatService struct {
	messageRepo   repository.MessageRepository
	fileRepo      repository.FileRepository
	searchService SearchService
	llmClient     llm.Client
	chatCfg       config.ChatConfig
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(messageRepo repository.MessageRepository, fileRepo repository.FileRepository, searchService SearchService, llmClient llm.Client, chatCfg config.ChatConfig) ChatService {
	return &chatService{
		messageRepo:   messageRepo,
		fileRepo:      fileRepo,
		searchService: searchService,
		llmClient:     llmClient,
		chatCfg:       chatCfg,
	}
}

// StreamAnswer 执行一次完整的检索增强问答。
func (s *chatService) StreamAnswer(ctx context.Context, fileID string, userID uint, text string, sink llm.DeltaFunc) error {
	// 1. 校验文件归属
	if _, err := s.fileRepo.FindByIDAndUser(fileID, userID); err != nil {
		return err
	}

	// 2. 先持久化用户消息。之后的任何失败都不回滚这条消息：
	//    客户端的乐观插入会在下一次列表刷新时与它对齐。
	userMessage := &model.Message{
		FileID:        fileID,
		UserID:        userID,
		Text:          text,
		IsUserMessage: true,
	}
	if err := s.messageRepo.Create(userMessage); err != nil {
		log.Errorf("[ChatService] 持久化用户消息失败, fileID: %s, error: %v", fileID, err)
		return err
	}

	// 3. 文件内相似段落检索
	passages, err := s.searchService.SimilarPassages(ctx, fileID, text, s.chatCfg.RetrieveTopK)
	if err != nil {
		log.Errorf("[ChatService] 相似段落检索失败, fileID: %s, error: %v", fileID, err)
		return err
	}

	// 4. 取最近的历史消息作为上下文窗口（时间正序）。
	//    刚写入的用户消息也会被取出，组装 prompt 时跳过它。
	history, err := s.messageRepo.FindRecent(fileID, userID, s.chatCfg.ContextWindow)
	if err != nil {
		log.Errorf("[ChatService] 读取历史消息失败, fileID: %s, error: %v", fileID, err)
		return err
	}

	messages := s.buildPrompt(text, passages, history, userMessage.ID)

	// 5. 流式生成，边转发边累积
	var answer strings.Builder
	streamErr := s.llmClient.StreamChatMessages(ctx, messages, nil, func(delta string) error {
		answer.WriteString(delta)
		return sink(delta)
	})
	if streamErr != nil {
		log.Errorf("[ChatService] 流式生成中断, fileID: %s, error: %v", fileID, streamErr)
		return streamErr
	}
	if err := ctx.Err(); err != nil {
		// 流读完但调用方已取消，视为未完成，不落库
		return err
	}

	// 6. 流正常结束，持久化助手消息
	assistantMessage := &model.Message{
		FileID:        fileID,
		UserID:        userID,
		Text:          answer.String(),
		IsUserMessage: false,
	}
	if err := s.messageRepo.Create(assistantMessage); err != nil {
		log.Errorf("[ChatService] 持久化助手消息失败, fileID: %s, error: %v", fileID, err)
		return err
	}

	log.Infof("[ChatService] 问答完成, fileID: %s, 回答长度: %d", fileID, answer.Len())
	return nil
}

// buildPrompt 组装发送给模型的消息列表：系统提示 + 历史对话 + 检索上下文 + 当前问题。
func (s *chatService) buildPrompt(question string, passages []model.Passage, history []model.Message, currentMessageID string) []llm.Message {
	var prev strings.Builder
	for _, m := range history {
		if m.ID == currentMessageID {
			continue
		}
		if m.IsUserMessage {
			prev.WriteString("User: ")
		} else {
			prev.WriteString("Assistant: ")
		}
		prev.WriteString(m.Text)
		prev.WriteString("\n")
	}

	var contextBlock strings.Builder
	for _, p := range passages {
		contextBlock.WriteString(p.TextContent)
		contextBlock.WriteString("\n\n")
	}

	userContent := fmt.Sprintf(
		"Use the following pieces of context (or previous conversation if needed) to answer the user's question in markdown format.\n\n----------------\n\nPREVIOUS CONVERSATION:\n%s\n\n----------------\n\nCONTEXT:\n%s\n\nUSER INPUT: %s",
		prev.String(), contextBlock.String(), question,
	)

	return []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userContent},
	}
}
