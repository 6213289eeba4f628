package handler

import (
	"net/http"
	"strconv"

	"docuchat-go/internal/config"
	"docuchat-go/internal/service"
	"docuchat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// MessageHandler 负责处理对话消息的发送与分页查询。
type MessageHandler struct {
	messageService service.MessageService
	chatService    service.ChatService
	chatCfg        config.ChatConfig
}

// NewMessageHandler 创建一个新的 MessageHandler 实例。
func NewMessageHandler(messageService service.MessageService, chatService service.ChatService, chatCfg config.ChatConfig) *MessageHandler {
	return &MessageHandler{
		messageService: messageService,
		chatService:    chatService,
		chatCfg:        chatCfg,
	}
}

// SendRequest 定义了发送消息 API 的请求体结构。
type SendRequest struct {
	Message string `json:"message" binding:"required"`
}

// List 返回指定文件下的一页消息。
// limit 默认取配置值；cursor 指向上一页返回的 nextCursor。
func (h *MessageHandler) List(c *gin.Context) {
	user := currentUser(c)
	fileID := c.Param("id")

	limit := h.chatCfg.PageLimit
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 100 {
			limit = v
		}
	}
	cursor := c.Query("cursor")

	page, err := h.messageService.ListPage(c.Request.Context(), fileID, user.ID, limit, cursor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": page})
}

// Send 处理一次提问并以分块传输流式返回模型回答。
// 响应体是纯文本增量流，客户端按到达顺序拼接即为完整回答。
// 流中断时连接直接关闭，客户端据此回滚乐观状态。
func (h *MessageHandler) Send(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载：message 不能为空"})
		return
	}

	user := currentUser(c)
	fileID := c.Param("id")

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	started := false
	err := h.chatService.StreamAnswer(c.Request.Context(), fileID, user.ID, req.Message, func(delta string) error {
		if !started {
			c.Status(http.StatusOK)
			started = true
		}
		if _, werr := c.Writer.WriteString(delta); werr != nil {
			return werr
		}
		c.Writer.Flush()
		return nil
	})
	if err != nil {
		log.Errorf("Send: 流式问答失败, userID: %d, fileID: %s, started: %v, error: %v", user.ID, fileID, started, err)
		if !started {
			// 首个分块尚未写出，还能返回结构化错误
			respondError(c, err)
		}
		// 已开始流式输出时直接中断连接，由客户端感知并回滚
		return
	}

	if !started {
		// 模型没有产生任何输出，流也算正常结束
		c.Status(http.StatusOK)
	}
}
