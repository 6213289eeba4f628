package handler

import (
	"io"
	"net/http"

	"docuchat-go/internal/service"
	"docuchat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// BillingHandler 负责处理订阅计费相关的 API 请求。
type BillingHandler struct {
	billingService service.BillingService
}

// NewBillingHandler 创建一个新的 BillingHandler 实例。
func NewBillingHandler(billingService service.BillingService) *BillingHandler {
	return &BillingHandler{billingService: billingService}
}

// GetPlan 返回当前用户的订阅档位与状态。
func (h *BillingHandler) GetPlan(c *gin.Context) {
	user := currentUser(c)
	status, err := h.billingService.GetPlan(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": status})
}

// CreateSession 创建 Stripe 结账或门户会话，返回跳转 URL。
func (h *BillingHandler) CreateSession(c *gin.Context) {
	user := currentUser(c)
	url, err := h.billingService.CreateSession(c.Request.Context(), user.ID)
	if err != nil {
		log.Errorf("CreateSession: 创建 Stripe 会话失败, userID: %d, error: %v", user.ID, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code": http.StatusOK,
		"data": gin.H{"url": url},
	})
}

// Webhook 接收 Stripe 回调。此路由不经过认证中间件，靠签名校验保证来源。
func (h *BillingHandler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "读取请求体失败"})
		return
	}

	sigHeader := c.GetHeader("Stripe-Signature")
	if err := h.billingService.HandleWebhook(payload, sigHeader); err != nil {
		log.Errorf("Webhook: 处理 Stripe 回调失败, error: %v", err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
