package handler

import (
	"net/http"

	"docuchat-go/internal/service"
	"docuchat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// UploadHandler 负责处理文件上传相关的 API 请求。
type UploadHandler struct {
	uploadService service.UploadService
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。
func NewUploadHandler(uploadService service.UploadService) *UploadHandler {
	return &UploadHandler{uploadService: uploadService}
}

// PresignRequest 定义了预签名上传 API 的请求体结构。
type PresignRequest struct {
	FileName string `json:"fileName" binding:"required"`
	Size     int64  `json:"size" binding:"required,gt=0"`
}

// CompleteRequest 定义了上传确认 API 的请求体结构。
type CompleteRequest struct {
	StorageKey string `json:"storageKey" binding:"required"`
	FileName   string `json:"fileName" binding:"required"`
}

// Presign 签发预签名上传 URL。签发前完成档位配额与文件类型校验。
func (h *UploadHandler) Presign(c *gin.Context) {
	var req PresignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载：fileName 与 size 不能为空"})
		return
	}

	user := currentUser(c)
	result, err := h.uploadService.Presign(c.Request.Context(), user.ID, req.FileName, req.Size)
	if err != nil {
		log.Warnf("Presign: 签发上传授权失败, userID: %d, error: %v", user.ID, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code": http.StatusOK,
		"data": result,
	})
}

// Complete 在浏览器直传完成后创建文件记录并触发入库。
func (h *UploadHandler) Complete(c *gin.Context) {
	var req CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载：storageKey 与 fileName 不能为空"})
		return
	}

	user := currentUser(c)
	file, err := h.uploadService.Complete(c.Request.Context(), user.ID, req.StorageKey, req.FileName)
	if err != nil {
		log.Errorf("Complete: 上传确认失败, userID: %d, storageKey: %s, error: %v", user.ID, req.StorageKey, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"code": http.StatusCreated,
		"data": file,
	})
}
