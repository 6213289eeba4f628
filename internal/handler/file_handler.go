package handler

import (
	"net/http"

	"docuchat-go/internal/service"
	"docuchat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// FileHandler 负责处理文件查询、删除、状态轮询相关的 API 请求。
type FileHandler struct {
	fileService service.FileService
}

// NewFileHandler 创建一个新的 FileHandler 实例。
func NewFileHandler(fileService service.FileService) *FileHandler {
	return &FileHandler{fileService: fileService}
}

// List 返回当前用户的全部文件。
func (h *FileHandler) List(c *gin.Context) {
	user := currentUser(c)
	files, err := h.fileService.List(c.Request.Context(), user.ID)
	if err != nil {
		log.Errorf("List: 查询文件列表失败, userID: %d, error: %v", user.ID, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": files})
}

// Get 返回单个文件记录。
func (h *FileHandler) Get(c *gin.Context) {
	user := currentUser(c)
	file, err := h.fileService.Get(c.Request.Context(), c.Param("id"), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": file})
}

// Resolve 按对象存储 key 查找文件记录。
// 直传完成后客户端轮询此接口，直到 Complete 回调创建的记录出现。
func (h *FileHandler) Resolve(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 key 参数"})
		return
	}

	user := currentUser(c)
	file, err := h.fileService.ResolveByStorageKey(c.Request.Context(), key, user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": file})
}

// Status 返回文件的入库处理状态。记录不存在时返回 PENDING，
// 轮询方只在收到 SUCCESS 或 FAILED 后停止。
func (h *FileHandler) Status(c *gin.Context) {
	user := currentUser(c)
	status, err := h.fileService.GetUploadStatus(c.Request.Context(), c.Param("id"), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code": http.StatusOK,
		"data": gin.H{"status": status},
	})
}

// Delete 删除文件及其全部派生数据。
func (h *FileHandler) Delete(c *gin.Context) {
	user := currentUser(c)
	if err := h.fileService.Delete(c.Request.Context(), c.Param("id"), user.ID); err != nil {
		log.Errorf("Delete: 删除文件失败, userID: %d, fileID: %s, error: %v", user.ID, c.Param("id"), err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "删除成功"})
}

// DownloadURL 签发预签名下载 URL。
func (h *FileHandler) DownloadURL(c *gin.Context) {
	user := currentUser(c)
	url, err := h.fileService.DownloadURL(c.Request.Context(), c.Param("id"), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code": http.StatusOK,
		"data": gin.H{"url": url},
	})
}
