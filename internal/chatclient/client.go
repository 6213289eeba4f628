package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"docuchat-go/internal/model"
)

// Client 是对话相关服务端接口的 HTTP 薄封装。
// 所有方法都带 context，取消会关闭底层连接。
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient 创建一个新的 Client 实例。baseURL 形如 "http://host:port/api/v1"。
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: httpClient,
	}
}

// dataEnvelope 对应服务端统一的 {"code":..., "data":...} 响应包裹。
type dataEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// FileRecord 是 resolve/查询接口返回的文件记录子集。
type FileRecord struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	UploadStatus model.UploadStatus `json:"uploadStatus"`
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// statusToError 将非 2xx 状态码映射为业务哨兵错误。
func statusToError(status int) error {
	switch status {
	case http.StatusUnauthorized:
		return model.ErrUnauthorized
	case http.StatusNotFound:
		return model.ErrNotFound
	case http.StatusBadRequest:
		return model.ErrValidation
	case http.StatusForbidden:
		return model.ErrQuotaExceeded
	default:
		return fmt.Errorf("服务端返回非预期状态码: %d", status)
	}
}

// getJSON 执行 GET 请求并将 data 字段解析到 out。
func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusToError(resp.StatusCode)
	}

	var envelope dataEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return json.Unmarshal(envelope.Data, out)
}

// ListMessages 拉取一页消息。返回的消息 Kind 一律为 persisted。
func (c *Client) ListMessages(ctx context.Context, fileID string, limit int, cursor string) (*Page, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var raw model.MessagePage
	path := fmt.Sprintf("/files/%s/messages?%s", url.PathEscape(fileID), q.Encode())
	if err := c.getJSON(ctx, path, &raw); err != nil {
		return nil, err
	}

	page := &Page{
		Messages:   make([]ChatMessage, 0, len(raw.Messages)),
		NextCursor: raw.NextCursor,
	}
	for _, m := range raw.Messages {
		page.Messages = append(page.Messages, ChatMessage{
			ID:            m.ID,
			Text:          m.Text,
			IsUserMessage: m.IsUserMessage,
			CreatedAt:     m.CreatedAt,
			Kind:          KindPersisted,
		})
	}
	return page, nil
}

// SendMessage 发起一次提问，返回回答的增量字节流。
// 调用方负责读尽并 Close；非 2xx 状态不返回流。
func (c *Client) SendMessage(ctx context.Context, fileID, text string) (io.ReadCloser, error) {
	payload, err := json.Marshal(map[string]string{"message": text})
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, fmt.Sprintf("/files/%s/messages", url.PathEscape(fileID)), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, statusToError(resp.StatusCode)
	}
	return resp.Body, nil
}

// FileStatus 查询文件的入库处理状态。
func (c *Client) FileStatus(ctx context.Context, fileID string) (model.UploadStatus, error) {
	var data struct {
		Status model.UploadStatus `json:"status"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/files/%s/status", url.PathEscape(fileID)), &data); err != nil {
		return "", err
	}
	return data.Status, nil
}

// ResolveFile 按对象存储 key 查找文件记录。记录尚未创建时返回 ErrNotFound。
func (c *Client) ResolveFile(ctx context.Context, storageKey string) (*FileRecord, error) {
	q := url.Values{}
	q.Set("key", storageKey)

	var record FileRecord
	if err := c.getJSON(ctx, "/files/resolve?"+q.Encode(), &record); err != nil {
		return nil, err
	}
	return &record, nil
}
