package model

import "errors"

// 业务层哨兵错误。repository/service 返回这些错误，handler 将其映射为 HTTP 状态码。
var (
	// ErrNotFound 表示资源不存在或不属于调用者。
	ErrNotFound = errors.New("resource not found")
	// ErrUnauthorized 表示请求没有通过身份验证。
	ErrUnauthorized = errors.New("unauthorized")
	// ErrValidation 表示请求体未通过校验，任何副作用发生之前即被拒绝。
	ErrValidation = errors.New("invalid request")
	// ErrQuotaExceeded 表示超出当前订阅档位的配额。
	ErrQuotaExceeded = errors.New("plan quota exceeded")
)
