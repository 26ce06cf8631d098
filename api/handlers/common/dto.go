package common

import (
	"net/http"

	"mdm/internal/governance"
	"mdm/internal/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// APIResponse 通用响应结构，用于封装成功或失败结果。
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ListResponse 列表响应结构。
type ListResponse struct {
	Items interface{} `json:"items"`
	Total int         `json:"total"`
}

// ErrorResponse 统一错误返回结构，Code 为错误类别（NotFound、ValidationError 等）。
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Success 返回 200 与数据
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: data})
}

// Created 返回 201 与数据
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, APIResponse{Success: true, Data: data})
}

// List 返回列表
func List(c *gin.Context, items interface{}, total int) {
	Success(c, ListResponse{Items: items, Total: total})
}

// BadRequest 请求体无法解析
func BadRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Success: false,
		Code:    string(governance.KindValidation),
		Message: message,
	})
}

// Unauthorized 未登录或令牌无效
func Unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
		Success: false,
		Code:    "Unauthorized",
		Message: message,
	})
}

// StatusOf 错误类别对应的 HTTP 状态码
func StatusOf(kind governance.ErrorKind) int {
	switch kind {
	case governance.KindNotFound:
		return http.StatusNotFound
	case governance.KindForbidden:
		return http.StatusForbidden
	case governance.KindValidation:
		return http.StatusBadRequest
	case governance.KindAlreadyPending, governance.KindAlreadyResolved:
		return http.StatusConflict
	case governance.KindCycleDetected, governance.KindReferentialIntegrity:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// Fail 按错误类别写出错误响应；内部错误不向客户端暴露细节
func Fail(c *gin.Context, err error) {
	kind := governance.KindOf(err)
	status := StatusOf(kind)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.WithContext(c.Request.Context()).Error("请求处理失败",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		message = "服务器内部错误"
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, ErrorResponse{Success: false, Code: string(kind), Message: message})
}
