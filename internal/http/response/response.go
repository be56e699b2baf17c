package response

import (
	"github.com/gin-gonic/gin"
)

// Success 成功响应，在 data 上补充 success=true
func Success(c *gin.Context, data gin.H) {
	body := gin.H{}
	for key, value := range data {
		body[key] = value
	}
	body["success"] = true
	c.JSON(CodeOK, body)
}

// Error 错误响应 {success:false, error}
func Error(c *gin.Context, statusCode int, msg string) {
	c.JSON(statusCode, attachRequestID(c, gin.H{
		"success": false,
		"error":   msg,
	}))
}

// Text 纯文本响应（支付网关回调只识别纯文本）
func Text(c *gin.Context, statusCode int, body string) {
	c.String(statusCode, body)
}

// NotFound 404响应
func NotFound(c *gin.Context, msg string) {
	Error(c, CodeNotFound, msg)
}

// Forbidden 403响应
func Forbidden(c *gin.Context, msg string) {
	Error(c, CodeForbidden, msg)
}

// BadRequest 400响应
func BadRequest(c *gin.Context, msg string) {
	Error(c, CodeBadRequest, msg)
}

func attachRequestID(c *gin.Context, data gin.H) gin.H {
	if c == nil {
		return data
	}
	value, ok := c.Get("request_id")
	if !ok {
		return data
	}
	if id, ok := value.(string); ok && id != "" {
		if _, exists := data["request_id"]; !exists {
			data["request_id"] = id
		}
	}
	return data
}
