package public

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/cvlens-pay/internal/http/response"

	"github.com/gin-gonic/gin"
)

const initiateBodyLimit = 1 << 20

// InitiatePayment 发起支付，接受 JSON 或表单，字段名宽松匹配
func (h *Handler) InitiatePayment(c *gin.Context) {
	log := requestLog(c)
	raw, err := readInitiatePayload(c)
	if err != nil {
		log.Warnw("payment_initiate_body_invalid", "error", err)
		respondError(c, response.CodeBadRequest, "request body invalid", nil)
		return
	}

	result, err := h.PaymentService.Initiate(c.Request.Context(), raw)
	if err != nil {
		log.Warnw("payment_initiate_failed", "error", err)
		respondPaymentInitiateError(c, err)
		return
	}

	data := gin.H{
		"method":    result.Method,
		"orderId":   result.OrderID,
		"amount":    result.Amount.String(),
		"emailSent": result.EmailSent,
	}
	if result.RequestID != "" {
		data["requestId"] = result.RequestID
	}
	if result.Entity != "" {
		data["entity"] = result.Entity
	}
	if result.Reference != "" {
		data["reference"] = result.Reference
	}
	if result.ExpiryDate != "" {
		data["expiryDate"] = result.ExpiryDate
	}
	if len(result.Warnings) > 0 {
		data["warnings"] = result.Warnings
	}
	response.Success(c, data)
}

// readInitiatePayload 读取请求体为 map；JSON 以外的请求按表单解析，并补充 query 参数
func readInitiatePayload(c *gin.Context) (map[string]interface{}, error) {
	raw := map[string]interface{}{}
	if isJSONRequest(c) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, initiateBodyLimit))
		if err != nil {
			return nil, err
		}
		if len(bytes.TrimSpace(body)) > 0 {
			decoder := json.NewDecoder(bytes.NewReader(body))
			decoder.UseNumber()
			if err := decoder.Decode(&raw); err != nil {
				return nil, err
			}
		}
	} else {
		if err := c.Request.ParseMultipartForm(initiateBodyLimit); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return nil, err
		}
		for key, values := range c.Request.PostForm {
			if len(values) > 0 {
				raw[key] = values[0]
			}
		}
	}
	for key, values := range c.Request.URL.Query() {
		if _, exists := raw[key]; !exists && len(values) > 0 {
			raw[key] = values[0]
		}
	}
	return raw, nil
}

func isJSONRequest(c *gin.Context) bool {
	return strings.Contains(strings.ToLower(c.ContentType()), "json")
}
