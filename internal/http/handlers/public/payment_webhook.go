package public

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/cvlens-pay/internal/constants"
	"github.com/cvlens-pay/internal/http/response"
	"github.com/cvlens-pay/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	webhookBodyLimit      = 64 << 10
	callbackLogValueLimit = 512
)

// PaymentWebhook 支付网关回调，GET 与 POST 均可；网关只识别纯文本应答
func (h *Handler) PaymentWebhook(c *gin.Context) {
	log := requestLog(c)
	params, body := readWebhookParams(c)
	input := service.BuildWebhookInput(params)
	log.Infow("payment_webhook_request",
		"method", c.Request.Method,
		"client_ip", c.ClientIP(),
		"content_type", strings.TrimSpace(c.GetHeader("Content-Type")),
		"order_id", input.OrderID,
		"raw_body", callbackRawBodyForLog(body),
	)

	result, err := h.PaymentService.HandleWebhook(c.Request.Context(), input)
	if err != nil {
		if rule, ok := matchMappedError(err, paymentWebhookErrorRules); ok {
			log.Warnw("payment_webhook_rejected", "order_id", input.OrderID, "code", rule.code, "error", err)
			response.Text(c, rule.code, rule.msg)
			return
		}
		// 网关失败重试会重复推送，内部错误只记录不拒绝
		log.Errorw("payment_webhook_handle_failed", "order_id", input.OrderID, "error", err)
		response.Text(c, response.CodeOK, constants.WebhookResponseOK)
		return
	}
	log.Infow("payment_webhook_handled", "order_id", result.OrderID, "outcome", result.Outcome)
	response.Text(c, response.CodeOK, constants.WebhookResponseOK)
}

// readWebhookParams 合并 query、表单与 JSON 参数，先出现的非空值优先
func readWebhookParams(c *gin.Context) (map[string]string, []byte) {
	params := map[string]string{}
	merge := func(key, value string) {
		if existing, ok := params[key]; ok && strings.TrimSpace(existing) != "" {
			return
		}
		params[key] = value
	}
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			merge(key, values[0])
		}
	}
	if c.Request.Body == nil {
		return params, nil
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, webhookBodyLimit))
	if err != nil {
		requestLog(c).Warnw("payment_webhook_body_read_failed", "error", err)
		return params, nil
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	if len(bytes.TrimSpace(body)) == 0 {
		return params, body
	}
	if isJSONRequest(c) {
		decoder := json.NewDecoder(bytes.NewReader(body))
		decoder.UseNumber()
		var payload map[string]interface{}
		if err := decoder.Decode(&payload); err != nil {
			requestLog(c).Warnw("payment_webhook_json_invalid", "error", err)
			return params, body
		}
		for key, value := range payload {
			merge(key, stringifyWebhookValue(value))
		}
		return params, body
	}
	if err := c.Request.ParseForm(); err != nil {
		requestLog(c).Warnw("payment_webhook_form_invalid", "error", err)
		return params, body
	}
	for key, values := range c.Request.PostForm {
		if len(values) > 0 {
			merge(key, values[0])
		}
	}
	return params, body
}

func stringifyWebhookValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(v)
	}
}

func truncateCallbackLogValue(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if len(raw) <= callbackLogValueLimit {
		return raw
	}
	return raw[:callbackLogValueLimit] + "...(truncated)"
}

func callbackRawBodyForLog(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	return truncateCallbackLogValue(string(body))
}
