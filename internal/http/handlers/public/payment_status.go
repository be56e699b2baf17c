package public

import (
	"strings"

	"github.com/cvlens-pay/internal/http/response"

	"github.com/gin-gonic/gin"
)

// GetPaymentStatus 客户端轮询支付状态
func (h *Handler) GetPaymentStatus(c *gin.Context) {
	orderID := strings.TrimSpace(c.Param("order_id"))
	if orderID == "" {
		respondError(c, response.CodeBadRequest, "order id missing", nil)
		return
	}
	result, err := h.PaymentService.PollStatus(c.Request.Context(), orderID)
	if err != nil {
		requestLog(c).Warnw("payment_status_poll_failed", "order_id", orderID, "error", err)
		respondPaymentStatusError(c, err)
		return
	}
	response.Success(c, gin.H{
		"orderId":   result.OrderID,
		"paid":      result.Paid,
		"pending":   result.Pending,
		"delivered": result.Delivered,
		"status":    result.Status,
		"message":   result.Message,
	})
}
