package public

import (
	"errors"

	"github.com/cvlens-pay/internal/http/response"
	"github.com/cvlens-pay/internal/service"

	"github.com/gin-gonic/gin"
)

// mappedHandlerError 定义业务错误到接口错误响应的映射关系。
type mappedHandlerError struct {
	target error
	code   int
	msg    string
}

func respondWithMappedError(c *gin.Context, err error, rules []mappedHandlerError, fallbackCode int, fallbackMsg string) {
	if rule, ok := matchMappedError(err, rules); ok {
		respondError(c, rule.code, rule.msg, nil)
		return
	}
	respondError(c, fallbackCode, fallbackMsg, err)
}

func matchMappedError(err error, rules []mappedHandlerError) (mappedHandlerError, bool) {
	for _, rule := range rules {
		if errors.Is(err, rule.target) {
			return rule, true
		}
	}
	return mappedHandlerError{}, false
}

func concatMappedHandlerErrors(groups ...[]mappedHandlerError) []mappedHandlerError {
	total := 0
	for _, group := range groups {
		total += len(group)
	}
	result := make([]mappedHandlerError, 0, total)
	for _, group := range groups {
		result = append(result, group...)
	}
	return result
}

var paymentGatewayErrorRules = []mappedHandlerError{
	{target: service.ErrPaymentGatewayRequestFailed, code: response.CodeBadGateway, msg: "payment provider request failed"},
	{target: service.ErrPaymentGatewayResponseInvalid, code: response.CodeBadGateway, msg: "payment provider returned an invalid response"},
}

var paymentInitiateErrorRules = []mappedHandlerError{
	{target: service.ErrPaymentAmountInvalid, code: response.CodeBadRequest, msg: "amount is missing or invalid"},
	{target: service.ErrPaymentPhoneRequired, code: response.CodeBadRequest, msg: "phone number is required for MB WAY"},
	{target: service.ErrPaymentOrderExists, code: response.CodeBadRequest, msg: "order id already exists"},
	{target: service.ErrPaymentInvalid, code: response.CodeBadRequest, msg: "payment request invalid"},
	{target: service.ErrPaymentMethodUnavailable, code: response.CodeNotFound, msg: "payment method not available"},
}

var paymentStatusErrorRules = []mappedHandlerError{
	{target: service.ErrPaymentRecordNotFound, code: response.CodeNotFound, msg: "payment not found"},
}

// 回调只区分鉴权、参数与订单不存在，其余错误一律应答 200
var paymentWebhookErrorRules = []mappedHandlerError{
	{target: service.ErrWebhookKeyInvalid, code: response.CodeForbidden, msg: "forbidden"},
	{target: service.ErrWebhookOrderIDMissing, code: response.CodeBadRequest, msg: "order id missing"},
	{target: service.ErrPaymentRecordNotFound, code: response.CodeNotFound, msg: "payment not found"},
}

func respondPaymentInitiateError(c *gin.Context, err error) {
	respondWithMappedError(c, err, concatMappedHandlerErrors(paymentInitiateErrorRules, paymentGatewayErrorRules), response.CodeInternal, "payment initiate failed")
}

func respondPaymentStatusError(c *gin.Context, err error) {
	respondWithMappedError(c, err, concatMappedHandlerErrors(paymentStatusErrorRules, paymentGatewayErrorRules), response.CodeInternal, "payment status query failed")
}
