package service

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cvlens-pay/internal/constants"
	"github.com/cvlens-pay/internal/models"

	"github.com/shopspring/decimal"
)

// DefaultFallbackAmount 金额缺失时的兜底值
var DefaultFallbackAmount = decimal.RequireFromString("30.00")

// NormalizedPaymentInput 归一化后的支付输入
type NormalizedPaymentInput struct {
	PaymentMethod    string
	OrderID          string
	Amount           models.Money
	CustomerName     string
	CustomerEmail    string
	CustomerPhone    string
	Description      string
	AnalysisData     models.JSON
	AmountFallback   bool
	MethodDefaulted  bool
	OrderIDGenerated bool
	Warnings         []string
}

type inputField string

const (
	fieldOrderID     inputField = "order_id"
	fieldAmount      inputField = "amount"
	fieldName        inputField = "customer_name"
	fieldEmail       inputField = "customer_email"
	fieldPhone       inputField = "customer_phone"
	fieldMethod      inputField = "payment_method"
	fieldDescription inputField = "description"
	fieldAnalysis    inputField = "analysis_data"
)

// 按表中顺序精确匹配，先命中者优先
var inputFieldAliases = []struct {
	field   inputField
	aliases []string
}{
	{fieldOrderID, []string{
		"orderid", "order_id", "order-id", "ordernumber", "order_number", "order-number",
		"orderno", "order_no", "order", "pedido", "idpedido", "id_pedido", "id-pedido",
		"numeropedido", "numero_pedido", "numero-pedido", "encomenda", "id_encomenda", "id",
	}},
	{fieldAmount, []string{
		"amount", "valor", "price", "preco", "preço", "total", "totalamount", "total_amount",
		"total-amount", "valortotal", "valor_total", "valor-total", "montante", "quantia", "amount_eur",
	}},
	{fieldName, []string{
		"customername", "customer_name", "customer-name", "name", "nome", "fullname", "full_name",
		"full-name", "nomecompleto", "nome_completo", "nome-completo", "clientname", "client_name",
		"client-name", "nomecliente", "nome_cliente", "nome-cliente", "cliente",
	}},
	{fieldEmail, []string{
		"customeremail", "customer_email", "customer-email", "email", "e-mail", "e_mail", "mail",
		"clientemail", "client_email", "client-email", "emailcliente", "email_cliente", "email-cliente",
		"correio", "correioeletronico", "correio_eletronico", "correio-eletronico",
	}},
	{fieldPhone, []string{
		"customerphone", "customer_phone", "customer-phone", "phone", "phonenumber", "phone_number",
		"phone-number", "mobile", "mobilenumber", "mobile_number", "mobile-number", "telefone",
		"telemovel", "telemóvel", "numerotelemovel", "numero_telemovel", "numero-telemovel",
		"telemovelcliente", "telemovel_cliente", "contacto", "contato", "celular", "tel",
	}},
	{fieldMethod, []string{
		"paymentmethod", "payment_method", "payment-method", "method", "metodo", "método",
		"metodopagamento", "metodo_pagamento", "metodo-pagamento", "paymenttype", "payment_type",
		"payment-type", "tipopagamento", "tipo_pagamento", "tipo-pagamento", "pagamento", "gateway",
	}},
	{fieldDescription, []string{
		"description", "descricao", "descrição", "desc", "produto", "product", "servico", "serviço",
	}},
	{fieldAnalysis, []string{
		"analysisdata", "analysis_data", "analysis-data", "analise", "análise", "cvanalysis",
		"cv_analysis", "cv-analysis", "analysis", "resultadoanalise", "resultado_analise",
	}},
}

// 精确匹配失败后按子串扫描，顺序决定冲突时的归属
var inputFieldTokens = []struct {
	field  inputField
	tokens []string
}{
	{fieldPhone, []string{"phone", "telefone", "telemovel", "mobile"}},
	{fieldEmail, []string{"mail"}},
	{fieldAmount, []string{"amount", "valor", "price", "preco", "total"}},
	{fieldMethod, []string{"method", "metodo"}},
	{fieldName, []string{"name", "nome"}},
	{fieldOrderID, []string{"order", "pedido"}},
}

// 支付方式同义词
var paymentMethodSynonyms = []struct {
	method   string
	synonyms []string
}{
	{constants.PaymentMethodMBWay, []string{
		"mbway", "mb way", "mb_way", "mb-way", "mbw", "push", "telemovel", "phone",
	}},
	{constants.PaymentMethodMultibanco, []string{
		"multibanco", "multi banco", "multi_banco", "multi-banco", "atm", "atm_reference",
		"atm-reference", "referencia", "referência", "referencia multibanco", "entidade",
	}},
	{constants.PaymentMethodPayshop, []string{
		"payshop", "pay shop", "pay_shop", "pay-shop", "terminal", "terminal_reference",
		"terminal-reference", "loja", "ctt", "agente",
	}},
}

// PaymentInputNormalizer 支付输入归一化
type PaymentInputNormalizer struct {
	fallbackAmount     decimal.Decimal
	defaultDescription string
	now                func() time.Time
}

// NewPaymentInputNormalizer 创建归一化器，fallback 非正数时使用默认兜底金额
func NewPaymentInputNormalizer(fallbackAmount decimal.Decimal, defaultDescription string) *PaymentInputNormalizer {
	if !fallbackAmount.IsPositive() {
		fallbackAmount = DefaultFallbackAmount
	}
	return &PaymentInputNormalizer{
		fallbackAmount:     fallbackAmount.Round(2),
		defaultDescription: strings.TrimSpace(defaultDescription),
		now:                time.Now,
	}
}

// NormalizePaymentInput 使用默认配置归一化
func NormalizePaymentInput(raw map[string]interface{}) NormalizedPaymentInput {
	return NewPaymentInputNormalizer(DefaultFallbackAmount, "").Normalize(raw)
}

// Normalize 归一化任意字段命名的支付输入
func (n *PaymentInputNormalizer) Normalize(raw map[string]interface{}) NormalizedPaymentInput {
	lowered := lowerCaseKeys(raw)
	values, used := matchAliases(lowered)

	var warnings []string
	for _, entry := range inputFieldTokens {
		if _, ok := values[entry.field]; ok {
			continue
		}
		key, value, ok := scanForToken(lowered, used, entry.tokens)
		if !ok {
			continue
		}
		values[entry.field] = value
		used[key] = true
		warning := fmt.Sprintf("%s resolved from key %q by heuristic", entry.field, key)
		warnings = append(warnings, warning)
		paymentLogger("field", string(entry.field), "key", key).Warnw("payment_input_field_heuristic_match")
	}

	result := NormalizedPaymentInput{
		CustomerName:  scalarString(values[fieldName]),
		CustomerEmail: strings.ToLower(scalarString(values[fieldEmail])),
		CustomerPhone: NormalizePhone(scalarString(values[fieldPhone])),
		Description:   scalarString(values[fieldDescription]),
		AnalysisData:  toAnalysisData(values[fieldAnalysis]),
	}
	if result.Description == "" {
		result.Description = n.defaultDescription
	}

	method, defaulted := NormalizePaymentMethod(scalarString(values[fieldMethod]))
	result.PaymentMethod = method
	result.MethodDefaulted = defaulted
	if defaulted {
		warnings = append(warnings, fmt.Sprintf("payment method defaulted to %s", method))
		paymentLogger("raw_method", scalarString(values[fieldMethod]), "method", method).Warnw("payment_input_method_defaulted")
	}

	result.OrderID = scalarString(values[fieldOrderID])
	if result.OrderID == "" {
		result.OrderID = n.generateOrderID()
		result.OrderIDGenerated = true
	}

	amount, ok := ParseAmount(values[fieldAmount])
	if !ok {
		amount = n.fallbackAmount
		result.AmountFallback = true
		warnings = append(warnings, fmt.Sprintf("amount missing or invalid, fallback %s applied", amount.StringFixed(2)))
		paymentLogger("order_id", result.OrderID, "raw_amount", values[fieldAmount], "fallback", amount.StringFixed(2)).Warnw("payment_input_amount_fallback")
	}
	result.Amount = models.NewMoneyFromDecimal(amount)
	result.Warnings = warnings
	return result
}

func (n *PaymentInputNormalizer) generateOrderID() string {
	now := time.Now
	if n != nil && n.now != nil {
		now = n.now
	}
	return "CV" + now().Format("20060102150405") + randomDigits(4)
}

func randomDigits(length int) string {
	var b strings.Builder
	for i := 0; i < length; i++ {
		digit, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			b.WriteByte('0')
			continue
		}
		b.WriteString(digit.String())
	}
	return b.String()
}

func lowerCaseKeys(raw map[string]interface{}) map[string]interface{} {
	lowered := make(map[string]interface{}, len(raw))
	for key, value := range raw {
		normalized := strings.ToLower(strings.TrimSpace(key))
		if normalized == "" {
			continue
		}
		if _, exists := lowered[normalized]; exists && isBlankValue(value) {
			continue
		}
		lowered[normalized] = value
	}
	return lowered
}

func matchAliases(lowered map[string]interface{}) (map[inputField]interface{}, map[string]bool) {
	values := make(map[inputField]interface{})
	used := make(map[string]bool)
	for _, entry := range inputFieldAliases {
		for _, alias := range entry.aliases {
			if used[alias] {
				continue
			}
			value, ok := lowered[alias]
			if !ok || isBlankValue(value) {
				continue
			}
			values[entry.field] = value
			used[alias] = true
			break
		}
	}
	return values, used
}

func scanForToken(lowered map[string]interface{}, used map[string]bool, tokens []string) (string, interface{}, bool) {
	keys := make([]string, 0, len(lowered))
	for key := range lowered {
		if !used[key] {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := lowered[key]
		if isBlankValue(value) {
			continue
		}
		for _, token := range tokens {
			if strings.Contains(key, token) {
				return key, value, true
			}
		}
	}
	return "", nil, false
}

func isBlankValue(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	default:
		return false
	}
}

func scalarString(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case []string:
		if len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

func toAnalysisData(value interface{}) models.JSON {
	switch v := value.(type) {
	case nil:
		return nil
	case models.JSON:
		return v.Clone()
	case map[string]interface{}:
		return models.JSON(v).Clone()
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil
		}
		var decoded map[string]interface{}
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil && len(decoded) > 0 {
			return models.JSON(decoded)
		}
		return models.JSON{"raw": trimmed}
	default:
		return models.JSON{"raw": v}
	}
}

// ParseAmount 解析金额，支持数字以及带 , 或 . 小数点与 €/EUR 标记的字符串
func ParseAmount(value interface{}) (decimal.Decimal, bool) {
	var amount decimal.Decimal
	switch v := value.(type) {
	case nil:
		return decimal.Zero, false
	case float64:
		amount = decimal.NewFromFloat(v)
	case float32:
		amount = decimal.NewFromFloat32(v)
	case int:
		amount = decimal.NewFromInt(int64(v))
	case int64:
		amount = decimal.NewFromInt(v)
	case json.Number:
		parsed, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Zero, false
		}
		amount = parsed
	case decimal.Decimal:
		amount = v
	default:
		parsed, ok := parseAmountString(scalarString(v))
		if !ok {
			return decimal.Zero, false
		}
		amount = parsed
	}
	// 不足一分的金额四舍五入后为 0，同样视为无效
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return decimal.Zero, false
	}
	return amount, true
}

func parseAmountString(raw string) (decimal.Decimal, bool) {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	cleaned = strings.ReplaceAll(cleaned, "€", "")
	cleaned = strings.ReplaceAll(cleaned, "eur", "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	cleaned = strings.ReplaceAll(cleaned, "\u00a0", "")
	if cleaned == "" {
		return decimal.Zero, false
	}
	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		// 后出现的符号是小数点，另一个是千分位
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	}
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	return amount, true
}

// NormalizePhone 仅保留数字，9 位葡萄牙手机号补 351 国家码
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 9 && digits[0] == '9' && strings.ContainsRune("1236", rune(digits[1])) {
		return constants.PhoneCountryCodePT + digits
	}
	return digits
}

// NormalizePaymentMethod 解析支付方式，无法识别时返回 mbway 与 defaulted=true
func NormalizePaymentMethod(raw string) (string, bool) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return constants.PaymentMethodMBWay, true
	}
	for _, entry := range paymentMethodSynonyms {
		for _, synonym := range entry.synonyms {
			if value == synonym {
				return entry.method, false
			}
		}
	}
	// 子串匹配取最长的同义词
	best, bestLen := "", 0
	for _, entry := range paymentMethodSynonyms {
		for _, synonym := range entry.synonyms {
			if len(synonym) >= 4 && len(synonym) > bestLen && strings.Contains(value, synonym) {
				best, bestLen = entry.method, len(synonym)
			}
		}
	}
	if best != "" {
		return best, false
	}
	switch {
	case strings.Contains(value, "way"):
		return constants.PaymentMethodMBWay, false
	case strings.Contains(value, "multi"), strings.Contains(value, "banco"),
		strings.Contains(value, "atm"), strings.Contains(value, "ref"):
		return constants.PaymentMethodMultibanco, false
	case strings.Contains(value, "shop"), strings.Contains(value, "pay"):
		return constants.PaymentMethodPayshop, false
	case strings.Contains(value, "mb"):
		return constants.PaymentMethodMBWay, false
	}
	return constants.PaymentMethodMBWay, true
}

// IsReferenceMethod 是否为参考号类支付（需要客户到 ATM/终端付款）
func IsReferenceMethod(method string) bool {
	return method == constants.PaymentMethodMultibanco || method == constants.PaymentMethodPayshop
}
