package service

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"github.com/cvlens-pay/internal/config"
	"github.com/cvlens-pay/internal/constants"
	"github.com/cvlens-pay/internal/models"

	"github.com/google/uuid"
)

const defaultSMTPTimeout = 60 * time.Second

// Mailer 报告与付款说明邮件发送
type Mailer interface {
	SendReport(ctx context.Context, input ReportEmailInput) error
	SendPaymentInstructions(ctx context.Context, input PaymentInstructionsEmailInput) error
}

// ReportEmailInput 报告邮件输入
type ReportEmailInput struct {
	To             string
	CustomerName   string
	OrderID        string
	Subject        string
	Attachment     []byte
	AttachmentName string
}

// PaymentInstructionsEmailInput 付款说明邮件输入
type PaymentInstructionsEmailInput struct {
	To           string
	CustomerName string
	OrderID      string
	Method       string
	Amount       models.Money
	Entity       string
	Reference    string
	ExpiryDate   string
}

// EmailAttachment 邮件附件
type EmailAttachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// EmailMessage 待发送邮件
type EmailMessage struct {
	To          string
	Subject     string
	HTMLBody    string
	TextBody    string
	Attachments []EmailAttachment
}

// EmailService SMTP 邮件发送服务
type EmailService struct {
	cfg *config.EmailConfig
}

// NewEmailService 创建邮件服务
func NewEmailService(cfg *config.EmailConfig) *EmailService {
	return &EmailService{cfg: cfg}
}

// SendReport 发送带 PDF 附件的分析报告
func (s *EmailService) SendReport(ctx context.Context, input ReportEmailInput) error {
	if len(input.Attachment) == 0 {
		return fmt.Errorf("%w: empty report attachment", ErrDeliveryFailed)
	}
	filename := strings.TrimSpace(input.AttachmentName)
	if filename == "" {
		filename = "relatorio-cv.pdf"
	}
	subject := strings.TrimSpace(input.Subject)
	if subject == "" {
		subject = "O seu relatório de análise de CV"
	}
	htmlBody, textBody := buildReportContent(input)
	return s.Send(ctx, EmailMessage{
		To:       input.To,
		Subject:  subject,
		HTMLBody: htmlBody,
		TextBody: textBody,
		Attachments: []EmailAttachment{{
			Filename:    filename,
			ContentType: "application/pdf",
			Data:        input.Attachment,
		}},
	})
}

// SendPaymentInstructions 发送 Multibanco/Payshop 付款说明
func (s *EmailService) SendPaymentInstructions(ctx context.Context, input PaymentInstructionsEmailInput) error {
	subject, htmlBody, textBody := buildPaymentInstructionsContent(input)
	return s.Send(ctx, EmailMessage{
		To:       input.To,
		Subject:  subject,
		HTMLBody: htmlBody,
		TextBody: textBody,
	})
}

// Send 发送邮件
func (s *EmailService) Send(ctx context.Context, message EmailMessage) error {
	if s.cfg == nil || !s.cfg.Enabled {
		return ErrEmailServiceDisabled
	}
	if s.cfg.Host == "" || s.cfg.Port == 0 || s.cfg.From == "" {
		return ErrEmailServiceNotConfigured
	}
	if _, err := mail.ParseAddress(message.To); err != nil {
		return ErrInvalidEmail
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	from := buildFromAddress(s.cfg.From, s.cfg.FromName)
	msg := buildMIMEMessage(from, message, time.Now())

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" || s.cfg.Password != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	timeout := s.Timeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := s.dial(ctx, addr)
	if err != nil {
		return err
	}
	// 整个会话共用一个截止时间，ctx 取消时立即断开
	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return contextOr(ctx, err)
	}
	defer client.Close()

	if !s.cfg.UseSSL && s.cfg.UseTLS {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
			return contextOr(ctx, err)
		}
	}
	if auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(auth); err != nil {
				return contextOr(ctx, err)
			}
		}
	}
	if err := sendSMTPData(client, s.cfg.From, []string{message.To}, msg); err != nil {
		return normalizeEmailSendError(contextOr(ctx, err))
	}
	return nil
}

// Timeout 单封邮件从建立连接到发送完成的最长时间
func (s *EmailService) Timeout() time.Duration {
	if s == nil || s.cfg == nil || s.cfg.TimeoutSeconds <= 0 {
		return defaultSMTPTimeout
	}
	return time.Duration(s.cfg.TimeoutSeconds) * time.Second
}

func (s *EmailService) dial(ctx context.Context, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: s.Timeout()}
	if !s.cfg.UseSSL {
		return dialer.DialContext(ctx, "tcp", addr)
	}
	tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: s.cfg.Host}}
	return tlsDialer.DialContext(ctx, "tcp", addr)
}

// contextOr 会话因超时或取消被中断时返回 ctx 的错误
func contextOr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

func sendSMTPData(client *smtp.Client, from string, to []string, msg []byte) error {
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func buildFromAddress(from, name string) string {
	if strings.TrimSpace(name) == "" {
		return from
	}
	encoded := mime.QEncoding.Encode("UTF-8", name)
	return (&mail.Address{Name: encoded, Address: from}).String()
}

// buildMIMEMessage 生成 multipart/mixed 邮件，正文为 multipart/alternative
func buildMIMEMessage(from string, message EmailMessage, now time.Time) []byte {
	mixedBoundary := "mixed-" + uuid.NewString()
	altBoundary := "alt-" + uuid.NewString()

	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("From: %s\r\n", from))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", message.To))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", message.Subject)))
	buf.WriteString(fmt.Sprintf("Date: %s\r\n", now.Format(time.RFC1123Z)))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString(fmt.Sprintf("Content-Type: multipart/mixed; boundary=%q\r\n", mixedBoundary))
	buf.WriteString("\r\n")

	buf.WriteString(fmt.Sprintf("--%s\r\n", mixedBoundary))
	buf.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q\r\n\r\n", altBoundary))
	writeTextPart(&buf, altBoundary, "text/plain", message.TextBody)
	writeTextPart(&buf, altBoundary, "text/html", message.HTMLBody)
	buf.WriteString(fmt.Sprintf("--%s--\r\n", altBoundary))

	for _, attachment := range message.Attachments {
		contentType := attachment.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		buf.WriteString(fmt.Sprintf("--%s\r\n", mixedBoundary))
		buf.WriteString(fmt.Sprintf("Content-Type: %s; name=%q\r\n", contentType, attachment.Filename))
		buf.WriteString("Content-Transfer-Encoding: base64\r\n")
		buf.WriteString(fmt.Sprintf("Content-Disposition: attachment; filename=%q\r\n\r\n", attachment.Filename))
		writeBase64Lines(&buf, attachment.Data)
	}
	buf.WriteString(fmt.Sprintf("--%s--\r\n", mixedBoundary))
	return buf.Bytes()
}

func writeTextPart(buf *bytes.Buffer, boundary, contentType, body string) {
	buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	buf.WriteString(fmt.Sprintf("Content-Type: %s; charset=UTF-8\r\n", contentType))
	buf.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
	writeBase64Lines(buf, []byte(body))
}

// writeBase64Lines 按 RFC 2045 每行 76 字符
func writeBase64Lines(buf *bytes.Buffer, data []byte) {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		buf.WriteString(encoded[:76])
		buf.WriteString("\r\n")
		encoded = encoded[76:]
	}
	buf.WriteString(encoded)
	buf.WriteString("\r\n")
}

func greetingName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Olá"
	}
	return "Olá " + name
}

func buildReportContent(input ReportEmailInput) (string, string) {
	greeting := greetingName(input.CustomerName)
	text := fmt.Sprintf("%s,\n\nObrigado pelo seu pagamento (encomenda %s).\nEm anexo encontra o relatório completo da análise do seu CV.\n",
		greeting, input.OrderID)
	htmlBody := fmt.Sprintf("<p>%s,</p><p>Obrigado pelo seu pagamento (encomenda <strong>%s</strong>).</p><p>Em anexo encontra o relatório completo da análise do seu CV.</p>",
		html.EscapeString(greeting), html.EscapeString(input.OrderID))
	return htmlBody, text
}

func buildPaymentInstructionsContent(input PaymentInstructionsEmailInput) (string, string, string) {
	greeting := greetingName(input.CustomerName)
	amount := input.Amount.String() + " " + constants.CurrencyEUR
	lines := []string{}
	switch input.Method {
	case constants.PaymentMethodMultibanco:
		lines = append(lines, "Entidade: "+input.Entity, "Referência: "+input.Reference)
	default:
		lines = append(lines, "Referência Payshop: "+input.Reference)
	}
	lines = append(lines, "Valor: "+amount)
	if strings.TrimSpace(input.ExpiryDate) != "" {
		lines = append(lines, "Data limite: "+input.ExpiryDate)
	}

	subject := fmt.Sprintf("Dados de pagamento da encomenda %s", input.OrderID)
	text := fmt.Sprintf("%s,\n\nPara concluir a compra do relatório, efetue o pagamento com os dados abaixo:\n\n%s\n\nAssim que o pagamento for confirmado receberá o relatório por email.\n",
		greeting, strings.Join(lines, "\n"))

	var items strings.Builder
	for _, line := range lines {
		items.WriteString("<li>")
		items.WriteString(html.EscapeString(line))
		items.WriteString("</li>")
	}
	htmlBody := fmt.Sprintf("<p>%s,</p><p>Para concluir a compra do relatório, efetue o pagamento com os dados abaixo:</p><ul>%s</ul><p>Assim que o pagamento for confirmado receberá o relatório por email.</p>",
		html.EscapeString(greeting), items.String())
	return subject, htmlBody, text
}

func normalizeEmailSendError(err error) error {
	if err == nil {
		return nil
	}
	if isEmailRecipientRejected(err) {
		return fmt.Errorf("%w: %v", ErrEmailRecipientRejected, err)
	}
	return err
}

func isEmailRecipientRejected(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	if message == "" {
		return false
	}
	directKeywords := []string{
		"no such recipient",
		"no such user",
		"recipient not found",
		"recipient address rejected",
		"invalid recipient",
		"user unknown",
		"unknown user",
		"unknown mailbox",
		"mailbox unavailable",
	}
	for _, keyword := range directKeywords {
		if strings.Contains(message, keyword) {
			return true
		}
	}
	if strings.Contains(message, "550") {
		for _, hint := range []string{"recipient", "user", "mailbox", "address", "rcpt"} {
			if strings.Contains(message, hint) {
				return true
			}
		}
	}
	return false
}
