package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cvlens-pay/internal/config"
	"github.com/cvlens-pay/internal/constants"
	"github.com/cvlens-pay/internal/models"
	"github.com/cvlens-pay/internal/payment"
	"github.com/cvlens-pay/internal/provider"
	"github.com/cvlens-pay/internal/queue"
	"github.com/cvlens-pay/internal/repository"
	"github.com/cvlens-pay/internal/service"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
)

type pdfGenerator struct{}

func (pdfGenerator) Generate(ctx context.Context, analysisData map[string]interface{}) ([]byte, error) {
	return []byte("%PDF-1.7"), nil
}

type countingMailer struct {
	mu    sync.Mutex
	sent  []string
	fails bool
}

func (m *countingMailer) SendReport(ctx context.Context, input service.ReportEmailInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fails {
		return service.ErrEmailServiceDisabled
	}
	m.sent = append(m.sent, input.OrderID)
	return nil
}

func (m *countingMailer) SendPaymentInstructions(ctx context.Context, input service.PaymentInstructionsEmailInput) error {
	return nil
}

func newTestConsumer(t *testing.T, mailer *countingMailer) (*Consumer, *repository.MemoryPaymentRecordRepository) {
	t.Helper()
	repo := repository.NewMemoryPaymentRecordRepository()
	container := provider.NewContainerWith(&config.Config{}, repo, payment.NewRegistry(), pdfGenerator{}, mailer)
	return NewConsumer(container), repo
}

func seedPaid(t *testing.T, repo *repository.MemoryPaymentRecordRepository, orderID string) {
	t.Helper()
	err := repo.Create(&models.PaymentRecord{
		OrderID:       orderID,
		Method:        constants.PaymentMethodMultibanco,
		Amount:        models.NewMoneyFromDecimal(decimal.RequireFromString("9.90")),
		CustomerEmail: "ines@example.com",
		Status:        constants.PaymentStatusPending,
		AnalysisData:  models.JSON{"score": 55},
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, err := repo.TransitionStatus(orderID, constants.PaymentStatusPending, constants.PaymentStatusPaid, time.Now()); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
}

func TestHandleDeliveryRetryDelivers(t *testing.T) {
	mailer := &countingMailer{}
	consumer, repo := newTestConsumer(t, mailer)
	seedPaid(t, repo, "RT-1")

	task, err := queue.NewDeliveryRetryTask(queue.DeliveryRetryPayload{OrderID: "RT-1", Attempt: 1})
	if err != nil {
		t.Fatalf("build task failed: %v", err)
	}
	if err := consumer.handleDeliveryRetry(context.Background(), task); err != nil {
		t.Fatalf("handle task failed: %v", err)
	}
	if err := consumer.handleDeliveryRetry(context.Background(), task); err != nil {
		t.Fatalf("duplicate task failed: %v", err)
	}
	if len(mailer.sent) != 1 || mailer.sent[0] != "RT-1" {
		t.Fatalf("expected one report email, got %v", mailer.sent)
	}
}

func TestHandleDeliveryRetrySkipsPreconditionErrors(t *testing.T) {
	consumer, _ := newTestConsumer(t, &countingMailer{})
	task, err := queue.NewDeliveryRetryTask(queue.DeliveryRetryPayload{OrderID: "missing", Attempt: 2})
	if err != nil {
		t.Fatalf("build task failed: %v", err)
	}
	if err := consumer.handleDeliveryRetry(context.Background(), task); err != nil {
		t.Fatalf("missing record should be skipped, got %v", err)
	}
}

func TestHandleDeliveryRetryReturnsDeliveryErrors(t *testing.T) {
	consumer, repo := newTestConsumer(t, &countingMailer{fails: true})
	seedPaid(t, repo, "RT-FAIL")
	task, err := queue.NewDeliveryRetryTask(queue.DeliveryRetryPayload{OrderID: "RT-FAIL", Attempt: 1})
	if err != nil {
		t.Fatalf("build task failed: %v", err)
	}
	if err := consumer.handleDeliveryRetry(context.Background(), task); err == nil {
		t.Fatalf("expected delivery error")
	}
	record, _ := repo.GetByOrderID("RT-FAIL")
	if record.Delivered || record.DeliveryLockUntil != nil {
		t.Fatalf("failed delivery must release the lease: %+v", record)
	}
}

func TestHandleDeliveryRetryInvalidPayload(t *testing.T) {
	consumer, _ := newTestConsumer(t, &countingMailer{})
	if err := consumer.handleDeliveryRetry(context.Background(), asynq.NewTask(queue.TaskDeliveryRetry, []byte(`{"order_id":""}`))); err == nil {
		t.Fatalf("expected payload error")
	}
}

func TestRegisterHandlesDeliveryRetry(t *testing.T) {
	consumer, _ := newTestConsumer(t, &countingMailer{})
	mux := asynq.NewServeMux()
	consumer.Register(mux)
	task := asynq.NewTask(queue.TaskDeliveryRetry, []byte(`{"order_id":"missing"}`))
	if err := mux.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("registered handler should skip missing record, got %v", err)
	}
}
