package repository

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cvlens-pay/internal/constants"
	"github.com/cvlens-pay/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func setupGormPaymentRecordRepository(t *testing.T) *GormPaymentRecordRepository {
	t.Helper()
	dsn := fmt.Sprintf("file:payment_record_repo_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db failed: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	return NewPaymentRecordRepository(db)
}

// forEachBackend 在 GORM 与内存两种实现上执行同一组断言
func forEachBackend(t *testing.T, fn func(t *testing.T, repo PaymentRecordRepository)) {
	t.Helper()
	t.Run("gorm", func(t *testing.T) {
		fn(t, setupGormPaymentRecordRepository(t))
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryPaymentRecordRepository())
	})
}

func newPendingRecord(orderID string) *models.PaymentRecord {
	return &models.PaymentRecord{
		OrderID:           orderID,
		ProviderRequestID: "REQ-" + orderID,
		Method:            constants.PaymentMethodMBWay,
		Amount:            models.NewMoneyFromDecimal(decimal.RequireFromString("29.90")),
		CustomerName:      "Ana Silva",
		CustomerEmail:     "ana@example.com",
		CustomerPhone:     "351912345678",
		Description:       "CV report",
		Status:            constants.PaymentStatusPending,
		AnalysisData:      models.JSON{"score": float64(82)},
	}
}

func TestPaymentRecordCreateAndGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo PaymentRecordRepository) {
		if err := repo.Create(newPendingRecord("CV001")); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		got, err := repo.GetByOrderID("CV001")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got == nil {
			t.Fatalf("expected record")
		}
		if got.ProviderRequestID != "REQ-CV001" || got.Status != constants.PaymentStatusPending {
			t.Fatalf("unexpected record: %+v", got)
		}
		if got.Amount.String() != "29.90" {
			t.Fatalf("unexpected amount: %s", got.Amount.String())
		}
		if got.AnalysisData["score"] != float64(82) {
			t.Fatalf("unexpected analysis data: %+v", got.AnalysisData)
		}

		missing, err := repo.GetByOrderID("UNKNOWN")
		if err != nil {
			t.Fatalf("get missing failed: %v", err)
		}
		if missing != nil {
			t.Fatalf("expected nil for missing record")
		}

		if err := repo.Create(newPendingRecord("CV001")); err != ErrDuplicateOrderID {
			t.Fatalf("expected duplicate error, got %v", err)
		}
	})
}

func TestPaymentRecordUpdateFields(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo PaymentRecordRepository) {
		if err := repo.Create(newPendingRecord("CV002")); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		ok, err := repo.Update("CV002", map[string]interface{}{
			"provider_fields": models.JSON{"entity": "11249", "reference": "123456789"},
		})
		if err != nil || !ok {
			t.Fatalf("update failed: ok=%v err=%v", ok, err)
		}
		got, _ := repo.GetByOrderID("CV002")
		if got.ProviderFields["reference"] != "123456789" {
			t.Fatalf("provider fields not updated: %+v", got.ProviderFields)
		}
		ok, err = repo.Update("MISSING", map[string]interface{}{"description": "x"})
		if err != nil {
			t.Fatalf("update missing failed: %v", err)
		}
		if ok {
			t.Fatalf("update on missing record should report false")
		}
	})
}

func TestPaymentRecordUpdateRejectsStateColumns(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo PaymentRecordRepository) {
		if err := repo.Create(newPendingRecord("CV010")); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		for _, column := range []string{"status", "delivered", "delivery_lock_until", "amount"} {
			var value interface{} = true
			switch column {
			case "status":
				value = constants.PaymentStatusPaid
			case "delivery_lock_until":
				value = time.Now().Add(time.Hour)
			case "amount":
				value = "0.01"
			}
			ok, err := repo.Update("CV010", map[string]interface{}{column: value, "description": "changed"})
			if !errors.Is(err, ErrColumnNotUpdatable) || ok {
				t.Fatalf("column %s: expected ErrColumnNotUpdatable, got ok=%v err=%v", column, ok, err)
			}
		}
		got, _ := repo.GetByOrderID("CV010")
		if got.Status != constants.PaymentStatusPending || got.Delivered || got.DeliveryLockUntil != nil || got.Description != "CV report" {
			t.Fatalf("rejected update changed the record: %+v", got)
		}
	})
}

func TestPaymentRecordTransitionStatusOnlyFromPending(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo PaymentRecordRepository) {
		if err := repo.Create(newPendingRecord("CV003")); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		now := time.Now().UTC()
		ok, err := repo.TransitionStatus("CV003", constants.PaymentStatusPending, constants.PaymentStatusPaid, now)
		if err != nil || !ok {
			t.Fatalf("first transition failed: ok=%v err=%v", ok, err)
		}
		ok, err = repo.TransitionStatus("CV003", constants.PaymentStatusPending, constants.PaymentStatusFailed, now)
		if err != nil {
			t.Fatalf("second transition error: %v", err)
		}
		if ok {
			t.Fatalf("paid record must not move to failed")
		}
		got, _ := repo.GetByOrderID("CV003")
		if got.Status != constants.PaymentStatusPaid {
			t.Fatalf("unexpected status: %s", got.Status)
		}
		if got.PaymentConfirmedAt == nil {
			t.Fatalf("payment_confirmed_at should be set")
		}
	})
}

func TestPaymentRecordMarkDeliveredRequiresPaid(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo PaymentRecordRepository) {
		if err := repo.Create(newPendingRecord("CV004")); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		now := time.Now().UTC()
		ok, err := repo.MarkDelivered("CV004", now)
		if err != nil {
			t.Fatalf("mark delivered error: %v", err)
		}
		if ok {
			t.Fatalf("pending record must not be marked delivered")
		}
		if _, err := repo.TransitionStatus("CV004", constants.PaymentStatusPending, constants.PaymentStatusPaid, now); err != nil {
			t.Fatalf("transition failed: %v", err)
		}
		ok, err = repo.MarkDelivered("CV004", now)
		if err != nil || !ok {
			t.Fatalf("mark delivered failed: ok=%v err=%v", ok, err)
		}
		ok, err = repo.MarkDelivered("CV004", now)
		if err != nil {
			t.Fatalf("second mark delivered error: %v", err)
		}
		if ok {
			t.Fatalf("delivered must flip only once")
		}
		got, _ := repo.GetByOrderID("CV004")
		if !got.Delivered || got.DeliveredAt == nil {
			t.Fatalf("unexpected delivered state: %+v", got)
		}
	})
}

func TestPaymentRecordMarkDeliveredConcurrentSingleWinner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo PaymentRecordRepository) {
		if err := repo.Create(newPendingRecord("CV005")); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		now := time.Now().UTC()
		if _, err := repo.TransitionStatus("CV005", constants.PaymentStatusPending, constants.PaymentStatusPaid, now); err != nil {
			t.Fatalf("transition failed: %v", err)
		}

		var winners int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := repo.MarkDelivered("CV005", time.Now().UTC())
				if err != nil {
					t.Errorf("mark delivered error: %v", err)
					return
				}
				if ok {
					atomic.AddInt32(&winners, 1)
				}
			}()
		}
		wg.Wait()
		if winners != 1 {
			t.Fatalf("expected exactly one winner, got %d", winners)
		}
	})
}

func TestPaymentRecordClaimDeliveryLease(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo PaymentRecordRepository) {
		if err := repo.Create(newPendingRecord("CV006")); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		now := time.Now().UTC()
		ok, err := repo.ClaimDelivery("CV006", now.Add(time.Minute), now)
		if err != nil {
			t.Fatalf("claim error: %v", err)
		}
		if ok {
			t.Fatalf("pending record must not be claimed")
		}
		if _, err := repo.TransitionStatus("CV006", constants.PaymentStatusPending, constants.PaymentStatusPaid, now); err != nil {
			t.Fatalf("transition failed: %v", err)
		}

		var winners int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := repo.ClaimDelivery("CV006", now.Add(time.Minute), now)
				if err != nil {
					t.Errorf("claim error: %v", err)
					return
				}
				if ok {
					atomic.AddInt32(&winners, 1)
				}
			}()
		}
		wg.Wait()
		if winners != 1 {
			t.Fatalf("expected exactly one lease holder, got %d", winners)
		}

		if err := repo.ReleaseDelivery("CV006", "smtp timeout"); err != nil {
			t.Fatalf("release failed: %v", err)
		}
		got, _ := repo.GetByOrderID("CV006")
		if got.LastDeliveryError != "smtp timeout" || got.DeliveryAttempts != 1 {
			t.Fatalf("unexpected audit fields: attempts=%d err=%q", got.DeliveryAttempts, got.LastDeliveryError)
		}

		later := now.Add(2 * time.Second)
		ok, err = repo.ClaimDelivery("CV006", later.Add(time.Minute), later)
		if err != nil || !ok {
			t.Fatalf("claim after release failed: ok=%v err=%v", ok, err)
		}
		// 租约未释放时过期后可被重新抢占
		expired := later.Add(2 * time.Minute)
		ok, err = repo.ClaimDelivery("CV006", expired.Add(time.Minute), expired)
		if err != nil || !ok {
			t.Fatalf("claim after lease expiry failed: ok=%v err=%v", ok, err)
		}
	})
}

func TestPaymentRecordRenewDeliveryExtendsHeldLease(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo PaymentRecordRepository) {
		if err := repo.Create(newPendingRecord("CV011")); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		now := time.Now().UTC()
		if ok, _ := repo.RenewDelivery("CV011", now.Add(time.Minute), now); ok {
			t.Fatalf("pending record lease must not be renewed")
		}
		if _, err := repo.TransitionStatus("CV011", constants.PaymentStatusPending, constants.PaymentStatusPaid, now); err != nil {
			t.Fatalf("transition failed: %v", err)
		}
		if ok, _ := repo.RenewDelivery("CV011", now.Add(time.Minute), now); ok {
			t.Fatalf("unclaimed lease must not be renewed")
		}
		if ok, err := repo.ClaimDelivery("CV011", now.Add(time.Second), now); err != nil || !ok {
			t.Fatalf("claim failed: ok=%v err=%v", ok, err)
		}
		later := now.Add(500 * time.Millisecond)
		if ok, err := repo.RenewDelivery("CV011", later.Add(time.Minute), later); err != nil || !ok {
			t.Fatalf("renew failed: ok=%v err=%v", ok, err)
		}
		// 原租约到期时间之后，续期后的租约仍然有效
		afterOriginal := now.Add(2 * time.Second)
		if ok, _ := repo.ClaimDelivery("CV011", afterOriginal.Add(time.Minute), afterOriginal); ok {
			t.Fatalf("renewed lease must block a second claim")
		}
		if ok, _ := repo.MarkDelivered("CV011", afterOriginal); !ok {
			t.Fatalf("mark delivered failed")
		}
		if ok, _ := repo.RenewDelivery("CV011", afterOriginal.Add(time.Minute), afterOriginal); ok {
			t.Fatalf("delivered record lease must not be renewed")
		}
	})
}

func TestPaymentRecordListUndelivered(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo PaymentRecordRepository) {
		now := time.Now().UTC()
		for _, orderID := range []string{"CV010", "CV011", "CV012"} {
			if err := repo.Create(newPendingRecord(orderID)); err != nil {
				t.Fatalf("create %s failed: %v", orderID, err)
			}
		}
		for _, orderID := range []string{"CV010", "CV011"} {
			if _, err := repo.TransitionStatus(orderID, constants.PaymentStatusPending, constants.PaymentStatusPaid, now); err != nil {
				t.Fatalf("transition %s failed: %v", orderID, err)
			}
		}
		if _, err := repo.MarkDelivered("CV011", now); err != nil {
			t.Fatalf("mark delivered failed: %v", err)
		}
		records, err := repo.ListUndelivered(10)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(records) != 1 || records[0].OrderID != "CV010" {
			t.Fatalf("unexpected undelivered records: %+v", records)
		}
	})
}
