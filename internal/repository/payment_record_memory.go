package repository

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cvlens-pay/internal/constants"
	"github.com/cvlens-pay/internal/models"
)

// MemoryPaymentRecordRepository 内存实现，语义与 GORM 实现一致，进程重启后数据丢失
type MemoryPaymentRecordRepository struct {
	mu      sync.Mutex
	nextID  uint
	records map[string]*models.PaymentRecord
}

// NewMemoryPaymentRecordRepository 创建内存支付记录仓库
func NewMemoryPaymentRecordRepository() *MemoryPaymentRecordRepository {
	return &MemoryPaymentRecordRepository{
		records: make(map[string]*models.PaymentRecord),
	}
}

// Create 创建支付记录
func (r *MemoryPaymentRecordRepository) Create(record *models.PaymentRecord) error {
	if record == nil {
		return errors.New("payment record is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[record.OrderID]; exists {
		return ErrDuplicateOrderID
	}
	now := time.Now().UTC()
	r.nextID++
	record.ID = r.nextID
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}
	r.records[record.OrderID] = cloneRecord(record)
	return nil
}

// GetByOrderID 根据订单号获取支付记录
func (r *MemoryPaymentRecordRepository) GetByOrderID(orderID string) (*models.PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[orderID]
	if !ok {
		return nil, nil
	}
	return cloneRecord(record), nil
}

// Update 按列更新支付记录
func (r *MemoryPaymentRecordRepository) Update(orderID string, fields map[string]interface{}) (bool, error) {
	if len(fields) == 0 {
		return false, nil
	}
	if err := checkUpdatableColumns(fields); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[orderID]
	if !ok {
		return false, nil
	}
	updated := cloneRecord(record)
	for column, value := range fields {
		if err := applyColumn(updated, column, value); err != nil {
			return false, err
		}
	}
	if _, ok := fields["updated_at"]; !ok {
		updated.UpdatedAt = time.Now().UTC()
	}
	r.records[orderID] = updated
	return true, nil
}

// TransitionStatus 条件更新状态
func (r *MemoryPaymentRecordRepository) TransitionStatus(orderID, from, to string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[orderID]
	if !ok || record.Status != from {
		return false, nil
	}
	at = at.UTC()
	record.Status = to
	record.UpdatedAt = at
	if to == constants.PaymentStatusPaid {
		record.PaymentConfirmedAt = &at
	}
	return true, nil
}

// ClaimDelivery 抢占交付租约
func (r *MemoryPaymentRecordRepository) ClaimDelivery(orderID string, until, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[orderID]
	if !ok || record.Status != constants.PaymentStatusPaid || record.Delivered {
		return false, nil
	}
	if record.DeliveryLockUntil != nil && !record.DeliveryLockUntil.Before(now) {
		return false, nil
	}
	until = until.UTC()
	record.DeliveryLockUntil = &until
	record.DeliveryAttempts++
	record.UpdatedAt = now.UTC()
	return true, nil
}

// RenewDelivery 延长进行中的交付租约
func (r *MemoryPaymentRecordRepository) RenewDelivery(orderID string, until, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[orderID]
	if !ok || record.Status != constants.PaymentStatusPaid || record.Delivered || record.DeliveryLockUntil == nil {
		return false, nil
	}
	until = until.UTC()
	record.DeliveryLockUntil = &until
	record.UpdatedAt = now.UTC()
	return true, nil
}

// ReleaseDelivery 释放交付租约
func (r *MemoryPaymentRecordRepository) ReleaseDelivery(orderID, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[orderID]
	if !ok || record.Delivered {
		return nil
	}
	record.DeliveryLockUntil = nil
	record.LastDeliveryError = truncateDeliveryError(errMsg)
	record.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkDelivered 标记已交付
func (r *MemoryPaymentRecordRepository) MarkDelivered(orderID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[orderID]
	if !ok || record.Status != constants.PaymentStatusPaid || record.Delivered {
		return false, nil
	}
	at = at.UTC()
	record.Delivered = true
	record.DeliveredAt = &at
	record.DeliveryLockUntil = nil
	record.LastDeliveryError = ""
	record.UpdatedAt = at
	return true, nil
}

// ListUndelivered 列出已支付但未交付的记录
func (r *MemoryPaymentRecordRepository) ListUndelivered(limit int) ([]models.PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]models.PaymentRecord, 0)
	for _, record := range r.records {
		if record.Status == constants.PaymentStatusPaid && !record.Delivered {
			result = append(result, *cloneRecord(record))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func cloneRecord(record *models.PaymentRecord) *models.PaymentRecord {
	copied := *record
	copied.AnalysisData = record.AnalysisData.Clone()
	copied.ProviderFields = record.ProviderFields.Clone()
	copied.DeliveryLockUntil = cloneTime(record.DeliveryLockUntil)
	copied.PaymentConfirmedAt = cloneTime(record.PaymentConfirmedAt)
	copied.DeliveredAt = cloneTime(record.DeliveredAt)
	return &copied
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func applyColumn(record *models.PaymentRecord, column string, value interface{}) error {
	switch column {
	case "provider_request_id":
		return assignString(&record.ProviderRequestID, column, value)
	case "customer_name":
		return assignString(&record.CustomerName, column, value)
	case "customer_email":
		return assignString(&record.CustomerEmail, column, value)
	case "customer_phone":
		return assignString(&record.CustomerPhone, column, value)
	case "description":
		return assignString(&record.Description, column, value)
	case "last_delivery_error":
		return assignString(&record.LastDeliveryError, column, value)
	case "analysis_data", "provider_fields":
		var data models.JSON
		switch v := value.(type) {
		case nil:
		case models.JSON:
			data = v.Clone()
		case map[string]interface{}:
			data = models.JSON(v).Clone()
		default:
			return fmt.Errorf("unsupported value type %T for column %s", value, column)
		}
		if column == "analysis_data" {
			record.AnalysisData = data
		} else {
			record.ProviderFields = data
		}
		return nil
	case "updated_at":
		at, ok := value.(time.Time)
		if !ok {
			return fmt.Errorf("unsupported value type %T for column %s", value, column)
		}
		record.UpdatedAt = at.UTC()
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrColumnNotUpdatable, column)
	}
}

func assignString(target *string, column string, value interface{}) error {
	v, ok := value.(string)
	if !ok {
		return fmt.Errorf("unsupported value type %T for column %s", value, column)
	}
	*target = v
	return nil
}
