package repository

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cvlens-pay/internal/constants"
	"github.com/cvlens-pay/internal/models"

	"gorm.io/gorm"
)

var (
	// ErrDuplicateOrderID 订单号已存在
	ErrDuplicateOrderID = errors.New("payment record order id already exists")
	// ErrColumnNotUpdatable 状态与交付字段只能通过条件更新修改
	ErrColumnNotUpdatable = errors.New("payment record column cannot be updated directly")
)

// updatableColumns Update 允许直接写入的列
var updatableColumns = map[string]struct{}{
	"provider_request_id": {},
	"customer_name":       {},
	"customer_email":      {},
	"customer_phone":      {},
	"description":         {},
	"last_delivery_error": {},
	"analysis_data":       {},
	"provider_fields":     {},
	"updated_at":          {},
}

func checkUpdatableColumns(fields map[string]interface{}) error {
	for column := range fields {
		if _, ok := updatableColumns[column]; !ok {
			return fmt.Errorf("%w: %s", ErrColumnNotUpdatable, column)
		}
	}
	return nil
}

// PaymentRecordRepository 支付记录数据访问接口
type PaymentRecordRepository interface {
	Create(record *models.PaymentRecord) error
	GetByOrderID(orderID string) (*models.PaymentRecord, error)
	Update(orderID string, fields map[string]interface{}) (bool, error)
	TransitionStatus(orderID, from, to string, at time.Time) (bool, error)
	ClaimDelivery(orderID string, until, now time.Time) (bool, error)
	RenewDelivery(orderID string, until, now time.Time) (bool, error)
	ReleaseDelivery(orderID, errMsg string) error
	MarkDelivered(orderID string, at time.Time) (bool, error)
	ListUndelivered(limit int) ([]models.PaymentRecord, error)
}

// GormPaymentRecordRepository GORM 实现
type GormPaymentRecordRepository struct {
	db *gorm.DB
}

// NewPaymentRecordRepository 创建支付记录仓库
func NewPaymentRecordRepository(db *gorm.DB) *GormPaymentRecordRepository {
	return &GormPaymentRecordRepository{db: db}
}

// WithTx 绑定事务
func (r *GormPaymentRecordRepository) WithTx(tx *gorm.DB) *GormPaymentRecordRepository {
	if tx == nil {
		return r
	}
	return &GormPaymentRecordRepository{db: tx}
}

// Create 创建支付记录，订单号重复时返回 ErrDuplicateOrderID
func (r *GormPaymentRecordRepository) Create(record *models.PaymentRecord) error {
	if record == nil {
		return errors.New("payment record is nil")
	}
	var count int64
	if err := r.db.Model(&models.PaymentRecord{}).Where("order_id = ?", record.OrderID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicateOrderID
	}
	if err := r.db.Create(record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
			return ErrDuplicateOrderID
		}
		return err
	}
	return nil
}

// GetByOrderID 根据订单号获取支付记录，不存在时返回 nil, nil
func (r *GormPaymentRecordRepository) GetByOrderID(orderID string) (*models.PaymentRecord, error) {
	var record models.PaymentRecord
	if err := r.db.Where("order_id = ?", orderID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// Update 按列更新支付记录，状态与交付字段不允许直接修改
func (r *GormPaymentRecordRepository) Update(orderID string, fields map[string]interface{}) (bool, error) {
	if len(fields) == 0 {
		return false, nil
	}
	if err := checkUpdatableColumns(fields); err != nil {
		return false, err
	}
	result := r.db.Model(&models.PaymentRecord{}).
		Where("order_id = ?", orderID).
		Updates(fields)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// TransitionStatus 条件更新状态，只有当前状态等于 from 时才会生效
func (r *GormPaymentRecordRepository) TransitionStatus(orderID, from, to string, at time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": at.UTC(),
	}
	if to == constants.PaymentStatusPaid {
		updates["payment_confirmed_at"] = at.UTC()
	}
	result := r.db.Model(&models.PaymentRecord{}).
		Where("order_id = ? AND status = ?", orderID, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ClaimDelivery 抢占交付租约，已交付、未支付或租约未过期时返回 false
func (r *GormPaymentRecordRepository) ClaimDelivery(orderID string, until, now time.Time) (bool, error) {
	result := r.db.Model(&models.PaymentRecord{}).
		Where("order_id = ? AND status = ? AND delivered = ?", orderID, constants.PaymentStatusPaid, false).
		Where("(delivery_lock_until IS NULL OR delivery_lock_until < ?)", now.UTC()).
		Updates(map[string]interface{}{
			"delivery_lock_until": until.UTC(),
			"delivery_attempts":   gorm.Expr("delivery_attempts + 1"),
			"updated_at":          now.UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// RenewDelivery 延长进行中的交付租约，租约已释放或已交付时返回 false
func (r *GormPaymentRecordRepository) RenewDelivery(orderID string, until, now time.Time) (bool, error) {
	result := r.db.Model(&models.PaymentRecord{}).
		Where("order_id = ? AND status = ? AND delivered = ?", orderID, constants.PaymentStatusPaid, false).
		Where("delivery_lock_until IS NOT NULL").
		Updates(map[string]interface{}{
			"delivery_lock_until": until.UTC(),
			"updated_at":          now.UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ReleaseDelivery 释放交付租约并记录失败原因
func (r *GormPaymentRecordRepository) ReleaseDelivery(orderID, errMsg string) error {
	return r.db.Model(&models.PaymentRecord{}).
		Where("order_id = ? AND delivered = ?", orderID, false).
		Updates(map[string]interface{}{
			"delivery_lock_until": nil,
			"last_delivery_error": truncateDeliveryError(errMsg),
			"updated_at":          time.Now().UTC(),
		}).Error
}

// MarkDelivered 标记已交付，仅在已支付且未交付时生效
func (r *GormPaymentRecordRepository) MarkDelivered(orderID string, at time.Time) (bool, error) {
	result := r.db.Model(&models.PaymentRecord{}).
		Where("order_id = ? AND status = ? AND delivered = ?", orderID, constants.PaymentStatusPaid, false).
		Updates(map[string]interface{}{
			"delivered":           true,
			"delivered_at":        at.UTC(),
			"delivery_lock_until": nil,
			"last_delivery_error": "",
			"updated_at":          at.UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListUndelivered 列出已支付但未交付的记录
func (r *GormPaymentRecordRepository) ListUndelivered(limit int) ([]models.PaymentRecord, error) {
	query := r.db.Model(&models.PaymentRecord{}).
		Where("status = ? AND delivered = ?", constants.PaymentStatusPaid, false).
		Order("id asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var records []models.PaymentRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "sqlstate 23505")
}

const maxDeliveryErrorLength = 1000

func truncateDeliveryError(msg string) string {
	msg = strings.TrimSpace(msg)
	runes := []rune(msg)
	if len(runes) <= maxDeliveryErrorLength {
		return msg
	}
	return string(runes[:maxDeliveryErrorLength])
}
