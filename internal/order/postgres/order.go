package postgres

import (
	"strings"
	"time"

	"gorm.io/gorm"

	ordermodel "github.com/credmart/credmart/internal/core/datamodel/order"
	"github.com/credmart/credmart/internal/order"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(o *ordermodel.Order) error {
	if err := r.db.Create(o).Error; err != nil {
		if isDuplicateKey(err) {
			return order.ErrDuplicateOrderNo
		}
		return err
	}
	return nil
}

func (r *OrderRepository) GetByOrderNo(orderNo string) (*ordermodel.Order, error) {
	var o ordermodel.Order
	if err := r.db.Where("order_no = ?", orderNo).First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) GetByUserID(userID int64) ([]*ordermodel.Order, error) {
	var orders []*ordermodel.Order
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&orders).Error
	return orders, err
}

func (r *OrderRepository) List(offset, limit int) ([]*ordermodel.Order, error) {
	var orders []*ordermodel.Order
	err := r.db.Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *OrderRepository) UpdateStatus(orderNo, status string) error {
	return r.db.Model(&ordermodel.Order{}).
		Where("order_no = ?", orderNo).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		}).Error
}

// Settle is the single-row compare-and-set behind every settlement trigger.
// The WHERE clause on payment_status makes losing the race a zero-row update,
// not an error.
func (r *OrderRepository) Settle(orderNo string, s order.Settlement) (bool, error) {
	updates := map[string]interface{}{
		"payment_status": ordermodel.PaymentStatusPaid,
		"status":         ordermodel.StatusPaid,
		"paid_at":        s.PaidAt,
		"updated_at":     time.Now(),
	}
	if s.TradeNo != "" {
		updates["trade_no"] = s.TradeNo
	}
	if details := order.MarshalDetails(s.Details); details != nil {
		updates["payment_details"] = details
	}

	tx := r.db.Model(&ordermodel.Order{}).
		Where("order_no = ? AND payment_status <> ?", orderNo, ordermodel.PaymentStatusPaid).
		Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *OrderRepository) ListStalePending(createdBefore time.Time, limit int) ([]*ordermodel.Order, error) {
	var orders []*ordermodel.Order
	err := r.db.Where("payment_status = ? AND status <> ? AND created_at < ?",
		ordermodel.PaymentStatusPending, ordermodel.StatusCancelled, createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

// ClaimNotification flips the delivery flag on a paid, undelivered order.
// Only the claimant that sees RowsAffected == 1 may send.
func (r *OrderRepository) ClaimNotification(orderNo string) (bool, error) {
	tx := r.db.Model(&ordermodel.Order{}).
		Where("order_no = ? AND payment_status = ? AND notified = ?",
			orderNo, ordermodel.PaymentStatusPaid, false).
		Updates(map[string]interface{}{
			"notified":   true,
			"updated_at": time.Now(),
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *OrderRepository) ReleaseNotification(orderNo string, reason string, nextAttempt time.Time) error {
	return r.db.Model(&ordermodel.Order{}).
		Where("order_no = ?", orderNo).
		Updates(map[string]interface{}{
			"notified":          false,
			"notify_attempts":   gorm.Expr("notify_attempts + 1"),
			"last_notify_error": reason,
			"next_notify_at":    nextAttempt,
			"updated_at":        time.Now(),
		}).Error
}

func (r *OrderRepository) ListNotifyDue(now time.Time, maxAttempts, limit int) ([]*ordermodel.Order, error) {
	var orders []*ordermodel.Order
	err := r.db.Where(
		"payment_status = ? AND notified = ? AND notify_attempts < ? AND (next_notify_at IS NULL OR next_notify_at <= ?)",
		ordermodel.PaymentStatusPaid, false, maxAttempts, now).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func isDuplicateKey(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
