// Package memory is an in-process order store for development and tests. It
// honors the same compare-and-set contract as the durable store.
package memory

import (
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	ordermodel "github.com/credmart/credmart/internal/core/datamodel/order"
	"github.com/credmart/credmart/internal/order"
)

type OrderStore struct {
	mu     sync.Mutex
	orders map[string]*ordermodel.Order
	nextID int64
}

func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[string]*ordermodel.Order)}
}

func (s *OrderStore) Create(o *ordermodel.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[o.OrderNo]; exists {
		return order.ErrDuplicateOrderNo
	}
	s.nextID++
	o.ID = s.nextID
	now := time.Now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	stored := *o
	s.orders[o.OrderNo] = &stored
	return nil
}

func (s *OrderStore) GetByOrderNo(orderNo string) (*ordermodel.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderNo]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *o
	return &copied, nil
}

func (s *OrderStore) GetByUserID(userID int64) ([]*ordermodel.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var orders []*ordermodel.Order
	for _, o := range s.orders {
		if o.UserID != nil && *o.UserID == userID {
			copied := *o
			orders = append(orders, &copied)
		}
	}
	sortNewestFirst(orders)
	return orders, nil
}

func (s *OrderStore) List(offset, limit int) ([]*ordermodel.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	orders := make([]*ordermodel.Order, 0, len(s.orders))
	for _, o := range s.orders {
		copied := *o
		orders = append(orders, &copied)
	}
	sortNewestFirst(orders)

	if offset >= len(orders) {
		return nil, nil
	}
	end := offset + limit
	if end > len(orders) {
		end = len(orders)
	}
	return orders[offset:end], nil
}

func (s *OrderStore) UpdateStatus(orderNo, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderNo]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	o.Status = status
	o.UpdatedAt = time.Now()
	return nil
}

func (s *OrderStore) Settle(orderNo string, st order.Settlement) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderNo]
	if !ok {
		return false, gorm.ErrRecordNotFound
	}
	if o.PaymentStatus == ordermodel.PaymentStatusPaid {
		return false, nil
	}

	o.PaymentStatus = ordermodel.PaymentStatusPaid
	o.Status = ordermodel.StatusPaid
	paidAt := st.PaidAt
	o.PaidAt = &paidAt
	if st.TradeNo != "" {
		o.TradeNo = st.TradeNo
	}
	if details := order.MarshalDetails(st.Details); details != nil {
		o.PaymentDetails = details
	}
	o.UpdatedAt = time.Now()
	return true, nil
}

func (s *OrderStore) ListStalePending(createdBefore time.Time, limit int) ([]*ordermodel.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var orders []*ordermodel.Order
	for _, o := range s.orders {
		if o.PaymentStatus == ordermodel.PaymentStatusPending &&
			o.Status != ordermodel.StatusCancelled &&
			o.CreatedAt.Before(createdBefore) {
			copied := *o
			orders = append(orders, &copied)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	if len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (s *OrderStore) ClaimNotification(orderNo string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderNo]
	if !ok {
		return false, gorm.ErrRecordNotFound
	}
	if o.PaymentStatus != ordermodel.PaymentStatusPaid || o.Notified {
		return false, nil
	}
	o.Notified = true
	o.UpdatedAt = time.Now()
	return true, nil
}

func (s *OrderStore) ReleaseNotification(orderNo string, reason string, nextAttempt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderNo]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	o.Notified = false
	o.NotifyAttempts++
	o.LastNotifyError = &reason
	next := nextAttempt
	o.NextNotifyAt = &next
	o.UpdatedAt = time.Now()
	return nil
}

func (s *OrderStore) ListNotifyDue(now time.Time, maxAttempts, limit int) ([]*ordermodel.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var orders []*ordermodel.Order
	for _, o := range s.orders {
		if o.PaymentStatus != ordermodel.PaymentStatusPaid || o.Notified {
			continue
		}
		if o.NotifyAttempts >= maxAttempts {
			continue
		}
		if o.NextNotifyAt != nil && o.NextNotifyAt.After(now) {
			continue
		}
		copied := *o
		orders = append(orders, &copied)
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	if len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func sortNewestFirst(orders []*ordermodel.Order) {
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}
