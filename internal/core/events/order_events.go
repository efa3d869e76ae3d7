package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeOrderSettled   = "order.settled"
	EventTypeOrderCancelled = "order.cancelled"
)

// OrderSettledEvent fires exactly once per order, at the winning transition
// to paid. Trigger names which of webhook/poll/admin won.
type OrderSettledEvent struct {
	BaseEvent
	OrderNo  string `json:"order_no"`
	TradeNo  string `json:"trade_no"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Trigger  string `json:"trigger"`
	Operator string `json:"operator,omitempty"`
}

func NewOrderSettledEvent(orderNo, tradeNo, amount, currency, trigger, operator string) *OrderSettledEvent {
	return &OrderSettledEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeOrderSettled,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"order_no": orderNo,
				"trade_no": tradeNo,
				"amount":   amount,
				"currency": currency,
				"trigger":  trigger,
				"operator": operator,
			},
		},
		OrderNo:  orderNo,
		TradeNo:  tradeNo,
		Amount:   amount,
		Currency: currency,
		Trigger:  trigger,
		Operator: operator,
	}
}

type OrderCancelledEvent struct {
	BaseEvent
	OrderNo string `json:"order_no"`
	Reason  string `json:"reason"`
}

func NewOrderCancelledEvent(orderNo, reason string) *OrderCancelledEvent {
	return &OrderCancelledEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeOrderCancelled,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"order_no": orderNo,
				"reason":   reason,
			},
		},
		OrderNo: orderNo,
		Reason:  reason,
	}
}
