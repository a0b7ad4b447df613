package types

import (
	"time"
)

type OrderKind string

const (
	KindDCA              OrderKind = "DCA"
	KindLimit            OrderKind = "LIMIT"
	KindRecurringPayment OrderKind = "RECURRING_PAYMENT"
)

type OrderStatus string

const (
	StatusActive    OrderStatus = "ACTIVE"
	StatusCompleted OrderStatus = "COMPLETED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusFailed    OrderStatus = "FAILED"
)

// ScheduledOrder is the persisted order record. For RECURRING_PAYMENT
// orders AssetOut carries the recipient account instead of an asset id.
type ScheduledOrder struct {
	ID                  string      `json:"id"`
	Owner               string      `json:"owner"`
	AssetIn             string      `json:"asset_in"`
	AssetOut            string      `json:"asset_out"`
	AmountPerOccurrence uint64      `json:"amount_per_occurrence"`
	MinAmountOut        uint64      `json:"min_amount_out"`
	Kind                OrderKind   `json:"kind"`
	NextExecutionTime   uint64      `json:"next_execution_time"`
	Interval            uint64      `json:"interval"`
	TotalOccurrences    uint32      `json:"total_occurrences"`
	ExecutedOccurrences uint32      `json:"executed_occurrences"`
	Active              bool        `json:"active"`
	Status              OrderStatus `json:"status"`
	LastExecutionTime   uint64      `json:"last_execution_time"`
	EscrowReleased      bool        `json:"escrow_released"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

func (o *ScheduledOrder) RemainingOccurrences() uint32 {
	if o.ExecutedOccurrences >= o.TotalOccurrences {
		return 0
	}
	return o.TotalOccurrences - o.ExecutedOccurrences
}

// OrderTriggerEvent is the payload of a scheduled execution task.
type OrderTriggerEvent struct {
	OrderID string `json:"order_id"`
}

// Creation requests are typed per kind rather than carrying a free-form
// config blob.

type DCARequest struct {
	Owner               string `json:"owner" validate:"required"`
	AssetIn             string `json:"asset_in" validate:"required"`
	AssetOut            string `json:"asset_out" validate:"required"`
	AmountPerOccurrence uint64 `json:"amount_per_occurrence" validate:"required"`
	MinAmountOut        uint64 `json:"min_amount_out"`
	Interval            uint64 `json:"interval" validate:"required"`
	TotalOccurrences    uint32 `json:"total_occurrences" validate:"required,min=1"`
	AttachedAmount      uint64 `json:"attached_amount"`
}

type LimitOrderRequest struct {
	Owner               string `json:"owner" validate:"required"`
	AssetIn             string `json:"asset_in" validate:"required"`
	AssetOut            string `json:"asset_out" validate:"required"`
	AmountPerOccurrence uint64 `json:"amount_per_occurrence" validate:"required"`
	MinAmountOut        uint64 `json:"min_amount_out"`
	ExecutionTime       uint64 `json:"execution_time" validate:"required"`
	AttachedAmount      uint64 `json:"attached_amount"`
}

type RecurringPaymentRequest struct {
	Owner               string `json:"owner" validate:"required"`
	Asset               string `json:"asset" validate:"required"`
	Recipient           string `json:"recipient" validate:"required"`
	AmountPerOccurrence uint64 `json:"amount_per_occurrence" validate:"required"`
	Interval            uint64 `json:"interval" validate:"required"`
	TotalOccurrences    uint32 `json:"total_occurrences" validate:"required,min=1"`
	AttachedAmount      uint64 `json:"attached_amount"`
}
