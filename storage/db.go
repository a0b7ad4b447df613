package storage

import (
	"context"

	"github.com/chronoswap/chronoswap/internal/types"
)

// OrderStorage is the authoritative store of scheduled orders. Records are
// never deleted; terminal transitions only flip the active flag.
type OrderStorage interface {
	Close() error

	InsertOrder(ctx context.Context, order *types.ScheduledOrder) error
	GetOrder(ctx context.Context, id string) (*types.ScheduledOrder, error)
	UpdateOrder(ctx context.Context, order *types.ScheduledOrder) error

	// UpdateOrderGuarded writes the full record only if the persisted row
	// is still active with the given occurrence count. Returns false when
	// another transition already advanced the row.
	UpdateOrderGuarded(ctx context.Context, order *types.ScheduledOrder, prevExecuted uint32) (bool, error)

	GetUserOrderIDs(ctx context.Context, owner string) ([]string, error)
	GetActiveOrders(ctx context.Context) ([]types.ScheduledOrder, error)

	// GetUnreleasedOrders returns terminal orders that still hold escrow,
	// i.e. FAILED orders whose refund transfer did not go through.
	GetUnreleasedOrders(ctx context.Context) ([]types.ScheduledOrder, error)
}
