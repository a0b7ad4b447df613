// Package engine holds the order execution state machine. All side effects
// go through injected collaborators so the transition logic stays testable
// and safe under trigger re-delivery.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/chronoswap/chronoswap/internal/escrow"
	"github.com/chronoswap/chronoswap/internal/types"
	"github.com/chronoswap/chronoswap/storage"
)

// Ledger moves assets in and out of the escrow account. Transfers are
// synchronous and report success or failure before the transition resumes.
type Ledger interface {
	Transfer(ctx context.Context, asset, to string, amount uint64) error
	TransferFrom(ctx context.Context, asset, from, to string, amount uint64) error
	Allowance(ctx context.Context, asset, owner string) (uint64, error)
}

// SwapRouter executes a swap on behalf of the escrow account, delivering
// the output to the recipient.
type SwapRouter interface {
	Swap(ctx context.Context, assetIn, assetOut string, amountIn, minAmountOut uint64, recipient string, deadline uint64) (uint64, error)
}

// Clock supplies the logical timestamp, monotonic across calls.
type Clock interface {
	Now() uint64
}

// Scheduler arms a future execution trigger for an order.
type Scheduler interface {
	Arm(ctx context.Context, orderID string, at uint64) error
}

// PauseState exposes the global pause flag.
type PauseState interface {
	Paused(ctx context.Context) (bool, error)
}

const (
	// SwapGracePeriod bounds how stale a swap quote may be before the
	// router rejects it, in seconds past the due time.
	SwapGracePeriod uint64 = 300

	// pauseRecheckInterval is how far a fire during a global pause pushes
	// itself into the future.
	pauseRecheckInterval uint64 = 60
)

// Outcome labels what a trigger fire did, for metrics and logs.
type Outcome string

const (
	OutcomePaused      Outcome = "paused"
	OutcomeNotFound    Outcome = "not_found"
	OutcomeInactive    Outcome = "inactive"
	OutcomeNotDue      Outcome = "not_due"
	OutcomeLostRace    Outcome = "lost_race"
	OutcomeRescheduled Outcome = "rescheduled"
	OutcomeCompleted   Outcome = "completed"
	OutcomeFailed      Outcome = "failed"
)

type Engine struct {
	store     storage.OrderStorage
	ledger    Ledger
	router    SwapRouter
	clock     Clock
	scheduler Scheduler
	pause     PauseState
	logger    *logrus.Logger
}

func New(
	store storage.OrderStorage,
	ledger Ledger,
	router SwapRouter,
	clock Clock,
	scheduler Scheduler,
	pause PauseState,
	logger *logrus.Logger,
) *Engine {
	return &Engine{
		store:     store,
		ledger:    ledger,
		router:    router,
		clock:     clock,
		scheduler: scheduler,
		pause:     pause,
		logger:    logger,
	}
}

// Execute processes one trigger fire for an order. Firing for a missing,
// terminal, or not-yet-due order is a tolerated no-op: triggers carry no
// cancellation primitive, so stray fires are expected under races and
// re-delivery. Every conditional here reads the persisted record, never an
// in-memory copy from a previous fire.
func (e *Engine) Execute(ctx context.Context, orderID string) (Outcome, error) {
	paused, err := e.pause.Paused(ctx)
	if err != nil {
		return "", fmt.Errorf("fail to read pause flag: %w", err)
	}
	now := e.clock.Now()
	if paused {
		if err := e.scheduler.Arm(ctx, orderID, now+pauseRecheckInterval); err != nil {
			return "", err
		}
		return OutcomePaused, nil
	}

	order, err := e.store.GetOrder(ctx, orderID)
	if errors.Is(err, types.ErrOrderNotFound) {
		e.logger.WithField("order_id", orderID).Info("trigger fired for unknown order")
		return OutcomeNotFound, nil
	}
	if err != nil {
		return "", err
	}

	if !order.Active {
		e.logger.WithFields(logrus.Fields{
			"order_id": order.ID,
			"status":   order.Status,
		}).Info("trigger fired for inactive order")
		return OutcomeInactive, nil
	}

	if now < order.NextExecutionTime {
		// Early or retried fire; keep the original schedule.
		if err := e.scheduler.Arm(ctx, order.ID, order.NextExecutionTime); err != nil {
			return "", err
		}
		return OutcomeNotDue, nil
	}

	prevExecuted := order.ExecutedOccurrences

	var execErr error
	switch order.Kind {
	case types.KindRecurringPayment:
		execErr = e.ledger.Transfer(ctx, order.AssetIn, order.AssetOut, order.AmountPerOccurrence)
	case types.KindDCA, types.KindLimit:
		_, execErr = e.router.Swap(ctx,
			order.AssetIn,
			order.AssetOut,
			order.AmountPerOccurrence,
			order.MinAmountOut,
			order.Owner,
			now+SwapGracePeriod,
		)
	default:
		execErr = fmt.Errorf("unknown order kind: %s", order.Kind)
	}

	if execErr != nil {
		return e.markFailed(ctx, order, prevExecuted, execErr)
	}

	order.ExecutedOccurrences++
	order.LastExecutionTime = now

	if order.Kind != types.KindLimit && order.ExecutedOccurrences < order.TotalOccurrences {
		order.NextExecutionTime = now + order.Interval
		ok, err := e.store.UpdateOrderGuarded(ctx, order, prevExecuted)
		if err != nil {
			return "", err
		}
		if !ok {
			e.logger.WithField("order_id", order.ID).Warn("write-back lost a concurrent transition")
			return OutcomeLostRace, nil
		}
		if err := e.scheduler.Arm(ctx, order.ID, order.NextExecutionTime); err != nil {
			return "", err
		}
		e.logger.WithFields(logrus.Fields{
			"order_id": order.ID,
			"executed": order.ExecutedOccurrences,
			"next_at":  order.NextExecutionTime,
		}).Info("order executed, next occurrence armed")
		return OutcomeRescheduled, nil
	}

	order.Active = false
	order.Status = types.StatusCompleted
	order.EscrowReleased = true
	ok, err := e.store.UpdateOrderGuarded(ctx, order, prevExecuted)
	if err != nil {
		return "", err
	}
	if !ok {
		e.logger.WithField("order_id", order.ID).Warn("write-back lost a concurrent transition")
		return OutcomeLostRace, nil
	}
	e.logger.WithFields(logrus.Fields{
		"order_id": order.ID,
		"executed": order.ExecutedOccurrences,
	}).Info("order completed")
	return OutcomeCompleted, nil
}

// markFailed deactivates the order and then tries to return the remaining
// escrow to the owner. The FAILED write commits first so a crash or a
// re-delivered trigger can never execute (or refund) twice; a refund that
// fails leaves escrow_released false for the wind-down sweep to pick up.
func (e *Engine) markFailed(ctx context.Context, order *types.ScheduledOrder, prevExecuted uint32, execErr error) (Outcome, error) {
	e.logger.WithError(execErr).WithFields(logrus.Fields{
		"order_id": order.ID,
		"kind":     order.Kind,
	}).Error("order execution failed, deactivating")

	order.Active = false
	order.Status = types.StatusFailed
	order.EscrowReleased = false

	ok, err := e.store.UpdateOrderGuarded(ctx, order, prevExecuted)
	if err != nil {
		return "", err
	}
	if !ok {
		e.logger.WithField("order_id", order.ID).Warn("failed transition lost a concurrent transition")
		return OutcomeLostRace, nil
	}

	refund, err := escrow.Refundable(order)
	if err != nil {
		e.logger.WithError(err).WithField("order_id", order.ID).Error("fail to compute refund")
		return OutcomeFailed, nil
	}
	if refund > 0 {
		if err := e.ledger.Transfer(ctx, order.AssetIn, order.Owner, refund); err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"order_id": order.ID,
				"refund":   refund,
			}).Error("refund transfer failed, escrow held for wind-down")
			return OutcomeFailed, nil
		}
	}

	order.EscrowReleased = true
	if err := e.store.UpdateOrder(ctx, order); err != nil {
		e.logger.WithError(err).WithField("order_id", order.ID).Error("fail to record escrow release")
	}
	return OutcomeFailed, nil
}
