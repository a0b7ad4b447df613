package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/chronoswap/chronoswap/common"
	"github.com/chronoswap/chronoswap/internal/engine"
	"github.com/chronoswap/chronoswap/internal/escrow"
	"github.com/chronoswap/chronoswap/internal/types"
	"github.com/chronoswap/chronoswap/storage"
)

const orderCacheTTL = 10 * time.Second

type Order interface {
	ScheduleDCA(ctx context.Context, req types.DCARequest) (*types.ScheduledOrder, error)
	ScheduleLimitOrder(ctx context.Context, req types.LimitOrderRequest) (*types.ScheduledOrder, error)
	ScheduleRecurringPayment(ctx context.Context, req types.RecurringPaymentRequest) (*types.ScheduledOrder, error)
	CancelOrder(ctx context.Context, orderID, caller string) (uint64, error)
	ExecuteNow(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (*types.ScheduledOrder, error)
	GetUserOrders(ctx context.Context, owner string) ([]string, error)
	SetPauseAll(ctx context.Context, caller string, paused bool) error
	EmergencyWindDown(ctx context.Context, caller string) (*WindDownReport, error)
}

var _ Order = (*OrderService)(nil)

// SharedState is the redis-backed state shared with the worker: the global
// pause flag plus short-lived read caches.
type SharedState interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, expiry time.Duration) error
	Delete(ctx context.Context, key string) error
	SetPaused(ctx context.Context, paused bool) error
	Paused(ctx context.Context) (bool, error)
}

// Reporter archives wind-down refund reports.
type Reporter interface {
	UploadReport(name string, data []byte) (string, error)
}

type OrderService struct {
	store         storage.OrderStorage
	ledger        engine.Ledger
	scheduler     engine.Scheduler
	clock         engine.Clock
	shared        SharedState
	reporter      Reporter
	escrowAccount string
	nativeAsset   string
	owners        map[string]bool
	logger        *logrus.Logger
}

func NewOrderService(
	store storage.OrderStorage,
	ledger engine.Ledger,
	sched engine.Scheduler,
	clock engine.Clock,
	shared SharedState,
	reporter Reporter,
	escrowAccount string,
	nativeAsset string,
	owners []string,
	logger *logrus.Logger,
) (*OrderService, error) {
	if store == nil {
		return nil, fmt.Errorf("order storage cannot be nil")
	}
	ownerSet := make(map[string]bool, len(owners))
	for _, o := range owners {
		ownerSet[o] = true
	}
	return &OrderService{
		store:         store,
		ledger:        ledger,
		scheduler:     sched,
		clock:         clock,
		shared:        shared,
		reporter:      reporter,
		escrowAccount: escrowAccount,
		nativeAsset:   nativeAsset,
		owners:        ownerSet,
		logger:        logger,
	}, nil
}

func (s *OrderService) ScheduleDCA(ctx context.Context, req types.DCARequest) (*types.ScheduledOrder, error) {
	if err := types.ValidateScheduleParams(types.KindDCA, req.AssetIn, req.AssetOut, req.AmountPerOccurrence, req.Interval); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	order := &types.ScheduledOrder{
		ID:                  uuid.NewString(),
		Owner:               req.Owner,
		AssetIn:             req.AssetIn,
		AssetOut:            req.AssetOut,
		AmountPerOccurrence: req.AmountPerOccurrence,
		MinAmountOut:        req.MinAmountOut,
		Kind:                types.KindDCA,
		NextExecutionTime:   now + req.Interval,
		Interval:            req.Interval,
		TotalOccurrences:    req.TotalOccurrences,
		Active:              true,
		Status:              types.StatusActive,
	}
	return s.createOrder(ctx, order, req.AttachedAmount)
}

func (s *OrderService) ScheduleLimitOrder(ctx context.Context, req types.LimitOrderRequest) (*types.ScheduledOrder, error) {
	if err := types.ValidateScheduleParams(types.KindLimit, req.AssetIn, req.AssetOut, req.AmountPerOccurrence, 0); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if req.ExecutionTime <= now {
		return nil, types.ErrExecutionTimeInPast
	}

	order := &types.ScheduledOrder{
		ID:                  uuid.NewString(),
		Owner:               req.Owner,
		AssetIn:             req.AssetIn,
		AssetOut:            req.AssetOut,
		AmountPerOccurrence: req.AmountPerOccurrence,
		MinAmountOut:        req.MinAmountOut,
		Kind:                types.KindLimit,
		NextExecutionTime:   req.ExecutionTime,
		Interval:            0,
		TotalOccurrences:    1,
		Active:              true,
		Status:              types.StatusActive,
	}
	return s.createOrder(ctx, order, req.AttachedAmount)
}

func (s *OrderService) ScheduleRecurringPayment(ctx context.Context, req types.RecurringPaymentRequest) (*types.ScheduledOrder, error) {
	if err := types.ValidateScheduleParams(types.KindRecurringPayment, req.Asset, req.Recipient, req.AmountPerOccurrence, req.Interval); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	order := &types.ScheduledOrder{
		ID:                  uuid.NewString(),
		Owner:               req.Owner,
		AssetIn:             req.Asset,
		AssetOut:            req.Recipient,
		AmountPerOccurrence: req.AmountPerOccurrence,
		MinAmountOut:        0,
		Kind:                types.KindRecurringPayment,
		NextExecutionTime:   now + req.Interval,
		Interval:            req.Interval,
		TotalOccurrences:    req.TotalOccurrences,
		Active:              true,
		Status:              types.StatusActive,
	}
	return s.createOrder(ctx, order, req.AttachedAmount)
}

// createOrder pulls the full multi-occurrence escrow up front, inserts the
// record and arms the first trigger. Escrow for every occurrence is taken
// at creation so no future execution depends on the owner's balance.
func (s *OrderService) createOrder(ctx context.Context, order *types.ScheduledOrder, attachedAmount uint64) (*types.ScheduledOrder, error) {
	required, err := escrow.Required(order.AmountPerOccurrence, order.TotalOccurrences)
	if err != nil {
		return nil, err
	}

	if order.AssetIn == s.nativeAsset {
		// Native escrow arrives with the creation call itself.
		if attachedAmount < required {
			return nil, fmt.Errorf("%w: need %d, attached %d", types.ErrInsufficientEscrow, required, attachedAmount)
		}
	} else {
		allowance, err := s.ledger.Allowance(ctx, order.AssetIn, order.Owner)
		if err != nil {
			return nil, fmt.Errorf("fail to check allowance: %w", err)
		}
		if allowance < required {
			return nil, fmt.Errorf("%w: need %d, approved %d", types.ErrInsufficientEscrow, required, allowance)
		}
		if err := s.ledger.TransferFrom(ctx, order.AssetIn, order.Owner, s.escrowAccount, required); err != nil {
			return nil, fmt.Errorf("fail to pull escrow: %w", err)
		}
	}

	if err := s.store.InsertOrder(ctx, order); err != nil {
		return nil, err
	}
	s.invalidateUserOrders(ctx, order.Owner)

	// Arming is fire-and-forget; a failed arm is recoverable through the
	// manual execute entry point.
	if err := s.scheduler.Arm(ctx, order.ID, order.NextExecutionTime); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("fail to arm first trigger")
	}

	s.logger.WithFields(logrus.Fields{
		"order_id": order.ID,
		"owner":    order.Owner,
		"kind":     order.Kind,
		"escrow":   required,
		"next_at":  order.NextExecutionTime,
	}).Info("order scheduled")
	return order, nil
}

// CancelOrder deactivates first and refunds second, so a trigger firing in
// the worker while the refund is in flight observes active=false and
// no-ops. A refund that fails leaves escrow_released=false for the
// wind-down sweep.
func (s *OrderService) CancelOrder(ctx context.Context, orderID, caller string) (uint64, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	if order.Owner != caller {
		return 0, types.ErrNotOwner
	}
	if !order.Active {
		return 0, types.ErrAlreadyInactive
	}

	refund, err := escrow.Refundable(order)
	if err != nil {
		return 0, err
	}

	prevExecuted := order.ExecutedOccurrences
	order.Active = false
	order.Status = types.StatusCancelled
	order.EscrowReleased = refund == 0

	ok, err := s.store.UpdateOrderGuarded(ctx, order, prevExecuted)
	if err != nil {
		return 0, err
	}
	if !ok {
		// An execution committed between our read and write.
		return 0, types.ErrAlreadyInactive
	}
	s.shared.Delete(ctx, common.OrderKey(order.ID))

	if refund > 0 {
		if err := s.ledger.Transfer(ctx, order.AssetIn, order.Owner, refund); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"order_id": order.ID,
				"refund":   refund,
			}).Error("cancel refund failed, escrow held for wind-down")
			return 0, fmt.Errorf("order cancelled but refund failed: %w", err)
		}
		order.EscrowReleased = true
		if err := s.store.UpdateOrder(ctx, order); err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Error("fail to record escrow release")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"order_id": order.ID,
		"refund":   refund,
	}).Info("order cancelled")
	return refund, nil
}

// ExecuteNow arms an immediate trigger for an existing active order.
func (s *OrderService) ExecuteNow(ctx context.Context, orderID string) error {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !order.Active {
		return types.ErrOrderInactive
	}
	return s.scheduler.Arm(ctx, orderID, s.clock.Now())
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*types.ScheduledOrder, error) {
	if cached, err := s.shared.Get(ctx, common.OrderKey(orderID)); err == nil && cached != "" {
		var order types.ScheduledOrder
		if err := json.Unmarshal([]byte(cached), &order); err == nil {
			return &order, nil
		}
	}

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if buf, err := json.Marshal(order); err == nil {
		if err := s.shared.Set(ctx, common.OrderKey(orderID), string(buf), orderCacheTTL); err != nil {
			s.logger.WithError(err).Debug("fail to cache order")
		}
	}
	return order, nil
}

func (s *OrderService) GetUserOrders(ctx context.Context, owner string) ([]string, error) {
	if cached, err := s.shared.Get(ctx, common.UserOrdersKey(owner)); err == nil && cached != "" {
		var ids []string
		if err := json.Unmarshal([]byte(cached), &ids); err == nil {
			return ids, nil
		}
	}

	ids, err := s.store.GetUserOrderIDs(ctx, owner)
	if err != nil {
		return nil, err
	}
	if buf, err := json.Marshal(ids); err == nil {
		if err := s.shared.Set(ctx, common.UserOrdersKey(owner), string(buf), orderCacheTTL); err != nil {
			s.logger.WithError(err).Debug("fail to cache user orders")
		}
	}
	return ids, nil
}

func (s *OrderService) invalidateUserOrders(ctx context.Context, owner string) {
	if err := s.shared.Delete(ctx, common.UserOrdersKey(owner)); err != nil {
		s.logger.WithError(err).Debug("fail to invalidate user orders cache")
	}
}

func (s *OrderService) SetPauseAll(ctx context.Context, caller string, paused bool) error {
	if !s.owners[caller] {
		return types.ErrOnlyOwner
	}
	if err := s.shared.SetPaused(ctx, paused); err != nil {
		return fmt.Errorf("fail to set pause flag: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"caller": caller,
		"paused": paused,
	}).Warn("global pause flag changed")
	return nil
}

type WindDownEntry struct {
	OrderID string `json:"order_id"`
	Owner   string `json:"owner"`
	Asset   string `json:"asset"`
	Refund  uint64 `json:"refund"`
	Error   string `json:"error,omitempty"`
}

type WindDownReport struct {
	Initiator string          `json:"initiator"`
	At        uint64          `json:"at"`
	Refunded  uint64          `json:"refunded_total"`
	Entries   []WindDownEntry `json:"entries"`
	ReportKey string          `json:"report_key,omitempty"`
}

// EmergencyWindDown refunds and deactivates every active order, and sweeps
// terminal orders whose earlier refund never went through. Individual
// transfer failures are recorded and skipped, never aborting the sweep.
func (s *OrderService) EmergencyWindDown(ctx context.Context, caller string) (*WindDownReport, error) {
	if !s.owners[caller] {
		return nil, types.ErrOnlyOwner
	}

	report := &WindDownReport{
		Initiator: caller,
		At:        s.clock.Now(),
	}

	active, err := s.store.GetActiveOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("fail to list active orders: %w", err)
	}
	for i := range active {
		s.windDownOrder(ctx, &active[i], true, report)
	}

	unreleased, err := s.store.GetUnreleasedOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("fail to list unreleased orders: %w", err)
	}
	for i := range unreleased {
		s.windDownOrder(ctx, &unreleased[i], false, report)
	}

	s.archiveReport(report)
	s.logger.WithFields(logrus.Fields{
		"caller":   caller,
		"orders":   len(report.Entries),
		"refunded": report.Refunded,
	}).Warn("emergency wind-down completed")
	return report, nil
}

func (s *OrderService) windDownOrder(ctx context.Context, order *types.ScheduledOrder, deactivate bool, report *WindDownReport) {
	entry := WindDownEntry{
		OrderID: order.ID,
		Owner:   order.Owner,
		Asset:   order.AssetIn,
	}
	defer func() { report.Entries = append(report.Entries, entry) }()

	refund, err := escrow.Refundable(order)
	if err != nil {
		entry.Error = err.Error()
		return
	}
	entry.Refund = refund

	if deactivate {
		prevExecuted := order.ExecutedOccurrences
		order.Active = false
		order.Status = types.StatusCancelled
		order.EscrowReleased = refund == 0
		ok, err := s.store.UpdateOrderGuarded(ctx, order, prevExecuted)
		if err != nil {
			entry.Error = err.Error()
			return
		}
		if !ok {
			entry.Error = "lost race with a concurrent transition"
			return
		}
		s.shared.Delete(ctx, common.OrderKey(order.ID))
	}

	if refund == 0 {
		return
	}
	if err := s.ledger.Transfer(ctx, order.AssetIn, order.Owner, refund); err != nil {
		entry.Error = err.Error()
		s.logger.WithError(err).WithField("order_id", order.ID).Error("wind-down refund failed")
		return
	}
	order.EscrowReleased = true
	if err := s.store.UpdateOrder(ctx, order); err != nil {
		entry.Error = err.Error()
		return
	}
	report.Refunded += refund
}

func (s *OrderService) archiveReport(report *WindDownReport) {
	if s.reporter == nil {
		return
	}
	buf, err := json.Marshal(report)
	if err != nil {
		s.logger.WithError(err).Error("fail to marshal wind-down report")
		return
	}
	key, err := s.reporter.UploadReport("winddown", buf)
	if err != nil {
		s.logger.WithError(err).Error("fail to archive wind-down report")
		return
	}
	report.ReportKey = key
}
