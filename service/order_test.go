package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chronoswap/chronoswap/internal/types"
)

type memStore struct {
	orders map[string]*types.ScheduledOrder
}

func newMemStore() *memStore {
	return &memStore{orders: make(map[string]*types.ScheduledOrder)}
}

func (s *memStore) Close() error { return nil }

func (s *memStore) InsertOrder(_ context.Context, order *types.ScheduledOrder) error {
	if _, ok := s.orders[order.ID]; ok {
		return types.ErrDuplicateOrderID
	}
	cp := *order
	s.orders[order.ID] = &cp
	return nil
}

func (s *memStore) GetOrder(_ context.Context, id string) (*types.ScheduledOrder, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrOrderNotFound, id)
	}
	cp := *o
	return &cp, nil
}

func (s *memStore) UpdateOrder(_ context.Context, order *types.ScheduledOrder) error {
	if _, ok := s.orders[order.ID]; !ok {
		return types.ErrOrderNotFound
	}
	cp := *order
	s.orders[order.ID] = &cp
	return nil
}

func (s *memStore) UpdateOrderGuarded(_ context.Context, order *types.ScheduledOrder, prevExecuted uint32) (bool, error) {
	cur, ok := s.orders[order.ID]
	if !ok || !cur.Active || cur.ExecutedOccurrences != prevExecuted {
		return false, nil
	}
	cp := *order
	s.orders[order.ID] = &cp
	return true, nil
}

func (s *memStore) GetUserOrderIDs(_ context.Context, owner string) ([]string, error) {
	var ids []string
	for id, o := range s.orders {
		if o.Owner == owner {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *memStore) GetActiveOrders(_ context.Context) ([]types.ScheduledOrder, error) {
	var out []types.ScheduledOrder
	for _, o := range s.orders {
		if o.Active {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *memStore) GetUnreleasedOrders(_ context.Context) ([]types.ScheduledOrder, error) {
	var out []types.ScheduledOrder
	for _, o := range s.orders {
		if !o.Active && !o.EscrowReleased {
			out = append(out, *o)
		}
	}
	return out, nil
}

type transferCall struct {
	asset  string
	to     string
	amount uint64
}

type fakeLedger struct {
	allowances   map[string]uint64
	transfers    []transferCall
	transferFrom []transferCall
	failAsset    string
}

func (l *fakeLedger) Transfer(_ context.Context, asset, to string, amount uint64) error {
	if asset == l.failAsset {
		return errors.New("ledger: transfer failed")
	}
	l.transfers = append(l.transfers, transferCall{asset, to, amount})
	return nil
}

func (l *fakeLedger) TransferFrom(_ context.Context, asset, from, to string, amount uint64) error {
	if asset == l.failAsset {
		return errors.New("ledger: transferFrom failed")
	}
	l.transferFrom = append(l.transferFrom, transferCall{asset, to, amount})
	return nil
}

func (l *fakeLedger) Allowance(_ context.Context, asset, owner string) (uint64, error) {
	return l.allowances[asset+":"+owner], nil
}

type fakeClock struct{ now uint64 }

func (c *fakeClock) Now() uint64 { return c.now }

type armCall struct {
	orderID string
	at      uint64
}

type fakeScheduler struct{ arms []armCall }

func (s *fakeScheduler) Arm(_ context.Context, orderID string, at uint64) error {
	s.arms = append(s.arms, armCall{orderID, at})
	return nil
}

type fakeShared struct {
	values map[string]string
	paused bool
}

func newFakeShared() *fakeShared {
	return &fakeShared{values: make(map[string]string)}
}

func (f *fakeShared) Get(_ context.Context, key string) (string, error) {
	v, ok := f.values[key]
	if !ok {
		return "", errors.New("redis: nil")
	}
	return v, nil
}

func (f *fakeShared) Set(_ context.Context, key, value string, _ time.Duration) error {
	f.values[key] = value
	return nil
}

func (f *fakeShared) Delete(_ context.Context, key string) error {
	delete(f.values, key)
	return nil
}

func (f *fakeShared) SetPaused(_ context.Context, paused bool) error {
	f.paused = paused
	return nil
}

func (f *fakeShared) Paused(_ context.Context) (bool, error) {
	return f.paused, nil
}

type fakeReporter struct{ uploads int }

func (r *fakeReporter) UploadReport(name string, data []byte) (string, error) {
	r.uploads++
	return "reports/" + name + ".json", nil
}

const (
	escrowAccount = "0xescrow"
	nativeAsset   = "0xnative"
	adminOwner    = "0xadmin"
)

type fixture struct {
	store     *memStore
	ledger    *fakeLedger
	clock     *fakeClock
	scheduler *fakeScheduler
	shared    *fakeShared
	reporter  *fakeReporter
	svc       *OrderService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     newMemStore(),
		ledger:    &fakeLedger{allowances: map[string]uint64{}},
		clock:     &fakeClock{now: 10_000},
		scheduler: &fakeScheduler{},
		shared:    newFakeShared(),
		reporter:  &fakeReporter{},
	}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	svc, err := NewOrderService(
		f.store, f.ledger, f.scheduler, f.clock, f.shared, f.reporter,
		escrowAccount, nativeAsset, []string{adminOwner}, logger,
	)
	if err != nil {
		t.Fatal(err)
	}
	f.svc = svc
	return f
}

func dcaRequest() types.DCARequest {
	return types.DCARequest{
		Owner:               "0xowner",
		AssetIn:             "0xaaa",
		AssetOut:            "0xbbb",
		AmountPerOccurrence: 100,
		MinAmountOut:        90,
		Interval:            3600,
		TotalOccurrences:    5,
	}
}

func TestScheduleDCA(t *testing.T) {
	f := newFixture(t)
	f.ledger.allowances["0xaaa:0xowner"] = 500

	order, err := f.svc.ScheduleDCA(context.Background(), dcaRequest())
	if err != nil {
		t.Fatalf("ScheduleDCA() error = %v", err)
	}

	if !order.Active || order.Status != types.StatusActive {
		t.Errorf("new order must be active, got active=%v status=%s", order.Active, order.Status)
	}
	if order.NextExecutionTime != 10_000+3600 {
		t.Errorf("next execution = %d, want %d", order.NextExecutionTime, 10_000+3600)
	}
	if len(f.ledger.transferFrom) != 1 {
		t.Fatalf("transferFrom calls = %d, want 1", len(f.ledger.transferFrom))
	}
	pull := f.ledger.transferFrom[0]
	if pull.to != escrowAccount || pull.amount != 500 {
		t.Errorf("escrow pull = %+v, want 500 to escrow account", pull)
	}
	if len(f.scheduler.arms) != 1 || f.scheduler.arms[0].at != order.NextExecutionTime {
		t.Errorf("arms = %v, want first trigger at %d", f.scheduler.arms, order.NextExecutionTime)
	}

	stored, err := f.store.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("order was not persisted: %v", err)
	}
	if stored.ExecutedOccurrences != 0 || stored.TotalOccurrences != 5 {
		t.Errorf("stored counters = %d/%d, want 0/5", stored.ExecutedOccurrences, stored.TotalOccurrences)
	}
}

func TestScheduleDCAValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*types.DCARequest)
		wantErr error
	}{
		{"zero amount", func(r *types.DCARequest) { r.AmountPerOccurrence = 0 }, types.ErrInvalidAmount},
		{"short interval", func(r *types.DCARequest) { r.Interval = 30 }, types.ErrIntervalTooShort},
		{"same asset", func(r *types.DCARequest) { r.AssetOut = r.AssetIn }, types.ErrSameAsset},
		{"escrow overflow", func(r *types.DCARequest) { r.AmountPerOccurrence = math.MaxUint64; r.TotalOccurrences = 2 }, types.ErrAmountOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := dcaRequest()
			tt.mutate(&req)

			_, err := f.svc.ScheduleDCA(context.Background(), req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ScheduleDCA() error = %v, want %v", err, tt.wantErr)
			}
			if len(f.store.orders) != 0 {
				t.Error("no order may be created on validation failure")
			}
			if len(f.ledger.transferFrom) != 0 {
				t.Error("no escrow may be pulled on validation failure")
			}
		})
	}
}

func TestScheduleDCAInsufficientAllowance(t *testing.T) {
	f := newFixture(t)
	f.ledger.allowances["0xaaa:0xowner"] = 499

	_, err := f.svc.ScheduleDCA(context.Background(), dcaRequest())
	if !errors.Is(err, types.ErrInsufficientEscrow) {
		t.Fatalf("ScheduleDCA() error = %v, want %v", err, types.ErrInsufficientEscrow)
	}
	if len(f.store.orders) != 0 || len(f.ledger.transferFrom) != 0 {
		t.Error("insufficient allowance must not create state or move funds")
	}
}

func TestScheduleDCANativeAsset(t *testing.T) {
	f := newFixture(t)
	req := dcaRequest()
	req.AssetIn = nativeAsset
	req.AttachedAmount = 499

	_, err := f.svc.ScheduleDCA(context.Background(), req)
	if !errors.Is(err, types.ErrInsufficientEscrow) {
		t.Fatalf("ScheduleDCA() error = %v, want %v", err, types.ErrInsufficientEscrow)
	}

	req.AttachedAmount = 500
	order, err := f.svc.ScheduleDCA(context.Background(), req)
	if err != nil {
		t.Fatalf("ScheduleDCA() error = %v", err)
	}
	if len(f.ledger.transferFrom) != 0 {
		t.Error("native escrow arrives with the call, no pull expected")
	}
	if order.AssetIn != nativeAsset {
		t.Errorf("asset in = %s, want native", order.AssetIn)
	}
}

func TestScheduleLimitOrder(t *testing.T) {
	f := newFixture(t)
	f.ledger.allowances["0xaaa:0xowner"] = 100

	order, err := f.svc.ScheduleLimitOrder(context.Background(), types.LimitOrderRequest{
		Owner:               "0xowner",
		AssetIn:             "0xaaa",
		AssetOut:            "0xbbb",
		AmountPerOccurrence: 100,
		MinAmountOut:        95,
		ExecutionTime:       20_000,
	})
	if err != nil {
		t.Fatalf("ScheduleLimitOrder() error = %v", err)
	}
	if order.TotalOccurrences != 1 || order.Interval != 0 {
		t.Errorf("limit order must be single-shot, got total=%d interval=%d", order.TotalOccurrences, order.Interval)
	}
	if order.NextExecutionTime != 20_000 {
		t.Errorf("next execution = %d, want 20000", order.NextExecutionTime)
	}
}

func TestScheduleLimitOrderInPast(t *testing.T) {
	f := newFixture(t)

	for _, executionTime := range []uint64{9_999, 10_000} {
		_, err := f.svc.ScheduleLimitOrder(context.Background(), types.LimitOrderRequest{
			Owner:               "0xowner",
			AssetIn:             "0xaaa",
			AssetOut:            "0xbbb",
			AmountPerOccurrence: 100,
			ExecutionTime:       executionTime,
		})
		if !errors.Is(err, types.ErrExecutionTimeInPast) {
			t.Errorf("executionTime=%d: error = %v, want %v", executionTime, err, types.ErrExecutionTimeInPast)
		}
	}
	if len(f.store.orders) != 0 {
		t.Error("no record may be created for a past execution time")
	}
}

func TestScheduleRecurringPayment(t *testing.T) {
	f := newFixture(t)
	f.ledger.allowances["0xaaa:0xowner"] = 1200

	order, err := f.svc.ScheduleRecurringPayment(context.Background(), types.RecurringPaymentRequest{
		Owner:               "0xowner",
		Asset:               "0xaaa",
		Recipient:           "0xrecipient",
		AmountPerOccurrence: 100,
		Interval:            86_400,
		TotalOccurrences:    12,
	})
	if err != nil {
		t.Fatalf("ScheduleRecurringPayment() error = %v", err)
	}
	if order.Kind != types.KindRecurringPayment {
		t.Errorf("kind = %s, want %s", order.Kind, types.KindRecurringPayment)
	}
	if order.AssetOut != "0xrecipient" {
		t.Errorf("asset out = %s, the recipient rides in the asset-out slot", order.AssetOut)
	}
	if order.MinAmountOut != 0 {
		t.Errorf("min amount out = %d, payments have no slippage floor", order.MinAmountOut)
	}
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t)
	f.ledger.allowances["0xaaa:0xowner"] = 500
	order, err := f.svc.ScheduleDCA(context.Background(), dcaRequest())
	if err != nil {
		t.Fatal(err)
	}

	// Two occurrences already executed.
	stored, _ := f.store.GetOrder(context.Background(), order.ID)
	stored.ExecutedOccurrences = 2
	if err := f.store.UpdateOrder(context.Background(), stored); err != nil {
		t.Fatal(err)
	}

	refund, err := f.svc.CancelOrder(context.Background(), order.ID, "0xowner")
	if err != nil {
		t.Fatalf("CancelOrder() error = %v", err)
	}
	if refund != 300 {
		t.Errorf("refund = %d, want 300", refund)
	}

	got, _ := f.store.GetOrder(context.Background(), order.ID)
	if got.Active || got.Status != types.StatusCancelled {
		t.Errorf("cancelled order: active=%v status=%s", got.Active, got.Status)
	}
	if !got.EscrowReleased {
		t.Error("escrow must be released after a successful cancel refund")
	}
	if len(f.ledger.transfers) != 1 || f.ledger.transfers[0].to != "0xowner" || f.ledger.transfers[0].amount != 300 {
		t.Errorf("refund transfer = %v, want 300 to owner", f.ledger.transfers)
	}

	// Cancelling again is a hard error.
	if _, err := f.svc.CancelOrder(context.Background(), order.ID, "0xowner"); !errors.Is(err, types.ErrAlreadyInactive) {
		t.Errorf("second cancel error = %v, want %v", err, types.ErrAlreadyInactive)
	}
}

func TestCancelOrderAuthorization(t *testing.T) {
	f := newFixture(t)
	f.ledger.allowances["0xaaa:0xowner"] = 500
	order, err := f.svc.ScheduleDCA(context.Background(), dcaRequest())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.CancelOrder(context.Background(), "missing", "0xowner"); !errors.Is(err, types.ErrOrderNotFound) {
		t.Errorf("cancel missing order error = %v, want %v", err, types.ErrOrderNotFound)
	}
	if _, err := f.svc.CancelOrder(context.Background(), order.ID, "0xsomeoneelse"); !errors.Is(err, types.ErrNotOwner) {
		t.Errorf("cancel by stranger error = %v, want %v", err, types.ErrNotOwner)
	}

	got, _ := f.store.GetOrder(context.Background(), order.ID)
	if !got.Active {
		t.Error("failed cancel attempts must not mutate the order")
	}
}

func TestCancelCompletedOrderIsRejected(t *testing.T) {
	f := newFixture(t)
	f.ledger.allowances["0xaaa:0xowner"] = 500
	order, err := f.svc.ScheduleDCA(context.Background(), dcaRequest())
	if err != nil {
		t.Fatal(err)
	}

	stored, _ := f.store.GetOrder(context.Background(), order.ID)
	stored.ExecutedOccurrences = 5
	stored.Active = false
	stored.Status = types.StatusCompleted
	stored.EscrowReleased = true
	if err := f.store.UpdateOrder(context.Background(), stored); err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.CancelOrder(context.Background(), order.ID, "0xowner"); !errors.Is(err, types.ErrAlreadyInactive) {
		t.Errorf("cancel completed order error = %v, want %v", err, types.ErrAlreadyInactive)
	}
	if len(f.ledger.transfers) != 0 {
		t.Error("a completed order holds no escrow to refund")
	}
}

func TestExecuteNow(t *testing.T) {
	f := newFixture(t)
	f.ledger.allowances["0xaaa:0xowner"] = 500
	order, err := f.svc.ScheduleDCA(context.Background(), dcaRequest())
	if err != nil {
		t.Fatal(err)
	}
	f.scheduler.arms = nil

	if err := f.svc.ExecuteNow(context.Background(), order.ID); err != nil {
		t.Fatalf("ExecuteNow() error = %v", err)
	}
	if len(f.scheduler.arms) != 1 || f.scheduler.arms[0].at != f.clock.now {
		t.Errorf("arms = %v, want immediate arm", f.scheduler.arms)
	}

	stored, _ := f.store.GetOrder(context.Background(), order.ID)
	stored.Active = false
	stored.Status = types.StatusCancelled
	if err := f.store.UpdateOrder(context.Background(), stored); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.ExecuteNow(context.Background(), order.ID); !errors.Is(err, types.ErrOrderInactive) {
		t.Errorf("ExecuteNow() on inactive order error = %v, want %v", err, types.ErrOrderInactive)
	}
}

func TestSetPauseAll(t *testing.T) {
	f := newFixture(t)

	if err := f.svc.SetPauseAll(context.Background(), "0xstranger", true); !errors.Is(err, types.ErrOnlyOwner) {
		t.Errorf("pause by stranger error = %v, want %v", err, types.ErrOnlyOwner)
	}
	if f.shared.paused {
		t.Error("unauthorized pause must not flip the flag")
	}

	if err := f.svc.SetPauseAll(context.Background(), adminOwner, true); err != nil {
		t.Fatalf("SetPauseAll() error = %v", err)
	}
	if !f.shared.paused {
		t.Error("pause flag not set")
	}

	if err := f.svc.SetPauseAll(context.Background(), adminOwner, false); err != nil {
		t.Fatalf("SetPauseAll() error = %v", err)
	}
	if f.shared.paused {
		t.Error("pause flag not cleared")
	}
}

func TestEmergencyWindDown(t *testing.T) {
	f := newFixture(t)
	f.ledger.allowances["0xaaa:0xowner"] = 500
	f.ledger.allowances["0xccc:0xowner"] = 600

	first, err := f.svc.ScheduleDCA(context.Background(), dcaRequest())
	if err != nil {
		t.Fatal(err)
	}
	secondReq := dcaRequest()
	secondReq.AssetIn = "0xccc"
	secondReq.AmountPerOccurrence = 200
	secondReq.TotalOccurrences = 3
	second, err := f.svc.ScheduleDCA(context.Background(), secondReq)
	if err != nil {
		t.Fatal(err)
	}

	// A failed order whose refund never went through.
	failed := &types.ScheduledOrder{
		ID:                  "failed-order",
		Owner:               "0xother",
		AssetIn:             "0xddd",
		AssetOut:            "0xbbb",
		AmountPerOccurrence: 50,
		Kind:                types.KindDCA,
		TotalOccurrences:    4,
		ExecutedOccurrences: 1,
		Active:              false,
		Status:              types.StatusFailed,
	}
	if err := f.store.InsertOrder(context.Background(), failed); err != nil {
		t.Fatal(err)
	}

	f.ledger.transfers = nil
	f.ledger.failAsset = "0xccc"

	report, err := f.svc.EmergencyWindDown(context.Background(), adminOwner)
	if err != nil {
		t.Fatalf("EmergencyWindDown() error = %v", err)
	}

	if len(report.Entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(report.Entries))
	}
	// 500 from the first order plus 150 from the failed sweep; the 0xccc
	// transfer failure must not abort the run.
	if report.Refunded != 650 {
		t.Errorf("refunded total = %d, want 650", report.Refunded)
	}

	gotFirst, _ := f.store.GetOrder(context.Background(), first.ID)
	if gotFirst.Active || !gotFirst.EscrowReleased {
		t.Errorf("first order: active=%v released=%v, want deactivated and released", gotFirst.Active, gotFirst.EscrowReleased)
	}
	gotSecond, _ := f.store.GetOrder(context.Background(), second.ID)
	if gotSecond.Active {
		t.Error("second order must be deactivated even though its refund failed")
	}
	if gotSecond.EscrowReleased {
		t.Error("second order escrow must stay held after a failed refund")
	}
	gotFailed, _ := f.store.GetOrder(context.Background(), "failed-order")
	if !gotFailed.EscrowReleased {
		t.Error("swept failed order must be marked released")
	}
	if gotFailed.Status != types.StatusFailed {
		t.Errorf("swept order status = %s, the sweep must not rewrite terminal status", gotFailed.Status)
	}

	if f.reporter.uploads != 1 {
		t.Errorf("report uploads = %d, want 1", f.reporter.uploads)
	}

	if _, err := f.svc.EmergencyWindDown(context.Background(), "0xstranger"); !errors.Is(err, types.ErrOnlyOwner) {
		t.Errorf("wind-down by stranger error = %v, want %v", err, types.ErrOnlyOwner)
	}
}

func TestGetUserOrders(t *testing.T) {
	f := newFixture(t)
	f.ledger.allowances["0xaaa:0xowner"] = 1000

	first, err := f.svc.ScheduleDCA(context.Background(), dcaRequest())
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.svc.ScheduleDCA(context.Background(), dcaRequest())
	if err != nil {
		t.Fatal(err)
	}

	ids, err := f.svc.GetUserOrders(context.Background(), "0xowner")
	if err != nil {
		t.Fatalf("GetUserOrders() error = %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ids = %v, want both orders", ids)
	}
	seen := map[string]bool{}
	for _, id := range ids {
		if seen[id] {
			t.Errorf("id %s listed twice", id)
		}
		seen[id] = true
	}
	if !seen[first.ID] || !seen[second.ID] {
		t.Errorf("ids = %v, missing created orders", ids)
	}

	// Cancellation keeps history.
	if _, err := f.svc.CancelOrder(context.Background(), first.ID, "0xowner"); err != nil {
		t.Fatal(err)
	}
	ids, err = f.svc.GetUserOrders(context.Background(), "0xowner")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Errorf("ids after cancel = %v, cancellation must not delete history", ids)
	}
}
