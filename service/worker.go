package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/chronoswap/chronoswap/internal/engine"
	"github.com/chronoswap/chronoswap/internal/types"
)

// WorkerService consumes scheduled execution tasks and drives the engine.
type WorkerService struct {
	engine   *engine.Engine
	sdClient *statsd.Client
	logger   *logrus.Logger
}

func NewWorker(eng *engine.Engine, sdClient *statsd.Client, logger *logrus.Logger) *WorkerService {
	return &WorkerService{
		engine:   eng,
		sdClient: sdClient,
		logger:   logger,
	}
}

func (s *WorkerService) incCounter(name string, tags []string) {
	if err := s.sdClient.Count(name, 1, tags, 1); err != nil {
		s.logger.Errorf("fail to count metric, err: %v", err)
	}
}

func (s *WorkerService) measureTime(name string, start time.Time, tags []string) {
	if err := s.sdClient.Timing(name, time.Since(start), tags, 1); err != nil {
		s.logger.Errorf("fail to measure time metric, err: %v", err)
	}
}

// HandleOrderExecution processes one trigger fire. The engine absorbs
// execution failures into the order's terminal state, so the task itself
// never retries; only payload and infrastructure errors surface here.
func (s *WorkerService) HandleOrderExecution(ctx context.Context, t *asynq.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer s.measureTime("worker.order.execute.latency", time.Now(), []string{})

	var event types.OrderTriggerEvent
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	s.incCounter("worker.order.execute", []string{})
	s.logger.WithFields(logrus.Fields{
		"order_id": event.OrderID,
	}).Info("order execution trigger")

	outcome, err := s.engine.Execute(ctx, event.OrderID)
	if err != nil {
		s.logger.Errorf("engine.Execute failed: %v", err)
		return fmt.Errorf("engine.Execute failed: %v: %w", err, asynq.SkipRetry)
	}

	s.incCounter("worker.order.outcome", []string{"outcome:" + string(outcome)})
	return nil
}
