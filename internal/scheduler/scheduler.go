package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/chronoswap/chronoswap/internal/tasks"
	"github.com/chronoswap/chronoswap/internal/types"
)

// Scheduler translates "this order must run again at time T" into a
// delayed task on the shared queue. Arming is idempotent: the task id is
// derived from (order, time), and the worker re-validates due time and
// liveness on every fire, so a duplicate or stray trigger is harmless.
type Scheduler struct {
	client *asynq.Client
	logger *logrus.Logger
}

func NewScheduler(client *asynq.Client, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		client: client,
		logger: logger,
	}
}

func (s *Scheduler) Arm(ctx context.Context, orderID string, at uint64) error {
	buf, err := json.Marshal(types.OrderTriggerEvent{OrderID: orderID})
	if err != nil {
		return fmt.Errorf("fail to marshal trigger event: %w", err)
	}

	_, err = s.client.EnqueueContext(ctx,
		asynq.NewTask(tasks.TypeOrderExecution, buf),
		asynq.ProcessAt(time.Unix(int64(at), 0)),
		asynq.MaxRetry(0),
		asynq.TaskID(fmt.Sprintf("%s:%s:%d", tasks.TypeOrderExecution, orderID, at)),
		asynq.Retention(10*time.Minute),
		asynq.Queue(tasks.QUEUE_NAME),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		s.logger.WithFields(logrus.Fields{
			"order_id": orderID,
			"at":       at,
		}).Debug("trigger already armed")
		return nil
	}
	if err != nil {
		return fmt.Errorf("fail to enqueue execution task: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"at":       at,
	}).Info("execution trigger armed")
	return nil
}
