package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTabAutoCharge is the task type for the monthly tab settlement cycle.
	TaskTabAutoCharge = "tab:autocharge"
)

// AutoChargePayload parameterizes one settlement cycle run.
type AutoChargePayload struct {
	RequestedAt time.Time `json:"requested_at"`
	// Manual marks operator-triggered runs so they stand out in logs.
	Manual bool `json:"manual,omitempty"`
}

// NewAutoChargeTask constructs an Asynq task for one settlement cycle.
func NewAutoChargeTask(payload AutoChargePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTabAutoCharge, data), nil
}

// AutoChargeRunner runs one settlement cycle. Implemented by the billing
// service.
type AutoChargeRunner interface {
	Run(ctx context.Context) error
}

// NewAutoChargeHandler adapts the billing cycle to an Asynq handler.
func NewAutoChargeHandler(runner AutoChargeRunner, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload AutoChargePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		logger.Info("jobs: auto-charge cycle starting",
			slog.Bool("manual", payload.Manual))
		if err := runner.Run(ctx); err != nil {
			logger.Error("jobs: auto-charge cycle failed", slog.Any("error", err))
			return err
		}
		return nil
	}
}
