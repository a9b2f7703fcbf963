package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// DanceWorker processes generation tasks delivered by asynq
type DanceWorker struct {
	runner JobRunner
	logger *zap.Logger
}

func NewDanceWorker(runner JobRunner, logger *zap.Logger) *DanceWorker {
	return &DanceWorker{
		runner: runner,
		logger: logger,
	}
}

// ProcessTask runs the job named in the task. The job record already holds
// the outcome, so errors are returned with asynq.SkipRetry.
func (w *DanceWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload DanceTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		return fmt.Errorf("task without job id: %w", asynq.SkipRetry)
	}

	log := w.logger.With(zap.String("job_id", payload.JobID))
	log.Info("starting dance job")

	if err := w.runner.Run(ctx, payload.JobID); err != nil {
		log.Warn("dance job did not complete", zap.Error(err))
		return fmt.Errorf("dance job %s: %v: %w", payload.JobID, err, asynq.SkipRetry)
	}
	return nil
}
