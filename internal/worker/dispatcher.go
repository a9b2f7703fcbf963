package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	TaskTypeDance = "dance:generate"
	QueueDance    = "dance"
)

var ErrDispatcherStopped = errors.New("dispatcher stopped")

// QueueName is the asynq queue owned by one process. Job records live in
// process memory, so a task must be consumed by the instance that created it.
func QueueName(instance string) string {
	instance = strings.TrimSpace(instance)
	if instance == "" {
		return QueueDance
	}
	return QueueDance + ":" + instance
}

// JobRunner executes one job to a terminal state
type JobRunner interface {
	Run(ctx context.Context, jobID string) error
}

// DanceTaskPayload is the asynq payload of a generation task
type DanceTaskPayload struct {
	JobID string `json:"jobId"`
}

func NewDanceTask(jobID string) (*asynq.Task, error) {
	payload, err := json.Marshal(DanceTaskPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDance, payload), nil
}

// LocalDispatcher runs every job on its own goroutine inside the process.
// At most concurrency jobs execute at once; the rest stay queued.
type LocalDispatcher struct {
	runner JobRunner
	slots  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	// mu orders wg.Add in Dispatch against wg.Wait in Shutdown.
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewLocalDispatcher creates the in-process dispatcher. concurrency <= 0 means unlimited.
func NewLocalDispatcher(runner JobRunner, concurrency int, logger *zap.Logger) *LocalDispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &LocalDispatcher{
		runner: runner,
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
	if concurrency > 0 {
		d.slots = make(chan struct{}, concurrency)
	}
	return d
}

func (d *LocalDispatcher) Dispatch(ctx context.Context, jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrDispatcherStopped
	}
	d.wg.Add(1)
	go d.run(jobID)
	return nil
}

func (d *LocalDispatcher) run(jobID string) {
	defer d.wg.Done()
	log := d.logger.With(zap.String("job_id", jobID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("job goroutine panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	if d.slots != nil {
		select {
		case d.slots <- struct{}{}:
			defer func() { <-d.slots }()
		case <-d.ctx.Done():
			log.Warn("dispatcher stopped before job started")
			return
		}
	}

	if err := d.runner.Run(d.ctx, jobID); err != nil {
		log.Debug("job ended with error", zap.Error(err))
	}
}

// Shutdown waits for running jobs until ctx expires, then cancels them.
func (d *LocalDispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

// AsynqDispatcher enqueues jobs on Redis for the asynq worker server.
type AsynqDispatcher struct {
	client    *asynq.Client
	queue     string
	retention time.Duration
}

// NewAsynqDispatcher enqueues on queue, normally QueueName of this process.
func NewAsynqDispatcher(client *asynq.Client, queue string) *AsynqDispatcher {
	if queue == "" {
		queue = QueueDance
	}
	return &AsynqDispatcher{
		client:    client,
		queue:     queue,
		retention: time.Hour,
	}
}

// Dispatch enqueues the job once. The task id is the job id, so a job can
// never be queued twice, and failed tasks are never retried.
func (d *AsynqDispatcher) Dispatch(ctx context.Context, jobID string) error {
	task, err := NewDanceTask(jobID)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	_, err = d.client.EnqueueContext(ctx, task,
		asynq.Queue(d.queue),
		asynq.MaxRetry(0),
		asynq.TaskID(jobID),
		asynq.Retention(d.retention),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}
