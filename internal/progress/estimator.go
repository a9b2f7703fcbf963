// Package progress produces estimated progress for phases whose real
// completion cannot be observed, such as the motion model invocation.
package progress

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/dancegen/api/internal/model"
	"github.com/dancegen/api/internal/registry"
)

// DefaultTick is how often an estimation writes into the registry.
const DefaultTick = 2 * time.Second

// Estimator launches background estimations against a job registry.
type Estimator struct {
	reg    registry.Mutator
	tick   time.Duration
	logger *zap.Logger
}

func NewEstimator(reg registry.Mutator, tick time.Duration, logger *zap.Logger) *Estimator {
	if tick <= 0 {
		tick = DefaultTick
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Estimator{
		reg:    reg,
		tick:   tick,
		logger: logger,
	}
}

// Handle controls one running estimation.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the estimation and waits until it can no longer write.
func (h *Handle) Stop() {
	h.cancel()
	<-h.done
}

// Done is closed once the estimation goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Estimate linearly interpolates between from and to over duration.
func Estimate(from, to int, elapsed, duration time.Duration) int {
	if duration <= 0 || elapsed >= duration {
		return to
	}
	if elapsed <= 0 {
		return from
	}
	fraction := float64(elapsed) / float64(duration)
	return from + int(float64(to-from)*fraction)
}

// Start begins estimating progress for jobID from `from` to `to` over the
// expected duration. The estimation ends on its own when the duration has
// elapsed, when the job no longer exists, when the job has left processing, or
// when the recorded progress already reached `to`.
func (e *Estimator) Start(jobID string, from, to int, duration time.Duration) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	if to <= from {
		close(h.done)
		return h
	}

	go func() {
		defer close(h.done)
		e.run(ctx, jobID, from, to, duration)
	}()
	return h
}

func (e *Estimator) run(ctx context.Context, jobID string, from, to int, duration time.Duration) {
	log := e.logger.With(zap.String("job_id", jobID), zap.Int("from", from), zap.Int("to", to))
	start := time.Now()
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("progress estimation stopped")
			return
		case <-ticker.C:
		}

		elapsed := time.Since(start)
		current := Estimate(from, to, elapsed, duration)

		stop, err := e.advance(jobID, current, to)
		if err != nil {
			if errors.Is(err, registry.ErrJobNotFound) {
				log.Debug("job removed, ending progress estimation")
			} else {
				log.Warn("progress estimation write failed", zap.Error(err))
			}
			return
		}
		if stop {
			log.Debug("job moved past estimated phase")
			return
		}
		if elapsed >= duration {
			return
		}
	}
}

// advance writes current into the job when it is still inside the estimated
// range. The check and the write happen in one registry mutation, so a phase
// that finished early can never be overwritten.
func (e *Estimator) advance(jobID string, current, to int) (bool, error) {
	stop := false
	_, err := e.reg.Mutate(jobID, func(j *model.Job) error {
		if j.Status != model.JobStatusProcessing || j.Progress >= to {
			stop = true
			return registry.ErrNoChange
		}
		if current > to {
			current = to
		}
		if current <= j.Progress {
			return registry.ErrNoChange
		}
		j.Progress = current
		return nil
	})
	return stop, err
}
