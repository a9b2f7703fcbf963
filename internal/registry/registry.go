// Package registry keeps the in-memory record of every dance generation job.
//
// The registry is the single source of truth for status queries. Mutations are
// applied to a private copy, checked against the job invariants and swapped in
// under the write lock, so a reader always observes a complete snapshot.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dancegen/api/internal/model"
)

var (
	ErrJobNotFound        = errors.New("job not found")
	ErrAlreadyClaimed     = errors.New("job already claimed")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrProgressRegression = errors.New("progress cannot decrease")
	ErrInvariant          = errors.New("job invariant violated")

	// ErrNoChange may be returned by a mutation func to leave the job untouched.
	ErrNoChange = errors.New("no change")
)

// Event is delivered to sinks after every committed change.
type Event struct {
	Job     model.Job
	Deleted bool
}

// Sink observes committed changes. Publish is called with the registry lock
// held and must not block.
type Sink interface {
	Publish(Event)
}

// Mutator is the write side used by the orchestrator and the progress estimator.
type Mutator interface {
	Get(id string) (model.Job, error)
	Mutate(id string, fn func(*model.Job) error) (model.Job, error)
}

type Option func(*Registry)

// WithSink registers an observer for committed changes.
func WithSink(s Sink) Option {
	return func(r *Registry) {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

type Registry struct {
	mu    sync.RWMutex
	jobs  map[string]*model.Job
	sinks []Sink
	now   func() time.Time
}

func New(opts ...Option) *Registry {
	r := &Registry{
		jobs: make(map[string]*model.Job),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create registers a new queued job for the given upload.
func (r *Registry) Create(uploadID string, params model.GenerateParams) model.Job {
	now := r.now()
	job := &model.Job{
		ID:        uuid.New().String(),
		Status:    model.JobStatusQueued,
		Progress:  0,
		Message:   "Generation queued...",
		UploadID:  uploadID,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
	snapshot := job.Clone()
	r.publish(Event{Job: snapshot})
	return snapshot
}

// Get returns a deep copy of the job.
func (r *Registry) Get(id string) (model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return model.Job{}, ErrJobNotFound
	}
	return job.Clone(), nil
}

// Mutate applies fn to a copy of the job and commits it if the result keeps
// every invariant. fn may return ErrNoChange to skip the commit; any other
// error aborts the mutation and is returned.
func (r *Registry) Mutate(id string, fn func(*model.Job) error) (model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.jobs[id]
	if !ok {
		return model.Job{}, ErrJobNotFound
	}

	next := current.Clone()
	if err := fn(&next); err != nil {
		if errors.Is(err, ErrNoChange) {
			return current.Clone(), nil
		}
		return current.Clone(), err
	}
	if err := validate(current, &next); err != nil {
		return current.Clone(), err
	}

	next.UpdatedAt = r.now()
	r.jobs[id] = &next
	snapshot := next.Clone()
	r.publish(Event{Job: snapshot})
	return snapshot, nil
}

// Claim moves a queued job to processing. Only the first caller succeeds,
// which guarantees a single orchestration per job id.
func (r *Registry) Claim(id string) (model.Job, error) {
	return r.Mutate(id, func(j *model.Job) error {
		if j.Status != model.JobStatusQueued {
			return ErrAlreadyClaimed
		}
		j.Status = model.JobStatusProcessing
		return nil
	})
}

// Delete removes the job and returns its last snapshot.
func (r *Registry) Delete(id string) (model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return model.Job{}, ErrJobNotFound
	}
	delete(r.jobs, id)
	snapshot := job.Clone()
	r.publish(Event{Job: snapshot, Deleted: true})
	return snapshot, nil
}

// CountActive returns the number of queued or processing jobs.
func (r *Registry) CountActive() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, job := range r.jobs {
		if job.Status.IsActive() {
			n++
		}
	}
	return n
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

func (r *Registry) publish(ev Event) {
	for _, s := range r.sinks {
		s.Publish(ev)
	}
}

func validate(prev, next *model.Job) error {
	if next.ID != prev.ID || next.UploadID != prev.UploadID || !next.CreatedAt.Equal(prev.CreatedAt) {
		return fmt.Errorf("%w: identity fields are immutable", ErrInvariant)
	}
	if !prev.Status.CanTransitionTo(next.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev.Status, next.Status)
	}
	if next.Progress < prev.Progress {
		return fmt.Errorf("%w: %d -> %d", ErrProgressRegression, prev.Progress, next.Progress)
	}
	if next.Progress < 0 || next.Progress > 100 {
		return fmt.Errorf("%w: progress %d out of range", ErrInvariant, next.Progress)
	}

	completed := next.Status == model.JobStatusCompleted
	if (next.Progress == 100) != completed {
		return fmt.Errorf("%w: progress 100 requires status completed", ErrInvariant)
	}
	if (next.Result != nil) != completed {
		return fmt.Errorf("%w: result must be set exactly when completed", ErrInvariant)
	}
	if (next.Error != nil) != (next.Status == model.JobStatusFailed) {
		return fmt.Errorf("%w: error must be set exactly when failed", ErrInvariant)
	}
	return nil
}
