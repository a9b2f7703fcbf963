package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dancegen/api/internal/model"
	"github.com/dancegen/api/internal/registry"
	"github.com/dancegen/api/internal/storage"
)

var (
	ErrJobNotFound      = registry.ErrJobNotFound
	ErrJobNotCompleted  = errors.New("job not completed")
	ErrArtifactNotFound = storage.ErrArtifactNotFound
)

// Dispatcher hands a created job to whatever runs orchestrations
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// ServiceCheck reports whether a dependency is usable, shown on /health
type ServiceCheck func(ctx context.Context) bool

// DanceService is the job-level facade used by the HTTP handlers
type DanceService struct {
	registry   *registry.Registry
	store      *storage.ArtifactStore
	dispatcher Dispatcher
	mirror     storage.ObjectMirror
	checks     map[string]ServiceCheck
	logger     *zap.Logger
}

func NewDanceService(
	reg *registry.Registry,
	store *storage.ArtifactStore,
	dispatcher Dispatcher,
	mirror storage.ObjectMirror,
	checks map[string]ServiceCheck,
	logger *zap.Logger,
) *DanceService {
	return &DanceService{
		registry:   reg,
		store:      store,
		dispatcher: dispatcher,
		mirror:     mirror,
		checks:     checks,
		logger:     logger,
	}
}

// Start queues a new generation job for an existing upload
func (s *DanceService) Start(ctx context.Context, req *model.GenerateRequest) (*model.GenerateResponse, error) {
	upload, err := s.store.FindUpload(req.UploadID)
	if err != nil {
		return nil, err
	}

	job := s.registry.Create(upload.ID, req.Params())

	if err := s.dispatcher.Dispatch(ctx, job.ID); err != nil {
		if _, derr := s.registry.Delete(job.ID); derr != nil {
			s.logger.Warn("failed to drop undispatched job", zap.String("job_id", job.ID), zap.Error(derr))
		}
		return nil, fmt.Errorf("failed to dispatch job: %w", err)
	}

	s.logger.Info("job queued",
		zap.String("job_id", job.ID),
		zap.String("upload_id", upload.ID),
		zap.String("feature_type", string(job.Params.FeatureType)),
	)

	return &model.GenerateResponse{
		JobID:     job.ID,
		Status:    job.Status,
		Message:   "Dance generation started",
		CreatedAt: job.CreatedAt,
	}, nil
}

// Status returns the current snapshot of a job
func (s *DanceService) Status(jobID string) (*model.JobStatusResponse, error) {
	job, err := s.registry.Get(jobID)
	if err != nil {
		return nil, err
	}
	return model.NewJobStatusResponse(job), nil
}

// Job returns the raw job snapshot
func (s *DanceService) Job(jobID string) (model.Job, error) {
	return s.registry.Get(jobID)
}

// Artifact returns the path of a produced file of a completed job
func (s *DanceService) Artifact(jobID string, artifact model.ArtifactType) (string, error) {
	job, err := s.registry.Get(jobID)
	if err != nil {
		return "", err
	}
	if job.Status != model.JobStatusCompleted {
		return "", fmt.Errorf("%w: status %s", ErrJobNotCompleted, job.Status)
	}

	path := job.Result.Path(artifact)
	if path == nil || !storage.FileExists(*path) {
		return "", fmt.Errorf("%w: %s", ErrArtifactNotFound, artifact)
	}
	return *path, nil
}

// Cleanup removes the job's files and its registry entry. Unknown ids are a no-op.
func (s *DanceService) Cleanup(ctx context.Context, jobID string) error {
	job, err := s.registry.Delete(jobID)
	if errors.Is(err, registry.ErrJobNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	log := s.logger.With(zap.String("job_id", jobID))
	if err := s.store.RemoveJobArtifacts(jobID, job.Result); err != nil {
		log.Warn("failed to remove artifacts", zap.Error(err))
	}

	if s.mirror != nil && job.Result != nil {
		for _, p := range job.Result.Paths() {
			if err := s.mirror.Delete(ctx, storage.MirrorKey(jobID, p)); err != nil {
				log.Warn("failed to remove mirrored artifact", zap.String("path", p), zap.Error(err))
			}
		}
	}

	log.Info("job cleaned up", zap.String("status", string(job.Status)))
	return nil
}

// Health reports job counts and the availability of external dependencies
func (s *DanceService) Health(ctx context.Context) *model.HealthResponse {
	services := make(map[string]bool, len(s.checks))
	for name, check := range s.checks {
		services[name] = check(ctx)
	}

	return &model.HealthResponse{
		Status:     "healthy",
		ActiveJobs: s.registry.CountActive(),
		TotalJobs:  s.registry.Len(),
		Services:   services,
	}
}
