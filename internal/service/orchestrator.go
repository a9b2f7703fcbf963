package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dancegen/api/internal/client"
	"github.com/dancegen/api/internal/model"
	"github.com/dancegen/api/internal/progress"
	"github.com/dancegen/api/internal/registry"
	"github.com/dancegen/api/internal/storage"
)

// Phase names a step of a generation job, used in logs
type Phase string

const (
	PhaseStart     Phase = "start"
	PhaseNormalize Phase = "normalize"
	PhaseFeatures  Phase = "features"
	PhaseGenerate  Phase = "generate"
	PhaseFinalize  Phase = "finalize"
	PhaseExport    Phase = "export"
	PhaseMirror    Phase = "mirror"
	PhaseComplete  Phase = "complete"
)

// Progress checkpoints written when a phase begins
const (
	progressStart         = 10
	progressNormalize     = 20
	progressFeatures      = 30
	progressGenerate      = 50
	progressGenerateLimit = 80
	progressFinalize      = 85
	progressExport        = 90
	progressMirror        = 95
	progressComplete      = 100
)

// OrchestratorConfig holds the tunables of a job run
type OrchestratorConfig struct {
	EstimateDuration time.Duration
	ExportEnabled    bool
}

// Orchestrator drives one job through its phases. It is the only writer of a
// job's status after creation.
type Orchestrator struct {
	registry   *registry.Registry
	store      *storage.ArtifactStore
	transcoder client.Transcoder
	invoker    *client.Invoker
	exporter   client.Exporter
	mirror     storage.ObjectMirror
	estimator  *progress.Estimator
	cfg        OrchestratorConfig
	logger     *zap.Logger
}

// NewOrchestrator creates an orchestrator. exporter and mirror may be nil.
func NewOrchestrator(
	reg *registry.Registry,
	store *storage.ArtifactStore,
	transcoder client.Transcoder,
	invoker *client.Invoker,
	exporter client.Exporter,
	mirror storage.ObjectMirror,
	estimator *progress.Estimator,
	cfg OrchestratorConfig,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		registry:   reg,
		store:      store,
		transcoder: transcoder,
		invoker:    invoker,
		exporter:   exporter,
		mirror:     mirror,
		estimator:  estimator,
		cfg:        cfg,
		logger:     logger,
	}
}

// jobRun is the state of a single Run call
type jobRun struct {
	job       model.Job
	phase     Phase
	log       *zap.Logger
	generated *client.MotionResult
	mirrored  []string
}

// Run executes the job to a terminal state. Failures are recorded on the job
// and returned; a job removed while running stops at its next update.
func (o *Orchestrator) Run(ctx context.Context, jobID string) (err error) {
	job, err := o.registry.Claim(jobID)
	if err != nil {
		return err
	}

	run := &jobRun{
		job:   job,
		phase: PhaseStart,
		log:   o.logger.With(zap.String("job_id", jobID), zap.String("upload_id", job.UploadID)),
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			run.log.Error("job panicked",
				zap.String("phase", string(run.phase)),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			o.fail(run, err)
		}
	}()
	defer func() {
		if rerr := o.store.RemoveJobWorkDir(jobID); rerr != nil {
			run.log.Warn("failed to remove work dir", zap.Error(rerr))
		}
	}()

	start := time.Now()
	err = o.execute(ctx, run)
	switch {
	case err == nil:
		run.log.Info("job completed", zap.Duration("duration", time.Since(start)))
	case errors.Is(err, registry.ErrJobNotFound):
		run.log.Info("job removed while running", zap.String("phase", string(run.phase)))
		o.discard(ctx, run)
	default:
		o.fail(run, err)
	}
	return err
}

func (o *Orchestrator) execute(ctx context.Context, run *jobRun) error {
	jobID := run.job.ID

	if err := o.advance(run, PhaseStart, progressStart, "Starting dance generation..."); err != nil {
		return err
	}

	upload, err := o.store.FindUpload(run.job.UploadID)
	if err != nil {
		return err
	}

	workDir, err := o.store.JobWorkDir(jobID)
	if err != nil {
		return err
	}

	audioPath := upload.Path
	if storage.Ext(upload.Path) != model.CanonicalAudioExtension {
		if err := o.advance(run, PhaseNormalize, progressNormalize, "Converting audio format..."); err != nil {
			return err
		}
		stem := strings.TrimSuffix(filepath.Base(upload.Path), filepath.Ext(upload.Path))
		converted := filepath.Join(workDir, stem+"."+model.CanonicalAudioExtension)
		if err := o.transcoder.Convert(ctx, upload.Path, converted); err != nil {
			return fmt.Errorf("%w: %v", client.ErrConversionFailed, err)
		}
		audioPath = converted
	}

	if err := o.advance(run, PhaseFeatures, progressFeatures, "Extracting audio features..."); err != nil {
		return err
	}

	if err := o.advance(run, PhaseGenerate, progressGenerate, "Loading AI model and generating dance..."); err != nil {
		return err
	}
	generated, err := o.generate(ctx, run, audioPath, workDir)
	if err != nil {
		return err
	}
	run.generated = generated

	if err := o.advance(run, PhaseFinalize, progressFinalize, "Finalizing dance video..."); err != nil {
		return err
	}
	result := o.collect(run)

	if run.job.Params.GenerateExport && o.cfg.ExportEnabled && o.exporter != nil {
		if err := o.advance(run, PhaseExport, progressExport, "Exporting animation..."); err != nil {
			return err
		}
		o.export(ctx, run, result)
	}

	if o.mirror != nil {
		if err := o.advance(run, PhaseMirror, progressMirror, "Publishing artifacts..."); err != nil {
			return err
		}
		o.publish(ctx, run, result)
	}

	run.phase = PhaseComplete
	_, err = o.registry.Mutate(jobID, func(j *model.Job) error {
		j.Status = model.JobStatusCompleted
		j.Progress = progressComplete
		j.Message = "Dance generation completed!"
		j.Result = result
		return nil
	})
	return err
}

// generate calls the model while the estimator fills in progress.
func (o *Orchestrator) generate(ctx context.Context, run *jobRun, audioPath, workDir string) (*client.MotionResult, error) {
	estimate := o.estimator.Start(run.job.ID, progressGenerate, progressGenerateLimit, o.cfg.EstimateDuration)
	defer estimate.Stop()

	dirs := o.store.Dirs()
	return o.invoker.Generate(ctx, run.job.ID, audioPath, dirs.Outputs, dirs.Motions, workDir, run.job.Params)
}

// advance records the start of a phase.
func (o *Orchestrator) advance(run *jobRun, phase Phase, pct int, message string) error {
	run.phase = phase
	_, err := o.registry.Mutate(run.job.ID, func(j *model.Job) error {
		j.Progress = pct
		j.Message = message
		return nil
	})
	if err == nil {
		run.log.Debug("phase started", zap.String("phase", string(phase)), zap.Int("progress", pct))
	}
	return err
}

func (o *Orchestrator) fail(run *jobRun, cause error) {
	run.log.Error("job failed", zap.String("phase", string(run.phase)), zap.Error(cause))

	msg := cause.Error()
	_, err := o.registry.Mutate(run.job.ID, func(j *model.Job) error {
		if j.Status.IsTerminal() {
			return registry.ErrNoChange
		}
		j.Status = model.JobStatusFailed
		j.Message = "Error: " + msg
		j.Error = model.StringPtr(msg)
		j.Result = nil
		return nil
	})
	if err != nil && !errors.Is(err, registry.ErrJobNotFound) {
		run.log.Warn("failed to record job failure", zap.Error(err))
	}
}

// discard removes artifacts produced for a job that was cleaned up mid-run,
// including objects already copied to the mirror.
func (o *Orchestrator) discard(ctx context.Context, run *jobRun) {
	if run.generated == nil {
		return
	}
	result := o.collect(run)
	if err := o.store.RemoveJobArtifacts(run.job.ID, result); err != nil {
		run.log.Warn("failed to remove orphaned artifacts", zap.Error(err))
	}

	ctx = context.WithoutCancel(ctx)
	for _, key := range run.mirrored {
		if err := o.mirror.Delete(ctx, key); err != nil {
			run.log.Warn("failed to remove orphaned mirror object", zap.String("key", key), zap.Error(err))
		}
	}
}

// collect locates the produced files: first the id-based match in the
// artifact directories, then the paths the backend reported.
func (o *Orchestrator) collect(run *jobRun) *model.JobResult {
	dirs := o.store.Dirs()
	result := &model.JobResult{
		VideoPath:  o.locate(run, dirs.Outputs, ".mp4", run.generated.VideoPath, model.ArtifactVideo),
		MotionPath: o.locate(run, dirs.Motions, ".pkl", run.generated.MotionPath, model.ArtifactMotion),
	}
	if result.VideoPath != nil {
		result.VideoFilename = model.StringPtr(filepath.Base(*result.VideoPath))
	}
	return result
}

func (o *Orchestrator) locate(run *jobRun, dir, ext, reported string, kind model.ArtifactType) *string {
	path, err := o.store.FindArtifact(dir, run.job.ID, ext)
	if err == nil {
		return &path
	}
	if reported != "" && storage.FileExists(reported) {
		return &reported
	}
	run.log.Warn("artifact not found",
		zap.String("phase", string(PhaseFinalize)),
		zap.String("artifact", string(kind)),
	)
	return nil
}

func (o *Orchestrator) export(ctx context.Context, run *jobRun, result *model.JobResult) {
	if result.MotionPath == nil {
		run.log.Warn("export skipped, no motion data", zap.String("phase", string(PhaseExport)))
		return
	}
	dir, err := o.store.JobExportDir(run.job.ID)
	if err != nil {
		run.log.Warn("export failed", zap.String("phase", string(PhaseExport)), zap.Error(err))
		return
	}
	path, err := o.exporter.Export(ctx, *result.MotionPath, dir)
	if err != nil {
		run.log.Warn("export failed", zap.String("phase", string(PhaseExport)), zap.Error(err))
		return
	}
	result.ExportPath = &path
}

func (o *Orchestrator) publish(ctx context.Context, run *jobRun, result *model.JobResult) {
	targets := []struct {
		path *string
		url  **string
	}{
		{result.VideoPath, &result.VideoURL},
		{result.MotionPath, &result.MotionURL},
		{result.ExportPath, &result.ExportURL},
	}
	for _, t := range targets {
		if t.path == nil {
			continue
		}
		key := storage.MirrorKey(run.job.ID, *t.path)
		url, err := o.mirror.Upload(ctx, key, *t.path)
		if err != nil {
			run.log.Warn("mirror upload failed",
				zap.String("phase", string(PhaseMirror)),
				zap.String("path", *t.path),
				zap.Error(err),
			)
			continue
		}
		run.mirrored = append(run.mirrored, key)
		*t.url = &url
	}
}
