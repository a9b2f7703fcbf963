package client

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dancegen/api/internal/model"
)

// MotionRequest describes one model call. Every path is absolute.
type MotionRequest struct {
	JobID      string
	AudioPath  string
	OutputDir  string
	MotionDir  string
	SliceDir   string
	Checkpoint string
	Params     model.GenerateParams
}

// MotionResult holds the artifact paths a backend reported, if any.
type MotionResult struct {
	VideoPath  string `json:"video_path"`
	MotionPath string `json:"motion_path"`
}

// MotionBackend runs the pretrained motion model.
//
// Backends must write the files they produce into OutputDir (video) and
// MotionDir (motion data) with names containing model.ShortID(JobID).
type MotionBackend interface {
	Name() string
	Generate(ctx context.Context, req *MotionRequest) (*MotionResult, error)
}

// Invoker wraps the motion backend with the per-call scratch directory and
// the configured timeout.
type Invoker struct {
	backend    MotionBackend
	checkpoint string
	timeout    time.Duration
}

func NewInvoker(backend MotionBackend, checkpoint string, timeout time.Duration) *Invoker {
	return &Invoker{
		backend:    backend,
		checkpoint: checkpoint,
		timeout:    timeout,
	}
}

func (i *Invoker) Backend() string {
	return i.backend.Name()
}

// Generate runs the model for audioPath. The slicing directory is created
// under workDir and removed before Generate returns. Backend errors are
// returned unwrapped so their text reaches the job record as is.
func (i *Invoker) Generate(ctx context.Context, jobID, audioPath, outputDir, motionDir, workDir string, params model.GenerateParams) (*MotionResult, error) {
	req := &MotionRequest{
		JobID:  jobID,
		Params: params,
	}
	for dst, src := range map[*string]string{
		&req.AudioPath: audioPath,
		&req.OutputDir: outputDir,
		&req.MotionDir: motionDir,
	} {
		abs, err := filepath.Abs(src)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", src, err)
		}
		*dst = abs
	}
	if i.checkpoint != "" {
		abs, err := filepath.Abs(i.checkpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve checkpoint: %w", err)
		}
		req.Checkpoint = abs
	}

	sliceDir, err := os.MkdirTemp(workDir, "slices-")
	if err != nil {
		return nil, fmt.Errorf("failed to create slicing dir: %w", err)
	}
	defer os.RemoveAll(sliceDir)
	req.SliceDir, err = filepath.Abs(sliceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve slicing dir: %w", err)
	}

	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	res, err := i.backend.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &MotionResult{}
	}
	return res, nil
}
