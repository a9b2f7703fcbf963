package client

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dancegen/api/internal/model"
)

// MockBackend writes placeholder artifacts instead of running the model.
// It is the default backend for local development.
type MockBackend struct {
	delay time.Duration
}

func NewMockBackend(delay time.Duration) *MockBackend {
	return &MockBackend{delay: delay}
}

func (b *MockBackend) Name() string {
	return "mock"
}

func (b *MockBackend) Generate(ctx context.Context, req *MotionRequest) (*MotionResult, error) {
	if b.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.delay):
		}
	}

	stem := strings.TrimSuffix(filepath.Base(req.AudioPath), filepath.Ext(req.AudioPath))
	name := fmt.Sprintf("%s_%s", stem, model.ShortID(req.JobID))

	video := filepath.Join(req.OutputDir, name+".mp4")
	motion := filepath.Join(req.MotionDir, name+".pkl")

	if err := os.WriteFile(video, []byte("placeholder video"), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write placeholder video: %w", err)
	}
	if err := os.WriteFile(motion, []byte("placeholder motion"), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write placeholder motion: %w", err)
	}

	return &MotionResult{VideoPath: video, MotionPath: motion}, nil
}
