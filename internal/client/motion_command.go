package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dancegen/api/internal/config"
	"github.com/dancegen/api/internal/model"
)

// CommandBackend runs the model as a child process, e.g. the python
// generator script. The process always gets absolute paths and an explicit
// working directory.
type CommandBackend struct {
	command    string
	script     string
	workingDir string
}

func NewCommandBackend(cfg *config.GenerationConfig) (*CommandBackend, error) {
	dir, err := filepath.Abs(cfg.WorkingDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve generation working dir: %w", err)
	}
	script := cfg.Script
	if script != "" {
		if script, err = filepath.Abs(script); err != nil {
			return nil, fmt.Errorf("failed to resolve generation script: %w", err)
		}
	}
	return &CommandBackend{
		command:    cfg.Command,
		script:     script,
		workingDir: dir,
	}, nil
}

func (b *CommandBackend) Name() string {
	return "command"
}

// Available reports whether the interpreter and the script can be found.
func (b *CommandBackend) Available() bool {
	if _, err := exec.LookPath(b.command); err != nil {
		return false
	}
	if b.script == "" {
		return true
	}
	_, err := os.Stat(b.script)
	return err == nil
}

func (b *CommandBackend) Generate(ctx context.Context, req *MotionRequest) (*MotionResult, error) {
	var args []string
	if b.script != "" {
		args = append(args, b.script)
	}
	args = append(args,
		"--audio_file", req.AudioPath,
		"--output_dir", req.OutputDir,
		"--motion_save_dir", req.MotionDir,
		"--slice_dir", req.SliceDir,
		"--feature_type", string(req.Params.FeatureType),
		"--generation_id", model.ShortID(req.JobID),
		"--style", req.Params.Style,
		"--skill_level", strconv.Itoa(req.Params.SkillLevel),
	)
	if req.Checkpoint != "" {
		args = append(args, "--checkpoint", req.Checkpoint)
	}

	if _, err := runCommand(ctx, b.workingDir, b.command, args...); err != nil {
		var ce *CommandError
		if errors.As(err, &ce) {
			return nil, errors.New(strings.TrimPrefix(ce.Cause, "Generation failed: "))
		}
		return nil, err
	}
	return &MotionResult{}, nil
}
