package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dancegen/api/internal/config"
)

var ErrExportUnavailable = errors.New("export tooling not available")

// Exporter turns motion data into a skeletal animation file.
type Exporter interface {
	Export(ctx context.Context, motionPath, outputDir string) (string, error)
	Available() bool
}

// FBXExporter runs the SMPL-to-FBX converter script
type FBXExporter struct {
	command    string
	script     string
	fbxSource  string
	workingDir string
}

func NewFBXExporter(cfg *config.ExportConfig) (*FBXExporter, error) {
	e := &FBXExporter{command: cfg.Command}
	for dst, src := range map[*string]string{
		&e.script:     cfg.Script,
		&e.fbxSource:  cfg.FBXSource,
		&e.workingDir: cfg.WorkingDir,
	} {
		abs, err := filepath.Abs(src)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", src, err)
		}
		*dst = abs
	}
	return e, nil
}

// Available reports whether the converter script and the source rig exist
func (e *FBXExporter) Available() bool {
	for _, p := range []string{e.script, e.fbxSource} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// Export converts motionPath and returns the first .fbx written to outputDir.
func (e *FBXExporter) Export(ctx context.Context, motionPath, outputDir string) (string, error) {
	if !e.Available() {
		return "", ErrExportUnavailable
	}

	// the converter processes a whole directory
	inputDir, err := os.MkdirTemp("", "fbx-input-")
	if err != nil {
		return "", fmt.Errorf("failed to create export input dir: %w", err)
	}
	defer os.RemoveAll(inputDir)

	if err := copyFile(motionPath, filepath.Join(inputDir, filepath.Base(motionPath))); err != nil {
		return "", err
	}

	absOut, err := filepath.Abs(outputDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve export dir: %w", err)
	}

	_, err = runCommand(ctx, e.workingDir, e.command, e.script,
		"--input_dir", inputDir,
		"--fbx_source_path", e.fbxSource,
		"--output_dir", absOut,
	)
	if err != nil {
		return "", fmt.Errorf("fbx conversion failed: %s", exitDescription(err))
	}

	matches, err := filepath.Glob(filepath.Join(absOut, "*.fbx"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("fbx conversion produced no file")
	}
	return matches[0], nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open motion file: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create export input: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy motion file: %w", err)
	}
	return out.Close()
}
