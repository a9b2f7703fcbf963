package client

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/dancegen/api/internal/config"
)

var (
	ErrTranscoderMissing = errors.New("transcoder not available")
	ErrConversionFailed  = errors.New("conversion failed")
)

// Transcoder converts uploaded audio into the format the motion model reads.
type Transcoder interface {
	Convert(ctx context.Context, inputPath, outputPath string) error
	Available() bool
}

// FFmpeg implements Transcoder by shelling out to the ffmpeg binary
type FFmpeg struct {
	path       string
	sampleRate int
	channels   int
}

func NewFFmpeg(cfg *config.TranscoderConfig) *FFmpeg {
	return &FFmpeg{
		path:       cfg.FFmpegPath,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
	}
}

// Available reports whether the binary can be resolved
func (f *FFmpeg) Available() bool {
	_, err := exec.LookPath(f.path)
	return err == nil
}

// Convert resamples inputPath into a wav file at outputPath, overwriting it.
func (f *FFmpeg) Convert(ctx context.Context, inputPath, outputPath string) error {
	bin, err := exec.LookPath(f.path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrTranscoderMissing, f.path)
	}

	args := []string{
		"-i", inputPath,
		"-ar", strconv.Itoa(f.sampleRate),
		"-ac", strconv.Itoa(f.channels),
		"-y", outputPath,
	}
	if _, err := runCommand(ctx, "", bin, args...); err != nil {
		return fmt.Errorf("ffmpeg %s", exitDescription(err))
	}
	return nil
}
