// Package storage implements the filesystem artifact store: uploaded audio,
// rendered videos, motion data, exported animations and per-job scratch space.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dancegen/api/internal/model"
)

var (
	ErrUploadNotFound   = errors.New("upload not found")
	ErrArtifactNotFound = errors.New("artifact not found")
)

// Dirs are the absolute directories of the store.
type Dirs struct {
	Uploads string
	Outputs string
	Motions string
	Exports string
	Work    string
}

// ArtifactStore keeps files named after the upload or job id that owns them.
type ArtifactStore struct {
	dirs Dirs
}

// NewArtifactStore creates the directory layout below root.
func NewArtifactStore(root string) (*ArtifactStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}

	dirs := Dirs{
		Uploads: filepath.Join(abs, "uploads"),
		Outputs: filepath.Join(abs, "outputs"),
		Motions: filepath.Join(abs, "motions"),
		Exports: filepath.Join(abs, "fbx_outputs"),
		Work:    filepath.Join(abs, "work"),
	}
	for _, d := range []string{dirs.Uploads, dirs.Outputs, dirs.Motions, dirs.Exports, dirs.Work} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", d, err)
		}
	}

	return &ArtifactStore{dirs: dirs}, nil
}

func (s *ArtifactStore) Dirs() Dirs {
	return s.dirs
}

// SaveUpload stores the audio under a fresh upload id.
func (s *ArtifactStore) SaveUpload(filename string, r io.Reader) (*model.Upload, error) {
	uploadID := uuid.New().String()
	clean := SanitizeFilename(filename)
	path := filepath.Join(s.dirs.Uploads, uploadID+"_"+clean)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload file: %w", err)
	}
	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write upload: %w", err)
	}

	return &model.Upload{
		ID:        uploadID,
		Filename:  clean,
		Path:      path,
		Size:      size,
		CreatedAt: time.Now(),
	}, nil
}

// FindUpload resolves an upload id to its stored file.
func (s *ArtifactStore) FindUpload(uploadID string) (*model.Upload, error) {
	if _, err := uuid.Parse(uploadID); err != nil {
		return nil, ErrUploadNotFound
	}

	matches, err := filepath.Glob(filepath.Join(s.dirs.Uploads, uploadID+"_*"))
	if err != nil {
		return nil, fmt.Errorf("failed to search uploads: %w", err)
	}
	if len(matches) == 0 {
		return nil, ErrUploadNotFound
	}

	path := matches[0]
	info, err := os.Stat(path)
	if err != nil {
		return nil, ErrUploadNotFound
	}

	return &model.Upload{
		ID:        uploadID,
		Filename:  strings.TrimPrefix(filepath.Base(path), uploadID+"_"),
		Path:      path,
		Size:      info.Size(),
		CreatedAt: info.ModTime(),
	}, nil
}

// DeleteUpload removes the stored audio. Deleting an unknown id is not an error.
func (s *ArtifactStore) DeleteUpload(uploadID string) error {
	if _, err := uuid.Parse(uploadID); err != nil {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(s.dirs.Uploads, uploadID+"_*"))
	if err != nil {
		return fmt.Errorf("failed to search uploads: %w", err)
	}
	return RemoveFiles(matches...)
}

// JobWorkDir creates the scratch directory of a job.
func (s *ArtifactStore) JobWorkDir(jobID string) (string, error) {
	dir := filepath.Join(s.dirs.Work, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create work dir: %w", err)
	}
	return dir, nil
}

// RemoveJobWorkDir deletes the scratch directory of a job and everything in it.
func (s *ArtifactStore) RemoveJobWorkDir(jobID string) error {
	return os.RemoveAll(filepath.Join(s.dirs.Work, jobID))
}

// JobExportDir creates the directory receiving a job's exported animation.
func (s *ArtifactStore) JobExportDir(jobID string) (string, error) {
	dir := filepath.Join(s.dirs.Exports, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export dir: %w", err)
	}
	return dir, nil
}

// FindArtifact returns the first file in dir, in lexical order, whose name
// contains the short job id and ends with ext.
func (s *ArtifactStore) FindArtifact(dir, jobID, ext string) (string, error) {
	return FindFirst(dir, "*"+model.ShortID(jobID)+"*"+ext)
}

// RemoveJobArtifacts deletes the files referenced by a result and the job's
// export directory. Missing files are ignored.
func (s *ArtifactStore) RemoveJobArtifacts(jobID string, result *model.JobResult) error {
	err := RemoveFiles(result.Paths()...)
	if rerr := os.RemoveAll(filepath.Join(s.dirs.Exports, jobID)); err == nil {
		err = rerr
	}
	return err
}

// FindFirst returns the lexically first match of pattern inside dir.
func FindFirst(dir, pattern string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", fmt.Errorf("invalid artifact pattern: %w", err)
	}
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
			return m, nil
		}
	}
	return "", ErrArtifactNotFound
}

// RemoveFiles deletes every path, ignoring files that are already gone.
func RemoveFiles(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FileExists reports whether path names an existing regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// SanitizeFilename keeps a safe base name made of letters, digits, dots,
// dashes and underscores.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	clean := strings.TrimLeft(b.String(), "_")
	if strings.Trim(clean, ".") == "" {
		return "audio"
	}
	if strings.HasPrefix(clean, ".") {
		clean = "audio" + clean
	}
	return clean
}

// Ext returns the lower-case extension of name without the dot.
func Ext(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}
