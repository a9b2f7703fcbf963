package service

import (
	"errors"
	"fmt"
	"io"

	"github.com/dancegen/api/internal/model"
	"github.com/dancegen/api/internal/storage"
)

var (
	ErrInvalidExtension = errors.New("invalid file extension")
	ErrFileTooLarge     = errors.New("file too large")
	ErrUploadNotFound   = storage.ErrUploadNotFound
)

// AudioUploader defines the upload operations exposed over HTTP
type AudioUploader interface {
	Upload(filename string, size int64, file io.Reader) (*model.UploadResponse, error)
	Delete(uploadID string) error
}

// UploadService stores source audio in the artifact store
type UploadService struct {
	store    *storage.ArtifactStore
	maxBytes int64
}

// NewUploadService creates a new upload service. maxBytes <= 0 disables the size check.
func NewUploadService(store *storage.ArtifactStore, maxBytes int64) *UploadService {
	return &UploadService{
		store:    store,
		maxBytes: maxBytes,
	}
}

// Upload validates and stores an audio file
func (s *UploadService) Upload(filename string, size int64, file io.Reader) (*model.UploadResponse, error) {
	if err := ValidateAudioFilename(filename); err != nil {
		return nil, err
	}
	if s.maxBytes > 0 && size > s.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, size, s.maxBytes)
	}

	upload, err := s.store.SaveUpload(filename, file)
	if err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	return &model.UploadResponse{
		UploadID: upload.ID,
		Filename: filename,
		Message:  "File uploaded successfully",
	}, nil
}

// Delete removes a stored upload. Unknown ids are ignored.
func (s *UploadService) Delete(uploadID string) error {
	return s.store.DeleteUpload(uploadID)
}

// ValidateAudioFilename checks the extension against the accepted formats.
func ValidateAudioFilename(filename string) error {
	if filename == "" {
		return fmt.Errorf("%w: missing filename", ErrInvalidExtension)
	}
	ext := storage.Ext(filename)
	if !model.AllowedAudioExtensions[ext] {
		return fmt.Errorf("%w: %q, allowed: wav, mp3, flac, m4a", ErrInvalidExtension, ext)
	}
	return nil
}
