package handler

import (
	"errors"
	"mime/multipart"

	"github.com/gofiber/fiber/v2"

	"github.com/dancegen/api/internal/service"
	"github.com/dancegen/api/pkg/response"
)

var allowedExtensions = []string{"wav", "mp3", "flac", "m4a"}

type UploadHandler struct {
	service  service.AudioUploader
	maxBytes int64
}

func NewUploadHandler(svc service.AudioUploader, maxBytes int64) *UploadHandler {
	return &UploadHandler{
		service:  svc,
		maxBytes: maxBytes,
	}
}

// Upload handles POST /upload
// @Summary      Upload music
// @Description  Upload an audio file to generate a dance from
// @Tags         Upload
// @Accept       multipart/form-data
// @Produce      json
// @Param        audio formData file true "Audio file (WAV, MP3, FLAC, M4A)"
// @Success      201 {object} model.UploadResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /upload [post]
func (h *UploadHandler) Upload(c *fiber.Ctx) error {
	file, err := formFile(c, "audio", "file")
	if err != nil {
		return response.ValidationError(c, "No audio file provided", nil)
	}
	if file.Filename == "" {
		return response.ValidationError(c, "No file selected", nil)
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open file")
	}
	defer f.Close()

	result, err := h.service.Upload(file.Filename, file.Size, f)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidExtension):
			return response.ValidationError(c, "Invalid file type", fiber.Map{
				"filename": file.Filename,
				"allowed":  allowedExtensions,
			})
		case errors.Is(err, service.ErrFileTooLarge):
			return response.ValidationError(c, "File too large", fiber.Map{
				"maxSize":  h.maxBytes,
				"fileSize": file.Size,
			})
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Created(c, result)
}

// DeleteUpload handles DELETE /upload/:uploadId
// @Summary      Delete upload
// @Description  Delete a previously uploaded audio file
// @Tags         Upload
// @Param        uploadId path string true "Upload ID"
// @Success      204 "No Content"
// @Failure      500 {object} response.ErrorResponse
// @Router       /upload/{uploadId} [delete]
func (h *UploadHandler) DeleteUpload(c *fiber.Ctx) error {
	uploadID := c.Params("uploadId")
	if uploadID == "" {
		return response.ValidationError(c, "Upload ID is required", nil)
	}

	if err := h.service.Delete(uploadID); err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.NoContent(c)
}

// formFile returns the first multipart file found under one of the names
func formFile(c *fiber.Ctx, names ...string) (*multipart.FileHeader, error) {
	var err error
	for _, name := range names {
		var file *multipart.FileHeader
		if file, err = c.FormFile(name); err == nil {
			return file, nil
		}
	}
	return nil, err
}
