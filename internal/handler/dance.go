package handler

import (
	"errors"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/dancegen/api/internal/model"
	"github.com/dancegen/api/internal/service"
	"github.com/dancegen/api/pkg/response"
)

type DanceHandler struct {
	service   *service.DanceService
	validator *validator.Validate
}

func NewDanceHandler(svc *service.DanceService, v *validator.Validate) *DanceHandler {
	return &DanceHandler{
		service:   svc,
		validator: v,
	}
}

// Generate handles POST /generate
// @Summary      Start dance generation
// @Description  Start an asynchronous dance generation job for an uploaded file
// @Tags         Dance
// @Accept       json
// @Produce      json
// @Param        request body model.GenerateRequest true "Generation request"
// @Success      202 {object} model.GenerateResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /generate [post]
func (h *DanceHandler) Generate(c *fiber.Ctx) error {
	var req model.GenerateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Start(c.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrUploadNotFound) {
			return response.NotFound(c, "Upload not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Status handles GET /status/:jobId
// @Summary      Get job status
// @Description  Get the current status and progress of a generation job
// @Tags         Dance
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.JobStatusResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /status/{jobId} [get]
func (h *DanceHandler) Status(c *fiber.Ctx) error {
	result, err := h.service.Status(c.Params("jobId"))
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Download handles GET /download/:jobId/:artifactType
// @Summary      Download artifact
// @Description  Download the video, motion data or exported animation of a completed job
// @Tags         Dance
// @Produce      octet-stream
// @Param        jobId        path string true "Job ID"
// @Param        artifactType path string true "video, motion or export"
// @Success      200 {file} file
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /download/{jobId}/{artifactType} [get]
func (h *DanceHandler) Download(c *fiber.Ctx) error {
	artifact, ok := model.ParseArtifactType(c.Params("artifactType"))
	if !ok {
		return response.ValidationError(c, "Invalid artifact type", fiber.Map{
			"allowed": []model.ArtifactType{model.ArtifactVideo, model.ArtifactMotion, model.ArtifactExport},
		})
	}

	path, err := h.service.Artifact(c.Params("jobId"), artifact)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrJobNotFound):
			return response.NotFound(c, "Job not found")
		case errors.Is(err, service.ErrJobNotCompleted):
			return response.JobNotCompleted(c, "Job not completed")
		case errors.Is(err, service.ErrArtifactNotFound):
			return response.NotFound(c, "File not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return c.Download(path, filepath.Base(path))
}

// Cleanup handles DELETE /cleanup/:jobId
// @Summary      Clean up job
// @Description  Remove a job and its files. Unknown jobs are ignored.
// @Tags         Dance
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.CleanupResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /cleanup/{jobId} [delete]
func (h *DanceHandler) Cleanup(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if err := h.service.Cleanup(c.Context(), jobID); err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, &model.CleanupResponse{
		JobID:   jobID,
		Message: "Cleanup completed",
	})
}

// Health handles GET /health
// @Summary      Health check
// @Tags         Health
// @Produce      json
// @Success      200 {object} model.HealthResponse
// @Router       /health [get]
func (h *DanceHandler) Health(c *fiber.Ctx) error {
	return response.OK(c, h.service.Health(c.Context()))
}
