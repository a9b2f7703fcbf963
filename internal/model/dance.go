package model

import "time"

// GenerateRequest represents the request to start a dance generation job
type GenerateRequest struct {
	UploadID       string      `json:"uploadId" validate:"required"`
	FeatureType    FeatureType `json:"featureType" validate:"omitempty,oneof=jukebox baseline"`
	GenerateExport *bool       `json:"generateExport"`
	Style          string      `json:"style" validate:"omitempty,max=64"`
	SkillLevel     *int        `json:"skillLevel" validate:"omitempty,min=1,max=5"`
}

// Params applies defaults for every omitted field.
func (r *GenerateRequest) Params() GenerateParams {
	p := GenerateParams{
		FeatureType: r.FeatureType,
		Style:       r.Style,
		SkillLevel:  DefaultSkillLevel,
	}
	if p.FeatureType == "" {
		p.FeatureType = DefaultFeatureType
	}
	if p.Style == "" {
		p.Style = DefaultDanceStyle
	}
	if r.GenerateExport != nil {
		p.GenerateExport = *r.GenerateExport
	}
	if r.SkillLevel != nil {
		p.SkillLevel = *r.SkillLevel
	}
	return p
}

// GenerateResponse represents the response when a job is accepted
type GenerateResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// JobStatusResponse is the public snapshot of a job
type JobStatusResponse struct {
	JobID     string         `json:"jobId"`
	Status    JobStatus      `json:"status"`
	Progress  int            `json:"progress"`
	Message   string         `json:"message"`
	UploadID  string         `json:"uploadId"`
	Params    GenerateParams `json:"params"`
	Result    *JobResult     `json:"result,omitempty"`
	Error     *string        `json:"error,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// NewJobStatusResponse builds the public view of a job snapshot.
func NewJobStatusResponse(j Job) *JobStatusResponse {
	return &JobStatusResponse{
		JobID:     j.ID,
		Status:    j.Status,
		Progress:  j.Progress,
		Message:   j.Message,
		UploadID:  j.UploadID,
		Params:    j.Params,
		Result:    j.Result,
		Error:     j.Error,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

// CleanupResponse represents the response of a cleanup call
type CleanupResponse struct {
	JobID   string `json:"jobId"`
	Message string `json:"message"`
}

// HealthResponse represents the health endpoint payload
type HealthResponse struct {
	Status     string          `json:"status"`
	ActiveJobs int             `json:"activeJobs"`
	TotalJobs  int             `json:"totalJobs"`
	Services   map[string]bool `json:"services"`
}
