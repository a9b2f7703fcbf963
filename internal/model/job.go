package model

import "time"

// ShortIDLength is how many leading characters of a job id the motion model
// embeds in the names of the files it produces.
const ShortIDLength = 8

// Job represents one dance generation request and its progress
type Job struct {
	ID        string         `json:"jobId"`
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

// GenerateParams are the caller-tunable knobs passed through to the model
type GenerateParams struct {
	FeatureType    FeatureType `json:"featureType"`
	GenerateExport bool        `json:"generateExport"`
	Style          string      `json:"style"`
	SkillLevel     int         `json:"skillLevel"`
}

// JobResult references the artifacts of a completed job. A nil path means the
// artifact was not produced.
type JobResult struct {
	VideoPath     *string `json:"videoPath"`
	MotionPath    *string `json:"motionPath"`
	ExportPath    *string `json:"exportPath"`
	VideoFilename *string `json:"videoFilename"`
	VideoURL      *string `json:"videoUrl,omitempty"`
	MotionURL     *string `json:"motionUrl,omitempty"`
	ExportURL     *string `json:"exportUrl,omitempty"`
}

// Path returns the stored path for an artifact type, or nil.
func (r *JobResult) Path(t ArtifactType) *string {
	if r == nil {
		return nil
	}
	switch t {
	case ArtifactVideo:
		return r.VideoPath
	case ArtifactMotion:
		return r.MotionPath
	case ArtifactExport:
		return r.ExportPath
	}
	return nil
}

// Paths returns every non-nil artifact path.
func (r *JobResult) Paths() []string {
	if r == nil {
		return nil
	}
	var paths []string
	for _, p := range []*string{r.VideoPath, r.MotionPath, r.ExportPath} {
		if p != nil && *p != "" {
			paths = append(paths, *p)
		}
	}
	return paths
}

// Clone returns a deep copy so readers never share pointers with the registry.
func (j *Job) Clone() Job {
	c := *j
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	if j.Result != nil {
		r := JobResult{
			VideoPath:     cloneString(j.Result.VideoPath),
			MotionPath:    cloneString(j.Result.MotionPath),
			ExportPath:    cloneString(j.Result.ExportPath),
			VideoFilename: cloneString(j.Result.VideoFilename),
			VideoURL:      cloneString(j.Result.VideoURL),
			MotionURL:     cloneString(j.Result.MotionURL),
			ExportURL:     cloneString(j.Result.ExportURL),
		}
		c.Result = &r
	}
	return c
}

// ShortID returns the id prefix used in generated artifact names.
func ShortID(jobID string) string {
	if len(jobID) <= ShortIDLength {
		return jobID
	}
	return jobID[:ShortIDLength]
}

// StringPtr is a small helper for optional fields.
func StringPtr(s string) *string {
	return &s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
