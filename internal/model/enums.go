package model

// Job status
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsActive reports whether the job still counts against the health endpoint.
func (s JobStatus) IsActive() bool {
	return s == JobStatusQueued || s == JobStatusProcessing
}

// CanTransitionTo reports whether next is reachable from s in one step.
// Staying in the same state is always allowed.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case JobStatusQueued:
		return next == JobStatusProcessing
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// Feature extractors understood by the motion model
type FeatureType string

const (
	FeatureTypeJukebox  FeatureType = "jukebox"
	FeatureTypeBaseline FeatureType = "baseline"
)

var ValidFeatureTypes = []FeatureType{FeatureTypeJukebox, FeatureTypeBaseline}

// Downloadable artifacts
type ArtifactType string

const (
	ArtifactVideo  ArtifactType = "video"
	ArtifactMotion ArtifactType = "motion"
	ArtifactExport ArtifactType = "export"
)

// ParseArtifactType accepts the public names plus the legacy "fbx" alias.
func ParseArtifactType(s string) (ArtifactType, bool) {
	switch s {
	case string(ArtifactVideo):
		return ArtifactVideo, true
	case string(ArtifactMotion):
		return ArtifactMotion, true
	case string(ArtifactExport), "fbx":
		return ArtifactExport, true
	}
	return "", false
}

// Accepted upload extensions, lower case without the dot
var AllowedAudioExtensions = map[string]bool{
	"wav":  true,
	"mp3":  true,
	"flac": true,
	"m4a":  true,
}

// CanonicalAudioExtension is the format the motion model consumes directly.
const CanonicalAudioExtension = "wav"

// Generation defaults
const (
	DefaultDanceStyle  = "freestyle"
	DefaultSkillLevel  = 3
	DefaultFeatureType = FeatureTypeJukebox
)
