// Package analysis records crime classification results and runs queued
// URL analyses in the background.
package analysis

import (
	"time"

	"github.com/google/uuid"

	"github.com/crimewatch/crimewatch/internal/detect"
)

const (
	SourceUpload = "upload"
	SourceURL    = "url"
	SourceJob    = "job"

	JobTypeAnalyzeURL = "analyze_url"

	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Analysis is a persisted prediction for one video.
type Analysis struct {
	ID             string    `json:"id"`
	ReportID       string    `json:"report_id,omitempty"`
	VideoURL       string    `json:"video_url,omitempty"`
	VideoName      string    `json:"video_name,omitempty"`
	Location       string    `json:"location,omitempty"`
	CrimeType      string    `json:"crime_type"`
	Confidence     float64   `json:"confidence"`
	Description    string    `json:"description"`
	Summary        string    `json:"summary"`
	Recommendation string    `json:"recommendation"`
	Status         string    `json:"status"`
	Reason         string    `json:"reason,omitempty"`
	ModelState     string    `json:"model_state"`
	FramesDecoded  int       `json:"frames_decoded"`
	Source         string    `json:"source"`
	AnalyzedAt     time.Time `json:"analyzed_at"`
}

// Degraded reports whether the stored result is the fixed failure answer.
func (a *Analysis) Degraded() bool {
	return a.Status == string(detect.StatusDegraded)
}

// Job is a queued URL analysis.
type Job struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Status     string    `json:"status"`
	VideoURL   string    `json:"video_url,omitempty"`
	ReportID   string    `json:"report_id,omitempty"`
	Location   string    `json:"location,omitempty"`
	AnalysisID string    `json:"analysis_id,omitempty"`
	Progress   int       `json:"progress"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Request carries the caller-supplied context of an analysis.
type Request struct {
	VideoURL string
	ReportID string
	Location string
}

func NewID() string {
	return uuid.NewString()
}
