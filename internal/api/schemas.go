package api

import (
	"time"

	"github.com/crimewatch/crimewatch/internal/analysis"
	"github.com/crimewatch/crimewatch/internal/doctor"
)

type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	UptimeS    int64  `json:"uptime_s"`
	ModelState string `json:"model_state"`
	Database   string `json:"database,omitempty"`
	// CanDecode is the last probed decoder state; omitted before the first probe.
	CanDecode *bool `json:"can_decode,omitempty"`
}

type RunnerResponse struct {
	Running bool `json:"running"`
	Paused  bool `json:"paused"`
}

type StatusResponse struct {
	State         string               `json:"state"`
	LastError     string               `json:"last_error,omitempty"`
	ModelState    string               `json:"model_state"`
	AnalysesCount int                  `json:"analyses_count"`
	JobsPending   int                  `json:"jobs_pending"`
	JobsRunning   int                  `json:"jobs_running"`
	ActiveJob     *JobResponse         `json:"active_job,omitempty"`
	Tools         *ToolsStatusResponse `json:"tools,omitempty"`
}

type ToolsStatusResponse struct {
	FFmpeg      bool   `json:"ffmpeg"`
	FFprobe     bool   `json:"ffprobe"`
	CanDecode   bool   `json:"can_decode"`
	Version     string `json:"version,omitempty"`
	LastProbeAt string `json:"last_probe_at,omitempty"`
}

func CapabilitiesToResponse(caps *doctor.Capabilities) *ToolsStatusResponse {
	tools := &ToolsStatusResponse{
		FFmpeg:    caps.FFmpeg.Available,
		FFprobe:   caps.FFprobe.Available,
		CanDecode: caps.CanDecode,
		Version:   caps.FFmpeg.Version,
	}
	if !caps.ProbedAt.IsZero() {
		tools.LastProbeAt = caps.ProbedAt.Format(time.RFC3339)
	}
	return tools
}

// AnalyzeVideoRequest is the body of POST /analyze-video and POST /jobs.
type AnalyzeVideoRequest struct {
	VideoURL string `json:"video_url"`
	Location string `json:"location,omitempty"`
	ReportID string `json:"report_id,omitempty"`
}

// AnalysisResponse is a prediction as returned to clients. DetailedReport
// mirrors Description for report-format callers.
type AnalysisResponse struct {
	AnalysisID     string  `json:"analysis_id"`
	CrimeType      string  `json:"crime_type"`
	Confidence     float64 `json:"confidence"`
	Description    string  `json:"description"`
	DetailedReport string  `json:"detailed_report"`
	Summary        string  `json:"summary"`
	Recommendation string  `json:"recommendation"`
	Status         string  `json:"status"`
	Reason         string  `json:"reason,omitempty"`
	ModelState     string  `json:"model_state"`
	FramesDecoded  int     `json:"frames_decoded"`
	ReportID       string  `json:"report_id,omitempty"`
	VideoURL       string  `json:"video_url,omitempty"`
	VideoName      string  `json:"video_name,omitempty"`
	Location       string  `json:"location,omitempty"`
	Source         string  `json:"source"`
	AnalyzedAt     string  `json:"analyzed_at"`
}

type AnalysesResponse struct {
	Analyses []AnalysisResponse `json:"analyses"`
}

type EnqueueResponse struct {
	JobID string `json:"job_id"`
}

type JobResponse struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	VideoURL   string `json:"video_url,omitempty"`
	ReportID   string `json:"report_id,omitempty"`
	AnalysisID string `json:"analysis_id,omitempty"`
	Progress   int    `json:"progress"`
	Error      string `json:"error,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func AnalysisToResponse(a *analysis.Analysis) AnalysisResponse {
	return AnalysisResponse{
		AnalysisID:     a.ID,
		CrimeType:      a.CrimeType,
		Confidence:     a.Confidence,
		Description:    a.Description,
		DetailedReport: a.Description,
		Summary:        a.Summary,
		Recommendation: a.Recommendation,
		Status:         a.Status,
		Reason:         a.Reason,
		ModelState:     a.ModelState,
		FramesDecoded:  a.FramesDecoded,
		ReportID:       a.ReportID,
		VideoURL:       a.VideoURL,
		VideoName:      a.VideoName,
		Location:       a.Location,
		Source:         a.Source,
		AnalyzedAt:     a.AnalyzedAt.Format(time.RFC3339),
	}
}

func JobToResponse(j *analysis.Job) JobResponse {
	return JobResponse{
		ID:         j.ID,
		Type:       j.Type,
		Status:     j.Status,
		VideoURL:   j.VideoURL,
		ReportID:   j.ReportID,
		AnalysisID: j.AnalysisID,
		Progress:   j.Progress,
		Error:      j.Error,
		CreatedAt:  j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  j.UpdatedAt.Format(time.RFC3339),
	}
}
