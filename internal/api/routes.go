package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/crimewatch/crimewatch/internal/analysis"
	"github.com/crimewatch/crimewatch/internal/config"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	// multipart framing and the small form fields around the file part.
	formOverheadBytes = 1 << 20
	formMemoryBytes   = 32 << 20

	healthPingTimeout = 2 * time.Second
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSMiddleware(cfg.CORSOrigins))

	r.Get("/health", healthHandler(cfg))
	r.Post("/predict", predictHandler(cfg))
	r.Post("/analyze-video", analyzeVideoHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Tokens, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/analyses", listAnalysesHandler(cfg))
		r.Get("/analyses/{id}", getAnalysisHandler(cfg))
		r.Get("/reports/{id}/analysis", reportAnalysisHandler(cfg))
		r.Post("/jobs", enqueueHandler(cfg))
		r.Get("/jobs", listJobsHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))
		r.Post("/jobs/pause", runnerHandler(cfg, true))
		r.Post("/jobs/resume", runnerHandler(cfg, false))
		r.Post("/tools/refresh", refreshToolsHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		version := cfg.Version
		if version == "" {
			version = config.Version
		}
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		resp := HealthResponse{
			Status:     "ok",
			Version:    version,
			UptimeS:    uptime,
			ModelState: string(cfg.Service.ModelState()),
		}
		code := http.StatusOK

		if cfg.Database != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
			err := cfg.Database.Ping(ctx)
			cancel()
			resp.Database = "ok"
			if err != nil {
				cfg.Logger.Error("health check database ping failed", "error", err)
				resp.Status = "degraded"
				resp.Database = "unreachable"
				code = http.StatusServiceUnavailable
			}
		}
		// Peek never spawns the tools; /status and /tools/refresh do.
		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil {
				canDecode := caps.CanDecode
				resp.CanDecode = &canDecode
			}
		}

		WriteJSON(w, code, resp)
	}
}

func predictHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.MaxUploadBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes+formOverheadBytes)
		}

		if err := r.ParseMultipartForm(formMemoryBytes); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				WriteError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit", "TOO_LARGE")
				return
			}
			WriteError(w, http.StatusBadRequest, "expected multipart form with a file field", "BAD_REQUEST")
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			WriteError(w, http.StatusBadRequest, "file is required", "BAD_REQUEST")
			return
		}
		defer file.Close()

		req := analysis.Request{
			ReportID: r.FormValue("report_id"),
			Location: r.FormValue("location"),
		}

		a, err := cfg.Service.AnalyzeUpload(r.Context(), file, header.Filename, req)
		if err != nil {
			writeAnalyzeError(w, cfg, err)
			return
		}

		writeAnalysis(w, cfg, a)
	}
}

func analyzeVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AnalyzeVideoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		a, err := cfg.Service.AnalyzeURL(r.Context(), analysis.Request{
			VideoURL: req.VideoURL,
			ReportID: req.ReportID,
			Location: req.Location,
		})
		if err != nil {
			writeAnalyzeError(w, cfg, err)
			return
		}

		writeAnalysis(w, cfg, a)
	}
}

// writeAnalysis returns the prediction. Degraded results are reported as 503
// unless the server masks them.
func writeAnalysis(w http.ResponseWriter, cfg ServerConfig, a *analysis.Analysis) {
	if a.Degraded() && !cfg.MaskDegraded {
		WriteError(w, http.StatusServiceUnavailable, "prediction unavailable: "+a.Reason, "DEGRADED")
		return
	}
	WriteJSON(w, http.StatusOK, AnalysisToResponse(a))
}

func writeAnalyzeError(w http.ResponseWriter, cfg ServerConfig, err error) {
	switch {
	case errors.Is(err, analysis.ErrUploadTooLarge):
		WriteError(w, http.StatusRequestEntityTooLarge, err.Error(), "TOO_LARGE")
	case errors.Is(err, analysis.ErrMissingURL), errors.Is(err, analysis.ErrInvalidURL):
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
	default:
		cfg.Logger.Error("analysis failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "analysis failed", "INTERNAL_ERROR")
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		count, _ := cfg.Service.CountAnalyses(ctx)
		jobs, _ := cfg.Service.ListJobs(ctx, 10)

		state := "idle"
		var activeJob *JobResponse
		jobsRunning := 0
		jobsPending := 0
		lastError := ""

		if cfg.Runner != nil && cfg.Runner.IsPaused() {
			state = "paused"
		}

		for _, j := range jobs {
			switch j.Status {
			case analysis.JobStatusRunning:
				state = "analyzing"
				resp := JobToResponse(j)
				activeJob = &resp
				jobsRunning++
			case analysis.JobStatusPending:
				jobsPending++
			case analysis.JobStatusFailed:
				if lastError == "" {
					lastError = j.Error
				}
			}
		}

		if lastError != "" && state == "idle" {
			state = "error"
		}

		resp := StatusResponse{
			State:         state,
			LastError:     lastError,
			ModelState:    string(cfg.Service.ModelState()),
			AnalysesCount: count,
			JobsPending:   jobsPending,
			JobsRunning:   jobsRunning,
			ActiveJob:     activeJob,
		}

		if cfg.Doctor != nil {
			caps, err := cfg.Doctor.Get(ctx)
			if err == nil && caps != nil {
				resp.Tools = CapabilitiesToResponse(caps)
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func runnerHandler(cfg ServerConfig, pause bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusServiceUnavailable, "job runner not configured", "UNAVAILABLE")
			return
		}
		if pause {
			cfg.Runner.Pause()
		} else {
			cfg.Runner.Resume()
		}
		WriteJSON(w, http.StatusOK, RunnerResponse{
			Running: cfg.Runner.IsRunning(),
			Paused:  cfg.Runner.IsPaused(),
		})
	}
}

// refreshToolsHandler drops the cached probe and re-runs it, so a stale
// result is never returned.
func refreshToolsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Doctor == nil {
			WriteError(w, http.StatusServiceUnavailable, "tool probing not configured", "UNAVAILABLE")
			return
		}
		cfg.Doctor.Invalidate()
		caps, err := cfg.Doctor.Refresh(r.Context())
		if err != nil || caps == nil {
			WriteError(w, http.StatusServiceUnavailable, "tool probe failed", "PROBE_FAILED")
			return
		}
		WriteJSON(w, http.StatusOK, CapabilitiesToResponse(caps))
	}
}

func parseLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, true
}

func listAnalysesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := parseLimit(r)
		if !ok {
			WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
			return
		}

		list, err := cfg.Service.ListAnalyses(r.Context(), r.URL.Query().Get("report_id"), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list analyses", "INTERNAL_ERROR")
			return
		}

		resp := AnalysesResponse{Analyses: make([]AnalysisResponse, len(list))}
		for i, a := range list {
			resp.Analyses[i] = AnalysisToResponse(a)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getAnalysisHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "analysis id required", "BAD_REQUEST")
			return
		}

		a, err := cfg.Service.GetAnalysis(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if a == nil {
			WriteError(w, http.StatusNotFound, "analysis not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, AnalysisToResponse(a))
	}
}

func reportAnalysisHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reportID := chi.URLParam(r, "id")
		if reportID == "" {
			WriteError(w, http.StatusBadRequest, "report id required", "BAD_REQUEST")
			return
		}

		a, err := cfg.Service.LatestForReport(r.Context(), reportID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if a == nil {
			WriteError(w, http.StatusNotFound, "no analysis for report", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, AnalysisToResponse(a))
	}
}

func enqueueHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AnalyzeVideoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		job, err := cfg.Service.EnqueueURL(r.Context(), analysis.Request{
			VideoURL: req.VideoURL,
			ReportID: req.ReportID,
			Location: req.Location,
		})
		if err != nil {
			writeAnalyzeError(w, cfg, err)
			return
		}

		WriteJSON(w, http.StatusAccepted, EnqueueResponse{JobID: job.ID})
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := parseLimit(r)
		if !ok {
			WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
			return
		}

		jobs, err := cfg.Service.ListJobs(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "job id required", "BAD_REQUEST")
			return
		}

		job, err := cfg.Service.GetJob(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if job == nil {
			WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}
