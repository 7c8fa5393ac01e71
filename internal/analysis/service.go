package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/crimewatch/crimewatch/internal/detect"
	"github.com/crimewatch/crimewatch/internal/fetch"
	"github.com/crimewatch/crimewatch/internal/logging"
	"github.com/crimewatch/crimewatch/internal/video"
)

var (
	ErrUploadTooLarge = errors.New("upload exceeds size limit")
	ErrMissingURL     = errors.New("video_url is required")
	ErrInvalidURL     = errors.New("video_url must be an http or https URL")
)

// Predictor is the classification pipeline as seen by the service.
type Predictor interface {
	Predict(ctx context.Context, source string) detect.Outcome
	ModelState() detect.ModelState
}

type AnalysisService interface {
	AnalyzeUpload(ctx context.Context, body io.Reader, filename string, req Request) (*Analysis, error)
	AnalyzeURL(ctx context.Context, req Request) (*Analysis, error)
	EnqueueURL(ctx context.Context, req Request) (*Job, error)
	GetAnalysis(ctx context.Context, id string) (*Analysis, error)
	ListAnalyses(ctx context.Context, reportID string, limit int) ([]*Analysis, error)
	LatestForReport(ctx context.Context, reportID string) (*Analysis, error)
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	CountAnalyses(ctx context.Context) (int, error)
	ModelState() detect.ModelState
}

type Service struct {
	repo           Repository
	predictor      Predictor
	fetcher        fetch.Fetcher
	cacheDir       string
	maxUploadBytes int64
	logger         *slog.Logger
}

type Options struct {
	CacheDir       string
	MaxUploadBytes int64
}

func NewService(repo Repository, predictor Predictor, fetcher fetch.Fetcher, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.CacheDir == "" {
		opts.CacheDir = os.TempDir()
	}
	return &Service{
		repo:           repo,
		predictor:      predictor,
		fetcher:        fetcher,
		cacheDir:       opts.CacheDir,
		maxUploadBytes: opts.MaxUploadBytes,
		logger:         logging.WithComponent(logger, "analysis"),
	}
}

// AnalyzeUpload spools body to the cache directory, classifies it and
// records the result. The spooled file is removed before returning.
func (s *Service) AnalyzeUpload(ctx context.Context, body io.Reader, filename string, req Request) (*Analysis, error) {
	path, err := s.spool(body, filename)
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	a := s.analyze(ctx, path, req, SourceUpload)
	a.VideoName = filepath.Base(filename)
	s.record(ctx, a)
	return a, nil
}

func (s *Service) spool(body io.Reader, filename string) (string, error) {
	if err := os.MkdirAll(s.cacheDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !video.IsVideoFile("x" + ext) {
		ext = ".mp4"
	}
	f, err := os.CreateTemp(s.cacheDir, "upload-*"+ext)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	path := f.Name()

	src := body
	if s.maxUploadBytes > 0 {
		src = io.LimitReader(body, s.maxUploadBytes+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	if s.maxUploadBytes > 0 && n > s.maxUploadBytes {
		os.Remove(path)
		return "", ErrUploadTooLarge
	}
	return path, nil
}

// AnalyzeURL downloads the video and classifies it. A failed download is
// logged and classified as an unreadable source.
func (s *Service) AnalyzeURL(ctx context.Context, req Request) (*Analysis, error) {
	return s.analyzeURL(ctx, req, SourceURL, nil)
}

// Job progress checkpoints. CompleteJob sets 100.
const (
	progressStarted    = 5
	progressDownloaded = 40
	progressPredicted  = 90
)

// analyzeURL downloads and classifies req.VideoURL. progress, when set, is
// called at each checkpoint.
func (s *Service) analyzeURL(ctx context.Context, req Request, source string, progress func(int)) (*Analysis, error) {
	if req.VideoURL == "" {
		return nil, ErrMissingURL
	}
	if progress == nil {
		progress = func(int) {}
	}

	path, err := s.fetcher.Fetch(ctx, req.VideoURL)
	switch {
	case errors.Is(err, fetch.ErrUnsupportedScheme):
		return nil, ErrInvalidURL
	case err != nil:
		s.logger.Warn("video download failed",
			"url", logging.SanitizeURL(req.VideoURL),
			"error", err,
		)
		path = ""
	default:
		defer os.Remove(path)
	}

	progress(progressDownloaded)

	a := s.analyze(ctx, path, req, source)
	a.VideoName = videoName(req.VideoURL)
	progress(progressPredicted)
	s.record(ctx, a)
	return a, nil
}

func (s *Service) analyze(ctx context.Context, path string, req Request, source string) *Analysis {
	out := s.predictor.Predict(ctx, path)
	if out.Degraded() {
		s.logger.Warn("prediction degraded", "reason", out.Reason, "model_state", out.ModelState)
	}

	return &Analysis{
		ID:             NewID(),
		ReportID:       req.ReportID,
		VideoURL:       req.VideoURL,
		Location:       req.Location,
		CrimeType:      out.CrimeType,
		Confidence:     out.Confidence,
		Description:    WithLocation(out.Description, req.Location),
		Summary:        out.Summary,
		Recommendation: out.Recommendation,
		Status:         string(out.Status),
		Reason:         out.Reason,
		ModelState:     string(out.ModelState),
		FramesDecoded:  out.FramesDecoded,
		Source:         source,
		AnalyzedAt:     time.Now(),
	}
}

// record stores the analysis. Callers still get the result when storage fails.
func (s *Service) record(ctx context.Context, a *Analysis) {
	if err := s.repo.CreateAnalysis(ctx, a); err != nil {
		s.logger.Error("failed to store analysis", "analysis_id", a.ID, "error", err)
		return
	}
	logging.WithAnalysisID(s.logger, a.ID).Info("analysis recorded",
		"crime_type", a.CrimeType,
		"confidence", a.Confidence,
		"status", a.Status,
		"report_id", a.ReportID,
	)
}

// WithLocation appends the location context sentence to a description.
func WithLocation(description, location string) string {
	location = strings.TrimSpace(location)
	if location == "" {
		return description
	}
	return description + "\n\nLocation context: The incident occurred at " + location + "."
}

func videoName(rawURL string) string {
	u := rawURL
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	name := u[strings.LastIndexByte(u, '/')+1:]
	if name == "" {
		return rawURL
	}
	return name
}

// EnqueueURL queues a URL analysis for the background runner.
func (s *Service) EnqueueURL(ctx context.Context, req Request) (*Job, error) {
	if req.VideoURL == "" {
		return nil, ErrMissingURL
	}
	if !strings.HasPrefix(req.VideoURL, "http://") && !strings.HasPrefix(req.VideoURL, "https://") {
		return nil, ErrInvalidURL
	}

	now := time.Now()
	job := &Job{
		ID:        NewID(),
		Type:      JobTypeAnalyzeURL,
		Status:    JobStatusPending,
		VideoURL:  req.VideoURL,
		ReportID:  req.ReportID,
		Location:  req.Location,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	logging.WithJobID(s.logger, job.ID).Info("analysis job queued", "url", logging.SanitizeURL(req.VideoURL))
	return job, nil
}

// ExecuteJob runs a queued URL analysis and links the result to the job.
func (s *Service) ExecuteJob(ctx context.Context, job *Job) error {
	log := logging.WithJobID(s.logger, job.ID)

	if err := s.repo.UpdateJobStatus(ctx, job.ID, JobStatusRunning, ""); err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}

	setProgress := func(p int) {
		if err := s.repo.UpdateJobProgress(ctx, job.ID, p); err != nil {
			log.Warn("failed to update job progress", "progress", p, "error", err)
		}
	}
	setProgress(progressStarted)

	a, err := s.analyzeURL(ctx, Request{
		VideoURL: job.VideoURL,
		ReportID: job.ReportID,
		Location: job.Location,
	}, SourceJob, setProgress)
	if err != nil {
		s.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, err.Error())
		return err
	}

	analysisID := a.ID
	if stored, _ := s.repo.GetAnalysis(ctx, a.ID); stored == nil {
		analysisID = ""
	}
	if err := s.repo.CompleteJob(ctx, job.ID, analysisID); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	log.Info("analysis job completed", "analysis_id", a.ID, "crime_type", a.CrimeType, "status", a.Status)
	return nil
}

func (s *Service) GetAnalysis(ctx context.Context, id string) (*Analysis, error) {
	return s.repo.GetAnalysis(ctx, id)
}

func (s *Service) ListAnalyses(ctx context.Context, reportID string, limit int) ([]*Analysis, error) {
	return s.repo.ListAnalyses(ctx, reportID, limit)
}

func (s *Service) LatestForReport(ctx context.Context, reportID string) (*Analysis, error) {
	return s.repo.LatestForReport(ctx, reportID)
}

func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.GetJob(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	return s.repo.ListJobs(ctx, limit)
}

func (s *Service) CountAnalyses(ctx context.Context) (int, error) {
	return s.repo.CountAnalyses(ctx)
}

// ModelState reports the state of the loaded classification model.
func (s *Service) ModelState() detect.ModelState {
	return s.predictor.ModelState()
}
