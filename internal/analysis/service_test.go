package analysis

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/crimewatch/crimewatch/internal/db"
	"github.com/crimewatch/crimewatch/internal/detect"
	"github.com/crimewatch/crimewatch/internal/fetch"
)

func setupTestDB(t *testing.T) (*db.DB, Repository) {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := db.New(dbPath, nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := NewRepository(database.Conn())
	return database, repo
}

type fakePredictor struct {
	mu      sync.Mutex
	sources []string
	existed []bool
	outcome detect.Outcome
}

func (p *fakePredictor) Predict(_ context.Context, source string) detect.Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sources = append(p.sources, source)
	_, err := os.Stat(source)
	p.existed = append(p.existed, source != "" && err == nil)
	return p.outcome
}

func (p *fakePredictor) ModelState() detect.ModelState { return detect.StateLoaded }

func (p *fakePredictor) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sources)
}

func okOutcome() detect.Outcome {
	return detect.Outcome{
		CrimeType:      "Arson",
		Confidence:     0.83,
		Description:    "Arson is the act of deliberately setting fire to property.",
		Summary:        "Suspected case of Arson detected in the submitted video footage.",
		Recommendation: "Further investigation is recommended by the concerned law enforcement authority.",
		Status:         detect.StatusOK,
		ModelState:     detect.StateLoaded,
		FramesDecoded:  16,
	}
}

type fakeFetcher struct {
	dir  string
	err  error
	urls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (string, error) {
	f.urls = append(f.urls, rawURL)
	if f.err != nil {
		return "", f.err
	}
	path := filepath.Join(f.dir, "dl-test.mp4")
	if err := os.WriteFile(path, []byte("video"), 0644); err != nil {
		return "", err
	}
	return path, nil
}

func newTestService(t *testing.T, pred *fakePredictor, fetcher fetch.Fetcher) (*Service, Repository, string) {
	t.Helper()
	_, repo := setupTestDB(t)
	cacheDir := filepath.Join(t.TempDir(), "cache")
	svc := NewService(repo, pred, fetcher, Options{CacheDir: cacheDir, MaxUploadBytes: 1024}, nil)
	return svc, repo, cacheDir
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("ReadDir(%s): %v", dir, err)
	}
	if len(entries) != 0 {
		t.Errorf("%s has %d leftover files", dir, len(entries))
	}
}

func TestService_AnalyzeUpload(t *testing.T) {
	pred := &fakePredictor{outcome: okOutcome()}
	svc, repo, cacheDir := newTestService(t, pred, &fakeFetcher{dir: t.TempDir()})
	ctx := context.Background()

	a, err := svc.AnalyzeUpload(ctx, strings.NewReader("fake video"), "clip.MOV", Request{ReportID: "r-1"})
	if err != nil {
		t.Fatalf("AnalyzeUpload() error = %v", err)
	}

	if a.CrimeType != "Arson" || a.Confidence != 0.83 {
		t.Errorf("result = %s/%v", a.CrimeType, a.Confidence)
	}
	if a.Source != SourceUpload || a.VideoName != "clip.MOV" || a.ReportID != "r-1" {
		t.Errorf("analysis = %+v", a)
	}
	if !pred.existed[0] {
		t.Error("upload was not on disk during prediction")
	}
	if filepath.Ext(pred.sources[0]) != ".mov" {
		t.Errorf("spooled file %s should keep the video extension", pred.sources[0])
	}
	assertDirEmpty(t, cacheDir)

	stored, err := repo.GetAnalysis(ctx, a.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetAnalysis() = %v, %v", stored, err)
	}
	if stored.CrimeType != "Arson" || stored.Status != "ok" || stored.FramesDecoded != 16 {
		t.Errorf("stored = %+v", stored)
	}
}

func TestService_AnalyzeUpload_TooLarge(t *testing.T) {
	pred := &fakePredictor{outcome: okOutcome()}
	svc, repo, cacheDir := newTestService(t, pred, &fakeFetcher{dir: t.TempDir()})

	_, err := svc.AnalyzeUpload(context.Background(), bytes.NewReader(make([]byte, 2048)), "big.mp4", Request{})
	if !errors.Is(err, ErrUploadTooLarge) {
		t.Fatalf("error = %v, want ErrUploadTooLarge", err)
	}
	if pred.calls() != 0 {
		t.Error("predictor should not run for rejected upload")
	}
	assertDirEmpty(t, cacheDir)

	if n, _ := repo.CountAnalyses(context.Background()); n != 0 {
		t.Errorf("CountAnalyses = %d, want 0", n)
	}
}

func TestService_AnalyzeUpload_LocationContext(t *testing.T) {
	pred := &fakePredictor{outcome: okOutcome()}
	svc, _, _ := newTestService(t, pred, &fakeFetcher{dir: t.TempDir()})

	a, err := svc.AnalyzeUpload(context.Background(), strings.NewReader("x"), "a.mp4", Request{Location: "Main St"})
	if err != nil {
		t.Fatal(err)
	}
	want := okOutcome().Description + "\n\nLocation context: The incident occurred at Main St."
	if a.Description != want {
		t.Errorf("Description = %q, want %q", a.Description, want)
	}
}

func TestService_AnalyzeUpload_StorageFailureStillReturns(t *testing.T) {
	database, repo := setupTestDB(t)
	pred := &fakePredictor{outcome: okOutcome()}
	svc := NewService(repo, pred, &fakeFetcher{}, Options{CacheDir: t.TempDir()}, nil)

	database.Close()

	a, err := svc.AnalyzeUpload(context.Background(), strings.NewReader("x"), "a.mp4", Request{})
	if err != nil {
		t.Fatalf("AnalyzeUpload() error = %v", err)
	}
	if a.CrimeType != "Arson" {
		t.Errorf("CrimeType = %s", a.CrimeType)
	}
}

func TestService_AnalyzeURL(t *testing.T) {
	pred := &fakePredictor{outcome: okOutcome()}
	dlDir := t.TempDir()
	fetcher := &fakeFetcher{dir: dlDir}
	svc, _, _ := newTestService(t, pred, fetcher)

	a, err := svc.AnalyzeURL(context.Background(), Request{
		VideoURL: "https://cdn.example.com/evidence/cam1.mp4?token=abc",
		ReportID: "r-2",
	})
	if err != nil {
		t.Fatalf("AnalyzeURL() error = %v", err)
	}
	if a.Source != SourceURL || a.VideoName != "cam1.mp4" || a.ReportID != "r-2" {
		t.Errorf("analysis = %+v", a)
	}
	if !pred.existed[0] {
		t.Error("download was not on disk during prediction")
	}
	assertDirEmpty(t, dlDir)
}

func TestService_AnalyzeURL_FetchFailureUsesBlankPath(t *testing.T) {
	pred := &fakePredictor{outcome: okOutcome()}
	fetcher := &fakeFetcher{err: &fetch.FetchError{StatusCode: 404, Body: "gone"}}
	svc, _, _ := newTestService(t, pred, fetcher)

	a, err := svc.AnalyzeURL(context.Background(), Request{VideoURL: "https://example.com/x.mp4"})
	if err != nil {
		t.Fatalf("AnalyzeURL() error = %v", err)
	}
	if a == nil || pred.calls() != 1 || pred.sources[0] != "" {
		t.Errorf("expected prediction on empty source, got %v", pred.sources)
	}
}

func TestService_AnalyzeURL_Validation(t *testing.T) {
	pred := &fakePredictor{outcome: okOutcome()}
	svc, _, _ := newTestService(t, pred, &fakeFetcher{err: fetch.ErrUnsupportedScheme})

	if _, err := svc.AnalyzeURL(context.Background(), Request{}); !errors.Is(err, ErrMissingURL) {
		t.Errorf("empty url error = %v", err)
	}
	if _, err := svc.AnalyzeURL(context.Background(), Request{VideoURL: "file:///etc/passwd"}); !errors.Is(err, ErrInvalidURL) {
		t.Errorf("file url error = %v", err)
	}
	if pred.calls() != 0 {
		t.Error("predictor should not run for invalid requests")
	}
}

func TestService_Queries(t *testing.T) {
	pred := &fakePredictor{outcome: okOutcome()}
	svc, _, _ := newTestService(t, pred, &fakeFetcher{dir: t.TempDir()})
	ctx := context.Background()

	first, _ := svc.AnalyzeUpload(ctx, strings.NewReader("a"), "a.mp4", Request{ReportID: "r-1"})
	pred.outcome.CrimeType = "Abuse"
	second, _ := svc.AnalyzeUpload(ctx, strings.NewReader("b"), "b.mp4", Request{ReportID: "r-1"})
	svc.AnalyzeUpload(ctx, strings.NewReader("c"), "c.mp4", Request{ReportID: "r-2"})

	latest, err := svc.LatestForReport(ctx, "r-1")
	if err != nil || latest == nil {
		t.Fatalf("LatestForReport() = %v, %v", latest, err)
	}
	if latest.ID != second.ID {
		t.Errorf("latest = %s, want %s", latest.ID, second.ID)
	}

	list, err := svc.ListAnalyses(ctx, "r-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Errorf("ListAnalyses order wrong: %d results", len(list))
	}

	all, _ := svc.ListAnalyses(ctx, "", 0)
	if len(all) != 3 {
		t.Errorf("ListAnalyses(all) = %d, want 3", len(all))
	}

	missing, err := svc.LatestForReport(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("LatestForReport(missing) = %v, %v", missing, err)
	}
}

func TestService_EnqueueURL(t *testing.T) {
	pred := &fakePredictor{outcome: okOutcome()}
	svc, repo, _ := newTestService(t, pred, &fakeFetcher{dir: t.TempDir()})
	ctx := context.Background()

	job, err := svc.EnqueueURL(ctx, Request{VideoURL: "https://example.com/v.mp4", Location: "Dock 4"})
	if err != nil {
		t.Fatalf("EnqueueURL() error = %v", err)
	}
	if job.Status != JobStatusPending || job.Type != JobTypeAnalyzeURL {
		t.Errorf("job = %+v", job)
	}

	pending, _ := repo.ListPendingJobs(ctx)
	if len(pending) != 1 || pending[0].Location != "Dock 4" {
		t.Errorf("pending = %v", pending)
	}

	if _, err := svc.EnqueueURL(ctx, Request{VideoURL: "ftp://example.com/v.mp4"}); !errors.Is(err, ErrInvalidURL) {
		t.Errorf("ftp url error = %v", err)
	}
}

func TestWithLocation(t *testing.T) {
	if got := WithLocation("desc", ""); got != "desc" {
		t.Errorf("empty location = %q", got)
	}
	if got := WithLocation("desc", "  "); got != "desc" {
		t.Errorf("blank location = %q", got)
	}
	if got := WithLocation("desc", "Pier 9"); got != "desc\n\nLocation context: The incident occurred at Pier 9." {
		t.Errorf("location = %q", got)
	}
}

func TestVideoName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://x.com/a/b/clip.mp4", "clip.mp4"},
		{"https://x.com/clip.mp4?sig=1#t=3", "clip.mp4"},
		{"https://x.com/", "https://x.com/"},
	}
	for _, tt := range tests {
		if got := videoName(tt.in); got != tt.want {
			t.Errorf("videoName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
