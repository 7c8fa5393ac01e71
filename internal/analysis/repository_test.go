package analysis

import (
	"context"
	"testing"
	"time"
)

func TestRepository_AnalysisRoundTrip(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := &Analysis{
		ID:             NewID(),
		ReportID:       "r-1",
		VideoURL:       "https://example.com/v.mp4",
		CrimeType:      "Arrest",
		Confidence:     0.72,
		Description:    "desc",
		Summary:        "sum",
		Recommendation: "rec",
		Status:         "low_confidence",
		Reason:         "confidence below threshold",
		ModelState:     "random_init",
		FramesDecoded:  9,
		Source:         SourceURL,
		AnalyzedAt:     at,
	}
	if err := repo.CreateAnalysis(ctx, a); err != nil {
		t.Fatalf("CreateAnalysis() error = %v", err)
	}

	got, err := repo.GetAnalysis(ctx, a.ID)
	if err != nil || got == nil {
		t.Fatalf("GetAnalysis() = %v, %v", got, err)
	}
	if got.Reason != a.Reason || got.VideoURL != a.VideoURL || got.Location != "" {
		t.Errorf("got = %+v", got)
	}
	if !got.AnalyzedAt.Equal(at) {
		t.Errorf("AnalyzedAt = %v, want %v", got.AnalyzedAt, at)
	}

	missing, err := repo.GetAnalysis(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetAnalysis(missing) = %v, %v", missing, err)
	}
}

func TestRepository_ListAnalysesLimit(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 5; i++ {
		repo.CreateAnalysis(ctx, &Analysis{
			ID: NewID(), CrimeType: "Abuse", Status: "ok", ModelState: "loaded", Source: SourceUpload,
			AnalyzedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	list, err := repo.ListAnalyses(ctx, "", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].AnalyzedAt.After(list[i-1].AnalyzedAt) {
			t.Error("list not newest first")
		}
	}
}

func TestRepository_JobLifecycle(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	now := time.Now()
	job := &Job{
		ID: NewID(), Type: JobTypeAnalyzeURL, Status: JobStatusPending,
		VideoURL: "https://example.com/v.mp4", CreatedAt: now, UpdatedAt: now,
	}
	if err := repo.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	if err := repo.UpdateJobProgress(ctx, job.ID, 40); err != nil {
		t.Fatal(err)
	}
	got, _ := repo.GetJob(ctx, job.ID)
	if got.Progress != 40 {
		t.Errorf("Progress = %d, want 40", got.Progress)
	}

	a := &Analysis{ID: NewID(), CrimeType: "Arson", Status: "ok", ModelState: "loaded", Source: SourceJob, AnalyzedAt: now}
	repo.CreateAnalysis(ctx, a)

	if err := repo.CompleteJob(ctx, job.ID, a.ID); err != nil {
		t.Fatalf("CompleteJob() error = %v", err)
	}
	got, _ = repo.GetJob(ctx, job.ID)
	if got.Status != JobStatusCompleted || got.AnalysisID != a.ID || got.Progress != 100 {
		t.Errorf("job = %+v", got)
	}

	pending, _ := repo.ListPendingJobs(ctx)
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}

	jobs, _ := repo.ListJobs(ctx, 10)
	if len(jobs) != 1 {
		t.Errorf("ListJobs = %d, want 1", len(jobs))
	}
}

func TestRepository_Config(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	v, err := repo.GetConfig(ctx, "auth_token")
	if err != nil || v != "" {
		t.Errorf("GetConfig(missing) = %q, %v", v, err)
	}

	repo.SetConfig(ctx, "auth_token", "a")
	repo.SetConfig(ctx, "auth_token", "b")
	v, _ = repo.GetConfig(ctx, "auth_token")
	if v != "b" {
		t.Errorf("GetConfig = %q, want b", v)
	}
}
