package analysis

import (
	"context"
	"database/sql"
	"time"

	"github.com/crimewatch/crimewatch/internal/db"
)

type Repository interface {
	CreateAnalysis(ctx context.Context, a *Analysis) error
	GetAnalysis(ctx context.Context, id string) (*Analysis, error)
	ListAnalyses(ctx context.Context, reportID string, limit int) ([]*Analysis, error)
	LatestForReport(ctx context.Context, reportID string) (*Analysis, error)
	CountAnalyses(ctx context.Context) (int, error)

	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	ListPendingJobs(ctx context.Context) ([]*Job, error)
	UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateJobProgress(ctx context.Context, id string, progress int) error
	CompleteJob(ctx context.Context, id, analysisID string) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const analysisColumns = `id, report_id, video_url, video_name, location, crime_type, confidence,
	description, summary, recommendation, status, reason, model_state, frames_decoded, source, analyzed_at`

func (r *SQLiteRepository) CreateAnalysis(ctx context.Context, a *Analysis) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO analyses (`+analysisColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, nullString(a.ReportID), nullString(a.VideoURL), nullString(a.VideoName), nullString(a.Location),
		a.CrimeType, a.Confidence, a.Description, a.Summary, a.Recommendation,
		a.Status, nullString(a.Reason), a.ModelState, a.FramesDecoded, a.Source,
		formatTime(a.AnalyzedAt))
	return err
}

func (r *SQLiteRepository) GetAnalysis(ctx context.Context, id string) (*Analysis, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE id = ?`, id)
	return scanAnalysis(row)
}

func (r *SQLiteRepository) LatestForReport(ctx context.Context, reportID string) (*Analysis, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+analysisColumns+` FROM analyses
		WHERE report_id = ? ORDER BY analyzed_at DESC, rowid DESC LIMIT 1
	`, reportID)
	return scanAnalysis(row)
}

// ListAnalyses returns the newest analyses first, optionally filtered by report.
func (r *SQLiteRepository) ListAnalyses(ctx context.Context, reportID string, limit int) ([]*Analysis, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows *sql.Rows
	var err error
	if reportID != "" {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+analysisColumns+` FROM analyses
			WHERE report_id = ? ORDER BY analyzed_at DESC, rowid DESC LIMIT ?
		`, reportID, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+analysisColumns+` FROM analyses
			ORDER BY analyzed_at DESC, rowid DESC LIMIT ?
		`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) CountAnalyses(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM analyses").Scan(&count)
	return count, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row scanner) (*Analysis, error) {
	var a Analysis
	var reportID, videoURL, videoName, location, reason sql.NullString
	var analyzedAt string

	err := row.Scan(&a.ID, &reportID, &videoURL, &videoName, &location, &a.CrimeType, &a.Confidence,
		&a.Description, &a.Summary, &a.Recommendation, &a.Status, &reason, &a.ModelState,
		&a.FramesDecoded, &a.Source, &analyzedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	a.ReportID = reportID.String
	a.VideoURL = videoURL.String
	a.VideoName = videoName.String
	a.Location = location.String
	a.Reason = reason.String
	a.AnalyzedAt = parseTime(analyzedAt)
	return &a, nil
}

const jobColumns = `id, type, status, video_url, report_id, location, analysis_id, progress, error, created_at, updated_at`

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Type, j.Status, nullString(j.VideoURL), nullString(j.ReportID), nullString(j.Location),
		nullString(j.AnalysisID), j.Progress, nullString(j.Error),
		formatTime(j.CreatedAt), formatTime(j.UpdatedAt))
	return err
}

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

func (r *SQLiteRepository) ListPendingJobs(ctx context.Context) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE status = 'pending' ORDER BY created_at ASC, rowid ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

func scanJob(row scanner) (*Job, error) {
	var j Job
	var videoURL, reportID, location, analysisID, errMsg sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&j.ID, &j.Type, &j.Status, &videoURL, &reportID, &location, &analysisID,
		&j.Progress, &errMsg, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	j.VideoURL = videoURL.String
	j.ReportID = reportID.String
	j.Location = location.String
	j.AnalysisID = analysisID.String
	j.Error = errMsg.String
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *SQLiteRepository) UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, status, nullString(errorMsg), formatTime(time.Now()), id)
	return err
}

func (r *SQLiteRepository) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET progress = ?, updated_at = ? WHERE id = ?
	`, progress, formatTime(time.Now()), id)
	return err
}

// CompleteJob marks a job completed and links its analysis.
func (r *SQLiteRepository) CompleteJob(ctx context.Context, id, analysisID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, analysis_id = ?, progress = 100, error = NULL, updated_at = ? WHERE id = ?
	`, JobStatusCompleted, nullString(analysisID), formatTime(time.Now()), id)
	return err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func formatTime(t time.Time) string {
	return db.FormatTime(t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
