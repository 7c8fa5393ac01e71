package db

import (
	"path/filepath"
	"testing"
	"time"
)

func TestNew_CreatesDatabase(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	tables := []string{"analyses", "jobs", "config", "_migrations"}
	for _, table := range tables {
		var name string
		err := database.Conn().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestNew_WALEnabled(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	var journalMode string
	err = database.Conn().QueryRow("PRAGMA journal_mode").Scan(&journalMode)
	if err != nil {
		t.Fatalf("PRAGMA journal_mode error = %v", err)
	}

	if journalMode != "wal" {
		t.Errorf("journal_mode = %s, want wal", journalMode)
	}
}

func TestNew_MigrationsIdempotent(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db1, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("first New() error = %v", err)
	}
	db1.Close()

	db2, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer db2.Close()

	var count int
	err = db2.Conn().QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&count)
	if err != nil {
		t.Fatalf("count migrations error = %v", err)
	}

	if count != 2 {
		t.Errorf("migration count = %d, want 2", count)
	}
}

func TestFormatTime_OrdersAsStrings(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{
		base,
		base.Add(100 * time.Millisecond),
		base.Add(120 * time.Millisecond),
		base.Add(time.Second),
	}
	for i := 1; i < len(times); i++ {
		a, b := FormatTime(times[i-1]), FormatTime(times[i])
		if len(a) != len(b) || a >= b {
			t.Errorf("FormatTime(%v) = %q, not before %q", times[i], b, a)
		}
	}
}

func TestMarkInterruptedJobs(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db1, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = db1.Conn().Exec(`
		INSERT INTO jobs (id, type, status, video_url, progress, created_at, updated_at)
		VALUES ('test-job', 'analyze_url', 'running', 'https://cdn.example/v.mp4', 50, '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')
	`)
	if err != nil {
		t.Fatalf("insert job error = %v", err)
	}
	db1.Close()

	db2, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer db2.Close()

	var status, errMsg, updatedAt string
	err = db2.Conn().QueryRow("SELECT status, error, updated_at FROM jobs WHERE id = 'test-job'").Scan(&status, &errMsg, &updatedAt)
	if err != nil {
		t.Fatalf("query job error = %v", err)
	}
	if len(updatedAt) != len(FormatTime(time.Now())) {
		t.Errorf("updated_at = %q, want the fixed-width storage format", updatedAt)
	}
	if _, err := time.Parse(TimeFormat, updatedAt); err != nil {
		t.Errorf("updated_at = %q does not parse: %v", updatedAt, err)
	}

	if status != "failed" {
		t.Errorf("job status = %s, want failed", status)
	}
	if errMsg != "interrupted by restart" {
		t.Errorf("job error = %s, want 'interrupted by restart'", errMsg)
	}
}

func TestMarkInterruptedJobs_LeavesPendingAlone(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db1, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = db1.Conn().Exec(`
		INSERT INTO jobs (id, type, status, progress, created_at, updated_at)
		VALUES ('queued', 'analyze_url', 'pending', 0, '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')
	`)
	if err != nil {
		t.Fatalf("insert job error = %v", err)
	}
	db1.Close()

	db2, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer db2.Close()

	var status string
	if err := db2.Conn().QueryRow("SELECT status FROM jobs WHERE id = 'queued'").Scan(&status); err != nil {
		t.Fatal(err)
	}
	if status != "pending" {
		t.Errorf("pending job status = %s, want pending", status)
	}
}

func TestNew_ForeignKeysEnabled(t *testing.T) {
	database, err := New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	var enabled int
	if err := database.Conn().QueryRow("PRAGMA foreign_keys").Scan(&enabled); err != nil {
		t.Fatal(err)
	}
	if enabled != 1 {
		t.Errorf("foreign_keys = %d, want 1", enabled)
	}
}
