// Package fetch downloads remote videos to local files for analysis.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crimewatch/crimewatch/internal/logging"
	"github.com/crimewatch/crimewatch/internal/video"
)

var (
	ErrUnsupportedScheme = errors.New("only http and https URLs are supported")
	ErrTooLarge          = errors.New("download exceeds size limit")
)

// FetchError represents a non-2xx response from the video host.
type FetchError struct {
	StatusCode int
	Body       string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("video download failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx).
// Client errors (4xx) are considered permanent.
func (e *FetchError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// Fetcher downloads a URL into a local file.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (localPath string, err error)
}

// HTTPFetcher downloads over HTTP into a scratch directory.
type HTTPFetcher struct {
	dir        string
	maxBytes   int64
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPFetcher returns a fetcher writing into dir with the given limits.
func NewHTTPFetcher(dir string, maxBytes int64, timeout time.Duration, logger *slog.Logger) *HTTPFetcher {
	if logger == nil {
		logger = logging.Discard()
	}
	return &HTTPFetcher{
		dir:      dir,
		maxBytes: maxBytes,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Fetch downloads rawURL and returns the local path. The caller removes the
// file. Partial downloads are removed on error.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrUnsupportedScheme
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	f.logger.Info("downloading video", "url", logging.SanitizeURL(rawURL))
	start := time.Now()

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &FetchError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return "", ErrTooLarge
	}

	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	dst := filepath.Join(f.dir, "dl-"+uuid.NewString()+extension(u))
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create download file: %w", err)
	}

	src := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		src = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && f.maxBytes > 0 && n > f.maxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("download: %w", err)
	}

	f.logger.Info("video downloaded",
		"bytes", n,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return dst, nil
}

// extension keeps a known video extension from the URL path so the decoder
// can use it as a container hint.
func extension(u *url.URL) string {
	ext := strings.ToLower(path.Ext(u.Path))
	if video.IsVideoFile("x" + ext) {
		return ext
	}
	return ".mp4"
}
