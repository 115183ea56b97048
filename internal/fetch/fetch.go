// Package fetch retrieves timetable pages over HTTP with a disk-backed
// conditional cache, and can fall back to a headless-Chromium render for
// deployments where the timetabling frontend is script-rendered.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "unmcal/internal/log"
)

// timetablePathPrefix is the report path the list view lives under. The port
// is not checked anywhere: the site moves ports between academic years.
const timetablePathPrefix = "/reporting/TextSpreadsheet"

// URLError reports a URL that does not point at the timetabling site's
// list-view report.
type URLError struct {
	Msg string
}

func (e *URLError) Error() string {
	return "fetch: " + e.Msg
}

// ValidateURL checks that raw points at the timetabling site's list-view
// report: the hostname must match wantHost and the path must be a
// TextSpreadsheet report.
func ValidateURL(raw, wantHost string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &URLError{Msg: "invalid URL: " + err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &URLError{Msg: fmt.Sprintf("unsupported URL scheme %q", u.Scheme)}
	}
	if u.Hostname() != wantHost {
		return &URLError{Msg: fmt.Sprintf("host %q is not the timetabling site %q", u.Hostname(), wantHost)}
	}
	if !strings.HasPrefix(u.Path, timetablePathPrefix) {
		return &URLError{Msg: fmt.Sprintf("path %q is not a %s report; is the timetable in list view?", u.Path, timetablePathPrefix)}
	}
	return nil
}

// Result is the outcome of fetching one timetable page.
type Result struct {
	Body      []byte
	FromCache bool // true when the cached copy was reused (304 or network failure)
}

// cacheEntry holds HTTP cache metadata for a single page URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher fetches timetable pages with ETag / Last-Modified revalidation and
// a disk cache keyed by URL hash.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher creates a Fetcher caching under cacheDir with the given request
// timeout.
func NewFetcher(cacheDir string, timeout time.Duration) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/page-cache"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		cacheDir: cacheDir,
	}
}

// Page fetches one timetable page, honoring conditional headers from the
// cache. On a network error or non-OK status the cached body, if any, is
// returned instead of failing the whole conversion.
func (f *Fetcher) Page(ctx context.Context, pageURL string) (Result, error) {
	if pageURL == "" {
		return Result{}, errors.New("fetch: page URL is empty")
	}

	cachePath := f.cachePathForURL(pageURL)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return Result{}, err
	}

	meta, _ := f.loadCacheMeta(cachePath)
	cachedBody, _ := os.ReadFile(filepath.Join(cachePath, "body.html"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Result{}, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	appLog.Info("page fetch start", "url", RedactURL(pageURL))

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cachedBody) > 0 {
			appLog.Error("page fetch network error, using cached body", err, "url", RedactURL(pageURL))
			return Result{Body: cachedBody, FromCache: true}, nil
		}
		return Result{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return Result{}, readErr
		}

		newMeta := cacheEntry{
			URL:          pageURL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			UpdatedAt:    time.Now().UTC(),
		}
		if err := f.saveCache(cachePath, newMeta, body); err != nil {
			// Log but still return the freshly fetched body.
			appLog.Error("page cache save failed", err, "url", RedactURL(pageURL))
		}

		appLog.Info("page fetch success", "url", RedactURL(pageURL), "bytes", len(body))
		return Result{Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return Result{}, errors.New("fetch: 304 Not Modified but no cached body available")
		}
		appLog.Info("page not modified; using cache", "url", RedactURL(pageURL))
		return Result{Body: cachedBody, FromCache: true}, nil

	default:
		if len(cachedBody) > 0 {
			appLog.Error("page fetch non-OK, using cached body", errors.New(resp.Status), "url", RedactURL(pageURL), "status", resp.StatusCode)
			return Result{Body: cachedBody, FromCache: true}, nil
		}
		return Result{}, fmt.Errorf("fetch: %s", resp.Status)
	}
}

// PurgeOlderThan removes cache entries whose metadata has not been refreshed
// within maxAge. It returns how many entries were removed.
func (f *Fetcher) PurgeOlderThan(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(f.cacheDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		dir := filepath.Join(f.cacheDir, ent.Name())
		meta, err := f.loadCacheMeta(dir)
		if err == nil && meta.UpdatedAt.After(cutoff) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			appLog.Error("cache purge failed for entry", err, "dir", dir)
			continue
		}
		removed++
	}
	return removed, nil
}

func (f *Fetcher) cachePathForURL(pageURL string) string {
	sum := sha256.Sum256([]byte(pageURL))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.html"), body, 0o600); err != nil {
		return err
	}

	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// RedactURL trims a timetable URL down to its host for logging. The path
// encodes the student's programme of study, which does not belong in logs.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "(unparseable url)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
