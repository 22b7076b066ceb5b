// Package source reads the term calendar and slot pattern documents from
// local paths or from http(s) URLs. Remote documents are revalidated with
// ETag / Last-Modified and the last good copy is served when the origin is
// down.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tailscale/hujson"

	appLog "schedmaker/internal/log"
)

// maxDocumentBytes bounds a remote document. Real term and slot files are a
// few kilobytes.
const maxDocumentBytes = 4 << 20

// Result is the outcome of reading one document.
type Result struct {
	Location  string
	Body      []byte
	FromCache bool
}

// Fetcher reads documents.
type Fetcher struct {
	client *http.Client
	cache  docCache
}

// NewFetcher creates a Fetcher caching under cacheDir.
func NewFetcher(cacheDir string) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/source-cache"
	}
	return &Fetcher{
		client: &http.Client{Timeout: 15 * time.Second},
		cache:  docCache{dir: cacheDir},
	}
}

// IsURL reports whether location should be fetched over HTTP.
func IsURL(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// Read implements timetable.Reader.
func (f *Fetcher) Read(ctx context.Context, location string) ([]byte, error) {
	res, err := f.Fetch(ctx, location)
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}

// Fetch reads a local file or fetches a URL.
func (f *Fetcher) Fetch(ctx context.Context, location string) (Result, error) {
	if location == "" {
		return Result{}, errors.New("source location is empty")
	}
	if !IsURL(location) {
		body, err := os.ReadFile(location)
		if err != nil {
			return Result{}, err
		}
		appLog.Debug("source read from disk", "path", location, "bytes", len(body))
		return Result{Location: location, Body: body}, nil
	}

	cached, haveCache := f.cache.load(location)
	body, notModified, validators, err := f.get(ctx, location, cached)
	switch {
	case err != nil && haveCache:
		appLog.Warn("source unavailable; serving last good copy",
			"url", redactURL(location), "stored_at", cached.StoredAt.Format(time.RFC3339), "error", err.Error())
		return Result{Location: location, Body: []byte(cached.Body), FromCache: true}, nil
	case err != nil:
		return Result{}, err
	case notModified && haveCache:
		appLog.Debug("source not modified", "url", redactURL(location))
		return Result{Location: location, Body: []byte(cached.Body), FromCache: true}, nil
	case notModified:
		return Result{}, fmt.Errorf("fetch %s: 304 without a cached copy", redactURL(location))
	}

	validators.URL = location
	validators.Body = string(body)
	if err := f.cache.store(validators); err != nil {
		appLog.Error("source cache write failed", err, "url", redactURL(location))
	}
	appLog.Info("source fetched", "url", redactURL(location), "bytes", len(body))
	return Result{Location: location, Body: body}, nil
}

// get performs one conditional GET. A 200 body must be well-formed JSONC so
// an error page from a proxy never replaces the last good copy.
func (f *Fetcher) get(ctx context.Context, url string, cached cachedDocument) ([]byte, bool, cachedDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, cachedDocument{}, err
	}
	if cached.ETag != "" {
		req.Header.Set("If-None-Match", cached.ETag)
	}
	if cached.LastModified != "" {
		req.Header.Set("If-Modified-Since", cached.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, false, cachedDocument{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		return nil, true, cachedDocument{}, nil
	case http.StatusOK:
	default:
		return nil, false, cachedDocument{}, fmt.Errorf("fetch %s: %s", redactURL(url), resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
	if err != nil {
		return nil, false, cachedDocument{}, err
	}
	if len(body) > maxDocumentBytes {
		return nil, false, cachedDocument{}, fmt.Errorf("fetch %s: document larger than %d bytes", redactURL(url), maxDocumentBytes)
	}
	if _, err := hujson.Parse(body); err != nil {
		return nil, false, cachedDocument{}, fmt.Errorf("fetch %s: not a JSON document: %w", redactURL(url), err)
	}

	return body, false, cachedDocument{
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}, nil
}

// redactURL keeps scheme and host only, e.g.
// https://example.com/private/term.jsonc?token=x -> https://example.com/...(redacted)
func redactURL(u string) string {
	i := strings.Index(u, "://")
	if i == -1 {
		return "source://...(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	return u[:i+3] + rest + "/...(redacted)"
}
