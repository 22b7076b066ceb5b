package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "term.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{"a": 1}`), 0o600))

	f := NewFetcher(t.TempDir())
	res, err := f.Fetch(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, `{"a": 1}`, string(res.Body))
	assert.False(t, res.FromCache)
}

func TestFetchURLUsesETag(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(`// slots
{"A": []}`))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	ctx := context.Background()

	first, err := f.Fetch(ctx, srv.URL+"/slots.jsonc")
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := f.Fetch(ctx, srv.URL+"/slots.jsonc")
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Body, second.Body)
	assert.EqualValues(t, 2, hits.Load())
}

func TestFetchURLFallsBackToCacheOnServerError(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	_, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	fail.Store(true)
	res, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, "{}", string(res.Body))
}

func TestFetchURLErrorWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := NewFetcher(t.TempDir()).Fetch(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://example.com/...(redacted)", redactURL("https://example.com/private/a.jsonc?token=x"))
	assert.Equal(t, "http://host:8080/...(redacted)", redactURL("http://host:8080"))
	assert.Equal(t, "source://...(redacted)", redactURL("not a url"))
}

func TestFetchURLRejectsNonJSONBody(t *testing.T) {
	var portal atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if portal.Load() {
			_, _ = w.Write([]byte("<html>sign in to the network</html>"))
			return
		}
		_, _ = w.Write([]byte(`{"startingDate": "04/01/2021",}`))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	_, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	portal.Store(true)
	res, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Contains(t, string(res.Body), "startingDate")

	_, err = NewFetcher(t.TempDir()).Fetch(context.Background(), srv.URL)
	assert.ErrorContains(t, err, "not a JSON document")
}

func TestCacheStoresOneFilePerURL(t *testing.T) {
	dir := t.TempDir()
	c := docCache{dir: dir}

	_, ok := c.load("https://example.com/a.jsonc")
	assert.False(t, ok)

	require.NoError(t, c.store(cachedDocument{URL: "https://example.com/a.jsonc", ETag: `"1"`, Body: "{}"}))
	require.NoError(t, c.store(cachedDocument{URL: "https://example.com/b.jsonc", Body: "[]"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	doc, ok := c.load("https://example.com/a.jsonc")
	require.True(t, ok)
	assert.Equal(t, `"1"`, doc.ETag)
	assert.Equal(t, "{}", doc.Body)
	assert.False(t, doc.StoredAt.IsZero())
}
