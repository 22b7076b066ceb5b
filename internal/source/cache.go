package source

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// cachedDocument is the last good copy of one remote document together with
// the validators needed to revalidate it.
type cachedDocument struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	StoredAt     time.Time `json:"stored_at"`
	Body         string    `json:"body"`
}

// docCache keeps one JSON file per URL under dir.
type docCache struct {
	dir string
}

func (c docCache) path(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:8])+".json")
}

// load returns the cached copy of url. A missing or unreadable entry is
// reported as ok=false.
func (c docCache) load(url string) (cachedDocument, bool) {
	data, err := os.ReadFile(c.path(url))
	if err != nil {
		return cachedDocument{}, false
	}
	var doc cachedDocument
	if err := json.Unmarshal(data, &doc); err != nil || doc.URL != url || doc.Body == "" {
		return cachedDocument{}, false
	}
	return doc, true
}

// store replaces the entry for doc.URL atomically.
func (c docCache) store(doc cachedDocument) error {
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return err
	}
	doc.StoredAt = time.Now().UTC()
	data, err := json.Marshal(&doc)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(c.dir, ".doc-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, c.path(doc.URL))
}
