package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Persister saves a raw HTML snapshot and returns the path it was written
// to. Implementations are injected so tests can use an in-memory stub.
type Persister interface {
	Persist(html []byte, ts time.Time) (string, error)
}

// FilePersister writes raw HTML snapshots under
// {baseDir}/archive_storage/raw_html/YYYY/MM/DD/<timestamp>_<sha>_<uuid>.html
// matching the artefact path convention from the system's external
// interfaces.
type FilePersister struct {
	BaseDir string
}

// Persist writes html to disk and returns the artefact path, rooted at
// BaseDir.
func (p FilePersister) Persist(html []byte, ts time.Time) (string, error) {
	sum := sha256.Sum256(html)
	shaPrefix := hex.EncodeToString(sum[:])[:12]

	dir := filepath.Join(p.BaseDir, "archive_storage", "raw_html",
		ts.Format("2006"), ts.Format("01"), ts.Format("02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("extract: mkdir snapshot dir: %w", err)
	}

	filename := fmt.Sprintf("%d_%s_%s.html", ts.Unix(), shaPrefix, uuid.New().String())
	path := filepath.Join(dir, filename)

	if err := os.WriteFile(path, html, 0o644); err != nil {
		return "", fmt.Errorf("extract: write snapshot: %w", err)
	}
	return path, nil
}

// NoopPersister discards the snapshot and returns an empty path; used in
// tests and for runs that don't need raw-HTML retention.
type NoopPersister struct{}

// Persist implements Persister by doing nothing.
func (NoopPersister) Persist(_ []byte, _ time.Time) (string, error) {
	return "", nil
}
