package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Persist atomically writes an artifact and registers its metadata. The id
// is the request fingerprint; the reference added here belongs to the
// fingerprint-cache entry the caller is about to publish, on top of any
// references still outstanding for the same id. Readers can never
// observe a partial write: bytes land in a temp file that is fsynced and
// then renamed into place.
func (s *Store) Persist(data []byte, fingerprint, format string) (Meta, error) {
	id := fingerprint
	final := filepath.Join(s.dir, id+"."+format)

	tmp := filepath.Join(s.dir, tmpDir, uuid.NewString())
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return Meta{}, storageError{op: "create temp", err: err}
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return Meta{}, storageError{op: "write", err: err}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return Meta{}, storageError{op: "sync", err: err}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return Meta{}, storageError{op: "close", err: err}
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return Meta{}, storageError{op: "publish", err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Add to whatever is outstanding rather than assign: a re-persist of an
	// expired id must not erase references held by in-progress downloads.
	s.refs[id]++
	now := time.Now()
	m := Meta{
		ID:          id,
		Fingerprint: fingerprint,
		Path:        final,
		SizeBytes:   int64(len(data)),
		Format:      format,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
		LastAccess:  now,
		RefCount:    s.refs[id],
	}
	if err := s.putMeta(m); err != nil {
		_ = os.Remove(final)
		s.releaseLocked(id)
		return Meta{}, storageError{op: "index", err: err}
	}
	return m, nil
}

// Stat returns live metadata for an artifact. Expired artifacts report
// Expired, missing ones NotFound.
func (s *Store) Stat(id string) (Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statLocked(id, time.Now())
}

func (s *Store) statLocked(id string, now time.Time) (Meta, error) {
	m, ok, err := s.getMeta(id)
	if err != nil {
		return Meta{}, err
	}
	if !ok {
		return Meta{}, notFoundError{id: id}
	}
	if m.Expired(now) {
		return Meta{}, expiredError{id: id}
	}
	return m, nil
}

// Get opens an artifact for download. The returned reader holds a download
// reference until closed, so a concurrent reclamation pass cannot delete
// the bytes out from under the caller.
func (s *Store) Get(id string) (io.ReadCloser, Meta, error) {
	s.mu.Lock()
	now := time.Now()
	m, err := s.statLocked(id, now)
	if err != nil {
		s.mu.Unlock()
		return nil, Meta{}, err
	}
	f, err := os.Open(m.Path)
	if err != nil {
		s.mu.Unlock()
		if os.IsNotExist(err) {
			return nil, Meta{}, notFoundError{id: id}
		}
		return nil, Meta{}, storageError{op: "open", err: err}
	}
	s.refs[id]++
	m.LastAccess = now
	m.RefCount = s.refs[id]
	if werr := s.putMeta(m); werr != nil {
		// Access-time bookkeeping is best effort.
		s.log.Warn().Err(werr).Str("artifact", id).Msg("last-access update")
	}
	s.mu.Unlock()
	return &artifactReader{File: f, release: func() { s.Release(id) }}, m, nil
}

// Retain adds a reference to an artifact, used when priming the fingerprint
// cache from the persisted index at startup.
func (s *Store) Retain(id string) {
	s.mu.Lock()
	s.refs[id]++
	s.mu.Unlock()
}

// Release drops one reference. Reaching zero makes the artifact eligible
// for reclamation once expired or evicted under quota.
func (s *Store) Release(id string) {
	s.mu.Lock()
	s.releaseLocked(id)
	s.mu.Unlock()
}

func (s *Store) releaseLocked(id string) {
	if n := s.refs[id]; n > 1 {
		s.refs[id] = n - 1
	} else {
		delete(s.refs, id)
	}
}

// RefCount reports the live reference count for an artifact.
func (s *Store) RefCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs[id]
}

// artifactReader releases its download reference on Close.
type artifactReader struct {
	*os.File
	release func()
}

func (r *artifactReader) Close() error {
	err := r.File.Close()
	if r.release != nil {
		r.release()
		r.release = nil
	}
	return err
}

// ContentType maps an artifact format to its MIME type.
func ContentType(format string) string {
	switch format {
	case "mp3":
		return "audio/mpeg"
	case "flac":
		return "audio/flac"
	case "wav":
		return "audio/wav"
	default:
		return fmt.Sprintf("audio/%s", format)
	}
}
