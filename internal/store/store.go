// Package store persists generated audio artifacts on disk with their
// metadata in an embedded badger index. Reference counting is the sole
// deletion gate: reclamation removes only unreferenced artifacts, selected
// by expiry and by storage quota.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"ttsd/internal/events"
	"ttsd/pkg/types"
)

const (
	metaPrefix = "artifact/"
	indexDir   = "index"
	tmpDir     = "tmp"
)

// Meta is the persisted record for one artifact. RefCount is persisted for
// observability but authoritative only in memory: restarts reset it during
// reconciliation, then cache priming re-adds the live references.
type Meta struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	Path        string    `json:"path"`
	SizeBytes   int64     `json:"size_bytes"`
	Format      string    `json:"format"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	LastAccess  time.Time `json:"last_access"`
	RefCount    int       `json:"ref_count"`
}

// Expired reports whether the artifact is past its expiry at t.
func (m Meta) Expired(t time.Time) bool { return t.After(m.ExpiresAt) }

// Config encapsulates store tunables.
type Config struct {
	// Dir is the artifact root; audio files live directly under it, the
	// badger index under Dir/index, in-progress writes under Dir/tmp.
	Dir string
	// TTL is the artifact expiry window.
	TTL time.Duration
	// QuotaBytes caps total artifact bytes. Zero means unlimited.
	QuotaBytes int64
	// ReclaimInterval schedules the background pass. Zero disables it.
	ReclaimInterval time.Duration
	Publisher       events.Publisher
	Logger          zerolog.Logger
}

// Store owns on-disk artifacts and their metadata index.
type Store struct {
	mu    sync.Mutex
	db    *badger.DB
	dir   string
	ttl   time.Duration
	quota int64
	pub   events.Publisher
	log   zerolog.Logger

	// refs is the live reference count per artifact id: fingerprint-cache
	// entries plus in-progress downloads.
	refs map[string]int

	reclaimedTotal uint64

	stopReclaim chan struct{}
	reclaimDone chan struct{}
}

// Open initializes the store, reconciles the index against the filesystem,
// and starts the background reclamation loop when configured.
func Open(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("store: empty dir")
	}
	for _, d := range []string{cfg.Dir, filepath.Join(cfg.Dir, tmpDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir %s: %w", d, err)
		}
	}
	opts := badger.DefaultOptions(filepath.Join(cfg.Dir, indexDir)).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open index: %w", err)
	}
	s := &Store{
		db:          db,
		dir:         cfg.Dir,
		ttl:         cfg.TTL,
		quota:       cfg.QuotaBytes,
		pub:         cfg.Publisher,
		log:         cfg.Logger,
		refs:        make(map[string]int),
		stopReclaim: make(chan struct{}),
		reclaimDone: make(chan struct{}),
	}
	if s.pub == nil {
		s.pub = events.Noop()
	}
	if s.ttl <= 0 {
		s.ttl = 24 * time.Hour
	}
	if err := s.reconcile(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if cfg.ReclaimInterval > 0 {
		go s.reclaimLoop(cfg.ReclaimInterval)
	} else {
		close(s.reclaimDone)
	}
	return s, nil
}

// Close stops the reclamation loop and closes the index.
func (s *Store) Close() error {
	select {
	case <-s.stopReclaim:
	default:
		close(s.stopReclaim)
	}
	<-s.reclaimDone
	return s.db.Close()
}

// reconcile aligns the index with the filesystem after a restart: metadata
// without a file is dropped, files without metadata are orphans removed on
// the spot, reference counts reset to zero, stale temp files are cleared.
func (s *Store) reconcile() error {
	metas, err := s.indexSnapshot()
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(metas))
	for _, m := range metas {
		if _, err := os.Stat(m.Path); err != nil {
			s.log.Warn().Str("artifact", m.ID).Msg("index entry without file, dropping")
			if derr := s.deleteMeta(m.ID); derr != nil {
				return derr
			}
			continue
		}
		known[filepath.Base(m.Path)] = true
		if m.RefCount != 0 {
			m.RefCount = 0
			if werr := s.putMeta(m); werr != nil {
				return werr
			}
		}
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("store: read dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || known[e.Name()] {
			continue
		}
		p := filepath.Join(s.dir, e.Name())
		s.log.Info().Str("file", e.Name()).Msg("orphan artifact file, removing")
		if err := os.Remove(p); err != nil {
			s.log.Warn().Err(err).Str("file", e.Name()).Msg("orphan removal")
		}
	}
	tmps, err := os.ReadDir(filepath.Join(s.dir, tmpDir))
	if err == nil {
		for _, e := range tmps {
			_ = os.Remove(filepath.Join(s.dir, tmpDir, e.Name()))
		}
	}
	return nil
}

// putMeta writes a metadata record to the index.
func (s *Store) putMeta(m Meta) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(metaPrefix+m.ID), b)
	})
}

// getMeta reads one metadata record.
func (s *Store) getMeta(id string) (Meta, bool, error) {
	var m Meta
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &m)
		})
	})
	if err == badger.ErrKeyNotFound {
		return Meta{}, false, nil
	}
	if err != nil {
		return Meta{}, false, storageError{op: "read index", err: err}
	}
	return m, true, nil
}

func (s *Store) deleteMeta(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(metaPrefix + id))
	})
}

// indexSnapshot returns every metadata record.
func (s *Store) indexSnapshot() ([]Meta, error) {
	var out []Meta
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(metaPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var m Meta
			err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &m)
			})
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, storageError{op: "scan index", err: err}
	}
	return out, nil
}

// Index returns every artifact record, for startup cache priming.
func (s *Store) Index() ([]Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexSnapshot()
}

// Status summarizes the store for /status.
func (s *Store) Status() types.StoreStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := types.StoreStatus{QuotaBytes: s.quota, ReclaimedTotal: s.reclaimedTotal}
	metas, err := s.indexSnapshot()
	if err != nil {
		s.log.Warn().Err(err).Msg("status index scan")
		return st
	}
	st.Artifacts = len(metas)
	for _, m := range metas {
		st.TotalBytes += m.SizeBytes
	}
	return st
}
