package store

import (
	"os"
	"sort"
	"time"

	"ttsd/internal/events"
)

// ReclaimPass removes unreferenced artifacts that are past expiry, then
// enforces the storage quota by evicting least-recently-used unreferenced
// artifacts, oldest first on ties. Referenced artifacts are untouchable
// regardless of age. Per-file errors are logged and skipped, never fatal.
func (s *Store) ReclaimPass() (int, error) {
	return s.reclaim(time.Now(), 0)
}

// RemoveOlderThan is the manual cleanup entry point: in addition to the
// regular pass, unreferenced artifacts created more than age ago are
// removed even if their expiry has not elapsed.
func (s *Store) RemoveOlderThan(age time.Duration) (int, error) {
	return s.reclaim(time.Now(), age)
}

func (s *Store) reclaim(now time.Time, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	metas, err := s.indexSnapshot()
	if err != nil {
		return 0, err
	}

	removed := 0
	var live []Meta
	for _, m := range metas {
		if s.refs[m.ID] > 0 {
			live = append(live, m)
			continue
		}
		expired := m.Expired(now)
		aged := maxAge > 0 && now.Sub(m.CreatedAt) > maxAge
		if !expired && !aged {
			live = append(live, m)
			continue
		}
		if s.removeLocked(m) {
			removed++
		} else {
			live = append(live, m)
		}
	}

	// Quota enforcement over what survived the expiry sweep.
	if s.quota > 0 {
		var total int64
		for _, m := range live {
			total += m.SizeBytes
		}
		if total > s.quota {
			var victims []Meta
			for _, m := range live {
				if s.refs[m.ID] == 0 {
					victims = append(victims, m)
				}
			}
			sort.Slice(victims, func(i, j int) bool {
				if !victims[i].LastAccess.Equal(victims[j].LastAccess) {
					return victims[i].LastAccess.Before(victims[j].LastAccess)
				}
				return victims[i].CreatedAt.Before(victims[j].CreatedAt)
			})
			for _, m := range victims {
				if total <= s.quota {
					break
				}
				if s.removeLocked(m) {
					total -= m.SizeBytes
					removed++
				}
			}
		}
	}

	if removed > 0 {
		s.reclaimedTotal += uint64(removed)
		s.pub.Publish(events.Event{Name: "reclaim", Fields: map[string]any{"removed": removed}})
		s.log.Info().Int("removed", removed).Msg("reclamation pass")
	}
	return removed, nil
}

// removeLocked deletes one artifact's file and metadata. A file already
// gone still counts as removed; an index failure leaves the file for the
// next pass.
func (s *Store) removeLocked(m Meta) bool {
	if err := os.Remove(m.Path); err != nil && !os.IsNotExist(err) {
		s.log.Warn().Err(err).Str("artifact", m.ID).Msg("reclaim file removal")
		return false
	}
	if err := s.deleteMeta(m.ID); err != nil {
		s.log.Warn().Err(err).Str("artifact", m.ID).Msg("reclaim index removal")
		return false
	}
	return true
}

// reclaimLoop runs the background pass on a fixed interval until Close.
func (s *Store) reclaimLoop(interval time.Duration) {
	defer close(s.reclaimDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopReclaim:
			return
		case <-ticker.C:
			if _, err := s.ReclaimPass(); err != nil {
				s.log.Warn().Err(err).Msg("background reclamation")
			}
		}
	}
}
