package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/i474232898/solar-viability/internal/solar"
)

var (
	// ErrNotFound is returned when no record exists for an id.
	ErrNotFound = solar.ErrNotFound
	// ErrExists is returned when a record id is saved twice. Records are
	// immutable; a re-analysis is stored under a new id.
	ErrExists = errors.New("record already exists")
)

// siteHistory holds the time-ordered record ids of one site.
type siteHistory struct {
	ids []string
}

// MemoryStore is a concurrency-safe in-memory implementation of solar.Store.
type MemoryStore struct {
	mu sync.RWMutex

	records map[string]solar.AnalysisRecord
	// key: site key, value: history
	sites map[string]*siteHistory

	// retention configuration
	maxHistory int           // max number of records per site
	maxAge     time.Duration // optional max age for records
	now        func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		records:    make(map[string]solar.AnalysisRecord),
		sites:      make(map[string]*siteHistory),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// Save stores rec under its id and site, then enforces retention.
func (s *MemoryStore) Save(_ context.Context, rec solar.AnalysisRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("save record: empty id")
	}
	key := rec.Coordinate.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; ok {
		return fmt.Errorf("save record %s: %w", rec.ID, ErrExists)
	}

	history, ok := s.sites[key]
	if !ok {
		history = &siteHistory{}
		s.sites[key] = history
	}
	s.records[rec.ID] = rec
	history.ids = append(history.ids, rec.ID)

	// Enforce retention by count.
	if s.maxHistory > 0 && len(history.ids) > s.maxHistory {
		over := len(history.ids) - s.maxHistory
		s.drop(history.ids[:over])
		history.ids = history.ids[over:]
	}

	// Enforce retention by age. The newest record is always kept.
	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		i := 0
		for ; i < len(history.ids)-1; i++ {
			if !s.records[history.ids[i]].CreatedAt.Before(cutoff) {
				break
			}
		}
		if i > 0 {
			s.drop(history.ids[:i])
			history.ids = history.ids[i:]
		}
	}
	return nil
}

// drop must be called with mu held.
func (s *MemoryStore) drop(ids []string) {
	for _, id := range ids {
		delete(s.records, id)
	}
}

// Get returns the record stored under id.
func (s *MemoryStore) Get(_ context.Context, id string) (solar.AnalysisRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return solar.AnalysisRecord{}, ErrNotFound
	}
	return rec, nil
}

// History returns the retained records of a site, oldest first. An unknown
// site yields an empty slice.
func (s *MemoryStore) History(_ context.Context, siteKey string) ([]solar.AnalysisRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.sites[siteKey]
	if !ok {
		return []solar.AnalysisRecord{}, nil
	}
	out := make([]solar.AnalysisRecord, 0, len(history.ids))
	for _, id := range history.ids {
		out = append(out, s.records[id])
	}
	return out, nil
}

// Latest returns the most recent record of a site.
func (s *MemoryStore) Latest(_ context.Context, siteKey string) (solar.AnalysisRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.sites[siteKey]
	if !ok || len(history.ids) == 0 {
		return solar.AnalysisRecord{}, ErrNotFound
	}
	return s.records[history.ids[len(history.ids)-1]], nil
}
