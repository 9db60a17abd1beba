package solar

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/paulmach/orb"
)

type fakeFootprints struct {
	name   string
	lookup FootprintLookup
	err    error
	delay  time.Duration

	mu    sync.Mutex
	calls int
}

func (f *fakeFootprints) Name() string { return f.name }

func (f *fakeFootprints) Lookup(ctx context.Context, coord Coordinate, radiusM float64) (FootprintLookup, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return FootprintLookup{}, ctx.Err()
		}
	}
	return f.lookup, f.err
}

func (f *fakeFootprints) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeIrradiation struct {
	name  string
	res   IrradiationResult
	err   error
	delay time.Duration

	mu    sync.Mutex
	calls int
}

func (f *fakeIrradiation) Name() string { return f.name }

func (f *fakeIrradiation) Fetch(ctx context.Context, req LayerRequest) (IrradiationResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return IrradiationResult{}, ctx.Err()
		}
	}
	return f.res, f.err
}

func (f *fakeIrradiation) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type mapCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMapCache() *mapCache { return &mapCache{m: map[string][]byte{}} }

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.m[key]
	return b, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
	return nil
}

type mapStore struct {
	mu   sync.Mutex
	recs map[string]AnalysisRecord
	site map[string][]string
}

func newMapStore() *mapStore {
	return &mapStore{recs: map[string]AnalysisRecord{}, site: map[string][]string{}}
}

func (s *mapStore) Save(_ context.Context, rec AnalysisRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.ID] = rec
	k := rec.Coordinate.Key()
	s.site[k] = append(s.site[k], rec.ID)
	return nil
}

func (s *mapStore) Get(_ context.Context, id string) (AnalysisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return AnalysisRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *mapStore) History(_ context.Context, siteKey string) ([]AnalysisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AnalysisRecord
	for _, id := range s.site[siteKey] {
		out = append(out, s.recs[id])
	}
	return out, nil
}

func (s *mapStore) Latest(_ context.Context, siteKey string) (AnalysisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.site[siteKey]
	if len(ids) == 0 {
		return AnalysisRecord{}, ErrNotFound
	}
	return s.recs[ids[len(ids)-1]], nil
}

// squareRing returns a closed counter-clockwise square of roughly side
// metres around c.
func squareRing(c Coordinate, side float64) orb.Ring {
	dLat := side / 2 / 111320
	dLng := side / 2 / (111320 * math.Cos(c.Lat*math.Pi/180))
	return orb.Ring{
		{c.Lng - dLng, c.Lat - dLat},
		{c.Lng + dLng, c.Lat - dLat},
		{c.Lng + dLng, c.Lat + dLat},
		{c.Lng - dLng, c.Lat + dLat},
		{c.Lng - dLng, c.Lat - dLat},
	}
}

func ptr[T any](v T) *T { return &v }
