package solar

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/i474232898/solar-viability/internal/apierr"
)

var madrid = Coordinate{Lat: 40.4168, Lng: -3.7038}

func TestResolveUserPolygonSkipsProvider(t *testing.T) {
	p := &fakeFootprints{name: "overpass", err: errors.New("should not be called")}
	r := NewFootprintResolver(p, nil, 0, 0)

	user := &Polygon{Ring: squareRing(madrid, 10)[:4]}
	res, rec := r.Resolve(context.Background(), madrid, user)
	if rec != nil {
		t.Fatalf("unexpected error: %v", rec)
	}
	if p.callCount() != 0 {
		t.Fatalf("expected no provider call, got %d", p.callCount())
	}
	if res.Confidence != ConfidenceHigh {
		t.Fatalf("expected HIGH confidence, got %s", res.Confidence)
	}
	if res.Polygon.Source != SourceUserDrawn {
		t.Fatalf("expected user-drawn source, got %s", res.Polygon.Source)
	}
	if !res.Polygon.Ring.Closed() {
		t.Fatal("expected ring to be closed")
	}
	if res.AreaM2 < 95 || res.AreaM2 > 105 {
		t.Fatalf("expected area near 100 m², got %.2f", res.AreaM2)
	}
}

func TestResolveUserPolygonInvalid(t *testing.T) {
	r := NewFootprintResolver(nil, nil, 0, 0)
	_, rec := r.Resolve(context.Background(), madrid, &Polygon{Ring: orb.Ring{{0, 0}, {1, 1}}})
	if rec == nil || rec.Code != apierr.FootprintInvalid {
		t.Fatalf("expected FOOTPRINT_INVALID, got %v", rec)
	}
	if rec.Action != apierr.ActionDrawManual {
		t.Fatalf("expected draw_manual action, got %s", rec.Action)
	}
}

func TestResolveProviderOutcomes(t *testing.T) {
	found := FootprintLookup{
		Polygon:       &Polygon{Ring: squareRing(madrid, 8)},
		NeighborCount: 12,
	}
	tests := []struct {
		name     string
		provider *fakeFootprints
		wantCode apierr.Code
		wantPoly bool
	}{
		{name: "found", provider: &fakeFootprints{name: "overpass", lookup: found}, wantPoly: true},
		{name: "not found", provider: &fakeFootprints{name: "overpass", err: ErrFootprintNotFound}},
		{name: "nil polygon", provider: &fakeFootprints{name: "overpass"}},
		{name: "timeout", provider: &fakeFootprints{name: "overpass", delay: time.Second}, wantCode: apierr.FootprintTimeout},
		{name: "gateway timeout", provider: &fakeFootprints{name: "overpass", err: fmt.Errorf("server error: %w: 504", ErrUpstreamTimeout)}, wantCode: apierr.FootprintTimeout},
		{name: "invalid geometry", provider: &fakeFootprints{name: "overpass", err: ErrInvalidGeometry}, wantCode: apierr.FootprintInvalid},
		{name: "opaque failure", provider: &fakeFootprints{name: "overpass", err: errors.New("boom")}, wantCode: apierr.EdgeFunctionError},
		{name: "auth failure", provider: &fakeFootprints{name: "overpass", err: errors.New("401 unauthorized")}, wantCode: apierr.AuthRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewFootprintResolver(tt.provider, nil, 30, 20*time.Millisecond)
			res, rec := r.Resolve(context.Background(), madrid, nil)
			if tt.wantCode != "" {
				if rec == nil || rec.Code != tt.wantCode {
					t.Fatalf("expected %s, got %v", tt.wantCode, rec)
				}
				return
			}
			if rec != nil {
				t.Fatalf("unexpected error: %v", rec)
			}
			if res.Found() != tt.wantPoly {
				t.Fatalf("expected found=%v, got %v", tt.wantPoly, res.Found())
			}
			if !tt.wantPoly {
				if res.Advisory == nil || res.Advisory.Code != apierr.FootprintNotFound {
					t.Fatalf("expected FOOTPRINT_NOT_FOUND advisory, got %v", res.Advisory)
				}
				if res.NeighborCount == nil || *res.NeighborCount != 0 {
					t.Fatalf("expected zero neighbour count, got %v", res.NeighborCount)
				}
				return
			}
			if res.Polygon.Source != SourceFootprintDB {
				t.Fatalf("expected footprint db source, got %s", res.Polygon.Source)
			}
			if res.Confidence != ConfidenceMedium {
				t.Fatalf("expected default MEDIUM confidence, got %s", res.Confidence)
			}
			if res.AreaM2 <= 0 {
				t.Fatal("expected computed area")
			}
			if *res.NeighborCount != 12 {
				t.Fatalf("expected 12 neighbours, got %d", *res.NeighborCount)
			}
		})
	}
}

func TestResolveUsesCache(t *testing.T) {
	p := &fakeFootprints{name: "overpass", lookup: FootprintLookup{Polygon: &Polygon{Ring: squareRing(madrid, 8)}}}
	cache := newMapCache()
	r := NewFootprintResolver(p, cache, 0, 0)

	first, rec := r.Resolve(context.Background(), madrid, nil)
	if rec != nil {
		t.Fatalf("unexpected error: %v", rec)
	}
	second, rec := r.Resolve(context.Background(), madrid, nil)
	if rec != nil {
		t.Fatalf("unexpected error: %v", rec)
	}
	if p.callCount() != 1 {
		t.Fatalf("expected a single provider call, got %d", p.callCount())
	}
	if first.CacheID == nil || second.CacheID == nil || *first.CacheID != *second.CacheID {
		t.Fatalf("expected matching cache ids, got %v and %v", first.CacheID, second.CacheID)
	}
	if want := "footprint:overpass:" + madrid.Key(); *second.CacheID != want {
		t.Fatalf("expected cache id %q, got %q", want, *second.CacheID)
	}
}
