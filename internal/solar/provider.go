package solar

import (
	"context"
	"errors"
)

var (
	// ErrFootprintNotFound is returned by footprint providers when no
	// building lies within the search radius.
	ErrFootprintNotFound = errors.New("footprint not found")
	// ErrInvalidGeometry marks a polygon that cannot be used as a roof outline.
	ErrInvalidGeometry = errors.New("footprint invalid geometry")
	// ErrInvalidCoordinate marks a coordinate outside WGS84 ranges.
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	// ErrUpstreamTimeout marks a provider whose gateway gave up waiting
	// (HTTP 504). Resolvers treat it like their own deadline.
	ErrUpstreamTimeout = errors.New("upstream gateway timeout")
)

// FootprintLookup is what a footprint provider returns for a coordinate.
type FootprintLookup struct {
	Polygon       *Polygon
	AreaM2        float64
	Confidence    Confidence
	NeighborCount int
	AzimuthDeg    *float64
	TiltDeg       *float64
}

// FootprintProvider abstracts a building-footprint database.
type FootprintProvider interface {
	Name() string
	Lookup(ctx context.Context, coord Coordinate, radiusM float64) (FootprintLookup, error)
}

// IrradiationProvider abstracts a solar irradiation/imagery data source
// (e.g. Google Solar, PVGIS).
type IrradiationProvider interface {
	Name() string
	Fetch(ctx context.Context, req LayerRequest) (IrradiationResult, error)
}

// Geocoder resolves an address to a coordinate.
type Geocoder interface {
	Geocode(ctx context.Context, addr Address) (Coordinate, error)
}

// Store is the persistence contract for analysis records: write once per
// analysis, read by id.
type Store interface {
	Save(ctx context.Context, rec AnalysisRecord) error
	Get(ctx context.Context, id string) (AnalysisRecord, error)
	History(ctx context.Context, siteKey string) ([]AnalysisRecord, error)
	// Latest returns the newest record of a site, or ErrNotFound.
	Latest(ctx context.Context, siteKey string) (AnalysisRecord, error)
}

// Cache stores provider responses under a key; the key doubles as the
// provenance id recorded in AnalysisRecord.CacheIDs.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}
