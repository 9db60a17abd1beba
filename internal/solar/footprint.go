package solar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/i474232898/solar-viability/internal/apierr"
	"github.com/i474232898/solar-viability/internal/logging"
	"github.com/i474232898/solar-viability/internal/metrics"
)

const (
	defaultFootprintRadiusM = 30
	defaultFootprintTimeout = 8 * time.Second
)

// FootprintResolver obtains a roof polygon for a coordinate.
type FootprintResolver struct {
	provider FootprintProvider
	cache    Cache
	radiusM  float64
	timeout  time.Duration
}

// NewFootprintResolver creates a resolver. provider and cache may be nil.
func NewFootprintResolver(provider FootprintProvider, cache Cache, radiusM float64, timeout time.Duration) *FootprintResolver {
	if radiusM <= 0 {
		radiusM = defaultFootprintRadiusM
	}
	if timeout <= 0 {
		timeout = defaultFootprintTimeout
	}
	return &FootprintResolver{
		provider: provider,
		cache:    cache,
		radiusM:  radiusM,
		timeout:  timeout,
	}
}

// Resolve returns the footprint for coord. A caller-supplied polygon is
// authoritative and short-circuits any network lookup. A missing building is
// not an error: the result carries a FootprintNotFound advisory instead.
func (r *FootprintResolver) Resolve(ctx context.Context, coord Coordinate, userPolygon *Polygon) (*FootprintResult, *apierr.Record) {
	if userPolygon != nil {
		return resolveUserPolygon(userPolygon)
	}
	if r.provider == nil {
		return notFound("no footprint provider configured"), nil
	}

	key := "footprint:" + r.provider.Name() + ":" + coord.Key()
	if res, ok := r.fromCache(ctx, key); ok {
		return res, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	lookup, err := r.provider.Lookup(ctx, coord, r.radiusM)
	metrics.ProviderDurationSeconds.WithLabelValues(r.provider.Name()).Observe(time.Since(start).Seconds())

	if err == nil && lookup.Polygon == nil {
		err = ErrFootprintNotFound
	}
	if err != nil {
		return r.classify(ctx, coord, err)
	}
	metrics.ProviderRequestsTotal.WithLabelValues(r.provider.Name(), "ok").Inc()

	ring, nerr := NormalizeRing(lookup.Polygon.Ring)
	if nerr != nil {
		metrics.ProviderRequestsTotal.WithLabelValues(r.provider.Name(), "invalid").Inc()
		return nil, apierr.New(apierr.FootprintInvalid, nerr.Error())
	}

	area := lookup.AreaM2
	if area <= 0 {
		area = RingArea(ring)
	}
	confidence := lookup.Confidence
	if confidence == "" {
		confidence = ConfidenceMedium
	}
	neighbors := lookup.NeighborCount

	res := &FootprintResult{
		Polygon:       &Polygon{Ring: ring, Source: SourceFootprintDB},
		AreaM2:        area,
		Confidence:    confidence,
		Source:        r.provider.Name(),
		AzimuthDeg:    lookup.AzimuthDeg,
		TiltDeg:       lookup.TiltDeg,
		NeighborCount: &neighbors,
	}
	r.toCache(ctx, key, res)
	return res, nil
}

func (r *FootprintResolver) classify(ctx context.Context, coord Coordinate, err error) (*FootprintResult, *apierr.Record) {
	name := r.provider.Name()
	switch {
	case errors.Is(err, ErrFootprintNotFound):
		metrics.ProviderRequestsTotal.WithLabelValues(name, "not_found").Inc()
		logging.Debug().Str("provider", name).Str("site", coord.Key()).Msg("no footprint within search radius")
		res := notFound(err.Error())
		res.Source = name
		// The geometry db answered; an empty neighbourhood is still a density signal.
		zero := 0
		res.NeighborCount = &zero
		return res, nil
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, ErrUpstreamTimeout):
		metrics.ProviderRequestsTotal.WithLabelValues(name, "timeout").Inc()
		return nil, apierr.Newf(apierr.FootprintTimeout, "footprint lookup timed out after %s: %v", r.timeout, err)
	case errors.Is(err, ErrInvalidGeometry):
		metrics.ProviderRequestsTotal.WithLabelValues(name, "invalid").Inc()
		return nil, apierr.New(apierr.FootprintInvalid, err.Error())
	default:
		metrics.ProviderRequestsTotal.WithLabelValues(name, "error").Inc()
		logging.Warn().Err(err).Str("provider", name).Str("site", coord.Key()).Msg("footprint provider failed")
		return nil, apierr.FromErrorDefault(err, apierr.EdgeFunctionError)
	}
}

func (r *FootprintResolver) fromCache(ctx context.Context, key string) (*FootprintResult, bool) {
	if r.cache == nil {
		return nil, false
	}
	b, ok, err := r.cache.Get(ctx, key)
	if err != nil || !ok {
		metrics.CacheLookupsTotal.WithLabelValues(r.provider.Name(), "miss").Inc()
		return nil, false
	}
	var res FootprintResult
	if err := json.Unmarshal(b, &res); err != nil || res.Polygon == nil {
		metrics.CacheLookupsTotal.WithLabelValues(r.provider.Name(), "miss").Inc()
		return nil, false
	}
	metrics.CacheLookupsTotal.WithLabelValues(r.provider.Name(), "hit").Inc()
	res.CacheID = &key
	return &res, true
}

func (r *FootprintResolver) toCache(ctx context.Context, key string, res *FootprintResult) {
	if r.cache == nil {
		return
	}
	b, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, b); err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("footprint cache write failed")
		return
	}
	res.CacheID = &key
}

func resolveUserPolygon(p *Polygon) (*FootprintResult, *apierr.Record) {
	ring, err := NormalizeRing(p.Ring)
	if err != nil {
		return nil, apierr.New(apierr.FootprintInvalid, err.Error())
	}
	source := p.Source
	if source == "" {
		source = SourceUserDrawn
	}
	return &FootprintResult{
		Polygon:    &Polygon{Ring: ring, Source: source},
		AreaM2:     RingArea(ring),
		Confidence: ConfidenceHigh,
		Source:     string(source),
	}, nil
}

func notFound(detail string) *FootprintResult {
	return &FootprintResult{
		Confidence: ConfidenceLow,
		Advisory:   apierr.New(apierr.FootprintNotFound, fmt.Sprintf("no building footprint: %s", detail)),
	}
}
