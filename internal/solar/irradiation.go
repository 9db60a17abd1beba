package solar

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/i474232898/solar-viability/internal/apierr"
	"github.com/i474232898/solar-viability/internal/logging"
	"github.com/i474232898/solar-viability/internal/metrics"
)

const (
	defaultLayerRadiusM       = 100
	defaultPixelSizeM         = 0.5
	defaultIrradiationTimeout = 15 * time.Second
)

// Provider slots. The primary slot is irradiation-api-A, the secondary is
// irradiation-api-B; the primary wins whenever it succeeds.
const (
	SlotPrimary   = "irradiation-api-A"
	SlotSecondary = "irradiation-api-B"
)

// ProviderFailure records one provider that did not contribute.
type ProviderFailure struct {
	Provider string         `json:"provider"`
	Slot     string         `json:"slot"`
	Error    *apierr.Record `json:"error"`
}

// IrradiationOutcome is the resolved irradiation plus provenance.
type IrradiationOutcome struct {
	Result   *IrradiationResult
	Winner   string
	Coverage Coverage
	CacheIDs CacheIDs
	Failures []ProviderFailure
}

// Catalog is the validated imagery layer catalog for a coordinate.
type Catalog struct {
	Source         string   `json:"source"`
	ImageryQuality Quality  `json:"imageryQuality"`
	ImageryDate    string   `json:"imageryDate,omitempty"`
	LayerCount     int      `json:"layerCount"`
	Layers         []Layer  `json:"layers"`
	CacheID        *string  `json:"cacheId"`
	Dropped        []string `json:"dropped,omitempty"`
}

// IrradiationResolver requests irradiation and imagery layers from up to two
// independent providers.
type IrradiationResolver struct {
	primary   IrradiationProvider
	secondary IrradiationProvider
	cache     Cache
	timeout   time.Duration
}

// NewIrradiationResolver creates a resolver. Any argument may be nil.
func NewIrradiationResolver(primary, secondary IrradiationProvider, cache Cache, timeout time.Duration) *IrradiationResolver {
	if timeout <= 0 {
		timeout = defaultIrradiationTimeout
	}
	return &IrradiationResolver{
		primary:   primary,
		secondary: secondary,
		cache:     cache,
		timeout:   timeout,
	}
}

// withDefaults fills unset request fields.
func (req LayerRequest) withDefaults() LayerRequest {
	if req.RadiusM <= 0 {
		req.RadiusM = defaultLayerRadiusM
	}
	if req.View == "" {
		req.View = ViewImageryAnnualFlux
	}
	if req.RequiredQuality == "" {
		req.RequiredQuality = QualityLow
	}
	if req.PixelSizeM <= 0 {
		req.PixelSizeM = defaultPixelSizeM
	}
	return req
}

type slotResult struct {
	res     *IrradiationResult
	cacheID *string
	err     *apierr.Record
}

// Resolve queries both slots concurrently and keeps the first successful one
// in slot order. When every configured provider fails, the primary's
// classified failure is returned.
func (r *IrradiationResolver) Resolve(ctx context.Context, req LayerRequest) (*IrradiationOutcome, *apierr.Record) {
	req = req.withDefaults()
	if !req.View.Valid() {
		return nil, apierr.Newf(apierr.MalformedResponse, "unknown layer view %q", req.View)
	}
	if r.primary == nil && r.secondary == nil {
		return nil, apierr.New(apierr.FunctionNotFound, "no irradiation provider configured")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		wg        sync.WaitGroup
		primary   slotResult
		secondary slotResult
	)
	if r.primary != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			primary = r.fetch(ctx, r.primary, req)
		}()
	}
	if r.secondary != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			secondary = r.fetch(ctx, r.secondary, req)
		}()
	}
	wg.Wait()

	out := &IrradiationOutcome{}
	out.CacheIDs.IrradiationA = primary.cacheID
	out.CacheIDs.IrradiationB = secondary.cacheID
	out.Coverage.IrradiationA = primary.res != nil
	out.Coverage.IrradiationB = secondary.res != nil

	if r.primary != nil && primary.err != nil {
		out.Failures = append(out.Failures, ProviderFailure{Provider: r.primary.Name(), Slot: SlotPrimary, Error: primary.err})
	}
	if r.secondary != nil && secondary.err != nil {
		out.Failures = append(out.Failures, ProviderFailure{Provider: r.secondary.Name(), Slot: SlotSecondary, Error: secondary.err})
	}

	switch {
	case primary.res != nil:
		out.Result = primary.res
		out.Winner = r.primary.Name()
	case secondary.res != nil:
		out.Result = secondary.res
		out.Winner = r.secondary.Name()
	default:
		return out, out.Failures[0].Error
	}
	return out, nil
}

// Catalog returns the validated layer catalog from the primary provider.
func (r *IrradiationResolver) Catalog(ctx context.Context, req LayerRequest) (*Catalog, *apierr.Record) {
	req = req.withDefaults()
	if !req.View.Valid() {
		return nil, apierr.Newf(apierr.MalformedResponse, "unknown layer view %q", req.View)
	}
	if r.primary == nil {
		return nil, apierr.New(apierr.FunctionNotFound, "no imagery provider configured")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	sr := r.fetch(ctx, r.primary, req)
	if sr.err != nil {
		return nil, sr.err
	}

	cat := &Catalog{
		Source:         sr.res.Source,
		ImageryQuality: sr.res.ImageryQuality,
		ImageryDate:    sr.res.ImageryDate,
		CacheID:        sr.cacheID,
		Dropped:        sr.res.DroppedLayers,
	}
	for _, l := range sr.res.Layers {
		cat.Layers = append(cat.Layers, l)
	}
	sort.Slice(cat.Layers, func(i, j int) bool { return cat.Layers[i].Name < cat.Layers[j].Name })
	cat.LayerCount = len(cat.Layers)
	return cat, nil
}

func (r *IrradiationResolver) fetch(ctx context.Context, p IrradiationProvider, req LayerRequest) slotResult {
	name := p.Name()
	key := "irradiation:" + name + ":" + req.Key()

	if res, ok := r.fromCache(ctx, name, key); ok {
		return slotResult{res: res, cacheID: &key}
	}

	start := time.Now()
	res, err := p.Fetch(ctx, req)
	metrics.ProviderDurationSeconds.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		outcome := "error"
		rec := apierr.FromErrorDefault(err, apierr.EdgeFunctionError)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, ErrUpstreamTimeout) {
			outcome = "timeout"
			rec = apierr.Newf(apierr.NetworkError, "%s timed out: %v", name, err)
		}
		metrics.ProviderRequestsTotal.WithLabelValues(name, outcome).Inc()
		logging.Warn().Str("provider", name).Str("site", req.Coordinate.Key()).Str("code", string(rec.Code)).Msg("irradiation provider failed")
		return slotResult{err: rec}
	}
	if res.AnnualKWhPerM2 <= 0 {
		metrics.ProviderRequestsTotal.WithLabelValues(name, "empty").Inc()
		return slotResult{err: apierr.Newf(apierr.EmptyResponse, "%s returned no irradiation", name)}
	}
	if res.Source == "" {
		res.Source = name
	}
	sanitizeLayers(&res)
	metrics.ProviderRequestsTotal.WithLabelValues(name, "ok").Inc()

	sr := slotResult{res: &res}
	if r.cache != nil {
		if b, merr := json.Marshal(res); merr == nil {
			if serr := r.cache.Set(ctx, key, b); serr == nil {
				sr.cacheID = &key
			} else {
				logging.Warn().Err(serr).Str("key", key).Msg("irradiation cache write failed")
			}
		}
	}
	return sr
}

func (r *IrradiationResolver) fromCache(ctx context.Context, provider, key string) (*IrradiationResult, bool) {
	if r.cache == nil {
		return nil, false
	}
	b, ok, err := r.cache.Get(ctx, key)
	if err != nil || !ok {
		metrics.CacheLookupsTotal.WithLabelValues(provider, "miss").Inc()
		return nil, false
	}
	var res IrradiationResult
	if err := json.Unmarshal(b, &res); err != nil || res.AnnualKWhPerM2 <= 0 {
		metrics.CacheLookupsTotal.WithLabelValues(provider, "miss").Inc()
		return nil, false
	}
	metrics.CacheLookupsTotal.WithLabelValues(provider, "hit").Inc()
	return &res, true
}

// sanitizeLayers drops catalog entries that fail validation, records their
// names and keeps LayerCount consistent with what remains.
func sanitizeLayers(res *IrradiationResult) {
	valid := make(map[string]Layer, len(res.Layers))
	var dropped []string
	for name, l := range res.Layers {
		if err := validateLayer(l); err != nil {
			logging.Debug().Str("layer", name).Err(err).Msg("dropping invalid layer")
			dropped = append(dropped, name)
			continue
		}
		valid[name] = l
	}
	sort.Strings(dropped)
	res.Layers = valid
	res.LayerCount = len(valid)
	res.DroppedLayers = dropped
}

var (
	errLayerNoURL  = errors.New("layer has no url")
	errLayerMonth  = errors.New("layer month outside 1-12")
	errLayerHours  = errors.New("layer hours outside 1-24")
	errLayerNoName = errors.New("layer has no name")
)

func validateLayer(l Layer) error {
	switch {
	case l.Name == "":
		return errLayerNoName
	case l.URL == "":
		return errLayerNoURL
	case l.Month < 0 || l.Month > 12:
		return errLayerMonth
	case l.Hours < 0 || l.Hours > 24:
		return errLayerHours
	case l.Hours > 0 && !l.Flux:
		return errLayerHours
	}
	return nil
}
