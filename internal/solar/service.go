package solar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/solar-viability/internal/apierr"
	"github.com/i474232898/solar-viability/internal/logging"
	"github.com/i474232898/solar-viability/internal/metrics"
)

// ErrNotFound is returned by stores when no record matches.
var ErrNotFound = errors.New("not found")

// Service orchestrates footprint and irradiation resolution, fusion and
// persistence of analysis records.
type Service struct {
	store       Store
	footprints  *FootprintResolver
	irradiation *IrradiationResolver
	engine      *Engine
	geocoder    Geocoder

	newID func() string
	now   func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithGeocoder enables address geocoding.
func WithGeocoder(g Geocoder) Option {
	return func(s *Service) { s.geocoder = g }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator replaces the uuid generator.
func WithIDGenerator(f func() string) Option {
	return func(s *Service) { s.newID = f }
}

// NewService creates a new Service.
func NewService(store Store, footprints *FootprintResolver, irradiation *IrradiationResolver, engine *Engine, opts ...Option) *Service {
	s := &Service{
		store:       store,
		footprints:  footprints,
		irradiation: irradiation,
		engine:      engine,
		newID:       uuid.NewString,
		now:         time.Now,
	}
	if s.footprints == nil {
		s.footprints = NewFootprintResolver(nil, nil, 0, 0)
	}
	if s.irradiation == nil {
		s.irradiation = NewIrradiationResolver(nil, nil, nil, 0)
	}
	if s.engine == nil {
		s.engine = NewEngine(DefaultFusionConfig())
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Analyze runs a full analysis for req and stores the resulting record.
func (s *Service) Analyze(ctx context.Context, req AnalysisRequest) (AnalysisRecord, *apierr.Record) {
	return s.analyze(ctx, req, nil)
}

// Reanalyze runs a new analysis for the site of record id. The new record
// links back to it and carries the next version number. A roof outline the
// caller drew for the original analysis is reused.
//
// The error is ErrNotFound (wrapped) for an unknown id, otherwise an
// *apierr.Record.
func (s *Service) Reanalyze(ctx context.Context, id string) (AnalysisRecord, error) {
	prev, err := s.store.Get(ctx, id)
	if err != nil {
		return AnalysisRecord{}, lookupFailure(id, err)
	}
	rec, aerr := s.analyze(ctx, followUp(prev), &prev)
	if aerr != nil {
		return AnalysisRecord{}, aerr
	}
	return rec, nil
}

// ReanalyzeSite extends the version chain of the site at coord, starting
// a new chain when the site has never been analysed.
func (s *Service) ReanalyzeSite(ctx context.Context, coord Coordinate) (AnalysisRecord, *apierr.Record) {
	if err := coord.Validate(); err != nil {
		return AnalysisRecord{}, s.fail(apierr.New(apierr.InvalidAddress, err.Error()))
	}
	prev, err := s.store.Latest(ctx, coord.Key())
	switch {
	case errors.Is(err, ErrNotFound):
		return s.analyze(ctx, AnalysisRequest{Coordinate: coord}, nil)
	case err != nil:
		return AnalysisRecord{}, s.fail(apierr.FromErrorDefault(err, apierr.EdgeFunctionError))
	}
	return s.analyze(ctx, followUp(prev), &prev)
}

// followUp rebuilds the request behind prev. A roof outline the caller drew
// is reused.
func followUp(prev AnalysisRecord) AnalysisRequest {
	req := AnalysisRequest{Coordinate: prev.Coordinate}
	if prev.AreaSource == AreaManual && prev.Polygon != nil {
		req.Polygon = prev.Polygon
	}
	return req
}

func (s *Service) analyze(ctx context.Context, req AnalysisRequest, prev *AnalysisRecord) (AnalysisRecord, *apierr.Record) {
	start := time.Now()
	coord := req.Coordinate
	if err := coord.Validate(); err != nil {
		return AnalysisRecord{}, s.fail(apierr.New(apierr.InvalidAddress, err.Error()))
	}

	var (
		wg      sync.WaitGroup
		fp      *FootprintResult
		fpErr   *apierr.Record
		irr     *IrradiationOutcome
		irrErr  *apierr.Record
		layerRq = LayerRequest{Coordinate: coord}
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		fp, fpErr = s.footprints.Resolve(ctx, coord, req.Polygon)
	}()
	go func() {
		defer wg.Done()
		irr, irrErr = s.irradiation.Resolve(ctx, layerRq)
	}()
	wg.Wait()

	if err := ctx.Err(); err != nil {
		// The caller stopped waiting; nothing is persisted.
		return AnalysisRecord{}, s.fail(apierr.Newf(apierr.NetworkError, "analysis abandoned: %v", err))
	}
	if req.Polygon != nil && fpErr != nil {
		return AnalysisRecord{}, s.fail(fpErr)
	}
	if irrErr != nil && (irr == nil || irr.Result == nil) {
		irr = outcomeOnly(irr)
	}

	in := FusionInput{
		ID:             s.newID(),
		CreatedAt:      s.now(),
		Version:        1,
		Coordinate:     coord,
		UserPolygon:    req.Polygon != nil,
		Footprint:      fp,
		FootprintErr:   fpErr,
		Irradiation:    irr,
		IrradiationErr: irrErr,
	}
	if prev != nil {
		in.Version = prev.Version + 1
		in.PreviousID = prev.ID
	}

	rec, ferr := s.engine.Fuse(in)
	if ferr != nil {
		logging.Warn().Str("site", coord.Key()).Str("detail", ferr.Message).Msg("analysis failed")
		return AnalysisRecord{}, s.fail(ferr)
	}

	if err := s.store.Save(ctx, rec); err != nil {
		logging.Error().Err(err).Str("id", rec.ID).Msg("failed to store analysis")
		return AnalysisRecord{}, s.fail(apierr.FromErrorDefault(fmt.Errorf("store analysis: %w", err), apierr.EdgeFunctionError))
	}

	metrics.AnalysesTotal.WithLabelValues(string(rec.Verdict), string(rec.Confidence)).Inc()
	metrics.AnalysisDurationSeconds.Observe(time.Since(start).Seconds())
	logging.Info().
		Str("id", rec.ID).
		Str("site", coord.Key()).
		Int("version", rec.Version).
		Str("verdict", string(rec.Verdict)).
		Str("confidence", string(rec.Confidence)).
		Str("area_source", string(rec.AreaSource)).
		Str("irradiation_source", rec.IrradiationSource).
		Dur("took", time.Since(start)).
		Msg("analysis stored")
	return rec, nil
}

// outcomeOnly keeps the failure bookkeeping of a failed irradiation outcome
// while dropping any partial result.
func outcomeOnly(out *IrradiationOutcome) *IrradiationOutcome {
	if out == nil {
		return nil
	}
	return &IrradiationOutcome{Coverage: out.Coverage, CacheIDs: out.CacheIDs, Failures: out.Failures}
}

// Get returns a stored record. Errors follow Reanalyze.
func (s *Service) Get(ctx context.Context, id string) (AnalysisRecord, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return AnalysisRecord{}, lookupFailure(id, err)
	}
	return rec, nil
}

// History returns every stored record for the site of coord, oldest first.
func (s *Service) History(ctx context.Context, coord Coordinate) ([]AnalysisRecord, *apierr.Record) {
	if err := coord.Validate(); err != nil {
		return nil, apierr.New(apierr.InvalidAddress, err.Error())
	}
	recs, err := s.store.History(ctx, coord.Key())
	if err != nil {
		return nil, apierr.FromErrorDefault(err, apierr.EdgeFunctionError)
	}
	return recs, nil
}

// Layers returns the imagery layer catalog for req.
func (s *Service) Layers(ctx context.Context, req LayerRequest) (*Catalog, *apierr.Record) {
	if err := req.Coordinate.Validate(); err != nil {
		return nil, apierr.New(apierr.InvalidAddress, err.Error())
	}
	return s.irradiation.Catalog(ctx, req)
}

// Geocode resolves addr to a coordinate.
func (s *Service) Geocode(ctx context.Context, addr Address) (Coordinate, *apierr.Record) {
	if s.geocoder == nil {
		return Coordinate{}, apierr.New(apierr.FunctionNotFound, "no geocoder configured")
	}
	if addr.Street == "" && addr.City == "" && addr.PostalCode == "" {
		return Coordinate{}, apierr.New(apierr.InvalidAddress, "address has no street, city or postal code")
	}
	c, err := s.geocoder.Geocode(ctx, addr)
	if err != nil {
		logging.Warn().Err(err).Str("city", addr.City).Msg("geocoding failed")
		return Coordinate{}, apierr.FromErrorDefault(err, apierr.GeocodingFailed)
	}
	if c.Lat == 0 && c.Lng == 0 {
		return Coordinate{}, apierr.New(apierr.InvalidAddress, "geocoder returned no location")
	}
	if err := c.Validate(); err != nil {
		return Coordinate{}, apierr.New(apierr.GeocodingFailed, err.Error())
	}
	return c, nil
}

func lookupFailure(id string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("analysis %s: %w", id, err)
	}
	return apierr.FromErrorDefault(err, apierr.EdgeFunctionError)
}

func (s *Service) fail(rec *apierr.Record) *apierr.Record {
	metrics.AnalysisErrorsTotal.WithLabelValues(string(rec.Code)).Inc()
	return rec
}
