package solar

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/i474232898/solar-viability/internal/apierr"
	"github.com/i474232898/solar-viability/internal/common"
)

// FusionInput is everything the engine needs for one record. Either
// resolver outcome may be missing; its classified failure is then carried
// in the matching Err field.
type FusionInput struct {
	ID         string
	CreatedAt  time.Time
	Version    int
	PreviousID string

	Coordinate Coordinate
	// UserPolygon reports whether the caller supplied the roof outline.
	UserPolygon bool

	Footprint      *FootprintResult
	FootprintErr   *apierr.Record
	Irradiation    *IrradiationOutcome
	IrradiationErr *apierr.Record
}

// Engine fuses resolver outcomes into an AnalysisRecord. It holds no state
// besides its configuration and is safe for concurrent use.
type Engine struct {
	cfg FusionConfig
}

// NewEngine creates an engine with cfg.
func NewEngine(cfg FusionConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the engine configuration.
func (e *Engine) Config() FusionConfig { return e.cfg }

// Fuse builds the record. It is deterministic in its input: the id and the
// timestamp are supplied by the caller.
func (e *Engine) Fuse(in FusionInput) (AnalysisRecord, *apierr.Record) {
	fp := in.Footprint
	var irr *IrradiationResult
	if in.Irradiation != nil {
		irr = in.Irradiation.Result
	}

	polygonArea := 0.0
	if fp.Found() {
		polygonArea = fp.AreaM2
	}
	measuredArea := 0.0
	if irr != nil && irr.MeasuredRoofAreaM2 != nil {
		measuredArea = *irr.MeasuredRoofAreaM2
	}
	if polygonArea <= 0 && measuredArea <= 0 && irr == nil {
		return AnalysisRecord{}, apierr.New(apierr.AnalysisFailed, failureDetail(in))
	}

	rec := AnalysisRecord{
		ID:              in.ID,
		Version:         in.Version,
		PreviousID:      in.PreviousID,
		Coordinate:      in.Coordinate,
		CreatedAt:       in.CreatedAt.UTC(),
		Reasons:         []string{},
		Recommendations: []string{},
		Warnings:        []string{},
	}
	if rec.Version == 0 {
		rec.Version = 1
	}

	e.resolveArea(&rec, in, polygonArea, measuredArea)
	e.resolveIrradiation(&rec, irr)
	e.resolveShading(&rec, in, irr)

	rec.System = SizeSystem(e.cfg, rec.UsableAreaM2)
	var perKWp *float64
	if irr != nil {
		perKWp = irr.ProductionPerKWp
	}
	rec.EstimatedProductionKWh = EstimateProduction(e.cfg, rec.AnnualIrradiation, rec.UsableAreaM2, rec.ShadingIndex, rec.System, perKWp)

	a := assessment{
		usableM2:       rec.UsableAreaM2,
		areaSource:     rec.AreaSource,
		irradiation:    rec.AnnualIrradiation,
		irrSource:      rec.IrradiationSource,
		shadingPercent: rec.ShadingLossPercent,
		shadingSource:  rec.ShadingSource,
	}
	rec.Confidence = a.confidence()
	rec.Verdict, rec.Reasons = decide(e.cfg, a)

	e.provenance(&rec, in)
	e.orientation(&rec, fp, irr)
	rec.Recommendations = e.recommend(rec, in)
	rec.Warnings = append(rec.Warnings, failureWarnings(in)...)
	return rec, nil
}

func (e *Engine) resolveArea(rec *AnalysisRecord, in FusionInput, polygonArea, measuredArea float64) {
	switch {
	case polygonArea > 0 && !in.UserPolygon:
		rec.UsableAreaM2 = common.Round(polygonArea, 2)
		rec.AreaSource = AreaFootprint
		rec.Polygon = in.Footprint.Polygon
	case polygonArea > 0:
		rec.UsableAreaM2 = common.Round(polygonArea, 2)
		rec.AreaSource = AreaManual
		rec.Polygon = in.Footprint.Polygon
	case measuredArea > 0:
		rec.UsableAreaM2 = common.Round(measuredArea, 2)
		rec.AreaSource = AreaGoogleMeasured
	default:
		rec.UsableAreaM2 = e.cfg.EstimatedRoofAreaM2
		rec.AreaSource = AreaEstimate
		rec.Warnings = append(rec.Warnings, fmt.Sprintf("No roof geometry available; using an estimated %.0f m² roof.", e.cfg.EstimatedRoofAreaM2))
	}
}

func (e *Engine) resolveIrradiation(rec *AnalysisRecord, irr *IrradiationResult) {
	if irr != nil && irr.AnnualKWhPerM2 > 0 {
		rec.AnnualIrradiation = common.Round(irr.AnnualKWhPerM2, 1)
		rec.IrradiationSource = irr.Source
		rec.ImageryQuality = irr.ImageryQuality
		rec.LayerCount = irr.LayerCount
		return
	}
	rec.AnnualIrradiation = ClimatologicalIrradiation(rec.Coordinate.Lat)
	rec.IrradiationSource = IrradiationEstimate
	rec.Warnings = append(rec.Warnings, "No irradiation provider answered; using a climatological estimate for this latitude.")
}

func (e *Engine) resolveShading(rec *AnalysisRecord, in FusionInput, irr *IrradiationResult) {
	switch {
	case irr != nil && irr.ShadingIndex != nil && irr.ImageryQuality.AtLeast(e.cfg.MinFluxQuality):
		rec.ShadingIndex = common.Clamp(*irr.ShadingIndex, 0, 1)
		rec.ShadingSource = ShadingFlux
	case in.Footprint != nil && in.Footprint.NeighborCount != nil:
		rec.ShadingIndex = HeuristicShading(rec.Coordinate.Lat, *in.Footprint.NeighborCount)
		rec.ShadingSource = ShadingHeuristic
	default:
		rec.ShadingIndex = 0
		rec.ShadingSource = ShadingDefault
		rec.Warnings = append(rec.Warnings, "No shading data available; assuming an unshaded roof.")
	}
	rec.ShadingIndex = common.Round(rec.ShadingIndex, 4)
	rec.ShadingLossPercent = int(math.Round(rec.ShadingIndex * 100))
}

func (e *Engine) provenance(rec *AnalysisRecord, in FusionInput) {
	if fp := in.Footprint; fp != nil && fp.Found() && !in.UserPolygon {
		rec.Coverage.GeometryDB = true
		rec.CacheIDs.GeometryDB = fp.CacheID
	}
	if out := in.Irradiation; out != nil {
		rec.Coverage.IrradiationA = out.Coverage.IrradiationA
		rec.Coverage.IrradiationB = out.Coverage.IrradiationB
		rec.CacheIDs.IrradiationA = out.CacheIDs.IrradiationA
		rec.CacheIDs.IrradiationB = out.CacheIDs.IrradiationB
	}
}

// orientation prefers the footprint's roof plane over the imagery provider's.
func (e *Engine) orientation(rec *AnalysisRecord, fp *FootprintResult, irr *IrradiationResult) {
	if fp != nil {
		rec.AzimuthDeg, rec.TiltDeg = fp.AzimuthDeg, fp.TiltDeg
	}
	if irr != nil {
		if rec.AzimuthDeg == nil {
			rec.AzimuthDeg = irr.AzimuthDeg
		}
		if rec.TiltDeg == nil {
			rec.TiltDeg = irr.TiltDeg
		}
	}
}

func (e *Engine) recommend(rec AnalysisRecord, in FusionInput) []string {
	out := []string{}
	if !in.UserPolygon && (in.Footprint == nil || !in.Footprint.Found()) {
		msg := apierr.Describe(apierr.FootprintNotFound, "").UserMessage
		if in.Footprint != nil && in.Footprint.Advisory != nil {
			msg = in.Footprint.Advisory.UserMessage
		}
		out = append(out, msg)
	}
	switch rec.Verdict {
	case VerdictNotApt:
		if rec.UsableAreaM2 < e.cfg.MinViableAreaM2 {
			out = append(out, "Consider a ground-mounted or shared community installation.")
		}
		if rec.ShadingLossPercent > e.cfg.MaxShadingPercent {
			out = append(out, "Review nearby obstructions such as trees or taller buildings before investing.")
		}
	case VerdictPartial:
		if rec.ShadingLossPercent >= e.cfg.CautionShadingPercent {
			out = append(out, "Use module-level power electronics (microinverters or optimizers) to limit shading losses.")
		}
		if rec.Confidence == ConfidenceLow {
			out = append(out, "Request an on-site survey to confirm the estimated values.")
		}
	case VerdictApt:
		out = append(out, fmt.Sprintf("A %.2f kWp system with %d panels fits this roof.", rec.System.SystemPowerKWp, rec.System.PanelCount))
	}
	return out
}

func failureWarnings(in FusionInput) []string {
	var out []string
	if in.FootprintErr != nil {
		out = append(out, "Building outline lookup failed: "+in.FootprintErr.UserMessage)
	}
	if in.Irradiation != nil {
		for _, f := range in.Irradiation.Failures {
			out = append(out, fmt.Sprintf("%s (%s) did not answer: %s", f.Slot, f.Provider, f.Error.Code))
		}
	} else if in.IrradiationErr != nil {
		out = append(out, "Irradiation lookup failed: "+in.IrradiationErr.UserMessage)
	}
	return out
}

func failureDetail(in FusionInput) string {
	parts := []string{"geometry and irradiation unavailable"}
	if in.FootprintErr != nil {
		parts = append(parts, "footprint: "+in.FootprintErr.Error())
	} else if in.Footprint != nil && in.Footprint.Advisory != nil {
		parts = append(parts, "footprint: "+in.Footprint.Advisory.Error())
	}
	if in.IrradiationErr != nil {
		parts = append(parts, "irradiation: "+in.IrradiationErr.Error())
	}
	return strings.Join(parts, "; ")
}

// ClimatologicalIrradiation returns a typical annual global irradiation on
// an optimally tilted plane for the absolute-latitude band of lat.
func ClimatologicalIrradiation(lat float64) float64 {
	switch abs := math.Abs(lat); {
	case abs < 15:
		return 2000
	case abs < 25:
		return 1950
	case abs < 35:
		return 1800
	case abs < 45:
		return 1500
	case abs < 55:
		return 1100
	default:
		return 900
	}
}

// HeuristicShading estimates shading from latitude and building density when
// no flux analysis is available. Low sun angles past 40° add up to 0.10 and a
// dense neighbourhood (40 or more buildings in the search radius) adds 0.22
// to a 0.03 base, so the index never exceeds 0.35.
func HeuristicShading(lat float64, neighbors int) float64 {
	latTerm := math.Min(0.002*math.Max(0, math.Abs(lat)-40), 0.10)
	density := math.Min(float64(max(neighbors, 0))/40, 1)
	return math.Min(0.03+latTerm+0.22*density, 0.35)
}
