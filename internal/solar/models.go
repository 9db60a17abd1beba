package solar

import (
	"fmt"
	"time"

	"github.com/paulmach/orb"

	"github.com/i474232898/solar-viability/internal/apierr"
)

// Coordinate is a WGS84 point. It is the spatial identity of every query.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate checks the coordinate ranges.
func (c Coordinate) Validate() error {
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("%w: latitude %.6f outside [-90, 90]", ErrInvalidCoordinate, c.Lat)
	}
	if c.Lng < -180 || c.Lng > 180 {
		return fmt.Errorf("%w: longitude %.6f outside [-180, 180]", ErrInvalidCoordinate, c.Lng)
	}
	return nil
}

// Key returns a canonical key identifying the site (about 1 m resolution).
func (c Coordinate) Key() string {
	return fmt.Sprintf("%.5f,%.5f", c.Lat, c.Lng)
}

// Point converts to a longitude-first orb point.
func (c Coordinate) Point() orb.Point {
	return orb.Point{c.Lng, c.Lat}
}

// PolygonSource records where a roof outline came from.
type PolygonSource string

const (
	SourceUserDrawn      PolygonSource = "user-drawn"
	SourceFootprintDB    PolygonSource = "building-footprint-db"
	SourceImageryDerived PolygonSource = "imagery-derived"
)

// Polygon is a closed roof ring. Points are longitude-first internally.
type Polygon struct {
	Ring   orb.Ring      `json:"coordinates"`
	Source PolygonSource `json:"source"`
}

// LatLng returns the ring as latitude-first pairs for presentation.
func (p *Polygon) LatLng() [][2]float64 {
	if p == nil {
		return nil
	}
	out := make([][2]float64, len(p.Ring))
	for i, pt := range p.Ring {
		out[i] = [2]float64{pt.Lat(), pt.Lon()}
	}
	return out
}

// PolygonFromLatLng builds a polygon from latitude-first pairs.
func PolygonFromLatLng(pairs [][2]float64, source PolygonSource) *Polygon {
	ring := make(orb.Ring, len(pairs))
	for i, p := range pairs {
		ring[i] = orb.Point{p[1], p[0]}
	}
	return &Polygon{Ring: ring, Source: source}
}

// Confidence is a qualitative trust level.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// Quality is the imagery quality reported by the imagery provider.
type Quality string

const (
	QualityLow    Quality = "LOW"
	QualityMedium Quality = "MEDIUM"
	QualityHigh   Quality = "HIGH"
)

// Rank orders qualities; unknown values rank below LOW.
func (q Quality) Rank() int {
	switch q {
	case QualityLow:
		return 1
	case QualityMedium:
		return 2
	case QualityHigh:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether q meets floor.
func (q Quality) AtLeast(floor Quality) bool {
	return q.Rank() >= floor.Rank()
}

// View selects the bundle of raster layers to request.
type View string

const (
	ViewDSM               View = "DSM_LAYER"
	ViewImagery           View = "IMAGERY_LAYERS"
	ViewImageryAnnualFlux View = "IMAGERY_AND_ANNUAL_FLUX_LAYERS"
	ViewImageryAllFlux    View = "IMAGERY_AND_ALL_FLUX_LAYERS"
	ViewFull              View = "FULL_LAYERS"
)

// Valid reports whether v is a known view.
func (v View) Valid() bool {
	switch v {
	case ViewDSM, ViewImagery, ViewImageryAnnualFlux, ViewImageryAllFlux, ViewFull:
		return true
	}
	return false
}

// Layer is one entry of the imagery catalog.
type Layer struct {
	Name            string `json:"name"`
	URL             string `json:"url"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	AcquisitionDate string `json:"acquisitionDate,omitempty"`
	Flux            bool   `json:"flux"`
	// Month is set for per-month flux/shade variants (1-12).
	Month int `json:"month,omitempty"`
	// Hours is the number of hourly bands carried by time-of-day variants.
	Hours int `json:"hours,omitempty"`
}

// LayerRequest parameterizes an imagery/irradiation fetch.
type LayerRequest struct {
	Coordinate      Coordinate `json:"coordinate"`
	RadiusM         float64    `json:"radiusMeters"`
	View            View       `json:"view"`
	RequiredQuality Quality    `json:"requiredQuality"`
	PixelSizeM      float64    `json:"pixelSizeMeters"`
	ExactQuality    bool       `json:"exactQualityRequired"`
}

// Key identifies the request for caching.
func (r LayerRequest) Key() string {
	return fmt.Sprintf("%s:%.0f:%s:%s:%.2f:%t", r.Coordinate.Key(), r.RadiusM, r.View, r.RequiredQuality, r.PixelSizeM, r.ExactQuality)
}

// FootprintResult is the outcome of footprint resolution. A nil Polygon is a
// valid outcome and comes with a FootprintNotFound advisory.
type FootprintResult struct {
	Polygon    *Polygon   `json:"polygon,omitempty"`
	AreaM2     float64    `json:"areaM2"`
	Confidence Confidence `json:"confidence"`
	Source     string     `json:"source"`
	AzimuthDeg *float64   `json:"azimuthDeg,omitempty"`
	TiltDeg    *float64   `json:"tiltDeg,omitempty"`
	// NeighborCount is the number of buildings found in the search radius.
	NeighborCount *int           `json:"neighborCount,omitempty"`
	Advisory      *apierr.Record `json:"advisory,omitempty"`
	CacheID       *string        `json:"cacheId,omitempty"`
}

// Found reports whether a polygon was resolved.
func (f *FootprintResult) Found() bool {
	return f != nil && f.Polygon != nil
}

// IrradiationResult is the outcome of one irradiation/imagery provider.
type IrradiationResult struct {
	AnnualKWhPerM2 float64          `json:"annualKwhPerM2"`
	Source         string           `json:"source"`
	ImageryQuality Quality          `json:"imageryQuality,omitempty"`
	ImageryDate    string           `json:"imageryDate,omitempty"`
	Layers         map[string]Layer `json:"layers,omitempty"`
	LayerCount     int              `json:"layerCount"`
	// DroppedLayers names catalog entries removed by validation, sorted.
	DroppedLayers []string `json:"droppedLayers,omitempty"`
	// ShadingIndex is derived from flux statistics, 0 = unshaded.
	ShadingIndex       *float64 `json:"shadingIndex,omitempty"`
	MeasuredRoofAreaM2 *float64 `json:"measuredRoofAreaM2,omitempty"`
	// ProductionPerKWp is a direct yield estimate in kWh per kWp per year.
	ProductionPerKWp *float64 `json:"productionPerKwp,omitempty"`
	AzimuthDeg       *float64 `json:"azimuthDeg,omitempty"`
	TiltDeg          *float64 `json:"tiltDeg,omitempty"`
}

// SystemConfig is the suggested photovoltaic sizing.
type SystemConfig struct {
	PanelCount             int     `json:"panelCount"`
	PanelPowerW            float64 `json:"panelPowerW"`
	SystemPowerKWp         float64 `json:"systemPowerKwp"`
	OccupiedAreaM2         float64 `json:"occupiedAreaM2"`
	PowerDensityWPerM2     float64 `json:"powerDensityWPerM2"`
	AreaUtilizationPercent float64 `json:"areaUtilizationPercent"`
}

// Verdict is the three-way viability classification.
type Verdict string

const (
	VerdictApt     Verdict = "APTO"
	VerdictPartial Verdict = "PARCIAL"
	VerdictNotApt  Verdict = "NO_APTO"
)

// AreaSource records which input supplied the usable area.
type AreaSource string

const (
	AreaFootprint      AreaSource = "footprint"
	AreaGoogleMeasured AreaSource = "google-measured"
	AreaEstimate       AreaSource = "estimate"
	AreaManual         AreaSource = "manual"
)

// ShadingSource records how the shading index was obtained.
type ShadingSource string

const (
	ShadingFlux      ShadingSource = "flux"
	ShadingHeuristic ShadingSource = "heuristic"
	ShadingDefault   ShadingSource = "default"
)

// IrradiationEstimate is the irradiation_source value for climatological fallbacks.
const IrradiationEstimate = "estimate"

// Coverage flags which upstream providers contributed.
type Coverage struct {
	GeometryDB   bool `json:"geometryDb"`
	IrradiationA bool `json:"irradiationApiA"`
	IrradiationB bool `json:"irradiationApiB"`
}

// CacheIDs are the cache keys each provider's response was stored under.
type CacheIDs struct {
	GeometryDB   *string `json:"geometryDb"`
	IrradiationA *string `json:"irradiationApiA"`
	IrradiationB *string `json:"irradiationApiB"`
}

// AnalysisRecord is the fused viability result. Records are immutable once
// stored; a re-analysis produces a new version.
type AnalysisRecord struct {
	ID         string     `json:"id"`
	Version    int        `json:"version"`
	PreviousID string     `json:"previousId,omitempty"`
	Coordinate Coordinate `json:"coordinate"`
	Polygon    *Polygon   `json:"polygon,omitempty"`

	UsableAreaM2       float64       `json:"usableAreaM2"`
	AreaSource         AreaSource    `json:"areaSource"`
	AnnualIrradiation  float64       `json:"annualIrradiation"`
	IrradiationSource  string        `json:"irradiationSource"`
	ShadingIndex       float64       `json:"shadingIndex"`
	ShadingSource      ShadingSource `json:"shadingSource"`
	ShadingLossPercent int           `json:"shadingLossPercent"`

	EstimatedProductionKWh float64  `json:"estimatedProductionKwh"`
	Verdict                Verdict  `json:"verdict"`
	Reasons                []string `json:"reasons"`
	Recommendations        []string `json:"recommendations"`
	Warnings               []string `json:"warnings"`

	Coverage       Coverage     `json:"coverage"`
	CacheIDs       CacheIDs     `json:"cacheIds"`
	System         SystemConfig `json:"systemConfig"`
	Confidence     Confidence   `json:"confidence"`
	ImageryQuality Quality      `json:"imageryQuality,omitempty"`
	LayerCount     int          `json:"layerCount"`
	AzimuthDeg     *float64     `json:"azimuthDeg,omitempty"`
	TiltDeg        *float64     `json:"tiltDeg,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// AnalysisRequest is the caller-facing request.
type AnalysisRequest struct {
	Coordinate Coordinate `json:"coordinate"`
	Polygon    *Polygon   `json:"polygon,omitempty"`
}

// Address is the input of the geocoder.
type Address struct {
	Street     string `json:"street"`
	Number     int    `json:"number,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	Country    string `json:"country"`
	PostalCode string `json:"postalCode,omitempty"`
}
