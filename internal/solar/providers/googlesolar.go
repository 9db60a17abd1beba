package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sony/gobreaker"

	"github.com/i474232898/solar-viability/internal/common"
	"github.com/i474232898/solar-viability/internal/logging"
	"github.com/i474232898/solar-viability/internal/solar"
)

const (
	defaultGoogleSolarURL = "https://solar.googleapis.com/v1"
	// dcToAC converts the DC yield of panel configurations to AC output.
	dcToAC = 0.85
)

// GoogleSolarProvider implements solar.IrradiationProvider with the Google
// Solar API: buildingInsights for irradiation and roof statistics, dataLayers
// for the imagery catalog.
type GoogleSolarProvider struct {
	name    string
	baseURL string
	apiKey  string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewGoogleSolarProvider(client *http.Client, baseURL, apiKey string) *GoogleSolarProvider {
	if baseURL == "" {
		baseURL = defaultGoogleSolarURL
	}
	return &GoogleSolarProvider{
		name:    "google-solar",
		baseURL: baseURL,
		apiKey:  apiKey,
		httpCfg: DefaultHTTPConfig(client),
		circuit: newBreaker("google-solar"),
	}
}

func (p *GoogleSolarProvider) Name() string {
	return p.name
}

type googleDate struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

func (d googleDate) String() string {
	if d.Year == 0 {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

type sunshineStats struct {
	AreaMeters2       float64   `json:"areaMeters2"`
	GroundAreaMeters2 float64   `json:"groundAreaMeters2"`
	SunshineQuantiles []float64 `json:"sunshineQuantiles"`
}

type buildingInsights struct {
	Name           string     `json:"name"`
	ImageryDate    googleDate `json:"imageryDate"`
	ImageryQuality string     `json:"imageryQuality"`
	SolarPotential struct {
		MaxSunshineHoursPerYear float64       `json:"maxSunshineHoursPerYear"`
		PanelCapacityWatts      float64       `json:"panelCapacityWatts"`
		WholeRoofStats          sunshineStats `json:"wholeRoofStats"`
		RoofSegmentStats        []struct {
			PitchDegrees   float64       `json:"pitchDegrees"`
			AzimuthDegrees float64       `json:"azimuthDegrees"`
			Stats          sunshineStats `json:"stats"`
		} `json:"roofSegmentStats"`
		SolarPanelConfigs []struct {
			PanelsCount       int     `json:"panelsCount"`
			YearlyEnergyDcKwh float64 `json:"yearlyEnergyDcKwh"`
		} `json:"solarPanelConfigs"`
	} `json:"solarPotential"`
}

type dataLayers struct {
	ImageryDate     googleDate `json:"imageryDate"`
	ImageryQuality  string     `json:"imageryQuality"`
	DsmURL          string     `json:"dsmUrl"`
	RgbURL          string     `json:"rgbUrl"`
	MaskURL         string     `json:"maskUrl"`
	AnnualFluxURL   string     `json:"annualFluxUrl"`
	MonthlyFluxURL  string     `json:"monthlyFluxUrl"`
	HourlyShadeURLs []string   `json:"hourlyShadeUrls"`
}

func (p *GoogleSolarProvider) Fetch(ctx context.Context, req solar.LayerRequest) (solar.IrradiationResult, error) {
	insights, err := p.buildingInsights(ctx, req)
	if err != nil {
		return solar.IrradiationResult{}, err
	}

	res := insightsToResult(p.name, insights)
	if res.AnnualKWhPerM2 <= 0 {
		return solar.IrradiationResult{}, fmt.Errorf("%s: building insights carry no sunshine hours", p.name)
	}

	layers, err := p.dataLayers(ctx, req)
	if err != nil {
		// The catalog is optional for the analysis itself.
		logging.Warn().Err(err).Str("provider", p.name).Str("site", req.Coordinate.Key()).Msg("data layers unavailable")
		return res, nil
	}
	res.Layers = layersCatalog(layers)
	res.LayerCount = len(res.Layers)
	if res.ImageryDate == "" {
		res.ImageryDate = layers.ImageryDate.String()
	}
	return res, nil
}

func (p *GoogleSolarProvider) buildingInsights(ctx context.Context, req solar.LayerRequest) (buildingInsights, error) {
	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("location.latitude", strconv.FormatFloat(req.Coordinate.Lat, 'f', 6, 64))
		values.Set("location.longitude", strconv.FormatFloat(req.Coordinate.Lng, 'f', 6, 64))
		values.Set("requiredQuality", string(req.RequiredQuality))
		values.Set("key", p.apiKey)
		return http.NewRequest(http.MethodGet, p.baseURL+"/buildingInsights:findClosest?"+values.Encode(), nil)
	}
	return fetchJSON[buildingInsights](ctx, p.name, p.httpCfg, p.circuit, buildRequest)
}

func (p *GoogleSolarProvider) dataLayers(ctx context.Context, req solar.LayerRequest) (dataLayers, error) {
	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("location.latitude", strconv.FormatFloat(req.Coordinate.Lat, 'f', 6, 64))
		values.Set("location.longitude", strconv.FormatFloat(req.Coordinate.Lng, 'f', 6, 64))
		values.Set("radiusMeters", strconv.FormatFloat(req.RadiusM, 'f', -1, 64))
		values.Set("view", string(req.View))
		values.Set("requiredQuality", string(req.RequiredQuality))
		values.Set("pixelSizeMeters", strconv.FormatFloat(req.PixelSizeM, 'f', -1, 64))
		values.Set("exactQualityRequired", strconv.FormatBool(req.ExactQuality))
		values.Set("key", p.apiKey)
		return http.NewRequest(http.MethodGet, p.baseURL+"/dataLayers:get?"+values.Encode(), nil)
	}
	return fetchJSON[dataLayers](ctx, p.name, p.httpCfg, p.circuit, buildRequest)
}

func insightsToResult(name string, b buildingInsights) solar.IrradiationResult {
	sp := b.SolarPotential
	res := solar.IrradiationResult{
		AnnualKWhPerM2: sp.MaxSunshineHoursPerYear,
		Source:         name,
		ImageryQuality: solar.Quality(b.ImageryQuality),
		ImageryDate:    b.ImageryDate.String(),
	}
	if a := sp.WholeRoofStats.AreaMeters2; a > 0 {
		res.MeasuredRoofAreaM2 = &a
	}
	if s, ok := quantileShading(sp.WholeRoofStats.SunshineQuantiles); ok {
		res.ShadingIndex = &s
	}

	// Orientation of the largest roof segment.
	bestArea := 0.0
	for _, seg := range sp.RoofSegmentStats {
		if seg.Stats.AreaMeters2 > bestArea {
			bestArea = seg.Stats.AreaMeters2
			az, tilt := seg.AzimuthDegrees, seg.PitchDegrees
			res.AzimuthDeg, res.TiltDeg = &az, &tilt
		}
	}

	if n := len(sp.SolarPanelConfigs); n > 0 && sp.PanelCapacityWatts > 0 {
		largest := sp.SolarPanelConfigs[n-1]
		if kwp := float64(largest.PanelsCount) * sp.PanelCapacityWatts / 1000; kwp > 0 && largest.YearlyEnergyDcKwh > 0 {
			y := common.Round(largest.YearlyEnergyDcKwh*dcToAC/kwp, 1)
			res.ProductionPerKWp = &y
		}
	}
	return res
}

// quantileShading derives a shading index from the roof's sunshine
// quantiles: the shortfall of the mean against the best-lit decile.
func quantileShading(q []float64) (float64, bool) {
	if len(q) < 2 {
		return 0, false
	}
	top := q[len(q)-1]
	if top <= 0 {
		return 0, false
	}
	sum := 0.0
	for _, v := range q {
		sum += v
	}
	mean := sum / float64(len(q))
	return common.Round(common.Clamp(1-mean/top, 0, 1), 4), true
}

func layersCatalog(d dataLayers) map[string]solar.Layer {
	date := d.ImageryDate.String()
	out := map[string]solar.Layer{}
	add := func(name, u, title, desc string, flux bool) {
		if u == "" {
			return
		}
		out[name] = solar.Layer{Name: name, URL: u, Title: title, Description: desc, AcquisitionDate: date, Flux: flux}
	}
	add("dsm", d.DsmURL, "Digital surface model", "Elevation of the surface in metres", false)
	add("rgb", d.RgbURL, "Aerial imagery", "RGB aerial image of the area", false)
	add("mask", d.MaskURL, "Roof mask", "Pixels belonging to building roofs", false)
	add("annualFlux", d.AnnualFluxURL, "Annual flux", "Annual solar flux in kWh/kW/year", true)
	add("monthlyFlux", d.MonthlyFluxURL, "Monthly flux", "Solar flux per month in kWh/kW/month", true)
	for i, u := range d.HourlyShadeURLs {
		if u == "" || i >= 12 {
			continue
		}
		name := fmt.Sprintf("hourlyShade%02d", i+1)
		out[name] = solar.Layer{
			Name:            name,
			URL:             u,
			Title:           fmt.Sprintf("Hourly shade (month %d)", i+1),
			Description:     "Sun visibility per hour of a representative day",
			AcquisitionDate: date,
			Flux:            true,
			Month:           i + 1,
			Hours:           24,
		}
	}
	return out
}
