package providers

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/sony/gobreaker"

	"github.com/i474232898/solar-viability/internal/common"
	"github.com/i474232898/solar-viability/internal/solar"
)

const defaultOverpassURL = "https://overpass-api.de/api/interpreter"

// OverpassProvider implements solar.FootprintProvider on top of the
// OpenStreetMap Overpass API.
type OverpassProvider struct {
	name    string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewOverpassProvider(client *http.Client, baseURL string) *OverpassProvider {
	if baseURL == "" {
		baseURL = defaultOverpassURL
	}
	return &OverpassProvider{
		name:    "overpass",
		baseURL: baseURL,
		httpCfg: DefaultHTTPConfig(client),
		circuit: newBreaker("overpass"),
	}
}

func (p *OverpassProvider) Name() string {
	return p.name
}

type overpassResponse struct {
	Remark   string            `json:"remark"`
	Elements []overpassElement `json:"elements"`
}

type overpassElement struct {
	Type     string            `json:"type"`
	ID       int64             `json:"id"`
	Tags     map[string]string `json:"tags"`
	Geometry []struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"geometry"`
}

// ring converts the node list to a longitude-first ring.
func (e overpassElement) ring() orb.Ring {
	r := make(orb.Ring, 0, len(e.Geometry))
	for _, g := range e.Geometry {
		r = append(r, orb.Point{g.Lon, g.Lat})
	}
	return r
}

func (p *OverpassProvider) Lookup(ctx context.Context, coord solar.Coordinate, radiusM float64) (solar.FootprintLookup, error) {
	query := fmt.Sprintf(`[out:json][timeout:25];way["building"](around:%.0f,%.6f,%.6f);out geom;`, radiusM, coord.Lat, coord.Lng)

	buildRequest := func() (*http.Request, error) {
		form := url.Values{}
		form.Set("data", query)
		req, err := http.NewRequest(http.MethodPost, p.baseURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}

	payload, err := fetchJSON[overpassResponse](ctx, p.name, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return solar.FootprintLookup{}, err
	}
	if r := strings.ToLower(payload.Remark); common.HasAny(r, "timed out", "timeout") {
		return solar.FootprintLookup{}, fmt.Errorf("footprint lookup timed out upstream: %s", payload.Remark)
	}

	pt := coord.Point()
	var (
		buildings int
		best      orb.Ring
		bestTags  map[string]string
		bestDist  = math.Inf(1)
		inside    bool
	)
	for _, el := range payload.Elements {
		if el.Type != "way" || len(el.Geometry) < 3 {
			continue
		}
		ring, err := solar.NormalizeRing(el.ring())
		if err != nil {
			continue
		}
		buildings++
		if solar.RingContains(ring, pt) {
			if !inside || solar.RingArea(ring) < solar.RingArea(best) {
				best, bestTags, inside = ring, el.Tags, true
			}
			continue
		}
		if inside {
			continue
		}
		if d := solar.DistanceToRing(ring, pt); d < bestDist {
			best, bestTags, bestDist = ring, el.Tags, d
		}
	}
	if best == nil {
		return solar.FootprintLookup{NeighborCount: buildings}, fmt.Errorf("%w within %.0f m", solar.ErrFootprintNotFound, radiusM)
	}

	confidence := solar.ConfidenceMedium
	switch {
	case inside:
		confidence = solar.ConfidenceHigh
	case bestDist > radiusM:
		confidence = solar.ConfidenceLow
	}

	return solar.FootprintLookup{
		Polygon:       &solar.Polygon{Ring: best, Source: solar.SourceFootprintDB},
		AreaM2:        solar.RingArea(best),
		Confidence:    confidence,
		NeighborCount: buildings,
		AzimuthDeg:    roofDirection(bestTags["roof:direction"]),
		TiltDeg:       tagFloat(bestTags["roof:angle"], 0, 90),
	}, nil
}

var cardinal = map[string]float64{
	"N": 0, "NNE": 22.5, "NE": 45, "ENE": 67.5, "E": 90, "ESE": 112.5, "SE": 135, "SSE": 157.5,
	"S": 180, "SSW": 202.5, "SW": 225, "WSW": 247.5, "W": 270, "WNW": 292.5, "NW": 315, "NNW": 337.5,
}

// roofDirection parses the OSM roof:direction tag (degrees or compass point).
func roofDirection(v string) *float64 {
	v = strings.ToUpper(strings.TrimSpace(v))
	if v == "" {
		return nil
	}
	if deg, ok := cardinal[v]; ok {
		return &deg
	}
	return tagFloat(v, 0, 360)
}

func tagFloat(v string, lo, hi float64) *float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f < lo || f > hi {
		return nil
	}
	return &f
}
