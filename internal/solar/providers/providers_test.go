package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/kelvins/geocoder"

	"github.com/i474232898/solar-viability/internal/apierr"
	"github.com/i474232898/solar-viability/internal/solar"
)

var site = solar.Coordinate{Lat: 40.4168, Lng: -3.7038}

func fastRetries(cfg *HTTPClientConfig) {
	cfg.Backoff.InitialInterval = time.Millisecond
	cfg.Backoff.MaxInterval = 5 * time.Millisecond
}

// square returns Overpass geometry nodes for a square of half-width d degrees around c.
func square(c solar.Coordinate, d float64) string {
	return fmt.Sprintf(`[{"lat":%[1]f,"lon":%[2]f},{"lat":%[1]f,"lon":%[3]f},{"lat":%[4]f,"lon":%[3]f},{"lat":%[4]f,"lon":%[2]f},{"lat":%[1]f,"lon":%[2]f}]`,
		c.Lat-d, c.Lng-d, c.Lng+d, c.Lat+d)
}

func TestDoRequestRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.Write([]byte(`{"ok":true}`))
		}
	}))
	defer srv.Close()

	cfg := DefaultHTTPConfig(srv.Client())
	fastRetries(&cfg)
	resp, err := doRequestWithResilience(context.Background(), "test", cfg, newBreaker("test-retry"), func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if calls := atomic.LoadInt32(&calls); calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoRequestDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad input"}`))
	}))
	defer srv.Close()

	cfg := DefaultHTTPConfig(srv.Client())
	fastRetries(&cfg)
	_, err := doRequestWithResilience(context.Background(), "test", cfg, newBreaker("test-4xx"), func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	})
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected StatusError 400, got %v", err)
	}
	if string(se.Body) != `{"error":"bad input"}` {
		t.Fatalf("expected body to be kept, got %q", se.Body)
	}
	if calls := atomic.LoadInt32(&calls); calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestDoRequestGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := DefaultHTTPConfig(srv.Client())
	fastRetries(&cfg)
	_, err := doRequestWithResilience(context.Background(), "test", cfg, newBreaker("test-5xx"), func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	})
	if !errors.Is(err, errServerError) {
		t.Fatalf("expected errServerError, got %v", err)
	}
	if want := int32(cfg.Backoff.MaxRetries + 1); atomic.LoadInt32(&calls) != want {
		t.Fatalf("expected %d calls, got %d", want, calls)
	}
}

func TestOverpassLookupPicksContainingBuilding(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		r.ParseForm()
		query = r.PostForm.Get("data")
		other := solar.Coordinate{Lat: site.Lat + 0.0003, Lng: site.Lng}
		fmt.Fprintf(w, `{"elements":[
			{"type":"way","id":1,"tags":{"building":"yes"},"geometry":%s},
			{"type":"way","id":2,"tags":{"building":"house","roof:angle":"30","roof:direction":"S"},"geometry":%s}
		]}`, square(other, 0.00005), square(site, 0.00004))
	}))
	defer srv.Close()

	p := NewOverpassProvider(srv.Client(), srv.URL)
	got, err := p.Lookup(context.Background(), site, 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(query, "around:30,40.416800,-3.703800") {
		t.Fatalf("unexpected query %q", query)
	}
	if got.Confidence != solar.ConfidenceHigh {
		t.Fatalf("expected HIGH confidence, got %s", got.Confidence)
	}
	if got.NeighborCount != 2 {
		t.Fatalf("expected 2 buildings, got %d", got.NeighborCount)
	}
	if !solar.RingContains(got.Polygon.Ring, site.Point()) {
		t.Fatal("expected the containing building")
	}
	if got.TiltDeg == nil || *got.TiltDeg != 30 || got.AzimuthDeg == nil || *got.AzimuthDeg != 180 {
		t.Fatalf("unexpected orientation %v / %v", got.TiltDeg, got.AzimuthDeg)
	}
	if got.AreaM2 <= 0 {
		t.Fatal("expected a positive area")
	}
}

func TestOverpassLookupNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"version":0.6,"elements":[]}`))
	}))
	defer srv.Close()

	_, err := NewOverpassProvider(srv.Client(), srv.URL).Lookup(context.Background(), site, 30)
	if !errors.Is(err, solar.ErrFootprintNotFound) {
		t.Fatalf("expected ErrFootprintNotFound, got %v", err)
	}
}

func TestOverpassRemarkTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"elements":[],"remark":"runtime error: Query timed out in \"query\" at line 1 after 25 seconds."}`))
	}))
	defer srv.Close()

	_, err := NewOverpassProvider(srv.Client(), srv.URL).Lookup(context.Background(), site, 30)
	if err == nil || apierr.Classify(err.Error()) != apierr.FootprintTimeout {
		t.Fatalf("expected a footprint timeout, got %v", err)
	}
}

func TestOverpassGatewayTimeoutIsFootprintTimeout(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusGatewayTimeout)
	}))
	defer srv.Close()

	p := NewOverpassProvider(srv.Client(), srv.URL)
	fastRetries(&p.httpCfg)
	_, err := p.Lookup(context.Background(), site, 30)
	if !errors.Is(err, solar.ErrUpstreamTimeout) {
		t.Fatalf("expected ErrUpstreamTimeout, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 504 to be retried, got %d calls", got)
	}

	_, rec := solar.NewFootprintResolver(p, nil, 30, time.Second).Resolve(context.Background(), site, nil)
	if rec == nil || rec.Code != apierr.FootprintTimeout {
		t.Fatalf("expected FOOTPRINT_TIMEOUT, got %v", rec)
	}
}

const insightsJSON = `{
	"name": "buildings/abc",
	"imageryDate": {"year": 2023, "month": 6, "day": 14},
	"imageryQuality": "HIGH",
	"solarPotential": {
		"maxSunshineHoursPerYear": 1820.5,
		"panelCapacityWatts": 400,
		"wholeRoofStats": {"areaMeters2": 96.2, "sunshineQuantiles": [400, 1200, 1500, 1600, 1700, 1800]},
		"roofSegmentStats": [
			{"pitchDegrees": 12, "azimuthDegrees": 90, "stats": {"areaMeters2": 20}},
			{"pitchDegrees": 25, "azimuthDegrees": 182, "stats": {"areaMeters2": 60}}
		],
		"solarPanelConfigs": [
			{"panelsCount": 4, "yearlyEnergyDcKwh": 2900},
			{"panelsCount": 10, "yearlyEnergyDcKwh": 7000}
		]
	}
}`

const layersJSON = `{
	"imageryDate": {"year": 2023, "month": 6, "day": 14},
	"imageryQuality": "HIGH",
	"dsmUrl": "https://solar.example/dsm",
	"rgbUrl": "https://solar.example/rgb",
	"maskUrl": "https://solar.example/mask",
	"annualFluxUrl": "https://solar.example/annual",
	"monthlyFluxUrl": "https://solar.example/monthly",
	"hourlyShadeUrls": ["https://solar.example/h1", "https://solar.example/h2"]
}`

func googleServer(t *testing.T, insights, layers func(w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("missing api key in %s", r.URL)
		}
		switch r.URL.Path {
		case "/buildingInsights:findClosest":
			insights(w)
		case "/dataLayers:get":
			if r.URL.Query().Get("view") == "" || r.URL.Query().Get("pixelSizeMeters") == "" {
				t.Errorf("missing layer parameters in %s", r.URL)
			}
			layers(w)
		default:
			http.NotFound(w, r)
		}
	}))
}

func layerRequest() solar.LayerRequest {
	return solar.LayerRequest{Coordinate: site, RadiusM: 50, View: solar.ViewFull, RequiredQuality: solar.QualityMedium, PixelSizeM: 0.5}
}

func TestGoogleSolarFetch(t *testing.T) {
	srv := googleServer(t,
		func(w http.ResponseWriter) { w.Write([]byte(insightsJSON)) },
		func(w http.ResponseWriter) { w.Write([]byte(layersJSON)) },
	)
	defer srv.Close()

	res, err := NewGoogleSolarProvider(srv.Client(), srv.URL, "test-key").Fetch(context.Background(), layerRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.AnnualKWhPerM2 != 1820.5 || res.Source != "google-solar" {
		t.Fatalf("unexpected irradiation %.1f from %s", res.AnnualKWhPerM2, res.Source)
	}
	if res.ImageryQuality != solar.QualityHigh || res.ImageryDate != "2023-06-14" {
		t.Fatalf("unexpected imagery %s %s", res.ImageryQuality, res.ImageryDate)
	}
	if res.MeasuredRoofAreaM2 == nil || *res.MeasuredRoofAreaM2 != 96.2 {
		t.Fatalf("unexpected measured area %v", res.MeasuredRoofAreaM2)
	}
	// mean 1366.67 over top 1800
	if res.ShadingIndex == nil || *res.ShadingIndex != 0.2407 {
		t.Fatalf("unexpected shading %v", res.ShadingIndex)
	}
	if *res.AzimuthDeg != 182 || *res.TiltDeg != 25 {
		t.Fatalf("expected largest segment orientation, got %v / %v", *res.AzimuthDeg, *res.TiltDeg)
	}
	if res.ProductionPerKWp == nil || *res.ProductionPerKWp != 1487.5 {
		t.Fatalf("unexpected specific yield %v", res.ProductionPerKWp)
	}
	if res.LayerCount != 7 {
		t.Fatalf("expected 7 layers, got %d", res.LayerCount)
	}
	h := res.Layers["hourlyShade02"]
	if h.Month != 2 || h.Hours != 24 || !h.Flux {
		t.Fatalf("unexpected hourly shade layer %+v", h)
	}
}

func TestGoogleSolarStringPayload(t *testing.T) {
	quoted, _ := json.Marshal(insightsJSON)
	srv := googleServer(t,
		func(w http.ResponseWriter) { w.Write(quoted) },
		func(w http.ResponseWriter) { w.WriteHeader(http.StatusNotFound) },
	)
	defer srv.Close()

	res, err := NewGoogleSolarProvider(srv.Client(), srv.URL, "test-key").Fetch(context.Background(), layerRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.AnnualKWhPerM2 != 1820.5 {
		t.Fatalf("expected the string payload to decode, got %.1f", res.AnnualKWhPerM2)
	}
	if res.LayerCount != 0 {
		t.Fatalf("expected no layers when the catalog fails, got %d", res.LayerCount)
	}
}

func TestGoogleSolarErrorPayloadIsClassified(t *testing.T) {
	srv := googleServer(t,
		func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"code":404,"message":"Requested entity was not found.","status":"NOT_FOUND"}}`))
		},
		func(w http.ResponseWriter) {},
	)
	defer srv.Close()

	_, err := NewGoogleSolarProvider(srv.Client(), srv.URL, "test-key").Fetch(context.Background(), layerRequest())
	rec := apierr.FromError(err)
	if rec == nil || rec.Code != apierr.FunctionNotFound {
		t.Fatalf("expected FUNCTION_NOT_FOUND, got %v", err)
	}
	if !strings.Contains(rec.Message, "NOT_FOUND") {
		t.Fatalf("expected upstream text to be kept, got %q", rec.Message)
	}
}

func TestPVGISFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/PVcalc" || q.Get("outputformat") != "json" || q.Get("peakpower") != "1" {
			t.Errorf("unexpected request %s", r.URL)
		}
		if lat, _ := strconv.ParseFloat(q.Get("lat"), 64); lat != site.Lat {
			t.Errorf("unexpected lat %q", q.Get("lat"))
		}
		w.Write([]byte(`{
			"inputs": {"mounting_system": {"fixed": {"slope": {"value": 36}, "azimuth": {"value": -10}}}},
			"outputs": {"totals": {"fixed": {"E_y": 1520.3, "H(i)_y": 2050.7}}},
			"meta": {}
		}`))
	}))
	defer srv.Close()

	res, err := NewPVGISProvider(srv.Client(), srv.URL).Fetch(context.Background(), layerRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.AnnualKWhPerM2 != 2050.7 || res.Source != "pvgis" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.ProductionPerKWp == nil || *res.ProductionPerKWp != 1520.3 {
		t.Fatalf("unexpected yield %v", res.ProductionPerKWp)
	}
	if *res.AzimuthDeg != 170 || *res.TiltDeg != 36 {
		t.Fatalf("unexpected orientation %v / %v", *res.AzimuthDeg, *res.TiltDeg)
	}
	if res.ShadingIndex != nil || res.LayerCount != 0 {
		t.Fatal("pvgis carries no flux data")
	}
}

func TestPVGISErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"Location over the sea. Please, select another location","status":400}`))
	}))
	defer srv.Close()

	_, err := NewPVGISProvider(srv.Client(), srv.URL).Fetch(context.Background(), layerRequest())
	var rec *apierr.Record
	if !errors.As(err, &rec) {
		t.Fatalf("expected a classified record, got %v", err)
	}
	if !strings.Contains(rec.Message, "Location over the sea") {
		t.Fatalf("expected upstream message, got %q", rec.Message)
	}
}

func TestGoogleGeocoder(t *testing.T) {
	tests := []struct {
		name string
		fn   func(geocoder.Address) (geocoder.Location, error)
		want apierr.Code
	}{
		{name: "ok", fn: func(a geocoder.Address) (geocoder.Location, error) {
			if a.City != "Madrid" || a.Number != 1 {
				t.Errorf("unexpected address %+v", a)
			}
			return geocoder.Location{Latitude: site.Lat, Longitude: site.Lng}, nil
		}},
		{name: "zero results", fn: func(geocoder.Address) (geocoder.Location, error) {
			return geocoder.Location{}, errors.New("ZERO_RESULTS")
		}, want: apierr.InvalidAddress},
		{name: "denied", fn: func(geocoder.Address) (geocoder.Location, error) {
			return geocoder.Location{}, errors.New("REQUEST_DENIED")
		}, want: apierr.FunctionNotFound},
		{name: "other", fn: func(geocoder.Address) (geocoder.Location, error) {
			return geocoder.Location{}, errors.New("OVER_QUERY_LIMIT")
		}, want: apierr.GeocodingFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &GoogleGeocoder{geocode: tt.fn}
			c, err := g.Geocode(context.Background(), solar.Address{Street: "Gran Via", Number: 1, City: "Madrid", Country: "ES"})
			if tt.want == "" {
				if err != nil || c != site {
					t.Fatalf("expected %v, got %v (%v)", site, c, err)
				}
				return
			}
			if rec := apierr.FromError(err); rec == nil || rec.Code != tt.want {
				t.Fatalf("expected %s, got %v", tt.want, err)
			}
		})
	}
}

func TestGoogleGeocoderHonoursContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	g := &GoogleGeocoder{geocode: func(geocoder.Address) (geocoder.Location, error) {
		<-block
		return geocoder.Location{}, nil
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := g.Geocode(ctx, solar.Address{City: "Madrid"}); apierr.FromError(err).Code != apierr.NetworkError {
		t.Fatalf("expected NETWORK_ERROR, got %v", err)
	}
}
