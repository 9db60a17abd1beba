package solar

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/i474232898/solar-viability/internal/apierr"
)

func googleLike() IrradiationResult {
	return IrradiationResult{
		AnnualKWhPerM2: 1850,
		Source:         "google-solar",
		ImageryQuality: QualityHigh,
		ShadingIndex:   ptr(0.08),
		Layers: map[string]Layer{
			"dsm":        {Name: "dsm", URL: "https://example.test/dsm"},
			"annualFlux": {Name: "annualFlux", URL: "https://example.test/flux", Flux: true},
			"broken":     {Name: "broken"},
		},
		LayerCount: 3,
	}
}

func TestIrradiationPrimaryWins(t *testing.T) {
	a := &fakeIrradiation{name: "google-solar", res: googleLike()}
	b := &fakeIrradiation{name: "pvgis", res: IrradiationResult{AnnualKWhPerM2: 1700}}
	cache := newMapCache()
	r := NewIrradiationResolver(a, b, cache, time.Second)

	out, rec := r.Resolve(context.Background(), LayerRequest{Coordinate: madrid})
	if rec != nil {
		t.Fatalf("unexpected error: %v", rec)
	}
	if out.Winner != "google-solar" {
		t.Fatalf("expected primary to win, got %s", out.Winner)
	}
	if !out.Coverage.IrradiationA || !out.Coverage.IrradiationB {
		t.Fatalf("expected both slots covered, got %+v", out.Coverage)
	}
	if out.CacheIDs.IrradiationA == nil || out.CacheIDs.IrradiationB == nil {
		t.Fatalf("expected cache ids for both slots, got %+v", out.CacheIDs)
	}
	if out.Result.LayerCount != 2 {
		t.Fatalf("expected invalid layer to be dropped, got %d layers", out.Result.LayerCount)
	}
}

func TestIrradiationFallsBackToSecondary(t *testing.T) {
	a := &fakeIrradiation{name: "google-solar", err: errors.New("NOT_FOUND: Requested entity was not found. (404)")}
	b := &fakeIrradiation{name: "pvgis", res: IrradiationResult{AnnualKWhPerM2: 1700}}
	r := NewIrradiationResolver(a, b, nil, time.Second)

	out, rec := r.Resolve(context.Background(), LayerRequest{Coordinate: madrid})
	if rec != nil {
		t.Fatalf("unexpected error: %v", rec)
	}
	if out.Winner != "pvgis" || out.Result.Source != "pvgis" {
		t.Fatalf("expected secondary to win, got %s (%s)", out.Winner, out.Result.Source)
	}
	if out.Coverage.IrradiationA || !out.Coverage.IrradiationB {
		t.Fatalf("unexpected coverage %+v", out.Coverage)
	}
	if len(out.Failures) != 1 || out.Failures[0].Slot != SlotPrimary {
		t.Fatalf("expected one primary failure, got %+v", out.Failures)
	}
	if out.Failures[0].Error.Code != apierr.FunctionNotFound {
		t.Fatalf("expected FUNCTION_NOT_FOUND, got %s", out.Failures[0].Error.Code)
	}
}

func TestIrradiationTotalFailureReturnsPrimaryError(t *testing.T) {
	a := &fakeIrradiation{name: "google-solar", delay: time.Second}
	b := &fakeIrradiation{name: "pvgis", res: IrradiationResult{}}
	r := NewIrradiationResolver(a, b, nil, 20*time.Millisecond)

	out, rec := r.Resolve(context.Background(), LayerRequest{Coordinate: madrid})
	if rec == nil {
		t.Fatal("expected an error")
	}
	if rec.Code != apierr.NetworkError {
		t.Fatalf("expected primary timeout as NETWORK_ERROR, got %s", rec.Code)
	}
	if len(out.Failures) != 2 || out.Failures[1].Error.Code != apierr.EmptyResponse {
		t.Fatalf("expected empty secondary failure, got %+v", out.Failures)
	}
}

func TestIrradiationRejectsUnknownView(t *testing.T) {
	r := NewIrradiationResolver(&fakeIrradiation{name: "a"}, nil, nil, 0)
	_, rec := r.Resolve(context.Background(), LayerRequest{Coordinate: madrid, View: "SOMETHING"})
	if rec == nil || rec.Code != apierr.MalformedResponse {
		t.Fatalf("expected MALFORMED_RESPONSE, got %v", rec)
	}
}

func TestIrradiationNoProviders(t *testing.T) {
	r := NewIrradiationResolver(nil, nil, nil, 0)
	if _, rec := r.Resolve(context.Background(), LayerRequest{Coordinate: madrid}); rec == nil || rec.Code != apierr.FunctionNotFound {
		t.Fatalf("expected FUNCTION_NOT_FOUND, got %v", rec)
	}
}

func TestCatalogValidatesLayers(t *testing.T) {
	res := googleLike()
	res.Layers["shadeJan"] = Layer{Name: "shadeJan", URL: "https://example.test/shade/1", Flux: true, Month: 1, Hours: 24}
	res.Layers["badMonth"] = Layer{Name: "badMonth", URL: "https://example.test/x", Flux: true, Month: 13}
	a := &fakeIrradiation{name: "google-solar", res: res}
	r := NewIrradiationResolver(a, nil, nil, time.Second)

	cat, rec := r.Catalog(context.Background(), LayerRequest{Coordinate: madrid, View: ViewFull})
	if rec != nil {
		t.Fatalf("unexpected error: %v", rec)
	}
	if cat.LayerCount != 3 || len(cat.Layers) != 3 {
		t.Fatalf("expected 3 valid layers, got %d", cat.LayerCount)
	}
	want := []string{"annualFlux", "dsm", "shadeJan"}
	for i, l := range cat.Layers {
		if l.Name != want[i] {
			t.Fatalf("layer %d: expected %s, got %s", i, want[i], l.Name)
		}
	}
	if cat.ImageryQuality != QualityHigh {
		t.Fatalf("expected HIGH imagery quality, got %s", cat.ImageryQuality)
	}
	if !reflect.DeepEqual(cat.Dropped, []string{"badMonth", "broken"}) {
		t.Fatalf("expected badMonth and broken to be reported as dropped, got %v", cat.Dropped)
	}
}

func TestCatalogReportsDroppedLayersFromCache(t *testing.T) {
	res := googleLike()
	res.Layers["badMonth"] = Layer{Name: "badMonth", URL: "https://example.test/x", Flux: true, Month: 13}
	a := &fakeIrradiation{name: "google-solar", res: res}
	c := newMapCache()
	r := NewIrradiationResolver(a, nil, c, time.Second)
	req := LayerRequest{Coordinate: madrid, View: ViewFull}

	for i := 0; i < 2; i++ {
		cat, rec := r.Catalog(context.Background(), req)
		if rec != nil {
			t.Fatalf("call %d: unexpected error: %v", i, rec)
		}
		if !reflect.DeepEqual(cat.Dropped, []string{"badMonth", "broken"}) {
			t.Fatalf("call %d: dropped = %v", i, cat.Dropped)
		}
		if cat.LayerCount != len(cat.Layers) {
			t.Fatalf("call %d: layer count %d does not match %d layers", i, cat.LayerCount, len(cat.Layers))
		}
	}
	if got := a.callCount(); got != 1 {
		t.Fatalf("expected the second catalog to come from cache, provider called %d times", got)
	}
}

func TestLayerRequestDefaults(t *testing.T) {
	req := LayerRequest{Coordinate: madrid}.withDefaults()
	if req.RadiusM != 100 || req.PixelSizeM != 0.5 || req.View != ViewImageryAnnualFlux || req.RequiredQuality != QualityLow {
		t.Fatalf("unexpected defaults %+v", req)
	}
}
