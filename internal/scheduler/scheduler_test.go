package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/i474232898/solar-viability/internal/apierr"
	"github.com/i474232898/solar-viability/internal/solar"
	"github.com/i474232898/solar-viability/internal/store"
)

type fakeAnalyzer struct {
	mu    sync.Mutex
	seen  []solar.Coordinate
	fail  map[string]bool
	block bool
}

func (f *fakeAnalyzer) ReanalyzeSite(ctx context.Context, coord solar.Coordinate) (solar.AnalysisRecord, *apierr.Record) {
	f.mu.Lock()
	f.seen = append(f.seen, coord)
	fail := f.fail[coord.Key()]
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return solar.AnalysisRecord{}, apierr.FromError(ctx.Err())
	}
	if fail {
		return solar.AnalysisRecord{}, apierr.New(apierr.AnalysisFailed, "no data")
	}
	return solar.AnalysisRecord{ID: coord.Key(), Verdict: solar.VerdictApt}, nil
}

type staticIrradiation struct{}

func (staticIrradiation) Name() string { return "pvgis" }

func (staticIrradiation) Fetch(context.Context, solar.LayerRequest) (solar.IrradiationResult, error) {
	return solar.IrradiationResult{AnnualKWhPerM2: 1600}, nil
}

func TestRunOnceAnalyzesEverySite(t *testing.T) {
	sites := []solar.Coordinate{{Lat: 40.4, Lng: -3.7}, {Lat: 41.4, Lng: 2.2}, {Lat: 37.4, Lng: -6.0}}
	fa := &fakeAnalyzer{fail: map[string]bool{sites[1].Key(): true}}
	s := New(sites, time.Hour, time.Second, fa)

	if got := s.runOnce(context.Background()); got != 2 {
		t.Fatalf("expected 2 successful analyses, got %d", got)
	}
	if len(fa.seen) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(fa.seen))
	}
}

func TestRunOnceLinksVersions(t *testing.T) {
	site := solar.Coordinate{Lat: 40.4168, Lng: -3.7038}
	st := store.NewMemoryStore(0, 0)
	svc := solar.NewService(st,
		solar.NewFootprintResolver(nil, nil, 30, 50*time.Millisecond),
		solar.NewIrradiationResolver(staticIrradiation{}, nil, nil, 50*time.Millisecond),
		solar.NewEngine(solar.DefaultFusionConfig()),
	)
	s := New([]solar.Coordinate{site}, time.Hour, time.Second, svc)

	for i := 0; i < 2; i++ {
		if got := s.runOnce(context.Background()); got != 1 {
			t.Fatalf("run %d: expected 1 successful analysis, got %d", i+1, got)
		}
	}

	hist, err := st.History(context.Background(), site.Key())
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 records, got %d", len(hist))
	}
	if hist[0].Version != 1 || hist[0].PreviousID != "" {
		t.Fatalf("first record: v%d prev=%q", hist[0].Version, hist[0].PreviousID)
	}
	if hist[1].Version != 2 || hist[1].PreviousID != hist[0].ID {
		t.Fatalf("second record: v%d prev=%q, want v2 prev=%q", hist[1].Version, hist[1].PreviousID, hist[0].ID)
	}
}

func TestStopCancelsInFlightJob(t *testing.T) {
	fa := &fakeAnalyzer{block: true}
	s := New([]solar.Coordinate{{Lat: 40.4, Lng: -3.7}}, time.Hour, time.Minute, fa)

	done := make(chan int, 1)
	go func() { done <- s.runOnce(s.ctx) }()

	// Wait for the job to reach the analyzer before stopping.
	deadline := time.Now().Add(time.Second)
	for {
		fa.mu.Lock()
		n := len(fa.seen)
		fa.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job never started")
		}
		time.Sleep(time.Millisecond)
	}
	s.Stop()

	select {
	case got := <-done:
		if got != 0 {
			t.Fatalf("expected no successful analyses, got %d", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight job was not cancelled by Stop")
	}
}

func TestStartWithoutSites(t *testing.T) {
	s := New(nil, 0, 0, &fakeAnalyzer{})
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Stop()
	if s.interval != 24*time.Hour {
		t.Fatalf("default interval = %v", s.interval)
	}
}
