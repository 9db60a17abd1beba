package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/solar-viability/internal/apierr"
	"github.com/i474232898/solar-viability/internal/logging"
	"github.com/i474232898/solar-viability/internal/solar"
)

// Analyzer re-analyzes a site, extending its version chain.
// *solar.Service satisfies it.
type Analyzer interface {
	ReanalyzeSite(ctx context.Context, coord solar.Coordinate) (solar.AnalysisRecord, *apierr.Record)
}

// Scheduler periodically re-analyzes tracked sites so their history
// follows changes in upstream imagery.
type Scheduler struct {
	scheduler *gocron.Scheduler
	analyzer  Analyzer
	sites     []solar.Coordinate
	interval  time.Duration
	timeout   time.Duration

	// ctx is cancelled by Stop so in-flight jobs abort.
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Scheduler. A non-positive interval defaults to 24h.
func New(sites []solar.Coordinate, interval, timeout time.Duration, analyzer Analyzer) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		analyzer:  analyzer,
		sites:     sites,
		interval:  interval,
		timeout:   timeout,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if len(s.sites) == 0 {
		logging.Info().Msg("scheduler: no tracked sites configured, nothing to schedule")
		return nil
	}

	_, err := s.scheduler.Every(s.interval).Do(func() {
		s.runOnce(s.ctx)
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	logging.Info().Int("sites", len(s.sites)).Dur("interval", s.interval).Msg("scheduler started")
	return nil
}

// runOnce analyzes every tracked site concurrently and returns the number
// of successful analyses.
func (s *Scheduler) runOnce(parent context.Context) int {
	logging.Info().Msg("scheduler: running re-analysis job")

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for _, site := range s.sites {
		wg.Add(1)
		go func(site solar.Coordinate) {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(parent, s.timeout)
			defer cancel()

			rec, err := s.analyzer.ReanalyzeSite(ctx, site)
			if err != nil {
				logging.Warn().Str("site", site.Key()).Str("code", string(err.Code)).Msg("scheduler: analysis failed")
				return
			}
			logging.Debug().Str("site", site.Key()).Str("id", rec.ID).Int("version", rec.Version).Str("verdict", string(rec.Verdict)).Msg("scheduler: analysis stored")
			mu.Lock()
			ok++
			mu.Unlock()
		}(site)
	}
	wg.Wait()

	logging.Info().Int("ok", ok).Int("sites", len(s.sites)).Msg("scheduler: completed re-analysis job")
	return ok
}

// Stop cancels in-flight analyses and any future jobs.
func (s *Scheduler) Stop() {
	s.cancel()
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
