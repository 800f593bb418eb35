// Package monitor runs the background sweep loop that keeps local run and
// job state in step with the external executors: re-dispatching queued
// work that never reached an executor, pulling status and result pages for
// outstanding handles, and auto-starting scraping when a discovery run
// completes.
package monitor

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadscout-cli/internal/config"
	"github.com/sells-group/leadscout-cli/internal/discovery"
	"github.com/sells-group/leadscout-cli/internal/model"
	"github.com/sells-group/leadscout-cli/internal/resilience"
	"github.com/sells-group/leadscout-cli/internal/scrape"
	"github.com/sells-group/leadscout-cli/internal/store"
	"github.com/sells-group/leadscout-cli/pkg/crawlexec"
	"github.com/sells-group/leadscout-cli/pkg/searchexec"
)

// Monitor polls the executors for every active run and job. State lives in
// the store, so a restarted monitor re-attaches to outstanding handles and
// resumes from the persisted ingest cursors.
type Monitor struct {
	store      store.Store
	runs       *discovery.Engine
	jobs       *scrape.Engine
	searchExec searchexec.Client
	crawlExec  crawlexec.Client
	cfg        config.MonitorConfig

	// One breaker per executor: a search outage must not stop job polling.
	searchCB *resilience.CircuitBreaker
	crawlCB  *resilience.CircuitBreaker
}

// New creates a monitor.
func New(st store.Store, runs *discovery.Engine, jobs *scrape.Engine, searchExec searchexec.Client, crawlExec crawlexec.Client, cfg config.MonitorConfig) *Monitor {
	cbCfg := resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.FailureThreshold,
		ResetTimeout:     time.Duration(cfg.ResetTimeoutSecs) * time.Second,
	}
	return &Monitor{
		store:      st,
		runs:       runs,
		jobs:       jobs,
		searchExec: searchExec,
		crawlExec:  crawlExec,
		cfg:        cfg,
		searchCB:   resilience.NewCircuitBreaker(cbCfg),
		crawlCB:    resilience.NewCircuitBreaker(cbCfg),
	}
}

// Run starts the sweep loop. An immediate first sweep re-attaches to work
// left outstanding by a previous process. Blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	interval := time.Duration(m.cfg.IntervalSecs) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}

	log := zap.L().With(zap.String("component", "monitor"))
	log.Info("starting job monitor", zap.Duration("interval", interval))

	if err := m.Sweep(ctx); err != nil {
		log.Error("monitor: sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("job monitor stopped")
			return
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				log.Error("monitor: sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep polls every active run and job once. Per-entity failures are
// logged and retried next sweep; only listing failures abort the sweep.
func (m *Monitor) Sweep(ctx context.Context) error {
	runs, err := m.store.ListActiveRuns(ctx)
	if err != nil {
		return eris.Wrap(err, "monitor: list active runs")
	}
	jobs, err := m.store.ListActiveJobs(ctx)
	if err != nil {
		return eris.Wrap(err, "monitor: list active jobs")
	}
	if len(runs) == 0 && len(jobs) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	limit := m.cfg.MaxParallel
	if limit <= 0 {
		limit = 8
	}
	g.SetLimit(limit)

	for i := range runs {
		run := runs[i]
		g.Go(func() error {
			if err := m.sweepRun(gctx, &run); err != nil {
				zap.L().Warn("monitor: run sweep failed",
					zap.String("run_id", run.ID), zap.Error(err))
			}
			return nil
		})
	}
	for i := range jobs {
		job := jobs[i]
		g.Go(func() error {
			if err := m.sweepJob(gctx, &job); err != nil {
				zap.L().Warn("monitor: job sweep failed",
					zap.String("job_id", job.ID), zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

func (m *Monitor) sweepRun(ctx context.Context, run *model.DiscoveryRun) error {
	if run.ExecutorHandle == "" {
		return m.runs.Dispatch(ctx, run)
	}

	st, err := resilience.ExecuteVal(ctx, m.searchCB, func(ctx context.Context) (*searchexec.StatusResponse, error) {
		return m.searchExec.GetStatus(ctx, run.ExecutorHandle, run.IngestCursor)
	})
	if err != nil {
		return eris.Wrap(err, "poll search executor")
	}

	if err := m.runs.ApplyStatus(ctx, run, st); err != nil {
		return err
	}
	if st.Status == searchexec.StatusCompleted {
		m.maybeAutoStartScrape(ctx, run)
	}
	return nil
}

func (m *Monitor) sweepJob(ctx context.Context, job *model.ScrapeJob) error {
	if job.ExecutorHandle == "" {
		return m.jobs.Dispatch(ctx, job)
	}

	st, err := resilience.ExecuteVal(ctx, m.crawlCB, func(ctx context.Context) (*crawlexec.StatusResponse, error) {
		return m.crawlExec.GetStatus(ctx, job.ExecutorHandle, job.IngestCursor)
	})
	if err != nil {
		return eris.Wrap(err, "poll crawl executor")
	}
	return m.jobs.ApplyStatus(ctx, job, st)
}

// maybeAutoStartScrape chains a scrape job onto a just-completed discovery
// run when its profile asks for it. All unclaimed candidates are selected;
// re-entry is harmless because claimed candidates cannot be claimed again.
func (m *Monitor) maybeAutoStartScrape(ctx context.Context, run *model.DiscoveryRun) {
	profile, err := m.store.GetDiscoveryProfile(ctx, run.ProfileID)
	if err != nil {
		zap.L().Error("monitor: load profile for auto-start",
			zap.String("run_id", run.ID), zap.Error(err))
		return
	}
	if !profile.AutoStartScraping || profile.DefaultScrapeProfileID == nil {
		return
	}

	// An empty selection lets the engine apply the profile's own floor.
	job, err := m.jobs.StartFromDiscovery(ctx, run.ID, *profile.DefaultScrapeProfileID,
		scrape.Selection{}, nil, "monitor")
	if err != nil {
		if eris.Is(err, scrape.ErrEmptySelection) {
			zap.L().Info("monitor: no candidates to auto-scrape", zap.String("run_id", run.ID))
			return
		}
		zap.L().Error("monitor: auto-start scrape failed",
			zap.String("run_id", run.ID), zap.Error(err))
		return
	}
	zap.L().Info("monitor: auto-started scrape job",
		zap.String("run_id", run.ID), zap.String("job_id", job.ID))
}
