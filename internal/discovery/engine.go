// Package discovery orchestrates discovery runs: expanding a profile into
// executor queries, ingesting result pages, and finalizing run status. The
// search itself runs on an external executor; the engine owns state and
// filtering.
package discovery

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscout-cli/internal/model"
	"github.com/sells-group/leadscout-cli/internal/resilience"
	"github.com/sells-group/leadscout-cli/internal/store"
	"github.com/sells-group/leadscout-cli/pkg/searchexec"
)

// ErrInvalidProfile is returned when a run is requested for a profile that
// is disabled or has no keywords.
var ErrInvalidProfile = eris.New("discovery: invalid profile")

// Engine drives discovery runs against the search executor.
type Engine struct {
	store store.Store
	exec  searchexec.Client
}

// New creates a discovery engine.
func New(st store.Store, exec searchexec.Client) *Engine {
	return &Engine{store: st, exec: exec}
}

// CreateRun creates a run for the profile and dispatches it to the search
// executor. When the executor is unreachable the run is still created and
// stays queued; the monitor re-dispatches it on a later sweep.
func (e *Engine) CreateRun(ctx context.Context, profileID int64, createdBy string) (*model.DiscoveryRun, error) {
	profile, err := e.store.GetDiscoveryProfile(ctx, profileID)
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: load profile %d", profileID)
	}
	if !profile.Enabled {
		return nil, eris.Wrapf(ErrInvalidProfile, "profile %q is disabled", profile.Name)
	}
	if len(profile.Keywords) == 0 {
		return nil, eris.Wrapf(ErrInvalidProfile, "profile %q has no keywords", profile.Name)
	}

	run := &model.DiscoveryRun{ProfileID: profileID, CreatedBy: createdBy}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, eris.Wrap(err, "discovery: create run")
	}

	if err := e.Dispatch(ctx, run); err != nil {
		if resilience.IsTransient(err) {
			zap.L().Warn("search executor unavailable, run stays queued",
				zap.String("run_id", run.ID), zap.Error(err))
			return run, nil
		}
		msg := eris.ToString(err, false)
		if _, failErr := e.store.FailRun(ctx, run.ID, msg); failErr != nil {
			zap.L().Error("failed to mark run failed", zap.String("run_id", run.ID), zap.Error(failErr))
		}
		run.Status = model.RunStatusFailed
		run.ErrorMessage = msg
		return run, eris.Wrap(err, "discovery: dispatch run")
	}
	return run, nil
}

// Dispatch submits the run's query to the executor and records the handle.
// Safe to call again for a queued run whose first dispatch never reached
// the executor.
func (e *Engine) Dispatch(ctx context.Context, run *model.DiscoveryRun) error {
	profile, err := e.store.GetDiscoveryProfile(ctx, run.ProfileID)
	if err != nil {
		return eris.Wrapf(err, "discovery: load profile %d", run.ProfileID)
	}

	resp, err := e.exec.SubmitQuery(ctx, buildQuery(profile))
	if err != nil {
		var apiErr *searchexec.APIError
		if eris.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
			return eris.Wrap(resilience.ErrExecutorUnavailable, apiErr.Error())
		}
		if resilience.IsTransient(err) {
			return eris.Wrap(resilience.ErrExecutorUnavailable, err.Error())
		}
		return eris.Wrap(err, "discovery: submit query")
	}
	if !resp.Success || resp.Handle == "" {
		return eris.New("discovery: executor accepted nothing")
	}

	if err := e.store.SetRunHandle(ctx, run.ID, resp.Handle); err != nil {
		return eris.Wrap(err, "discovery: record handle")
	}
	run.ExecutorHandle = resp.Handle

	zap.L().Info("discovery run dispatched",
		zap.String("run_id", run.ID),
		zap.String("handle", resp.Handle),
		zap.String("profile", profile.Name))
	return nil
}

// ApplyStatus folds one executor status poll into the run: new result rows
// are filtered and ingested, the cursor advances, and a terminal executor
// status finalizes the run. Called by the monitor each sweep.
func (e *Engine) ApplyStatus(ctx context.Context, run *model.DiscoveryRun, st *searchexec.StatusResponse) error {
	if len(st.Rows) > 0 {
		profile, err := e.store.GetDiscoveryProfile(ctx, run.ProfileID)
		if err != nil {
			return eris.Wrapf(err, "discovery: load profile %d", run.ProfileID)
		}
		cands, delta := filterCandidates(profile, run.ID, st.Rows)
		inserted, err := e.store.IngestCandidates(ctx, run.ID, cands, delta)
		if err != nil {
			return eris.Wrap(err, "discovery: ingest candidates")
		}
		zap.L().Debug("ingested candidate page",
			zap.String("run_id", run.ID),
			zap.Int("raw", len(st.Rows)),
			zap.Int("accepted", len(cands)),
			zap.Int("inserted", inserted))
	}
	if st.NextCursor > run.IngestCursor {
		if err := e.store.SetRunCursor(ctx, run.ID, st.NextCursor); err != nil {
			return eris.Wrap(err, "discovery: advance cursor")
		}
		run.IngestCursor = st.NextCursor
	}

	switch st.Status {
	case searchexec.StatusCompleted:
		final := map[string]model.SourceStats{}
		for src, s := range st.Stats {
			final[src] = model.SourceStats{QueriesIssued: s.QueriesIssued, RawResults: s.RawResults}
		}
		ok, err := e.store.CompleteRun(ctx, run.ID, final)
		if err != nil {
			return eris.Wrap(err, "discovery: complete run")
		}
		if ok {
			zap.L().Info("discovery run completed", zap.String("run_id", run.ID))
		}
	case searchexec.StatusFailed:
		msg := st.Error
		if msg == "" {
			msg = "executor reported failure"
		}
		ok, err := e.store.FailRun(ctx, run.ID, msg)
		if err != nil {
			return eris.Wrap(err, "discovery: fail run")
		}
		if ok {
			zap.L().Warn("discovery run failed",
				zap.String("run_id", run.ID), zap.String("error", msg))
		}
	}
	return nil
}

func buildQuery(p *model.DiscoveryProfile) searchexec.QueryRequest {
	return searchexec.QueryRequest{
		Keywords:           p.Keywords,
		Locations:          p.Locations,
		SourceTypes:        p.SourceTypes,
		RadiusKM:           p.RadiusKM,
		MaxResultsPerQuery: p.MaxResultsPerQuery,
		ExcludedDomains:    p.ExcludedDomains,
		ExcludedKeywords:   p.ExcludedKeywords,
		RequiredKeywords:   p.RequiredKeywords,
		MustHaveWebsite:    p.MustHaveWebsite,
	}
}
