package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tnxgate/internal/domain"
	"tnxgate/internal/engine/auth"
	"tnxgate/internal/events"
	"tnxgate/internal/metrics"
	"tnxgate/internal/policy"
)

// CreateBaseline promotes a completed, passing run to a replay baseline.
func (e Engine) CreateBaseline(ctx context.Context, p auth.Principal, runID string) (domain.Baseline, error) {
	unlock := e.lock(runID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Baseline{}, err
	}
	defer tx.Rollback()
	run, _, err := e.loadRun(ctx, tx, p, runID, auth.AccessOwner)
	if err != nil {
		return domain.Baseline{}, err
	}
	if run.Status != domain.RunCompleted || run.FinalDecision == nil ||
		(*run.FinalDecision != domain.DecisionPass && *run.FinalDecision != domain.DecisionConditionalPass) {
		return domain.Baseline{}, fmt.Errorf("%w: baseline run must be completed with pass or conditional_pass", domain.ErrInvalidState)
	}
	art, err := e.Repo.GetArtifact(ctx, tx, run.ID)
	if err != nil {
		return domain.Baseline{}, err
	}
	if art.DeterministicChecks == nil || art.DeterministicChecks.MetricConsistency.DriftPct == nil {
		return domain.Baseline{}, fmt.Errorf("%w: baseline run has no metric drift", domain.ErrInvalidState)
	}
	b := domain.Baseline{
		ID:              newID("bl"),
		RunID:           run.ID,
		TenantID:        run.TenantID,
		CreatedByUserID: p.ActorID(),
		Profile:         run.Profile,
		MetricDriftPct:  *art.DeterministicChecks.MetricConsistency.DriftPct,
		FinalDecision:   *run.FinalDecision,
		CreatedAt:       e.stamp(),
	}
	if err := e.Repo.InsertBaseline(ctx, tx, b); err != nil {
		return b, fmt.Errorf("insert baseline: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.BaselineCreated, run.TenantID, "baseline", b.ID, p.ActorID(), events.EventPayload{
		"runId":          run.ID,
		"metricDriftPct": b.MetricDriftPct,
	}); err != nil {
		return b, err
	}
	return b, tx.Commit()
}

// GetBaseline returns a baseline whose run the caller can view.
func (e Engine) GetBaseline(ctx context.Context, p auth.Principal, id string) (domain.Baseline, error) {
	return e.visibleBaseline(ctx, nil, p, id)
}

func (e Engine) visibleBaseline(ctx context.Context, tx *sql.Tx, p auth.Principal, id string) (domain.Baseline, error) {
	b, err := e.Repo.GetBaseline(ctx, tx, id)
	if err != nil {
		return b, err
	}
	if _, _, err := e.loadRun(ctx, tx, p, b.RunID, auth.AccessView); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Baseline{}, fmt.Errorf("%w: baseline %s", domain.ErrNotFound, id)
		}
		return domain.Baseline{}, err
	}
	return b, nil
}

// Replay compares a terminal candidate run against a baseline and records
// the merge and release gate verdicts. Each call writes a new record.
func (e Engine) Replay(ctx context.Context, p auth.Principal, baselineID, candidateRunID string) (domain.ReplayGate, error) {
	unlock := e.lock(candidateRunID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ReplayGate{}, err
	}
	defer tx.Rollback()
	b, err := e.visibleBaseline(ctx, tx, p, baselineID)
	if err != nil {
		return domain.ReplayGate{}, err
	}
	cand, _, err := e.loadRun(ctx, tx, p, candidateRunID, auth.AccessOwner)
	if err != nil {
		return domain.ReplayGate{}, err
	}
	if !cand.Terminal() || cand.FinalDecision == nil {
		return domain.ReplayGate{}, fmt.Errorf("%w: candidate run %s is %s", domain.ErrInvalidState, cand.ID, cand.Status)
	}
	art, err := e.Repo.GetArtifact(ctx, tx, cand.ID)
	if err != nil {
		return domain.ReplayGate{}, err
	}
	profile, err := e.profile(cand.Profile)
	if err != nil {
		return domain.ReplayGate{}, err
	}
	flags, threshold := profile.Flags, profile.ThresholdPct()
	if art.Policy != nil {
		flags = art.Policy.Flags
		if art.Policy.MetricDriftThresholdPct > 0 {
			threshold = art.Policy.MetricDriftThresholdPct
		}
	}
	var candChecks domain.DeterministicChecks
	var candDrift *float64
	if art.DeterministicChecks != nil {
		candChecks = *art.DeterministicChecks
		candDrift = candChecks.MetricConsistency.DriftPct
	}
	out := policy.EvaluateReplay(policy.ReplayInput{
		Flags:             flags,
		ThresholdPct:      threshold,
		BaselineDriftPct:  b.MetricDriftPct,
		CandidateDriftPct: candDrift,
		CandidateDecision: *cand.FinalDecision,
		CandidateChecks:   candChecks,
		CandidateAgent:    art.AgentReview.Status,
	})
	g := domain.ReplayGate{
		ID:                      newID("rpl"),
		BaselineID:              b.ID,
		CandidateRunID:          cand.ID,
		Decision:                out.Decision,
		MergeGateStatus:         out.Merge,
		ReleaseGateStatus:       out.Release,
		MetricDriftDeltaPct:     out.DeltaPct,
		MetricDriftThresholdPct: threshold,
		ThresholdBreached:       out.Breached,
		Reasons:                 out.Reasons,
		CreatedByUserID:         p.ActorID(),
		CreatedAt:               e.stamp(),
	}
	if err := e.Repo.InsertReplay(ctx, tx, g); err != nil {
		return g, fmt.Errorf("insert replay: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.ReplayEvaluated, cand.TenantID, "replay", g.ID, p.ActorID(), events.EventPayload{
		"baselineId":     b.ID,
		"candidateRunId": cand.ID,
		"decision":       string(g.Decision),
		"breached":       g.ThresholdBreached,
	}); err != nil {
		return g, err
	}
	if err := tx.Commit(); err != nil {
		return g, err
	}
	metrics.RecordReplayGate(string(g.Decision))
	e.Audit.LogReplayGate(g.ID, b.ID, cand.ID, string(g.Decision), g.MetricDriftDeltaPct, threshold)
	return g, nil
}

// GetReplay returns a replay record whose baseline the caller can view.
func (e Engine) GetReplay(ctx context.Context, p auth.Principal, id string) (domain.ReplayGate, error) {
	g, err := e.Repo.GetReplay(ctx, nil, id)
	if err != nil {
		return g, err
	}
	if _, err := e.visibleBaseline(ctx, nil, p, g.BaselineID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ReplayGate{}, fmt.Errorf("%w: replay %s", domain.ErrNotFound, id)
		}
		return domain.ReplayGate{}, err
	}
	return g, nil
}

// ListReplays returns the replays recorded against a baseline.
func (e Engine) ListReplays(ctx context.Context, p auth.Principal, baselineID string) ([]domain.ReplayGate, error) {
	if _, err := e.visibleBaseline(ctx, nil, p, baselineID); err != nil {
		return nil, err
	}
	res, err := e.Repo.ListReplays(ctx, baselineID)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = []domain.ReplayGate{}
	}
	return res, nil
}
