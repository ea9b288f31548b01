package repo

import (
	"context"
	"database/sql"

	"tnxgate/internal/domain"
)

const baselineColumns = `id,run_id,tenant_id,created_by_user_id,profile,metric_drift_pct,final_decision,created_at`

func (r Repo) InsertBaseline(ctx context.Context, tx *sql.Tx, b domain.Baseline) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO baselines(id,run_id,tenant_id,created_by_user_id,profile,metric_drift_pct,final_decision,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		b.ID, b.RunID, b.TenantID, b.CreatedByUserID, b.Profile, b.MetricDriftPct, b.FinalDecision, b.CreatedAt)
	return err
}

func (r Repo) GetBaseline(ctx context.Context, tx *sql.Tx, id string) (domain.Baseline, error) {
	var b domain.Baseline
	err := r.q(tx).QueryRowContext(ctx, `SELECT `+baselineColumns+` FROM baselines WHERE id=?`, id).
		Scan(&b.ID, &b.RunID, &b.TenantID, &b.CreatedByUserID, &b.Profile, &b.MetricDriftPct, &b.FinalDecision, &b.CreatedAt)
	if err != nil {
		return b, notFound(err, "baseline", id)
	}
	return b, nil
}

const replayColumns = `id,baseline_id,candidate_run_id,decision,merge_gate_status,release_gate_status,metric_drift_delta_pct,
metric_drift_threshold_pct,threshold_breached,reasons_json,created_by_user_id,created_at`

func scanReplay(s scanner) (domain.ReplayGate, error) {
	var g domain.ReplayGate
	var breached int
	var reasons string
	err := s.Scan(&g.ID, &g.BaselineID, &g.CandidateRunID, &g.Decision, &g.MergeGateStatus, &g.ReleaseGateStatus,
		&g.MetricDriftDeltaPct, &g.MetricDriftThresholdPct, &breached, &reasons, &g.CreatedByUserID, &g.CreatedAt)
	if err != nil {
		return g, err
	}
	g.ThresholdBreached = breached == 1
	if g.Reasons, err = unmarshalList(reasons); err != nil {
		return g, err
	}
	if g.Reasons == nil {
		g.Reasons = []string{}
	}
	return g, nil
}

// InsertReplay stores an immutable replay gate record. There is no update path.
func (r Repo) InsertReplay(ctx context.Context, tx *sql.Tx, g domain.ReplayGate) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO replay_gates(id,baseline_id,candidate_run_id,decision,merge_gate_status,release_gate_status,
metric_drift_delta_pct,metric_drift_threshold_pct,threshold_breached,reasons_json,created_by_user_id,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		g.ID, g.BaselineID, g.CandidateRunID, g.Decision, g.MergeGateStatus, g.ReleaseGateStatus, g.MetricDriftDeltaPct,
		g.MetricDriftThresholdPct, boolInt(g.ThresholdBreached), marshalList(g.Reasons), g.CreatedByUserID, g.CreatedAt)
	return err
}

func (r Repo) GetReplay(ctx context.Context, tx *sql.Tx, id string) (domain.ReplayGate, error) {
	g, err := scanReplay(r.q(tx).QueryRowContext(ctx, `SELECT `+replayColumns+` FROM replay_gates WHERE id=?`, id))
	if err != nil {
		return g, notFound(err, "replay", id)
	}
	return g, nil
}

// ListReplays returns the replay history of a baseline, oldest first.
func (r Repo) ListReplays(ctx context.Context, baselineID string) ([]domain.ReplayGate, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+replayColumns+` FROM replay_gates WHERE baseline_id=? ORDER BY seq ASC`, baselineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ReplayGate{}
	for rows.Next() {
		g, err := scanReplay(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}
