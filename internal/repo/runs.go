package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"tnxgate/internal/domain"
)

const runColumns = `runs.id,runs.tenant_id,runs.user_id,runs.strategy_id,COALESCE(runs.provider,''),COALESCE(runs.provider_ref,''),
runs.status,runs.profile,runs.final_decision,runs.trader_review_status,runs.version,runs.created_at,runs.updated_at`

func scanRun(s scanner) (domain.ValidationRun, error) {
	var run domain.ValidationRun
	var decision sql.NullString
	err := s.Scan(&run.ID, &run.TenantID, &run.UserID, &run.StrategyRef.StrategyID, &run.StrategyRef.Provider,
		&run.StrategyRef.ProviderRef, &run.Status, &run.Profile, &decision, &run.TraderReview, &run.Version,
		&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return run, err
	}
	if decision.Valid {
		run.FinalDecision = domain.DecisionPtr(domain.Decision(decision.String))
	}
	return run, nil
}

func collectRuns(rows *sql.Rows) ([]domain.ValidationRun, error) {
	defer rows.Close()
	var res []domain.ValidationRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

func (r Repo) InsertRun(ctx context.Context, tx *sql.Tx, run domain.ValidationRun) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO runs(id,tenant_id,user_id,strategy_id,provider,provider_ref,status,profile,final_decision,trader_review_status,version,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		run.ID, run.TenantID, run.UserID, run.StrategyRef.StrategyID, nullable(run.StrategyRef.Provider),
		nullable(run.StrategyRef.ProviderRef), run.Status, run.Profile, nullableDecision(run.FinalDecision),
		run.TraderReview, run.Version, run.CreatedAt, run.UpdatedAt)
	return err
}

func (r Repo) GetRun(ctx context.Context, tx *sql.Tx, id string) (domain.ValidationRun, error) {
	run, err := scanRun(r.q(tx).QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id))
	if err != nil {
		return domain.ValidationRun{}, notFound(err, "run", id)
	}
	return run, nil
}

// UpdateRun writes the mutable run columns if the stored version still equals
// run.Version, then bumps it. A stale version yields ErrConflict.
func (r Repo) UpdateRun(ctx context.Context, tx *sql.Tx, run domain.ValidationRun) (domain.ValidationRun, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE runs SET status=?,final_decision=?,trader_review_status=?,updated_at=?,version=version+1
WHERE id=? AND version=?`,
		run.Status, nullableDecision(run.FinalDecision), run.TraderReview, run.UpdatedAt, run.ID, run.Version)
	if err != nil {
		return run, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetRun(ctx, tx, run.ID); err != nil {
			return run, err
		}
		return run, fmt.Errorf("%w: run %s was modified concurrently", domain.ErrConflict, run.ID)
	}
	run.Version++
	return run, nil
}

// ListRunsByOwner returns the runs a user created, newest first.
func (r Repo) ListRunsByOwner(ctx context.Context, tenantID, userID string) ([]domain.ValidationRun, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE tenant_id=? AND user_id=? ORDER BY created_at DESC, id DESC`, tenantID, userID)
	if err != nil {
		return nil, err
	}
	return collectRuns(rows)
}

// ListRunsByStatus is used on startup to find runs that still need pipeline work.
func (r Repo) ListRunsByStatus(ctx context.Context, status domain.RunStatus) ([]domain.ValidationRun, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE status=? ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, err
	}
	return collectRuns(rows)
}

type artifactRow struct {
	inputs, outputs, agent string
	checks, policy         sql.NullString
	traderRequired         int
}

// InsertArtifact stores the artifact core. Comments, decisions and renders live in their own tables.
func (r Repo) InsertArtifact(ctx context.Context, tx *sql.Tx, art domain.Artifact) error {
	row, err := encodeArtifact(art)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO artifacts(run_id,inputs_json,outputs_json,checks_json,agent_review_json,trader_required,policy_json) VALUES (?,?,?,?,?,?,?)`,
		art.RunID, row.inputs, row.outputs, row.checks, row.agent, row.traderRequired, row.policy)
	return err
}

// UpdateArtifact replaces the evaluated sections of the artifact core.
func (r Repo) UpdateArtifact(ctx context.Context, tx *sql.Tx, art domain.Artifact) error {
	row, err := encodeArtifact(art)
	if err != nil {
		return err
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE artifacts SET checks_json=?,agent_review_json=?,trader_required=?,policy_json=? WHERE run_id=?`,
		row.checks, row.agent, row.traderRequired, row.policy, art.RunID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: artifact %s", ErrNotFound, art.RunID)
	}
	return nil
}

// GetArtifact loads the artifact core without child sequences.
func (r Repo) GetArtifact(ctx context.Context, tx *sql.Tx, runID string) (domain.Artifact, error) {
	var row artifactRow
	err := r.q(tx).QueryRowContext(ctx, `SELECT inputs_json,outputs_json,checks_json,agent_review_json,trader_required,policy_json FROM artifacts WHERE run_id=?`, runID).
		Scan(&row.inputs, &row.outputs, &row.checks, &row.agent, &row.traderRequired, &row.policy)
	if err != nil {
		return domain.Artifact{}, notFound(err, "artifact", runID)
	}
	art := domain.Artifact{RunID: runID}
	if err := json.Unmarshal([]byte(row.inputs), &art.Inputs); err != nil {
		return art, fmt.Errorf("decode inputs: %w", err)
	}
	if err := json.Unmarshal([]byte(row.outputs), &art.Outputs); err != nil {
		return art, fmt.Errorf("decode outputs: %w", err)
	}
	if err := json.Unmarshal([]byte(row.agent), &art.AgentReview); err != nil {
		return art, fmt.Errorf("decode agent review: %w", err)
	}
	if row.checks.Valid {
		var checks domain.DeterministicChecks
		if err := json.Unmarshal([]byte(row.checks.String), &checks); err != nil {
			return art, fmt.Errorf("decode checks: %w", err)
		}
		art.DeterministicChecks = &checks
	}
	if row.policy.Valid {
		var snap domain.PolicySnapshot
		if err := json.Unmarshal([]byte(row.policy.String), &snap); err != nil {
			return art, fmt.Errorf("decode policy: %w", err)
		}
		art.Policy = &snap
	}
	art.TraderReview.Required = row.traderRequired == 1
	return art, nil
}

func encodeArtifact(art domain.Artifact) (artifactRow, error) {
	var row artifactRow
	var err error
	if row.inputs, err = marshalJSON(art.Inputs); err != nil {
		return row, err
	}
	if row.outputs, err = marshalJSON(art.Outputs); err != nil {
		return row, err
	}
	if row.agent, err = marshalJSON(art.AgentReview); err != nil {
		return row, err
	}
	if art.DeterministicChecks != nil {
		s, err := marshalJSON(art.DeterministicChecks)
		if err != nil {
			return row, err
		}
		row.checks = sql.NullString{String: s, Valid: true}
	}
	if art.Policy != nil {
		s, err := marshalJSON(art.Policy)
		if err != nil {
			return row, err
		}
		row.policy = sql.NullString{String: s, Valid: true}
	}
	row.traderRequired = boolInt(art.TraderReview.Required)
	return row, nil
}

func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, c domain.ReviewComment) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO review_comments(id,run_id,author_id,body,evidence_refs_json,created_at) VALUES (?,?,?,?,?,?)`,
		c.ID, c.RunID, c.AuthorID, c.Body, marshalList(c.EvidenceRefs), c.CreatedAt)
	return err
}

// ListComments returns a run's comments in creation order.
func (r Repo) ListComments(ctx context.Context, tx *sql.Tx, runID string) ([]domain.ReviewComment, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,run_id,author_id,body,evidence_refs_json,created_at FROM review_comments WHERE run_id=? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ReviewComment{}
	for rows.Next() {
		var c domain.ReviewComment
		var refs string
		if err := rows.Scan(&c.ID, &c.RunID, &c.AuthorID, &c.Body, &refs, &c.CreatedAt); err != nil {
			return nil, err
		}
		if c.EvidenceRefs, err = unmarshalList(refs); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) InsertDecision(ctx context.Context, tx *sql.Tx, d domain.ReviewDecision) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO review_decisions(id,run_id,reviewer_type,reviewer_id,action,decision,reason,evidence_refs_json,accepted,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.RunID, d.ReviewerType, d.ReviewerID, d.Action, d.Decision, nullable(d.Reason), marshalList(d.EvidenceRefs),
		boolInt(d.Accepted), d.CreatedAt)
	return err
}

const decisionColumns = `id,run_id,reviewer_type,reviewer_id,action,decision,COALESCE(reason,''),evidence_refs_json,accepted,created_at`

func scanDecision(s scanner) (domain.ReviewDecision, error) {
	var d domain.ReviewDecision
	var refs string
	var accepted int
	if err := s.Scan(&d.ID, &d.RunID, &d.ReviewerType, &d.ReviewerID, &d.Action, &d.Decision, &d.Reason, &refs, &accepted, &d.CreatedAt); err != nil {
		return d, err
	}
	d.Accepted = accepted == 1
	var err error
	d.EvidenceRefs, err = unmarshalList(refs)
	return d, err
}

// ListDecisions returns every recorded decision for a run, oldest first.
func (r Repo) ListDecisions(ctx context.Context, tx *sql.Tx, runID string) ([]domain.ReviewDecision, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+decisionColumns+` FROM review_decisions WHERE run_id=? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ReviewDecision{}
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// AcceptedTraderDecision returns the single accepted trader decision for a run.
func (r Repo) AcceptedTraderDecision(ctx context.Context, tx *sql.Tx, runID string) (domain.ReviewDecision, error) {
	d, err := scanDecision(r.q(tx).QueryRowContext(ctx, `SELECT `+decisionColumns+` FROM review_decisions WHERE run_id=? AND reviewer_type='trader' AND accepted=1`, runID))
	if err != nil {
		return d, notFound(err, "accepted decision for run", runID)
	}
	return d, nil
}

func (r Repo) InsertRender(ctx context.Context, tx *sql.Tx, rr domain.RenderRequest) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO render_requests(id,run_id,format,status,requested_by,created_at) VALUES (?,?,?,?,?,?)`,
		rr.ID, rr.RunID, rr.Format, rr.Status, rr.RequestedBy, rr.CreatedAt)
	return err
}

func (r Repo) ListRenders(ctx context.Context, tx *sql.Tx, runID string) ([]domain.RenderRequest, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,run_id,format,status,requested_by,created_at FROM render_requests WHERE run_id=? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.RenderRequest{}
	for rows.Next() {
		var rr domain.RenderRequest
		if err := rows.Scan(&rr.ID, &rr.RunID, &rr.Format, &rr.Status, &rr.RequestedBy, &rr.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rr)
	}
	return res, rows.Err()
}
