package engine

import (
	"context"
	"fmt"
	"strings"

	"tnxgate/internal/artifact"
	"tnxgate/internal/domain"
	"tnxgate/internal/engine/auth"
	"tnxgate/internal/events"
	"tnxgate/internal/metrics"
	"tnxgate/internal/policy"
)

// DecisionRequest is a trader's verdict on a run awaiting review.
type DecisionRequest struct {
	ReviewerType domain.ReviewerType
	Action       domain.Action
	Decision     domain.Decision
	Reason       string
	EvidenceRefs []string
	Comments     []string
}

// SubmitDecision records a trader decision and completes the run.
// Callers need review access, and the gate must be requested.
func (e Engine) SubmitDecision(ctx context.Context, p auth.Principal, runID string, req DecisionRequest) (domain.ReviewDecision, domain.ValidationRun, error) {
	var zero domain.ReviewDecision
	switch req.ReviewerType {
	case "", domain.ReviewerTrader:
	case domain.ReviewerAgent:
		return zero, domain.ValidationRun{}, fmt.Errorf("%w: agent decisions are recorded by the pipeline", domain.ErrInvalidInput)
	default:
		return zero, domain.ValidationRun{}, fmt.Errorf("%w: unknown reviewerType %q", domain.ErrInvalidInput, req.ReviewerType)
	}
	decision, err := policy.NormalizeDecision(req.Action, req.Decision)
	if err != nil {
		return zero, domain.ValidationRun{}, err
	}
	if p.IsBot() {
		return zero, domain.ValidationRun{}, auth.ForbiddenError{Permission: "trader"}
	}

	unlock := e.lock(runID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return zero, domain.ValidationRun{}, err
	}
	defer tx.Rollback()

	run, _, err := e.loadRun(ctx, tx, p, runID, auth.AccessReview)
	if err != nil {
		return zero, run, err
	}
	gate, err := policy.Decide(run.TraderReview, req.Action)
	if err != nil {
		return zero, run, err
	}
	profile, err := e.profile(run.Profile)
	if err != nil {
		return zero, run, err
	}
	art, err := e.Repo.GetArtifact(ctx, tx, run.ID)
	if err != nil {
		return zero, run, err
	}
	if art.DeterministicChecks == nil || !art.AgentReview.Status.Valid() {
		return zero, run, fmt.Errorf("%w: run %s has not been evaluated", domain.ErrInvalidState, run.ID)
	}

	now := e.stamp()
	dec := domain.ReviewDecision{
		ID:           newID("dec"),
		RunID:        run.ID,
		ReviewerType: domain.ReviewerTrader,
		ReviewerID:   p.ActorID(),
		Action:       req.Action,
		Decision:     decision,
		Reason:       req.Reason,
		EvidenceRefs: req.EvidenceRefs,
		Accepted:     true,
		CreatedAt:    now,
	}
	if err := e.Repo.InsertDecision(ctx, tx, dec); err != nil {
		return zero, run, fmt.Errorf("insert decision: %w", err)
	}
	for _, body := range req.Comments {
		if strings.TrimSpace(body) == "" {
			continue
		}
		c := domain.ReviewComment{ID: newID("cmt"), RunID: run.ID, AuthorID: p.ActorID(), Body: body, CreatedAt: now}
		if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
			return zero, run, fmt.Errorf("insert comment: %w", err)
		}
	}

	outcome, err := policy.Evaluate(policy.Input{
		Flags:          profile.Flags,
		Checks:         *art.DeterministicChecks,
		Agent:          art.AgentReview.Status,
		Trader:         gate,
		TraderDecision: &decision,
	})
	if err != nil {
		return zero, run, err
	}
	if outcome.Withheld {
		return zero, run, fmt.Errorf("%w: policy still withheld after trader decision", domain.ErrInvalidState)
	}
	run.TraderReview = gate
	run.Status = domain.RunCompleted
	run.FinalDecision = domain.DecisionPtr(outcome.Decision)
	run.UpdatedAt = now
	art.TraderReview.Status = gate
	art.FinalDecision = run.FinalDecision
	art.Policy = policy.Snapshot(run.Profile, profile.Flags, profile.ThresholdPct(), outcome, now)
	if err := artifact.Validate(&art); err != nil {
		return zero, run, err
	}
	if err := e.Repo.UpdateArtifact(ctx, tx, art); err != nil {
		return zero, run, err
	}
	if run, err = e.Repo.UpdateRun(ctx, tx, run); err != nil {
		return zero, run, err
	}
	w := e.events()
	if err := w.Append(ctx, tx, events.DecisionSubmitted, run.TenantID, "run", run.ID, p.ActorID(), events.EventPayload{
		"decisionId": dec.ID,
		"action":     string(dec.Action),
		"decision":   string(dec.Decision),
	}); err != nil {
		return zero, run, err
	}
	if err := w.Append(ctx, tx, events.RunCompleted, run.TenantID, "run", run.ID, p.ActorID(), events.EventPayload{
		"rule":     outcome.Rule,
		"decision": string(outcome.Decision),
	}); err != nil {
		return zero, run, err
	}
	if err := tx.Commit(); err != nil {
		return zero, run, err
	}

	metrics.PendingTraderReviews.Dec()
	metrics.RecordReviewDecision(string(dec.ReviewerType), string(dec.Action))
	metrics.RecordRunFinished(string(run.Status), string(outcome.Decision))
	e.Audit.LogReviewDecision(run.ID, string(dec.ReviewerType), dec.ReviewerID, string(dec.Action), dec.Accepted)
	e.Audit.LogPolicyDecision(run.TenantID, run.ID, run.Profile, outcome.Rule, string(outcome.Decision))
	return dec, run, nil
}

// AddComment appends a comment. Owners may comment at any time; reviewers
// only while trader review is requested.
func (e Engine) AddComment(ctx context.Context, p auth.Principal, runID, body string, evidenceRefs []string) (domain.ReviewComment, error) {
	if strings.TrimSpace(body) == "" {
		return domain.ReviewComment{}, fmt.Errorf("%w: comment body is required", domain.ErrInvalidInput)
	}
	unlock := e.lock(runID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ReviewComment{}, err
	}
	defer tx.Rollback()
	run, access, err := e.loadRun(ctx, tx, p, runID, auth.AccessReview)
	if err != nil {
		return domain.ReviewComment{}, err
	}
	if access < auth.AccessOwner && run.TraderReview != domain.TraderRequested {
		return domain.ReviewComment{}, fmt.Errorf("%w: trader review is %s, not requested", domain.ErrInvalidState, run.TraderReview)
	}
	c := domain.ReviewComment{
		ID:           newID("cmt"),
		RunID:        run.ID,
		AuthorID:     p.ActorID(),
		Body:         body,
		EvidenceRefs: evidenceRefs,
		CreatedAt:    e.stamp(),
	}
	if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
		return c, fmt.Errorf("insert comment: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.CommentAdded, run.TenantID, "run", run.ID, p.ActorID(), events.EventPayload{"commentId": c.ID}); err != nil {
		return c, err
	}
	return c, tx.Commit()
}

// RequestRender appends a render request. Rendering itself happens elsewhere.
func (e Engine) RequestRender(ctx context.Context, p auth.Principal, runID string, format domain.RenderFormat) (domain.RenderRequest, error) {
	if !format.Valid() {
		return domain.RenderRequest{}, fmt.Errorf("%w: format must be html or pdf", domain.ErrInvalidInput)
	}
	unlock := e.lock(runID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RenderRequest{}, err
	}
	defer tx.Rollback()
	run, _, err := e.loadRun(ctx, tx, p, runID, auth.AccessView)
	if err != nil {
		return domain.RenderRequest{}, err
	}
	rr := domain.RenderRequest{
		ID:          newID("rnd"),
		RunID:       run.ID,
		Format:      format,
		Status:      "requested",
		RequestedBy: p.ActorID(),
		CreatedAt:   e.stamp(),
	}
	if err := e.Repo.InsertRender(ctx, tx, rr); err != nil {
		return rr, fmt.Errorf("insert render: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.RenderRequested, run.TenantID, "run", run.ID, p.ActorID(), events.EventPayload{
		"renderId": rr.ID,
		"format":   string(rr.Format),
	}); err != nil {
		return rr, err
	}
	return rr, tx.Commit()
}
