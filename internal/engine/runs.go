package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"tnxgate/internal/agent"
	"tnxgate/internal/artifact"
	"tnxgate/internal/config"
	"tnxgate/internal/domain"
	"tnxgate/internal/engine/auth"
	"tnxgate/internal/events"
	"tnxgate/internal/metrics"
	"tnxgate/internal/policy"
)

// AgentReviewerID is recorded as the reviewer of pipeline-submitted agent decisions.
const AgentReviewerID = "agent"

// SystemActorID is the actor of events written by the background pipeline.
const SystemActorID = "system"

// RuleFault marks a run failed by a pipeline fault rather than by policy.
const RuleFault = "pipeline_fault"

// CreateRunRequest are the caller-supplied fields of a new run.
type CreateRunRequest struct {
	StrategyRef domain.StrategyRef `json:"strategyRef"`
	Profile     string             `json:"profile"`
	Inputs      domain.Inputs      `json:"inputs"`
	Outputs     domain.Outputs     `json:"outputs"`
}

// CreateRun registers a queued run and schedules its pipeline.
func (e Engine) CreateRun(ctx context.Context, p auth.Principal, req CreateRunRequest) (domain.ValidationRun, error) {
	if p.UserID == "" || p.TenantID == "" {
		return domain.ValidationRun{}, fmt.Errorf("%w: tenant and user identity required", domain.ErrUnauthorized)
	}
	name := req.Profile
	if name == "" {
		name = e.Config.DefaultProfile
	}
	profile, err := e.profile(name)
	if err != nil {
		return domain.ValidationRun{}, err
	}
	if err := validate.Struct(req); err != nil {
		return domain.ValidationRun{}, validationError(domain.ErrInvalidInputs, err)
	}

	now := e.stamp()
	run := domain.ValidationRun{
		ID:           newID("run"),
		TenantID:     p.TenantID,
		UserID:       p.UserID,
		StrategyRef:  req.StrategyRef,
		Status:       domain.RunQueued,
		Profile:      name,
		TraderReview: domain.TraderNotRequested,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	art := domain.Artifact{
		RunID:   run.ID,
		Inputs:  req.Inputs,
		Outputs: req.Outputs,
		AgentReview: domain.AgentReview{
			Status: domain.AgentPending,
			Budget: domain.Budget{Limits: profile.AgentBudget.Limits(), WithinBudget: true},
		},
		TraderReview: domain.TraderReview{
			Required: profile.Flags.RequireTraderReview,
			Status:   domain.TraderNotRequested,
		},
	}
	if err := artifact.Validate(&art); err != nil {
		return domain.ValidationRun{}, fmt.Errorf("%w: %v", domain.ErrInvalidInputs, err)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ValidationRun{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRun(ctx, tx, run); err != nil {
		return domain.ValidationRun{}, fmt.Errorf("insert run: %w", err)
	}
	if err := e.Repo.InsertArtifact(ctx, tx, art); err != nil {
		return domain.ValidationRun{}, fmt.Errorf("insert artifact: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.RunCreated, run.TenantID, "run", run.ID, p.ActorID(), events.EventPayload{
		"profile":    run.Profile,
		"strategyId": run.StrategyRef.StrategyID,
	}); err != nil {
		return domain.ValidationRun{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ValidationRun{}, err
	}
	metrics.RecordRunCreated(run.Profile)
	e.Log.WithFields(logrus.Fields{"run_id": run.ID, "tenant_id": run.TenantID, "profile": run.Profile}).Info("Run created")
	e.schedule(run.ID)
	return run, nil
}

// schedule hands the pipeline to the run's lane. Without a dispatcher it runs inline.
func (e Engine) schedule(runID string) {
	if e.Dispatcher == nil {
		e.Execute(context.Background(), runID)
		return
	}
	if err := e.Dispatcher.Submit(runID, func(ctx context.Context) { e.Execute(ctx, runID) }); err != nil {
		e.Log.WithError(err).WithField("run_id", runID).Warn("Run left queued; it will resume on restart")
	}
}

// ResumePending reschedules runs interrupted before their pipeline finished.
func (e Engine) ResumePending(ctx context.Context) (int, error) {
	queued, err := e.Repo.ListRunsByStatus(ctx, domain.RunQueued)
	if err != nil {
		return 0, err
	}
	running, err := e.Repo.ListRunsByStatus(ctx, domain.RunRunning)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, run := range append(queued, running...) {
		if run.TraderReview != domain.TraderNotRequested {
			continue
		}
		e.schedule(run.ID)
		n++
	}
	return n, nil
}

// Execute runs the pipeline for one run. Faults mark the run failed.
func (e Engine) Execute(ctx context.Context, runID string) {
	start := e.now()
	log := e.Log.WithField("run_id", runID)
	if err := e.runPipeline(ctx, runID); err != nil {
		log.WithError(err).Error("Pipeline fault")
		if ferr := e.failRun(context.WithoutCancel(ctx), runID, err); ferr != nil {
			log.WithError(ferr).Error("Could not mark run failed")
		}
	}
	metrics.RecordPipelineDuration(e.now().Sub(start).Seconds())
}

func (e Engine) runPipeline(ctx context.Context, runID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()
	run, art, proceed, err := e.startRun(ctx, runID)
	if err != nil || !proceed {
		return err
	}
	profile, err := e.profile(run.Profile)
	if err != nil {
		return err
	}

	var (
		checkRes  domain.DeterministicChecks
		review    domain.AgentReview
		reviewErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(recovered("deterministic checks", func() {
		checkRes = e.Checks.Run(gctx, art.Inputs, art.Outputs)
	}))
	g.Go(recovered("agent review", func() {
		review, reviewErr = e.review(gctx, run, art, profile)
	}))
	if err := g.Wait(); err != nil {
		return err
	}
	if reviewErr != nil {
		e.Log.WithError(reviewErr).WithField("run_id", runID).Warn("Agent review failed upstream")
	}
	recordChecks(checkRes)
	return e.finishRun(ctx, runID, checkRes, review)
}

func recovered(what string, fn func()) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s panic: %v", what, r)
			}
		}()
		fn()
		return nil
	}
}

func recordChecks(c domain.DeterministicChecks) {
	metrics.RecordCheck("indicatorFidelity", string(c.IndicatorFidelity.Status))
	metrics.RecordCheck("tradeCoherence", string(c.TradeCoherence.Status))
	metrics.RecordCheck("metricConsistency", string(c.MetricConsistency.Status))
}

// startRun moves queued to running. It reports proceed=false when the run
// no longer needs pipeline work.
func (e Engine) startRun(ctx context.Context, runID string) (domain.ValidationRun, domain.Artifact, bool, error) {
	unlock := e.lock(runID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ValidationRun{}, domain.Artifact{}, false, err
	}
	defer tx.Rollback()
	run, err := e.Repo.GetRun(ctx, tx, runID)
	if err != nil {
		return run, domain.Artifact{}, false, err
	}
	switch {
	case run.Status == domain.RunQueued:
		run.Status = domain.RunRunning
		run.UpdatedAt = e.stamp()
		if run, err = e.Repo.UpdateRun(ctx, tx, run); err != nil {
			return run, domain.Artifact{}, false, err
		}
		if err := e.events().Append(ctx, tx, events.RunStarted, run.TenantID, "run", run.ID, SystemActorID, nil); err != nil {
			return run, domain.Artifact{}, false, err
		}
	case run.Status == domain.RunRunning && run.TraderReview == domain.TraderNotRequested:
	default:
		return run, domain.Artifact{}, false, nil
	}
	art, err := e.Repo.GetArtifact(ctx, tx, runID)
	if err != nil {
		return run, art, false, err
	}
	return run, art, true, tx.Commit()
}

func (e Engine) review(ctx context.Context, run domain.ValidationRun, art domain.Artifact, profile config.Profile) (domain.AgentReview, error) {
	req := agent.Request{
		RunID:               run.ID,
		Profile:             run.Profile,
		Prompt:              art.Inputs.Prompt,
		RequestedIndicators: art.Inputs.RequestedIndicators,
		EvidenceRefs:        art.EvidenceRefs(),
		Budget:              profile.AgentBudget.Limits(),
		Timeout:             time.Duration(profile.AgentBudget.TimeoutSeconds) * time.Second,
	}
	review, err := e.Reviewer.Review(ctx, req)
	if !review.Status.Valid() {
		msg := "agent reviewer returned no verdict"
		if err != nil {
			msg = "agent reviewer failed: " + err.Error()
		}
		review = domain.AgentReview{
			Status:   domain.AgentFail,
			Summary:  msg,
			Findings: []domain.Finding{{Priority: "high", Confidence: 1, Message: msg}},
			Budget:   domain.Budget{Limits: req.Budget, WithinBudget: true},
		}
	}
	return review, err
}

// finishRun records check and agent results, then either completes the run
// or opens the trader review gate.
func (e Engine) finishRun(ctx context.Context, runID string, checkRes domain.DeterministicChecks, review domain.AgentReview) error {
	unlock := e.lock(runID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	run, err := e.Repo.GetRun(ctx, tx, runID)
	if err != nil {
		return err
	}
	if run.Status != domain.RunRunning || run.TraderReview != domain.TraderNotRequested {
		return nil
	}
	profile, err := e.profile(run.Profile)
	if err != nil {
		return err
	}
	art, err := e.Repo.GetArtifact(ctx, tx, runID)
	if err != nil {
		return err
	}
	art.DeterministicChecks = &checkRes
	art.AgentReview = review

	now := e.stamp()
	agentDecision := domain.ReviewDecision{
		ID:           newID("dec"),
		RunID:        run.ID,
		ReviewerType: domain.ReviewerAgent,
		ReviewerID:   AgentReviewerID,
		Action:       domain.ActionApprove,
		Decision:     domain.Decision(review.Status),
		Reason:       review.Summary,
		Accepted:     true,
		CreatedAt:    now,
	}
	if review.Status == domain.AgentFail {
		agentDecision.Action = domain.ActionReject
	}
	if err := e.Repo.InsertDecision(ctx, tx, agentDecision); err != nil {
		return fmt.Errorf("insert agent decision: %w", err)
	}
	metrics.RecordReviewDecision(string(domain.ReviewerAgent), string(agentDecision.Action))

	outcome, err := policy.Evaluate(policy.Input{
		Flags:  profile.Flags,
		Checks: checkRes,
		Agent:  review.Status,
		Trader: run.TraderReview,
	})
	if err != nil {
		return err
	}
	art.Policy = policy.Snapshot(run.Profile, profile.Flags, profile.ThresholdPct(), outcome, now)
	run.UpdatedAt = now
	evt := events.RunCompleted
	if outcome.Withheld {
		if run.TraderReview, err = policy.RequestReview(run.TraderReview); err != nil {
			return err
		}
		art.TraderReview.Status = run.TraderReview
		evt = events.TraderRequested
	} else {
		run.Status = domain.RunCompleted
		run.FinalDecision = domain.DecisionPtr(outcome.Decision)
		art.FinalDecision = run.FinalDecision
		art.TraderReview.Status = run.TraderReview
	}
	if err := artifact.Validate(&art); err != nil {
		return err
	}
	if err := e.Repo.UpdateArtifact(ctx, tx, art); err != nil {
		return fmt.Errorf("update artifact: %w", err)
	}
	if run, err = e.Repo.UpdateRun(ctx, tx, run); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, evt, run.TenantID, "run", run.ID, SystemActorID, events.EventPayload{
		"rule":        outcome.Rule,
		"decision":    string(outcome.Decision),
		"agentStatus": string(review.Status),
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if outcome.Withheld {
		metrics.PendingTraderReviews.Inc()
		e.Log.WithField("run_id", run.ID).Info("Trader review requested")
		return nil
	}
	metrics.RecordRunFinished(string(run.Status), string(outcome.Decision))
	e.Audit.LogPolicyDecision(run.TenantID, run.ID, run.Profile, outcome.Rule, string(outcome.Decision))
	return nil
}

// failRun marks a non-terminal run failed with finalDecision=fail.
func (e Engine) failRun(ctx context.Context, runID string, cause error) error {
	unlock := e.lock(runID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	run, err := e.Repo.GetRun(ctx, tx, runID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if run.Terminal() {
		return nil
	}
	now := e.stamp()
	if art, err := e.Repo.GetArtifact(ctx, tx, runID); err == nil && art.Policy == nil {
		if profile, ok := e.Config.Profile(run.Profile); ok {
			art.Policy = &domain.PolicySnapshot{Profile: run.Profile, Flags: profile.Flags, MetricDriftThresholdPct: profile.ThresholdPct(), Rule: RuleFault, EvaluatedAt: now}
			if err := e.Repo.UpdateArtifact(ctx, tx, art); err != nil {
				return err
			}
		}
	}
	wasPending := run.TraderReview == domain.TraderRequested
	run.Status = domain.RunFailed
	run.FinalDecision = domain.DecisionPtr(domain.DecisionFail)
	run.UpdatedAt = now
	if run, err = e.Repo.UpdateRun(ctx, tx, run); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.RunFailed, run.TenantID, "run", run.ID, SystemActorID, events.EventPayload{
		"error": cause.Error(),
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if wasPending {
		metrics.PendingTraderReviews.Dec()
	}
	metrics.RecordRunFinished(string(domain.RunFailed), string(domain.DecisionFail))
	return nil
}

// GetRun returns a run visible to the caller.
func (e Engine) GetRun(ctx context.Context, p auth.Principal, runID string) (domain.ValidationRun, error) {
	run, _, err := e.loadRun(ctx, nil, p, runID, auth.AccessView)
	return run, err
}

// GetArtifact assembles the artifact read view: the stored core plus its
// comment, decision and render sequences.
func (e Engine) GetArtifact(ctx context.Context, p auth.Principal, runID string) (domain.Artifact, error) {
	tx, err := e.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return domain.Artifact{}, err
	}
	defer tx.Rollback()
	run, _, err := e.loadRun(ctx, tx, p, runID, auth.AccessView)
	if err != nil {
		return domain.Artifact{}, err
	}
	return e.assemble(ctx, tx, run)
}

func (e Engine) assemble(ctx context.Context, tx *sql.Tx, run domain.ValidationRun) (domain.Artifact, error) {
	art, err := e.Repo.GetArtifact(ctx, tx, run.ID)
	if err != nil {
		return art, err
	}
	if art.TraderReview.Comments, err = e.Repo.ListComments(ctx, tx, run.ID); err != nil {
		return art, err
	}
	if art.Decisions, err = e.Repo.ListDecisions(ctx, tx, run.ID); err != nil {
		return art, err
	}
	if art.Renders, err = e.Repo.ListRenders(ctx, tx, run.ID); err != nil {
		return art, err
	}
	art.TraderReview.Status = run.TraderReview
	art.FinalDecision = run.FinalDecision
	artifact.Normalize(&art)
	return art, nil
}

// ListRuns returns the caller's own runs.
func (e Engine) ListRuns(ctx context.Context, p auth.Principal) ([]domain.ValidationRun, error) {
	runs, err := e.Repo.ListRunsByOwner(ctx, p.TenantID, p.UserID)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []domain.ValidationRun{}
	}
	return runs, nil
}
