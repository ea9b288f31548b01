package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tnxgate/internal/agent"
	"tnxgate/internal/blob"
	"tnxgate/internal/config"
	"tnxgate/internal/dispatch"
	"tnxgate/internal/domain"
	"tnxgate/internal/engine"
	"tnxgate/internal/engine/auth"
	"tnxgate/internal/policy"
	"tnxgate/internal/testutil"
)

var (
	owner    = auth.Principal{UserID: "u-owner", TenantID: "t1", Email: "owner@example.com", EmailVerified: true}
	reviewer = auth.Principal{UserID: "u-rev", TenantID: "t2", Email: "reviewer@example.com", EmailVerified: true}
	viewer   = auth.Principal{UserID: "u-view", TenantID: "t2", Email: "viewer@example.com", EmailVerified: true}
	stranger = auth.Principal{UserID: "u-x", TenantID: "t3", Email: "x@example.com", EmailVerified: true}
	partner  = auth.Principal{UserID: "u-partner", TenantID: "t1", Roles: []string{auth.RolePartner}}
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	Engine engine.Engine
	Store  *blob.Memory
	Clock  *clock
	Ctx    context.Context
}

func newTestEnv(t *testing.T, reviewer agent.Reviewer) testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Bots.InviteCodes = []string{"TRIAL-2026"}
	store := blob.NewMemory()
	eng := engine.New(testutil.OpenDB(t), cfg, engine.Options{Store: store, Reviewer: reviewer})
	c := &clock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	eng.Now = c.Now
	return testEnv{Engine: eng, Store: store, Clock: c, Ctx: context.Background()}
}

func conditional() agent.Reviewer {
	return agent.Static{Status: domain.AgentConditionalPass, Summary: "looks plausible, check slippage"}
}

func (env testEnv) createRun(t *testing.T, p auth.Principal, profile string, ev testutil.Evidence) domain.ValidationRun {
	t.Helper()
	inputs, outputs, err := testutil.Seed(env.Ctx, env.Store, ev)
	require.NoError(t, err)
	run, err := env.Engine.CreateRun(env.Ctx, p, engine.CreateRunRequest{
		StrategyRef: domain.StrategyRef{StrategyID: "strat-1", Provider: "internal"},
		Profile:     profile,
		Inputs:      inputs,
		Outputs:     outputs,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RunQueued, run.Status)
	got, err := env.Engine.GetRun(env.Ctx, p, run.ID)
	require.NoError(t, err)
	return got
}

func (env testEnv) share(t *testing.T, runID string, who auth.Principal, perm domain.Permission) {
	t.Helper()
	inv, err := env.Engine.CreateInvite(env.Ctx, owner, runID, who.Email, perm)
	require.NoError(t, err)
	_, err = env.Engine.AcceptInvite(env.Ctx, who, inv.ID)
	require.NoError(t, err)
}

func approve(decision domain.Decision) engine.DecisionRequest {
	return engine.DecisionRequest{ReviewerType: domain.ReviewerTrader, Action: domain.ActionApprove, Decision: decision, Reason: "reviewed fills"}
}

func TestEndToEndStandardScenario(t *testing.T) {
	env := newTestEnv(t, conditional())

	run := env.createRun(t, owner, "STANDARD", testutil.Evidence{Prefix: "runs/base", ReportedDriftPct: 0.1})
	assert.Equal(t, domain.RunRunning, run.Status)
	assert.Equal(t, domain.TraderRequested, run.TraderReview)
	assert.Nil(t, run.FinalDecision)

	art, err := env.Engine.GetArtifact(env.Ctx, owner, run.ID)
	require.NoError(t, err)
	require.NotNil(t, art.DeterministicChecks)
	for _, c := range art.DeterministicChecks.All() {
		assert.Equal(t, domain.CheckPass, c.Status, c.Detail)
	}
	assert.Equal(t, domain.AgentConditionalPass, art.AgentReview.Status)
	assert.Equal(t, domain.TraderRequested, art.TraderReview.Status)
	assert.True(t, art.TraderReview.Required)

	dec, run, err := env.Engine.SubmitDecision(env.Ctx, owner, run.ID, approve(domain.DecisionPass))
	require.NoError(t, err)
	assert.True(t, dec.Accepted)
	assert.Equal(t, domain.RunCompleted, run.Status)
	require.NotNil(t, run.FinalDecision)
	assert.Equal(t, domain.DecisionConditionalPass, *run.FinalDecision)

	art, err = env.Engine.GetArtifact(env.Ctx, owner, run.ID)
	require.NoError(t, err)
	require.NotNil(t, art.Policy)
	assert.Equal(t, "STANDARD", art.Policy.Profile)
	assert.Equal(t, "conditional", art.Policy.Rule)
	require.Len(t, art.Decisions, 2)
	assert.Equal(t, domain.ReviewerAgent, art.Decisions[0].ReviewerType)
	assert.Equal(t, domain.ReviewerTrader, art.Decisions[1].ReviewerType)

	base, err := env.Engine.CreateBaseline(env.Ctx, owner, run.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, base.MetricDriftPct, 1e-9)

	cand := env.createRun(t, owner, "STANDARD", testutil.Evidence{Prefix: "runs/cand", ReportedDriftPct: 2.1})
	require.True(t, cand.Terminal())

	gate, err := env.Engine.Replay(env.Ctx, owner, base.ID, cand.ID)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, gate.MetricDriftDeltaPct, 1e-9)
	assert.Equal(t, 1.0, gate.MetricDriftThresholdPct)
	assert.True(t, gate.ThresholdBreached)
	assert.Equal(t, domain.GateFail, gate.MergeGateStatus)
	assert.Equal(t, domain.GateFail, gate.Decision)
	assert.NotEmpty(t, gate.Reasons)
}

func TestCreateRunValidation(t *testing.T) {
	env := newTestEnv(t, conditional())
	inputs, outputs, err := testutil.Seed(env.Ctx, env.Store, testutil.Evidence{})
	require.NoError(t, err)

	_, err = env.Engine.CreateRun(env.Ctx, owner, engine.CreateRunRequest{
		StrategyRef: domain.StrategyRef{StrategyID: "s"}, Profile: "NOPE", Inputs: inputs, Outputs: outputs,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidPolicy)

	bad := inputs
	bad.RequestedIndicators = nil
	_, err = env.Engine.CreateRun(env.Ctx, owner, engine.CreateRunRequest{
		StrategyRef: domain.StrategyRef{StrategyID: "s"}, Inputs: bad, Outputs: outputs,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInputs)
	assert.Contains(t, err.Error(), "requestedIndicators")

	_, err = env.Engine.CreateRun(env.Ctx, owner, engine.CreateRunRequest{Inputs: inputs, Outputs: outputs})
	assert.ErrorIs(t, err, domain.ErrInvalidInputs)

	runs, err := env.Engine.ListRuns(env.Ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestFastProfileCompletesWithoutTrader(t *testing.T) {
	env := newTestEnv(t, agent.Static{Status: domain.AgentPass})
	run := env.createRun(t, owner, "FAST", testutil.Evidence{})
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, domain.TraderNotRequested, run.TraderReview)
	require.NotNil(t, run.FinalDecision)
	assert.Equal(t, domain.DecisionPass, *run.FinalDecision)
}

func TestMissingEvidenceFailsClosed(t *testing.T) {
	env := newTestEnv(t, agent.Static{Status: domain.AgentPass})
	run := env.createRun(t, owner, "FAST", testutil.Evidence{SkipTrades: true})
	assert.Equal(t, domain.RunCompleted, run.Status)
	require.NotNil(t, run.FinalDecision)
	assert.Equal(t, domain.DecisionFail, *run.FinalDecision)

	art, err := env.Engine.GetArtifact(env.Ctx, owner, run.ID)
	require.NoError(t, err)
	assert.True(t, art.DeterministicChecks.TradeCoherence.EvidenceUnavailable)
	assert.True(t, art.DeterministicChecks.MetricConsistency.EvidenceUnavailable)
}

func TestExploratoryDeterministicFailureIsLeftToTheGates(t *testing.T) {
	env := newTestEnv(t, agent.Static{Status: domain.AgentPass})
	run := env.createRun(t, owner, "EXPLORATORY", testutil.Evidence{Indicators: []string{"RSI", "ATR"}})
	require.NotNil(t, run.FinalDecision)
	assert.Equal(t, domain.DecisionPass, *run.FinalDecision)

	art, err := env.Engine.GetArtifact(env.Ctx, owner, run.ID)
	require.NoError(t, err)
	require.NotNil(t, art.DeterministicChecks)
	assert.Equal(t, domain.CheckFail, art.DeterministicChecks.IndicatorFidelity.Status)
	require.NotNil(t, art.Policy)
	assert.Equal(t, policy.RulePass, art.Policy.Rule)
}

func TestAgentUpstreamFailureFailsRun(t *testing.T) {
	env := newTestEnv(t, agent.ReviewerFunc(func(ctx context.Context, req agent.Request) (domain.AgentReview, error) {
		return domain.AgentReview{
			Status:   domain.AgentFail,
			Summary:  "reviewer unavailable",
			Findings: []domain.Finding{{Priority: "high", Confidence: 1, Message: "reviewer unavailable"}},
			Budget:   domain.Budget{Limits: req.Budget, WithinBudget: true},
		}, domain.ErrUpstreamUnavailable
	}))
	run := env.createRun(t, owner, "STANDARD", testutil.Evidence{})
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, domain.TraderNotRequested, run.TraderReview)
	require.NotNil(t, run.FinalDecision)
	assert.Equal(t, domain.DecisionFail, *run.FinalDecision)
}

func TestPipelinePanicMarksRunFailed(t *testing.T) {
	env := newTestEnv(t, agent.ReviewerFunc(func(ctx context.Context, req agent.Request) (domain.AgentReview, error) {
		panic("reviewer exploded")
	}))
	run := env.createRun(t, owner, "STANDARD", testutil.Evidence{})
	assert.Equal(t, domain.RunFailed, run.Status)
	require.NotNil(t, run.FinalDecision)
	assert.Equal(t, domain.DecisionFail, *run.FinalDecision)

	art, err := env.Engine.GetArtifact(env.Ctx, owner, run.ID)
	require.NoError(t, err)
	require.NotNil(t, art.Policy)
	assert.Equal(t, engine.RuleFault, art.Policy.Rule)
}

func TestDispatcherRunsPipelineInBackground(t *testing.T) {
	env := newTestEnv(t, conditional())
	d := dispatch.New(4, 8, nil)
	d.Start(env.Ctx)
	defer d.Stop()
	env.Engine.Dispatcher = d

	inputs, outputs, err := testutil.Seed(env.Ctx, env.Store, testutil.Evidence{})
	require.NoError(t, err)
	run, err := env.Engine.CreateRun(env.Ctx, owner, engine.CreateRunRequest{
		StrategyRef: domain.StrategyRef{StrategyID: "s"}, Profile: "FAST", Inputs: inputs, Outputs: outputs,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RunQueued, run.Status)

	d.Wait()
	got, err := env.Engine.GetRun(env.Ctx, owner, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, got.Status)
}

func TestSubmitDecisionGate(t *testing.T) {
	env := newTestEnv(t, conditional())
	run := env.createRun(t, owner, "STANDARD", testutil.Evidence{})

	_, _, err := env.Engine.SubmitDecision(env.Ctx, owner, run.ID, engine.DecisionRequest{ReviewerType: domain.ReviewerAgent, Action: domain.ActionApprove})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, _, err = env.Engine.SubmitDecision(env.Ctx, owner, run.ID, approve(domain.DecisionFail))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, run, err = env.Engine.SubmitDecision(env.Ctx, owner, run.ID, engine.DecisionRequest{Action: domain.ActionReject, Reason: "lookahead bias"})
	require.NoError(t, err)
	require.NotNil(t, run.FinalDecision)
	assert.Equal(t, domain.DecisionFail, *run.FinalDecision)
	assert.Equal(t, domain.TraderRejected, run.TraderReview)

	_, _, err = env.Engine.SubmitDecision(env.Ctx, owner, run.ID, approve(domain.DecisionPass))
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestConcurrentDecisionsOnlyOneAccepted(t *testing.T) {
	env := newTestEnv(t, conditional())
	run := env.createRun(t, owner, "STANDARD", testutil.Evidence{})

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = env.Engine.SubmitDecision(env.Ctx, owner, run.ID, approve(domain.DecisionPass))
		}(i)
	}
	wg.Wait()
	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	}
	assert.Equal(t, 1, ok)
}

func TestPermissionMonotonicity(t *testing.T) {
	env := newTestEnv(t, conditional())
	run := env.createRun(t, owner, "STANDARD", testutil.Evidence{})
	env.share(t, run.ID, viewer, domain.PermissionView)
	env.share(t, run.ID, reviewer, domain.PermissionReview)

	_, err := env.Engine.GetArtifact(env.Ctx, viewer, run.ID)
	require.NoError(t, err)
	_, err = env.Engine.AddComment(env.Ctx, viewer, run.ID, "hello", nil)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, _, err = env.Engine.SubmitDecision(env.Ctx, viewer, run.ID, approve(domain.DecisionPass))
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = env.Engine.GetRun(env.Ctx, stranger, run.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.Engine.AddComment(env.Ctx, reviewer, run.ID, "entry on bar close?", []string{"runs/fixture/trades.json"})
	require.NoError(t, err)
	_, run, err = env.Engine.SubmitDecision(env.Ctx, reviewer, run.ID, approve(domain.DecisionConditionalPass))
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)

	// The gate is closed now: review authority without opportunity.
	_, err = env.Engine.AddComment(env.Ctx, reviewer, run.ID, "late", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = env.Engine.AddComment(env.Ctx, viewer, run.ID, "late", nil)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = env.Engine.AddComment(env.Ctx, owner, run.ID, "owner note", nil)
	require.NoError(t, err)

	art, err := env.Engine.GetArtifact(env.Ctx, owner, run.ID)
	require.NoError(t, err)
	assert.Len(t, art.TraderReview.Comments, 2)
}

func TestSharingScenario(t *testing.T) {
	env := newTestEnv(t, conditional())
	run := env.createRun(t, owner, "STANDARD", testutil.Evidence{})

	inv, err := env.Engine.CreateInvite(env.Ctx, owner, run.ID, "Reviewer@Example.com", domain.PermissionReview)
	require.NoError(t, err)
	assert.Equal(t, "reviewer@example.com", inv.Email)
	assert.Equal(t, domain.InvitePending, inv.Status)

	_, err = env.Engine.CreateInvite(env.Ctx, owner, run.ID, "reviewer@example.com", domain.PermissionView)
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = env.Engine.CreateInvite(env.Ctx, reviewer, run.ID, "a@example.com", domain.PermissionView)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.Engine.AcceptInvite(env.Ctx, viewer, inv.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	accepted, err := env.Engine.AcceptInvite(env.Ctx, reviewer, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InviteAccepted, accepted.Status)
	assert.Equal(t, reviewer.UserID, accepted.AcceptedByUserID)

	shared, err := env.Engine.ListSharedWithMe(env.Ctx, reviewer)
	require.NoError(t, err)
	require.Len(t, shared, 1)
	assert.Equal(t, run.ID, shared[0].ID)

	self, err := env.Engine.CreateInvite(env.Ctx, owner, run.ID, owner.Email, domain.PermissionView)
	require.NoError(t, err)
	_, err = env.Engine.AcceptInvite(env.Ctx, owner, self.ID)
	require.NoError(t, err)
	mine, err := env.Engine.ListSharedWithMe(env.Ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, mine)

	revoked, err := env.Engine.RevokeInvite(env.Ctx, owner, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InviteRevoked, revoked.Status)
	again, err := env.Engine.RevokeInvite(env.Ctx, owner, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, revoked.UpdatedAt, again.UpdatedAt)

	shared, err = env.Engine.ListSharedWithMe(env.Ctx, reviewer)
	require.NoError(t, err)
	assert.Empty(t, shared)
	_, err = env.Engine.GetRun(env.Ctx, reviewer, run.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.Engine.CreateInvite(env.Ctx, owner, run.ID, reviewer.Email, domain.PermissionView)
	require.NoError(t, err)
	invites, err := env.Engine.ListInvites(env.Ctx, owner, run.ID)
	require.NoError(t, err)
	assert.Len(t, invites, 3)
}

func TestInviteExpiry(t *testing.T) {
	env := newTestEnv(t, conditional())
	run := env.createRun(t, owner, "STANDARD", testutil.Evidence{})
	inv, err := env.Engine.CreateInvite(env.Ctx, owner, run.ID, reviewer.Email, domain.PermissionReview)
	require.NoError(t, err)

	env.Clock.Advance(15 * 24 * time.Hour)
	_, err = env.Engine.AcceptInvite(env.Ctx, reviewer, inv.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = env.Engine.CreateInvite(env.Ctx, owner, run.ID, reviewer.Email, domain.PermissionReview)
	assert.ErrorIs(t, err, domain.ErrConflict)

	invites, err := env.Engine.ListInvites(env.Ctx, owner, run.ID)
	require.NoError(t, err)
	require.Len(t, invites, 1)
	assert.Equal(t, domain.InviteExpired, invites[0].Status)
}

func TestKeyRotationInvariant(t *testing.T) {
	env := newTestEnv(t, conditional())
	bot, err := env.Engine.RegisterBot(env.Ctx, partner, engine.RegisterBotRequest{Name: "ci", RegistrationPath: domain.RegistrationPartnerBootstrap})
	require.NoError(t, err)
	assert.Empty(t, bot.TrialExpiresAt)

	first, err := env.Engine.IssueKey(env.Ctx, partner, bot.ID)
	require.NoError(t, err)
	assert.Contains(t, first.RawKey, first.Key.KeyPrefix+".")
	assert.NotContains(t, first.Key.KeyPrefix, first.RawKey[len(first.Key.KeyPrefix)+1:])

	_, err = env.Engine.IssueKey(env.Ctx, partner, bot.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)

	p, err := env.Engine.VerifyKey(env.Ctx, first.RawKey)
	require.NoError(t, err)
	assert.Equal(t, bot.ID, p.BotID)
	assert.Equal(t, partner.UserID, p.UserID)

	second, err := env.Engine.RotateKey(env.Ctx, partner, bot.ID)
	require.NoError(t, err)
	n, err := env.Engine.Repo.CountActiveBotKeys(env.Ctx, bot.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = env.Engine.VerifyKey(env.Ctx, first.RawKey)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = env.Engine.VerifyKey(env.Ctx, second.RawKey)
	require.NoError(t, err)

	keys, err := env.Engine.ListKeys(env.Ctx, partner, bot.ID)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	statuses := map[string]domain.BotKeyStatus{}
	for _, k := range keys {
		statuses[k.ID] = k.Status
		assert.NotEmpty(t, k.KeyHash)
	}
	assert.Equal(t, domain.KeyRotated, statuses[first.Key.ID])
	assert.Equal(t, domain.KeyActive, statuses[second.Key.ID])

	revoked, err := env.Engine.RevokeKey(env.Ctx, partner, second.Key.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.KeyRevoked, revoked.Status)
	again, err := env.Engine.RevokeKey(env.Ctx, partner, second.Key.ID)
	require.NoError(t, err)
	assert.Equal(t, revoked.RevokedAt, again.RevokedAt)
	_, err = env.Engine.VerifyKey(env.Ctx, second.RawKey)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	third, err := env.Engine.RotateKey(env.Ctx, partner, bot.ID)
	require.NoError(t, err)
	_, err = env.Engine.VerifyKey(env.Ctx, third.RawKey)
	require.NoError(t, err)

	_, err = env.Engine.RevokeBot(env.Ctx, partner, bot.ID)
	require.NoError(t, err)
	_, err = env.Engine.VerifyKey(env.Ctx, third.RawKey)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestRegisterBotPaths(t *testing.T) {
	env := newTestEnv(t, conditional())

	_, err := env.Engine.RegisterBot(env.Ctx, owner, engine.RegisterBotRequest{Name: "b", RegistrationPath: domain.RegistrationInviteCodeTrial, InviteCode: "WRONG"})
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = env.Engine.RegisterBot(env.Ctx, owner, engine.RegisterBotRequest{Name: "b", RegistrationPath: domain.RegistrationPartnerBootstrap})
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = env.Engine.RegisterBot(env.Ctx, owner, engine.RegisterBotRequest{Name: "b", RegistrationPath: "sideload"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	bot, err := env.Engine.RegisterBot(env.Ctx, owner, engine.RegisterBotRequest{Name: "trial", RegistrationPath: domain.RegistrationInviteCodeTrial, InviteCode: "TRIAL-2026"})
	require.NoError(t, err)
	require.NotEmpty(t, bot.TrialExpiresAt)

	key, err := env.Engine.IssueKey(env.Ctx, owner, bot.ID)
	require.NoError(t, err)
	botPrincipal, err := env.Engine.VerifyKey(env.Ctx, key.RawKey)
	require.NoError(t, err)

	_, err = env.Engine.IssueKey(env.Ctx, botPrincipal, bot.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = env.Engine.IssueKey(env.Ctx, stranger, bot.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	env.Clock.Advance(15 * 24 * time.Hour)
	_, err = env.Engine.VerifyKey(env.Ctx, key.RawKey)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	for _, raw := range []string{"", "tnx.bot.", "tnx.bot.a.b", "other.bot.a.b.c", key.RawKey + "x"} {
		_, err = env.Engine.VerifyKey(env.Ctx, raw)
		assert.ErrorIs(t, err, domain.ErrUnauthorized, raw)
	}
}

func TestBotPrincipalCreatesRunsForOwner(t *testing.T) {
	env := newTestEnv(t, agent.Static{Status: domain.AgentPass})
	bot, err := env.Engine.RegisterBot(env.Ctx, partner, engine.RegisterBotRequest{Name: "ci", RegistrationPath: domain.RegistrationPartnerBootstrap})
	require.NoError(t, err)
	key, err := env.Engine.IssueKey(env.Ctx, partner, bot.ID)
	require.NoError(t, err)
	p, err := env.Engine.VerifyKey(env.Ctx, key.RawKey)
	require.NoError(t, err)

	run := env.createRun(t, p, "FAST", testutil.Evidence{})
	_, err = env.Engine.GetRun(env.Ctx, partner, run.ID)
	require.NoError(t, err)
	_, _, err = env.Engine.SubmitDecision(env.Ctx, p, run.ID, approve(domain.DecisionPass))
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestReplayDeterminism(t *testing.T) {
	env := newTestEnv(t, agent.Static{Status: domain.AgentPass})
	base := env.createRun(t, owner, "FAST", testutil.Evidence{Prefix: "runs/base", ReportedDriftPct: 0.2})
	baseline, err := env.Engine.CreateBaseline(env.Ctx, owner, base.ID)
	require.NoError(t, err)
	cand := env.createRun(t, owner, "FAST", testutil.Evidence{Prefix: "runs/cand", ReportedDriftPct: 0.4})

	first, err := env.Engine.Replay(env.Ctx, owner, baseline.ID, cand.ID)
	require.NoError(t, err)
	second, err := env.Engine.Replay(env.Ctx, owner, baseline.ID, cand.ID)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.MetricDriftDeltaPct, second.MetricDriftDeltaPct)
	assert.Equal(t, first.ThresholdBreached, second.ThresholdBreached)
	assert.InDelta(t, 0.2, first.MetricDriftDeltaPct, 1e-9)
	assert.False(t, first.ThresholdBreached)
	assert.Equal(t, domain.GatePass, first.Decision)

	got, err := env.Engine.GetReplay(env.Ctx, owner, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Reasons, got.Reasons)
	list, err := env.Engine.ListReplays(env.Ctx, owner, baseline.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = env.Engine.GetReplay(env.Ctx, stranger, first.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReplayUsesThresholdSnapshottedAtEvaluation(t *testing.T) {
	env := newTestEnv(t, agent.Static{Status: domain.AgentPass})
	base := env.createRun(t, owner, "FAST", testutil.Evidence{Prefix: "runs/base", ReportedDriftPct: 0.2})
	baseline, err := env.Engine.CreateBaseline(env.Ctx, owner, base.ID)
	require.NoError(t, err)
	cand := env.createRun(t, owner, "FAST", testutil.Evidence{Prefix: "runs/cand", ReportedDriftPct: 0.4})

	art, err := env.Engine.GetArtifact(env.Ctx, owner, cand.ID)
	require.NoError(t, err)
	require.NotNil(t, art.Policy)
	assert.Equal(t, 1.0, art.Policy.MetricDriftThresholdPct)

	fast := env.Engine.Config.Profiles["FAST"]
	fast.Replay.MetricDriftThresholdPct = 0.1
	env.Engine.Config.Profiles["FAST"] = fast

	gate, err := env.Engine.Replay(env.Ctx, owner, baseline.ID, cand.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, gate.MetricDriftThresholdPct)
	assert.False(t, gate.ThresholdBreached)
}

func TestReplayPreconditions(t *testing.T) {
	env := newTestEnv(t, conditional())
	pending := env.createRun(t, owner, "STANDARD", testutil.Evidence{Prefix: "runs/p"})
	_, err := env.Engine.CreateBaseline(env.Ctx, owner, pending.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	failing := env.createRun(t, owner, "STANDARD", testutil.Evidence{Prefix: "runs/f", ReportedDriftPct: 3})
	_, err = env.Engine.CreateBaseline(env.Ctx, owner, failing.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	good := env.createRun(t, owner, "STANDARD", testutil.Evidence{Prefix: "runs/g"})
	_, _, err = env.Engine.SubmitDecision(env.Ctx, owner, good.ID, approve(domain.DecisionPass))
	require.NoError(t, err)
	_, err = env.Engine.CreateBaseline(env.Ctx, viewer, good.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	baseline, err := env.Engine.CreateBaseline(env.Ctx, owner, good.ID)
	require.NoError(t, err)

	_, err = env.Engine.Replay(env.Ctx, owner, baseline.ID, pending.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestRenderRequests(t *testing.T) {
	env := newTestEnv(t, agent.Static{Status: domain.AgentPass})
	run := env.createRun(t, owner, "FAST", testutil.Evidence{})

	_, err := env.Engine.RequestRender(env.Ctx, owner, run.ID, "docx")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	rr, err := env.Engine.RequestRender(env.Ctx, owner, run.ID, domain.RenderPDF)
	require.NoError(t, err)
	assert.Equal(t, "requested", rr.Status)

	art, err := env.Engine.GetArtifact(env.Ctx, owner, run.ID)
	require.NoError(t, err)
	require.Len(t, art.Renders, 1)
	assert.Equal(t, domain.RenderPDF, art.Renders[0].Format)
}
