// Package policy combines check, agent and trader outcomes into a final decision.
package policy

import (
	"fmt"

	"tnxgate/internal/domain"
)

// Rule names recorded in the policy snapshot.
const (
	RuleDeterministicFail   = "deterministic_fail"
	RuleEvidenceUnavailable = "evidence_unavailable"
	RuleAgentFail           = "agent_fail"
	RuleTraderPending       = "trader_review_pending"
	RuleTraderRejected      = "trader_rejected"
	RuleConditional         = "conditional"
	RulePass                = "pass"
)

// Input is everything Evaluate looks at.
type Input struct {
	Flags  domain.PolicyFlags
	Checks domain.DeterministicChecks
	Agent  domain.AgentStatus
	Trader domain.TraderStatus
	// TraderDecision is the decision carried by the accepted trader review, if any.
	TraderDecision *domain.Decision
}

// Outcome is the result of Evaluate. When Withheld is true Decision is empty
// and the run must wait for trader review.
type Outcome struct {
	Decision domain.Decision
	Withheld bool
	Rule     string
}

// Evaluate applies the ordered rules; the first match wins.
func Evaluate(in Input) (Outcome, error) {
	if !in.Agent.Valid() {
		return Outcome{}, fmt.Errorf("%w: agent review status %q is not final", domain.ErrInvalidState, in.Agent)
	}
	switch in.Trader {
	case domain.TraderNotRequested, domain.TraderRequested, domain.TraderApproved, domain.TraderRejected:
	default:
		return Outcome{}, fmt.Errorf("%w: unknown trader review status %q", domain.ErrInvalidState, in.Trader)
	}

	detFailed := in.Checks.AnyFailed()
	if detFailed && in.Flags.HardFailOnMissingIndicators {
		return Outcome{Decision: domain.DecisionFail, Rule: RuleDeterministicFail}, nil
	}
	if in.Checks.EvidenceUnavailable() && in.Flags.FailClosedOnEvidenceUnavailable {
		return Outcome{Decision: domain.DecisionFail, Rule: RuleEvidenceUnavailable}, nil
	}

	if in.Agent == domain.AgentFail {
		return Outcome{Decision: domain.DecisionFail, Rule: RuleAgentFail}, nil
	}

	traderResolved := false
	switch in.Trader {
	case domain.TraderApproved, domain.TraderRejected:
		traderResolved = true
	case domain.TraderNotRequested, domain.TraderRequested:
	}
	if in.Flags.RequireTraderReview && !traderResolved {
		return Outcome{Withheld: true, Rule: RuleTraderPending}, nil
	}

	if in.Trader == domain.TraderRejected {
		return Outcome{Decision: domain.DecisionFail, Rule: RuleTraderRejected}, nil
	}

	approvedWithCaveats := in.Trader == domain.TraderApproved &&
		in.TraderDecision != nil && *in.TraderDecision == domain.DecisionConditionalPass
	if in.Agent == domain.AgentConditionalPass || approvedWithCaveats {
		return Outcome{Decision: domain.DecisionConditionalPass, Rule: RuleConditional}, nil
	}

	return Outcome{Decision: domain.DecisionPass, Rule: RulePass}, nil
}

// Snapshot captures the flags, replay threshold and matched rule at evaluation time.
func Snapshot(profile string, flags domain.PolicyFlags, thresholdPct float64, out Outcome, evaluatedAt string) *domain.PolicySnapshot {
	return &domain.PolicySnapshot{
		Profile:                 profile,
		Flags:                   flags,
		MetricDriftThresholdPct: thresholdPct,
		Rule:                    out.Rule,
		EvaluatedAt:             evaluatedAt,
	}
}
