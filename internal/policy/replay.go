package policy

import (
	"fmt"
	"math"

	"tnxgate/internal/domain"
)

// ReplayInput is the candidate and baseline state compared by a replay.
type ReplayInput struct {
	Flags             domain.PolicyFlags
	ThresholdPct      float64
	BaselineDriftPct  float64
	CandidateDriftPct *float64
	CandidateDecision domain.Decision
	CandidateChecks   domain.DeterministicChecks
	CandidateAgent    domain.AgentStatus
}

// ReplayOutcome is the merge/release verdict for one comparison.
type ReplayOutcome struct {
	DeltaPct float64
	Breached bool
	Merge    domain.GateStatus
	Release  domain.GateStatus
	Decision domain.GateStatus
	Reasons  []string
}

// EvaluateReplay is pure: identical inputs give identical outcomes.
func EvaluateReplay(in ReplayInput) ReplayOutcome {
	out := ReplayOutcome{Reasons: []string{}}
	if in.CandidateDriftPct == nil {
		out.Breached = true
		out.Reasons = append(out.Reasons, "candidate metric drift unavailable")
	} else {
		out.DeltaPct = roundPct(math.Abs(*in.CandidateDriftPct - in.BaselineDriftPct))
		if out.DeltaPct > in.ThresholdPct {
			out.Breached = true
			out.Reasons = append(out.Reasons, fmt.Sprintf("metric drift delta %.4g%% exceeds threshold %.4g%%", out.DeltaPct, in.ThresholdPct))
		}
	}

	detFailed := in.CandidateChecks.AnyFailed()
	mergeFail := out.Breached
	if in.CandidateDecision == domain.DecisionFail {
		mergeFail = true
		out.Reasons = append(out.Reasons, "candidate final decision is fail")
	}
	if in.Flags.BlockMergeOnFail && detFailed {
		mergeFail = true
		out.Reasons = append(out.Reasons, "deterministic check failed (blockMergeOnFail)")
	}
	if in.Flags.BlockMergeOnAgentFail && in.CandidateAgent == domain.AgentFail {
		mergeFail = true
		out.Reasons = append(out.Reasons, "agent review failed (blockMergeOnAgentFail)")
	}

	releaseFail := mergeFail
	if in.Flags.BlockReleaseOnFail && detFailed {
		releaseFail = true
		if !in.Flags.BlockMergeOnFail {
			out.Reasons = append(out.Reasons, "deterministic check failed (blockReleaseOnFail)")
		}
	}
	if in.Flags.BlockReleaseOnAgentFail && in.CandidateAgent != domain.AgentPass {
		releaseFail = true
		out.Reasons = append(out.Reasons, fmt.Sprintf("agent review is %s (blockReleaseOnAgentFail)", in.CandidateAgent))
	}

	out.Merge = gateStatus(mergeFail)
	out.Release = gateStatus(releaseFail)
	out.Decision = gateStatus(mergeFail || releaseFail)
	return out
}

func gateStatus(failed bool) domain.GateStatus {
	if failed {
		return domain.GateFail
	}
	return domain.GatePass
}

func roundPct(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
