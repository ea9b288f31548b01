// Package agent invokes the LLM-based reviewer under a token and cost budget.
package agent

import (
	"context"
	"time"

	"tnxgate/internal/domain"
)

// Request is what the reviewer sees: evidence references, never blobs.
type Request struct {
	RunID               string              `json:"runId"`
	Profile             string              `json:"profile"`
	Prompt              string              `json:"prompt,omitempty"`
	RequestedIndicators []string            `json:"requestedIndicators"`
	EvidenceRefs        []string            `json:"evidenceRefs"`
	Budget              domain.BudgetLimits `json:"budget"`
	// Timeout bounds the whole review including retries. Zero means no bound.
	Timeout time.Duration `json:"-"`
}

// Reviewer produces an agent review. The returned review is always final
// (pass, conditional_pass or fail). A non-nil error explains a fail that was
// caused by an upstream fault and wraps domain.ErrUpstreamUnavailable.
type Reviewer interface {
	Review(ctx context.Context, req Request) (domain.AgentReview, error)
}

// Static returns a fixed verdict without calling out. Used offline and in tests.
type Static struct {
	Status   domain.AgentStatus
	Summary  string
	Findings []domain.Finding
	Usage    domain.BudgetUsage
}

func (s Static) Review(ctx context.Context, req Request) (domain.AgentReview, error) {
	if err := ctx.Err(); err != nil {
		return failed(req.Budget, domain.BudgetUsage{}, true, "review cancelled: "+err.Error(), req.EvidenceRefs), err
	}
	status := s.Status
	if !status.Valid() {
		status = domain.AgentConditionalPass
	}
	findings := s.Findings
	if findings == nil {
		findings = []domain.Finding{}
	}
	summary := s.Summary
	if summary == "" {
		summary = "static reviewer verdict"
	}
	return domain.AgentReview{
		Status:   status,
		Summary:  summary,
		Findings: findings,
		Budget:   budgetFor(req.Budget, s.Usage),
	}, nil
}

// ReviewerFunc adapts a function to Reviewer.
type ReviewerFunc func(ctx context.Context, req Request) (domain.AgentReview, error)

func (f ReviewerFunc) Review(ctx context.Context, req Request) (domain.AgentReview, error) {
	return f(ctx, req)
}

func budgetFor(limits domain.BudgetLimits, usage domain.BudgetUsage) domain.Budget {
	within := (limits.MaxTokens <= 0 || usage.Tokens <= limits.MaxTokens) &&
		(limits.MaxCostUSD <= 0 || usage.CostUSD <= limits.MaxCostUSD)
	return domain.Budget{Limits: limits, Usage: usage, WithinBudget: within}
}

// failed builds a fail review with one high-priority finding describing why.
func failed(limits domain.BudgetLimits, usage domain.BudgetUsage, withinBudget bool, message string, refs []string) domain.AgentReview {
	return domain.AgentReview{
		Status:  domain.AgentFail,
		Summary: message,
		Findings: []domain.Finding{{
			Priority:     "high",
			Confidence:   1,
			Message:      message,
			EvidenceRefs: refs,
		}},
		Budget: domain.Budget{Limits: limits, Usage: usage, WithinBudget: withinBudget},
	}
}
