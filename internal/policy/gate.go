package policy

import (
	"fmt"

	"tnxgate/internal/domain"
)

// RequestReview moves the trader gate from not_requested to requested.
func RequestReview(current domain.TraderStatus) (domain.TraderStatus, error) {
	switch current {
	case domain.TraderNotRequested:
		return domain.TraderRequested, nil
	case domain.TraderRequested, domain.TraderApproved, domain.TraderRejected:
		return current, fmt.Errorf("%w: trader review is %s", domain.ErrInvalidState, current)
	}
	return current, fmt.Errorf("%w: unknown trader review status %q", domain.ErrInvalidState, current)
}

// Decide resolves a requested gate. Approved and rejected are terminal.
func Decide(current domain.TraderStatus, action domain.Action) (domain.TraderStatus, error) {
	switch current {
	case domain.TraderRequested:
	case domain.TraderNotRequested, domain.TraderApproved, domain.TraderRejected:
		return current, fmt.Errorf("%w: trader review is %s, not requested", domain.ErrInvalidState, current)
	default:
		return current, fmt.Errorf("%w: unknown trader review status %q", domain.ErrInvalidState, current)
	}
	switch action {
	case domain.ActionApprove:
		return domain.TraderApproved, nil
	case domain.ActionReject:
		return domain.TraderRejected, nil
	}
	return current, fmt.Errorf("%w: unknown action %q", domain.ErrInvalidInput, action)
}

// NormalizeDecision checks that a trader's decision agrees with the action.
// A reject with no decision defaults to fail; an approve defaults to pass.
func NormalizeDecision(action domain.Action, decision domain.Decision) (domain.Decision, error) {
	switch action {
	case domain.ActionApprove:
		switch decision {
		case "":
			return domain.DecisionPass, nil
		case domain.DecisionPass, domain.DecisionConditionalPass:
			return decision, nil
		case domain.DecisionFail:
			return "", fmt.Errorf("%w: approve cannot carry decision fail", domain.ErrInvalidInput)
		}
	case domain.ActionReject:
		switch decision {
		case "", domain.DecisionFail:
			return domain.DecisionFail, nil
		case domain.DecisionPass, domain.DecisionConditionalPass:
			return "", fmt.Errorf("%w: reject must carry decision fail", domain.ErrInvalidInput)
		}
	default:
		return "", fmt.Errorf("%w: unknown action %q", domain.ErrInvalidInput, action)
	}
	return "", fmt.Errorf("%w: unknown decision %q", domain.ErrInvalidInput, decision)
}
