package domain

type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

type Decision string

const (
	DecisionPass            Decision = "pass"
	DecisionConditionalPass Decision = "conditional_pass"
	DecisionFail            Decision = "fail"
)

func (d Decision) Valid() bool {
	switch d {
	case DecisionPass, DecisionConditionalPass, DecisionFail:
		return true
	}
	return false
}

// DecisionPtr returns a pointer to a copy of d.
func DecisionPtr(d Decision) *Decision { return &d }

type CheckStatus string

const (
	CheckPass CheckStatus = "pass"
	CheckFail CheckStatus = "fail"
)

type AgentStatus string

const (
	AgentPending         AgentStatus = "pending"
	AgentPass            AgentStatus = "pass"
	AgentConditionalPass AgentStatus = "conditional_pass"
	AgentFail            AgentStatus = "fail"
)

func (s AgentStatus) Valid() bool {
	switch s {
	case AgentPass, AgentConditionalPass, AgentFail:
		return true
	}
	return false
}

type TraderStatus string

const (
	TraderNotRequested TraderStatus = "not_requested"
	TraderRequested    TraderStatus = "requested"
	TraderApproved     TraderStatus = "approved"
	TraderRejected     TraderStatus = "rejected"
)

type ReviewerType string

const (
	ReviewerAgent  ReviewerType = "agent"
	ReviewerTrader ReviewerType = "trader"
)

type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

func (a Action) Valid() bool {
	switch a {
	case ActionApprove, ActionReject:
		return true
	}
	return false
}

type Permission string

const (
	PermissionView   Permission = "view"
	PermissionReview Permission = "review"
)

func (p Permission) Valid() bool {
	switch p {
	case PermissionView, PermissionReview:
		return true
	}
	return false
}

type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteRevoked  InviteStatus = "revoked"
	InviteExpired  InviteStatus = "expired"
)

// Terminal reports whether the invite can no longer transition.
func (s InviteStatus) Terminal() bool {
	switch s {
	case InviteRevoked, InviteExpired:
		return true
	case InvitePending, InviteAccepted:
		return false
	}
	return false
}

type BotStatus string

const (
	BotActive  BotStatus = "active"
	BotRevoked BotStatus = "revoked"
)

type BotKeyStatus string

const (
	KeyActive  BotKeyStatus = "active"
	KeyRotated BotKeyStatus = "rotated"
	KeyRevoked BotKeyStatus = "revoked"
)

type RegistrationPath string

const (
	RegistrationInviteCodeTrial  RegistrationPath = "invite_code_trial"
	RegistrationPartnerBootstrap RegistrationPath = "partner_bootstrap"
)

func (p RegistrationPath) Valid() bool {
	switch p {
	case RegistrationInviteCodeTrial, RegistrationPartnerBootstrap:
		return true
	}
	return false
}

type GateStatus string

const (
	GatePass GateStatus = "pass"
	GateFail GateStatus = "fail"
)

type RenderFormat string

const (
	RenderHTML RenderFormat = "html"
	RenderPDF  RenderFormat = "pdf"
)

func (f RenderFormat) Valid() bool {
	switch f {
	case RenderHTML, RenderPDF:
		return true
	}
	return false
}
