package domain

type StrategyRef struct {
	StrategyID  string `json:"strategyId" validate:"required"`
	Provider    string `json:"provider,omitempty"`
	ProviderRef string `json:"providerRef,omitempty"`
}

type ValidationRun struct {
	ID            string       `json:"runId"`
	TenantID      string       `json:"tenantId"`
	UserID        string       `json:"userId"`
	StrategyRef   StrategyRef  `json:"strategyRef"`
	Status        RunStatus    `json:"status" enum:"queued,running,completed,failed"`
	Profile       string       `json:"profile"`
	FinalDecision *Decision    `json:"finalDecision,omitempty" enum:"pass,conditional_pass,fail"`
	TraderReview  TraderStatus `json:"traderReviewStatus" enum:"not_requested,requested,approved,rejected"`
	Version       int64        `json:"version"`
	CreatedAt     string       `json:"createdAt" format:"date-time"`
	UpdatedAt     string       `json:"updatedAt" format:"date-time"`
}

// Terminal reports whether the run has reached completed or failed.
func (r ValidationRun) Terminal() bool {
	return r.Status == RunCompleted || r.Status == RunFailed
}

type Inputs struct {
	Prompt              string   `json:"prompt,omitempty"`
	RequestedIndicators []string `json:"requestedIndicators" validate:"required,min=1,dive,required"`
	DatasetRefs         []string `json:"datasetRefs" validate:"required,min=1,dive,required"`
	BacktestReportRef   string   `json:"backtestReportRef" validate:"required"`
}

// Outputs holds opaque blob references; blobs are never embedded.
type Outputs struct {
	CodeRef   string   `json:"codeRef,omitempty"`
	ReportRef string   `json:"reportRef,omitempty"`
	TradesRef string   `json:"tradesRef,omitempty"`
	LogsRef   string   `json:"logsRef,omitempty"`
	ChartRefs []string `json:"chartRefs,omitempty"`
}

// EvidenceRefs lists every blob reference the run points at, inputs first.
func (a Artifact) EvidenceRefs() []string {
	var refs []string
	add := func(ref string) {
		if ref != "" {
			refs = append(refs, ref)
		}
	}
	for _, ref := range a.Inputs.DatasetRefs {
		add(ref)
	}
	add(a.Inputs.BacktestReportRef)
	add(a.Outputs.CodeRef)
	add(a.Outputs.ReportRef)
	add(a.Outputs.TradesRef)
	add(a.Outputs.LogsRef)
	for _, ref := range a.Outputs.ChartRefs {
		add(ref)
	}
	return refs
}

type CheckResult struct {
	Status              CheckStatus `json:"status" enum:"pass,fail"`
	Detail              string      `json:"detail"`
	EvidenceUnavailable bool        `json:"evidenceUnavailable,omitempty"`
	MissingIndicators   []string    `json:"missingIndicators,omitempty"`
	Violations          []string    `json:"violations,omitempty"`
	DriftPct            *float64    `json:"driftPct,omitempty"`
}

type DeterministicChecks struct {
	IndicatorFidelity CheckResult `json:"indicatorFidelity"`
	TradeCoherence    CheckResult `json:"tradeCoherence"`
	MetricConsistency CheckResult `json:"metricConsistency"`
}

// All returns the three checks in a fixed order.
func (d DeterministicChecks) All() []CheckResult {
	return []CheckResult{d.IndicatorFidelity, d.TradeCoherence, d.MetricConsistency}
}

// AnyFailed reports whether at least one check failed.
func (d DeterministicChecks) AnyFailed() bool {
	for _, c := range d.All() {
		if c.Status != CheckPass {
			return true
		}
	}
	return false
}

// EvidenceUnavailable reports whether any check failed closed on missing evidence.
func (d DeterministicChecks) EvidenceUnavailable() bool {
	for _, c := range d.All() {
		if c.EvidenceUnavailable {
			return true
		}
	}
	return false
}

type Finding struct {
	Priority     string   `json:"priority" enum:"low,medium,high"`
	Confidence   float64  `json:"confidence"`
	Message      string   `json:"message"`
	EvidenceRefs []string `json:"evidenceRefs,omitempty"`
}

type BudgetLimits struct {
	MaxTokens  int     `json:"maxTokens"`
	MaxCostUSD float64 `json:"maxCostUsd"`
}

type BudgetUsage struct {
	Tokens  int     `json:"tokens"`
	CostUSD float64 `json:"costUsd"`
}

type Budget struct {
	Limits       BudgetLimits `json:"limits"`
	Usage        BudgetUsage  `json:"usage"`
	WithinBudget bool         `json:"withinBudget"`
}

type AgentReview struct {
	Status   AgentStatus `json:"status" enum:"pending,pass,conditional_pass,fail"`
	Summary  string      `json:"summary,omitempty"`
	Findings []Finding   `json:"findings"`
	Budget   Budget      `json:"budget"`
}

type TraderReview struct {
	Required bool            `json:"required"`
	Status   TraderStatus    `json:"status" enum:"not_requested,requested,approved,rejected"`
	Comments []ReviewComment `json:"comments"`
}

// PolicyFlags is the gating snapshot of a profile.
type PolicyFlags struct {
	BlockMergeOnFail                bool `json:"blockMergeOnFail" yaml:"block_merge_on_fail"`
	BlockReleaseOnFail              bool `json:"blockReleaseOnFail" yaml:"block_release_on_fail"`
	BlockMergeOnAgentFail           bool `json:"blockMergeOnAgentFail" yaml:"block_merge_on_agent_fail"`
	BlockReleaseOnAgentFail         bool `json:"blockReleaseOnAgentFail" yaml:"block_release_on_agent_fail"`
	RequireTraderReview             bool `json:"requireTraderReview" yaml:"require_trader_review"`
	HardFailOnMissingIndicators     bool `json:"hardFailOnMissingIndicators" yaml:"hard_fail_on_missing_indicators"`
	FailClosedOnEvidenceUnavailable bool `json:"failClosedOnEvidenceUnavailable" yaml:"fail_closed_on_evidence_unavailable"`
}

type PolicySnapshot struct {
	Profile                 string      `json:"profile"`
	Flags                   PolicyFlags `json:"flags"`
	MetricDriftThresholdPct float64     `json:"metricDriftThresholdPct,omitempty"`
	Rule                    string      `json:"rule,omitempty"`
	EvaluatedAt             string      `json:"evaluatedAt,omitempty" format:"date-time"`
}

// Artifact is the canonical record for a run. Comments, decisions and renders
// are child sequences stored separately and only ever appended.
type Artifact struct {
	RunID               string               `json:"runId"`
	Inputs              Inputs               `json:"inputs"`
	Outputs             Outputs              `json:"outputs"`
	DeterministicChecks *DeterministicChecks `json:"deterministicChecks,omitempty"`
	AgentReview         AgentReview          `json:"agentReview"`
	TraderReview        TraderReview         `json:"traderReview"`
	Policy              *PolicySnapshot      `json:"policy,omitempty"`
	FinalDecision       *Decision            `json:"finalDecision,omitempty" enum:"pass,conditional_pass,fail"`
	Decisions           []ReviewDecision     `json:"decisions"`
	Renders             []RenderRequest      `json:"renders"`
}

type ReviewComment struct {
	ID           string   `json:"id"`
	RunID        string   `json:"runId"`
	AuthorID     string   `json:"authorId"`
	Body         string   `json:"body"`
	EvidenceRefs []string `json:"evidenceRefs,omitempty"`
	CreatedAt    string   `json:"createdAt" format:"date-time"`
}

type ReviewDecision struct {
	ID           string       `json:"id"`
	RunID        string       `json:"runId"`
	ReviewerType ReviewerType `json:"reviewerType" enum:"agent,trader"`
	ReviewerID   string       `json:"reviewerId"`
	Action       Action       `json:"action" enum:"approve,reject"`
	Decision     Decision     `json:"decision" enum:"pass,conditional_pass,fail"`
	Reason       string       `json:"reason,omitempty"`
	EvidenceRefs []string     `json:"evidenceRefs,omitempty"`
	Accepted     bool         `json:"accepted"`
	CreatedAt    string       `json:"createdAt" format:"date-time"`
}

type RenderRequest struct {
	ID          string       `json:"id"`
	RunID       string       `json:"runId"`
	Format      RenderFormat `json:"format" enum:"html,pdf"`
	Status      string       `json:"status"`
	RequestedBy string       `json:"requestedBy"`
	CreatedAt   string       `json:"createdAt" format:"date-time"`
}

type ShareInvite struct {
	ID               string       `json:"id"`
	RunID            string       `json:"runId"`
	Email            string       `json:"email"`
	Permission       Permission   `json:"permission" enum:"view,review"`
	Status           InviteStatus `json:"status" enum:"pending,accepted,revoked,expired"`
	InvitedByUserID  string       `json:"invitedByUserId"`
	AcceptedByUserID string       `json:"acceptedByUserId,omitempty"`
	CreatedAt        string       `json:"createdAt" format:"date-time"`
	UpdatedAt        string       `json:"updatedAt" format:"date-time"`
	ExpiresAt        string       `json:"expiresAt" format:"date-time"`
}

type Bot struct {
	ID               string           `json:"id"`
	TenantID         string           `json:"tenantId"`
	OwnerUserID      string           `json:"ownerUserId"`
	Name             string           `json:"name"`
	Status           BotStatus        `json:"status" enum:"active,revoked"`
	RegistrationPath RegistrationPath `json:"registrationPath" enum:"invite_code_trial,partner_bootstrap"`
	TrialExpiresAt   string           `json:"trialExpiresAt,omitempty" format:"date-time"`
	CreatedAt        string           `json:"createdAt" format:"date-time"`
}

// BotAPIKey never carries the raw key; KeyHash is the SHA-256 of the secret part.
type BotAPIKey struct {
	ID        string       `json:"id"`
	BotID     string       `json:"botId"`
	KeyPrefix string       `json:"keyPrefix"`
	Status    BotKeyStatus `json:"status" enum:"active,rotated,revoked"`
	KeyHash   string       `json:"-"`
	CreatedAt string       `json:"createdAt" format:"date-time"`
	RevokedAt string       `json:"revokedAt,omitempty" format:"date-time"`
}

type Baseline struct {
	ID              string   `json:"id"`
	RunID           string   `json:"runId"`
	TenantID        string   `json:"tenantId"`
	CreatedByUserID string   `json:"createdByUserId"`
	Profile         string   `json:"profile"`
	MetricDriftPct  float64  `json:"metricDriftPct"`
	FinalDecision   Decision `json:"finalDecision" enum:"pass,conditional_pass,fail"`
	CreatedAt       string   `json:"createdAt" format:"date-time"`
}

type ReplayGate struct {
	ID                      string     `json:"id"`
	BaselineID              string     `json:"baselineId"`
	CandidateRunID          string     `json:"candidateRunId"`
	Decision                GateStatus `json:"decision" enum:"pass,fail"`
	MergeGateStatus         GateStatus `json:"mergeGateStatus" enum:"pass,fail"`
	ReleaseGateStatus       GateStatus `json:"releaseGateStatus" enum:"pass,fail"`
	MetricDriftDeltaPct     float64    `json:"metricDriftDeltaPct"`
	MetricDriftThresholdPct float64    `json:"metricDriftThresholdPct"`
	ThresholdBreached       bool       `json:"thresholdBreached"`
	Reasons                 []string   `json:"reasons"`
	CreatedByUserID         string     `json:"createdByUserId"`
	CreatedAt               string     `json:"createdAt" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	TenantID   string `json:"tenantId,omitempty"`
	EntityKind string `json:"entityKind"`
	EntityID   string `json:"entityId,omitempty"`
	ActorID    string `json:"actorId"`
	Payload    string `json:"payloadJson"`
}

// IdempotencyRecord is a stored write response keyed by (tenant, actor, endpoint, key).
// StatusCode 0 marks a reservation whose request is still in flight.
type IdempotencyRecord struct {
	TenantID     string
	ActorID      string
	Endpoint     string
	Key          string
	RequestHash  string
	StatusCode   int
	ResponseBody []byte
	CreatedAt    string
}
