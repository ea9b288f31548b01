package server

import (
	"tnxgate/internal/config"
	"tnxgate/internal/domain"
	"tnxgate/internal/engine"
)

// Request payloads. Fields are optional at the schema level so the engine
// reports missing inputs with its own error codes.

type StrategyRefRequest struct {
	StrategyID  string `json:"strategyId,omitempty"`
	Provider    string `json:"provider,omitempty"`
	ProviderRef string `json:"providerRef,omitempty"`
}

type RunInputsRequest struct {
	Prompt              string   `json:"prompt,omitempty"`
	RequestedIndicators []string `json:"requestedIndicators,omitempty"`
	DatasetRefs         []string `json:"datasetRefs,omitempty"`
	BacktestReportRef   string   `json:"backtestReportRef,omitempty"`
}

type CreateRunRequest struct {
	StrategyRef StrategyRefRequest `json:"strategyRef,omitempty"`
	Profile     string             `json:"profile,omitempty" example:"STANDARD"`
	Inputs      RunInputsRequest   `json:"inputs,omitempty"`
	Outputs     domain.Outputs     `json:"outputs,omitempty"`
}

func (r CreateRunRequest) toEngine() engine.CreateRunRequest {
	return engine.CreateRunRequest{
		StrategyRef: domain.StrategyRef{
			StrategyID:  r.StrategyRef.StrategyID,
			Provider:    r.StrategyRef.Provider,
			ProviderRef: r.StrategyRef.ProviderRef,
		},
		Profile: r.Profile,
		Inputs: domain.Inputs{
			Prompt:              r.Inputs.Prompt,
			RequestedIndicators: r.Inputs.RequestedIndicators,
			DatasetRefs:         r.Inputs.DatasetRefs,
			BacktestReportRef:   r.Inputs.BacktestReportRef,
		},
		Outputs: r.Outputs,
	}
}

type AddCommentRequest struct {
	Body         string   `json:"body" minLength:"1"`
	EvidenceRefs []string `json:"evidenceRefs,omitempty"`
}

type SubmitDecisionRequest struct {
	ReviewerType string   `json:"reviewerType,omitempty" enum:"agent,trader"`
	Action       string   `json:"action" enum:"approve,reject"`
	Decision     string   `json:"decision,omitempty" enum:"pass,conditional_pass,fail"`
	Reason       string   `json:"reason,omitempty"`
	EvidenceRefs []string `json:"evidenceRefs,omitempty"`
	Comments     []string `json:"comments,omitempty"`
}

func (r SubmitDecisionRequest) toEngine() engine.DecisionRequest {
	return engine.DecisionRequest{
		ReviewerType: domain.ReviewerType(r.ReviewerType),
		Action:       domain.Action(r.Action),
		Decision:     domain.Decision(r.Decision),
		Reason:       r.Reason,
		EvidenceRefs: r.EvidenceRefs,
		Comments:     r.Comments,
	}
}

type RequestRenderRequest struct {
	Format string `json:"format" enum:"html,pdf"`
}

type CreateBaselineRequest struct {
	RunID string `json:"runId"`
}

type ReplayRequest struct {
	CandidateRunID string `json:"candidateRunId"`
}

type CreateInviteRequest struct {
	Email      string `json:"email"`
	Permission string `json:"permission" enum:"view,review"`
}

type RegisterBotRequest struct {
	Name             string `json:"name"`
	RegistrationPath string `json:"registrationPath" enum:"invite_code_trial,partner_bootstrap"`
	InviteCode       string `json:"inviteCode,omitempty"`
}

// Response payloads

type DecisionResponse struct {
	Decision domain.ReviewDecision `json:"decision"`
	Run      domain.ValidationRun  `json:"run"`
}

type RunList struct {
	Items []domain.ValidationRun `json:"items"`
}

type InviteList struct {
	Items []domain.ShareInvite `json:"items"`
}

type BotList struct {
	Items []domain.Bot `json:"items"`
}

type KeyList struct {
	Items []domain.BotAPIKey `json:"items"`
}

type ReplayList struct {
	Items []domain.ReplayGate `json:"items"`
}

type ProfileResponse struct {
	Name                    string             `json:"name"`
	Description             string             `json:"description,omitempty"`
	Flags                   domain.PolicyFlags `json:"flags"`
	AgentBudget             config.AgentBudget `json:"agentBudget"`
	MetricDriftThresholdPct float64            `json:"metricDriftThresholdPct"`
}

type ProfilesResponse struct {
	DefaultProfile string            `json:"defaultProfile"`
	Profiles       []ProfileResponse `json:"profiles"`
}

func profilesResponse(cfg *config.Config) ProfilesResponse {
	resp := ProfilesResponse{Profiles: []ProfileResponse{}}
	if cfg == nil {
		return resp
	}
	resp.DefaultProfile = cfg.DefaultProfile
	for _, name := range cfg.ProfileNames() {
		p, _ := cfg.Profile(name)
		resp.Profiles = append(resp.Profiles, ProfileResponse{
			Name:                    name,
			Description:             p.Description,
			Flags:                   p.Flags,
			AgentBudget:             p.AgentBudget,
			MetricDriftThresholdPct: p.ThresholdPct(),
		})
	}
	return resp
}

type WhoAmIResponse struct {
	UserID        string   `json:"userId"`
	TenantID      string   `json:"tenantId"`
	Email         string   `json:"email,omitempty"`
	EmailVerified bool     `json:"emailVerified"`
	Roles         []string `json:"roles"`
	BotID         string   `json:"botId,omitempty"`
	Source        string   `json:"source"`
}
