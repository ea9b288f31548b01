package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"tnxgate/internal/domain"
	"tnxgate/internal/metrics"
)

const maxResponseBytes = 1 << 20

// HTTPConfig configures the HTTP reviewer transport.
type HTTPConfig struct {
	Endpoint       string
	APIKey         string
	AttemptTimeout time.Duration
	RetryMax       int
	RetryWaitMin   time.Duration
	RetryWaitMax   time.Duration
	RatePerSecond  float64
}

// DefaultHTTPConfig returns conservative transport defaults.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		AttemptTimeout: 60 * time.Second,
		RetryMax:       3,
		RetryWaitMin:   200 * time.Millisecond,
		RetryWaitMax:   5 * time.Second,
		RatePerSecond:  5,
	}
}

// HTTP posts review requests to an external reviewer with bounded retries.
type HTTP struct {
	endpoint string
	apiKey   string
	client   *retryablehttp.Client
	limiter  *rate.Limiter
	log      *logrus.Entry
}

func NewHTTP(cfg HTTPConfig, log *logrus.Logger) *HTTP {
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	entry := log.WithField("component", "agent")

	client := retryablehttp.NewClient()
	client.HTTPClient.Timeout = cfg.AttemptTimeout
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = cfg.RetryWaitMin
	client.RetryWaitMax = cfg.RetryWaitMax
	client.Backoff = retryablehttp.DefaultBackoff
	client.CheckRetry = transientOnly
	client.Logger = nil
	client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			entry.WithField("attempt", attempt).Warn("Retrying agent review request")
		}
	}

	limit := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		limit = rate.Inf
	}
	return &HTTP{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   client,
		limiter:  rate.NewLimiter(limit, 1),
		log:      entry,
	}
}

// transientOnly retries transport errors and 5xx responses. Budget expiry,
// 4xx and malformed bodies are never retried.
func transientOnly(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	if resp.StatusCode >= 500 && resp.StatusCode != http.StatusNotImplemented {
		return true, nil
	}
	return false, nil
}

type wireFinding struct {
	Priority     string   `json:"priority"`
	Confidence   float64  `json:"confidence"`
	Message      string   `json:"message"`
	EvidenceRefs []string `json:"evidenceRefs"`
}

type wireResponse struct {
	Status   domain.AgentStatus `json:"status"`
	Summary  string             `json:"summary"`
	Findings []wireFinding      `json:"findings"`
	Usage    struct {
		Tokens  int     `json:"tokens"`
		CostUSD float64 `json:"costUsd"`
	} `json:"usage"`
	BudgetExceeded bool `json:"budgetExceeded"`
}

func (h *HTTP) Review(ctx context.Context, req Request) (domain.AgentReview, error) {
	start := time.Now()
	review, err := h.review(ctx, req)
	metrics.RecordAgentReview(string(review.Status), review.Budget.WithinBudget, time.Since(start).Seconds())
	if err != nil {
		h.log.WithFields(logrus.Fields{"run_id": req.RunID, "error": err.Error()}).Error("Agent review failed")
	}
	return review, err
}

func (h *HTTP) review(ctx context.Context, req Request) (domain.AgentReview, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	if req.RequestedIndicators == nil {
		req.RequestedIndicators = []string{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return failed(req.Budget, domain.BudgetUsage{}, true, "encode review request failed", req.EvidenceRefs),
			fmt.Errorf("%w: encode request: %v", domain.ErrUpstreamUnavailable, err)
	}

	if err := h.limiter.Wait(ctx); err != nil {
		return h.budgetOrUpstream(ctx, req, fmt.Errorf("rate limiter: %w", err))
	}
	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return failed(req.Budget, domain.BudgetUsage{}, true, "agent endpoint misconfigured", req.EvidenceRefs),
			fmt.Errorf("%w: build request: %v", domain.ErrUpstreamUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return h.budgetOrUpstream(ctx, req, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return h.budgetOrUpstream(ctx, req, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("agent reviewer rejected the request with status %d", resp.StatusCode)
		return failed(req.Budget, domain.BudgetUsage{}, true, msg, req.EvidenceRefs),
			fmt.Errorf("%w: status %d", domain.ErrUpstreamUnavailable, resp.StatusCode)
	}

	var wire wireResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return failed(req.Budget, domain.BudgetUsage{}, true, "agent reviewer returned a malformed response", req.EvidenceRefs),
			fmt.Errorf("%w: malformed response: %v", domain.ErrUpstreamUnavailable, err)
	}
	usage := domain.BudgetUsage{Tokens: wire.Usage.Tokens, CostUSD: wire.Usage.CostUSD}
	budget := budgetFor(req.Budget, usage)
	if wire.BudgetExceeded || !budget.WithinBudget {
		review := failed(req.Budget, usage, false, "agent review aborted: budget exceeded", req.EvidenceRefs)
		return review, nil
	}
	if !wire.Status.Valid() {
		return failed(req.Budget, usage, true, fmt.Sprintf("agent reviewer returned unknown status %q", wire.Status), req.EvidenceRefs),
			fmt.Errorf("%w: unknown status %q", domain.ErrUpstreamUnavailable, wire.Status)
	}

	findings := make([]domain.Finding, 0, len(wire.Findings))
	for _, f := range wire.Findings {
		findings = append(findings, domain.Finding{
			Priority:     normalizePriority(f.Priority),
			Confidence:   clamp01(f.Confidence),
			Message:      f.Message,
			EvidenceRefs: f.EvidenceRefs,
		})
	}
	return domain.AgentReview{
		Status:   wire.Status,
		Summary:  wire.Summary,
		Findings: findings,
		Budget:   budget,
	}, nil
}

// budgetOrUpstream classifies a transport failure. When the review budget
// deadline fired, the review stops as over budget; otherwise retries were
// exhausted and the upstream is reported unavailable.
func (h *HTTP) budgetOrUpstream(ctx context.Context, req Request, cause error) (domain.AgentReview, error) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return failed(req.Budget, domain.BudgetUsage{}, false, "agent review aborted: time budget exceeded", req.EvidenceRefs), nil
	}
	return failed(req.Budget, domain.BudgetUsage{}, true, "agent reviewer unavailable after retries", req.EvidenceRefs),
		fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, cause)
}

func normalizePriority(p string) string {
	switch p {
	case "low", "medium", "high":
		return p
	}
	return "medium"
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
