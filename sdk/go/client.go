// Package tnxgatesdk is a small client for the tnxgate HTTP API, aimed at
// bots that submit runs and gate merges on replay results.
package tnxgatesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	headerAPIKey      = "X-Api-Key"
	headerIdempotency = "Idempotency-Key"
)

// Client calls the API with a bot key or a bearer token. Writes carry an
// Idempotency-Key that stays the same across retries of one call.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *retryablehttp.Client
}

// New creates a client for baseURL, e.g. https://gate.example.com/v1.
func New(baseURL string) *Client {
	hc := retryablehttp.NewClient()
	hc.HTTPClient.Timeout = 30 * time.Second
	hc.RetryMax = 3
	hc.Logger = nil
	return &Client{BaseURL: baseURL, HTTPClient: hc}
}

type StrategyRef struct {
	StrategyID  string `json:"strategyId"`
	Provider    string `json:"provider,omitempty"`
	ProviderRef string `json:"providerRef,omitempty"`
}

type Inputs struct {
	Prompt              string   `json:"prompt,omitempty"`
	RequestedIndicators []string `json:"requestedIndicators"`
	DatasetRefs         []string `json:"datasetRefs"`
	BacktestReportRef   string   `json:"backtestReportRef"`
}

type Outputs struct {
	CodeRef   string   `json:"codeRef,omitempty"`
	ReportRef string   `json:"reportRef,omitempty"`
	TradesRef string   `json:"tradesRef,omitempty"`
	LogsRef   string   `json:"logsRef,omitempty"`
	ChartRefs []string `json:"chartRefs,omitempty"`
}

type CreateRunRequest struct {
	StrategyRef StrategyRef `json:"strategyRef"`
	Profile     string      `json:"profile,omitempty"`
	Inputs      Inputs      `json:"inputs"`
	Outputs     Outputs     `json:"outputs"`
}

// Run is the validation run model (partial).
type Run struct {
	ID            string `json:"runId"`
	TenantID      string `json:"tenantId"`
	Status        string `json:"status"`
	Profile       string `json:"profile"`
	FinalDecision string `json:"finalDecision,omitempty"`
	TraderReview  string `json:"traderReviewStatus"`
	Version       int64  `json:"version"`
}

// Terminal reports whether the run reached completed or failed.
func (r Run) Terminal() bool {
	return r.Status == "completed" || r.Status == "failed"
}

type Baseline struct {
	ID             string  `json:"id"`
	RunID          string  `json:"runId"`
	MetricDriftPct float64 `json:"metricDriftPct"`
}

type ReplayGate struct {
	ID                      string   `json:"id"`
	BaselineID              string   `json:"baselineId"`
	CandidateRunID          string   `json:"candidateRunId"`
	Decision                string   `json:"decision"`
	MergeGateStatus         string   `json:"mergeGateStatus"`
	ReleaseGateStatus       string   `json:"releaseGateStatus"`
	MetricDriftDeltaPct     float64  `json:"metricDriftDeltaPct"`
	MetricDriftThresholdPct float64  `json:"metricDriftThresholdPct"`
	ThresholdBreached       bool     `json:"thresholdBreached"`
	Reasons                 []string `json:"reasons"`
}

// APIError is a non-2xx response in the service error envelope.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
	RequestID  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tnxgate: %d %s: %s (request %s)", e.StatusCode, e.Code, e.Message, e.RequestID)
}

// CreateRun submits a run. The returned run is queued.
func (c *Client) CreateRun(ctx context.Context, req CreateRunRequest) (Run, error) {
	var run Run
	err := c.do(ctx, http.MethodPost, "runs", req, &run)
	return run, err
}

func (c *Client) GetRun(ctx context.Context, runID string) (Run, error) {
	var run Run
	err := c.do(ctx, http.MethodGet, "runs/"+url.PathEscape(runID), nil, &run)
	return run, err
}

// WaitRun polls until the run is terminal or waiting on a trader.
func (c *Client) WaitRun(ctx context.Context, runID string, every time.Duration) (Run, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		run, err := c.GetRun(ctx, runID)
		if err != nil || run.Terminal() || run.TraderReview == "requested" {
			return run, err
		}
		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) CreateBaseline(ctx context.Context, runID string) (Baseline, error) {
	var b Baseline
	err := c.do(ctx, http.MethodPost, "baselines", map[string]string{"runId": runID}, &b)
	return b, err
}

// Replay gates a candidate run against a baseline.
func (c *Client) Replay(ctx context.Context, baselineID, candidateRunID string) (ReplayGate, error) {
	var g ReplayGate
	endpoint := "baselines/" + url.PathEscape(baselineID) + "/replays"
	err := c.do(ctx, http.MethodPost, endpoint, map[string]string{"candidateRunId": candidateRunID}, &g)
	return g, err
}

func (c *Client) GetReplay(ctx context.Context, replayID string) (ReplayGate, error) {
	var g ReplayGate
	err := c.do(ctx, http.MethodGet, "replays/"+url.PathEscape(replayID), nil, &g)
	return g, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
	}
	target := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if method == http.MethodPost {
		req.Header.Set(headerIdempotency, uuid.NewString())
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set(headerAPIKey, c.APIKey)
	}
	client := c.HTTPClient
	if client == nil {
		client = New(c.BaseURL).HTTPClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var env struct {
			Error     *APIError `json:"error"`
			RequestID string    `json:"requestId"`
		}
		if json.Unmarshal(data, &env) == nil && env.Error != nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		apiErr.RequestID = env.RequestID
		return apiErr
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}
