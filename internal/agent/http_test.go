package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tnxgate/internal/domain"
)

func testConfig(url string) HTTPConfig {
	return HTTPConfig{
		Endpoint:       url,
		APIKey:         "agent-secret",
		AttemptTimeout: 2 * time.Second,
		RetryMax:       2,
		RetryWaitMin:   time.Millisecond,
		RetryWaitMax:   5 * time.Millisecond,
		RatePerSecond:  1000,
	}
}

func testRequest() Request {
	return Request{
		RunID:               "run_1",
		Profile:             "STANDARD",
		RequestedIndicators: []string{"RSI"},
		EvidenceRefs:        []string{"runs/r1/strategy.py"},
		Budget:              domain.BudgetLimits{MaxTokens: 1000, MaxCostUSD: 1},
	}
}

func TestHTTPReviewSuccess(t *testing.T) {
	var gotAuth string
	var gotBody Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"status":"conditional_pass","summary":"ok with caveats",
			"findings":[{"priority":"medium","confidence":0.7,"message":"thin sample","evidenceRefs":["runs/r1/trades.json"]}],
			"usage":{"tokens":420,"costUsd":0.12}}`))
	}))
	defer srv.Close()

	review, err := NewHTTP(testConfig(srv.URL), nil).Review(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "Bearer agent-secret", gotAuth)
	assert.Equal(t, "run_1", gotBody.RunID)
	assert.Equal(t, domain.AgentConditionalPass, review.Status)
	require.Len(t, review.Findings, 1)
	assert.Equal(t, "medium", review.Findings[0].Priority)
	assert.True(t, review.Budget.WithinBudget)
	assert.Equal(t, 420, review.Budget.Usage.Tokens)
}

func TestHTTPReviewRetriesTransient(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"pass","summary":"fine","findings":[],"usage":{"tokens":10,"costUsd":0.01}}`))
	}))
	defer srv.Close()

	review, err := NewHTTP(testConfig(srv.URL), nil).Review(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.AgentPass, review.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestHTTPReviewPermanentFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	review, err := NewHTTP(testConfig(srv.URL), nil).Review(context.Background(), testRequest())
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.NotContains(t, err.Error(), "agent-secret")
	assert.Equal(t, domain.AgentFail, review.Status)
	require.Len(t, review.Findings, 1)
	assert.Equal(t, "high", review.Findings[0].Priority)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestHTTPReviewDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	review, err := NewHTTP(testConfig(srv.URL), nil).Review(context.Background(), testRequest())
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Equal(t, domain.AgentFail, review.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestHTTPReviewMalformedNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"status":`))
	}))
	defer srv.Close()

	review, err := NewHTTP(testConfig(srv.URL), nil).Review(context.Background(), testRequest())
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Equal(t, domain.AgentFail, review.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestHTTPReviewBudgetExceeded(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"status":"pass","summary":"","findings":[],"usage":{"tokens":5000,"costUsd":0.5}}`))
	}))
	defer srv.Close()

	review, err := NewHTTP(testConfig(srv.URL), nil).Review(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.AgentFail, review.Status)
	assert.False(t, review.Budget.WithinBudget)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestHTTPReviewTimeBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	req := testRequest()
	req.Timeout = 50 * time.Millisecond
	review, err := NewHTTP(testConfig(srv.URL), nil).Review(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.AgentFail, review.Status)
	assert.False(t, review.Budget.WithinBudget)
}

func TestStaticReviewer(t *testing.T) {
	review, err := Static{Status: domain.AgentPass}.Review(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.AgentPass, review.Status)
	assert.True(t, review.Budget.WithinBudget)
	assert.NotNil(t, review.Findings)

	review, err = Static{}.Review(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.AgentConditionalPass, review.Status)
}
