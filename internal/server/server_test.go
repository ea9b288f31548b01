package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tnxgate/internal/agent"
	"tnxgate/internal/blob"
	"tnxgate/internal/config"
	"tnxgate/internal/domain"
	"tnxgate/internal/engine"
	"tnxgate/internal/idempotency"
	"tnxgate/internal/testutil"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	Store  *blob.Memory
	client *http.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.Bots.InviteCodes = []string{"TRIAL-2026"}
	store := blob.NewMemory()
	e := engine.New(testutil.OpenDB(t), cfg, engine.Options{
		Store:    store,
		Reviewer: agent.Static{Status: domain.AgentConditionalPass, Summary: "check slippage"},
	})
	handler, err := New(Config{
		Engine:      e,
		BasePath:    "/v1",
		Auth:        AuthConfig{JWTSecret: testSecret},
		Idempotency: idempotency.NewStore(e.Repo, time.Hour),
	})
	require.NoError(t, err)

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
	})
	return &testServer{URL: "http://" + ln.Addr().String() + "/v1", Engine: e, Store: store, client: &http.Client{}}
}

type user struct {
	sub, tenant, email string
}

var (
	alice   = user{"u-alice", "t1", "alice@example.com"}
	bob     = user{"u-bob", "t2", "bob@example.com"}
	eve     = user{"u-eve", "t3", "eve@example.com"}
	mallory = user{"u-mallory", "t1", "mallory@example.com"}
)

func token(t *testing.T, u user) map[string]string {
	t.Helper()
	tok, err := SignToken(testSecret, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID:      u.tenant,
		Email:         u.email,
		EmailVerified: true,
	})
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + tok}
}

func withKey(h map[string]string, key string) map[string]string {
	out := map[string]string{idempotency.HeaderKey: key}
	for k, v := range h {
		out[k] = v
	}
	return out
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

type envelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
	RequestID string `json:"requestId"`
}

func decodeError(t *testing.T, data []byte) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env
}

func (s *testServer) createRun(t *testing.T, u user, profile, prefix string) domain.ValidationRun {
	t.Helper()
	inputs, outputs, err := testutil.Seed(context.Background(), s.Store, testutil.Evidence{Prefix: prefix})
	require.NoError(t, err)
	res, data := doJSON(t, s.client, http.MethodPost, s.URL+"/runs", map[string]any{
		"strategyRef": map[string]any{"strategyId": "strat-1", "provider": "internal"},
		"profile":     profile,
		"inputs":      inputs,
		"outputs":     outputs,
	}, withKey(token(t, u), "create-"+prefix))
	require.Equal(t, http.StatusAccepted, res.StatusCode, string(data))
	var run domain.ValidationRun
	require.NoError(t, json.Unmarshal(data, &run))
	assert.Equal(t, domain.RunQueued, run.Status)
	return run
}

func TestHealthNeedsNoAuth(t *testing.T) {
	s := newTestServer(t)
	res, data := doJSON(t, s.client, http.MethodGet, s.URL+"/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(data))
	assert.NotEmpty(t, res.Header.Get("X-Request-Id"))
}

func TestRequestsWithoutCredentialsAreRejected(t *testing.T) {
	s := newTestServer(t)

	res, data := doJSON(t, s.client, http.MethodGet, s.URL+"/runs", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	env := decodeError(t, data)
	assert.Equal(t, "unauthorized", env.Error.Code)
	assert.Equal(t, res.Header.Get("X-Request-Id"), env.RequestID)

	res, data = doJSON(t, s.client, http.MethodGet, s.URL+"/runs", nil, map[string]string{"Authorization": "Bearer nope"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", decodeError(t, data).Error.Code)

	other, err := SignToken("other-secret", Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: alice.sub},
		TenantID:         alice.tenant,
	})
	require.NoError(t, err)
	res, _ = doJSON(t, s.client, http.MethodGet, s.URL+"/runs", nil, map[string]string{"Authorization": "Bearer " + other})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := newTestServer(t)
	res, _ := doJSON(t, s.client, http.MethodGet, s.URL+"/me", nil, map[string]string{"X-Request-Id": "req-123"})
	assert.Equal(t, "req-123", res.Header.Get("X-Request-Id"))
}

func TestWritesRequireIdempotencyKey(t *testing.T) {
	s := newTestServer(t)
	res, data := doJSON(t, s.client, http.MethodPost, s.URL+"/runs", map[string]any{}, token(t, alice))
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	env := decodeError(t, data)
	assert.Equal(t, "idempotency_key_required", env.Error.Code)
	assert.NotEmpty(t, env.RequestID)
}

func TestIdempotencyKeyLengthMatchesOpenAPI(t *testing.T) {
	s := newTestServer(t)
	res, data := doJSON(t, s.client, http.MethodGet, s.URL+"/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var doc struct {
		Paths map[string]map[string]struct {
			Parameters []struct {
				Name   string `json:"name"`
				Schema struct {
					MaxLength int `json:"maxLength"`
				} `json:"schema"`
			} `json:"parameters"`
		} `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	maxLength := 0
	for _, param := range doc.Paths["/v1/runs"]["post"].Parameters {
		if param.Name == idempotency.HeaderKey {
			maxLength = param.Schema.MaxLength
		}
	}
	assert.Equal(t, idempotency.MaxKeyLength, maxLength)

	res, data = doJSON(t, s.client, http.MethodPost, s.URL+"/runs", map[string]any{}, withKey(token(t, alice), strings.Repeat("k", maxLength+1)))
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "idempotency_key_required", decodeError(t, data).Error.Code)

	res, data = doJSON(t, s.client, http.MethodPost, s.URL+"/runs", map[string]any{}, withKey(token(t, alice), strings.Repeat("k", maxLength)))
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.NotEqual(t, "idempotency_key_required", decodeError(t, data).Error.Code)
}

func TestCreateRunLifecycle(t *testing.T) {
	s := newTestServer(t)
	run := s.createRun(t, alice, "STANDARD", "runs/a")
	auth := token(t, alice)

	res, data := doJSON(t, s.client, http.MethodGet, s.URL+"/runs/"+run.ID, nil, auth)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var got domain.ValidationRun
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, domain.RunRunning, got.Status)
	assert.Equal(t, domain.TraderRequested, got.TraderReview)

	res, data = doJSON(t, s.client, http.MethodGet, s.URL+"/runs/"+run.ID+"/artifact", nil, auth)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var art domain.Artifact
	require.NoError(t, json.Unmarshal(data, &art))
	assert.Equal(t, run.ID, art.RunID)
	require.NotNil(t, art.DeterministicChecks)

	res, data = doJSON(t, s.client, http.MethodGet, s.URL+"/runs", nil, auth)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var list RunList
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, run.ID, list.Items[0].ID)
}

func TestCreateRunErrors(t *testing.T) {
	s := newTestServer(t)
	res, data := doJSON(t, s.client, http.MethodPost, s.URL+"/runs", map[string]any{
		"strategyRef": map[string]any{"strategyId": "s"},
		"profile":     "NOPE",
	}, withKey(token(t, alice), "bad-profile"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "invalid_policy", decodeError(t, data).Error.Code)

	res, data = doJSON(t, s.client, http.MethodPost, s.URL+"/runs", map[string]any{
		"strategyRef": map[string]any{"strategyId": "s"},
	}, withKey(token(t, alice), "no-inputs"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "invalid_inputs", decodeError(t, data).Error.Code)
}

func TestUnknownAndForeignRunsAreNotFound(t *testing.T) {
	s := newTestServer(t)
	run := s.createRun(t, alice, "STANDARD", "runs/a")

	res, data := doJSON(t, s.client, http.MethodGet, s.URL+"/runs/"+run.ID, nil, token(t, eve))
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not_found", decodeError(t, data).Error.Code)

	res, _ = doJSON(t, s.client, http.MethodGet, s.URL+"/runs/run_missing/artifact", nil, token(t, alice))
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestSubmitDecisionIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	run := s.createRun(t, alice, "STANDARD", "runs/a")
	body := map[string]any{
		"reviewerType": "trader",
		"action":       "approve",
		"decision":     "pass",
		"reason":       "fills reconcile",
	}
	headers := withKey(token(t, alice), "decision-1")

	first, firstBody := doJSON(t, s.client, http.MethodPost, s.URL+"/runs/"+run.ID+"/decisions", body, headers)
	require.Equal(t, http.StatusAccepted, first.StatusCode, string(firstBody))
	assert.Empty(t, first.Header.Get(idempotency.HeaderReplayed))
	var resp DecisionResponse
	require.NoError(t, json.Unmarshal(firstBody, &resp))
	assert.True(t, resp.Decision.Accepted)
	assert.Equal(t, domain.RunCompleted, resp.Run.Status)
	require.NotNil(t, resp.Run.FinalDecision)
	assert.Equal(t, domain.DecisionConditionalPass, *resp.Run.FinalDecision)

	again, againBody := doJSON(t, s.client, http.MethodPost, s.URL+"/runs/"+run.ID+"/decisions", body, headers)
	require.Equal(t, http.StatusAccepted, again.StatusCode)
	assert.Equal(t, "true", again.Header.Get(idempotency.HeaderReplayed))
	assert.Equal(t, firstBody, againBody)

	body["decision"] = "conditional_pass"
	reused, reusedBody := doJSON(t, s.client, http.MethodPost, s.URL+"/runs/"+run.ID+"/decisions", body, headers)
	require.Equal(t, http.StatusConflict, reused.StatusCode)
	assert.Equal(t, "idempotency_key_reused", decodeError(t, reusedBody).Error.Code)

	late, lateBody := doJSON(t, s.client, http.MethodPost, s.URL+"/runs/"+run.ID+"/decisions", body, withKey(token(t, alice), "decision-2"))
	require.Equal(t, http.StatusConflict, late.StatusCode)
	assert.Equal(t, "invalid_state", decodeError(t, lateBody).Error.Code)
}

func TestIdempotentReplayStaysWithTheCaller(t *testing.T) {
	s := newTestServer(t)
	run := s.createRun(t, alice, "STANDARD", "runs/a")
	body := map[string]any{
		"reviewerType": "trader",
		"action":       "approve",
		"decision":     "pass",
		"reason":       "fills reconcile",
	}
	first, firstBody := doJSON(t, s.client, http.MethodPost, s.URL+"/runs/"+run.ID+"/decisions", body, withKey(token(t, alice), "decision-1"))
	require.Equal(t, http.StatusAccepted, first.StatusCode, string(firstBody))

	res, data := doJSON(t, s.client, http.MethodGet, s.URL+"/runs/"+run.ID, nil, token(t, mallory))
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))

	res, data = doJSON(t, s.client, http.MethodPost, s.URL+"/runs/"+run.ID+"/decisions", body, withKey(token(t, mallory), "decision-1"))
	assert.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
	assert.Empty(t, res.Header.Get(idempotency.HeaderReplayed))
	assert.Equal(t, "not_found", decodeError(t, data).Error.Code)
}

func TestSubmitDecisionSchemaValidation(t *testing.T) {
	s := newTestServer(t)
	run := s.createRun(t, alice, "STANDARD", "runs/a")
	res, data := doJSON(t, s.client, http.MethodPost, s.URL+"/runs/"+run.ID+"/decisions", map[string]any{
		"action": "maybe",
	}, withKey(token(t, alice), "bad-action"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	env := decodeError(t, data)
	assert.NotEmpty(t, env.Error.Details["errors"])
}

func TestSharingOverHTTP(t *testing.T) {
	s := newTestServer(t)
	run := s.createRun(t, alice, "STANDARD", "runs/a")

	res, data := doJSON(t, s.client, http.MethodPost, s.URL+"/runs/"+run.ID+"/invites", map[string]any{
		"email":      bob.email,
		"permission": "review",
	}, withKey(token(t, alice), "invite-bob"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var inv domain.ShareInvite
	require.NoError(t, json.Unmarshal(data, &inv))
	assert.Equal(t, domain.InvitePending, inv.Status)

	res, data = doJSON(t, s.client, http.MethodPost, s.URL+"/invites/"+inv.ID+"/accept", nil, withKey(token(t, eve), "accept-eve"))
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))

	res, data = doJSON(t, s.client, http.MethodPost, s.URL+"/invites/"+inv.ID+"/accept", nil, withKey(token(t, bob), "accept-bob"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, s.client, http.MethodGet, s.URL+"/shared-with-me", nil, token(t, bob))
	require.Equal(t, http.StatusOK, res.StatusCode)
	var shared RunList
	require.NoError(t, json.Unmarshal(data, &shared))
	require.Len(t, shared.Items, 1)
	assert.Equal(t, run.ID, shared.Items[0].ID)

	res, data = doJSON(t, s.client, http.MethodPost, s.URL+"/runs/"+run.ID+"/comments", map[string]any{
		"body": "slippage looks light on the MSFT short",
	}, withKey(token(t, bob), "comment-1"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	res, data = doJSON(t, s.client, http.MethodGet, s.URL+"/runs/"+run.ID+"/invites", nil, token(t, bob))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
	assert.Equal(t, "forbidden", decodeError(t, data).Error.Code)
}

func TestBotKeyAuthentication(t *testing.T) {
	s := newTestServer(t)
	auth := token(t, alice)

	res, data := doJSON(t, s.client, http.MethodPost, s.URL+"/bots", map[string]any{
		"name":             "nightly",
		"registrationPath": "invite_code_trial",
		"inviteCode":       "TRIAL-2026",
	}, withKey(auth, "bot-1"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var bot domain.Bot
	require.NoError(t, json.Unmarshal(data, &bot))

	res, data = doJSON(t, s.client, http.MethodPost, s.URL+"/bots/"+bot.ID+"/keys", nil, withKey(auth, "key-1"))
	require.Equal(t, http.StatusAccepted, res.StatusCode, string(data))
	var issued engine.IssuedKey
	require.NoError(t, json.Unmarshal(data, &issued))
	require.NotEmpty(t, issued.RawKey)

	// Responses carrying a raw key are never kept for replay.
	var stored int
	require.NoError(t, s.Engine.Repo.DB.QueryRow(`SELECT COUNT(*) FROM idempotency_keys WHERE response_body LIKE ?`, "%"+issued.RawKey+"%").Scan(&stored))
	assert.Zero(t, stored)

	res, data = doJSON(t, s.client, http.MethodGet, s.URL+"/me", nil, map[string]string{HeaderAPIKey: issued.RawKey})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me WhoAmIResponse
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, bot.ID, me.BotID)
	assert.Equal(t, alice.sub, me.UserID)
	assert.Equal(t, "bot_key", me.Source)

	res, data = doJSON(t, s.client, http.MethodPost, s.URL+"/bots/"+bot.ID+"/keys/rotate", nil,
		map[string]string{HeaderAPIKey: issued.RawKey, idempotency.HeaderKey: "bot-rotates"})
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	res, data = doJSON(t, s.client, http.MethodPost, s.URL+"/bots/"+bot.ID+"/keys/rotate", nil, withKey(auth, "rotate-1"))
	require.Equal(t, http.StatusAccepted, res.StatusCode, string(data))
	var rotated engine.IssuedKey
	require.NoError(t, json.Unmarshal(data, &rotated))
	assert.NotEqual(t, issued.RawKey, rotated.RawKey)

	res, data = doJSON(t, s.client, http.MethodGet, s.URL+"/me", nil, map[string]string{HeaderAPIKey: issued.RawKey})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	env := decodeError(t, data)
	assert.Equal(t, "invalid_credentials", env.Error.Code)
	assert.NotContains(t, string(data), issued.RawKey)

	res, _ = doJSON(t, s.client, http.MethodGet, s.URL+"/me", nil, map[string]string{HeaderAPIKey: rotated.RawKey})
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestReplayOverHTTP(t *testing.T) {
	s := newTestServer(t)
	auth := token(t, alice)
	base := s.createRun(t, alice, "FAST", "runs/base")
	cand := s.createRun(t, alice, "FAST", "runs/cand")

	res, data := doJSON(t, s.client, http.MethodPost, s.URL+"/baselines", map[string]any{"runId": base.ID}, withKey(auth, "baseline-1"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var baseline domain.Baseline
	require.NoError(t, json.Unmarshal(data, &baseline))

	res, data = doJSON(t, s.client, http.MethodPost, s.URL+"/baselines/"+baseline.ID+"/replays", map[string]any{"candidateRunId": cand.ID}, withKey(auth, "replay-1"))
	require.Equal(t, http.StatusAccepted, res.StatusCode, string(data))
	var gate domain.ReplayGate
	require.NoError(t, json.Unmarshal(data, &gate))
	assert.False(t, gate.ThresholdBreached)
	assert.Equal(t, domain.GatePass, gate.MergeGateStatus)
	// FAST blocks release until the agent passes outright.
	assert.Equal(t, domain.GateFail, gate.ReleaseGateStatus)
	assert.Equal(t, domain.GateFail, gate.Decision)

	res, data = doJSON(t, s.client, http.MethodGet, s.URL+"/replays/"+gate.ID, nil, auth)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, s.client, http.MethodGet, s.URL+"/baselines/"+baseline.ID+"/replays", nil, auth)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var list ReplayList
	require.NoError(t, json.Unmarshal(data, &list))
	assert.Len(t, list.Items, 1)

	res, _ = doJSON(t, s.client, http.MethodGet, s.URL+"/baselines/"+baseline.ID, nil, token(t, eve))
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestProfilesAndOpenAPI(t *testing.T) {
	s := newTestServer(t)
	res, data := doJSON(t, s.client, http.MethodGet, s.URL+"/profiles", nil, token(t, alice))
	require.Equal(t, http.StatusOK, res.StatusCode)
	var profiles ProfilesResponse
	require.NoError(t, json.Unmarshal(data, &profiles))
	assert.Equal(t, "STANDARD", profiles.DefaultProfile)
	assert.Len(t, profiles.Profiles, 4)

	res, data = doJSON(t, s.client, http.MethodGet, s.URL+"/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "/v1/runs/{runId}/decisions")
	assert.Contains(t, string(data), idempotency.HeaderKey)
}

func TestWebhookDispatcherDeliversNewEvents(t *testing.T) {
	var (
		mu    sync.Mutex
		types []string
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		if err := json.NewDecoder(r.Body).Decode(&evt); err == nil {
			mu.Lock()
			types = append(types, r.Header.Get("X-Tnxgate-Event"))
			mu.Unlock()
			assert.Equal(t, "shh", r.Header.Get("X-Tnxgate-Secret"))
			assert.Equal(t, evt.Type, r.Header.Get("X-Tnxgate-Event"))
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	s := newTestServer(t)
	s.Engine.Config.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{"run.created"}, Secret: "shh"}}
	d := newWebhookDispatcher(s.Engine, nil)
	require.NotNil(t, d)

	s.createRun(t, alice, "FAST", "runs/before")
	d.dispatchAll(context.Background())

	s.createRun(t, alice, "FAST", "runs/after")
	d.dispatchAll(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"run.created"}, types)
}

func TestIssuesRawKeyMatchesKeyRoutes(t *testing.T) {
	for path, want := range map[string]bool{
		"/v1/bots/b1/keys":        true,
		"/v1/bots/b1/keys/rotate": true,
		"/v1/bots":                false,
		"/v1/bot-keys/k1/revoke":  false,
	} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(""))
		assert.Equal(t, want, issuesRawKey(req), path)
	}
}
