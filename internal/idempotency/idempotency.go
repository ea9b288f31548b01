// Package idempotency replays stored responses for repeated write requests.
package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"tnxgate/internal/domain"
	"tnxgate/internal/metrics"
	"tnxgate/internal/repo"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotent-Replayed"
	MaxKeyLength   = 255
)

// Outcome of a reservation attempt.
type Outcome int

const (
	Reserved Outcome = iota
	Replay
	InProgress
	Reused
)

// Store fronts the idempotency_keys table with an in-memory cache of completed records.
type Store struct {
	Repo repo.Repo
	TTL  time.Duration
	Now  func() time.Time
	// Unrecorded matches requests whose responses carry secrets. They still
	// need a key but their responses are never stored or replayed.
	Unrecorded func(r *http.Request) bool

	cache *cache.Cache
}

func NewStore(r repo.Repo, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{Repo: r, TTL: ttl, Now: time.Now, cache: cache.New(ttl, ttl*2)}
}

// Scope identifies who sent a write. Keys never cross scopes, so a stored
// response is only replayed to the caller that produced it.
type Scope struct {
	TenantID string
	ActorID  string
}

func cacheKey(rec domain.IdempotencyRecord) string {
	return rec.TenantID + "\x00" + rec.ActorID + "\x00" + rec.Endpoint + "\x00" + rec.Key
}

// HashBody returns the hex SHA-256 of a request body.
func HashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Reserve claims (scope, endpoint, key) for a request with the given hash.
// When the key is already known it returns the stored record and how to treat it.
func (s *Store) Reserve(ctx context.Context, scope Scope, endpoint, key, hash string) (domain.IdempotencyRecord, Outcome, error) {
	want := domain.IdempotencyRecord{
		TenantID:    scope.TenantID,
		ActorID:     scope.ActorID,
		Endpoint:    endpoint,
		Key:         key,
		RequestHash: hash,
		CreatedAt:   domain.FormatTime(s.Now()),
	}
	if v, ok := s.cache.Get(cacheKey(want)); ok {
		rec := v.(domain.IdempotencyRecord)
		return rec, classify(rec, hash), nil
	}
	rec, reserved, err := s.Repo.ReserveIdempotencyKey(ctx, want)
	if err != nil {
		return rec, Reserved, err
	}
	if reserved {
		return rec, Reserved, nil
	}
	if rec.StatusCode != 0 {
		s.cache.SetDefault(cacheKey(rec), rec)
	}
	return rec, classify(rec, hash), nil
}

func classify(rec domain.IdempotencyRecord, hash string) Outcome {
	if rec.RequestHash != hash {
		return Reused
	}
	if rec.StatusCode == 0 {
		return InProgress
	}
	return Replay
}

// Complete stores the response for a reservation. Server errors release the
// key instead so the client may retry.
func (s *Store) Complete(ctx context.Context, rec domain.IdempotencyRecord, status int, body []byte) error {
	if status >= http.StatusInternalServerError {
		return s.Repo.ReleaseIdempotencyKey(ctx, rec)
	}
	if err := s.Repo.CompleteIdempotencyKey(ctx, rec, status, body); err != nil {
		return err
	}
	rec.StatusCode = status
	rec.ResponseBody = body
	s.cache.SetDefault(cacheKey(rec), rec)
	return nil
}

// Purge deletes records older than the TTL and returns how many were removed.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	cutoff := domain.FormatTime(s.Now().Add(-s.TTL))
	return s.Repo.PurgeIdempotencyKeys(ctx, nil, cutoff)
}

// ScopeFunc resolves the tenant and actor of an authenticated request.
type ScopeFunc func(r *http.Request) (Scope, bool)

// ErrorWriter renders an error envelope.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, status int, code, message string)

// Middleware enforces Idempotency-Key on POST requests under basePath.
func Middleware(s *Store, basePath string, scopeOf ScopeFunc, writeErr ErrorWriter, log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || !strings.HasPrefix(r.URL.Path, basePath) {
				next.ServeHTTP(w, r)
				return
			}
			key := strings.TrimSpace(r.Header.Get(HeaderKey))
			if key == "" || len(key) > MaxKeyLength {
				writeErr(w, r, http.StatusBadRequest, "idempotency_key_required", "Idempotency-Key header is required on write requests")
				return
			}
			scope, ok := scopeOf(r)
			if !ok || (s.Unrecorded != nil && s.Unrecorded(r)) {
				next.ServeHTTP(w, r)
				return
			}
			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeErr(w, r, http.StatusBadRequest, "bad_request", "unreadable request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			endpoint := r.Method + " " + r.URL.Path

			rec, outcome, err := s.Reserve(r.Context(), scope, endpoint, key, HashBody(canonicalBody(body)))
			if err != nil {
				log.WithError(err).WithField("endpoint", endpoint).Error("idempotency reserve failed")
				writeErr(w, r, http.StatusInternalServerError, "internal_error", "internal error")
				return
			}
			switch outcome {
			case Replay:
				metrics.RecordIdempotentReplay()
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(HeaderReplayed, "true")
				w.WriteHeader(rec.StatusCode)
				_, _ = w.Write(rec.ResponseBody)
				return
			case InProgress:
				writeErr(w, r, http.StatusConflict, "idempotency_in_progress", "a request with this Idempotency-Key is still in progress")
				return
			case Reused:
				writeErr(w, r, http.StatusConflict, "idempotency_key_reused", "Idempotency-Key was already used with a different request body")
				return
			}

			rw := &recorder{ResponseWriter: w, status: http.StatusOK}
			completed := false
			defer func() {
				if completed {
					return
				}
				// Panics and aborted handlers release the reservation.
				_ = s.Repo.ReleaseIdempotencyKey(context.Background(), rec)
			}()
			next.ServeHTTP(rw, r)
			if err := s.Complete(r.Context(), rec, rw.status, rw.body.Bytes()); err != nil {
				log.WithError(err).WithField("endpoint", endpoint).Warn("idempotency complete failed")
				return
			}
			completed = true
		})
	}
}

// canonicalBody re-encodes JSON bodies so whitespace and key order do not
// change the request hash.
func canonicalBody(body []byte) []byte {
	var v any
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return body
	}
	out, err := json.Marshal(v)
	if err != nil {
		return body
	}
	return out
}

type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
	wrote  bool
}

func (r *recorder) WriteHeader(status int) {
	if !r.wrote {
		r.status = status
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(p []byte) (int, error) {
	if !r.wrote {
		r.wrote = true
	}
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}
