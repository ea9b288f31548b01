package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tnxgate/internal/agent"
	"tnxgate/internal/blob"
	"tnxgate/internal/checks"
	"tnxgate/internal/config"
	"tnxgate/internal/dispatch"
	"tnxgate/internal/domain"
	"tnxgate/internal/engine/auth"
	"tnxgate/internal/events"
	"tnxgate/internal/logger"
	"tnxgate/internal/repo"
)

type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Auth       auth.Service
	Config     *config.Config
	Checks     checks.Engine
	Reviewer   agent.Reviewer
	Dispatcher *dispatch.Dispatcher
	Log        *logrus.Logger
	Audit      *logger.AuditLogger
	Now        func() time.Time

	locks *keyedMutex
}

// Options are the collaborators New wires in. Nil fields get offline defaults.
type Options struct {
	Store      blob.Store
	Reviewer   agent.Reviewer
	Dispatcher *dispatch.Dispatcher
	Log        *logrus.Logger
}

func New(db *sql.DB, cfg *config.Config, opts Options) Engine {
	log := opts.Log
	if log == nil {
		log = logger.Discard()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	reviewer := opts.Reviewer
	if reviewer == nil {
		reviewer = agent.Static{}
	}
	store := opts.Store
	if store == nil {
		store = blob.NewMemory()
	}
	r := repo.Repo{DB: db}
	return Engine{
		DB:         db,
		Repo:       r,
		Events:     events.Writer{},
		Auth:       auth.Service{Repo: r},
		Config:     cfg,
		Checks:     checks.Engine{Store: store},
		Reviewer:   reviewer,
		Dispatcher: opts.Dispatcher,
		Log:        log,
		Audit:      logger.NewAuditLogger(log),
		Now:        time.Now,
		locks:      newKeyedMutex(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return domain.FormatTime(e.now())
}

func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

// lock serializes mutations of one run (or bot) across requests and lanes.
func (e Engine) lock(key string) func() {
	if e.locks == nil {
		return func() {}
	}
	return e.locks.Lock(key)
}

func newID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// loadRun fetches a run the caller can see at level want. Runs the caller
// cannot see at all are reported as not found.
func (e Engine) loadRun(ctx context.Context, tx *sql.Tx, p auth.Principal, runID string, want auth.Access) (domain.ValidationRun, auth.Access, error) {
	run, err := e.Repo.GetRun(ctx, tx, runID)
	if err != nil {
		return run, auth.AccessNone, err
	}
	access, err := e.Auth.AccessFor(ctx, tx, p, run)
	if err != nil {
		return run, access, err
	}
	if access == auth.AccessNone {
		return domain.ValidationRun{}, access, fmt.Errorf("%w: run %s", domain.ErrNotFound, runID)
	}
	if err := auth.Require(access, want); err != nil {
		return run, access, err
	}
	return run, access, nil
}

func (e Engine) profile(name string) (config.Profile, error) {
	p, ok := e.Config.Profile(name)
	if !ok {
		return p, fmt.Errorf("%w: unknown profile %q", domain.ErrInvalidPolicy, name)
	}
	return p, nil
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*refLock{}}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// validationError wraps validator failures in sentinel with readable field paths.
func validationError(sentinel, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", sentinel, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		msgs = append(msgs, fmt.Sprintf("%s (%s)", field, fe.Tag()))
	}
	return fmt.Errorf("%w: %s", sentinel, strings.Join(msgs, ", "))
}
