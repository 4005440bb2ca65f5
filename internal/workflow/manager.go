package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"cardscan/internal/commit"
	"cardscan/internal/config"
	"cardscan/internal/logging"
	"cardscan/internal/notifications"
	"cardscan/internal/scan"
	"cardscan/internal/stage"
)

const (
	component = "workflow"

	defaultRunAttempts = 3
	defaultRetryDelay  = 2 * time.Second
)

// Committer folds a reviewed scan into the collection.
type Committer interface {
	Commit(ctx context.Context, scanID string) (commit.Result, error)
}

// Recorder receives lifecycle events for metrics.
type Recorder interface {
	ObserveTransition(to scan.Status)
	ObserveCommit(result commit.Result, err error)
	SetActiveRuns(n int)
}

// Manager coordinates scan processing, review, and commit.
type Manager struct {
	cfg       *config.Config
	store     *scan.Store
	worker    stage.Handler
	committer Committer
	notifier  notifications.Service
	recorder  Recorder
	checkers  []namedChecker
	logger    *slog.Logger
	locks     *scan.Locks

	runAttempts int
	retryDelay  time.Duration

	mu       sync.RWMutex
	running  bool
	runCtx   context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	runs     map[string]struct{}
	lastErr  error
	lastScan string
}

type namedChecker struct {
	name    string
	checker stage.Checker
}

// Option configures optional Manager behavior.
type Option func(*Manager)

// WithNotifier publishes scan events through notifier.
func WithNotifier(notifier notifications.Service) Option {
	return func(m *Manager) {
		if notifier != nil {
			m.notifier = notifier
		}
	}
}

// WithRecorder reports lifecycle events to recorder.
func WithRecorder(recorder Recorder) Option {
	return func(m *Manager) {
		if recorder != nil {
			m.recorder = recorder
		}
	}
}

// WithHealthCheck adds a dependency to the status report.
func WithHealthCheck(name string, checker stage.Checker) Option {
	return func(m *Manager) {
		if checker != nil {
			m.checkers = append(m.checkers, namedChecker{name: name, checker: checker})
		}
	}
}

// WithRunRetry sets how many times a run hitting storage errors is attempted
// and the pause between attempts.
func WithRunRetry(attempts int, delay time.Duration) Option {
	return func(m *Manager) {
		if attempts > 0 {
			m.runAttempts = attempts
		}
		if delay >= 0 {
			m.retryDelay = delay
		}
	}
}

// NewManager constructs a workflow manager. worker runs recognition for a
// PROCESSING scan; committer applies reviewed scans.
func NewManager(cfg *config.Config, store *scan.Store, worker stage.Handler, committer Committer, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:         cfg,
		store:       store,
		worker:      worker,
		committer:   committer,
		notifier:    notifications.NewService(cfg),
		recorder:    noopRecorder{},
		logger:      logging.NewComponentLogger(logger, component),
		locks:       scan.NewLocks(),
		runAttempts: defaultRunAttempts,
		retryDelay:  defaultRetryDelay,
		runs:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type noopRecorder struct{}

func (noopRecorder) ObserveTransition(scan.Status)      {}
func (noopRecorder) ObserveCommit(commit.Result, error) {}
func (noopRecorder) SetActiveRuns(int)                  {}
