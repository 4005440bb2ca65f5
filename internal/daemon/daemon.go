package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/gofrs/flock"

	"cardscan/internal/api"
	"cardscan/internal/config"
	"cardscan/internal/logging"
	"cardscan/internal/metrics"
	"cardscan/internal/workflow"
)

// Daemon coordinates the background processing services and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	workflow *workflow.Manager
	api      *apiServer
	closers  []io.Closer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

type options struct {
	metrics *metrics.Metrics
	closers []io.Closer
}

// Option customizes the daemon.
type Option func(*options)

// WithMetrics serves /metrics and records request metrics on the API.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithCloser registers a resource released by Close, in registration order.
func WithCloser(closer io.Closer) Option {
	return func(o *options) {
		if closer != nil {
			o.closers = append(o.closers, closer)
		}
	}
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, wf *workflow.Manager, cards api.Cards, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || wf == nil || cards == nil {
		return nil, errors.New("daemon requires config, workflow manager, and collection")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		workflow: wf,
		closers:  o.closers,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, wf, cards, o.metrics, logger)
	return d, nil
}

// Start acquires the daemon lock, launches the workflow manager, and begins
// serving the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another cardscan daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.workflow.Start(d.ctx); err != nil {
		d.abortStart()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.api.start(d.ctx); err != nil {
		d.workflow.Stop()
		d.abortStart()
		return err
	}

	d.running.Store(true)
	d.logger.Info("cardscan daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.address()),
	)
	return nil
}

func (d *Daemon) abortStart() {
	_ = d.lock.Unlock()
	d.cancel()
	d.ctx = nil
	d.cancel = nil
}

// Stop stops serving, halts background processing, and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_lock_release_failed"),
			logging.String(logging.FieldErrorHint, "remove the lock file if no daemon is running"),
		)
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("cardscan daemon stopped")
}

// Close stops the daemon and releases registered resources.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	for _, closer := range d.closers {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// Address returns the API listen address, or "" when not serving.
func (d *Daemon) Address() string {
	return d.api.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := d.runtimeStatus()
	status.Workflow = api.FromStatusSummary(d.workflow.Status(ctx))
	return status
}

func (d *Daemon) runtimeStatus() api.DaemonStatus {
	return api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		ScanDBPath:   d.cfg.ScanDBPath(),
		LockFilePath: d.lockPath,
	}
}
