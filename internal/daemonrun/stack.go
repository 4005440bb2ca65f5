package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"cardscan/internal/collection"
	"cardscan/internal/commit"
	"cardscan/internal/config"
	"cardscan/internal/daemon"
	"cardscan/internal/imagestore"
	"cardscan/internal/metrics"
	"cardscan/internal/notifications"
	"cardscan/internal/pricing"
	"cardscan/internal/recognition"
	"cardscan/internal/scan"
	"cardscan/internal/services/vision"
	"cardscan/internal/stage"
	"cardscan/internal/workflow"
)

// stack holds the long-lived components assembled from config.
type stack struct {
	manager *workflow.Manager
	cards   *collection.Store
	pricing *pricing.Client
	metrics *metrics.Metrics
	closers []io.Closer
}

func assemble(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *stack, err error) {
	s := &stack{}
	defer func() {
		if err != nil {
			_ = s.close()
		}
	}()

	blobs, err := imagestore.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open image store: %w", err)
	}
	scans, err := scan.Open(cfg, blobs)
	if err != nil {
		return nil, fmt.Errorf("open scan store: %w", err)
	}
	s.closers = append(s.closers, scans)

	s.cards, err = collection.Open(cfg.Collection, collection.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open collection: %w", err)
	}
	s.closers = append(s.closers, s.cards)

	if cfg.Metrics.Enabled {
		if s.metrics, err = metrics.New(nil); err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
	}

	workerOpts := []recognition.Option{
		recognition.WithLogger(logger),
		recognition.WithReviewThreshold(cfg.Recognition.ReviewThreshold),
		recognition.WithConcurrency(cfg.Recognition.Concurrency),
	}
	if s.metrics != nil {
		workerOpts = append(workerOpts, recognition.WithObserver(s.metrics))
	}
	if cfg.Pricing.Enabled {
		s.pricing = newPricingClient(cfg.Pricing, logger)
		if cfg.Recognition.EnrichWithPricing {
			workerOpts = append(workerOpts, recognition.WithEnricher(s.pricing))
		}
		if s.metrics != nil {
			if err := s.metrics.WatchPricingCache(s.pricing.Stats); err != nil {
				return nil, fmt.Errorf("register pricing metrics: %w", err)
			}
		}
	}
	worker := recognition.NewWorker(scans, newVisionClient(cfg.Vision), workerOpts...)

	mgrOpts := []workflow.Option{
		workflow.WithNotifier(notifications.NewService(cfg)),
		workflow.WithHealthCheck("collection", stage.Probe{Name: "collection", Check: s.cards.Ping}),
	}
	if s.metrics != nil {
		mgrOpts = append(mgrOpts, workflow.WithRecorder(s.metrics))
	}
	if remote, ok := blobs.(*imagestore.S3); ok {
		mgrOpts = append(mgrOpts, workflow.WithHealthCheck("storage", stage.Probe{Name: "storage", Check: remote.Ping}))
	}
	if s.pricing != nil {
		mgrOpts = append(mgrOpts, workflow.WithHealthCheck("pricing", stage.Probe{Name: "pricing", Check: s.pricing.HealthCheck}))
	}

	engine := commit.NewEngine(scans, s.cards, logger)
	s.manager = workflow.NewManager(cfg, scans, worker, engine, logger, mgrOpts...)
	return s, nil
}

func (s *stack) daemonOptions() []daemon.Option {
	opts := make([]daemon.Option, 0, len(s.closers)+1)
	if s.metrics != nil {
		opts = append(opts, daemon.WithMetrics(s.metrics))
	}
	for _, closer := range s.closers {
		opts = append(opts, daemon.WithCloser(closer))
	}
	return opts
}

func (s *stack) close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func newVisionClient(cfg config.Vision) *vision.Client {
	opts := []vision.Option{}
	if cfg.MaxAttempts > 0 {
		opts = append(opts, vision.WithRetryMaxAttempts(cfg.MaxAttempts))
	}
	if cfg.RetryBaseMillis > 0 && cfg.RetryMaxMillis > 0 {
		opts = append(opts, vision.WithRetryBackoff(
			time.Duration(cfg.RetryBaseMillis)*time.Millisecond,
			time.Duration(cfg.RetryMaxMillis)*time.Millisecond,
		))
	}
	if cfg.RequestsPerSecond > 0 {
		opts = append(opts, vision.WithRateLimit(cfg.RequestsPerSecond))
	}
	return vision.NewClient(vision.Config{
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		Model:          cfg.Model,
		TimeoutSeconds: cfg.TimeoutSeconds,
	}, opts...)
}

func newPricingClient(cfg config.Pricing, logger *slog.Logger) *pricing.Client {
	return pricing.NewClient(pricing.Config{
		BaseURL:           cfg.BaseURL,
		CacheTTL:          time.Duration(cfg.CacheTTLMinutes) * time.Minute,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Timeout:           time.Duration(cfg.TimeoutSeconds) * time.Second,
	}, pricing.WithLogger(logger))
}
