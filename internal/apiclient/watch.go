package apiclient

import (
	"context"
	"errors"
	"time"

	"cardscan/internal/api"
	"cardscan/internal/scan"
)

// WatchOptions tunes Watch.
type WatchOptions struct {
	// Interval between polls. Defaults to 2s.
	Interval time.Duration
	// MaxFailures is how many consecutive transient errors are tolerated.
	// Defaults to 3.
	MaxFailures int
	// OnUpdate is called with every successful poll.
	OnUpdate func(api.ScanStatus)
}

// Watch polls a scan until it leaves CREATED and PROCESSING, ctx ends, or a
// non-transient error occurs. It returns the last status seen.
func (c *Client) Watch(ctx context.Context, scanID string, opts WatchOptions) (api.ScanStatus, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	maxFailures := opts.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 3
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		last     api.ScanStatus
		failures int
	)
	for {
		status, err := c.Status(ctx, scanID)
		switch {
		case err == nil:
			failures = 0
			last = status
			if opts.OnUpdate != nil {
				opts.OnUpdate(status)
			}
			if settled(status.Status) {
				return status, nil
			}
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return last, err
		case transient(err):
			failures++
			if failures >= maxFailures {
				return last, err
			}
		default:
			return last, err
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

func settled(status string) bool {
	switch scan.Status(status) {
	case scan.StatusCreated, scan.StatusProcessing:
		return false
	default:
		return true
	}
}

// ProcessWithRetry starts processing, repeating the call a bounded number of
// times when the daemon is briefly unreachable or busy.
func (c *Client) ProcessWithRetry(ctx context.Context, scanID string, attempts int, delay time.Duration) (api.ScanStatus, error) {
	if attempts <= 0 {
		attempts = 1
	}
	var (
		status api.ScanStatus
		err    error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		status, err = c.Process(ctx, scanID)
		if err == nil || !transient(err) || attempt == attempts {
			return status, err
		}
		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-time.After(delay * time.Duration(attempt)):
		}
	}
	return status, err
}
