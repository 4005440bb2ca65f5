package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"cardscan/internal/config"
	"cardscan/internal/imagestore"
	"cardscan/internal/pricing"
	"cardscan/internal/services/vision"
)

// CheckVision verifies that the vision API is reachable and the key is valid.
// It uses a 30-second timeout and a single attempt (no retries).
func CheckVision(ctx context.Context, cfg config.Vision) Result {
	const name = "Vision API"
	if strings.TrimSpace(cfg.APIKey) == "" {
		return Result{Name: name, Detail: "API key missing"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client := vision.NewClient(vision.Config{
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		Model:          cfg.Model,
		TimeoutSeconds: cfg.TimeoutSeconds,
	}, vision.WithRetryMaxAttempts(1))

	if err := client.HealthCheck(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeError("vision API", err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("API reachable (model %s)", client.Model())}
}

// CheckPricing verifies that the card data service answers.
func CheckPricing(ctx context.Context, cfg config.Pricing) Result {
	const name = "Scryfall"

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client := pricing.NewClient(pricing.Config{
		BaseURL: cfg.BaseURL,
		Timeout: 10 * time.Second,
	})
	if err := client.HealthCheck(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeError("Scryfall", err)}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckObjectStorage verifies the configured S3 bucket is reachable with the
// configured credentials.
func CheckObjectStorage(ctx context.Context, cfg config.Storage) Result {
	name := "S3 bucket"
	if cfg.S3Bucket != "" {
		name = fmt.Sprintf("S3 bucket %s", cfg.S3Bucket)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	store, err := imagestore.NewS3(checkCtx, cfg, 0)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("client setup failed (%v)", err)}
	}
	if err := store.Ping(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeError("S3", err)}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies the filesystem holding path has at least minMB free.
func CheckFreeSpace(name, path string, minMB int) Result {
	free, err := imagestore.FreeBytes(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	freeMB := free >> 20
	if minMB > 0 && freeMB < uint64(minMB) {
		return Result{Name: name, Detail: fmt.Sprintf("%d MB free, need %d MB", freeMB, minMB)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d MB free", freeMB)}
}

// summarizeError produces a human-readable summary for health check failures.
func summarizeError(service string, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("health check timed out (%s unresponsive)", service)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("health check timed out (%s unreachable)", service)
	}
	return err.Error()
}
