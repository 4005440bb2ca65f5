package preflight

import (
	"context"

	"cardscan/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// RunAll executes all applicable preflight checks for the given config.
// Remote checks are only run when the corresponding feature is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}

	switch cfg.Storage.Backend {
	case config.StorageS3:
		results = append(results, CheckObjectStorage(ctx, cfg.Storage))
	default:
		results = append(results,
			CheckDirectoryAccess("Upload directory", cfg.Paths.UploadDir),
			CheckFreeSpace("Upload free space", cfg.Paths.UploadDir, cfg.Storage.MinFreeMB),
		)
	}

	results = append(results, CheckVision(ctx, cfg.Vision))

	if cfg.Pricing.Enabled {
		results = append(results, CheckPricing(ctx, cfg.Pricing))
	}

	return results
}
