package testsupport

import (
	"path/filepath"
	"testing"

	"cardscan/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.UploadDir = filepath.Join(base, "uploads")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Storage.MinFreeMB = 0
	cfgVal.Collection.DSN = filepath.Join(base, "data", "collection.db")
	cfgVal.Vision.APIKey = "test"
	cfgVal.Vision.BaseURL = "https://vision.test/v1/chat/completions"
	cfgVal.Pricing.Enabled = false
	cfgVal.Metrics.Enabled = false
	cfgVal.Recognition.EnrichWithPricing = false
	cfgVal.Logging.Level = "debug"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithVisionKey sets the vision API key on the test config.
func WithVisionKey(key string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Vision.APIKey = key
	}
}

// WithReviewThreshold overrides the recognition review threshold.
func WithReviewThreshold(threshold float64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Recognition.ReviewThreshold = threshold
	}
}

// WithAPIToken enables bearer authentication on the API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
