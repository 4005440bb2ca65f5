package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"cardscan/internal/config"
)

func TestLoadDefaultConfigUsesEnvVisionKeyAndExpandsPaths(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("CARDSCAN_COLLECTION_DSN", "")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "cardscan")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Paths.UploadDir != filepath.Join(wantData, "uploads") {
		t.Fatalf("unexpected upload dir: %q", cfg.Paths.UploadDir)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7410" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Vision.APIKey != "test-key" {
		t.Fatalf("expected vision key from env, got %q", cfg.Vision.APIKey)
	}
	if cfg.Recognition.ReviewThreshold != 70 {
		t.Fatalf("expected review threshold 70, got %v", cfg.Recognition.ReviewThreshold)
	}
	if cfg.Collection.Driver != config.DriverSQLite {
		t.Fatalf("expected sqlite collection driver, got %q", cfg.Collection.Driver)
	}
	if cfg.Collection.DSN != filepath.Join(wantData, "collection.db") {
		t.Fatalf("unexpected collection dsn: %q", cfg.Collection.DSN)
	}
	if cfg.ScanDBPath() != filepath.Join(wantData, "scans.db") {
		t.Fatalf("unexpected scan db path: %q", cfg.ScanDBPath())
	}
	if cfg.MaxUploadBytes() != 25<<20 {
		t.Fatalf("unexpected max upload bytes: %d", cfg.MaxUploadBytes())
	}
}

func TestLoadCustomPath(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("CARDSCAN_VISION_API_KEY", "")
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "cardscan.toml")

	type payload struct {
		Paths struct {
			DataDir string `toml:"data_dir"`
		} `toml:"paths"`
		Vision struct {
			APIKey string `toml:"api_key"`
			Model  string `toml:"model"`
		} `toml:"vision"`
		Recognition struct {
			ReviewThreshold float64 `toml:"review_threshold"`
			Concurrency     int     `toml:"concurrency"`
		} `toml:"recognition"`
	}
	custom := payload{}
	custom.Paths.DataDir = filepath.Join(tempDir, "data")
	custom.Vision.APIKey = "abc123"
	custom.Vision.Model = "gpt-4o-mini"
	custom.Recognition.ReviewThreshold = 85
	custom.Recognition.Concurrency = 5
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Vision.APIKey != "abc123" {
		t.Fatalf("expected vision key from file, got %q", cfg.Vision.APIKey)
	}
	if cfg.Vision.Model != "gpt-4o-mini" {
		t.Fatalf("expected model override, got %q", cfg.Vision.Model)
	}
	if cfg.Recognition.ReviewThreshold != 85 {
		t.Fatalf("expected review threshold 85, got %v", cfg.Recognition.ReviewThreshold)
	}
	if cfg.Recognition.Concurrency != 5 {
		t.Fatalf("expected concurrency 5, got %d", cfg.Recognition.Concurrency)
	}
	if cfg.Paths.LogDir != filepath.Join(tempDir, "data", "logs") {
		t.Fatalf("expected log dir under data dir, got %q", cfg.Paths.LogDir)
	}
	if cfg.Paths.UploadDir != filepath.Join(tempDir, "data", "uploads") {
		t.Fatalf("expected upload dir under data dir, got %q", cfg.Paths.UploadDir)
	}
}

func TestLoadMissingKeyNamesResolvedPath(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("CARDSCAN_VISION_API_KEY", "")
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	configPath := filepath.Join(t.TempDir(), "custom.toml")
	if err := os.WriteFile(configPath, []byte("[vision]\nmodel = \"gpt-4o\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, _, _, err := config.Load(configPath)
	if !errors.Is(err, config.ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
	if !strings.Contains(err.Error(), configPath) {
		t.Fatalf("expected error to name %s, got %v", configPath, err)
	}
}

func TestEnvVarOverridesConfigFileForSecrets(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "cardscan.toml")

	contents := `
[vision]
api_key = "file-key"

[collection]
driver = "postgres"
dsn = "host=file"
`
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("CARDSCAN_COLLECTION_DSN", "host=env")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Vision.APIKey != "env-key" {
		t.Errorf("expected vision key from env, got %q", cfg.Vision.APIKey)
	}
	if cfg.Collection.DSN != "host=env" {
		t.Errorf("expected collection dsn from env, got %q", cfg.Collection.DSN)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	workDir := t.TempDir()
	t.Chdir(workDir)
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("CARDSCAN_VISION_API_KEY", "")
	os.Unsetenv("CARDSCAN_VISION_API_KEY")
	if err := os.WriteFile(filepath.Join(workDir, ".env"), []byte("CARDSCAN_VISION_API_KEY=dotenv-key\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Vision.APIKey != "dotenv-key" {
		t.Fatalf("expected key from .env, got %q", cfg.Vision.APIKey)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "review_threshold") {
		t.Fatalf("sample config missing review threshold: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if !strings.Contains(cfg.Paths.DataDir, "cardscan") {
		t.Fatalf("expected data dir to contain cardscan, got %q", cfg.Paths.DataDir)
	}
	if cfg.Recognition.ReviewThreshold != 70 {
		t.Fatalf("expected sample threshold 70, got %v", cfg.Recognition.ReviewThreshold)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	valid := func() config.Config {
		cfg := config.Default()
		cfg.Vision.APIKey = "key"
		return cfg
	}

	cfg := valid()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults with key to validate, got %v", err)
	}

	cases := map[string]func(*config.Config){
		"missing api key":      func(c *config.Config) { c.Vision.APIKey = "" },
		"threshold above 100":  func(c *config.Config) { c.Recognition.ReviewThreshold = 101 },
		"negative threshold":   func(c *config.Config) { c.Recognition.ReviewThreshold = -1 },
		"zero concurrency":     func(c *config.Config) { c.Recognition.Concurrency = 0 },
		"unknown backend":      func(c *config.Config) { c.Storage.Backend = "ftp" },
		"s3 without bucket":    func(c *config.Config) { c.Storage.Backend = config.StorageS3; c.Storage.S3Region = "us-east-1" },
		"postgres without dsn": func(c *config.Config) { c.Collection.Driver = config.DriverPostgres },
		"retry max below base": func(c *config.Config) { c.Vision.RetryMaxMillis = 10; c.Vision.RetryBaseMillis = 100 },
		"zero upload limit":    func(c *config.Config) { c.Storage.MaxUploadMB = 0 },
		"bad log format":       func(c *config.Config) { c.Logging.Format = "xml" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
