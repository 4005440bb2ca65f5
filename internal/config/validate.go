package config

import (
	"errors"
	"fmt"
)

// ErrMissingAPIKey is returned when no vision API key is configured.
var ErrMissingAPIKey = errors.New("vision.api_key is required")

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateCollection(); err != nil {
		return err
	}
	if err := c.validateVision(); err != nil {
		return err
	}
	if err := c.validateRecognition(); err != nil {
		return err
	}
	if err := c.validatePricing(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageLocal:
	case StorageS3:
		if c.Storage.S3Bucket == "" {
			return errors.New("storage.s3_bucket must be set when storage.backend is s3")
		}
		if c.Storage.S3Region == "" {
			return errors.New("storage.s3_region must be set when storage.backend is s3 (or set AWS_REGION)")
		}
		if (c.Storage.S3AccessKeyID == "") != (c.Storage.S3SecretKey == "") {
			return errors.New("storage.s3_access_key_id and storage.s3_secret_access_key must be set together")
		}
	default:
		return fmt.Errorf("storage.backend: unsupported value %q (want local or s3)", c.Storage.Backend)
	}
	if c.Storage.MinFreeMB < 0 {
		return errors.New("storage.min_free_mb must not be negative")
	}
	return ensurePositiveMap(map[string]int{
		"storage.max_upload_mb":       c.Storage.MaxUploadMB,
		"storage.max_images_per_scan": c.Storage.MaxImagesPerScan,
	})
}

func (c *Config) validateCollection() error {
	switch c.Collection.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("collection.driver: unsupported value %q (want sqlite or postgres)", c.Collection.Driver)
	}
	if c.Collection.DSN == "" && c.Collection.Driver == DriverPostgres {
		return fmt.Errorf("collection.dsn must be set for driver %s (or set CARDSCAN_COLLECTION_DSN)", c.Collection.Driver)
	}
	return nil
}

func (c *Config) validateVision() error {
	if c.Vision.APIKey == "" {
		return ErrMissingAPIKey
	}
	if err := ensurePositiveMap(map[string]int{
		"vision.timeout_seconds": c.Vision.TimeoutSeconds,
		"vision.max_attempts":    c.Vision.MaxAttempts,
	}); err != nil {
		return err
	}
	if c.Vision.RetryBaseMillis < 0 || c.Vision.RetryMaxMillis < 0 {
		return errors.New("vision.retry_base_ms and vision.retry_max_ms must not be negative")
	}
	if c.Vision.RetryMaxMillis < c.Vision.RetryBaseMillis {
		return errors.New("vision.retry_max_ms must be greater than or equal to vision.retry_base_ms")
	}
	if c.Vision.RequestsPerSecond < 0 {
		return errors.New("vision.requests_per_second must not be negative")
	}
	return nil
}

func (c *Config) validateRecognition() error {
	if c.Recognition.ReviewThreshold < 0 || c.Recognition.ReviewThreshold > 100 {
		return errors.New("recognition.review_threshold must be between 0 and 100")
	}
	if c.Recognition.Concurrency <= 0 {
		return errors.New("recognition.concurrency must be positive")
	}
	return nil
}

func (c *Config) validatePricing() error {
	if !c.Pricing.Enabled {
		return nil
	}
	if err := ensurePositiveMap(map[string]int{
		"pricing.cache_ttl_minutes": c.Pricing.CacheTTLMinutes,
		"pricing.timeout_seconds":   c.Pricing.TimeoutSeconds,
	}); err != nil {
		return err
	}
	if c.Pricing.RequestsPerSecond < 0 {
		return errors.New("pricing.requests_per_second must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
