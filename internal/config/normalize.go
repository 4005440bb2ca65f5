package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStorage()
	c.normalizeCollection()
	c.normalizeVision()
	c.normalizePricing()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.UploadDir) == "" {
		c.Paths.UploadDir = filepath.Join(c.Paths.DataDir, "uploads")
	}
	if c.Paths.UploadDir, err = expandPath(c.Paths.UploadDir); err != nil {
		return fmt.Errorf("paths.upload_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.DataDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("CARDSCAN_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeStorage() {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageLocal
	}
	c.Storage.S3Bucket = strings.TrimSpace(c.Storage.S3Bucket)
	c.Storage.S3Region = strings.TrimSpace(c.Storage.S3Region)
	if c.Storage.S3Region == "" {
		if value, ok := os.LookupEnv("AWS_REGION"); ok {
			c.Storage.S3Region = strings.TrimSpace(value)
		}
	}
	c.Storage.S3Prefix = strings.Trim(strings.TrimSpace(c.Storage.S3Prefix), "/")
	c.Storage.S3Endpoint = strings.TrimSpace(c.Storage.S3Endpoint)
	c.Storage.S3AccessKeyID = strings.TrimSpace(c.Storage.S3AccessKeyID)
	c.Storage.S3SecretKey = strings.TrimSpace(c.Storage.S3SecretKey)
}

func (c *Config) normalizeCollection() {
	c.Collection.Driver = strings.ToLower(strings.TrimSpace(c.Collection.Driver))
	if c.Collection.Driver == "" {
		c.Collection.Driver = DriverSQLite
	}
	if value := strings.TrimSpace(os.Getenv("CARDSCAN_COLLECTION_DSN")); value != "" {
		c.Collection.DSN = value
	}
	c.Collection.DSN = strings.TrimSpace(c.Collection.DSN)
	if c.Collection.DSN == "" && c.Collection.Driver == DriverSQLite {
		c.Collection.DSN = filepath.Join(c.Paths.DataDir, "collection.db")
	}
}

func (c *Config) normalizeVision() {
	// Environment variables take precedence over config file values.
	if value := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); value != "" {
		c.Vision.APIKey = value
	} else if value := strings.TrimSpace(os.Getenv("CARDSCAN_VISION_API_KEY")); value != "" {
		c.Vision.APIKey = value
	}
	c.Vision.APIKey = strings.TrimSpace(c.Vision.APIKey)
	c.Vision.BaseURL = strings.TrimSpace(c.Vision.BaseURL)
	if c.Vision.BaseURL == "" {
		c.Vision.BaseURL = defaultVisionBaseURL
	}
	c.Vision.Model = strings.TrimSpace(c.Vision.Model)
	if c.Vision.Model == "" {
		c.Vision.Model = defaultVisionModel
	}
}

func (c *Config) normalizePricing() {
	c.Pricing.BaseURL = strings.TrimRight(strings.TrimSpace(c.Pricing.BaseURL), "/")
	if c.Pricing.BaseURL == "" {
		c.Pricing.BaseURL = defaultPricingBaseURL
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		c.Notifications.NtfyTopic = strings.TrimSpace(os.Getenv("CARDSCAN_NTFY_TOPIC"))
	}
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNtfyTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
