package config

// Storage backends.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// Collection drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const (
	defaultConfigPath              = "~/.config/cardscan/config.toml"
	defaultDataDir                 = "~/.local/share/cardscan"
	defaultAPIBind                 = "127.0.0.1:7410"
	defaultMinFreeMB               = 256
	defaultMaxUploadMB             = 25
	defaultMaxImagesPerScan        = 50
	defaultVisionBaseURL           = "https://api.openai.com/v1/chat/completions"
	defaultVisionModel             = "gpt-4o"
	defaultVisionTimeoutSeconds    = 120
	defaultVisionMaxAttempts       = 3
	defaultVisionRetryBaseMillis   = 1000
	defaultVisionRetryMaxMillis    = 10000
	defaultVisionRequestsPerSecond = 2
	defaultReviewThreshold         = 70
	defaultRecognitionConcurrency  = 3
	defaultPricingBaseURL          = "https://api.scryfall.com"
	defaultPricingCacheTTLMinutes  = 360
	defaultPricingRequestsPerSec   = 8
	defaultPricingTimeoutSeconds   = 10
	defaultNtfyTimeoutSeconds      = 10
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			// UploadDir and LogDir stay empty so normalize places them under DataDir.
			DataDir: defaultDataDir,
			APIBind: defaultAPIBind,
		},
		Storage: Storage{
			Backend:          StorageLocal,
			MinFreeMB:        defaultMinFreeMB,
			MaxUploadMB:      defaultMaxUploadMB,
			MaxImagesPerScan: defaultMaxImagesPerScan,
		},
		Collection: Collection{
			Driver: DriverSQLite,
		},
		Vision: Vision{
			BaseURL:           defaultVisionBaseURL,
			Model:             defaultVisionModel,
			TimeoutSeconds:    defaultVisionTimeoutSeconds,
			MaxAttempts:       defaultVisionMaxAttempts,
			RetryBaseMillis:   defaultVisionRetryBaseMillis,
			RetryMaxMillis:    defaultVisionRetryMaxMillis,
			RequestsPerSecond: defaultVisionRequestsPerSecond,
		},
		Recognition: Recognition{
			ReviewThreshold:   defaultReviewThreshold,
			Concurrency:       defaultRecognitionConcurrency,
			EnrichWithPricing: true,
		},
		Pricing: Pricing{
			Enabled:           true,
			BaseURL:           defaultPricingBaseURL,
			CacheTTLMinutes:   defaultPricingCacheTTLMinutes,
			RequestsPerSecond: defaultPricingRequestsPerSec,
			TimeoutSeconds:    defaultPricingTimeoutSeconds,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeoutSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Metrics: Metrics{
			Enabled: true,
		},
	}
}
