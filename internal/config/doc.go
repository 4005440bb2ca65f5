// Package config loads, normalizes, and validates cardscan configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads a local .env file, and honours
// environment fallbacks such as OPENAI_API_KEY. The Config type centralizes
// every knob the daemon and CLI need, so storage locations, the review
// threshold, and external service credentials are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
