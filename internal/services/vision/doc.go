// Package vision talks to an OpenAI-compatible multimodal chat endpoint to
// identify trading cards in photographs.
//
// # Entry Points
//
// NewClient: construct a client from Config plus Options.
// Client.IdentifyCards: send one image, receive the parsed candidates and the raw answer.
// Client.HealthCheck: verify the API key and model respond.
//
// # Answer Format
//
// The model is asked for {"cards":[...],"refusal":""}. A bare array of cards
// and answers wrapped in code fences are also accepted. Confidence must fall
// within 0-100; quantity defaults to 1.
//
// # Errors
//
// A model that declines the image yields *RefusalError, which matches
// services.ErrRecognitionRefusal and is never retried. Unparseable answers,
// out-of-range confidence and exhausted retries yield *ServiceError, which
// matches services.ErrRecognitionService.
//
// # Retry Behaviour
//
// HTTP 408/429/5xx, empty completions and network timeouts are retried with
// exponential backoff (base 1s, max 10s, 3 attempts by default). Retry-After
// is honoured. WithRateLimit spaces requests across every caller sharing the
// client. Context cancellation aborts retries immediately.
package vision
