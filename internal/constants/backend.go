package constants

import "time"

// AuthMode selects how the transport proves the caller's identity.
type AuthMode string

const (
	// SessionAuth logs in once and then relies on a session cookie plus an
	// anti-forgery token echoed on mutating requests.
	SessionAuth AuthMode = "session"
	// SecretAuth attaches a static shared secret to every request.
	SecretAuth AuthMode = "secret"
)

// Backend selects which server the user feed controller talks to.
type Backend string

const (
	DiscoverBackend Backend = "discover"
	MinifluxBackend Backend = "miniflux"
)

const (
	DefaultPollInterval = 3 * time.Second
	DefaultBatchSize    = 10
	MaxBatchSize        = 100
	DefaultTimeout      = 30 * time.Second
	// A manual ingest answers only once the run has finished.
	IngestTimeout       = 10 * time.Minute
	DefaultSecretHeader = "X-Admin-Secret"
	CSRFHeader          = "X-CSRF-Token"
	RequestIDHeader     = "X-Request-ID"
	// Used when the backend never reported hide_rule_default_penalty.
	FallbackPenalty = 10.0
)
