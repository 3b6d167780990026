package apperrors

import "errors"

// Standardized infrastructure errors. Gating decisions in the admission core
// return structured results with reasons instead of errors; these sentinels
// cover the surrounding plumbing only.
var (
	ErrTelemetryUnavailable = errors.New("telemetry source unavailable")
	ErrStaleTelemetry       = errors.New("telemetry data is stale")
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrNetwork              = errors.New("network error")
	ErrJournalUnavailable   = errors.New("journal store unavailable")
	ErrChecksumMismatch     = errors.New("state checksum mismatch")
	ErrInvalidConfig        = errors.New("invalid configuration")
	ErrCycleInProgress      = errors.New("decision cycle already in progress")
	ErrUnknownPool          = errors.New("unknown pool")
	ErrSystemOverload       = errors.New("system overload")
)
