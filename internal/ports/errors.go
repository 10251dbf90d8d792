package ports

import "errors"

// Standard application-level errors.
// Adapters wrap underlying infrastructure errors with these standard errors
// so the pipeline can classify failures without knowing the transport.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Market / broker errors (transient unless stated otherwise)
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the exchange")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("authentication failed (check API keys)")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrOrderNotFound        = errors.New("order not found at the broker")
	ErrOrderRejected        = errors.New("broker rejected the order")

	// Consistency errors (bug signals, never retried)
	ErrDuplicateTrade     = errors.New("a live trade already exists for this opportunity")
	ErrInvalidTransition  = errors.New("illegal trade state transition")
	ErrStaleData          = errors.New("snapshot data is stale")
	ErrTradingInterlocked = errors.New("live trading is interlocked off")

	// Database errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
	ErrUpdateFailed = errors.New("database update failed")

	// Fingerprint data errors
	ErrSurfaceNotFound = errors.New("no fingerprint surface for instrument/bucket")
	ErrSurfaceInvalid  = errors.New("fingerprint surface failed validation")
)

// IsTransient reports whether err is a transient I/O failure that callers
// should retry with backoff rather than escalate.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrExchangeUnavailable) ||
		errors.Is(err, ErrRateLimited)
}
