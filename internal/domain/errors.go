package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "connect", "candles", "ticker")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// OrderError represents a failed order placement. The internal ledger
// change is already applied when this surfaces; the caller records a
// discrepancy instead of rolling back (a real order may have partially
// filled on the exchange side).
type OrderError struct {
	Symbol string
	Side   string
	Err    error
}

func (e *OrderError) Error() string {
	return "order " + e.Side + " " + e.Symbol + ": " + e.Err.Error()
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrEndOfStream is returned by historical feeds once every bar has
	// been replayed. It marks normal termination, not a failure.
	ErrEndOfStream = errors.New("end of stream")

	// ErrDuplicateStrategy is returned when a strategy with the same
	// (code, symbol) pair is already RUNNING.
	ErrDuplicateStrategy = errors.New("strategy already running for code and symbol")

	// ErrStrategyNotFound is returned for lifecycle calls on unknown IDs.
	ErrStrategyNotFound = errors.New("strategy not found")

	// ErrManagerClosed is returned once the execution manager has shut down.
	ErrManagerClosed = errors.New("execution manager closed")

	// ErrConfigNotFound is returned when the configuration file is missing.
	ErrConfigNotFound = errors.New("configuration not found")
)
