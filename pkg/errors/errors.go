package apperrors

import "errors"

// Signal processing errors
var (
	ErrHoldSignal      = errors.New("hold signal, nothing to execute")
	ErrLowConfidence   = errors.New("confidence below minimum")
	ErrDuplicateSignal = errors.New("duplicate signal")
	ErrSignalFiltered  = errors.New("signal rejected by filter")
)

// Order lifecycle errors
var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrDuplicateOrder    = errors.New("duplicate order")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrOrderRejected     = errors.New("order rejected")
	ErrNoBackend         = errors.New("no order backend available")
)

// Monitoring errors
var (
	ErrMonitorRunning = errors.New("monitoring already running")
	ErrStopTimeout    = errors.New("monitor worker did not stop within timeout")
)

// ErrQueueFull reports a saturated non-blocking worker queue
var ErrQueueFull = errors.New("task queue full")
