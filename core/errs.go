package core

import (
	"errors"
	"fmt"
)

var (
	ErrSymbolUnknown    = errors.New("unknown symbol")
	ErrTimeframeUnknown = errors.New("unknown timeframe")
	ErrStaleData        = errors.New("stale market data")
	ErrSpreadTooWide    = errors.New("spread too wide")
	ErrQuarantined      = errors.New("exit rule quarantined")
	ErrEngineHalted     = errors.New("engine halted for new trades")
	ErrStorageClosed    = errors.New("storage closed")
	ErrPlanNotFound     = errors.New("plan not found")
	ErrPairNotFound     = errors.New("oco pair not found")
	ErrRuleNotFound     = errors.New("exit rule not found")
	ErrNegativeValue    = errors.New("negative value")
)

// ErrorKind is the engine-wide failure taxonomy. Every error crossing a
// component boundary carries one of these, driving retry, degrade,
// quarantine, or halt behavior.
type ErrorKind string

const (
	KindTransient ErrorKind = "transient"
	KindRejected  ErrorKind = "rejected"
	KindStale     ErrorKind = "stale"
	KindInvariant ErrorKind = "invariant"
	KindFatal     ErrorKind = "fatal"
)

// EngineError wraps a failure with its taxonomy kind and origin
type EngineError struct {
	Kind      ErrorKind
	Component string
	Op        string
	Err       error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s: %s: %v", e.Component, e.Op, e.Kind, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// Transient wraps a retryable failure
func Transient(component, op string, err error) *EngineError {
	return &EngineError{Kind: KindTransient, Component: component, Op: op, Err: err}
}

// Rejected wraps a hard failure that must not be retried
func Rejected(component, op string, err error) *EngineError {
	return &EngineError{Kind: KindRejected, Component: component, Op: op, Err: err}
}

// Stale wraps a data-freshness failure
func Stale(component, op string, err error) *EngineError {
	return &EngineError{Kind: KindStale, Component: component, Op: op, Err: err}
}

// Invariant wraps an internal contract violation
func Invariant(component, op string, err error) *EngineError {
	return &EngineError{Kind: KindInvariant, Component: component, Op: op, Err: err}
}

// Fatal wraps an unrecoverable failure; the engine halts new trades
func Fatal(component, op string, err error) *EngineError {
	return &EngineError{Kind: KindFatal, Component: component, Op: op, Err: err}
}

// KindOf extracts the taxonomy kind from an error chain. Errors without an
// EngineError in the chain default to transient, the safe retry posture for
// infrastructure failures.
func KindOf(err error) ErrorKind {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindTransient
}

// Retryable reports whether the error kind permits a local retry
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}

// FromRetcode converts a non-OK retcode into a taxonomy error
func FromRetcode(component, op string, rc Retcode) error {
	if rc.OK() {
		return nil
	}
	base := fmt.Errorf("retcode %s", rc)
	switch rc.Kind {
	case RetcodeTransient, RetcodeTimeout:
		return Transient(component, op, base)
	default:
		return Rejected(component, op, base)
	}
}
