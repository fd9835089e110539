// Package matrixerr defines the error kinds the coordination core can
// raise, per the recovery policy in the specification: most kinds are
// fatal to the process, a few are surfaced to a peer and otherwise
// ignored.
package matrixerr

import (
	"errors"
	"fmt"
)

// ProtocolError wraps a malformed or unsupported JSON-RPC frame. It is
// surfaced to the caller as an RPC error response and is never fatal.
type ProtocolError struct {
	Cause error
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("protocol error: %v", e.Cause) }
func (e *ProtocolError) Unwrap() error { return e.Cause }

// StoreAdapterError wraps any failure raised by the pluggable store on
// HandleEvents, Flush, or Close. Fatal: the process exits immediately.
type StoreAdapterError struct {
	Op    string
	Cause error
}

func (e *StoreAdapterError) Error() string {
	return fmt.Sprintf("store adapter error during %s: %v", e.Op, e.Cause)
}
func (e *StoreAdapterError) Unwrap() error { return e.Cause }

// BrokerConnectError wraps a failure to reach the broker within the
// startup window. Fatal to the process.
type BrokerConnectError struct {
	Cause error
}

func (e *BrokerConnectError) Error() string { return fmt.Sprintf("broker connect error: %v", e.Cause) }
func (e *BrokerConnectError) Unwrap() error { return e.Cause }

// BrokerTransientError wraps a mid-simulation broker connection drop.
// Not recovered by the core: barrier correctness depends on total
// delivery, so it is treated the same as a connect failure.
type BrokerTransientError struct {
	Cause error
}

func (e *BrokerTransientError) Error() string {
	return fmt.Sprintf("broker transient error: %v", e.Cause)
}
func (e *BrokerTransientError) Unwrap() error { return e.Cause }

// ConfigError wraps a missing or malformed configuration value. Fatal,
// raised before any service opens.
type ConfigError struct {
	Field string
	Cause error
}

func (e *ConfigError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("config error: %s", e.Field)
	}
	return fmt.Sprintf("config error: %s: %v", e.Field, e.Cause)
}
func (e *ConfigError) Unwrap() error { return e.Cause }

// ExitCode maps an error kind to the process exit code described in the
// specification's External Interfaces section: 0 on clean SIMEND,
// non-zero and kind-distinguishable otherwise so operators can tell a
// bad config from a dead broker without reading logs.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var configErr *ConfigError
	var connectErr *BrokerConnectError
	var storeErr *StoreAdapterError
	var transientErr *BrokerTransientError
	switch {
	case errors.As(err, &configErr):
		return 2
	case errors.As(err, &connectErr):
		return 3
	case errors.As(err, &storeErr):
		return 4
	case errors.As(err, &transientErr):
		return 5
	default:
		return 1
	}
}
