// Package store defines the uniform interface over a pluggable state
// store backend, and the adapter that wraps it with the core's
// any-fault-is-fatal policy, per the specification's State-store
// adapter component.
package store

import (
	"encoding/json"
	"sync"

	"github.com/tenzoki/matrix/internal/logx"
	"github.com/tenzoki/matrix/internal/matrixerr"
)

// Store is the capability set a pluggable backend must implement. The
// coordinator never calls a Store; Adapter forwards each call on its
// caller's goroutine and adds no locking, so an implementation driven
// from a single goroutine need not be thread-safe.
type Store interface {
	HandleEvents(events []json.RawMessage) error
	Flush() error
	Close() error
}

// FatalFunc is invoked when the adapter detects an unrecoverable store
// fault. Production code passes os.Exit(1); tests substitute a func that
// records the call instead of killing the test binary.
type FatalFunc func()

// Adapter wraps a Store with logging and the "any fault terminates the
// process" policy described in the specification: cross-node state
// would otherwise diverge silently.
type Adapter struct {
	backend Store
	log     *logx.Logger
	fatal   FatalFunc
	once    sync.Once
	closed  bool
}

// NewAdapter wraps backend. fatal has no default: callers must supply
// one (typically func() { os.Exit(1) }); a nil fatal panics when a
// fault is detected.
func NewAdapter(backend Store, log *logx.Logger, fatal FatalFunc) *Adapter {
	return &Adapter{backend: backend, log: log, fatal: fatal}
}

// HandleEvents applies events to the backend. On failure it logs with
// the StateStoreError tag and invokes fatal.
func (a *Adapter) HandleEvents(events []json.RawMessage) {
	if err := a.backend.HandleEvents(events); err != nil {
		a.fail("HandleEvents", err)
	}
}

// Flush flushes the backend. On failure it logs with the StateStoreError
// tag and invokes fatal.
func (a *Adapter) Flush() {
	if err := a.backend.Flush(); err != nil {
		a.fail("Flush", err)
	}
}

// Close closes the backend exactly once; safe to call multiple times.
func (a *Adapter) Close() {
	a.once.Do(func() {
		a.closed = true
		if err := a.backend.Close(); err != nil {
			a.fail("Close", err)
		}
	})
}

func (a *Adapter) fail(op string, err error) {
	wrapped := &matrixerr.StoreAdapterError{Op: op, Cause: err}
	a.log.Tagged("StateStoreError", "%v", wrapped)
	a.fatal()
}
