package store

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tenzoki/matrix/internal/logx"
)

type fakeBackend struct {
	handleErr error
	flushErr  error
	closeErr  error
	closes    int
}

func (b *fakeBackend) HandleEvents(events []json.RawMessage) error { return b.handleErr }
func (b *fakeBackend) Flush() error                                { return b.flushErr }
func (b *fakeBackend) Close() error {
	b.closes++
	return b.closeErr
}

func TestAdapterHandleEventsSuccessDoesNotFail(t *testing.T) {
	backend := &fakeBackend{}
	fatalCalled := false
	a := NewAdapter(backend, logx.New("test", "n", false), func() { fatalCalled = true })

	a.HandleEvents([]json.RawMessage{json.RawMessage(`{}`)})
	assert.False(t, fatalCalled, "fatal should not be called on success")
}

func TestAdapterHandleEventsFailureTriggersFatal(t *testing.T) {
	backend := &fakeBackend{handleErr: errors.New("boom")}
	fatalCalled := false
	a := NewAdapter(backend, logx.New("test", "n", false), func() { fatalCalled = true })

	a.HandleEvents([]json.RawMessage{json.RawMessage(`{}`)})
	assert.True(t, fatalCalled, "expected fatal to be called on backend failure")
}

func TestAdapterFlushFailureTriggersFatal(t *testing.T) {
	backend := &fakeBackend{flushErr: errors.New("boom")}
	fatalCalled := false
	a := NewAdapter(backend, logx.New("test", "n", false), func() { fatalCalled = true })

	a.Flush()
	assert.True(t, fatalCalled, "expected fatal to be called on flush failure")
}

func TestAdapterCloseIsIdempotent(t *testing.T) {
	backend := &fakeBackend{}
	a := NewAdapter(backend, logx.New("test", "n", false), func() {})

	a.Close()
	a.Close()
	assert.Equal(t, 1, backend.closes, "expected backend.Close to be called exactly once")
}
