// Package nullstore implements a no-op state store, used for the dummy
// scenario and for tests that need a backend with no persistence
// behavior. Grounded on original_source/matrix/nullstore.py.
package nullstore

import "encoding/json"

// Store discards every event and never fails.
type Store struct{}

// New creates a no-op store.
func New() *Store { return &Store{} }

func (s *Store) HandleEvents(events []json.RawMessage) error { return nil }
func (s *Store) Flush() error                                { return nil }
func (s *Store) Close() error                                { return nil }
