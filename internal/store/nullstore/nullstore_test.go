package nullstore

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNullStoreDiscardsEventsAndNeverFails(t *testing.T) {
	s := New()
	assert.NoError(t, s.HandleEvents([]json.RawMessage{json.RawMessage(`{}`)}))
	assert.NoError(t, s.Flush())
	assert.NoError(t, s.Close())
}
