package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawEvents(n int) []json.RawMessage {
	out := make([]json.RawMessage, n)
	for i := range out {
		out[i] = json.RawMessage(`{}`)
	}
	return out
}

func TestChunkPreservesOrderAndSize(t *testing.T) {
	events := rawEvents(2500)
	chunks := Chunk(events, 1000)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 1000)
	assert.Len(t, chunks[1], 1000)
	assert.Len(t, chunks[2], 500)
}

func TestChunkZeroFallsBackToDefault(t *testing.T) {
	events := rawEvents(DefaultChunkSize + 1)
	chunks := Chunk(events, 0)
	assert.Len(t, chunks, 2)
}

func TestChunkEmptyInput(t *testing.T) {
	assert.Nil(t, Chunk(nil, 10))
}

func TestChunkSmallerThanChunkSize(t *testing.T) {
	events := rawEvents(5)
	chunks := Chunk(events, 1000)
	require.Len(t, chunks, 1)
	assert.Len(t, chunks[0], 5)
}
