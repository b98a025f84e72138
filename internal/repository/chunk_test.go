package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkStrings(t *testing.T) {
	ids := make([]string, 2500)
	for i := range ids {
		ids[i] = "id"
	}

	chunks := chunkStrings(ids, 1000)
	assert.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 1000)
	assert.Len(t, chunks[1], 1000)
	assert.Len(t, chunks[2], 500)

	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	assert.Equal(t, len(ids), total)
}

func TestChunkStrings_Empty(t *testing.T) {
	assert.Nil(t, chunkStrings(nil, 1000))
	assert.Nil(t, chunkStrings([]string{}, 1000))
}

func TestChunkStrings_SmallerThanChunk(t *testing.T) {
	chunks := chunkStrings([]string{"a", "b"}, 1000)
	assert.Len(t, chunks, 1)
	assert.Equal(t, []string{"a", "b"}, chunks[0])
}

func TestChunkStrings_InvalidSizeFallsBack(t *testing.T) {
	ids := make([]string, DefaultChunkSize+1)
	chunks := chunkStrings(ids, 0)
	assert.Len(t, chunks, 2)
}
