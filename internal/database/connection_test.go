package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessions_CloseToleratesNilPools(t *testing.T) {
	s := &Sessions{}
	assert.NotPanics(t, func() { s.Close() })
}

func TestSessions_HealthSkipsNilPools(t *testing.T) {
	s := &Sessions{}
	require.NoError(t, s.Health(context.Background()))
}
