package idgen

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnowflakeIsMonotonicAndUnique(t *testing.T) {
	g, err := NewSnowflake(42)
	require.NoError(t, err)

	var prev int64
	seen := make(map[string]bool)
	for i := 0; i < 5000; i++ {
		id := g.NewID()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
		n, err := strconv.ParseInt(id, 10, 64)
		require.NoError(t, err)
		require.Greater(t, n, prev)
		prev = n
	}
}

func TestUUIDv7IsOrdered(t *testing.T) {
	var g UUIDv7
	prev := g.NewID()
	for i := 0; i < 1000; i++ {
		id := g.NewID()
		require.Greater(t, id, prev)
		prev = id
	}
}

func TestNew(t *testing.T) {
	g, err := New("", 42)
	require.NoError(t, err)
	assert.IsType(t, &Snowflake{}, g)

	g, err = New(StrategyUUIDv7, 0)
	require.NoError(t, err)
	assert.IsType(t, UUIDv7{}, g)

	_, err = New("random", 0)
	assert.Error(t, err)
	_, err = New(StrategySnowflake, 5000)
	assert.Error(t, err)
}
