package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWallClock(t *testing.T) {
	hour, minute, err := parseWallClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, 9, hour)
	assert.Equal(t, 30, minute)

	hour, minute, err = parseWallClock("23:59")
	require.NoError(t, err)
	assert.Equal(t, 23, hour)
	assert.Equal(t, 59, minute)

	_, _, err = parseWallClock("9:30am")
	assert.Error(t, err)

	_, _, err = parseWallClock("25:00")
	assert.Error(t, err)
}

func TestNextFiring(t *testing.T) {
	loc := time.UTC

	// Before today's firing time: fires today.
	now := time.Date(2025, 11, 3, 8, 0, 0, 0, loc)
	next := nextFiring(now, 9, 30)
	assert.Equal(t, time.Date(2025, 11, 3, 9, 30, 0, 0, loc), next)

	// After today's firing time: fires tomorrow.
	now = time.Date(2025, 11, 3, 10, 0, 0, 0, loc)
	next = nextFiring(now, 9, 30)
	assert.Equal(t, time.Date(2025, 11, 4, 9, 30, 0, 0, loc), next)

	// Exactly at the firing time: strictly after, so tomorrow.
	now = time.Date(2025, 11, 3, 9, 30, 0, 0, loc)
	next = nextFiring(now, 9, 30)
	assert.Equal(t, time.Date(2025, 11, 4, 9, 30, 0, 0, loc), next)
}
