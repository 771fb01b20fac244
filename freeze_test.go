package main

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/kubewatch/internal/toggle"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"30m", 30 * time.Minute},
		{"2h", 2 * time.Hour},
		{"1h30m", 90 * time.Minute},
		{"1d", 24 * time.Hour},
		{"2d", 48 * time.Hour},
		{"1d12h", 36 * time.Hour},
		{"1d0h30m", 24*time.Hour + 30*time.Minute},
		{"45s", 45 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDuration(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDuration_Invalid(t *testing.T) {
	for _, in := range []string{"", "abc", "-5m", "0s", "0d", "1w", "d", "1.5d"} {
		t.Run(in, func(t *testing.T) {
			_, err := parseDuration(in)
			assert.Error(t, err)
		})
	}
}

func TestFreeze_Indefinite(t *testing.T) {
	env := newTestEnv(t, "")

	_, err := env.run(t, "freeze")
	require.NoError(t, err)

	m, err := toggle.ReadMarker(env.FreezeFile)
	require.NoError(t, err)
	assert.True(t, m.Present)
	assert.True(t, m.Until.IsZero())
}

func TestFreeze_WithDuration(t *testing.T) {
	env := newTestEnv(t, "")

	before := time.Now()

	_, err := env.run(t, "freeze", "2h")
	require.NoError(t, err)

	m, err := toggle.ReadMarker(env.FreezeFile)
	require.NoError(t, err)
	require.True(t, m.Present)

	assert.WithinDuration(t, before.Add(2*time.Hour), m.Until, 5*time.Second)
	assert.True(t, m.Active(time.Now()))
	assert.False(t, m.Active(time.Now().Add(3*time.Hour)))
}

func TestFreeze_InvalidDuration(t *testing.T) {
	env := newTestEnv(t, "")

	_, err := env.run(t, "freeze", "soon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid duration "soon"`)

	_, statErr := os.Stat(env.FreezeFile)
	assert.True(t, os.IsNotExist(statErr))
}

func TestFreeze_TooManyArgs(t *testing.T) {
	env := newTestEnv(t, "")

	_, err := env.run(t, "freeze", "1h", "2h")
	require.Error(t, err)
}

func TestThaw_RemovesMarker(t *testing.T) {
	env := newTestEnv(t, "")

	_, err := env.run(t, "freeze", "1d")
	require.NoError(t, err)

	_, err = env.run(t, "thaw")
	require.NoError(t, err)

	_, statErr := os.Stat(env.FreezeFile)
	assert.True(t, os.IsNotExist(statErr))
}

func TestThaw_NotFrozen(t *testing.T) {
	env := newTestEnv(t, "")

	_, err := env.run(t, "thaw")
	require.NoError(t, err)
}
