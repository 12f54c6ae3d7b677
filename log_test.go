package iotcore

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevelCaseInsensitive(t *testing.T) {
	lvl, err := ParseLogLevel("WARNING")
	require.NoError(t, err)
	assert.Equal(t, LogWarning, lvl)

	_, err = ParseLogLevel("bogus")
	assert.Error(t, err)
}

func TestLoggerLevelGateSuppressesBelowMinimum(t *testing.T) {
	log := NewLogger(zerolog.Nop())
	log.SetLevel(LogWarning)

	var captured []string
	log.SetCallback(func(level LogLevel, component, message string) {
		captured = append(captured, message)
	})

	log.Log(LogDebug, "test", "should be suppressed")
	log.Log(LogError, "test", "should pass")

	assert.Equal(t, []string{"should pass"}, captured)
}

func TestLoggerLevelRoundTrip(t *testing.T) {
	log := NewLogger(zerolog.Nop())
	log.SetLevel(LogError)
	assert.Equal(t, LogError, log.Level())
}
