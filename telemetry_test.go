package iotcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelemetryPublishAndLast(t *testing.T) {
	lib := newTestLibrary(t, false)
	require.NoError(t, lib.Telemetry.Register(&Telemetry{Name: "temp", Type: TypeFloat64}))

	v, _ := Set(TypeFloat64, false, 21.5)
	now := time.Now()
	require.NoError(t, lib.Telemetry.Publish("temp", v, now))

	got, ts, err := lib.Telemetry.Last("temp")
	require.NoError(t, err)
	f, _ := got.Float64()
	assert.Equal(t, 21.5, f)
	assert.WithinDuration(t, now, ts, time.Millisecond)
}

func TestTelemetryPublishTypeMismatchRejected(t *testing.T) {
	lib := newTestLibrary(t, false)
	require.NoError(t, lib.Telemetry.Register(&Telemetry{Name: "temp", Type: TypeFloat64}))

	v, _ := Set(TypeString, true, "not a float")
	err := lib.Telemetry.Publish("temp", v, time.Now())
	assert.ErrorIs(t, err, BadRequest)
}

func TestTelemetryDeregisterRemoves(t *testing.T) {
	lib := newTestLibrary(t, false)
	require.NoError(t, lib.Telemetry.Register(&Telemetry{Name: "temp", Type: TypeFloat64}))
	require.NoError(t, lib.Telemetry.Deregister("temp"))

	_, _, err := lib.Telemetry.Last("temp")
	assert.ErrorIs(t, err, NotFound)
}

func TestTelemetryLastWithoutPublishIsNotFound(t *testing.T) {
	lib := newTestLibrary(t, false)
	require.NoError(t, lib.Telemetry.Register(&Telemetry{Name: "temp", Type: TypeFloat64}))

	_, _, err := lib.Telemetry.Last("temp")
	assert.ErrorIs(t, err, NotFound)
}
