package iotcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlarmRaiseAndClear(t *testing.T) {
	lib := newTestLibrary(t, false)
	require.NoError(t, lib.Alarms.Register(&Alarm{Name: "over_temp", Severity: AlarmCritical}))

	require.NoError(t, lib.Alarms.Publish("over_temp", AlarmRaised, time.Now(), Value{}))
	state, _, err := lib.Alarms.State("over_temp")
	require.NoError(t, err)
	assert.Equal(t, AlarmRaised, state)

	require.NoError(t, lib.Alarms.Publish("over_temp", AlarmCleared, time.Now(), Value{}))
	state, _, err = lib.Alarms.State("over_temp")
	require.NoError(t, err)
	assert.Equal(t, AlarmCleared, state)
}

func TestAlarmRegisterDuplicateRejected(t *testing.T) {
	lib := newTestLibrary(t, false)
	require.NoError(t, lib.Alarms.Register(&Alarm{Name: "a"}))
	err := lib.Alarms.Register(&Alarm{Name: "a"})
	assert.ErrorIs(t, err, Exists)
}

func TestAlarmPublishUnregisteredFails(t *testing.T) {
	lib := newTestLibrary(t, false)
	err := lib.Alarms.Publish("nope", AlarmRaised, time.Now(), Value{})
	assert.ErrorIs(t, err, NotFound)
}
