package iotcore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type connectStub struct {
	attempts int
	succeeds int
}

func (s *connectStub) Initialize(lib *Library) (interface{}, error) { return nil, nil }
func (s *connectStub) Terminate(lib *Library, state interface{})    {}
func (s *connectStub) Enable(lib *Library, state interface{}) error { return nil }
func (s *connectStub) Disable(lib *Library, state interface{}, force bool) error {
	return nil
}
func (s *connectStub) Execute(lib *Library, state interface{}, op Operation, step Step, deadline *Deadline, item PipelineItem) Status {
	if op != OpConnect || step != StepDuring {
		return Success
	}
	s.attempts++
	if s.attempts >= s.succeeds {
		return Success
	}
	return TryAgain
}
func (s *connectStub) Info() PluginInfo {
	return PluginInfo{Name: "connect-stub", SupportedRange: VersionBracket{}}
}

func TestLibraryReconnectRetriesUntilSuccess(t *testing.T) {
	lib := newTestLibrary(t, false)
	stub := &connectStub{succeeds: 3}
	require.NoError(t, lib.Plugins.Load(lib, stub))
	require.NoError(t, lib.Plugins.Enable(lib, "connect-stub"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := lib.Reconnect(ctx, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 3, stub.attempts)
}

func TestLibraryReconnectPropagatesNonRetryableFailure(t *testing.T) {
	lib := newTestLibrary(t, false)
	require.NoError(t, lib.Plugins.Load(lib, &alwaysFailConnect{}))
	require.NoError(t, lib.Plugins.Enable(lib, "fail-connect"))

	err := lib.Reconnect(context.Background(), time.Millisecond)
	assert.Error(t, err)
}

type alwaysFailConnect struct{}

func (alwaysFailConnect) Initialize(lib *Library) (interface{}, error) { return nil, nil }
func (alwaysFailConnect) Terminate(lib *Library, state interface{})   {}
func (alwaysFailConnect) Enable(lib *Library, state interface{}) error { return nil }
func (alwaysFailConnect) Disable(lib *Library, state interface{}, force bool) error {
	return nil
}
func (alwaysFailConnect) Execute(lib *Library, state interface{}, op Operation, step Step, deadline *Deadline, item PipelineItem) Status {
	if op == OpConnect {
		return NoPermission
	}
	return Success
}
func (alwaysFailConnect) Info() PluginInfo {
	return PluginInfo{Name: "fail-connect", SupportedRange: VersionBracket{}}
}

func TestLibraryTerminateIsIdempotent(t *testing.T) {
	lib := newTestLibrary(t, false)
	lib.Start()
	lib.Terminate()
	assert.NotPanics(t, func() { lib.Terminate() })
}
