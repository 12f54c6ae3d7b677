package iotcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPlugin struct {
	name     string
	priority int
	executed []string
	result   Status
}

func (s *stubPlugin) Initialize(lib *Library) (interface{}, error) { return nil, nil }
func (s *stubPlugin) Terminate(lib *Library, state interface{})    {}
func (s *stubPlugin) Enable(lib *Library, state interface{}) error  { return nil }
func (s *stubPlugin) Disable(lib *Library, state interface{}, force bool) error {
	return nil
}
func (s *stubPlugin) Execute(lib *Library, state interface{}, op Operation, step Step, deadline *Deadline, item PipelineItem) Status {
	s.executed = append(s.executed, s.name)
	return s.result
}
func (s *stubPlugin) Info() PluginInfo {
	return PluginInfo{
		Name:           s.name,
		OrderPriority:  s.priority,
		SupportedRange: VersionBracket{},
	}
}

func TestPluginManagerEnableOrdersByPriority(t *testing.T) {
	m := newPluginManager(Version{Major: 1}, nil)
	p1 := &stubPlugin{name: "second", priority: 10}
	p2 := &stubPlugin{name: "first", priority: 1}

	require.NoError(t, m.Load(nil, p1))
	require.NoError(t, m.Load(nil, p2))
	require.NoError(t, m.Enable(nil, "second"))
	require.NoError(t, m.Enable(nil, "first"))

	assert.Equal(t, []string{"first", "second"}, m.EnabledNames())
}

func TestPluginManagerVersionBracketRejectsUnsupported(t *testing.T) {
	m := newPluginManager(Version{Major: 2}, nil)
	p := &stubPlugin{name: "old"}
	p.result = Success

	pluginWithBracket := &versionedStub{stubPlugin: p, min: Version{Major: 1}, max: Version{Major: 1, Minor: 9}}
	err := m.Load(nil, pluginWithBracket)
	assert.ErrorIs(t, err, NotSupported)
}

type versionedStub struct {
	*stubPlugin
	min, max Version
}

func (v *versionedStub) Info() PluginInfo {
	info := v.stubPlugin.Info()
	info.SupportedRange = VersionBracket{Min: v.min, Max: v.max}
	return info
}

func TestPluginManagerPerformAggregatesHighestStatus(t *testing.T) {
	m := newPluginManager(Version{}, nil)
	low := &stubPlugin{name: "low", result: Success}
	high := &stubPlugin{name: "high", priority: 1, result: BadRequest}

	require.NoError(t, m.Load(nil, low))
	require.NoError(t, m.Load(nil, high))
	require.NoError(t, m.Enable(nil, "low"))
	require.NoError(t, m.Enable(nil, "high"))

	result := m.Perform(nil, OpTelemetryPublish, NewDeadline(0), PipelineItem{})
	assert.Equal(t, BadRequest, result)
	assert.Len(t, low.executed, 3) // before/during/after
}

func TestPluginManagerDisableAllForces(t *testing.T) {
	m := newPluginManager(Version{}, nil)
	p := &stubPlugin{name: "p"}
	require.NoError(t, m.Load(nil, p))
	require.NoError(t, m.Enable(nil, "p"))

	m.DisableAll(nil)
	assert.Empty(t, m.EnabledNames())
}

func TestVersionBracketZeroMeansUnbounded(t *testing.T) {
	b := VersionBracket{}
	assert.True(t, b.Brackets(Version{Major: 255}))
}

func TestDeadlineSpendExhausts(t *testing.T) {
	d := NewDeadline(100)
	assert.False(t, d.Spend(50))
	assert.True(t, d.Spend(60))
	assert.True(t, d.Exhausted())
}

func TestDeadlineUnlimitedNeverExhausts(t *testing.T) {
	d := NewDeadline(0)
	assert.False(t, d.Spend(1_000_000))
	assert.False(t, d.Exhausted())
}
