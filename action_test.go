package iotcore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleHandler(ctx context.Context, params *OptionsMap) (*OptionsMap, Status) {
	return NewOptionsMap(), Success
}

func TestActionRegistryRegisterAndLookup(t *testing.T) {
	r := newActionRegistry()
	a := &Action{Name: "reboot", Handler: sampleHandler}
	require.NoError(t, r.Register(a))

	got, err := r.Lookup("reboot")
	require.NoError(t, err)
	assert.Equal(t, "reboot", got.Name)
	assert.Equal(t, ActionRegistered, got.state)
}

func TestActionRegistryAlphabeticalOrder(t *testing.T) {
	r := newActionRegistry()
	require.NoError(t, r.Register(&Action{Name: "zeta", Handler: sampleHandler}))
	require.NoError(t, r.Register(&Action{Name: "alpha", Handler: sampleHandler}))
	require.NoError(t, r.Register(&Action{Name: "mango", Handler: sampleHandler}))

	assert.Equal(t, []string{"alpha", "mango", "zeta"}, r.Names())
}

func TestActionRegistryRejectsDuplicate(t *testing.T) {
	r := newActionRegistry()
	require.NoError(t, r.Register(&Action{Name: "reboot", Handler: sampleHandler}))
	err := r.Register(&Action{Name: "reboot", Handler: sampleHandler})
	assert.ErrorIs(t, err, Exists)
}

func TestActionRequiresExactlyOneOfHandlerOrCommand(t *testing.T) {
	r := newActionRegistry()
	err := r.Register(&Action{Name: "bad"})
	assert.Error(t, err)

	err = r.Register(&Action{Name: "bad2", Handler: sampleHandler, Command: []string{"/bin/true"}})
	assert.Error(t, err)
}

func TestActionRejectsForbiddenNameCharacters(t *testing.T) {
	r := newActionRegistry()
	err := r.Register(&Action{Name: "bad;name", Handler: sampleHandler})
	assert.Error(t, err)
}

func TestActionDeregisterRemovesFromRegistry(t *testing.T) {
	r := newActionRegistry()
	require.NoError(t, r.Register(&Action{Name: "reboot", Handler: sampleHandler}))
	require.NoError(t, r.Deregister("reboot"))

	_, err := r.Lookup("reboot")
	assert.ErrorIs(t, err, NotFound)
}

func TestActionParameterDuplicateRejected(t *testing.T) {
	r := newActionRegistry()
	a := &Action{
		Name:    "configure",
		Handler: sampleHandler,
		Parameters: []Parameter{
			{Name: "level", Direction: DirIn, DeclaredType: TypeInt32},
			{Name: "Level", Direction: DirIn, DeclaredType: TypeInt32},
		},
	}
	err := r.Register(a)
	assert.Error(t, err)
}

func TestParameterDirectionHelpers(t *testing.T) {
	assert.True(t, DirInRequired.IsInput())
	assert.True(t, DirInRequired.IsRequired())
	assert.False(t, DirOut.IsInput())
	assert.False(t, DirOut.IsRequired())
}
