package iotcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsMapSetGetString(t *testing.T) {
	m := NewOptionsMap()
	require.NoError(t, m.SetString("name", "device-1"))

	got, err := m.GetString("name")
	require.NoError(t, err)
	assert.Equal(t, "device-1", got)
}

func TestOptionsMapSortedOrderCaseInsensitive(t *testing.T) {
	m := NewOptionsMap()
	require.NoError(t, m.SetString("Zebra", "z"))
	require.NoError(t, m.SetString("apple", "a"))
	require.NoError(t, m.SetString("Mango", "m"))

	assert.Equal(t, []string{"apple", "Mango", "Zebra"}, m.Names())

	got, err := m.GetString("ZEBRA")
	require.NoError(t, err)
	assert.Equal(t, "z", got)
}

func TestOptionsMapSetNullClears(t *testing.T) {
	m := NewOptionsMap()
	require.NoError(t, m.SetString("k", "v"))
	require.NoError(t, m.Clear("k"))

	_, err := m.GetRaw("k")
	assert.Error(t, err)
	assert.Equal(t, 0, m.Len())
}

func TestOptionsMapClearMissingIsNoop(t *testing.T) {
	m := NewOptionsMap()
	assert.NoError(t, m.Clear("missing"))
	assert.Equal(t, 0, m.Len())
}

func TestOptionsMapOverwriteInPlace(t *testing.T) {
	m := NewOptionsMap()
	require.NoError(t, m.SetString("k", "v1"))
	require.NoError(t, m.SetString("k", "v2"))
	assert.Equal(t, 1, m.Len())

	got, _ := m.GetString("k")
	assert.Equal(t, "v2", got)
}

func TestOptionsMapFullRejectsBeyondCapacity(t *testing.T) {
	m := NewOptionsMap()
	for i := 0; i < OptionMax; i++ {
		name := string(rune('a'+(i%26))) + string(rune('A'+(i/26)))
		require.NoError(t, m.SetInt32(name, int32(i)))
	}
	err := m.SetString("overflow-key", "x")
	assert.ErrorIs(t, err, Full)
}

func TestOptionsMapGetWithConversion(t *testing.T) {
	m := NewOptionsMap()
	require.NoError(t, m.SetInt32("count", 7))

	f, err := m.GetFloat64("count")
	require.NoError(t, err)
	assert.Equal(t, 7.0, f)
}

func TestOptionsMapCloneIsIndependent(t *testing.T) {
	m := NewOptionsMap()
	require.NoError(t, m.SetRawBytes("blob", []byte{1, 2, 3}))

	cloned := m.clone()
	b, _ := m.GetRawBytes("blob")
	b[0] = 99

	cb, _ := cloned.GetRawBytes("blob")
	assert.Equal(t, byte(1), cb[0])
}
