package sensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArenaGrowsUpToLimit(t *testing.T) {
	a := newArena(100)
	seen := make(map[uint32]bool)
	for i := 0; i < 100; i++ {
		v := a.allocate()
		require.NotNil(t, v, "allocation %d", i)
		require.False(t, seen[v.id.Index])
		seen[v.id.Index] = true
		require.Equal(t, uint16(1), v.id.Generation)
	}
	require.Nil(t, a.allocate())
	require.Len(t, a.slots, 100)
	require.Equal(t, 100, a.live)
}

func TestArenaAllocatesLowSlotsFirst(t *testing.T) {
	a := newArena(DefaultMaxVolumes)
	for i := uint32(0); i < 3; i++ {
		require.Equal(t, i, a.allocate().id.Index)
	}
}

func TestArenaReleaseBumpsGeneration(t *testing.T) {
	a := newArena(8)
	v := a.allocate()
	id := v.id
	require.Same(t, v, a.resolve(id))

	a.release(v)
	require.Nil(t, a.resolve(id))
	require.Zero(t, a.live)

	w := a.allocate()
	require.Equal(t, id.Index, w.id.Index)
	require.Equal(t, id.Generation+1, w.id.Generation)
	require.Nil(t, a.resolve(id))
	require.Same(t, w, a.resolve(w.id))
}

func TestArenaGenerationWrapsToOne(t *testing.T) {
	a := newArena(8)
	v := a.allocate()
	v.id.Generation = maxGeneration
	a.release(v)

	w := a.allocate()
	require.Equal(t, v.id.Index, w.id.Index)
	require.Equal(t, uint16(1), w.id.Generation)
}

func TestArenaResolveRejectsInvalid(t *testing.T) {
	a := newArena(8)
	a.allocate()
	assert.Nil(t, a.resolve(InvalidVolumeID))
	assert.Nil(t, a.resolve(VolumeID{Index: 0, Generation: 2}))
	assert.Nil(t, a.resolve(VolumeID{Index: 5000, Generation: 1}))
	// allocated by growth but never handed out
	assert.Nil(t, a.resolve(VolumeID{Index: 3, Generation: 1}))
}

func TestVolumeID(t *testing.T) {
	id := VolumeID{Index: 123456, Generation: 77}
	assert.True(t, id.IsValid())
	assert.False(t, InvalidVolumeID.IsValid())
	assert.Equal(t, id, VolumeIDFromKey(id.Key()))
	assert.Equal(t, "volume(123456#77)", id.String())
	assert.Equal(t, "volume(invalid)", InvalidVolumeID.String())

	assert.Negative(t, VolumeID{Index: 1, Generation: 9}.Compare(VolumeID{Index: 2, Generation: 1}))
	assert.Positive(t, VolumeID{Index: 2, Generation: 2}.Compare(VolumeID{Index: 2, Generation: 1}))
	assert.Zero(t, id.Compare(id))
}
