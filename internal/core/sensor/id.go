package sensor

import (
	"cmp"
	"fmt"
)

// maxGeneration is the generation ceiling. Generations wrap back to 1 after
// it, so a handle held across 65535 reuses of its slot may alias a newer
// volume. Generation 0 is never issued.
const maxGeneration = 0xFFFF

// VolumeID is a stable handle to a volume: the arena slot plus the slot
// generation current when the volume was created. The zero value is invalid.
type VolumeID struct {
	Index      uint32
	Generation uint16
}

// InvalidVolumeID is returned when a volume could not be created.
var InvalidVolumeID = VolumeID{}

func (id VolumeID) IsValid() bool { return id.Generation != 0 }

// Compare orders ids by slot, then generation.
func (id VolumeID) Compare(o VolumeID) int {
	if c := cmp.Compare(id.Index, o.Index); c != 0 {
		return c
	}
	return cmp.Compare(id.Generation, o.Generation)
}

// Key packs the id into one integer, for use as a map key or wire value.
func (id VolumeID) Key() uint64 {
	return uint64(id.Index)<<16 | uint64(id.Generation)
}

// VolumeIDFromKey reverses Key.
func VolumeIDFromKey(k uint64) VolumeID {
	return VolumeID{Index: uint32(k >> 16), Generation: uint16(k)}
}

func (id VolumeID) String() string {
	if !id.IsValid() {
		return "volume(invalid)"
	}
	return fmt.Sprintf("volume(%d#%d)", id.Index, id.Generation)
}
