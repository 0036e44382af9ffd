package bridge

import (
	"github.com/drivefs/drivefs/pkg/types"
)

// FlagBit associates one platform open-flag bit with its canonical
// equivalent. Bits are single-flag masks; the access mode is not a bit and
// is handled separately by FlagTable.
type FlagBit struct {
	Platform  uint32
	Canonical types.OpenFlags
}

// FlagTable describes how a transport's open flags map onto the canonical
// layout. The access mode (O_RDONLY, O_WRONLY, O_RDWR) is a two-bit field
// rather than independent bits, so it is matched by value under AccessMask
// while the remaining flags translate bit by bit. Platform bits without a
// table entry are dropped.
type FlagTable struct {
	AccessMask uint32
	ReadOnly   uint32
	WriteOnly  uint32
	ReadWrite  uint32
	Bits       []FlagBit
}

// Translate folds a raw platform flag word into canonical flags.
func (t *FlagTable) Translate(raw uint32) types.OpenFlags {
	var flags types.OpenFlags
	switch raw & t.AccessMask {
	case t.WriteOnly:
		flags = types.FlagWriteOnly
	case t.ReadWrite:
		flags = types.FlagReadWrite
	default:
		flags = types.FlagReadOnly
	}
	for _, bit := range t.Bits {
		if raw&bit.Platform != 0 {
			flags |= bit.Canonical
		}
	}
	return flags
}

// CanonicalFlagTable returns the table for transports that already deliver
// Linux-layout flags. Translation through it is the identity for every flag
// the bridge understands.
func CanonicalFlagTable() *FlagTable {
	return &FlagTable{
		AccessMask: uint32(types.AccessModeMask),
		ReadOnly:   uint32(types.FlagReadOnly),
		WriteOnly:  uint32(types.FlagWriteOnly),
		ReadWrite:  uint32(types.FlagReadWrite),
		Bits: []FlagBit{
			{Platform: uint32(types.FlagCreate), Canonical: types.FlagCreate},
			{Platform: uint32(types.FlagExclusive), Canonical: types.FlagExclusive},
			{Platform: uint32(types.FlagTruncate), Canonical: types.FlagTruncate},
			{Platform: uint32(types.FlagAppend), Canonical: types.FlagAppend},
		},
	}
}
