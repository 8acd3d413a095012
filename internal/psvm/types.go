// Package psvm layers the PostScript Virtual Memory on top of the
// allocation front-end: four save/restore-aware pools (local and global
// object space, local and global typed/weak space), a save-level stack,
// and garbage collection wired in as three low-memory handlers at the
// RAM, disk and trash-VM tiers.
package psvm

// Save-level bounds. Local pools run the full range; global pools only
// participate up to MaxGlobalSaveLevel+1, after which globals are
// effectively frozen for the remainder of the local save stack — the
// asymmetry spec.md calls out explicitly for save/restore.
const (
	MinSaveLevel       = 0
	MaxSaveLevels      = 31
	SaveLevelInc       = 2
	MaxGlobalSaveLevel = 1
)

// VMKind distinguishes the local/global halves of PS VM.
type VMKind int

const (
	VMLocal VMKind = iota
	VMGlobal
)

func (k VMKind) String() string {
	if k == VMGlobal {
		return "global"
	}
	return "local"
}

// ObjectKind is the PS object kind of a freshly allocated slot. Only
// ONull is passed by the allocation points here; allocSlot does not
// write it into the block, and populating the object is left to the
// interpreter.
type ObjectKind int

const (
	ONull ObjectKind = iota
	OExactTyped
	OWeakTyped
)

// Slot names the header fields of a PS-VM allocation: the save level
// and VM kind it was born at, as the original packs ISPSVM|ISLOCAL|GLMODE
// bits into an object header. No allocation path in this package writes
// a Slot into a block.
type Slot struct {
	SaveLevel int32
	VM        VMKind
	Kind      ObjectKind
}
