package mmalloc

import "unsafe"

// blockAddr returns a stable integer identity for a block's backing
// array, used as the tag table's key. This never dereferences the
// pointer as an address into real memory beyond what Go's slice header
// already exposes.
func blockAddr(block []byte) uintptr {
	if len(block) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&block[0]))
}
