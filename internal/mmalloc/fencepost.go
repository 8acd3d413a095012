package mmalloc

import (
	"encoding/binary"
	"errors"
)

// fenceWidth is the width in bytes of each guard region bracketing a
// payload: 8 bytes before, 8 bytes after.
const fenceWidth = 8

var fencePattern = [fenceWidth]byte{0xde, 0xad, 0xbe, 0xef, 0xde, 0xad, 0xbe, 0xef}

// ErrFenceCorrupted is returned when a guard region no longer matches
// the expected pattern, meaning something wrote outside its allocation.
var ErrFenceCorrupted = errors.New("mmalloc: fencepost corrupted, buffer overrun detected")

// wrapFenceposts returns a block of size+2*fenceWidth bytes: the guard
// pattern, then size bytes of zeroed payload, then the guard pattern
// again. The returned slice's payload region is block[fenceWidth : fenceWidth+size].
func wrapFenceposts(size int64) []byte {
	block := make([]byte, size+2*fenceWidth)
	copy(block[:fenceWidth], fencePattern[:])
	copy(block[fenceWidth+size:], fencePattern[:])
	return block
}

// payload returns the payload region of a fenced block.
func payload(block []byte) []byte {
	if len(block) < 2*fenceWidth {
		return nil
	}
	return block[fenceWidth : len(block)-fenceWidth]
}

// truncateFence rewrites the trailing fencepost at newSize bytes into
// block's payload and returns the block re-sliced to its new total
// length. block must have enough capacity for newSize plus both guard
// regions (true for any newSize <= the block's original payload size,
// which is the only way callers use this).
func truncateFence(block []byte, newSize int64) []byte {
	end := fenceWidth + newSize
	copy(block[end:end+fenceWidth], fencePattern[:])
	return block[:end+fenceWidth]
}

// checkFenceposts verifies both guard regions are intact.
func checkFenceposts(block []byte) error {
	if len(block) < 2*fenceWidth {
		return ErrFenceCorrupted
	}
	if !bytesEqual(block[:fenceWidth], fencePattern[:]) {
		return ErrFenceCorrupted
	}
	if !bytesEqual(block[len(block)-fenceWidth:], fencePattern[:]) {
		return ErrFenceCorrupted
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// addressKey packs an address's upper bits into the tag table's
// bucket key; used by TagTable to keep its index compact regardless of
// where the arena was mapped.
func addressKey(addr uintptr, shift uint) uint64 {
	return uint64(addr) >> shift
}

func init() {
	// guards against accidental pattern width drift between
	// wrapFenceposts and the binary.Size of a fenceWidth-byte array.
	var probe [fenceWidth]byte
	if binary.Size(probe) != fenceWidth {
		panic("mmalloc: fence pattern width mismatch")
	}
}
