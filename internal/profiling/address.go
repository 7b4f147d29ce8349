package profiling

import "fmt"

// TargetAddress is an address in the profiled process. For 32-bit snapshots
// only the low 32 bits are meaningful.
type TargetAddress uint64

func (a TargetAddress) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}

// LocalAddress is an address inside the local copy of the snapshot.
type LocalAddress uintptr

func (a LocalAddress) String() string {
	return fmt.Sprintf("0x%x", uintptr(a))
}

// width describes how process pointers are stored in a snapshot.
// Exactly two implementations exist: width32 and width64.
type width interface {
	size() int
	// offset returns addr-start in the process' pointer arithmetic.
	offset(addr, start TargetAddress) uint64
	readPointer(b []byte) TargetAddress
}

type width32 struct{}

func (width32) size() int { return 4 }

func (width32) offset(addr, start TargetAddress) uint64 {
	return uint64(uint32(addr) - uint32(start))
}

func (width32) readPointer(b []byte) TargetAddress {
	return TargetAddress(byteOrder.Uint32(b))
}

type width64 struct{}

func (width64) size() int { return 8 }

func (width64) offset(addr, start TargetAddress) uint64 {
	return uint64(addr - start)
}

func (width64) readPointer(b []byte) TargetAddress {
	return TargetAddress(byteOrder.Uint64(b))
}
