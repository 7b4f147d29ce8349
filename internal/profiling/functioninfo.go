package profiling

import "encoding/binary"

var byteOrder = binary.LittleEndian

// Layout of a function-info record. The child table follows the header,
// aligned to the pointer size of the snapshot.
const (
	offsetID        = 0
	offsetTimeSpent = 8
	offsetCallCount = 16
	offsetFillCount = 20
	offsetTableSize = 24

	// FunctionInfoHeaderSize is the size of the fixed part of a record.
	FunctionInfoHeaderSize = 28

	cpuCyclesMask    = 0x00ffffffffffffff
	activeCallsShift = 56
)

// ChildTableOffset returns the offset of the child table inside a
// function-info record for the given pointer size.
func ChildTableOffset(pointerSize int) int {
	return (FunctionInfoHeaderSize + pointerSize - 1) &^ (pointerSize - 1)
}

// FunctionInfo is a decoded copy of a function-info record header. The
// header is copied out of the snapshot, so its fields stay readable after
// the owning dataset is disposed. Address is only meaningful while the
// dataset is alive.
type FunctionInfo struct {
	Address   LocalAddress
	ID        int32
	TimeSpent uint64
	CallCount int32
	FillCount int32
	TableSize int32
}

// CPUCycles returns the cycles spent in the function, including callees.
func (fi FunctionInfo) CPUCycles() int64 {
	return int64(fi.TimeSpent & cpuCyclesMask)
}

// ActiveCalls returns the number of calls that had not returned when the
// snapshot was taken.
func (fi FunctionInfo) ActiveCalls() int {
	return int(fi.TimeSpent >> activeCallsShift)
}

// DecodeFunctionInfo decodes the record header at the start of b, which must
// hold at least FunctionInfoHeaderSize bytes. Address is left zero.
func DecodeFunctionInfo(b []byte) FunctionInfo {
	return decodeFunctionInfo(0, b)
}

func decodeFunctionInfo(addr LocalAddress, b []byte) FunctionInfo {
	return FunctionInfo{
		Address:   addr,
		ID:        int32(byteOrder.Uint32(b[offsetID:])),
		TimeSpent: byteOrder.Uint64(b[offsetTimeSpent:]),
		CallCount: int32(byteOrder.Uint32(b[offsetCallCount:])),
		FillCount: int32(byteOrder.Uint32(b[offsetFillCount:])),
		TableSize: int32(byteOrder.Uint32(b[offsetTableSize:])),
	}
}

// EncodeFunctionInfo writes a record header into b, which must hold at
// least FunctionInfoHeaderSize bytes. activeCalls is stored in the top
// byte of the time field.
func EncodeFunctionInfo(b []byte, id int32, cycles int64, activeCalls int, callCount, fillCount, tableSize int32) {
	byteOrder.PutUint32(b[offsetID:], uint32(id))
	byteOrder.PutUint32(b[offsetID+4:], 0)
	timeSpent := uint64(cycles)&cpuCyclesMask | uint64(activeCalls)<<activeCallsShift
	byteOrder.PutUint64(b[offsetTimeSpent:], timeSpent)
	byteOrder.PutUint32(b[offsetCallCount:], uint32(callCount))
	byteOrder.PutUint32(b[offsetFillCount:], uint32(fillCount))
	byteOrder.PutUint32(b[offsetTableSize:], uint32(tableSize))
}
