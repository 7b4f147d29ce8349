package snapshot

import (
	"profsnap/internal/profiling"
)

// recordAlign keeps every record 8-byte aligned in both widths.
const recordAlign = 8

// Builder lays out function-info records the way the profiler does in the
// profiled process. Records reference children by process address, so
// children are added before their parents.
type Builder struct {
	start   profiling.TargetAddress
	is64Bit bool
	data    []byte
	names   []profiling.NameMapping
}

// NewBuilder returns a Builder for memory starting at start.
func NewBuilder(start profiling.TargetAddress, is64Bit bool) *Builder {
	return &Builder{start: start, is64Bit: is64Bit}
}

func (b *Builder) pointerSize() int {
	if b.is64Bit {
		return 8
	}
	return 4
}

// Add appends a record and returns its process address. A zero child
// address leaves an empty slot in the child table.
func (b *Builder) Add(id int32, cycles int64, activeCalls int, callCount int32,
	children ...profiling.TargetAddress) profiling.TargetAddress {
	for len(b.data)%recordAlign != 0 {
		b.data = append(b.data, 0)
	}
	off := len(b.data)
	ptrSize := b.pointerSize()
	tableOff := profiling.ChildTableOffset(ptrSize)
	b.data = append(b.data, make([]byte, tableOff+len(children)*ptrSize)...)

	var fill int32
	for i, c := range children {
		if c == 0 {
			continue
		}
		fill++
		slot := b.data[off+tableOff+i*ptrSize:]
		if b.is64Bit {
			byteOrder.PutUint64(slot, uint64(c))
		} else {
			byteOrder.PutUint32(slot, uint32(c))
		}
	}
	profiling.EncodeFunctionInfo(b.data[off:], id, cycles, activeCalls, callCount, fill,
		int32(len(children)))
	return b.start + profiling.TargetAddress(off)
}

// Tree describes a call tree for AddTree.
type Tree struct {
	ID          int32
	Cycles      int64
	ActiveCalls int
	CallCount   int32
	Children    []Tree
}

// AddTree adds t and all of its descendants and returns the address of the
// record for t.
func (b *Builder) AddTree(t Tree) profiling.TargetAddress {
	children := make([]profiling.TargetAddress, len(t.Children))
	for i, c := range t.Children {
		children[i] = b.AddTree(c)
	}
	return b.Add(t.ID, t.Cycles, t.ActiveCalls, t.CallCount, children...)
}

// AddName records a name mapping.
func (b *Builder) AddName(m profiling.NameMapping) {
	b.names = append(b.names, m)
}

func (b *Builder) Start() profiling.TargetAddress {
	return b.start
}

// Data returns the laid out memory.
func (b *Builder) Data() []byte {
	return b.data
}

func (b *Builder) Names() []profiling.NameMapping {
	return b.names
}

// Header returns a header describing the built memory.
func (b *Builder) Header(root profiling.TargetAddress, isFirst bool, processorFrequency int64) Header {
	return Header{
		Version:                  Version,
		Is64Bit:                  b.is64Bit,
		IsFirst:                  isFirst,
		ProcessorFrequency:       processorFrequency,
		StartPosition:            b.start,
		RootFunctionInfoPosition: root,
		DataLength:               uint64(len(b.data)),
		NameCount:                uint32(len(b.names)),
	}
}

// Dataset returns a dataset over a copy of the built memory.
func (b *Builder) Dataset(root profiling.TargetAddress, isFirst bool, processorFrequency int64) *profiling.Dataset {
	data := append([]byte(nil), b.data...)
	names := make(profiling.NameTable, len(b.names))
	for _, m := range b.names {
		names[m.ID] = m
	}
	return profiling.New(b.start, root, data, isFirst, b.is64Bit,
		profiling.WithProcessorFrequency(processorFrequency),
		profiling.WithNameResolver(names))
}
