// Package profiling reads call-tree data out of a captured profiler snapshot.
//
// A snapshot is a copy of the profiler's shared memory taken from another
// process. Records inside it reference each other with pointers that are
// only meaningful in that process' address space, stored as 4-byte or 8-byte
// values depending on the profiled process. A Dataset translates those
// pointers into its local copy and builds call-tree nodes on demand.
//
// The memory behind a Dataset belongs to whoever created it. Dispose marks
// the Dataset unusable before that memory is released; every later access
// fails with ErrUseAfterDispose. Reads may run concurrently, but Dispose must
// not race with them.
package profiling

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	log "github.com/sirupsen/logrus"
)

// Dataset is a view over one captured snapshot.
type Dataset struct {
	startPosition            TargetAddress
	rootFunctionInfoPosition TargetAddress

	buf  []byte
	base LocalAddress

	is64Bit bool
	isFirst bool
	width   width

	processorFrequency int64
	names              NameResolver
	logger             log.FieldLogger

	disposed atomic.Bool
}

// Option configures a Dataset.
type Option func(*Dataset)

// WithProcessorFrequency sets the processor frequency, in MHz, of the
// machine the snapshot was captured on.
func WithProcessorFrequency(mhz int64) Option {
	return func(d *Dataset) {
		d.processorFrequency = mhz
	}
}

// WithNameResolver sets the resolver used by GetMapping.
func WithNameResolver(r NameResolver) Option {
	return func(d *Dataset) {
		d.names = r
	}
}

// WithLogger sets the logger. The standard logrus logger is used otherwise.
func WithLogger(l log.FieldLogger) Option {
	return func(d *Dataset) {
		d.logger = l
	}
}

// New creates a Dataset over buf, which holds the process memory starting
// at startPosition. The buffer is not validated; a malformed snapshot is
// only noticed when it is read.
func New(startPosition, rootFunctionInfoPosition TargetAddress, buf []byte,
	isFirst, is64Bit bool, opts ...Option) *Dataset {
	d := &Dataset{
		startPosition:            startPosition,
		rootFunctionInfoPosition: rootFunctionInfoPosition,
		buf:                      buf,
		base:                     LocalAddress(uintptr(unsafe.Pointer(unsafe.SliceData(buf)))),
		is64Bit:                  is64Bit,
		isFirst:                  isFirst,
		logger:                   log.StandardLogger(),
	}
	if is64Bit {
		d.width = width64{}
	} else {
		d.width = width32{}
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dataset) String() string {
	return fmt.Sprintf("Dataset{start:%v, root:%v, length:0x%x, 64bit:%v, first:%v, disposed:%v}",
		d.startPosition, d.rootFunctionInfoPosition, len(d.buf), d.is64Bit, d.isFirst, d.IsDisposed())
}

// Length returns the size of the snapshot in bytes.
func (d *Dataset) Length() int {
	return len(d.buf)
}

// Is64Bit reports whether the profiled process used 8-byte pointers.
func (d *Dataset) Is64Bit() bool {
	return d.is64Bit
}

// IsFirst reports whether this is the first snapshot of a session.
func (d *Dataset) IsFirst() bool {
	return d.isFirst
}

// PointerSize returns the size of a process pointer in bytes.
func (d *Dataset) PointerSize() int {
	return d.width.size()
}

func (d *Dataset) StartPosition() TargetAddress {
	return d.startPosition
}

func (d *Dataset) RootFunctionInfoPosition() TargetAddress {
	return d.rootFunctionInfoPosition
}

// ProcessorFrequency returns the processor frequency in MHz, or 0 if the
// capture did not record it.
func (d *Dataset) ProcessorFrequency() int64 {
	return d.processorFrequency
}

// GetMapping resolves a name id. Ids without a mapping resolve to
// UnknownMapping. Name tables live outside the snapshot memory, so this
// works after Dispose.
func (d *Dataset) GetMapping(id int32) NameMapping {
	if d.names != nil {
		if m, ok := d.names.LookupMapping(id); ok {
			return m
		}
	}
	return UnknownMapping(id)
}

// IsDisposed reports whether Dispose has been called.
func (d *Dataset) IsDisposed() bool {
	return d.disposed.Load()
}

// Dispose marks the dataset unusable. It does not release the buffer; the
// owner of the buffer does that after calling Dispose. Calling Dispose more
// than once is a no-op.
func (d *Dataset) Dispose() {
	if d.disposed.Swap(true) {
		return
	}
	d.logger.Debugf("Disposed %v", d)
}

// Close implements io.Closer. It is equivalent to Dispose.
func (d *Dataset) Close() error {
	d.Dispose()
	return nil
}

// verifyAccess must be called before anything reads d.buf.
func (d *Dataset) verifyAccess(op string) error {
	if d.disposed.Load() {
		return useAfterDispose(op)
	}
	return nil
}

// Translate converts a process address read from the snapshot into the
// matching address in the local copy. Addresses that did not come from the
// snapshot are not range checked.
func (d *Dataset) Translate(addr TargetAddress) (LocalAddress, error) {
	if err := d.verifyAccess("translate"); err != nil {
		return 0, err
	}
	return d.translate(addr), nil
}

func (d *Dataset) translate(addr TargetAddress) LocalAddress {
	return d.base + LocalAddress(d.width.offset(addr, d.startPosition))
}

// slice returns n bytes of the local copy starting at addr.
func (d *Dataset) slice(addr LocalAddress, n int) []byte {
	off := uint64(addr - d.base)
	if sanityChecks {
		if off > uint64(len(d.buf)) || off+uint64(n) > uint64(len(d.buf)) {
			panic(fmt.Sprintf("profiling: local address %v (offset 0x%x, size %d) outside %v",
				addr, off, n, d))
		}
	}
	return d.buf[off : off+uint64(n)]
}

// FunctionInfo reads the function-info record at the process address addr.
func (d *Dataset) FunctionInfo(addr TargetAddress) (FunctionInfo, error) {
	if err := d.verifyAccess("function info"); err != nil {
		return FunctionInfo{}, err
	}
	return d.functionInfoAt(d.translate(addr)), nil
}

func (d *Dataset) functionInfoAt(local LocalAddress) FunctionInfo {
	return decodeFunctionInfo(local, d.slice(local, FunctionInfoHeaderSize))
}

// RootFunctionInfo reads the record of the call-tree root.
func (d *Dataset) RootFunctionInfo() (FunctionInfo, error) {
	if err := d.verifyAccess("root function info"); err != nil {
		return FunctionInfo{}, err
	}
	return d.functionInfoAt(d.translate(d.rootFunctionInfoPosition)), nil
}

// RootNode returns a new node for the call-tree root. Every call returns a
// distinct node; callers that need a stable identity must cache it.
func (d *Dataset) RootNode() (CallTreeNode, error) {
	if err := d.verifyAccess("root node"); err != nil {
		return nil, err
	}
	info := d.functionInfoAt(d.translate(d.rootFunctionInfoPosition))
	if d.is64Bit {
		return &node64{nodeBase{ds: d, info: info}}, nil
	}
	return &node32{nodeBase{ds: d, info: info}}, nil
}

// childInfos reads the child table of info and returns the records of all
// occupied slots, in slot order.
func (d *Dataset) childInfos(info FunctionInfo) ([]FunctionInfo, error) {
	if err := d.verifyAccess("children"); err != nil {
		return nil, err
	}
	if info.TableSize <= 0 {
		return nil, nil
	}
	ptrSize := d.width.size()
	table := d.slice(info.Address+LocalAddress(ChildTableOffset(ptrSize)),
		int(info.TableSize)*ptrSize)
	children := make([]FunctionInfo, 0, max(info.FillCount, 0))
	for i := 0; i < len(table); i += ptrSize {
		ptr := d.width.readPointer(table[i:])
		if ptr == 0 {
			continue
		}
		children = append(children, d.functionInfoAt(d.translate(ptr)))
	}
	return children, nil
}
