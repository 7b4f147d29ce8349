// Package snapshot reads and writes profiler snapshot files.
//
// A snapshot file holds a fixed header, the raw memory copied out of the
// profiled process and a table of name mappings. Uncompressed files are
// memory-mapped; zstd-compressed files are decoded into memory. Either way
// the resulting profiling.Dataset points straight into that memory, so a
// Snapshot must outlive every node obtained from its dataset.
package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"

	"profsnap/internal/profiling"
)

const (
	// Magic identifies snapshot files.
	Magic = "PSNP"
	// Version is the only format version understood by this package.
	Version = 1

	// HeaderSize is the size of the encoded header. Snapshot data starts
	// right after it.
	HeaderSize = 48

	flag64Bit = 1 << 0
	flagFirst = 1 << 1
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var byteOrder = binary.LittleEndian

var (
	ErrBadMagic           = errors.New("not a profiler snapshot")
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")
	ErrTruncated          = errors.New("truncated snapshot")
	ErrRootOutOfRange     = errors.New("root function info outside snapshot data")
	ErrCorrupt            = errors.New("corrupt call tree")
)

// Header describes a snapshot.
type Header struct {
	Version                  uint16
	Is64Bit                  bool
	IsFirst                  bool
	ProcessorFrequency       int64 // MHz
	StartPosition            profiling.TargetAddress
	RootFunctionInfoPosition profiling.TargetAddress
	DataLength               uint64
	NameCount                uint32
}

func (h Header) encode(b []byte) {
	copy(b[0:4], Magic)
	byteOrder.PutUint16(b[4:], h.Version)
	var flags uint16
	if h.Is64Bit {
		flags |= flag64Bit
	}
	if h.IsFirst {
		flags |= flagFirst
	}
	byteOrder.PutUint16(b[6:], flags)
	byteOrder.PutUint64(b[8:], uint64(h.ProcessorFrequency))
	byteOrder.PutUint64(b[16:], uint64(h.StartPosition))
	byteOrder.PutUint64(b[24:], uint64(h.RootFunctionInfoPosition))
	byteOrder.PutUint64(b[32:], h.DataLength)
	byteOrder.PutUint32(b[40:], h.NameCount)
	byteOrder.PutUint32(b[44:], 0)
}

func decodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("header is %d bytes: %w", len(b), ErrTruncated)
	}
	if string(b[0:4]) != Magic {
		return Header{}, ErrBadMagic
	}
	h := Header{Version: byteOrder.Uint16(b[4:])}
	if h.Version != Version {
		return Header{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	flags := byteOrder.Uint16(b[6:])
	h.Is64Bit = flags&flag64Bit != 0
	h.IsFirst = flags&flagFirst != 0
	h.ProcessorFrequency = int64(byteOrder.Uint64(b[8:]))
	h.StartPosition = profiling.TargetAddress(byteOrder.Uint64(b[16:]))
	h.RootFunctionInfoPosition = profiling.TargetAddress(byteOrder.Uint64(b[24:]))
	h.DataLength = byteOrder.Uint64(b[32:])
	h.NameCount = byteOrder.Uint32(b[40:])
	return h, nil
}

// offsetOf returns the offset of addr inside the data, using the pointer
// arithmetic of the profiled process.
func (h Header) offsetOf(addr profiling.TargetAddress) uint64 {
	if h.Is64Bit {
		return uint64(addr - h.StartPosition)
	}
	return uint64(uint32(addr) - uint32(h.StartPosition))
}

func (h Header) rootOffset() uint64 {
	return h.offsetOf(h.RootFunctionInfoPosition)
}

func (h Header) pointerSize() int {
	if h.Is64Bit {
		return 8
	}
	return 4
}

func (h Header) validate() error {
	if h.DataLength < profiling.FunctionInfoHeaderSize ||
		h.rootOffset() > h.DataLength-profiling.FunctionInfoHeaderSize {
		return fmt.Errorf("%w: root %v, start %v, length 0x%x", ErrRootOutOfRange,
			h.RootFunctionInfoPosition, h.StartPosition, h.DataLength)
	}
	return nil
}

// appendString appends a uint16 length-prefixed string.
func appendString(b []byte, s string) ([]byte, error) {
	if len(s) > 0xffff {
		return nil, fmt.Errorf("string of %d bytes is too long", len(s))
	}
	b = byteOrder.AppendUint16(b, uint16(len(s)))
	return append(b, s...), nil
}

func encodeNames(names []profiling.NameMapping) ([]byte, error) {
	var (
		b   []byte
		err error
	)
	for _, m := range names {
		b = byteOrder.AppendUint32(b, uint32(m.ID))
		if b, err = appendString(b, m.ReturnType); err != nil {
			return nil, err
		}
		if b, err = appendString(b, m.Name); err != nil {
			return nil, err
		}
		if len(m.Parameters) > 0xffff {
			return nil, fmt.Errorf("name %d has %d parameters", m.ID, len(m.Parameters))
		}
		b = byteOrder.AppendUint16(b, uint16(len(m.Parameters)))
		for _, p := range m.Parameters {
			if b, err = appendString(b, p); err != nil {
				return nil, err
			}
		}
	}
	return b, nil
}

// nameReader decodes the name table. Strings are copied, so the result
// does not reference the snapshot memory.
type nameReader struct {
	b   []byte
	pos int
}

func (r *nameReader) need(n int) error {
	if r.pos+n > len(r.b) {
		return fmt.Errorf("name table at offset %d: %w", r.pos, ErrTruncated)
	}
	return nil
}

func (r *nameReader) readUint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := byteOrder.Uint16(r.b[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *nameReader) readUint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := byteOrder.Uint32(r.b[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *nameReader) readString() (string, error) {
	n, err := r.readUint16()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.b[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func decodeNames(b []byte, count uint32) (profiling.NameTable, error) {
	r := &nameReader{b: b}
	names := make(profiling.NameTable, count)
	for i := uint32(0); i < count; i++ {
		id, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		m := profiling.NameMapping{ID: int32(id)}
		if m.ReturnType, err = r.readString(); err != nil {
			return nil, err
		}
		if m.Name, err = r.readString(); err != nil {
			return nil, err
		}
		nparams, err := r.readUint16()
		if err != nil {
			return nil, err
		}
		for j := uint16(0); j < nparams; j++ {
			p, err := r.readString()
			if err != nil {
				return nil, err
			}
			m.Parameters = append(m.Parameters, p)
		}
		names[m.ID] = m
	}
	return names, nil
}
