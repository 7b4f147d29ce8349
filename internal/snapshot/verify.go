package snapshot

import (
	"fmt"

	"profsnap/internal/profiling"
)

// verifyTree walks every record reachable from the root once and checks it
// against the data bounds. Each record must be reached exactly once, which
// rules out cycles. The dataset itself does not range check, so a snapshot
// that passes here can be read without faulting.
func verifyTree(h Header, data []byte) error {
	ptrSize := h.pointerSize()
	tableOff := uint64(profiling.ChildTableOffset(ptrSize))
	size := uint64(len(data))
	visited := make(map[uint64]struct{})

	stack := []uint64{h.rootOffset()}
	for len(stack) > 0 {
		off := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if off > size || size-off < profiling.FunctionInfoHeaderSize {
			return fmt.Errorf("%w: record at offset 0x%x outside data of 0x%x bytes",
				ErrCorrupt, off, size)
		}
		if _, seen := visited[off]; seen {
			return fmt.Errorf("%w: record at offset 0x%x reached twice", ErrCorrupt, off)
		}
		visited[off] = struct{}{}

		info := profiling.DecodeFunctionInfo(data[off:])
		if info.TableSize < 0 {
			return fmt.Errorf("%w: record at offset 0x%x has table size %d",
				ErrCorrupt, off, info.TableSize)
		}
		tableLen := uint64(info.TableSize) * uint64(ptrSize)
		if tableOff+tableLen > size-off {
			return fmt.Errorf("%w: child table of record at offset 0x%x (%d slots) outside data",
				ErrCorrupt, off, info.TableSize)
		}

		table := data[off+tableOff : off+tableOff+tableLen]
		var fill int32
		for i := 0; i < len(table); i += ptrSize {
			var ptr profiling.TargetAddress
			if ptrSize == 8 {
				ptr = profiling.TargetAddress(byteOrder.Uint64(table[i:]))
			} else {
				ptr = profiling.TargetAddress(byteOrder.Uint32(table[i:]))
			}
			if ptr == 0 {
				continue
			}
			fill++
			stack = append(stack, h.offsetOf(ptr))
		}
		if fill != info.FillCount {
			return fmt.Errorf("%w: record at offset 0x%x has fill count %d, %d slots in use",
				ErrCorrupt, off, info.FillCount, fill)
		}
	}
	return nil
}
