package snapshot

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"profsnap/internal/profiling"
)

// Write encodes a snapshot to w. h.Version, h.DataLength and h.NameCount
// are filled in from the arguments.
func Write(w io.Writer, h Header, data []byte, names []profiling.NameMapping) error {
	h.Version = Version
	h.DataLength = uint64(len(data))
	h.NameCount = uint32(len(names))
	if err := h.validate(); err != nil {
		return err
	}
	table, err := encodeNames(names)
	if err != nil {
		return fmt.Errorf("failed to encode names: %w", err)
	}

	var hdr [HeaderSize]byte
	h.encode(hdr[:])
	for _, b := range [][]byte{hdr[:], data, table} {
		if _, err := w.Write(b); err != nil {
			return err
		}
	}
	return nil
}

// WriteFile writes a snapshot to path, zstd-compressing it if compress is
// set.
func WriteFile(path string, h Header, data []byte, names []profiling.NameMapping, compress bool) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	bw := bufio.NewWriter(f)
	if !compress {
		if err := Write(bw, h, data, names); err != nil {
			return err
		}
		return bw.Flush()
	}

	enc, err := zstd.NewWriter(bw)
	if err != nil {
		return fmt.Errorf("failed to create encoder: %w", err)
	}
	if err := Write(enc, h, data, names); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to compress snapshot: %w", err)
	}
	return bw.Flush()
}
