package snapshot

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"

	"profsnap/internal/profiling"
)

// Snapshot is an opened snapshot file. It owns the memory its dataset reads
// from.
type Snapshot struct {
	path   string
	header Header
	names  profiling.NameTable
	ds     *profiling.Dataset

	mu     sync.Mutex
	mapped *mmapFile // nil when the file was decompressed into the heap
	closed bool
}

// Open opens the snapshot file at path.
func Open(path string) (*Snapshot, error) {
	compressed, err := isCompressed(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}

	var (
		raw    []byte
		mapped *mmapFile
	)
	if compressed {
		raw, err = decompressFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress snapshot %s: %w", path, err)
		}
	} else {
		mapped, err = mmapOpen(path)
		if err != nil {
			return nil, fmt.Errorf("failed to map snapshot: %w", err)
		}
		if raw, err = mapped.bytes(); err != nil {
			mapped.Close()
			return nil, err
		}
	}

	s, err := parse(path, raw)
	if err != nil {
		if mapped != nil {
			mapped.Close()
		}
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	s.mapped = mapped

	log.WithFields(log.Fields{
		"path":       path,
		"compressed": compressed,
		"length":     s.header.DataLength,
		"64bit":      s.header.Is64Bit,
		"names":      len(s.names),
	}).Debug("Opened snapshot")
	return s, nil
}

// Parse builds a Snapshot over an encoded snapshot held in memory. The
// dataset references raw directly; raw must not be modified afterwards.
func Parse(raw []byte) (*Snapshot, error) {
	return parse("", raw)
}

func parse(path string, raw []byte) (*Snapshot, error) {
	h, err := decodeHeader(raw)
	if err != nil {
		return nil, err
	}
	if uint64(len(raw)-HeaderSize) < h.DataLength {
		return nil, fmt.Errorf("data needs 0x%x bytes, file has 0x%x: %w",
			h.DataLength, len(raw)-HeaderSize, ErrTruncated)
	}
	if err := h.validate(); err != nil {
		return nil, err
	}
	dataEnd := HeaderSize + int(h.DataLength)
	data := raw[HeaderSize:dataEnd:dataEnd]
	if err := verifyTree(h, data); err != nil {
		return nil, err
	}
	names, err := decodeNames(raw[dataEnd:], h.NameCount)
	if err != nil {
		return nil, err
	}

	ds := profiling.New(h.StartPosition, h.RootFunctionInfoPosition, data, h.IsFirst, h.Is64Bit,
		profiling.WithProcessorFrequency(h.ProcessorFrequency),
		profiling.WithNameResolver(names),
		profiling.WithLogger(log.WithField("snapshot", path)))

	return &Snapshot{
		path:   path,
		header: h,
		names:  names,
		ds:     ds,
	}, nil
}

func isCompressed(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(magic[:], zstdMagic), nil
}

func decompressFile(path string) ([]byte, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	defer dec.Close()
	return dec.DecodeAll(compressed, nil)
}

// Path returns the file the snapshot was opened from.
func (s *Snapshot) Path() string {
	return s.path
}

func (s *Snapshot) Header() Header {
	return s.header
}

// Names returns the decoded name table.
func (s *Snapshot) Names() profiling.NameTable {
	return s.names
}

// Dataset returns the dataset over the snapshot memory. It is disposed by
// Close.
func (s *Snapshot) Dataset() *profiling.Dataset {
	return s.ds
}

// Close disposes the dataset and then releases the snapshot memory.
// Calling Close more than once is a no-op.
func (s *Snapshot) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.ds.Dispose()
	if s.mapped != nil {
		if err := s.mapped.Close(); err != nil {
			return fmt.Errorf("failed to unmap snapshot %s: %w", s.path, err)
		}
	}
	return nil
}
