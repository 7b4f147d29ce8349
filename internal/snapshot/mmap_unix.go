//go:build unix

package snapshot

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

var errMmapClosed = errors.New("mmap: closed")

// mmapFile is a read-only private memory mapping of a whole file. Slices
// returned by bytes refer directly to the mapped memory and become invalid
// after Close.
type mmapFile struct {
	filename string
	data     []byte
}

func mmapOpen(filename string) (*mmapFile, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}

	size := st.Size()
	if size == 0 {
		return &mmapFile{filename: filename, data: []byte{}}, nil
	}
	if size != int64(int(size)) {
		return nil, fmt.Errorf("mmap: file %q is too large", filename)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap: %q: %w", filename, err)
	}
	return &mmapFile{filename: filename, data: data}, nil
}

func (f *mmapFile) bytes() ([]byte, error) {
	if f.data == nil {
		return nil, errMmapClosed
	}
	return f.data, nil
}

func (f *mmapFile) Close() error {
	if f.data == nil {
		return nil
	}
	var err error
	if len(f.data) > 0 {
		err = unix.Munmap(f.data)
	}
	*f = mmapFile{}
	return err
}
