//go:build !unix

package snapshot

import (
	"errors"
	"os"
)

var errMmapClosed = errors.New("mmap: closed")

// mmapFile falls back to reading the whole file on platforms without mmap.
type mmapFile struct {
	filename string
	data     []byte
}

func mmapOpen(filename string) (*mmapFile, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
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
	*f = mmapFile{}
	return nil
}
