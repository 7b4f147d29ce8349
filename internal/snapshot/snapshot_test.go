package snapshot

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profsnap/internal/profiling"
)

func buildSample(t *testing.T, is64Bit bool) (*Builder, profiling.TargetAddress) {
	t.Helper()
	b := NewBuilder(0x10000, is64Bit)
	root := b.AddTree(Tree{ID: 1, Cycles: 1000, CallCount: 1, Children: []Tree{
		{ID: 2, Cycles: 700, CallCount: 3, Children: []Tree{
			{ID: 3, Cycles: 400, CallCount: 30},
		}},
		{ID: 3, Cycles: 200, CallCount: 5, ActiveCalls: 1},
	}})
	b.AddName(profiling.NameMapping{ID: 1, Name: "Thread#1"})
	b.AddName(profiling.NameMapping{ID: 2, ReturnType: "System.Void", Name: "App.Run",
		Parameters: []string{"System.String[] args"}})
	b.AddName(profiling.NameMapping{ID: 3, ReturnType: "System.Int32", Name: "App.Compute"})
	return b, root
}

func writeSample(t *testing.T, is64Bit, compress bool) string {
	t.Helper()
	b, root := buildSample(t, is64Bit)
	path := filepath.Join(t.TempDir(), "sample.psnap")
	require.NoError(t, WriteFile(path, b.Header(root, false, 1000), b.Data(), b.Names(), compress))
	return path
}

func TestOpenRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name     string
		is64Bit  bool
		compress bool
	}{
		{"32bit", false, false},
		{"64bit", true, false},
		{"64bit-zstd", true, true},
		{"32bit-zstd", false, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := writeSample(t, tc.is64Bit, tc.compress)

			s, err := Open(path)
			require.NoError(t, err)
			defer s.Close()

			h := s.Header()
			assert.Equal(t, path, s.Path())
			assert.Equal(t, tc.is64Bit, h.Is64Bit)
			assert.False(t, h.IsFirst)
			assert.Equal(t, int64(1000), h.ProcessorFrequency)
			assert.Equal(t, uint32(3), h.NameCount)

			ds := s.Dataset()
			assert.Equal(t, int(h.DataLength), ds.Length())
			assert.Equal(t, []string{"System.String[] args"}, ds.GetMapping(2).Parameters)

			root, err := ds.RootNode()
			require.NoError(t, err)
			assert.Equal(t, "Thread#1", root.NameMapping().Name)
			assert.Equal(t, int64(1000), root.CPUCyclesSpent())

			children, err := root.Children()
			require.NoError(t, err)
			require.Len(t, children, 2)
			assert.Equal(t, "App.Run", children[0].NameMapping().Name)
			assert.Equal(t, 3, children[0].CallCount())
			assert.True(t, children[1].IsActiveAtStart())

			leaves, err := children[0].Children()
			require.NoError(t, err)
			require.Len(t, leaves, 1)
			assert.Equal(t, "System.Int32 App.Compute()", leaves[0].NameMapping().Signature())
		})
	}
}

func TestCloseDisposesDataset(t *testing.T) {
	s, err := Open(writeSample(t, true, false))
	require.NoError(t, err)
	ds := s.Dataset()
	root, err := ds.RootNode()
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.True(t, ds.IsDisposed())
	_, err = ds.RootNode()
	assert.ErrorIs(t, err, profiling.ErrUseAfterDispose)
	_, err = root.Children()
	assert.ErrorIs(t, err, profiling.ErrUseAfterDispose)

	// Metadata and names are not part of the mapping.
	assert.True(t, ds.Is64Bit())
	assert.Equal(t, "App.Run", ds.GetMapping(2).Name)

	assert.NoError(t, s.Close())
}

func encodeSample(t *testing.T) []byte {
	t.Helper()
	b, root := buildSample(t, true)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, b.Header(root, true, 0), b.Data(), b.Names()))
	return buf.Bytes()
}

func TestParseErrors(t *testing.T) {
	good := encodeSample(t)

	_, err := Parse(good[:10])
	assert.ErrorIs(t, err, ErrTruncated)

	badMagic := append([]byte(nil), good...)
	copy(badMagic, "ELF\x7f")
	_, err = Parse(badMagic)
	assert.ErrorIs(t, err, ErrBadMagic)

	badVersion := append([]byte(nil), good...)
	byteOrder.PutUint16(badVersion[4:], 9)
	_, err = Parse(badVersion)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	_, err = Parse(good[:HeaderSize+16])
	assert.ErrorIs(t, err, ErrTruncated)

	badRoot := append([]byte(nil), good...)
	byteOrder.PutUint64(badRoot[24:], 0x10)
	_, err = Parse(badRoot)
	assert.ErrorIs(t, err, ErrRootOutOfRange)

	// Cut into the name table.
	_, err = Parse(good[:len(good)-3])
	assert.ErrorIs(t, err, ErrTruncated)

	s, err := Parse(good)
	require.NoError(t, err)
	assert.True(t, s.Header().IsFirst)
	assert.NoError(t, s.Close())
}

func TestWriteRejectsRootOutsideData(t *testing.T) {
	b, _ := buildSample(t, false)
	var buf bytes.Buffer
	err := Write(&buf, b.Header(b.Start()+0x100000, false, 0), b.Data(), nil)
	assert.ErrorIs(t, err, ErrRootOutOfRange)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.psnap"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBuilderAlignment(t *testing.T) {
	b := NewBuilder(0x400, false)
	first := b.Add(1, 0, 0, 1, 0)
	second := b.Add(2, 0, 0, 1)
	assert.Equal(t, profiling.TargetAddress(0x400), first)
	assert.Zero(t, uint64(second-first)%recordAlign)
	assert.Equal(t, len(b.Data()), int(second-b.Start())+profiling.ChildTableOffset(4))
}
