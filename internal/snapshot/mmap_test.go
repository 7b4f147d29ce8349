package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMmapFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	content := []byte("snapshot memory")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	f, err := mmapOpen(path)
	require.NoError(t, err)
	b, err := f.bytes()
	require.NoError(t, err)
	assert.Equal(t, content, b)

	require.NoError(t, f.Close())
	_, err = f.bytes()
	assert.ErrorIs(t, err, errMmapClosed)
	assert.NoError(t, f.Close())
}

func TestMmapEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	f, err := mmapOpen(path)
	require.NoError(t, err)
	b, err := f.bytes()
	require.NoError(t, err)
	assert.Empty(t, b)
	require.NoError(t, f.Close())
}
