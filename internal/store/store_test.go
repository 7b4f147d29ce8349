package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profsnap/internal/profiling"
	"profsnap/internal/snapshot"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func testDataset(t *testing.T) *profiling.Dataset {
	t.Helper()
	b := snapshot.NewBuilder(0x8000, false)
	root := b.AddTree(snapshot.Tree{ID: 0, Cycles: 900, CallCount: 1, Children: []snapshot.Tree{
		{ID: 1, Cycles: 500, CallCount: 2, Children: []snapshot.Tree{
			{ID: 2, Cycles: 200, CallCount: 7},
		}},
		{ID: 2, Cycles: 350, CallCount: 4, ActiveCalls: 1},
	}})
	b.AddName(profiling.NameMapping{ID: 0, Name: "Thread#1"})
	b.AddName(profiling.NameMapping{ID: 1, ReturnType: "System.Void", Name: "Main",
		Parameters: []string{"System.String[] args"}})
	return b.Dataset(root, false, 100)
}

func TestMigrateIsIdempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Migrate())
}

func TestExportDataset(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	ds := testDataset(t)

	id, err := s.ExportDataset(ctx, ds, "sample.psnap")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	sessions, err := s.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].ID)
	assert.Equal(t, "sample.psnap", sessions[0].Source)
	assert.False(t, sessions[0].Is64Bit)
	assert.False(t, sessions[0].IsFirst)
	assert.Equal(t, int64(100), sessions[0].ProcessorFrequency)
	assert.Equal(t, ds.Length(), sessions[0].Length)
	assert.Equal(t, 4, sessions[0].NodeCount)

	nodes, err := s.SessionNodes(ctx, id)
	require.NoError(t, err)
	require.Len(t, nodes, 4)
	assert.Nil(t, nodes[0].ParentID)
	assert.Equal(t, int64(900), nodes[0].CPUCycles)
	require.NotNil(t, nodes[1].ParentID)
	assert.Equal(t, int64(1), *nodes[1].ParentID)
	require.NotNil(t, nodes[2].ParentID)
	assert.Equal(t, int64(2), *nodes[2].ParentID)
	assert.Equal(t, 2, nodes[2].Depth)
	assert.Equal(t, int64(1), *nodes[3].ParentID)
	assert.Equal(t, 1, nodes[3].ActiveCalls)

	m, err := s.Mapping(ctx, id, 1)
	require.NoError(t, err)
	assert.Equal(t, "System.Void Main(System.String[] args)", m.Signature())

	m, err = s.Mapping(ctx, id, 2)
	require.NoError(t, err)
	assert.Equal(t, "[id 2]", m.Name)

	m, err = s.Mapping(ctx, id, 99)
	require.NoError(t, err)
	assert.Equal(t, profiling.UnknownMapping(99), m)

	top, err := s.TopFunctions(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, int32(2), top[0].Mapping.ID)
	assert.Equal(t, int64(550), top[0].CPUCycles)
	assert.Equal(t, int64(11), top[0].Calls)
	assert.Equal(t, 2, top[0].Nodes)
	assert.Equal(t, "Main", top[1].Mapping.Name)

	top, err = s.TopFunctions(ctx, id, 1)
	require.NoError(t, err)
	assert.Len(t, top, 1)

	require.NoError(t, s.DeleteSession(ctx, id))
	nodes, err = s.SessionNodes(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestExportDisposedDataset(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ds := testDataset(t)
	ds.Dispose()

	_, err := s.ExportDataset(context.Background(), ds, "gone")
	assert.ErrorIs(t, err, profiling.ErrUseAfterDispose)

	sessions, err := s.Sessions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)
}
