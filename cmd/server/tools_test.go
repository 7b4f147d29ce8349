package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profsnap/internal/profiling"
	"profsnap/internal/snapshot"
)

func writeTestSnapshot(t *testing.T, compress bool) string {
	t.Helper()
	b := snapshot.NewBuilder(0x40000, true)
	root := b.AddTree(snapshot.Tree{ID: 1, Cycles: 2_000_000, CallCount: 1, Children: []snapshot.Tree{
		{ID: 2, Cycles: 1_500_000, CallCount: 4, Children: []snapshot.Tree{
			{ID: 3, Cycles: 1_200_000, CallCount: 4000},
		}},
		{ID: 3, Cycles: 300_000, CallCount: 10, ActiveCalls: 1},
	}})
	b.AddName(profiling.NameMapping{ID: 1, Name: "Thread#1"})
	b.AddName(profiling.NameMapping{ID: 2, ReturnType: "System.Void", Name: "App.Run"})
	b.AddName(profiling.NameMapping{ID: 3, ReturnType: "System.Int32", Name: "App.Compute",
		Parameters: []string{"System.Int32 n"}})

	path := filepath.Join(t.TempDir(), "app.psnap")
	require.NoError(t, snapshot.WriteFile(path, b.Header(root, false, 1000), b.Data(), b.Names(), compress))
	return path
}

func newTestTools(t *testing.T, cacheSize uint32) *profilerTools {
	t.Helper()
	cache, err := newSnapshotCache(cacheSize)
	require.NoError(t, err)
	tools := newProfilerTools(cache, &config{
		TreeDepth: defaultTreeDepth,
		DBPath:    filepath.Join(t.TempDir(), "sessions.db"),
	})
	t.Cleanup(tools.close)
	return tools
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

type handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

func call(t *testing.T, h handler, args map[string]any) (string, bool) {
	t.Helper()
	res, err := h(context.Background(), callRequest(args))
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text, res.IsError
}

func TestToolsRequireLoadedSnapshot(t *testing.T) {
	tools := newTestTools(t, 4)
	for _, h := range []handler{
		tools.handleSnapshotInfo,
		tools.handleViewCallTree,
		tools.handleFindHotspots,
		tools.handleGetStatistics,
		tools.handleDetectIssues,
		tools.handleUnloadSnapshot,
	} {
		text, isErr := call(t, h, map[string]any{"file_path": "/nonexistent.psnap"})
		assert.True(t, isErr)
		assert.Contains(t, text, "load_snapshot")
	}
}

func TestLoadSnapshotErrors(t *testing.T) {
	tools := newTestTools(t, 4)

	text, isErr := call(t, tools.handleLoadSnapshot, map[string]any{})
	assert.True(t, isErr)
	assert.NotEmpty(t, text)

	text, isErr = call(t, tools.handleLoadSnapshot,
		map[string]any{"file_path": filepath.Join(t.TempDir(), "missing.psnap")})
	assert.True(t, isErr)
	assert.Contains(t, text, "Failed to load snapshot")
}

func TestAnalysisTools(t *testing.T) {
	for _, compress := range []bool{false, true} {
		tools := newTestTools(t, 4)
		path := writeTestSnapshot(t, compress)
		args := map[string]any{"file_path": path}

		text, isErr := call(t, tools.handleLoadSnapshot, args)
		require.False(t, isErr, text)
		assert.Contains(t, text, "Pointer width: 64-bit")
		assert.Contains(t, text, "Processor frequency: 1000 MHz")

		text, _ = call(t, tools.handleLoadSnapshot, args)
		assert.Contains(t, text, "already loaded")

		text, isErr = call(t, tools.handleSnapshotInfo, args)
		require.False(t, isErr, text)
		assert.Contains(t, text, "Thread#1()")
		assert.Contains(t, text, "Time: 2.000 ms")

		text, isErr = call(t, tools.handleViewCallTree, map[string]any{"file_path": path, "depth": 1.0})
		require.False(t, isErr, text)
		assert.Contains(t, text, "System.Void App.Run()")
		assert.NotContains(t, text, "calls=4000")
		assert.Contains(t, text, "[active at start]")

		text, isErr = call(t, tools.handleFindHotspots, map[string]any{"file_path": path, "top_n": 1.0})
		require.False(t, isErr, text)
		assert.Contains(t, text, "#1: ")
		assert.NotContains(t, text, "#2: ")

		text, isErr = call(t, tools.handleFindSelfHotspots, args)
		require.False(t, isErr, text)
		assert.Contains(t, text, "App.Compute")

		text, isErr = call(t, tools.handleFindHotPath, args)
		require.False(t, isErr, text)
		assert.Contains(t, text, "App.Run")

		text, isErr = call(t, tools.handleGetStatistics, args)
		require.False(t, isErr, text)
		assert.Contains(t, text, "Nodes: 3")
		assert.Contains(t, text, "Active Calls: 1")

		text, isErr = call(t, tools.handleDetectIssues, args)
		require.False(t, isErr, text)
		assert.Contains(t, text, "SUMMARY")

		text, isErr = call(t, tools.handleGetMapping, map[string]any{"file_path": path, "name_id": 3.0})
		require.False(t, isErr, text)
		assert.Contains(t, text, "System.Int32 App.Compute(System.Int32 n)")

		text, isErr = call(t, tools.handleGetMapping, map[string]any{"file_path": path, "name_id": 99.0})
		require.False(t, isErr, text)
		assert.Contains(t, text, "[id 99]")
		assert.Contains(t, text, "not present")

		text, isErr = call(t, tools.handleUnloadSnapshot, args)
		require.False(t, isErr, text)
		text, isErr = call(t, tools.handleGetStatistics, args)
		assert.True(t, isErr)
		assert.Contains(t, text, "load_snapshot")
	}
}

func TestExportSession(t *testing.T) {
	tools := newTestTools(t, 4)
	path := writeTestSnapshot(t, false)
	args := map[string]any{"file_path": path}

	_, isErr := call(t, tools.handleLoadSnapshot, args)
	require.False(t, isErr)

	text, isErr := call(t, tools.handleExportSession, args)
	require.False(t, isErr, text)
	assert.Contains(t, text, "Session: ")
	assert.Contains(t, text, "App.Compute")

	st, err := tools.sessionStore()
	require.NoError(t, err)
	sessions, err := st.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, path, sessions[0].Source)
	assert.Equal(t, 4, sessions[0].NodeCount)
}

func TestCacheEvictionClosesSnapshot(t *testing.T) {
	tools := newTestTools(t, 1)
	first := writeTestSnapshot(t, false)
	second := writeTestSnapshot(t, true)

	cs, opened, err := tools.cache.load(first)
	require.NoError(t, err)
	require.True(t, opened)
	ds := cs.snap.Dataset()

	_, _, err = tools.cache.load(second)
	require.NoError(t, err)

	assert.Equal(t, 1, tools.cache.len())
	assert.True(t, ds.IsDisposed())
	_, err = ds.RootNode()
	assert.ErrorIs(t, err, profiling.ErrUseAfterDispose)

	text, isErr := call(t, tools.handleSnapshotInfo, map[string]any{"file_path": first})
	assert.True(t, isErr)
	assert.Contains(t, text, "load_snapshot")
}

func TestUnloadDisposesDataset(t *testing.T) {
	tools := newTestTools(t, 4)
	path := writeTestSnapshot(t, false)

	cs, _, err := tools.cache.load(path)
	require.NoError(t, err)
	assert.True(t, tools.cache.unload(path))
	assert.True(t, cs.snap.Dataset().IsDisposed())
	assert.False(t, tools.cache.unload(path))
}

func TestParseArgs(t *testing.T) {
	cfg, err := parseArgs([]string{"-cache-size", "3", "-log-format", "json"})
	require.NoError(t, err)
	assert.Equal(t, uint(3), cfg.CacheSize)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, defaultDBPath, cfg.DBPath)

	t.Setenv("PROFSNAP_TREE_DEPTH", "7")
	cfg, err = parseArgs(nil)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.TreeDepth)

	_, err = parseArgs([]string{"-no-such-flag"})
	assert.Error(t, err)

	_, err = parseArgs([]string{"-cache-size", "4294967296"})
	assert.ErrorContains(t, err, "cache-size")
	_, err = parseArgs([]string{"-cache-size", "0"})
	assert.ErrorContains(t, err, "cache-size")
}

func TestExportSessionRequiresLoadedSnapshot(t *testing.T) {
	tools := newTestTools(t, 4)

	text, isErr := call(t, tools.handleExportSession, map[string]any{"file_path": "/nonexistent.psnap"})
	assert.True(t, isErr)
	assert.Contains(t, text, "load_snapshot")

	_, err := os.Stat(tools.dbPath)
	assert.True(t, os.IsNotExist(err), "session database created for an unloaded snapshot")
}

func TestLoadSnapshotRejectsCorruptTree(t *testing.T) {
	tools := newTestTools(t, 4)

	b := snapshot.NewBuilder(0x40000, true)
	// The only child slot points back at the root itself.
	root := b.Add(1, 1000, 0, 1, b.Start())
	path := filepath.Join(t.TempDir(), "cycle.psnap")
	require.NoError(t, snapshot.WriteFile(path, b.Header(root, false, 1000), b.Data(), b.Names(), false))

	text, isErr := call(t, tools.handleLoadSnapshot, map[string]any{"file_path": path})
	assert.True(t, isErr)
	assert.Contains(t, text, "corrupt call tree")
	assert.Equal(t, 0, tools.cache.len())
}
