package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func synthFile(t *testing.T, extra ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "synth.psnap")
	args := append([]string{"synth", path, "--depth", "3", "--fanout", "2", "--functions", "5"}, extra...)
	out, err := runCLI(t, args...)
	require.NoError(t, err)
	require.Contains(t, out, "Wrote "+path)
	return path
}

func TestInvalidFormat(t *testing.T) {
	_, err := runCLI(t, "--format", "xml", "sessions")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestSynthValidation(t *testing.T) {
	_, err := runCLI(t, "synth", filepath.Join(t.TempDir(), "x.psnap"), "--depth", "0")
	assert.Error(t, err)
}

func TestInspect(t *testing.T) {
	for _, tc := range []struct {
		name  string
		extra []string
		is64  bool
	}{
		{"64-bit", nil, true},
		{"32-bit compressed", []string{"--64bit=false", "--compress"}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := synthFile(t, tc.extra...)

			out, err := runCLI(t, "--format", "json", "inspect", path)
			require.NoError(t, err)
			var got inspectOutput
			require.NoError(t, json.Unmarshal([]byte(out), &got))
			assert.Equal(t, tc.is64, got.Is64Bit)
			assert.Equal(t, int64(3000), got.ProcessorFrequency)
			assert.Equal(t, "Thread#1()", got.RootFunction)
			assert.Equal(t, int32(1), got.RootChildren)
			assert.Equal(t, uint32(6), got.Names)

			out, err = runCLI(t, "inspect", path)
			require.NoError(t, err)
			assert.Contains(t, out, "Thread#1()")
		})
	}
}

func TestTree(t *testing.T) {
	path := synthFile(t)

	out, err := runCLI(t, "tree", path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	// root + 1 + 2 + 4 nodes
	assert.Len(t, lines, 8)
	assert.True(t, strings.HasPrefix(lines[0], "Thread#1()"))
	assert.Contains(t, lines[0], "(100.00%)")

	out, err = runCLI(t, "tree", path, "--depth", "1")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimRight(out, "\n"), "\n"), 2)
}

func TestHotspots(t *testing.T) {
	path := synthFile(t)

	out, err := runCLI(t, "--format", "json", "hotspots", path, "--top", "3")
	require.NoError(t, err)
	var got []hotspotJSON
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), 3)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].TotalCycles, got[i].TotalCycles)
	}

	out, err = runCLI(t, "hotspots", path, "--self")
	require.NoError(t, err)
	assert.Contains(t, out, "RANK")
	assert.Contains(t, out, "Synthetic.Func")
}

func TestStats(t *testing.T) {
	path := synthFile(t, "--first")

	out, err := runCLI(t, "--format", "json", "stats", path)
	require.NoError(t, err)
	var got struct {
		NodeCount   int
		MaxDepth    int
		ActiveCalls int
		MostCalled  []struct {
			Function string
			Calls    int
		} `json:"most_called"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 7, got.NodeCount)
	assert.Equal(t, 3, got.MaxDepth)
	assert.Equal(t, 0, got.ActiveCalls)
	assert.NotEmpty(t, got.MostCalled)
	assert.LessOrEqual(t, len(got.MostCalled), mostCalledShown)
}

func TestExportAndSessions(t *testing.T) {
	path := synthFile(t)
	db := filepath.Join(t.TempDir(), "sessions.db")

	out, err := runCLI(t, "--db", db, "export", path)
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	require.NotEmpty(t, id)

	out, err = runCLI(t, "--db", db, "--format", "json", "sessions")
	require.NoError(t, err)
	var sessions []sessionJSON
	require.NoError(t, json.Unmarshal([]byte(out), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].ID)
	assert.Equal(t, path, sessions[0].Source)
	assert.Equal(t, 8, sessions[0].NodeCount)

	out, err = runCLI(t, "--db", db, "--format", "json", "sessions", id, "--top", "2")
	require.NoError(t, err)
	var totals []functionTotalJSON
	require.NoError(t, json.Unmarshal([]byte(out), &totals))
	assert.NotEmpty(t, totals)
	assert.LessOrEqual(t, len(totals), 2)

	_, err = runCLI(t, "--db", db, "sessions", "--delete")
	assert.Error(t, err)

	_, err = runCLI(t, "--db", db, "sessions", id, "--delete")
	require.NoError(t, err)
	out, err = runCLI(t, "--db", db, "--format", "json", "sessions")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &sessions))
	assert.Empty(t, sessions)
}

func TestMissingSnapshot(t *testing.T) {
	_, err := runCLI(t, "inspect", filepath.Join(t.TempDir(), "missing.psnap"))
	assert.Error(t, err)
}
