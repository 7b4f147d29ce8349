package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	log "github.com/sirupsen/logrus"

	"profsnap/internal/analyzer"
	"profsnap/internal/profiling"
	"profsnap/internal/snapshot"
	"profsnap/internal/store"
)

const rule = "═══════════════════════════════════════════════════\n\n"

// profilerTools implements the MCP tool handlers over the snapshot cache.
type profilerTools struct {
	cache     *snapshotCache
	treeDepth int

	dbPath    string
	storeOnce sync.Once
	store     *store.Store
	storeErr  error
}

func newProfilerTools(cache *snapshotCache, cfg *config) *profilerTools {
	return &profilerTools{
		cache:     cache,
		treeDepth: cfg.TreeDepth,
		dbPath:    cfg.DBPath,
	}
}

// sessionStore opens the session database on first use.
func (p *profilerTools) sessionStore() (*store.Store, error) {
	p.storeOnce.Do(func() {
		st, err := store.NewStore(p.dbPath)
		if err != nil {
			p.storeErr = err
			return
		}
		if err := st.Migrate(); err != nil {
			st.Close()
			p.storeErr = err
			return
		}
		p.store = st
	})
	return p.store, p.storeErr
}

func (p *profilerTools) close() {
	p.cache.closeAll()
	if p.store != nil {
		if err := p.store.Close(); err != nil {
			log.Errorf("Failed to close session store: %v", err)
		}
	}
}

// toolError converts an analysis error into a tool result.
func toolError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, errNotLoaded):
		return mcp.NewToolResultError("Snapshot not loaded. Use load_snapshot tool first")
	case errors.Is(err, profiling.ErrUseAfterDispose):
		return mcp.NewToolResultError(fmt.Sprintf("Snapshot was closed while in use: %v", err))
	default:
		return mcp.NewToolResultError(err.Error())
	}
}

// analyze runs fn against the root node of the loaded snapshot at the
// request's file_path and returns its text as the tool result.
func (p *profilerTools) analyze(ctx context.Context, request mcp.CallToolRequest,
	fn func(snap *snapshot.Snapshot, root profiling.CallTreeNode, sb *strings.Builder) error) (*mcp.CallToolResult, error) {
	filePath, err := request.RequireString("file_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var sb strings.Builder
	err = p.cache.with(filePath, func(snap *snapshot.Snapshot) error {
		root, err := snap.Dataset().RootNode()
		if err != nil {
			return err
		}
		return fn(snap, root, &sb)
	})
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (p *profilerTools) register(s *server.MCPServer) {
	filePathArg := func(desc string) mcp.ToolOption {
		return mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description(desc),
		)
	}
	loadedArg := filePathArg("Path to the loaded snapshot file")

	s.AddTool(mcp.NewTool("load_snapshot",
		mcp.WithDescription("Load a profiler snapshot file (plain or zstd-compressed) for analysis"),
		filePathArg("Absolute path to the snapshot file"),
	), p.handleLoadSnapshot)

	s.AddTool(mcp.NewTool("unload_snapshot",
		mcp.WithDescription("Close a loaded snapshot and release its memory"),
		loadedArg,
	), p.handleUnloadSnapshot)

	s.AddTool(mcp.NewTool("snapshot_info",
		mcp.WithDescription("Show snapshot metadata: pointer width, first-snapshot flag, processor frequency and the root function"),
		loadedArg,
	), p.handleSnapshotInfo)

	s.AddTool(mcp.NewTool("view_call_tree",
		mcp.WithDescription("Render the call tree of a snapshot with call counts and inclusive time. Useful for understanding execution flow."),
		loadedArg,
		mcp.WithNumber("depth",
			mcp.Description("Number of levels to render below the root (default: server setting, 0 = unlimited)"),
		),
	), p.handleViewCallTree)

	s.AddTool(mcp.NewTool("find_hotspots",
		mcp.WithDescription("Find the top CPU hotspots (functions consuming the most inclusive time) in the snapshot. This is the most important tool for identifying performance bottlenecks."),
		loadedArg,
		mcp.WithNumber("top_n",
			mcp.Description("Number of top hotspots to return (default: 10)"),
		),
	), p.handleFindHotspots)

	s.AddTool(mcp.NewTool("find_self_hotspots",
		mcp.WithDescription("Find the functions with the most self time (time not spent in callees). These are often the real code to optimize."),
		loadedArg,
		mcp.WithNumber("top_n",
			mcp.Description("Number of top functions to return (default: 10)"),
		),
	), p.handleFindSelfHotspots)

	s.AddTool(mcp.NewTool("find_hot_path",
		mcp.WithDescription("Follow the most expensive child from the root down to a leaf"),
		loadedArg,
	), p.handleFindHotPath)

	s.AddTool(mcp.NewTool("get_statistics",
		mcp.WithDescription("Get comprehensive statistics about the call tree including total time, depths, unique functions and active calls"),
		loadedArg,
	), p.handleGetStatistics)

	s.AddTool(mcp.NewTool("detect_performance_issues",
		mcp.WithDescription("Automatically detect potential performance issues using heuristics. This is a great starting point for performance analysis."),
		loadedArg,
	), p.handleDetectIssues)

	s.AddTool(mcp.NewTool("get_mapping",
		mcp.WithDescription("Resolve a name id to its function signature"),
		loadedArg,
		mcp.WithNumber("name_id",
			mcp.Required(),
			mcp.Description("Name id as stored in the function info records"),
		),
	), p.handleGetMapping)

	s.AddTool(mcp.NewTool("export_session",
		mcp.WithDescription("Store the full call tree of a snapshot in the session database so it stays available after the snapshot is unloaded"),
		loadedArg,
		mcp.WithNumber("top_n",
			mcp.Description("Number of top functions to summarize from the stored session (default: 10)"),
		),
	), p.handleExportSession)
}

func (p *profilerTools) handleLoadSnapshot(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filePath, err := request.RequireString("file_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	cs, opened, err := p.cache.load(filePath)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load snapshot: %v", err)), nil
	}
	if opened {
		log.WithField("snapshot", filePath).Info("Loaded snapshot")
	}

	h := cs.snap.Header()
	status := "Snapshot loaded successfully!"
	if !opened {
		status = "Snapshot already loaded."
	}
	result := fmt.Sprintf(`%s

File: %s
Pointer width: %d-bit
First snapshot: %t
Processor frequency: %d MHz
Data size: %d bytes
Names: %d

Use other tools to analyze this snapshot.
`,
		status,
		filePath,
		widthBits(h.Is64Bit),
		h.IsFirst,
		h.ProcessorFrequency,
		h.DataLength,
		h.NameCount,
	)

	return mcp.NewToolResultText(result), nil
}

func (p *profilerTools) handleUnloadSnapshot(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filePath, err := request.RequireString("file_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !p.cache.unload(filePath) {
		return toolError(errNotLoaded), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Snapshot %s unloaded.\n", filePath)), nil
}

func (p *profilerTools) handleSnapshotInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return p.analyze(ctx, request, func(snap *snapshot.Snapshot, root profiling.CallTreeNode, sb *strings.Builder) error {
		ds := snap.Dataset()
		info := root.FunctionInfo()

		sb.WriteString("📄 SNAPSHOT INFO\n")
		sb.WriteString(rule)
		sb.WriteString(fmt.Sprintf("File: %s\n", snap.Path()))
		sb.WriteString(fmt.Sprintf("Pointer width: %d-bit\n", widthBits(ds.Is64Bit())))
		sb.WriteString(fmt.Sprintf("First snapshot: %t\n", ds.IsFirst()))
		sb.WriteString(fmt.Sprintf("Processor frequency: %d MHz\n", ds.ProcessorFrequency()))
		sb.WriteString(fmt.Sprintf("Data size: %d bytes\n", ds.Length()))
		sb.WriteString(fmt.Sprintf("Start position: %s\n", ds.StartPosition()))
		sb.WriteString(fmt.Sprintf("Root function info: %s\n\n", ds.RootFunctionInfoPosition()))

		sb.WriteString("Root:\n")
		sb.WriteString(fmt.Sprintf("  Function: %s\n", root.NameMapping().Signature()))
		sb.WriteString(fmt.Sprintf("  Calls: %d\n", root.CallCount()))
		sb.WriteString(fmt.Sprintf("  Time: %.3f ms (%d cycles)\n", root.TimeSpent(), root.CPUCyclesSpent()))
		sb.WriteString(fmt.Sprintf("  Children: %d of %d slots used\n", info.FillCount, info.TableSize))
		return nil
	})
}

func (p *profilerTools) handleViewCallTree(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	depth := p.treeDepth
	if d := request.GetFloat("depth", -1); d >= 0 {
		depth = int(d)
	}
	return p.analyze(ctx, request, func(snap *snapshot.Snapshot, root profiling.CallTreeNode, sb *strings.Builder) error {
		tree, err := analyzer.RenderTree(ctx, root, depth)
		if err != nil {
			return err
		}
		sb.WriteString("🌳 CALL TREE\n")
		sb.WriteString(rule)
		sb.WriteString(tree)
		return nil
	})
}

func topNArg(request mcp.CallToolRequest) int {
	topN := 10
	if n := request.GetFloat("top_n", 10.0); n != 10.0 {
		topN = int(n)
	}
	return topN
}

func (p *profilerTools) handleFindHotspots(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topN := topNArg(request)
	return p.analyze(ctx, request, func(snap *snapshot.Snapshot, root profiling.CallTreeNode, sb *strings.Builder) error {
		hotspots, err := analyzer.FindHotspots(ctx, root, topN)
		if err != nil {
			return err
		}
		sb.WriteString("🔥 TOP CPU HOTSPOTS (Functions Consuming Most Time)\n")
		sb.WriteString(rule)
		writeHotspots(sb, hotspots)
		return nil
	})
}

func (p *profilerTools) handleFindSelfHotspots(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topN := topNArg(request)
	return p.analyze(ctx, request, func(snap *snapshot.Snapshot, root profiling.CallTreeNode, sb *strings.Builder) error {
		hotspots, err := analyzer.FindSelfHotspots(ctx, root, topN)
		if err != nil {
			return err
		}
		sb.WriteString("🎯 TOP SELF-TIME FUNCTIONS (Where CPU Work Happens)\n")
		sb.WriteString(rule)
		writeHotspots(sb, hotspots)
		return nil
	})
}

func writeHotspots(sb *strings.Builder, hotspots []analyzer.Hotspot) {
	if len(hotspots) == 0 {
		sb.WriteString("No hotspots found.\n")
		return
	}
	for i, hs := range hotspots {
		sb.WriteString(analyzer.FormatHotspot(hs, i+1))
		sb.WriteString("\n")
	}
}

func (p *profilerTools) handleFindHotPath(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return p.analyze(ctx, request, func(snap *snapshot.Snapshot, root profiling.CallTreeNode, sb *strings.Builder) error {
		path, err := analyzer.FindHotPath(ctx, root)
		if err != nil {
			return err
		}
		sb.WriteString("🛤️  HOT PATH\n")
		sb.WriteString(rule)
		for i, n := range path {
			sb.WriteString(fmt.Sprintf("%d. %s\n", i, n.NameMapping().Signature()))
			sb.WriteString(fmt.Sprintf("   Calls: %d, Time: %.3f ms\n", n.CallCount(), n.TimeSpent()))
		}
		return nil
	})
}

func (p *profilerTools) handleGetStatistics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return p.analyze(ctx, request, func(snap *snapshot.Snapshot, root profiling.CallTreeNode, sb *strings.Builder) error {
		stats, err := analyzer.ComputeStatistics(ctx, root)
		if err != nil {
			return err
		}
		sb.WriteString("📊 SNAPSHOT STATISTICS\n")
		sb.WriteString(rule)

		sb.WriteString(fmt.Sprintf("Total Time: %.3f ms\n", stats.TotalTime))
		sb.WriteString(fmt.Sprintf("Total CPU Cycles: %d\n", stats.TotalCycles))
		sb.WriteString(fmt.Sprintf("Total Calls: %d\n", stats.TotalCalls))
		sb.WriteString(fmt.Sprintf("Active Calls: %d\n\n", stats.ActiveCalls))

		sb.WriteString("Call Tree Shape:\n")
		sb.WriteString(fmt.Sprintf("  Nodes: %d\n", stats.NodeCount))
		sb.WriteString(fmt.Sprintf("  Leaves: %d\n", stats.LeafCount))
		sb.WriteString(fmt.Sprintf("  Average Depth: %.2f\n", stats.AverageDepth))
		sb.WriteString(fmt.Sprintf("  Maximum Depth: %d\n\n", stats.MaxDepth))

		sb.WriteString(fmt.Sprintf("Unique Functions: %d\n", stats.UniqueFunctions))
		return nil
	})
}

func writeIssues(sb *strings.Builder, title string, issues []analyzer.PerformanceIssue) {
	if len(issues) == 0 {
		return
	}
	sb.WriteString(title)
	for i, issue := range issues {
		sb.WriteString(fmt.Sprintf("%d. [%s] %s\n", i+1, issue.Category, issue.Description))
		if issue.Function != "" {
			sb.WriteString(fmt.Sprintf("   Function: %s\n", issue.Function))
		}
		if issue.Impact > 0 {
			sb.WriteString(fmt.Sprintf("   Impact: %.2f%% of total time\n", issue.Impact))
		}
		sb.WriteString("\n")
	}
}

func (p *profilerTools) handleDetectIssues(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return p.analyze(ctx, request, func(snap *snapshot.Snapshot, root profiling.CallTreeNode, sb *strings.Builder) error {
		issues, err := analyzer.DetectPerformanceIssues(ctx, root)
		if err != nil {
			return err
		}
		sb.WriteString("⚠️  AUTOMATED PERFORMANCE ISSUE DETECTION\n")
		sb.WriteString(rule)

		if len(issues) == 0 {
			sb.WriteString("✅ No significant performance issues detected!\n")
			return nil
		}

		bySeverity := make(map[string][]analyzer.PerformanceIssue)
		for _, issue := range issues {
			bySeverity[issue.Severity] = append(bySeverity[issue.Severity], issue)
		}
		writeIssues(sb, "🔴 CRITICAL ISSUES:\n\n", bySeverity["Critical"])
		writeIssues(sb, "🟠 HIGH PRIORITY ISSUES:\n\n", bySeverity["High"])
		writeIssues(sb, "🟡 MEDIUM PRIORITY ISSUES:\n\n", bySeverity["Medium"])
		writeIssues(sb, "🔵 LOW PRIORITY ISSUES:\n\n", bySeverity["Low"])

		sb.WriteString("📋 SUMMARY:\n")
		sb.WriteString(fmt.Sprintf("   Critical: %d\n", len(bySeverity["Critical"])))
		sb.WriteString(fmt.Sprintf("   High: %d\n", len(bySeverity["High"])))
		sb.WriteString(fmt.Sprintf("   Medium: %d\n", len(bySeverity["Medium"])))
		sb.WriteString(fmt.Sprintf("   Low: %d\n", len(bySeverity["Low"])))
		return nil
	})
}

func (p *profilerTools) handleGetMapping(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nameID, err := request.RequireFloat("name_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return p.analyze(ctx, request, func(snap *snapshot.Snapshot, _ profiling.CallTreeNode, sb *strings.Builder) error {
		m := snap.Dataset().GetMapping(int32(nameID))
		sb.WriteString(fmt.Sprintf("Name id: %d\n", m.ID))
		sb.WriteString(fmt.Sprintf("Signature: %s\n", m.Signature()))
		if _, known := snap.Names().LookupMapping(m.ID); !known {
			sb.WriteString("(id not present in the name table)\n")
		}
		return nil
	})
}

func (p *profilerTools) handleExportSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topN := topNArg(request)
	return p.analyze(ctx, request, func(snap *snapshot.Snapshot, _ profiling.CallTreeNode, sb *strings.Builder) error {
		// The database is only created once there is something to export.
		st, err := p.sessionStore()
		if err != nil {
			return fmt.Errorf("failed to open session store: %w", err)
		}
		id, err := st.ExportDataset(ctx, snap.Dataset(), snap.Path())
		if err != nil {
			return err
		}
		top, err := st.TopFunctions(ctx, id, topN)
		if err != nil {
			return err
		}
		log.WithField("session", id).Infof("Exported snapshot %s", snap.Path())

		sb.WriteString("💾 SESSION EXPORTED\n")
		sb.WriteString(rule)
		sb.WriteString(fmt.Sprintf("Session: %s\n", id))
		sb.WriteString(fmt.Sprintf("Database: %s\n\n", p.dbPath))
		sb.WriteString("Top functions by cycles:\n")
		for i, ft := range top {
			sb.WriteString(fmt.Sprintf("%d. %s  calls=%d  cycles=%d  nodes=%d\n",
				i+1, ft.Mapping.Signature(), ft.Calls, ft.CPUCycles, ft.Nodes))
		}
		return nil
	})
}

func widthBits(is64Bit bool) int {
	if is64Bit {
		return 64
	}
	return 32
}
