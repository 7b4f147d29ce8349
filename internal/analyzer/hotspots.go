package analyzer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"profsnap/internal/profiling"
)

// Hotspot represents a performance hotspot (function that consumes significant time)
type Hotspot struct {
	NameID      int32
	Function    string
	TotalCycles int64   // Inclusive cycles, counted once per call path
	SelfCycles  int64   // Cycles not attributed to any callee
	TotalTime   float64 // Inclusive time in milliseconds
	SelfTime    float64 // Self time in milliseconds
	CallCount   int     // Number of calls over all call paths
	NodeCount   int     // Number of call-tree nodes for this function
	Percentage  float64 // Inclusive percentage of the root's time
	SelfPercent float64 // Self percentage of the root's time
}

// CallChainNode represents a node in the call chain analysis
type CallChainNode struct {
	Function   string
	TotalTime  float64
	CallCount  int
	Percentage float64
	Active     bool
	Children   []*CallChainNode
}

type hotspotCollector struct {
	byID       map[int32]*Hotspot
	onPath     map[int32]int
	freq       int64
	totalCycle int64
}

func (c *hotspotCollector) visit(ctx context.Context, n profiling.CallTreeNode, isRoot bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	children, err := n.Children()
	if err != nil {
		return err
	}

	if !isRoot {
		id := n.FunctionInfo().ID
		hs, ok := c.byID[id]
		if !ok {
			hs = &Hotspot{NameID: id, Function: n.NameMapping().Signature()}
			c.byID[id] = hs
		}
		// Recursive calls are already contained in the outermost frame.
		if c.onPath[id] == 0 {
			hs.TotalCycles += n.CPUCyclesSpent()
		}
		self := n.CPUCyclesSpent()
		for _, ch := range children {
			self -= ch.CPUCyclesSpent()
		}
		hs.SelfCycles += max(self, 0)
		hs.CallCount += n.CallCount()
		hs.NodeCount++

		c.onPath[id]++
		defer func() { c.onPath[id]-- }()
	}

	for _, ch := range children {
		if err := c.visit(ctx, ch, false); err != nil {
			return err
		}
	}
	return nil
}

func (c *hotspotCollector) toMs(cycles int64) float64 {
	if c.freq <= 0 {
		return 0
	}
	return float64(cycles) / (1000.0 * float64(c.freq))
}

func collectHotspots(ctx context.Context, root profiling.CallTreeNode) ([]Hotspot, error) {
	total, err := rootCycles(root)
	if err != nil {
		return nil, err
	}
	c := &hotspotCollector{
		byID:       make(map[int32]*Hotspot),
		onPath:     make(map[int32]int),
		freq:       root.Dataset().ProcessorFrequency(),
		totalCycle: total,
	}
	if err := c.visit(ctx, root, true); err != nil {
		return nil, err
	}

	hotspots := make([]Hotspot, 0, len(c.byID))
	for _, hs := range c.byID {
		hs.TotalTime = c.toMs(hs.TotalCycles)
		hs.SelfTime = c.toMs(hs.SelfCycles)
		hs.Percentage = percentage(hs.TotalCycles, c.totalCycle)
		hs.SelfPercent = percentage(hs.SelfCycles, c.totalCycle)
		hotspots = append(hotspots, *hs)
	}
	return hotspots, nil
}

func topN(hotspots []Hotspot, n int, less func(a, b Hotspot) bool) []Hotspot {
	sort.Slice(hotspots, func(i, j int) bool {
		if less(hotspots[i], hotspots[j]) {
			return true
		}
		if less(hotspots[j], hotspots[i]) {
			return false
		}
		return hotspots[i].NameID < hotspots[j].NameID
	})
	if n > 0 && n < len(hotspots) {
		return hotspots[:n]
	}
	return hotspots
}

// FindHotspots identifies the functions with the highest inclusive time
// below root. The root itself stands for the whole snapshot and is not
// reported.
func FindHotspots(ctx context.Context, root profiling.CallTreeNode, n int) ([]Hotspot, error) {
	hotspots, err := collectHotspots(ctx, root)
	if err != nil {
		return nil, err
	}
	return topN(hotspots, n, func(a, b Hotspot) bool {
		return a.TotalCycles > b.TotalCycles
	}), nil
}

// FindSelfHotspots identifies the functions with the highest self time.
// These are where the CPU work actually happens.
func FindSelfHotspots(ctx context.Context, root profiling.CallTreeNode, n int) ([]Hotspot, error) {
	hotspots, err := collectHotspots(ctx, root)
	if err != nil {
		return nil, err
	}
	return topN(hotspots, n, func(a, b Hotspot) bool {
		return a.SelfCycles > b.SelfCycles
	}), nil
}

// AnalyzeCallChains materialises the call tree below root down to depth
// levels (0 = unlimited).
func AnalyzeCallChains(ctx context.Context, root profiling.CallTreeNode, depth int) (*CallChainNode, error) {
	total, err := rootCycles(root)
	if err != nil {
		return nil, err
	}
	var build func(n profiling.CallTreeNode) (*CallChainNode, error)
	build = func(n profiling.CallTreeNode) (*CallChainNode, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		node := &CallChainNode{
			Function:   n.NameMapping().Signature(),
			TotalTime:  n.TimeSpent(),
			CallCount:  n.CallCount(),
			Percentage: percentage(n.CPUCyclesSpent(), total),
			Active:     n.IsActiveAtStart(),
		}
		if depth > 0 && n.Depth()-root.Depth() >= depth {
			return node, nil
		}
		children, err := n.Children()
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			child, err := build(c)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, child)
		}
		return node, nil
	}
	return build(root)
}

// RenderTree returns an indented text rendering of the call tree below
// root, down to depth levels (0 = unlimited).
func RenderTree(ctx context.Context, root profiling.CallTreeNode, depth int) (string, error) {
	chain, err := AnalyzeCallChains(ctx, root, depth)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	var render func(n *CallChainNode, level int)
	render = func(n *CallChainNode, level int) {
		sb.WriteString(strings.Repeat("  ", level))
		sb.WriteString(fmt.Sprintf("%s  calls=%d  time=%.3fms (%.2f%%)", n.Function, n.CallCount,
			n.TotalTime, n.Percentage))
		if n.Active {
			sb.WriteString("  [active at start]")
		}
		sb.WriteString("\n")
		for _, c := range n.Children {
			render(c, level+1)
		}
	}
	render(chain, 0)
	return sb.String(), nil
}

// FormatHotspot returns a human-readable string representation of a hotspot
func FormatHotspot(hs Hotspot, rank int) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("#%d: %s\n", rank, hs.Function))
	sb.WriteString(fmt.Sprintf("    Time: %.3f ms (%.2f%%)\n", hs.TotalTime, hs.Percentage))
	sb.WriteString(fmt.Sprintf("    Self: %.3f ms (%.2f%%)\n", hs.SelfTime, hs.SelfPercent))
	sb.WriteString(fmt.Sprintf("    Calls: %d\n", hs.CallCount))
	sb.WriteString(fmt.Sprintf("    Cycles: %d\n", hs.TotalCycles))

	return sb.String()
}
