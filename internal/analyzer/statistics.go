package analyzer

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"profsnap/internal/profiling"
)

// TreeStatistics contains comprehensive statistics about a call tree
type TreeStatistics struct {
	TotalCycles     int64
	TotalTime       float64 // milliseconds
	NodeCount       int
	LeafCount       int
	MaxDepth        int
	AverageDepth    float64 // over leaves
	TotalCalls      int64
	ActiveCalls     int
	UniqueFunctions int
}

type partialStats struct {
	nodes, leaves int
	depthSum      int
	maxDepth      int
	calls         int64
	active        int
	functions     map[int32]struct{}
}

func (p *partialStats) merge(o *partialStats) {
	p.nodes += o.nodes
	p.leaves += o.leaves
	p.depthSum += o.depthSum
	p.maxDepth = max(p.maxDepth, o.maxDepth)
	p.calls += o.calls
	p.active += o.active
	for id := range o.functions {
		p.functions[id] = struct{}{}
	}
}

func subtreeStats(ctx context.Context, n profiling.CallTreeNode, base int) (*partialStats, error) {
	p := &partialStats{functions: make(map[int32]struct{})}
	var visit func(n profiling.CallTreeNode) error
	visit = func(n profiling.CallTreeNode) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		children, err := n.Children()
		if err != nil {
			return err
		}
		depth := n.Depth() - base
		p.nodes++
		p.calls += int64(n.CallCount())
		p.active += n.ActiveCallCount()
		p.maxDepth = max(p.maxDepth, depth)
		p.functions[n.FunctionInfo().ID] = struct{}{}
		if len(children) == 0 {
			p.leaves++
			p.depthSum += depth
		}
		for _, c := range children {
			if err := visit(c); err != nil {
				return err
			}
		}
		return nil
	}
	return p, visit(n)
}

// ComputeStatistics calculates comprehensive statistics for the tree below
// root. The root is not counted as a function. Subtrees of the root are
// walked concurrently.
func ComputeStatistics(ctx context.Context, root profiling.CallTreeNode) (TreeStatistics, error) {
	stats := TreeStatistics{}

	total, err := rootCycles(root)
	if err != nil {
		return stats, err
	}
	stats.TotalCycles = total
	if freq := root.Dataset().ProcessorFrequency(); freq > 0 {
		stats.TotalTime = float64(total) / (1000.0 * float64(freq))
	}

	children, err := root.Children()
	if err != nil {
		return stats, err
	}
	if len(children) == 0 {
		return stats, nil
	}

	parts := make([]*partialStats, len(children))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range children {
		g.Go(func() error {
			p, err := subtreeStats(gctx, c, root.Depth())
			parts[i] = p
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	sum := &partialStats{functions: make(map[int32]struct{})}
	for _, p := range parts {
		sum.merge(p)
	}
	stats.NodeCount = sum.nodes
	stats.LeafCount = sum.leaves
	stats.MaxDepth = sum.maxDepth
	stats.TotalCalls = sum.calls
	stats.ActiveCalls = sum.active
	stats.UniqueFunctions = len(sum.functions)
	if sum.leaves > 0 {
		stats.AverageDepth = float64(sum.depthSum) / float64(sum.leaves)
	}
	return stats, nil
}

// FunctionCallFrequency represents how often a function is called
type FunctionCallFrequency struct {
	Function   string
	Calls      int
	Percentage float64
}

// GetFunctionCallFrequencies returns functions sorted by their number of calls
func GetFunctionCallFrequencies(ctx context.Context, root profiling.CallTreeNode) ([]FunctionCallFrequency, error) {
	hotspots, err := collectHotspots(ctx, root)
	if err != nil {
		return nil, err
	}
	totalCalls := 0
	for _, hs := range hotspots {
		totalCalls += hs.CallCount
	}

	frequencies := make([]FunctionCallFrequency, 0, len(hotspots))
	for _, hs := range hotspots {
		freq := FunctionCallFrequency{Function: hs.Function, Calls: hs.CallCount}
		if totalCalls > 0 {
			freq.Percentage = float64(hs.CallCount) / float64(totalCalls) * 100.0
		}
		frequencies = append(frequencies, freq)
	}

	// Sort by count (descending)
	sort.SliceStable(frequencies, func(i, j int) bool {
		if frequencies[i].Calls != frequencies[j].Calls {
			return frequencies[i].Calls > frequencies[j].Calls
		}
		return frequencies[i].Function < frequencies[j].Function
	})
	return frequencies, nil
}

// FindHotPath follows the most expensive child from root down to a leaf.
func FindHotPath(ctx context.Context, root profiling.CallTreeNode) ([]profiling.CallTreeNode, error) {
	path := []profiling.CallTreeNode{root}
	for n := root; ; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		children, err := n.Children()
		if err != nil {
			return nil, err
		}
		if len(children) == 0 {
			return path, nil
		}
		next := children[0]
		for _, c := range children[1:] {
			if c.CPUCyclesSpent() > next.CPUCyclesSpent() {
				next = c
			}
		}
		path = append(path, next)
		n = next
	}
}

// PerformanceIssue is a potential problem found by DetectPerformanceIssues
type PerformanceIssue struct {
	Severity    string // "Critical", "High", "Medium", "Low"
	Category    string // e.g., "Deep Call Tree", "CPU Hotspot", "Recursion"
	Description string
	Function    string
	Impact      float64 // % of total time
}

// DetectPerformanceIssues identifies potential performance problems
func DetectPerformanceIssues(ctx context.Context, root profiling.CallTreeNode) ([]PerformanceIssue, error) {
	issues := []PerformanceIssue{}
	stats, err := ComputeStatistics(ctx, root)
	if err != nil {
		return nil, err
	}

	// Detect extremely deep call trees (potential stack overflow or deep recursion)
	if stats.MaxDepth > 50 {
		issues = append(issues, PerformanceIssue{
			Severity:    "High",
			Category:    "Deep Call Tree",
			Description: fmt.Sprintf("Maximum call depth of %d detected. This may indicate deep recursion or complex call chains.", stats.MaxDepth),
		})
	}

	hotspots, err := collectHotspots(ctx, root)
	if err != nil {
		return nil, err
	}
	for _, hs := range hotspots {
		switch {
		case hs.SelfPercent > 20.0:
			issues = append(issues, PerformanceIssue{
				Severity:    "Critical",
				Category:    "CPU Hotspot",
				Description: fmt.Sprintf("Function spends %.2f%% of total time in its own code", hs.SelfPercent),
				Function:    hs.Function,
				Impact:      hs.SelfPercent,
			})
		case hs.SelfPercent > 10.0:
			issues = append(issues, PerformanceIssue{
				Severity:    "High",
				Category:    "CPU Hotspot",
				Description: fmt.Sprintf("Function spends %.2f%% of total time in its own code", hs.SelfPercent),
				Function:    hs.Function,
				Impact:      hs.SelfPercent,
			})
		}
		// The same function appearing in several nodes with a large
		// inclusive share usually means recursion or a shared helper.
		if hs.NodeCount > 1 && hs.Percentage > 10.0 && hs.CallCount > 1000 {
			issues = append(issues, PerformanceIssue{
				Severity:    "Medium",
				Category:    "Hot Helper",
				Description: fmt.Sprintf("Function is reached over %d call paths with %d calls", hs.NodeCount, hs.CallCount),
				Function:    hs.Function,
				Impact:      hs.Percentage,
			})
		}
	}

	if stats.ActiveCalls > 0 && !root.Dataset().IsFirst() {
		issues = append(issues, PerformanceIssue{
			Severity:    "Low",
			Category:    "Active Calls",
			Description: fmt.Sprintf("%d calls were still running when the snapshot was taken; their time is incomplete.", stats.ActiveCalls),
		})
	}

	// Sort by impact (descending)
	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Impact > issues[j].Impact
	})

	return issues, nil
}
