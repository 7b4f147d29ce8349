package analyzer

import (
	"context"

	"profsnap/internal/profiling"
)

// Walk visits root and its descendants depth-first, parents before their
// children. Nodes deeper than maxDepth are not visited; maxDepth <= 0 means
// no limit. If fn returns false the children of that node are skipped.
// Errors from reading the tree, such as profiling.ErrUseAfterDispose, stop
// the walk and are returned unchanged.
func Walk(ctx context.Context, root profiling.CallTreeNode, maxDepth int,
	fn func(profiling.CallTreeNode) bool) error {
	return walk(ctx, root, root.Depth(), maxDepth, fn)
}

func walk(ctx context.Context, n profiling.CallTreeNode, baseDepth, maxDepth int,
	fn func(profiling.CallTreeNode) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !fn(n) {
		return nil
	}
	if maxDepth > 0 && n.Depth()-baseDepth >= maxDepth {
		return nil
	}
	children, err := n.Children()
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := walk(ctx, c, baseDepth, maxDepth, fn); err != nil {
			return err
		}
	}
	return nil
}

// rootCycles returns the cycles used as 100%: the root's own cycles, or the
// sum of its children when the root does not record time itself.
func rootCycles(root profiling.CallTreeNode) (int64, error) {
	if c := root.CPUCyclesSpent(); c > 0 {
		return c, nil
	}
	children, err := root.Children()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, c := range children {
		total += c.CPUCyclesSpent()
	}
	return total, nil
}

func percentage(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total) * 100.0
}
