package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"profsnap/internal/analyzer"
	"profsnap/internal/snapshot"
)

type inspectOutput struct {
	Path               string  `json:"path"`
	Is64Bit            bool    `json:"is_64bit"`
	IsFirst            bool    `json:"is_first"`
	ProcessorFrequency int64   `json:"processor_frequency_mhz"`
	StartPosition      string  `json:"start_position"`
	RootPosition       string  `json:"root_position"`
	DataLength         uint64  `json:"data_length"`
	Names              uint32  `json:"names"`
	RootFunction       string  `json:"root_function"`
	RootCalls          int     `json:"root_calls"`
	RootTimeMs         float64 `json:"root_time_ms"`
	RootChildren       int32   `json:"root_children"`
}

func newInspectCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <snapshot>",
		Short: "Show snapshot metadata and the root function",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSnapshot(args[0], func(snap *snapshot.Snapshot) error {
				root, err := snap.Dataset().RootNode()
				if err != nil {
					return err
				}
				h := snap.Header()
				out := inspectOutput{
					Path:               snap.Path(),
					Is64Bit:            h.Is64Bit,
					IsFirst:            h.IsFirst,
					ProcessorFrequency: h.ProcessorFrequency,
					StartPosition:      h.StartPosition.String(),
					RootPosition:       h.RootFunctionInfoPosition.String(),
					DataLength:         h.DataLength,
					Names:              h.NameCount,
					RootFunction:       root.NameMapping().Signature(),
					RootCalls:          root.CallCount(),
					RootTimeMs:         root.TimeSpent(),
					RootChildren:       root.FunctionInfo().FillCount,
				}
				if opts.format == "json" {
					return writeJSON(cmd.OutOrStdout(), out)
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "File:                %s\n", out.Path)
				fmt.Fprintf(w, "64-bit:              %t\n", out.Is64Bit)
				fmt.Fprintf(w, "First snapshot:      %t\n", out.IsFirst)
				fmt.Fprintf(w, "Processor frequency: %d MHz\n", out.ProcessorFrequency)
				fmt.Fprintf(w, "Start position:      %s\n", out.StartPosition)
				fmt.Fprintf(w, "Root position:       %s\n", out.RootPosition)
				fmt.Fprintf(w, "Data length:         %d\n", out.DataLength)
				fmt.Fprintf(w, "Names:               %d\n", out.Names)
				fmt.Fprintf(w, "Root:                %s (calls=%d, %.3fms, %d children)\n",
					out.RootFunction, out.RootCalls, out.RootTimeMs, out.RootChildren)
				return nil
			})
		},
	}
}

func newTreeCmd(opts *options) *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "tree <snapshot>",
		Short: "Render the call tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSnapshot(args[0], func(snap *snapshot.Snapshot) error {
				root, err := snap.Dataset().RootNode()
				if err != nil {
					return err
				}
				if opts.format == "json" {
					chain, err := analyzer.AnalyzeCallChains(cmd.Context(), root, depth)
					if err != nil {
						return err
					}
					return writeJSON(cmd.OutOrStdout(), chain)
				}
				tree, err := analyzer.RenderTree(cmd.Context(), root, depth)
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), tree)
				return err
			})
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 0, "levels to render below the root (0 = unlimited)")
	return cmd
}

func newHotspotsCmd(opts *options) *cobra.Command {
	var (
		top      int
		selfTime bool
	)
	cmd := &cobra.Command{
		Use:   "hotspots <snapshot>",
		Short: "List the most expensive functions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSnapshot(args[0], func(snap *snapshot.Snapshot) error {
				root, err := snap.Dataset().RootNode()
				if err != nil {
					return err
				}
				find := analyzer.FindHotspots
				if selfTime {
					find = analyzer.FindSelfHotspots
				}
				hotspots, err := find(cmd.Context(), root, top)
				if err != nil {
					return err
				}
				if opts.format == "json" {
					return writeJSON(cmd.OutOrStdout(), toHotspotsJSON(hotspots))
				}
				formatHotspotsText(cmd.OutOrStdout(), hotspots)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&top, "top", 10, "number of functions to list")
	cmd.Flags().BoolVar(&selfTime, "self", false, "rank by self time instead of inclusive time")
	return cmd
}

const mostCalledShown = 5

type statsOutput struct {
	analyzer.TreeStatistics
	MostCalled []analyzer.FunctionCallFrequency `json:"most_called"`
	Issues     []analyzer.PerformanceIssue      `json:"issues"`
}

func newStatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <snapshot>",
		Short: "Show call tree statistics and detected performance issues",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSnapshot(args[0], func(snap *snapshot.Snapshot) error {
				root, err := snap.Dataset().RootNode()
				if err != nil {
					return err
				}
				stats, err := analyzer.ComputeStatistics(cmd.Context(), root)
				if err != nil {
					return err
				}
				issues, err := analyzer.DetectPerformanceIssues(cmd.Context(), root)
				if err != nil {
					return err
				}
				freqs, err := analyzer.GetFunctionCallFrequencies(cmd.Context(), root)
				if err != nil {
					return err
				}
				if len(freqs) > mostCalledShown {
					freqs = freqs[:mostCalledShown]
				}
				if opts.format == "json" {
					return writeJSON(cmd.OutOrStdout(), statsOutput{
						TreeStatistics: stats,
						MostCalled:     freqs,
						Issues:         issues,
					})
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Total time:       %.3f ms (%d cycles)\n", stats.TotalTime, stats.TotalCycles)
				fmt.Fprintf(w, "Nodes:            %d (%d leaves)\n", stats.NodeCount, stats.LeafCount)
				fmt.Fprintf(w, "Depth:            max %d, avg %.2f\n", stats.MaxDepth, stats.AverageDepth)
				fmt.Fprintf(w, "Calls:            %d (%d active)\n", stats.TotalCalls, stats.ActiveCalls)
				fmt.Fprintf(w, "Unique functions: %d\n", stats.UniqueFunctions)
				for _, f := range freqs {
					fmt.Fprintf(w, "  %8d calls (%.2f%%)  %s\n", f.Calls, f.Percentage, f.Function)
				}
				for _, issue := range issues {
					fmt.Fprintf(w, "[%s] %s: %s\n", issue.Severity, issue.Category, issue.Description)
				}
				return nil
			})
		},
	}
}
