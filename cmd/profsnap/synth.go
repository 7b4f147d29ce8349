package main

import (
	"fmt"
	"math/rand/v2"

	"github.com/spf13/cobra"

	"profsnap/internal/profiling"
	"profsnap/internal/snapshot"
)

type synthParams struct {
	is64Bit   bool
	isFirst   bool
	freq      int64
	depth     int
	fanout    int
	functions int
	seed      uint64
	start     uint64
	compress  bool
}

func newSynthCmd(opts *options) *cobra.Command {
	p := synthParams{}
	cmd := &cobra.Command{
		Use:   "synth <output>",
		Short: "Write a synthetic snapshot, useful for testing the other commands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if p.depth < 1 || p.fanout < 1 || p.functions < 1 {
				return fmt.Errorf("depth, fanout and functions must be positive")
			}
			b, root := synthesize(p)
			h := b.Header(root, p.isFirst, p.freq)
			if err := snapshot.WriteFile(args[0], h, b.Data(), b.Names(), p.compress); err != nil {
				return err
			}
			if opts.format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"path":        args[0],
					"data_length": h.DataLength,
					"names":       h.NameCount,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes of snapshot data, %d names)\n",
				args[0], h.DataLength, h.NameCount)
			return nil
		},
	}
	cmd.Flags().BoolVar(&p.is64Bit, "64bit", true, "use 64-bit process pointers")
	cmd.Flags().BoolVar(&p.isFirst, "first", false, "mark as the first snapshot of a session")
	cmd.Flags().Int64Var(&p.freq, "freq", 3000, "processor frequency in MHz")
	cmd.Flags().IntVar(&p.depth, "depth", 4, "call tree depth below the root")
	cmd.Flags().IntVar(&p.fanout, "fanout", 3, "children per node")
	cmd.Flags().IntVar(&p.functions, "functions", 12, "number of distinct functions")
	cmd.Flags().Uint64Var(&p.seed, "seed", 1, "random seed")
	cmd.Flags().Uint64Var(&p.start, "start", 0x10000000, "process address of the snapshot memory")
	cmd.Flags().BoolVar(&p.compress, "compress", false, "zstd-compress the file")
	return cmd
}

// synthesize builds a random call tree. Inclusive cycles of a node always
// cover the cycles of its children.
func synthesize(p synthParams) (*snapshot.Builder, profiling.TargetAddress) {
	r := rand.New(rand.NewPCG(p.seed, p.seed^0x9e3779b97f4a7c15))
	b := snapshot.NewBuilder(profiling.TargetAddress(p.start), p.is64Bit)

	var gen func(level int) snapshot.Tree
	gen = func(level int) snapshot.Tree {
		t := snapshot.Tree{
			ID:        int32(r.IntN(p.functions)) + 1,
			CallCount: int32(r.IntN(100)) + 1,
			Cycles:    int64(r.IntN(1_000_000)) + 1000,
		}
		if !p.isFirst && r.IntN(20) == 0 {
			t.ActiveCalls = 1
		}
		if level < p.depth {
			for range p.fanout {
				c := gen(level + 1)
				t.Cycles += c.Cycles
				t.Children = append(t.Children, c)
			}
		}
		return t
	}

	tree := gen(1)
	root := snapshot.Tree{ID: 0, CallCount: 1, Cycles: tree.Cycles, Children: []snapshot.Tree{tree}}
	rootAddr := b.AddTree(root)

	b.AddName(profiling.NameMapping{ID: 0, Name: "Thread#1"})
	for id := 1; id <= p.functions; id++ {
		b.AddName(profiling.NameMapping{
			ID:         int32(id),
			ReturnType: "System.Void",
			Name:       fmt.Sprintf("Synthetic.Func%d", id),
			Parameters: []string{"System.Int32 n"},
		})
	}
	return b, rootAddr
}
