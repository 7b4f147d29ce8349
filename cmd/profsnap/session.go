package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"profsnap/internal/snapshot"
	"profsnap/internal/store"
)

// openStore opens and migrates the session database from the --db flag.
func openStore(opts *options) (*store.Store, error) {
	st, err := store.NewStore(opts.db)
	if err != nil {
		return nil, fmt.Errorf("opening session database %s: %w", opts.db, err)
	}
	if err := st.Migrate(); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func newExportCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "export <snapshot>",
		Short: "Store the full call tree of a snapshot as a new session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(opts)
			if err != nil {
				return err
			}
			defer st.Close()

			return withSnapshot(args[0], func(snap *snapshot.Snapshot) error {
				id, err := st.ExportDataset(cmd.Context(), snap.Dataset(), snap.Path())
				if err != nil {
					return err
				}
				if opts.format == "json" {
					return writeJSON(cmd.OutOrStdout(), map[string]string{"session_id": id, "db": opts.db})
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
}

func newSessionsCmd(opts *options) *cobra.Command {
	var (
		top    int
		remove bool
	)
	cmd := &cobra.Command{
		Use:   "sessions [session-id]",
		Short: "List stored sessions, or show the top functions of one session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(opts)
			if err != nil {
				return err
			}
			defer st.Close()
			ctx := cmd.Context()

			if len(args) == 0 {
				if remove {
					return fmt.Errorf("--delete requires a session id")
				}
				sessions, err := st.Sessions(ctx)
				if err != nil {
					return err
				}
				if opts.format == "json" {
					return writeJSON(cmd.OutOrStdout(), toSessionsJSON(sessions))
				}
				formatSessionsText(cmd.OutOrStdout(), sessions)
				return nil
			}

			if remove {
				return st.DeleteSession(ctx, args[0])
			}
			totals, err := st.TopFunctions(ctx, args[0], top)
			if err != nil {
				return err
			}
			if opts.format == "json" {
				return writeJSON(cmd.OutOrStdout(), toFunctionTotalsJSON(totals))
			}
			formatFunctionTotalsText(cmd.OutOrStdout(), totals)
			return nil
		},
	}
	cmd.Flags().IntVar(&top, "top", 10, "number of functions to show for a session (0 = all)")
	cmd.Flags().BoolVar(&remove, "delete", false, "delete the given session")
	return cmd
}
