package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/retrace/internal/store"
)

// TracesOptions holds flags for the traces command.
type TracesOptions struct {
	*RootOptions
	Database string
}

// TraceSummary is one row of the traces listing.
type TraceSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Values    int64  `json:"values"`
	Closed    bool   `json:"closed"`
	CreatedAt string `json:"created_at,omitempty"`
}

// NewTracesCommand creates the traces command.
func NewTracesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TracesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "traces",
		Short: "List the traces in a SQLite store",
		Long: `List every trace recorded into a SQLite store, oldest first.

A trace is open while it is being recorded and closed once the recording
session ends.

Examples:
  retrace traces --db ./traces.db
  retrace traces --db ./traces.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTraces(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

// openExistingStore opens path without creating a new database.
func openExistingStore(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func runTraces(ctx context.Context, opts *TracesOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	infos, err := st.ListTraces(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list traces", err)
	}

	summaries := make([]TraceSummary, 0, len(infos))
	for _, info := range infos {
		s := TraceSummary{
			ID:     info.ID,
			Name:   info.Name,
			Values: info.Values,
			Closed: info.Closed,
		}
		if created := info.CreatedAt(); !created.IsZero() {
			s.CreatedAt = created.UTC().Format(time.RFC3339)
		}
		summaries = append(summaries, s)
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), "", summaries)
	}

	w := cmd.OutOrStdout()
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No traces found")
		return nil
	}
	for _, s := range summaries {
		state := "open"
		if s.Closed {
			state = "closed"
		}
		fmt.Fprintf(w, "%s  %-16s %6d values  %s", s.ID, s.Name, s.Values, state)
		if s.CreatedAt != "" {
			fmt.Fprintf(w, "  created %s", s.CreatedAt)
		}
		fmt.Fprintln(w)
	}
	return nil
}
