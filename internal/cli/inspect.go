package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/retrace/internal/callid"
	"github.com/roach88/retrace/internal/engine"
	"github.com/roach88/retrace/internal/storage"
	"github.com/roach88/retrace/internal/storage/cborlog"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	File     string
	Database string
	TraceID  string
	Name     string
	Manifest string
}

// InspectRecord is one decoded trace record.
type InspectRecord struct {
	Seq    int    `json:"seq"`
	Thread int32  `json:"thread"`
	CallID string `json:"call_id"`
	Label  string `json:"label"`
	Void   bool   `json:"void,omitempty"`
	Result any    `json:"result,omitempty"`
}

// ThreadStats summarizes the records of one logical thread.
type ThreadStats struct {
	Thread  int32          `json:"thread"`
	Records int            `json:"records"`
	Calls   map[string]int `json:"calls"`
}

// InspectResult is the decoded trace.
type InspectResult struct {
	Source  string          `json:"source"`
	Records []InspectRecord `json:"records"`
	Threads []ThreadStats   `json:"threads"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Decode a trace into a timeline",
		Long: `Decode a recorded trace into its records, in recorded order, and
summarize them per logical thread.

The trace comes from a CBOR file (--file) or a SQLite store (--db with
--trace or --name). The manifest lists the labels of the traced program's
call sites and marks those without a result as void.

Examples:
  retrace inspect --file ./trace.cbor --manifest calls.yaml
  retrace inspect --db ./traces.db --name nightly --manifest calls.yaml
  retrace inspect --db ./traces.db --trace 0192... --manifest calls.yaml --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.File, "file", "", "path to a CBOR trace file")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to a SQLite trace store")
	cmd.Flags().StringVar(&opts.TraceID, "trace", "", "trace id within --db")
	cmd.Flags().StringVar(&opts.Name, "name", "", "trace name within --db (newest match)")
	cmd.Flags().StringVar(&opts.Manifest, "manifest", "", "YAML call site manifest (required)")
	_ = cmd.MarkFlagRequired("manifest")
	cmd.MarkFlagsMutuallyExclusive("file", "db")
	cmd.MarkFlagsOneRequired("file", "db")

	return cmd
}

func runInspect(ctx context.Context, opts *InspectOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}

	manifest, err := LoadManifest(opts.Manifest)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load manifest", err)
	}

	var (
		r       storage.Reader
		source  string
		traceID string
	)
	if opts.File != "" {
		cr, err := cborlog.Open(opts.File)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open trace file", err)
		}
		defer cr.Close()
		r, source = cr, "cbor"
	} else {
		st, err := openExistingStore(opts.Database)
		if err != nil {
			return err
		}
		defer st.Close()

		if opts.TraceID == "" {
			if opts.Name == "" {
				return NewExitError(ExitCommandError, "--db needs --trace or --name")
			}
			info, err := st.FindTraceByName(ctx, opts.Name)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to find trace", err)
			}
			traceID = info.ID
		} else {
			traceID = opts.TraceID
		}

		tr, err := st.NewReader(ctx, traceID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open trace", err)
		}
		r, source = tr, "sqlite"
	}

	result, err := decodeTrace(r, manifest)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to decode trace", err)
	}
	result.Source = source

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), traceID, result)
	}
	writeInspectText(cmd.OutOrStdout(), result, traceID)
	return nil
}

// decodeTrace reads every record from r. The manifest tells which records
// carry a result.
func decodeTrace(r storage.Reader, m *Manifest) (InspectResult, error) {
	result := InspectResult{Records: []InspectRecord{}, Threads: []ThreadStats{}}
	stats := make(map[int32]*ThreadStats)

	for seq := 1; ; seq++ {
		var tid int32
		ok, err := r.Get(&tid)
		if err != nil {
			return result, fmt.Errorf("record %d: thread id: %w", seq, err)
		}
		if !ok {
			break
		}

		var raw uint32
		ok, err = r.Get(&raw)
		if err != nil {
			return result, fmt.Errorf("record %d: call id: %w", seq, err)
		}
		if !ok {
			return result, fmt.Errorf("record %d: %w", seq, engine.NewTruncatedError("call id"))
		}

		id := callid.CallID(raw)
		site, known := m.Lookup(id)
		if !known {
			return result, fmt.Errorf("record %d: unknown call id %s: add its label to the manifest", seq, id)
		}

		rec := InspectRecord{
			Seq:    seq,
			Thread: tid,
			CallID: id.String(),
			Label:  site.Label,
			Void:   site.Void,
		}
		if !site.Void {
			var v any
			ok, err = r.Get(&v)
			if err != nil {
				return result, fmt.Errorf("record %d: result: %w", seq, err)
			}
			if !ok {
				return result, fmt.Errorf("record %d: %w", seq, engine.NewTruncatedError("result"))
			}
			rec.Result = normalize(v)
		}
		result.Records = append(result.Records, rec)

		st, ok := stats[tid]
		if !ok {
			st = &ThreadStats{Thread: tid, Calls: make(map[string]int)}
			stats[tid] = st
		}
		st.Records++
		st.Calls[site.Label]++
	}

	for _, st := range stats {
		result.Threads = append(result.Threads, *st)
	}
	sort.Slice(result.Threads, func(i, j int) bool {
		return result.Threads[i].Thread < result.Threads[j].Thread
	})
	return result, nil
}

func writeInspectText(w io.Writer, result InspectResult, traceID string) {
	fmt.Fprintf(w, "Source: %s\n", result.Source)
	if traceID != "" {
		fmt.Fprintf(w, "Trace: %s\n", traceID)
	}
	fmt.Fprintf(w, "Records: %d\n", len(result.Records))
	fmt.Fprintf(w, "Threads: %d\n", len(result.Threads))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Records) == 0 {
		fmt.Fprintln(w, "  (no records)")
	}
	for _, rec := range result.Records {
		fmt.Fprintf(w, "  [%d] thread %d  %s  %s", rec.Seq, rec.Thread, rec.CallID, rec.Label)
		if !rec.Void {
			fmt.Fprintf(w, " = %s", formatValue(rec.Result))
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Threads ===")
	if len(result.Threads) == 0 {
		fmt.Fprintln(w, "  (no threads)")
	}
	for _, st := range result.Threads {
		labels := make([]string, 0, len(st.Calls))
		for l := range st.Calls {
			labels = append(labels, l)
		}
		slices.Sort(labels)

		parts := make([]string, len(labels))
		for i, l := range labels {
			parts[i] = fmt.Sprintf("%s=%d", l, st.Calls[l])
		}
		fmt.Fprintf(w, "  thread %d: %d records (%s)\n", st.Thread, st.Records, strings.Join(parts, ", "))
	}
}

// formatValue formats a decoded result for display. Map keys are sorted so
// output is deterministic.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + formatValue(val[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprintf("%v", val)
	}
}

// normalize turns the map[any]any values the CBOR decoder produces into
// map[string]any so results can be encoded as JSON.
func normalize(v any) any {
	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[formatValue(normalize(k))] = normalize(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = normalize(elem)
		}
		return out
	default:
		return val
	}
}
