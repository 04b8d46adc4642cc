package cli

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/retrace/internal/config"
	"github.com/roach88/retrace/internal/engine"
)

// DemoOptions holds flags for the demo command.
type DemoOptions struct {
	*RootOptions
	Config     string
	Workers    int
	Iterations int
	MaxSleep   time.Duration
	Verify     bool
}

// DemoOutput is one value a demo worker appended to the shared list.
type DemoOutput struct {
	Worker string `json:"worker"`
	Value  int    `json:"value"`
}

// DemoResult is the outcome of a demo run.
type DemoResult struct {
	Mode     string       `json:"mode"`
	Backend  string       `json:"backend"`
	Outputs  []DemoOutput `json:"outputs"`
	Verified bool         `json:"verified,omitempty"`
}

// NewDemoCommand creates the demo command.
func NewDemoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DemoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the demo workload in the configured mode",
		Long: `Run a small concurrent workload through retrace.

Each worker sleeps a random time, draws a random number through a wrapped
call, then appends it to a shared list under an instrumented mutex. Record
once, replay with the same settings, and the list comes out identical even
though the sleeps differ.

Settings come from --config and RETRACE_ environment variables.

Examples:
  retrace demo --config record.yaml
  retrace demo --config replay.yaml
  RETRACE_MODE=record retrace demo --verify`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to a YAML config file")
	cmd.Flags().IntVar(&opts.Workers, "workers", 3, "number of worker goroutines")
	cmd.Flags().IntVar(&opts.Iterations, "iterations", 5, "values drawn per worker")
	cmd.Flags().DurationVar(&opts.MaxSleep, "max-sleep", 2*time.Millisecond, "upper bound of each random sleep")
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "after recording, replay in-process and compare")

	return cmd
}

func runDemo(ctx context.Context, opts *DemoOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Workers < 1 || opts.Iterations < 0 {
		return NewExitError(ExitCommandError, "--workers must be at least 1 and --iterations not negative")
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Verify && cfg.Mode != config.ModeRecord {
		return NewExitError(ExitCommandError, "--verify needs record mode")
	}

	logger := cfg.Logger(cmd.ErrOrStderr())
	if opts.Verbose {
		logger = opts.logger(cmd.ErrOrStderr())
	}

	session, err := config.Open(ctx, cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open session", err)
	}
	defer session.Close()

	outputs, err := runDemoWorkload(ctx, session.Dispatcher(), opts)
	if err != nil {
		return WrapExitError(ExitFailure, "demo failed", err)
	}

	result := DemoResult{
		Mode:    cfg.Mode,
		Backend: cfg.Backend,
		Outputs: outputs,
	}

	if opts.Verify {
		if err := session.Replay(ctx); err != nil {
			return WrapExitError(ExitFailure, "failed to start replay", err)
		}
		replayed, err := runDemoWorkload(ctx, session.Dispatcher(), opts)
		if err != nil {
			return WrapExitError(ExitFailure, "replay failed", err)
		}
		if !slices.Equal(outputs, replayed) {
			return NewExitError(ExitFailure, "replay diverged from recording")
		}
		result.Verified = true
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), session.TraceID(), result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Mode: %s (%s)\n", result.Mode, result.Backend)
	if id := session.TraceID(); id != "" {
		fmt.Fprintf(w, "Trace: %s\n", id)
	}
	for _, o := range result.Outputs {
		fmt.Fprintf(w, "  %s  %d\n", o.Worker, o.Value)
	}
	if result.Verified {
		fmt.Fprintf(w, "Replay matched %d values\n", len(result.Outputs))
	}
	return nil
}

// runDemoWorkload runs the workers and returns the shared list in append
// order.
func runDemoWorkload(ctx context.Context, d *engine.Dispatcher, opts *DemoOptions) ([]DemoOutput, error) {
	mtx := engine.NewMutex(d)
	outputs := make([]DemoOutput, 0, opts.Workers*opts.Iterations)

	g := engine.NewGroup(ctx)
	for w := 1; w <= opts.Workers; w++ {
		name := fmt.Sprintf("worker-%d", w)
		label := fmt.Sprintf("demo.%s.rand", name)

		g.Go(name, func(ctx context.Context) error {
			for i := 0; i < opts.Iterations; i++ {
				if opts.MaxSleep > 0 {
					time.Sleep(rand.N(opts.MaxSleep))
				}

				v, err := engine.Wrap(ctx, d, label, func() int {
					return rand.IntN(1_000_000)
				})
				if err != nil {
					return err
				}

				if err := mtx.Lock(ctx); err != nil {
					return err
				}
				outputs = append(outputs, DemoOutput{Worker: name, Value: v})
				if err := mtx.Unlock(ctx); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}
