package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"reqsync/internal/logging"
	"reqsync/internal/report"
)

// Env is everything a command reads from the process. Tests replace it to
// stay hermetic.
type Env struct {
	Stdout io.Writer
	Stderr io.Writer
	Getenv func(string) string
	Getwd  func() (string, error)
	Now    func() time.Time
	// Logger builds the command logger; nil logs to Stderr.
	Logger func(verbose bool) (*zap.Logger, error)
}

// OSEnv returns the process environment writing to stdout and stderr.
// Logs go to the process stderr when stderr is os.Stderr.
func OSEnv(stdout, stderr io.Writer) Env {
	env := Env{
		Stdout: stdout,
		Stderr: stderr,
		Getenv: os.Getenv,
		Getwd:  os.Getwd,
		Now:    func() time.Time { return time.Now().UTC() },
	}
	if stderr == io.Writer(os.Stderr) {
		env.Logger = logging.New
	}
	return env
}

func (e Env) withDefaults() Env {
	if e.Stdout == nil {
		e.Stdout = io.Discard
	}
	if e.Stderr == nil {
		e.Stderr = io.Discard
	}
	if e.Getenv == nil {
		e.Getenv = func(string) string { return "" }
	}
	if e.Getwd == nil {
		e.Getwd = os.Getwd
	}
	if e.Now == nil {
		e.Now = func() time.Time { return time.Now().UTC() }
	}
	if e.Logger == nil {
		stderr := e.Stderr
		e.Logger = func(verbose bool) (*zap.Logger, error) { return logging.NewWriter(stderr, verbose), nil }
	}
	return e
}

// Run is a high-level CLI entrypoint suitable for black-box tests.
// It accepts the argument slice (excluding argv[0]) and returns the semantic
// exit code. Fatal errors are printed as one line on stderr.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	return RunEnv(ctx, args, OSEnv(stdout, stderr))
}

// RunEnv is Run with an explicit environment.
func RunEnv(ctx context.Context, args []string, env Env) int {
	env = env.withDefaults()
	var res Result
	root := newRootCommand(env, &res)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return res.ExitCode
	}
	fmt.Fprintf(env.Stderr, "reqsync: %v\n", err)
	// Flag and argument errors fail before a command sets its result.
	if res.ExitCode <= ExitFindings {
		return ExitCode(err)
	}
	return res.ExitCode
}

func newRootCommand(env Env, res *Result) *cobra.Command {
	var f rawFlags
	root := &cobra.Command{
		Use:   "reqsync",
		Short: "Reconcile requirement files against test evidence",
		Long: `reqsync reconciles the requirement registry of a scenario against live
evidence from test phases, the vitest report and the manual validation ledger.

Modes:
  report         print the enriched, rolled-up requirement graph (default)
  sync           write derived statuses back to requirement files and store a snapshot
  phase-inspect  show what a single test phase contributed (requires --phase)
  drift-check    compare the last snapshot with the current scenario state`,
		Args:          noPositionalArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cwd, err := env.Getwd()
			if err != nil {
				return fmt.Errorf("resolve working directory: %w", err)
			}
			inv, err := f.canonicalize(cwd)
			if err != nil {
				return err
			}
			log, err := env.Logger(inv.Verbose)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			*res, err = Execute(cmd.Context(), inv, env, log)
			return err
		},
	}
	root.SetOut(env.Stdout)
	root.SetErr(env.Stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return invalidInvocationf("%v", err)
	})

	pf := root.PersistentFlags()
	pf.StringVar(&f.scenario, "scenario", "", "Scenario name (required)")
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "Enable debug logging on stderr")

	fl := root.Flags()
	fl.StringVar(&f.mode, "mode", string(ModeReport), "Mode: report|sync|phase-inspect|drift-check")
	fl.StringVar(&f.format, "format", string(report.FormatJSON), "Output format: json|markdown|trace")
	fl.StringVar(&f.phase, "phase", "", "Phase to inspect (phase-inspect mode)")
	fl.BoolVar(&f.pruneStale, "prune-stale", false, "Remove validations whose UI test file no longer exists (sync mode)")
	fl.BoolVar(&f.allowPartialSync, "allow-partial-sync", false, "Sync even when the test run did not cover every required phase")
	fl.StringVarP(&f.output, "output", "o", "", "Write the document to this file instead of stdout")

	root.AddCommand(newManualLogCommand(env, res, &f))
	return root
}

func newManualLogCommand(env Env, res *Result, rootFlags *rawFlags) *cobra.Command {
	var f rawManualFlags
	cmd := &cobra.Command{
		Use:   "manual-log",
		Short: "Append a manual validation to the scenario ledger",
		Long: `Records a human attestation for a requirement. The entry is appended to the
manual validation ledger under an exclusive file lock and expires after
--expires-in days (default from configuration) or at --expires-at.`,
		Args: noPositionalArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cwd, err := env.Getwd()
			if err != nil {
				return fmt.Errorf("resolve working directory: %w", err)
			}
			f.scenario, f.verbose = rootFlags.scenario, rootFlags.verbose
			inv, err := f.canonicalize(cwd, cmd.Flags().Changed("expires-in"))
			if err != nil {
				return err
			}
			log, err := env.Logger(inv.Verbose)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			*res, err = ExecuteManual(cmd.Context(), inv, env, log)
			return err
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.requirement, "requirement", "", "Requirement id (required)")
	fl.StringVar(&f.status, "status", "", "Result: passed|failed|skipped|unknown (required)")
	fl.StringVar(&f.notes, "notes", "", "Free-form notes")
	fl.StringVar(&f.artifact, "artifact", "", "Path to supporting evidence (screenshot, recording)")
	fl.StringVar(&f.validatedBy, "validated-by", "", "Who performed the validation")
	fl.StringVar(&f.validatedAt, "validated-at", "", "When the validation happened (RFC 3339; default now)")
	fl.IntVar(&f.expiresIn, "expires-in", 0, "Days until the validation expires")
	fl.StringVar(&f.expiresAt, "expires-at", "", "Explicit expiry (RFC 3339)")
	fl.StringVar(&f.manifest, "manifest", "", "Ledger path overriding the configured one")
	fl.BoolVar(&f.dryRun, "dry-run", false, "Print the entry without appending it")
	return cmd
}

func noPositionalArgs(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return nil
	}
	return invalidInvocationf("unexpected positional arguments for %q: %q", cmd.CommandPath(), args)
}
