package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"reqsync/internal/config"
	"reqsync/internal/discovery"
	"reqsync/internal/drift"
	"reqsync/internal/manual"
	"reqsync/internal/reconcile"
	"reqsync/internal/report"
	"reqsync/internal/snapshot"
	"reqsync/internal/store"
	"reqsync/internal/trace"
)

// Result is the outcome of one executed invocation.
type Result struct {
	ExitCode int
	// Document is what was printed: a report, phase or drift document, or
	// the appended manual entry.
	Document any
}

// resolveScenario locates the scenario root and loads its configuration.
func resolveScenario(name string, env Env) (string, config.Config, error) {
	cwd, err := env.Getwd()
	if err != nil {
		return "", config.Config{}, fmt.Errorf("resolve working directory: %w", err)
	}
	root, err := discovery.ResolveScenarioRoot(name, cwd, env.Getenv)
	if err != nil {
		return "", config.Config{}, err
	}
	cfg, err := config.Load(root, env.Getenv)
	if err != nil {
		return "", config.Config{}, err
	}
	return root, cfg, nil
}

// Execute runs a canonical Invocation and writes its document.
func Execute(ctx context.Context, inv Invocation, env Env, log *zap.Logger) (Result, error) {
	res := Result{ExitCode: ExitInternalError}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	root, cfg, err := resolveScenario(inv.Scenario, env)
	if err != nil {
		res.ExitCode = ExitCode(err)
		return res, err
	}
	log = log.With(zap.String("scenario", inv.Scenario), zap.String("mode", string(inv.Mode)))
	log.Debug("scenario resolved", zap.String("root", root))

	var cl trace.ChangeLog
	switch inv.Mode {
	case ModeDriftCheck:
		r, err := drift.Run(inv.Scenario, root, cfg, env.Now(), log)
		if err != nil {
			res.ExitCode = ExitCode(err)
			return res, err
		}
		res.Document = r
		res.ExitCode = ExitSuccess
		if r.HasFindings() {
			res.ExitCode = ExitFindings
		}
	case ModePhaseInspect:
		sc, err := loadScenario(inv.Scenario, root, cfg, env.Now(), log)
		if err != nil {
			res.ExitCode = ExitCode(err)
			return res, err
		}
		res.Document = report.BuildPhase(inv.Scenario, inv.Phase, sc.Registry, sc.Evidence)
		res.ExitCode = ExitSuccess
	case ModeSync:
		doc, changes, err := runSync(ctx, inv, env, root, cfg, log)
		if err != nil {
			res.ExitCode = ExitCode(err)
			return res, err
		}
		res.Document, cl = doc, changes
		res.ExitCode = ExitSuccess
	default:
		sc, err := loadScenario(inv.Scenario, root, cfg, env.Now(), log)
		if err != nil {
			res.ExitCode = ExitCode(err)
			return res, err
		}
		res.Document = report.Build(inv.Scenario, sc.Registry, sc.Graph, env.Now())
		cl = sc.Recorder.Log(sc.Graph.Hash())
		res.ExitCode = ExitSuccess
	}

	if err := emit(inv, env.Stdout, res.Document, cl); err != nil {
		res.ExitCode = ExitInternalError
		return res, err
	}
	return res, nil
}

// runSync checks the guard, writes back requirement files, re-runs the
// rollup and stores the snapshot.
func runSync(ctx context.Context, inv Invocation, env Env, root string, cfg config.Config, log *zap.Logger) (*report.Document, trace.ChangeLog, error) {
	guard := reconcile.GuardFromEnv(cfg.RequiredPhases, env.Getenv, inv.AllowPartialSync)
	if err := guard.Check(); err != nil {
		return nil, trace.ChangeLog{}, err
	}
	if guard.AllowPartial {
		log.Warn("partial sync allowed; phase coverage was not verified")
	}

	now := env.Now()
	sc, err := loadScenario(inv.Scenario, root, cfg, now, log)
	if err != nil {
		return nil, trace.ChangeLog{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, trace.ChangeLog{}, err
	}

	result, err := reconcile.Sync(sc.Registry, reconcile.Options{
		Root:       root,
		PruneStale: inv.PruneStale,
		Now:        now,
		Classifier: sc.Classifier,
		Vitest:     sc.Evidence.Vitest,
		Sink:       sc.Recorder,
		Log:        log,
	})
	if err != nil {
		return nil, trace.ChangeLog{}, err
	}
	sc.rerollup()

	snap, err := snapshot.Build(snapshot.Input{
		Scenario: inv.Scenario,
		Root:     root,
		SyncedAt: now,
		Registry: sc.Registry,
		Graph:    sc.Graph,
		Ledger:   sc.Ledger,
	})
	if err != nil {
		return nil, trace.ChangeLog{}, err
	}
	if err := snapshot.Write(config.Resolve(root, cfg.SnapshotPath), snap); err != nil {
		return nil, trace.ChangeLog{}, err
	}
	log.Info("sync complete",
		zap.Int("files_written", len(result.FilesWritten)),
		zap.Int("status_changes", len(result.StatusChanges)),
		zap.String("sync_id", snap.SyncID))

	doc := report.Build(inv.Scenario, sc.Registry, sc.Graph, now)
	doc.Sync = &report.SyncSummary{Result: result, SnapshotPath: cfg.SnapshotPath, SyncID: snap.SyncID}
	return doc, sc.Recorder.Log(sc.Graph.Hash()), nil
}

// ExecuteManual validates an attestation and appends it to the ledger.
func ExecuteManual(ctx context.Context, inv ManualInvocation, env Env, log *zap.Logger) (Result, error) {
	res := Result{ExitCode: ExitInternalError}
	root, cfg, err := resolveScenario(inv.Scenario, env)
	if err != nil {
		res.ExitCode = ExitCode(err)
		return res, err
	}
	entry, err := manual.Build(inv.Input, env.Now(), cfg.ManualExpiryDays)
	if err != nil {
		res.ExitCode = ExitCode(err)
		return res, err
	}

	ledger := inv.Manifest
	if ledger == "" {
		ledger = config.Resolve(root, cfg.ManualLedger)
	}
	if inv.DryRun {
		log.Info("dry run; ledger not modified", zap.String("ledger", ledger))
	} else {
		if err := manual.Append(ctx, ledger, entry); err != nil {
			return res, err
		}
		log.Info("manual validation recorded", zap.String("requirement", entry.RequirementID), zap.String("ledger", ledger))
	}

	res.Document = entry
	if err := report.WriteJSON(env.Stdout, entry); err != nil {
		return res, err
	}
	res.ExitCode = ExitSuccess
	return res, nil
}

// emit renders the document to stdout or, with --output, atomically to a file.
func emit(inv Invocation, stdout io.Writer, doc any, cl trace.ChangeLog) error {
	if inv.OutputPath == "" {
		return report.Render(stdout, inv.Format, doc, cl)
	}
	var buf bytes.Buffer
	if err := report.Render(&buf, inv.Format, doc, cl); err != nil {
		return err
	}
	if err := store.WriteFileAtomic(inv.OutputPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
