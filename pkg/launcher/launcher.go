// SPDX-License-Identifier: Apache-2.0

// Package launcher ties runtime resolution, mod file sync, environment
// construction and process supervision into a single entry point. Frontends
// build a Config, call Run, and render the Report.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/convoymp/convoy/internal/paths"
	"github.com/convoymp/convoy/internal/shellparse"
	"github.com/convoymp/convoy/pkg/filesync"
	"github.com/convoymp/convoy/pkg/runtime"
	"github.com/convoymp/convoy/pkg/supervisor"
)

// injectExe is the mod's injector binary, part of the synced file set.
const injectExe = "convoy-inject.exe"

// ErrGameNotFound reports an expected game file missing before launch, so a
// broken install never surfaces as an opaque child exit code.
var ErrGameNotFound = errors.New("expected game files missing")

// Warning codes reported in Report.Warnings.
const (
	WarnPrefixCreated = "prefix-created"  // a fresh prefix skeleton was built
	WarnManifestReset = "manifest-reset"  // local manifest was corrupt and discarded
	WarnFileVanished  = "file-vanished"   // a recorded file was missing on disk
	WarnRedownloaded  = "re-downloaded"   // a previously verified file was fetched again
	WarnMirrorUsed    = "mirror-recovery" // an entry succeeded only via the mirror host
)

// Warning is one non-fatal observation from a run.
type Warning struct {
	Code   string
	Detail string
}

// Report is the outcome of a completed run.
type Report struct {
	ExitCode int
	Signal   string // non-empty when the game ended on a signal
	Warnings []Warning
}

// SyncError aggregates the entries that could not be synced after all hosts
// were tried. The launch is aborted rather than started with a partial set.
type SyncError struct {
	Failures []filesync.EntryFailure
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%d files failed to sync (first: %v)", len(e.Failures), e.Failures[0])
}

// Run executes one full launch: resolve the runtime and sync the mod files
// concurrently, build the child environment, then supervise the game until
// it exits. Non-fatal observations are collected into the report; any error
// return means the game was never started (or failed to start).
func Run(ctx context.Context, cfg Config, logger hclog.Logger) (*Report, error) {
	cfg.Normalize()

	req, err := cfg.runtimeRequest()
	if err != nil {
		return nil, err
	}

	var (
		desc     *runtime.Descriptor
		created  bool
		syncWarn []Warning
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var rerr error
		desc, created, rerr = runtime.NewResolver(logger.Named("runtime")).Resolve(gctx, req)
		return rerr
	})
	if !cfg.SinglePlayer {
		g.Go(func() error {
			var serr error
			syncWarn, serr = syncMod(gctx, cfg, logger.Named("filesync"))
			return serr
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var warnings []Warning
	if created {
		warnings = append(warnings, Warning{WarnPrefixCreated, cfg.PrefixDir})
	}
	warnings = append(warnings, syncWarn...)

	env, err := runtime.BuildEnvironment(desc, cfg.flags(desc.Kind), os.Environ(), logger)
	if err != nil {
		return nil, err
	}

	spec, err := buildLaunchSpec(cfg, desc)
	if err != nil {
		return nil, err
	}
	spec.Env = env

	logger.Info("🚀 Launching game", "runtime", desc.Kind, "version", desc.Version, "target", shellparse.Join(spec.Args))
	res, err := supervisor.New(logger.Named("supervisor")).Launch(ctx, spec)
	if err != nil {
		return nil, err
	}
	return &Report{ExitCode: res.ExitCode, Signal: res.Signal, Warnings: warnings}, nil
}

// syncMod brings the mod directory up to date with the remote manifest.
// Entries that fail against the primary host are retried once against the
// mirror, if one is configured. Any entry still failed aborts the run.
func syncMod(ctx context.Context, cfg Config, logger hclog.Logger) ([]Warning, error) {
	var warnings []Warning

	local, err := filesync.LoadManifest(paths.ManifestPath(cfg.ModDir))
	if err != nil {
		if !errors.Is(err, filesync.ErrManifestCorrupt) {
			return nil, err
		}
		warnings = append(warnings, Warning{WarnManifestReset, paths.ManifestPath(cfg.ModDir)})
	}

	remote, err := filesync.FetchRemoteManifest(ctx, http.DefaultClient, cfg.ManifestURL)
	if err != nil {
		return nil, err
	}

	// Records for files that vanished from disk are dropped so the plan
	// picks them up again.
	for _, entry := range remote.Files {
		if _, ok := local.Lookup(entry.Path); !ok {
			continue
		}
		hostPath := filepath.Join(cfg.ModDir, filepath.FromSlash(entry.Path))
		if _, statErr := os.Stat(hostPath); os.IsNotExist(statErr) {
			if ferr := local.Forget(entry.Path); ferr != nil {
				return nil, ferr
			}
			warnings = append(warnings, Warning{WarnFileVanished, entry.Path})
		}
	}

	engine := filesync.NewEngine(cfg.ModDir, local, logger)
	engine.Workers = cfg.Workers

	plan := engine.Plan(remote.Files, remote.Version)
	logger.Info("📋 sync plan ready", "total", len(remote.Files), "planned", len(plan))

	// A planned entry that already has a manifest record is a re-download.
	known := make(map[string]bool, len(plan))
	for _, entry := range plan {
		if _, ok := local.Lookup(entry.Path); ok {
			known[entry.Path] = true
		}
	}

	result := engine.Execute(ctx, plan, remote.Version)
	if len(result.Failed) > 0 && cfg.MirrorURL != "" {
		retryResult := engine.Execute(ctx, mirrorPlan(plan, result.Failed, cfg.MirrorURL), remote.Version)
		for _, path := range retryResult.Downloaded {
			warnings = append(warnings, Warning{WarnMirrorUsed, path})
		}
		result.Downloaded = append(result.Downloaded, retryResult.Downloaded...)
		result.Failed = retryResult.Failed
	}
	if len(result.Failed) > 0 {
		return nil, &SyncError{Failures: result.Failed}
	}

	for _, path := range result.Downloaded {
		if known[path] {
			warnings = append(warnings, Warning{WarnRedownloaded, path})
		}
	}
	return warnings, nil
}

// mirrorPlan rebuilds the failed entries with their URLs pointed at the
// mirror host. Entry order follows the original plan.
func mirrorPlan(plan []filesync.RemoteFileEntry, failed []filesync.EntryFailure, mirrorURL string) []filesync.RemoteFileEntry {
	failedPaths := make(map[string]bool, len(failed))
	for _, f := range failed {
		failedPaths[f.Path] = true
	}
	base := strings.TrimSuffix(mirrorURL, "/")
	var retry []filesync.RemoteFileEntry
	for _, entry := range plan {
		if !failedPaths[entry.Path] {
			continue
		}
		entry.URL = base + "/" + entry.Path
		retry = append(retry, entry)
	}
	return retry
}

// buildLaunchSpec decides what the runtime actually executes. In multiplayer
// the target is the mod's injector, which receives the game and mod
// directories as runtime-side paths; in singleplayer the game binary runs
// directly.
func buildLaunchSpec(cfg Config, desc *runtime.Descriptor) (supervisor.LaunchSpec, error) {
	extraArgs, err := shellparse.Split(cfg.GameArgs)
	if err != nil {
		return supervisor.LaunchSpec{}, fmt.Errorf("parse game arguments: %w", err)
	}

	// The game executable must exist regardless of mode; in multiplayer the
	// injector must be in place too.
	gameExe := filepath.Join(cfg.GameDir, "bin", "win_x64", cfg.GameExe)
	if _, err := os.Stat(gameExe); err != nil {
		return supervisor.LaunchSpec{}, fmt.Errorf("%w: %s", ErrGameNotFound, gameExe)
	}

	var target string
	var targetArgs []string
	if cfg.SinglePlayer {
		target = gameExe
		targetArgs = extraArgs
	} else {
		target = filepath.Join(cfg.ModDir, injectExe)
		if _, err := os.Stat(target); err != nil {
			return supervisor.LaunchSpec{}, fmt.Errorf("%w: %s", ErrGameNotFound, target)
		}
		tr := desc.Translator()
		gameWin, err := tr.ToRuntime(cfg.GameDir)
		if err != nil {
			return supervisor.LaunchSpec{}, fmt.Errorf("game dir: %w", err)
		}
		modWin, err := tr.ToRuntime(cfg.ModDir)
		if err != nil {
			return supervisor.LaunchSpec{}, fmt.Errorf("mod dir: %w", err)
		}
		targetArgs = append([]string{gameWin, modWin}, extraArgs...)
	}

	var args []string
	if desc.Kind == runtime.KindProton {
		args = append(args, "run")
	}
	if cfg.VirtualDesktop != "" {
		args = append(args, "explorer", "/desktop=convoy,"+cfg.VirtualDesktop)
	}
	args = append(args, target)
	args = append(args, targetArgs...)

	return supervisor.LaunchSpec{
		Path: desc.Executable,
		Args: args,
		Dir:  cfg.GameDir,
	}, nil
}
