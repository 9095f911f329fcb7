// SPDX-License-Identifier: Apache-2.0
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/spf13/cobra"

	"github.com/convoymp/convoy/pkg/launcher"
	"github.com/convoymp/convoy/pkg/logging"
)

const version = "0.1.0"

var (
	runtimeKind    string
	runtimePath    string
	minVersion     string
	prefixDir      string
	gameDir        string
	modDir         string
	manifestURL    string
	mirrorURL      string
	gameArgs       string
	virtualDesktop string
	logLevel       string
	singlePlayer   bool
	useWineD3D     bool
	disableD3D11   bool
	nativeD3DComp  bool
	disableOverlay bool
	disableAudio   bool
	versionFlag    bool
	rootCmd        *cobra.Command
)

func getBuildTimestamp() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.time" {
				if t, err := time.Parse(time.RFC3339, setting.Value); err == nil {
					return t.UTC().Format(time.RFC3339)
				}
			}
		}
	}
	if exePath, err := os.Executable(); err == nil {
		if stat, err := os.Stat(exePath); err == nil {
			return stat.ModTime().UTC().Format(time.RFC3339)
		}
	}
	return time.Now().UTC().Format(time.RFC3339)
}

func init() {
	rootCmd = &cobra.Command{
		Use:   "convoy",
		Short: "Sync and launch the convoy multiplayer mod",
		Long:  `Sync the convoy multiplayer mod files and launch the game under wine or proton`,
		Run:   runLaunch,
	}

	rootCmd.Flags().StringVar(&runtimeKind, "runtime", "", "Runtime kind (wine or proton)")
	rootCmd.Flags().StringVar(&runtimePath, "runtime-path", "", "Wine binary or proton install directory")
	rootCmd.Flags().StringVar(&minVersion, "min-runtime-version", "", "Minimum acceptable runtime version")
	rootCmd.Flags().StringVarP(&prefixDir, "prefix", "p", "", "Prefix directory (created when absent)")
	rootCmd.Flags().StringVarP(&gameDir, "game-dir", "g", "", "Game install directory")
	rootCmd.Flags().StringVarP(&modDir, "mod-dir", "m", "", "Mod file directory")
	rootCmd.Flags().StringVar(&manifestURL, "manifest-url", "", "Remote file manifest URL")
	rootCmd.Flags().StringVar(&mirrorURL, "mirror-url", "", "Mirror host for failed downloads")
	rootCmd.Flags().StringVar(&gameArgs, "game-args", "", "Extra game arguments (shell quoting)")
	rootCmd.Flags().StringVar(&virtualDesktop, "virtual-desktop", "", "Run in a virtual desktop, e.g. 1920x1080")
	rootCmd.Flags().BoolVarP(&singlePlayer, "singleplayer", "s", false, "Launch without the multiplayer mod")
	rootCmd.Flags().BoolVar(&useWineD3D, "wined3d", false, "Render through OpenGL/wined3d")
	rootCmd.Flags().BoolVar(&disableD3D11, "disable-d3d11", false, "Disable D3D11 and DXGI")
	rootCmd.Flags().BoolVar(&nativeD3DComp, "native-d3dcompiler", false, "Use a native d3dcompiler_47")
	rootCmd.Flags().BoolVar(&disableOverlay, "without-overlay", false, "Skip the client overlay preload")
	rootCmd.Flags().BoolVar(&disableAudio, "without-audio", false, "Drop audio-server passthrough")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.Flags().BoolVarP(&versionFlag, "version", "V", false, "Show version information")
}

func main() {
	// Handle --version or -V before cobra parses other flags
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-V") {
		fmt.Printf("convoy %s\n", version)
		fmt.Printf("Built: %s\n", getBuildTimestamp())
		os.Exit(0)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runLaunch(cmd *cobra.Command, args []string) {
	if versionFlag {
		fmt.Printf("convoy %s\n", version)
		fmt.Printf("Built: %s\n", getBuildTimestamp())
		return
	}

	if logLevel == "" {
		logLevel = logging.GetLogLevel()
	}
	logger := logging.NewLogger("convoy", logLevel, os.Stderr)

	cfg, err := launcher.FromEnv()
	if err != nil {
		logger.Error("💥 Invalid configuration", "error", err)
		os.Exit(2)
	}
	applyFlags(cmd, &cfg)

	report, err := launcher.Run(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("💥 Launch aborted", "error", err)
		var syncErr *launcher.SyncError
		if errors.As(err, &syncErr) {
			for _, failure := range syncErr.Failures {
				logger.Error("❌ File not synced", "path", failure.Path, "error", failure.Err)
			}
		}
		os.Exit(1)
	}

	for _, warning := range report.Warnings {
		logger.Warn("⚠️ "+warning.Code, "detail", warning.Detail)
	}
	if report.Signal != "" {
		logger.Warn("⚠️ Game ended on signal", "signal", report.Signal)
	}
	os.Exit(report.ExitCode)
}

// applyFlags lets command-line flags override the CONVOY_* environment. Only
// flags the user actually set are applied.
func applyFlags(cmd *cobra.Command, cfg *launcher.Config) {
	set := func(name string, apply func()) {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
	set("runtime", func() { cfg.RuntimeKind = runtimeKind })
	set("runtime-path", func() { cfg.RuntimePath = runtimePath })
	set("min-runtime-version", func() { cfg.MinRuntimeVersion = minVersion })
	set("prefix", func() { cfg.PrefixDir = prefixDir })
	set("game-dir", func() { cfg.GameDir = gameDir })
	set("mod-dir", func() { cfg.ModDir = modDir })
	set("manifest-url", func() { cfg.ManifestURL = manifestURL })
	set("mirror-url", func() { cfg.MirrorURL = mirrorURL })
	set("game-args", func() { cfg.GameArgs = gameArgs })
	set("virtual-desktop", func() { cfg.VirtualDesktop = virtualDesktop })
	set("singleplayer", func() { cfg.SinglePlayer = singlePlayer })
	set("wined3d", func() { cfg.UseWineD3D = useWineD3D })
	set("disable-d3d11", func() { cfg.DisableD3D11 = disableD3D11 })
	set("native-d3dcompiler", func() { cfg.NativeD3DCompiler = nativeD3DComp })
	set("without-overlay", func() { cfg.DisableOverlay = disableOverlay })
	set("without-audio", func() { cfg.DisableAudio = disableAudio })
}
