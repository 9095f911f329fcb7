// SPDX-License-Identifier: Apache-2.0
package launcher

import (
	"fmt"
	"path/filepath"

	"github.com/caarlos0/env/v11"

	"github.com/convoymp/convoy/internal/paths"
	"github.com/convoymp/convoy/pkg/runtime"
)

// Config is the fully resolved configuration for one run. The CLI layer (or
// any other frontend) fills it in; nothing inside the core reads flags or
// ambient globals. One Config per run, never mutated after Normalize.
type Config struct {
	// Runtime selection.
	RuntimeKind       string `env:"CONVOY_RUNTIME" envDefault:"wine"`
	RuntimePath       string `env:"CONVOY_RUNTIME_PATH"`
	MinRuntimeVersion string `env:"CONVOY_MIN_RUNTIME_VERSION"`
	PrefixDir         string `env:"CONVOY_PREFIX_DIR"`

	// File locations.
	GameDir string `env:"CONVOY_GAME_DIR"`
	ModDir  string `env:"CONVOY_MOD_DIR"`

	// Mod file set.
	ManifestURL string `env:"CONVOY_MANIFEST_URL" envDefault:"https://files.convoymp.net/manifest.json"`
	MirrorURL   string `env:"CONVOY_MIRROR_URL"` // alternate download host, tried for failed entries
	Workers     int    `env:"CONVOY_SYNC_WORKERS" envDefault:"4"`

	// Launch target.
	GameExe      string `env:"CONVOY_GAME_EXE" envDefault:"eurotrucks2.exe"`
	SinglePlayer bool   `env:"CONVOY_SINGLEPLAYER"` // skip mod sync and injection
	GameArgs     string `env:"CONVOY_GAME_ARGS"`    // extra arguments, shell-style quoting

	// Opaque identifiers passed through to the child environment.
	AppID    string `env:"CONVOY_APP_ID" envDefault:"227300"`
	Account  string `env:"CONVOY_ACCOUNT"`
	SteamDir string `env:"CONVOY_STEAM_DIR"` // client install dir, needed for proton and the overlay

	// Feature flags (see runtime.Flags).
	UseWineD3D        bool   `env:"CONVOY_USE_WINED3D"`
	DisableD3D11      bool   `env:"CONVOY_DISABLE_D3D11"`
	NativeD3DCompiler bool   `env:"CONVOY_NATIVE_D3DCOMPILER"`
	DisableOverlay    bool   `env:"CONVOY_DISABLE_OVERLAY"`
	DisableAudio      bool   `env:"CONVOY_DISABLE_AUDIO"`
	VirtualDesktop    string `env:"CONVOY_VIRTUAL_DESKTOP"` // "WxH", empty = off
}

// FromEnv builds a Config from CONVOY_* environment variables.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment config: %w", err)
	}
	return cfg, nil
}

// Normalize fills empty paths with the XDG-derived defaults.
func (c *Config) Normalize() {
	if c.ModDir == "" {
		c.ModDir = paths.DefaultModDir()
	}
	if c.PrefixDir == "" {
		c.PrefixDir = paths.DefaultPrefixDir()
	}
	if c.GameDir == "" {
		c.GameDir = paths.DefaultGameDir()
	}
	if c.GameExe == "" {
		c.GameExe = "eurotrucks2.exe"
	}
	if c.Workers < 1 {
		c.Workers = 4
	}
}

// runtimeRequest maps the config onto a resolver request.
func (c *Config) runtimeRequest() (runtime.Request, error) {
	kind, err := runtime.ParseKind(c.RuntimeKind)
	if err != nil {
		return runtime.Request{}, err
	}
	return runtime.Request{
		Kind:       kind,
		Executable: c.RuntimePath,
		MinVersion: c.MinRuntimeVersion,
		Prefix:     c.PrefixDir,
	}, nil
}

// flags maps the config's feature switches onto runtime.Flags, including
// the opaque identifiers carried in the Extra layer.
func (c *Config) flags(kind runtime.Kind) runtime.Flags {
	extra := map[string]string{
		"SteamAppId":  c.AppID,
		"SteamGameId": c.AppID,
	}
	if c.Account != "" {
		extra["CONVOY_ACCOUNT"] = c.Account
	}
	if kind == runtime.KindProton && c.SteamDir != "" {
		extra["STEAM_COMPAT_CLIENT_INSTALL_PATH"] = c.SteamDir
	}

	overlay := ""
	if c.SteamDir != "" {
		overlay = filepath.Join(c.SteamDir, "ubuntu12_64", "gameoverlayrenderer.so")
	}

	return runtime.Flags{
		UseWineD3D:        c.UseWineD3D,
		DisableD3D11:      c.DisableD3D11,
		NativeD3DCompiler: c.NativeD3DCompiler,
		DisableOverlay:    c.DisableOverlay,
		DisableAudio:      c.DisableAudio,
		OverlayRenderer:   overlay,
		Extra:             extra,
	}
}
