// SPDX-License-Identifier: Apache-2.0
package runtime

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// ErrConfigurationConflict is returned when two feature flags assign
// incompatible values to the same DLL override with no defined precedence.
var ErrConfigurationConflict = errors.New("conflicting feature flags")

// Flags are the caller's feature switches. Each one maps onto environment
// variables (or DLL overrides) for the resolved runtime kind.
type Flags struct {
	UseWineD3D        bool // render through OpenGL/wined3d instead of the Vulkan translation layer
	DisableD3D11      bool // turn off D3D11/DXGI entirely
	NativeD3DCompiler bool // prefer a native d3dcompiler_47 over wine's builtin
	DisableOverlay    bool // skip LD_PRELOAD of the client overlay renderer
	DisableAudio      bool // drop audio-server passthrough variables

	// OverlayRenderer is the host path of the overlay shared object to
	// preload. Ignored when empty or when DisableOverlay is set.
	OverlayRenderer string

	// DLLOverrides are additional dll -> mode assignments ("native",
	// "builtin", or "" to disable the DLL).
	DLLOverrides map[string]string

	// Extra carries opaque variables the caller wants in the child
	// environment (app and game identifiers, client install path). Applied
	// last; their precedence over everything else is defined.
	Extra map[string]string
}

// BuildEnvironment constructs the child process environment by layering:
// (1) the inherited host environment, (2) runtime-required variables,
// (3) feature-flag-derived variables. Later layers override earlier ones on
// key collision; the host environment is the weakest signal.
func BuildEnvironment(desc *Descriptor, flags Flags, hostEnv []string, logger hclog.Logger) ([]string, error) {
	overrides, err := collectDLLOverrides(desc.Kind, flags)
	if err != nil {
		return nil, err
	}

	env := make([]string, len(hostEnv))
	copy(env, hostEnv)

	// Layer 2: what the runtime itself requires.
	switch desc.Kind {
	case KindProton:
		env = setEnv(env, "STEAM_COMPAT_DATA_PATH", desc.Prefix)
	default:
		env = setEnv(env, "WINEPREFIX", desc.Prefix)
		env = setEnv(env, "WINEARCH", "win64")
	}
	env = setEnv(env, "WINEDEBUG", "-all")

	// Layer 3: feature flags, authoritative over anything inherited.
	if desc.Kind == KindProton {
		env = setEnv(env, "PROTON_USE_WINED3D", boolVar(flags.UseWineD3D))
		env = setEnv(env, "PROTON_NO_D3D11", boolVar(flags.DisableD3D11))
	} else if flags.UseWineD3D {
		logger.Warn("⚠️ UseWineD3D has no effect under plain wine, ignoring")
	}

	if len(overrides) > 0 {
		value := formatDLLOverrides(overrides)
		env = setEnv(env, "WINEDLLOVERRIDES", value)
		logger.Debug("🧩 DLL overrides", "value", value)
	}

	if !flags.DisableOverlay && flags.OverlayRenderer != "" {
		// Appending to the inherited preload list is defined precedence,
		// not a collision.
		preload := getenv(env, "LD_PRELOAD", "")
		if preload != "" {
			preload += ":"
		}
		env = setEnv(env, "LD_PRELOAD", preload+flags.OverlayRenderer)
		logger.Debug("🖥️ Overlay renderer preloaded", "path", flags.OverlayRenderer)
	}

	if flags.DisableAudio {
		for _, key := range []string{"PULSE_SERVER", "PIPEWIRE_REMOTE"} {
			env = unsetEnv(env, key)
		}
		logger.Debug("🔇 Audio passthrough disabled")
	}

	for _, key := range sortedKeys(flags.Extra) {
		env = setEnv(env, key, flags.Extra[key])
	}

	logEnvironmentTrace(env, logger)
	return env, nil
}

// dllAssignment remembers which flag asked for a mode, for error reporting.
type dllAssignment struct {
	mode   string
	source string
}

// collectDLLOverrides merges every flag-derived DLL override and fails on
// any two sources assigning different modes to the same DLL. The conflict
// set is enumerated exhaustively rather than resolved by a silent priority.
func collectDLLOverrides(kind Kind, flags Flags) (map[string]dllAssignment, error) {
	overrides := make(map[string]dllAssignment)

	add := func(dll, mode, source string) error {
		if existing, ok := overrides[dll]; ok && existing.mode != mode {
			return fmt.Errorf("%w: %s wants %s=%q but %s wants %s=%q",
				ErrConfigurationConflict,
				existing.source, dll, existing.mode, source, dll, mode)
		}
		overrides[dll] = dllAssignment{mode: mode, source: source}
		return nil
	}

	if flags.DisableD3D11 && kind == KindWine {
		// Proton expresses this through PROTON_NO_D3D11 instead.
		if err := add("d3d11", "", "DisableD3D11"); err != nil {
			return nil, err
		}
		if err := add("dxgi", "", "DisableD3D11"); err != nil {
			return nil, err
		}
	}
	if flags.NativeD3DCompiler {
		if err := add("d3dcompiler_47", "native", "NativeD3DCompiler"); err != nil {
			return nil, err
		}
	}
	for _, dll := range sortedKeys(flags.DLLOverrides) {
		if err := add(dll, flags.DLLOverrides[dll], "DLLOverrides"); err != nil {
			return nil, err
		}
	}

	return overrides, nil
}

// formatDLLOverrides renders the override map in wine's
// "dll=mode;dll2=mode2" syntax, sorted for reproducible output.
func formatDLLOverrides(overrides map[string]dllAssignment) string {
	dlls := make([]string, 0, len(overrides))
	for dll := range overrides {
		dlls = append(dlls, dll)
	}
	sort.Strings(dlls)

	parts := make([]string, 0, len(dlls))
	for _, dll := range dlls {
		parts = append(parts, dll+"="+overrides[dll].mode)
	}
	return strings.Join(parts, ";")
}

func boolVar(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// getenv retrieves an environment variable value from the environment list.
func getenv(env []string, key string, defaultVal string) string {
	prefix := key + "="
	for _, e := range env {
		if strings.HasPrefix(e, prefix) {
			return strings.TrimPrefix(e, prefix)
		}
	}
	return defaultVal
}

// setEnv sets key to value in the environment list, replacing any earlier
// assignment so later layers win on collision.
func setEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, e := range env {
		if strings.HasPrefix(e, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}

// unsetEnv removes key from the environment list.
func unsetEnv(env []string, key string) []string {
	prefix := key + "="
	out := env[:0]
	for _, e := range env {
		if !strings.HasPrefix(e, prefix) {
			out = append(out, e)
		}
	}
	return out
}

// logEnvironmentTrace logs environment variables at trace level, redacting
// sensitive values.
func logEnvironmentTrace(env []string, logger hclog.Logger) {
	if !logger.IsTrace() {
		return
	}

	logger.Trace("🌍 Environment variables for child process:")
	for _, e := range env {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) == 2 {
			value := parts[1]
			if isSensitiveKey(parts[0]) {
				value = "***"
			}
			logger.Trace("  →", "key", parts[0], "value", value)
		}
	}
}

// isSensitiveKey checks if an environment variable key should be redacted in logs.
func isSensitiveKey(key string) bool {
	sensitiveKeys := map[string]bool{
		"SSH_AUTH_SOCK":         true,
		"AWS_SECRET_ACCESS_KEY": true,
		"GITHUB_TOKEN":          true,
		"STEAM_WEB_API_KEY":     true,
		"PASSWORD":              true,
	}
	return sensitiveKeys[key]
}
