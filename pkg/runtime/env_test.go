package runtime

import (
	"errors"
	"strings"
	"testing"
)

func wineDescriptor() *Descriptor {
	return &Descriptor{
		Kind:   KindWine,
		Prefix: "/home/user/.convoy/prefix",
	}
}

func protonDescriptor() *Descriptor {
	return &Descriptor{
		Kind:   KindProton,
		Prefix: "/home/user/.convoy/compatdata",
	}
}

// TestBuildEnvironmentLayering tests the layering invariant: host env is the
// weakest signal, runtime-required variables override it, and feature-flag
// variables override both.
func TestBuildEnvironmentLayering(t *testing.T) {
	host := []string{
		"HOME=/home/user",
		"WINEPREFIX=/somewhere/stale",   // overridden by the runtime layer
		"WINEDLLOVERRIDES=oldsetting=b", // overridden by the flag layer
		"SteamAppId=000",                // overridden by Extra
	}

	env, err := BuildEnvironment(wineDescriptor(), Flags{
		NativeD3DCompiler: true,
		Extra:             map[string]string{"SteamAppId": "227300"},
	}, host, testLogger())
	if err != nil {
		t.Fatalf("BuildEnvironment: %v", err)
	}

	expectations := map[string]string{
		"HOME":             "/home/user", // inherited untouched
		"WINEPREFIX":       "/home/user/.convoy/prefix",
		"WINEARCH":         "win64",
		"WINEDEBUG":        "-all",
		"WINEDLLOVERRIDES": "d3dcompiler_47=native",
		"SteamAppId":       "227300",
	}
	for key, want := range expectations {
		if got := getenv(env, key, "<unset>"); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}

	// Each key appears exactly once after layering.
	seen := map[string]int{}
	for _, e := range env {
		seen[strings.SplitN(e, "=", 2)[0]]++
	}
	for key, n := range seen {
		if n > 1 {
			t.Errorf("key %s appears %d times", key, n)
		}
	}
}

func TestBuildEnvironmentProton(t *testing.T) {
	env, err := BuildEnvironment(protonDescriptor(), Flags{
		UseWineD3D:   true,
		DisableD3D11: true,
		Extra: map[string]string{
			"STEAM_COMPAT_CLIENT_INSTALL_PATH": "/home/user/.local/share/Steam",
		},
	}, []string{"HOME=/home/user"}, testLogger())
	if err != nil {
		t.Fatalf("BuildEnvironment: %v", err)
	}

	expectations := map[string]string{
		"STEAM_COMPAT_DATA_PATH":           "/home/user/.convoy/compatdata",
		"PROTON_USE_WINED3D":               "1",
		"PROTON_NO_D3D11":                  "1",
		"STEAM_COMPAT_CLIENT_INSTALL_PATH": "/home/user/.local/share/Steam",
	}
	for key, want := range expectations {
		if got := getenv(env, key, "<unset>"); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}

	// Proton expresses D3D11 disabling via PROTON_NO_D3D11, not overrides.
	if got := getenv(env, "WINEDLLOVERRIDES", ""); got != "" {
		t.Errorf("WINEDLLOVERRIDES = %q, want unset under proton", got)
	}
}

// TestBuildEnvironmentConflict tests that two flags assigning different
// modes to the same DLL fail instead of silently picking one.
func TestBuildEnvironmentConflict(t *testing.T) {
	_, err := BuildEnvironment(wineDescriptor(), Flags{
		NativeD3DCompiler: true,
		DLLOverrides:      map[string]string{"d3dcompiler_47": "builtin"},
	}, nil, testLogger())
	if !errors.Is(err, ErrConfigurationConflict) {
		t.Fatalf("err = %v, want ErrConfigurationConflict", err)
	}
	// The message names the DLL and both contenders.
	for _, fragment := range []string{"d3dcompiler_47", "NativeD3DCompiler", "DLLOverrides"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("conflict error %q does not mention %s", err, fragment)
		}
	}
}

// TestBuildEnvironmentAgreement tests that two flags assigning the same
// mode to the same DLL are not a conflict.
func TestBuildEnvironmentAgreement(t *testing.T) {
	env, err := BuildEnvironment(wineDescriptor(), Flags{
		NativeD3DCompiler: true,
		DLLOverrides:      map[string]string{"d3dcompiler_47": "native"},
	}, nil, testLogger())
	if err != nil {
		t.Fatalf("BuildEnvironment: %v", err)
	}
	if got := getenv(env, "WINEDLLOVERRIDES", ""); got != "d3dcompiler_47=native" {
		t.Errorf("WINEDLLOVERRIDES = %q", got)
	}
}

func TestBuildEnvironmentDisableD3D11Wine(t *testing.T) {
	env, err := BuildEnvironment(wineDescriptor(), Flags{
		DisableD3D11: true,
	}, nil, testLogger())
	if err != nil {
		t.Fatalf("BuildEnvironment: %v", err)
	}
	// Sorted, deterministic serialization.
	if got := getenv(env, "WINEDLLOVERRIDES", ""); got != "d3d11=;dxgi=" {
		t.Errorf("WINEDLLOVERRIDES = %q, want d3d11=;dxgi=", got)
	}
}

func TestBuildEnvironmentOverlay(t *testing.T) {
	renderer := "/steam/ubuntu12_64/gameoverlayrenderer.so"

	env, err := BuildEnvironment(wineDescriptor(), Flags{
		OverlayRenderer: renderer,
	}, []string{"LD_PRELOAD=/lib/libfirst.so"}, testLogger())
	if err != nil {
		t.Fatalf("BuildEnvironment: %v", err)
	}
	if got := getenv(env, "LD_PRELOAD", ""); got != "/lib/libfirst.so:"+renderer {
		t.Errorf("LD_PRELOAD = %q", got)
	}

	// DisableOverlay leaves the inherited preload list alone.
	env, err = BuildEnvironment(wineDescriptor(), Flags{
		OverlayRenderer: renderer,
		DisableOverlay:  true,
	}, []string{"LD_PRELOAD=/lib/libfirst.so"}, testLogger())
	if err != nil {
		t.Fatalf("BuildEnvironment: %v", err)
	}
	if got := getenv(env, "LD_PRELOAD", ""); got != "/lib/libfirst.so" {
		t.Errorf("LD_PRELOAD with DisableOverlay = %q", got)
	}
}

func TestBuildEnvironmentDisableAudio(t *testing.T) {
	env, err := BuildEnvironment(wineDescriptor(), Flags{
		DisableAudio: true,
	}, []string{"PULSE_SERVER=unix:/run/user/1000/pulse/native", "HOME=/home/user"}, testLogger())
	if err != nil {
		t.Fatalf("BuildEnvironment: %v", err)
	}
	if got := getenv(env, "PULSE_SERVER", "<unset>"); got != "<unset>" {
		t.Errorf("PULSE_SERVER = %q, want removed", got)
	}
	if got := getenv(env, "HOME", ""); got != "/home/user" {
		t.Errorf("HOME = %q, unrelated variables must survive", got)
	}
}
