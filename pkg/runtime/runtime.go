// SPDX-License-Identifier: Apache-2.0
// Package runtime resolves the Windows-compatibility runtime (Wine or a
// Proton build) the game will run under: which binary, which version, which
// prefix, and the environment the child process needs.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/convoymp/convoy/internal/vercmp"
	"github.com/convoymp/convoy/pkg/winpath"
)

var (
	// Resolution errors 🍷
	ErrRuntimeNotFound     = errors.New("compatibility runtime not found")
	ErrRuntimeIncompatible = errors.New("compatibility runtime unusable")
)

// Kind is the closed set of supported runtime variants.
type Kind int

const (
	KindWine Kind = iota
	KindProton
)

func (k Kind) String() string {
	switch k {
	case KindWine:
		return "wine"
	case KindProton:
		return "proton"
	default:
		return "unknown"
	}
}

// ParseKind maps a configuration string onto a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "", "wine":
		return KindWine, nil
	case "proton":
		return KindProton, nil
	default:
		return KindWine, fmt.Errorf("%w: unknown runtime kind %q", ErrRuntimeNotFound, s)
	}
}

// Descriptor is the resolved runtime. Built once per run, immutable after.
type Descriptor struct {
	Kind       Kind
	Executable string // wine binary or the proton entry script
	Version    string
	Prefix     string // wine prefix root (for Proton, the compat-data dir)
	Drives     []winpath.DriveMapping
}

// Translator returns a path translator over the descriptor's drive table.
func (d *Descriptor) Translator() *winpath.Translator {
	return winpath.NewTranslator(d.Drives)
}

// Request describes what the caller wants resolved.
type Request struct {
	Kind       Kind
	Executable string // explicit wine binary, or proton install dir; empty = discover
	MinVersion string // minimum acceptable runtime version, empty = any
	Prefix     string // prefix directory, created with a skeleton when absent
}

// Resolver locates and validates a runtime. The version probe is pluggable
// so tests never have to spawn a real wine binary.
type Resolver struct {
	logger hclog.Logger

	// probeVersion runs `exe --version` by default.
	probeVersion func(ctx context.Context, exe string) (string, error)
	// lookPath resolves bare command names on PATH.
	lookPath func(name string) (string, error)
}

// NewResolver creates a resolver with the real probes wired in.
func NewResolver(logger hclog.Logger) *Resolver {
	return &Resolver{
		logger:       logger,
		probeVersion: probeVersionExec,
		lookPath:     exec.LookPath,
	}
}

// Resolve returns the runtime descriptor for a request. The returned bool
// reports whether the prefix was freshly created, so the caller can log it.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Descriptor, bool, error) {
	var (
		exe     string
		version string
		err     error
	)

	switch req.Kind {
	case KindProton:
		exe, version, err = r.resolveProton(req)
	default:
		exe, version, err = r.resolveWine(ctx, req)
	}
	if err != nil {
		return nil, false, err
	}

	r.logger.Info("🍷 Runtime resolved", "kind", req.Kind, "exe", exe, "version", version)

	if req.MinVersion != "" && !vercmp.AtLeast(version, req.MinVersion) {
		return nil, false, fmt.Errorf("%w: %s version %q below minimum %q",
			ErrRuntimeIncompatible, req.Kind, version, req.MinVersion)
	}

	created, drives, err := ensurePrefix(req.Kind, req.Prefix, r.logger)
	if err != nil {
		return nil, false, err
	}

	return &Descriptor{
		Kind:       req.Kind,
		Executable: exe,
		Version:    version,
		Prefix:     req.Prefix,
		Drives:     drives,
	}, created, nil
}

// resolveWine locates the wine binary: explicit path, then $WINE, then PATH.
func (r *Resolver) resolveWine(ctx context.Context, req Request) (string, string, error) {
	candidate := req.Executable
	if candidate == "" {
		candidate = os.Getenv("WINE")
	}
	if candidate == "" {
		candidate = "wine"
	}

	exe, err := r.lookPath(candidate)
	if err != nil {
		return "", "", fmt.Errorf("%w: wine (%s): %v", ErrRuntimeNotFound, candidate, err)
	}

	version, err := r.probeVersion(ctx, exe)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s did not report a version: %v",
			ErrRuntimeIncompatible, exe, err)
	}
	return exe, version, nil
}

// resolveProton locates a proton install dir and reads its version file.
func (r *Resolver) resolveProton(req Request) (string, string, error) {
	dir := req.Executable
	if dir == "" {
		return "", "", fmt.Errorf("%w: no proton directory configured", ErrRuntimeNotFound)
	}

	exe := filepath.Join(dir, "proton")
	info, err := os.Stat(exe)
	if err != nil || info.IsDir() {
		return "", "", fmt.Errorf("%w: no proton entry script in %s", ErrRuntimeNotFound, dir)
	}

	version := protonVersion(dir)
	if version == "" {
		r.logger.Warn("⚠️ Proton version file missing or unreadable", "dir", dir)
		version = "unknown"
	}
	return exe, version, nil
}

// protonVersion reads the "version" file a Proton build ships, whose line is
// either the version alone or "<build-timestamp> <version>".
func protonVersion(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, "version"))
	if err != nil {
		return ""
	}
	line := strings.TrimSpace(strings.SplitN(string(data), "\n", 2)[0])
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// probeVersionExec asks the binary itself, e.g. `wine --version` -> "wine-8.0".
func probeVersionExec(ctx context.Context, exe string) (string, error) {
	cmd := exec.CommandContext(ctx, exe, "--version")
	cmd.Env = append(os.Environ(), "WINEDEBUG=-all")
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	version := strings.TrimSpace(string(out))
	if version == "" {
		return "", errors.New("empty version output")
	}
	return version, nil
}
