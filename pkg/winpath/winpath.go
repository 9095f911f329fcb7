// SPDX-License-Identifier: Apache-2.0
// Package winpath translates between host filesystem paths and the
// DOS-style paths a Wine or Proton prefix exposes to Windows programs.
//
// Translation is a pure lookup over the drive-mapping table resolved from
// the prefix (dosdevices entries); nothing here touches the filesystem.
package winpath

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
)

// ErrUnmappedPath is returned when a path lies outside every configured
// drive mapping root.
var ErrUnmappedPath = errors.New("path outside all drive mappings")

// DriveMapping binds a DOS drive letter to a host directory root.
type DriveMapping struct {
	Letter   byte   // lowercase drive letter, e.g. 'c'
	HostRoot string // absolute host path the drive points at
}

// Translator converts paths in both directions over a fixed mapping table.
type Translator struct {
	// sorted longest-root-first so nested roots win over "/" style catch-alls
	drives []DriveMapping
}

// NewTranslator builds a Translator from a drive-mapping table.
func NewTranslator(drives []DriveMapping) *Translator {
	sorted := make([]DriveMapping, len(drives))
	copy(sorted, drives)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].HostRoot) > len(sorted[j].HostRoot)
	})
	return &Translator{drives: sorted}
}

// ToRuntime maps an absolute host path to its DOS form, e.g.
// "/home/user/.wine/drive_c/games" -> "C:\games".
func (t *Translator) ToRuntime(hostPath string) (string, error) {
	cleaned := path.Clean(hostPath)
	for _, d := range t.drives {
		rel, ok := relativeTo(cleaned, d.HostRoot)
		if !ok {
			continue
		}
		drive := strings.ToUpper(string(d.Letter)) + ":"
		if rel == "" {
			return drive + `\`, nil
		}
		return drive + `\` + strings.ReplaceAll(rel, "/", `\`), nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnmappedPath, hostPath)
}

// ToHost maps a DOS path back to the host filesystem, e.g.
// "C:\games" -> "/home/user/.wine/drive_c/games".
func (t *Translator) ToHost(runtimePath string) (string, error) {
	if len(runtimePath) < 2 || runtimePath[1] != ':' {
		return "", fmt.Errorf("%w: %s has no drive letter", ErrUnmappedPath, runtimePath)
	}
	letter := lower(runtimePath[0])
	rest := strings.TrimLeft(strings.ReplaceAll(runtimePath[2:], `\`, "/"), "/")

	for _, d := range t.drives {
		if d.Letter != letter {
			continue
		}
		if rest == "" {
			return d.HostRoot, nil
		}
		if d.HostRoot == "/" {
			return "/" + rest, nil
		}
		return d.HostRoot + "/" + rest, nil
	}
	return "", fmt.Errorf("%w: no mapping for drive %c:", ErrUnmappedPath, runtimePath[0])
}

// relativeTo returns hostPath relative to root, or ok=false when hostPath
// is not under root.
func relativeTo(hostPath, root string) (string, bool) {
	if root == "/" {
		if strings.HasPrefix(hostPath, "/") {
			return strings.TrimPrefix(hostPath, "/"), true
		}
		return "", false
	}
	root = strings.TrimSuffix(root, "/")
	if hostPath == root {
		return "", true
	}
	if strings.HasPrefix(hostPath, root+"/") {
		return hostPath[len(root)+1:], true
	}
	return "", false
}

func lower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}
