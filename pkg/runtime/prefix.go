// SPDX-License-Identifier: Apache-2.0
package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-hclog"

	"github.com/convoymp/convoy/pkg/winpath"
)

// prefixRoot returns the directory that actually holds drive_c. Proton keeps
// its wine prefix one level down, under <compat-data>/pfx.
func prefixRoot(kind Kind, prefix string) string {
	if kind == KindProton {
		return filepath.Join(prefix, "pfx")
	}
	return prefix
}

// ensurePrefix validates an existing prefix or creates a fresh skeleton.
// Returns whether the prefix was created and the drive-mapping table.
func ensurePrefix(kind Kind, prefix string, logger hclog.Logger) (bool, []winpath.DriveMapping, error) {
	if prefix == "" {
		return false, nil, fmt.Errorf("%w: no prefix directory configured", ErrRuntimeIncompatible)
	}

	root := prefixRoot(kind, prefix)
	created := false

	info, err := os.Stat(root)
	switch {
	case os.IsNotExist(err):
		logger.Info("📁 Creating prefix skeleton", "path", root)
		if err := createSkeleton(root); err != nil {
			return false, nil, fmt.Errorf("%w: create prefix %s: %v", ErrRuntimeIncompatible, root, err)
		}
		created = true
	case err != nil:
		return false, nil, fmt.Errorf("%w: stat prefix %s: %v", ErrRuntimeIncompatible, root, err)
	case !info.IsDir():
		return false, nil, fmt.Errorf("%w: prefix path %s is not a directory", ErrRuntimeIncompatible, root)
	default:
		// An existing directory must already look like a prefix.
		if _, err := os.Stat(filepath.Join(root, "drive_c")); err != nil {
			return false, nil, fmt.Errorf("%w: %s exists but has no drive_c, not a prefix",
				ErrRuntimeIncompatible, root)
		}
	}

	drives, err := driveTable(root)
	if err != nil {
		return created, nil, err
	}
	return created, drives, nil
}

// createSkeleton lays out the directory structure wine expects to find so
// the first real run does not start from nothing.
func createSkeleton(root string) error {
	for _, dir := range []string{
		filepath.Join(root, "drive_c", "windows", "system32"),
		filepath.Join(root, "drive_c", "users"),
		filepath.Join(root, "dosdevices"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	// Default drive links; wine rewrites these on first boot if it wants to.
	links := map[string]string{
		filepath.Join(root, "dosdevices", "c:"): filepath.Join("..", "drive_c"),
		filepath.Join(root, "dosdevices", "z:"): "/",
	}
	for link, target := range links {
		if err := os.Symlink(target, link); err != nil && !os.IsExist(err) {
			return err
		}
	}
	return nil
}

// driveTable scans the dosdevices directory and maps each drive letter to
// the host path its symlink points at.
func driveTable(root string) ([]winpath.DriveMapping, error) {
	dosdevices := filepath.Join(root, "dosdevices")

	entries, err := os.ReadDir(dosdevices)
	if err != nil {
		// Prefix without dosdevices (bare but has drive_c): fall back to
		// the canonical two-drive layout.
		return defaultDrives(root), nil
	}

	var drives []winpath.DriveMapping
	for _, entry := range entries {
		name := entry.Name()
		if len(name) != 2 || name[1] != ':' || name[0] < 'a' || name[0] > 'z' {
			continue // skip COM ports and other device links
		}
		target, err := os.Readlink(filepath.Join(dosdevices, name))
		if err != nil {
			continue
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(dosdevices, target)
		}
		drives = append(drives, winpath.DriveMapping{
			Letter:   name[0],
			HostRoot: filepath.Clean(target),
		})
	}

	if len(drives) == 0 {
		return defaultDrives(root), nil
	}
	sort.Slice(drives, func(i, j int) bool { return drives[i].Letter < drives[j].Letter })
	return drives, nil
}

func defaultDrives(root string) []winpath.DriveMapping {
	return []winpath.DriveMapping{
		{Letter: 'c', HostRoot: filepath.Join(root, "drive_c")},
		{Letter: 'z', HostRoot: "/"},
	}
}
