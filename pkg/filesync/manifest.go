// SPDX-License-Identifier: Apache-2.0
package filesync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
)

// SupportedManifestVersion is the remote manifest schema this build understands.
const SupportedManifestVersion = 1

// RemoteFileEntry describes one file of the required set as published by the
// remote manifest. Immutable once fetched.
type RemoteFileEntry struct {
	Path     string `json:"path"`     // relative path under the sync root
	Size     int64  `json:"size"`     // expected byte size, -1 when unpublished
	Checksum string `json:"checksum"` // prefixed or bare hex digest
	URL      string `json:"url"`      // absolute download URL
}

// RemoteManifest is the versioned remote file listing.
type RemoteManifest struct {
	ManifestVersion int               `json:"manifest_version"`
	Version         string            `json:"version"` // file-set version, e.g. mod release
	Files           []RemoteFileEntry `json:"files"`
}

// FetchRemoteManifest retrieves and decodes the remote manifest.
func FetchRemoteManifest(ctx context.Context, client *http.Client, url string) (*RemoteManifest, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDownload, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s: status %d", ErrDownload, url, resp.StatusCode)
	}

	var manifest RemoteManifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDownload, url, err)
	}

	if manifest.ManifestVersion != SupportedManifestVersion {
		return nil, fmt.Errorf("%w: got %d, supported %d",
			ErrUnsupportedManifestVersion, manifest.ManifestVersion, SupportedManifestVersion)
	}

	// An empty file list is a valid "nothing to sync" state, not an error.
	return &manifest, nil
}

// ManifestRecord is the locally persisted state of one verified file.
type ManifestRecord struct {
	Size                int64  `json:"size"`
	Checksum            string `json:"checksum"`
	LastVerifiedVersion string `json:"last_verified_version"`
}

// localManifestFile is the on-disk shape. Unknown fields are ignored on read
// so newer writers stay compatible with older readers.
type localManifestFile struct {
	Format int                       `json:"format"`
	Files  map[string]ManifestRecord `json:"files"`
}

// LocalManifest is the persistent record of files already downloaded and
// verified. It is owned exclusively by the sync engine; every Commit is an
// atomic write-temp-then-rename of the whole file, serialized by a mutex.
type LocalManifest struct {
	path string

	mu    sync.Mutex
	files map[string]ManifestRecord
}

// LoadManifest reads the manifest at path. A missing file yields an empty
// manifest. An unreadable file also yields an empty manifest, together with
// ErrManifestCorrupt so the caller can surface a warning before resyncing.
func LoadManifest(path string) (*LocalManifest, error) {
	m := &LocalManifest{
		path:  path,
		files: make(map[string]ManifestRecord),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return m, fmt.Errorf("%w: %v", ErrManifestCorrupt, err)
	}

	var file localManifestFile
	if err := json.Unmarshal(data, &file); err != nil {
		return m, fmt.Errorf("%w: %s: %v", ErrManifestCorrupt, path, err)
	}
	if file.Files != nil {
		m.files = file.Files
	}
	return m, nil
}

// Lookup returns the record for a relative path, if present.
func (m *LocalManifest) Lookup(relPath string) (ManifestRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.files[relPath]
	return rec, ok
}

// Len returns the number of recorded files.
func (m *LocalManifest) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

// Commit records one verified file and persists the manifest atomically.
// Called only after the file itself has been renamed into place.
func (m *LocalManifest) Commit(relPath string, rec ManifestRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.files[relPath] = rec
	return m.saveLocked()
}

// Forget drops a record and persists the manifest. Used when a recorded file
// turns out to be missing on disk.
func (m *LocalManifest) Forget(relPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.files, relPath)
	return m.saveLocked()
}

// saveLocked writes the manifest via a temp file and rename so a crash can
// never leave a partially written manifest behind. Caller holds m.mu.
func (m *LocalManifest) saveLocked() error {
	data, err := json.MarshalIndent(localManifestFile{
		Format: 1,
		Files:  m.files,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create manifest directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".manifest-*")
	if err != nil {
		return fmt.Errorf("create manifest temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close manifest temp file: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}
