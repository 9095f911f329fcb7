// SPDX-License-Identifier: Apache-2.0
package filesync

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/convoymp/convoy/internal/vercmp"
)

const (
	defaultWorkers         = 4
	defaultDownloadTimeout = 5 * time.Minute
)

// Engine synchronizes the file set under Root against a remote manifest.
type Engine struct {
	Root     string
	Manifest *LocalManifest

	// Client, Workers and Timeout may be tuned before the first Execute call.
	Client  *http.Client
	Workers int
	Timeout time.Duration

	logger hclog.Logger
}

// NewEngine creates a sync engine rooted at dir, recording verified files
// into manifest.
func NewEngine(dir string, manifest *LocalManifest, logger hclog.Logger) *Engine {
	return &Engine{
		Root:     dir,
		Manifest: manifest,
		Client:   http.DefaultClient,
		Workers:  defaultWorkers,
		Timeout:  defaultDownloadTimeout,
		logger:   logger,
	}
}

// EntryFailure reports one entry that could not be synced.
type EntryFailure struct {
	Path string
	Err  error
}

func (f EntryFailure) Error() string {
	return fmt.Sprintf("%s: %v", f.Path, f.Err)
}

// Result is the outcome of one Execute run.
type Result struct {
	Downloaded []string       // relative paths downloaded and verified, in plan order
	Failed     []EntryFailure // entries left unsynced, in plan order
}

// Plan computes which remote entries need downloading. It is pure and
// deterministic: given identical inputs it returns the same entries in
// remote-manifest order. An entry is planned when it is absent from the
// local manifest, its recorded size or checksum differs, or its recorded
// version predates targetVersion.
func (e *Engine) Plan(remote []RemoteFileEntry, targetVersion string) []RemoteFileEntry {
	var plan []RemoteFileEntry
	for _, entry := range remote {
		if e.needsSync(entry, targetVersion) {
			plan = append(plan, entry)
		}
	}

	if len(plan) > 0 {
		e.logger.Info("📋 Sync plan computed", "planned", len(plan), "total", len(remote))
	} else {
		e.logger.Debug("📋 Everything up to date", "total", len(remote))
	}
	return plan
}

func (e *Engine) needsSync(entry RemoteFileEntry, targetVersion string) bool {
	rec, ok := e.Manifest.Lookup(entry.Path)
	if !ok {
		return true
	}
	if entry.Size >= 0 && rec.Size != entry.Size {
		return true
	}
	if !ChecksumEqual(rec.Checksum, entry.Checksum) {
		return true
	}
	if vercmp.Compare(rec.LastVerifiedVersion, targetVersion) < 0 {
		return true
	}
	return false
}

// Execute downloads every planned entry with bounded concurrency. Entries
// are independent: one entry's failure never stops the others, and the
// failures are reported as a batch in the Result. Each successful entry is
// verified against its checksum, renamed into place atomically, and recorded
// in the local manifest before Execute moves on. Cancelling ctx stops new
// downloads from being issued; in-flight temp files are removed.
func (e *Engine) Execute(ctx context.Context, plan []RemoteFileEntry, targetVersion string) *Result {
	if len(plan) == 0 {
		return &Result{}
	}

	workers := e.Workers
	if workers < 1 {
		workers = 1
	}
	e.logger.Info("⬇️ Syncing files", "count", len(plan), "workers", workers)

	errs := make([]error, len(plan))

	var group errgroup.Group
	group.SetLimit(workers)
	for i, entry := range plan {
		if err := ctx.Err(); err != nil {
			e.logger.Warn("🛑 Sync cancelled, skipping remaining entries",
				"skipped", len(plan)-i)
			for j := i; j < len(plan); j++ {
				errs[j] = fmt.Errorf("%w: %v", ErrDownload, err)
			}
			break
		}

		i, entry := i, entry
		group.Go(func() error {
			errs[i] = e.syncEntry(ctx, entry, targetVersion)
			return nil
		})
	}
	group.Wait()

	result := &Result{}
	for i, entry := range plan {
		switch errs[i] {
		case nil:
			result.Downloaded = append(result.Downloaded, entry.Path)
		default:
			result.Failed = append(result.Failed, EntryFailure{Path: entry.Path, Err: errs[i]})
		}
	}

	if len(result.Failed) > 0 {
		e.logger.Error("❌ Sync finished with failures",
			"ok", len(result.Downloaded), "failed", len(result.Failed))
	} else {
		e.logger.Info("✅ Sync complete", "downloaded", len(result.Downloaded))
	}
	return result
}

// syncEntry downloads one entry to a temp file, verifies it, renames it into
// place and records it in the manifest. The temp file is discarded on any
// failure; it is never promoted.
func (e *Engine) syncEntry(ctx context.Context, entry RemoteFileEntry, targetVersion string) error {
	dest, err := e.destPath(entry.Path)
	if err != nil {
		return err
	}

	algo, expectedHex, err := ParseChecksum(entry.Checksum)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIntegrity, err)
	}

	destDir := filepath.Dir(dest)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrDownload, err)
	}

	dlCtx := ctx
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		dlCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	e.logger.Debug("⬇️ Downloading", "path", entry.Path, "url", entry.URL)

	req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, entry.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownload, err)
	}
	resp, err := e.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDownload, entry.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s: status %d", ErrDownload, entry.URL, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(destDir, ".convoy-sync-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownload, err)
	}
	tmpPath := tmp.Name()
	promoted := false
	defer func() {
		tmp.Close()
		if !promoted {
			os.Remove(tmpPath)
		}
	}()

	hasher := algo.NewHash()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDownload, entry.URL, err)
	}

	if entry.Size >= 0 && written != entry.Size {
		e.logger.Warn("📏 Size mismatch", "path", entry.Path, "got", written, "want", entry.Size)
		return fmt.Errorf("%w: %s: size %d, want %d", ErrIntegrity, entry.Path, written, entry.Size)
	}

	actualHex := hex.EncodeToString(hasher.Sum(nil))
	if actualHex != expectedHex {
		e.logger.Warn("🔒 Checksum mismatch", "path", entry.Path,
			"got", actualHex, "want", expectedHex)
		return fmt.Errorf("%w: %s: %s mismatch", ErrIntegrity, entry.Path, algo)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrDownload, err)
	}

	// Rename, not copy-then-delete: readers never observe a partial file.
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrDownload, err)
	}
	promoted = true

	rec := ManifestRecord{
		Size:                written,
		Checksum:            FormatChecksum(algo, actualHex),
		LastVerifiedVersion: targetVersion,
	}
	if err := e.Manifest.Commit(entry.Path, rec); err != nil {
		return err
	}

	e.logger.Debug("✅ Synced", "path", entry.Path, "bytes", written)
	return nil
}

// destPath resolves an entry's relative path under Root, rejecting entries
// that would escape it.
func (e *Engine) destPath(relPath string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(relPath, "/")))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("%w: entry path %q escapes sync root", ErrDownload, relPath)
	}
	return filepath.Join(e.Root, cleaned), nil
}
