package filesync

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
)

func testLogger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:  "filesync_test",
		Level: hclog.Warn,
	})
}

func md5sum(data string) string {
	sum := md5.Sum([]byte(data))
	return "md5:" + hex.EncodeToString(sum[:])
}

// testCDN serves named file bodies over httptest and builds matching entries.
type testCDN struct {
	server *httptest.Server
	bodies map[string]string
}

func newTestCDN(t *testing.T, bodies map[string]string) *testCDN {
	t.Helper()
	cdn := &testCDN{bodies: bodies}
	cdn.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := cdn.bodies[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(cdn.server.Close)
	return cdn
}

func (c *testCDN) entry(path string) RemoteFileEntry {
	body := c.bodies["/files/"+path]
	return RemoteFileEntry{
		Path:     path,
		Size:     int64(len(body)),
		Checksum: md5sum(body),
		URL:      c.server.URL + "/files/" + path,
	}
}

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	root := t.TempDir()
	manifest, err := LoadManifest(filepath.Join(root, ".convoy-manifest.json"))
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	return NewEngine(root, manifest, testLogger()), root
}

// TestPlanDeterministic tests that planning is pure, deterministic and
// idempotent over unchanged inputs.
func TestPlanDeterministic(t *testing.T) {
	engine, _ := newTestEngine(t)

	remote := []RemoteFileEntry{
		{Path: "core.dll", Size: 3, Checksum: md5sum("abc")},
		{Path: "data/base.scs", Size: 5, Checksum: md5sum("hello")},
		{Path: "mod.ini", Size: 2, Checksum: md5sum("ok")},
	}

	first := engine.Plan(remote, "1.0")
	second := engine.Plan(remote, "1.0")

	if len(first) != len(remote) {
		t.Fatalf("empty manifest should plan everything: got %d, want %d", len(first), len(remote))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("plan not deterministic at %d: %+v vs %+v", i, first[i], second[i])
		}
		if first[i].Path != remote[i].Path {
			t.Errorf("plan order differs from remote order at %d: %s vs %s",
				i, first[i].Path, remote[i].Path)
		}
	}
}

// TestPlanStaleSelection tests the scenario where the manifest matches two of
// three remote entries and is stale for one.
func TestPlanStaleSelection(t *testing.T) {
	engine, _ := newTestEngine(t)

	remote := []RemoteFileEntry{
		{Path: "core.dll", Size: 3, Checksum: md5sum("abc")},
		{Path: "data/base.scs", Size: 5, Checksum: md5sum("hello")},
		{Path: "mod.ini", Size: 2, Checksum: md5sum("ok")},
	}

	for _, e := range remote[:2] {
		if err := engine.Manifest.Commit(e.Path, ManifestRecord{
			Size: e.Size, Checksum: e.Checksum, LastVerifiedVersion: "1.0",
		}); err != nil {
			t.Fatalf("Commit: %v", err)
		}
	}
	// Third entry recorded with an outdated checksum.
	if err := engine.Manifest.Commit("mod.ini", ManifestRecord{
		Size: 2, Checksum: md5sum("old"), LastVerifiedVersion: "1.0",
	}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	plan := engine.Plan(remote, "1.0")
	if len(plan) != 1 || plan[0].Path != "mod.ini" {
		t.Fatalf("plan = %+v, want exactly the stale mod.ini entry", plan)
	}
}

// TestPlanVersionPredates tests that an old verified version forces a resync
// even when size and checksum still match.
func TestPlanVersionPredates(t *testing.T) {
	engine, _ := newTestEngine(t)

	entry := RemoteFileEntry{Path: "core.dll", Size: 3, Checksum: md5sum("abc")}
	if err := engine.Manifest.Commit(entry.Path, ManifestRecord{
		Size: 3, Checksum: entry.Checksum, LastVerifiedVersion: "1.48.5",
	}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if plan := engine.Plan([]RemoteFileEntry{entry}, "1.48.5"); len(plan) != 0 {
		t.Errorf("same version should not replan: %+v", plan)
	}
	// Numeric-tuple comparison: 1.48.12 is newer than 1.48.5.
	if plan := engine.Plan([]RemoteFileEntry{entry}, "1.48.12"); len(plan) != 1 {
		t.Errorf("newer target version should replan, got %+v", plan)
	}
}

// TestExecuteRoundTrip tests download, verify, rename and that a subsequent
// plan over the updated manifest is empty.
func TestExecuteRoundTrip(t *testing.T) {
	cdn := newTestCDN(t, map[string]string{
		"/files/core.dll":      "abc",
		"/files/data/base.scs": "hello",
	})
	engine, root := newTestEngine(t)

	remote := []RemoteFileEntry{cdn.entry("core.dll"), cdn.entry("data/base.scs")}

	plan := engine.Plan(remote, "1.0")
	result := engine.Execute(context.Background(), plan, "1.0")

	if len(result.Failed) != 0 {
		t.Fatalf("unexpected failures: %v", result.Failed)
	}
	if len(result.Downloaded) != 2 {
		t.Fatalf("downloaded = %v, want both entries", result.Downloaded)
	}

	data, err := os.ReadFile(filepath.Join(root, "data", "base.scs"))
	if err != nil || string(data) != "hello" {
		t.Fatalf("synced file content = %q, %v", data, err)
	}

	if replan := engine.Plan(remote, "1.0"); len(replan) != 0 {
		t.Errorf("plan after successful execute = %+v, want empty", replan)
	}
}

// TestExecuteIntegrityMismatch tests that a corrupt download is discarded,
// never promoted, and reported in the failure batch.
func TestExecuteIntegrityMismatch(t *testing.T) {
	cdn := newTestCDN(t, map[string]string{
		"/files/core.dll": "tampered-content",
	})
	engine, root := newTestEngine(t)

	entry := cdn.entry("core.dll")
	entry.Size = 3
	entry.Checksum = md5sum("abc") // server returns something else

	result := engine.Execute(context.Background(), []RemoteFileEntry{entry}, "1.0")

	if len(result.Failed) != 1 {
		t.Fatalf("failures = %v, want exactly one", result.Failed)
	}
	if !errors.Is(result.Failed[0].Err, ErrIntegrity) {
		t.Errorf("failure = %v, want ErrIntegrity", result.Failed[0].Err)
	}
	if _, err := os.Stat(filepath.Join(root, "core.dll")); !os.IsNotExist(err) {
		t.Error("corrupt download was promoted to the target path")
	}
	if _, ok := engine.Manifest.Lookup("core.dll"); ok {
		t.Error("manifest records an entry that failed verification")
	}

	leftovers, _ := filepath.Glob(filepath.Join(root, ".convoy-sync-*"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

// TestExecuteFailureBatch tests that one failing entry does not stop the
// others and failures come back as a batch in plan order.
func TestExecuteFailureBatch(t *testing.T) {
	cdn := newTestCDN(t, map[string]string{
		"/files/core.dll": "abc",
		"/files/mod.ini":  "ok",
	})
	engine, _ := newTestEngine(t)

	missing := RemoteFileEntry{
		Path:     "gone.dat",
		Size:     4,
		Checksum: md5sum("gone"),
		URL:      cdn.server.URL + "/files/gone.dat",
	}
	plan := []RemoteFileEntry{cdn.entry("core.dll"), missing, cdn.entry("mod.ini")}

	result := engine.Execute(context.Background(), plan, "1.0")

	if len(result.Downloaded) != 2 {
		t.Errorf("downloaded = %v, want the two good entries", result.Downloaded)
	}
	if len(result.Failed) != 1 || result.Failed[0].Path != "gone.dat" {
		t.Fatalf("failed = %v, want exactly gone.dat", result.Failed)
	}
	if !errors.Is(result.Failed[0].Err, ErrDownload) {
		t.Errorf("failure = %v, want ErrDownload", result.Failed[0].Err)
	}
}

// TestExecuteCancelled tests that cancellation stops issuing new downloads
// and reports the skipped entries.
func TestExecuteCancelled(t *testing.T) {
	cdn := newTestCDN(t, map[string]string{"/files/core.dll": "abc"})
	engine, _ := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := engine.Execute(ctx, []RemoteFileEntry{cdn.entry("core.dll")}, "1.0")
	if len(result.Downloaded) != 0 || len(result.Failed) != 1 {
		t.Fatalf("result = %+v, want one skipped failure", result)
	}
	if !errors.Is(result.Failed[0].Err, ErrDownload) {
		t.Errorf("failure = %v, want ErrDownload", result.Failed[0].Err)
	}
}

// TestCrashBeforeManifestCommit simulates a crash after the temp file was
// written but before the manifest update: the manifest must be unchanged and
// the target file absent, never truncated.
func TestCrashBeforeManifestCommit(t *testing.T) {
	engine, root := newTestEngine(t)

	// A crashed run leaves only an abandoned temp file behind.
	tmp, err := os.CreateTemp(root, ".convoy-sync-*")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	if _, err := tmp.WriteString("partial"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	tmp.Close()

	manifest, err := LoadManifest(filepath.Join(root, ".convoy-manifest.json"))
	if err != nil {
		t.Fatalf("LoadManifest after crash: %v", err)
	}
	if manifest.Len() != 0 {
		t.Errorf("manifest has %d records after crash, want 0", manifest.Len())
	}
	if _, err := os.Stat(filepath.Join(root, "core.dll")); !os.IsNotExist(err) {
		t.Error("target file exists after crash before rename")
	}

	// The abandoned temp is invisible to planning: the entry is replanned.
	entry := RemoteFileEntry{Path: "core.dll", Size: 3, Checksum: md5sum("abc")}
	if plan := engine.Plan([]RemoteFileEntry{entry}, "1.0"); len(plan) != 1 {
		t.Errorf("plan after crash = %+v, want the entry replanned", plan)
	}
}

// TestExecuteDownloadTimeout tests that a stalled download fails within the
// per-download deadline and leaves no partial state behind.
func TestExecuteDownloadTimeout(t *testing.T) {
	stalled := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		// Hold the body open until the client gives up.
		<-r.Context().Done()
	}))
	defer stalled.Close()

	engine, root := newTestEngine(t)
	engine.Timeout = 200 * time.Millisecond

	entry := RemoteFileEntry{
		Path:     "core.dll",
		Size:     3,
		Checksum: md5sum("abc"),
		URL:      stalled.URL + "/core.dll",
	}

	start := time.Now()
	result := engine.Execute(context.Background(), []RemoteFileEntry{entry}, "1.0")
	elapsed := time.Since(start)

	if len(result.Failed) != 1 || !errors.Is(result.Failed[0].Err, ErrDownload) {
		t.Fatalf("Failed = %+v, want one ErrDownload", result.Failed)
	}
	if elapsed > 5*time.Second {
		t.Errorf("stalled download took %v, deadline not enforced", elapsed)
	}
	if _, err := os.Stat(filepath.Join(root, "core.dll")); !os.IsNotExist(err) {
		t.Error("partial file promoted after timeout")
	}
	if leftovers, _ := filepath.Glob(filepath.Join(root, ".convoy-sync-*")); len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}
