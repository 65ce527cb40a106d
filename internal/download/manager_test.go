package download

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/blocksmiths/launchcore/internal/launcher"
)

func sha1Hex(b []byte) string {
	h := sha1.Sum(b)
	return hex.EncodeToString(h[:])
}

func TestFetch_SingleFile(t *testing.T) {
	content := []byte("Hello, World!")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "test.txt")

	mgr := NewManager(nil)
	cached, err := mgr.Fetch(context.Background(), Request{URL: server.URL, Dest: destPath})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if cached {
		t.Error("Expected cached=false for fresh download")
	}

	data, err := os.ReadFile(destPath)
	if err != nil {
		t.Fatalf("Reading downloaded file: %v", err)
	}
	if string(data) != string(content) {
		t.Errorf("Content mismatch: got %q, want %q", data, content)
	}
}

func TestFetch_SHA1Validation(t *testing.T) {
	content := []byte("Test content for hashing")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "hashed.txt")

	mgr := NewManager(nil)
	_, err := mgr.Fetch(context.Background(), Request{
		URL:  server.URL,
		Dest: destPath,
		SHA1: sha1Hex(content),
		Size: int64(len(content)),
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
}

func TestFetch_SHA1Mismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Test content"))
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "bad_hash.txt")

	mgr := NewManager(nil)
	_, err := mgr.Fetch(context.Background(), Request{
		URL:     server.URL,
		Dest:    destPath,
		SHA1:    "0000000000000000000000000000000000000000",
		Retries: 2,
	})
	if err == nil {
		t.Fatal("Expected error for hash mismatch")
	}
	if !launcher.IsKind(err, launcher.KindDownloadFailed) {
		t.Errorf("Expected DownloadFailed kind, got %v", launcher.KindOf(err))
	}
	var le *launcher.Error
	if !errors.As(err, &le) {
		t.Error("Expected structured launcher.Error")
	}
	if _, statErr := os.Stat(destPath); !os.IsNotExist(statErr) {
		t.Error("Partial file should not be committed on hash mismatch")
	}
}

func TestFetch_SizeMismatch(t *testing.T) {
	content := []byte("short")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "sized.txt")

	mgr := NewManager(nil)
	_, err := mgr.Fetch(context.Background(), Request{
		URL:     server.URL,
		Dest:    destPath,
		Size:    9999,
		Retries: 1,
	})
	if err == nil {
		t.Fatal("Expected error for size mismatch")
	}
}

func TestFetch_SkipsExistingValid(t *testing.T) {
	content := []byte("Existing content")

	serverCalled := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serverCalled = true
		w.Write(content)
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "existing.txt")
	os.WriteFile(destPath, content, 0644)

	mgr := NewManager(nil)
	cached, err := mgr.Fetch(context.Background(), Request{
		URL:  server.URL,
		Dest: destPath,
		SHA1: sha1Hex(content),
		Size: int64(len(content)),
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !cached {
		t.Error("Expected cached=true for existing valid file")
	}
	if serverCalled {
		t.Error("Server should not be called for existing valid file")
	}
}

func TestFetch_RepairsCorruptCached(t *testing.T) {
	content := []byte("real content")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "corrupt.txt")
	os.WriteFile(destPath, []byte("garbage bytes here"), 0644)

	mgr := NewManager(nil)
	cached, err := mgr.Fetch(context.Background(), Request{
		URL:  server.URL,
		Dest: destPath,
		SHA1: sha1Hex(content),
		Size: int64(len(content)),
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if cached {
		t.Error("Corrupt cache should trigger refetch, not cached=true")
	}

	data, _ := os.ReadFile(destPath)
	if string(data) != string(content) {
		t.Errorf("Corrupt file not repaired: got %q", data)
	}
}

func TestFetch_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	mgr := NewManager(nil)
	_, err := mgr.Fetch(context.Background(), Request{
		URL:     server.URL,
		Dest:    filepath.Join(t.TempDir(), "missing.txt"),
		Retries: 2,
	})
	if err == nil {
		t.Fatal("Expected error for HTTP 404")
	}
	if !launcher.IsKind(err, launcher.KindDownloadFailed) {
		t.Errorf("Expected DownloadFailed kind, got %v", launcher.KindOf(err))
	}
}

func TestFetchAll_MultipleFiles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("content-" + r.URL.Path))
	}))
	defer server.Close()

	tmpDir := t.TempDir()
	requests := []Request{
		{URL: server.URL + "/1", Dest: filepath.Join(tmpDir, "1.txt")},
		{URL: server.URL + "/2", Dest: filepath.Join(tmpDir, "2.txt")},
		{URL: server.URL + "/3", Dest: filepath.Join(tmpDir, "3.txt")},
	}

	var done int32
	mgr := NewManager(nil)
	result := mgr.FetchAll(context.Background(), requests, 2, func(Request, bool, error) {
		atomic.AddInt32(&done, 1)
	})

	if result.Completed != 3 {
		t.Errorf("Expected 3 completed, got %d", result.Completed)
	}
	if result.Failed != 0 {
		t.Errorf("Expected 0 failed, got %d: %v", result.Failed, result.Errors)
	}
	if done != 3 {
		t.Errorf("Expected 3 onItemDone calls, got %d", done)
	}

	for _, req := range requests {
		if _, err := os.Stat(req.Dest); err != nil {
			t.Errorf("File %s should exist: %v", req.Dest, err)
		}
	}
}

func TestFetchAll_Empty(t *testing.T) {
	mgr := NewManager(nil)
	result := mgr.FetchAll(context.Background(), nil, 3, nil)
	if result.Completed != 0 || result.Failed != 0 {
		t.Error("Empty batch should have zero completed and failed")
	}
}

func TestFetch_SamePathSerialized(t *testing.T) {
	content := []byte("serialized")
	var inFlight, maxInFlight int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			prev := atomic.LoadInt32(&maxInFlight)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxInFlight, prev, cur) {
				break
			}
		}
		w.Write(content)
		atomic.AddInt32(&inFlight, -1)
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "same.txt")
	mgr := NewManager(nil)

	requests := []Request{
		{URL: server.URL, Dest: destPath, SHA1: sha1Hex(content)},
		{URL: server.URL, Dest: destPath, SHA1: sha1Hex(content)},
		{URL: server.URL, Dest: destPath, SHA1: sha1Hex(content)},
	}
	result := mgr.FetchAll(context.Background(), requests, 3, nil)

	if result.Failed != 0 {
		t.Fatalf("Expected no failures, got %v", result.Errors)
	}
	// With per-path locking at most one request to the same destination
	// can be in flight; the rest observe the cached file.
	if maxInFlight > 1 {
		t.Errorf("Expected serialized access to same path, saw %d concurrent", maxInFlight)
	}
	if result.Cached < 2 {
		t.Errorf("Expected at least 2 cached results, got %d", result.Cached)
	}
}
