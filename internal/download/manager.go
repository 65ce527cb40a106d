// Package download handles verified file fetches with per-destination locking,
// retry with exponential backoff, and SHA-1 validation.
package download

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/errgroup"

	"github.com/blocksmiths/launchcore/internal/launcher"
)

const (
	defaultRetries   = 3
	defaultTimeout   = 60 * time.Second
	backoffBase      = 500 * time.Millisecond
	backoffCap       = 10 * time.Second
	largeFileTimeout = 5 * time.Minute
)

// Request describes a single verified fetch
type Request struct {
	URL     string
	Dest    string
	SHA1    string // optional expected hash
	Size    int64  // optional expected size, 0 = unknown
	Retries int    // verification/HTTP retry attempts, default 3
	Timeout time.Duration

	// OnProgress receives cumulative bytes written for this request
	OnProgress func(written, total int64)
}

// Manager performs verified downloads. Fetches to distinct destinations
// proceed in parallel; the same destination is serialized by a per-path lock
// held for the entire fetch lifetime.
type Manager struct {
	client *http.Client
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

// NewManager creates a download manager
func NewManager(logger *slog.Logger) *Manager {
	// Transient transport errors retry inside the client; verification
	// failures retry in the outer Fetch loop.
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = nil

	retryClient.HTTPClient.Transport = &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	retryClient.HTTPClient.Timeout = largeFileTimeout

	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		client: retryClient.StandardClient(),
		logger: logger,
		locks:  make(map[string]*pathLock),
	}
}

// Fetch downloads req.URL to req.Dest, verifying size and SHA-1 before
// commit. Returns cached=true when a valid file was already present.
func (m *Manager) Fetch(ctx context.Context, req Request) (cached bool, err error) {
	if req.Retries <= 0 {
		req.Retries = defaultRetries
	}
	if req.Timeout <= 0 {
		req.Timeout = defaultTimeout
	}

	lock := m.acquire(req.Dest)
	defer m.release(req.Dest, lock)

	// Cached-file short circuit
	if info, statErr := os.Stat(req.Dest); statErr == nil && info.Size() > 0 {
		if req.SHA1 == "" {
			return true, nil // no expected hash, assume cached
		}
		if hash, hashErr := SHA1File(req.Dest); hashErr == nil && hash == req.SHA1 {
			return true, nil
		}
		m.logger.Warn("cached file failed verification, refetching", "path", req.Dest)
		if rmErr := os.Remove(req.Dest); rmErr != nil {
			return false, launcher.Wrap(launcher.KindPermissionDenied, rmErr, "removing corrupt file %s", req.Dest)
		}
	}

	if err := os.MkdirAll(filepath.Dir(req.Dest), 0755); err != nil {
		return false, launcher.Wrap(launcher.KindPermissionDenied, err, "creating directory for %s", req.Dest)
	}

	var lastErr error
	for attempt := 1; attempt <= req.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		lastErr = m.attempt(ctx, req)
		if lastErr == nil {
			return false, nil
		}

		m.logger.Warn("download attempt failed",
			"url", req.URL, "attempt", attempt, "error", lastErr)

		if attempt < req.Retries {
			select {
			case <-time.After(backoff(attempt)):
			case <-ctx.Done():
				return false, ctx.Err()
			}
		}
	}

	return false, launcher.Wrap(launcher.KindDownloadFailed, lastErr,
		"downloading %s after %d attempts", req.URL, req.Retries)
}

// attempt performs one download try: stream to temp, verify, rename.
func (m *Manager) attempt(ctx context.Context, req Request) error {
	reqCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, req.URL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("requesting: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	tmpPath := req.Dest + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}

	hasher := sha1.New()
	writer := io.MultiWriter(f, hasher)

	var written int64
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := writer.Write(buf[:n]); writeErr != nil {
				f.Close()
				os.Remove(tmpPath)
				return fmt.Errorf("writing file: %w", writeErr)
			}
			written += int64(n)
			if req.OnProgress != nil {
				req.OnProgress(written, req.Size)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			f.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("reading response: %w", readErr)
		}
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing file: %w", err)
	}

	// Verification runs before commit so no half-written file is visible.
	if req.Size > 0 && written != req.Size {
		os.Remove(tmpPath)
		return launcher.New(launcher.KindSizeMismatch, "expected %d bytes, got %d", req.Size, written)
	}
	if req.SHA1 != "" {
		hash := hex.EncodeToString(hasher.Sum(nil))
		if hash != req.SHA1 {
			os.Remove(tmpPath)
			return launcher.New(launcher.KindHashMismatch, "expected %s, got %s", req.SHA1, hash)
		}
	}

	if err := os.Rename(tmpPath, req.Dest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming file: %w", err)
	}

	return nil
}

// BatchResult summarizes a FetchAll run
type BatchResult struct {
	Completed int
	Cached    int
	Failed    int
	Errors    []error
}

// FetchAll fetches requests with bounded concurrency. onItemDone, if set,
// is called after each item settles (completed, cached, or failed).
func (m *Manager) FetchAll(ctx context.Context, requests []Request, limit int, onItemDone func(Request, bool, error)) *BatchResult {
	if limit <= 0 {
		limit = 3
	}

	var (
		resMu  sync.Mutex
		result BatchResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, req := range requests {
		req := req
		g.Go(func() error {
			cached, err := m.Fetch(gctx, req)

			resMu.Lock()
			switch {
			case err != nil:
				result.Failed++
				result.Errors = append(result.Errors, fmt.Errorf("%s: %w", req.URL, err))
			case cached:
				result.Cached++
				result.Completed++
			default:
				result.Completed++
			}
			resMu.Unlock()

			if onItemDone != nil {
				onItemDone(req, cached, err)
			}
			// Individual failures are collected, not fatal to the batch.
			return gctx.Err()
		})
	}

	_ = g.Wait()
	return &result
}

// acquire takes the per-destination lock, creating the entry on demand.
func (m *Manager) acquire(dest string) *pathLock {
	m.mu.Lock()
	lock, ok := m.locks[dest]
	if !ok {
		lock = &pathLock{}
		m.locks[dest] = lock
	}
	lock.refs++
	m.mu.Unlock()

	lock.mu.Lock()
	return lock
}

// release drops the lock and garbage-collects uncontended entries.
func (m *Manager) release(dest string, lock *pathLock) {
	lock.mu.Unlock()

	m.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(m.locks, dest)
	}
	m.mu.Unlock()
}

// backoff computes base * 2^(attempt-1) + jitter, capped.
func backoff(attempt int) time.Duration {
	d := backoffBase << (attempt - 1)
	if d > backoffCap {
		d = backoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(backoffBase)))
	d += jitter
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

// SHA1File computes the SHA-1 of a file's contents
func SHA1File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
