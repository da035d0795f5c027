package subgraph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	errs "github.com/mrkhmath/mathgraph-backend/internal/pkg/errors"
	"github.com/mrkhmath/mathgraph-backend/internal/platform/logger"
)

// Origin reports whether a Get was served from disk or had to download.
type Origin int

const (
	OriginLocal Origin = iota
	OriginDownloaded
)

const (
	tmpSuffix = ".part"

	// Used for eviction accounting when the store does not advertise a size.
	defaultSizeEstimate = 10 << 20
)

type CacheOptions struct {
	Dir string
	// MaxBytes caps resident artifact bytes. Advisory: the incoming artifact
	// may transiently exceed it during its own download.
	MaxBytes int64
	// DownloadConcurrency bounds simultaneous outbound fetches across keys.
	DownloadConcurrency int64
	// Attempts is the total fetch attempts per Get on transient failure.
	Attempts int
	// BackoffBase is the first retry delay; later delays grow by 1.8x.
	BackoffBase time.Duration
	// Ext is the on-disk artifact extension, including the dot.
	Ext string
}

// Cache is a disk-backed, size-bounded LRU cache of subgraph artifacts. It is
// the only shared mutable state crossing request boundaries and is safe for
// concurrent use.
type Cache struct {
	dir      string
	ext      string
	maxBytes int64
	attempts int
	backoff  time.Duration

	fetcher Fetcher
	sem     *semaphore.Weighted
	log     *logger.Logger
	tracer  trace.Tracer

	// mu guards creation of per-key locks. The map grows by one entry per
	// distinct code ever requested and is never shrunk.
	mu    sync.Mutex
	locks map[string]*sync.Mutex

	evictMu sync.Mutex
}

func NewCache(fetcher Fetcher, opts CacheOptions, log *logger.Logger) (*Cache, error) {
	if fetcher == nil {
		return nil, errors.New("cache: fetcher required")
	}
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, errors.New("cache: dir required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create dir: %w", err)
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 200 << 20
	}
	if opts.DownloadConcurrency <= 0 {
		opts.DownloadConcurrency = 2
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 800 * time.Millisecond
	}
	ext := opts.Ext
	if ext == "" {
		ext = ".json"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Cache{
		dir:      opts.Dir,
		ext:      ext,
		maxBytes: opts.MaxBytes,
		attempts: opts.Attempts,
		backoff:  opts.BackoffBase,
		fetcher:  fetcher,
		sem:      semaphore.NewWeighted(opts.DownloadConcurrency),
		log:      log,
		tracer:   otel.Tracer("subgraph.cache"),
		locks:    map[string]*sync.Mutex{},
	}, nil
}

// Get returns the subgraph for code, downloading it if absent. Concurrent
// callers for the same uncached code share a single fetch. The fast path never
// touches the network.
func (c *Cache) Get(ctx context.Context, code string) (*Subgraph, Origin, error) {
	if err := validateCode(code); err != nil {
		return nil, OriginLocal, err
	}

	ctx, span := c.tracer.Start(ctx, "cache.get", trace.WithAttributes(attribute.String("concept.code", code)))
	defer span.End()

	path := filepath.Join(c.dir, code+c.ext)

	if sg, err := c.readLocal(path, true); err != nil {
		return nil, OriginLocal, err
	} else if sg != nil {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return sg, OriginLocal, nil
	}

	l := c.keyLock(code)
	l.Lock()
	defer l.Unlock()

	// Another request may have completed the fetch while this one waited.
	if sg, err := c.readLocal(path, true); err != nil {
		return nil, OriginLocal, err
	} else if sg != nil {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return sg, OriginLocal, nil
	}

	span.SetAttributes(attribute.Bool("cache.hit", false))
	if err := c.fetchWithRetry(ctx, code, path); err != nil {
		return nil, OriginLocal, err
	}

	sg, err := c.readLocal(path, false)
	if err != nil {
		return nil, OriginDownloaded, err
	}
	if sg == nil {
		return nil, OriginDownloaded, fmt.Errorf("artifact %s vanished after download: %w", code, errs.ErrTransient)
	}
	return sg, OriginDownloaded, nil
}

// readLocal decodes the artifact at path, returning (nil, nil) when absent.
// A corrupt file is removed so a later request can re-fetch it.
func (c *Cache) readLocal(path string, touch bool) (*Subgraph, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open artifact: %v: %w", err, errs.ErrTransient)
	}
	defer f.Close()

	if touch {
		now := time.Now()
		_ = os.Chtimes(path, now, now)
	}

	sg, err := Decode(f)
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return sg, nil
}

func (c *Cache) keyLock(code string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[code]
	if !ok {
		l = &sync.Mutex{}
		c.locks[code] = l
	}
	return l
}

func (c *Cache) fetchWithRetry(ctx context.Context, code, path string) error {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			delay := c.backoff
			for i := 2; i < attempt; i++ {
				delay = time.Duration(float64(delay) * 1.8)
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("fetch %s: %v: %w", code, ctx.Err(), errs.ErrTransient)
			case <-time.After(delay):
			}
		}

		err := c.download(ctx, code, path)
		if err == nil {
			return nil
		}
		if errors.Is(err, errs.ErrNotFound) || errors.Is(err, errs.ErrInvalidInput) {
			return err
		}
		lastErr = err
		c.log.Warn("subgraph fetch attempt failed",
			"code", code, "attempt", attempt, "attempts", c.attempts, "error", err)
	}
	return lastErr
}

func (c *Cache) download(ctx context.Context, code, path string) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("fetch %s: %v: %w", code, err, errs.ErrTransient)
	}
	defer c.sem.Release(1)

	rc, size, err := c.fetcher.Fetch(ctx, code)
	if err != nil {
		return err
	}
	defer rc.Close()

	incoming := size
	if incoming <= 0 {
		incoming = defaultSizeEstimate
	}
	c.evictFor(incoming, path)

	tmp := path + tmpSuffix
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %v: %w", tmp, err, errs.ErrTransient)
	}
	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("download %s: %v: %w", code, err, errs.ErrTransient)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close %s: %v: %w", tmp, err, errs.ErrTransient)
	}

	// The artifact becomes visible under its final name only here.
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish %s: %v: %w", code, err, errs.ErrTransient)
	}
	now := time.Now()
	_ = os.Chtimes(path, now, now)
	return nil
}

type residentFile struct {
	path  string
	size  int64
	atime time.Time
}

// evictFor removes least-recently-used artifacts until incoming fits in the
// budget. keep is the final path of the artifact being written and is never
// evicted; in-flight temp files are skipped too.
func (c *Cache) evictFor(incoming int64, keep string) {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	files, total := c.resident(keep)
	if total+incoming <= c.maxBytes {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].atime.Before(files[j].atime) })
	for _, f := range files {
		if total+incoming <= c.maxBytes {
			break
		}
		if err := os.Remove(f.path); err != nil {
			c.log.Warn("cache eviction failed", "path", f.path, "error", err)
			continue
		}
		total -= f.size
		c.log.Debug("evicted cached subgraph", "path", f.path, "bytes", f.size)
	}
}

func (c *Cache) resident(skip string) ([]residentFile, int64) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, 0
	}
	var files []residentFile
	var total int64
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), tmpSuffix) {
			continue
		}
		p := filepath.Join(c.dir, e.Name())
		if p == skip {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, residentFile{path: p, size: info.Size(), atime: info.ModTime()})
		total += info.Size()
	}
	return files, total
}

// ResidentBytes reports the bytes currently held on disk, excluding in-flight
// temp files.
func (c *Cache) ResidentBytes() int64 {
	_, total := c.resident("")
	return total
}

func validateCode(code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("concept code required: %w", errs.ErrInvalidInput)
	}
	if strings.ContainsAny(code, "/\\") || strings.Contains(code, "..") {
		return fmt.Errorf("concept code %q is malformed: %w", code, errs.ErrInvalidInput)
	}
	return nil
}
