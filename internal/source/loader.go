package source

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/slippymap/internal/cache"
	"github.com/MeKo-Tech/slippymap/internal/tile"
	"golang.org/x/sync/semaphore"
)

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	// Workers bounds concurrent fetches (default: 2)
	Workers int
	// MaxAttempts is the total number of tries for network failures (default: 4)
	MaxAttempts int
	// BaseDelay is the first retry delay; it doubles per attempt (default: 500ms)
	BaseDelay time.Duration
	// MaxDelay caps the retry delay (default: 30s)
	MaxDelay time.Duration
	// AttemptTimeout bounds a single fetch (default: 30s)
	AttemptTimeout time.Duration
	Logger         *slog.Logger
}

// DefaultLoaderConfig returns sensible defaults.
func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{
		Workers:        2,
		MaxAttempts:    4,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		AttemptTimeout: 30 * time.Second,
		Logger:         slog.Default(),
	}
}

// Result is delivered to request callbacks when a load completes.
type Result struct {
	Addr tile.Address
	Tile *cache.Tile
	Err  error
}

// Callback receives the result of a request. It runs on a loader goroutine.
type Callback func(Result)

// LoaderStatus contains current status of the loader.
type LoaderStatus struct {
	// ActiveFetches is the number of fetches currently holding a worker slot
	ActiveFetches int `json:"active_fetches"`
	// InFlight is the number of distinct tiles being loaded, including retries
	InFlight int `json:"in_flight"`
	// Detached is the number of in-flight loads nobody is waiting for
	Detached       int   `json:"detached"`
	TotalCompleted int64 `json:"total_completed"`
	TotalFailed    int64 `json:"total_failed"`
	TotalRetried   int64 `json:"total_retried"`
	TotalCancelled int64 `json:"total_cancelled"`
	TotalResumed   int64 `json:"total_resumed"`
	TotalDiscarded int64 `json:"total_discarded"`
	TotalBytes     int64 `json:"total_bytes"`
	// CurrentTiles lists tiles currently being loaded
	CurrentTiles []string `json:"current_tiles"`
	Workers      int      `json:"workers"`
}

type operation struct {
	addr      tile.Address
	waiters   map[uint64]Callback
	cancelled bool
}

// Loader loads tiles asynchronously into a MemoryCache. Concurrent requests
// for the same address share one fetch.
type Loader struct {
	fetcher Fetcher
	cache   *cache.MemoryCache
	cfg     LoaderConfig
	sem     *semaphore.Weighted
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	ops    map[uint64]*operation
	nextID uint64
	closed bool

	activeFetches  atomic.Int32
	totalCompleted atomic.Int64
	totalFailed    atomic.Int64
	totalRetried   atomic.Int64
	totalCancelled atomic.Int64
	totalResumed   atomic.Int64
	totalDiscarded atomic.Int64
	totalBytes     atomic.Int64
}

// NewLoader creates a loader that fetches with f and stores into c.
func NewLoader(f Fetcher, c *cache.MemoryCache, cfg LoaderConfig) *Loader {
	def := DefaultLoaderConfig()
	if cfg.Workers < 1 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{
		fetcher: f,
		cache:   c,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.Workers)),
		ctx:     ctx,
		cancel:  cancel,
		ops:     make(map[uint64]*operation),
	}
}

func (l *Loader) log() *slog.Logger {
	if l.cfg.Logger != nil {
		return l.cfg.Logger
	}
	return slog.Default()
}

// Handle identifies one request. Cancel detaches its callback.
type Handle struct {
	l    *Loader
	addr tile.Address
	id   uint64
	once sync.Once
}

// Addr returns the normalized address the handle was requested for.
func (h *Handle) Addr() tile.Address {
	return h.addr
}

// Cancel detaches the callback. When no callbacks remain the load keeps
// running but its result is discarded unless the tile is requested again
// before it completes. Cancel is idempotent.
func (h *Handle) Cancel() {
	if h == nil || h.l == nil {
		return
	}
	h.once.Do(func() { h.l.detach(h.addr, h.id) })
}

// Request starts loading addr, or joins the load already in flight for it.
// cb is invoked exactly once unless the handle is cancelled first.
func (l *Loader) Request(addr tile.Address, cb Callback) *Handle {
	addr = addr.Normalize()
	key := addr.Key()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		if cb != nil {
			cb(Result{Addr: addr, Err: NetworkError(addr, ErrClosed)})
		}
		return &Handle{}
	}

	l.nextID++
	id := l.nextID
	if cb == nil {
		cb = func(Result) {}
	}

	op, ok := l.ops[key]
	if ok {
		if op.cancelled {
			op.cancelled = false
			l.totalResumed.Add(1)
			l.log().Debug("resumed tile load", "tile", addr.String())
		}
		op.waiters[id] = cb
		l.mu.Unlock()
		return &Handle{l: l, addr: addr, id: id}
	}

	op = &operation{addr: addr, waiters: map[uint64]Callback{id: cb}}
	l.ops[key] = op
	l.wg.Add(1)
	l.mu.Unlock()

	go l.run(op)
	return &Handle{l: l, addr: addr, id: id}
}

// Pending reports whether a load for addr is in flight.
func (l *Loader) Pending(addr tile.Address) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.ops[addr.Key()]
	return ok
}

func (l *Loader) detach(addr tile.Address, id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	op, ok := l.ops[addr.Key()]
	if !ok {
		return
	}
	if _, ok := op.waiters[id]; !ok {
		return
	}
	delete(op.waiters, id)
	if len(op.waiters) == 0 && !op.cancelled {
		op.cancelled = true
		l.totalCancelled.Add(1)
		l.log().Debug("cancelled tile load", "tile", addr.String())
	}
}

func (l *Loader) run(op *operation) {
	defer l.wg.Done()

	start := time.Now()
	t, err := l.load(op.addr)

	l.mu.Lock()
	delete(l.ops, op.addr.Key())
	cancelled := op.cancelled
	waiters := make([]uint64, 0, len(op.waiters))
	for id := range op.waiters {
		waiters = append(waiters, id)
	}
	sort.Slice(waiters, func(i, j int) bool { return waiters[i] < waiters[j] })
	callbacks := make([]Callback, 0, len(waiters))
	for _, id := range waiters {
		callbacks = append(callbacks, op.waiters[id])
	}
	l.mu.Unlock()

	if cancelled {
		l.totalDiscarded.Add(1)
		l.log().Debug("discarded cancelled tile load", "tile", op.addr.String())
		return
	}

	if err != nil {
		l.totalFailed.Add(1)
		l.log().Warn("tile load failed", "tile", op.addr.String(), "error", err,
			"duration_ms", time.Since(start).Milliseconds())
	} else {
		l.totalCompleted.Add(1)
		l.cache.Put(op.addr, t)
		l.log().Debug("tile loaded", "tile", op.addr.String(), "duration_ms", time.Since(start).Milliseconds())
	}

	res := Result{Addr: op.addr, Tile: t, Err: err}
	for _, cb := range callbacks {
		cb(res)
	}
}

// load fetches and decodes addr, retrying network failures with
// exponential backoff.
func (l *Loader) load(addr tile.Address) (*cache.Tile, error) {
	var lastErr error
	for attempt := 0; attempt < l.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := l.backoff(attempt - 1)
			l.totalRetried.Add(1)
			l.log().Info("retrying tile load", "tile", addr.String(), "attempt", attempt+1, "delay", delay, "error", lastErr)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-l.ctx.Done():
				timer.Stop()
				return nil, NetworkError(addr, l.ctx.Err())
			}
		}

		data, err := l.attempt(addr)
		if err == nil {
			img, err := Decode(addr, data)
			if err != nil {
				return nil, err
			}
			l.totalBytes.Add(int64(len(data)))
			return cache.NewTile(addr, img), nil
		}

		lastErr = err
		if !IsTransient(err) || l.ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// attempt runs one fetch under a worker slot and the attempt timeout.
func (l *Loader) attempt(addr tile.Address) ([]byte, error) {
	if err := l.sem.Acquire(l.ctx, 1); err != nil {
		return nil, NetworkError(addr, err)
	}
	defer l.sem.Release(1)

	l.activeFetches.Add(1)
	defer l.activeFetches.Add(-1)

	ctx, cancel := context.WithTimeout(l.ctx, l.cfg.AttemptTimeout)
	defer cancel()

	data, err := l.fetcher.Fetch(ctx, addr)
	if err == nil {
		return data, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, NetworkError(addr, err)
	}
	return nil, classify(addr, err)
}

// backoff returns BaseDelay*2^n capped at MaxDelay.
func (l *Loader) backoff(n int) time.Duration {
	d := l.cfg.BaseDelay
	for i := 0; i < n; i++ {
		d *= 2
		if d >= l.cfg.MaxDelay {
			return l.cfg.MaxDelay
		}
	}
	return d
}

// Status returns the current status of the loader.
func (l *Loader) Status() LoaderStatus {
	l.mu.Lock()
	current := make([]string, 0, len(l.ops))
	detached := 0
	for _, op := range l.ops {
		current = append(current, op.addr.String())
		if op.cancelled {
			detached++
		}
	}
	inFlight := len(l.ops)
	l.mu.Unlock()
	sort.Strings(current)

	return LoaderStatus{
		ActiveFetches:  int(l.activeFetches.Load()),
		InFlight:       inFlight,
		Detached:       detached,
		TotalCompleted: l.totalCompleted.Load(),
		TotalFailed:    l.totalFailed.Load(),
		TotalRetried:   l.totalRetried.Load(),
		TotalCancelled: l.totalCancelled.Load(),
		TotalResumed:   l.totalResumed.Load(),
		TotalDiscarded: l.totalDiscarded.Load(),
		TotalBytes:     l.totalBytes.Load(),
		CurrentTiles:   current,
		Workers:        l.cfg.Workers,
	}
}

// Close aborts outstanding loads and waits for their goroutines. Waiting
// callbacks receive a network error.
func (l *Loader) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	l.cancel()
	l.wg.Wait()
}
