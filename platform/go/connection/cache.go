package connection

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// Handle is a live, reusable connection resource for one tenant's store.
// Handles are owned by the Cache; callers must not Close them.
type Handle interface {
	TenantID() uuid.UUID
	Descriptor() tenant.Descriptor
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Close()
}

// Builder creates a Handle from a connection descriptor.
type Builder interface {
	Build(ctx context.Context, tenantID uuid.UUID, d tenant.Descriptor) (Handle, error)
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(ctx context.Context, tenantID uuid.UUID, d tenant.Descriptor) (Handle, error)

func (f BuilderFunc) Build(ctx context.Context, tenantID uuid.UUID, d tenant.Descriptor) (Handle, error) {
	return f(ctx, tenantID, d)
}

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("connection cache closed")

// ErrEvicted is wrapped in the build failure returned to callers whose build
// finished after the tenant was evicted.
var ErrEvicted = errors.New("tenant evicted during build")

// Config tunes the cache. Zero values take the defaults below.
type Config struct {
	// IdleTimeout evicts entries not acquired for this long. Default 10m.
	IdleTimeout time.Duration
	// BuildTimeout bounds a single build attempt. Default 10s.
	BuildTimeout time.Duration
	// BuildAttempts bounds retries of a failing build. Default 3.
	BuildAttempts int
	// RetryBackoff is multiplied by the attempt number between retries. Default 200ms.
	RetryBackoff time.Duration
	// SweepInterval is how often Run looks for idle entries. Default IdleTimeout/2.
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Minute
	}
	if c.BuildTimeout <= 0 {
		c.BuildTimeout = 10 * time.Second
	}
	if c.BuildAttempts <= 0 {
		c.BuildAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 200 * time.Millisecond
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = c.IdleTimeout / 2
	}
	return c
}

type entry struct {
	handle   Handle
	version  int64
	lastUsed atomic.Int64
}

func (e *entry) touch(now time.Time) { e.lastUsed.Store(now.UnixNano()) }

func (e *entry) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, e.lastUsed.Load()))
}

// Cache maps tenant ids to live handles. Lookups of a current entry take no
// lock and do no I/O; concurrent misses for the same tenant and descriptor
// version share a single build.
type Cache struct {
	builder Builder
	cfg     Config
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time

	entries sync.Map // uuid.UUID -> *entry
	builds  singleflight.Group
	closed  atomic.Bool

	// generations counts Evict calls per tenant. A build only caches its
	// handle if no eviction happened since it started.
	generations sync.Map // uuid.UUID -> *atomic.Uint64
}

// Option customizes a Cache.
type Option func(*Cache)

func WithLogger(l *zap.Logger) Option { return func(c *Cache) { c.logger = l } }

func WithMetrics(m *Metrics) Option { return func(c *Cache) { c.metrics = m } }

// WithClock overrides time.Now; used by tests driving idle eviction.
func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

// NewCache returns an empty cache. builder is required.
func NewCache(builder Builder, cfg Config, opts ...Option) *Cache {
	if builder == nil {
		panic("connection cache requires builder")
	}
	c := &Cache{builder: builder, cfg: cfg.withDefaults(), logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	return c
}

// Acquire returns the handle for tenantID built from d, building it when the
// cache holds nothing or holds a handle from an older descriptor version.
// Cancelling ctx abandons the wait but not the build.
func (c *Cache) Acquire(ctx context.Context, tenantID uuid.UUID, d tenant.Descriptor) (Handle, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if e, ok := c.load(tenantID); ok && e.version == d.Version {
		e.touch(c.now())
		c.metrics.hit()
		return e.handle, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.metrics.miss()

	detached := context.WithoutCancel(ctx)
	key := tenantID.String() + "@" + strconv.FormatInt(d.Version, 10)
	ch := c.builds.DoChan(key, func() (any, error) {
		return c.build(detached, tenantID, d)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Handle), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) build(ctx context.Context, tenantID uuid.UUID, d tenant.Descriptor) (Handle, error) {
	// Another flight may have stored this version between the miss and now.
	if e, ok := c.load(tenantID); ok && e.version == d.Version {
		e.touch(c.now())
		return e.handle, nil
	}
	if err := d.Validate(); err != nil {
		c.metrics.build("invalid")
		return nil, tenant.BuildFailed(tenantID, err)
	}

	logger := c.logger.With(zap.String("tenant_id", tenantID.String()), zap.Int64("descriptor_version", d.Version))
	gen := c.generation(tenantID).Load()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.BuildAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.BuildTimeout)
		h, err := c.builder.Build(attemptCtx, tenantID, d)
		cancel()
		if err == nil {
			c.metrics.build("ok")
			return c.store(tenantID, d.Version, gen, h)
		}

		lastErr = err
		c.metrics.build("error")
		logger.Warn("tenant connection build failed", zap.Int("attempt", attempt), zap.Error(err))

		if attempt < c.cfg.BuildAttempts {
			time.Sleep(c.cfg.RetryBackoff * time.Duration(attempt))
		}
	}

	logger.Error("tenant connection unavailable", zap.Int("attempts", c.cfg.BuildAttempts), zap.Error(lastErr))
	return nil, tenant.BuildFailed(tenantID, lastErr)
}

func (c *Cache) store(tenantID uuid.UUID, version int64, gen uint64, h Handle) (Handle, error) {
	if c.closed.Load() {
		h.Close()
		return nil, ErrClosed
	}
	if c.generation(tenantID).Load() != gen {
		h.Close()
		return nil, tenant.BuildFailed(tenantID, ErrEvicted)
	}

	e := &entry{handle: h, version: version}
	e.touch(c.now())

	for {
		prev, loaded := c.entries.LoadOrStore(tenantID, e)
		if !loaded {
			c.metrics.added()
			return c.confirm(tenantID, gen, e)
		}

		old := prev.(*entry)
		if old.version > version {
			// A newer descriptor won the race; never go backwards.
			h.Close()
			old.touch(c.now())
			return old.handle, nil
		}
		if c.entries.CompareAndSwap(tenantID, old, e) {
			c.metrics.Evictions.WithLabelValues("stale").Inc()
			go old.handle.Close()
			return c.confirm(tenantID, gen, e)
		}
	}
}

// confirm keeps a freshly inserted entry only if neither Close nor Evict ran
// since the build started. Both flag first and sweep second, so an insert
// that landed after their sweep is caught here.
func (c *Cache) confirm(tenantID uuid.UUID, gen uint64, e *entry) (Handle, error) {
	closed := c.closed.Load()
	if !closed && c.generation(tenantID).Load() == gen {
		return e.handle, nil
	}

	// If the delete loses, Close or Evict already retired the entry.
	if c.entries.CompareAndDelete(tenantID, e) {
		c.metrics.evicted("evicted")
		e.handle.Close()
	}
	if closed {
		return nil, ErrClosed
	}
	return nil, tenant.BuildFailed(tenantID, ErrEvicted)
}

func (c *Cache) generation(tenantID uuid.UUID) *atomic.Uint64 {
	if v, ok := c.generations.Load(tenantID); ok {
		return v.(*atomic.Uint64)
	}
	v, _ := c.generations.LoadOrStore(tenantID, new(atomic.Uint64))
	return v.(*atomic.Uint64)
}

func (c *Cache) load(tenantID uuid.UUID) (*entry, bool) {
	v, ok := c.entries.Load(tenantID)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

// Evict drops the tenant's cached handle, if any. Used when a tenant leaves
// the Active state. Builds already in flight for the tenant are not cached.
// Reports whether an entry was removed.
func (c *Cache) Evict(tenantID uuid.UUID) bool {
	c.generation(tenantID).Add(1)
	v, ok := c.entries.LoadAndDelete(tenantID)
	if !ok {
		return false
	}
	c.retire(v.(*entry), "evicted")
	c.logger.Info("tenant connection evicted", zap.String("tenant_id", tenantID.String()))
	return true
}

// Sweep evicts entries idle for longer than IdleTimeout and returns how many.
func (c *Cache) Sweep() int {
	now := c.now()
	removed := 0
	c.entries.Range(func(key, value any) bool {
		e := value.(*entry)
		if e.idleSince(now) <= c.cfg.IdleTimeout {
			return true
		}
		if c.entries.CompareAndDelete(key, e) {
			c.retire(e, "idle")
			removed++
		}
		return true
	})
	if removed > 0 {
		c.logger.Debug("idle tenant connections evicted", zap.Int("count", removed))
	}
	return removed
}

// Run sweeps idle entries every SweepInterval until ctx is done.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool { n++; return true })
	return n
}

// Close evicts everything and rejects further acquisitions. Handles are
// closed synchronously.
func (c *Cache) Close() {
	c.closed.Store(true)
	c.entries.Range(func(key, value any) bool {
		if c.entries.CompareAndDelete(key, value) {
			value.(*entry).handle.Close()
			c.metrics.evicted("shutdown")
		}
		return true
	})
}

func (c *Cache) retire(e *entry, reason string) {
	c.metrics.evicted(reason)
	// pgxpool.Close waits for acquired connections; in-flight sessions finish first.
	go e.handle.Close()
}
