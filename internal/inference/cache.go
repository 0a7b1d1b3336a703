package inference

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vesselgpt/vessel/internal/metrics"
	"github.com/vesselgpt/vessel/internal/schema"
)

// CachedBackend memoizes model answers per (method, image bytes, query).
// Identical concurrent batches share one backend call.
type CachedBackend struct {
	backend Backend
	cache   *ttlcache.Cache[string, string]
	sfGroup *singleflight.Group
	logger  *zap.Logger

	mu      sync.Mutex
	flights map[string]*flight

	hits   atomic.Uint64
	misses atomic.Uint64
}

// flight is the detached context of one shared backend call.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Cached wraps backend with a result cache whose entries live for ttl.
func Cached(backend Backend, ttl time.Duration, logger *zap.Logger) *CachedBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	cache := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](ttl),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go cache.Start()

	return &CachedBackend{
		backend: backend,
		cache:   cache,
		sfGroup: &singleflight.Group{},
		flights: make(map[string]*flight),
		logger:  logger,
	}
}

func (c *CachedBackend) Method() Method { return c.backend.Method() }

// Close stops the expiry loop and closes the wrapped backend.
func (c *CachedBackend) Close() error {
	c.cache.Stop()
	return c.backend.Close()
}

// Ready reports the wrapped backend's readiness when it can tell.
func (c *CachedBackend) Ready(ctx context.Context) error {
	if p, ok := c.backend.(Pinger); ok {
		return p.Ready(ctx)
	}
	return nil
}

// Stats returns the hit and miss counts since creation.
func (c *CachedBackend) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *CachedBackend) Infer(ctx context.Context, reqs []Request) ([]Result, error) {
	method := string(c.backend.Method())
	results := make([]Result, len(reqs))
	keys := make([]string, len(reqs))

	var missed []int
	for i, r := range reqs {
		key, err := c.cacheKey(r)
		if err != nil {
			return nil, err
		}
		keys[i] = key
		if item := c.cache.Get(key); item != nil {
			c.hits.Add(1)
			metrics.RecordCacheHit(method)
			results[i] = resultFor(r, item.Value())
			continue
		}
		missed = append(missed, i)
	}
	if len(missed) == 0 {
		c.logger.Debug("inference cache hit", zap.String("method", method), zap.Int("batch", len(reqs)))
		return results, nil
	}

	batch := make([]Request, len(missed))
	batchKeys := make([]string, len(missed))
	for j, i := range missed {
		batch[j] = reqs[i]
		batchKeys[j] = keys[i]
	}

	key := strings.Join(batchKeys, ",")
	texts, err := c.shared(ctx, key, batch, batchKeys)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.Canceled) {
		// Joined a call whose other callers all left before it finished.
		texts, err = c.shared(ctx, key, batch, batchKeys)
	}
	if err != nil {
		return nil, err
	}

	for j, i := range missed {
		results[i] = resultFor(reqs[i], texts[j])
	}
	return results, nil
}

// shared runs batch once for every concurrent caller asking for the same
// keys. The call outlives any single caller and is cancelled only when all
// of them have gone.
func (c *CachedBackend) shared(ctx context.Context, key string, batch []Request, keys []string) ([]string, error) {
	callCtx, leave := c.join(ctx, key)
	defer leave()

	ch := c.sfGroup.DoChan(key, func() (any, error) {
		return c.fill(callCtx, batch, keys)
	})
	select {
	case <-ctx.Done():
		return nil, unavailable(c.backend.Method(), batch[0], ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug("singleflight hit for inference batch", zap.String("method", string(c.backend.Method())))
		}
		return res.Val.([]string), nil
	}
}

func (c *CachedBackend) join(ctx context.Context, key string) (context.Context, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		c.flights[key] = f
	}
	f.waiters++

	return f.ctx, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		f.waiters--
		if f.waiters == 0 {
			f.cancel()
			if c.flights[key] == f {
				delete(c.flights, key)
			}
		}
	}
}

// fill calls the backend and caches answers that parse as JSON. Anything
// else is returned but not kept, so a bad answer is retried next time.
func (c *CachedBackend) fill(ctx context.Context, batch []Request, keys []string) (any, error) {
	method := c.backend.Method()
	c.misses.Add(uint64(len(batch)))
	for range batch {
		metrics.RecordCacheMiss(string(method))
	}

	out, err := c.backend.Infer(ctx, batch)
	if err != nil {
		return nil, err
	}
	if err := checkCount(method, len(out), len(batch)); err != nil {
		return nil, err
	}

	texts := make([]string, len(out))
	for j, res := range out {
		texts[j] = res.Text
		if !json.Valid(schema.TrimFence([]byte(res.Text))) {
			c.logger.Debug("not caching non-JSON answer",
				zap.String("method", string(method)), zap.Int("page", res.Page), zap.Int("table", res.Table))
			continue
		}
		c.cache.Set(keys[j], res.Text, ttlcache.DefaultTTL)
	}
	return texts, nil
}

func (c *CachedBackend) cacheKey(r Request) (string, error) {
	data, err := readArtifact(r)
	if err != nil {
		return "", err
	}
	h := xxhash.New()
	_, _ = h.WriteString(string(c.backend.Method()))
	_, _ = h.WriteString("|q:")
	_, _ = h.WriteString(r.Query)
	_, _ = h.WriteString("|a:")
	_, _ = h.Write(data)
	return strconv.FormatUint(h.Sum64(), 16), nil
}
