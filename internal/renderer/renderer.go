package renderer

import (
	"context"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/conneroisu/glimpse/internal/errors"
	"github.com/conneroisu/glimpse/internal/logging"
	"github.com/conneroisu/glimpse/internal/metrics"
)

// Backend compiles one request with an explicit preamble.
type Backend interface {
	Compile(ctx context.Context, req RenderRequest, preamble string) (string, error)
}

// PreambleSource supplies the current preamble.
type PreambleSource interface {
	Get() string
}

// Options configures a Renderer.
type Options struct {
	// Workers bounds concurrent compiles; 0 means GOMAXPROCS.
	Workers int
	// CacheSize bounds the result cache; 0 disables it.
	CacheSize int
}

// Renderer is the render entry point. It snapshots the preamble once per
// call, answers repeats from cache and runs at most Workers compiles at a
// time.
type Renderer struct {
	backend  Backend
	preamble PreambleSource
	sem      *semaphore.Weighted
	workers  int
	cache    *Cache
	logger   logging.Logger
	metrics  *metrics.Metrics
}

// New creates a Renderer.
func New(backend Backend, preamble PreambleSource, opts Options, logger logging.Logger, m *metrics.Metrics) *Renderer {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Renderer{
		backend:  backend,
		preamble: preamble,
		sem:      semaphore.NewWeighted(int64(workers)),
		workers:  workers,
		cache:    NewCache(opts.CacheSize),
		logger:   logger.WithComponent("renderer"),
		metrics:  m,
	}
}

// Render returns the SVG for req. A request without an ID is given a
// random one. Waiting for a worker slot ends with ERR_RENDER_BUSY when ctx
// is done first.
func (r *Renderer) Render(ctx context.Context, req RenderRequest) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	preamble := r.preamble.Get()
	key := CacheKey(preamble, req)

	if svg, ok := r.cache.Get(key); ok {
		r.metrics.CacheHit()
		r.logger.Debug(ctx, "Render served from cache", "id", req.ID)
		return svg, nil
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.metrics.ObserveRender(metrics.OutcomeBusy, 0)
		return "", errors.NewRenderError(errors.ErrCodeRenderBusy, "render cancelled while waiting for a worker", err).
			WithContext("id", req.ID)
	}
	defer r.sem.Release(1)

	r.metrics.InFlight(1)
	defer r.metrics.InFlight(-1)

	start := time.Now()
	svg, err := r.backend.Compile(ctx, req, preamble)
	elapsed := time.Since(start)
	r.metrics.ObserveRender(outcomeOf(err), elapsed)

	if err != nil {
		r.logger.Debug(ctx, "Render failed", "id", req.ID, "code", errors.CodeOf(err), "elapsed", elapsed)
		return "", err
	}

	r.cache.Add(key, svg)
	r.logger.Debug(ctx, "Render finished", "id", req.ID, "elapsed", elapsed, "bytes", len(svg))
	return svg, nil
}

// Purge empties the result cache.
func (r *Renderer) Purge() {
	r.cache.Purge()
}

// Workers returns the concurrency bound.
func (r *Renderer) Workers() int {
	return r.workers
}

// CacheLen returns the number of cached results.
func (r *Renderer) CacheLen() int {
	return r.cache.Len()
}

func outcomeOf(err error) string {
	if err == nil {
		return metrics.OutcomeSuccess
	}
	switch errors.CodeOf(err) {
	case errors.ErrCodeTypeset:
		return metrics.OutcomeTypeset
	case errors.ErrCodeConvert:
		return metrics.OutcomeConvert
	case errors.ErrCodeSpawn:
		return metrics.OutcomeSpawn
	case errors.ErrCodeEncoding:
		return metrics.OutcomeEncoding
	case errors.ErrCodeTimeout:
		return metrics.OutcomeTimeout
	default:
		return metrics.OutcomeOther
	}
}
