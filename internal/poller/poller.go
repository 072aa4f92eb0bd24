// Package poller refreshes a value on a fixed interval, independently of
// the real-time channel.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "poller_fetches_total",
	Help: "Periodic fetches, by poller name and result.",
}, []string{"poller", "result"})

// DefaultInterval replaces a non-positive Options.Interval.
const DefaultInterval = 30 * time.Second

type FetchFunc[T any] func(ctx context.Context) (T, error)

type Options[T any] struct {
	Name     string
	Interval time.Duration
	Fetch    FetchFunc[T]
	Logger   zerolog.Logger

	// OnUpdate and OnError run on the polling goroutine.
	OnUpdate func(T)
	OnError  func(error)
}

// Poller holds the last successfully fetched value. A failed fetch keeps
// the previous value; the next tick is the retry.
type Poller[T any] struct {
	opts Options[T]
	log  zerolog.Logger

	mu      sync.RWMutex
	value   T
	ok      bool
	lastErr error
	updated time.Time

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New[T any](opts Options[T]) *Poller[T] {
	p := &Poller[T]{
		opts: opts,
		log:  opts.Logger.With().Str("poller", opts.Name).Logger(),
	}
	if opts.Interval <= 0 {
		p.log.Warn().Dur("interval", opts.Interval).Dur("using", DefaultInterval).Msg("non-positive poll interval")
		p.opts.Interval = DefaultInterval
	}
	return p
}

// Interval is the effective polling period.
func (p *Poller[T]) Interval() time.Duration { return p.opts.Interval }

// Start begins polling on the configured interval. The first fetch happens
// after one interval; call Refresh for an immediate one. Start on a running
// poller does nothing.
func (p *Poller[T]) Start(ctx context.Context) {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(p.opts.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = p.Refresh(ctx)
			}
		}
	}()
	p.log.Debug().Dur("interval", p.opts.Interval).Msg("poller started")
}

// Stop cancels the ticker and waits for the polling goroutine to exit. It
// may be called any number of times, concurrently.
func (p *Poller[T]) Stop() {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel = nil
	p.done = nil
	p.log.Debug().Msg("poller stopped")
}

func (p *Poller[T]) Running() bool {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	return p.cancel != nil
}

// Refresh fetches once. On success the held value is replaced wholesale.
func (p *Poller[T]) Refresh(ctx context.Context) error {
	v, err := p.opts.Fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled by Stop; not a fetch failure.
			return err
		}
		p.mu.Lock()
		p.lastErr = err
		p.mu.Unlock()
		fetchesTotal.WithLabelValues(p.opts.Name, "error").Inc()
		p.log.Error().Err(err).Msg("fetch failed, keeping previous value")
		if p.opts.OnError != nil {
			p.opts.OnError(err)
		}
		return err
	}

	p.mu.Lock()
	p.value = v
	p.ok = true
	p.lastErr = nil
	p.updated = time.Now()
	p.mu.Unlock()
	fetchesTotal.WithLabelValues(p.opts.Name, "ok").Inc()

	if p.opts.OnUpdate != nil {
		p.opts.OnUpdate(v)
	}
	return nil
}

// Value returns the last fetched value and whether any fetch has succeeded.
func (p *Poller[T]) Value() (T, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value, p.ok
}

// Set seeds the held value, as after an initial load done elsewhere.
func (p *Poller[T]) Set(v T) {
	p.mu.Lock()
	p.value = v
	p.ok = true
	p.updated = time.Now()
	p.mu.Unlock()
}

// Update replaces the held value with fn applied to it, under the same lock
// a tick takes. fn must not mutate its argument in place; it receives the
// zero value if nothing has been fetched yet.
func (p *Poller[T]) Update(fn func(T) T) {
	p.mu.Lock()
	p.value = fn(p.value)
	p.ok = true
	p.updated = time.Now()
	p.mu.Unlock()
}

func (p *Poller[T]) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

func (p *Poller[T]) UpdatedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.updated
}
