package trie

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TermSource supplies term frequencies for a rebuild, typically
// aggregated from recent search-log rows.
type TermSource interface {
	RecentTerms(ctx context.Context, limit int) (map[string]int64, error)
}

// Rebuilder periodically rebuilds a trie from a TermSource.
type Rebuilder struct {
	trie     *Trie
	source   TermSource
	interval time.Duration
	window   int
	logger   *slog.Logger

	afterRebuild func()

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewRebuilder creates a rebuilder. interval defaults to one hour and
// window to 10000 rows when non-positive.
func NewRebuilder(t *Trie, source TermSource, interval time.Duration, window int, logger *slog.Logger) *Rebuilder {
	if interval <= 0 {
		interval = time.Hour
	}
	if window <= 0 {
		window = 10000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Rebuilder{
		trie:     t,
		source:   source,
		interval: interval,
		window:   window,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// AfterRebuild registers fn to run after every successful rebuild,
// e.g. to drop caches derived from the old index. Register before
// calling Start or Rebuild.
func (r *Rebuilder) AfterRebuild(fn func()) {
	r.afterRebuild = fn
}

// Rebuild performs one full rebuild: fetch the recent-term window and
// swap it in. The swap holds the trie's write lock for its duration.
// A failed fetch leaves the current index untouched and does not fire
// the AfterRebuild hook.
func (r *Rebuilder) Rebuild(ctx context.Context) error {
	start := time.Now()
	terms, err := r.source.RecentTerms(ctx, r.window)
	if err != nil {
		return err
	}
	r.trie.Replace(terms)
	if r.afterRebuild != nil {
		r.afterRebuild()
	}
	r.logger.Info("trie rebuilt",
		slog.Int("terms", len(terms)),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// Start performs an initial warm-up build, then rebuilds every
// interval until Stop is called or ctx is cancelled. A failed rebuild
// keeps the previous index and is retried next tick.
func (r *Rebuilder) Start(ctx context.Context) {
	if err := r.Rebuild(ctx); err != nil {
		r.logger.Warn("initial trie build failed", slog.String("error", err.Error()))
	}

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := r.Rebuild(ctx); err != nil {
					r.logger.Warn("trie rebuild failed", slog.String("error", err.Error()))
				}
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop terminates the rebuild loop and waits for it to exit. Stop must
// only be called after Start.
func (r *Rebuilder) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}
