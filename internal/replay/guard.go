package replay

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Guard wraps a Store with an optional background cleanup loop.
type Guard struct {
	store  Store
	config Config
	log    logrus.FieldLogger
	mu     sync.RWMutex

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	cleanupWg     sync.WaitGroup

	closed bool
}

// NewGuard creates a guard over store. A nil logger discards cleanup errors.
func NewGuard(store Store, config Config, log logrus.FieldLogger) *Guard {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	g := &Guard{
		store:       store,
		config:      config,
		log:         log,
		stopCleanup: make(chan struct{}),
	}
	if config.CleanupInterval > 0 {
		g.startAutoCleanup()
	}
	return g
}

// MarkUsed records id until expiresAt and reports whether this is its first use.
func (g *Guard) MarkUsed(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return false, ErrStoreClosed
	}
	return g.store.MarkOnce(ctx, id, expiresAt)
}

// Seen reports whether id is currently recorded.
func (g *Guard) Seen(ctx context.Context, id string) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return false, ErrStoreClosed
	}
	return g.store.Contains(ctx, id)
}

// Size returns the number of recorded identifiers.
func (g *Guard) Size(ctx context.Context) (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return 0, ErrStoreClosed
	}
	return g.store.Size(ctx)
}

// Close stops the cleanup loop and closes the store.
func (g *Guard) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true

	if g.cleanupTicker != nil {
		g.cleanupTicker.Stop()
		close(g.stopCleanup)
		g.cleanupWg.Wait()
	}
	return g.store.Close()
}

func (g *Guard) startAutoCleanup() {
	g.cleanupTicker = time.NewTicker(g.config.CleanupInterval)
	g.cleanupWg.Add(1)

	go func() {
		defer g.cleanupWg.Done()

		for {
			select {
			case <-g.cleanupTicker.C:
				g.performCleanup()
			case <-g.stopCleanup:
				return
			}
		}
	}()
}

func (g *Guard) performCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), g.config.CleanupInterval)
	defer cancel()

	n, err := g.store.Cleanup(ctx)
	if err != nil {
		g.log.WithError(err).Warn("replay cleanup failed")
		return
	}
	if n > 0 {
		g.log.WithField("removed", n).Debug("replay cleanup")
	}
}
