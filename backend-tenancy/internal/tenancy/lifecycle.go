package tenancy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/restaurant-ops/pkg/logger"
)

// Lifecycle evicts idle handles on a timer and tears everything down on shutdown
type Lifecycle struct {
	router   *Router
	interval time.Duration
	maxIdle  time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// NewLifecycle creates a lifecycle manager. It does not start sweeping until Start.
func NewLifecycle(router *Router, interval, maxIdle time.Duration, log *logger.Logger) *Lifecycle {
	if log == nil {
		log = logger.NewNop()
	}
	return &Lifecycle{
		router:   router,
		interval: interval,
		maxIdle:  maxIdle,
		log:      log.Named("lifecycle"),
	}
}

// Sweep releases every handle idle for longer than maxIdle and returns how many
// were released. A handle that fails to close is still removed from the cache.
func (l *Lifecycle) Sweep(ctx context.Context, maxIdle time.Duration) int {
	evicted := 0
	for _, key := range l.router.keys() {
		removed, err := l.router.evictIf(ctx, key, func(h *ConnectionHandle) bool {
			return h.idleFor(l.router.now()) > maxIdle
		})
		if err != nil {
			l.log.Warn("error closing idle connection handle", zap.String("key", key), zap.Error(err))
		}
		if removed {
			evicted++
		}
	}
	if evicted > 0 {
		l.log.Info("idle connection handles released", zap.Int("count", evicted))
	}
	return evicted
}

// Start runs Sweep every interval until ctx is cancelled or ShutdownAll is called
func (l *Lifecycle) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil || l.stopped || l.interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Sweep(ctx, l.maxIdle)
			}
		}
	}(l.done)

	l.log.Info("idle sweep started", zap.Duration("interval", l.interval), zap.Duration("max_idle", l.maxIdle))
}

func (l *Lifecycle) stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.stopped = true
	l.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// ShutdownAll stops the sweeper, releases every handle and closes the shared
// pool. Close errors are collected; every handle is attempted. Safe to call twice.
func (l *Lifecycle) ShutdownAll(ctx context.Context) error {
	l.stop()

	if err := l.router.close(ctx); err != nil {
		l.log.Warn("errors while closing connections", zap.Error(err))
		return fmt.Errorf("shutdown connections: %w", err)
	}
	l.log.Info("all tenant connections closed")
	return nil
}
