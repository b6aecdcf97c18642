// Package activity records tenant-attributed events off the request path.
//
// Entries are buffered in memory and flushed in batches to one or more sinks.
// Recording never blocks and never fails the caller: a full buffer drops the
// entry and a failing sink is logged and skipped.
package activity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prohmpiriya/restaurant-ops/pkg/logger"
)

// Kind identifies what happened
type Kind string

const (
	KindQuery            Kind = "query"
	KindTenantCreated    Kind = "tenant_created"
	KindConnectionOpened Kind = "connection_opened"
	KindConnectionClosed Kind = "connection_closed"
	KindAPIRequest       Kind = "api_request"
)

// Entry is one recorded event
type Entry struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	Kind      Kind           `json:"kind"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Sink persists a batch of entries
type Sink interface {
	Write(ctx context.Context, entries []Entry) error
}

// Config holds buffering settings
type Config struct {
	// BufferSize is the capacity of the in-memory queue (default: 1000)
	BufferSize int
	// BatchSize is the maximum number of entries per sink write (default: 100)
	BatchSize int
	// FlushInterval is how often a partial batch is written (default: 5 seconds)
	FlushInterval time.Duration
	// WriteTimeout bounds each sink write (default: 10 seconds)
	WriteTimeout time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:    1000,
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
		WriteTimeout:  10 * time.Second,
	}
}

// Logger handles async activity logging
type Logger struct {
	config Config
	sink   Sink
	log    *logger.Logger
	buffer chan Entry
	wg     sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewLogger creates a logger and starts its background worker
func NewLogger(sink Sink, cfg Config, log *logger.Logger) *Logger {
	defaults := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaults.BufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}

	l := &Logger{
		config: cfg,
		sink:   sink,
		log:    log.Named("activity"),
		buffer: make(chan Entry, cfg.BufferSize),
	}

	l.wg.Add(1)
	go l.worker()

	return l
}

// Log queues an entry (non-blocking). Entries logged after Close are discarded.
func (l *Logger) Log(tenantID string, kind Kind, metadata map[string]any) {
	entry := Entry{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Kind:      kind,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}

	select {
	case l.buffer <- entry:
	default:
		l.dropped.Add(1)
	}
}

// Dropped returns how many entries were discarded because the buffer was full
func (l *Logger) Dropped() int64 {
	return l.dropped.Load()
}

// Close flushes queued entries and stops the worker
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.buffer)
	l.mu.Unlock()

	l.wg.Wait()
	return nil
}

func (l *Logger) worker() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, l.config.BatchSize)

	for {
		select {
		case entry, ok := <-l.buffer:
			if !ok {
				l.flush(batch)
				return
			}
			batch = append(batch, entry)
			if len(batch) >= l.config.BatchSize {
				l.flush(batch)
				batch = make([]Entry, 0, l.config.BatchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = make([]Entry, 0, l.config.BatchSize)
			}
		}
	}
}

func (l *Logger) flush(entries []Entry) {
	if len(entries) == 0 || l.sink == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.config.WriteTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			l.log.Error("activity sink panicked", zap.Any("panic", r), zap.Int("entries", len(entries)))
		}
	}()

	if err := l.sink.Write(ctx, entries); err != nil {
		l.log.Warn("failed to write activity entries", zap.Error(err), zap.Int("entries", len(entries)))
	}
}
