// Package runlog implements the buffered run-log writer (spec §4.3): an
// append-only sink for (runId, stepId, level, message, data) tuples that
// batches writes by size or time, sheds load under a hard buffer cap, caps
// per-entry payload size, and trips a circuit breaker after repeated flush
// failures so a failing store never turns into an unbounded retry loop.
// Grounded on the teacher's lifecycle-managed service shape
// (internal/app/services/automation/scheduler.go's ticker + mutex + cancel
// + WaitGroup) for Start/Stop, and on
// infrastructure/resilience/circuit_breaker.go's failure-counting idea,
// simplified: the run logger only needs trip-and-drop, not half-open probing,
// since dropped log batches are not worth retrying once the circuit opens.
package runlog

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/reflux-run/reflux/internal/domain/run"
	"github.com/reflux-run/reflux/internal/storage"
	"github.com/reflux-run/reflux/pkg/logger"
)

const (
	// DefaultMaxBatchSize flushes once the buffer reaches this many entries.
	DefaultMaxBatchSize = 100
	// DefaultFlushInterval flushes on this cadence regardless of size.
	DefaultFlushInterval = 1 * time.Second
	// DefaultHardCap is the maximum buffered entries before new entries are
	// dropped rather than accepted (backpressure).
	DefaultHardCap = 10_000
	// DefaultMaxEntryBytes caps a single entry's marshaled Data payload;
	// larger payloads are replaced with a truncation marker.
	DefaultMaxEntryBytes = 100 * 1024
	// DefaultBreakerThreshold is the number of consecutive flush failures
	// that trips the circuit breaker.
	DefaultBreakerThreshold = 3
)

// Config tunes the writer's batching, backpressure, and breaker behavior.
type Config struct {
	MaxBatchSize     int
	FlushInterval    time.Duration
	HardCap          int
	MaxEntryBytes    int
	BreakerThreshold int
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:     DefaultMaxBatchSize,
		FlushInterval:    DefaultFlushInterval,
		HardCap:          DefaultHardCap,
		MaxEntryBytes:    DefaultMaxEntryBytes,
		BreakerThreshold: DefaultBreakerThreshold,
	}
}

// Writer buffers run log entries and flushes them to a RunLogStore.
type Writer struct {
	store storage.RunLogStore
	log   *logger.Logger
	cfg   Config

	mu      sync.Mutex
	buf     []run.Log
	dropped int64

	consecutiveFailures int
	circuitOpen         bool

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New constructs a Writer. cfg's zero value is replaced field-by-field with
// DefaultConfig's values.
func New(store storage.RunLogStore, cfg Config, log *logger.Logger) *Writer {
	if log == nil {
		log = logger.NewDefault("runlog")
	}
	d := DefaultConfig()
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = d.MaxBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = d.FlushInterval
	}
	if cfg.HardCap <= 0 {
		cfg.HardCap = d.HardCap
	}
	if cfg.MaxEntryBytes <= 0 {
		cfg.MaxEntryBytes = d.MaxEntryBytes
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = d.BreakerThreshold
	}
	return &Writer{store: store, log: log, cfg: cfg}
}

func (w *Writer) Name() string { return "runlog-writer" }

// Start begins the periodic flush loop.
func (w *Writer) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				w.Flush(runCtx)
			}
		}
	}()

	w.log.Info("run log writer started")
	return nil
}

// Stop flushes any buffered entries and halts the flush loop.
func (w *Writer) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.Flush(ctx)
	w.log.Info("run log writer stopped")
	return nil
}

// Append buffers entry for the next flush. If the circuit breaker is open
// or the hard cap is reached, the entry is dropped and a counter is
// incremented; Append itself never blocks or returns an error, matching
// spec §4.3's "never fail the workflow over log I/O" contract.
func (w *Writer) Append(entry run.Log) {
	entry.Data = truncatePayload(entry.Data, w.cfg.MaxEntryBytes)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.circuitOpen || len(w.buf) >= w.cfg.HardCap {
		w.dropped++
		return
	}
	w.buf = append(w.buf, entry)

	if len(w.buf) >= w.cfg.MaxBatchSize {
		batch := w.buf
		w.buf = nil
		go w.flushBatch(context.Background(), batch)
	}
}

// Flush drains and writes the current buffer synchronously.
func (w *Writer) Flush(ctx context.Context) {
	w.mu.Lock()
	if len(w.buf) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.buf
	w.buf = nil
	w.mu.Unlock()

	w.flushBatch(ctx, batch)
}

// Dropped reports how many entries have been discarded since creation,
// either by the hard cap or by an open circuit.
func (w *Writer) Dropped() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

func (w *Writer) flushBatch(ctx context.Context, batch []run.Log) {
	if err := w.store.AppendBatch(ctx, batch); err != nil {
		w.mu.Lock()
		w.consecutiveFailures++
		tripped := w.consecutiveFailures >= w.cfg.BreakerThreshold
		if tripped {
			w.circuitOpen = true
		}
		w.mu.Unlock()

		w.log.WithError(err).WithField("batch_size", len(batch)).Warn("run log flush failed")
		if tripped {
			w.log.Warn("run log writer circuit breaker tripped; dropping further entries")
		}
		return
	}

	w.mu.Lock()
	w.consecutiveFailures = 0
	w.circuitOpen = false
	w.mu.Unlock()
}

func truncatePayload(data map[string]any, maxBytes int) map[string]any {
	if data == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil || len(raw) <= maxBytes {
		return data
	}
	return map[string]any{
		"_truncated":    true,
		"original_size": len(raw),
	}
}
