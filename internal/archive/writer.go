package archive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hubenschmidt/telecaller/internal/metrics"
)

const writeTimeout = 10 * time.Second

// Writer saves records on a background goroutine so callers never wait on
// storage. All methods are nil-safe.
type Writer struct {
	store Store
	ch    chan Record
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewWriter starts a writer over store. Call Close to flush.
func NewWriter(store Store, buffer int) *Writer {
	if buffer <= 0 {
		buffer = 64
	}
	w := &Writer{
		store: store,
		ch:    make(chan Record, buffer),
		done:  make(chan struct{}),
	}
	go w.drain()
	return w
}

func (w *Writer) drain() {
	defer close(w.done)
	for rec := range w.ch {
		w.write(rec)
	}
}

func (w *Writer) write(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := w.store.Save(ctx, rec); err != nil {
		metrics.ArchiveWrites.WithLabelValues("error").Inc()
		slog.Warn("archive write failed", "call_id", rec.CallID, "error", err)
		return
	}
	metrics.ArchiveWrites.WithLabelValues("ok").Inc()
	slog.Info("call archived", "call_id", rec.CallID, "archive_id", rec.ID, "messages", len(rec.History))
}

// Submit queues rec. When the buffer is full or the writer is closed the
// record is dropped and logged.
func (w *Writer) Submit(rec Record) {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		metrics.ArchiveWrites.WithLabelValues("dropped").Inc()
		slog.Warn("archive closed, record dropped", "call_id", rec.CallID)
		return
	}
	select {
	case w.ch <- rec:
	default:
		metrics.ArchiveWrites.WithLabelValues("dropped").Inc()
		slog.Warn("archive queue full, record dropped", "call_id", rec.CallID)
	}
}

// Load reads an archived record straight from the store.
func (w *Writer) Load(ctx context.Context, callID string) (Record, error) {
	if w == nil {
		return Record{}, ErrNotFound
	}
	return w.store.Load(ctx, callID)
}

// Close flushes pending records, stops the goroutine and closes the store.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.ch)
	w.mu.Unlock()
	<-w.done
	return w.store.Close()
}
