// Package indexer batches index documents and submits them to the search
// engine.
package indexer

import (
	"context"
	"sync"
	"time"

	"github.com/ety001/op-history-bridge/internal/metrics"
	"github.com/ety001/op-history-bridge/internal/models"
	"github.com/ety001/op-history-bridge/internal/storage"
	"github.com/sirupsen/logrus"
)

// Writer buffers documents and sends them in bulk. Documents are sent in
// the order they were added; at most one batch is in flight at a time.
type Writer struct {
	backend storage.Backend
	mode    models.Mode
	log     *logrus.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	buffer    []models.IndexDocument
	threshold int
	pending   BulkResult
	pendErr   error

	// holds a token while a batch is in flight
	inflight chan struct{}
}

// NewWriter creates a writer flushing every threshold documents
func NewWriter(backend storage.Backend, mode models.Mode, threshold int, log *logrus.Logger, m *metrics.Metrics) *Writer {
	if threshold <= 0 {
		threshold = 1
	}
	return &Writer{
		backend:   backend,
		mode:      mode,
		log:       log,
		metrics:   m,
		threshold: threshold,
		inflight:  make(chan struct{}, 1),
	}
}

// SetThreshold changes the number of buffered documents that triggers a flush
func (w *Writer) SetThreshold(threshold int) {
	if threshold <= 0 {
		threshold = 1
	}
	w.mu.Lock()
	w.threshold = threshold
	w.mu.Unlock()
}

// Threshold returns the active flush threshold
func (w *Writer) Threshold() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.threshold
}

// Buffered returns the number of documents not yet handed to the backend
func (w *Writer) Buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}

// Add buffers docs. Every full threshold of buffered documents is
// dispatched as its own batch in the background; Add waits only while the
// previous batch is still in flight. Background batches are detached from
// ctx cancellation so a batch handed off is always sent and reported by
// the next Flush.
func (w *Writer) Add(ctx context.Context, docs ...models.IndexDocument) error {
	if err := w.mode.RequireWrite(); err != nil {
		return err
	}

	w.mu.Lock()
	w.buffer = append(w.buffer, docs...)
	w.mu.Unlock()

	for {
		w.mu.Lock()
		if len(w.buffer) < w.threshold {
			buffered := len(w.buffer)
			w.mu.Unlock()
			w.metrics.SetBuffered(buffered)
			return nil
		}
		batch := w.buffer[:w.threshold:w.threshold]
		w.buffer = w.buffer[w.threshold:]
		w.mu.Unlock()

		if err := w.dispatch(ctx, batch); err != nil {
			return err
		}
	}
}

// dispatch sends batch in the background once the previous batch is done
func (w *Writer) dispatch(ctx context.Context, batch []models.IndexDocument) error {
	select {
	case w.inflight <- struct{}{}:
	case <-ctx.Done():
		// keep the batch ahead of anything added later
		w.mu.Lock()
		w.buffer = append(batch, w.buffer...)
		w.mu.Unlock()
		return ctx.Err()
	}

	sendCtx := context.WithoutCancel(ctx)
	go func() {
		defer func() { <-w.inflight }()
		result, err := w.send(sendCtx, batch)
		w.mu.Lock()
		w.pending.Merge(result)
		if err != nil && w.pendErr == nil {
			w.pendErr = err
		}
		w.mu.Unlock()
	}()
	return nil
}

// Flush sends whatever is buffered in batches of at most the threshold,
// waits for the batch in flight and returns the merged outcome of every
// batch since the previous Flush.
func (w *Writer) Flush(ctx context.Context) (BulkResult, error) {
	if err := w.mode.RequireWrite(); err != nil {
		return BulkResult{}, err
	}

	select {
	case w.inflight <- struct{}{}:
	case <-ctx.Done():
		return BulkResult{}, ctx.Err()
	}
	defer func() { <-w.inflight }()

	w.mu.Lock()
	batch := w.buffer
	w.buffer = nil
	threshold := w.threshold
	result, err := w.pending, w.pendErr
	w.pending, w.pendErr = BulkResult{}, nil
	w.mu.Unlock()
	w.metrics.SetBuffered(0)

	// every document gets an itemised outcome, so later batches are sent
	// even after a failed one
	for len(batch) > 0 {
		n := min(threshold, len(batch))
		sent, sendErr := w.send(ctx, batch[:n])
		result.Merge(sent)
		if err == nil {
			err = sendErr
		}
		batch = batch[n:]
	}
	return result, err
}

// Submit adds docs and flushes
func (w *Writer) Submit(ctx context.Context, docs []models.IndexDocument) (BulkResult, error) {
	if err := w.Add(ctx, docs...); err != nil {
		return BulkResult{}, err
	}
	return w.Flush(ctx)
}

func (w *Writer) send(ctx context.Context, batch []models.IndexDocument) (BulkResult, error) {
	sources := make([]models.DocumentSource, len(batch))
	for i, doc := range batch {
		sources[i] = doc.Source()
	}

	start := time.Now()
	items, err := w.backend.Bulk(ctx, sources)
	duration := time.Since(start)
	result := BulkResult{Items: items}

	failed := 0
	for i, item := range items {
		if item.OK {
			w.metrics.RecordIndexed(batch[i].Kind().String())
			continue
		}
		failed++
		if err == nil {
			w.log.WithFields(logrus.Fields{
				"document": item.ID,
				"reason":   item.Error,
			}).Warn("Document rejected")
		}
	}
	w.metrics.RecordFailed(failed)

	switch {
	case err != nil:
		w.metrics.RecordBulk("error", duration)
		w.log.Errorf("Bulk request of %d documents failed: %v", len(batch), err)
	case failed > 0:
		w.metrics.RecordBulk("partial", duration)
		w.log.Warnf("Bulk request: %d of %d documents rejected", failed, len(batch))
	default:
		w.metrics.RecordBulk("success", duration)
		w.log.Debugf("Indexed %d documents in %s", len(batch), duration)
	}
	return result, err
}
