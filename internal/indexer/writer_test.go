package indexer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ety001/op-history-bridge/internal/document"
	"github.com/ety001/op-history-bridge/internal/logging"
	"github.com/ety001/op-history-bridge/internal/metrics"
	"github.com/ety001/op-history-bridge/internal/models"
	"github.com/ety001/op-history-bridge/internal/protocol"
	"github.com/ety001/op-history-bridge/internal/storage"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transferDocs(from, to uint64) []models.IndexDocument {
	var docs []models.IndexDocument
	for id := from; id < to; id++ {
		record := models.OperationRecord{
			ID:       protocol.OperationHistoryID(id),
			BlockNum: uint32(id),
			Op: &protocol.TransferOperation{
				Fee:    protocol.Asset{Amount: 20, AssetID: protocol.AssetID(0)},
				From:   protocol.AccountID(17),
				To:     protocol.AccountID(18),
				Amount: protocol.Asset{Amount: 150000, AssetID: protocol.AssetID(0)},
			},
		}
		block := models.BlockMetadata{BlockNum: uint32(id), BlockTime: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
		link := models.AccountHistoryLink{Account: protocol.AccountID(17), OperationID: record.ID}
		docs = append(docs, document.Build(link, record, block, models.NoSideData{}))
	}
	return docs
}

func TestWriterThresholdFlush(t *testing.T) {
	backend := storage.NewMemory()
	m := metrics.New()
	w := NewWriter(backend, models.ModeAll, 3, logging.Discard(), m)
	ctx := context.Background()

	for _, doc := range transferDocs(1, 8) {
		require.NoError(t, w.Add(ctx, doc))
	}

	result, err := w.Flush(ctx)
	require.NoError(t, err)
	assert.Len(t, result.Items, 7)
	assert.True(t, result.OK())
	assert.Equal(t, 7, result.Succeeded())
	assert.Equal(t, 7, backend.Len())
	assert.Equal(t, 3, backend.BulkCalls())
	assert.Equal(t, 0, w.Buffered())

	// commit order is preserved across batches
	for i, item := range result.Items {
		assert.Equal(t, models.DocumentID(protocol.AccountID(17), protocol.OperationHistoryID(uint64(i+1))), item.ID)
	}
	assert.Equal(t, 7.0, testutil.ToFloat64(m.DocumentsIndexed.WithLabelValues("transfer")))
}

func TestWriterBelowThreshold(t *testing.T) {
	backend := storage.NewMemory()
	w := NewWriter(backend, models.ModeOnlySave, 10, logging.Discard(), nil)
	ctx := context.Background()

	require.NoError(t, w.Add(ctx, transferDocs(1, 4)...))
	assert.Equal(t, 3, w.Buffered())
	assert.Equal(t, 0, backend.BulkCalls())

	result, err := w.Flush(ctx)
	require.NoError(t, err)
	assert.Len(t, result.Items, 3)

	// nothing left to send
	result, err = w.Flush(ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Items)
	assert.Equal(t, 1, backend.BulkCalls())
}

func TestWriterIdempotentResubmission(t *testing.T) {
	backend := storage.NewMemory()
	w := NewWriter(backend, models.ModeAll, 100, logging.Discard(), nil)
	ctx := context.Background()

	docs := transferDocs(1, 6)
	_, err := w.Submit(ctx, docs)
	require.NoError(t, err)
	_, err = w.Submit(ctx, docs)
	require.NoError(t, err)
	assert.Equal(t, 5, backend.Len())
}

func TestWriterTransportFailure(t *testing.T) {
	backend := storage.NewMemory()
	backend.FailBulk(errors.New("connection refused"))
	w := NewWriter(backend, models.ModeAll, 2, logging.Discard(), nil)
	ctx := context.Background()

	require.NoError(t, w.Add(ctx, transferDocs(1, 4)...))
	result, err := w.Flush(ctx)

	var transportErr *storage.TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Len(t, result.Items, 3)
	assert.Len(t, result.Failed(), 3)
	assert.False(t, result.OK())

	// the failure is reported once
	backend.FailBulk(nil)
	_, err = w.Flush(ctx)
	assert.NoError(t, err)
}

func TestWriterModeGate(t *testing.T) {
	backend := storage.NewMemory()
	w := NewWriter(backend, models.ModeOnlyQuery, 1, logging.Discard(), nil)
	ctx := context.Background()

	var modeErr *models.ModeError
	assert.True(t, errors.As(w.Add(ctx, transferDocs(1, 2)...), &modeErr))

	_, err := w.Flush(ctx)
	assert.True(t, errors.As(err, &modeErr))

	_, err = w.Submit(ctx, transferDocs(1, 2))
	assert.True(t, errors.As(err, &modeErr))
	assert.Equal(t, 0, backend.BulkCalls())
}

func TestWriterSetThreshold(t *testing.T) {
	w := NewWriter(storage.NewMemory(), models.ModeAll, 0, logging.Discard(), nil)
	assert.Equal(t, 1, w.Threshold())
	w.SetThreshold(100)
	assert.Equal(t, 100, w.Threshold())
}

func TestWriterBatchesAreBounded(t *testing.T) {
	backend := storage.NewMemory()
	w := NewWriter(backend, models.ModeAll, 3, logging.Discard(), nil)
	ctx := context.Background()

	result, err := w.Submit(ctx, transferDocs(1, 11))
	require.NoError(t, err)
	assert.Len(t, result.Items, 10)
	assert.Equal(t, []int{3, 3, 3, 1}, backend.BulkSizes())

	// a lowered threshold applies to what is already buffered
	w.SetThreshold(100)
	require.NoError(t, w.Add(ctx, transferDocs(20, 27)...))
	w.SetThreshold(2)
	result, err = w.Flush(ctx)
	require.NoError(t, err)
	assert.Len(t, result.Items, 7)
	for _, size := range backend.BulkSizes() {
		assert.LessOrEqual(t, size, 3)
	}
	assert.Equal(t, []int{3, 3, 3, 1, 2, 2, 2, 1}, backend.BulkSizes())
}

func TestWriterPartialFailure(t *testing.T) {
	backend := storage.NewMemory()
	docs := transferDocs(1, 6)
	backend.Reject(docs[1].ID(), "mapper_parsing_exception")
	backend.Reject(docs[3].ID(), "version_conflict")
	w := NewWriter(backend, models.ModeAll, 2, logging.Discard(), nil)
	ctx := context.Background()

	require.NoError(t, w.Add(ctx, docs...))
	result, err := w.Flush(ctx)
	require.NoError(t, err)

	assert.Len(t, result.Items, 5)
	assert.Equal(t, 3, result.Succeeded())
	assert.False(t, result.OK())
	failed := result.Failed()
	require.Len(t, failed, 2)
	assert.Equal(t, docs[1].ID(), failed[0].ID)
	assert.Equal(t, "mapper_parsing_exception", failed[0].Error)
	assert.Equal(t, docs[3].ID(), failed[1].ID)
	assert.Equal(t, 3, backend.Len())
}

func TestWriterBackgroundBatchOutlivesAddContext(t *testing.T) {
	backend := storage.NewMemory()
	w := NewWriter(backend, models.ModeAll, 2, logging.Discard(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Add(ctx, transferDocs(1, 3)...))
	cancel()

	result, err := w.Flush(context.Background())
	require.NoError(t, err)
	assert.True(t, result.OK())
	assert.Equal(t, 2, backend.Len())
}
