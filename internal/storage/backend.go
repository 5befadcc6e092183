package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ety001/op-history-bridge/internal/models"
	"github.com/ety001/op-history-bridge/internal/protocol"
)

// ErrNotFound is returned when no document carries the requested operation
var ErrNotFound = errors.New("operation not found")

// Backend is a document store the history is indexed into
type Backend interface {
	// Bulk indexes docs, overwriting documents with the same id. The
	// returned items follow the order of docs. A non-nil error means the
	// batch did not reach the store.
	Bulk(ctx context.Context, docs []models.DocumentSource) ([]BulkItem, error)
	// SearchHistory returns the matching documents, highest operation id first
	SearchHistory(ctx context.Context, query HistoryQuery) ([]Hit, error)
	// GetOperation returns any one document carrying operation instance id
	GetOperation(ctx context.Context, id uint64) (Hit, error)
	Checkpoint(ctx context.Context) (*models.SyncState, error)
	SaveCheckpoint(ctx context.Context, state models.SyncState) error
	Close() error
}

// BulkItem is the outcome of indexing one document
type BulkItem struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// HistoryQuery selects a page of one account's history
type HistoryQuery struct {
	Account protocol.ObjectID
	Before  uint64 // exclusive upper bound on the operation instance, 0 for none
	From    uint64 // inclusive lower bound on the operation instance, 0 for none
	Limit   int
}

// Matches reports whether a document for account and operation instance
// id belongs to the query
func (q HistoryQuery) Matches(account protocol.ObjectID, id uint64) bool {
	if account != q.Account {
		return false
	}
	if q.Before != 0 && id >= q.Before {
		return false
	}
	return q.From == 0 || id >= q.From
}

// Hit is a stored document, undecoded
type Hit struct {
	ID     string
	Source json.RawMessage
}

// Decode reconstructs the history entry held by the hit
func (h Hit) Decode() (models.OperationHistory, error) {
	var source models.DocumentSource
	if err := json.Unmarshal(h.Source, &source); err != nil {
		return models.OperationHistory{}, &protocol.FormatError{Field: "_source", Reason: "malformed document", Err: err}
	}
	return source.Decode()
}

// TransportError reports a failure to reach the store or a rejected request
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func failedItems(docs []models.DocumentSource, reason string) []BulkItem {
	items := make([]BulkItem, len(docs))
	for i, doc := range docs {
		items[i] = BulkItem{ID: doc.ID(), Error: reason}
	}
	return items
}
