package storage

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/ety001/op-history-bridge/internal/models"
	"github.com/ety001/op-history-bridge/internal/protocol"
)

type memoryEntry struct {
	id      string
	account protocol.ObjectID
	opID    uint64
	source  json.RawMessage
}

// Memory is an in-process backend for development and tests
type Memory struct {
	mu         sync.RWMutex
	docs       map[string]memoryEntry
	checkpoint *models.SyncState
	bulkCalls  int
	bulkSizes  []int
	failBulk   error
	rejects    map[string]string // document id -> reason
}

// NewMemory creates an empty in-process backend
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]memoryEntry), rejects: make(map[string]string)}
}

// Bulk implements Backend
func (m *Memory) Bulk(ctx context.Context, docs []models.DocumentSource) ([]BulkItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bulkCalls++
	m.bulkSizes = append(m.bulkSizes, len(docs))
	if m.failBulk != nil {
		return failedItems(docs, m.failBulk.Error()), &TransportError{Op: "bulk", Err: m.failBulk}
	}
	if err := ctx.Err(); err != nil {
		return failedItems(docs, err.Error()), &TransportError{Op: "bulk", Err: err}
	}

	items := make([]BulkItem, len(docs))
	for i, doc := range docs {
		if reason, ok := m.rejects[doc.ID()]; ok {
			items[i] = BulkItem{ID: doc.ID(), Error: reason}
			continue
		}
		data, err := json.Marshal(doc)
		if err != nil {
			items[i] = BulkItem{ID: doc.ID(), Error: err.Error()}
			continue
		}
		m.docs[doc.ID()] = memoryEntry{
			id:      doc.ID(),
			account: doc.AccountHistory.Account,
			opID:    doc.OperationIDNum,
			source:  data,
		}
		items[i] = BulkItem{ID: doc.ID(), OK: true}
	}
	return items, nil
}

// Put stores a raw document body as is
func (m *Memory) Put(account protocol.ObjectID, opID uint64, source []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := models.DocumentID(account, protocol.OperationHistoryID(opID))
	m.docs[id] = memoryEntry{id: id, account: account, opID: opID, source: source}
}

// FailBulk makes every following Bulk call fail with err, nil restores it
func (m *Memory) FailBulk(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failBulk = err
}

// Reject makes Bulk refuse the document with the given id
func (m *Memory) Reject(id, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejects[id] = reason
}

// Len returns the number of stored documents
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// BulkCalls returns the number of Bulk requests received
func (m *Memory) BulkCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bulkCalls
}

// BulkSizes returns the number of documents in each Bulk request
func (m *Memory) BulkSizes() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int(nil), m.bulkSizes...)
}

// SearchHistory implements Backend
func (m *Memory) SearchHistory(ctx context.Context, query HistoryQuery) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Op: "search", Err: err}
	}

	m.mu.RLock()
	var matched []memoryEntry
	for _, entry := range m.docs {
		if query.Matches(entry.account, entry.opID) {
			matched = append(matched, entry)
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].opID > matched[j].opID })
	if query.Limit > 0 && len(matched) > query.Limit {
		matched = matched[:query.Limit]
	}

	hits := make([]Hit, len(matched))
	for i, entry := range matched {
		hits[i] = Hit{ID: entry.id, Source: entry.source}
	}
	return hits, nil
}

// GetOperation implements Backend
func (m *Memory) GetOperation(ctx context.Context, id uint64) (Hit, error) {
	if err := ctx.Err(); err != nil {
		return Hit{}, &TransportError{Op: "get operation", Err: err}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	// lowest document id first so repeated lookups agree
	var found string
	for docID, entry := range m.docs {
		if entry.opID == id && (found == "" || docID < found) {
			found = docID
		}
	}
	if found == "" {
		return Hit{}, ErrNotFound
	}
	return Hit{ID: found, Source: m.docs[found].source}, nil
}

// Checkpoint implements Backend
func (m *Memory) Checkpoint(ctx context.Context) (*models.SyncState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.checkpoint == nil {
		return &models.SyncState{}, nil
	}
	state := *m.checkpoint
	return &state, nil
}

// SaveCheckpoint implements Backend
func (m *Memory) SaveCheckpoint(ctx context.Context, state models.SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoint = &state
	return nil
}

// Close implements Backend
func (m *Memory) Close() error {
	return nil
}
