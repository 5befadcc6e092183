// Package history answers account history queries from the search engine.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ety001/op-history-bridge/internal/metrics"
	"github.com/ety001/op-history-bridge/internal/models"
	"github.com/ety001/op-history-bridge/internal/protocol"
	"github.com/ety001/op-history-bridge/internal/storage"
	"github.com/sirupsen/logrus"
)

// MaxHistoryLimit is the largest page a history query returns
const MaxHistoryLimit = 100

// ErrNotFound is returned when no document carries the requested operation
var ErrNotFound = storage.ErrNotFound

// Warning describes a stored document skipped because it could not be
// decoded
type Warning struct {
	DocumentID string
	Err        error
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %v", w.DocumentID, w.Err)
}

// Result is one page of account history, newest first
type Result struct {
	Records  []models.OperationHistory
	Warnings []Warning
	// NextStart continues the listing when the page is full, zero otherwise
	NextStart protocol.ObjectID
}

// Engine runs history queries
type Engine struct {
	backend storage.Backend
	mode    models.Mode
	log     *logrus.Logger
	metrics *metrics.Metrics
}

// NewEngine creates a query engine
func NewEngine(backend storage.Backend, mode models.Mode, log *logrus.Logger, m *metrics.Metrics) *Engine {
	return &Engine{backend: backend, mode: mode, log: log, metrics: m}
}

// GetAccountHistory returns up to limit operations of account with
// stop <= id < start. A zero start or stop leaves that side unbounded.
func (e *Engine) GetAccountHistory(ctx context.Context, account protocol.ObjectID, stop protocol.ObjectID, limit int, start protocol.ObjectID) (Result, error) {
	if err := e.mode.RequireRead(); err != nil {
		return Result{}, err
	}
	if !account.Is(protocol.AccountObjectType) {
		return Result{}, &protocol.FormatError{Field: "account", Reason: account.String() + " is not an account id"}
	}
	if !start.IsZero() && !start.Is(protocol.OperationHistoryObjectType) {
		return Result{}, &protocol.FormatError{Field: "start", Reason: start.String() + " is not an operation history id"}
	}
	if !stop.IsZero() && !stop.Is(protocol.OperationHistoryObjectType) {
		return Result{}, &protocol.FormatError{Field: "stop", Reason: stop.String() + " is not an operation history id"}
	}

	if limit <= 0 {
		return Result{}, nil
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if start.Instance != 0 && start.Instance <= stop.Instance {
		return Result{}, nil
	}

	began := time.Now()
	hits, err := e.backend.SearchHistory(ctx, storage.HistoryQuery{
		Account: account,
		Before:  start.Instance,
		From:    stop.Instance,
		Limit:   limit,
	})
	if err != nil {
		e.metrics.RecordQuery("account_history", "error", time.Since(began), 0)
		return Result{}, fmt.Errorf("failed to search history of %s: %w", account, err)
	}

	result := Result{Records: make([]models.OperationHistory, 0, len(hits))}
	for _, hit := range hits {
		record, err := hit.Decode()
		if err != nil {
			e.log.WithFields(logrus.Fields{
				"document": hit.ID,
				"error":    err,
			}).Warn("Skipping undecodable document")
			result.Warnings = append(result.Warnings, Warning{DocumentID: hit.ID, Err: err})
			continue
		}
		result.Records = append(result.Records, record)
	}
	if len(hits) == limit {
		result.NextStart = operationOf(hits[len(hits)-1])
	}

	e.metrics.RecordQuery("account_history", "ok", time.Since(began), len(result.Warnings))
	return result, nil
}

// GetOperationByID returns the operation with the given history id
func (e *Engine) GetOperationByID(ctx context.Context, id protocol.ObjectID) (models.OperationHistory, error) {
	if err := e.mode.RequireRead(); err != nil {
		return models.OperationHistory{}, err
	}
	if !id.Is(protocol.OperationHistoryObjectType) {
		return models.OperationHistory{}, &protocol.FormatError{Field: "id", Reason: id.String() + " is not an operation history id"}
	}

	began := time.Now()
	hit, err := e.backend.GetOperation(ctx, id.Instance)
	if errors.Is(err, storage.ErrNotFound) {
		e.metrics.RecordQuery("operation", "not_found", time.Since(began), 0)
		return models.OperationHistory{}, ErrNotFound
	}
	if err != nil {
		e.metrics.RecordQuery("operation", "error", time.Since(began), 0)
		return models.OperationHistory{}, fmt.Errorf("failed to get operation %s: %w", id, err)
	}

	record, err := hit.Decode()
	if err != nil {
		e.metrics.RecordQuery("operation", "error", time.Since(began), 1)
		return models.OperationHistory{}, fmt.Errorf("failed to decode document %s: %w", hit.ID, err)
	}
	e.metrics.RecordQuery("operation", "ok", time.Since(began), 0)
	return record, nil
}

// operationOf reads the operation id out of a document id, so a page can
// be continued even when its last document did not decode
func operationOf(hit storage.Hit) protocol.ObjectID {
	i := strings.LastIndex(hit.ID, "_")
	if i < 0 {
		return protocol.ObjectID{}
	}
	id, err := protocol.ParseObjectID(hit.ID[i+1:])
	if err != nil {
		return protocol.ObjectID{}
	}
	return id
}
