package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/ety001/op-history-bridge/internal/models"
)

const (
	checkpointDocumentID = "checkpoint"
	indexMonthLayout     = "2006-01"
)

// Elasticsearch stores documents in monthly indices named <prefix>YYYY-MM
type Elasticsearch struct {
	client *elasticsearch.Client
	prefix string
}

// NewElasticsearch creates a search engine client and checks the cluster is
// reachable
func NewElasticsearch(config models.ElasticsearchConfig) (*Elasticsearch, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:  config.Addresses,
		Username:   config.Username,
		Password:   config.Password,
		MaxRetries: config.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := client.Info(client.Info.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to reach elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("failed to reach elasticsearch: %s", res.Status())
	}

	return &Elasticsearch{client: client, prefix: config.IndexPrefix}, nil
}

// IndexName returns the index a document from a block produced at t goes to
func (e *Elasticsearch) IndexName(t time.Time) string {
	return e.prefix + t.UTC().Format(indexMonthLayout)
}

func (e *Elasticsearch) checkpointIndex() string {
	return e.prefix + "sync-state"
}

// EnsureTemplate installs the index template covering the monthly indices
func (e *Elasticsearch) EnsureTemplate(ctx context.Context) error {
	body, err := json.Marshal(map[string]interface{}{
		"index_patterns": []string{e.prefix + "*"},
		"template": map[string]interface{}{
			"mappings": documentMappings,
		},
	})
	if err != nil {
		return err
	}

	res, err := e.client.Indices.PutIndexTemplate(
		e.prefix+"operations",
		bytes.NewReader(body),
		e.client.Indices.PutIndexTemplate.WithContext(ctx),
	)
	if err := checkResponse("put index template", res, err); err != nil {
		return err
	}
	res.Body.Close()
	return nil
}

var documentMappings = map[string]interface{}{
	"properties": map[string]interface{}{
		"account_history": map[string]interface{}{
			"properties": map[string]interface{}{
				"account":      map[string]string{"type": "keyword"},
				"operation_id": map[string]string{"type": "keyword"},
			},
		},
		"operation_history": map[string]interface{}{
			"properties": map[string]interface{}{
				"trx_in_block":     map[string]string{"type": "integer"},
				"op_in_trx":        map[string]string{"type": "integer"},
				"virtual_op":       map[string]string{"type": "long"},
				"operation_result": map[string]interface{}{"type": "keyword", "index": false},
				"op":               map[string]interface{}{"type": "keyword", "index": false, "doc_values": false},
				"op_object":        map[string]string{"type": "flattened"},
			},
		},
		"operation_type":   map[string]string{"type": "integer"},
		"operation_id_num": map[string]string{"type": "long"},
		"block_data": map[string]interface{}{
			"properties": map[string]interface{}{
				"block_num":  map[string]string{"type": "long"},
				"block_time": map[string]string{"type": "date"},
				"trx_id":     map[string]string{"type": "keyword"},
			},
		},
	},
}

type bulkAction struct {
	Index struct {
		Index string `json:"_index"`
		ID    string `json:"_id"`
	} `json:"index"`
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// Bulk implements Backend
func (e *Elasticsearch) Bulk(ctx context.Context, docs []models.DocumentSource) ([]BulkItem, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		var action bulkAction
		action.Index.Index = e.IndexName(doc.BlockData.BlockTime)
		action.Index.ID = doc.ID()
		if err := enc.Encode(action); err != nil {
			return failedItems(docs, err.Error()), err
		}
		if err := enc.Encode(doc); err != nil {
			return failedItems(docs, err.Error()), err
		}
	}

	res, err := e.client.Bulk(bytes.NewReader(buf.Bytes()), e.client.Bulk.WithContext(ctx))
	if err := checkResponse("bulk", res, err); err != nil {
		return failedItems(docs, err.Error()), err
	}
	defer res.Body.Close()

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		err = &TransportError{Op: "bulk", Err: fmt.Errorf("failed to decode response: %w", err)}
		return failedItems(docs, err.Error()), err
	}
	if len(parsed.Items) != len(docs) {
		err := &TransportError{Op: "bulk", Err: fmt.Errorf("got %d items for %d documents", len(parsed.Items), len(docs))}
		return failedItems(docs, err.Error()), err
	}

	items := make([]BulkItem, len(docs))
	for i, doc := range docs {
		item := BulkItem{ID: doc.ID(), OK: true}
		for _, result := range parsed.Items[i] {
			if result.Error != nil {
				item.OK = false
				item.Error = result.Error.Type + ": " + result.Error.Reason
			} else if result.Status >= 300 {
				item.OK = false
				item.Error = fmt.Sprintf("status %d", result.Status)
			}
		}
		items[i] = item
	}
	return items, nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string          `json:"_id"`
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (e *Elasticsearch) search(ctx context.Context, op string, query map[string]interface{}) ([]Hit, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.prefix+"*"),
		e.client.Search.WithBody(bytes.NewReader(body)),
		e.client.Search.WithIgnoreUnavailable(true),
	)
	if err := checkResponse(op, res, err); err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	hits := make([]Hit, len(parsed.Hits.Hits))
	for i, hit := range parsed.Hits.Hits {
		hits[i] = Hit{ID: hit.ID, Source: hit.Source}
	}
	return hits, nil
}

// SearchHistory implements Backend
func (e *Elasticsearch) SearchHistory(ctx context.Context, query HistoryQuery) ([]Hit, error) {
	filters := []interface{}{
		map[string]interface{}{"term": map[string]interface{}{"account_history.account": query.Account.String()}},
	}
	bounds := map[string]interface{}{}
	if query.Before != 0 {
		bounds["lt"] = query.Before
	}
	if query.From != 0 {
		bounds["gte"] = query.From
	}
	if len(bounds) > 0 {
		filters = append(filters, map[string]interface{}{"range": map[string]interface{}{"operation_id_num": bounds}})
	}

	return e.search(ctx, "search history", map[string]interface{}{
		"size":  query.Limit,
		"query": map[string]interface{}{"bool": map[string]interface{}{"filter": filters}},
		"sort": []interface{}{
			map[string]interface{}{"operation_id_num": map[string]string{"order": "desc", "unmapped_type": "long"}},
		},
	})
}

// GetOperation implements Backend
func (e *Elasticsearch) GetOperation(ctx context.Context, id uint64) (Hit, error) {
	hits, err := e.search(ctx, "get operation", map[string]interface{}{
		"size":  1,
		"query": map[string]interface{}{"term": map[string]interface{}{"operation_id_num": id}},
		"sort": []interface{}{
			map[string]interface{}{"account_history.account": map[string]string{"order": "asc", "unmapped_type": "keyword"}},
		},
	})
	if err != nil {
		return Hit{}, err
	}
	if len(hits) == 0 {
		return Hit{}, ErrNotFound
	}
	return hits[0], nil
}

// Checkpoint implements Backend
func (e *Elasticsearch) Checkpoint(ctx context.Context) (*models.SyncState, error) {
	res, err := e.client.Get(e.checkpointIndex(), checkpointDocumentID, e.client.Get.WithContext(ctx))
	if err != nil {
		return nil, &TransportError{Op: "get checkpoint", Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return &models.SyncState{}, nil
	}
	if res.IsError() {
		return nil, &TransportError{Op: "get checkpoint", Err: responseError(res)}
	}

	var parsed struct {
		Source models.SyncState `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return &parsed.Source, nil
}

// SaveCheckpoint implements Backend
func (e *Elasticsearch) SaveCheckpoint(ctx context.Context, state models.SyncState) error {
	body, err := json.Marshal(state)
	if err != nil {
		return err
	}
	res, err := e.client.Index(
		e.checkpointIndex(),
		bytes.NewReader(body),
		e.client.Index.WithDocumentID(checkpointDocumentID),
		e.client.Index.WithRefresh("true"),
		e.client.Index.WithContext(ctx),
	)
	if err := checkResponse("save checkpoint", res, err); err != nil {
		return err
	}
	res.Body.Close()
	return nil
}

// Close implements Backend
func (e *Elasticsearch) Close() error {
	return nil
}

// checkResponse turns request and HTTP failures into a TransportError,
// closing the body of failed responses
func checkResponse(op string, res *esapi.Response, err error) error {
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if res.IsError() {
		defer res.Body.Close()
		return &TransportError{Op: op, Err: responseError(res)}
	}
	return nil
}

func responseError(res *esapi.Response) error {
	var parsed struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	data, _ := io.ReadAll(res.Body)
	if json.Unmarshal(data, &parsed) == nil && parsed.Error.Type != "" {
		return fmt.Errorf("%s: %s: %s", res.Status(), parsed.Error.Type, parsed.Error.Reason)
	}
	return fmt.Errorf("%s", res.Status())
}
