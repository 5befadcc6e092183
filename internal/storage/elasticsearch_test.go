package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ety001/op-history-bridge/internal/models"
	"github.com/ety001/op-history-bridge/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCluster answers the handful of endpoints the backend uses
type fakeCluster struct {
	mu         sync.Mutex
	indexed    map[string]string // document id -> index
	reject     map[string]bool
	searches   []map[string]interface{}
	hits       []Hit
	checkpoint []byte
	templates  []string
	failBulk   bool
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{indexed: make(map[string]string), reject: make(map[string]bool)}
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.URL.Path == "/":
		io.WriteString(w, `{"version":{"number":"8.8.2"},"tagline":"You Know, for Search"}`)

	case r.URL.Path == "/_bulk":
		if f.failBulk {
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, `{"error":{"type":"cluster_block_exception","reason":"blocked"}}`)
			return
		}
		f.bulk(w, r)

	case strings.HasSuffix(r.URL.Path, "/_search"):
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		f.searches = append(f.searches, body)
		var out struct {
			Hits struct {
				Hits []map[string]interface{} `json:"hits"`
			} `json:"hits"`
		}
		out.Hits.Hits = []map[string]interface{}{}
		for _, hit := range f.hits {
			out.Hits.Hits = append(out.Hits.Hits, map[string]interface{}{"_id": hit.ID, "_source": hit.Source})
		}
		json.NewEncoder(w).Encode(out)

	case strings.HasPrefix(r.URL.Path, "/_index_template/"):
		f.templates = append(f.templates, strings.TrimPrefix(r.URL.Path, "/_index_template/"))
		io.WriteString(w, `{"acknowledged":true}`)

	case r.URL.Path == "/bitshares-sync-state/_doc/checkpoint":
		if r.Method == http.MethodGet {
			if f.checkpoint == nil {
				w.WriteHeader(http.StatusNotFound)
				io.WriteString(w, `{"found":false}`)
				return
			}
			io.WriteString(w, `{"found":true,"_source":`+string(f.checkpoint)+`}`)
			return
		}
		f.checkpoint, _ = io.ReadAll(r.Body)
		io.WriteString(w, `{"result":"created"}`)

	default:
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":{"type":"not_found","reason":"`+r.URL.Path+`"}}`)
	}
}

func (f *fakeCluster) bulk(w http.ResponseWriter, r *http.Request) {
	type result struct {
		ID     string            `json:"_id"`
		Status int               `json:"status"`
		Error  map[string]string `json:"error,omitempty"`
	}
	var items []map[string]result
	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	for scanner.Scan() {
		var action bulkAction
		json.Unmarshal(scanner.Bytes(), &action)
		scanner.Scan() // source line
		id := action.Index.ID
		if f.reject[id] {
			items = append(items, map[string]result{"index": {ID: id, Status: 400,
				Error: map[string]string{"type": "mapper_parsing_exception", "reason": "failed to parse"}}})
			continue
		}
		f.indexed[id] = action.Index.Index
		items = append(items, map[string]result{"index": {ID: id, Status: 201}})
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"errors": len(f.reject) > 0, "items": items})
}

func newTestElasticsearch(t *testing.T) (*Elasticsearch, *fakeCluster) {
	fake := newFakeCluster()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	es, err := NewElasticsearch(models.ElasticsearchConfig{
		Addresses:   []string{server.URL},
		IndexPrefix: "bitshares-",
	})
	require.NoError(t, err)
	return es, fake
}

func TestElasticsearchIndexName(t *testing.T) {
	es := &Elasticsearch{prefix: "bitshares-"}
	assert.Equal(t, "bitshares-2024-05", es.IndexName(may2024))
	assert.Equal(t, "bitshares-2023-12", es.IndexName(time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC)))
}

func TestElasticsearchBulk(t *testing.T) {
	es, fake := newTestElasticsearch(t)
	ctx := context.Background()

	docs := []models.DocumentSource{
		transferSource(17, 17, 18, 100, may2024),
		transferSource(18, 17, 18, 100, may2024),
		transferSource(17, 17, 18, 101, time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)),
	}
	fake.reject["1.2.18_1.11.100"] = true

	items, err := es.Bulk(ctx, docs)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.True(t, items[0].OK)
	assert.False(t, items[1].OK)
	assert.Contains(t, items[1].Error, "mapper_parsing_exception")
	assert.True(t, items[2].OK)

	assert.Equal(t, "bitshares-2024-05", fake.indexed["1.2.17_1.11.100"])
	assert.Equal(t, "bitshares-2024-06", fake.indexed["1.2.17_1.11.101"])
}

func TestElasticsearchBulkTransportFailure(t *testing.T) {
	es, fake := newTestElasticsearch(t)
	fake.failBulk = true

	items, err := es.Bulk(context.Background(), []models.DocumentSource{transferSource(17, 17, 18, 1, may2024)})
	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Contains(t, err.Error(), "cluster_block_exception")
	require.Len(t, items, 1)
	assert.False(t, items[0].OK)
}

func TestElasticsearchSearchHistory(t *testing.T) {
	es, fake := newTestElasticsearch(t)
	source, err := json.Marshal(transferSource(17, 17, 18, 100, may2024))
	require.NoError(t, err)
	fake.hits = []Hit{{ID: "1.2.17_1.11.100", Source: source}}

	hits, err := es.SearchHistory(context.Background(), HistoryQuery{
		Account: protocol.AccountID(17), Before: 200, From: 50, Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	history, err := hits[0].Decode()
	require.NoError(t, err)
	assert.Equal(t, protocol.OperationHistoryID(100), history.ID)

	require.Len(t, fake.searches, 1)
	body := fake.searches[0]
	assert.EqualValues(t, 10, body["size"])

	filters := body["query"].(map[string]interface{})["bool"].(map[string]interface{})["filter"].([]interface{})
	require.Len(t, filters, 2)
	term := filters[0].(map[string]interface{})["term"].(map[string]interface{})
	assert.Equal(t, "1.2.17", term["account_history.account"])
	bounds := filters[1].(map[string]interface{})["range"].(map[string]interface{})["operation_id_num"].(map[string]interface{})
	assert.EqualValues(t, 200, bounds["lt"])
	assert.EqualValues(t, 50, bounds["gte"])

	sort := body["sort"].([]interface{})[0].(map[string]interface{})["operation_id_num"].(map[string]interface{})
	assert.Equal(t, "desc", sort["order"])
}

func TestElasticsearchSearchWithoutBounds(t *testing.T) {
	es, fake := newTestElasticsearch(t)

	hits, err := es.SearchHistory(context.Background(), HistoryQuery{Account: protocol.AccountID(17), Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, hits)

	filters := fake.searches[0]["query"].(map[string]interface{})["bool"].(map[string]interface{})["filter"].([]interface{})
	assert.Len(t, filters, 1)
}

func TestElasticsearchGetOperation(t *testing.T) {
	es, fake := newTestElasticsearch(t)
	ctx := context.Background()

	_, err := es.GetOperation(ctx, 100)
	assert.ErrorIs(t, err, ErrNotFound)

	source, err := json.Marshal(transferSource(17, 17, 18, 100, may2024))
	require.NoError(t, err)
	fake.hits = []Hit{{ID: "1.2.17_1.11.100", Source: source}}

	hit, err := es.GetOperation(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, "1.2.17_1.11.100", hit.ID)
}

func TestElasticsearchCheckpointAndTemplate(t *testing.T) {
	es, fake := newTestElasticsearch(t)
	ctx := context.Background()

	require.NoError(t, es.EnsureTemplate(ctx))
	assert.Equal(t, []string{"bitshares-operations"}, fake.templates)

	state, err := es.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Zero(t, state.NextOperation)

	require.NoError(t, es.SaveCheckpoint(ctx, models.SyncState{NextOperation: 501, LastBlock: 90}))
	state, err = es.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(501), state.NextOperation)
	assert.Equal(t, uint32(90), state.LastBlock)
}
