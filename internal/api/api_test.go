package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ety001/op-history-bridge/internal/document"
	"github.com/ety001/op-history-bridge/internal/history"
	"github.com/ety001/op-history-bridge/internal/logging"
	"github.com/ety001/op-history-bridge/internal/metrics"
	"github.com/ety001/op-history-bridge/internal/models"
	"github.com/ety001/op-history-bridge/internal/protocol"
	"github.com/ety001/op-history-bridge/internal/sidedata"
	"github.com/ety001/op-history-bridge/internal/storage"
)

var bts = protocol.AssetInfo{ID: protocol.AssetID(0), Symbol: "BTS", Precision: 5}

type historyBody struct {
	Account    string `json:"account"`
	Operations []struct {
		Operation struct {
			ID string `json:"id"`
		} `json:"operation"`
		AdditionalData map[string]json.RawMessage `json:"additional_data"`
	} `json:"operations"`
	Warnings  []string `json:"warnings"`
	NextStart string   `json:"next_start"`
}

func seed(t *testing.T, backend storage.Backend, ids ...uint64) {
	t.Helper()
	var sources []models.DocumentSource
	for _, id := range ids {
		op := &protocol.TransferOperation{
			Fee:    protocol.Asset{Amount: 20, AssetID: bts.ID},
			From:   protocol.AccountID(17),
			To:     protocol.AccountID(18),
			Amount: protocol.Asset{Amount: 150000, AssetID: bts.ID},
		}
		record := models.OperationRecord{ID: protocol.OperationHistoryID(id), BlockNum: uint32(1000 + id), Op: op}
		block := models.BlockMetadata{BlockNum: record.BlockNum, BlockTime: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
		side, err := sidedata.Extract(op, sidedata.Assets{bts.ID: bts})
		require.NoError(t, err)
		for _, doc := range (document.Builder{}).BuildAll(record, block, side, protocol.ImpactedAccounts(op)) {
			sources = append(sources, doc.Source())
		}
	}
	_, err := backend.Bulk(context.Background(), sources)
	require.NoError(t, err)
}

func newRouter(mode models.Mode, backend storage.Backend) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := logging.Discard()
	m := metrics.New()
	modes := models.NewModeController(mode)
	engine := history.NewEngine(backend, modes.Mode(), log, m)
	return SetupRoutes(NewHandler(engine, modes), m.Handler(), log)
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestHealthAndMode(t *testing.T) {
	router := newRouter(models.ModeOnlyQuery, storage.NewMemory())

	w := get(router, "/api/v1/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = get(router, "/api/v1/mode")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"mode":"only_query"}`, w.Body.String())
}

func TestAccountHistory(t *testing.T) {
	backend := storage.NewMemory()
	seed(t, backend, 1, 2, 3, 4, 5)
	router := newRouter(models.ModeAll, backend)

	w := get(router, "/api/v1/accounts/1.2.17/history?limit=2")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body historyBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "1.2.17", body.Account)
	require.Len(t, body.Operations, 2)
	assert.Equal(t, "1.11.5", body.Operations[0].Operation.ID)
	assert.Equal(t, "1.11.4", body.Operations[1].Operation.ID)
	assert.Contains(t, body.Operations[0].AdditionalData, "transfer_data")
	assert.Equal(t, "1.11.4", body.NextStart)

	w = get(router, "/api/v1/accounts/18/history?start="+body.NextStart+"&stop=2")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body = historyBody{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Operations, 2)
	assert.Equal(t, "1.11.3", body.Operations[0].Operation.ID)
	assert.Equal(t, "1.11.2", body.Operations[1].Operation.ID)
	assert.Empty(t, body.NextStart)
}

func TestAccountHistoryEmpty(t *testing.T) {
	router := newRouter(models.ModeAll, storage.NewMemory())

	w := get(router, "/api/v1/accounts/1.2.99/history")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"account":"1.2.99","operations":[]}`, w.Body.String())
}

func TestAccountHistoryWarnings(t *testing.T) {
	backend := storage.NewMemory()
	seed(t, backend, 1)
	backend.Put(protocol.AccountID(17), 2, []byte(`not json`))
	router := newRouter(models.ModeAll, backend)

	w := get(router, "/api/v1/accounts/1.2.17/history")
	require.Equal(t, http.StatusOK, w.Code)

	var body historyBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Operations, 1)
	require.Len(t, body.Warnings, 1)
	assert.Contains(t, body.Warnings[0], "1.2.17_1.11.2")
}

func TestGetOperation(t *testing.T) {
	backend := storage.NewMemory()
	seed(t, backend, 7)
	router := newRouter(models.ModeAll, backend)

	for _, path := range []string{"/api/v1/operations/1.11.7", "/api/v1/operations/7"} {
		w := get(router, path)
		require.Equal(t, http.StatusOK, w.Code, path)
		var body struct {
			Operation struct {
				ID       string `json:"id"`
				BlockNum uint32 `json:"block_num"`
			} `json:"operation"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "1.11.7", body.Operation.ID)
		assert.Equal(t, uint32(1007), body.Operation.BlockNum)
	}

	assert.Equal(t, http.StatusNotFound, get(router, "/api/v1/operations/1.11.8").Code)
}

func TestErrorMapping(t *testing.T) {
	backend := storage.NewMemory()

	tests := []struct {
		name   string
		mode   models.Mode
		path   string
		status int
	}{
		{"bad account", models.ModeAll, "/api/v1/accounts/1.3.0/history", http.StatusBadRequest},
		{"bad start", models.ModeAll, "/api/v1/accounts/1.2.17/history?start=x", http.StatusBadRequest},
		{"bad stop type", models.ModeAll, "/api/v1/accounts/1.2.17/history?stop=1.2.3", http.StatusBadRequest},
		{"bad limit", models.ModeAll, "/api/v1/accounts/1.2.17/history?limit=ten", http.StatusBadRequest},
		{"bad operation id", models.ModeAll, "/api/v1/operations/1.2.3", http.StatusBadRequest},
		{"malformed operation id", models.ModeAll, "/api/v1/operations/abc", http.StatusBadRequest},
		{"write-only history", models.ModeOnlySave, "/api/v1/accounts/1.2.17/history", http.StatusForbidden},
		{"write-only operation", models.ModeOnlySave, "/api/v1/operations/1.11.1", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(newRouter(tt.mode, backend), tt.path)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

// failingBackend fails every search at the transport level
type failingBackend struct {
	*storage.Memory
}

func (failingBackend) SearchHistory(ctx context.Context, query storage.HistoryQuery) ([]storage.Hit, error) {
	return nil, &storage.TransportError{Op: "search", Err: errors.New("connection refused")}
}

func TestTransportErrorIsBadGateway(t *testing.T) {
	router := newRouter(models.ModeAll, failingBackend{storage.NewMemory()})

	w := get(router, "/api/v1/accounts/1.2.17/history")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	backend := storage.NewMemory()
	seed(t, backend, 1)
	router := newRouter(models.ModeAll, backend)

	require.Equal(t, http.StatusOK, get(router, "/api/v1/accounts/1.2.17/history").Code)

	w := get(router, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "op_history_queries_total")
}

func TestOptionsPreflight(t *testing.T) {
	router := newRouter(models.ModeAll, storage.NewMemory())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
