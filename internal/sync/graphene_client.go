package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ety001/op-history-bridge/internal/protocol"
)

const databaseAPI = "database"

// Node is the subset of the node API the indexer relies on
type Node interface {
	GetDynamicGlobalProperties(ctx context.Context) (*DynamicGlobalProperties, error)
	GetOperationHistory(ctx context.Context, from uint64, count int) ([]*HistoryObject, error)
	GetBlock(ctx context.Context, blockNum uint32) (*Block, error)
	GetAssets(ctx context.Context, ids []protocol.ObjectID) ([]protocol.AssetInfo, error)
}

// GrapheneClient represents a client for the graphene JSON-RPC API
type GrapheneClient struct {
	apiURL     string
	httpClient *http.Client
	requestID  int64
}

// NewGrapheneClient creates a new node API client
func NewGrapheneClient(apiURL string, timeout time.Duration) *GrapheneClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GrapheneClient{
		apiURL: apiURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// JSONRPCRequest represents a JSON-RPC request
type JSONRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int64         `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC response
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *JSONRPCError   `json:"error,omitempty"`
	ID      int64           `json:"id"`
}

// JSONRPCError represents a JSON-RPC error
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *JSONRPCError) Error() string {
	return fmt.Sprintf("JSON-RPC error: %s (code: %d)", e.Message, e.Code)
}

// DynamicGlobalProperties holds the chain head state (2.1.0)
type DynamicGlobalProperties struct {
	HeadBlockNumber          uint32        `json:"head_block_number"`
	HeadBlockID              string        `json:"head_block_id"`
	Time                     protocol.Time `json:"time"`
	LastIrreversibleBlockNum uint32        `json:"last_irreversible_block_num"`
}

// Block represents a signed block; only the fields the indexer uses are kept
type Block struct {
	Previous       string        `json:"previous"`
	Timestamp      protocol.Time `json:"timestamp"`
	Witness        string        `json:"witness"`
	TransactionIDs []string      `json:"transaction_ids"`
	Transactions   []struct {
		Operations []json.RawMessage `json:"operations"`
	} `json:"transactions"`
}

// TrxID returns the id of the transaction at position trxInBlock, empty
// for virtual operations and nodes that do not report transaction ids
func (b *Block) TrxID(trxInBlock uint16) string {
	if int(trxInBlock) < len(b.TransactionIDs) {
		return b.TransactionIDs[trxInBlock]
	}
	return ""
}

// HistoryObject is an operation history object (1.11.N) with its position
// read out; the operation itself is decoded later
type HistoryObject struct {
	ID       protocol.ObjectID `json:"id"`
	BlockNum uint32            `json:"block_num"`
	Raw      json.RawMessage   `json:"-"`
}

type assetObject struct {
	ID        protocol.ObjectID `json:"id"`
	Symbol    string            `json:"symbol"`
	Precision uint8             `json:"precision"`
}

// call makes a JSON-RPC call to one of the node APIs
func (c *GrapheneClient) call(ctx context.Context, api, method string, params ...interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  []interface{}{api, method, params},
		ID:      atomic.AddInt64(&c.requestID, 1),
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %s", method, resp.Status)
	}

	var jsonResp JSONRPCResponse
	if err := json.Unmarshal(body, &jsonResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if jsonResp.Error != nil {
		return nil, fmt.Errorf("%s: %w", method, jsonResp.Error)
	}

	return jsonResp.Result, nil
}

// GetDynamicGlobalProperties retrieves dynamic global properties
func (c *GrapheneClient) GetDynamicGlobalProperties(ctx context.Context) (*DynamicGlobalProperties, error) {
	result, err := c.call(ctx, databaseAPI, "get_dynamic_global_properties")
	if err != nil {
		return nil, err
	}

	var props DynamicGlobalProperties
	if err := json.Unmarshal(result, &props); err != nil {
		return nil, fmt.Errorf("failed to unmarshal properties: %w", err)
	}
	return &props, nil
}

// GetOperationHistory retrieves operation history objects from..from+count-1.
// Objects the node does not know are returned as nil.
func (c *GrapheneClient) GetOperationHistory(ctx context.Context, from uint64, count int) ([]*HistoryObject, error) {
	ids := make([]string, count)
	for i := range ids {
		ids[i] = protocol.OperationHistoryID(from + uint64(i)).String()
	}

	result, err := c.call(ctx, databaseAPI, "get_objects", ids)
	if err != nil {
		return nil, err
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(result, &raws); err != nil {
		return nil, fmt.Errorf("failed to unmarshal operation history: %w", err)
	}

	objects := make([]*HistoryObject, len(raws))
	for i, raw := range raws {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		var obj HistoryObject
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", ids[i], err)
		}
		obj.Raw = raw
		objects[i] = &obj
	}
	return objects, nil
}

// GetBlock retrieves a block by block number
func (c *GrapheneClient) GetBlock(ctx context.Context, blockNum uint32) (*Block, error) {
	result, err := c.call(ctx, databaseAPI, "get_block", blockNum)
	if err != nil {
		return nil, err
	}
	if string(result) == "null" {
		return nil, fmt.Errorf("block %d not found", blockNum)
	}

	var block Block
	if err := json.Unmarshal(result, &block); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block: %w", err)
	}
	return &block, nil
}

// GetAssets retrieves symbol and precision of the given assets
func (c *GrapheneClient) GetAssets(ctx context.Context, ids []protocol.ObjectID) ([]protocol.AssetInfo, error) {
	result, err := c.call(ctx, databaseAPI, "get_objects", ids)
	if err != nil {
		return nil, err
	}

	var objects []*assetObject
	if err := json.Unmarshal(result, &objects); err != nil {
		return nil, fmt.Errorf("failed to unmarshal assets: %w", err)
	}

	assets := make([]protocol.AssetInfo, 0, len(objects))
	for i, obj := range objects {
		if obj == nil {
			return nil, fmt.Errorf("asset %s not found", ids[i])
		}
		assets = append(assets, protocol.AssetInfo{ID: obj.ID, Symbol: obj.Symbol, Precision: obj.Precision})
	}
	return assets, nil
}
