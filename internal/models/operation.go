package models

import (
	"encoding/json"
	"time"

	"github.com/ety001/op-history-bridge/internal/protocol"
)

// OperationRecord represents one entry of the ledger operation history
type OperationRecord struct {
	ID         protocol.ObjectID
	BlockNum   uint32
	TrxInBlock uint16
	OpInTrx    uint16
	VirtualOp  uint32
	Result     protocol.OperationResult
	Op         protocol.Operation
}

// IsVirtual reports whether the operation was generated by the chain
func (r OperationRecord) IsVirtual() bool {
	return r.VirtualOp != 0
}

type operationRecordJSON struct {
	ID         protocol.ObjectID        `json:"id"`
	Op         json.RawMessage          `json:"op"`
	Result     protocol.OperationResult `json:"result"`
	BlockNum   uint32                   `json:"block_num"`
	TrxInBlock uint16                   `json:"trx_in_block"`
	OpInTrx    uint16                   `json:"op_in_trx"`
	VirtualOp  uint32                   `json:"virtual_op"`
}

// MarshalJSON renders the record the way the node API does
func (r OperationRecord) MarshalJSON() ([]byte, error) {
	out := operationRecordJSON{
		ID:         r.ID,
		Result:     r.Result,
		BlockNum:   r.BlockNum,
		TrxInBlock: r.TrxInBlock,
		OpInTrx:    r.OpInTrx,
		VirtualOp:  r.VirtualOp,
	}
	if r.Op != nil {
		out.Op = protocol.Encode(r.Op)
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses an operation history object as returned by the node
func (r *OperationRecord) UnmarshalJSON(data []byte) error {
	var in operationRecordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	op, err := protocol.Decode(in.Op)
	if err != nil {
		return err
	}
	*r = OperationRecord{
		ID:         in.ID,
		BlockNum:   in.BlockNum,
		TrxInBlock: in.TrxInBlock,
		OpInTrx:    in.OpInTrx,
		VirtualOp:  in.VirtualOp,
		Result:     in.Result,
		Op:         op,
	}
	return nil
}

// BlockMetadata describes the block containing an operation
type BlockMetadata struct {
	BlockNum  uint32    `json:"block_num"`
	BlockTime time.Time `json:"block_time"`
	TrxID     string    `json:"trx_id"`
}

// AccountHistoryLink ties an account to an operation in its history
type AccountHistoryLink struct {
	Account     protocol.ObjectID
	OperationID protocol.ObjectID
}

// OperationHistory is a history entry reconstructed from the index
type OperationHistory struct {
	OperationRecord
	Block    BlockMetadata
	SideData SideData
}

// MarshalJSON flattens the record and attaches block and side data
func (h OperationHistory) MarshalJSON() ([]byte, error) {
	record, err := json.Marshal(h.OperationRecord)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Record         json.RawMessage `json:"operation"`
		Block          BlockMetadata   `json:"block_data"`
		AdditionalData *AdditionalData `json:"additional_data,omitempty"`
	}{
		Record:         record,
		Block:          h.Block,
		AdditionalData: NewAdditionalData(h.SideData),
	})
}

// AccountHistoryResponse represents a page of account history
type AccountHistoryResponse struct {
	Account    string             `json:"account"`
	Operations []OperationHistory `json:"operations"`
	Warnings   []string           `json:"warnings,omitempty"`
	NextStart  string             `json:"next_start,omitempty"`
}

// SyncState represents the indexing checkpoint
type SyncState struct {
	NextOperation uint64    `json:"next_operation" bson:"next_operation"` // First operation history instance not yet indexed
	LastBlock     uint32    `json:"last_block" bson:"last_block"`
	UpdatedAt     time.Time `json:"updated_at" bson:"updated_at"`
}
