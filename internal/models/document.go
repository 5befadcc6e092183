package models

import (
	"fmt"

	"github.com/ety001/op-history-bridge/internal/protocol"
)

// IndexDocument is one account's view of one operation, as submitted to the
// search engine
type IndexDocument struct {
	Link     AccountHistoryLink
	Record   OperationRecord
	Block    BlockMetadata
	SideData SideData
	OpObject map[string]interface{}
}

// DocumentID returns the identity of the (account, operation) pair
func DocumentID(account, operation protocol.ObjectID) string {
	return account.String() + "_" + operation.String()
}

// ID returns the document identity; re-indexing the same id overwrites
func (d IndexDocument) ID() string {
	return DocumentID(d.Link.Account, d.Link.OperationID)
}

// Kind returns the operation kind carried by the document
func (d IndexDocument) Kind() protocol.OperationKind {
	return d.Record.Op.Kind()
}

// AccountHistorySource is the account link as stored in the engine
type AccountHistorySource struct {
	Account     protocol.ObjectID `json:"account"`
	OperationID protocol.ObjectID `json:"operation_id"`
}

// OperationHistorySource is the flattened operation as stored in the engine
type OperationHistorySource struct {
	TrxInBlock      uint16                 `json:"trx_in_block"`
	OpInTrx         uint16                 `json:"op_in_trx"`
	OperationResult string                 `json:"operation_result"`
	VirtualOp       uint32                 `json:"virtual_op"`
	Op              string                 `json:"op"`
	OpObject        map[string]interface{} `json:"op_object,omitempty"`
}

// DocumentSource is the document body exchanged with the search engine
type DocumentSource struct {
	AccountHistory   AccountHistorySource   `json:"account_history"`
	OperationHistory OperationHistorySource `json:"operation_history"`
	OperationType    protocol.OperationKind `json:"operation_type"`
	OperationIDNum   uint64                 `json:"operation_id_num"`
	BlockData        BlockMetadata          `json:"block_data"`
	AdditionalData   *AdditionalData        `json:"additional_data,omitempty"`
}

// Source renders the document body
func (d IndexDocument) Source() DocumentSource {
	result, err := d.Record.Result.MarshalJSON()
	if err != nil {
		// results only hold marshalable values
		panic(fmt.Sprintf("encode result of %s: %v", d.Record.ID, err))
	}
	return DocumentSource{
		AccountHistory: AccountHistorySource{
			Account:     d.Link.Account,
			OperationID: d.Link.OperationID,
		},
		OperationHistory: OperationHistorySource{
			TrxInBlock:      d.Record.TrxInBlock,
			OpInTrx:         d.Record.OpInTrx,
			OperationResult: string(result),
			VirtualOp:       d.Record.VirtualOp,
			Op:              string(protocol.Encode(d.Record.Op)),
			OpObject:        d.OpObject,
		},
		OperationType:  d.Record.Op.Kind(),
		OperationIDNum: d.Record.ID.Instance,
		BlockData:      d.Block,
		AdditionalData: NewAdditionalData(d.SideData),
	}
}

// ID returns the identity of the stored document
func (s DocumentSource) ID() string {
	return DocumentID(s.AccountHistory.Account, s.AccountHistory.OperationID)
}

// Decode reconstructs the history entry from a stored document
func (s DocumentSource) Decode() (OperationHistory, error) {
	op, err := protocol.Decode([]byte(s.OperationHistory.Op))
	if err != nil {
		return OperationHistory{}, err
	}
	if op.Kind() != s.OperationType {
		return OperationHistory{}, &protocol.FormatError{
			Field:  "operation_type",
			Reason: fmt.Sprintf("document tagged %d holds a %s operation", s.OperationType, op.Kind()),
		}
	}

	var result protocol.OperationResult
	if s.OperationHistory.OperationResult != "" {
		if err := result.UnmarshalJSON([]byte(s.OperationHistory.OperationResult)); err != nil {
			return OperationHistory{}, err
		}
	}

	sideData, err := s.AdditionalData.SideData()
	if err != nil {
		return OperationHistory{}, &protocol.FormatError{Field: "additional_data", Reason: "invalid side data", Err: err}
	}

	return OperationHistory{
		OperationRecord: OperationRecord{
			ID:         protocol.OperationHistoryID(s.OperationIDNum),
			BlockNum:   s.BlockData.BlockNum,
			TrxInBlock: s.OperationHistory.TrxInBlock,
			OpInTrx:    s.OperationHistory.OpInTrx,
			VirtualOp:  s.OperationHistory.VirtualOp,
			Result:     result,
			Op:         op,
		},
		Block:    s.BlockData,
		SideData: sideData,
	}, nil
}
