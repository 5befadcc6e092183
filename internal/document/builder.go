// Package document assembles the documents submitted to the search engine.
package document

import (
	"encoding/json"
	"fmt"

	"github.com/ety001/op-history-bridge/internal/models"
	"github.com/ety001/op-history-bridge/internal/protocol"
	"github.com/ety001/op-history-bridge/internal/sidedata"
)

// Builder assembles index documents
type Builder struct {
	// OperationObject attaches the flattened operation body for ad-hoc queries
	OperationObject bool
}

// Build assembles a document with the default builder
func Build(link models.AccountHistoryLink, record models.OperationRecord, block models.BlockMetadata, side models.SideData) models.IndexDocument {
	return Builder{OperationObject: true}.Build(link, record, block, side)
}

// Build assembles one document. It panics when the inputs disagree with
// each other, which can only happen through a bug in the caller.
func (b Builder) Build(link models.AccountHistoryLink, record models.OperationRecord, block models.BlockMetadata, side models.SideData) models.IndexDocument {
	if record.Op == nil {
		panic(fmt.Sprintf("document for %s has no operation", record.ID))
	}
	if link.OperationID != record.ID {
		panic(fmt.Sprintf("link points at %s, record is %s", link.OperationID, record.ID))
	}
	if block.BlockNum != record.BlockNum {
		panic(fmt.Sprintf("record %s is in block %d, metadata is for block %d", record.ID, record.BlockNum, block.BlockNum))
	}
	if side == nil {
		side = models.NoSideData{}
	}
	if !sidedata.Matches(record.Op.Kind(), side) {
		panic(fmt.Sprintf("%s side data attached to %s operation %s", side.Kind(), record.Op.Kind(), record.ID))
	}

	doc := models.IndexDocument{
		Link:     link,
		Record:   record,
		Block:    block,
		SideData: side,
	}
	if b.OperationObject {
		doc.OpObject = operationObject(record.Op)
	}
	return doc
}

// BuildAll assembles one document per account in the history of record
func (b Builder) BuildAll(record models.OperationRecord, block models.BlockMetadata, side models.SideData, accounts []protocol.ObjectID) []models.IndexDocument {
	docs := make([]models.IndexDocument, 0, len(accounts))
	for _, account := range accounts {
		link := models.AccountHistoryLink{Account: account, OperationID: record.ID}
		docs = append(docs, b.Build(link, record, block, side))
	}
	return docs
}

func operationObject(op protocol.Operation) map[string]interface{} {
	var pair []json.RawMessage
	if err := json.Unmarshal(protocol.Encode(op), &pair); err != nil || len(pair) != 2 {
		return nil
	}
	var body map[string]interface{}
	if err := json.Unmarshal(pair[1], &body); err != nil {
		return nil
	}
	return body
}
