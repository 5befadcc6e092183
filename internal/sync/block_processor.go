package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/ety001/op-history-bridge/internal/document"
	"github.com/ety001/op-history-bridge/internal/metrics"
	"github.com/ety001/op-history-bridge/internal/models"
	"github.com/ety001/op-history-bridge/internal/protocol"
	"github.com/ety001/op-history-bridge/internal/sidedata"
)

// BlockProcessor turns operation history objects into index documents
type BlockProcessor struct {
	node    Node
	assets  *AssetCache
	blocks  *lru.Cache
	builder document.Builder
	visitor bool
	log     *logrus.Logger
	metrics *metrics.Metrics
}

// NewBlockProcessor creates a new block processor
func NewBlockProcessor(
	node Node,
	assets *AssetCache,
	config models.IndexerConfig,
	log *logrus.Logger,
	m *metrics.Metrics,
) (*BlockProcessor, error) {
	blocks, err := lru.New(defaultBlockCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create block cache: %w", err)
	}

	return &BlockProcessor{
		node:    node,
		assets:  assets,
		blocks:  blocks,
		builder: document.Builder{OperationObject: config.OperationObject},
		visitor: config.Visitor,
		log:     log,
		metrics: m,
	}, nil
}

// Process decodes one operation history object and builds a document for
// every account in its history. An operation of a kind the indexer does
// not handle yields a *protocol.FormatError.
func (bp *BlockProcessor) Process(ctx context.Context, obj *HistoryObject) ([]models.IndexDocument, error) {
	var record models.OperationRecord
	if err := json.Unmarshal(obj.Raw, &record); err != nil {
		var formatErr *protocol.FormatError
		if errors.As(err, &formatErr) {
			return nil, formatErr
		}
		return nil, &protocol.FormatError{Field: "operation_history", Reason: "malformed " + obj.ID.String(), Err: err}
	}

	block, err := bp.blockMetadata(ctx, record)
	if err != nil {
		return nil, err
	}

	side := bp.sideData(ctx, record)
	return bp.builder.BuildAll(record, block, side, protocol.ImpactedAccounts(record.Op)), nil
}

func (bp *BlockProcessor) blockMetadata(ctx context.Context, record models.OperationRecord) (models.BlockMetadata, error) {
	var block *Block
	if cached, ok := bp.blocks.Get(record.BlockNum); ok {
		block = cached.(*Block)
	} else {
		fetched, err := bp.node.GetBlock(ctx, record.BlockNum)
		if err != nil {
			return models.BlockMetadata{}, fmt.Errorf("failed to get block %d: %w", record.BlockNum, err)
		}
		bp.blocks.Add(record.BlockNum, fetched)
		block = fetched
	}

	meta := models.BlockMetadata{
		BlockNum:  record.BlockNum,
		BlockTime: block.Timestamp.Time,
	}
	if !record.IsVirtual() {
		meta.TrxID = block.TrxID(record.TrxInBlock)
	}
	return meta, nil
}

// sideData never fails the operation: without asset metadata the document
// is indexed without side data
func (bp *BlockProcessor) sideData(ctx context.Context, record models.OperationRecord) models.SideData {
	if !bp.visitor {
		return models.NoSideData{}
	}

	kind := record.Op.Kind()
	fields := logrus.Fields{"operation": record.ID.String(), "kind": kind.String()}

	if err := bp.assets.Resolve(ctx, protocol.ReferencedAssets(record.Op)); err != nil {
		bp.log.WithFields(fields).Warnf("Indexing without side data: %v", err)
		bp.metrics.RecordSideDataError(kind.String())
		return models.NoSideData{}
	}

	side, err := sidedata.Extract(record.Op, bp.assets)
	if err != nil {
		bp.log.WithFields(fields).Warnf("Indexing without side data: %v", err)
		bp.metrics.RecordSideDataError(kind.String())
		return models.NoSideData{}
	}
	return side
}
