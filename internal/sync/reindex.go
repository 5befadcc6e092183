package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ety001/op-history-bridge/internal/indexer"
	"github.com/ety001/op-history-bridge/internal/protocol"
)

// ReindexRange selects the operations a reindex run rebuilds
type ReindexRange struct {
	From, To        uint64 // inclusive
	BatchSize       int
	SkipUnsupported bool
}

// ReindexResult summarises a reindex run
type ReindexResult struct {
	Operations int
	Skipped    int
	Missing    int
	Result     indexer.BulkResult
}

// Reindex rebuilds the documents of the operations in r and resubmits
// them. Documents overwrite by id so a range may be replayed any number of
// times. The checkpoint is left untouched.
func Reindex(
	ctx context.Context,
	node Node,
	processor *BlockProcessor,
	writer *indexer.Writer,
	r ReindexRange,
	log *logrus.Logger,
) (ReindexResult, error) {
	var out ReindexResult
	if r.From > r.To {
		return out, fmt.Errorf("start %d is after end %d", r.From, r.To)
	}
	batchSize := r.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	for next := r.From; next <= r.To; {
		count := batchSize
		if remaining := r.To - next + 1; remaining < uint64(count) {
			count = int(remaining)
		}

		objects, err := node.GetOperationHistory(ctx, next, count)
		if err != nil {
			err = out.abort(ctx, writer, fmt.Errorf("failed to get operation history from %d: %w", next, err))
			return out, err
		}
		if len(objects) == 0 {
			break
		}

		for _, obj := range objects {
			if obj == nil {
				out.Missing++
				continue
			}
			docs, err := processor.Process(ctx, obj)
			if r.SkipUnsupported && errors.Is(err, protocol.ErrUnknownOperation) {
				log.WithField("operation", obj.ID.String()).Warnf("Skipping unsupported operation: %v", err)
				out.Skipped++
				continue
			}
			if err != nil {
				err = out.abort(ctx, writer, fmt.Errorf("failed to process %s: %w", obj.ID, err))
				return out, err
			}
			if err := writer.Add(ctx, docs...); err != nil {
				err = out.abort(ctx, writer, fmt.Errorf("failed to queue %s: %w", obj.ID, err))
				return out, err
			}
			out.Operations++
		}

		log.WithFields(logrus.Fields{
			"from":  next,
			"count": len(objects),
		}).Info("Reindexed batch")
		next += uint64(len(objects))
	}

	result, err := writer.Flush(ctx)
	out.Result.Merge(result)
	if err != nil {
		return out, fmt.Errorf("failed to flush documents: %w", err)
	}
	return out, nil
}

// abort collects the outcome of batches already handed to the writer and
// returns cause joined with any flush failure
func (r *ReindexResult) abort(ctx context.Context, writer *indexer.Writer, cause error) error {
	result, err := writer.Flush(ctx)
	r.Result.Merge(result)
	if err != nil {
		return errors.Join(cause, fmt.Errorf("failed to flush documents: %w", err))
	}
	return cause
}
