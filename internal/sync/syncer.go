package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ety001/op-history-bridge/internal/indexer"
	"github.com/ety001/op-history-bridge/internal/metrics"
	"github.com/ety001/op-history-bridge/internal/models"
	"github.com/ety001/op-history-bridge/internal/protocol"
	"github.com/ety001/op-history-bridge/internal/storage"
	"github.com/ety001/op-history-bridge/internal/telegram"
)

// Blocks older than this are indexed with the replay batch size
const replayLag = 30 * time.Second

// Alerter delivers failure notifications
type Alerter interface {
	SendMessage(ctx context.Context, text string) error
}

// Syncer handles the synchronization process
type Syncer struct {
	node      Node
	backend   storage.Backend
	writer    *indexer.Writer
	processor *BlockProcessor
	alerter   Alerter
	config    *models.Config
	log       *logrus.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	stopChan  chan struct{}
}

// NewSyncer creates a new syncer. alerter may be nil.
func NewSyncer(
	node Node,
	backend storage.Backend,
	writer *indexer.Writer,
	processor *BlockProcessor,
	alerter Alerter,
	config *models.Config,
	log *logrus.Logger,
	m *metrics.Metrics,
) *Syncer {
	return &Syncer{
		node:      node,
		backend:   backend,
		writer:    writer,
		processor: processor,
		alerter:   alerter,
		config:    config,
		log:       log,
		metrics:   m,
		now:       time.Now,
		stopChan:  make(chan struct{}),
	}
}

// PassResult summarises one synchronization pass
type PassResult struct {
	From       uint64 // first operation instance examined
	Next       uint64 // checkpoint after the pass
	LastBlock  uint32
	Operations int // operations indexed
	Skipped    int // operations examined but not indexed
	Documents  int
}

// Start starts the synchronization process
func (s *Syncer) Start(ctx context.Context) error {
	s.log.Info("Starting sync service...")

	ticker := time.NewTicker(s.config.Node.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Sync service stopped by context")
			return ctx.Err()
		case <-s.stopChan:
			s.log.Info("Sync service stopped")
			return nil
		case <-ticker.C:
			pass, err := s.SyncOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.log.Errorf("Error syncing operations: %v", err)
				continue
			}
			if pass.Operations > 0 || pass.Skipped > 0 {
				s.log.WithFields(logrus.Fields{
					"from":       pass.From,
					"next":       pass.Next,
					"last_block": pass.LastBlock,
					"documents":  pass.Documents,
					"skipped":    pass.Skipped,
				}).Infof("Indexed %d operations", pass.Operations)
			}
		}
	}
}

// SyncOnce indexes every operation in an irreversible block that follows
// the checkpoint, then advances the checkpoint if every document was
// accepted
func (s *Syncer) SyncOnce(ctx context.Context) (PassResult, error) {
	state, err := s.backend.Checkpoint(ctx)
	if err != nil {
		return PassResult{}, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	next := state.NextOperation
	if next < s.config.Node.StartOperation {
		next = s.config.Node.StartOperation
	}
	pass := PassResult{From: next, Next: next, LastBlock: state.LastBlock}

	props, err := s.node.GetDynamicGlobalProperties(ctx)
	if err != nil {
		return pass, fmt.Errorf("failed to get dynamic global properties: %w", err)
	}
	s.metrics.SetChainState(props.HeadBlockNumber, props.LastIrreversibleBlockNum)

	batchSize := s.config.Node.BatchSize
	done := false
	for !done {
		objects, err := s.node.GetOperationHistory(ctx, pass.Next, batchSize)
		if err != nil {
			_, flushErr := s.abandon(ctx)
			return pass, errors.Join(fmt.Errorf("failed to get operation history from %d: %w", pass.Next, err), flushErr)
		}

		end := len(objects)
		for end > 0 && objects[end-1] == nil {
			end--
		}
		if end < batchSize {
			done = true
		}

		for i, obj := range objects[:end] {
			instance := pass.Next
			if obj == nil {
				// removed from the node, nothing to index
				pass.Skipped++
				pass.Next = instance + 1
				continue
			}
			if obj.BlockNum > props.LastIrreversibleBlockNum {
				done = true
				break
			}
			if obj.ID.Instance != instance {
				_, flushErr := s.abandon(ctx)
				return pass, errors.Join(fmt.Errorf("node returned %s at position %d of a request from %d", obj.ID, i, instance-uint64(i)), flushErr)
			}

			if obj.BlockNum > s.config.Node.StartAfterBlock {
				indexed, err := s.index(ctx, obj, &pass)
				if err != nil {
					result, flushErr := s.abandon(ctx)
					s.alert(ctx, &pass, result, err)
					return pass, errors.Join(err, flushErr)
				}
				if !indexed {
					pass.Skipped++
				}
			} else {
				pass.Skipped++
			}

			pass.Next = instance + 1
			pass.LastBlock = obj.BlockNum
		}
	}

	if err := s.commit(ctx, &pass); err != nil {
		return pass, err
	}
	return pass, nil
}

// index processes one history object and hands its documents to the
// writer. It reports false for an operation skipped as unsupported; any
// other decode failure is returned so the checkpoint stays before it.
func (s *Syncer) index(ctx context.Context, obj *HistoryObject, pass *PassResult) (bool, error) {
	docs, err := s.processor.Process(ctx, obj)
	if s.config.Indexer.SkipUnsupported && errors.Is(err, protocol.ErrUnknownOperation) {
		s.log.WithFields(logrus.Fields{
			"operation": obj.ID.String(),
			"block":     obj.BlockNum,
		}).Warnf("Skipping unsupported operation: %v", err)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to process %s: %w", obj.ID, err)
	}
	if len(docs) == 0 {
		return false, nil
	}

	if s.now().Sub(docs[0].Block.BlockTime) > replayLag {
		s.writer.SetThreshold(s.config.Indexer.BulkReplay)
	} else {
		s.writer.SetThreshold(s.config.Indexer.BulkSync)
	}

	if err := s.writer.Add(ctx, docs...); err != nil {
		return false, fmt.Errorf("failed to queue %s: %w", obj.ID, err)
	}
	pass.Operations++
	pass.Documents += len(docs)
	return true, nil
}

// commit flushes the writer and saves the checkpoint when every document
// of the pass was accepted
func (s *Syncer) commit(ctx context.Context, pass *PassResult) error {
	result, err := s.writer.Flush(ctx)
	if err != nil || !result.OK() {
		s.alert(ctx, pass, result, err)
		if err == nil {
			err = fmt.Errorf("%d of %d documents rejected", len(result.Failed()), len(result.Items))
		}
		return fmt.Errorf("checkpoint kept at %d: %w", pass.From, err)
	}

	if pass.Next == pass.From {
		return nil
	}
	state := models.SyncState{
		NextOperation: pass.Next,
		LastBlock:     pass.LastBlock,
		UpdatedAt:     s.now().UTC(),
	}
	if err := s.backend.SaveCheckpoint(ctx, state); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	s.metrics.SetNextOperation(pass.Next)
	return nil
}

// abandon waits for queued documents so the next pass starts clean; the
// checkpoint is not advanced
func (s *Syncer) abandon(ctx context.Context) (indexer.BulkResult, error) {
	result, err := s.writer.Flush(ctx)
	if err != nil {
		s.log.Warnf("Flush after failed pass: %v", err)
		return result, fmt.Errorf("flush after failed pass: %w", err)
	}
	return result, nil
}

func (s *Syncer) alert(ctx context.Context, pass *PassResult, result indexer.BulkResult, cause error) {
	if s.alerter == nil {
		return
	}
	var failed []telegram.FailedDocument
	for _, item := range result.Failed() {
		failed = append(failed, telegram.FailedDocument{ID: item.ID, Reason: item.Error})
	}
	msg := telegram.FormatIndexFailureMessage(pass.From, pass.LastBlock, cause, failed, s.now())
	if err := s.alerter.SendMessage(ctx, msg); err != nil {
		s.log.Warnf("Failed to send alert: %v", err)
	}
}

// Stop stops the syncer
func (s *Syncer) Stop() {
	close(s.stopChan)
}
