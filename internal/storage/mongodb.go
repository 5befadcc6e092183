package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ety001/op-history-bridge/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	operationsCollection = "operations"
	syncStateCollection  = "sync_state"
	syncStateID          = "checkpoint"
)

// MongoDB represents a MongoDB storage client
type MongoDB struct {
	client     *mongo.Client
	database   *mongo.Database
	operations *mongo.Collection
	syncState  *mongo.Collection
}

// NewMongoDB creates a new MongoDB storage client
func NewMongoDB(uri, databaseName string) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Test connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(databaseName)

	return &MongoDB{
		client:     client,
		database:   db,
		operations: db.Collection(operationsCollection),
		syncState:  db.Collection(syncStateCollection),
	}, nil
}

// Close closes the MongoDB connection
func (m *MongoDB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

// toBSON converts a document body to BSON keyed by its document id. The
// JSON form is authoritative so both backends store the same fields.
func toBSON(doc models.DocumentSource) (bson.D, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var fields bson.D
	if err := bson.UnmarshalExtJSON(data, false, &fields); err != nil {
		return nil, fmt.Errorf("failed to convert document %s: %w", doc.ID(), err)
	}
	return append(bson.D{{Key: "_id", Value: doc.ID()}}, fields...), nil
}

// fromBSON converts a stored document back into a hit
func fromBSON(raw bson.Raw) (Hit, error) {
	var stored bson.D
	if err := bson.Unmarshal(raw, &stored); err != nil {
		return Hit{}, err
	}

	var id string
	fields := make(bson.D, 0, len(stored))
	for _, field := range stored {
		if field.Key == "_id" {
			id, _ = field.Value.(string)
			continue
		}
		fields = append(fields, field)
	}

	source, err := bson.MarshalExtJSON(fields, false, false)
	if err != nil {
		return Hit{}, err
	}
	return Hit{ID: id, Source: source}, nil
}

// Bulk upserts documents by id with one unordered write
func (m *MongoDB) Bulk(ctx context.Context, docs []models.DocumentSource) ([]BulkItem, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	items := make([]BulkItem, len(docs))
	writes := make([]mongo.WriteModel, 0, len(docs))
	// position in docs of each write model
	positions := make([]int, 0, len(docs))
	for i, doc := range docs {
		items[i] = BulkItem{ID: doc.ID(), OK: true}
		replacement, err := toBSON(doc)
		if err != nil {
			items[i] = BulkItem{ID: doc.ID(), Error: err.Error()}
			continue
		}
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": doc.ID()}).
			SetReplacement(replacement).
			SetUpsert(true))
		positions = append(positions, i)
	}
	if len(writes) == 0 {
		return items, nil
	}

	_, err := m.operations.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err == nil {
		return items, nil
	}

	var bulkErr mongo.BulkWriteException
	if !errors.As(err, &bulkErr) || bulkErr.WriteConcernError != nil {
		err = &TransportError{Op: "bulk", Err: err}
		return failedItems(docs, err.Error()), err
	}
	for _, writeErr := range bulkErr.WriteErrors {
		if writeErr.Index < 0 || writeErr.Index >= len(positions) {
			continue
		}
		i := positions[writeErr.Index]
		items[i].OK = false
		items[i].Error = writeErr.Message
	}
	return items, nil
}

// SearchHistory retrieves one account's operations, newest first
func (m *MongoDB) SearchHistory(ctx context.Context, query HistoryQuery) ([]Hit, error) {
	filter := bson.M{"account_history.account": query.Account.String()}
	bounds := bson.M{}
	if query.Before != 0 {
		bounds["$lt"] = query.Before
	}
	if query.From != 0 {
		bounds["$gte"] = query.From
	}
	if len(bounds) > 0 {
		filter["operation_id_num"] = bounds
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "operation_id_num", Value: -1}}).
		SetLimit(int64(query.Limit))

	cursor, err := m.operations.Find(ctx, filter, opts)
	if err != nil {
		return nil, &TransportError{Op: "search history", Err: err}
	}
	defer cursor.Close(ctx)

	var hits []Hit
	for cursor.Next(ctx) {
		hit, err := fromBSON(cursor.Current)
		if err != nil {
			return nil, fmt.Errorf("failed to decode operation: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := cursor.Err(); err != nil {
		return nil, &TransportError{Op: "search history", Err: err}
	}
	return hits, nil
}

// GetOperation retrieves any one document carrying the operation
func (m *MongoDB) GetOperation(ctx context.Context, id uint64) (Hit, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "_id", Value: 1}})
	raw, err := m.operations.FindOne(ctx, bson.M{"operation_id_num": id}, opts).Raw()
	if err == mongo.ErrNoDocuments {
		return Hit{}, ErrNotFound
	}
	if err != nil {
		return Hit{}, &TransportError{Op: "get operation", Err: err}
	}
	return fromBSON(raw)
}

// Checkpoint retrieves the current sync state
func (m *MongoDB) Checkpoint(ctx context.Context) (*models.SyncState, error) {
	var state models.SyncState
	err := m.syncState.FindOne(ctx, bson.M{"_id": syncStateID}).Decode(&state)
	if err == mongo.ErrNoDocuments {
		// Nothing indexed yet
		return &models.SyncState{}, nil
	}
	if err != nil {
		return nil, &TransportError{Op: "get checkpoint", Err: err}
	}
	return &state, nil
}

// SaveCheckpoint updates the sync state
func (m *MongoDB) SaveCheckpoint(ctx context.Context, state models.SyncState) error {
	opts := options.Update().SetUpsert(true)
	filter := bson.M{"_id": syncStateID}
	update := bson.M{"$set": state}

	if _, err := m.syncState.UpdateOne(ctx, filter, update, opts); err != nil {
		return &TransportError{Op: "save checkpoint", Err: err}
	}
	return nil
}

// CreateIndexes creates necessary indexes for better query performance
func (m *MongoDB) CreateIndexes(ctx context.Context) error {
	// Account history pages are read newest first
	historyIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "account_history.account", Value: 1},
			{Key: "operation_id_num", Value: -1},
		},
	}

	// Lookup by operation
	operationIndex := mongo.IndexModel{
		Keys: bson.D{{Key: "operation_id_num", Value: 1}},
	}

	// Index on operation_type for ad-hoc filtering
	opTypeIndex := mongo.IndexModel{
		Keys: bson.D{{Key: "operation_type", Value: 1}},
	}

	_, err := m.operations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		historyIndex,
		operationIndex,
		opTypeIndex,
	})
	return err
}
