package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/arnabghosh/chat-queue/internal/deadletter"
)

// Repository implements deadletter.Repository using MongoDB
type Repository struct {
	client     *mongo.Client
	database   string
	collection string
}

var _ deadletter.Repository = (*Repository)(nil)

// NewRepository creates a new MongoDB-backed dead-letter repository
func NewRepository(mongoURI, database, collection string) (*Repository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(mongoURI)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	r := &Repository{
		client:     client,
		database:   database,
		collection: collection,
	}
	if err := r.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return r, nil
}

func (r *Repository) coll() *mongo.Collection {
	return r.client.Database(r.database).Collection(r.collection)
}

// ensureIndexes backs the List query: filter by queue, newest first
func (r *Repository) ensureIndexes(ctx context.Context) error {
	_, err := r.coll().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "failed_at", Value: -1}}},
		{Keys: bson.D{{Key: "queue_name", Value: 1}, {Key: "failed_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create dead-letter indexes: %w", err)
	}
	return nil
}

// Store inserts a record
func (r *Repository) Store(ctx context.Context, record *deadletter.Record) error {
	if err := record.Validate(); err != nil {
		return err
	}

	if _, err := r.coll().InsertOne(ctx, record); err != nil {
		return fmt.Errorf("failed to insert dead letter: %w", err)
	}
	return nil
}

// List returns the newest records first, optionally filtered by queue
func (r *Repository) List(ctx context.Context, queueName string, limit int) ([]*deadletter.Record, error) {
	if limit <= 0 {
		limit = deadletter.DefaultListLimit
	}

	filter := bson.M{}
	if queueName != "" {
		filter["queue_name"] = queueName
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "failed_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.coll().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}
	defer cursor.Close(ctx)

	var results []*deadletter.Record
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode dead letters: %w", err)
	}
	if results == nil {
		results = []*deadletter.Record{}
	}
	return results, nil
}

// Count returns the total number of archived records
func (r *Repository) Count(ctx context.Context) (int64, error) {
	count, err := r.coll().CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return count, nil
}

// Close closes the MongoDB connection
func (r *Repository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
