package storage

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"contentd/src/engine"
)

// MongoExecutor runs compiled pipelines and predicates against the data
// database. The compiler never talks to mongo directly; everything flows
// through here.
type MongoExecutor struct {
	db     *mongo.Database
	logger *zap.SugaredLogger
}

func NewMongoExecutor(db *mongo.Database, logger *zap.SugaredLogger) *MongoExecutor {
	return &MongoExecutor{db: db, logger: logger}
}

// Connect dials mongo and verifies the connection with a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	return client, nil
}

// Aggregate executes an ordered stage list and drains the cursor.
func (e *MongoExecutor) Aggregate(ctx context.Context, collection string, pipeline []bson.D) ([]map[string]any, error) {
	cursor, err := e.db.Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var results []map[string]any
	for cursor.Next(ctx) {
		var doc map[string]any
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		results = append(results, doc)
	}
	return results, cursor.Err()
}

// Count counts documents matching the bare predicate.
func (e *MongoExecutor) Count(ctx context.Context, collection string, predicate bson.M) (int64, error) {
	return e.db.Collection(collection).CountDocuments(ctx, predicate)
}

// FindOne returns the first match or nil when nothing matches.
func (e *MongoExecutor) FindOne(ctx context.Context, collection string, predicate bson.M) (map[string]any, error) {
	var doc map[string]any
	err := e.db.Collection(collection).FindOne(ctx, predicate).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// InsertOne writes a document and returns its identifier.
func (e *MongoExecutor) InsertOne(ctx context.Context, collection string, doc map[string]any) (primitive.ObjectID, error) {
	result, err := e.db.Collection(collection).InsertOne(ctx, doc)
	if err != nil {
		return primitive.NilObjectID, err
	}
	if id, ok := result.InsertedID.(primitive.ObjectID); ok {
		return id, nil
	}
	return primitive.NilObjectID, nil
}

// UpdateByID applies a $set and returns the updated document.
func (e *MongoExecutor) UpdateByID(ctx context.Context, collection string, id primitive.ObjectID, set map[string]any) (map[string]any, error) {
	after := options.After
	var doc map[string]any
	err := e.db.Collection(collection).FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(after),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// DeleteByID removes one document. The bool reports whether anything was
// deleted.
func (e *MongoExecutor) DeleteByID(ctx context.Context, collection string, id primitive.ObjectID) (bool, error) {
	result, err := e.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return false, err
	}
	return result.DeletedCount > 0, nil
}

// Distinct returns the distinct values of one field under a predicate.
func (e *MongoExecutor) Distinct(ctx context.Context, collection, field string, predicate bson.M) ([]any, error) {
	return e.db.Collection(collection).Distinct(ctx, field, predicate)
}

// EnsureIndexes applies a model's index hints. Failures are logged, not
// fatal: a missing index slows reads, it does not break them.
func (e *MongoExecutor) EnsureIndexes(ctx context.Context, collection string, hints []engine.IndexHint) {
	for _, hint := range hints {
		keys := bson.D{{Key: hint.Field, Value: 1}}
		opts := options.Index()
		switch {
		case hint.Unique:
			opts.SetUnique(true)
		case hint.Type == "sparse":
			opts.SetSparse(true)
		}
		model := mongo.IndexModel{Keys: keys, Options: opts}
		if _, err := e.db.Collection(collection).Indexes().CreateOne(ctx, model); err != nil {
			e.logger.Warnw("failed to ensure index",
				"collection", collection, "field", hint.Field, "error", err)
		}
	}
}
