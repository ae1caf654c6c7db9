package storage

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"contentd/src/helpers"
	"contentd/src/schema"
)

const schemasCollection = "schemas"

// MongoSchemaStore reads and writes schema documents in the admin database.
// It satisfies schema.Store; the registry caches in front of it.
type MongoSchemaStore struct {
	db *mongo.Database
}

func NewMongoSchemaStore(db *mongo.Database) *MongoSchemaStore {
	return &MongoSchemaStore{db: db}
}

// LoadSchema matches any of the name forms a caller may address a schema by,
// including the normalized collection form.
func (s *MongoSchemaStore) LoadSchema(ctx context.Context, name string) (*schema.Document, error) {
	normalized := helpers.NormalizeCollectionName(name)
	filter := bson.M{"$or": bson.A{
		bson.M{"name.singular": name},
		bson.M{"name.plural": name},
		bson.M{"name.endpoint": name},
		bson.M{"name.collection": name},
		bson.M{"name.collection": normalized},
	}}

	var doc schema.Document
	err := s.db.Collection(schemasCollection).FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *MongoSchemaStore) LoadAllSchemas(ctx context.Context) ([]*schema.Document, error) {
	cursor, err := s.db.Collection(schemasCollection).Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []*schema.Document
	for cursor.Next(ctx) {
		var doc schema.Document
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		docs = append(docs, &doc)
	}
	return docs, cursor.Err()
}

func (s *MongoSchemaStore) CreateSchema(ctx context.Context, doc *schema.Document) (string, error) {
	if doc.ID.IsZero() {
		doc.ID = primitive.NewObjectID()
	}
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	result, err := s.db.Collection(schemasCollection).InsertOne(ctx, doc)
	if err != nil {
		return "", err
	}
	if id, ok := result.InsertedID.(primitive.ObjectID); ok {
		return id.Hex(), nil
	}
	return doc.ID.Hex(), nil
}

func (s *MongoSchemaStore) UpdateSchema(ctx context.Context, doc *schema.Document) error {
	doc.UpdatedAt = time.Now().UTC()
	_, err := s.db.Collection(schemasCollection).ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc)
	return err
}
