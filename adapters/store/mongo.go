package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/freyr/offer/offer"
)

// MongoTemplateStore keeps offer templates in a Mongo collection, keyed by
// template name.
type MongoTemplateStore struct {
	collection *mongo.Collection
}

// NewMongoTemplateStore creates the store over the given database.
func NewMongoTemplateStore(db *mongo.Database, collectionName string) *MongoTemplateStore {
	if collectionName == "" {
		collectionName = "offer_templates"
	}
	return &MongoTemplateStore{collection: db.Collection(collectionName)}
}

func (s *MongoTemplateStore) Put(ctx context.Context, t offer.Template) error {
	filter := bson.M{"_id": t.Name}
	update := bson.M{"$set": bson.M{"body": t.Body}}
	opts := options.Update().SetUpsert(true)
	if _, err := s.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("put template %q: %w", t.Name, err)
	}
	return nil
}

func (s *MongoTemplateStore) Get(ctx context.Context, name string) (offer.Template, bool, error) {
	var t offer.Template
	err := s.collection.FindOne(ctx, bson.M{"_id": name}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return t, false, nil
	}
	if err != nil {
		return t, false, fmt.Errorf("get template %q: %w", name, err)
	}
	return t, true, nil
}
