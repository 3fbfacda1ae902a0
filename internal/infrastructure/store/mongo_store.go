package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore maps each collection onto a MongoDB collection of the same name.
type MongoStore struct {
	db *mongo.Database
}

type mongoRecord struct {
	ID        string    `bson:"_id"`
	Data      string    `bson:"data"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db}
}

// ConnectMongo connects and pings the server.
func ConnectMongo(ctx context.Context, uri, database string) (*mongo.Client, *mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, client.Database(database), nil
}

func (ms *MongoStore) All(ctx context.Context, collection string) ([]json.RawMessage, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := ms.db.Collection(collection).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var recs []mongoRecord
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", collection, err)
	}
	out := make([]json.RawMessage, 0, len(recs))
	for _, r := range recs {
		out = append(out, json.RawMessage(r.Data))
	}
	return out, nil
}

func (ms *MongoStore) FindByID(ctx context.Context, collection, id string) (json.RawMessage, bool, error) {
	var rec mongoRecord
	err := ms.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	return json.RawMessage(rec.Data), true, nil
}

func (ms *MongoStore) Insert(ctx context.Context, collection, id string, doc json.RawMessage) error {
	if id == "" {
		return ErrMissingID
	}
	now := time.Now()
	_, err := ms.db.Collection(collection).InsertOne(ctx, mongoRecord{
		ID:        id,
		Data:      string(doc),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateID
	}
	if err != nil {
		return fmt.Errorf("failed to insert %s/%s: %w", collection, id, err)
	}
	return nil
}

func (ms *MongoStore) Update(ctx context.Context, collection, id string, doc json.RawMessage) (bool, error) {
	res, err := ms.db.Collection(collection).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"data": string(doc), "updated_at": time.Now()}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}
	return res.MatchedCount > 0, nil
}

func (ms *MongoStore) Remove(ctx context.Context, collection, id string) (bool, error) {
	res, err := ms.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return false, fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	return res.DeletedCount > 0, nil
}

// SaveAll is not atomic on MongoDB: readers may briefly observe an empty
// collection between the delete and the insert.
func (ms *MongoStore) SaveAll(ctx context.Context, collection string, docs []Document) error {
	coll := ms.db.Collection(collection)
	if _, err := coll.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("failed to clear %s: %w", collection, err)
	}
	if len(docs) == 0 {
		return nil
	}

	base := time.Now()
	recs := make([]interface{}, 0, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			return ErrMissingID
		}
		ts := base.Add(time.Duration(i) * time.Millisecond)
		recs = append(recs, mongoRecord{ID: d.ID, Data: string(d.Data), CreatedAt: ts, UpdatedAt: ts})
	}
	if _, err := coll.InsertMany(ctx, recs); err != nil {
		return fmt.Errorf("failed to insert %s: %w", collection, err)
	}
	return nil
}
