// Package mongostore keeps table snapshots in MongoDB: one collection per
// table group, one document per table keyed by name.
//
//	{_id: "AKRN", rows: [{date: ISODate, close: NumberDecimal, ...}], timestamp: ISODate}
//
// Replacing rows is a $set, appending is a $push with $each. Both set the
// timestamp in the same single-document update, which MongoDB applies
// atomically.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/roach88/tablesync/internal/table"
)

// Store is a MongoDB-backed snapshot store.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open connects to uri and uses database name.
func Open(ctx context.Context, uri, name string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Store{client: client, db: client.Database(name)}, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type document struct {
	Rows      []bson.D           `bson:"rows"`
	Timestamp primitive.DateTime `bson:"timestamp"`
}

// Load returns the snapshot of id, or an empty one if the document is absent.
func (s *Store) Load(ctx context.Context, id table.ID) (table.Snapshot, error) {
	var doc document
	err := s.db.Collection(id.Group).FindOne(ctx, bson.M{"_id": id.Name}).Decode(&doc)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return table.Snapshot{ID: id}, nil
	case err != nil:
		return table.Snapshot{}, fmt.Errorf("load %s: %w", id, err)
	}

	rows, err := decodeRows(doc.Rows)
	if err != nil {
		return table.Snapshot{}, fmt.Errorf("load %s: %w", id, err)
	}
	return table.Snapshot{ID: id, Rows: rows, Timestamp: doc.Timestamp.Time().UTC()}, nil
}

// Save applies change with a single upserting update.
func (s *Store) Save(ctx context.Context, change table.Change) error {
	update, err := updateFor(change)
	if err != nil {
		return fmt.Errorf("save %s: %w", change.ID, err)
	}

	_, err = s.db.Collection(change.ID.Group).UpdateOne(ctx,
		bson.M{"_id": change.ID.Name},
		update,
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save %s: %w", change.ID, err)
	}
	return nil
}

// List returns the identities of all stored tables, ordered by group and name.
func (s *Store) List(ctx context.Context) ([]table.ID, error) {
	groups, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	sort.Strings(groups)

	var ids []table.ID
	for _, group := range groups {
		cur, err := s.db.Collection(group).Find(ctx, bson.D{},
			options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.M{"_id": 1}))
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", group, err)
		}
		var docs []struct {
			Name string `bson:"_id"`
		}
		if err := cur.All(ctx, &docs); err != nil {
			return nil, fmt.Errorf("list %s: %w", group, err)
		}
		for _, d := range docs {
			ids = append(ids, table.ID{Group: group, Name: d.Name})
		}
	}
	return ids, nil
}

// ViewJSON returns the stored rows of id as canonical extended JSON.
func (s *Store) ViewJSON(ctx context.Context, id table.ID) ([]byte, error) {
	projection := options.FindOne().SetProjection(bson.M{"_id": 0, "rows": 1})
	raw, err := s.db.Collection(id.Group).FindOne(ctx, bson.M{"_id": id.Name}, projection).DecodeBytes()
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return nil, table.NeverUpdated(id)
	case err != nil:
		return nil, fmt.Errorf("view %s: %w", id, err)
	}
	return bson.MarshalExtJSON(raw, true, false)
}

// updateFor builds the update document of a change.
func updateFor(change table.Change) (bson.M, error) {
	rows, err := encodeRows(change.Rows)
	if err != nil {
		return nil, err
	}
	ts := primitive.NewDateTimeFromTime(change.Timestamp)

	switch change.Mode {
	case table.ModeReplace:
		return bson.M{"$set": bson.M{"rows": rows, "timestamp": ts}}, nil
	case table.ModeAppend:
		return bson.M{
			"$push": bson.M{"rows": bson.M{"$each": rows}},
			"$set":  bson.M{"timestamp": ts},
		}, nil
	default:
		return nil, fmt.Errorf("unknown mode %d", change.Mode)
	}
}
