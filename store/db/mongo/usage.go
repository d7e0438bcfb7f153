package mongo

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/francktshibala/bookbridge/store"
)

type usageDoc struct {
	UserID    string    `bson:"user_id,omitempty"`
	Date      string    `bson:"date"`
	Queries   int64     `bson:"queries"`
	Tokens    int64     `bson:"tokens"`
	CostUSD   float64   `bson:"cost_usd"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (d *DB) GetUserUsage(ctx context.Context, userID, date string) (*store.UsageRecord, error) {
	var doc usageDoc
	err := d.db.Collection(userCollection).FindOne(ctx, bson.M{"user_id": userID, "date": date}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user usage")
	}
	return &store.UsageRecord{
		UserID:    doc.UserID,
		Date:      doc.Date,
		Queries:   doc.Queries,
		Tokens:    doc.Tokens,
		CostUSD:   doc.CostUSD,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

func (d *DB) GetSystemUsage(ctx context.Context, date string) (*store.SystemUsageRecord, error) {
	var doc usageDoc
	err := d.db.Collection(systemCollection).FindOne(ctx, bson.M{"date": date}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get system usage")
	}
	return &store.SystemUsageRecord{
		Date:      doc.Date,
		Queries:   doc.Queries,
		Tokens:    doc.Tokens,
		CostUSD:   doc.CostUSD,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

// IncrementUsage applies $inc with upsert to both documents. Two concurrent first
// writes can race on the unique index; the loser retries once and lands on the
// winner's document.
func (d *DB) IncrementUsage(ctx context.Context, userID, date string, delta store.UsageDelta) error {
	update := bson.M{
		"$inc": bson.M{
			"queries":  delta.Queries,
			"tokens":   delta.Tokens,
			"cost_usd": delta.CostUSD,
		},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}

	if err := d.upsertInc(ctx, userCollection, bson.M{"user_id": userID, "date": date}, update); err != nil {
		return errors.Wrap(err, "failed to increment user usage")
	}
	if err := d.upsertInc(ctx, systemCollection, bson.M{"date": date}, update); err != nil {
		return errors.Wrap(err, "failed to increment system usage")
	}
	return nil
}

func (d *DB) upsertInc(ctx context.Context, collection string, filter, update bson.M) error {
	opts := options.Update().SetUpsert(true)
	coll := d.db.Collection(collection)

	_, err := coll.UpdateOne(ctx, filter, update, opts)
	if mongo.IsDuplicateKeyError(err) {
		_, err = coll.UpdateOne(ctx, filter, update, opts)
	}
	return err
}
