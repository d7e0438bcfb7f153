// Package mongo stores the usage ledger in MongoDB, one document per (user, day)
// and one per day for the system totals.
package mongo

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"github.com/francktshibala/bookbridge/internal/profile"
	"github.com/francktshibala/bookbridge/store"
)

const (
	defaultDatabase  = "bookbridge"
	userCollection   = "user_daily_usage"
	systemCollection = "system_daily_usage"
	connectTimeout   = 10 * time.Second
)

type DB struct {
	client  *mongo.Client
	db      *mongo.Database
	profile *profile.Profile
}

// NewDB connects to profile.DSN. The database name is taken from the URI path,
// defaulting to "bookbridge".
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	opts := options.Client().ApplyURI(profile.DSN)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to mongo")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "failed to ping mongo")
	}

	return &DB{client: client, db: client.Database(databaseName(profile.DSN)), profile: profile}, nil
}

func databaseName(uri string) string {
	name, err := parseURI(uri)
	if err != nil || name == "" {
		return defaultDatabase
	}
	return name
}

func parseURI(uri string) (string, error) {
	cs, err := connstring.ParseAndValidate(uri)
	if err != nil {
		return "", err
	}
	return cs.Database, nil
}

func (d *DB) Ping(ctx context.Context) error {
	return d.client.Ping(ctx, readpref.Primary())
}

func (d *DB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return d.client.Disconnect(ctx)
}

// Migrate creates the unique indexes that make upserts land on one document per key.
func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.db.Collection(userCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "date", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("user_date_unique"),
	})
	if err != nil {
		return errors.Wrap(err, "failed to create user usage index")
	}
	_, err = d.db.Collection(systemCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "date", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("date_unique"),
	})
	if err != nil {
		return errors.Wrap(err, "failed to create system usage index")
	}
	return nil
}
