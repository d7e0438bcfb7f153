// Package db selects the ledger backend named by the profile.
package db

import (
	"github.com/pkg/errors"

	"github.com/francktshibala/bookbridge/internal/profile"
	"github.com/francktshibala/bookbridge/store"
	"github.com/francktshibala/bookbridge/store/db/mongo"
	"github.com/francktshibala/bookbridge/store/db/postgres"
	"github.com/francktshibala/bookbridge/store/db/sqlite"
)

// NewDBDriver creates the driver for profile.Driver.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	case "mongo":
		driver, err = mongo.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver: %s", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
