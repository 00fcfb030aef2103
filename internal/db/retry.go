package db

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

// DefaultUpsertAttempts bounds retries of an upsert that lost a race on a unique index.
const DefaultUpsertAttempts = 3

// RetryOnDuplicate runs op and repeats it while it fails with a duplicate key
// error, up to attempts retries after the first call. Backoff grows linearly
// and stops early when ctx is done.
func RetryOnDuplicate(ctx context.Context, attempts int, op func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = op(ctx)
		if err == nil || !IsMongoDuplicateKeyError(err) || attempt >= attempts {
			return err
		}

		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(time.Duration(25*(attempt+1)) * time.Millisecond):
		}
	}
}

// IsMongoDuplicateKeyError reports whether err carries MongoDB error code 11000.
func IsMongoDuplicateKeyError(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		for _, e := range bwe.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	// Racing upserts surface as a command error.
	var ce mongo.CommandError
	return errors.As(err, &ce) && ce.Code == 11000
}
