package retryhistory

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"telenotify/internal/constants"
	pkgerrors "telenotify/pkg/errors"
)

// Repository persists alert histories. FindByID returns an error matching
// pkgerrors.ErrNotFound when no history exists. Save is a conditional put: it creates the
// history when history.Version is zero and otherwise replaces the stored one only while its
// version still equals history.Version. On success history.Version holds the new version;
// a lost race returns an error matching pkgerrors.ErrConflict and writes nothing.
type Repository interface {
	FindByID(ctx context.Context, requestID string) (*AlertHistory, error)
	Save(ctx context.Context, history *AlertHistory) error
}

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection(constants.AlertHistoryCollection),
	}
}

func (r *MongoRepository) FindByID(ctx context.Context, requestID string) (*AlertHistory, error) {
	var history AlertHistory
	err := r.collection.FindOne(ctx, bson.M{"_id": requestID}).Decode(&history)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, pkgerrors.ErrNotFound.WithMessage("alert history %s not found", requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find alert history %s: %w", requestID, err)
	}
	return &history, nil
}

func (r *MongoRepository) Save(ctx context.Context, history *AlertHistory) error {
	expected := history.Version
	doc := *history
	doc.Version = expected + 1

	if expected == 0 {
		_, err := r.collection.InsertOne(ctx, &doc)
		if mongo.IsDuplicateKeyError(err) {
			return pkgerrors.ErrConflict.WithMessage("alert history %s was created concurrently", history.RequestID)
		}
		if err != nil {
			return fmt.Errorf("failed to insert alert history %s: %w", history.RequestID, err)
		}
		history.Version = doc.Version
		return nil
	}

	res, err := r.collection.ReplaceOne(ctx,
		bson.M{"_id": history.RequestID, "version": expected},
		&doc,
	)
	if err != nil {
		return fmt.Errorf("failed to save alert history %s: %w", history.RequestID, err)
	}
	if res.MatchedCount == 0 {
		return pkgerrors.ErrConflict.WithMessage("alert history %s changed since version %d", history.RequestID, expected)
	}
	history.Version = doc.Version
	return nil
}
