package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"telenotify/internal/constants"
)

// AlertHistoryIndexes are the secondary indexes on the alert_history collection. The
// request id is the document _id and needs none.
func AlertHistoryIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "origin_id", Value: 1}},
			Options: options.Index().SetName("idx_alert_history_origin_id"),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("idx_alert_history_updated_at"),
		},
		{
			Keys:    bson.D{{Key: "retry_records.exception_class_name", Value: 1}},
			Options: options.Index().SetName("idx_alert_history_exception"),
		},
	}
}

func EnsureMongoCollection(ctx context.Context, db *mongo.Database) error {
	names, err := db.ListCollectionNames(ctx, bson.M{"name": constants.AlertHistoryCollection})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	if len(names) == 0 {
		if err := db.CreateCollection(ctx, constants.AlertHistoryCollection); err != nil &&
			!strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}

	_, err = db.Collection(constants.AlertHistoryCollection).Indexes().CreateMany(ctx, AlertHistoryIndexes())
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
