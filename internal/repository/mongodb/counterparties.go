package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/possync/reconcile/internal/domain/models"
	"github.com/possync/reconcile/internal/repository"
)

type counterpartyRepo struct {
	coll *mongo.Collection
}

func (r *counterpartyRepo) FindByNames(ctx context.Context, channel models.Channel, names []string) ([]models.Counterparty, error) {
	names = repository.DistinctStrings(names)
	if len(names) == 0 {
		return nil, nil
	}
	return r.find(ctx, bson.M{"channel": string(channel), "name": bson.M{"$in": names}})
}

// EnsureExists inserts missing names only; $setOnInsert leaves existing fee
// rates alone.
func (r *counterpartyRepo) EnsureExists(ctx context.Context, channel models.Channel, names []string, feeRate decimal.Decimal) error {
	names = repository.DistinctStrings(names)
	if len(names) == 0 {
		return nil
	}
	now := time.Now().UTC()
	writes := make([]mongo.WriteModel, 0, len(names))
	for _, name := range names {
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"channel": string(channel), "name": name}).
			SetUpdate(bson.M{"$setOnInsert": bson.M{
				"channel":    string(channel),
				"name":       name,
				"fee_rate":   toDecimal128(feeRate),
				"created_at": now,
			}}).
			SetUpsert(true))
	}
	_, err := r.coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("register counterparties: %w", err)
	}
	return nil
}

func (r *counterpartyRepo) List(ctx context.Context, channel models.Channel) ([]models.Counterparty, error) {
	filter := bson.M{}
	if channel != "" {
		filter["channel"] = string(channel)
	}
	return r.find(ctx, filter)
}

func (r *counterpartyRepo) find(ctx context.Context, filter bson.M) ([]models.Counterparty, error) {
	opts := options.Find().SetSort(bson.D{{Key: "channel", Value: 1}, {Key: "name", Value: 1}})
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find counterparties: %w", err)
	}
	var docs []counterpartyDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode counterparties: %w", err)
	}
	out := make([]models.Counterparty, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}
