package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/possync/reconcile/internal/domain/models"
	"github.com/possync/reconcile/internal/repository"
)

type approvalRepo struct {
	coll *mongo.Collection
}

var approvalSort = bson.D{
	{Key: "approval_date", Value: 1},
	{Key: "terminal_number", Value: 1},
	{Key: "transaction_number", Value: 1},
	{Key: "channel", Value: 1},
}

// Upsert writes approvals keyed by channel, date, terminal and transaction,
// in order, so a later duplicate in the slice wins.
func (r *approvalRepo) Upsert(ctx context.Context, approvals []models.Approval) error {
	if len(approvals) == 0 {
		return nil
	}
	now := time.Now().UTC()
	writes := make([]mongo.WriteModel, 0, len(approvals))
	for _, a := range approvals {
		a.UpdatedAt = now
		doc := newApprovalDoc(a)
		filter := bson.M{
			"channel":            doc.Channel,
			"approval_date":      doc.ApprovalDate,
			"terminal_number":    doc.TerminalNumber,
			"transaction_number": doc.TransactionNumber,
		}
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(filter).
			SetUpdate(bson.M{"$set": doc}).
			SetUpsert(true))
	}
	if _, err := r.coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(true)); err != nil {
		return fmt.Errorf("upsert approvals: %w", err)
	}
	return nil
}

func (r *approvalRepo) FindUnmatched(ctx context.Context, channel models.Channel) ([]models.Approval, error) {
	filter := bson.M{"matched": false}
	if channel != "" {
		filter["channel"] = string(channel)
	}
	return r.find(ctx, filter)
}

func (r *approvalRepo) FindByReceiptKeys(ctx context.Context, keys []models.ReceiptKey) ([]models.Approval, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	or := make(bson.A, 0, len(keys))
	for _, k := range repository.DistinctKeys(keys) {
		or = append(or, bson.M{"approval_date": k.Date, "receipt_number": k.ReceiptNumber})
	}
	return r.find(ctx, bson.M{"$or": or})
}

func (r *approvalRepo) find(ctx context.Context, filter bson.M) ([]models.Approval, error) {
	cursor, err := r.coll.Find(ctx, filter, options.Find().SetSort(approvalSort))
	if err != nil {
		return nil, fmt.Errorf("find approvals: %w", err)
	}
	var docs []approvalDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode approvals: %w", err)
	}
	out := make([]models.Approval, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}
