package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/possync/reconcile/internal/domain/models"
	"github.com/possync/reconcile/internal/repository"
)

type saleRepo struct {
	coll *mongo.Collection
}

func receiptFilter(keys []models.ReceiptKey) bson.M {
	or := make(bson.A, 0, len(keys))
	for _, k := range repository.DistinctKeys(keys) {
		or = append(or, bson.M{"sale_date": k.Date, "receipt_number": k.ReceiptNumber})
	}
	return bson.M{"$or": or}
}

func (r *saleRepo) FindByReceiptKeys(ctx context.Context, keys []models.ReceiptKey) ([]models.SaleLineItem, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	return r.find(ctx, receiptFilter(keys), options.Find())
}

func (r *saleRepo) FindByReceiptNumbers(ctx context.Context, numbers []string, fromDate, toDate string) ([]models.SaleLineItem, error) {
	numbers = repository.DistinctStrings(numbers)
	if len(numbers) == 0 {
		return nil, nil
	}
	filter := bson.M{
		"receipt_number": bson.M{"$in": numbers},
		"sale_date":      bson.M{"$gte": fromDate, "$lte": toDate},
	}
	return r.find(ctx, filter, options.Find())
}

func (r *saleRepo) DeleteByReceiptKeys(ctx context.Context, keys []models.ReceiptKey) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	res, err := r.coll.DeleteMany(ctx, receiptFilter(keys))
	if err != nil {
		return 0, fmt.Errorf("delete sale lines: %w", err)
	}
	return res.DeletedCount, nil
}

func (r *saleRepo) InsertMany(ctx context.Context, items []models.SaleLineItem) ([]models.SaleLineItem, error) {
	if len(items) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	docs := make([]interface{}, 0, len(items))
	out := make([]models.SaleLineItem, 0, len(items))
	for _, item := range items {
		doc := newSaleDoc(item)
		if doc.ID.IsZero() {
			doc.ID = primitive.NewObjectID()
		}
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = now
		}
		docs = append(docs, doc)
		out = append(out, doc.model())
	}
	if _, err := r.coll.InsertMany(ctx, docs); err != nil {
		return nil, fmt.Errorf("insert sale lines: %w", err)
	}
	return out, nil
}

func (r *saleRepo) SetAttribution(ctx context.Context, ids []string, attribution models.Attribution) (int64, error) {
	oids := objectIDs(ids)
	if len(oids) == 0 {
		return 0, nil
	}
	set := bson.M{"payment_type": string(attribution.PaymentType)}
	update := bson.M{"$set": set}
	if attribution.CounterpartyID != "" {
		set["counterparty_id"] = attribution.CounterpartyID
	} else {
		update["$unset"] = bson.M{"counterparty_id": ""}
	}
	res, err := r.coll.UpdateMany(ctx, bson.M{"_id": bson.M{"$in": oids}}, update)
	if err != nil {
		return 0, fmt.Errorf("set attribution: %w", err)
	}
	return res.MatchedCount, nil
}

func (r *saleRepo) List(ctx context.Context, filter repository.SaleFilter) ([]models.SaleLineItem, error) {
	query := bson.M{}
	if filter.Date != "" {
		query["sale_date"] = filter.Date
	}
	if filter.ReceiptNumber != "" {
		query["receipt_number"] = filter.ReceiptNumber
	}
	opts := options.Find().SetSort(bson.D{
		{Key: "sale_date", Value: 1},
		{Key: "receipt_number", Value: 1},
		{Key: "_id", Value: 1},
	})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	return r.find(ctx, query, opts)
}

func (r *saleRepo) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.SaleLineItem, error) {
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find sale lines: %w", err)
	}
	var docs []saleDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode sale lines: %w", err)
	}
	out := make([]models.SaleLineItem, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}
