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

type productRepo struct {
	coll *mongo.Collection
}

func (r *productRepo) FindByID(ctx context.Context, id string) (models.Product, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return models.Product{}, repository.ErrNotFound
	}
	var doc productDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return models.Product{}, notFound(err)
	}
	return doc.model(), nil
}

func (r *productRepo) FindByIDs(ctx context.Context, ids []string) ([]models.Product, error) {
	oids := objectIDs(ids)
	if len(oids) == 0 {
		return nil, nil
	}
	return r.find(ctx, bson.M{"_id": bson.M{"$in": oids}})
}

func (r *productRepo) FindByCodesOrBarcodes(ctx context.Context, codes, barcodes []string) ([]models.Product, error) {
	codes = repository.DistinctStrings(codes)
	barcodes = repository.DistinctStrings(barcodes)
	var or bson.A
	if len(codes) > 0 {
		or = append(or, bson.M{"product_code": bson.M{"$in": codes}})
	}
	if len(barcodes) > 0 {
		or = append(or, bson.M{"barcode": bson.M{"$in": barcodes}})
	}
	if len(or) == 0 {
		return nil, nil
	}
	return r.find(ctx, bson.M{"$or": or})
}

func (r *productRepo) FindLowStock(ctx context.Context) ([]models.Product, error) {
	return r.find(ctx, bson.M{"$expr": bson.M{"$lte": bson.A{"$current_stock", "$low_stock_threshold"}}})
}

func (r *productRepo) find(ctx context.Context, filter bson.M) ([]models.Product, error) {
	cursor, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "product_code", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find products: %w", err)
	}
	var docs []productDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode products: %w", err)
	}
	out := make([]models.Product, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

// UpdateStock is a compare-and-set on current_stock.
func (r *productRepo) UpdateStock(ctx context.Context, id string, expected, next int) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return repository.ErrNotFound
	}
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": oid, "current_stock": expected},
		bson.M{"$set": bson.M{"current_stock": next, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("update stock of %s: %w", id, err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	n, err := r.coll.CountDocuments(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("check product %s: %w", id, err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return repository.ErrStockConflict
}

func (r *productRepo) Save(ctx context.Context, product models.Product) (models.Product, error) {
	product.UpdatedAt = time.Now().UTC()
	doc := newProductDoc(product)
	if doc.ID.IsZero() {
		doc.ID = primitive.NewObjectID()
	}
	_, err := r.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return models.Product{}, fmt.Errorf("save product: %w", err)
	}
	return doc.model(), nil
}
