// Package mongodb implements repository.Store on MongoDB.
package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/possync/reconcile/internal/config"
	"github.com/possync/reconcile/internal/repository"
)

const (
	productsCollection       = "products"
	salesCollection          = "sale_line_items"
	ledgerCollection         = "ledger_entries"
	approvalsCollection      = "approvals"
	counterpartiesCollection = "counterparties"
)

// Store implements repository.Store for MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

// NewStore connects to MongoDB, verifies the connection and ensures indexes.
func NewStore(ctx context.Context, cfg config.MongoDBConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	clientOptions := options.Client().ApplyURI(cfg.URI)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	var hello helloReply
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to describe mongodb deployment: %w", err)
	}
	if !hello.supportsTransactions() {
		_ = client.Disconnect(ctx)
		return nil, errors.New("mongodb is a standalone server: reconciliation needs a replica set or sharded cluster for transactions")
	}

	s := &Store{
		client: client,
		db:     client.Database(cfg.DBName),
		logger: logger,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	logger.Info("connected to mongodb", zap.String("database", cfg.DBName), zap.String("replica_set", hello.SetName))
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		productsCollection: {
			{Keys: bson.D{{Key: "product_code", Value: 1}}},
			{Keys: bson.D{{Key: "barcode", Value: 1}}},
		},
		salesCollection: {
			{Keys: bson.D{{Key: "sale_date", Value: 1}, {Key: "receipt_number", Value: 1}}},
			{Keys: bson.D{{Key: "receipt_number", Value: 1}}},
		},
		ledgerCollection: {
			{Keys: bson.D{{Key: "product_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		approvalsCollection: {
			{
				Keys: bson.D{
					{Key: "channel", Value: 1},
					{Key: "approval_date", Value: 1},
					{Key: "terminal_number", Value: 1},
					{Key: "transaction_number", Value: 1},
				},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "approval_date", Value: 1}, {Key: "receipt_number", Value: 1}}},
			{Keys: bson.D{{Key: "matched", Value: 1}, {Key: "channel", Value: 1}}},
		},
		counterpartiesCollection: {
			{Keys: bson.D{{Key: "channel", Value: 1}, {Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}

	for coll, specs := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, specs); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

// helloReply is the part of the hello command reply that tells whether the
// deployment can run multi-document transactions.
type helloReply struct {
	SetName string `bson:"setName"`
	Msg     string `bson:"msg"`
}

func (h helloReply) supportsTransactions() bool {
	return h.SetName != "" || h.Msg == "isdbgrid"
}

// RunInTx runs fn inside a multi-document transaction. A call made with a
// context that already carries a session joins that transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// Close closes the MongoDB connection.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping reports whether the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Products() repository.ProductRepository {
	return &productRepo{coll: s.db.Collection(productsCollection)}
}

func (s *Store) Sales() repository.SaleRepository {
	return &saleRepo{coll: s.db.Collection(salesCollection)}
}

func (s *Store) Ledger() repository.LedgerRepository {
	return &ledgerRepo{coll: s.db.Collection(ledgerCollection)}
}

func (s *Store) Approvals() repository.ApprovalRepository {
	return &approvalRepo{coll: s.db.Collection(approvalsCollection)}
}

func (s *Store) Counterparties() repository.CounterpartyRepository {
	return &counterpartyRepo{coll: s.db.Collection(counterpartiesCollection)}
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return repository.ErrNotFound
	}
	return err
}
