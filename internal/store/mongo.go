package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jogardn/bespoke-orders/pkg/models"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore uses the same collection names as the original deployment:
// measurements and virtual_fittings, keyed by the "id" field.
type MongoStore struct {
	client   *mongo.Client
	orders   *mongo.Collection
	fittings *mongo.Collection
	logger   *logrus.Logger
	now      func() time.Time
}

func NewMongoStore(ctx context.Context, uri, database string, logger *logrus.Logger) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo not reachable: %w", err)
	}

	s := newMongoStore(client, client.Database(database), logger)

	_, err = s.orders.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "order_status", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		logger.WithError(err).Warn("Failed to create mongo indexes")
	}

	logger.WithField("database", database).Info("Mongo connection established")
	return s, nil
}

func newMongoStore(client *mongo.Client, db *mongo.Database, logger *logrus.Logger) *MongoStore {
	return &MongoStore{
		client:   client,
		orders:   db.Collection("measurements"),
		fittings: db.Collection("virtual_fittings"),
		logger:   logger,
		now:      time.Now,
	}
}

func (s *MongoStore) Create(ctx context.Context, draft *models.Order) (*models.Order, error) {
	order := newOrder(draft, s.now().UTC())
	if _, err := s.orders.InsertOne(ctx, order); err != nil {
		return nil, storageErr("create", err)
	}
	return order, nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.orders.FindOne(ctx, bson.M{"id": id}).Decode(&order)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, storageErr("get", err)
	}
	return &order, nil
}

func (s *MongoStore) Update(ctx context.Context, id string, patch models.OrderPatch) (*models.Order, error) {
	set := patchDocument(patch, s.now().UTC())

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var order models.Order
	err := s.orders.FindOneAndUpdate(ctx, bson.M{"id": id}, bson.M{"$set": set}, opts).Decode(&order)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, storageErr("update", err)
	}
	return &order, nil
}

func (s *MongoStore) List(ctx context.Context, filter ListFilter) ([]*models.Order, error) {
	query := bson.M{}
	if filter.Status != "" {
		query["order_status"] = filter.Status
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := s.orders.Find(ctx, query, opts)
	if err != nil {
		return nil, storageErr("list", err)
	}
	defer cursor.Close(ctx)

	var orders []*models.Order
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, storageErr("list", err)
	}
	return orders, nil
}

func (s *MongoStore) CreateFitting(ctx context.Context, req models.FittingRequest) (*models.VirtualFitting, error) {
	fitting := newFitting(req, s.now().UTC())
	if _, err := s.fittings.InsertOne(ctx, fitting); err != nil {
		return nil, storageErr("create fitting", err)
	}
	return fitting, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// patchDocument maps the set fields of a patch onto their bson names.
func patchDocument(p models.OrderPatch, now time.Time) bson.M {
	set := bson.M{"updated_at": now}
	if p.Status != nil {
		set["order_status"] = *p.Status
	}
	if p.PaymentID != nil {
		set["payment_id"] = *p.PaymentID
	}
	if p.GatewayOrderID != nil {
		set["gateway_order_id"] = *p.GatewayOrderID
	}
	if p.TotalAmount != nil {
		set["total_amount"] = *p.TotalAmount
	}
	if p.Currency != nil {
		set["currency"] = *p.Currency
	}
	if p.Quantity != nil {
		set["quantity"] = *p.Quantity
	}
	if p.IsMockPayment != nil {
		set["is_mock_payment"] = *p.IsMockPayment
	}
	if p.PaymentVerifiedAt != nil {
		set["payment_verified_at"] = *p.PaymentVerifiedAt
	}
	if p.PaymentFailedAt != nil {
		set["payment_failed_at"] = *p.PaymentFailedAt
	}
	return set
}
