package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jogardn/bespoke-orders/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestPatchDocumentOnlySetsProvidedFields(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	status := models.StatusPaymentFailed

	set := patchDocument(models.OrderPatch{Status: &status, PaymentFailedAt: &now}, now)

	assert.Equal(t, models.StatusPaymentFailed, set["order_status"])
	assert.Equal(t, now, set["payment_failed_at"])
	assert.Equal(t, now, set["updated_at"])
	assert.NotContains(t, set, "payment_id")
	assert.NotContains(t, set, "total_amount")
	assert.Len(t, set, 3)
}

func TestPostgresDSN(t *testing.T) {
	cfg := PostgresConfig{Host: "db", Port: "5432", User: "u", Password: "p", Name: "orders"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=orders sslmode=disable", cfg.DSN())
}

func newMockMongo(mt *mtest.T) *MongoStore {
	s := newMongoStore(mt.Client, mt.DB, testLogger())
	fixed := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	return s
}

func bsonDocument(t *testing.T, v interface{}) bson.D {
	t.Helper()
	raw, err := bson.Marshal(v)
	require.NoError(t, err)
	var doc bson.D
	require.NoError(t, bson.Unmarshal(raw, &doc))
	return doc
}

func TestMongoStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ns := func(mt *mtest.T) string { return mt.DB.Name() + ".measurements" }

	mt.Run("create then get", func(mt *mtest.T) {
		s := newMockMongo(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		created, err := s.Create(context.Background(), draftOrder("ada@example.com"))
		require.NoError(mt, err)
		assert.NotEmpty(mt, created.ID)
		assert.Equal(mt, models.StatusPendingPayment, created.Status)

		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch, bsonDocument(mt.T, created)))
		got, err := s.Get(context.Background(), created.ID)
		require.NoError(mt, err)
		assert.Equal(mt, created.ID, got.ID)
		assert.Equal(mt, "ada@example.com", got.CustomerInfo.Email)
		require.NotNil(mt, got.Measurements.Waist)
		assert.Equal(mt, 84.0, *got.Measurements.Waist)
	})

	mt.Run("get unknown id", func(mt *mtest.T) {
		s := newMockMongo(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch))

		_, err := s.Get(context.Background(), "missing")
		assert.True(mt, errors.Is(err, ErrNotFound))
	})

	mt.Run("write errors are storage errors", func(mt *mtest.T) {
		s := newMockMongo(mt)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "duplicate key error",
		}))

		_, err := s.Create(context.Background(), draftOrder("ada@example.com"))
		var serr *StorageError
		require.True(mt, errors.As(err, &serr))
		assert.Equal(mt, "create", serr.Op)
	})

	mt.Run("update returns merged document", func(mt *mtest.T) {
		s := newMockMongo(mt)
		existing := draftOrder("ada@example.com")
		existing.ID = "order-1"
		existing.Status = models.StatusPaid
		existing.PaymentID = "pay_001"
		mt.AddMockResponses(bson.D{
			{Key: "ok", Value: 1},
			{Key: "value", Value: bsonDocument(mt.T, existing)},
		})

		paid := models.StatusPaid
		paymentID := "pay_001"
		updated, err := s.Update(context.Background(), "order-1", models.OrderPatch{Status: &paid, PaymentID: &paymentID})
		require.NoError(mt, err)
		assert.Equal(mt, models.StatusPaid, updated.Status)
		assert.Equal(mt, "pay_001", updated.PaymentID)

		cmd := mt.GetStartedEvent().Command
		assert.Equal(mt, "order-1", cmd.Lookup("query", "id").StringValue())
		assert.Equal(mt, "paid", cmd.Lookup("update", "$set", "order_status").StringValue())
	})

	mt.Run("update unknown id", func(mt *mtest.T) {
		s := newMockMongo(mt)
		mt.AddMockResponses(bson.D{{Key: "ok", Value: 1}, {Key: "value", Value: nil}})

		paid := models.StatusPaid
		_, err := s.Update(context.Background(), "missing", models.OrderPatch{Status: &paid})
		assert.True(mt, errors.Is(err, ErrNotFound))
	})

	mt.Run("list applies filter and limit", func(mt *mtest.T) {
		s := newMockMongo(mt)
		a := draftOrder("a@example.com")
		a.ID, a.Status = "order-2", models.StatusPaid
		b := draftOrder("b@example.com")
		b.ID, b.Status = "order-1", models.StatusPaid
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns(mt), mtest.FirstBatch,
			bsonDocument(mt.T, a), bsonDocument(mt.T, b)))

		orders, err := s.List(context.Background(), ListFilter{Status: models.StatusPaid, Limit: 2})
		require.NoError(mt, err)
		require.Len(mt, orders, 2)
		assert.Equal(mt, "order-2", orders[0].ID)

		cmd := mt.GetStartedEvent().Command
		assert.Equal(mt, "paid", cmd.Lookup("filter", "order_status").StringValue())
		assert.Equal(mt, int64(2), cmd.Lookup("limit").AsInt64())
		assert.Equal(mt, int64(-1), cmd.Lookup("sort", "created_at").AsInt64())
	})
}
