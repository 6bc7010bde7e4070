package store

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jogardn/bespoke-orders/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newMockPostgres(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})

	s := newPostgresStore(db, testLogger())
	fixed := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	return s, mock
}

func orderDocument(t *testing.T, o *models.Order) []byte {
	t.Helper()
	doc, err := json.Marshal(o)
	require.NoError(t, err)
	return doc
}

func storedOrder(id string, status models.OrderStatus) *models.Order {
	o := draftOrder("ada@example.com")
	o.ID = id
	o.Status = status
	o.CreatedAt = time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	o.UpdatedAt = o.CreatedAt
	return o
}

func TestPostgresCreateThenGet(t *testing.T) {
	s, mock := newMockPostgres(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO measurements")).
		WithArgs(sqlmock.AnyArg(), "pending_payment", "ada@example.com", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := s.Create(ctx, draftOrder("ada@example.com"))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.StatusPendingPayment, created.Status)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT document FROM measurements WHERE id = $1")).
		WithArgs(created.ID).
		WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow(orderDocument(t, created)))

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "ada@example.com", got.CustomerInfo.Email)
	assert.Equal(t, 170.0, got.Measurements.Height)
	require.NotNil(t, got.Measurements.Waist)
	assert.Equal(t, 84.0, *got.Measurements.Waist)
}

func TestPostgresGetUnknownID(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT document FROM measurements WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"document"}))

	_, err := s.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPostgresWrapsDriverErrors(t *testing.T) {
	s, mock := newMockPostgres(t)
	reset := errors.New("connection reset by peer")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO measurements")).WillReturnError(reset)
	_, err := s.Create(context.Background(), draftOrder("ada@example.com"))

	var serr *StorageError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "create", serr.Op)
	assert.True(t, errors.Is(err, reset))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT document FROM measurements")).WillReturnError(reset)
	_, err = s.Get(context.Background(), "order-1")
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "get", serr.Op)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestPostgresGetCorruptDocument(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT document FROM measurements")).
		WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow([]byte("{not json")))

	_, err := s.Get(context.Background(), "order-1")
	var serr *StorageError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "decode", serr.Op)
}

func TestPostgresUpdateMergesUnderRowLock(t *testing.T) {
	s, mock := newMockPostgres(t)
	existing := storedOrder("order-1", models.StatusPendingPayment)
	existing.GatewayOrderID = "order_Live0001"

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT document FROM measurements WHERE id = $1 FOR UPDATE")).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow(orderDocument(t, existing)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE measurements SET order_status = $2, document = $3, updated_at = $4")).
		WithArgs("order-1", "paid", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	paid := models.StatusPaid
	paymentID := "pay_001"
	updated, err := s.Update(context.Background(), "order-1", models.OrderPatch{Status: &paid, PaymentID: &paymentID})
	require.NoError(t, err)

	assert.Equal(t, models.StatusPaid, updated.Status)
	assert.Equal(t, "pay_001", updated.PaymentID)
	assert.Equal(t, "order_Live0001", updated.GatewayOrderID)
	assert.Equal(t, existing.CreatedAt, updated.CreatedAt.UTC())
	assert.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), updated.UpdatedAt)
}

func TestPostgresUpdateUnknownIDRollsBack(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"document"}))
	mock.ExpectRollback()

	paid := models.StatusPaid
	_, err := s.Update(context.Background(), "missing", models.OrderPatch{Status: &paid})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPostgresListFilterAndLimit(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT document FROM measurements WHERE order_status = $1 ORDER BY created_at DESC LIMIT 2") + "$").
		WithArgs("paid").
		WillReturnRows(sqlmock.NewRows([]string{"document"}).
			AddRow(orderDocument(t, storedOrder("order-2", models.StatusPaid))).
			AddRow(orderDocument(t, storedOrder("order-1", models.StatusPaid))))

	orders, err := s.List(context.Background(), ListFilter{Status: models.StatusPaid, Limit: 2})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "order-2", orders[0].ID)
	assert.Equal(t, "order-1", orders[1].ID)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT document FROM measurements ORDER BY created_at DESC") + "$").
		WillReturnRows(sqlmock.NewRows([]string{"document"}))

	orders, err = s.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestPostgresCreateFitting(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO virtual_fittings")).
		WithArgs(sqlmock.AnyArg(), "victoria@elitemail.com", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	fitting, err := s.CreateFitting(context.Background(), models.FittingRequest{
		CustomerInfo: models.CustomerInfo{FirstName: "Victoria", LastName: "Pemberton", Email: "victoria@elitemail.com"},
		FittingType:  models.FittingStylingAdvice,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, fitting.ID)
	assert.Equal(t, "pending", fitting.Status)
}
