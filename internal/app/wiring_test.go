package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jogardn/bespoke-orders/internal/config"
	"github.com/jogardn/bespoke-orders/internal/idempotency"
	"github.com/jogardn/bespoke-orders/internal/notify"
	"github.com/jogardn/bespoke-orders/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestOpenMemoryStore(t *testing.T) {
	st, err := OpenStore(context.Background(), config.StoreConfig{Backend: config.BackendMemory}, testLogger())
	require.NoError(t, err)
	_, ok := st.(*store.MemoryStore)
	assert.True(t, ok)

	_, err = OpenStore(context.Background(), config.StoreConfig{Backend: "sqlite"}, testLogger())
	assert.Error(t, err)
}

func TestNewGuard(t *testing.T) {
	guard, closeFn, err := NewGuard(context.Background(), "", testLogger())
	require.NoError(t, err)
	_, ok := guard.(*idempotency.MemoryGuard)
	assert.True(t, ok)
	require.NoError(t, closeFn())

	mr := miniredis.RunT(t)
	guard, closeFn, err = NewGuard(context.Background(), mr.Addr(), testLogger())
	require.NoError(t, err)
	defer closeFn()

	acquired, err := guard.Acquire(context.Background(), "verify:o1:p1")
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.True(t, mr.Exists(idempotencyPrefix+"verify:o1:p1"))
}

func TestNewGuardUnreachableRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, _, err := NewGuard(context.Background(), addr, testLogger())
	assert.Error(t, err)
}

func TestUnconfiguredSinksFallBackToLogging(t *testing.T) {
	mailer, err := NewMailer(context.Background(), config.NotifyConfig{}, testLogger())
	require.NoError(t, err)
	_, ok := mailer.(*notify.LogMailer)
	assert.True(t, ok)

	sheet, err := NewSheet(context.Background(), config.NotifyConfig{SheetID: "only-id"}, testLogger())
	require.NoError(t, err)
	_, ok = sheet.(*notify.LogSheet)
	assert.True(t, ok)

	n, err := NewNotifier(context.Background(), config.NotifyConfig{}, NewBreakers(testLogger()), testLogger())
	require.NoError(t, err)
	assert.NotNil(t, n)
}

func TestGatewayBreakerIsRegistered(t *testing.T) {
	breakers := NewBreakers(testLogger())
	g := NewGateway(config.PaymentConfig{TestMode: true}, breakers, testLogger())
	assert.True(t, g.TestMode())

	snaps := breakers.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, IntegrationPayment, snaps[0].Name)
}
