package orders

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/jogardn/bespoke-orders/internal/fulfillment"
	"github.com/jogardn/bespoke-orders/internal/idempotency"
	"github.com/jogardn/bespoke-orders/internal/payment"
	"github.com/jogardn/bespoke-orders/internal/store"
	"github.com/jogardn/bespoke-orders/internal/validation"
	"github.com/jogardn/bespoke-orders/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

type fakeGateway struct {
	orderID string
	mock    bool
	err     error
}

func (g *fakeGateway) CreateOrder(ctx context.Context, receipt string, amount int64, currency string) (*payment.Result, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &payment.Result{GatewayOrderID: g.orderID, Amount: amount, Currency: currency, IsMock: g.mock}, nil
}

func (g *fakeGateway) Verify(gatewayOrderID, paymentID, signature string) error {
	if g.mock && payment.IsMockOrderID(gatewayOrderID) {
		return nil
	}
	if signature != payment.Sign(testSecret, gatewayOrderID, paymentID) {
		return payment.ErrSignatureMismatch
	}
	return nil
}

func (g *fakeGateway) KeyID() string { return "rzp_test_key" }

type recordingDispatcher struct {
	mu    sync.Mutex
	tasks []fulfillment.Task
	err   error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, task fulfillment.Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	d.tasks = append(d.tasks, task)
	return nil
}

func (d *recordingDispatcher) Tasks() []fulfillment.Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]fulfillment.Task(nil), d.tasks...)
}

type recordingBroadcaster struct {
	mu       sync.Mutex
	events   []string
	payloads []string
}

func (b *recordingBroadcaster) Broadcast(eventType string, data interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, eventType)
	encoded, _ := json.Marshal(data)
	b.payloads = append(b.payloads, string(encoded))
}

type fixture struct {
	service    *Service
	store      *store.MemoryStore
	gateway    *fakeGateway
	dispatcher *recordingDispatcher
	events     *recordingBroadcaster
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		store:      store.NewMemoryStore(),
		gateway:    &fakeGateway{orderID: "order_Live0001"},
		dispatcher: &recordingDispatcher{},
		events:     &recordingBroadcaster{},
	}
	f.service = NewService(f.store, validation.New(), f.gateway, f.dispatcher, idempotency.NewMemoryGuard(0), cfg, testLogger())
	f.service.SetBroadcaster(f.events)
	return f
}

func ptr(f float64) *float64 { return &f }

func validSubmission() models.Submission {
	return models.Submission{
		CustomerInfo: models.CustomerInfo{
			FirstName: "Alexander",
			LastName:  "Sterling",
			Email:     "alexander@luxurymail.com",
			Phone:     "+44 20 7123 4567",
		},
		Measurements: models.Measurements{
			Height:  180.5,
			Weight:  75.2,
			Outseam: ptr(108),
			Waist:   ptr(84),
		},
		FabricChoice: "Wool",
	}
}

func (f *fixture) submitAndPrice(t *testing.T, quantity int) *models.Order {
	t.Helper()
	ctx := context.Background()
	order, err := f.service.Submit(ctx, validSubmission())
	require.NoError(t, err)
	_, err = f.service.CreatePaymentOrder(ctx, order.ID, quantity)
	require.NoError(t, err)
	return order
}

func (f *fixture) verify(order *models.Order, paymentID string) (*VerifyResult, error) {
	return f.service.VerifyPayment(context.Background(), VerifyRequest{
		SubmissionID:   order.ID,
		GatewayOrderID: f.gateway.orderID,
		PaymentID:      paymentID,
		Signature:      payment.Sign(testSecret, f.gateway.orderID, paymentID),
	})
}

func TestSubmitCreatesPendingOrder(t *testing.T) {
	f := newFixture(t, Config{})

	order, err := f.service.Submit(context.Background(), validSubmission())
	require.NoError(t, err)

	assert.NotEmpty(t, order.ID)
	assert.Equal(t, models.StatusPendingPayment, order.Status)
	assert.Equal(t, 180.5, order.Measurements.Height)
	assert.Equal(t, 75.2, order.Measurements.Weight)
	assert.Equal(t, []string{EventOrderSubmitted}, f.events.events)

	again, err := f.service.Submit(context.Background(), validSubmission())
	require.NoError(t, err)
	assert.NotEqual(t, order.ID, again.ID)
}

func TestSubmitRejectsInvalidWithoutStoring(t *testing.T) {
	cases := map[string]func(*models.Submission){
		"zero weight":  func(s *models.Submission) { s.Measurements.Weight = 0 },
		"short height": func(s *models.Submission) { s.Measurements.Height = 99 },
		"tall height":  func(s *models.Submission) { s.Measurements.Height = 251 },
		"bad email":    func(s *models.Submission) { s.CustomerInfo.Email = "not-an-email" },
		"no last name": func(s *models.Submission) { s.CustomerInfo.LastName = " " },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, Config{})
			sub := validSubmission()
			mutate(&sub)

			_, err := f.service.Submit(context.Background(), sub)
			var verrs validation.Errors
			require.True(t, errors.As(err, &verrs), "expected validation error, got %v", err)

			stored, err := f.store.List(context.Background(), store.ListFilter{})
			require.NoError(t, err)
			assert.Empty(t, stored)
		})
	}
}

func TestCreatePaymentOrderPricesByQuantity(t *testing.T) {
	f := newFixture(t, Config{BasePrice: 45000, Currency: "INR"})
	ctx := context.Background()

	order, err := f.service.Submit(ctx, validSubmission())
	require.NoError(t, err)

	for _, q := range []int{1, 2, 10} {
		po, err := f.service.CreatePaymentOrder(ctx, order.ID, q)
		require.NoError(t, err)
		assert.Equal(t, int64(45000*q), po.Amount)
		assert.Equal(t, "INR", po.Currency)
		assert.Equal(t, "order_Live0001", po.OrderID)
		assert.Equal(t, "rzp_test_key", po.Key)
		assert.Equal(t, order.ID, po.SubmissionID)

		stored, err := f.store.Get(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(45000*q), stored.TotalAmount)
		assert.Equal(t, q, stored.Quantity)
		assert.Equal(t, "order_Live0001", stored.GatewayOrderID)
	}
}

func TestCreatePaymentOrderUsesSubmittedQuantity(t *testing.T) {
	f := newFixture(t, Config{})
	sub := validSubmission()
	sub.Quantity = 3
	order, err := f.service.Submit(context.Background(), sub)
	require.NoError(t, err)

	po, err := f.service.CreatePaymentOrder(context.Background(), order.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3*45000), po.Amount)
}

func TestCreatePaymentOrderRejectsBadQuantity(t *testing.T) {
	f := newFixture(t, Config{})
	order, err := f.service.Submit(context.Background(), validSubmission())
	require.NoError(t, err)

	for _, q := range []int{-1, 11} {
		_, err := f.service.CreatePaymentOrder(context.Background(), order.ID, q)
		var verrs validation.Errors
		assert.True(t, errors.As(err, &verrs), "quantity %d: %v", q, err)
	}
}

func TestCreatePaymentOrderErrors(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.service.CreatePaymentOrder(context.Background(), "missing", 1)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	order, err := f.service.Submit(context.Background(), validSubmission())
	require.NoError(t, err)

	f.gateway.err = payment.ErrGatewayUnavailable
	_, err = f.service.CreatePaymentOrder(context.Background(), order.ID, 1)
	assert.True(t, errors.Is(err, payment.ErrGatewayUnavailable))

	stored, err := f.store.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.GatewayOrderID)
}

func TestVerifyPaymentMarksPaidAndDispatches(t *testing.T) {
	f := newFixture(t, Config{})
	order := f.submitAndPrice(t, 2)

	res, err := f.verify(order, "pay_001")
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
	assert.False(t, res.Duplicate)

	view, err := f.service.Status(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, view.Status)
	assert.Equal(t, "pay_001", view.PaymentID)

	stored, err := f.store.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.PaymentVerifiedAt)

	tasks := f.dispatcher.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, fulfillment.KindConfirmation, tasks[0].Kind)
	assert.Equal(t, "pay_001", tasks[0].PaymentID)
	assert.Equal(t, models.StatusPaid, tasks[0].Order.Status)
	assert.Contains(t, f.events.events, EventPaymentVerified)
}

func TestVerifyPaymentBadSignatureLeavesOrderPending(t *testing.T) {
	f := newFixture(t, Config{})
	order := f.submitAndPrice(t, 1)

	_, err := f.service.VerifyPayment(context.Background(), VerifyRequest{
		SubmissionID:   order.ID,
		GatewayOrderID: f.gateway.orderID,
		PaymentID:      "pay_001",
		Signature:      payment.Sign("wrong", f.gateway.orderID, "pay_001"),
	})
	assert.True(t, errors.Is(err, payment.ErrSignatureMismatch))

	stored, err := f.store.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingPayment, stored.Status)
	assert.Empty(t, stored.PaymentID)
	assert.Empty(t, f.dispatcher.Tasks())
}

func TestVerifyPaymentRejectsForeignPaymentOrder(t *testing.T) {
	f := newFixture(t, Config{})
	order := f.submitAndPrice(t, 1)

	_, err := f.service.VerifyPayment(context.Background(), VerifyRequest{
		SubmissionID:   order.ID,
		GatewayOrderID: "order_Other",
		PaymentID:      "pay_001",
		Signature:      payment.Sign(testSecret, "order_Other", "pay_001"),
	})
	assert.True(t, errors.Is(err, payment.ErrSignatureMismatch))

	unpriced, err := f.service.Submit(context.Background(), validSubmission())
	require.NoError(t, err)
	_, err = f.verify(unpriced, "pay_002")
	assert.True(t, errors.Is(err, payment.ErrSignatureMismatch))
}

func TestVerifyPaymentMockOrder(t *testing.T) {
	f := newFixture(t, Config{})
	f.gateway.orderID = "order_test_0011223344556677"
	f.gateway.mock = true
	order := f.submitAndPrice(t, 1)

	res, err := f.service.VerifyPayment(context.Background(), VerifyRequest{
		SubmissionID:   order.ID,
		GatewayOrderID: f.gateway.orderID,
		PaymentID:      "pay_mock_1",
	})
	require.NoError(t, err)
	assert.True(t, res.IsMock)

	stored, err := f.store.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, stored.Status)
	assert.True(t, stored.IsMockPayment)
}

func TestVerifyPaymentIsIdempotent(t *testing.T) {
	f := newFixture(t, Config{})
	order := f.submitAndPrice(t, 1)

	first, err := f.verify(order, "pay_001")
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := f.verify(order, "pay_001")
	require.NoError(t, err)
	assert.True(t, second.Duplicate)

	assert.Len(t, f.dispatcher.Tasks(), 1)

	_, err = f.verify(order, "pay_002")
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestVerifyPaymentConcurrentDuplicatesDispatchOnce(t *testing.T) {
	f := newFixture(t, Config{})
	order := f.submitAndPrice(t, 1)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.verify(order, "pay_001")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, f.dispatcher.Tasks(), 1)
}

func TestVerifyPaymentSurvivesDispatchFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.dispatcher.err = fulfillment.ErrQueueFull
	order := f.submitAndPrice(t, 1)

	_, err := f.verify(order, "pay_001")
	require.NoError(t, err)

	stored, err := f.store.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, stored.Status)
}

func TestMarkFailedThenRetryPayment(t *testing.T) {
	f := newFixture(t, Config{PaymentLinkBaseURL: "https://stallion.example/pay/"})
	order := f.submitAndPrice(t, 1)

	failed, err := f.service.MarkFailed(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaymentFailed, failed.Status)
	assert.NotNil(t, failed.PaymentFailedAt)

	tasks := f.dispatcher.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, fulfillment.KindReminder, tasks[0].Kind)
	assert.Equal(t, "https://stallion.example/pay/"+order.ID, tasks[0].PaymentLink)

	_, err = f.service.MarkFailed(context.Background(), order.ID)
	require.NoError(t, err)

	_, err = f.verify(order, "pay_retry")
	require.NoError(t, err)

	stored, err := f.store.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, stored.Status)
}

func TestMarkFailedWithoutPaymentLinkSkipsReminder(t *testing.T) {
	f := newFixture(t, Config{})
	order := f.submitAndPrice(t, 1)

	_, err := f.service.MarkFailed(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Empty(t, f.dispatcher.Tasks())
}

func TestPaidOrdersRejectLifecycleChanges(t *testing.T) {
	f := newFixture(t, Config{})
	order := f.submitAndPrice(t, 1)
	_, err := f.verify(order, "pay_001")
	require.NoError(t, err)

	_, err = f.service.MarkFailed(context.Background(), order.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	_, err = f.service.CreatePaymentOrder(context.Background(), order.ID, 1)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	stored, err := f.store.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, stored.Status)
}

func TestBookFitting(t *testing.T) {
	f := newFixture(t, Config{})

	fitting, err := f.service.BookFitting(context.Background(), models.FittingRequest{
		CustomerInfo: validSubmission().CustomerInfo,
		FittingType:  models.FittingFabricSelection,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, fitting.ID)
	assert.Equal(t, models.FittingFabricSelection, fitting.FittingType)
	assert.Contains(t, f.events.events, EventFittingBooked)

	_, err = f.service.BookFitting(context.Background(), models.FittingRequest{
		CustomerInfo: validSubmission().CustomerInfo,
		FittingType:  "walk_in",
	})
	var verrs validation.Errors
	assert.True(t, errors.As(err, &verrs))
}

func TestDispatchSurvivesClientDisconnect(t *testing.T) {
	f := newFixture(t, Config{PaymentLinkBaseURL: "https://stallion.example/pay"})
	paid := f.submitAndPrice(t, 1)
	failed := f.submitAndPrice(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.service.VerifyPayment(ctx, VerifyRequest{
		SubmissionID:   paid.ID,
		GatewayOrderID: f.gateway.orderID,
		PaymentID:      "pay_001",
		Signature:      payment.Sign(testSecret, f.gateway.orderID, "pay_001"),
	})
	require.NoError(t, err)
	_, err = f.service.MarkFailed(ctx, failed.ID)
	require.NoError(t, err)

	tasks := f.dispatcher.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, fulfillment.KindConfirmation, tasks[0].Kind)
	assert.Equal(t, fulfillment.KindReminder, tasks[1].Kind)
}

func TestBroadcastsCarryNoIdentifiers(t *testing.T) {
	f := newFixture(t, Config{PaymentLinkBaseURL: "https://stallion.example/pay"})
	order := f.submitAndPrice(t, 1)
	_, err := f.verify(order, "pay_secret_001")
	require.NoError(t, err)

	other := f.submitAndPrice(t, 1)
	_, err = f.service.MarkFailed(context.Background(), other.ID)
	require.NoError(t, err)

	fitting, err := f.service.BookFitting(context.Background(), models.FittingRequest{
		CustomerInfo: validSubmission().CustomerInfo,
	})
	require.NoError(t, err)

	require.Len(t, f.events.payloads, 7)
	for i, payload := range f.events.payloads {
		for _, secret := range []string{order.ID, other.ID, fitting.ID, "pay_secret_001", f.gateway.orderID, order.CustomerInfo.Email} {
			assert.NotContains(t, payload, secret, "event %s", f.events.events[i])
		}
	}
}

func TestProductsUseConfiguredPrice(t *testing.T) {
	f := newFixture(t, Config{BasePrice: 50000, Currency: "INR"})
	products := f.service.Products()
	require.Len(t, products, 1)
	assert.Equal(t, int64(50000), products[0].Price)
	assert.Equal(t, models.DefaultProduct, products[0].Name)
}
