package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jogardn/bespoke-orders/internal/fulfillment"
	"github.com/jogardn/bespoke-orders/internal/idempotency"
	"github.com/jogardn/bespoke-orders/internal/payment"
	"github.com/jogardn/bespoke-orders/internal/store"
	"github.com/jogardn/bespoke-orders/internal/validation"
	"github.com/jogardn/bespoke-orders/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	maxQuantity = 10

	EventOrderSubmitted  = "order_submitted"
	EventPaymentCreated  = "payment_order_created"
	EventPaymentVerified = "payment_verified"
	EventPaymentFailed   = "payment_failed"
	EventFittingBooked   = "fitting_booked"
)

// Gateway is the payment provider as seen by the order lifecycle.
type Gateway interface {
	CreateOrder(ctx context.Context, receipt string, amount int64, currency string) (*payment.Result, error)
	Verify(gatewayOrderID, paymentID, signature string) error
	KeyID() string
}

type Broadcaster interface {
	Broadcast(eventType string, data interface{})
}

type Config struct {
	// BasePrice is the unit price in minor units.
	BasePrice int64
	Currency  string
	// PaymentLinkBaseURL enables reminder emails for failed payments.
	PaymentLinkBaseURL string
}

type Service struct {
	store      store.Store
	validator  *validation.Validator
	gateway    Gateway
	dispatcher fulfillment.Dispatcher
	guard      idempotency.Guard
	events     Broadcaster
	cfg        Config
	now        func() time.Time
	logger     *logrus.Logger
}

func NewService(
	st store.Store,
	v *validation.Validator,
	gateway Gateway,
	dispatcher fulfillment.Dispatcher,
	guard idempotency.Guard,
	cfg Config,
	logger *logrus.Logger,
) *Service {
	if cfg.BasePrice <= 0 {
		cfg.BasePrice = 45000
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	return &Service{
		store:      st,
		validator:  v,
		gateway:    gateway,
		dispatcher: dispatcher,
		guard:      guard,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger,
	}
}

func (s *Service) SetBroadcaster(b Broadcaster) {
	s.events = b
}

// broadcast publishes to an unauthenticated feed: payloads must never carry
// order, payment or booking identifiers, which unlock customer details.
func (s *Service) broadcast(eventType string, data map[string]interface{}) {
	if s.events != nil {
		s.events.Broadcast(eventType, data)
	}
}

// Submit validates a measurement submission and stores it as a new
// pending_payment order.
func (s *Service) Submit(ctx context.Context, sub models.Submission) (*models.Order, error) {
	draft, err := s.validator.Draft(sub)
	if err != nil {
		return nil, err
	}

	order, err := s.store.Create(ctx, draft)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":       order.ID,
		"customer_email": order.CustomerInfo.Email,
		"quantity":       order.Quantity,
	}).Info("Measurements submitted")

	s.broadcast(EventOrderSubmitted, map[string]interface{}{
		"status":     order.Status,
		"product":    order.ProductSelected,
		"quantity":   order.Quantity,
		"created_at": order.CreatedAt,
	})
	return order, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Order, error) {
	return s.store.Get(ctx, id)
}

type StatusView struct {
	OrderID       string             `json:"order_id"`
	Status        models.OrderStatus `json:"status"`
	CreatedAt     time.Time          `json:"created_at"`
	PaymentID     string             `json:"payment_id,omitempty"`
	CustomerEmail string             `json:"customer_email"`
}

func (s *Service) Status(ctx context.Context, id string) (*StatusView, error) {
	order, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &StatusView{
		OrderID:       order.ID,
		Status:        order.Status,
		CreatedAt:     order.CreatedAt,
		PaymentID:     order.PaymentID,
		CustomerEmail: order.CustomerInfo.Email,
	}, nil
}

type PaymentOrder struct {
	OrderID      string `json:"order_id"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Key          string `json:"key"`
	SubmissionID string `json:"submission_id"`
	IsMock       bool   `json:"is_mock"`
}

// CreatePaymentOrder prices the order and registers a payment order with
// the gateway. A quantity of zero keeps the quantity from the submission.
func (s *Service) CreatePaymentOrder(ctx context.Context, submissionID string, quantity int) (*PaymentOrder, error) {
	order, err := s.store.Get(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if order.Status == models.StatusPaid {
		return nil, &TransitionError{OrderID: order.ID, Reason: "order is already paid"}
	}

	if quantity == 0 {
		quantity = order.Quantity
	}
	if err := checkQuantity(quantity); err != nil {
		return nil, err
	}

	amount := s.cfg.BasePrice * int64(quantity)
	res, err := s.gateway.CreateOrder(ctx, order.ID, amount, s.cfg.Currency)
	if err != nil {
		return nil, err
	}

	currency := s.cfg.Currency
	updated, err := s.store.Update(ctx, order.ID, models.OrderPatch{
		TotalAmount:    &amount,
		Currency:       &currency,
		Quantity:       &quantity,
		GatewayOrderID: &res.GatewayOrderID,
		IsMockPayment:  &res.IsMock,
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":         updated.ID,
		"gateway_order_id": res.GatewayOrderID,
		"amount":           amount,
		"is_mock":          res.IsMock,
	}).Info("Payment order created")

	s.broadcast(EventPaymentCreated, map[string]interface{}{
		"amount":   amount,
		"currency": currency,
		"is_mock":  res.IsMock,
	})

	return &PaymentOrder{
		OrderID:      res.GatewayOrderID,
		Amount:       amount,
		Currency:     currency,
		Key:          s.gateway.KeyID(),
		SubmissionID: updated.ID,
		IsMock:       res.IsMock,
	}, nil
}

func checkQuantity(q int) error {
	switch {
	case q < 1:
		return validation.Errors{{Field: "quantity", Rule: "gte", Param: "1", Value: q}}
	case q > maxQuantity:
		return validation.Errors{{Field: "quantity", Rule: "lte", Param: strconv.Itoa(maxQuantity), Value: q}}
	}
	return nil
}

type VerifyRequest struct {
	SubmissionID   string
	GatewayOrderID string
	PaymentID      string
	Signature      string
}

type VerifyResult struct {
	Status    string `json:"status"`
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	IsMock    bool   `json:"is_mock"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// VerifyPayment checks a payment confirmation and marks the order paid.
// A repeated confirmation of the same payment succeeds without touching
// the order or dispatching fulfillment again.
func (s *Service) VerifyPayment(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	logger := s.logger.WithFields(logrus.Fields{
		"order_id":         req.SubmissionID,
		"gateway_order_id": req.GatewayOrderID,
		"payment_id":       req.PaymentID,
	})

	order, err := s.store.Get(ctx, req.SubmissionID)
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{
		Status:    "success",
		OrderID:   order.ID,
		PaymentID: req.PaymentID,
		IsMock:    payment.IsMockOrderID(req.GatewayOrderID),
	}

	if order.Status == models.StatusPaid {
		if order.PaymentID == req.PaymentID {
			result.Duplicate = true
			logger.Info("Payment already verified")
			return result, nil
		}
		return nil, &TransitionError{OrderID: order.ID, Reason: "order is already paid with a different payment"}
	}

	if order.GatewayOrderID == "" || order.GatewayOrderID != req.GatewayOrderID {
		logger.Warn("Payment confirmation does not match the order's payment order")
		return nil, fmt.Errorf("%w: payment order does not belong to this submission", payment.ErrSignatureMismatch)
	}

	if err := s.gateway.Verify(req.GatewayOrderID, req.PaymentID, req.Signature); err != nil {
		if errors.Is(err, payment.ErrSignatureMismatch) {
			logger.Warn("Payment signature verification failed")
		}
		return nil, err
	}

	key := idempotency.PaymentKey(order.ID, req.PaymentID)
	acquired, err := s.guard.Acquire(ctx, key)
	if err != nil {
		// The status check above still prevents most duplicates.
		logger.WithError(err).Warn("Idempotency guard unavailable")
		acquired = true
	}
	if !acquired {
		result.Duplicate = true
		logger.Info("Duplicate payment confirmation ignored")
		return result, nil
	}

	if !models.CanTransition(order.Status, models.StatusPaid) {
		s.release(ctx, key)
		return nil, &TransitionError{OrderID: order.ID, From: order.Status, To: models.StatusPaid}
	}

	paid := models.StatusPaid
	now := s.now().UTC()
	updated, err := s.store.Update(ctx, order.ID, models.OrderPatch{
		Status:            &paid,
		PaymentID:         &req.PaymentID,
		PaymentVerifiedAt: &now,
	})
	if err != nil {
		s.release(ctx, key)
		return nil, err
	}

	logger.Info("Payment verified")

	// The order is paid: fulfillment must not depend on the client staying
	// connected.
	if err := s.dispatcher.Dispatch(context.WithoutCancel(ctx), fulfillment.Task{
		Kind:      fulfillment.KindConfirmation,
		Order:     *updated,
		PaymentID: req.PaymentID,
	}); err != nil {
		logger.WithError(err).Error("Failed to dispatch fulfillment")
	}

	s.broadcast(EventPaymentVerified, map[string]interface{}{
		"status":   updated.Status,
		"amount":   updated.TotalAmount,
		"currency": updated.Currency,
		"is_mock":  result.IsMock,
	})
	return result, nil
}

func (s *Service) release(ctx context.Context, key string) {
	if err := s.guard.Release(ctx, key); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Failed to release idempotency key")
	}
}

// MarkFailed records a failed payment attempt. When a payment link base
// URL is configured the customer is sent a reminder.
func (s *Service) MarkFailed(ctx context.Context, submissionID string) (*models.Order, error) {
	order, err := s.store.Get(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(order.Status, models.StatusPaymentFailed) {
		return nil, &TransitionError{OrderID: order.ID, From: order.Status, To: models.StatusPaymentFailed}
	}

	failed := models.StatusPaymentFailed
	now := s.now().UTC()
	updated, err := s.store.Update(ctx, order.ID, models.OrderPatch{
		Status:          &failed,
		PaymentFailedAt: &now,
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithField("order_id", updated.ID).Info("Payment marked as failed")

	if base := strings.TrimRight(s.cfg.PaymentLinkBaseURL, "/"); base != "" {
		err := s.dispatcher.Dispatch(context.WithoutCancel(ctx), fulfillment.Task{
			Kind:        fulfillment.KindReminder,
			Order:       *updated,
			PaymentLink: base + "/" + updated.ID,
		})
		if err != nil {
			s.logger.WithError(err).WithField("order_id", updated.ID).Error("Failed to dispatch payment reminder")
		}
	}

	s.broadcast(EventPaymentFailed, map[string]interface{}{
		"status": updated.Status,
	})
	return updated, nil
}

func (s *Service) BookFitting(ctx context.Context, req models.FittingRequest) (*models.VirtualFitting, error) {
	req, err := s.validator.Fitting(req)
	if err != nil {
		return nil, err
	}

	fitting, err := s.store.CreateFitting(ctx, req)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":     fitting.ID,
		"customer_email": fitting.CustomerInfo.Email,
		"fitting_type":   fitting.FittingType,
	}).Info("Virtual fitting booked")

	s.broadcast(EventFittingBooked, map[string]interface{}{
		"fitting_type":   fitting.FittingType,
		"preferred_date": fitting.PreferredDate,
	})
	return fitting, nil
}

func (s *Service) Products() []models.Product {
	return []models.Product{
		{
			ID:          "premium-trousers-001",
			Name:        models.DefaultProduct,
			Description: "Handcrafted luxury trousers made from the finest fabrics",
			Price:       s.cfg.BasePrice,
			Currency:    s.cfg.Currency,
			Fabrics:     []string{"Wool", "Cotton", "Linen", "Silk Blend"},
			Available:   true,
		},
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
