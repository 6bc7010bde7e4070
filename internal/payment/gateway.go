package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jogardn/bespoke-orders/internal/breaker"
	"github.com/sirupsen/logrus"
)

// MockOrderPrefix marks locally synthesized payment orders. Real gateway
// ids never carry it.
const MockOrderPrefix = "order_test_"

const DefaultAPIURL = "https://api.razorpay.com"

var (
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrSignatureMismatch  = errors.New("payment signature mismatch")
)

// APIError is a non-2xx reply from the gateway.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("gateway returned %d: %s (%s)", e.StatusCode, e.Description, e.Code)
	}
	return fmt.Sprintf("gateway returned %d", e.StatusCode)
}

type Config struct {
	KeyID     string
	KeySecret string
	APIURL    string
	// TestMode allows mock payment orders when the gateway cannot be reached.
	TestMode bool
	Timeout  time.Duration
}

// Result is a created payment order.
type Result struct {
	GatewayOrderID string
	Amount         int64
	Currency       string
	IsMock         bool
}

type Gateway struct {
	cfg        Config
	httpClient *http.Client
	breaker    *breaker.Breaker
	logger     *logrus.Logger
}

func NewGateway(cfg Config, b *breaker.Breaker, logger *logrus.Logger) *Gateway {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Gateway{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		breaker: b,
		logger:  logger,
	}
}

// KeyID is the public key handed to the checkout client.
func (g *Gateway) KeyID() string {
	return g.cfg.KeyID
}

func (g *Gateway) TestMode() bool {
	return g.cfg.TestMode
}

func (g *Gateway) configured() bool {
	return g.cfg.KeyID != "" && g.cfg.KeySecret != ""
}

type createOrderRequest struct {
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Receipt        string `json:"receipt"`
	PaymentCapture int    `json:"payment_capture"`
}

type orderResponse struct {
	ID       string `json:"id"`
	Entity   string `json:"entity"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type errorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder registers a payment order with the gateway. When the gateway
// cannot be used and test mode is on, a mock order is returned instead.
func (g *Gateway) CreateOrder(ctx context.Context, receipt string, amount int64, currency string) (*Result, error) {
	logger := g.logger.WithFields(logrus.Fields{
		"receipt":  receipt,
		"amount":   amount,
		"currency": currency,
	})

	var err error
	if !g.configured() {
		err = errors.New("gateway credentials not configured")
	} else {
		var resp *orderResponse
		err = g.breaker.Execute(ctx, func(ctx context.Context) error {
			var callErr error
			resp, callErr = g.createRemoteOrder(ctx, receipt, amount, currency)
			return callErr
		})
		if err == nil {
			logger.WithField("gateway_order_id", resp.ID).Info("Payment order created")
			return &Result{
				GatewayOrderID: resp.ID,
				Amount:         resp.Amount,
				Currency:       resp.Currency,
			}, nil
		}
	}

	if !g.cfg.TestMode {
		logger.WithError(err).Error("Failed to create payment order")
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	id, idErr := mockOrderID()
	if idErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, idErr)
	}
	logger.WithError(err).WithField("gateway_order_id", id).Warn("Gateway unavailable, using mock payment order")
	return &Result{
		GatewayOrderID: id,
		Amount:         amount,
		Currency:       currency,
		IsMock:         true,
	}, nil
}

func (g *Gateway) createRemoteOrder(ctx context.Context, receipt string, amount int64, currency string) (*orderResponse, error) {
	jsonData, err := json.Marshal(createOrderRequest{
		Amount:         amount,
		Currency:       currency,
		Receipt:        receipt,
		PaymentCapture: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.APIURL+"/v1/orders", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(g.cfg.KeyID, g.cfg.KeySecret)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to gateway: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errResp errorResponse
		if json.Unmarshal(body, &errResp) == nil {
			apiErr.Code = errResp.Error.Code
			apiErr.Description = errResp.Error.Description
		}
		return nil, apiErr
	}

	var orderResp orderResponse
	if err := json.Unmarshal(body, &orderResp); err != nil {
		return nil, fmt.Errorf("failed to decode gateway response: %w", err)
	}
	if orderResp.ID == "" {
		return nil, errors.New("gateway returned an empty order id")
	}
	return &orderResp, nil
}

// Verify checks a payment confirmation. Mock orders are accepted without a
// signature in test mode only.
func (g *Gateway) Verify(gatewayOrderID, paymentID, signature string) error {
	if IsMockOrderID(gatewayOrderID) {
		if g.cfg.TestMode {
			g.logger.WithFields(logrus.Fields{
				"gateway_order_id": gatewayOrderID,
				"payment_id":       paymentID,
			}).Warn("Accepting mock payment without signature check")
			return nil
		}
		return ErrSignatureMismatch
	}

	if g.cfg.KeySecret == "" {
		return fmt.Errorf("%w: verification secret not configured", ErrGatewayUnavailable)
	}

	expected := Sign(g.cfg.KeySecret, gatewayOrderID, paymentID)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureMismatch
	}
	return nil
}

// Sign computes the confirmation signature the gateway attaches to a
// successful payment.
func Sign(secret, gatewayOrderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gatewayOrderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func IsMockOrderID(id string) bool {
	return strings.HasPrefix(id, MockOrderPrefix)
}

func mockOrderID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return MockOrderPrefix + hex.EncodeToString(b), nil
}

// CountsAsOutage reports whether a gateway error should trip the breaker.
// Client errors (4xx) mean the request was wrong, not that the gateway is down.
func CountsAsOutage(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}
