package orders

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/mux"
	"github.com/jogardn/bespoke-orders/internal/breaker"
	"github.com/jogardn/bespoke-orders/internal/payment"
	"github.com/jogardn/bespoke-orders/internal/store"
	"github.com/jogardn/bespoke-orders/internal/uploads"
	"github.com/jogardn/bespoke-orders/internal/validation"
	"github.com/jogardn/bespoke-orders/pkg/models"
	"github.com/sirupsen/logrus"
)

const serviceName = "Stallion & Co. API"

type ImageStore interface {
	Save(kind string, r io.Reader) (*uploads.Saved, error)
}

type IntegrationHealth interface {
	Snapshots() []breaker.Snapshot
}

type Handler struct {
	service        *Service
	images         ImageStore
	integrations   IntegrationHealth
	maxUploadBytes int64
	logger         *logrus.Logger
}

func NewHandler(service *Service, images ImageStore, integrations IntegrationHealth, maxUploadBytes int64, logger *logrus.Logger) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &Handler{
		service:        service,
		images:         images,
		integrations:   integrations,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// Register mounts the API under /api. Mutating routes are wrapped with
// the given middleware, typically a rate limiter.
func (h *Handler) Register(router *mux.Router, writeMiddleware ...mux.MiddlewareFunc) {
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/", h.Root).Methods("GET")
	api.HandleFunc("/health", h.HealthCheck).Methods("GET")
	api.HandleFunc("/health/integrations", h.IntegrationsHealth).Methods("GET")
	api.HandleFunc("/products", h.Products).Methods("GET")
	api.HandleFunc("/measurements/{id}", h.GetMeasurement).Methods("GET")
	api.HandleFunc("/order-status/{id}", h.OrderStatus).Methods("GET")

	writes := api.NewRoute().Subrouter()
	writes.HandleFunc("/measurements", h.SubmitMeasurements).Methods("POST")
	writes.HandleFunc("/virtual-fitting", h.BookFitting).Methods("POST")
	writes.HandleFunc("/create-payment-order", h.CreatePaymentOrder).Methods("POST")
	writes.HandleFunc("/verify-payment", h.VerifyPayment).Methods("POST")
	writes.HandleFunc("/payment-failed", h.PaymentFailed).Methods("POST")
	writes.HandleFunc("/upload-image", h.UploadImage).Methods("POST")
	for _, mw := range writeMiddleware {
		writes.Use(mw)
	}
}

func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]string{
		"message": "Stallion & Co. Luxury Tailoring API",
		"status":  "active",
	})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.WithError(err).Warn("Health check failed")
		h.respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":    "unhealthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"service":   serviceName,
			"error":     "database connection failed",
		})
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   serviceName,
	})
}

func (h *Handler) IntegrationsHealth(w http.ResponseWriter, r *http.Request) {
	snapshots := h.integrations.Snapshots()
	status := "healthy"
	for _, s := range snapshots {
		if s.State != breaker.StateClosed {
			status = "degraded"
			break
		}
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"status":       status,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"integrations": snapshots,
	})
}

func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"products": h.service.Products(),
	})
}

func (h *Handler) SubmitMeasurements(w http.ResponseWriter, r *http.Request) {
	var sub models.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		h.logger.WithError(err).Warn("Failed to decode measurement submission")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.service.Submit(r.Context(), sub)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"status":         "success",
		"message":        "Measurements submitted successfully",
		"submission_id":  order.ID,
		"timestamp":      order.CreatedAt.Format(time.RFC3339),
		"customer_email": order.CustomerInfo.Email,
	})
}

func (h *Handler) BookFitting(w http.ResponseWriter, r *http.Request) {
	var req models.FittingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Warn("Failed to decode fitting request")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	fitting, err := h.service.BookFitting(r.Context(), req)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"status":         "success",
		"message":        "Virtual fitting consultation booked successfully",
		"booking_id":     fitting.ID,
		"timestamp":      fitting.CreatedAt.Format(time.RFC3339),
		"customer_email": fitting.CustomerInfo.Email,
	})
}

func (h *Handler) GetMeasurement(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, order)
}

func (h *Handler) OrderStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Status(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, view)
}

type createPaymentRequest struct {
	SubmissionID string `json:"submission_id"`
	Quantity     int    `json:"quantity"`
}

func (h *Handler) CreatePaymentOrder(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SubmissionID == "" {
		h.respondWithError(w, http.StatusBadRequest, "submission_id is required")
		return
	}

	po, err := h.service.CreatePaymentOrder(r.Context(), req.SubmissionID, req.Quantity)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, po)
}

// verifyPaymentRequest accepts both the neutral field names and the ones
// the checkout widget posts back.
type verifyPaymentRequest struct {
	SubmissionID      string `json:"submission_id"`
	GatewayOrderID    string `json:"gateway_order_id"`
	PaymentID         string `json:"payment_id"`
	Signature         string `json:"signature"`
	RazorpayOrderID   string `json:"razorpay_order_id"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	RazorpaySignature string `json:"razorpay_signature"`
}

func (r verifyPaymentRequest) normalize() VerifyRequest {
	out := VerifyRequest{
		SubmissionID:   r.SubmissionID,
		GatewayOrderID: r.GatewayOrderID,
		PaymentID:      r.PaymentID,
		Signature:      r.Signature,
	}
	if out.GatewayOrderID == "" {
		out.GatewayOrderID = r.RazorpayOrderID
	}
	if out.PaymentID == "" {
		out.PaymentID = r.RazorpayPaymentID
	}
	if out.Signature == "" {
		out.Signature = r.RazorpaySignature
	}
	return out
}

func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var body verifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req := body.normalize()
	if req.SubmissionID == "" || req.GatewayOrderID == "" || req.PaymentID == "" {
		h.respondWithError(w, http.StatusBadRequest, "submission_id, gateway_order_id and payment_id are required")
		return
	}

	res, err := h.service.VerifyPayment(r.Context(), req)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, res)
}

func (h *Handler) PaymentFailed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubmissionID string `json:"submission_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SubmissionID == "" {
		h.respondWithError(w, http.StatusBadRequest, "submission_id is required")
		return
	}

	if _, err := h.service.MarkFailed(r.Context(), req.SubmissionID); err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid multipart upload")
		return
	}

	imageType := r.FormValue("image_type")
	if !uploads.ValidKind(imageType) {
		h.respondWithError(w, http.StatusBadRequest, "image_type must be one of front, side, reference_fit")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	saved, err := h.images.Save(imageType, file)
	if err != nil {
		if errors.Is(err, uploads.ErrUnsupportedType) {
			h.respondWithError(w, http.StatusBadRequest, "Only JPEG, PNG and WebP images are accepted")
			return
		}
		h.respondWithServiceError(w, r, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"filename":   saved.Filename,
		"image_type": imageType,
	}).Info("Image uploaded")

	h.respondWithJSON(w, http.StatusOK, map[string]string{
		"status":     "success",
		"file_url":   saved.URL,
		"filename":   saved.Filename,
		"image_type": imageType,
	})
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
		code = http.StatusInternalServerError
		response = []byte(`{"success":false,"message":"Internal server error occurred"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, map[string]interface{}{
		"success": false,
		"message": message,
	})
}

// respondWithServiceError maps service errors onto HTTP statuses. Details of
// unexpected errors are logged and reported but never returned.
func (h *Handler) respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var violations validation.Errors
	switch {
	case errors.As(err, &violations):
		h.respondWithJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"success":    false,
			"message":    "Validation failed",
			"violations": violations,
		})
	case errors.Is(err, store.ErrNotFound):
		h.respondWithError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, payment.ErrSignatureMismatch):
		h.respondWithError(w, http.StatusBadRequest, "Payment verification failed")
	case errors.Is(err, ErrInvalidTransition):
		h.respondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, payment.ErrGatewayUnavailable):
		h.logger.WithError(err).Error("Payment gateway unavailable")
		h.respondWithError(w, http.StatusBadGateway, "Payment gateway unavailable")
	default:
		h.logger.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("Request failed")
		sentry.CaptureException(err)
		h.respondWithError(w, http.StatusInternalServerError, "Internal server error occurred")
	}
}
