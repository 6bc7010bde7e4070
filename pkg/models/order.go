package models

import (
	"time"
)

type OrderStatus string

const (
	StatusPendingPayment OrderStatus = "pending_payment"
	StatusPaid           OrderStatus = "paid"
	StatusPaymentFailed  OrderStatus = "payment_failed"
)

// CanTransition reports whether an order may move from one status to another.
// payment_failed is not terminal: a new payment order can still be paid.
func CanTransition(from, to OrderStatus) bool {
	switch from {
	case StatusPendingPayment:
		return to == StatusPaid || to == StatusPaymentFailed
	case StatusPaymentFailed:
		return to == StatusPaid || to == StatusPaymentFailed
	default:
		return false
	}
}

type MeasurementUnit string

const (
	UnitCentimeters MeasurementUnit = "cm"
	UnitInches      MeasurementUnit = "in"
)

const DefaultProduct = "Premium Tailored Trousers"

type CustomerInfo struct {
	FirstName             string `json:"first_name" bson:"first_name" validate:"required,min=1,max=50"`
	LastName              string `json:"last_name" bson:"last_name" validate:"required,min=1,max=50"`
	Email                 string `json:"email" bson:"email" validate:"required,contact_email"`
	Phone                 string `json:"phone,omitempty" bson:"phone,omitempty" validate:"omitempty,phone"`
	Age                   *int   `json:"age,omitempty" bson:"age,omitempty" validate:"omitempty,gte=18,lte=120"`
	BodyType              string `json:"body_type,omitempty" bson:"body_type,omitempty" validate:"max=50"`
	SpecialConsiderations string `json:"special_considerations,omitempty" bson:"special_considerations,omitempty" validate:"max=500"`
}

func (c CustomerInfo) FullName() string {
	return c.FirstName + " " + c.LastName
}

// Measurements holds body measurements. Height is always centimetres and
// weight kilograms; the body measurements are expressed in Unit.
type Measurements struct {
	Height        float64         `json:"height" bson:"height" validate:"gt=0,gte=100,lte=250"`
	Weight        float64         `json:"weight" bson:"weight" validate:"gt=0,gte=30,lte=300"`
	Outseam       *float64        `json:"outseam,omitempty" bson:"outseam,omitempty" validate:"omitempty,gt=0"`
	Inseam        *float64        `json:"inseam,omitempty" bson:"inseam,omitempty" validate:"omitempty,gt=0"`
	Waist         *float64        `json:"waist,omitempty" bson:"waist,omitempty" validate:"omitempty,gt=0"`
	HipSeat       *float64        `json:"hip_seat,omitempty" bson:"hip_seat,omitempty" validate:"omitempty,gt=0"`
	Thigh         *float64        `json:"thigh,omitempty" bson:"thigh,omitempty" validate:"omitempty,gt=0"`
	CrotchRise    *float64        `json:"crotch_rise,omitempty" bson:"crotch_rise,omitempty" validate:"omitempty,gt=0"`
	BottomOpening *float64        `json:"bottom_opening,omitempty" bson:"bottom_opening,omitempty" validate:"omitempty,gt=0"`
	Unit          MeasurementUnit `json:"unit" bson:"unit" validate:"oneof=cm in"`
}

// BodyMeasurement is a named optional measurement, used when rendering
// emails and spreadsheet rows in a stable order.
type BodyMeasurement struct {
	Name  string
	Label string
	Value *float64
}

func (m Measurements) Body() []BodyMeasurement {
	return []BodyMeasurement{
		{Name: "outseam", Label: "Outseam", Value: m.Outseam},
		{Name: "inseam", Label: "Inseam", Value: m.Inseam},
		{Name: "waist", Label: "Waist", Value: m.Waist},
		{Name: "hip_seat", Label: "Hip/Seat", Value: m.HipSeat},
		{Name: "thigh", Label: "Thigh", Value: m.Thigh},
		{Name: "crotch_rise", Label: "Crotch Rise", Value: m.CrotchRise},
		{Name: "bottom_opening", Label: "Bottom Opening", Value: m.BottomOpening},
	}
}

// Submission is the client payload for a new measurement order.
type Submission struct {
	CustomerInfo         CustomerInfo `json:"customer_info"`
	Measurements         Measurements `json:"measurements"`
	ProductSelected      string       `json:"product_selected" validate:"max=100"`
	FabricChoice         string       `json:"fabric_choice,omitempty" validate:"max=100"`
	StylePreferences     string       `json:"style_preferences,omitempty" validate:"max=500"`
	Notes                string       `json:"notes,omitempty" validate:"max=500"`
	Quantity             int          `json:"quantity,omitempty" validate:"gte=1,lte=10"`
	SessionID            string       `json:"session_id,omitempty" validate:"max=100"`
	FrontImageURL        string       `json:"front_image_url,omitempty" validate:"omitempty,uri"`
	SideImageURL         string       `json:"side_image_url,omitempty" validate:"omitempty,uri"`
	ReferenceFitImageURL string       `json:"reference_fit_image_url,omitempty" validate:"omitempty,uri"`
}

type Order struct {
	ID                   string       `json:"id" bson:"id"`
	CustomerInfo         CustomerInfo `json:"customer_info" bson:"customer_info"`
	Measurements         Measurements `json:"measurements" bson:"measurements"`
	ProductSelected      string       `json:"product_selected" bson:"product_selected"`
	FabricChoice         string       `json:"fabric_choice,omitempty" bson:"fabric_choice,omitempty"`
	StylePreferences     string       `json:"style_preferences,omitempty" bson:"style_preferences,omitempty"`
	Notes                string       `json:"notes,omitempty" bson:"notes,omitempty"`
	Quantity             int          `json:"quantity" bson:"quantity"`
	SessionID            string       `json:"session_id,omitempty" bson:"session_id,omitempty"`
	FrontImageURL        string       `json:"front_image_url,omitempty" bson:"front_image_url,omitempty"`
	SideImageURL         string       `json:"side_image_url,omitempty" bson:"side_image_url,omitempty"`
	ReferenceFitImageURL string       `json:"reference_fit_image_url,omitempty" bson:"reference_fit_image_url,omitempty"`
	Status               OrderStatus  `json:"order_status" bson:"order_status"`
	PaymentID            string       `json:"payment_id,omitempty" bson:"payment_id,omitempty"`
	GatewayOrderID       string       `json:"gateway_order_id,omitempty" bson:"gateway_order_id,omitempty"`
	TotalAmount          int64        `json:"total_amount,omitempty" bson:"total_amount,omitempty"`
	Currency             string       `json:"currency,omitempty" bson:"currency,omitempty"`
	IsMockPayment        bool         `json:"is_mock_payment,omitempty" bson:"is_mock_payment,omitempty"`
	CreatedAt            time.Time    `json:"created_at" bson:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at" bson:"updated_at"`
	PaymentVerifiedAt    *time.Time   `json:"payment_verified_at,omitempty" bson:"payment_verified_at,omitempty"`
	PaymentFailedAt      *time.Time   `json:"payment_failed_at,omitempty" bson:"payment_failed_at,omitempty"`
}

// OrderPatch is a partial update. Nil fields are left untouched.
type OrderPatch struct {
	Status            *OrderStatus
	PaymentID         *string
	GatewayOrderID    *string
	TotalAmount       *int64
	Currency          *string
	Quantity          *int
	IsMockPayment     *bool
	PaymentVerifiedAt *time.Time
	PaymentFailedAt   *time.Time
}

// Apply merges the patch into the order and bumps UpdatedAt.
func (p OrderPatch) Apply(o *Order, now time.Time) {
	if p.Status != nil {
		o.Status = *p.Status
	}
	if p.PaymentID != nil {
		o.PaymentID = *p.PaymentID
	}
	if p.GatewayOrderID != nil {
		o.GatewayOrderID = *p.GatewayOrderID
	}
	if p.TotalAmount != nil {
		o.TotalAmount = *p.TotalAmount
	}
	if p.Currency != nil {
		o.Currency = *p.Currency
	}
	if p.Quantity != nil {
		o.Quantity = *p.Quantity
	}
	if p.IsMockPayment != nil {
		o.IsMockPayment = *p.IsMockPayment
	}
	if p.PaymentVerifiedAt != nil {
		t := *p.PaymentVerifiedAt
		o.PaymentVerifiedAt = &t
	}
	if p.PaymentFailedAt != nil {
		t := *p.PaymentFailedAt
		o.PaymentFailedAt = &t
	}
	o.UpdatedAt = now
}

type FittingType string

const (
	FittingVirtualConsultation FittingType = "virtual_consultation"
	FittingMeasurementGuidance FittingType = "measurement_guidance"
	FittingFabricSelection     FittingType = "fabric_selection"
	FittingStylingAdvice       FittingType = "styling_advice"
)

type FittingRequest struct {
	CustomerInfo  CustomerInfo `json:"customer_info"`
	PreferredDate string       `json:"preferred_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	PreferredTime string       `json:"preferred_time,omitempty" validate:"max=20"`
	FittingType   FittingType  `json:"fitting_type" validate:"oneof=virtual_consultation measurement_guidance fabric_selection styling_advice"`
	Notes         string       `json:"notes,omitempty" validate:"max=500"`
}

type VirtualFitting struct {
	ID            string       `json:"id" bson:"id"`
	CustomerInfo  CustomerInfo `json:"customer_info" bson:"customer_info"`
	PreferredDate string       `json:"preferred_date,omitempty" bson:"preferred_date,omitempty"`
	PreferredTime string       `json:"preferred_time,omitempty" bson:"preferred_time,omitempty"`
	FittingType   FittingType  `json:"fitting_type" bson:"fitting_type"`
	Notes         string       `json:"notes,omitempty" bson:"notes,omitempty"`
	Status        string       `json:"status" bson:"status"`
	CreatedAt     time.Time    `json:"created_at" bson:"created_at"`
}

type Product struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       int64    `json:"price"`
	Currency    string   `json:"currency"`
	Fabrics     []string `json:"fabrics"`
	Available   bool     `json:"available"`
}
