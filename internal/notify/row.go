package notify

import (
	"time"

	"github.com/jogardn/bespoke-orders/pkg/models"
	"github.com/shopspring/decimal"
)

const timestampLayout = "2006-01-02 15:04:05"

// Headers is the column order of the order tracking sheet. The first 25
// columns match the layout the fulfillment team already uses; the rest
// were appended later.
var Headers = []string{
	"Timestamp", "Order ID", "Payment ID", "Customer Name", "Email", "Phone", "Age",
	"Product", "Quantity", "Fabric Choice", "Style Preferences",
	"Height (cm)", "Weight (kg)", "Waist", "Hip/Seat", "Thigh",
	"Crotch Rise", "Outseam", "Bottom Opening", "Unit",
	"Body Type", "Special Considerations", "Notes", "Order Status", "Created At",
	"Inseam", "Amount", "Currency", "Updated At",
}

// Row renders an order as a sheet row in Headers order. Missing optional
// values become empty cells.
func Row(o models.Order, paymentID string, now time.Time) []interface{} {
	m := o.Measurements
	c := o.CustomerInfo

	var age interface{} = ""
	if c.Age != nil {
		age = *c.Age
	}

	return []interface{}{
		now.Format(timestampLayout),
		o.ID,
		paymentID,
		c.FullName(),
		c.Email,
		c.Phone,
		age,
		o.ProductSelected,
		o.Quantity,
		o.FabricChoice,
		o.StylePreferences,
		m.Height,
		m.Weight,
		optional(m.Waist),
		optional(m.HipSeat),
		optional(m.Thigh),
		optional(m.CrotchRise),
		optional(m.Outseam),
		optional(m.BottomOpening),
		string(m.Unit),
		c.BodyType,
		c.SpecialConsiderations,
		o.Notes,
		string(o.Status),
		o.CreatedAt.Format(time.RFC3339),
		optional(m.Inseam),
		FormatAmount(o.TotalAmount),
		o.Currency,
		o.UpdatedAt.Format(time.RFC3339),
	}
}

func optional(v *float64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}

// FormatAmount renders minor units (paise) as a two-decimal major amount.
func FormatAmount(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}
