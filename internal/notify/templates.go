package notify

import (
	"bytes"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/jogardn/bespoke-orders/pkg/models"
)

var funcs = template.FuncMap{
	"fallback": func(v, fallback string) string {
		if strings.TrimSpace(v) == "" {
			return fallback
		}
		return v
	},
}

var confirmationTmpl = template.Must(template.New("confirmation").Funcs(funcs).Parse(
	`Dear {{.Name}},

Thank you for choosing {{.Company}} for your tailoring needs!

Your order has been confirmed and payment has been successfully processed.

ORDER DETAILS:
Order ID: {{.Order.ID}}
Product: {{.Order.ProductSelected}}
Quantity: {{.Order.Quantity}}
{{- if .Amount}}
Amount Paid: {{.Amount}} {{.Order.Currency}}
{{- end}}

MEASUREMENTS RECEIVED:
Height: {{.Height}} cm
Weight: {{.Weight}} kg
{{- range .Measurements}}
{{.Label}}: {{.Value}}
{{- end}}

NEXT STEPS:
Our tailors will review your measurements and begin crafting your garment.
We will contact you within 2-3 business days to confirm the details and an estimated completion date.

Best regards,
The {{.Company}} Team

---
This is an automated confirmation. Please do not reply to this email.
`))

var teamTmpl = template.Must(template.New("team").Funcs(funcs).Parse(
	`NEW TAILORING ORDER RECEIVED

ORDER INFORMATION:
Order ID: {{.Order.ID}}
Payment ID: {{.PaymentID}}
Customer: {{.Name}}
Email: {{.Order.CustomerInfo.Email}}
Phone: {{fallback .Order.CustomerInfo.Phone "Not provided"}}
{{- if .Amount}}
Amount: {{.Amount}} {{.Order.Currency}}
{{- end}}

PRODUCT DETAILS:
Product: {{.Order.ProductSelected}}
Quantity: {{.Order.Quantity}}
Fabric Choice: {{fallback .Order.FabricChoice "Not specified"}}
Style Preferences: {{fallback .Order.StylePreferences "Not specified"}}

CUSTOMER MEASUREMENTS:
Height: {{.Height}} cm
Weight: {{.Weight}} kg
{{- range .Measurements}}
{{.Label}}: {{.Value}}
{{- end}}

ADDITIONAL NOTES:
{{fallback .Order.Notes "No additional notes"}}

CUSTOMER PROFILE:
Age: {{fallback .Age "Not provided"}}
Body Type: {{fallback .Order.CustomerInfo.BodyType "Not specified"}}
Special Considerations: {{fallback .Order.CustomerInfo.SpecialConsiderations "None"}}

Order Status: {{.Order.Status}}
Order Date: {{.Now}}

Please review the measurements and begin preparation for this order.
`))

var reminderTmpl = template.Must(template.New("reminder").Funcs(funcs).Parse(
	`Dear {{.Name}},

We noticed that your recent order with {{.Company}} is still pending payment.

ORDER DETAILS:
Order ID: {{.Order.ID}}
Product: {{.Order.ProductSelected}}

To complete your order and secure your spot in our crafting queue, please complete your payment using the link below:

Complete Payment: {{.PaymentLink}}

If you have any questions or need assistance, please contact us.

Best regards,
The {{.Company}} Team

---
This reminder will expire in 48 hours.
`))

type measurementLine struct {
	Label string
	Value string
}

type emailData struct {
	Order        models.Order
	Name         string
	Company      string
	PaymentID    string
	PaymentLink  string
	Amount       string
	Age          string
	Height       string
	Weight       string
	Measurements []measurementLine
	Now          string
}

func newEmailData(o models.Order, company string, now time.Time) emailData {
	d := emailData{
		Order:   o,
		Name:    o.CustomerInfo.FullName(),
		Company: company,
		Height:  formatFloat(o.Measurements.Height),
		Weight:  formatFloat(o.Measurements.Weight),
		Now:     now.Format(timestampLayout),
	}
	if o.TotalAmount > 0 {
		d.Amount = FormatAmount(o.TotalAmount)
	}
	if o.CustomerInfo.Age != nil {
		d.Age = strconv.Itoa(*o.CustomerInfo.Age)
	}
	unit := string(o.Measurements.Unit)
	if unit == "" {
		unit = string(models.UnitCentimeters)
	}
	for _, bm := range o.Measurements.Body() {
		if bm.Value == nil {
			continue
		}
		d.Measurements = append(d.Measurements, measurementLine{
			Label: bm.Label,
			Value: formatFloat(*bm.Value) + " " + unit,
		})
	}
	return d
}

func render(t *template.Template, data emailData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
