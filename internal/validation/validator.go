package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jogardn/bespoke-orders/pkg/models"
)

const cmPerInch = 2.54

// Violation describes a single rejected field.
type Violation struct {
	Field string      `json:"field"`
	Rule  string      `json:"rule"`
	Param string      `json:"param,omitempty"`
	Value interface{} `json:"value,omitempty"`
}

// Errors is returned when a payload fails one or more rules.
type Errors []Violation

func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, v := range e {
		if v.Param != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", v.Field, v.Rule, v.Param))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", v.Field, v.Rule))
		}
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// bodyRanges are the accepted ranges for optional body measurements, in centimetres.
var bodyRanges = map[string][2]float64{
	"outseam":        {50, 150},
	"inseam":         {40, 120},
	"waist":          {50, 150},
	"hip_seat":       {60, 180},
	"thigh":          {30, 100},
	"crotch_rise":    {15, 50},
	"bottom_opening": {10, 40},
}

var phonePattern = regexp.MustCompile(`^\+?[\d\s\-\(\)]+$`)

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails for empty tags or nil funcs.
	_ = v.RegisterValidation("contact_email", contactEmail)
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	v.RegisterStructValidation(measurementRanges, models.Measurements{})

	return &Validator{validate: v}
}

// Draft normalizes and validates a submission, returning an order draft
// without id, status or timestamps.
func (v *Validator) Draft(s models.Submission) (*models.Order, error) {
	normalizeCustomer(&s.CustomerInfo)
	if s.Measurements.Unit == "" {
		s.Measurements.Unit = models.UnitCentimeters
	}
	s.ProductSelected = strings.TrimSpace(s.ProductSelected)
	if s.ProductSelected == "" {
		s.ProductSelected = models.DefaultProduct
	}
	if s.Quantity == 0 {
		s.Quantity = 1
	}

	if err := v.Struct(s); err != nil {
		return nil, err
	}

	return &models.Order{
		CustomerInfo:         s.CustomerInfo,
		Measurements:         s.Measurements,
		ProductSelected:      s.ProductSelected,
		FabricChoice:         s.FabricChoice,
		StylePreferences:     s.StylePreferences,
		Notes:                s.Notes,
		Quantity:             s.Quantity,
		SessionID:            s.SessionID,
		FrontImageURL:        s.FrontImageURL,
		SideImageURL:         s.SideImageURL,
		ReferenceFitImageURL: s.ReferenceFitImageURL,
	}, nil
}

func (v *Validator) Fitting(r models.FittingRequest) (models.FittingRequest, error) {
	normalizeCustomer(&r.CustomerInfo)
	if r.FittingType == "" {
		r.FittingType = models.FittingVirtualConsultation
	}
	if err := v.Struct(r); err != nil {
		return r, err
	}
	return r, nil
}

// Struct validates any tagged struct and converts failures into Errors.
func (v *Validator) Struct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	out := make(Errors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, Violation{
			Field: fieldPath(fe.Namespace()),
			Rule:  fe.Tag(),
			Param: fe.Param(),
			Value: fe.Value(),
		})
	}
	return out
}

// fieldPath drops the top-level struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func normalizeCustomer(c *models.CustomerInfo) {
	c.FirstName = strings.TrimSpace(c.FirstName)
	c.LastName = strings.TrimSpace(c.LastName)
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.Phone = strings.TrimSpace(c.Phone)
}

func contactEmail(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if strings.ContainsAny(s, " \t\r\n") || strings.Count(s, "@") != 1 {
		return false
	}
	at := strings.Index(s, "@")
	if at == 0 {
		return false
	}
	domain := s[at+1:]
	dot := strings.LastIndex(domain, ".")
	return dot > 0 && dot < len(domain)-1
}

func measurementRanges(sl validator.StructLevel) {
	m := sl.Current().Interface().(models.Measurements)

	factor := 1.0
	if m.Unit == models.UnitInches {
		factor = cmPerInch
	}

	for _, b := range m.Body() {
		if b.Value == nil || *b.Value <= 0 {
			continue
		}
		r := bodyRanges[b.Name]
		cm := *b.Value * factor
		switch {
		case cm < r[0]:
			sl.ReportError(*b.Value, b.Name, b.Label, "gte", formatBound(r[0], factor))
		case cm > r[1]:
			sl.ReportError(*b.Value, b.Name, b.Label, "lte", formatBound(r[1], factor))
		}
	}
}

// formatBound renders a range bound in the caller's unit.
func formatBound(cm, factor float64) string {
	return fmt.Sprintf("%g", float64(int((cm/factor)*100+0.5))/100)
}
