package routing

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	minAmount = decimal.RequireFromString("0.01")
	maxAmount = decimal.NewFromInt(1_000_000_000)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// QuoteRequest asks for routes moving Amount of Asset between two networks.
type QuoteRequest struct {
	FromNetwork string          `json:"fromNetwork" validate:"required,min=2,max=50"`
	ToNetwork   string          `json:"toNetwork" validate:"required,min=2,max=50"`
	Asset       string          `json:"asset" validate:"required,min=2,max=10,alpha,uppercase"`
	Amount      decimal.Decimal `json:"amount"`
	Corridor    string          `json:"corridor,omitempty" validate:"omitempty,min=3,max=15"`
}

// Normalize trims fields and upper-cases networks.
func (r QuoteRequest) Normalize() QuoteRequest {
	r.FromNetwork = strings.ToUpper(strings.TrimSpace(r.FromNetwork))
	r.ToNetwork = strings.ToUpper(strings.TrimSpace(r.ToNetwork))
	r.Asset = strings.ToUpper(strings.TrimSpace(r.Asset))
	r.Corridor = strings.TrimSpace(r.Corridor)
	return r
}

// Validate checks the request before any provider is called.
func (r QuoteRequest) Validate() error {
	var fields []FieldError
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return &ValidationError{Fields: []FieldError{{Field: "request", Tag: "invalid", Message: err.Error()}}}
		}
		for _, fe := range verrs {
			fields = append(fields, FieldError{Field: fe.Field(), Tag: fe.Tag(), Message: fieldMessage(fe)})
		}
	}
	switch {
	case r.Amount.LessThan(minAmount):
		fields = append(fields, FieldError{Field: "amount", Tag: "gte", Message: "amount must be at least " + minAmount.String()})
	case r.Amount.GreaterThan(maxAmount):
		fields = append(fields, FieldError{Field: "amount", Tag: "lte", Message: "amount must be at most " + maxAmount.String()})
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "alpha", "uppercase":
		return fmt.Sprintf("%s must be uppercase letters", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}

// FieldError describes one rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// ValidationError reports a malformed quote request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid quote request"
	}
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Message)
	}
	return "invalid quote request: " + strings.Join(msgs, "; ")
}
