package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"renttrack/internal/domain"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ErrValidatorInit is returned by every request decode when a custom rule
// could not be registered.
var ErrValidatorInit = errors.New("validator initialization failed")

var (
	validate     *validator.Validate
	validateOnce sync.Once
	errValidate  error
)

func positiveAmount(fl validator.FieldLevel) bool {
	str := fl.Field().String()
	if str == "" {
		return true
	}
	_, err := domain.ParseAmount(str)
	return err == nil
}

func initValidator() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("positive_amount", positiveAmount); err != nil {
		return nil, fmt.Errorf("%w: register positive_amount: %w", ErrValidatorInit, err)
	}
	return v, nil
}

func getValidator() (*validator.Validate, error) {
	validateOnce.Do(func() {
		validate, errValidate = initValidator()
	})
	return validate, errValidate
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "positive_amount":
		return fmt.Sprintf("%s must be a positive amount", fe.Field())
	case "datetime":
		return fmt.Sprintf("%s must be a date in YYYY-MM-DD format", fe.Field())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s is invalid", fe.Field())
}

// decodeAndValidate reads a JSON body into dst and checks its validate tags.
func decodeAndValidate(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return &ValidationError{Message: "invalid JSON: " + err.Error()}
	}

	v, err := getValidator()
	if err != nil {
		return err
	}
	if err := v.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &ValidationError{Field: verrs[0].Field(), Message: validationMessage(verrs[0])}
		}
		return &ValidationError{Message: err.Error()}
	}
	return nil
}

type createPaymentRequest struct {
	PropertyID  int64   `json:"property_id" validate:"required,gt=0"`
	Amount      string  `json:"amount" validate:"required,positive_amount"`
	PaymentDate string  `json:"payment_date" validate:"required,datetime=2006-01-02"`
	Notes       *string `json:"notes" validate:"omitempty,max=2000"`
}

type updatePaymentRequest struct {
	Amount      *string `json:"amount" validate:"omitempty,positive_amount"`
	PaymentDate *string `json:"payment_date" validate:"omitempty,datetime=2006-01-02"`
	Notes       *string `json:"notes" validate:"omitempty,max=2000"`
}

type allocateRequest struct {
	RentChargeID int64  `json:"rent_charge_id" validate:"required,gt=0"`
	Amount       string `json:"amount" validate:"required,positive_amount"`
}

type createChargeRequest struct {
	PropertyID  int64  `json:"property_id" validate:"required,gt=0"`
	PeriodStart string `json:"period_start" validate:"required,datetime=2006-01-02"`
	PeriodEnd   string `json:"period_end" validate:"required,datetime=2006-01-02"`
	AmountDue   string `json:"amount_due" validate:"required,positive_amount"`
	DueDate     string `json:"due_date" validate:"required,datetime=2006-01-02"`
}

// Amounts and dates below have already passed their validate tags.

func mustAmount(s string) decimal.Decimal {
	d, _ := domain.ParseAmount(s)
	return d
}

func mustDate(s string) time.Time {
	t, _ := domain.ParseDate(s)
	return t
}

func idParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &ValidationError{Field: name, Message: name + " must be a positive integer"}
	}
	return id, nil
}

func queryInt64(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return nil, &ValidationError{Field: name, Message: name + " must be a positive integer"}
	}
	return &v, nil
}

func queryDate(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := domain.ParseDate(raw)
	if err != nil {
		return nil, &ValidationError{Field: name, Message: name + " must be YYYY-MM-DD or empty"}
	}
	return &t, nil
}
