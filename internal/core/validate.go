package core

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"
)

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError carries one message per offending input field.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator with the ledger's custom tags:
// scope, currency and israeliid. Decimal fields validate as numbers and
// field names are reported by their json tag.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
			switch d := field.Interface().(type) {
			case decimal.Decimal:
				f, _ := d.Float64()
				return f
			case decimal.NullDecimal:
				if !d.Valid {
					return nil
				}
				f, _ := d.Decimal.Float64()
				return f
			}
			return nil
		}, decimal.Decimal{}, decimal.NullDecimal{})
		_ = v.RegisterValidation("scope", func(fl validator.FieldLevel) bool {
			s := fl.Field().String()
			return s == "" || Scope(strings.ToUpper(s)).Valid()
		})
		_ = v.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
			s := fl.Field().String()
			return s == "" || Currency(strings.ToUpper(s)).Valid()
		})
		_ = v.RegisterValidation("israeliid", func(fl validator.FieldLevel) bool {
			s := fl.Field().String()
			return s == "" || ValidIsraeliID(s)
		})
		validate = v
	})
	return validate
}

// ValidateStruct runs struct-tag validation and converts failures into a
// *ValidationError keyed by json field name.
func ValidateStruct(s any) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		out.Fields[fe.Field()] = fieldMessage(fe)
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of " + fe.Param()
	case "scope":
		return "must be PERSONAL or BUSINESS"
	case "currency":
		return "unsupported currency"
	case "israeliid":
		return "invalid Israeli tax id"
	case "email":
		return "invalid e-mail address"
	case "datetime":
		return "must be a date in " + fe.Param() + " format"
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}

// FieldError maps a domain sentinel to the request field it concerns.
// Errors it does not recognise are returned unchanged.
func FieldError(err error) error {
	fields := []struct {
		target error
		field  string
	}{
		{ErrInvalidAmount, "amount"},
		{ErrInvalidCurrency, "currency"},
		{ErrInvalidScope, "scope"},
		{ErrEmptyDescription, "description"},
		{ErrEmptyCategory, "category"},
		{ErrEmptyName, "name"},
		{ErrInvalidTaxID, "taxId"},
		{ErrInvalidPhone, "phone"},
		{ErrInvalidRate, "rate"},
		{ErrInvalidMonth, "month"},
		{ErrInvalidYear, "year"},
		{ErrInvalidSeries, "recurringFrequency"},
	}
	for _, f := range fields {
		if errors.Is(err, f.target) {
			return NewValidationError(f.field, err.Error())
		}
	}
	return err
}

// ValidIsraeliID checks a 9-digit Israeli ID or company number with its
// check digit. Shorter inputs are left-padded with zeros.
func ValidIsraeliID(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > 9 {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	id = strings.Repeat("0", 9-len(id)) + id
	if id == "000000000" {
		return false
	}
	sum := 0
	for i, r := range id {
		d := int(r-'0') * (i%2 + 1)
		if d > 9 {
			d -= 9
		}
		sum += d
	}
	return sum%10 == 0
}

// DefaultPhoneRegion is used for numbers written without a country code.
const DefaultPhoneRegion = "IL"

// NormalizePhone parses a phone number and formats it as E.164. Only the
// length is checked against the region: operator prefix ranges change
// faster than the bundled metadata.
func NormalizePhone(raw string) (string, error) {
	num, err := libphonenumber.Parse(strings.TrimSpace(raw), DefaultPhoneRegion)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPhone, err)
	}
	if !libphonenumber.IsPossibleNumber(num) {
		return "", ErrInvalidPhone
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}
