// Package validation checks user-entered forms before anything reaches the
// network and reports problems per field.
package validation

import (
	"errors"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

type LoginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"min=6"`
}

type RegisterForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"min=6"`
	Name     string `json:"name" validate:"required"`
}

type OrderItemForm struct {
	ProductID int64 `json:"productId" validate:"min=1"`
	Quantity  int   `json:"quantity" validate:"min=1"`
}

type OrderForm struct {
	Items []OrderItemForm `json:"items" validate:"min=1,dive"`
}

type QuickOrderForm struct {
	Quantity int `json:"quantity" validate:"min=1"`
}

// messages are keyed by the JSON field name.
var messages = map[string]string{
	"email":     "Invalid email address",
	"password":  "Password must be at least 6 characters",
	"name":      "Name is required",
	"productId": "Product is required",
	"quantity":  "Quantity must be at least 1",
	"items":     "At least one item is required",
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Errors maps a field path (e.g. "items[0].quantity") to its message.
type Errors map[string]string

func (e Errors) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+e[f])
	}
	return strings.Join(parts, "; ")
}

// First returns the message of the alphabetically first field.
func (e Errors) First() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	if len(fields) == 0 {
		return ""
	}
	sort.Strings(fields)
	return e[fields[0]]
}

// Validate checks form and returns Errors when any field is invalid.
func Validate(form any) error {
	err := validate.Struct(form)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := make(Errors, len(fieldErrs))
	for _, fe := range fieldErrs {
		path := fe.Namespace()
		if _, rest, ok := strings.Cut(path, "."); ok {
			path = rest
		}
		if _, exists := out[path]; exists {
			continue
		}
		msg, ok := messages[fe.Field()]
		if !ok {
			msg = fe.Field() + " is invalid"
		}
		out[path] = msg
	}
	return out
}

// AsErrors extracts field errors from err.
func AsErrors(err error) (Errors, bool) {
	var fe Errors
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
