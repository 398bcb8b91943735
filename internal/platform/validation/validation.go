// Package validation checks request structs with go-playground/validator and
// reports failures in the ledger's error taxonomy.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/clinic/ledger/internal/platform/apperr"
)

var validate = newValidator()

// Column limits of the ledger schema: money is NUMERIC(12,2), rates are
// NUMERIC(6,4) and quantities are INTEGER.
var (
	MaxMoney = decimal.RequireFromString("9999999999.99")
	// MaxQuantity keeps quantity × unit price well inside the money column.
	MaxQuantity = 100000
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})

	// Decimals are validated through their string form; validator does not
	// run field tags on struct kinds.
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})

	// Money and rate tags for decimal.Decimal fields.
	mustRegister(v, "money", func(fl validator.FieldLevel) bool {
		d, ok := decimalOf(fl)
		return ok && !d.IsNegative() && d.Exponent() >= -2 && d.LessThanOrEqual(MaxMoney)
	})
	mustRegister(v, "positive_money", func(fl validator.FieldLevel) bool {
		d, ok := decimalOf(fl)
		return ok && d.IsPositive() && d.Exponent() >= -2 && d.LessThanOrEqual(MaxMoney)
	})
	mustRegister(v, "rate", func(fl validator.FieldLevel) bool {
		d, ok := decimalOf(fl)
		return ok && !d.IsNegative() && d.LessThanOrEqual(decimal.NewFromInt(1)) && d.Exponent() >= -4
	})
	mustRegister(v, "quantity", func(fl validator.FieldLevel) bool {
		q := fl.Field().Int()
		return q > 0 && q <= int64(MaxQuantity)
	})
	return v
}

// Money reports whether d fits a money column. Totals computed from valid
// inputs are checked with it before they are written.
func Money(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(MaxMoney)
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validation: %v", tag, err))
	}
}

func decimalOf(fl validator.FieldLevel) (decimal.Decimal, bool) {
	if fl.Field().Kind() != reflect.String {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(fl.Field().String())
	return d, err == nil
}

// Struct validates s and returns an apperr validation error naming every
// failing field, or nil.
func Struct(op string, s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation(op, "%v", err)
	}
	fields := Fields(verrs)
	names := make([]string, 0, len(fields))
	for name, tag := range fields {
		names = append(names, fmt.Sprintf("%s (%s)", name, tag))
	}
	sort.Strings(names)
	return apperr.Validation(op, "invalid fields: %s", strings.Join(names, ", "))
}

// Fields maps each failing field's namespace (without the root struct) to the
// tag that rejected it.
func Fields(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		ns := fe.Namespace()
		if _, rest, ok := strings.Cut(ns, "."); ok {
			ns = rest
		}
		out[ns] = fe.Tag()
	}
	return out
}
