// Package validation turns raw procedure input into typed, constraint
// satisfying values or a core validation error listing every violation.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"fintrack/internal/core"
)

var (
	once     sync.Once
	instance *validator.Validate
)

func get() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(jsonName)
		v.RegisterCustomTypeFunc(func(f reflect.Value) any {
			m, _ := f.Interface().(core.Money)
			return m.InexactFloat64()
		}, core.Money{})
		v.RegisterCustomTypeFunc(func(f reflect.Value) any {
			d, _ := f.Interface().(core.Date)
			return d.Time
		}, core.Date{})
		mustRegister(v, "money", func(fl validator.FieldLevel) bool {
			f := fl.Field().Float()
			return f > 0 && f < 1e8
		})
		mustRegister(v, "expense_category", func(fl validator.FieldLevel) bool {
			return core.ExpenseCategory(fl.Field().String()).Valid()
		})
		mustRegister(v, "earning_category", func(fl validator.FieldLevel) bool {
			return core.EarningCategory(fl.Field().String()).Valid()
		})
		mustRegister(v, "budget_period", func(fl validator.FieldLevel) bool {
			return core.BudgetPeriod(fl.Field().String()).Valid()
		})
		instance = v
	})
	return instance
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validation: %v", tag, err))
	}
}

func jsonName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

// Validate checks the struct tags of v and reports every failed constraint.
func Validate(v any) error {
	violations, err := check(v)
	if err != nil {
		return err
	}
	if len(violations) > 0 {
		return core.NewValidationError(violations...)
	}
	return nil
}

// Decode unmarshals raw JSON into dst, a pointer to an input struct, and
// validates it. Each field is decoded on its own so that one malformed value
// does not hide the others. An empty payload is treated as an empty object;
// unknown fields are ignored.
func Decode(raw []byte, dst any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return core.NewValidationError(Violation{Field: "input", Message: fmt.Sprintf("malformed JSON at offset %d", syntaxErr.Offset)})
		}
		return core.NewValidationError(Violation{Field: "input", Message: "must be a JSON object"})
	}

	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("decode input: destination %T is not a struct pointer", dst)
	}
	rv = rv.Elem()
	rt := rv.Type()

	var violations []Violation
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		name := jsonName(sf)
		msg, ok := fields[name]
		if name == "" || !ok {
			continue
		}
		if err := json.Unmarshal(msg, rv.Field(i).Addr().Interface()); err != nil {
			violations = append(violations, Violation{Field: name, Message: "has an invalid type or format, expected " + describe(sf.Type)})
		}
	}

	checked, err := check(dst)
	if err != nil {
		return err
	}
	for _, v := range checked {
		if !hasField(violations, v.Field) {
			violations = append(violations, v)
		}
	}
	if len(violations) > 0 {
		return core.NewValidationError(violations...)
	}
	return nil
}

// Violation aliases the core type for callers building expectations.
type Violation = core.Violation

func describe(t reflect.Type) string {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t {
	case reflect.TypeOf(core.Money{}):
		return "a positive amount"
	case reflect.TypeOf(core.Date{}):
		return "a date"
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "an integer"
	case reflect.String:
		return "a string"
	}
	return t.String()
}

func check(v any) ([]Violation, error) {
	err := get().Struct(v)
	if err == nil {
		return nil, nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return nil, fmt.Errorf("validate input: %w", err)
	}
	out := make([]Violation, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, Violation{Field: fieldPath(fe), Message: message(fe)})
	}
	return out, nil
}

// fieldPath drops the top-level struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "money":
		return "must be a positive amount below 100000000"
	case "expense_category":
		return "must be one of: " + join(core.ExpenseCategories())
	case "earning_category":
		return "must be one of: " + join(core.EarningCategories())
	case "budget_period":
		return "must be one of: " + join(core.BudgetPeriods())
	}
	return "failed " + fe.Tag() + " constraint"
}

func join[T ~string](vals []T) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}

func hasField(vs []Violation, field string) bool {
	for _, v := range vs {
		if v.Field == field {
			return true
		}
	}
	return false
}
