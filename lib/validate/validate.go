package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var instance = func() *validator.Validate {
	v := validator.New()
	// Report field names as their json wire names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

// Struct validates a single struct value against its `validate` tags.
// The returned error lists every failing field in wire-name terms.
func Struct(s interface{}) error {
	if s == nil {
		return fmt.Errorf("is nil")
	}
	if !isStruct(s) {
		return fmt.Errorf("not a struct")
	}

	err := instance.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var b strings.Builder
		for i, fieldErr := range validationErrors {
			if i > 0 {
				b.WriteString("; ")
			}
			b.WriteString(fieldErr.Field())
			b.WriteString(" ")
			b.WriteString(fieldErr.Tag())
		}
		return errors.New(b.String())
	}
	return fmt.Errorf("validation: %w", err)
}

func isStruct(s interface{}) bool {
	r := reflect.TypeOf(s)
	if r.Kind() == reflect.Ptr {
		r = r.Elem()
	}
	return r.Kind() == reflect.Struct
}
