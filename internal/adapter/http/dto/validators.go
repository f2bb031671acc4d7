package dto

import (
	"reflect"
	"strings"

	"sentimatrix-automation/internal/core/domain"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		RegisterValidators(v)
	}
}

// RegisterValidators adds the custom tags used by the request DTOs.
func RegisterValidators(v *validator.Validate) {
	_ = v.RegisterValidation("https_url", validateHTTPSURL)
	_ = v.RegisterValidation("hhmm", validateClock)
	_ = v.RegisterValidation("iana_tz", validateTimezone)
}

// validateHTTPSURL accepts absolute https URLs without credentials.
func validateHTTPSURL(fl validator.FieldLevel) bool {
	raw := fl.Field().String()
	if raw == "" {
		return true // optional field; use "required" tag to enforce presence
	}
	return domain.ValidateWebhookURL(raw) == nil
}

// validateClock accepts a strict 24-hour "HH:MM".
func validateClock(fl validator.FieldLevel) bool {
	_, _, err := domain.ParseClock(fl.Field().String())
	return err == nil
}

func validateTimezone(fl validator.FieldLevel) bool {
	_, err := domain.LoadLocation(fl.Field().String())
	return err == nil
}

// TrimStrings trims surrounding whitespace from every exported string field
// (including *string) of a struct pointer.
func TrimStrings(v interface{}) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return
	}
	trimFields(rv.Elem())
}

func trimFields(rv reflect.Value) {
	for i := 0; i < rv.NumField(); i++ {
		f := rv.Field(i)
		if !f.CanSet() {
			continue
		}
		switch f.Kind() {
		case reflect.String:
			f.SetString(strings.TrimSpace(f.String()))
		case reflect.Ptr:
			if f.IsNil() {
				continue
			}
			if elem := f.Elem(); elem.Kind() == reflect.String {
				elem.SetString(strings.TrimSpace(elem.String()))
			}
		}
	}
}
