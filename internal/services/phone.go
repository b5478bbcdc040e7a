package services

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// dialCodeDigits is the expected local number length per dial code.
var dialCodeDigits = map[string]int{
	"+91":  10,
	"+1":   10,
	"+44":  10,
	"+971": 9,
	"+61":  9,
	"+65":  8,
}

func normalizeDialCode(code string) string {
	code = strings.TrimSpace(code)
	if code != "" && !strings.HasPrefix(code, "+") {
		code = "+" + code
	}
	return code
}

// ValidatePhone checks that number has the digit count its dial code expects.
func ValidatePhone(dialCode, number string) error {
	want, ok := dialCodeDigits[normalizeDialCode(dialCode)]
	if !ok {
		return ErrInvalidPhone
	}
	number = strings.TrimSpace(number)
	if len(number) != want {
		return ErrInvalidPhone
	}
	for _, r := range number {
		if r < '0' || r > '9' {
			return ErrInvalidPhone
		}
	}
	return nil
}

// FormatPhone joins a validated dial code and local number.
func FormatPhone(dialCode, number string) string {
	return normalizeDialCode(dialCode) + strings.TrimSpace(number)
}

func validateDialCode(fl validator.FieldLevel) bool {
	_, ok := dialCodeDigits[normalizeDialCode(fl.Field().String())]
	return ok
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("dialcode", validateDialCode)
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		req := sl.Current().Interface().(CreateOrderRequest)
		if ValidatePhone(req.DialCode, req.CustomerPhone) != nil {
			sl.ReportError(req.CustomerPhone, "CustomerPhone", "customerPhone", "phonelen", req.DialCode)
		}
	}, CreateOrderRequest{})
	return v
}
