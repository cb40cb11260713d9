package validators

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/angelmondragon/originhash-backend/pkg/errors"
)

var (
	uniqueIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	cardSeparators  = strings.NewReplacer(" ", "", "-", "")
)

const minCardNumberLength = 4

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	// registration only fails on an empty tag or nil func
	_ = v.RegisterValidation("uniqueid", func(fl validator.FieldLevel) bool {
		return uniqueIDPattern.MatchString(strings.TrimSpace(fl.Field().String()))
	})
	_ = v.RegisterValidation("cardnumber", func(fl validator.FieldLevel) bool {
		return utf8.RuneCountInString(NormalizeCardNumber(fl.Field().String())) >= minCardNumberLength
	})
	return v
}

// NormalizeCardNumber drops the spaces and dashes people type between digit groups.
func NormalizeCardNumber(value string) string {
	return cardSeparators.Replace(strings.TrimSpace(value))
}

func DecodeJSONBody(r *http.Request, dest any) error {
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
	}()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body").WithDetails(map[string]any{"error": err.Error()})
	}
	if err := validate.Struct(dest); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) *pkgerrors.Error {
	if errs, ok := err.(validator.ValidationErrors); ok {
		details := map[string]string{}
		for _, fieldErr := range errs {
			details[fieldErr.Field()] = validationMessage(fieldErr)
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "email":
		return "must be a valid email"
	case "numeric":
		return "must contain only digits"
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "uniqueid":
		return "must be a certificate identifier"
	case "cardnumber":
		return fmt.Sprintf("must contain at least %d characters", minCardNumberLength)
	}
	return "is invalid"
}
