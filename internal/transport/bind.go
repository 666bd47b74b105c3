package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/rpggio/dugongwatch/internal/domain/ledger"
)

const maxJSONBody = 1 << 20

type validatorSvc struct {
	validate   *validator.Validate
	translator ut.Translator
}

var (
	vOnce sync.Once
	vSvc  *validatorSvc
)

// validation returns the shared validator with english messages and json field names.
func validation() *validatorSvc {
	vOnce.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		trans, _ := uni.GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if tag == "-" || tag == "" {
				return fld.Name
			}
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			return tag
		})
		_ = en_translations.RegisterDefaultTranslations(v, trans)
		registerImageClass(v, trans)

		vSvc = &validatorSvc{validate: v, translator: trans}
	})
	return vSvc
}

// registerImageClass adds the "imageclass" tag backed by ledger.ParseImageClass.
func registerImageClass(v *validator.Validate, trans ut.Translator) {
	_ = v.RegisterValidation("imageclass", func(fl validator.FieldLevel) bool {
		_, err := ledger.ParseImageClass(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterTranslation("imageclass", trans,
		func(ut ut.Translator) error {
			return ut.Add("imageclass", "{0} must be feeding or resting", true)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			msg, _ := ut.T("imageclass", fe.Field())
			return msg
		},
	)
}

// decodeJSON decodes a single JSON object into T and validates it.
func decodeJSON[T any](r *http.Request) (T, error) {
	var zero T
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()

	var dst T
	if err := dec.Decode(&dst); err != nil {
		if errors.Is(err, io.EOF) {
			return zero, &ValidationError{Message: "empty body"}
		}
		return zero, &ValidationError{Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if dec.More() {
		return zero, &ValidationError{Message: "unexpected trailing data"}
	}
	if err := validateStruct(dst); err != nil {
		return zero, err
	}
	return dst, nil
}

func validateStruct(v any) error {
	err := validation().validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{Field: fe.Field(), Message: fe.Translate(validation().translator)}
	}
	return &ValidationError{Message: err.Error()}
}
