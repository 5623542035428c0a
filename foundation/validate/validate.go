// Package validate wraps go-playground/validator with an English
// translator, so request-body validation errors can be reported as a
// flat set of readable field messages instead of raw validator errors.
package validate

import (
	"fmt"
	"strings"

	en "github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
)

var (
	validate   *validator.Validate
	translator ut.Translator
)

func init() {
	validate = validator.New()

	translatorFactory := ut.New(en.New(), en.New())
	translator, _ = translatorFactory.GetTranslator("en")

	if err := enTranslations.RegisterDefaultTranslations(validate, translator); err != nil {
		panic(err)
	}
}

// Check runs validation against the provided struct, honoring its
// `validate` tags, and returns a single error joining every field
// failure in "field: message" form.
func Check(v any) error {
	if err := validate.Struct(v); err != nil {
		verrors, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}

		var msgs []string
		for _, verror := range verrors {
			msgs = append(msgs, fmt.Sprintf("%s: %s", verror.Field(), verror.Translate(translator)))
		}

		return fmt.Errorf("validate: %s", strings.Join(msgs, ", "))
	}

	return nil
}
