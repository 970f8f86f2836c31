package api

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	app_errors "attune/backend/internal/errors"
)

// A single validator instance is shared across requests; recreating it per
// request would rebuild its struct cache every time.

var (
	validate *validator.Validate
	once     sync.Once
)

func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
	})
	return validate
}

// validateRequest checks a payload struct against the rules in its field
// tags (e.g., `validate:"required,min=1"`). On failure it returns a wrapped
// app_errors.ErrValidation with a readable message.
func validateRequest(payload interface{}) error {
	err := getValidator().Struct(payload)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("%w: an unexpected error occurred during validation: %s",
			app_errors.ErrValidation, err.Error())
	}

	var messages []string
	for _, fieldErr := range validationErrors {
		messages = append(messages,
			fmt.Sprintf("Field '%s' failed on the '%s' tag", fieldErr.Field(), fieldErr.Tag()))
	}
	return fmt.Errorf("%w: %s", app_errors.ErrValidation, strings.Join(messages, "; "))
}
