package server

import (
	"time"

	"github.com/go-playground/validator/v10"
)

func NewValidator() *validator.Validate {
	validate := validator.New()

	// Verify that the input string is a YYYY-MM-DD day.
	//nolint:errcheck
	validate.RegisterValidation("dateFormat", func(fl validator.FieldLevel) bool {
		_, err := time.Parse("2006-01-02", fl.Field().String())

		return err == nil
	})

	return validate
}
