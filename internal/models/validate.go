package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the request payload against its struct tags.
func (r *CaseLookupRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid case lookup request: %w", err)
	}
	return nil
}
