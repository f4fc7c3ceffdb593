// internal/service/validate.go
package service

import (
	"errors"

	"github.com/go-playground/validator/v10"

	appErrors "github.com/unclebandit/voicereach-engine/internal/errors"
	"github.com/unclebandit/voicereach-engine/internal/queue"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateJob checks payload tags and reports the first failure as a ValidationError.
func validateJob(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return appErrors.NewValidation(fe.Namespace(), "failed "+fe.Tag())
	}
	return appErrors.NewValidation("", err.Error())
}

func decodeJob(t *queue.Task, v any) error {
	if err := t.Decode(v); err != nil {
		return err
	}
	return validateJob(v)
}
