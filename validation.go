package registrar

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"
)

// validationFailed converts ozzo validation errors into ErrValidationFailed,
// one metadata entry per failing field.
func validationFailed(err error) error {
	if err == nil {
		return nil
	}

	fields := map[string]any{}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			if ferr != nil {
				fields[field] = ferr.Error()
			}
		}
	} else {
		fields["error"] = err.Error()
	}

	return withMeta(ErrValidationFailed, map[string]any{"fields": fields})
}
