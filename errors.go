package registrar

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeTokenNotFound           = "TOKEN_NOT_FOUND"
	TextCodeTokenExpired            = "TOKEN_EXPIRED"
	TextCodeTokenAlreadyUsed        = "TOKEN_ALREADY_USED"
	TextCodePurposeMismatch         = "TOKEN_PURPOSE_MISMATCH"
	TextCodeIllegalTransition       = "ILLEGAL_TRANSITION"
	TextCodeDuplicatePendingRequest = "DUPLICATE_PENDING_REQUEST"
	TextCodeNotFound                = "NOT_FOUND"
	TextCodeAlreadyResolved         = "ALREADY_RESOLVED"
	TextCodeClearanceIncomplete     = "CLEARANCE_INCOMPLETE"
	TextCodeValidationFailed        = "VALIDATION_FAILED"
	TextCodeEmptyCredential         = "EMPTY_CREDENTIAL"
	TextCodeInvalidCredentials      = "INVALID_CREDENTIALS"
	TextCodeThrottled               = "THROTTLED"
	TextCodeInternal                = "INTERNAL"
)

// ErrTokenNotFound is returned for unknown or superseded token values.
var ErrTokenNotFound = goerrors.New("security token not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeTokenNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrTokenExpired is returned when a token is validated past its expiry.
var ErrTokenExpired = goerrors.New("security token has expired", goerrors.CategoryValidation).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeBadRequest)

// ErrTokenAlreadyUsed is returned when a consumed token is presented again.
var ErrTokenAlreadyUsed = goerrors.New("security token has already been used", goerrors.CategoryConflict).
	WithTextCode(TextCodeTokenAlreadyUsed).
	WithCode(goerrors.CodeConflict)

// ErrPurposeMismatch is returned when a token is presented for the wrong flow.
var ErrPurposeMismatch = goerrors.New("security token was issued for a different purpose", goerrors.CategoryBadInput).
	WithTextCode(TextCodePurposeMismatch).
	WithCode(goerrors.CodeBadRequest)

// ErrIllegalTransition is returned when an account is not in the state an
// operation requires.
var ErrIllegalTransition = goerrors.New("illegal account status transition", goerrors.CategoryConflict).
	WithTextCode(TextCodeIllegalTransition).
	WithCode(goerrors.CodeConflict)

// ErrDuplicatePendingRequest is returned when a subject already has an open request
// on a workflow that allows only one.
var ErrDuplicatePendingRequest = goerrors.New("a pending request already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicatePendingRequest).
	WithCode(goerrors.CodeConflict)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = goerrors.New("record not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrAlreadyResolved is returned when reviewing a record that was already reviewed.
var ErrAlreadyResolved = goerrors.New("record has already been resolved", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyResolved).
	WithCode(goerrors.CodeConflict)

// ErrClearanceIncomplete is returned when a withdrawal is approved before every
// department cleared the student.
var ErrClearanceIncomplete = goerrors.New("clearance is not complete", goerrors.CategoryConflict).
	WithTextCode(TextCodeClearanceIncomplete).
	WithCode(goerrors.CodeConflict)

// ErrValidationFailed is returned for malformed input.
var ErrValidationFailed = goerrors.New("validation failed", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidationFailed).
	WithCode(goerrors.CodeBadRequest)

// ErrNoEmptyString is returned when hashing an empty credential.
var ErrNoEmptyString = goerrors.New("credential must not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyCredential).
	WithCode(goerrors.CodeBadRequest)

// ErrMismatchedHashAndPassword is returned when a credential does not match its hash.
var ErrMismatchedHashAndPassword = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrThrottled is returned when a keyed action ran too often in the current window.
var ErrThrottled = goerrors.New("too many requests, try again later", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeThrottled).
	WithCode(429)

// HasTextCode reports whether err is a rich error carrying code.
func HasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == code
	}
	return false
}

func IsTokenNotFound(err error) bool    { return HasTextCode(err, TextCodeTokenNotFound) }
func IsTokenExpired(err error) bool     { return HasTextCode(err, TextCodeTokenExpired) }
func IsTokenAlreadyUsed(err error) bool { return HasTextCode(err, TextCodeTokenAlreadyUsed) }
func IsPurposeMismatch(err error) bool  { return HasTextCode(err, TextCodePurposeMismatch) }
func IsIllegalTransition(err error) bool {
	return HasTextCode(err, TextCodeIllegalTransition)
}
func IsDuplicatePendingRequest(err error) bool {
	return HasTextCode(err, TextCodeDuplicatePendingRequest)
}
func IsNotFound(err error) bool        { return HasTextCode(err, TextCodeNotFound) }
func IsAlreadyResolved(err error) bool { return HasTextCode(err, TextCodeAlreadyResolved) }
func IsClearanceIncomplete(err error) bool {
	return HasTextCode(err, TextCodeClearanceIncomplete)
}
func IsValidationFailed(err error) bool { return HasTextCode(err, TextCodeValidationFailed) }
func IsThrottled(err error) bool        { return HasTextCode(err, TextCodeThrottled) }

// withMeta returns a copy of the template enriched with metadata, so the
// package-level templates are never mutated.
func withMeta(template *goerrors.Error, metadata map[string]any) *goerrors.Error {
	return template.Clone().WithMetadata(metadata)
}

// illegalTransition names the attempted transition and the actual state.
func illegalTransition(operation string, accountID any, from AccountStatus, to AccountStatus) *goerrors.Error {
	err := withMeta(ErrIllegalTransition, map[string]any{
		"operation":  operation,
		"account_id": accountID,
		"from":       string(from),
		"to":         string(to),
	})
	err.Message = "illegal account status transition " + string(from) + " -> " + string(to) + " (" + operation + ")"
	return err
}

// internalError wraps storage failures, passing rich errors through untouched.
func internalError(err error, message string) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, message).
		WithTextCode(TextCodeInternal)
}
