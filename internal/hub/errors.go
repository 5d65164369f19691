package hub

import "errors"

var (
	ErrNotFound             = errors.New("session not found")
	ErrUnauthorized         = errors.New("caller is not the session owner")
	ErrSelfAnswerForbidden  = errors.New("owner cannot answer its own offer")
	ErrOfferMismatch        = errors.New("offer does not match expected offer")
	ErrAnswerAlreadyPresent = errors.New("session already has an answer")
	ErrMissingPriorAnswer   = errors.New("no answer to refresh")
	ErrAnswerOwnerMismatch  = errors.New("answer belongs to another account")
	ErrAnswerChanged        = errors.New("answer does not match expected answer")

	// ErrAlreadyInitialized is returned by a second bootstrap of the same store.
	ErrAlreadyInitialized = errors.New("already initialized")
	// ErrNotInitialized is returned by operations on a hub whose store has not
	// been bootstrapped.
	ErrNotInitialized = errors.New("not initialized yet")
)

// Wire codes returned by Code.
const (
	CodeNotFound             = "not_found"
	CodeUnauthorized         = "unauthorized"
	CodeSelfAnswerForbidden  = "self_answer_forbidden"
	CodeOfferMismatch        = "offer_mismatch"
	CodeAnswerAlreadyPresent = "answer_already_present"
	CodeMissingPriorAnswer   = "missing_prior_answer"
	CodeAnswerOwnerMismatch  = "answer_owner_mismatch"
	CodeAnswerChanged        = "answer_changed"
	CodeAlreadyInitialized   = "already_initialized"
	CodeNotInitialized       = "not_initialized"
	CodeInternal             = "internal_error"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrNotFound, CodeNotFound},
	{ErrUnauthorized, CodeUnauthorized},
	{ErrSelfAnswerForbidden, CodeSelfAnswerForbidden},
	{ErrOfferMismatch, CodeOfferMismatch},
	{ErrAnswerAlreadyPresent, CodeAnswerAlreadyPresent},
	{ErrMissingPriorAnswer, CodeMissingPriorAnswer},
	{ErrAnswerOwnerMismatch, CodeAnswerOwnerMismatch},
	{ErrAnswerChanged, CodeAnswerChanged},
	{ErrAlreadyInitialized, CodeAlreadyInitialized},
	{ErrNotInitialized, CodeNotInitialized},
}

// Code maps err to a stable wire code. Errors that are not hub errors (store
// failures, context cancellation) map to CodeInternal. A nil error maps to "".
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// ErrorForCode is the inverse of Code. It returns nil for unknown codes.
func ErrorForCode(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}

// IsRejection reports whether err is a validation outcome of the state
// machine rather than an infrastructure failure.
func IsRejection(err error) bool {
	switch Code(err) {
	case "", CodeInternal, CodeAlreadyInitialized, CodeNotInitialized:
		return false
	default:
		return true
	}
}
