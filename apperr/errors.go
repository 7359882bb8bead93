// Package apperr defines the error classes shared by every domain package.
// Domain packages declare their own sentinels wrapping one of these so callers
// can branch on the class with errors.Is without knowing the package.
package apperr

import "errors"

var (
	// ErrUnauthenticated signals a missing or invalid credential.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden signals a valid credential without the required privilege or ownership.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound signals that a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation signals a malformed or missing field.
	ErrValidation = errors.New("validation failed")
	// ErrAlreadyPending signals a duplicate elevation request.
	ErrAlreadyPending = errors.New("already pending")
	// ErrConflict signals a uniqueness violation other than a booking slot.
	ErrConflict = errors.New("conflict")
	// ErrSlotConflict signals an occupied (listing, date, time) slot.
	ErrSlotConflict = errors.New("slot conflict")
	// ErrStorage signals a failure of the image storage boundary.
	ErrStorage = errors.New("storage failure")
	// ErrDependency signals a failure of an outbound collaborator such as mail delivery.
	ErrDependency = errors.New("dependency failure")
)

// Invalid wraps a human readable reason as a validation error.
func Invalid(pkg, reason string) error {
	return &validationError{pkg: pkg, reason: reason}
}

type validationError struct {
	pkg    string
	reason string
}

func (e *validationError) Error() string {
	return e.pkg + ": " + e.reason
}

func (e *validationError) Unwrap() error {
	return ErrValidation
}

// Reason returns the message a client may see for err. Validation errors expose
// their reason without the package prefix; everything else returns fallback.
func Reason(err error, fallback string) string {
	var v *validationError
	if errors.As(err, &v) {
		return v.reason
	}
	return fallback
}
