package model

import "errors"

// Public error kinds. These are the only errors the signin boundary returns,
// together with *ThrownError and kvs.ErrConflict.
var (
	// ErrInvalidAuth covers every credential failure whose cause must not be
	// distinguishable: unknown user, wrong password, missing subject, a
	// failed AUTHENTICATE clause without an explicit throw.
	ErrInvalidAuth = errors.New("there was a problem with authentication")

	// ErrAccessNotFound is returned when an access method or a grant
	// identifier does not exist. Used on administrative paths.
	ErrAccessNotFound = errors.New("access method or grant not found")

	// ErrAccessMethodMismatch is returned when the resolved access method is
	// of a kind that does not support the attempted operation.
	ErrAccessMethodMismatch = errors.New("access method cannot be used for this operation")

	// ErrAccessGrantBearerInvalid is returned for a malformed, unknown,
	// expired, revoked or mismatched bearer key. All causes share it.
	ErrAccessGrantBearerInvalid = errors.New("invalid bearer key")

	// ErrAccessBearerMissingKey is returned when a bearer signin omits the key.
	ErrAccessBearerMissingKey = errors.New("bearer signin requires a key")

	// ErrAccessExists is returned when defining an access method whose name
	// is already taken at that level.
	ErrAccessExists = errors.New("access method already exists")

	// ErrSubjectNotFound is returned when a grant is issued for a user or
	// record that does not exist. Administrative path only.
	ErrSubjectNotFound = errors.New("grant subject not found")

	// ErrUserExists is returned when defining a user whose name is already
	// taken at that level.
	ErrUserExists = errors.New("user already exists")

	// ErrUserNotFound is returned when removing a user that does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrFatal is returned for signing and configuration failures. The
	// detail is logged, never returned.
	ErrFatal = errors.New("internal authentication error")
)

// ThrownError is a custom error raised by an AUTHENTICATE clause. Its message
// is authored by the schema owner and is returned to the caller verbatim.
type ThrownError struct {
	Message string
}

func (e *ThrownError) Error() string { return e.Message }

// Throw returns a *ThrownError carrying msg.
func Throw(msg string) error { return &ThrownError{Message: msg} }

// IsThrown reports whether err is, or wraps, a *ThrownError.
func IsThrown(err error) bool {
	var thrown *ThrownError
	return errors.As(err, &thrown)
}
