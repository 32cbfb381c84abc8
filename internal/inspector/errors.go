package inspector

import (
	"errors"
	"fmt"
)

// Kind classifies inspection failures. The set is closed.
type Kind int

const (
	// KindInstanceNotFound means no compute system carries the requested name.
	KindInstanceNotFound Kind = iota + 1
	// KindAmbiguousInstance means more than one compute system carries the name.
	KindAmbiguousInstance
	// KindNoRealizedConfiguration means the instance has no live settings.
	KindNoRealizedConfiguration
	// KindOrphanedPort means a port has no adapter with a matching address.
	KindOrphanedPort
	// KindBackendUnavailable means the management source failed a query.
	KindBackendUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindInstanceNotFound:
		return "instance_not_found"
	case KindAmbiguousInstance:
		return "ambiguous_instance"
	case KindNoRealizedConfiguration:
		return "no_realized_configuration"
	case KindOrphanedPort:
		return "orphaned_port"
	case KindBackendUnavailable:
		return "backend_unavailable"
	default:
		return "unknown"
	}
}

// Error is returned by every inspector operation that fails.
type Error struct {
	Kind    Kind
	Op      string
	Subject string
	Err     error
}

// Sentinels for errors.Is; only Kind is compared.
var (
	ErrInstanceNotFound        = &Error{Kind: KindInstanceNotFound}
	ErrAmbiguousInstance       = &Error{Kind: KindAmbiguousInstance}
	ErrNoRealizedConfiguration = &Error{Kind: KindNoRealizedConfiguration}
	ErrOrphanedPort            = &Error{Kind: KindOrphanedPort}
	ErrBackendUnavailable      = &Error{Kind: KindBackendUnavailable}
)

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Subject != "" {
		msg += fmt.Sprintf(" (%s)", e.Subject)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying source error, if any.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf extracts the Kind of err, or zero when err is not an inspector error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsDataIntegrity reports whether err points at an inconsistent management
// graph rather than a transient condition.
func IsDataIntegrity(err error) bool {
	switch KindOf(err) {
	case KindAmbiguousInstance, KindNoRealizedConfiguration, KindOrphanedPort:
		return true
	default:
		return false
	}
}

// backend wraps a source failure unless it already carries a kind.
func backend(op, subject string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindBackendUnavailable, Op: op, Subject: subject, Err: err}
}
