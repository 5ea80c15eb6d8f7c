package sipengine

import "errors"

// Registration failure reasons.
var (
	// ErrAlreadyActive is returned when CUCM rejects a REGISTER with
	// "Registration is active for another client". Registrar.Run parks
	// until the host calls Reregister to force a takeover.
	ErrAlreadyActive = errors.New("registration is active for another client")

	// ErrConnectionReset is returned when the transport drops during an
	// active registration; Registrar.Run retries once automatically
	// before treating a further reset like any other failure.
	ErrConnectionReset = errors.New("sip transport connection reset")

	// ErrSecurityMismatch is reported via EventSecurityReinitRequired
	// rather than EventRegistrationFailed: recovering means redialing
	// with TLS, which only the host (owner of the connection parameters)
	// can do.
	ErrSecurityMismatch = errors.New("device security mismatch: expected TLS")

	// ErrRegistrationRejected wraps a generic non-2xx REGISTER response.
	ErrRegistrationRejected = errors.New("registration rejected")
)

// Call setup failure reasons.
var (
	ErrBusy              = errors.New("peer is busy")
	ErrCallRejected      = errors.New("call rejected")
	ErrCallCancelled     = errors.New("call cancelled")
	ErrNoMediaNegotiated = errors.New("no common codec negotiated")
	ErrCallAlreadyActive = errors.New("a dialog is already active")
	ErrNoActiveDialog    = errors.New("no active dialog")
)

// Transport/protocol failures.
var (
	ErrTransportClosed = errors.New("sip transport closed")
	ErrMalformedHead   = errors.New("malformed sip message head")
)
