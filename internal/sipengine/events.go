package sipengine

// EventKind enumerates the events the engine surfaces to the host
// application.
type EventKind string

const (
	EventRegistrationRegistering EventKind = "REGISTRATION_REGISTERING"
	EventRegistrationRegistered  EventKind = "REGISTRATION_REGISTERED"
	EventRegistrationFailed      EventKind = "REGISTRATION_FAILED"
	EventSecurityReinitRequired  EventKind = "SECURITY_REINIT_REQUIRED"

	EventOutgoingCallTrying   EventKind = "OUTGOING_CALL_TRYING"
	EventOutgoingCallRinging  EventKind = "OUTGOING_CALL_RINGING"
	EventOutgoingCallAccepted EventKind = "OUTGOING_CALL_ACCEPTED"
	EventOutgoingCallBusy     EventKind = "OUTGOING_CALL_BUSY"
	EventOutgoingCallFailed   EventKind = "OUTGOING_CALL_FAILED"

	EventIncomingCallRinging  EventKind = "INCOMING_CALL_RINGING"
	EventIncomingCallCanceled EventKind = "INCOMING_CALL_CANCELED"
	EventIncomingCallAccepted EventKind = "INCOMING_CALL_ACCEPTED"

	EventCallClosed EventKind = "CALL_CLOSED"
)

// Event is the minimum data the host needs: a status enum, peer
// display/number text where available, and the raw reason string on
// failure.
type Event struct {
	Kind            EventKind
	PeerDisplayName string
	PeerNumber      string
	Reason          string
}
