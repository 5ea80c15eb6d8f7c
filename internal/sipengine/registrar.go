package sipengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RegistrationState is the state of the registration FSM.
type RegistrationState string

const (
	RegistrationIdle        RegistrationState = "idle"
	RegistrationRegistering RegistrationState = "registering"
	RegistrationRegistered  RegistrationState = "registered"
	RegistrationFailed      RegistrationState = "failed"
)

// registerExpirySeconds is the Expires value requested on every REGISTER.
const registerExpirySeconds = 3600

// registrationActiveWarning and securityMismatchWarning are the literal
// texts CUCM uses to distinguish the two special-cased REGISTER rejections
// from a generic one.
const (
	registrationActiveWarning = "Registration is active for another client"
	securityMismatchWarning   = "Device security mismatch: expected TLS"
)

// Registrar drives the registration FSM against CUCM: initial REGISTER,
// periodic re-registration at half the granted expiry, and a single paced
// retry on a dropped connection.
type Registrar struct {
	transport   *Transport
	logger      *slog.Logger
	instanceURN string // +sip.instance value, stable across re-registrations

	localTag string
	callID   string
	cseq     uint32

	state RegistrationState

	// respCh receives REGISTER responses handed to it by the engine's
	// single transport-reader goroutine (Transport.Receive must only ever
	// be called from one place at a time).
	respCh chan *Message

	// errCh receives the transport's terminal read error, so an in-flight
	// register() call waiting on respCh unblocks instead of hanging
	// forever when the connection dies mid-registration.
	errCh chan error

	// reregisterCh wakes a loop that is parked after an already_active
	// rejection, for the host-initiated forced takeover.
	reregisterCh chan struct{}
}

// NewRegistrar constructs a registrar bound to an already-dialed transport.
func NewRegistrar(transport *Transport, logger *slog.Logger) *Registrar {
	return &Registrar{
		transport:    transport,
		logger:       logger.With("subsystem", "sip-registrar"),
		instanceURN:  "<urn:uuid:" + uuid.NewString() + ">",
		localTag:     newHex32(),
		callID:       uuid.NewString(),
		cseq:         100,
		state:        RegistrationIdle,
		respCh:       make(chan *Message, 4),
		errCh:        make(chan error, 1),
		reregisterCh: make(chan struct{}, 1),
	}
}

// CallID returns the stable Call-ID of the registration dialog, used by
// the engine's dispatcher to route responses here.
func (r *Registrar) CallID() string { return r.callID }

// Deliver hands a REGISTER response to the in-flight register() call.
// Called from the engine's single transport-reader goroutine.
func (r *Registrar) Deliver(msg *Message) {
	select {
	case r.respCh <- msg:
	default:
		r.logger.Warn("dropping register response, no in-flight request")
	}
}

// DeliverErr reports that the transport's reader has died, unblocking any
// in-flight register() call with a connection-reset error instead of
// leaving it waiting on a response that will never arrive.
func (r *Registrar) DeliverErr(err error) {
	select {
	case r.errCh <- err:
	default:
	}
}

// Reregister wakes a registration loop parked after an already_active
// rejection, forcing an immediate retry. The host calls this once it has
// decided to take the line over from whatever other client is registered.
func (r *Registrar) Reregister() {
	select {
	case r.reregisterCh <- struct{}{}:
	default:
	}
}

// Run drives the registration loop until ctx is cancelled, reporting state
// transitions on events. It blocks; callers run it in its own goroutine.
//
// Three rejection policies apply, matching CUCM's REGISTER semantics:
// already_active parks the loop until the host calls Reregister; a
// connection reset gets exactly one automatic retry, after a backoff
// delay, before it is treated like any other failure; a security mismatch is reported via
// EventSecurityReinitRequired instead of EventRegistrationFailed, since
// recovering from it means redialing with TLS, which only the host (the
// owner of the transport's connection parameters) can do. Any other
// rejection surfaces verbatim and ends the loop.
func (r *Registrar) Run(ctx context.Context, device RegistrarDevice, events chan<- Event) {
	bo := newBackoff()
	resetRetried := false

	for {
		r.state = RegistrationRegistering
		events <- Event{Kind: EventRegistrationRegistering}

		granted, err := r.register(ctx, device, registerExpirySeconds)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.state = RegistrationFailed

			switch {
			case errors.Is(err, ErrConnectionReset) && !resetRetried:
				resetRetried = true
				events <- Event{Kind: EventRegistrationFailed, Reason: err.Error()}
				delay := bo.next()
				r.logger.Warn("connection reset during registration, retrying once", "error", err, "retry_in", delay.String())
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
					continue
				}

			case errors.Is(err, ErrAlreadyActive):
				events <- Event{Kind: EventRegistrationFailed, Reason: err.Error()}
				r.logger.Warn("another client holds this registration, waiting for a forced retry", "error", err)
				select {
				case <-ctx.Done():
					return
				case <-r.reregisterCh:
					continue
				}

			case errors.Is(err, ErrSecurityMismatch):
				events <- Event{Kind: EventSecurityReinitRequired, Reason: err.Error()}
				r.logger.Warn("security mismatch, host must reconnect with TLS", "error", err)
				return

			default:
				events <- Event{Kind: EventRegistrationFailed, Reason: err.Error()}
				r.logger.Error("registration failed, not retrying automatically", "error", err)
				return
			}
		}

		resetRetried = false
		bo.reset()
		r.state = RegistrationRegistered
		events <- Event{Kind: EventRegistrationRegistered}
		r.logger.Info("registered", "expires", granted)

		refresh := time.Duration(granted/2) * time.Second
		readTimeout := time.Duration(granted+5) * time.Second
		r.transport.SetReadDeadline(readTimeout)

		select {
		case <-ctx.Done():
			return
		case <-time.After(refresh):
		}
	}
}

// RegistrarDevice is the subset of profile.Device the registrar needs,
// kept narrow so this package does not import internal/profile directly
// (it is handed the fields it needs by the engine instead).
type RegistrarDevice struct {
	CUCMHost    string
	LineNumber  string
	DeviceName  string
	ContactID   string
	DisplayName string
}

// remoteCCRequestBody is the fixed multipart/mixed body CUCM expects on
// every REGISTER: a bulk-register document followed by an options-ind
// capability list, both as x-cisco-remotecc-request parts.
func remoteCCRequestBody(deviceName string) (string, string) {
	const boundary = "uniqueBoundary"
	bulk := "<bulkRegister><phoneLine>1</phoneLine><numLines>1</numLines></bulkRegister>"
	optionsInd := "<x-cisco-remotecc-request><optionsInd><caps>caps=0x6080000BE7</caps></optionsInd></x-cisco-remotecc-request>"
	body := fmt.Sprintf(
		"--%s\r\nContent-Type: application/x-cisco-remotecc-request\r\nContent-Length: %d\r\n\r\n%s\r\n"+
			"--%s\r\nContent-Type: application/x-cisco-remotecc-request\r\nContent-Length: %d\r\n\r\n%s\r\n--%s--\r\n",
		boundary, len(bulk), bulk, boundary, len(optionsInd), optionsInd, boundary)
	return "multipart/mixed;boundary=" + boundary, body
}

// register sends one REGISTER request (CSeq 101 normally, incrementing on
// every subsequent renewal or forced takeover) and returns the
// server-granted expiry on success.
func (r *Registrar) register(ctx context.Context, device RegistrarDevice, expires int) (int, error) {
	force := r.cseq > 100
	r.cseq++
	localPort := r.transport.LocalAddr().Port
	transportToken := r.transport.TransportToken(true)

	aor := fmt.Sprintf("<sip:%s@%s>", device.LineNumber, device.CUCMHost)
	instance := "00000000-0000-0000-0000-000000000000"
	reason := `Cisco-CSF;cause=200;text="initialized"`
	if force {
		instance = strings.TrimPrefix(strings.Trim(r.instanceURN, "<>"), "urn:uuid:")
		reason = `Cisco-CSF;cause=200;text="Application-Requested-Destroy"`
	}
	contact := fmt.Sprintf("<sip:%s@%s:%d;transport=%s>;+sip.instance=%q;+u.sip!devicename.ccm.cisco.com=%q",
		device.ContactID, localIPOf(r.transport), localPort, strings.ToLower(transportToken), instance, device.DeviceName)

	contentType, body := remoteCCRequestBody(device.DeviceName)

	req := NewRequest("REGISTER", fmt.Sprintf("sip:%s", device.CUCMHost))
	req.SetHeader("Via", fmt.Sprintf("SIP/2.0/%s %s:%d;branch=%s", transportToken, localIPOf(r.transport), localPort, newBranch()))
	req.SetHeader("Max-Forwards", "70")
	req.SetHeader("From", aor+";tag="+r.localTag)
	req.SetHeader("To", aor)
	req.SetHeader("Call-ID", r.callID)
	req.SetHeader("CSeq", fmt.Sprintf("%d REGISTER", r.cseq))
	req.SetHeader("Contact", contact)
	req.SetHeader("Expires", strconv.Itoa(expires))
	req.SetHeader("User-Agent", userAgentHeader)
	req.SetHeader("Server", serverHeader)
	req.SetHeader("Date", time.Now().UTC().Format(time.RFC1123))
	req.SetHeader("Supported", supportedCapabilities)
	req.SetHeader("Allow", allowedMethods)
	req.SetHeader("Reason", reason)
	req.SetHeader("Content-Type", contentType)
	req.Body = []byte(body)

	if err := r.transport.Send(req); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrConnectionReset, err)
	}

	for {
		var resp *Message
		select {
		case resp = <-r.respCh:
		case err := <-r.errCh:
			return 0, fmt.Errorf("%w: %v", ErrConnectionReset, err)
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		switch {
		case resp.StatusCode == 100:
			continue
		case resp.StatusCode == 200:
			return grantedExpiry(resp, expires), nil
		case resp.StatusCode == 403 && strings.Contains(resp.Header("Warning"), registrationActiveWarning):
			return 0, fmt.Errorf("%w: %s", ErrAlreadyActive, resp.ReasonPhrase)
		case strings.Contains(resp.Header("Warning"), securityMismatchWarning) || strings.Contains(resp.ReasonPhrase, securityMismatchWarning):
			return 0, fmt.Errorf("%w: %s", ErrSecurityMismatch, resp.ReasonPhrase)
		default:
			return 0, fmt.Errorf("%w: %d %s", ErrRegistrationRejected, resp.StatusCode, resp.ReasonPhrase)
		}
	}
}

// grantedExpiry extracts the server-granted expiry from a 200 OK response
// to REGISTER, preferring the Contact header's expires parameter over the
// top-level Expires header (RFC 3261 §10.2.4).
func grantedExpiry(resp *Message, requested int) int {
	if contact := resp.Header("Contact"); contact != "" {
		if v := paramValue(contact, "expires"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				return n
			}
		}
	}
	if exp := resp.Header("Expires"); exp != "" {
		if n, err := strconv.Atoi(exp); err == nil && n > 0 {
			return n
		}
	}
	return requested
}

const (
	userAgentHeader = "csfphone/1.0"
	serverHeader    = "Cisco-CSF"
)

// supportedCapabilities and allowedMethods are the fixed capability/method
// lists CUCM expects on every message.
const (
	supportedCapabilities = "replaces,join,sdp-anat,norefersub,resource-priority,extended-refer,X-cisco-srtp-fallback,X-cisco-rai,X-cisco-serviceuri,X-cisco-escapecodes,X-cisco-service-control,X-cisco-monrec,X-cisco-config,X-cisco-sis-7.0.0"
	allowedMethods         = "ACK,BYE,CANCEL,INVITE,NOTIFY,OPTIONS,REFER,REGISTER,UPDATE,SUBSCRIBE,INFO"
)

// localIPOf returns the local IP address of a transport's underlying
// connection, used to build Via/Contact/SDP addresses.
func localIPOf(t *Transport) string {
	if a := t.LocalAddr(); a != nil {
		return a.IP.String()
	}
	return "0.0.0.0"
}

// newBranch generates an RFC 3261-compliant Via branch parameter.
func newBranch() string {
	return "z9hG4bK" + uuid.NewString()[:16]
}
