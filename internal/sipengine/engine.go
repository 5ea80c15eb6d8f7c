// Package sipengine's Engine is the glue API exposed to the host
// application: command methods (register, call, accept, reject, cancel,
// hang up, close) and a single Events channel the host drains for state
// changes.
// It owns the transport's single reader goroutine and serializes every
// dialog mutation behind one mutex.
package sipengine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/csfua/softphone/internal/media"
)

// AudioIO is the narrow capture/playback boundary the host wires in.
// Device enumeration and the audio backend itself are the host's
// responsibility; it supplies PCM16 mono frames at whatever chunking it
// likes and receives decoded frames the same way.
type AudioIO struct {
	// Capture is read once per outbound frame tick; a nil channel means no
	// audio is sent (useful for signaling-only testing).
	Capture <-chan []int16
	// Playback receives one decoded PCM16 frame per inbound RTP packet.
	Playback chan<- []int16
}

// Engine drives one softphone session: the registration FSM, the single
// active call dialog in either direction, and KPML bookkeeping, against
// one SIP transport.
type Engine struct {
	transport *Transport
	registrar *Registrar
	tracer    *MessageTracer
	logger    *slog.Logger
	device    RegistrarDevice

	mu            sync.Mutex
	dialog        *Dialog
	pendingInvite *Message // outstanding outgoing INVITE, for CANCEL/ACK

	audio AudioIO

	events chan Event
}

// NewEngine constructs an engine bound to an already-dialed transport. Call
// Start to begin the registration loop and the transport read loop.
func NewEngine(transport *Transport, device RegistrarDevice, logger *slog.Logger) *Engine {
	logger = logger.With("subsystem", "sip-engine", "device", device.DeviceName)
	return &Engine{
		transport: transport,
		registrar: NewRegistrar(transport, logger),
		logger:    logger,
		device:    device,
		events:    make(chan Event, 16),
	}
}

// SetTracer attaches raw-message tracing to the underlying transport.
func (e *Engine) SetTracer(tracer *MessageTracer) {
	e.tracer = tracer
	e.transport.SetTracer(tracer)
}

// SetAudioIO wires the host's capture/playback channels. Must be called
// before Start if the call is expected to carry audio.
func (e *Engine) SetAudioIO(io AudioIO) {
	e.audio = io
}

// Events returns the channel of state-change events the host should drain
// continuously, from registration status through call lifecycle.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Reregister forces an immediate registration retry after the host has
// observed an EventRegistrationFailed caused by ErrAlreadyActive, typically
// once the user has confirmed taking the line over from another client.
func (e *Engine) Reregister() {
	e.registrar.Reregister()
}

// Start launches the registration loop and the transport's single reader
// goroutine. It returns immediately; both loops run until ctx is done or
// Close is called.
func (e *Engine) Start(ctx context.Context) {
	go e.registrar.Run(ctx, e.device, e.events)
	go e.readLoop(ctx)
}

// HangUp terminates an established dialog from the local side: sends a
// BYE, releases RTP resources, and returns to idle. For a dialog that
// hasn't reached established yet, use Cancel (outgoing) or Reject
// (incoming) instead.
func (e *Engine) HangUp() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := e.dialog
	if d == nil || d.State != DialogEstablished {
		return ErrNoActiveDialog
	}
	if err := e.transport.Send(buildBye(d, e.transport)); err != nil {
		return fmt.Errorf("sending bye: %w", err)
	}
	if d.RTP != nil {
		d.RTP.Close()
	}
	e.dialog = nil
	e.pendingInvite = nil
	e.emit(Event{Kind: EventCallClosed, PeerDisplayName: d.PeerDisplayName, PeerNumber: d.PeerNumber})
	return nil
}

// Close tears down any active dialog and closes the transport.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.dialog != nil && e.dialog.RTP != nil {
		e.dialog.RTP.Close()
	}
	e.dialog = nil
	e.mu.Unlock()
	return e.transport.Close()
}

// emit publishes an event without blocking the caller indefinitely if the
// host has stopped draining (best-effort; a full channel drops the event
// rather than wedging the dialog mutex).
func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		e.logger.Warn("dropping event, events channel full", "kind", ev.Kind)
	}
}

// readLoop is the transport's single reader: every inbound message is
// dispatched here, either to the registrar (REGISTER responses) or to the
// call/KPML handlers.
func (e *Engine) readLoop(ctx context.Context) {
	for {
		msg, err := e.transport.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Error("sip transport read failed", "error", err)
			e.registrar.DeliverErr(err)
			return
		}
		e.dispatch(msg)
	}
}

func (e *Engine) dispatch(msg *Message) {
	if !msg.IsRequest {
		e.dispatchResponse(msg)
		return
	}
	e.dispatchRequest(msg)
}

func (e *Engine) dispatchResponse(resp *Message) {
	if resp.Header("Call-ID") == e.registrar.CallID() {
		e.registrar.Deliver(resp)
		return
	}
	method := strings.Fields(resp.Header("CSeq"))
	if len(method) == 2 && method[1] == "NOTIFY" {
		// KPML NOTIFY responses carry no further action beyond logging.
		return
	}
	e.handleOutgoingResponse(resp)
}

func (e *Engine) dispatchRequest(req *Message) {
	switch req.Method {
	case "OPTIONS":
		e.replyOK(req)
	case "INVITE":
		e.handleIncomingInvite(req)
	case "ACK":
		e.handleAck(req)
	case "BYE":
		e.handleBye(req)
	case "CANCEL":
		e.handleIncomingCancel(req)
	case "SUBSCRIBE":
		e.handleSubscribe(req)
	default:
		e.logger.Debug("ignoring unsupported request method", "method", req.Method)
	}
}

// replyOK answers an OPTIONS keepalive probe with a bare 200 OK. CUCM uses
// OPTIONS as a link-liveness probe even though this engine never emits one
// itself.
func (e *Engine) replyOK(req *Message) {
	resp := buildResponse(req, 200, "OK", "")
	if err := e.transport.Send(resp); err != nil {
		e.logger.Error("replying to options", "error", err)
	}
}

// mediaFromSelected is a small helper shared by the outgoing and incoming
// answer/offer paths to build the dialog's negotiated MediaInfo snapshot.
func mediaFromSelected(sel media.Selected) *MediaInfo {
	return &MediaInfo{
		RemoteAddr:        sel.RemoteAddr,
		RemotePort:        sel.RemotePort,
		PayloadType:       sel.PayloadType,
		Codec:             sel.CodecName,
		PayloadSampleRate: sel.ClockRate,
	}
}

// startFrameDispatch wires a freshly-negotiated RTPSession to the host's
// audio channels: inbound decoded frames flow to Playback; outbound frames
// are pulled from Capture once per send. Both loops exit when the session
// is closed.
func (e *Engine) startFrameDispatch(d *Dialog) {
	rtp := d.RTP
	frames := rtp.Start()

	go func() {
		for frame := range frames {
			if frame.Err != nil {
				e.logger.Debug("rtp decode error", "error", frame.Err)
				continue
			}
			if e.audio.Playback != nil {
				select {
				case e.audio.Playback <- frame.PCM:
				default:
				}
			}
		}
	}()

	if e.audio.Capture == nil {
		return
	}
	go func() {
		first := true
		for pcm := range e.audio.Capture {
			if err := rtp.SendFrame(pcm, first); err != nil {
				e.logger.Debug("rtp send error", "error", err)
				return
			}
			first = false
		}
	}()
}
