package sipengine

import (
	"fmt"

	"github.com/csfua/softphone/internal/media"
	"github.com/csfua/softphone/internal/media/codec"
)

// handleIncomingInvite handles a fresh incoming INVITE: capture dialog
// identifiers, append a local tag, reply 100 then 180, and surface the
// ringing event.
func (e *Engine) handleIncomingInvite(req *Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dialog != nil {
		// A mid-dialog re-INVITE with the same Call-ID is a session
		// refresh: echo the existing answer rather than misrouting to a
		// new dialog.
		if e.dialog.CallID == req.Header("Call-ID") && e.dialog.State == DialogEstablished {
			e.handleReinvite(req)
			return
		}
		e.logger.Warn("rejecting incoming invite, a dialog is already active")
		e.transport.Send(buildResponse(req, 486, "Busy Here", newHex32()))
		return
	}

	callID := req.Header("Call-ID")
	d := NewDialog(DirectionIncoming, callID)
	d.LocalTag = newHex32()

	sid := req.Header("Session-ID")
	local, _ := sessionIDParams(sid)
	if local != "" {
		d.RemoteSessionID = local
	}

	ident := ParseRemoteIdentity(req.Header("Remote-Party-ID"), req.Header("From"))
	d.PeerDisplayName = ident.DisplayName
	d.PeerNumber = ident.Number
	d.PeerURI = req.Header("Contact")
	d.LastVia = req.Header("Via")
	d.LastFrom = req.Header("From")
	d.LastTo = appendTag(req.Header("To"), d.LocalTag)
	d.LastContact = req.Header("Contact")

	e.dialog = d
	e.pendingInvite = req

	if err := e.transport.Send(buildResponse(req, 100, "Trying", d.LocalTag)); err != nil {
		e.logger.Error("sending 100 trying", "error", err)
	}
	d.State = DialogOffered

	ringing := buildResponse(req, 180, "Ringing", d.LocalTag)
	ringing.SetHeader("Session-ID", d.LocalSessionID+";remote="+d.RemoteSessionID)
	if err := e.transport.Send(ringing); err != nil {
		e.logger.Error("sending 180 ringing", "error", err)
	}
	d.State = DialogAlerting

	e.emit(Event{Kind: EventIncomingCallRinging, PeerDisplayName: d.PeerDisplayName, PeerNumber: d.PeerNumber})
}

// handleReinvite answers a mid-dialog re-INVITE by re-offering the
// dialog's existing negotiated SDP answer, rather than routing it to a
// fresh incoming-call dialog.
func (e *Engine) handleReinvite(req *Message) {
	d := e.dialog
	if d.Media == nil || d.RTP == nil {
		e.transport.Send(buildResponse(req, 488, "Not Acceptable Here", d.LocalTag))
		return
	}
	offer := media.BuildAnswer(localIPOf(e.transport), d.RTP.LocalPort())
	resp := buildResponse(req, 200, "OK", d.LocalTag)
	resp.SetHeader("Content-Type", "application/sdp")
	resp.Body = offer.SDP.Marshal()
	if err := e.transport.Send(resp); err != nil {
		e.logger.Error("answering re-invite", "error", err)
	}
}

// Accept opens inbound RTP sockets, answers with SDP, and waits for the
// peer's ACK.
func (e *Engine) Accept() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := e.dialog
	if d == nil || d.Direction != DirectionIncoming || d.State != DialogAlerting {
		return ErrNoActiveDialog
	}
	req := e.pendingInvite
	if req == nil {
		return ErrNoActiveDialog
	}

	sd, err := media.ParseSDP(req.Body)
	if err != nil {
		return fmt.Errorf("parsing sdp offer: %w", err)
	}
	sel, err := media.SelectFromAnswer(sd)
	if err != nil {
		return fmt.Errorf("selecting codec from offer: %w", err)
	}
	c, err := codec.ByName(sel.CodecName)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNoMediaNegotiated, err)
	}

	rtp, err := media.NewRTPSession(0, sel.RemoteAddr, sel.RemotePort, sel.PayloadType, c, e.logger)
	if err != nil {
		return fmt.Errorf("opening rtp socket: %w", err)
	}
	d.RTP = rtp
	d.Media = mediaFromSelected(sel)

	offer := media.BuildAnswer(localIPOf(e.transport), rtp.LocalPort())
	resp := buildResponse(req, 200, "OK", d.LocalTag)
	resp.SetHeader("Session-ID", d.LocalSessionID+";remote="+d.RemoteSessionID)
	resp.SetHeader("Content-Type", "application/sdp")
	resp.Body = offer.SDP.Marshal()

	if err := e.transport.Send(resp); err != nil {
		rtp.Close()
		d.RTP = nil
		return fmt.Errorf("sending 200 ok: %w", err)
	}
	d.State = DialogEstablished // pending ACK; media starts on ACK in handleAck
	return nil
}

// Reject declines an alerting incoming call with a 486 Busy Here.
func (e *Engine) Reject() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := e.dialog
	if d == nil || d.Direction != DirectionIncoming {
		return ErrNoActiveDialog
	}
	req := e.pendingInvite
	if req == nil {
		return ErrNoActiveDialog
	}
	if err := e.transport.Send(buildResponse(req, 486, "Busy Here", d.LocalTag)); err != nil {
		return fmt.Errorf("sending 486: %w", err)
	}
	e.dialog = nil
	e.pendingInvite = nil
	return nil
}

// handleAck starts the outbound RTP half and declares the call
// established.
func (e *Engine) handleAck(req *Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := e.dialog
	if d == nil || d.Direction != DirectionIncoming || d.RTP == nil {
		return
	}
	if req.Header("Call-ID") != d.CallID {
		return
	}

	if err := d.RTP.SendKeepalive(); err != nil {
		e.logger.Warn("sending rtp keepalive", "error", err)
	}
	e.startFrameDispatch(d)
	e.emit(Event{Kind: EventIncomingCallAccepted, PeerDisplayName: d.PeerDisplayName, PeerNumber: d.PeerNumber})
}

// handleBye tears down an established dialog from either direction: stop
// RTP, reply 200 OK, surface CALL_CLOSED, return to idle.
func (e *Engine) handleBye(req *Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := e.dialog
	if d == nil || req.Header("Call-ID") != d.CallID {
		return
	}

	resp := buildResponse(req, 200, "OK", d.LocalTag)
	if err := e.transport.Send(resp); err != nil {
		e.logger.Error("replying to bye", "error", err)
	}
	if d.RTP != nil {
		d.RTP.Close()
	}
	display, number := d.PeerDisplayName, d.PeerNumber
	e.dialog = nil
	e.pendingInvite = nil
	e.emit(Event{Kind: EventCallClosed, PeerDisplayName: display, PeerNumber: number})
}

// handleIncomingCancel handles a CANCEL for an alerting (not yet
// answered) incoming call.
func (e *Engine) handleIncomingCancel(req *Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := e.dialog
	if d == nil || d.Direction != DirectionIncoming || req.Header("Call-ID") != d.CallID {
		return
	}

	e.transport.Send(buildResponse(req, 200, "OK", d.LocalTag))
	if e.pendingInvite != nil {
		terminated := buildResponse(e.pendingInvite, 487, "Request Terminated", d.LocalTag)
		e.transport.Send(terminated)
	}

	display, number := d.PeerDisplayName, d.PeerNumber
	e.dialog = nil
	e.pendingInvite = nil
	e.emit(Event{Kind: EventIncomingCallCanceled, PeerDisplayName: display, PeerNumber: number})
}
