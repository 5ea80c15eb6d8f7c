package sipengine

import (
	"fmt"

	"github.com/csfua/softphone/internal/media"
	"github.com/csfua/softphone/internal/media/codec"
)

// Call places an outgoing call. It fails if a dialog is already active.
func (e *Engine) Call(number, subject string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dialog != nil {
		return ErrCallAlreadyActive
	}

	callID := newHex32()
	d := NewDialog(DirectionOutgoing, callID)
	d.LocalTag = newHex32()
	d.PeerNumber = number

	rtp, err := media.NewRTPSession(0, "0.0.0.0", 1, media.PTPCMU, nopCodec{}, e.logger)
	if err != nil {
		return fmt.Errorf("opening rtp socket: %w", err)
	}
	d.RTP = rtp

	offer := media.BuildOffer(localIPOf(e.transport), rtp.LocalPort())
	invite := buildInvite(d, e.device, e.transport, number, subject, offer)
	d.LastVia = invite.Header("Via")
	d.LastFrom = invite.Header("From")
	d.PeerURI = invite.RequestURI

	if err := e.transport.Send(invite); err != nil {
		rtp.Close()
		return fmt.Errorf("sending invite: %w", err)
	}

	d.State = DialogInvited
	e.dialog = d
	e.pendingInvite = invite
	return nil
}

// Cancel sends a CANCEL for the outstanding outgoing INVITE.
func (e *Engine) Cancel() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dialog == nil || e.dialog.Direction != DirectionOutgoing || e.pendingInvite == nil {
		return ErrNoActiveDialog
	}
	e.dialog.State = DialogTerminating
	return e.transport.Send(buildCancel(e.pendingInvite))
}

// handleOutgoingResponse advances the outgoing-call FSM on a response
// whose Call-ID matches the active outgoing dialog.
func (e *Engine) handleOutgoingResponse(resp *Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := e.dialog
	if d == nil || d.Direction != DirectionOutgoing || resp.Header("Call-ID") != d.CallID {
		return
	}

	switch {
	case resp.StatusCode == 100:
		d.State = DialogTrying
		e.emit(Event{Kind: EventOutgoingCallTrying})

	case resp.StatusCode == 180 || resp.StatusCode == 183:
		d.State = DialogRinging
		ident := ParseRemoteIdentity(resp.Header("Remote-Party-ID"), resp.Header("To"))
		d.PeerDisplayName = ident.DisplayName
		if ident.Number != "" {
			d.PeerNumber = ident.Number
		}
		if sid := resp.Header("Session-ID"); sid != "" {
			peer, _ := sessionIDParams(sid)
			if peer != "" {
				d.RemoteSessionID = peer
			}
		}
		d.LastTo = resp.Header("To")
		e.emit(Event{Kind: EventOutgoingCallRinging, PeerDisplayName: d.PeerDisplayName, PeerNumber: d.PeerNumber})

	case resp.StatusCode == 200:
		d.LastTo = resp.Header("To")
		sd, err := media.ParseSDP(resp.Body)
		if err != nil {
			e.logger.Error("parsing sdp answer", "error", err)
			e.teardownDialog(EventOutgoingCallFailed, err.Error())
			return
		}
		sel, err := media.SelectFromAnswer(sd)
		if err != nil {
			e.logger.Error("selecting codec from answer", "error", err)
			e.teardownDialog(EventOutgoingCallFailed, err.Error())
			return
		}
		if err := e.startMedia(d, sel); err != nil {
			e.logger.Error("starting media", "error", err)
			e.teardownDialog(EventOutgoingCallFailed, err.Error())
			return
		}
		if err := e.transport.Send(buildAck(d, resp, e.transport)); err != nil {
			e.logger.Error("sending ack", "error", err)
		}
		d.State = DialogEstablished
		e.pendingInvite = nil
		e.emit(Event{Kind: EventOutgoingCallAccepted, PeerDisplayName: d.PeerDisplayName, PeerNumber: d.PeerNumber})

	case resp.StatusCode == 486:
		e.emit(Event{Kind: EventOutgoingCallBusy, PeerDisplayName: d.PeerDisplayName, PeerNumber: d.PeerNumber})

	case resp.StatusCode >= 300:
		reason := resp.Header("Warning")
		if reason == "" {
			reason = resp.StartLine
		}
		e.teardownDialog(EventOutgoingCallFailed, reason)
	}
}

// startMedia opens the outbound RTP half against the negotiated peer
// address/payload type, replacing the placeholder inbound-only socket
// opened at INVITE time.
func (e *Engine) startMedia(d *Dialog, sel media.Selected) error {
	c, err := codec.ByName(sel.CodecName)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNoMediaNegotiated, err)
	}

	localPort := d.RTP.LocalPort()
	d.RTP.Close()

	rtp, err := media.NewRTPSession(localPort, sel.RemoteAddr, sel.RemotePort, sel.PayloadType, c, e.logger)
	if err != nil {
		return fmt.Errorf("opening negotiated rtp session: %w", err)
	}
	d.RTP = rtp
	d.Media = &MediaInfo{
		RemoteAddr:        sel.RemoteAddr,
		RemotePort:        sel.RemotePort,
		PayloadType:       sel.PayloadType,
		Codec:             sel.CodecName,
		PayloadSampleRate: sel.ClockRate,
	}

	if err := rtp.SendKeepalive(); err != nil {
		e.logger.Warn("sending rtp keepalive", "error", err)
	}
	e.startFrameDispatch(d)
	return nil
}

// teardownDialog surfaces a failure event, releases RTP resources, and
// returns the dialog to idle. Any error while a dialog is non-idle takes
// this path.
func (e *Engine) teardownDialog(kind EventKind, reason string) {
	if e.dialog != nil && e.dialog.RTP != nil {
		e.dialog.RTP.Close()
	}
	var display, number string
	if e.dialog != nil {
		display, number = e.dialog.PeerDisplayName, e.dialog.PeerNumber
	}
	e.dialog = nil
	e.pendingInvite = nil
	e.emit(Event{Kind: kind, Reason: reason, PeerDisplayName: display, PeerNumber: number})
}

// nopCodec is a placeholder codec bound to the inbound-only socket opened
// at INVITE time, before the answer negotiates the real codec; nothing
// ever calls Encode/Decode on it.
type nopCodec struct{}

func (nopCodec) Name() string         { return "none" }
func (nopCodec) ClockRate() int       { return 8000 }
func (nopCodec) FrameSamples() int    { return 160 }
func (nopCodec) Encode([]int16) ([]byte, error) {
	return nil, fmt.Errorf("nopCodec: encode called before media negotiated")
}
func (nopCodec) Decode([]byte) ([]int16, error) {
	return nil, fmt.Errorf("nopCodec: decode called before media negotiated")
}
