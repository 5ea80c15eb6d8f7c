package sipengine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/csfua/softphone/internal/media"
)

// buildVia constructs a fresh Via header value for a new request, with a
// new branch parameter per RFC 3261 §8.1.1.7.
func buildVia(transportToken, localIP string, localPort int) string {
	return fmt.Sprintf("SIP/2.0/%s %s:%d;branch=%s", transportToken, localIP, localPort, newBranch())
}

// buildContact constructs the Contact header value CUCM expects.
func buildContact(device RegistrarDevice, localIP string, localPort int, transportToken string) string {
	return fmt.Sprintf("<sip:%s@%s:%d;transport=%s>;+u.sip!devicename.ccm.cisco.com=%q",
		device.ContactID, localIP, localPort, strings.ToLower(transportToken), device.DeviceName)
}

// setFixedHeaders applies the headers every outgoing message shares.
func setFixedHeaders(req *Message) {
	req.SetHeader("Max-Forwards", "70")
	req.SetHeader("Date", time.Now().UTC().Format(time.RFC1123))
	req.SetHeader("User-Agent", userAgentHeader)
	req.SetHeader("Server", serverHeader)
	req.SetHeader("Supported", supportedCapabilities)
	req.SetHeader("Allow", allowedMethods)
}

// buildInvite constructs the initial outgoing-call INVITE: a fixed
// Session-ID with an all-zero remote half, a Remote-Party-ID identifying
// the caller, an optional Subject, and the SDP offer as the body.
func buildInvite(d *Dialog, device RegistrarDevice, t *Transport, number, subject string, offer media.Offer) *Message {
	toURI := fmt.Sprintf("sip:%s@%s;user=phone", number, device.CUCMHost)
	fromURI := fmt.Sprintf("<sip:%s@%s>", device.LineNumber, device.CUCMHost)
	localIP := localIPOf(t)
	localPort := t.LocalAddr().Port
	transportToken := t.TransportToken(true)

	req := NewRequest("INVITE", toURI)
	req.SetHeader("Via", buildVia(transportToken, localIP, localPort))
	setFixedHeaders(req)
	req.SetHeader("From", fromURI+";tag="+d.LocalTag)
	req.SetHeader("To", fmt.Sprintf("<%s>", toURI))
	req.SetHeader("Call-ID", d.CallID)
	req.SetHeader("CSeq", fmt.Sprintf("%d INVITE", d.NextCSeq("INVITE", 101)))
	req.SetHeader("Contact", buildContact(device, localIP, localPort, transportToken))
	req.SetHeader("Session-ID", d.LocalSessionID+";remote="+zeroHex32)
	req.SetHeader("Remote-Party-ID", fmt.Sprintf("%q <sip:%s@%s>;party=calling", device.DisplayName, device.LineNumber, device.CUCMHost))
	if subject != "" {
		req.SetHeader("Subject", subject)
	}
	req.SetHeader("Content-Type", "application/sdp")
	req.Body = offer.SDP.Marshal()

	return req
}

// buildAck constructs the ACK for a final response to INVITE, routed to
// the dialog's peer URI (the request URI of the INVITE).
func buildAck(d *Dialog, resp *Message, t *Transport) *Message {
	toURI := d.PeerURI
	req := NewRequest("ACK", toURI)
	req.SetHeader("Via", d.LastVia)
	setFixedHeaders(req)
	req.SetHeader("From", d.LastFrom)
	req.SetHeader("To", resp.Header("To"))
	req.SetHeader("Call-ID", d.CallID)
	req.SetHeader("CSeq", fmt.Sprintf("%d ACK", d.CSeq["INVITE"]))
	return req
}

// buildCancel constructs a CANCEL mirroring the outstanding INVITE's
// dialog identifiers.
func buildCancel(invite *Message) *Message {
	req := NewRequest("CANCEL", invite.RequestURI)
	req.SetHeader("Via", invite.Header("Via"))
	setFixedHeaders(req)
	req.SetHeader("From", invite.Header("From"))
	req.SetHeader("To", invite.Header("To"))
	req.SetHeader("Call-ID", invite.Header("Call-ID"))
	cseqNum := strings.Fields(invite.Header("CSeq"))[0]
	req.SetHeader("CSeq", cseqNum+" CANCEL")
	return req
}

// buildBye constructs a BYE to terminate an established dialog.
func buildBye(d *Dialog, t *Transport) *Message {
	req := NewRequest("BYE", d.PeerURI)
	localIP := localIPOf(t)
	req.SetHeader("Via", buildVia(t.TransportToken(true), localIP, t.LocalAddr().Port))
	setFixedHeaders(req)
	req.SetHeader("From", d.LastFrom)
	req.SetHeader("To", d.LastTo)
	req.SetHeader("Call-ID", d.CallID)
	req.SetHeader("CSeq", fmt.Sprintf("%d BYE", d.NextCSeq("BYE", 101)))
	return req
}

// buildResponse constructs a response to an incoming request, copying the
// dialog-identifying headers and adding a local tag to To on every
// response except 100 Trying, per RFC 3261 §8.2.6.
func buildResponse(req *Message, code int, reason string, localTag string) *Message {
	resp := NewResponse(code, reason)
	resp.SetHeader("Via", req.Header("Via"))
	setFixedHeaders(resp)
	resp.SetHeader("From", req.Header("From"))

	to := req.Header("To")
	if code > 100 {
		to = appendTag(to, localTag)
	}
	resp.SetHeader("To", to)
	resp.SetHeader("Call-ID", req.Header("Call-ID"))
	resp.SetHeader("CSeq", req.Header("CSeq"))
	return resp
}

// parseCSeqNumber extracts the numeric part of a CSeq header value.
func parseCSeqNumber(cseq string) (uint32, error) {
	fields := strings.Fields(cseq)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty cseq header")
	}
	n, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parsing cseq number %q: %w", fields[0], err)
	}
	return uint32(n), nil
}
