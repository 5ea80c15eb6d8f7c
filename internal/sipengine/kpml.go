package sipengine

import "fmt"

// KPML SUBSCRIBE handling: CUCM subscribes for key-press markup during
// external-number dialing. No state beyond the two canned NOTIFY bodies
// is needed; this exchange is required to make outbound external calls
// progress but carries no information this engine acts on.
const (
	kpmlNotifyEmpty = ""

	kpmlTimerExpiredBody = `<?xml version="1.0" encoding="UTF-8"?>
<kpml-response version="1.0" code="423" text="Timer Expired" suppressed="false" forced_flag="false"></kpml-response>`

	kpmlSubscriptionExpiredBody = `<?xml version="1.0" encoding="UTF-8"?>
<kpml-response version="1.0" code="487" text="Subscription Exp" suppressed="false" forced_flag="false"></kpml-response>`
)

// handleSubscribe answers a KPML SUBSCRIBE with 200 OK, then sends an
// empty NOTIFY followed by a canned terminal-status NOTIFY. The terminal
// status depends on the SUBSCRIBE's CSeq: the first (101) ends in "Timer
// Expired", the second (102) in "Subscription Exp".
func (e *Engine) handleSubscribe(req *Message) {
	resp := buildResponse(req, 200, "OK", newHex32())
	resp.SetHeader("Expires", req.Header("Expires"))
	if err := e.transport.Send(resp); err != nil {
		e.logger.Error("replying to kpml subscribe", "error", err)
		return
	}

	terminalBody := kpmlTimerExpiredBody
	if n, err := parseCSeqNumber(req.Header("CSeq")); err == nil && n >= 102 {
		terminalBody = kpmlSubscriptionExpiredBody
	}

	empty := e.buildKPMLNotify(req, kpmlNotifyEmpty)
	if err := e.transport.Send(empty); err != nil {
		e.logger.Error("sending empty kpml notify", "error", err)
		return
	}

	terminal := e.buildKPMLNotify(req, terminalBody)
	if err := e.transport.Send(terminal); err != nil {
		e.logger.Error("sending terminal kpml notify", "error", err)
	}
}

// buildKPMLNotify constructs the NOTIFY this engine sends in response to a
// KPML SUBSCRIBE, reusing the subscription's dialog identifiers.
func (e *Engine) buildKPMLNotify(sub *Message, body string) *Message {
	req := NewRequest("NOTIFY", sub.Header("Contact"))
	req.SetHeader("Via", buildVia(e.transport.TransportToken(true), localIPOf(e.transport), e.transport.LocalAddr().Port))
	setFixedHeaders(req)
	req.SetHeader("From", sub.Header("To"))
	req.SetHeader("To", sub.Header("From"))
	req.SetHeader("Call-ID", sub.Header("Call-ID"))
	cseqNum, _ := parseCSeqNumber(sub.Header("CSeq"))
	req.SetHeader("CSeq", fmt.Sprintf("%d NOTIFY", cseqNum))
	req.SetHeader("Event", "kpml")
	req.SetHeader("Subscription-State", "active;expires="+sub.Header("Expires"))
	if body != "" {
		req.SetHeader("Content-Type", "application/kpml-response+xml")
		req.Body = []byte(body)
	}
	return req
}
