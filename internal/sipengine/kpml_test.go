package sipengine

import (
	"log/slog"
	"strings"
	"testing"
)

func subscribeRequest(cseq string) *Message {
	req := NewRequest("SUBSCRIBE", "sip:1001@10.0.0.5:5060;transport=tcp")
	req.SetHeader("Via", "SIP/2.0/TCP 10.0.0.5:5060;branch=z9hG4bKkpml")
	req.SetHeader("From", "<sip:cucm@cucm.example.com>;tag=cucmtag")
	req.SetHeader("To", "<sip:1001@cucm.example.com>")
	req.SetHeader("Call-ID", "kpml-call-id")
	req.SetHeader("CSeq", cseq+" SUBSCRIBE")
	req.SetHeader("Contact", "<sip:1001@10.0.0.5:5060;transport=tcp>")
	req.SetHeader("Expires", "3600")
	return req
}

func TestHandleSubscribeFirstRequestEndsInTimerExpired(t *testing.T) {
	transport, server := loopbackPair(t)
	e := NewEngine(transport, testDevice(), slog.Default())

	e.handleSubscribe(subscribeRequest("101"))

	ok := readRegister(t, server)
	if ok.StatusCode != 200 {
		t.Fatalf("expected 200 OK for subscribe, got %d", ok.StatusCode)
	}

	empty := readRegister(t, server)
	if empty.Method != "NOTIFY" || len(empty.Body) != 0 {
		t.Fatalf("expected an empty NOTIFY first, got method=%s body=%q", empty.Method, empty.Body)
	}

	terminal := readRegister(t, server)
	if terminal.Method != "NOTIFY" {
		t.Fatalf("expected a terminal NOTIFY, got method=%s", terminal.Method)
	}
	if !strings.Contains(string(terminal.Body), "Timer Expired") {
		t.Errorf("terminal notify body = %q, want it to contain Timer Expired", terminal.Body)
	}
}

func TestHandleSubscribeSecondRequestEndsInSubscriptionExpired(t *testing.T) {
	transport, server := loopbackPair(t)
	e := NewEngine(transport, testDevice(), slog.Default())

	e.handleSubscribe(subscribeRequest("102"))

	readRegister(t, server) // 200 OK
	readRegister(t, server) // empty NOTIFY

	terminal := readRegister(t, server)
	if !strings.Contains(string(terminal.Body), "Subscription Exp") {
		t.Errorf("terminal notify body = %q, want it to contain Subscription Exp", terminal.Body)
	}
}

func TestHandleSubscribeNotifiesCarryDialogIdentifiers(t *testing.T) {
	transport, server := loopbackPair(t)
	e := NewEngine(transport, testDevice(), slog.Default())

	sub := subscribeRequest("101")
	e.handleSubscribe(sub)

	readRegister(t, server) // 200 OK
	notify := readRegister(t, server)

	if notify.Header("Call-ID") != "kpml-call-id" {
		t.Errorf("notify Call-ID = %q, want kpml-call-id", notify.Header("Call-ID"))
	}
	if notify.Header("Event") != "kpml" {
		t.Errorf("notify Event = %q, want kpml", notify.Header("Event"))
	}
	if notify.Header("From") != sub.Header("To") {
		t.Errorf("notify From = %q, want subscribe's To (%q)", notify.Header("From"), sub.Header("To"))
	}
}
