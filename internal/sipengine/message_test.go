package sipengine

import (
	"strings"
	"testing"
)

func TestMessageRenderComputesContentLength(t *testing.T) {
	req := NewRequest("INVITE", "sip:1001@cucm.example.com")
	req.SetHeader("Via", "SIP/2.0/TCP 10.0.0.1:5060;branch=z9hG4bK1")
	req.SetHeader("Call-ID", "abc123")
	req.Body = []byte("v=0\r\n")

	raw := req.Render()
	rendered := string(raw)

	if !strings.HasPrefix(rendered, "INVITE sip:1001@cucm.example.com SIP/2.0\r\n") {
		t.Errorf("unexpected start line in rendered message: %q", rendered)
	}
	if !strings.Contains(rendered, "Content-Length: 5\r\n") {
		t.Errorf("expected Content-Length: 5, got: %q", rendered)
	}
	if !strings.HasSuffix(rendered, "v=0\r\n") {
		t.Errorf("expected body to be appended, got: %q", rendered)
	}
}

func TestMessageHeaderCaseInsensitive(t *testing.T) {
	req := NewRequest("OPTIONS", "sip:1001@cucm.example.com")
	req.SetHeader("Call-ID", "xyz")

	if got := req.Header("call-id"); got != "xyz" {
		t.Errorf("Header(\"call-id\") = %q, want xyz", got)
	}
	if !req.HasHeader("CALL-ID") {
		t.Error("HasHeader(\"CALL-ID\") = false, want true")
	}
}

func TestFrameReaderWaitsForCompleteBody(t *testing.T) {
	var fr FrameReader
	head := "SIP/2.0 200 OK\r\nCall-ID: abc\r\nContent-Length: 10\r\n\r\n"

	fr.Feed([]byte(head))
	msg, ok, err := fr.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected Next to report incomplete before the body arrives")
	}
	if msg != nil {
		t.Fatal("expected a nil message before the body arrives")
	}

	fr.Feed([]byte("0123456789"))
	msg, ok, err = fr.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected Next to report a complete message once the body arrives")
	}
	if string(msg.Body) != "0123456789" {
		t.Errorf("Body = %q, want 0123456789", msg.Body)
	}
	if msg.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want 200", msg.StatusCode)
	}
}

func TestFrameReaderExtractsMultipleMessagesFromOneFeed(t *testing.T) {
	var fr FrameReader
	one := "SIP/2.0 100 Trying\r\nCall-ID: a\r\nContent-Length: 0\r\n\r\n"
	two := "SIP/2.0 200 OK\r\nCall-ID: a\r\nContent-Length: 0\r\n\r\n"
	fr.Feed([]byte(one + two))

	msg1, ok, err := fr.Next()
	if err != nil || !ok {
		t.Fatalf("first Next() = %v, %v, %v", msg1, ok, err)
	}
	if msg1.StatusCode != 100 {
		t.Errorf("first message StatusCode = %d, want 100", msg1.StatusCode)
	}

	msg2, ok, err := fr.Next()
	if err != nil || !ok {
		t.Fatalf("second Next() = %v, %v, %v", msg2, ok, err)
	}
	if msg2.StatusCode != 200 {
		t.Errorf("second message StatusCode = %d, want 200", msg2.StatusCode)
	}
}

func TestFrameReaderRecoversFromMalformedHead(t *testing.T) {
	var fr FrameReader
	bad := "not a sip message at all\r\n\r\n"
	good := "SIP/2.0 200 OK\r\nCall-ID: a\r\nContent-Length: 0\r\n\r\n"
	fr.Feed([]byte(bad + good))

	_, ok, err := fr.Next()
	if err == nil {
		t.Fatal("expected an error for the malformed head block")
	}
	if ok {
		t.Fatal("expected ok=false alongside the error")
	}

	msg, ok, err := fr.Next()
	if err != nil || !ok {
		t.Fatalf("expected to recover and parse the following message, got %v, %v, %v", msg, ok, err)
	}
}

func TestParseHeadRequest(t *testing.T) {
	head := []byte("INVITE sip:1001@cucm.example.com SIP/2.0\r\nVia: SIP/2.0/TCP 10.0.0.1:5060\r\n")
	msg, err := parseHead(head)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !msg.IsRequest || msg.Method != "INVITE" || msg.RequestURI != "sip:1001@cucm.example.com" {
		t.Errorf("parsed message = %+v", msg)
	}
}
