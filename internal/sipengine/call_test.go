package sipengine

import (
	"log/slog"
	"net"
	"strings"
	"testing"

	"github.com/csfua/softphone/internal/media"
)

// newLoopbackTransport returns a Transport backed by a real TCP loopback
// connection, so LocalAddr() resolves to a *net.TCPAddr the way it does in
// production (unlike net.Pipe's synthetic address).
func newLoopbackTransport(t *testing.T) *Transport {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	acceptedCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			acceptedCh <- conn
		}
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dialing: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	server := <-acceptedCh
	t.Cleanup(func() { server.Close() })

	return &Transport{conn: client, logger: slog.Default()}
}

func testDevice() RegistrarDevice {
	return RegistrarDevice{
		CUCMHost:    "cucm.example.com",
		LineNumber:  "1001",
		DeviceName:  "CSFJDOE",
		ContactID:   "1001",
		DisplayName: "Jane Doe",
	}
}

func TestBuildInviteHeaders(t *testing.T) {
	transport := newLoopbackTransport(t)
	d := NewDialog(DirectionOutgoing, "call-id-1")
	d.LocalTag = "localtag1"

	offer := media.Offer{SDP: &media.SessionDescription{}}
	req := buildInvite(d, testDevice(), transport, "2002", "test call", offer)

	if req.Method != "INVITE" {
		t.Errorf("Method = %q, want INVITE", req.Method)
	}
	if req.RequestURI != "sip:2002@cucm.example.com;user=phone" {
		t.Errorf("RequestURI = %q", req.RequestURI)
	}
	if !strings.Contains(req.Header("From"), "tag=localtag1") {
		t.Errorf("From header missing local tag: %q", req.Header("From"))
	}
	if req.Header("Call-ID") != "call-id-1" {
		t.Errorf("Call-ID = %q, want call-id-1", req.Header("Call-ID"))
	}
	if req.Header("CSeq") != "101 INVITE" {
		t.Errorf("CSeq = %q, want 101 INVITE", req.Header("CSeq"))
	}
	if !strings.HasSuffix(req.Header("Session-ID"), ";remote="+zeroHex32) {
		t.Errorf("Session-ID missing zero remote half: %q", req.Header("Session-ID"))
	}
	if req.Header("Subject") != "test call" {
		t.Errorf("Subject = %q, want 'test call'", req.Header("Subject"))
	}
	if !strings.Contains(req.Header("Contact"), `devicename.ccm.cisco.com="CSFJDOE"`) {
		t.Errorf("Contact missing device name parameter: %q", req.Header("Contact"))
	}
	if req.Header("Content-Type") != "application/sdp" {
		t.Errorf("Content-Type = %q, want application/sdp", req.Header("Content-Type"))
	}
}

func TestBuildInviteOmitsSubjectWhenEmpty(t *testing.T) {
	transport := newLoopbackTransport(t)
	d := NewDialog(DirectionOutgoing, "call-id-2")
	req := buildInvite(d, testDevice(), transport, "2002", "", media.Offer{SDP: &media.SessionDescription{}})
	if req.HasHeader("Subject") {
		t.Error("expected no Subject header when subject is empty")
	}
}

func TestBuildCancelMirrorsInviteDialogHeaders(t *testing.T) {
	transport := newLoopbackTransport(t)
	d := NewDialog(DirectionOutgoing, "call-id-3")
	d.LocalTag = "tag3"
	invite := buildInvite(d, testDevice(), transport, "2002", "", media.Offer{SDP: &media.SessionDescription{}})

	cancel := buildCancel(invite)
	if cancel.Method != "CANCEL" {
		t.Errorf("Method = %q, want CANCEL", cancel.Method)
	}
	if cancel.Header("Call-ID") != invite.Header("Call-ID") {
		t.Error("CANCEL Call-ID must match the INVITE's")
	}
	if cancel.Header("Via") != invite.Header("Via") {
		t.Error("CANCEL Via must match the INVITE's")
	}
	if cancel.Header("CSeq") != "101 CANCEL" {
		t.Errorf("CSeq = %q, want 101 CANCEL", cancel.Header("CSeq"))
	}
}

func TestBuildResponseAddsLocalTagExceptFor100Trying(t *testing.T) {
	req := NewRequest("INVITE", "sip:1001@cucm.example.com")
	req.SetHeader("To", "<sip:1001@cucm.example.com>")
	req.SetHeader("From", "<sip:2002@cucm.example.com>;tag=remotetag")
	req.SetHeader("Call-ID", "call-id-4")
	req.SetHeader("CSeq", "1 INVITE")

	trying := buildResponse(req, 100, "Trying", "localtag4")
	if tagValue(trying.Header("To")) != "" {
		t.Errorf("100 Trying should not add a local tag to To: %q", trying.Header("To"))
	}

	ringing := buildResponse(req, 180, "Ringing", "localtag4")
	if tagValue(ringing.Header("To")) != "localtag4" {
		t.Errorf("180 Ringing should add the local tag to To: %q", ringing.Header("To"))
	}
}

func TestParseCSeqNumber(t *testing.T) {
	n, err := parseCSeqNumber("101 INVITE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 101 {
		t.Errorf("n = %d, want 101", n)
	}

	if _, err := parseCSeqNumber(""); err == nil {
		t.Error("expected an error for an empty CSeq header")
	}
}
