package sipengine

import (
	"context"
	"log/slog"
	"net"
	"testing"
	"time"
)

// loopbackPair returns a Transport backed by one end of a real TCP loopback
// connection, plus the raw net.Conn for the other end so a test can act as
// a fake CUCM server reading requests and writing canned responses.
func loopbackPair(t *testing.T) (*Transport, net.Conn) {
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

	return &Transport{conn: client, logger: slog.Default()}, server
}

// registrarReaderLoop mirrors Engine.readLoop's role for these tests: the
// sole reader of a Transport, handing REGISTER responses (or the terminal
// read error) to the Registrar.
func registrarReaderLoop(r *Registrar, transport *Transport) {
	for {
		msg, err := transport.Receive()
		if err != nil {
			r.DeliverErr(err)
			return
		}
		r.Deliver(msg)
	}
}

// readRegister reads one framed SIP message off server, failing the test on
// timeout or parse error.
func readRegister(t *testing.T, server net.Conn) *Message {
	t.Helper()
	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	var fr FrameReader
	buf := make([]byte, 4096)
	for {
		if msg, ok, err := fr.Next(); err == nil && ok {
			return msg
		}
		n, err := server.Read(buf)
		if err != nil {
			t.Fatalf("reading register request: %v", err)
		}
		fr.Feed(buf[:n])
	}
}

func sendRegisterResponse(t *testing.T, server net.Conn, req *Message, code int, reason string, extraHeaders map[string]string) {
	t.Helper()
	resp := buildResponse(req, code, reason, "servertag")
	for k, v := range extraHeaders {
		resp.SetHeader(k, v)
	}
	if _, err := server.Write(resp.Render()); err != nil {
		t.Fatalf("writing register response: %v", err)
	}
}

func TestRegisterSucceedsAndReportsExpiry(t *testing.T) {
	transport, server := loopbackPair(t)
	r := NewRegistrar(transport, slog.Default())
	go registrarReaderLoop(r, transport)

	go func() {
		req := readRegister(t, server)
		sendRegisterResponse(t, server, req, 200, "OK", map[string]string{"Expires": "3600"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	granted, err := r.register(ctx, testDevice(), registerExpirySeconds)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if granted != 3600 {
		t.Errorf("granted expiry = %d, want 3600", granted)
	}
}

func TestRunRetriesOnceOnConnectionReset(t *testing.T) {
	transport, server := loopbackPair(t)
	r := NewRegistrar(transport, slog.Default())
	events := make(chan Event, 16)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go registrarReaderLoop(r, transport)
	go func() {
		readRegister(t, server)
		server.Close() // simulate a dropped connection mid-registration

		transport2, server2 := loopbackPair(t)
		r.transport = transport2
		go registrarReaderLoop(r, transport2)

		req2 := readRegister(t, server2)
		sendRegisterResponse(t, server2, req2, 200, "OK", nil)
	}()

	go r.Run(ctx, testDevice(), events)

	var gotFailed, gotRegistered bool
	for !gotRegistered {
		select {
		case ev := <-events:
			switch ev.Kind {
			case EventRegistrationFailed:
				gotFailed = true
			case EventRegistrationRegistered:
				gotRegistered = true
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for registration to recover after a connection reset")
		}
	}
	if !gotFailed {
		t.Error("expected an EventRegistrationFailed before the successful retry")
	}
}

func TestRunParksOnAlreadyActiveUntilReregister(t *testing.T) {
	transport, server := loopbackPair(t)
	r := NewRegistrar(transport, slog.Default())
	events := make(chan Event, 16)
	go registrarReaderLoop(r, transport)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	secondAttempt := make(chan struct{})
	go func() {
		req := readRegister(t, server)
		sendRegisterResponse(t, server, req, 403, "Forbidden", map[string]string{
			"Warning": `399 cucm "Registration is active for another client"`,
		})

		req2 := readRegister(t, server)
		close(secondAttempt)
		sendRegisterResponse(t, server, req2, 200, "OK", nil)
	}()

	go r.Run(ctx, testDevice(), events)

	var sawFailed bool
	for !sawFailed {
		select {
		case ev := <-events:
			if ev.Kind == EventRegistrationFailed {
				sawFailed = true
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for the already_active failure event")
		}
	}

	select {
	case <-secondAttempt:
		t.Fatal("registrar retried before Reregister was called")
	case <-time.After(150 * time.Millisecond):
	}

	r.Reregister()

	select {
	case <-secondAttempt:
	case <-ctx.Done():
		t.Fatal("timed out waiting for the forced re-register attempt")
	}
}

func TestRunReportsSecurityReinitAndStops(t *testing.T) {
	transport, server := loopbackPair(t)
	r := NewRegistrar(transport, slog.Default())
	events := make(chan Event, 16)
	go registrarReaderLoop(r, transport)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		req := readRegister(t, server)
		sendRegisterResponse(t, server, req, 403, "Forbidden", map[string]string{
			"Warning": `399 cucm "Device security mismatch: expected TLS"`,
		})
	}()

	go r.Run(ctx, testDevice(), events)

	for {
		select {
		case ev := <-events:
			if ev.Kind == EventSecurityReinitRequired {
				return
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for EventSecurityReinitRequired")
		}
	}
}

func TestRunSurfacesGenericRejectionWithoutRetry(t *testing.T) {
	transport, server := loopbackPair(t)
	r := NewRegistrar(transport, slog.Default())
	events := make(chan Event, 16)
	go registrarReaderLoop(r, transport)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	secondAttempt := make(chan struct{})
	go func() {
		req := readRegister(t, server)
		sendRegisterResponse(t, server, req, 500, "Server Internal Error", nil)

		server.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
		buf := make([]byte, 64)
		if _, err := server.Read(buf); err == nil {
			close(secondAttempt)
		}
	}()

	go r.Run(ctx, testDevice(), events)

	var sawFailed bool
	for !sawFailed {
		select {
		case ev := <-events:
			if ev.Kind == EventRegistrationFailed {
				sawFailed = true
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for the generic rejection failure event")
		}
	}

	select {
	case <-secondAttempt:
		t.Fatal("registrar retried a generic rejection, it should not")
	case <-time.After(300 * time.Millisecond):
	}
}

