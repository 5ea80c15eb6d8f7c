package sipengine

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

// Transport is the exclusive owner of one TCP or TLS stream to CUCM.
// Its send half is serialized by mu; its receive half is read exclusively
// by the SIP reader goroutine and must not be called concurrently from
// more than one goroutine.
type Transport struct {
	conn   net.Conn
	tls    bool
	logger *slog.Logger
	tracer *MessageTracer

	mu     sync.Mutex // serializes writes
	reader FrameReader
}

// SetTracer attaches a message tracer; passing nil disables tracing. The
// field is written without synchronization, so a call made while Send or
// Receive is running is a data race.
func (t *Transport) SetTracer(tracer *MessageTracer) {
	t.tracer = tracer
}

// DialOptions configures how the transport connects to CUCM.
type DialOptions struct {
	Host string
	Port int

	// UseTLS selects SIPS over TLS; when true, Certificate (if non-nil)
	// is presented to the server and VerifyHostname controls whether the
	// server certificate is verified; when it is false (the zero value)
	// the server certificate is not checked at all.
	UseTLS         bool
	Certificate    *tls.Certificate
	RootCAs        *tls.Config // optional pre-built trust config (server-cert directory)
	VerifyHostname bool
	ConnectTimeout time.Duration
}

// Dial opens the framed TCP or TLS stream to CUCM.
func Dial(opts DialOptions, logger *slog.Logger) (*Transport, error) {
	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	timeout := opts.ConnectTimeout
	if timeout == 0 {
		timeout = 8 * time.Second
	}

	var conn net.Conn
	var err error

	if opts.UseTLS {
		tlsConf := &tls.Config{
			ServerName:         opts.Host,
			InsecureSkipVerify: !opts.VerifyHostname,
		}
		if opts.RootCAs != nil && opts.RootCAs.RootCAs != nil {
			tlsConf.RootCAs = opts.RootCAs.RootCAs
		}
		if opts.Certificate != nil {
			tlsConf.Certificates = []tls.Certificate{*opts.Certificate}
		}
		dialer := &net.Dialer{Timeout: timeout}
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsConf)
	} else {
		conn, err = net.DialTimeout("tcp", addr, timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}

	return &Transport{
		conn:   conn,
		tls:    opts.UseTLS,
		logger: logger.With("subsystem", "sip-transport", "remote", addr, "tls", opts.UseTLS),
	}, nil
}

// TransportToken returns the "tcp"/"TCP" or "tls"/"TLS" token CUCM expects
// in the Contact header's transport parameter.
func (t *Transport) TransportToken(upper bool) string {
	tok := "tcp"
	if t.tls {
		tok = "tls"
	}
	if upper {
		return strings.ToUpper(tok)
	}
	return tok
}

// LocalAddr returns the local IP and port this stream is bound to, used to
// build the Contact header and SDP's o=/c= lines.
func (t *Transport) LocalAddr() *net.TCPAddr {
	if a, ok := t.conn.LocalAddr().(*net.TCPAddr); ok {
		return a
	}
	return nil
}

// Send serializes one message onto the wire. Safe for concurrent use; the
// dialog mutex in Engine additionally serializes this against dialog state
// mutation, but Transport itself is also internally safe.
func (t *Transport) Send(msg *Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	raw := msg.Render()
	if t.tracer != nil {
		t.tracer.LogSend(t.conn.RemoteAddr().String(), raw)
	}
	if _, err := t.conn.Write(raw); err != nil {
		return fmt.Errorf("writing sip message: %w", err)
	}
	return nil
}

// SetReadDeadline sets the read timeout for the next Receive call(s), used
// to implement the Expires+5s registration read timeout.
func (t *Transport) SetReadDeadline(d time.Duration) error {
	if d <= 0 {
		return t.conn.SetReadDeadline(time.Time{})
	}
	return t.conn.SetReadDeadline(time.Now().Add(d))
}

// Receive blocks reading from the stream until one complete SIP message is
// framed or the connection/read-deadline fails. It is meant to be called
// in a loop from a single SIP-reader goroutine.
func (t *Transport) Receive() (*Message, error) {
	buf := make([]byte, 4096)
	for {
		for {
			msg, ok, err := t.reader.Next()
			if err != nil {
				t.logger.Debug("dropping malformed sip message head", "error", err)
				continue
			}
			if ok {
				if t.tracer != nil {
					t.tracer.LogReceive(t.conn.RemoteAddr().String(), msg.Render())
				}
				return msg, nil
			}
			break
		}

		n, err := t.conn.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading sip transport: %w", err)
		}
		t.reader.Feed(buf[:n])
	}
}

// Close releases the underlying socket. Idempotent.
func (t *Transport) Close() error {
	return t.conn.Close()
}
