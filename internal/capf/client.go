package capf

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"
)

// handshakeTimeout is the fixed socket timeout for the whole exchange.
const handshakeTimeout = 8 * time.Second

// Server is one CAPF server candidate to dial.
type Server struct {
	Host string
	Port int
}

// Result is the outcome of a successful certificate issuance.
type Result struct {
	CertPath string
}

// Client runs the CAPF TLV exchange to obtain a client certificate for one
// phone. Each call to Run dials one server; the host tries the next server
// in its list on failure.
type Client struct {
	logger  *slog.Logger
	tlsConf *tls.Config
	certDir string
}

// NewClient constructs a CAPF client. tlsConf should already carry any
// additional trusted server CAs from the device's server-cert directory.
func NewClient(tlsConf *tls.Config, certDir string, logger *slog.Logger) *Client {
	return &Client{
		logger:  logger.With("subsystem", "capf-client"),
		tlsConf: tlsConf,
		certDir: certDir,
	}
}

// Run performs the full exchange against one server for phoneName and
// writes PEM(key)+PEM(cert) atomically into the client certificate
// directory on success.
func (c *Client) Run(server Server, phoneName string) (*Result, error) {
	addr := fmt.Sprintf("%s:%d", server.Host, server.Port)
	dialer := &net.Dialer{Timeout: handshakeTimeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, c.tlsConf)
	if err != nil {
		return nil, fmt.Errorf("capf: dialing %s: %w", addr, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(handshakeTimeout))

	sessionID, err := c.readServerHello(conn)
	if err != nil {
		return nil, err
	}
	c.logger.Info("capf session started", "session_id", fmt.Sprintf("%x", sessionID))

	if err := c.sendClientRequest(conn, sessionID, phoneName); err != nil {
		return nil, err
	}

	key, certDER, err := c.negotiateAndFetchCert(conn, sessionID)
	if err != nil {
		return nil, err
	}

	return c.persistCertificate(phoneName, key, certDER)
}

// readServerHello reads the initial ServerHello and captures the session
// id every subsequent message echoes.
func (c *Client) readServerHello(conn net.Conn) ([4]byte, error) {
	f, err := readFrame(conn)
	if err != nil {
		return [4]byte{}, err
	}
	if f.opcode != opServerHello {
		return [4]byte{}, fmt.Errorf("%w: expected ServerHello, got 0x%02x", ErrUnexpectedOpcode, f.opcode)
	}
	return f.sessionID, nil
}

// sendClientRequest sends the ClientRequest naming the target phone.
func (c *Client) sendClientRequest(conn net.Conn, sessionID [4]byte, phoneName string) error {
	payload := encodeTLVs([]tlvField{
		{tag: tagRequestType, value: []byte{0x02}},
		{tag: tagPhoneName, value: append([]byte(phoneName), 0x00)},
		{tag: tagFlag, value: []byte{0x01}},
	})
	return writeFrame(conn, frame{opcode: opClientRequest, sessionID: sessionID, payload: payload})
}

// negotiateAndFetchCert drives steps 3-6 of the exchange: wait for
// ServerOk/ServerFin, generate the key pair and SPKI, send ClientCSR, read
// ServerCrt, and ack.
func (c *Client) negotiateAndFetchCert(conn net.Conn, sessionID [4]byte) (*rsa.PrivateKey, []byte, error) {
	f, err := readFrame(conn)
	if err != nil {
		return nil, nil, err
	}

	switch f.opcode {
	case opServerFin:
		fields, err := decodeTLVs(f.payload)
		if err != nil {
			return nil, nil, err
		}
		if v, ok := findTLV(fields, tagFlag); ok && len(v) > 0 {
			switch v[0] {
			case 0x07:
				return nil, nil, ErrCertAlreadyIssued
			case 0x09:
				return nil, nil, ErrPhoneNotFound
			default:
				return nil, nil, fmt.Errorf("%w: code 0x%02x", ErrServerDeclined, v[0])
			}
		}
		return nil, nil, ErrServerDeclined
	case opServerOk:
		// fall through to CSR submission
	default:
		return nil, nil, fmt.Errorf("%w: expected ServerOk/ServerFin, got 0x%02x", ErrUnexpectedOpcode, f.opcode)
	}

	key, err := generateKeyPair()
	if err != nil {
		return nil, nil, err
	}
	spki, err := buildSPKI(&key.PublicKey)
	if err != nil {
		return nil, nil, err
	}

	csrPayload := encodeTLVs([]tlvField{{tag: tagSPKI, value: spki}})
	if err := writeFrame(conn, frame{opcode: opClientCSR, sessionID: sessionID, payload: csrPayload}); err != nil {
		return nil, nil, fmt.Errorf("capf: sending client csr: %w", err)
	}

	crtFrame, err := readFrame(conn)
	if err != nil {
		return nil, nil, err
	}
	if crtFrame.opcode != opServerCrt {
		return nil, nil, fmt.Errorf("%w: expected ServerCrt, got 0x%02x", ErrUnexpectedOpcode, crtFrame.opcode)
	}
	outerFields, err := decodeTLVs(crtFrame.payload)
	if err != nil {
		return nil, nil, err
	}
	outer, ok := findTLV(outerFields, tagOuterCrt)
	if !ok {
		return nil, nil, ErrMalformedCertFrame
	}
	innerFields, err := decodeTLVs(outer)
	if err != nil {
		return nil, nil, err
	}
	rawCert, ok := findTLV(innerFields, tagFlag)
	if !ok {
		return nil, nil, ErrMalformedCertFrame
	}
	if len(rawCert) < 2 {
		return nil, nil, ErrMalformedCertFrame
	}
	certDER := rawCert[2:] // strip the fixed "00 01" prefix

	ackPayload := encodeTLVs([]tlvField{{tag: tagFlag, value: []byte{0x01}}})
	if err := writeFrame(conn, frame{opcode: opClientAck, sessionID: sessionID, payload: ackPayload}); err != nil {
		return nil, nil, fmt.Errorf("capf: sending client ack: %w", err)
	}

	finFrame, err := readFrame(conn)
	if err != nil {
		return nil, nil, err
	}
	if finFrame.opcode != opServerFin {
		return nil, nil, fmt.Errorf("%w: expected final ServerFin, got 0x%02x", ErrUnexpectedOpcode, finFrame.opcode)
	}

	return key, certDER, nil
}

// persistCertificate writes PEM(key)+PEM(cert) atomically to the client
// certificate directory: write to a temp file in the same directory, then
// rename over the final path, so a crash mid-write never leaves a
// half-written certificate file behind.
func (c *Client) persistCertificate(phoneName string, key *rsa.PrivateKey, certDER []byte) (*Result, error) {
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	if err := os.MkdirAll(c.certDir, 0o700); err != nil {
		return nil, fmt.Errorf("capf: creating cert dir: %w", err)
	}

	finalPath := filepath.Join(c.certDir, phoneName+".pem")
	tmp, err := os.CreateTemp(c.certDir, phoneName+".pem.tmp-*")
	if err != nil {
		return nil, fmt.Errorf("capf: creating temp cert file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(append(keyPEM, certPEM...)); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("capf: writing cert file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("capf: closing cert file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("capf: setting cert file permissions: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("capf: renaming cert file into place: %w", err)
	}

	return &Result{CertPath: finalPath}, nil
}
