// Package sipengine implements the SIP (RFC 3261) signaling subset this
// softphone needs to interoperate with Cisco Unified Communications
// Manager: message framing over a byte stream, the registration and
// call dialog state machines, and KPML SUBSCRIBE/NOTIFY bookkeeping.
package sipengine

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// startLineKey is the synthetic header-map key the request/status line is
// stored under, so the whole message (start line + headers) fits in one
// case-sensitive map keyed by header name.
const startLineKey = "__start_line__"

// Message is a parsed SIP request or response. Header lookups are
// case-sensitive on the wire name as sent by the peer; callers that need
// case-insensitive lookups should use Header, which normalizes.
type Message struct {
	// StartLine is the request line ("INVITE sip:... SIP/2.0") or the
	// status line ("SIP/2.0 200 OK").
	StartLine string

	// IsRequest is true for a request, false for a response.
	IsRequest bool

	// Method is set for requests (e.g. "INVITE", "BYE").
	Method string

	// RequestURI is set for requests.
	RequestURI string

	// StatusCode and ReasonPhrase are set for responses.
	StatusCode   int
	ReasonPhrase string

	// Headers preserves declaration order and exact casing as received;
	// multiple headers with the same name are unusual in this protocol
	// subset and are concatenated with ", " per RFC 3261 §7.3.1.
	headers     map[string]string
	headerOrder []string

	Body []byte
}

// NewRequest creates an empty request message for the given method and URI.
func NewRequest(method, requestURI string) *Message {
	return &Message{
		IsRequest:  true,
		Method:     method,
		RequestURI: requestURI,
		StartLine:  fmt.Sprintf("%s %s SIP/2.0", method, requestURI),
		headers:    make(map[string]string),
	}
}

// NewResponse creates an empty response message with the given status.
func NewResponse(code int, reason string) *Message {
	return &Message{
		IsRequest:    false,
		StatusCode:   code,
		ReasonPhrase: reason,
		StartLine:    fmt.Sprintf("SIP/2.0 %d %s", code, reason),
		headers:      make(map[string]string),
	}
}

// SetHeader sets (or replaces) a header value, preserving first-seen order.
func (m *Message) SetHeader(name, value string) {
	if m.headers == nil {
		m.headers = make(map[string]string)
	}
	if _, exists := m.headers[name]; !exists {
		m.headerOrder = append(m.headerOrder, name)
	}
	m.headers[name] = value
}

// Header returns a header value by case-insensitive name, or "" if absent.
func (m *Message) Header(name string) string {
	if v, ok := m.headers[name]; ok {
		return v
	}
	lower := strings.ToLower(name)
	for k, v := range m.headers {
		if strings.ToLower(k) == lower {
			return v
		}
	}
	return ""
}

// HasHeader reports whether a header is present (case-insensitive).
func (m *Message) HasHeader(name string) bool {
	if _, ok := m.headers[name]; ok {
		return true
	}
	lower := strings.ToLower(name)
	for k := range m.headers {
		if strings.ToLower(k) == lower {
			return true
		}
	}
	return false
}

// HeaderMap returns a copy of the parsed header map, keyed exactly as
// received on the wire (case-sensitive).
func (m *Message) HeaderMap() map[string]string {
	out := make(map[string]string, len(m.headers))
	for k, v := range m.headers {
		out[k] = v
	}
	return out
}

// Render serializes the message to wire bytes, computing Content-Length
// from the current Body and appending it if not already set explicitly.
func (m *Message) Render() []byte {
	var buf bytes.Buffer
	buf.WriteString(m.StartLine)
	buf.WriteString("\r\n")

	if !m.HasHeader("Content-Length") {
		m.SetHeader("Content-Length", strconv.Itoa(len(m.Body)))
	}

	for _, name := range m.headerOrder {
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.WriteString(m.headers[name])
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(m.Body)
	return buf.Bytes()
}

// FrameReader incrementally extracts complete SIP messages from a byte
// stream: split at CRLFCRLF, then read exactly Content-Length bytes of
// body. Partial frames are held back until more bytes arrive; malformed
// head blocks are dropped up to the next CRLFCRLF so one bad message
// never wedges the reader.
type FrameReader struct {
	buf bytes.Buffer
}

// Feed appends newly-received bytes to the internal buffer.
func (fr *FrameReader) Feed(b []byte) {
	fr.buf.Write(b)
}

// Next attempts to extract one complete message from the buffered bytes.
// It returns (msg, true, nil) when a full message was parsed and consumed,
// (nil, false, nil) when more bytes are needed, and a non-nil error for a
// head block that cannot be framed (unparseable start line, missing or
// invalid Content-Length) — that head block is discarded from the buffer before returning so the
// caller can call Next again for whatever follows.
func (fr *FrameReader) Next() (*Message, bool, error) {
	data := fr.buf.Bytes()

	sep := bytes.Index(data, []byte("\r\n\r\n"))
	if sep < 0 {
		return nil, false, nil
	}

	head := data[:sep]
	msg, err := parseHead(head)
	if err != nil {
		// Drop this unparseable head block and resynchronize on the next
		// CRLFCRLF.
		fr.buf.Next(sep + 4)
		return nil, false, fmt.Errorf("parsing sip head: %w", err)
	}

	clHeader := msg.Header("Content-Length")
	if clHeader == "" {
		fr.buf.Next(sep + 4)
		return nil, false, fmt.Errorf("missing content-length")
	}
	contentLength, err := strconv.Atoi(strings.TrimSpace(clHeader))
	if err != nil || contentLength < 0 {
		fr.buf.Next(sep + 4)
		return nil, false, fmt.Errorf("invalid content-length %q", clHeader)
	}

	bodyStart := sep + 4
	if len(data) < bodyStart+contentLength {
		// Body not fully received yet; wait for more bytes.
		return nil, false, nil
	}

	msg.Body = append([]byte(nil), data[bodyStart:bodyStart+contentLength]...)
	fr.buf.Next(bodyStart + contentLength)
	return msg, true, nil
}

// parseHead parses the start line and the header block (everything before
// the CRLFCRLF separator) into a Message.
func parseHead(head []byte) (*Message, error) {
	lines := strings.Split(string(head), "\r\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, fmt.Errorf("empty sip message head")
	}

	m := &Message{headers: make(map[string]string)}
	m.StartLine = lines[0]

	if strings.HasPrefix(lines[0], "SIP/2.0") {
		m.IsRequest = false
		parts := strings.SplitN(lines[0], " ", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("malformed status line %q", lines[0])
		}
		code, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("malformed status code %q: %w", parts[1], err)
		}
		m.StatusCode = code
		if len(parts) == 3 {
			m.ReasonPhrase = parts[2]
		}
	} else {
		parts := strings.SplitN(lines[0], " ", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("malformed request line %q", lines[0])
		}
		m.IsRequest = true
		m.Method = parts[0]
		m.RequestURI = parts[1]
	}

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue // tolerate stray non-header lines rather than failing the whole message
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if existing, exists := m.headers[name]; exists {
			m.headers[name] = existing + ", " + value
		} else {
			m.headers[name] = value
			m.headerOrder = append(m.headerOrder, name)
		}
	}

	return m, nil
}
