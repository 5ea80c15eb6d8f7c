// Package capf implements the Certificate Authority Proxy Function client
// used to obtain the client certificate CUCM demands when a line is
// configured for secure transport. A server-issued 4-byte session id is
// tracked and echoed for the lifetime of one exchange, the same
// challenge/response session-correlation discipline used by SIP digest
// authentication.
package capf

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Opcodes in the CAPF TLV protocol.
const (
	opServerHello   byte = 0x01
	opClientRequest byte = 0x02
	opServerOk      byte = 0x03
	opClientCSR     byte = 0x04
	opServerFin     byte = 0x0f
	opServerCrt     byte = 0x09
	opClientAck     byte = 0x0a
)

// Tags used within TLV payloads.
const (
	tagRequestType byte = 0x07
	tagPhoneName   byte = 0x0d
	tagFlag        byte = 0x01
	tagSPKI        byte = 0x09
	tagOuterCrt    byte = 0x04
)

const capfMagic byte = 0x55

// frame is one CAPF protocol message: MAGIC OPCODE SESSION_ID(4) LEN(u16 BE) PAYLOAD.
type frame struct {
	opcode    byte
	sessionID [4]byte
	payload   []byte
}

// tlvField is one TAG(1) LEN(u16 BE) VALUE field within a frame's payload.
type tlvField struct {
	tag   byte
	value []byte
}

// encodeTLVs serializes a sequence of fields into one payload.
func encodeTLVs(fields []tlvField) []byte {
	var out []byte
	for _, f := range fields {
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(f.value)))
		out = append(out, f.tag)
		out = append(out, lenBuf[:]...)
		out = append(out, f.value...)
	}
	return out
}

// decodeTLVs parses a payload into its TLV fields. A truncated final field
// is an error rather than silently dropped, matching the CAPF framing's
// "exactly PAYLOAD_LEN bytes" contract.
func decodeTLVs(payload []byte) ([]tlvField, error) {
	var fields []tlvField
	for len(payload) > 0 {
		if len(payload) < 3 {
			return nil, fmt.Errorf("capf: truncated tlv header")
		}
		tag := payload[0]
		length := binary.BigEndian.Uint16(payload[1:3])
		payload = payload[3:]
		if len(payload) < int(length) {
			return nil, fmt.Errorf("capf: truncated tlv value for tag 0x%02x", tag)
		}
		fields = append(fields, tlvField{tag: tag, value: payload[:length]})
		payload = payload[length:]
	}
	return fields, nil
}

// findTLV returns the first field matching tag, if any.
func findTLV(fields []tlvField, tag byte) ([]byte, bool) {
	for _, f := range fields {
		if f.tag == tag {
			return f.value, true
		}
	}
	return nil, false
}

// writeFrame serializes and writes one frame to w.
func writeFrame(w io.Writer, f frame) error {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(f.payload)))

	buf := make([]byte, 0, 1+1+4+2+len(f.payload))
	buf = append(buf, capfMagic, f.opcode)
	buf = append(buf, f.sessionID[:]...)
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, f.payload...)

	_, err := w.Write(buf)
	return err
}

// readFrame reads and parses exactly one frame from r.
func readFrame(r io.Reader) (frame, error) {
	var head [8]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return frame{}, fmt.Errorf("capf: reading frame head: %w", err)
	}
	if head[0] != capfMagic {
		return frame{}, fmt.Errorf("%w: 0x%02x", ErrUnexpectedMagic, head[0])
	}

	f := frame{opcode: head[1]}
	copy(f.sessionID[:], head[2:6])
	payloadLen := binary.BigEndian.Uint16(head[6:8])

	if payloadLen > 0 {
		f.payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, f.payload); err != nil {
			return frame{}, fmt.Errorf("capf: reading frame payload: %w", err)
		}
	}
	return f, nil
}
