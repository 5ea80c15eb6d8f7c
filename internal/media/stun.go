package media

import "encoding/binary"

// STUN binding indication keepalive: a fixed, unauthenticated 20-byte STUN
// header with message type 0x0011 (Binding Indication) and a zero-length
// attribute section, sent once when a call's outbound media starts, to
// open the NAT/firewall UDP binding toward the peer. CUCM's media gateway
// expects the literal ASCII bytes "Keepa RTP\x00\x00\x00" in the
// transaction-id field; a zeroed or random transaction ID is structurally
// valid STUN but CUCM's gateway will not recognize it as the keepalive.
// The packet is fire-and-forget and never answered.
const (
	stunBindingIndicationType = 0x0011
	stunMagicCookie           = 0x2112A442
	stunHeaderSize            = 20
	stunKeepaliveTransactionID = "Keepa RTP\x00\x00\x00"
)

var stunKeepalivePacket = buildStunBindingIndication()

func buildStunBindingIndication() []byte {
	buf := make([]byte, stunHeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], stunBindingIndicationType)
	binary.BigEndian.PutUint16(buf[2:4], 0) // message length: no attributes
	binary.BigEndian.PutUint32(buf[4:8], stunMagicCookie)
	copy(buf[8:20], stunKeepaliveTransactionID)
	return buf
}

// stunBindingIndication returns the fixed keepalive packet.
func stunBindingIndication() []byte {
	return stunKeepalivePacket
}

// isSTUNBindingIndication reports whether pkt looks like a STUN message
// rather than RTP, so the receive loop can silently discard keepalives
// that loop back or arrive from a symmetric peer.
func isSTUNBindingIndication(pkt []byte) bool {
	if len(pkt) < stunHeaderSize {
		return false
	}
	// RTP's first two bits are the version (always 2, i.e. 0b10xxxxxx);
	// STUN's first two bits are always 0. This distinguishes the two
	// without needing to fully validate the STUN header.
	return pkt[0]&0xC0 == 0
}
