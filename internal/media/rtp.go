package media

import (
	"encoding/binary"
	"net"
	"sync/atomic"
	"time"
)

// RTP payload types for the fixed codec offer.
const (
	PayloadOpus           = PTOpus
	PayloadPCMU           = PTPCMU
	PayloadPCMA           = PTPCMA
	PayloadTelephoneEvent = PTTelephoneEvent

	// maxRTPPacket sizes the read buffer generously above
	// maxValidRTPPacket so an oversized datagram can still be read (and
	// then dropped) in one ReadFromUDP call instead of being truncated
	// and misparsed as a short valid packet.
	maxRTPPacket = 1500

	// maxValidRTPPacket is the largest datagram this engine treats as a
	// real RTP packet; CUCM's audio streams never produce anything close
	// to this size, so anything bigger is dropped rather than decoded.
	maxValidRTPPacket = 1024

	// minRTPHeader is the fixed RTP header size (12 bytes, no CSRCs or
	// extensions — CUCM's audio stream never uses either). A 12-byte
	// datagram is the smallest valid RTP packet: header only, empty
	// payload.
	minRTPHeader  = 12
	rtpHeaderSize = 12
	rtpVersion    = 2

	// readTimeout bounds each blocking UDP read so the receive loop can
	// periodically re-check the stopped flag.
	readTimeout = 100 * time.Millisecond
)

// rtpPayloadType extracts the payload type from an RTP packet. Returns -1
// if the packet is too small to be valid RTP.
func rtpPayloadType(pkt []byte) int {
	if len(pkt) < minRTPHeader {
		return -1
	}
	return int(pkt[1] & 0x7F)
}

// buildRTPHeader writes a 12-byte RTP header into buf. marker should be
// true for the first packet of a talkspurt (RFC 3551).
func buildRTPHeader(buf []byte, pt int, marker bool, seq uint16, ts uint32, ssrc uint32) {
	buf[0] = rtpVersion << 6
	buf[1] = byte(pt & 0x7F)
	if marker {
		buf[1] |= 0x80
	}
	binary.BigEndian.PutUint16(buf[2:4], seq)
	binary.BigEndian.PutUint32(buf[4:8], ts)
	binary.BigEndian.PutUint32(buf[8:12], ssrc)
}

// atomicAddr provides thread-safe storage for a UDP address, used for
// symmetric RTP where the remote address is learned from the first
// incoming packet rather than relying solely on the SDP-signaled address.
type atomicAddr struct {
	v atomic.Pointer[net.UDPAddr]
}

func newAtomicAddr(addr *net.UDPAddr) *atomicAddr {
	a := &atomicAddr{}
	a.v.Store(addr)
	return a
}

func (a *atomicAddr) load() *net.UDPAddr {
	return a.v.Load()
}

// update atomically replaces the stored address and returns true if it changed.
func (a *atomicAddr) update(addr *net.UDPAddr) bool {
	old := a.v.Load()
	if old.IP.Equal(addr.IP) && old.Port == addr.Port {
		return false
	}
	a.v.Store(addr)
	return true
}
