package media

import (
	"errors"
	"log/slog"
	"math/rand/v2"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/csfua/softphone/internal/media/codec"
)

// RTPSession owns one bidirectional audio stream: a UDP socket, the
// negotiated codec, and the sequence/timestamp/SSRC state for outbound
// packets. A softphone has at most one active call, so there is exactly
// one RTPSession alive at a time, owned by the call's Dialog.
type RTPSession struct {
	conn   *net.UDPConn
	remote *atomicAddr
	logger *slog.Logger

	codec       codec.Codec
	payloadType int

	ssrc uint32
	seq  uint16
	ts   uint32

	stopped       atomic.Bool
	learnedRemote atomic.Bool
	lastActivity  atomic.Int64
	wg            sync.WaitGroup

	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	packetsDropped  atomic.Uint64
}

// Stats is a snapshot of an RTPSession's packet counters.
type Stats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	PacketsDropped  uint64
}

// NewRTPSession binds a UDP socket on localPort and prepares it to stream
// audio to remoteAddr:remotePort using the negotiated codec and RTP
// payload type, as produced by SelectFromAnswer.
func NewRTPSession(localPort int, remoteAddr string, remotePort int, pt int, c codec.Codec, logger *slog.Logger) (*RTPSession, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: localPort})
	if err != nil {
		return nil, err
	}

	remote, err := net.ResolveUDPAddr("udp", net.JoinHostPort(remoteAddr, strconv.Itoa(remotePort)))
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &RTPSession{
		conn:        conn,
		remote:      newAtomicAddr(remote),
		logger:      logger.With("subsystem", "rtp-session", "local_port", localPort, "payload_type", pt, "codec", c.Name()),
		codec:       c,
		payloadType: pt,
		ssrc:        rand.Uint32(),
		seq:         uint16(rand.UintN(65536)),
		ts:          rand.Uint32(),
	}, nil
}

// LocalPort returns the bound local UDP port, used for the SDP offer/answer.
func (s *RTPSession) LocalPort() int {
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

// RemoteAddr returns the current remote address, which may have been
// updated from the SDP-signaled address by symmetric RTP learning.
func (s *RTPSession) RemoteAddr() *net.UDPAddr {
	return s.remote.load()
}

// Close releases the underlying socket and stops the receive loop.
func (s *RTPSession) Close() error {
	s.stopped.Store(true)
	err := s.conn.Close()
	s.wg.Wait()
	return err
}

// SendFrame encodes one frame of PCM16 samples and transmits it as an RTP
// packet. marker should be true only for the first packet of a talkspurt
// (RFC 3551), e.g. after a period of silence suppression.
func (s *RTPSession) SendFrame(pcm []int16, marker bool) error {
	payload, err := s.codec.Encode(pcm)
	if err != nil {
		return err
	}

	pkt := make([]byte, rtpHeaderSize+len(payload))
	buildRTPHeader(pkt[:rtpHeaderSize], s.payloadType, marker, s.seq, s.ts, s.ssrc)
	copy(pkt[rtpHeaderSize:], payload)

	if _, err := s.conn.WriteToUDP(pkt, s.remote.load()); err != nil {
		return err
	}

	s.seq++
	s.ts += uint32(s.codec.FrameSamples())
	s.packetsSent.Add(1)
	s.lastActivity.Store(time.Now().UnixNano())
	return nil
}

// SendKeepalive sends one fixed STUN binding indication to the remote
// address, opening the NAT/firewall binding toward it.
func (s *RTPSession) SendKeepalive() error {
	_, err := s.conn.WriteToUDP(stunBindingIndication(), s.remote.load())
	return err
}

// ReceivedFrame is one decoded inbound audio frame, or a decode error for
// the caller to log and skip.
type ReceivedFrame struct {
	PCM []int16
	Err error
}

// Start begins the receive loop, decoding inbound RTP packets with a
// matching payload type and delivering PCM16 frames on the returned
// channel. The channel is closed once the session is closed. Symmetric
// RTP: the remote address is updated to the source of the first valid
// packet.
func (s *RTPSession) Start() <-chan ReceivedFrame {
	out := make(chan ReceivedFrame, 32)
	s.wg.Add(1)
	go s.receiveLoop(out)
	return out
}

func (s *RTPSession) receiveLoop(out chan<- ReceivedFrame) {
	defer s.wg.Done()
	defer close(out)

	buf := make([]byte, maxRTPPacket)
	for {
		if s.stopped.Load() {
			return
		}

		s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, srcAddr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if s.stopped.Load() {
				return
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			s.logger.Debug("rtp read error", "error", err)
			continue
		}

		if n > maxValidRTPPacket {
			s.packetsDropped.Add(1)
			continue
		}

		pkt := buf[:n]

		if isSTUNBindingIndication(pkt) {
			continue
		}

		pt := rtpPayloadType(pkt)
		if pt < 0 || pt != s.payloadType || n < minRTPHeader {
			s.packetsDropped.Add(1)
			continue
		}

		if !s.learnedRemote.Load() {
			if s.remote.update(srcAddr) {
				s.logger.Info("symmetric rtp: learned remote address", "address", srcAddr.String())
			}
			s.learnedRemote.Store(true)
		}

		pcm, decErr := s.codec.Decode(pkt[minRTPHeader:n])
		s.packetsReceived.Add(1)
		s.lastActivity.Store(time.Now().UnixNano())
		out <- ReceivedFrame{PCM: pcm, Err: decErr}
	}
}

// LastActivity returns the time of the last sent or received RTP packet.
func (s *RTPSession) LastActivity() time.Time {
	ns := s.lastActivity.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Stats returns a snapshot of the session's packet counters.
func (s *RTPSession) Stats() Stats {
	return Stats{
		PacketsSent:     s.packetsSent.Load(),
		PacketsReceived: s.packetsReceived.Load(),
		PacketsDropped:  s.packetsDropped.Load(),
	}
}
