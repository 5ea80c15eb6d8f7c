package codec

/*
#cgo LDFLAGS: -lbcg729
#include <stdlib.h>
#include <bcg729/decoder.h>
#include <bcg729/encoder.h>
*/
import "C"

import (
	"fmt"
	"unsafe"
)

const (
	g729FrameSamples = 80 // 10ms at 8kHz
	g729ClockRate    = 8000
)

// G729 wraps libbcg729 for G.729A encode/decode. There is no pure-Go G.729
// implementation available, so this is a cgo binding rather than a
// reimplementation.
type G729 struct {
	enc *C.bcg729EncoderChannelContextStruct
	dec *C.bcg729DecoderChannelContextStruct
}

// NewG729 constructs a G.729A encoder/decoder pair.
func NewG729() *G729 {
	return &G729{
		enc: C.initBcg729EncoderChannel(0),
		dec: C.initBcg729DecoderChannel(),
	}
}

// Close releases the underlying libbcg729 channel contexts.
func (g *G729) Close() {
	if g.enc != nil {
		C.closeBcg729EncoderChannel(g.enc)
		g.enc = nil
	}
	if g.dec != nil {
		C.closeBcg729DecoderChannel(g.dec)
		g.dec = nil
	}
}

func (*G729) Name() string      { return "G729" }
func (*G729) ClockRate() int    { return g729ClockRate }
func (*G729) FrameSamples() int { return g729FrameSamples }

// Encode compresses one 80-sample (10ms) PCM16 frame into a G.729A frame,
// either 10 bytes (full rate) or 2 bytes (SID/comfort noise).
func (g *G729) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) != g729FrameSamples {
		return nil, fmt.Errorf("g729 encode: expected %d samples, got %d", g729FrameSamples, len(pcm))
	}

	out := make([]byte, 10)
	var outLen C.uint8_t
	C.bcg729Encoder(
		g.enc,
		(*C.int16_t)(unsafe.Pointer(&pcm[0])),
		(*C.uint8_t)(unsafe.Pointer(&out[0])),
		&outLen,
	)
	return out[:outLen], nil
}

// Decode expands a G.729A RTP payload back to PCM16 samples. CUCM packs
// multiple consecutive 10-byte G.729A frames into one RTP payload (two per
// 20-byte payload, three per 30-byte payload, and so on); Decode splits the
// payload into 10-byte frames, decodes each independently, and concatenates
// the resulting 80-sample chunks. An empty payload decodes one
// frame-erasure frame, yielding 80 samples of concealment audio.
func (g *G729) Decode(payload []byte) ([]int16, error) {
	if len(payload) == 0 {
		return g.decodeOne(nil)
	}
	if len(payload)%10 != 0 {
		return nil, fmt.Errorf("g729 decode: payload length %d is not a multiple of 10", len(payload))
	}

	pcm := make([]int16, 0, g729FrameSamples*(len(payload)/10))
	for off := 0; off < len(payload); off += 10 {
		frame, err := g.decodeOne(payload[off : off+10])
		if err != nil {
			return nil, err
		}
		pcm = append(pcm, frame...)
	}
	return pcm, nil
}

// decodeOne decodes a single up-to-10-byte G.729A frame into 80 PCM16
// samples, or concealment audio when frame is empty (frame erasure).
func (g *G729) decodeOne(frame []byte) ([]int16, error) {
	pcm := make([]int16, g729FrameSamples)
	frameErasure := C.uint8_t(0)
	if len(frame) == 0 {
		frameErasure = 1
	}

	var inPtr *C.uint8_t
	if len(frame) > 0 {
		inPtr = (*C.uint8_t)(unsafe.Pointer(&frame[0]))
	}

	C.bcg729Decoder(
		g.dec,
		inPtr,
		C.uint8_t(len(frame)),
		frameErasure,
		0,
		0,
		(*C.int16_t)(unsafe.Pointer(&pcm[0])),
	)
	return pcm, nil
}
