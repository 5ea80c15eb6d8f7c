// Package codec implements the audio codecs CUCM negotiates: G.711
// (PCMU/PCMA), Opus, and G.729A. Each codec adapts fixed-size PCM16
// frames to and from its RTP wire encoding.
package codec

import "fmt"

// Codec converts between linear PCM16 samples and one codec's RTP payload
// encoding. Implementations are not required to be safe for concurrent use;
// the media session owns one encoder and one decoder instance per leg.
type Codec interface {
	// Name is the codec's SDP rtpmap name, e.g. "PCMU", "opus".
	Name() string

	// ClockRate is the RTP clock rate for this codec. The RTP timestamp
	// advances by the codec's clock rate scaled to the frame duration.
	ClockRate() int

	// FrameSamples is the number of PCM16 samples in one encode/decode
	// unit at the codec's native ptime, counted across all channels
	// (interleaved).
	FrameSamples() int

	// Encode converts one frame of PCM16 samples into the codec's RTP
	// payload bytes.
	Encode(pcm []int16) ([]byte, error)

	// Decode converts one codec payload back into PCM16 samples.
	Decode(payload []byte) ([]int16, error)
}

// ErrUnsupportedPayload is returned by ByName when no codec is registered
// for the requested name.
var ErrUnsupportedPayload = fmt.Errorf("codec: unsupported payload")

// ByName constructs the codec named by an SDP rtpmap encoding name
// (case-insensitive).
func ByName(name string) (Codec, error) {
	switch normalize(name) {
	case "pcmu":
		return NewPCMU(), nil
	case "pcma":
		return NewPCMA(), nil
	case "opus":
		return NewOpus(48000, 2)
	case "g729":
		return NewG729(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPayload, name)
	}
}

func normalize(name string) string {
	b := []byte(name)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
