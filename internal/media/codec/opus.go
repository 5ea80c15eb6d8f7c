package codec

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

const opusFrameMillis = 20

// Opus wraps gopkg.in/hraban/opus.v2, the binding used for Opus encode/decode
// in the ZenonEl OwlWhisper example (see DESIGN.md).
type Opus struct {
	sampleRate int
	channels   int
	frame      int

	enc *opus.Encoder
	dec *opus.Decoder
}

// NewOpus constructs an Opus codec bound to the negotiated clock rate and
// channel count (the default offer is opus/48000/2).
func NewOpus(sampleRate, channels int) (*Opus, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("creating opus encoder: %w", err)
	}
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("creating opus decoder: %w", err)
	}
	return &Opus{
		sampleRate: sampleRate,
		channels:   channels,
		frame:      sampleRate * opusFrameMillis / 1000 * channels,
		enc:        enc,
		dec:        dec,
	}, nil
}

func (o *Opus) Name() string      { return "opus" }
func (o *Opus) ClockRate() int    { return o.sampleRate }
func (o *Opus) FrameSamples() int { return o.frame }

func (o *Opus) Encode(pcm []int16) ([]byte, error) {
	buf := make([]byte, 4000)
	n, err := o.enc.Encode(pcm, buf)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	return buf[:n], nil
}

func (o *Opus) Decode(payload []byte) ([]int16, error) {
	pcm := make([]int16, o.frame)
	n, err := o.dec.Decode(payload, pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	return pcm[:n*o.channels], nil
}
