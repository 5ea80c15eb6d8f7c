package codec

import "testing"

func TestPCMUEncodeDecodeRoundTrip(t *testing.T) {
	c := NewPCMU()
	pcm := make([]int16, g711FrameSamples)
	for i := range pcm {
		pcm[i] = int16((i%2)*30000 - 15000)
	}

	encoded, err := c.Encode(pcm)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(encoded) != len(pcm) {
		t.Fatalf("encoded length = %d, want %d", len(encoded), len(pcm))
	}

	decoded, err := c.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded) != len(pcm) {
		t.Fatalf("decoded length = %d, want %d", len(decoded), len(pcm))
	}
	for i, s := range pcm {
		if diff := int(s) - int(decoded[i]); diff > 300 || diff < -300 {
			t.Errorf("sample %d: got %d, want close to %d", i, decoded[i], s)
		}
	}
}

func TestPCMASilenceRoundTrip(t *testing.T) {
	c := NewPCMA()
	pcm := make([]int16, g711FrameSamples)

	encoded, err := c.Encode(pcm)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := c.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for i, s := range decoded {
		if s != 0 && (s > 8 || s < -8) {
			t.Errorf("sample %d: got %d, want near zero", i, s)
		}
	}
}

func TestCodecNamesAndRates(t *testing.T) {
	u, a := NewPCMU(), NewPCMA()
	if u.Name() != "PCMU" || a.Name() != "PCMA" {
		t.Errorf("unexpected codec names: %q, %q", u.Name(), a.Name())
	}
	if u.ClockRate() != 8000 || a.ClockRate() != 8000 {
		t.Errorf("unexpected clock rates: %d, %d", u.ClockRate(), a.ClockRate())
	}
	if u.FrameSamples() != 160 || a.FrameSamples() != 160 {
		t.Errorf("unexpected frame sizes: %d, %d", u.FrameSamples(), a.FrameSamples())
	}
}

func TestByNameResolvesG711Variants(t *testing.T) {
	if c, err := ByName("pcmu"); err != nil || c.Name() != "PCMU" {
		t.Errorf("ByName(pcmu) = %v, %v", c, err)
	}
	if c, err := ByName("PCMA"); err != nil || c.Name() != "PCMA" {
		t.Errorf("ByName(PCMA) = %v, %v", c, err)
	}
	if _, err := ByName("does-not-exist"); err == nil {
		t.Error("expected an error for an unknown codec name")
	}
}
