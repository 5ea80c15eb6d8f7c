package media

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/csfua/softphone/internal/media/codec"
)

func TestRTPSession_SendFrameIncrementsSequenceAndTimestamp(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	listener, err := NewRTPSession(0, "127.0.0.1", 1, PayloadPCMU, codec.NewPCMU(), logger)
	if err != nil {
		t.Fatalf("NewRTPSession: %v", err)
	}
	defer listener.Close()

	remote, err := NewRTPSession(0, "127.0.0.1", listener.LocalPort(), PayloadPCMU, codec.NewPCMU(), logger)
	if err != nil {
		t.Fatalf("NewRTPSession (remote): %v", err)
	}
	defer remote.Close()

	startSeq := remote.seq
	startTS := remote.ts

	pcm := make([]int16, 160)
	if err := remote.SendFrame(pcm, true); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}

	if remote.seq != startSeq+1 {
		t.Errorf("seq = %d, want %d", remote.seq, startSeq+1)
	}
	if remote.ts != startTS+160 {
		t.Errorf("ts = %d, want %d", remote.ts, startTS+160)
	}
}

func TestRTPSession_SymmetricLearning(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := NewRTPSession(0, "127.0.0.1", 1, PayloadPCMU, codec.NewPCMU(), logger)
	if err != nil {
		t.Fatalf("NewRTPSession a: %v", err)
	}
	defer a.Close()

	b, err := NewRTPSession(0, "127.0.0.1", a.LocalPort(), PayloadPCMU, codec.NewPCMU(), logger)
	if err != nil {
		t.Fatalf("NewRTPSession b: %v", err)
	}
	defer b.Close()

	frames := a.Start()

	pcm := make([]int16, 160)
	if err := b.SendFrame(pcm, true); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}

	select {
	case frame := <-frames:
		if frame.Err != nil {
			t.Errorf("decode error: %v", frame.Err)
		}
		if len(frame.PCM) != 160 {
			t.Errorf("decoded %d samples, want 160", len(frame.PCM))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for received frame")
	}

	if a.RemoteAddr().Port != b.LocalPort() {
		t.Errorf("learned remote port = %d, want %d", a.RemoteAddr().Port, b.LocalPort())
	}
}
