package transcribe

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncodeWAVHeader(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 960) // 10ms at 48kHz mono s16le
	data, err := EncodeWAV(pcm, 48000, 1)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	if !bytes.HasPrefix(data, []byte("RIFF")) {
		t.Fatalf("missing RIFF header: %x", data[:4])
	}
	if !bytes.Equal(data[8:12], []byte("WAVE")) {
		t.Fatalf("missing WAVE marker: %x", data[8:12])
	}
	if got := binary.LittleEndian.Uint32(data[24:28]); got != 48000 {
		t.Fatalf("unexpected sample rate in header: %d", got)
	}
	if len(data) <= len(pcm) {
		t.Fatalf("expected container overhead, got %d bytes for %d pcm bytes", len(data), len(pcm))
	}
}

func TestEncodeWAVRejectsUnalignedPCM(t *testing.T) {
	t.Parallel()

	if _, err := EncodeWAV([]byte{1, 2, 3}, 48000, 1); err == nil {
		t.Fatal("expected error for unaligned payload")
	}
	if _, err := EncodeWAV([]byte{1, 2}, 0, 1); err == nil {
		t.Fatal("expected error for invalid sample rate")
	}
}

func TestNormalizeNoise(t *testing.T) {
	t.Parallel()

	cases := map[string]NoiseLevel{
		"low":     NoiseLow,
		"medium":  NoiseMedium,
		"high":    NoiseHigh,
		"":        NoiseUnknown,
		"extreme": NoiseUnknown,
	}
	for raw, want := range cases {
		if got := NormalizeNoise(raw); got != want {
			t.Fatalf("NormalizeNoise(%q) = %q, want %q", raw, got, want)
		}
	}
}
