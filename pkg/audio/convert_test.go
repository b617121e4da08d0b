package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/dreampulse/dreampulse/pkg/audio"
)

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestFloatToPCM16_Scaling(t *testing.T) {
	pcm, _ := audio.FloatToPCM16([]float32{0, 0.5, -0.5, 1, -1})
	got := bytesToSamples(pcm)
	want := []int16{0, 16383, -16384, 32767, -32768}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestFloatToPCM16_ClampsOutOfRange(t *testing.T) {
	pcm, peak := audio.FloatToPCM16([]float32{2.5, -3.0})
	got := bytesToSamples(pcm)
	want := []int16{32767, -32768}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
	if peak != 1 {
		t.Errorf("peak = %v, want 1 (clamped)", peak)
	}
}

func TestFloatToPCM16_Peak(t *testing.T) {
	_, peak := audio.FloatToPCM16([]float32{0.1, -0.7, 0.3})
	if peak < 0.699 || peak > 0.701 {
		t.Errorf("peak = %v, want 0.7", peak)
	}
}

func TestPCM16ToFloat32_RoundTripSilence(t *testing.T) {
	pcm, _ := audio.FloatToPCM16(make([]float32, 8))
	for i, s := range audio.PCM16ToFloat32(pcm) {
		if s != 0 {
			t.Errorf("sample %d: got %v, want 0", i, s)
		}
	}
}

func TestDuration(t *testing.T) {
	// 24000 samples of mono PCM16 at 24 kHz is exactly one second.
	if got := audio.Duration(48000, 24000); got.Seconds() != 1 {
		t.Errorf("Duration = %v, want 1s", got)
	}
	if got := audio.Duration(100, 0); got != 0 {
		t.Errorf("Duration with zero rate = %v, want 0", got)
	}
}
