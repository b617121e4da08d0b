// Package audio defines the frame type and sample-format helpers shared by the
// DreamPulse capture, playback, and realtime session layers.
//
// All audio inside the pipeline is 16-bit little-endian PCM, mono. Capture
// devices deliver floating-point samples in [-1, 1]; [FloatToPCM16] converts
// them to the wire encoding, clamping out-of-range input. Playback works the
// other way around via [PCM16ToFloat32].
package audio

import "time"

// Frame is a fixed-size chunk of encoded audio produced by a capture device.
// Frames are transient: they flow through turn detection and onto the wire and
// are never persisted, with one exception — push-to-talk turns retain their
// frames in memory until the fallback transcription for that turn completes.
type Frame struct {
	// PCM holds little-endian int16 mono samples.
	PCM []byte

	// Timestamp marks when the frame was captured, relative to stream start.
	// Monotonically increasing within one capture stream.
	Timestamp time.Duration

	// Peak is the maximum absolute amplitude observed in the source samples,
	// in [0, 1]. Turn detection uses it to decide whether the frame contains
	// speech without re-scanning the PCM data.
	Peak float64
}

// Samples returns the number of int16 samples in the frame.
func (f Frame) Samples() int { return len(f.PCM) / 2 }

// Duration returns the playback duration of n bytes of 16-bit mono PCM at the
// given sample rate.
func Duration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n/2) * time.Second / time.Duration(sampleRate)
}
