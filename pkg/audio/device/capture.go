// Package device provides microphone capture and speaker playback backed by
// miniaudio via the malgo bindings. It is the only package in the repository
// that touches audio hardware; everything above it works on [audio.Frame]
// values and PCM byte slices so that tests never need a device.
package device

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/dreampulse/dreampulse/pkg/audio"
)

// CaptureConfig describes the microphone stream.
type CaptureConfig struct {
	// SampleRate in Hz. The realtime protocol runs at 24000.
	SampleRate int

	// FrameSize is the number of samples per emitted frame.
	FrameSize int

	// Buffer is the capacity of the frame channel. When the consumer falls
	// behind, frames are dropped rather than blocking the hardware callback.
	Buffer int
}

// Capture reads mono float32 samples from the default input device and emits
// them as PCM16 frames at a fixed cadence, driven by the hardware callback.
// The frame sequence is lazy, infinite, and not restartable: once closed, a
// new Capture must be created.
type Capture struct {
	mctx *malgo.AllocatedContext
	dev  *malgo.Device
	rate int
	size int

	mu      sync.Mutex
	pending []float32
	emitted int64 // total samples emitted, drives frame timestamps
	closed  bool

	frames chan audio.Frame
}

// NewCapture opens the default microphone. Device access failure (missing or
// denied input device) is returned as an error and is fatal to session start;
// no retry is attempted here.
func NewCapture(cfg CaptureConfig) (*Capture, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = 1024
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 32
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("device: init context: %w", err)
	}

	c := &Capture{
		mctx:   mctx,
		rate:   cfg.SampleRate,
		size:   cfg.FrameSize,
		frames: make(chan audio.Frame, cfg.Buffer),
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatF32
	devCfg.Capture.Channels = 1
	devCfg.SampleRate = uint32(cfg.SampleRate)
	devCfg.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(mctx.Context, devCfg, malgo.DeviceCallbacks{
		Data: c.onSamples,
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("device: open microphone: %w", err)
	}
	c.dev = dev
	return c, nil
}

// Start begins capturing. Frames arrive on [Capture.Frames] until Close.
func (c *Capture) Start() error {
	if err := c.dev.Start(); err != nil {
		return fmt.Errorf("device: start microphone: %w", err)
	}
	return nil
}

// Frames returns the channel of captured frames. Closed by [Capture.Close].
func (c *Capture) Frames() <-chan audio.Frame { return c.frames }

// onSamples is the miniaudio data callback. It accumulates float32 samples
// and converts them to PCM16 frames of exactly FrameSize samples.
func (c *Capture) onSamples(_, input []byte, frameCount uint32) {
	if frameCount == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	n := int(frameCount)
	for i := range n {
		bits := binary.LittleEndian.Uint32(input[i*4:])
		c.pending = append(c.pending, math.Float32frombits(bits))
	}

	for len(c.pending) >= c.size {
		pcm, peak := audio.FloatToPCM16(c.pending[:c.size])
		c.pending = append(c.pending[:0:0], c.pending[c.size:]...)

		frame := audio.Frame{
			PCM:       pcm,
			Timestamp: time.Duration(c.emitted) * time.Second / time.Duration(c.rate),
			Peak:      peak,
		}
		c.emitted += int64(c.size)

		select {
		case c.frames <- frame:
		default:
			// consumer is behind; dropping is better than stalling the
			// hardware callback
		}
	}
}

// Close stops the device and closes the frame channel. Idempotent.
func (c *Capture) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.dev.Uninit()
	err := c.mctx.Uninit()
	c.mctx.Free()
	close(c.frames)
	if err != nil {
		return fmt.Errorf("device: close context: %w", err)
	}
	return nil
}
