package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
)

// segment is a scheduled span of PCM16 samples with an absolute start
// position on the playback timeline.
type segment struct {
	start int64 // sample index at which playback begins
	pcm   []byte
	off   int // bytes already consumed
}

// Playback renders scheduled PCM16 fragments through the default output
// device. It implements the realtime scheduler's Clock and Sink: Now reports
// the playback clock as samples rendered so far, and PlayAt queues a fragment
// at an absolute position on that clock. Gaps between segments are filled
// with silence.
type Playback struct {
	mctx *malgo.AllocatedContext
	dev  *malgo.Device
	rate int

	mu    sync.Mutex
	pos   int64 // samples rendered since Start
	queue []segment
}

// NewPlayback opens the default output device at the given sample rate.
func NewPlayback(sampleRate int) (*Playback, error) {
	if sampleRate <= 0 {
		sampleRate = 24000
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("device: init context: %w", err)
	}

	p := &Playback{mctx: mctx, rate: sampleRate}

	devCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	devCfg.Playback.Format = malgo.FormatS16
	devCfg.Playback.Channels = 1
	devCfg.SampleRate = uint32(sampleRate)
	devCfg.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(mctx.Context, devCfg, malgo.DeviceCallbacks{
		Data: p.onRender,
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("device: open speaker: %w", err)
	}
	p.dev = dev
	return p, nil
}

// Start begins rendering.
func (p *Playback) Start() error {
	if err := p.dev.Start(); err != nil {
		return fmt.Errorf("device: start speaker: %w", err)
	}
	return nil
}

// Now reports the current playback clock position.
func (p *Playback) Now() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Duration(p.pos) * time.Second / time.Duration(p.rate)
}

// PlayAt queues pcm to start at the given position on the playback clock.
// The scheduler guarantees starts are non-decreasing and non-overlapping, so
// segments are appended in order.
func (p *Playback) PlayAt(pcm []byte, start time.Duration) {
	if len(pcm) < 2 {
		return
	}
	startSample := int64(start * time.Duration(p.rate) / time.Second)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, segment{start: startSample, pcm: pcm})
}

// onRender is the miniaudio data callback: fill output with queued segments,
// padding with silence wherever nothing is scheduled.
func (p *Playback) onRender(output, _ []byte, frameCount uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// output is zeroed by miniaudio, so untouched spans render as silence.
	outOff := 0
	remaining := int(frameCount)

	for remaining > 0 && len(p.queue) > 0 {
		head := &p.queue[0]

		headPos := head.start + int64(head.off/2)
		if headPos > p.pos+int64(remaining) {
			break // nothing scheduled inside this callback window
		}

		if headPos > p.pos+int64(outOff/2) {
			// advance over the silent gap before the segment starts
			gap := int(headPos - p.pos - int64(outOff/2))
			if gap > remaining {
				gap = remaining
			}
			outOff += gap * 2
			remaining -= gap
			if remaining == 0 {
				break
			}
		}

		n := copy(output[outOff:int(frameCount)*2], head.pcm[head.off:])
		head.off += n
		outOff += n
		remaining = int(frameCount) - outOff/2

		if head.off >= len(head.pcm) {
			p.queue = p.queue[1:]
		}
	}

	p.pos += int64(frameCount)
}

// Close stops the device and releases it. Idempotent at the malgo layer.
func (p *Playback) Close() error {
	p.dev.Uninit()
	err := p.mctx.Uninit()
	p.mctx.Free()
	if err != nil {
		return fmt.Errorf("device: close context: %w", err)
	}
	return nil
}
