package realtime

import (
	"sync"
	"time"

	"github.com/dreampulse/dreampulse/pkg/audio"
)

// Clock reports the current position of the playback timeline. A hardware
// sink derives it from samples rendered so far; tests supply a fake.
type Clock interface {
	Now() time.Duration
}

// Sink renders one PCM16 fragment starting at an absolute position on the
// playback timeline. The scheduler guarantees that successive start positions
// are non-decreasing and that scheduled fragments never overlap.
type Sink interface {
	PlayAt(pcm []byte, start time.Duration)
}

// Scheduler sequences synthesized-audio fragments for gapless playback.
// Fragments arrive in delivery order (the transport guarantees ordering, so
// no sequence numbers are needed) but with arbitrary jitter; each is
// scheduled at whichever is later, the playback clock or the cursor, and the
// cursor then advances by the fragment's duration. The cursor is
// monotonically non-decreasing for the scheduler's lifetime.
type Scheduler struct {
	clock      Clock
	sink       Sink
	sampleRate int

	mu     sync.Mutex
	cursor time.Duration
}

// NewScheduler creates a Scheduler rendering through sink on clock's
// timeline. sampleRate is the PCM16 sample rate of incoming fragments.
func NewScheduler(clock Clock, sink Sink, sampleRate int) *Scheduler {
	return &Scheduler{clock: clock, sink: sink, sampleRate: sampleRate}
}

// Enqueue schedules one fragment. Degenerate fragments with no decodable
// samples are dropped without advancing the cursor.
func (s *Scheduler) Enqueue(pcm []byte) {
	if len(pcm) < 2 {
		return
	}
	dur := audio.Duration(len(pcm), s.sampleRate)

	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.clock.Now()
	if s.cursor > start {
		start = s.cursor
	}
	s.sink.PlayAt(pcm, start)
	s.cursor = start + dur
}

// Cursor returns the earliest time at which the next fragment may start.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}
