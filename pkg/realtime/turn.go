package realtime

import "time"

// Policy selects how turn boundaries are detected within a session. The
// policy is fixed at session configuration time and never mixed.
type Policy string

const (
	// PolicyAuto commits turns from amplitude-based voice activity: a commit
	// fires once silence has held long enough after detected speech.
	PolicyAuto Policy = "auto"

	// PolicyManual is push-to-talk: the caller opens and closes turns
	// explicitly, and closing always commits.
	PolicyManual Policy = "manual"
)

// IsValid reports whether p is a recognised turn-detection policy.
func (p Policy) IsValid() bool {
	return p == PolicyAuto || p == PolicyManual
}

// Detector implements the automatic turn-segmentation policy. It tracks the
// peak amplitude of each observed frame and fires a commit when two
// conditions hold at a frame boundary:
//
//   - silence has persisted for SilenceHold since the last speech-level frame,
//     and
//   - at least CommitInterval has elapsed since the previous commit.
//
// The first gate avoids cutting a turn during a natural mid-sentence pause;
// the second prevents commit chatter. Timing is driven entirely by frame
// timestamps, never the wall clock, so detection is deterministic for a given
// frame sequence.
//
// A Detector is owned by a single session goroutine and is not safe for
// concurrent use.
type Detector struct {
	// SpeechThreshold is the peak amplitude above which a frame counts as
	// speech, in [0, 1].
	SpeechThreshold float64

	// SilenceHold is how long silence must persist after speech before a
	// commit may fire.
	SilenceHold time.Duration

	// CommitInterval is the minimum spacing between consecutive commits.
	CommitInterval time.Duration

	speechSeen bool
	lastSpeech time.Duration
	lastCommit time.Duration
	started    bool
}

// NewDetector creates a Detector with the given thresholds.
func NewDetector(speechThreshold float64, silenceHold, commitInterval time.Duration) *Detector {
	return &Detector{
		SpeechThreshold: speechThreshold,
		SilenceHold:     silenceHold,
		CommitInterval:  commitInterval,
	}
}

// Observe feeds one frame's peak amplitude and capture timestamp to the
// detector and reports whether the turn should be committed at this frame
// boundary. The commit clock starts at the first observed frame.
func (d *Detector) Observe(peak float64, now time.Duration) bool {
	if !d.started {
		d.lastCommit = now
		d.started = true
	}

	if peak > d.SpeechThreshold {
		d.speechSeen = true
		d.lastSpeech = now
	}

	if d.speechSeen &&
		now-d.lastSpeech >= d.SilenceHold &&
		now-d.lastCommit >= d.CommitInterval {
		d.speechSeen = false
		d.lastCommit = now
		return true
	}
	return false
}

// Speaking reports whether speech has been observed since the last commit.
func (d *Detector) Speaking() bool { return d.speechSeen }

// Reset clears all detection state, including the commit clock.
func (d *Detector) Reset() {
	d.speechSeen = false
	d.lastSpeech = 0
	d.lastCommit = 0
	d.started = false
}
