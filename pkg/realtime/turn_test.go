package realtime

import (
	"testing"
	"time"
)

const frameStep = 43 * time.Millisecond // ~1024 samples at 24 kHz

// feed runs the detector over a peak sequence spaced one frame apart and
// returns the number of commits and the timestamp of the last one.
func feed(d *Detector, peaks []float64) (commits int, last time.Duration) {
	for i, p := range peaks {
		now := time.Duration(i) * frameStep
		if d.Observe(p, now) {
			commits++
			last = now
		}
	}
	return commits, last
}

func speechThenSilence(speech, silence int) []float64 {
	peaks := make([]float64, 0, speech+silence)
	for range speech {
		peaks = append(peaks, 0.5)
	}
	for range silence {
		peaks = append(peaks, 0.001)
	}
	return peaks
}

func TestDetectorCommitsOnceAfterSilenceHold(t *testing.T) {
	d := NewDetector(0.02, 1200*time.Millisecond, 1800*time.Millisecond)

	// Roughly 3s of speech followed by 1.3s of silence.
	commits, _ := feed(d, speechThenSilence(70, 31))
	if commits != 1 {
		t.Fatalf("commits = %d, want 1", commits)
	}
}

func TestDetectorSilenceAloneNeverCommits(t *testing.T) {
	d := NewDetector(0.02, 1200*time.Millisecond, 1800*time.Millisecond)

	peaks := make([]float64, 200)
	for i := range peaks {
		peaks[i] = 0.005
	}
	if commits, _ := feed(d, peaks); commits != 0 {
		t.Fatalf("commits = %d, want 0 with no speech observed", commits)
	}
}

func TestDetectorRespectsCommitInterval(t *testing.T) {
	d := NewDetector(0.02, 100*time.Millisecond, 1800*time.Millisecond)

	// Short bursts of speech with pauses long enough to satisfy the hold.
	// Without the interval gate this pattern would chatter a commit per
	// pause; the gate must space them at least 1.8s apart.
	peaks := make([]float64, 0, 400)
	for range 20 {
		peaks = append(peaks, speechThenSilence(3, 5)...)
	}

	var times []time.Duration
	for i, p := range peaks {
		now := time.Duration(i) * frameStep
		if d.Observe(p, now) {
			times = append(times, now)
		}
	}
	if len(times) < 2 {
		t.Fatalf("got %d commits, want at least 2 to check spacing", len(times))
	}
	for i := 1; i < len(times); i++ {
		if gap := times[i] - times[i-1]; gap < 1800*time.Millisecond {
			t.Errorf("commit gap %v < commit interval", gap)
		}
	}
}

func TestDetectorSpeechResetsAfterCommit(t *testing.T) {
	d := NewDetector(0.02, 200*time.Millisecond, 300*time.Millisecond)

	peaks := speechThenSilence(10, 10)
	commits, _ := feed(d, peaks)
	if commits != 1 {
		t.Fatalf("first run: commits = %d, want 1", commits)
	}

	// Continued silence after the commit must not produce another one.
	for i := range 50 {
		now := time.Duration(20+i) * frameStep
		if d.Observe(0.001, now) {
			t.Fatalf("commit at %v with no new speech after the last commit", now)
		}
	}
}

func TestDetectorReset(t *testing.T) {
	d := NewDetector(0.02, 200*time.Millisecond, 300*time.Millisecond)

	d.Observe(0.5, 0)
	if !d.Speaking() {
		t.Fatal("Speaking() = false after a speech frame")
	}
	d.Reset()
	if d.Speaking() {
		t.Fatal("Speaking() = true after Reset")
	}

	// Post-reset silence must not commit off the stale speech frame.
	for i := range 50 {
		now := time.Duration(i+1) * frameStep
		if d.Observe(0.001, now) {
			t.Fatal("commit fired from speech observed before Reset")
		}
	}
}
