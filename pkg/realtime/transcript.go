package realtime

import (
	"log/slog"
	"strings"
	"sync"
)

// Speaker attributes an utterance to one side of the conversation.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Utterance is a finalized, speaker-attributed transcript line. Immutable
// once emitted.
type Utterance struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// Reconciler accumulates incremental transcript fragments into complete
// utterances, independently per speaker.
//
// Assistant speech arrives as text deltas that are concatenated until a
// finalize event flushes the buffer as one Utterance. User speech arrives
// whole — either inline from the upstream transcription event or out of band
// from the fallback transcription path — and the two sources are accepted
// interchangeably, in any order relative to the assistant's utterance for the
// same turn.
//
// Safe for concurrent use: the fallback path delivers user text from its own
// goroutine.
type Reconciler struct {
	mu        sync.Mutex
	assistant strings.Builder
	out       chan Utterance
	closed    bool
}

// NewReconciler creates a Reconciler whose utterance channel holds up to
// buffer entries. When the consumer falls behind, further utterances are
// dropped with a warning rather than blocking the event loop.
func NewReconciler(buffer int) *Reconciler {
	return &Reconciler{out: make(chan Utterance, buffer)}
}

// AppendAssistant adds one assistant text fragment to the running buffer.
func (r *Reconciler) AppendAssistant(delta string) {
	if delta == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assistant.WriteString(delta)
}

// FinalizeAssistant flushes the assistant buffer as one Utterance. A finalize
// with an empty buffer emits nothing.
func (r *Reconciler) FinalizeAssistant() {
	r.mu.Lock()
	defer r.mu.Unlock()

	text := r.assistant.String()
	r.assistant.Reset()
	if text == "" {
		return
	}
	r.emitLocked(Utterance{Speaker: SpeakerAssistant, Text: text})
}

// AddUser emits a completed user utterance. Empty text emits nothing.
func (r *Reconciler) AddUser(text string) {
	if text == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitLocked(Utterance{Speaker: SpeakerUser, Text: text})
}

// Utterances returns the channel of finalized utterances. Closed by
// [Reconciler.Close].
func (r *Reconciler) Utterances() <-chan Utterance { return r.out }

// Close closes the utterance channel. Subsequent Append/Finalize/Add calls
// become no-ops. Idempotent.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.out)
}

// emitLocked delivers u without blocking. Must be called with r.mu held.
func (r *Reconciler) emitLocked(u Utterance) {
	if r.closed {
		return
	}
	select {
	case r.out <- u:
	default:
		slog.Warn("transcript consumer is behind, dropping utterance", "speaker", u.Speaker)
	}
}
