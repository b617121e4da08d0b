// Package realtime implements the client side of a realtime speech
// conversation: the session state machine, turn segmentation, gapless
// playback scheduling, and transcript reconciliation.
//
// A [Session] owns one persistent WebSocket connection — typically to the
// DreamPulse relay, which pairs it with an upstream realtime endpoint — and
// exchanges JSON events carrying base64-encoded PCM16 audio. Captured frames
// flow in through [Session.ProcessFrame]; synthesized audio comes back on
// [Session.Audio] and finalized transcript lines on [Session.Utterances].
//
// Sessions are single-use: any fatal condition (transport loss, upstream
// protocol error, explicit [Session.Close]) moves the session to
// [StateClosed] permanently. Reconnecting means dialing a new Session; no
// retry or resume logic exists here.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/dreampulse/dreampulse/pkg/audio"
	"github.com/dreampulse/dreampulse/pkg/provider/stt"
)

// ErrSessionClosed is returned by operations on a session that has reached
// [StateClosed].
var ErrSessionClosed = errors.New("realtime: session closed")

// ErrTurnOpen is returned by StartTurn when a turn is already open.
var ErrTurnOpen = errors.New("realtime: a turn is already open")

// ErrNoTurn is returned by EndTurn when no turn is open.
var ErrNoTurn = errors.New("realtime: no turn is open")

// fallbackTimeout bounds one fallback transcription request.
const fallbackTimeout = 30 * time.Second

// State is the lifecycle phase of a Session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConfiguring
	StateReady
	StateTurnOpen
	StateAwaitingResponse
	StateClosed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConfiguring:
		return "configuring"
	case StateReady:
		return "ready"
	case StateTurnOpen:
		return "turn-open"
	case StateAwaitingResponse:
		return "awaiting-response"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config describes one realtime session.
type Config struct {
	// URL is the WebSocket endpoint — the DreamPulse relay in the normal
	// deployment, or the upstream endpoint directly.
	URL string

	// HTTPHeader carries extra headers for the dial (authentication when
	// bypassing the relay). May be nil.
	HTTPHeader http.Header

	// Voice is the synthesis voice identifier.
	Voice string

	// Instructions is the system instruction text for the conversation.
	Instructions string

	// Greeting is the opening response instruction issued under PolicyAuto
	// once the session is configured, eliciting a greeting before the user
	// speaks. Empty disables the opening response.
	Greeting string

	// Policy selects turn segmentation. Defaults to PolicyAuto.
	Policy Policy

	// SampleRate of the PCM16 audio in Hz. Defaults to 24000.
	SampleRate int

	// SpeechThreshold, SilenceHold, and CommitInterval tune the automatic
	// turn detector. Zero values select the defaults (0.02, 1.2s, 1.8s).
	SpeechThreshold float64
	SilenceHold     time.Duration
	CommitInterval  time.Duration

	// Transcriber supplies the fallback transcription path for push-to-talk
	// turns. Optional: when nil, manual turns produce no user transcript.
	Transcriber stt.Transcriber

	// AudioBuffer and TranscriptBuffer are the channel capacities for
	// synthesized audio and utterances. Zero values select 64 and 16.
	AudioBuffer      int
	TranscriptBuffer int
}

// withDefaults fills zero-valued tuning fields.
func (c Config) withDefaults() Config {
	if c.Policy == "" {
		c.Policy = PolicyAuto
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 24000
	}
	if c.SpeechThreshold <= 0 {
		c.SpeechThreshold = 0.02
	}
	if c.SilenceHold <= 0 {
		c.SilenceHold = 1200 * time.Millisecond
	}
	if c.CommitInterval <= 0 {
		c.CommitInterval = 1800 * time.Millisecond
	}
	if c.AudioBuffer <= 0 {
		c.AudioBuffer = 64
	}
	if c.TranscriptBuffer <= 0 {
		c.TranscriptBuffer = 16
	}
	return c
}

// Session is one realtime conversation. Create with [Dial]; it is not
// reusable after Close.
type Session struct {
	cfg  Config
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	awaiting bool // a response request is in flight
	greeted  bool
	turnOpen bool
	turnPCM  [][]byte // manual-policy frame retention for the fallback path

	detector *Detector
	rec      *Reconciler
	audioCh  chan []byte

	errHandler func(error)
	errOnce    sync.Once
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

// Dial connects, sends the configuration control frame, and starts the
// receive loop. The session reaches StateReady once the upstream acknowledges
// the configuration.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	if !cfg.Policy.IsValid() {
		return nil, fmt.Errorf("realtime: invalid policy %q", cfg.Policy)
	}

	conn, _, err := websocket.Dial(ctx, cfg.URL, &websocket.DialOptions{
		HTTPHeader: cfg.HTTPHeader,
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:      cfg,
		conn:     conn,
		ctx:      sessCtx,
		cancel:   sessCancel,
		state:    StateConfiguring,
		detector: NewDetector(cfg.SpeechThreshold, cfg.SilenceHold, cfg.CommitInterval),
		rec:      NewReconciler(cfg.TranscriptBuffer),
		audioCh:  make(chan []byte, cfg.AudioBuffer),
	}

	if err := s.writeJSON(sessionUpdateEvent{
		Type: TypeSessionUpdate,
		Session: sessionParams{
			Voice:             cfg.Voice,
			Instructions:      cfg.Instructions,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
		},
	}); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("realtime: configure: %w", err)
	}

	go s.receiveLoop()

	return s, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Audio returns the channel of synthesized PCM16 fragments, in delivery
// order. Feed it to a playback [Scheduler]. Closed when the session ends.
func (s *Session) Audio() <-chan []byte { return s.audioCh }

// Utterances returns the channel of finalized transcript lines from both
// speakers. Closed when the session ends.
func (s *Session) Utterances() <-chan Utterance { return s.rec.Utterances() }

// OnError registers the callback invoked on the fatal error that closes the
// session. Invoked at most once.
func (s *Session) OnError(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errHandler = fn
}

// ProcessFrame forwards one captured frame. Under PolicyAuto every frame is
// forwarded and fed to the detector, which may trigger a commit. Under
// PolicyManual frames are forwarded and retained only while a turn is open;
// frames outside a turn are silently discarded.
func (s *Session) ProcessFrame(f audio.Frame) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}

	commit := false
	switch s.cfg.Policy {
	case PolicyManual:
		if !s.turnOpen {
			s.mu.Unlock()
			return nil
		}
		s.turnPCM = append(s.turnPCM, f.PCM)
	default:
		if f.Peak > s.cfg.SpeechThreshold && s.state == StateReady {
			s.state = StateTurnOpen
		}
		commit = s.detector.Observe(f.Peak, f.Timestamp)
	}
	s.mu.Unlock()

	if err := s.writeJSON(appendAudioEvent{
		Type:  TypeAppendAudio,
		Audio: base64.StdEncoding.EncodeToString(f.PCM),
	}); err != nil {
		return err
	}

	if commit {
		return s.commit()
	}
	return nil
}

// StartTurn opens a push-to-talk turn. Only valid under PolicyManual; at most
// one turn may be open at a time.
func (s *Session) StartTurn() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Policy != PolicyManual {
		return fmt.Errorf("realtime: StartTurn requires %q policy", PolicyManual)
	}
	if s.state == StateClosed {
		return ErrSessionClosed
	}
	if s.turnOpen {
		return ErrTurnOpen
	}
	s.turnOpen = true
	s.turnPCM = nil
	if s.state == StateReady {
		s.state = StateTurnOpen
	}
	return nil
}

// EndTurn closes the open push-to-talk turn, committing it unconditionally —
// even a silent turn is committed, leaving it to the upstream to reject or
// no-op. The retained frames are handed to the fallback transcription path.
func (s *Session) EndTurn() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if !s.turnOpen {
		s.mu.Unlock()
		return ErrNoTurn
	}
	s.turnOpen = false
	frames := s.turnPCM
	s.turnPCM = nil
	s.mu.Unlock()

	if err := s.commit(); err != nil {
		return err
	}

	if s.cfg.Transcriber != nil {
		s.wg.Add(1)
		go s.fallbackTranscribe(frames)
	}
	return nil
}

// SetVoice switches the synthesis voice mid-session.
func (s *Session) SetVoice(voice string) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mu.Unlock()

	return s.writeJSON(sessionUpdateEvent{
		Type:    TypeSessionUpdate,
		Session: sessionParams{Voice: voice},
	})
}

// Close terminates the session and releases its resources. A turn whose
// commit was already sent is abandoned; its response, if still in flight, is
// discarded. An in-flight fallback transcription is waited for — bounded by
// [fallbackTimeout] — so the final manual turn keeps its transcript.
// Idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.turnOpen = false
		s.turnPCM = nil
		s.mu.Unlock()

		s.wg.Wait()

		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// commit sends the commit control frame and, unless a response is already in
// flight, a response request. A second response request while one is
// outstanding is suppressed to avoid upstream protocol violations.
func (s *Session) commit() error {
	if err := s.writeJSON(commitEvent{Type: TypeCommitAudio}); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state == StateTurnOpen {
		s.state = StateAwaitingResponse
	}
	fire := !s.awaiting
	if fire {
		s.awaiting = true
	}
	s.mu.Unlock()

	if fire {
		return s.createResponse("")
	}
	return nil
}

// createResponse sends a response request. The caller must have set the
// awaiting flag.
func (s *Session) createResponse(instructions string) error {
	return s.writeJSON(responseCreateEvent{
		Type: TypeCreateResponse,
		Response: responseParams{
			Modalities:   []string{"audio", "text"},
			Instructions: instructions,
		},
	})
}

// fallbackTranscribe packages the retained turn frames as a WAV container and
// submits them to the one-shot transcription endpoint. Failures degrade
// silently: the turn simply has no user-side transcript.
func (s *Session) fallbackTranscribe(frames [][]byte) {
	defer s.wg.Done()

	total := 0
	for _, f := range frames {
		total += len(f)
	}
	pcm := make([]byte, 0, total)
	for _, f := range frames {
		pcm = append(pcm, f...)
	}
	wav := audio.EncodeWAV(pcm, s.cfg.SampleRate, 1)

	ctx, cancel := context.WithTimeout(s.ctx, fallbackTimeout)
	defer cancel()

	text, err := s.cfg.Transcriber.Transcribe(ctx, wav)
	if err != nil {
		slog.Warn("fallback transcription failed", "err", err, "frames", len(frames))
		return
	}
	s.rec.AddUser(text)
}

// writeJSON marshals v and writes it as a text frame.
func (s *Session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal: %w", err)
	}
	if err := s.conn.Write(s.ctx, websocket.MessageText, data); err != nil {
		if s.ctx.Err() != nil {
			return ErrSessionClosed
		}
		return fmt.Errorf("realtime: write: %w", err)
	}
	return nil
}

// receiveLoop reads upstream events until the connection or session ends.
// It owns audioCh and the reconciler's channel: both close when it exits.
func (s *Session) receiveLoop() {
	defer func() {
		close(s.audioCh)
		s.rec.Close()
	}()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.fail(fmt.Errorf("realtime: transport: %w", err))
			return
		}

		var evt ServerEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		s.handleEvent(&evt)
	}
}

func (s *Session) handleEvent(evt *ServerEvent) {
	switch evt.Type {
	case TypeSessionCreated, TypeSessionUpdated:
		s.mu.Lock()
		if s.state == StateConfiguring {
			s.state = StateReady
		}
		greet := s.cfg.Policy == PolicyAuto && !s.greeted && s.cfg.Greeting != ""
		if greet {
			s.greeted = true
			s.awaiting = true
		}
		s.mu.Unlock()

		if greet {
			if err := s.createResponse(s.cfg.Greeting); err != nil {
				slog.Warn("opening response request failed", "err", err)
			}
		}

	case TypeAudioDelta:
		if evt.Delta == "" {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(pcm) == 0 {
			return
		}
		select {
		case s.audioCh <- pcm:
		case <-s.ctx.Done():
		}

	case TypeTranscriptDelta:
		s.rec.AppendAssistant(evt.Delta)

	case TypeTranscriptDone:
		s.rec.FinalizeAssistant()

	case TypeInputTranscriptCompleted, TypeInputTranscriptCompletedShort:
		// Manual-policy sessions take the fallback path instead; an inline
		// transcript for a manual turn would duplicate it.
		if s.cfg.Policy == PolicyAuto {
			s.rec.AddUser(evt.Transcript)
		}

	case TypeResponseCreated:
		s.mu.Lock()
		s.awaiting = true
		if s.state == StateReady || s.state == StateTurnOpen {
			s.state = StateAwaitingResponse
		}
		s.mu.Unlock()

	case TypeResponseDone, TypeResponseCompleted:
		s.mu.Lock()
		s.awaiting = false
		if s.state == StateAwaitingResponse {
			s.state = StateReady
		}
		s.mu.Unlock()

	case TypeError:
		msg := "unknown upstream error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		s.fail(fmt.Errorf("realtime: upstream: %s", msg))
	}
}

// fail reports the fatal error through the callback exactly once and closes
// the session.
func (s *Session) fail(err error) {
	s.errOnce.Do(func() {
		s.mu.Lock()
		handler := s.errHandler
		s.mu.Unlock()
		if handler != nil {
			handler(err)
		}
	})
	_ = s.Close()
}
