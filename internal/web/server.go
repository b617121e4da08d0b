// Package web assembles the DreamPulse HTTP surface: the JSON API, the
// realtime relay endpoint, health and metrics endpoints, and static assets.
package web

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dreampulse/dreampulse/internal/dream"
	"github.com/dreampulse/dreampulse/internal/health"
	"github.com/dreampulse/dreampulse/internal/observe"
	"github.com/dreampulse/dreampulse/pkg/provider/stt"
)

// chatTemperature matches the fixed tuning of the text chat endpoint.
const chatTemperature = 0.6

// Server holds the handler dependencies. Any field may be nil; the matching
// endpoints then answer 503.
type Server struct {
	Transcriber stt.Transcriber
	Completer   dream.Completer
	Pipeline    *dream.Pipeline

	// Relay handles the realtime WebSocket endpoint.
	Relay http.Handler

	// Health serves the liveness and readiness probes. Nil creates a
	// checker-less handler.
	Health *health.Handler

	// StaticDir is a directory of web assets served at the root path.
	// Empty disables static serving.
	StaticDir string

	// Metrics records request telemetry. Nil selects the default instance.
	Metrics *observe.Metrics
}

// Handler builds the full route table wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	m := s.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	h := s.Health
	if h == nil {
		h = health.New()
	}

	mux := http.NewServeMux()
	h.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /api/transcribe", s.handleTranscribe)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/submit-dream", s.handleSubmitDream)
	if s.Relay != nil {
		mux.Handle("/realtime", s.Relay)
	}
	if s.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.StaticDir)))
	}

	return observe.Middleware(m)(mux)
}

// ── /api/transcribe ───────────────────────────────────────────────────────────

type transcribeRequest struct {
	AudioBase64 string `json:"audioBase64"`
}

type transcribeResponse struct {
	Text string `json:"text"`
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.Transcriber == nil {
		writeError(w, http.StatusServiceUnavailable, "transcription is not configured")
		return
	}

	var req transcribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AudioBase64 == "" {
		writeError(w, http.StatusBadRequest, "No audio data provided")
		return
	}

	// Browser recorders sometimes hand over a data URL; strip the prefix.
	payload := req.AudioBase64
	if i := strings.Index(payload, ","); i >= 0 && strings.HasPrefix(payload, "data:") {
		payload = payload[i+1:]
	}
	wav, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid base64 audio data")
		return
	}

	start := time.Now()
	text, err := s.Transcriber.Transcribe(r.Context(), wav)
	s.metrics().TranscriptionDuration.Record(r.Context(), time.Since(start).Seconds())
	if err != nil {
		observe.Logger(r.Context()).Error("transcription failed", "err", err)
		s.metrics().RecordProviderError(r.Context(), "whisper", "stt")
		writeError(w, http.StatusInternalServerError, "Transcription failed")
		return
	}

	writeJSON(w, http.StatusOK, transcribeResponse{Text: text})
}

// ── /api/chat ─────────────────────────────────────────────────────────────────

type chatRequest struct {
	Messages []dream.Message `json:"messages"`
}

type chatResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.Completer == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages array required")
		return
	}

	msg, err := s.Completer.Complete(r.Context(), req.Messages, dream.CompleteOptions{
		Temperature: chatTemperature,
	})
	if err != nil {
		observe.Logger(r.Context()).Error("chat completion failed", "err", err)
		s.metrics().RecordProviderError(r.Context(), "openai", "chat")
		writeError(w, http.StatusInternalServerError, "chat completion failed")
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{Message: msg})
}

// ── /api/submit-dream ─────────────────────────────────────────────────────────

type submitDreamRequest struct {
	Transcript string `json:"transcript"`
}

func (s *Server) handleSubmitDream(w http.ResponseWriter, r *http.Request) {
	if s.Pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, "dream pipeline is not configured")
		return
	}

	var req submitDreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.Pipeline.Submit(r.Context(), req.Transcript)
	if err != nil {
		if errors.Is(err, dream.ErrEmptyTranscript) {
			writeError(w, http.StatusBadRequest, "transcript is required")
			return
		}
		observe.Logger(r.Context()).Error("dream pipeline failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// ── helpers ───────────────────────────────────────────────────────────────────

func (s *Server) metrics() *observe.Metrics {
	if s.Metrics != nil {
		return s.Metrics
	}
	return observe.DefaultMetrics()
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
