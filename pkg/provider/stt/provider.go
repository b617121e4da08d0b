// Package stt defines the Transcriber interface for one-shot speech-to-text
// backends.
//
// Unlike a streaming recogniser, a Transcriber accepts a complete, bounded
// recording — a WAV container produced by [audio.EncodeWAV] — and returns the
// recognised text in a single request/response exchange. It backs the fallback
// transcription path for push-to-talk turns, where the realtime channel does
// not deliver an inline user transcript.
//
// Implementations must be safe for concurrent use: a session may submit the
// fallback for one turn while the next turn is already open.
package stt

import "context"

// Transcriber converts one complete audio recording to text.
type Transcriber interface {
	// Transcribe submits wav (a self-describing audio container, not raw PCM)
	// and returns the recognised text. An empty recording may yield an empty
	// string without error. Errors are non-fatal to the calling session; the
	// caller degrades by dropping the transcript for that turn.
	Transcribe(ctx context.Context, wav []byte) (string, error)
}
