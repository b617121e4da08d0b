// Package whisper implements stt.Transcriber against OpenAI's hosted audio
// transcription endpoint.
package whisper

import (
	"bytes"
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/dreampulse/dreampulse/pkg/provider/stt"
)

// Compile-time assertion that Transcriber satisfies the stt interface.
var _ stt.Transcriber = (*Transcriber)(nil)

const defaultModel = openai.AudioModelWhisper1

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithModel sets the transcription model.
func WithModel(model openai.AudioModel) Option {
	return func(t *Transcriber) { t.model = model }
}

// WithBaseURL overrides the API base URL. Primarily used in tests to point at
// a local mock server.
func WithBaseURL(url string) Option {
	return func(t *Transcriber) { t.baseURL = url }
}

// Transcriber is a one-shot speech-to-text client backed by the OpenAI audio
// transcriptions API.
type Transcriber struct {
	client  openai.Client
	model   openai.AudioModel
	baseURL string
}

// New creates a Transcriber with the given API key and options.
func New(apiKey string, opts ...Option) *Transcriber {
	t := &Transcriber{model: defaultModel}
	for _, o := range opts {
		o(t)
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if t.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(t.baseURL))
	}
	t.client = openai.NewClient(clientOpts...)
	return t
}

// Transcribe uploads the WAV recording and returns the recognised text.
func (t *Transcriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	resp, err := t.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: t.model,
		File:  openai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
	})
	if err != nil {
		return "", fmt.Errorf("whisper: transcribe: %w", err)
	}
	return resp.Text, nil
}
