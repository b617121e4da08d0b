package dream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dreampulse/dreampulse/internal/observe"
	"github.com/dreampulse/dreampulse/pkg/provider/video"
)

// System prompts for the two completion stages.
const (
	interpretationSystemPrompt = `You are a compassionate dream interpreter who blends Jungian psychology, symbolism, and modern dream analysis. Provide insightful, meaningful interpretations that:
- Identify key symbols and their potential meanings
- Explore emotional themes and psychological significance
- Connect dream elements to the dreamer's inner world
- Offer thoughtful perspectives without being prescriptive
- Use warm, accessible language

Keep interpretations 2-3 paragraphs, focusing on depth over length.`

	videoPromptSystemPrompt = `You are a cinematic video prompt generator. Convert dream descriptions into concise, visually stunning prompts optimized for AI video generation. Focus on:
- Vivid visual imagery and atmosphere
- Camera angles and movements
- Lighting and color palette
- Key symbolic elements
- Cinematic mood and pacing

Keep prompts under 200 words and emphasize visual storytelling over narrative details.`
)

// interpretationFallback is returned when the interpretation stage fails;
// the pipeline carries on regardless.
const interpretationFallback = "Unable to generate interpretation at this time."

// Prompt source values reported in [Result.PromptSource].
const (
	PromptSourceModel = "openai_gpt4o_mini"
	PromptSourceRaw   = "raw_transcript"
)

// ErrEmptyTranscript is returned by Submit for a blank transcript.
var ErrEmptyTranscript = errors.New("dream: transcript is required")

// Archiver persists completed dreams. Implementations must tolerate being
// called best-effort: a persistence failure never fails the pipeline.
type Archiver interface {
	Save(ctx context.Context, d *Result) error
}

// Result is the outcome of one pipeline run.
type Result struct {
	Transcript     string `json:"transcript"`
	Interpretation string `json:"interpretation"`
	Prompt         string `json:"prompt"`
	PromptSource   string `json:"promptSource"`

	Video *video.Result `json:"video"`
}

// Pipeline turns a dream transcript into an interpretation and a generated
// video. The interpretation and prompt stages degrade independently; only
// video generation is fatal to a run.
type Pipeline struct {
	completer Completer
	generator video.Generator
	archive   Archiver
	metrics   *observe.Metrics
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithArchiver attaches a persistence layer for completed dreams.
func WithArchiver(a Archiver) PipelineOption {
	return func(p *Pipeline) { p.archive = a }
}

// WithMetrics overrides the default metrics instance.
func WithMetrics(m *observe.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline creates a Pipeline. completer may be nil, in which case the
// interpretation and prompt stages fall back immediately; generator must not
// be nil.
func NewPipeline(completer Completer, generator video.Generator, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		completer: completer,
		generator: generator,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Submit runs the full pipeline for one transcript:
//
//  1. Interpretation. On failure the result carries a fixed fallback text.
//  2. Cinematic prompt distillation. On failure the raw transcript is used
//     as the prompt and PromptSource reports it.
//  3. Video generation. Failure here fails the run.
//  4. Archival, when configured. Best-effort.
func (p *Pipeline) Submit(ctx context.Context, transcript string) (*Result, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, ErrEmptyTranscript
	}

	log := observe.Logger(ctx)
	res := &Result{
		Transcript:   transcript,
		Prompt:       transcript,
		PromptSource: PromptSourceModel,
	}

	// Stage 1: interpretation.
	interpretation, err := p.interpret(ctx, transcript)
	if err != nil {
		log.Warn("dream interpretation failed", "err", err)
		p.metrics.RecordProviderError(ctx, "openai", "interpretation")
		interpretation = interpretationFallback
	}
	res.Interpretation = interpretation

	// Stage 2: cinematic prompt.
	prompt, err := p.distillPrompt(ctx, transcript)
	if err != nil {
		log.Warn("video prompt distillation failed, using raw transcript", "err", err)
		p.metrics.RecordProviderError(ctx, "openai", "prompt")
		res.PromptSource = PromptSourceRaw
	} else {
		res.Prompt = prompt
	}

	// Stage 3: video generation. The only fatal stage.
	videoStart := time.Now()
	vid, err := p.generator.Generate(ctx, res.Prompt)
	p.metrics.VideoDuration.Record(ctx, time.Since(videoStart).Seconds())
	if err != nil {
		p.metrics.RecordProviderError(ctx, "freepik", "video")
		p.metrics.RecordDreamSubmission(ctx, "video_failed")
		return nil, fmt.Errorf("dream: video generation: %w", err)
	}
	res.Video = vid

	// Stage 4: archival.
	if p.archive != nil {
		if err := p.archive.Save(ctx, res); err != nil {
			log.Warn("dream archive save failed", "err", err)
		}
	}

	p.metrics.RecordDreamSubmission(ctx, "ok")
	return res, nil
}

// interpret runs the interpretation completion stage.
func (p *Pipeline) interpret(ctx context.Context, transcript string) (string, error) {
	if p.completer == nil {
		return "", errors.New("dream: no completer configured")
	}
	start := time.Now()
	out, err := p.completer.Complete(ctx, []Message{
		{Role: "system", Content: interpretationSystemPrompt},
		{Role: "user", Content: "Provide a thoughtful interpretation of this dream:\n\n" + transcript},
	}, CompleteOptions{Temperature: 0.8, MaxTokens: 400})
	p.metrics.InterpretationDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", errors.New("dream: empty interpretation")
	}
	return out, nil
}

// distillPrompt runs the cinematic prompt completion stage.
func (p *Pipeline) distillPrompt(ctx context.Context, transcript string) (string, error) {
	if p.completer == nil {
		return "", errors.New("dream: no completer configured")
	}
	out, err := p.completer.Complete(ctx, []Message{
		{Role: "system", Content: videoPromptSystemPrompt},
		{Role: "user", Content: "Convert this dream into a cinematic video generation prompt:\n\n" + transcript},
	}, CompleteOptions{Temperature: 0.7, MaxTokens: 300})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", errors.New("dream: empty prompt")
	}
	return out, nil
}
