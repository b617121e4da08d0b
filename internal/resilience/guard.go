package resilience

import (
	"context"

	"github.com/dreampulse/dreampulse/internal/dream"
	"github.com/dreampulse/dreampulse/pkg/provider/stt"
	"github.com/dreampulse/dreampulse/pkg/provider/video"
)

// GuardedCompleter wraps a [dream.Completer] with a circuit breaker.
type GuardedCompleter struct {
	inner   dream.Completer
	breaker *Breaker
}

var _ dream.Completer = (*GuardedCompleter)(nil)

// GuardCompleter puts a breaker in front of c.
func GuardCompleter(c dream.Completer, cfg BreakerConfig) *GuardedCompleter {
	if cfg.Name == "" {
		cfg.Name = "llm"
	}
	return &GuardedCompleter{inner: c, breaker: NewBreaker(cfg)}
}

func (g *GuardedCompleter) Complete(ctx context.Context, msgs []dream.Message, opts dream.CompleteOptions) (string, error) {
	var out string
	err := g.breaker.Do(func() error {
		var err error
		out, err = g.inner.Complete(ctx, msgs, opts)
		return err
	})
	return out, err
}

// GuardedTranscriber wraps an [stt.Transcriber] with a circuit breaker.
type GuardedTranscriber struct {
	inner   stt.Transcriber
	breaker *Breaker
}

var _ stt.Transcriber = (*GuardedTranscriber)(nil)

// GuardTranscriber puts a breaker in front of t.
func GuardTranscriber(t stt.Transcriber, cfg BreakerConfig) *GuardedTranscriber {
	if cfg.Name == "" {
		cfg.Name = "stt"
	}
	return &GuardedTranscriber{inner: t, breaker: NewBreaker(cfg)}
}

func (g *GuardedTranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	var out string
	err := g.breaker.Do(func() error {
		var err error
		out, err = g.inner.Transcribe(ctx, wav)
		return err
	})
	return out, err
}

// GuardedGenerator wraps a [video.Generator] with a circuit breaker. Video
// jobs run for minutes, so its breaker deserves a longer cooldown than the
// default.
type GuardedGenerator struct {
	inner   video.Generator
	breaker *Breaker
}

var _ video.Generator = (*GuardedGenerator)(nil)

// GuardGenerator puts a breaker in front of gen.
func GuardGenerator(gen video.Generator, cfg BreakerConfig) *GuardedGenerator {
	if cfg.Name == "" {
		cfg.Name = "video"
	}
	return &GuardedGenerator{inner: gen, breaker: NewBreaker(cfg)}
}

func (g *GuardedGenerator) Generate(ctx context.Context, prompt string) (*video.Result, error) {
	var out *video.Result
	err := g.breaker.Do(func() error {
		var err error
		out, err = g.inner.Generate(ctx, prompt)
		return err
	})
	return out, err
}
