package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dreampulse/dreampulse/internal/dream"
	"github.com/dreampulse/dreampulse/pkg/provider/video"
)

type countingCompleter struct {
	calls int
	err   error
}

func (c *countingCompleter) Complete(context.Context, []dream.Message, dream.CompleteOptions) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return "a reading", nil
}

type countingGenerator struct {
	calls int
	err   error
}

func (c *countingGenerator) Generate(context.Context, string) (*video.Result, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &video.Result{TaskID: "t1", Status: "COMPLETED"}, nil
}

type countingTranscriber struct {
	calls int
	err   error
}

func (c *countingTranscriber) Transcribe(context.Context, []byte) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return "spoken words", nil
}

func TestGuardedCompleter_PassesThrough(t *testing.T) {
	inner := &countingCompleter{}
	g := GuardCompleter(inner, BreakerConfig{})

	out, err := g.Complete(context.Background(), []dream.Message{{Role: "user", Content: "hi"}}, dream.CompleteOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "a reading" {
		t.Errorf("out = %q", out)
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1", inner.calls)
	}
}

func TestGuardedCompleter_ShortCircuitsDuringOutage(t *testing.T) {
	inner := &countingCompleter{err: errors.New("upstream down")}
	g := GuardCompleter(inner, BreakerConfig{Threshold: 2, Cooldown: time.Hour})

	for range 2 {
		_, _ = g.Complete(context.Background(), nil, dream.CompleteOptions{})
	}
	_, err := g.Complete(context.Background(), nil, dream.CompleteOptions{})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("want ErrCircuitOpen, got %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("calls = %d, want 2 (third call short-circuited)", inner.calls)
	}
}

func TestGuardedGenerator_PassesThrough(t *testing.T) {
	inner := &countingGenerator{}
	g := GuardGenerator(inner, BreakerConfig{})

	res, err := g.Generate(context.Background(), "a silver ocean at dusk")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TaskID != "t1" {
		t.Errorf("task id = %q", res.TaskID)
	}
}

func TestGuardedGenerator_ShortCircuitsDuringOutage(t *testing.T) {
	inner := &countingGenerator{err: errors.New("render farm down")}
	g := GuardGenerator(inner, BreakerConfig{Threshold: 1, Cooldown: time.Hour})

	_, _ = g.Generate(context.Background(), "x")
	_, err := g.Generate(context.Background(), "x")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("want ErrCircuitOpen, got %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1", inner.calls)
	}
}

func TestGuardedTranscriber_PassesThrough(t *testing.T) {
	inner := &countingTranscriber{}
	g := GuardTranscriber(inner, BreakerConfig{})

	out, err := g.Transcribe(context.Background(), []byte("RIFF"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "spoken words" {
		t.Errorf("out = %q", out)
	}
}
