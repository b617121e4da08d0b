// Package video defines the Generator interface for text-to-video backends.
//
// Video generation is a long-running remote job: the provider submits a prompt,
// receives a task identifier, and polls a status endpoint until the job
// completes or a deadline passes. Generate blocks for the whole job, so callers
// should pass a context with an appropriate timeout.
package video

import "context"

// Result describes a completed video generation job.
type Result struct {
	// TaskID is the provider-side job identifier.
	TaskID string `json:"taskId"`

	// Status is the provider's terminal job status (e.g. "COMPLETED").
	Status string `json:"status"`

	// VideoURL locates the generated video.
	VideoURL string `json:"videoUrl"`
}

// Generator turns a text prompt into a rendered video.
type Generator interface {
	// Generate submits prompt and blocks until the job reaches a terminal
	// state or ctx is cancelled. A non-nil Result is returned only for a
	// successfully completed job.
	Generate(ctx context.Context, prompt string) (*Result, error)
}
