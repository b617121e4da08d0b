// Package freepik implements video.Generator against the Freepik
// image-to-video API: one submission request followed by a bounded polling
// loop against the task status endpoint.
package freepik

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dreampulse/dreampulse/pkg/provider/video"
)

// Compile-time assertion that Generator satisfies the video interface.
var _ video.Generator = (*Generator)(nil)

const (
	defaultBaseURL      = "https://api.freepik.com/v1/ai"
	defaultModel        = "minimax-hailuo-02-768p"
	defaultDuration     = 6
	defaultPollInterval = 3 * time.Second
	defaultTimeout      = 10 * time.Minute

	statusCompleted = "COMPLETED"
	statusFailed    = "FAILED"
)

// Option is a functional option for configuring a Generator.
type Option func(*Generator)

// WithModel selects the Freepik video model.
func WithModel(model string) Option {
	return func(g *Generator) { g.model = model }
}

// WithDuration sets the requested clip length in seconds.
func WithDuration(seconds int) Option {
	return func(g *Generator) { g.duration = seconds }
}

// WithPollInterval sets the delay between status checks. Useful in tests to
// keep suite execution fast.
func WithPollInterval(d time.Duration) Option {
	return func(g *Generator) { g.pollInterval = d }
}

// WithTimeout bounds the total time spent waiting for a job to finish.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) { g.timeout = d }
}

// WithBaseURL overrides the API base URL. Primarily used in tests.
func WithBaseURL(url string) Option {
	return func(g *Generator) { g.baseURL = url }
}

// Generator is a Freepik text-to-video client.
type Generator struct {
	apiKey       string
	baseURL      string
	model        string
	duration     int
	pollInterval time.Duration
	timeout      time.Duration
	httpClient   *http.Client
}

// New creates a Generator with the given API key and options.
func New(apiKey string, opts ...Option) *Generator {
	g := &Generator{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		model:        defaultModel,
		duration:     defaultDuration,
		pollInterval: defaultPollInterval,
		timeout:      defaultTimeout,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// submitRequest is the JSON payload for a new video task. The API expects the
// duration as a string.
type submitRequest struct {
	Prompt          string `json:"prompt"`
	Duration        string `json:"duration"`
	PromptOptimizer bool   `json:"prompt_optimizer"`
}

// taskEnvelope wraps every Freepik response body.
type taskEnvelope struct {
	Data taskData `json:"data"`
}

type taskData struct {
	TaskID    string   `json:"task_id"`
	Status    string   `json:"status"`
	Generated []string `json:"generated"`
}

// Generate submits the prompt and polls until the task completes or fails.
func (g *Generator) Generate(ctx context.Context, prompt string) (*video.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/image-to-video/%s", g.baseURL, g.model)

	task, err := g.submit(ctx, endpoint, prompt)
	if err != nil {
		return nil, err
	}

	statusEndpoint := fmt.Sprintf("%s/%s", endpoint, task.TaskID)
	for task.Status != statusCompleted && task.Status != statusFailed {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("freepik: task %s: %w", task.TaskID, ctx.Err())
		case <-time.After(g.pollInterval):
		}

		polled, err := g.poll(ctx, statusEndpoint)
		if err != nil {
			return nil, err
		}
		polled.TaskID = task.TaskID
		task = polled
	}

	if task.Status != statusCompleted {
		return nil, fmt.Errorf("freepik: task %s finished with status %s", task.TaskID, task.Status)
	}
	if len(task.Generated) == 0 {
		return nil, fmt.Errorf("freepik: task %s completed without video URLs", task.TaskID)
	}

	return &video.Result{
		TaskID:   task.TaskID,
		Status:   task.Status,
		VideoURL: task.Generated[0],
	}, nil
}

func (g *Generator) submit(ctx context.Context, endpoint, prompt string) (*taskData, error) {
	body, err := json.Marshal(submitRequest{
		Prompt:          prompt,
		Duration:        fmt.Sprintf("%d", g.duration),
		PromptOptimizer: true,
	})
	if err != nil {
		return nil, fmt.Errorf("freepik: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("freepik: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-freepik-api-key", g.apiKey)

	return g.do(req, "submit")
}

func (g *Generator) poll(ctx context.Context, statusEndpoint string) (*taskData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("freepik: build status request: %w", err)
	}
	req.Header.Set("x-freepik-api-key", g.apiKey)

	return g.do(req, "status")
}

func (g *Generator) do(req *http.Request, op string) (*taskData, error) {
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("freepik: %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("freepik: %s: status %d: %s", op, resp.StatusCode, detail)
	}

	var env taskEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("freepik: %s: decode: %w", op, err)
	}
	if env.Data.Status == "" {
		env.Data.Status = "PENDING"
	}
	return &env.Data, nil
}
