// Package relay implements the WebSocket bridge between browser or CLI
// clients and the upstream realtime speech endpoint.
//
// The bridge is deliberately dumb: it injects the upstream credential and
// model selection at dial time, then forwards frames verbatim in both
// directions without inspecting them. Clients never see the API key, and the
// session protocol stays a private matter between client and upstream.
//
// Each client connection gets its own upstream connection; bridges share no
// state. When the upstream cannot be reached, the bridge synthesizes an
// upstream-shaped error event to the client and leaves the client connection
// open, matching how upstream-side errors surface.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/dreampulse/dreampulse/internal/observe"
)

// Config describes the upstream endpoint the bridge dials.
type Config struct {
	// UpstreamURL is the upstream WebSocket base URL.
	UpstreamURL string

	// Model is appended to the dial URL as the model query parameter.
	// Empty omits the parameter.
	Model string

	// APIKey is sent as a Bearer token on the upstream dial.
	APIKey string

	// Metrics records bridge telemetry. Nil selects the default instance.
	Metrics *observe.Metrics
}

// Handler upgrades incoming HTTP requests and bridges them upstream. It
// implements [http.Handler].
type Handler struct {
	cfg     Config
	metrics *observe.Metrics
}

var _ http.Handler = (*Handler)(nil)

// New creates a relay Handler for the given upstream.
func New(cfg Config) *Handler {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Handler{cfg: cfg, metrics: m}
}

// ServeHTTP upgrades the request to a WebSocket and runs the bridge until
// either side disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	client, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Browser clients connect from arbitrary origins; the relay carries
		// no client credentials worth protecting from cross-origin pages.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("relay accept failed", "err", err, "remote", r.RemoteAddr)
		return
	}
	defer client.Close(websocket.StatusInternalError, "bridge terminated")

	ctx := r.Context()
	log := observe.Logger(ctx).With("remote", r.RemoteAddr)

	h.metrics.ActiveBridges.Add(ctx, 1)
	defer h.metrics.ActiveBridges.Add(ctx, -1)

	upstream, err := h.dialUpstream(ctx)
	if err != nil {
		log.Error("upstream dial failed", "err", err)
		// Surface the failure the way upstream errors surface, then hold
		// the client connection open until the client goes away.
		h.sendDialError(ctx, client, err)
		h.drainClient(ctx, client)
		return
	}
	defer upstream.Close(websocket.StatusNormalClosure, "bridge closed")

	log.Info("bridge established")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.pump(gctx, client, upstream, "upstream") })
	g.Go(func() error { return h.pump(gctx, upstream, client, "downstream") })
	err = g.Wait()

	// Propagate a clean close status to the survivor; anything else closes
	// both sides with a generic status via the deferred closes.
	if status := websocket.CloseStatus(err); status != -1 {
		client.Close(status, "")
		upstream.Close(status, "")
		log.Info("bridge closed", "status", status)
		return
	}
	log.Warn("bridge failed", "err", err)
}

// dialUpstream opens the upstream connection with credentials and model
// selection attached.
func (h *Handler) dialUpstream(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(h.cfg.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("relay: parse upstream url: %w", err)
	}
	if h.cfg.Model != "" {
		q := u.Query()
		q.Set("model", h.cfg.Model)
		u.RawQuery = q.Encode()
	}

	header := http.Header{}
	if h.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+h.cfg.APIKey)
	}
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("relay: dial upstream: %w", err)
	}
	return conn, nil
}

// pump forwards frames from src to dst until either side errors, preserving
// the message type so text control frames and binary payloads both survive.
func (h *Handler) pump(ctx context.Context, src, dst *websocket.Conn, direction string) error {
	for {
		typ, data, err := src.Read(ctx)
		if err != nil {
			return err
		}
		if err := dst.Write(ctx, typ, data); err != nil {
			return err
		}
		h.metrics.RecordRelayMessage(ctx, direction, int64(len(data)))
	}
}

// errorEvent mirrors the upstream error event shape so clients handle dial
// failures with the same code path as protocol errors.
type errorEvent struct {
	Type  string      `json:"type"`
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// sendDialError delivers a synthesized upstream-shaped error to the client.
func (h *Handler) sendDialError(ctx context.Context, client *websocket.Conn, dialErr error) {
	evt := errorEvent{
		Type: "error",
		Error: errorDetail{
			Type:    "api_error",
			Message: "failed to connect to upstream: " + dialErr.Error(),
		},
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := client.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("relay error frame not delivered", "err", err)
	}
}

// drainClient reads and discards client frames until the client disconnects
// or the request context ends.
func (h *Handler) drainClient(ctx context.Context, client *websocket.Conn) {
	for {
		_, _, err := client.Read(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				slog.Debug("relay client drained", "err", err)
			}
			return
		}
	}
}
