package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dreampulse/dreampulse/pkg/realtime"
)

// Default redial parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// Redialer re-establishes a realtime session after the connection drops.
// Sessions themselves terminate deterministically on any fatal error;
// reconnection is this client's job, as a fresh dial with fresh state.
//
// Callers obtain the initial session via [Redialer.Connect], then call
// [Redialer.Monitor] to start a background goroutine that watches for drops.
// When one is signalled (via [Redialer.NotifyDisconnect], or automatically by
// a session error), the monitor dials a fresh session with exponential
// backoff and invokes the configured OnSession callback so the caller can
// re-attach its pumps.
//
// All methods are safe for concurrent use.
type Redialer struct {
	cfg        realtime.Config
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	onSession  func(*realtime.Session)
	onError    func(error)

	mu           sync.Mutex
	sess         *realtime.Session
	done         chan struct{}
	stopOnce     sync.Once
	disconnected chan struct{} // signalled when a drop is detected
}

// RedialerConfig configures a [Redialer].
type RedialerConfig struct {
	// Session is the configuration used for every dial.
	Session realtime.Config

	// MaxRetries is the maximum number of redial attempts per drop before
	// giving up. Defaults to 10 if zero.
	MaxRetries int

	// Backoff is the initial wait between attempts. Doubles each attempt up
	// to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on the backoff. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// OnSession is called with each new session — the initial one from
	// Connect and every replacement dialled by the monitor. May be nil.
	OnSession func(*realtime.Session)
}

// NewRedialer creates a [Redialer] with the given configuration.
func NewRedialer(cfg RedialerConfig) *Redialer {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	return &Redialer{
		cfg:          cfg.Session,
		maxRetries:   maxRetries,
		backoff:      backoff,
		maxBackoff:   maxBackoff,
		onSession:    cfg.OnSession,
		done:         make(chan struct{}),
		disconnected: make(chan struct{}, 1),
	}
}

// OnSessionError registers a handler invoked with each session's fatal
// error. Must be set before Connect. Independently of the handler, a session
// error always signals the monitor to redial.
func (r *Redialer) OnSessionError(fn func(error)) {
	r.onError = fn
}

// Connect dials the initial session.
func (r *Redialer) Connect(ctx context.Context) (*realtime.Session, error) {
	sess, err := realtime.Dial(ctx, r.cfg)
	if err != nil {
		return nil, fmt.Errorf("redialer: initial dial: %w", err)
	}
	r.adopt(sess, nil)
	return sess, nil
}

// adopt installs sess as the current session, wires its error handler to the
// monitor, closes old, and notifies the OnSession callback.
func (r *Redialer) adopt(sess, old *realtime.Session) {
	sess.OnError(func(err error) {
		if r.onError != nil {
			r.onError(err)
		}
		r.NotifyDisconnect()
	})

	r.mu.Lock()
	r.sess = sess
	r.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	if r.onSession != nil {
		r.onSession(sess)
	}
}

// Monitor starts watching for drop notifications in a background goroutine.
func (r *Redialer) Monitor(ctx context.Context) {
	go r.monitorLoop(ctx)
}

// NotifyDisconnect signals the monitor that the session has been lost and a
// redial should be attempted. Safe to call multiple times; only the first
// call per redial cycle has effect.
func (r *Redialer) NotifyDisconnect() {
	select {
	case r.disconnected <- struct{}{}:
	default:
		// Already signalled.
	}
}

// Stop halts monitoring and closes the current session. Safe to call
// multiple times.
func (r *Redialer) Stop() error {
	r.stopOnce.Do(func() {
		close(r.done)
	})

	r.mu.Lock()
	sess := r.sess
	r.sess = nil
	r.mu.Unlock()

	if sess != nil {
		return sess.Close()
	}
	return nil
}

// Session returns the current active session. May return nil while a redial
// is in progress.
func (r *Redialer) Session() *realtime.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess
}

func (r *Redialer) monitorLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-r.disconnected:
			r.redial(ctx)
		}
	}
}

// redial dials replacement sessions with exponential backoff.
func (r *Redialer) redial(ctx context.Context) {
	backoff := r.backoff

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		default:
		}

		slog.Info("redialling realtime session",
			"url", r.cfg.URL,
			"attempt", attempt,
			"max_retries", r.maxRetries,
		)

		sess, err := realtime.Dial(ctx, r.cfg)
		if err == nil {
			r.mu.Lock()
			old := r.sess
			r.mu.Unlock()

			// adopt closes the dead session for us.
			r.adopt(sess, old)
			slog.Info("realtime session re-established", "attempt", attempt)
			return
		}

		slog.Warn("redial attempt failed",
			"attempt", attempt,
			"err", err,
		)

		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
	}

	slog.Error("giving up on realtime session",
		"max_retries", r.maxRetries,
	)
}
