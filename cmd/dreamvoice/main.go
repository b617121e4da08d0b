// Command dreamvoice is a terminal voice client for a DreamPulse server.
//
// It captures microphone audio, streams it through the server's realtime
// relay endpoint, plays back the synthesized replies, and prints the
// conversation transcript. On exit it can submit the spoken dream to the
// server's interpretation pipeline.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dreampulse/dreampulse/internal/config"
	"github.com/dreampulse/dreampulse/pkg/audio/device"
	"github.com/dreampulse/dreampulse/pkg/realtime"
)

const (
	sampleRate = 24000
	frameSize  = 1024 // ~43ms at 24kHz
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	serverURL := flag.String("server", "ws://localhost:8080/realtime", "relay WebSocket URL of the DreamPulse server")
	configPath := flag.String("config", "", "optional YAML config file supplying session defaults")
	voice := flag.String("voice", "", "synthesis voice (overrides the config file)")
	manual := flag.Bool("manual", false, "push-to-talk mode: press Enter to open and close a turn")
	submit := flag.Bool("submit", true, "submit the spoken dream for interpretation on exit")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	_ = godotenv.Load()

	var sessCfg config.SessionConfig
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dreamvoice: %v\n", err)
			return 1
		}
		sessCfg = cfg.Session
	}
	if *voice != "" {
		sessCfg.Voice = *voice
	}
	rate := sampleRate
	if sessCfg.SampleRate > 0 {
		rate = sessCfg.SampleRate
	}

	lvl := slog.LevelWarn
	if *verbose {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Audio devices ─────────────────────────────────────────────────────────
	capture, err := device.NewCapture(device.CaptureConfig{
		SampleRate: rate,
		FrameSize:  frameSize,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "dreamvoice: %v\n", err)
		return 1
	}
	defer capture.Close()

	playback, err := device.NewPlayback(rate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dreamvoice: %v\n", err)
		return 1
	}
	defer playback.Close()

	// ── Session ───────────────────────────────────────────────────────────────
	policy := realtime.PolicyAuto
	if *manual {
		policy = realtime.PolicyManual
	}

	sched := realtime.NewScheduler(playback, playback, rate)
	var dreamText transcriptCollector

	// attach starts the per-session pumps: synthesized audio into the
	// playback scheduler, finalized utterances to the terminal. The pumps
	// exit when the session's channels close, so a replacement session after
	// a redial simply gets a fresh pair.
	redialer := NewRedialer(RedialerConfig{
		Session: realtime.Config{
			URL:             *serverURL,
			Voice:           sessCfg.Voice,
			Instructions:    sessCfg.Instructions,
			Greeting:        sessCfg.Greeting,
			Policy:          policy,
			SampleRate:      rate,
			SpeechThreshold: sessCfg.SpeechThreshold,
			SilenceHold:     sessCfg.SilenceHold(),
			CommitInterval:  sessCfg.CommitInterval(),
		},
		OnSession: func(sess *realtime.Session) {
			go func() {
				for pcm := range sess.Audio() {
					sched.Enqueue(pcm)
				}
			}()
			go func() {
				for u := range sess.Utterances() {
					switch u.Speaker {
					case realtime.SpeakerUser:
						fmt.Printf("  you: %s\n", u.Text)
						dreamText.add(u.Text)
					case realtime.SpeakerAssistant:
						fmt.Printf("guide: %s\n", u.Text)
					}
				}
			}()
		},
	})
	redialer.OnSessionError(func(err error) {
		fmt.Fprintf(os.Stderr, "dreamvoice: session error: %v\n", err)
	})

	if _, err := redialer.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "dreamvoice: connect %s: %v\n", *serverURL, err)
		return 1
	}
	defer redialer.Stop()
	redialer.Monitor(ctx)

	if err := capture.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "dreamvoice: %v\n", err)
		return 1
	}
	if err := playback.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "dreamvoice: %v\n", err)
		return 1
	}

	if *manual {
		fmt.Println("connected — press Enter to start speaking, Enter again to finish; Ctrl+C to quit")
	} else {
		fmt.Println("connected — just start talking; Ctrl+C to quit")
	}

	// Microphone frames always route to the current session, whichever dial
	// produced it.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case f, ok := <-capture.Frames():
				if !ok {
					return
				}
				sess := redialer.Session()
				if sess == nil {
					continue
				}
				if err := sess.ProcessFrame(f); err != nil && !errors.Is(err, realtime.ErrSessionClosed) {
					slog.Warn("frame dropped", "err", err)
				}
			}
		}
	}()

	if *manual {
		go pushToTalk(ctx, redialer)
	}

	<-ctx.Done()
	_ = redialer.Stop()

	// ── Dream submission ──────────────────────────────────────────────────────
	if *submit {
		if transcript := dreamText.join(); transcript != "" {
			submitDream(*serverURL, transcript)
		}
	}
	return 0
}

// pushToTalk toggles a manual turn on each Enter keypress.
func pushToTalk(ctx context.Context, r *Redialer) {
	sc := bufio.NewScanner(os.Stdin)
	open := false
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		sess := r.Session()
		if sess == nil {
			fmt.Println("(reconnecting, try again in a moment)")
			continue
		}
		if open {
			if err := sess.EndTurn(); err != nil {
				slog.Warn("end turn", "err", err)
				continue
			}
			open = false
			fmt.Println("(turn closed, waiting for reply)")
		} else {
			if err := sess.StartTurn(); err != nil {
				slog.Warn("start turn", "err", err)
				continue
			}
			open = true
			fmt.Println("(recording — press Enter to finish)")
		}
	}
}

// transcriptCollector accumulates the user's own utterances across the
// session. The joined text is what gets interpreted, not the guide's replies.
type transcriptCollector struct {
	mu    sync.Mutex
	parts []string
}

func (c *transcriptCollector) add(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parts = append(c.parts, text)
}

func (c *transcriptCollector) join() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.parts, " ")
}

// submitDream posts the collected transcript to the server's interpretation
// endpoint and prints the result.
func submitDream(relayURL, transcript string) {
	api, err := apiBase(relayURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dreamvoice: derive API address: %v\n", err)
		return
	}

	fmt.Println("\nsubmitting your dream for interpretation…")

	body, _ := json.Marshal(map[string]string{"transcript": transcript})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, api+"/api/submit-dream", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "dreamvoice: %v\n", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dreamvoice: submit dream: %v\n", err)
		return
	}
	defer resp.Body.Close()

	var result struct {
		Interpretation string `json:"interpretation"`
		Prompt         string `json:"prompt"`
		Video          struct {
			VideoURL string `json:"videoUrl"`
		} `json:"video"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		fmt.Fprintf(os.Stderr, "dreamvoice: decode response: %v\n", err)
		return
	}
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "dreamvoice: submit dream: %s\n", result.Error)
		return
	}

	fmt.Println("\n── interpretation ──")
	fmt.Println(result.Interpretation)
	if result.Video.VideoURL != "" {
		fmt.Println("\n── dream video ──")
		fmt.Println(result.Video.VideoURL)
	}
}

// apiBase converts the relay WebSocket URL into the server's HTTP base URL.
func apiBase(relayURL string) (string, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = ""
	return u.String(), nil
}
