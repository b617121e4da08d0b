package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/dreampulse/dreampulse/internal/dream"
	"github.com/dreampulse/dreampulse/internal/relay"
	"github.com/dreampulse/dreampulse/pkg/provider/video"
)

// ── fakes ─────────────────────────────────────────────────────────────────────

type fakeTranscriber struct {
	text string
	err  error
	got  []byte
}

func (f *fakeTranscriber) Transcribe(_ context.Context, wav []byte) (string, error) {
	f.got = wav
	return f.text, f.err
}

type fakeCompleter struct {
	reply string
	err   error
	msgs  []dream.Message
	opts  dream.CompleteOptions
}

func (f *fakeCompleter) Complete(_ context.Context, msgs []dream.Message, opts dream.CompleteOptions) (string, error) {
	f.msgs = msgs
	f.opts = opts
	return f.reply, f.err
}

type fakeGenerator struct {
	res *video.Result
	err error
}

func (f *fakeGenerator) Generate(context.Context, string) (*video.Result, error) {
	return f.res, f.err
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

// ── /api/transcribe ───────────────────────────────────────────────────────────

func TestTranscribe_ReturnsText(t *testing.T) {
	t.Parallel()
	tr := &fakeTranscriber{text: "I was flying over a city of glass"}
	h := (&Server{Transcriber: tr}).Handler()

	wav := []byte("RIFFxxxxWAVEfake")
	body, _ := json.Marshal(map[string]string{
		"audioBase64": base64.StdEncoding.EncodeToString(wav),
	})
	rec := postJSON(t, h, "/api/transcribe", string(body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %q)", rec.Code, rec.Body.String())
	}
	got := decodeBody[map[string]string](t, rec)
	if got["text"] != tr.text {
		t.Errorf("text = %q, want %q", got["text"], tr.text)
	}
	if string(tr.got) != string(wav) {
		t.Errorf("transcriber received %q, want %q", tr.got, wav)
	}
}

func TestTranscribe_StripsDataURLPrefix(t *testing.T) {
	t.Parallel()
	tr := &fakeTranscriber{text: "ok"}
	h := (&Server{Transcriber: tr}).Handler()

	wav := []byte("RIFF....WAVE")
	enc := "data:audio/wav;base64," + base64.StdEncoding.EncodeToString(wav)
	body, _ := json.Marshal(map[string]string{"audioBase64": enc})
	rec := postJSON(t, h, "/api/transcribe", string(body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if string(tr.got) != string(wav) {
		t.Errorf("transcriber received %q, want %q", tr.got, wav)
	}
}

func TestTranscribe_MissingAudioRejected(t *testing.T) {
	t.Parallel()
	h := (&Server{Transcriber: &fakeTranscriber{}}).Handler()

	rec := postJSON(t, h, "/api/transcribe", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	got := decodeBody[map[string]string](t, rec)
	if got["error"] != "No audio data provided" {
		t.Errorf("error = %q, want %q", got["error"], "No audio data provided")
	}
}

func TestTranscribe_ProviderFailure(t *testing.T) {
	t.Parallel()
	tr := &fakeTranscriber{err: errors.New("upstream 500")}
	h := (&Server{Transcriber: tr}).Handler()

	body, _ := json.Marshal(map[string]string{
		"audioBase64": base64.StdEncoding.EncodeToString([]byte("x")),
	})
	rec := postJSON(t, h, "/api/transcribe", string(body))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	got := decodeBody[map[string]string](t, rec)
	if got["error"] != "Transcription failed" {
		t.Errorf("error = %q, want %q", got["error"], "Transcription failed")
	}
}

func TestTranscribe_InvalidBase64(t *testing.T) {
	t.Parallel()
	h := (&Server{Transcriber: &fakeTranscriber{}}).Handler()

	rec := postJSON(t, h, "/api/transcribe", `{"audioBase64":"%%%not-base64%%%"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestTranscribe_NotConfigured(t *testing.T) {
	t.Parallel()
	h := (&Server{}).Handler()

	rec := postJSON(t, h, "/api/transcribe", `{"audioBase64":"aGk="}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

// ── /api/chat ─────────────────────────────────────────────────────────────────

func TestChat_ForwardsMessages(t *testing.T) {
	t.Parallel()
	fc := &fakeCompleter{reply: "Dreams of falling often mirror a loss of control."}
	h := (&Server{Completer: fc}).Handler()

	rec := postJSON(t, h, "/api/chat", `{"messages":[
		{"role":"system","content":"You are helpful."},
		{"role":"user","content":"What does falling mean?"}
	]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %q)", rec.Code, rec.Body.String())
	}
	got := decodeBody[map[string]string](t, rec)
	if got["message"] != fc.reply {
		t.Errorf("message = %q, want %q", got["message"], fc.reply)
	}
	if len(fc.msgs) != 2 || fc.msgs[1].Content != "What does falling mean?" {
		t.Errorf("completer received %+v", fc.msgs)
	}
	if fc.opts.Temperature != 0.6 {
		t.Errorf("temperature = %v, want 0.6", fc.opts.Temperature)
	}
}

func TestChat_EmptyMessagesRejected(t *testing.T) {
	t.Parallel()
	h := (&Server{Completer: &fakeCompleter{}}).Handler()

	for _, body := range []string{`{}`, `{"messages":[]}`} {
		rec := postJSON(t, h, "/api/chat", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
			continue
		}
		got := decodeBody[map[string]string](t, rec)
		if got["error"] != "messages array required" {
			t.Errorf("body %q: error = %q", body, got["error"])
		}
	}
}

func TestChat_CompleterFailure(t *testing.T) {
	t.Parallel()
	fc := &fakeCompleter{err: errors.New("rate limited")}
	h := (&Server{Completer: fc}).Handler()

	rec := postJSON(t, h, "/api/chat", `{"messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

// ── /api/submit-dream ─────────────────────────────────────────────────────────

func TestSubmitDream_FullResponse(t *testing.T) {
	t.Parallel()
	fc := &fakeCompleter{reply: "A luminous reading of the dream."}
	gen := &fakeGenerator{res: &video.Result{
		TaskID: "task-42", Status: "COMPLETED", VideoURL: "https://cdn.example/video.mp4",
	}}
	h := (&Server{Pipeline: dream.NewPipeline(fc, gen)}).Handler()

	rec := postJSON(t, h, "/api/submit-dream", `{"transcript":"I dreamed of a silver ocean."}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %q)", rec.Code, rec.Body.String())
	}

	var got struct {
		Interpretation string `json:"interpretation"`
		Prompt         string `json:"prompt"`
		PromptSource   string `json:"promptSource"`
		Video          struct {
			TaskID   string `json:"taskId"`
			Status   string `json:"status"`
			VideoURL string `json:"videoUrl"`
		} `json:"video"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Interpretation == "" || got.Prompt == "" {
		t.Errorf("missing interpretation/prompt in %q", rec.Body.String())
	}
	if got.Video.TaskID != "task-42" || got.Video.VideoURL != "https://cdn.example/video.mp4" {
		t.Errorf("video = %+v", got.Video)
	}
}

func TestSubmitDream_MissingTranscript(t *testing.T) {
	t.Parallel()
	h := (&Server{Pipeline: dream.NewPipeline(&fakeCompleter{}, &fakeGenerator{})}).Handler()

	rec := postJSON(t, h, "/api/submit-dream", `{"transcript":"   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	got := decodeBody[map[string]string](t, rec)
	if got["error"] != "transcript is required" {
		t.Errorf("error = %q, want %q", got["error"], "transcript is required")
	}
}

func TestSubmitDream_VideoFailure(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{err: errors.New("render farm on fire")}
	h := (&Server{Pipeline: dream.NewPipeline(&fakeCompleter{reply: "x"}, gen)}).Handler()

	rec := postJSON(t, h, "/api/submit-dream", `{"transcript":"a dream"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

// ── routing ───────────────────────────────────────────────────────────────────

func TestHealthEndpoints_Registered(t *testing.T) {
	t.Parallel()
	h := (&Server{}).Handler()

	for _, path := range []string{"/health", "/healthz", "/readyz", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestStaticDir_ServesFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>DreamPulse</h1>"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := (&Server{StaticDir: dir}).Handler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET / = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "DreamPulse") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestRelay_Mounted(t *testing.T) {
	t.Parallel()
	called := false
	relay := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusSwitchingProtocols)
	})
	h := (&Server{Relay: relay}).Handler()

	req := httptest.NewRequest(http.MethodGet, "/realtime", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if !called {
		t.Fatal("relay handler was not invoked")
	}
}

// startEchoUpstream launches a WebSocket server that echoes every frame.
func startEchoUpstream(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		ctx := r.Context()
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if err := conn.Write(ctx, typ, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// The upgrade must survive the observability middleware wrapping the route
// table, so this test runs the real bridge behind the assembled handler.
func TestRelay_BridgesThroughAssembledHandler(t *testing.T) {
	t.Parallel()

	bridge := relay.New(relay.Config{UpstreamURL: startEchoUpstream(t)})
	srv := httptest.NewServer((&Server{Relay: bridge}).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/realtime", nil)
	if err != nil {
		t.Fatalf("dial /realtime: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	want := `{"type":"input_audio_buffer.append","audio":"UENN"}`
	if err := conn.Write(ctx, websocket.MessageText, []byte(want)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if got := string(data); got != want {
		t.Errorf("echoed frame = %q, want %q", got, want)
	}
}

func TestRelay_UpstreamCloseReachesClientThroughAssembledHandler(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		conn.Close(websocket.StatusNormalClosure, "upstream done")
	}))
	defer upstream.Close()

	bridge := relay.New(relay.Config{
		UpstreamURL: "ws" + strings.TrimPrefix(upstream.URL, "http"),
	})
	srv := httptest.NewServer((&Server{Relay: bridge}).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/realtime", nil)
	if err != nil {
		t.Fatalf("dial /realtime: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	_, _, err = conn.Read(ctx)
	if err == nil {
		t.Fatal("expected read to fail after upstream closed")
	}
	if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure {
		t.Errorf("close status = %v, want normal closure", status)
	}
}
