package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinsley/promptrelay/client"
	"github.com/richinsley/promptrelay/graphapi"
	"github.com/richinsley/promptrelay/relay"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

type envelope struct {
	ClientID string            `json:"client_id"`
	Prompt   graphapi.Workflow `json:"prompt"`
}

// engine stands in for the generation engine's /prompt and /system_stats routes
type engine struct {
	mu       sync.Mutex
	received []envelope
	status   int
	body     string
	delay    time.Duration
}

func newEngine() *engine {
	return &engine{status: http.StatusOK, body: `{"prompt_id": "p-1", "number": 3, "node_errors": {}}`}
}

func (e *engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/system_stats":
		_, _ = w.Write([]byte(`{"system": {"os": "posix"}, "devices": []}`))
	case "/prompt":
		data, _ := io.ReadAll(r.Body)
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		e.mu.Lock()
		e.received = append(e.received, env)
		status, body, delay := e.status, e.body, e.delay
		e.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	default:
		http.NotFound(w, r)
	}
}

func (e *engine) envelopes() []envelope {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]envelope{}, e.received...)
}

type stack struct {
	router *gin.Engine
	engine *engine
	store  *graphapi.TemplateStore
}

func newStack(t *testing.T, eng *engine, opts ...client.Option) *stack {
	t.Helper()
	srv := httptest.NewServer(eng)
	t.Cleanup(srv.Close)

	c, err := client.NewComfyClient(srv.URL, opts...)
	require.NoError(t, err)

	w, err := graphapi.DefaultWorkflow()
	require.NoError(t, err)
	store, err := graphapi.NewTemplateStore(w)
	require.NoError(t, err)

	r, err := relay.New(relay.Options{Templates: store, Submitter: c})
	require.NoError(t, err)

	return &stack{
		router: NewRouter(Options{Generator: r, Probe: c, AllowOrigins: []string{"http://ui.example"}}),
		engine: eng,
		store:  store,
	}
}

func (s *stack) do(method, path, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	out := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func text(t *testing.T, w graphapi.Workflow, id string) string {
	t.Helper()
	s, ok := w[id].Inputs["text"].String()
	require.True(t, ok)
	return s
}

func TestGenerateSubmitsWorkflow(t *testing.T) {
	s := newStack(t, newEngine())

	rec := s.do(http.MethodPost, "/generate", "application/json", `{"positive": "a cat", "negative": "blurry"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	out := decode(t, rec)
	assert.Equal(t, "generation task submitted", out["message"])
	assert.Equal(t, map[string]interface{}{"prompt_id": "p-1", "number": float64(3), "node_errors": map[string]interface{}{}}, out["task"])

	got := s.engine.envelopes()
	require.Len(t, got, 1)
	_, err := uuid.Parse(got[0].ClientID)
	assert.NoError(t, err)

	w := got[0].Prompt
	assert.Equal(t, "a cat", text(t, w, "6"))
	assert.Equal(t, "blurry", text(t, w, "7"))
	seed, ok := w["3"].Inputs["seed"].Int()
	require.True(t, ok)
	assert.GreaterOrEqual(t, seed, graphapi.SeedMin)
	assert.LessOrEqual(t, seed, graphapi.SeedMax)

	// everything but the three targets is the template as loaded
	pristine := s.store.Template()
	require.Equal(t, pristine.NodeIDs(), w.NodeIDs())
	for _, id := range pristine.NodeIDs() {
		assert.Equal(t, pristine[id].ClassType, w[id].ClassType)
		for name, in := range pristine[id].Inputs {
			if ((id == "6" || id == "7") && name == "text") || (id == "3" && name == "seed") {
				continue
			}
			assert.Equal(t, in, w[id].Inputs[name], "%s.%s", id, name)
		}
	}
}

func TestGeneratePassesAcknowledgementThrough(t *testing.T) {
	eng := newEngine()
	eng.body = `{"task_id": "abc"}`
	s := newStack(t, eng)

	rec := s.do(http.MethodPost, "/generate", "application/json", `{"positive": "a cat"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message": "generation task submitted", "task": {"task_id": "abc"}}`, rec.Body.String())
}

func TestGenerateUsesFreshClientIDs(t *testing.T) {
	s := newStack(t, newEngine())
	for i := 0; i < 3; i++ {
		rec := s.do(http.MethodPost, "/generate", "application/json", `{"positive": "a cat"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	seen := map[string]bool{}
	for _, env := range s.engine.envelopes() {
		assert.False(t, seen[env.ClientID])
		seen[env.ClientID] = true
	}
	assert.Len(t, seen, 3)
}

func TestGenerateTrimsPrompts(t *testing.T) {
	s := newStack(t, newEngine())

	rec := s.do(http.MethodPost, "/generate", "application/json", `{"positive": "  a cat  ", "negative": " blurry\n"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	w := s.engine.envelopes()[0].Prompt
	assert.Equal(t, "a cat", text(t, w, "6"))
	assert.Equal(t, "blurry", text(t, w, "7"))
}

func TestGenerateRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		errMsg      string
	}{
		{"missing positive", "application/json", `{"negative": "blurry"}`, "missing positive prompt"},
		{"empty positive", "application/json", `{"positive": ""}`, "missing positive prompt"},
		{"whitespace positive", "application/json", `{"positive": "   "}`, "missing positive prompt"},
		{"null body", "application/json", `null`, "missing positive prompt"},
		{"form content type", "application/x-www-form-urlencoded", `positive=a+cat`, "request must be JSON"},
		{"no content type", "", `{"positive": "a cat"}`, "request must be JSON"},
		{"text content type", "text/plain", `{"positive": "a cat"}`, "request must be JSON"},
		{"malformed json", "application/json", `{"positive": `, "invalid request body"},
		{"empty body", "application/json", ``, "invalid request body"},
		{"array body", "application/json", `["a cat"]`, "invalid request body"},
		{"positive not a string", "application/json", `{"positive": 5}`, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStack(t, newEngine())

			rec := s.do(http.MethodPost, "/generate", tt.contentType, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, map[string]interface{}{"error": tt.errMsg}, decode(t, rec))
			assert.Empty(t, s.engine.envelopes(), "no outbound call expected")
		})
	}
}

func TestGenerateAcceptsJSONWithCharset(t *testing.T) {
	s := newStack(t, newEngine())
	rec := s.do(http.MethodPost, "/generate", "application/json; charset=utf-8", `{"positive": "a cat"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGenerateEngineFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"engine error", http.StatusInternalServerError, "boom"},
		{"engine rejects prompt", http.StatusBadRequest, `{"error": {"type": "prompt_outputs_failed_validation", "message": "Prompt outputs failed validation"}, "node_errors": {}}`},
		{"ack is not json", http.StatusOK, "<html>ok</html>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newEngine()
			eng.status, eng.body = tt.status, tt.body
			s := newStack(t, eng)

			rec := s.do(http.MethodPost, "/generate", "application/json", `{"positive": "a cat"}`)
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Equal(t, map[string]interface{}{"error": "failed to submit workflow"}, decode(t, rec))
			assert.NotContains(t, rec.Body.String(), tt.body)
			assert.Len(t, eng.envelopes(), 1, "exactly one attempt")
		})
	}
}

func TestGenerateEngineUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := client.NewComfyClient(url)
	require.NoError(t, err)
	w, err := graphapi.DefaultWorkflow()
	require.NoError(t, err)
	store, err := graphapi.NewTemplateStore(w)
	require.NoError(t, err)
	r, err := relay.New(relay.Options{Templates: store, Submitter: c})
	require.NoError(t, err)
	s := &stack{router: NewRouter(Options{Generator: r, Probe: c})}

	rec := s.do(http.MethodPost, "/generate", "application/json", `{"positive": "a cat"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, map[string]interface{}{"error": "failed to submit workflow"}, decode(t, rec))

	rec = s.do(http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGenerateEngineTimeout(t *testing.T) {
	eng := newEngine()
	eng.delay = time.Second
	s := newStack(t, eng, client.WithTimeout(50*time.Millisecond))

	rec := s.do(http.MethodPost, "/generate", "application/json", `{"positive": "a cat"}`)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Contains(t, decode(t, rec), "error")
}

func TestGenerateConcurrentRequests(t *testing.T) {
	s := newStack(t, newEngine())

	const n = 24
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf(`{"positive": "positive %d", "negative": "negative %d"}`, i, i)
			rec := s.do(http.MethodPost, "/generate", "application/json", body)
			assert.Equal(t, http.StatusOK, rec.Code)
		}(i)
	}
	wg.Wait()

	got := s.engine.envelopes()
	require.Len(t, got, n)
	seen := map[int]bool{}
	for _, env := range got {
		var i int
		_, err := fmt.Sscanf(text(t, env.Prompt, "6"), "positive %d", &i)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("negative %d", i), text(t, env.Prompt, "7"))
		seen[i] = true
	}
	assert.Len(t, seen, n)

	// the template is never written through
	pristine := s.store.Template()
	assert.Equal(t, "test", text(t, pristine, "6"))
	assert.Equal(t, "test", text(t, pristine, "7"))
}

func TestHealthAndReadiness(t *testing.T) {
	s := newStack(t, newEngine())

	rec := s.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"status": "ok"}, decode(t, rec))

	rec = s.do(http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"status": "ready"}, decode(t, rec))
}

func TestGenerateMethodNotAllowed(t *testing.T) {
	s := newStack(t, newEngine())
	rec := s.do(http.MethodGet, "/generate", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, s.engine.envelopes())
}

func TestCORS(t *testing.T) {
	s := newStack(t, newEngine())

	req := httptest.NewRequest(http.MethodOptions, "/generate", nil)
	req.Header.Set("Origin", "http://ui.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, "http://ui.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/generate", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRunShutsDownOnCancel(t *testing.T) {
	router := NewRouter(Options{Generator: nil})
	srv := NewHTTPServer("127.0.0.1:0", router, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, srv, nil) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestNewHTTPServerTimeouts(t *testing.T) {
	srv := NewHTTPServer(":8001", http.NotFoundHandler(), 30*time.Second)
	assert.Equal(t, ":8001", srv.Addr)
	assert.Equal(t, 40*time.Second, srv.WriteTimeout)
	assert.NotZero(t, srv.ReadHeaderTimeout)

	unbounded := NewHTTPServer(":8001", http.NotFoundHandler(), 0)
	assert.Zero(t, unbounded.WriteTimeout)
	assert.NotZero(t, unbounded.ReadHeaderTimeout)
}
