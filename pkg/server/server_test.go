package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walnutseal1/yk-project/pkg/agent"
	"github.com/walnutseal1/yk-project/pkg/llms"
	"github.com/walnutseal1/yk-project/pkg/memory"
	"github.com/walnutseal1/yk-project/pkg/sleeper"
	"github.com/walnutseal1/yk-project/pkg/tools"
)

// scriptedProvider replays one chunk script per query, repeating the last.
type scriptedProvider struct {
	mu      sync.Mutex
	scripts [][]llms.StreamChunk
	model   string
}

func (p *scriptedProvider) Query(context.Context, []llms.Message) (<-chan llms.StreamChunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var script []llms.StreamChunk
	if len(p.scripts) > 0 {
		script = p.scripts[0]
		if len(p.scripts) > 1 {
			p.scripts = p.scripts[1:]
		}
	}
	ch := make(chan llms.StreamChunk, len(script))
	for _, c := range script {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) ModelName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.model
}

func (p *scriptedProvider) SetModel(m string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.model = m
}

func (p *scriptedProvider) Close() error { return nil }

type stubScheduler struct {
	mu       sync.Mutex
	payloads []string
	model    string
}

func (s *stubScheduler) Status() sleeper.Status {
	return sleeper.Status{State: sleeper.StateIdle}
}

func (s *stubScheduler) Enqueue(payload string) {
	s.mu.Lock()
	s.payloads = append(s.payloads, payload)
	s.mu.Unlock()
}

func (s *stubScheduler) SetModel(model string) {
	s.mu.Lock()
	s.model = model
	s.mu.Unlock()
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}
func (fakeEmbedder) ModelName() string { return "fake" }

func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	vectorDir := t.TempDir()
	recall, err := memory.NewRecallStore(filepath.Join(t.TempDir(), "recall.db"))
	require.NoError(t, err)
	t.Cleanup(func() { recall.Close() })
	return memory.NewStore(
		memory.NewCoreStore(t.TempDir()),
		memory.NewVectorStore(vectorDir, filepath.Join(vectorDir, "cache.json"), fakeEmbedder{}),
		recall,
	)
}

func newTestServer(t *testing.T, provider *scriptedProvider, scheduler SleepScheduler, store *memory.Store) *Server {
	t.Helper()
	a := agent.New(agent.Options{
		Provider:     provider,
		Handler:      tools.NewHandler(),
		Store:        store,
		SystemPrompt: "You are a test assistant.",
		MaxTokens:    100000,
	})
	return New(Options{Agent: a, Scheduler: scheduler, Store: store})
}

func contentScript(text string) []llms.StreamChunk {
	return []llms.StreamChunk{{Type: llms.ChunkContent, Text: text}}
}

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func getJSON(t *testing.T, handler http.Handler, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestChatEndpoint(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]llms.StreamChunk{contentScript("Hello there")}}
	s := newTestServer(t, provider, nil, nil)

	rec := postJSON(t, s.Handler(), "/chat", map[string]string{"message": "hi"})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "Hello there", body["response"])
	assert.Equal(t, "success", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestChatEndpointRequiresMessage(t *testing.T) {
	s := newTestServer(t, &scriptedProvider{}, nil, nil)

	rec := postJSON(t, s.Handler(), "/chat", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "No message provided", body["error"])
	assert.Equal(t, "error", body["status"])
}

func TestHistoryEndpoint(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]llms.StreamChunk{contentScript("reply")}}
	s := newTestServer(t, provider, nil, nil)

	postJSON(t, s.Handler(), "/chat", map[string]string{"message": "hi"})

	rec, body := getJSON(t, s.Handler(), "/history")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])

	history, ok := body["history"].([]interface{})
	require.True(t, ok)
	require.Len(t, history, 1)
	entry := history[0].(map[string]interface{})
	assert.Equal(t, "hi", entry["user"])
	assert.Equal(t, "reply", entry["ai"])
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, &scriptedProvider{}, nil, nil)

	rec, body := getJSON(t, s.Handler(), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "online", body["status"])
	assert.Equal(t, true, body["streaming_support"])
	assert.Equal(t, true, body["ai_system_initialized"])
	assert.NotEmpty(t, body["timestamp"])
	assert.Contains(t, body, "context_tokens")

	sleepAgent := body["sleep_agent"].(map[string]interface{})
	assert.Equal(t, false, sleepAgent["initialized"])
}

func TestHealthReportsSchedulerStatus(t *testing.T) {
	s := newTestServer(t, &scriptedProvider{}, &stubScheduler{}, nil)

	_, body := getJSON(t, s.Handler(), "/health")
	sleepAgent := body["sleep_agent"].(map[string]interface{})
	assert.Equal(t, true, sleepAgent["initialized"])

	status := sleepAgent["status"].(map[string]interface{})
	assert.Equal(t, "idle", status["state"])
}

func TestClearEndpointIsIdempotent(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]llms.StreamChunk{contentScript("reply")}}
	s := newTestServer(t, provider, nil, nil)

	postJSON(t, s.Handler(), "/chat", map[string]string{"message": "hi"})

	for i := 0; i < 2; i++ {
		rec := postJSON(t, s.Handler(), "/clear", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "cleared", body["status"])
		assert.Equal(t, "Conversation history cleared", body["message"])
	}

	_, body := getJSON(t, s.Handler(), "/history")
	assert.Empty(t, body["history"])
}

func TestCoreMemoryEndpoint(t *testing.T) {
	store := newTestStore(t)
	result := store.Core.Edit("persona", "I am Yumeko.", "")
	require.Contains(t, result, "Success")

	s := newTestServer(t, &scriptedProvider{}, nil, store)

	rec, body := getJSON(t, s.Handler(), "/memory/core")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])
	assert.Contains(t, body["core_memory"], "memory_metadata")
	assert.Contains(t, body["core_memory"], "I am Yumeko.")
}

func TestCoreMemoryEndpointWithoutStore(t *testing.T) {
	s := newTestServer(t, &scriptedProvider{}, nil, nil)

	rec, body := getJSON(t, s.Handler(), "/memory/core")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "AI system not initialized", body["error"])
}

func TestSleepStatusEndpoint(t *testing.T) {
	s := newTestServer(t, &scriptedProvider{}, nil, nil)
	rec, body := getJSON(t, s.Handler(), "/sleep_agent/status")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "sleep time agent not initialized", body["error"])

	s = newTestServer(t, &scriptedProvider{}, &stubScheduler{}, nil)
	rec, body = getJSON(t, s.Handler(), "/sleep_agent/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	status := body["status"].(map[string]interface{})
	assert.Equal(t, "idle", status["state"])
}

func TestSleepTriggerEndpoint(t *testing.T) {
	scheduler := &stubScheduler{}
	provider := &scriptedProvider{scripts: [][]llms.StreamChunk{contentScript("reply")}}
	s := newTestServer(t, provider, scheduler, nil)

	postJSON(t, s.Handler(), "/chat", map[string]string{"message": "remember this"})

	rec := postJSON(t, s.Handler(), "/sleep_agent/trigger", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	// user turn plus assistant reply
	assert.Equal(t, float64(2), body["context_size"])
	assert.NotEmpty(t, body["message"])

	scheduler.mu.Lock()
	defer scheduler.mu.Unlock()
	require.Len(t, scheduler.payloads, 1)
	assert.Contains(t, scheduler.payloads[0], "user: remember this")
}

func TestSetModelEndpoint(t *testing.T) {
	provider := &scriptedProvider{model: "qwen3:4b"}
	s := newTestServer(t, provider, nil, nil)

	rec := postJSON(t, s.Handler(), "/set_model", map[string]string{"model": "ollama/qwen3:8b"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["ok"])
	assert.Equal(t, "qwen3:8b", provider.ModelName())

	// Bare model names are accepted as-is.
	rec = postJSON(t, s.Handler(), "/set_model", map[string]string{"model": "qwen3:14b"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "qwen3:14b", provider.ModelName())

	rec = postJSON(t, s.Handler(), "/set_model", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetSleepModelEndpoint(t *testing.T) {
	scheduler := &stubScheduler{}
	s := newTestServer(t, &scriptedProvider{}, scheduler, nil)

	rec := postJSON(t, s.Handler(), "/set_sleep_model", map[string]string{"model": "ollama/qwen3:1.7b"})
	require.Equal(t, http.StatusOK, rec.Code)

	scheduler.mu.Lock()
	defer scheduler.mu.Unlock()
	assert.Equal(t, "qwen3:1.7b", scheduler.model)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &scriptedProvider{}, nil, nil)

	getJSON(t, s.Handler(), "/health")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "yumeko_http_requests_total")
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestWebSocketStreamsChunks(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]llms.StreamChunk{
		{{Type: llms.ChunkContent, Text: "Hello"}, {Type: llms.ChunkContent, Text: " there"}},
	}}
	s := newTestServer(t, provider, nil, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dialWS(t, ts)
	require.NoError(t, conn.WriteJSON(map[string]string{"event": "send_message", "message": "hi"}))

	var last map[string]interface{}
	for {
		frame := readFrame(t, conn)
		assert.Equal(t, "stream_chunk", frame["event"])
		chunk := frame["chunk"].(map[string]interface{})
		assert.NotEmpty(t, chunk["timestamp"])
		last = chunk
		if complete, _ := chunk["is_complete"].(bool); complete {
			break
		}
	}
	assert.Equal(t, "content", last["type"])
	assert.Equal(t, "Hello there", last["content"])
}

func TestWebSocketSurvivesAcrossTurns(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]llms.StreamChunk{
		contentScript("first"),
		contentScript("second"),
	}}
	s := newTestServer(t, provider, nil, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dialWS(t, ts)

	finalContent := func(message string) string {
		require.NoError(t, conn.WriteJSON(map[string]string{"message": message}))
		for {
			frame := readFrame(t, conn)
			chunk := frame["chunk"].(map[string]interface{})
			if complete, _ := chunk["is_complete"].(bool); complete {
				return chunk["content"].(string)
			}
		}
	}

	assert.Equal(t, "first", finalContent("one"))
	assert.Equal(t, "second", finalContent("two"))
}

func TestWebSocketRequiresMessage(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]llms.StreamChunk{contentScript("ok")}}
	s := newTestServer(t, provider, nil, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dialWS(t, ts)
	require.NoError(t, conn.WriteJSON(map[string]string{"event": "send_message"}))

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["event"])
	assert.Equal(t, "No message provided", frame["error"])

	// The socket is still usable afterwards.
	require.NoError(t, conn.WriteJSON(map[string]string{"event": "send_message", "message": "hi"}))
	frame = readFrame(t, conn)
	assert.Equal(t, "stream_chunk", frame["event"])
}
