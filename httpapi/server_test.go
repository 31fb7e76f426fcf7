package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/freza/core"
	"github.com/hupe1980/freza/engine"
	"github.com/hupe1980/freza/internal/testutil"
	"github.com/hupe1980/freza/memory"
	"github.com/hupe1980/freza/metrics"
)

type testServer struct {
	http     *httptest.Server
	engine   *engine.Engine
	memory   *memory.InMemoryStore
	launcher *testutil.FakeLauncher
	metrics  *metrics.Metrics
}

func newTestServer(t *testing.T, launcher *testutil.FakeLauncher, optFns ...func(o *Options)) *testServer {
	t.Helper()
	mem := memory.NewInMemoryStore()
	catalog := core.NewStaticCatalog([]core.AgentDefinition{{Name: "default"}}, nil)
	eng := engine.New(catalog, launcher,
		engine.WithMemoryStore(mem),
		func(o *engine.Options) { o.Config.KillGrace = 50 * time.Millisecond },
	)
	m := metrics.New()
	m.Register(eng.Callbacks())

	opts := append([]func(o *Options){func(o *Options) { o.Metrics = m }}, optFns...)
	srv := httptest.NewServer(New(eng, opts...).Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = eng.Shutdown(ctx)
	})
	return &testServer{http: srv, engine: eng, memory: mem, launcher: launcher, metrics: m}
}

func (ts *testServer) do(t *testing.T, method, path, body string, header http.Header) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.http.URL+path, r)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := ts.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (ts *testServer) chat(t *testing.T, body string) chatResponse {
	t.Helper()
	resp, data := ts.do(t, http.MethodPost, "/api/chat", body, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(data))
	var out chatResponse
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func slowScript() []testutil.Step {
	return testutil.NewScript().Delay(200 * time.Millisecond).Text("Hi").Text(" there").Result(0.002, 1200, 1).Build()
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t, testutil.NewFakeLauncher(), func(o *Options) { o.Token = "s3cret" })

	resp, _ := ts.do(t, http.MethodGet, "/api/ping", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/api/threads", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/api/threads", "", http.Header{"Authorization": {"Bearer wrong"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/api/threads", "", http.Header{"Authorization": {"Bearer s3cret"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/api/threads?token=s3cret", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestChatValidation(t *testing.T) {
	ts := newTestServer(t, testutil.NewFakeLauncher())

	cases := []struct {
		name string
		body string
		code int
	}{
		{"invalid json", "{", http.StatusBadRequest},
		{"empty message", `{"message":"   "}`, http.StatusBadRequest},
		{"invalid agent", `{"message":"hi","agent":"../x"}`, http.StatusBadRequest},
		{"unknown agent", `{"message":"hi","agent":"ghost"}`, http.StatusNotFound},
		{"unknown thread", `{"message":"hi","thread_id":"missing"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := ts.do(t, http.MethodPost, "/api/chat", tc.body, nil)
			assert.Equal(t, tc.code, resp.StatusCode, string(body))
			assert.Contains(t, string(body), `"error"`)
		})
	}
	assert.Empty(t, ts.launcher.Requests())
}

func TestChatAndSSE(t *testing.T) {
	ts := newTestServer(t, testutil.NewFakeLauncher(slowScript()...))

	started := ts.chat(t, `{"message":"hello"}`)
	assert.Equal(t, "default", started.Agent)
	assert.Equal(t, "started", started.Status)
	require.NotEmpty(t, started.InstanceID)

	resp, err := ts.http.Client().Get(ts.http.URL + "/api/stream/" + started.InstanceID)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var frames []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
			frames = append(frames, strings.TrimPrefix(line, "data: "))
		}
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{
		`{"type":"text_delta","text":"Hi"}`,
		`{"type":"text_delta","text":" there"}`,
		`{"type":"result","cost_usd":0.002,"duration_ms":1200,"turns":1}`,
		`{"type":"done"}`,
	}, frames)

	resp2, body := ts.do(t, http.MethodGet, "/api/threads/"+started.ThreadID, "", nil)
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	var th core.Thread
	require.NoError(t, json.Unmarshal(body, &th))
	require.Len(t, th.Entries, 1)
	assert.Equal(t, "Hi there", th.Entries[0].Response)
	assert.Equal(t, "webui", th.Channel)

	resp3, _ := ts.do(t, http.MethodGet, "/api/stream/"+started.InstanceID, "", nil)
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
}

func TestWebSocketStream(t *testing.T) {
	ts := newTestServer(t, testutil.NewFakeLauncher(slowScript()...))
	started := ts.chat(t, `{"message":"hello"}`)

	u, err := url.Parse(ts.http.URL)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = "/api/ws/" + started.InstanceID

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	defer conn.Close()

	var got []core.EventType
	for {
		var ev core.Event
		if err := conn.ReadJSON(&ev); err != nil {
			break
		}
		got = append(got, ev.Type)
		if ev.IsTerminal() {
			break
		}
	}
	assert.Equal(t, []core.EventType{
		core.EventTextDelta, core.EventTextDelta, core.EventResult, core.EventDone,
	}, got)
}

func TestInstancesAndStop(t *testing.T) {
	launcher := testutil.NewFakeLauncher()
	launcher.Hang = true
	ts := newTestServer(t, launcher)

	started := ts.chat(t, `{"message":"wait forever"}`)

	resp, body := ts.do(t, http.MethodGet, "/api/instances", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []core.Instance
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, started.InstanceID, list[0].InstanceID)
	assert.Equal(t, core.StatusRunning, list[0].Status)
	assert.Equal(t, core.ModeChannel, list[0].Mode)

	resp, _ = ts.do(t, http.MethodPost, "/api/instances/"+started.InstanceID+"/stop", "", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		resp, body := ts.do(t, http.MethodGet, "/api/instances/"+started.InstanceID, "", nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var inst core.Instance
		return json.Unmarshal(body, &inst) == nil && inst.Status == core.StatusFailed
	}, 2*time.Second, 20*time.Millisecond)

	resp, _ = ts.do(t, http.MethodPost, "/api/instances/nope/stop", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReadEndpoints(t *testing.T) {
	ts := newTestServer(t, testutil.NewFakeLauncher())
	require.NoError(t, ts.memory.WriteLongTerm("default", "# Agent Memory\n- likes Go\n- dislikes YAML\n"))

	resp, body := ts.do(t, http.MethodGet, "/api/memory?q=go", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var mem memoryResponse
	require.NoError(t, json.Unmarshal(body, &mem))
	assert.Equal(t, "default", mem.Agent)
	assert.Contains(t, mem.Content, "likes Go")
	assert.Equal(t, []string{"- likes Go"}, mem.Matches)

	resp, _ = ts.do(t, http.MethodGet, "/api/memory?agent=ghost", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodGet, "/api/memory?agent=-x", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/api/threads", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))

	resp, _ = ts.do(t, http.MethodGet, "/api/threads/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/api/agents", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"name":"default"`)

	resp, body = ts.do(t, http.MethodGet, "/api/stats", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"total_runs":0`)

	resp, body = ts.do(t, http.MethodGet, "/api/short-term", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))

	resp, body = ts.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `freza_http_requests_total{code="200",method="GET",route="/api/threads"}`)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, testutil.NewFakeLauncher())
	resp, _ := ts.do(t, http.MethodOptions, "/api/chat", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
