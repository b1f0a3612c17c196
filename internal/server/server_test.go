package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/hotssr/internal/bundler"
	"github.com/conneroisu/hotssr/internal/config"
	"github.com/conneroisu/hotssr/internal/hmr"
	"github.com/conneroisu/hotssr/internal/ssr"
	"github.com/conneroisu/hotssr/internal/testutils"
)

func newProject(t *testing.T, entry string, settings map[string]interface{}) *config.Config {
	t.Helper()

	root := testutils.CreateTempProject(t, entry, nil)
	return testutils.CreateTestConfig(t, root, settings)
}

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()

	s, err := New(opts)
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = s.Shutdown(context.Background())
	})

	return s, ts
}

func get(t *testing.T, method, url string) (*http.Response, string) {
	t.Helper()

	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

const echoEntry = testutils.EchoEntry

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestServerRendersEveryRoute(t *testing.T) {
	_, ts := newTestServer(t, Options{Config: newProject(t, echoEntry, nil)})

	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			resp, body := get(t, method, ts.URL+"/some/deep/route?x=1")

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
			assert.Contains(t, body, `<div id="app"><p>/some/deep/route?x=1</p></div>`)
			assert.Contains(t, body, "<head>"+bundler.ClientTag+"<title>app</title>")
			assert.NotContains(t, body, "<!--main-app-->")
		})
	}
}

func TestServerRenderErrorIsOpaque(t *testing.T) {
	cfg := newProject(t, `export function render() { throw new Error("secret detail"); }`, nil)
	_, ts := newTestServer(t, Options{Config: cfg})

	resp, body := get(t, http.MethodGet, ts.URL+"/")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, ssr.ErrorBody, body)
}

func TestServerRecoversPanics(t *testing.T) {
	_, ts := newTestServer(t, Options{
		Config: newProject(t, echoEntry, nil),
		Module: ssr.ModuleFunc(func(context.Context, string) (ssr.RenderResult, error) {
			panic("boom")
		}),
	})

	resp, body := get(t, http.MethodGet, ts.URL+"/")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, ssr.ErrorBody, body)
}

func TestServerServesAssetsAndMetrics(t *testing.T) {
	_, ts := newTestServer(t, Options{Config: newProject(t, echoEntry, nil)})

	resp, body := get(t, http.MethodGet, ts.URL+"/src/main.js")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `console.log("client")`)

	get(t, http.MethodGet, ts.URL+"/")

	resp, body = get(t, http.MethodGet, ts.URL+MetricsPath)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "hotssr_http_requests_total")
	assert.Contains(t, body, `hotssr_ssr_render_duration_seconds_count{outcome="success"} 1`)
}

func TestServerWithoutMetrics(t *testing.T) {
	cfg := newProject(t, echoEntry, map[string]interface{}{"development.metrics": false})
	_, ts := newTestServer(t, Options{Config: cfg})

	resp, body := get(t, http.MethodGet, ts.URL+MetricsPath)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "<p>"+MetricsPath+"</p>")
}

func TestServerHMRWebsocket(t *testing.T) {
	s, ts := newTestServer(t, Options{Config: newProject(t, echoEntry, nil)})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+bundler.SocketPath, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{ts.URL}},
	})
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg hmr.Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, hmr.TypeConnected, msg.Type)
	assert.Equal(t, 1, s.DevServer().Hub().Clients())
}

func TestServerStartAndShutdown(t *testing.T) {
	s, err := New(Options{Config: newProject(t, echoEntry, nil)})
	require.NoError(t, err)

	addr, err := s.Listen()
	require.NoError(t, err)
	assert.Equal(t, addr, s.Addr())
	assert.True(t, strings.HasPrefix(s.URL(), "http://127.0.0.1:"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(s.URL() + "/")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Start did not return after cancel")
	}

	assert.NoError(t, s.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestServerShutdownWithIdleHMRClients(t *testing.T) {
	cfg := newProject(t, echoEntry, map[string]interface{}{"server.shutdown_timeout": "1s"})
	s, err := New(Options{Config: cfg})
	require.NoError(t, err)

	_, err = s.Listen()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	socketURL := "ws" + strings.TrimPrefix(s.URL(), "http") + bundler.SocketPath
	for i := 0; i < 3; i++ {
		dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
		conn, _, err := websocket.Dial(dialCtx, socketURL, &websocket.DialOptions{
			HTTPHeader: http.Header{"Origin": []string{s.URL()}},
		})
		dialCancel()
		require.NoError(t, err)
		t.Cleanup(func() { _ = conn.CloseNow() })
	}
	require.Eventually(t, func() bool { return s.DevServer().Hub().Clients() == 3 }, 3*time.Second, 10*time.Millisecond)

	start := time.Now()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
		assert.Less(t, time.Since(start), 3*time.Second)
	case <-time.After(10 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
