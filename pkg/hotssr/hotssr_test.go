package hotssr_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/a-h/templ"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/hotssr/internal/testutils"
	"github.com/conneroisu/hotssr/pkg/hotssr"
)

func text(s string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := io.WriteString(w, s)
		return err
	})
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func newTemplServer(t *testing.T, opts hotssr.Options) *httptest.Server {
	t.Helper()

	// The JavaScript entry would throw; the Go module must be used instead.
	root := testutils.CreateTempProject(t, `export function render() { throw new Error("js entry used"); }`, nil)

	cfg, err := hotssr.DefaultConfig(root)
	require.NoError(t, err)
	opts.Config = cfg

	srv, err := hotssr.New(opts)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Shutdown(context.Background())
	})
	return ts
}

func TestTemplRoutesThroughServer(t *testing.T) {
	ts := newTemplServer(t, hotssr.Options{
		Module: hotssr.TemplRoutes(map[string]templ.Component{
			"/":      text("<h1>home</h1>"),
			"/about": text("<h1>about</h1>"),
		}, text("<h1>not found</h1>")),
	})

	status, body := get(t, ts.URL+"/about?tab=team")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `<div id="app"><h1>about</h1></div>`)
	assert.Contains(t, body, `<script type="module" src="/@dev/client"></script>`)

	_, body = get(t, ts.URL+"/missing")
	assert.Contains(t, body, "<h1>not found</h1>")

	status, body = get(t, ts.URL+"/src/main.js")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `console.log("client")`)
}

func TestHTMLTransformsThroughServer(t *testing.T) {
	ts := newTemplServer(t, hotssr.Options{
		Module: hotssr.TemplComponent(text("<p>hi</p>")),
		HTMLTransforms: []hotssr.HTMLTransform{
			func(_ context.Context, url, html string) (string, error) {
				return strings.Replace(html, "<title>app</title>", "<title>"+url+"</title>", 1), nil
			},
		},
	})

	_, body := get(t, ts.URL+"/page")
	assert.Contains(t, body, "<title>/page</title>")
	assert.Contains(t, body, "<p>hi</p>")
}

func TestModuleFuncErrorIsOpaque(t *testing.T) {
	ts := newTemplServer(t, hotssr.Options{
		Module: hotssr.ModuleFunc(func(context.Context, string) (hotssr.RenderResult, error) {
			return hotssr.RenderResult{}, io.ErrUnexpectedEOF
		}),
	})

	status, body := get(t, ts.URL+"/")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Internal Server Error", body)
}

func TestRun(t *testing.T) {
	root := testutils.CreateTempProject(t, testutils.EchoEntry, nil)
	cfg := testutils.CreateTestConfig(t, root, nil)

	logger, err := hotssr.NewLogger("error", "text")
	require.NoError(t, err)

	srv, err := hotssr.New(hotssr.Options{Config: cfg, Logger: logger})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hotssr.Run(ctx, srv) }()

	require.Eventually(t, func() bool { return srv.Addr() != nil }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL() + "/hello")
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
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := hotssr.NewLogger("loud", "text")
	assert.Error(t, err)
}
