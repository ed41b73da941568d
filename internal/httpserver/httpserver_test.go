package httpserver

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mauri870/aofkv/internal/aof"
	"github.com/mauri870/aofkv/internal/auth"
	"github.com/mauri870/aofkv/internal/kvstore"
	"github.com/mauri870/aofkv/internal/metrics"
	"github.com/mauri870/aofkv/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	*httptest.Server
	kv      *kvstore.Memory
	logPath string
}

func newTestServer(t *testing.T, tokens ...string) *testServer {
	t.Helper()

	logPath := filepath.Join(t.TempDir(), ".data", "wal.aof")
	w := aof.NewWriter(logPath, false)
	t.Cleanup(func() { w.Close() })

	kv := kvstore.NewMemory()
	m := metrics.New()
	authn, err := auth.New(tokens)
	require.NoError(t, err)

	st := store.New(kv, w, m, zap.NewNop())
	srv := httptest.NewServer(New(st, authn, m, zap.NewNop()).Handler())
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, kv: kv, logPath: logPath}
}

func (ts *testServer) do(t *testing.T, method, path, body, token string) (int, string) {
	t.Helper()

	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestSetGetDelete(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, "POST", "/set/test", "value", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body)

	code, body = ts.do(t, "GET", "/get/test", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "value", body)

	code, _ = ts.do(t, "POST", "/delete/test", "", "")
	assert.Equal(t, http.StatusOK, code)

	code, body = ts.do(t, "GET", "/get/test", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "NOT FOUND", body)

	b, err := os.ReadFile(ts.logPath)
	require.NoError(t, err)
	assert.Equal(t, "SET test value\nDELETE test\n", string(b))
}

func TestSetValueFromPath(t *testing.T) {
	ts := newTestServer(t)

	code, _ := ts.do(t, "POST", "/set/a/1", "ignored", "")
	require.Equal(t, http.StatusOK, code)

	_, body := ts.do(t, "GET", "/get/a", "", "")
	assert.Equal(t, "1", body)
}

func TestIndex(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, "GET", "/", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body)
}

func TestRequestID(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestInvalidInput(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, "POST", "/set/a", "\xff\xfe", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body, "invalid UTF-8 sequence")

	code, _ = ts.do(t, "POST", "/set/a", "two\nlines", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(t, "POST", "/set/a%20b", "v", "")
	assert.Equal(t, http.StatusBadRequest, code)

	assert.Zero(t, ts.kv.Len())
}

func TestAuthNamespaces(t *testing.T) {
	ts := newTestServer(t, "alice-token=alice", "bob-token=bob")

	code, _ := ts.do(t, "POST", "/set/k", "v", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = ts.do(t, "POST", "/set/k", "v", "wrong")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = ts.do(t, "POST", "/set/k", "from alice", "alice-token")
	require.Equal(t, http.StatusOK, code)

	_, body := ts.do(t, "GET", "/get/k", "", "alice-token")
	assert.Equal(t, "from alice", body)
	_, body = ts.do(t, "GET", "/get/k", "", "bob-token")
	assert.Equal(t, "NOT FOUND", body)

	assert.Equal(t, map[string]string{"alice:k": "from alice"}, ts.kv.Snapshot())

	// The index and metrics stay public.
	code, _ = ts.do(t, "GET", "/", "", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	ts.do(t, "POST", "/set/a", "1", "")
	code, body := ts.do(t, "GET", "/metrics", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `aofkv_mutations_total{op="set"} 1`)
}
