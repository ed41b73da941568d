package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Mutation("set", 1)
	m.AppendFailed()
	m.Replayed(1, 2, 3)
	m.Backup("upload", time.Now(), nil)
	m.Request("http", "get")
}

func TestMetrics(t *testing.T) {
	m := New()
	m.Mutation("set", 1)
	m.Mutation("set", 2)
	m.Mutation("delete", 1)
	m.Replayed(4, 1, 1)
	m.Backup("upload", time.Now(), nil)
	m.Backup("upload", time.Now(), errors.New("boom"))

	body := scrape(t, m)
	assert.Contains(t, body, `aofkv_mutations_total{op="set"} 2`)
	assert.Contains(t, body, `aofkv_mutations_total{op="delete"} 1`)
	assert.Contains(t, body, `aofkv_replay_lines_total{result="applied"} 4`)
	assert.Contains(t, body, `aofkv_backup_operations_total{op="upload",result="ok"} 1`)
	assert.Contains(t, body, `aofkv_backup_operations_total{op="upload",result="error"} 1`)
	assert.Contains(t, body, "aofkv_keys 1")
}
