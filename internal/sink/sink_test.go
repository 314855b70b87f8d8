package sink

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swyddfa/lsp-devtools/api"
	"github.com/swyddfa/lsp-devtools/internal/jsonrpc"
)

var t0 = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func entry(t *testing.T, source api.Source, at time.Time, body string) *Entry {
	t.Helper()
	msg, err := jsonrpc.Parse([]byte(body))
	require.NoError(t, err)
	return &Entry{Message: &api.CapturedMessage{
		Source:    source,
		Session:   "s1",
		Timestamp: at,
		Body:      []byte(body),
		Message:   msg,
	}}
}

func formatted(e *Entry, text string) *Entry {
	e.Text = text
	e.Formatted = true
	return e
}

type failingSink struct{ err error }

func (f failingSink) Write(context.Context, *Entry) error { return f.err }
func (f failingSink) Close() error                        { return f.err }

func TestMulti(t *testing.T) {
	var buf bytes.Buffer
	boom := errors.New("boom")
	m := Multi{failingSink{err: boom}, NewConsoleSink(&buf)}

	err := m.Write(context.Background(), formatted(entry(t, api.SourceClient, t0, `{"method":"x"}`), "x"))
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), "x", "later sinks still receive the entry")
	assert.ErrorIs(t, m.Close(), boom)
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "log.txt")
	s, err := NewFileSink(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Write(ctx, formatted(entry(t, api.SourceClient, t0, `{"method":"a"}`), "first")))
	require.NoError(t, s.Write(ctx, entry(t, api.SourceServer, t0, `{"jsonrpc":"2.0", "method": "b"}`)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\n"+`{"jsonrpc":"2.0","method":"b"}`+"\n", string(data), "flushed after every write")

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Write(ctx, formatted(entry(t, api.SourceClient, t0, `{}`), "late")), os.ErrClosed)
}

func TestConsoleSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewConsoleSink(&buf)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, formatted(entry(t, api.SourceClient, t0, `{"method":"a"}`), "hello")))
	require.NoError(t, s.Write(ctx, entry(t, api.SourceServer, t0, `{"method":"initialized"}`)))

	lines := strings.SplitN(buf.String(), "\n", 2)
	clock := t0.Local().Format("15:04:05")
	assert.Equal(t, clock+" client hello", lines[0], "no colour codes when not a terminal")
	assert.True(t, strings.HasPrefix(lines[1], clock+" server {"))
	assert.Contains(t, lines[1], `"method": "initialized"`)
}

func TestMetricsSink(t *testing.T) {
	s := NewMetricsSink()
	ctx := context.Background()

	writes := []*Entry{
		entry(t, api.SourceClient, t0, `{"id":1,"method":"textDocument/hover"}`),
		entry(t, api.SourceServer, t0.Add(250*time.Millisecond), `{"id":1,"result":null}`),
		entry(t, api.SourceClient, t0, `{"method":"textDocument/didOpen"}`),
		entry(t, api.SourceClient, t0, `{"method":"textDocument/didOpen"}`),
		entry(t, api.SourceServer, t0, `{"id":99,"result":{}}`),
	}
	for _, e := range writes {
		require.NoError(t, s.Write(ctx, e))
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(s.requests.WithLabelValues("s1", "client", "textDocument/hover")))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.notifications.WithLabelValues("s1", "client", "textDocument/didOpen")))
	assert.Equal(t, 1, testutil.CollectAndCount(s.duration, "lsp_request_duration_seconds"), "unmatched responses are not observed")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `lsp_request_duration_seconds_sum{method="textDocument/hover",session="s1",source="client"} 0.25`)
}

func TestSQLiteSink(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.db")
	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	bodies := []struct {
		source api.Source
		body   string
	}{
		{api.SourceClient, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"processId":null}}`},
		{api.SourceServer, `{"jsonrpc":"2.0","id":1,"result":null}`},
		{api.SourceClient, `{"jsonrpc":"2.0","method":"initialized","params":{}}`},
		{api.SourceServer, `{"jsonrpc":"2.0","id":"abc","method":"workspace/configuration","params":{"items":[]}}`},
		{api.SourceClient, `{"jsonrpc":"2.0","id":"abc","error":{"code":-32601,"message":"nope"}}`},
	}
	for i, b := range bodies {
		require.NoError(t, s.Write(ctx, entry(t, b.source, t0.Add(time.Duration(i)*time.Second), b.body)))
	}

	t.Run("column types", func(t *testing.T) {
		rows, err := s.db.QueryContext(ctx, `SELECT typeof(id), typeof(method), typeof(result_json) FROM protocol ORDER BY rowid`)
		require.NoError(t, err)
		defer rows.Close()

		var got []string
		for rows.Next() {
			var id, method, result string
			require.NoError(t, rows.Scan(&id, &method, &result))
			got = append(got, id+","+method+","+result)
		}
		require.NoError(t, rows.Err())
		assert.Equal(t, []string{
			"integer,text,null",
			"integer,null,null",
			"null,text,null",
			"text,text,null",
			"text,null,null",
		}, got)
	})

	t.Run("requests view", func(t *testing.T) {
		var method string
		var errJSON *string
		row := s.db.QueryRowContext(ctx, `SELECT method, error_json FROM requests WHERE id = 'abc'`)
		require.NoError(t, row.Scan(&method, &errJSON))
		assert.Equal(t, "workspace/configuration", method)
		require.NotNil(t, errJSON)
		assert.JSONEq(t, `{"code":-32601,"message":"nope"}`, *errJSON)
	})

	t.Run("read back", func(t *testing.T) {
		sessions, err := s.Sessions(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"s1"}, sessions)

		rows, err := s.Messages(ctx, "s1", 0)
		require.NoError(t, err)
		require.Len(t, rows, len(bodies))

		for i, r := range rows {
			m, err := r.Captured()
			require.NoError(t, err)
			assert.Equal(t, bodies[i].source, m.Source)
			assert.True(t, m.Timestamp.Equal(t0.Add(time.Duration(i)*time.Second)))
		}

		body, err := rows[0].Body()
		require.NoError(t, err)
		assert.JSONEq(t, bodies[0].body, string(body))

		after, err := s.Messages(ctx, "", rows[2].RowID)
		require.NoError(t, err)
		assert.Len(t, after, 2)
	})
}

func newLiveServer(t *testing.T) (*LiveSink, *httptest.Server) {
	t.Helper()
	s := NewLiveSink("127.0.0.1:0", slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv
}

func TestLiveSink_Pages(t *testing.T) {
	s, srv := newLiveServer(t)
	require.NoError(t, s.Write(context.Background(), entry(t, api.SourceClient, t0, `{"id":1,"method":"textDocument/hover"}`)))

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	page, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(page), "textDocument/hover")

	resp, err = http.Get(srv.URL + "/api/v1/messages")
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.JSONEq(t, `[{
		"session":"s1","timestamp":"2024-05-06T07:08:09Z","source":"client",
		"id":1,"method":"textDocument/hover",
		"text":"{\"id\":1,\"method\":\"textDocument/hover\"}"
	}]`, string(data))

	resp, err = http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLiveSink_WebSocket(t *testing.T) {
	s, srv := newLiveServer(t)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool { return s.Hub().Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Write(context.Background(), entry(t, api.SourceServer, t0, `{"id":1,"result":{"contents":"hi"}}`)))

	var note struct {
		JSONRPC string      `json:"jsonrpc"`
		Method  string      `json:"method"`
		Params  LiveMessage `json:"params"`
	}
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.ReadJSON(&note))
	assert.Equal(t, "2.0", note.JSONRPC)
	assert.Equal(t, LiveMethod, note.Method)
	assert.Equal(t, "server", note.Params.Source)
	assert.JSONEq(t, `{"contents":"hi"}`, string(note.Params.Result))

	ws.Close()
	require.Eventually(t, func() bool { return s.Hub().Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestLiveSink_Events(t *testing.T) {
	s, srv := newLiveServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	require.Eventually(t, func() bool { return s.Hub().Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Write(context.Background(), entry(t, api.SourceClient, t0, `{"method":"initialized"}`)))

	sc := bufio.NewScanner(resp.Body)
	var data string
	for sc.Scan() {
		if d, ok := strings.CutPrefix(sc.Text(), "data:"); ok {
			data = strings.TrimSpace(d)
			break
		}
	}
	require.NotEmpty(t, data)
	assert.Contains(t, data, `"method":"initialized"`)
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(3)
	ch, cancel := h.Subscribe()
	defer cancel()

	for i := 0; i < 200; i++ {
		h.Publish(&LiveMessage{Method: "m"})
	}
	assert.Len(t, ch, 100)
	assert.Len(t, h.Recent(), 3)

	cancel()
	cancel()
	assert.Equal(t, 0, h.Subscribers())
}
