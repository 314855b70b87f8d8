package stdio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/swyddfa/lsp-devtools/api"
	"github.com/swyddfa/lsp-devtools/internal/framing"
)

// TestHelperProcess is not a real test. It is re-executed by the tests below
// as a tiny language server speaking over stdio.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("LSP_DEVTOOLS_HELPER_SERVER") != "1" {
		return
	}

	r := framing.NewReader(os.Stdin)
	w := framing.NewWriter(os.Stdout)
	for {
		raw, err := r.Next()
		if err != nil {
			os.Exit(2)
		}
		var msg struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.Unmarshal(raw.Body, &msg); err != nil {
			continue
		}
		switch msg.Method {
		case "initialize":
			_ = w.WriteMessage([]byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":{"capabilities":{}}}`, msg.ID)))
		case "shutdown":
			_ = w.WriteMessage([]byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":null}`, msg.ID)))
		case "exit":
			code, _ := strconv.Atoi(os.Getenv("LSP_DEVTOOLS_EXIT_CODE"))
			os.Exit(code)
		default:
			_ = w.WriteMessage([]byte(fmt.Sprintf(`{"jsonrpc":"2.0","method":"window/logMessage","params":{"type":4,"message":%q}}`, msg.Method)))
		}
	}
}

func helperCommand(t *testing.T, exitCode int) (string, []string, ProcessOption) {
	t.Helper()
	env := append(os.Environ(),
		"LSP_DEVTOOLS_HELPER_SERVER=1",
		"LSP_DEVTOOLS_EXIT_CODE="+strconv.Itoa(exitCode),
	)
	return os.Args[0], []string{"-test.run=^TestHelperProcess$"}, WithEnv(env)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type collector struct {
	mu   sync.Mutex
	msgs []*api.CapturedMessage
	seen chan struct{}
}

func newCollector() *collector {
	return &collector{seen: make(chan struct{}, 100)}
}

func (c *collector) HandleMessage(_ context.Context, m *api.CapturedMessage) {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
	select {
	case c.seen <- struct{}{}:
	default:
	}
}

func (c *collector) waitFor(t *testing.T, n int) []*api.CapturedMessage {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		c.mu.Lock()
		if len(c.msgs) >= n {
			out := append([]*api.CapturedMessage(nil), c.msgs...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		select {
		case <-c.seen:
		case <-deadline:
			t.Fatalf("timed out waiting for %d captured messages", n)
		}
	}
}

type editor struct {
	in      *os.File // what the proxy reads
	out     *os.File // what the proxy writes
	toProxy *os.File
	reader  *framing.Reader
}

func newEditor(t *testing.T) *editor {
	t.Helper()
	inR, inW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		inR.Close()
		inW.Close()
		outR.Close()
		outW.Close()
	})
	return &editor{in: inR, out: outW, toProxy: inW, reader: framing.NewReader(outR)}
}

func (e *editor) send(t *testing.T, body string) []byte {
	t.Helper()
	data := framing.Encode([]byte(body))
	if _, err := e.toProxy.Write(data); err != nil {
		t.Fatal(err)
	}
	return data
}

func runProxy(p *Proxy, name string, args []string) <-chan error {
	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background(), name, args) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("proxy did not stop")
		return nil
	}
}

func TestProxy_ForwardsBytesThroughServer(t *testing.T) {
	cat, err := exec.LookPath("cat")
	if err != nil {
		t.Skip("cat not available")
	}

	ed := newEditor(t)
	c := newCollector()
	p := NewProxy(newTestLogger(), c, WithIO(ed.in, ed.out))
	done := runProxy(p, cat, nil)

	sent := ed.send(t, `{"jsonrpc":"2.0","method":"textDocument/didOpen","params":{"text":"héllo"}}`)

	got, err := ed.reader.Next()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Bytes(), sent) {
		t.Errorf("bytes changed in transit:\n got %q\nwant %q", got.Bytes(), sent)
	}

	// There is no ordering between directions, only within one.
	sources := map[api.Source]*api.CapturedMessage{}
	for _, m := range c.waitFor(t, 2) {
		sources[m.Source] = m
	}
	for _, src := range []api.Source{api.SourceClient, api.SourceServer} {
		m, ok := sources[src]
		if !ok {
			t.Fatalf("no %s message captured", src)
		}
		if m.Message.Method != "textDocument/didOpen" {
			t.Errorf("%s: unexpected method %q", src, m.Message.Method)
		}
	}

	// Closing the editor side ends cat.
	ed.toProxy.Close()
	var exitErr *ExitError
	if err := waitRun(t, done); !errors.As(err, &exitErr) || exitErr.Code != 0 {
		t.Errorf("expected exit code 0, got %v", err)
	}
}

func TestProxy_ServerExitStopsProxy(t *testing.T) {
	name, args, env := helperCommand(t, 3)
	ed := newEditor(t)
	p := NewProxy(newTestLogger(), newCollector(), WithIO(ed.in, ed.out), WithProcessOptions(env))
	done := runProxy(p, name, args)

	ed.send(t, `{"jsonrpc":"2.0","id":1,"method":"shutdown"}`)
	if _, err := ed.reader.Next(); err != nil {
		t.Fatal(err)
	}
	ed.send(t, `{"jsonrpc":"2.0","method":"exit"}`)

	var exitErr *ExitError
	if err := waitRun(t, done); !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if exitErr.Code != 3 {
		t.Errorf("expected exit code 3, got %d", exitErr.Code)
	}
}

func TestProxy_KilledServerStopsProxy(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	ed := newEditor(t)
	p := NewProxy(newTestLogger(), nil, WithIO(ed.in, ed.out))
	done := runProxy(p, sh, []string{"-c", "kill -KILL $$"})

	var exitErr *ExitError
	if err := waitRun(t, done); !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if exitErr.Code != -9 {
		t.Errorf("expected code -9, got %d", exitErr.Code)
	}
}

func TestProxy_Stop(t *testing.T) {
	cat, err := exec.LookPath("cat")
	if err != nil {
		t.Skip("cat not available")
	}

	ed := newEditor(t)
	p := NewProxy(newTestLogger(), nil, WithIO(ed.in, ed.out), WithTerminateTimeout(time.Second))
	done := runProxy(p, cat, nil)

	p.Stop()
	p.Stop()
	if err := waitRun(t, done); err != nil {
		t.Errorf("expected nil after Stop, got %v", err)
	}
}

func TestProxy_ContextCancel(t *testing.T) {
	cat, err := exec.LookPath("cat")
	if err != nil {
		t.Skip("cat not available")
	}

	ed := newEditor(t)
	p := NewProxy(newTestLogger(), nil, WithIO(ed.in, ed.out))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, cat, nil) }()
	cancel()

	if err := waitRun(t, done); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestProxy_InitializeStartsSession(t *testing.T) {
	name, args, env := helperCommand(t, 0)
	ed := newEditor(t)
	c := newCollector()

	n := 0
	ids := func() string {
		n++
		return fmt.Sprintf("session-%d", n)
	}
	p := NewProxy(newTestLogger(), c, WithIO(ed.in, ed.out), WithProcessOptions(env), WithSessionIDs(ids))
	done := runProxy(p, name, args)

	if got := p.Session(); got != "session-1" {
		t.Fatalf("expected initial session, got %q", got)
	}

	ed.send(t, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	if _, err := ed.reader.Next(); err != nil {
		t.Fatal(err)
	}

	msgs := c.waitFor(t, 2)
	for _, m := range msgs {
		if m.Session != "session-2" {
			t.Errorf("%s message has session %q, expected session-2", m.Source, m.Session)
		}
	}

	ed.send(t, `{"jsonrpc":"2.0","method":"exit"}`)
	waitRun(t, done)
}

func TestProxy_HandlerPanicDoesNotStopForwarding(t *testing.T) {
	cat, err := exec.LookPath("cat")
	if err != nil {
		t.Skip("cat not available")
	}

	ed := newEditor(t)
	h := HandlerFunc(func(context.Context, *api.CapturedMessage) { panic("boom") })
	p := NewProxy(newTestLogger(), h, WithIO(ed.in, ed.out))
	done := runProxy(p, cat, nil)

	for i := 0; i < 3; i++ {
		ed.send(t, fmt.Sprintf(`{"jsonrpc":"2.0","method":"n%d"}`, i))
		if _, err := ed.reader.Next(); err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
	}

	p.Stop()
	waitRun(t, done)
}

func TestProxy_InvalidBodyStillForwarded(t *testing.T) {
	cat, err := exec.LookPath("cat")
	if err != nil {
		t.Skip("cat not available")
	}

	ed := newEditor(t)
	c := newCollector()
	p := NewProxy(newTestLogger(), c, WithIO(ed.in, ed.out))
	done := runProxy(p, cat, nil)

	sent := ed.send(t, `not json`)
	got, err := ed.reader.Next()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Bytes(), sent) {
		t.Errorf("expected invalid body to be forwarded unchanged")
	}

	ed.send(t, `{"jsonrpc":"2.0","method":"ok"}`)
	if _, err := ed.reader.Next(); err != nil {
		t.Fatal(err)
	}
	msgs := c.waitFor(t, 2)
	if msgs[0].Message.Method != "ok" {
		t.Errorf("expected invalid message to be skipped, first capture is %q", msgs[0].Message.Method)
	}

	p.Stop()
	waitRun(t, done)
}

func TestProxy_BlockedHandlerDoesNotStallExit(t *testing.T) {
	cat, err := exec.LookPath("cat")
	if err != nil {
		t.Skip("cat not available")
	}

	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	h := HandlerFunc(func(context.Context, *api.CapturedMessage) { <-block })

	ed := newEditor(t)
	p := NewProxy(newTestLogger(), h, WithIO(ed.in, ed.out), WithDrainTimeout(200*time.Millisecond))
	done := runProxy(p, cat, nil)

	for i := 0; i < 5; i++ {
		ed.send(t, fmt.Sprintf(`{"jsonrpc":"2.0","method":"n%d"}`, i))
		if _, err := ed.reader.Next(); err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
	}

	ed.toProxy.Close()
	select {
	case err := <-done:
		var exitErr *ExitError
		if !errors.As(err, &exitErr) || exitErr.Code != 0 {
			t.Errorf("expected exit code 0, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return while the handler was blocked")
	}
	if p.Dropped() == 0 {
		t.Error("expected queued messages to be counted as dropped")
	}
}

func TestProxy_SlowHandlerDoesNotDelayForwarding(t *testing.T) {
	cat, err := exec.LookPath("cat")
	if err != nil {
		t.Skip("cat not available")
	}

	const delay = time.Second
	h := HandlerFunc(func(context.Context, *api.CapturedMessage) { time.Sleep(delay) })

	ed := newEditor(t)
	p := NewProxy(newTestLogger(), h, WithIO(ed.in, ed.out), WithDrainTimeout(100*time.Millisecond))
	done := runProxy(p, cat, nil)

	start := time.Now()
	for i := 0; i < 5; i++ {
		ed.send(t, fmt.Sprintf(`{"jsonrpc":"2.0","method":"n%d"}`, i))
		if _, err := ed.reader.Next(); err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed >= delay {
		t.Errorf("forwarding took %s, expected it to finish before one handler call", elapsed)
	}

	p.Stop()
	waitRun(t, done)
}

func TestProxy_FramingErrorStopsOneHalf(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	body := `{"jsonrpc":"2.0","method":"ping"}`
	script := fmt.Sprintf(`sleep 0.3; printf 'Content-Length: %d\r\n\r\n%%s' '%s'`, len(body), body)

	ed := newEditor(t)
	c := newCollector()
	p := NewProxy(newTestLogger(), c, WithIO(ed.in, ed.out))
	done := runProxy(p, sh, []string{"-c", script})

	if _, err := ed.toProxy.Write([]byte("garbage header\r\n\r\n")); err != nil {
		t.Fatal(err)
	}

	got, err := ed.reader.Next()
	if err != nil {
		t.Fatalf("server message not delivered after client framing error: %v", err)
	}
	if string(got.Body) != body {
		t.Errorf("unexpected body %q", got.Body)
	}

	msgs := c.waitFor(t, 1)
	if msgs[0].Source != api.SourceServer || msgs[0].Message.Method != "ping" {
		t.Errorf("unexpected capture %s %q", msgs[0].Source, msgs[0].Message.Method)
	}

	var exitErr *ExitError
	if err := waitRun(t, done); !errors.As(err, &exitErr) || exitErr.Code != 0 {
		t.Errorf("expected exit code 0, got %v", err)
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func TestProxy_ExitClosesServerOutput(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	// The background child keeps stdout open after sh itself exits.
	body := `{"jsonrpc":"2.0","method":"late"}`
	script := fmt.Sprintf(`(sleep 0.5; printf 'Content-Length: %d\r\n\r\n%%s' '%s') & exit 0`, len(body), body)

	ed := newEditor(t)
	out := &lockedBuffer{}
	p := NewProxy(newTestLogger(), nil, WithIO(ed.in, out), WithDrainTimeout(100*time.Millisecond))
	done := runProxy(p, sh, []string{"-c", script})

	var exitErr *ExitError
	if err := waitRun(t, done); !errors.As(err, &exitErr) || exitErr.Code != 0 {
		t.Fatalf("expected exit code 0, got %v", err)
	}

	time.Sleep(time.Second)
	if n := out.Len(); n != 0 {
		t.Errorf("expected no output forwarded after Run returned, got %d bytes", n)
	}
}
