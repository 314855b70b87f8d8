// Package stdio implements the agent: a transparent proxy between an editor
// on our stdin/stdout and a language server subprocess.
package stdio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/swyddfa/lsp-devtools/api"
	"github.com/swyddfa/lsp-devtools/internal/framing"
	"github.com/swyddfa/lsp-devtools/internal/jsonrpc"
)

const (
	DefaultTerminateTimeout = 5 * time.Second
	DefaultDrainTimeout     = time.Second
	DefaultQueueSize        = 1024
)

// Proxy forwards framed messages verbatim in both directions and hands a
// tagged copy of each one to a MessageHandler.
type Proxy struct {
	logger  *slog.Logger
	handler MessageHandler

	clientIn  io.Reader
	clientOut io.Writer

	terminateTimeout time.Duration
	drainTimeout     time.Duration
	procOpts         []ProcessOption
	newSessionID     func() string

	queue   chan *api.CapturedMessage
	dropped atomic.Uint64

	mu      sync.Mutex
	session string

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithIO replaces os.Stdin and os.Stdout as the editor side of the proxy.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(p *Proxy) {
		p.clientIn = in
		p.clientOut = out
	}
}

// WithTerminateTimeout sets how long Stop waits after SIGTERM before SIGKILL.
func WithTerminateTimeout(d time.Duration) Option {
	return func(p *Proxy) { p.terminateTimeout = d }
}

// WithDrainTimeout sets how long server output may still be forwarded after
// the server has exited, and how long queued messages may then still be
// handed to the handler.
func WithDrainTimeout(d time.Duration) Option {
	return func(p *Proxy) { p.drainTimeout = d }
}

// WithQueueSize sets how many captured messages may wait for the handler
// before new ones are dropped.
func WithQueueSize(n int) Option {
	return func(p *Proxy) { p.queue = make(chan *api.CapturedMessage, n) }
}

// WithProcessOptions passes options through to StartProcess.
func WithProcessOptions(opts ...ProcessOption) Option {
	return func(p *Proxy) { p.procOpts = append(p.procOpts, opts...) }
}

// WithSessionIDs overrides how session ids are generated.
func WithSessionIDs(next func() string) Option {
	return func(p *Proxy) { p.newSessionID = next }
}

// NewProxy creates a new stdio proxy.
func NewProxy(logger *slog.Logger, handler MessageHandler, opts ...Option) *Proxy {
	p := &Proxy{
		logger:           logger,
		handler:          handler,
		clientIn:         os.Stdin,
		clientOut:        os.Stdout,
		terminateTimeout: DefaultTerminateTimeout,
		drainTimeout:     DefaultDrainTimeout,
		newSessionID:     uuid.NewString,
		queue:            make(chan *api.CapturedMessage, DefaultQueueSize),
		stopCh:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.session = p.newSessionID()
	return p
}

// Session returns the current session id.
func (p *Proxy) Session() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// Dropped returns how many captured messages were discarded because the
// handler fell behind.
func (p *Proxy) Dropped() uint64 { return p.dropped.Load() }

// Stop shuts the proxy down. The server is sent SIGTERM and killed if it is
// still running after the terminate timeout. Stop may be called many times.
func (p *Proxy) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// Run starts the server and proxies until it exits, Stop is called or ctx is
// cancelled. It returns an *ExitError if the server exited on its own, nil
// after Stop and ctx.Err() on cancellation.
func (p *Proxy) Run(ctx context.Context, command string, args []string) error {
	proc, err := StartProcess(command, args, p.procOpts...)
	if err != nil {
		return err
	}
	defer func() {
		_ = proc.Kill()
	}()

	p.logger.Info("started server", "command", command, "pid", proc.Pid())

	// The handler keeps working through queued messages after ctx is
	// cancelled, but only until the final drain gives up.
	hctx, cancelHandler := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelHandler()

	closing := make(chan struct{})
	dispatched := make(chan struct{})
	go func() {
		p.dispatch(hctx, closing)
		close(dispatched)
	}()

	// Client: our stdin → server stdin. Closing the server's stdin on EOF
	// lets it see the editor go away.
	go func() {
		err := p.pipe(api.SourceClient, p.clientIn, proc.Stdin())
		if err != nil {
			p.logger.Debug("client pipe closed", "error", err)
		}
		_ = proc.Stdin().Close()
	}()

	// Server: server stdout → our stdout.
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- p.pipe(api.SourceServer, proc.Stdout(), p.clientOut)
	}()

	var result error
	select {
	case <-proc.Exited():
		code := proc.ExitCode()
		p.logger.Info("server exited", "code", code)
		result = &ExitError{Code: code}
	case <-p.stopCh:
		p.logger.Info("stopping server")
		if err := proc.Stop(p.terminateTimeout); err != nil {
			p.logger.Error("stopping server", "error", err)
		}
	case <-ctx.Done():
		p.logger.Info("stopping server", "reason", ctx.Err())
		if err := proc.Stop(p.terminateTimeout); err != nil {
			p.logger.Error("stopping server", "error", err)
		}
		result = ctx.Err()
	}

	p.drain(serverDone)
	// Unblocks the server pump when a grandchild still holds stdout open.
	_ = proc.Stdout().Close()
	p.closeClient()

	close(closing)
	p.awaitDispatch(dispatched)
	return result
}

// drain gives the server pump a bounded time to forward output the server
// wrote before exiting.
func (p *Proxy) drain(done <-chan error) {
	timer := time.NewTimer(p.drainTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			p.logger.Debug("server pipe closed", "error", err)
		}
	case <-timer.C:
		p.logger.Debug("server output still open after exit")
	}
}

// awaitDispatch gives the handler a bounded time to finish with the queue.
// Whatever is still queued afterwards is dropped; a handler call that is
// still running is not waited for.
func (p *Proxy) awaitDispatch(done <-chan struct{}) {
	timer := time.NewTimer(p.drainTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		n := len(p.queue)
		p.dropped.Add(uint64(n))
		p.logger.Warn("message handler still busy, dropping queued messages", "queued", n)
	}
}

// closeClient unblocks the client pump and closes our side of the editor link.
func (p *Proxy) closeClient() {
	if d, ok := p.clientIn.(interface{ SetReadDeadline(time.Time) error }); ok {
		_ = d.SetReadDeadline(time.Now())
	}
	if c, ok := p.clientOut.(io.Closer); ok {
		_ = c.Close()
	}
}

// pipe forwards messages from src to dst until src ends.
func (p *Proxy) pipe(source api.Source, src io.Reader, dst io.Writer) error {
	reader := framing.NewReader(src)

	for {
		raw, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		var fe *framing.FramingError
		if errors.As(err, &fe) {
			p.logger.Error("framing error, no longer reading", "source", source, "error", err)
			return err
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", source, err)
		}

		// Tag before forwarding so that a reply can never be seen before
		// the session change its request caused.
		captured := p.tag(source, raw)

		if _, err := dst.Write(raw.Bytes()); err != nil {
			return fmt.Errorf("forwarding %s message: %w", source, err)
		}
		if f, ok := dst.(interface{ Flush() error }); ok {
			if err := f.Flush(); err != nil {
				return fmt.Errorf("flushing %s message: %w", source, err)
			}
		}

		if captured != nil {
			p.enqueue(captured)
		}
	}
}

// tag decodes a message and stamps it with its source, session and time.
// Bodies that are not JSON-RPC are forwarded but not captured.
func (p *Proxy) tag(source api.Source, raw *framing.RawMessage) *api.CapturedMessage {
	msg, err := jsonrpc.Parse(raw.Body)
	if err != nil {
		p.logger.Debug("not capturing message", "source", source, "error", err)
		return nil
	}
	return &api.CapturedMessage{
		Source:    source,
		Session:   p.sessionFor(source, msg),
		Timestamp: time.Now(),
		Body:      raw.Body,
		Message:   msg,
	}
}

func (p *Proxy) enqueue(m *api.CapturedMessage) {
	select {
	case p.queue <- m:
	default:
		p.dropped.Add(1)
		p.logger.Debug("handler queue full, dropping message", "source", m.Source, "method", m.Message.Method)
	}
}

// sessionFor returns the session a message belongs to. An initialize request
// from the client starts a new session and carries the new id.
func (p *Proxy) sessionFor(source api.Source, msg *api.JSONRPCMessage) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if source == api.SourceClient && msg.IsRequest() && msg.Method == "initialize" {
		p.session = p.newSessionID()
		p.logger.Debug("new session", "session", p.session)
	}
	return p.session
}

// dispatch hands queued messages to the handler until closing is closed and
// the queue is empty, or ctx is cancelled.
func (p *Proxy) dispatch(ctx context.Context, closing <-chan struct{}) {
	for {
		select {
		case m := <-p.queue:
			if ctx.Err() != nil {
				return
			}
			p.handle(ctx, m)
		case <-closing:
			for ctx.Err() == nil {
				select {
				case m := <-p.queue:
					p.handle(ctx, m)
				default:
					return
				}
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *Proxy) handle(ctx context.Context, m *api.CapturedMessage) {
	if p.handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("message handler panicked", "source", m.Source, "panic", r)
		}
	}()
	p.handler.HandleMessage(ctx, m)
}
