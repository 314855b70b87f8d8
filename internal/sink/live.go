package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tmaxmax/go-sse"

	"github.com/swyddfa/lsp-devtools/api"
	"github.com/swyddfa/lsp-devtools/internal/jsonrpc"
)

// LiveMethod is the notification streamed to WebSocket subscribers.
const LiveMethod = "$/lspMessage"

// LiveMessage is the params object of a $/lspMessage notification and the
// element type of /api/v1/messages.
type LiveMessage struct {
	Session   string          `json:"session"`
	Timestamp string          `json:"timestamp"`
	Source    string          `json:"source"`
	ID        json.RawMessage `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`

	// Text is the rendered form, shown on the overview page.
	Text string `json:"text"`
}

func newLiveMessage(e *Entry) *LiveMessage {
	m := e.Message
	lm := &LiveMessage{
		Session:   m.Session,
		Timestamp: m.Timestamp.UTC().Format(api.TimestampLayout),
		Source:    string(m.Source),
		Text:      string(m.Body),
	}
	if e.Formatted {
		lm.Text = e.Text
	}
	if msg := m.Message; msg != nil {
		lm.ID = msg.ID
		lm.Method = msg.Method
		lm.Params = msg.Params
		lm.Result = msg.Result
		lm.Error = msg.Error
	}
	return lm
}

// Hub keeps the most recent messages and fans new ones out to subscribers.
// A subscriber that falls behind misses messages rather than blocking
// publishers.
type Hub struct {
	mu        sync.Mutex
	recent    []*LiveMessage
	maxRecent int

	subMu   sync.RWMutex
	subs    map[int]chan *LiveMessage
	nextSub int
}

// NewHub keeps up to maxRecent messages.
func NewHub(maxRecent int) *Hub {
	if maxRecent <= 0 {
		maxRecent = 500
	}
	return &Hub{
		maxRecent: maxRecent,
		subs:      make(map[int]chan *LiveMessage),
	}
}

// Publish records m and sends it to every subscriber with room for it.
func (h *Hub) Publish(m *LiveMessage) {
	h.mu.Lock()
	if len(h.recent) >= h.maxRecent {
		h.recent = h.recent[1:]
	}
	h.recent = append(h.recent, m)
	h.mu.Unlock()

	h.subMu.RLock()
	defer h.subMu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- m:
		default:
		}
	}
}

// Recent returns a copy of the retained messages, oldest first.
func (h *Hub) Recent() []*LiveMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*LiveMessage(nil), h.recent...)
}

// Subscribe returns a channel of new messages and a function that removes
// the subscription and closes the channel.
func (h *Hub) Subscribe() (<-chan *LiveMessage, func()) {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	ch := make(chan *LiveMessage, 100)
	id := h.nextSub
	h.nextSub++
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.subMu.Lock()
			defer h.subMu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.subMu.RLock()
	defer h.subMu.RUnlock()
	return len(h.subs)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// LiveSink serves recorded messages over HTTP as they arrive.
type LiveSink struct {
	hub    *Hub
	mux    *http.ServeMux
	logger *slog.Logger
	addr   string

	mu       sync.Mutex
	listener net.Listener
}

// NewLiveSink creates a sink that will listen on addr once ListenAndServe
// is called. Extra handlers, such as metrics, can be mounted with Handle.
func NewLiveSink(addr string, logger *slog.Logger) *LiveSink {
	s := &LiveSink{
		hub:    NewHub(500),
		mux:    http.NewServeMux(),
		logger: logger,
		addr:   addr,
	}
	s.registerRoutes()
	return s
}

func (s *LiveSink) registerRoutes() {
	s.mux.HandleFunc("GET /", s.handleOverview)
	s.mux.HandleFunc("GET /events", s.handleEvents)
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
	s.mux.HandleFunc("GET /api/v1/messages", s.handleAPIMessages)
}

// Handle mounts h under pattern.
func (s *LiveSink) Handle(pattern string, h http.Handler) { s.mux.Handle(pattern, h) }

// Handler returns the HTTP handler for embedding in other servers.
func (s *LiveSink) Handler() http.Handler { return s.mux }

// Hub returns the sink's message hub.
func (s *LiveSink) Hub() *Hub { return s.hub }

func (s *LiveSink) Write(_ context.Context, e *Entry) error {
	s.hub.Publish(newLiveMessage(e))
	return nil
}

func (s *LiveSink) Close() error { return nil }

// ListenAndServe serves until ctx is cancelled.
func (s *LiveSink) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	s.logger.Info("serving live view", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Addr returns the listening address, or nil before ListenAndServe.
func (s *LiveSink) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *LiveSink) handleOverview(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	recent := s.hub.Recent()
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}

	var buf bytes.Buffer
	if err := overviewTmpl.Execute(&buf, map[string]any{"Messages": recent}); err != nil {
		http.Error(w, "template error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func (s *LiveSink) handleAPIMessages(w http.ResponseWriter, _ *http.Request) {
	recent := s.hub.Recent()
	if recent == nil {
		recent = []*LiveMessage{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(recent)
}

func (s *LiveSink) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess, err := sse.Upgrade(w, r)
	if err != nil {
		s.logger.Error("failed to upgrade event stream", "error", err)
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, cancel := s.hub.Subscribe()
	defer cancel()

	// Send headers straight away so clients see the stream open.
	if err := sess.Flush(); err != nil {
		return
	}

	for {
		select {
		case m, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(m)
			if err != nil {
				continue
			}
			msg := sse.Message{Type: sse.Type("message")}
			msg.AppendData(string(data))
			if err := sess.Send(&msg); err != nil {
				return
			}
			if err := sess.Flush(); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func (s *LiveSink) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()

	ch, cancel := s.hub.Subscribe()
	defer cancel()

	// Subscribers only listen; reading detects when they go away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case m, ok := <-ch:
			if !ok {
				return
			}
			note, err := jsonrpc.NewNotification(LiveMethod, m)
			if err != nil {
				continue
			}
			ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ws.WriteJSON(note); err != nil {
				s.logger.Debug("websocket subscriber gone", "error", err)
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

var overviewTmpl = template.Must(template.New("overview").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>lsp-devtools</title>
    <style>
        body { font-family: monospace; margin: 1em; }
        .client { color: #c0392b; }
        .server { color: #2471a3; }
        td { padding: 0 .5em; vertical-align: top; }
        pre { margin: 0; white-space: pre-wrap; }
    </style>
</head>
<body>
<h1>lsp-devtools</h1>
<table>
    <thead><tr><th>Time</th><th>Source</th><th>Method</th><th>Message</th></tr></thead>
    <tbody id="messages">
    {{range .Messages}}
        <tr class="{{.Source}}"><td>{{.Timestamp}}</td><td>{{.Source}}</td><td>{{.Method}}</td><td><pre>{{.Text}}</pre></td></tr>
    {{else}}
        <tr id="empty"><td colspan="4">No messages yet.</td></tr>
    {{end}}
    </tbody>
</table>
<script>
const rows = document.getElementById("messages");
new EventSource("/events").onmessage = (ev) => {
    const m = JSON.parse(ev.data);
    document.getElementById("empty")?.remove();
    const tr = document.createElement("tr");
    tr.className = m.source;
    for (const v of [m.timestamp, m.source, m.method || ""]) {
        const td = document.createElement("td");
        td.textContent = v;
        tr.appendChild(td);
    }
    const td = document.createElement("td");
    const pre = document.createElement("pre");
    pre.textContent = m.text;
    td.appendChild(pre);
    tr.appendChild(td);
    rows.prepend(tr);
};
</script>
</body>
</html>
`))
