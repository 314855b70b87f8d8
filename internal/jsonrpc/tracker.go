package jsonrpc

import (
	"container/list"
	"sync"
	"time"

	"github.com/swyddfa/lsp-devtools/api"
)

const (
	// DefaultMaxPending bounds the in-flight requests remembered per direction.
	DefaultMaxPending = 4096

	// DefaultPendingTTL is how long an unanswered request is remembered.
	DefaultPendingTTL = 5 * time.Minute
)

type pending struct {
	key       string
	method    string
	requested time.Time

	// seen is the tracker's clock at record time and drives expiry.
	seen time.Time
}

type table struct {
	byID  map[string]*list.Element
	order *list.List
}

func newTable() *table {
	return &table{byID: make(map[string]*list.Element), order: list.New()}
}

// Tracker correlates responses with the requests that caused them.
//
// Requests are recorded in the table of the side that issued them; a response
// is looked up in the table of the opposite side. Both sides may use the same
// id concurrently without colliding.
type Tracker struct {
	mu     sync.Mutex
	tables map[api.Source]*table
	max    int
	ttl    time.Duration
	now    func() time.Time
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithMaxPending sets the per-direction limit. The oldest entry is evicted
// when a new request would exceed it.
func WithMaxPending(n int) TrackerOption {
	return func(t *Tracker) { t.max = n }
}

// WithPendingTTL sets how long a request may go unanswered. Zero disables expiry.
func WithPendingTTL(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.ttl = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates an empty Tracker.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		max: DefaultMaxPending,
		ttl: DefaultPendingTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.Reset()
	return t
}

// Correlation describes how a message relates to earlier requests.
type Correlation struct {
	// Method is the message's own method, or for results and errors the
	// method of the request they answer ("" if unknown).
	Method string

	// RequestedAt is when the answered request was seen. It is only set
	// when Matched is true.
	RequestedAt time.Time
	Matched     bool
}

// Resolve returns the method associated with msg, which was sent by source.
// Requests are remembered until answered. Results and errors return the
// method of the matching request, or "" if none is known.
func (t *Tracker) Resolve(source api.Source, msg *api.JSONRPCMessage) string {
	return t.CorrelateAt(source, msg, t.now()).Method
}

// CorrelateAt is like Resolve but reports when an answered request was made,
// taking at as the request's time. Expiry always follows the tracker's own
// clock, so messages stamped in the past still correlate.
func (t *Tracker) CorrelateAt(source api.Source, msg *api.JSONRPCMessage, at time.Time) Correlation {
	switch msg.Type() {
	case api.MessageTypeNotification:
		return Correlation{Method: msg.Method}
	case api.MessageTypeRequest:
		t.record(source, msg.IDKey(), msg.Method, at)
		return Correlation{Method: msg.Method}
	default:
		p, ok := t.take(source.Opposite(), msg.IDKey())
		if !ok {
			return Correlation{}
		}
		return Correlation{Method: p.method, RequestedAt: p.requested, Matched: true}
	}
}

// Pending returns the number of unanswered requests issued by source.
func (t *Tracker) Pending(source api.Source) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expire(t.tables[source])
	return t.tables[source].order.Len()
}

// Reset forgets every in-flight request.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tables = map[api.Source]*table{
		api.SourceClient: newTable(),
		api.SourceServer: newTable(),
	}
}

func (t *Tracker) record(source api.Source, key, method string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tbl := t.tables[source]
	t.expire(tbl)

	if el, ok := tbl.byID[key]; ok {
		tbl.order.Remove(el)
		delete(tbl.byID, key)
	}
	for t.max > 0 && tbl.order.Len() >= t.max {
		oldest := tbl.order.Front()
		tbl.order.Remove(oldest)
		delete(tbl.byID, oldest.Value.(*pending).key)
	}
	tbl.byID[key] = tbl.order.PushBack(&pending{key: key, method: method, requested: at, seen: t.now()})
}

func (t *Tracker) take(issuer api.Source, key string) (*pending, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tbl := t.tables[issuer]
	t.expire(tbl)

	el, ok := tbl.byID[key]
	if !ok {
		return nil, false
	}
	tbl.order.Remove(el)
	delete(tbl.byID, key)
	return el.Value.(*pending), true
}

// expire drops entries older than the TTL. Entries are ordered by arrival so
// the scan stops at the first live one.
func (t *Tracker) expire(tbl *table) {
	if t.ttl <= 0 {
		return
	}
	cutoff := t.now().Add(-t.ttl)
	for el := tbl.order.Front(); el != nil; el = tbl.order.Front() {
		p := el.Value.(*pending)
		if p.seen.After(cutoff) {
			return
		}
		tbl.order.Remove(el)
		delete(tbl.byID, p.key)
	}
}
