package sink

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/swyddfa/lsp-devtools/api"
	"github.com/swyddfa/lsp-devtools/internal/jsonrpc"
)

// The id column has no declared type so integer and string ids keep their
// JSON type.
const schema = `
CREATE TABLE IF NOT EXISTS protocol (
    session     TEXT,
    timestamp   TEXT,
    source      TEXT,
    id,
    method      TEXT,
    params_json TEXT,
    result_json TEXT,
    error_json  TEXT
);

CREATE INDEX IF NOT EXISTS protocol_session ON protocol (session);

CREATE VIEW IF NOT EXISTS requests AS
SELECT
    req.session,
    req.timestamp AS started,
    res.timestamp AS finished,
    req.source,
    req.id,
    req.method,
    req.params_json,
    res.result_json,
    res.error_json
FROM protocol AS req
LEFT JOIN protocol AS res
    ON res.session = req.session
    AND res.id = req.id
    AND res.source != req.source
    AND res.method IS NULL
WHERE req.method IS NOT NULL AND req.id IS NOT NULL;

CREATE VIEW IF NOT EXISTS notifications AS
SELECT session, timestamp, source, method, params_json
FROM protocol
WHERE id IS NULL AND method IS NOT NULL;
`

// SQLiteSink stores one row per message in the protocol table.
type SQLiteSink struct {
	db   *sql.DB
	stmt *sql.Stmt
}

// OpenSQLite opens or creates the database at path and ensures the schema
// exists.
func OpenSQLite(ctx context.Context, path string) (*SQLiteSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Writes are serialised through a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	stmt, err := db.PrepareContext(ctx, `INSERT INTO protocol
		(session, timestamp, source, id, method, params_json, result_json, error_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing insert: %w", err)
	}
	return &SQLiteSink{db: db, stmt: stmt}, nil
}

func (s *SQLiteSink) Write(ctx context.Context, e *Entry) error {
	m := e.Message
	msg := m.Message
	if msg == nil {
		return fmt.Errorf("message has no decoded envelope")
	}

	id, err := idValue(msg.ID)
	if err != nil {
		return err
	}
	var method any
	if msg.HasMethod() {
		method = msg.Method
	}

	_, err = s.stmt.ExecContext(ctx,
		m.Session,
		m.Timestamp.UTC().Format(api.TimestampLayout),
		string(m.Source),
		id,
		method,
		nullJSON(msg.Params),
		nullJSON(msg.Result),
		nullJSON(msg.Error),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

func (s *SQLiteSink) Close() error {
	s.stmt.Close()
	return s.db.Close()
}

// Sessions lists the recorded sessions, oldest first.
func (s *SQLiteSink) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session FROM protocol GROUP BY session ORDER BY MIN(rowid)`)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var session string
		if err := rows.Scan(&session); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// Row is one stored message.
type Row struct {
	RowID     int64
	Session   string
	Timestamp time.Time
	Source    api.Source
	ID        any
	Method    sql.NullString
	Params    sql.NullString
	Result    sql.NullString
	Error     sql.NullString
}

// Messages returns the rows after afterRow, in insertion order. An empty
// session matches every session.
func (s *SQLiteSink) Messages(ctx context.Context, session string, afterRow int64) ([]*Row, error) {
	query := `SELECT rowid, session, timestamp, source, id, method, params_json, result_json, error_json
		FROM protocol WHERE rowid > ?`
	args := []any{afterRow}
	if session != "" {
		query += ` AND session = ?`
		args = append(args, session)
	}
	query += ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var out []*Row
	for rows.Next() {
		var (
			r       Row
			ts, src string
		)
		if err := rows.Scan(&r.RowID, &r.Session, &ts, &src, &r.ID, &r.Method, &r.Params, &r.Result, &r.Error); err != nil {
			return nil, err
		}
		r.Timestamp, err = time.Parse(api.TimestampLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid timestamp %q: %w", r.RowID, ts, err)
		}
		r.Source = api.Source(src)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// Body rebuilds the JSON-RPC message the row was stored from. Fields that were
// stored as NULL are left out.
func (r *Row) Body() ([]byte, error) {
	env := struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      any             `json:"id,omitempty"`
		Method  string          `json:"method,omitempty"`
		Params  json.RawMessage `json:"params,omitempty"`
		Result  json.RawMessage `json:"result,omitempty"`
		Error   json.RawMessage `json:"error,omitempty"`
	}{
		JSONRPC: "2.0",
		Method:  r.Method.String,
	}
	switch id := r.ID.(type) {
	case []byte:
		env.ID = string(id)
	default:
		env.ID = id
	}
	if r.Params.Valid {
		env.Params = json.RawMessage(r.Params.String)
	}
	if r.Result.Valid {
		env.Result = json.RawMessage(r.Result.String)
	}
	if r.Error.Valid {
		env.Error = json.RawMessage(r.Error.String)
	}
	return json.Marshal(env)
}

// Captured converts the row back into a captured message.
func (r *Row) Captured() (*api.CapturedMessage, error) {
	body, err := r.Body()
	if err != nil {
		return nil, err
	}
	msg, err := jsonrpc.Parse(body)
	if err != nil {
		return nil, err
	}
	return &api.CapturedMessage{
		Source:    r.Source,
		Session:   r.Session,
		Timestamp: r.Timestamp,
		Body:      body,
		Message:   msg,
	}, nil
}

// idValue maps a JSON id onto an SQLite value: integers stay integers,
// strings are stored as text and null or absent ids are NULL.
func idValue(raw json.RawMessage) (any, error) {
	if isNull(raw) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decoding id: %w", err)
	}
	switch id := v.(type) {
	case json.Number:
		if n, err := id.Int64(); err == nil {
			return n, nil
		}
		return id.Float64()
	case string:
		return id, nil
	default:
		return string(raw), nil
	}
}

func nullJSON(raw json.RawMessage) any {
	if isNull(raw) {
		return nil
	}
	return string(raw)
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}
