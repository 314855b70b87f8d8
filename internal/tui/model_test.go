package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/swyddfa/lsp-devtools/api"
)

func captured(source api.Source, body string) *api.CapturedMessage {
	return &api.CapturedMessage{
		Source:    source,
		Session:   "s1",
		Timestamp: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Body:      []byte(body),
	}
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return out
}

func loaded(t *testing.T) Model {
	t.Helper()
	m := update(t, New(), tea.WindowSizeMsg{Width: 100, Height: 30})
	return update(t, m, MessagesMsg{
		captured(api.SourceClient, `{"jsonrpc":"2.0","id":1,"method":"textDocument/hover","params":{}}`),
		captured(api.SourceServer, `{"jsonrpc":"2.0","id":1,"result":{"contents":"docs"}}`),
		captured(api.SourceClient, `{"jsonrpc":"2.0","method":"textDocument/didSave"}`),
	})
}

func TestModel_AppendFollowsNewest(t *testing.T) {
	m := loaded(t)

	if m.Len() != 3 {
		t.Fatalf("Expected 3 messages, got %d", m.Len())
	}
	if got := m.Selected().Message.Method; got != "textDocument/didSave" {
		t.Errorf("Expected cursor on newest message, got %q", got)
	}

	rows := m.table.Rows()
	if rows[1][3] != "↳ textDocument/hover" {
		t.Errorf("Expected response row to show request method, got %q", rows[1][3])
	}
	if rows[1][2] != "1" {
		t.Errorf("Expected ID column 1, got %q", rows[1][2])
	}
}

func TestModel_Navigation(t *testing.T) {
	m := loaded(t)

	m = update(t, m, tea.KeyMsg{Type: tea.KeyUp})
	if got := m.Selected().Message.Type(); got != api.MessageTypeResult {
		t.Errorf("Expected result after moving up, got %s", got)
	}

	// The cursor is no longer on the last row, so new messages do not move it.
	m = update(t, m, MessageMsg{Message: captured(api.SourceServer, `{"jsonrpc":"2.0","method":"window/logMessage"}`)})
	if got := m.Selected().Message.Type(); got != api.MessageTypeResult {
		t.Errorf("Expected selection to stay put, got %s", got)
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	if got := m.Selected().Message.Method; got != "textDocument/didSave" {
		t.Errorf("Expected didSave after moving down, got %q", got)
	}
}

func TestModel_DetailToggle(t *testing.T) {
	m := loaded(t)
	m = update(t, m, tea.KeyMsg{Type: tea.KeyUp})

	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if !m.DetailVisible() {
		t.Fatal("Expected detail pane after enter")
	}
	if view := m.View(); !strings.Contains(view, `"contents": "docs"`) {
		t.Errorf("Expected indented JSON in view, got:\n%s", view)
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.DetailVisible() {
		t.Error("Expected enter to close the detail pane")
	}
}

func TestModel_Quit(t *testing.T) {
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune{'q'}},
		{Type: tea.KeyCtrlC},
	} {
		_, cmd := New().Update(key)
		if cmd == nil {
			t.Fatalf("Expected quit command for %q", key.String())
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("Expected tea.QuitMsg for %q", key.String())
		}
	}
}

func TestModel_SkipsInvalidBodies(t *testing.T) {
	m := update(t, New(), MessageMsg{Message: captured(api.SourceClient, `not json`)})
	if m.Len() != 0 {
		t.Errorf("Expected invalid body to be skipped, got %d messages", m.Len())
	}
	if m.Selected() != nil {
		t.Error("Expected no selection")
	}
}
