// Package tui is an interactive browser for captured LSP messages.
package tui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/tidwall/pretty"

	"github.com/swyddfa/lsp-devtools/api"
	"github.com/swyddfa/lsp-devtools/internal/jsonrpc"
)

// MessageMsg delivers one captured message to a running program.
type MessageMsg struct {
	Message *api.CapturedMessage
}

// MessagesMsg delivers a batch, for example rows loaded from a database.
type MessagesMsg []*api.CapturedMessage

var (
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	detailStyle = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderTop(true).BorderForeground(lipgloss.Color("240"))
)

// Model is the bubbletea model of the message browser.
type Model struct {
	table  table.Model
	detail viewport.Model

	messages []*api.CapturedMessage
	tracker  *jsonrpc.Tracker
	session  string

	showDetail    bool
	width, height int
}

// New creates an empty browser.
func New() Model {
	t := table.New(
		table.WithColumns(columns(80)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true)
	t.SetStyles(styles)

	return Model{
		table:   t,
		detail:  viewport.New(80, 10),
		tracker: jsonrpc.NewTracker(),
		width:   80,
		height:  24,
	}
}

func columns(width int) []table.Column {
	method := width - 12 - 8 - 8 - 8
	if method < 20 {
		method = 20
	}
	return []table.Column{
		{Title: "Time", Width: 12},
		{Title: "Source", Width: 8},
		{Title: "ID", Width: 8},
		{Title: "Method", Width: method},
	}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil

	case MessageMsg:
		m.append(msg.Message)
		return m, nil

	case MessagesMsg:
		for _, c := range msg {
			m.append(c)
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "enter":
			m.showDetail = !m.showDetail
			m.layout()
			m.refreshDetail()
			return m, nil
		case "esc":
			if m.showDetail {
				m.showDetail = false
				m.layout()
				return m, nil
			}
		case "pgup", "pgdown":
			if m.showDetail {
				var cmd tea.Cmd
				m.detail, cmd = m.detail.Update(msg)
				return m, cmd
			}
		}
	}

	before := m.table.Cursor()
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	if m.table.Cursor() != before {
		m.refreshDetail()
	}
	return m, cmd
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.table.View())
	b.WriteByte('\n')
	if m.showDetail {
		b.WriteString(detailStyle.Render(m.detail.View()))
		b.WriteByte('\n')
	}
	b.WriteString(helpStyle.Render("↑/↓ select • enter details • pgup/pgdown scroll • q quit"))
	return b.String()
}

// Selected returns the message under the cursor, or nil when there is none.
func (m Model) Selected() *api.CapturedMessage {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.messages) {
		return nil
	}
	return m.messages[i]
}

// Len returns the number of messages shown.
func (m Model) Len() int { return len(m.messages) }

// DetailVisible reports whether the detail pane is open.
func (m Model) DetailVisible() bool { return m.showDetail }

func (m *Model) append(c *api.CapturedMessage) {
	if c == nil {
		return
	}
	if c.Message == nil {
		msg, err := jsonrpc.Parse(c.Body)
		if err != nil {
			return
		}
		c.Message = msg
	}
	if c.Session != m.session {
		m.tracker.Reset()
		m.session = c.Session
	}

	// Keep following the newest message when the cursor is on the last row.
	follow := len(m.messages) == 0 || m.table.Cursor() == len(m.messages)-1

	m.messages = append(m.messages, c)
	rows := append(m.table.Rows(), m.row(c))
	m.table.SetRows(rows)
	if follow {
		m.table.SetCursor(len(rows) - 1)
		m.refreshDetail()
	}
}

func (m *Model) row(c *api.CapturedMessage) table.Row {
	method := m.tracker.Resolve(c.Source, c.Message)
	if t := c.Message.Type(); t == api.MessageTypeResult || t == api.MessageTypeError {
		method = "↳ " + method
	}
	return table.Row{
		c.Timestamp.Local().Format("15:04:05.000"),
		string(c.Source),
		string(pretty.Ugly(c.Message.ID)),
		method,
	}
}

func (m *Model) refreshDetail() {
	sel := m.Selected()
	if sel == nil {
		m.detail.SetContent("")
		return
	}
	m.detail.SetContent(string(pretty.PrettyOptions(sel.Body, &pretty.Options{Width: 80, Indent: "  "})))
	m.detail.GotoTop()
}

func (m *Model) layout() {
	help := 1
	tableHeight := m.height - help - 1
	if m.showDetail {
		tableHeight = (m.height - help) / 2
		m.detail.Width = m.width
		m.detail.Height = m.height - help - tableHeight - 2
	}
	if tableHeight < 3 {
		tableHeight = 3
	}
	m.table.SetHeight(tableHeight)
	m.table.SetWidth(m.width)
	m.table.SetColumns(columns(m.width))
}

// Run starts the browser and returns once the user quits or ctx is
// cancelled. feed is called with the running program so messages can be
// sent to it with Send.
func Run(ctx context.Context, feed func(p *tea.Program)) error {
	p := tea.NewProgram(New(), tea.WithAltScreen(), tea.WithContext(ctx))
	if feed != nil {
		go feed(p)
	}
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
