// Package picker is the terminal UI for choosing a suggested command. It
// shows one tab per suggestion source, filters as the user types and
// prints the chosen command.
package picker

import (
	"context"
	"fmt"
	"strings"
	"time"

	catppuccin "github.com/catppuccin/go"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// debounceInterval is the delay after the last keystroke before triggering a fetch.
const debounceInterval = 100 * time.Millisecond

// pickerState represents the current state of the picker's state machine.
type pickerState int

const (
	stateIdle pickerState = iota // Initial state before first fetch
	stateLoading                      // Fetch in progress
	stateLoaded                       // Items loaded successfully (len > 0)
	stateEmpty                        // Fetch succeeded but returned 0 items
	stateError                        // Fetch failed
	stateCancelled                    // User cancelled (Esc / Ctrl+C)
)

// fetchDoneMsg is sent when an async Provider.Fetch completes.
type fetchDoneMsg struct {
	requestID uint64
	items     []Item
	atEnd     bool
	err       error
}

// debounceMsg fires after the debounce timer expires.
type debounceMsg struct {
	id uint64 // Must match current debounceID to be accepted
}

// initMsg is sent by Init() to trigger the first fetch via Update(),
// ensuring state mutations are visible to the Bubble Tea runtime.
type initMsg struct{}

// Model is the Bubble Tea model for the suggestion picker.
type Model struct {
	state     pickerState
	tabs      []Tab
	activeTab int
	items     []Item
	selection int // Index into items; -1 when empty
	input     textinput.Model
	offset    int  // Pagination offset
	atEnd     bool // No more pages from provider
	err       error

	requestID uint64 // Monotonic counter for stale detection
	provider  Provider

	width  int
	height int

	// result holds the selected command after the user presses Enter.
	result string

	// cancelFetch cancels the in-flight Provider.Fetch context.
	cancelFetch context.CancelFunc

	// debounceID tracks the latest debounce timer; only a matching
	// debounceMsg will trigger a fetch.
	debounceID uint64
}

// NewModel creates a new picker Model.
func NewModel(tabs []Tab, provider Provider) Model {
	in := textinput.New()
	in.Prompt = "> "
	in.PromptStyle = queryStyle
	in.Placeholder = "filter"
	in.CharLimit = 256
	in.Focus()

	return Model{
		state:     stateIdle,
		tabs:      tabs,
		selection: -1,
		input:     in,
		provider:  provider,
	}
}

// WithQuery returns a copy of m with the filter pre-filled.
func (m Model) WithQuery(q string) Model {
	m.input.SetValue(q)
	m.input.CursorEnd()
	return m
}

// Result returns the selected command string, or "" if cancelled.
func (m Model) Result() string {
	return m.result
}

// IsCancelled reports whether the user dismissed the picker.
func (m Model) IsCancelled() bool {
	return m.state == stateCancelled
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, func() tea.Msg { return initMsg{} })
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(msg.Width-4, 0)
		return m, nil

	case fetchDoneMsg:
		return m.handleFetchDone(msg)

	case debounceMsg:
		return m.handleDebounce(msg)

	case initMsg:
		return m, m.startFetch()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleKey processes keyboard input. Keys the picker does not bind go
// to the query input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc, tea.KeyCtrlC:
		m.state = stateCancelled
		m.cancelInflight()
		return m, tea.Quit

	case tea.KeyEnter:
		if m.selection >= 0 && m.selection < len(m.items) {
			m.result = m.items[m.selection].Value
		}
		m.cancelInflight()
		return m, tea.Quit

	case tea.KeyUp, tea.KeyCtrlP:
		if m.state != stateLoading && m.selection > 0 {
			m.selection--
		}
		return m, nil

	case tea.KeyDown, tea.KeyCtrlN:
		if m.state != stateLoading && m.selection < len(m.items)-1 {
			m.selection++
		}
		return m, nil

	case tea.KeyPgDown:
		if m.state != stateLoaded || m.atEnd {
			return m, nil
		}
		m.offset += len(m.items)
		m.selection = 0
		return m, m.startFetch()

	case tea.KeyPgUp:
		if m.state == stateLoading || m.offset == 0 {
			return m, nil
		}
		m.offset = max(m.offset-m.listHeight(), 0)
		m.selection = 0
		return m, m.startFetch()

	case tea.KeyTab, tea.KeyShiftTab:
		if len(m.tabs) < 2 {
			return m, nil
		}
		step := 1
		if msg.Type == tea.KeyShiftTab {
			step = len(m.tabs) - 1
		}
		m.activeTab = (m.activeTab + step) % len(m.tabs)
		m.offset = 0
		return m, m.startFetch()
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.input.Value() == before {
		return m, cmd
	}
	m.offset = 0
	return m, tea.Batch(cmd, m.startDebounce())
}

// handleFetchDone processes the result of an async fetch.
func (m Model) handleFetchDone(msg fetchDoneMsg) (tea.Model, tea.Cmd) {
	if msg.requestID != m.requestID {
		return m, nil
	}

	if msg.err != nil {
		m.state = stateError
		m.err = msg.err
		m.items = nil
		m.selection = -1
		return m, nil
	}

	m.items = msg.items
	m.atEnd = msg.atEnd
	if len(m.items) == 0 {
		m.state = stateEmpty
		m.selection = -1
	} else {
		m.state = stateLoaded
		m.clampSelection()
	}
	return m, nil
}

// handleDebounce fires the fetch if the debounce timer is still current.
func (m Model) handleDebounce(msg debounceMsg) (tea.Model, tea.Cmd) {
	if msg.id != m.debounceID {
		return m, nil
	}
	return m, m.startFetch()
}

// startDebounce increments the debounce counter and returns a tea.Tick
// command that fires after debounceInterval.
func (m *Model) startDebounce() tea.Cmd {
	m.debounceID++
	id := m.debounceID
	return tea.Tick(debounceInterval, func(time.Time) tea.Msg {
		return debounceMsg{id: id}
	})
}

// startFetch cancels any in-flight fetch, increments requestID, and
// returns a tea.Cmd that calls the provider.
func (m *Model) startFetch() tea.Cmd {
	m.cancelInflight()
	m.requestID++
	m.state = stateLoading

	reqID := m.requestID
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelFetch = cancel

	tab := m.currentTab()
	req := Request{
		RequestID: reqID,
		Query:     m.input.Value(),
		TabID:     tab.ID,
		Options:   tab.Args,
		Limit:     m.listHeight(),
		Offset:    m.offset,
	}

	p := m.provider
	return func() tea.Msg {
		resp, err := p.Fetch(ctx, req)
		if err != nil {
			return fetchDoneMsg{requestID: reqID, err: err}
		}
		return fetchDoneMsg{requestID: reqID, items: resp.Items, atEnd: resp.AtEnd}
	}
}

// cancelInflight cancels any in-progress fetch context.
func (m *Model) cancelInflight() {
	if m.cancelFetch != nil {
		m.cancelFetch()
		m.cancelFetch = nil
	}
}

// clampSelection ensures the selection index is within bounds.
func (m *Model) clampSelection() {
	if len(m.items) == 0 {
		m.selection = -1
		return
	}
	m.selection = min(max(m.selection, 0), len(m.items)-1)
}

func (m Model) currentTab() Tab {
	if m.activeTab >= 0 && m.activeTab < len(m.tabs) {
		return m.tabs[m.activeTab]
	}
	return Tab{ID: TabPredict, Label: "Predicted"}
}

// listHeight returns the number of visible list rows.
func (m Model) listHeight() int {
	// tab bar, status line and query line
	const chrome = 3
	h := m.height - chrome
	if h < 1 {
		h = 20 // before the first WindowSizeMsg
	}
	return h
}

// --- View rendering ---

// palette picks the Catppuccin Latte or Mocha variant of a color to
// match the terminal background.
func palette(pick func(catppuccin.Flavour) catppuccin.Color) lipgloss.AdaptiveColor {
	return lipgloss.AdaptiveColor{Light: pick(catppuccin.Latte).Hex, Dark: pick(catppuccin.Mocha).Hex}
}

var (
	activeTabStyle   = lipgloss.NewStyle().Bold(true).Foreground(palette(catppuccin.Flavour.Base)).Background(palette(catppuccin.Flavour.Mauve))
	inactiveTabStyle = lipgloss.NewStyle().Foreground(palette(catppuccin.Flavour.Overlay1))
	selectedStyle    = lipgloss.NewStyle().Bold(true).Foreground(palette(catppuccin.Flavour.Text))
	normalStyle      = lipgloss.NewStyle().Foreground(palette(catppuccin.Flavour.Subtext0))
	queryStyle       = lipgloss.NewStyle().Foreground(palette(catppuccin.Flavour.Peach))
	errorStyle       = lipgloss.NewStyle().Foreground(palette(catppuccin.Flavour.Red))
	dimStyle         = lipgloss.NewStyle().Foreground(palette(catppuccin.Flavour.Overlay0))
)

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.viewTabBar())
	b.WriteRune('\n')
	b.WriteString(m.viewContent())
	b.WriteRune('\n')
	b.WriteString(m.viewStatus())
	b.WriteRune('\n')
	b.WriteString(m.input.View())
	return b.String()
}

func (m Model) viewTabBar() string {
	parts := make([]string, 0, len(m.tabs))
	for i, tab := range m.tabs {
		label := " " + tab.Label + " "
		if i == m.activeTab {
			parts = append(parts, activeTabStyle.Render(label))
		} else {
			parts = append(parts, inactiveTabStyle.Render(label))
		}
	}
	return strings.Join(parts, " ")
}

func (m Model) viewContent() string {
	switch m.state {
	case stateIdle, stateLoading:
		return dimStyle.Render("Loading...")
	case stateEmpty:
		return dimStyle.Render("No suggestions")
	case stateError:
		msg := "Error"
		if m.err != nil {
			msg = fmt.Sprintf("Error: %s", m.err)
		}
		return errorStyle.Render(msg)
	case stateCancelled:
		return dimStyle.Render("Cancelled")
	case stateLoaded:
		return m.viewList()
	}
	return ""
}

func (m Model) viewList() string {
	rows := make([]string, 0, len(m.items))
	for i, item := range m.items {
		if i >= m.listHeight() {
			break
		}
		display := item.label()
		if m.width > 4 {
			display = MiddleTruncate(display, m.width-4)
		}
		if i == m.selection {
			rows = append(rows, selectedStyle.Render("> "+display))
		} else {
			rows = append(rows, normalStyle.Render("  "+display))
		}
	}
	return strings.Join(rows, "\n")
}

func (m Model) viewStatus() string {
	if m.state != stateLoaded {
		return ""
	}
	status := fmt.Sprintf("%d-%d", m.offset+1, m.offset+len(m.items))
	if !m.atEnd {
		status += " · PgDn for more"
	}
	return dimStyle.Render(status + " · Tab to switch · Enter to select")
}
