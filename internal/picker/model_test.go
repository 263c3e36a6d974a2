package picker

import (
	"context"
	"errors"
	"testing"
	"time"

	catppuccin "github.com/catppuccin/go"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock provider ---

type mockProvider struct {
	items []Item
	atEnd bool
	err   error
	delay time.Duration

	lastReq Request
}

func (p *mockProvider) Fetch(ctx context.Context, req Request) (Response, error) {
	p.lastReq = req
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}
	if p.err != nil {
		return Response{}, p.err
	}
	return Response{RequestID: req.RequestID, Items: p.items, AtEnd: p.atEnd}, nil
}

func items(values ...string) []Item {
	out := make([]Item, len(values))
	for i, v := range values {
		out[i] = Item{Value: v}
	}
	return out
}

func newTestModel(p Provider) Model {
	m := NewModel(DefaultTabs("s1", "/src", "git add ."), p)
	m.width = 80
	m.height = 24
	return m
}

// runCmd executes a tea.Cmd synchronously and returns the resulting message.
func runCmd(cmd tea.Cmd) tea.Msg {
	if cmd == nil {
		return nil
	}
	return cmd()
}

// update feeds msg to m and returns the new model.
func update(m Model, msg tea.Msg) (Model, tea.Cmd) {
	result, cmd := m.Update(msg)
	return result.(Model), cmd
}

// initToLoading runs Init and feeds its initMsg to the model, leaving it
// in stateLoading with the fetch command outstanding.
func initToLoading(t *testing.T, m Model) (Model, tea.Cmd) {
	t.Helper()

	batch, ok := runCmd(m.Init()).(tea.BatchMsg)
	require.True(t, ok, "Init returns a batch")

	var fetchCmd tea.Cmd
	for _, cmd := range batch {
		if _, isInit := runCmd(cmd).(initMsg); isInit {
			m, fetchCmd = update(m, initMsg{})
		}
	}
	require.Equal(t, stateLoading, m.state)
	require.NotNil(t, fetchCmd)
	return m, fetchCmd
}

// initAndLoad runs the full Init -> fetch cycle.
func initAndLoad(t *testing.T, m Model) Model {
	t.Helper()
	m, fetchCmd := initToLoading(t, m)
	m, _ = update(m, runCmd(fetchCmd))
	return m
}

func typeText(m Model, s string) (Model, tea.Cmd) {
	var cmd tea.Cmd
	for _, r := range s {
		m, cmd = update(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	return m, cmd
}

// --- State Transition Tests ---

func TestInitialState(t *testing.T) {
	t.Parallel()

	m := newTestModel(&mockProvider{})
	assert.Equal(t, stateIdle, m.state)
	assert.Equal(t, -1, m.selection)
	assert.Contains(t, m.View(), "Loading...")
}

func TestInit_Loads(t *testing.T) {
	t.Parallel()

	p := &mockProvider{items: items("ls", "cd"), atEnd: true}
	m := initAndLoad(t, newTestModel(p))

	assert.Equal(t, stateLoaded, m.state)
	assert.Equal(t, items("ls", "cd"), m.items)
	assert.Equal(t, 0, m.selection)
	assert.Equal(t, TabPredict, p.lastReq.TabID)
	assert.Equal(t, "git add .", p.lastReq.Options[OptLast])
	assert.Equal(t, 21, p.lastReq.Limit)
}

func TestLoading_ToEmpty(t *testing.T) {
	t.Parallel()

	m := initAndLoad(t, newTestModel(&mockProvider{atEnd: true}))
	assert.Equal(t, stateEmpty, m.state)
	assert.Equal(t, -1, m.selection)
	assert.Contains(t, m.View(), "No suggestions")
}

func TestLoading_ToError(t *testing.T) {
	t.Parallel()

	m := initAndLoad(t, newTestModel(&mockProvider{err: errors.New("connection refused")}))
	assert.Equal(t, stateError, m.state)
	assert.EqualError(t, m.err, "connection refused")
	assert.Contains(t, m.View(), "Error: connection refused")
}

func TestStaleResponse_Discarded(t *testing.T) {
	t.Parallel()

	m, _ := initToLoading(t, newTestModel(&mockProvider{items: items("first")}))

	m, _ = update(m, fetchDoneMsg{requestID: m.requestID - 1, items: items("stale")})
	assert.Equal(t, stateLoading, m.state)
	assert.Empty(t, m.items)
}

func TestFetch_CanceledOnTabSwitch(t *testing.T) {
	t.Parallel()

	p := &mockProvider{items: items("slow"), delay: time.Second}
	m, fetchCmd := initToLoading(t, newTestModel(p))

	m, _ = update(m, tea.KeyMsg{Type: tea.KeyTab})
	msg := runCmd(fetchCmd).(fetchDoneMsg)
	assert.ErrorIs(t, msg.err, context.Canceled)

	m, _ = update(m, msg)
	assert.Equal(t, stateLoading, m.state, "canceled fetch is stale")
}

// --- Navigation Tests ---

func TestUpDown_Navigation(t *testing.T) {
	t.Parallel()

	m := initAndLoad(t, newTestModel(&mockProvider{items: items("a", "b", "c"), atEnd: true}))

	m, _ = update(m, tea.KeyMsg{Type: tea.KeyDown})
	m, _ = update(m, tea.KeyMsg{Type: tea.KeyDown})
	m, _ = update(m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 2, m.selection, "clamped at the last item")

	m, _ = update(m, tea.KeyMsg{Type: tea.KeyCtrlP})
	assert.Equal(t, 1, m.selection)

	m, _ = update(m, tea.KeyMsg{Type: tea.KeyUp})
	m, _ = update(m, tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 0, m.selection)
}

func TestEnter_SelectsValue(t *testing.T) {
	t.Parallel()

	p := &mockProvider{items: []Item{{Value: "git commit", Display: "git commit  · score 2.00"}}, atEnd: true}
	m := initAndLoad(t, newTestModel(p))

	m, cmd := update(m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, "git commit", m.Result())
	assert.IsType(t, tea.QuitMsg{}, runCmd(cmd))
}

func TestEnter_EmptyList_NoResult(t *testing.T) {
	t.Parallel()

	m := initAndLoad(t, newTestModel(&mockProvider{atEnd: true}))
	m, _ = update(m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Empty(t, m.Result())
}

func TestEsc_Cancels(t *testing.T) {
	t.Parallel()

	m := initAndLoad(t, newTestModel(&mockProvider{items: items("ls"), atEnd: true}))
	m, cmd := update(m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, stateCancelled, m.state)
	assert.Empty(t, m.Result())
	assert.IsType(t, tea.QuitMsg{}, runCmd(cmd))
}

func TestTabCycling(t *testing.T) {
	t.Parallel()

	p := &mockProvider{items: items("ls"), atEnd: true}
	m := initAndLoad(t, newTestModel(p))

	m, cmd := update(m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, 1, m.activeTab)
	assert.Equal(t, stateLoading, m.state)
	m, _ = update(m, runCmd(cmd))
	assert.Equal(t, TabNext, p.lastReq.TabID)

	m, _ = update(m, tea.KeyMsg{Type: tea.KeyShiftTab})
	assert.Equal(t, 0, m.activeTab)

	m, _ = update(m, tea.KeyMsg{Type: tea.KeyShiftTab})
	assert.Equal(t, 2, m.activeTab, "shift-tab wraps backwards")
}

func TestSingleTab_TabIsNoOp(t *testing.T) {
	t.Parallel()

	m := NewModel([]Tab{{ID: TabPredict, Label: "Predicted"}}, &mockProvider{items: items("ls"), atEnd: true})
	m = initAndLoad(t, m)

	m, cmd := update(m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Nil(t, cmd)
	assert.Equal(t, stateLoaded, m.state)
}

func TestPaging(t *testing.T) {
	t.Parallel()

	p := &mockProvider{items: items("a", "b"), atEnd: false}
	m := initAndLoad(t, newTestModel(p))
	assert.Contains(t, m.View(), "PgDn for more")

	m, cmd := update(m, tea.KeyMsg{Type: tea.KeyPgDown})
	require.NotNil(t, cmd)
	p.atEnd = true
	m, _ = update(m, runCmd(cmd))
	assert.Equal(t, 2, p.lastReq.Offset)
	assert.NotContains(t, m.View(), "PgDn for more")

	m, cmd = update(m, tea.KeyMsg{Type: tea.KeyPgDown})
	assert.Nil(t, cmd, "no more pages")

	m, cmd = update(m, tea.KeyMsg{Type: tea.KeyPgUp})
	require.NotNil(t, cmd)
	_, _ = update(m, runCmd(cmd))
	assert.Equal(t, 0, p.lastReq.Offset)
}

func TestSelectionClamped_AfterItemsShrink(t *testing.T) {
	t.Parallel()

	p := &mockProvider{items: items("a", "b", "c", "d"), atEnd: true}
	m := initAndLoad(t, newTestModel(p))
	m.selection = 3

	p.items = items("a", "b")
	m, cmd := update(m, tea.KeyMsg{Type: tea.KeyTab})
	m, _ = update(m, runCmd(cmd))
	assert.Equal(t, 1, m.selection)
}

// --- Query Tests ---

func TestTyping_UpdatesQueryAndDebounces(t *testing.T) {
	t.Parallel()

	p := &mockProvider{items: items("git status"), atEnd: true}
	m := initAndLoad(t, newTestModel(p))

	m, _ = typeText(m, "gi")
	first := m.debounceID
	m, _ = typeText(m, "t")
	assert.Equal(t, "git", m.input.Value())
	assert.Greater(t, m.debounceID, first)

	// A superseded timer is ignored.
	_, cmd := update(m, debounceMsg{id: first})
	assert.Nil(t, cmd)

	m, cmd = update(m, debounceMsg{id: m.debounceID})
	require.NotNil(t, cmd)
	assert.Equal(t, stateLoading, m.state)
	m, _ = update(m, runCmd(cmd))
	assert.Equal(t, "git", p.lastReq.Query)
	assert.Equal(t, stateLoaded, m.state)
}

func TestBackspace_EditsQuery(t *testing.T) {
	t.Parallel()

	m := newTestModel(&mockProvider{atEnd: true})
	m, _ = typeText(m, "ls")
	m, _ = update(m, tea.KeyMsg{Type: tea.KeyBackspace})
	assert.Equal(t, "l", m.input.Value())
}

// --- View Tests ---

func TestView_TabsAndTruncation(t *testing.T) {
	t.Parallel()

	long := "docker run --rm -it -v /very/long/path/that/keeps/going:/work image:latest make all"
	m := initAndLoad(t, newTestModel(&mockProvider{items: items(long, "ls"), atEnd: true}))
	m, _ = update(m, tea.WindowSizeMsg{Width: 40, Height: 10})

	view := m.View()
	assert.Contains(t, view, "Predicted")
	assert.Contains(t, view, "Workflow")
	assert.Contains(t, view, "…")
	assert.Contains(t, view, "make all")
	assert.Contains(t, view, "> ")
	assert.Contains(t, view, "1-2")
}

func TestWithQuery_SeedsFirstFetch(t *testing.T) {
	t.Parallel()

	p := &mockProvider{items: items("git push"), atEnd: true}
	m := initAndLoad(t, newTestModel(p).WithQuery("push"))
	assert.Equal(t, "push", p.lastReq.Query)
	assert.False(t, m.IsCancelled())

	m, _ = update(m, tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.True(t, m.IsCancelled())
}

func TestPalette_FollowsBackground(t *testing.T) {
	t.Parallel()

	c := palette(catppuccin.Flavour.Mauve)
	assert.Equal(t, catppuccin.Latte.Mauve().Hex, c.Light)
	assert.Equal(t, catppuccin.Mocha.Mauve().Hex, c.Dark)
}
