// Package questions provides a Bubbletea TUI for watching stored questions.
// It polls the question store, lists open questions with urgency sorting, and
// lets an operator approve, reject or answer them from the terminal.
package questions

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Vortex-9191/slack-question-bot/internal/store"
)

const (
	pollInterval = 5 * time.Second
	fetchLimit   = 200
)

// InputMode represents the current input mode.
type InputMode int

const (
	ModeNormal InputMode = iota
	ModeReject           // entering a rejection reason
	ModeAnswer           // entering an answer
)

// Store is the subset of store.Store the TUI uses.
type Store interface {
	List(ctx context.Context, f store.Filter) ([]*store.Question, error)
	Approve(ctx context.Context, id, approverID, comment string) error
	Reject(ctx context.Context, id, approverID, reason string) error
	Answer(ctx context.Context, id, answeredBy, text string) error
}

// filterCycle is the order the Filter key steps through. The empty status
// means every status.
var filterCycle = []store.Status{store.StatusPending, store.StatusApproved, ""}

// Model is the Bubbletea model for the question watch TUI.
type Model struct {
	width, height int

	items    []*store.Question
	selected int

	inputMode InputMode
	textInput textarea.Model

	keys           KeyMap
	help           help.Model
	showHelp       bool
	detailViewport viewport.Model
	status         store.Status
	doctorID       string
	err            error
	message        string

	store Store
	actor string
}

// New creates a question TUI model. actor is recorded as the approver or
// answerer for actions taken in the TUI.
func New(st Store, actor string) *Model {
	ta := textarea.New()
	ta.SetHeight(3)
	ta.SetWidth(60)

	h := help.New()
	h.ShowAll = false

	return &Model{
		keys:           DefaultKeyMap(),
		help:           h,
		textInput:      ta,
		detailViewport: viewport.New(0, 0),
		status:         store.StatusPending,
		store:          st,
		actor:          actor,
	}
}

// SetStatus sets the status filter. The empty status shows everything.
func (m *Model) SetStatus(s store.Status) {
	m.status = s
}

// SetDoctor restricts the list to one doctor ID.
func (m *Model) SetDoctor(doctorID string) {
	m.doctorID = doctorID
}

// Init initializes the model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetchQuestions(),
		m.startPolling(),
		tea.SetWindowTitle("Question Watch"),
	)
}

// --- Messages ---

type fetchQuestionsMsg struct {
	questions []*store.Question
	err       error
}

type tickMsg time.Time

type actionMsg struct {
	id     string
	action string
	err    error
}

// --- Commands ---

func (m *Model) fetchQuestions() tea.Cmd {
	st := m.store
	f := store.Filter{DoctorID: m.doctorID, Status: m.status, Limit: fetchLimit}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		qs, err := st.List(ctx, f)
		if err != nil {
			return fetchQuestionsMsg{err: fmt.Errorf("fetch questions: %w", err)}
		}
		return fetchQuestionsMsg{questions: qs}
	}
}

func (m *Model) startPolling() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// act runs one store transition in the background.
func (m *Model) act(id, action, text string) tea.Cmd {
	st := m.store
	actor := m.actor
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var err error
		switch action {
		case "approved":
			err = st.Approve(ctx, id, actor, text)
		case "rejected":
			err = st.Reject(ctx, id, actor, text)
		case "answered":
			err = st.Answer(ctx, id, actor, text)
		default:
			err = fmt.Errorf("unknown action %q", action)
		}
		return actionMsg{id: id, action: action, err: err}
	}
}

// current returns the selected question, or nil when the list is empty.
func (m *Model) current() *store.Question {
	if m.selected < 0 || m.selected >= len(m.items) {
		return nil
	}
	return m.items[m.selected]
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.detailViewport.Width = msg.Width - 4
		m.detailViewport.Height = msg.Height/2 - 4
		m.textInput.SetWidth(msg.Width - 10)

	case tea.KeyMsg:
		if m.inputMode != ModeNormal {
			return m.handleInputMode(msg)
		}

		switch {
		case key.Matches(msg, m.keys.Quit), key.Matches(msg, m.keys.Cancel):
			return m, tea.Quit

		case key.Matches(msg, m.keys.Help):
			m.showHelp = !m.showHelp
			m.help.ShowAll = m.showHelp

		case key.Matches(msg, m.keys.Up):
			if m.selected > 0 {
				m.selected--
			}

		case key.Matches(msg, m.keys.Down):
			if m.selected < len(m.items)-1 {
				m.selected++
			}

		case key.Matches(msg, m.keys.Approve):
			if q := m.current(); q != nil {
				if !store.CanTransition(q.Status, store.StatusApproved) {
					m.message = fmt.Sprintf("%s is already %s", q.ID, q.Status)
					break
				}
				cmds = append(cmds, m.act(q.ID, "approved", ""))
				m.message = fmt.Sprintf("Approving %s...", q.ID)
			}

		case key.Matches(msg, m.keys.Reject):
			m.startInput(ModeReject, store.StatusRejected, "Enter rejection reason...")

		case key.Matches(msg, m.keys.Answer):
			m.startInput(ModeAnswer, store.StatusAnswered, "Enter answer...")

		case key.Matches(msg, m.keys.Filter):
			m.status = nextStatus(m.status)
			m.selected = 0
			cmds = append(cmds, m.fetchQuestions())

		case key.Matches(msg, m.keys.Refresh):
			cmds = append(cmds, m.fetchQuestions())
			m.message = "Refreshing..."
		}

	case fetchQuestionsMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.items = sortQuestions(msg.questions)
			if m.selected >= len(m.items) {
				m.selected = max(0, len(m.items)-1)
			}
			m.message = fmt.Sprintf("Updated: %d %s", len(m.items), filterName(m.status))
		}

	case tickMsg:
		cmds = append(cmds, m.fetchQuestions(), m.startPolling())

	case actionMsg:
		if msg.err != nil {
			m.err = msg.err
			m.message = fmt.Sprintf("Error: %v", msg.err)
		} else {
			m.err = nil
			m.message = fmt.Sprintf("%s: %s", msg.action, msg.id)
			cmds = append(cmds, m.fetchQuestions())
		}
	}

	m.detailViewport.SetContent(m.renderDetail())
	var cmd tea.Cmd
	m.detailViewport, cmd = m.detailViewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// startInput switches to text entry for a transition that needs text.
func (m *Model) startInput(mode InputMode, to store.Status, placeholder string) {
	q := m.current()
	if q == nil {
		return
	}
	if !store.CanTransition(q.Status, to) {
		m.message = fmt.Sprintf("%s is already %s", q.ID, q.Status)
		return
	}
	m.inputMode = mode
	m.textInput.SetValue("")
	m.textInput.Placeholder = placeholder
	m.textInput.Focus()
}

// handleInputMode handles key presses while entering a reason or answer.
func (m *Model) handleInputMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.inputMode = ModeNormal
		m.textInput.Blur()
		return m, nil

	case tea.KeyEnter:
		text := strings.TrimSpace(m.textInput.Value())
		if text == "" {
			m.message = "Text is required"
			return m, nil
		}
		mode := m.inputMode
		m.inputMode = ModeNormal
		m.textInput.Blur()

		q := m.current()
		if q == nil {
			return m, nil
		}
		action := "rejected"
		if mode == ModeAnswer {
			action = "answered"
		}
		m.message = fmt.Sprintf("Saving %s...", q.ID)
		return m, m.act(q.ID, action, text)
	}

	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

// urgencyRank orders urgencies most urgent first.
var urgencyRank = map[string]int{"urgent": 0, "high": 1, "normal": 2, "low": 3}

func rank(urgency string) int {
	if r, ok := urgencyRank[urgency]; ok {
		return r
	}
	return urgencyRank["normal"]
}

// sortQuestions sorts by urgency, then oldest first so nothing starves.
func sortQuestions(qs []*store.Question) []*store.Question {
	out := append([]*store.Question(nil), qs...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := rank(out[i].Urgency), rank(out[j].Urgency)
		if ri != rj {
			return ri < rj
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func nextStatus(s store.Status) store.Status {
	for i, c := range filterCycle {
		if c == s {
			return filterCycle[(i+1)%len(filterCycle)]
		}
	}
	return filterCycle[0]
}

func filterName(s store.Status) string {
	if s == "" {
		return "total"
	}
	return string(s)
}

// View renders the TUI.
func (m *Model) View() string {
	return m.renderView()
}
