package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/runnerd/internal/events"
)

const (
	maxEventLog  = 50
	pollInterval = 5 * time.Second
)

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	client *Client

	width  int
	height int

	health   HealthState
	runners  map[string]*RunnerState
	order    []*RunnerState
	eventLog []events.Event

	heartbeat Heartbeat
	activity  Activity
	theme     Theme
	table     table.Model

	hubEvents chan events.Event
	now       func() time.Time

	lastError string
	notice    string
}

// New creates a watch model for the API at apiURL.
func New(apiURL, apiKey string) *Model {
	return &Model{
		client:    NewClient(apiURL, apiKey),
		runners:   make(map[string]*RunnerState),
		eventLog:  make([]events.Event, 0),
		heartbeat: NewHeartbeat(),
		theme:     NewDefaultTheme(),
		table:     newRunnerTable(),
		hubEvents: make(chan events.Event, 100),
		now:       time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.client, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		fetchHealth(m.client),
		fetchRunners(m.client),
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "c":
			if r := m.selected(); r != nil && r.Active() {
				m.notice = "cancelling " + shortID(r.ID)
				return m, cancelRunner(m.client, r.ID)
			}
			return m, nil
		case "r":
			return m, fetchRunners(m.client)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(m.width - 6)
		if h := m.height/2 - 4; h > 3 {
			m.table.SetHeight(h)
		}

	case tickMsg:
		m.heartbeat.Tick()
		m.activity.Decay(m.now())
		m.refreshTable()
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}
		m.activity.OnEvent(m.now())
		applyEvent(m.runners, e)
		m.refreshTable()

		m.health.Connected = true
		m.lastError = ""
		if e.Type == events.RunnerStarted {
			// Definitions only come from /runners.
			return m, tea.Batch(receiveNextEvent(m.hubEvents), fetchRunners(m.client))
		}
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.ActiveRunners = msg.ActiveRunners
		m.health.DefinitionsLoaded = msg.DefinitionsLoaded
		m.health.Connected = true
		m.health.LastCheck = m.now()
		m.lastError = ""
		return m, tea.Tick(pollInterval, func(time.Time) tea.Msg { return fetchHealth(m.client)() })

	case runnersMsg:
		mergeSummaries(m.runners, msg.Runners)
		m.refreshTable()
		return m, nil

	case cancelledMsg:
		m.notice = "cancel sent to " + shortID(msg.runnerID)
		return m, nil

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "SSE disconnected, reconnecting..."
		// The pending receiveNextEvent keeps reading the same channel.
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribeToEvents(m.client, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Model) refreshTable() {
	m.order = sortedRunners(m.runners)
	m.table.SetRows(runnerRows(m.order, m.theme, m.now()))
}

func (m Model) selected() *RunnerState {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.order) {
		return nil
	}
	return m.order[i]
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing runnerd watch..."
	}

	header := renderHeader(m.health, m.heartbeat, m.activity, m.theme, m.width, m.now())
	runners := m.theme.Border.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("RUNNERS"),
			m.table.View(),
		),
	)
	eventStream := renderEventStream(m.eventLog, m.theme, m.width)

	parts := []string{header, runners, eventStream}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	} else if m.notice != "" {
		parts = append(parts, m.theme.Highlight.Render(" "+m.notice))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Select • [c] Cancel runner • [r] Refresh"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
