package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/runnerd/internal/events"
)

const maxFinishedRunners = 20

// RunnerState tracks one runner seen through events or /runners.
type RunnerState struct {
	ID         string
	Definition string
	Status     string
	Progress   float64
	Message    string
	ExitStatus *int
	LastError  string
	StartTime  time.Time
	EndTime    time.Time
}

// Active reports whether the runner is still registered.
func (r *RunnerState) Active() bool {
	return r.EndTime.IsZero()
}

// updatePayload is the data of a runner.update event.
type updatePayload struct {
	Kind       string `json:"kind"`
	Terminal   bool   `json:"terminal"`
	ExitStatus *int   `json:"exit_status"`
	Progress   *struct {
		Done    float64 `json:"done"`
		Message string  `json:"message"`
	} `json:"progress"`
}

type errorPayload struct {
	Error string `json:"error"`
	Fatal bool   `json:"fatal"`
}

type abandonedPayload struct {
	Definition string `json:"definition"`
}

// applyEvent folds e into runners. Events without a runner id are ignored.
func applyEvent(runners map[string]*RunnerState, e events.Event) {
	if e.RunnerID == "" {
		return
	}
	r, ok := runners[e.RunnerID]
	if !ok {
		r = &RunnerState{ID: e.RunnerID, Status: "running", StartTime: e.At}
		runners[e.RunnerID] = r
	}

	switch e.Type {
	case events.RunnerStarted:
		r.Status = "running"
		r.StartTime = e.At

	case events.RunnerUpdate:
		var p updatePayload
		_ = json.Unmarshal(e.Data, &p)
		if p.Progress != nil {
			r.Progress = p.Progress.Done
			r.Message = p.Progress.Message
		}
		if p.ExitStatus != nil {
			code := *p.ExitStatus
			r.ExitStatus = &code
		}

	case events.RunnerError:
		var p errorPayload
		_ = json.Unmarshal(e.Data, &p)
		r.LastError = p.Error
		if p.Fatal {
			r.Status = "failed"
		}

	case events.RunnerFinished:
		r.EndTime = e.At
		switch {
		case r.Status == "failed":
		case r.ExitStatus != nil && *r.ExitStatus == 0:
			r.Status = "succeeded"
		default:
			r.Status = "failed"
		}

	case events.RunnerAbandoned:
		var p abandonedPayload
		_ = json.Unmarshal(e.Data, &p)
		if p.Definition != "" {
			r.Definition = p.Definition
		}
		r.Status = "abandoned"
		r.EndTime = e.At
	}

	pruneFinished(runners)
}

// mergeSummaries fills in what events cannot carry, such as definitions.
func mergeSummaries(runners map[string]*RunnerState, list []runnerSummary) {
	for _, s := range list {
		r, ok := runners[s.RunnerID]
		if !ok {
			r = &RunnerState{ID: s.RunnerID}
			runners[s.RunnerID] = r
		}
		r.Definition = s.Definition
		r.Status = s.Status
		r.StartTime = s.CreatedAt
		if s.CompletedAt != nil {
			r.EndTime = *s.CompletedAt
		}
		if s.ExitStatus != nil {
			code := *s.ExitStatus
			r.ExitStatus = &code
		}
		if s.LastError != nil {
			r.LastError = *s.LastError
		}
		if s.Progress != nil {
			r.Progress = s.Progress.Done
			r.Message = s.Progress.Message
		}
	}
	pruneFinished(runners)
}

// pruneFinished keeps the most recent finished runners only.
func pruneFinished(runners map[string]*RunnerState) {
	var finished []*RunnerState
	for _, r := range runners {
		if !r.Active() {
			finished = append(finished, r)
		}
	}
	if len(finished) <= maxFinishedRunners {
		return
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].EndTime.After(finished[j].EndTime) })
	for _, r := range finished[maxFinishedRunners:] {
		delete(runners, r.ID)
	}
}

// sortedRunners lists active runners first, then by start time, newest first.
func sortedRunners(runners map[string]*RunnerState) []*RunnerState {
	out := make([]*RunnerState, 0, len(runners))
	for _, r := range runners {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Active() != out[j].Active() {
			return out[i].Active()
		}
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func newRunnerTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Runner", Width: 10},
			{Title: "Definition", Width: 20},
			{Title: "Status", Width: 10},
			{Title: "Progress", Width: 24},
			{Title: "Exit", Width: 4},
			{Title: "Duration", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

// runnerRows renders runners into table rows in sortedRunners order.
func runnerRows(list []*RunnerState, theme Theme, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(list))
	for _, r := range list {
		exit := "-"
		if r.ExitStatus != nil {
			exit = fmt.Sprintf("%d", *r.ExitStatus)
		}
		rows = append(rows, table.Row{
			theme.statusStyle(r.Status).Render(statusSymbol(r.Status)),
			shortID(r.ID),
			renderUnset(r.Definition, "?"),
			r.Status,
			progressBar(r.Progress, r.Message),
			exit,
			runnerDuration(r, now),
		})
	}
	return rows
}

func statusSymbol(status string) string {
	switch status {
	case "succeeded":
		return "●"
	case "failed":
		return "∅"
	case "abandoned":
		return "◔"
	default:
		return "◉"
	}
}

func progressBar(done float64, message string) string {
	const width = 10
	if done <= 0 && message == "" {
		return "-"
	}
	filled := int(done * width)
	if filled > width {
		filled = width
	}
	bar := ""
	for i := 0; i < width; i++ {
		if i < filled {
			bar += "█"
		} else {
			bar += "░"
		}
	}
	out := fmt.Sprintf("%s %3.0f%%", bar, done*100)
	if message != "" {
		out += " " + message
	}
	return out
}

func runnerDuration(r *RunnerState, now time.Time) string {
	if r.StartTime.IsZero() {
		return "-"
	}
	end := r.EndTime
	if end.IsZero() {
		end = now
	}
	return formatDuration(end.Sub(r.StartTime))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func renderUnset(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
