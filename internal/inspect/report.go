// Package inspect renders journaled runner history for the CLI.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattjoyce/runnerd/internal/journal"
	"github.com/mattjoyce/runnerd/internal/runner"
)

const summaryWidth = 96

// Source reads runner history. *journal.Journal implements it.
type Source interface {
	Get(ctx context.Context, runnerID string) (*journal.Entry, error)
	Updates(ctx context.Context, runnerID string) ([]journal.UpdateRecord, error)
	List(ctx context.Context, limit int) ([]*journal.Entry, error)
}

// Report is the structured JSON representation of one runner's history.
type Report struct {
	RunnerID    string          `json:"runner_id"`
	Definition  string          `json:"definition"`
	Status      journal.Status  `json:"status"`
	RequestID   string          `json:"request_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Duration    string          `json:"duration,omitempty"`
	ExitStatus  *int            `json:"exit_status,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	Input       json.RawMessage `json:"input"`
	Updates     []Update        `json:"updates"`
}

// Update is one journaled update, summarised.
type Update struct {
	Seq     int       `json:"seq"`
	Kind    string    `json:"kind"`
	At      time.Time `json:"at"`
	Summary string    `json:"summary"`
}

// BuildReport renders a terminal-friendly report for a runner.
func BuildReport(ctx context.Context, src Source, runnerID string) (string, error) {
	report, err := gatherReportData(ctx, src, runnerID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Runner Report\n")
	fmt.Fprintf(&out, "Runner ID   : %s\n", report.RunnerID)
	fmt.Fprintf(&out, "Definition  : %s\n", report.Definition)
	fmt.Fprintf(&out, "Status      : %s\n", report.Status)
	fmt.Fprintf(&out, "Request ID  : %s\n", renderUnset(report.RequestID, "<none>"))
	fmt.Fprintf(&out, "Created     : %s\n", report.CreatedAt.Format(time.RFC3339))
	if report.CompletedAt != nil {
		fmt.Fprintf(&out, "Completed   : %s (%s)\n", report.CompletedAt.Format(time.RFC3339), report.Duration)
	} else {
		fmt.Fprintf(&out, "Completed   : <running>\n")
	}
	if report.ExitStatus != nil {
		fmt.Fprintf(&out, "Exit status : %d\n", *report.ExitStatus)
	}
	if report.LastError != "" {
		fmt.Fprintf(&out, "Last error  : %s\n", report.LastError)
	}
	fmt.Fprintf(&out, "Input       :\n")
	for _, line := range strings.Split(strings.TrimSpace(prettyJSON(report.Input)), "\n") {
		fmt.Fprintf(&out, "  %s\n", line)
	}
	fmt.Fprintf(&out, "\n")

	fmt.Fprintf(&out, "Updates (%d)\n", len(report.Updates))
	for _, u := range report.Updates {
		fmt.Fprintf(&out, "[%d] %s %-11s %s\n", u.Seq, u.At.Format("15:04:05.000"), u.Kind, u.Summary)
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON report.
func BuildJSONReport(ctx context.Context, src Source, runnerID string) (string, error) {
	report, err := gatherReportData(ctx, src, runnerID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

// BuildList renders the most recent runners as a table.
func BuildList(ctx context.Context, src Source, limit int) (string, error) {
	entries, err := src.List(ctx, limit)
	if err != nil {
		return "", fmt.Errorf("list runners: %w", err)
	}

	var out strings.Builder
	tw := tabwriter.NewWriter(&out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUNNER ID\tDEFINITION\tSTATUS\tEXIT\tCREATED")
	for _, e := range entries {
		exit := "-"
		if e.ExitStatus != nil {
			exit = fmt.Sprintf("%d", *e.ExitStatus)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.ID, e.Definition, e.Status, exit, e.CreatedAt.Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return "", err
	}
	return out.String(), nil
}

func gatherReportData(ctx context.Context, src Source, runnerID string) (*Report, error) {
	if strings.TrimSpace(runnerID) == "" {
		return nil, fmt.Errorf("runner_id is required")
	}

	entry, err := src.Get(ctx, runnerID)
	if err != nil {
		return nil, fmt.Errorf("runner %q: %w", runnerID, err)
	}
	records, err := src.Updates(ctx, runnerID)
	if err != nil {
		return nil, fmt.Errorf("load updates of %q: %w", runnerID, err)
	}

	report := &Report{
		RunnerID:    entry.ID,
		Definition:  entry.Definition,
		Status:      entry.Status,
		CreatedAt:   entry.CreatedAt,
		CompletedAt: entry.CompletedAt,
		ExitStatus:  entry.ExitStatus,
		Input:       entry.Input,
		Updates:     make([]Update, 0, len(records)),
	}
	if entry.RequestID != nil {
		report.RequestID = *entry.RequestID
	}
	if entry.LastError != nil {
		report.LastError = *entry.LastError
	}
	if entry.CompletedAt != nil {
		report.Duration = entry.CompletedAt.Sub(entry.CreatedAt).Round(time.Millisecond).String()
	}

	for _, rec := range records {
		report.Updates = append(report.Updates, Update{
			Seq:     rec.Seq,
			Kind:    rec.Kind,
			At:      rec.CreatedAt,
			Summary: summarize(rec.Payload),
		})
	}
	return report, nil
}

func summarize(payload json.RawMessage) string {
	var u runner.Update
	if err := json.Unmarshal(payload, &u); err != nil {
		return truncate(string(payload))
	}

	var parts []string
	for _, c := range u.Output {
		parts = append(parts, c.Stream+": "+strings.TrimRight(c.Data, "\n"))
	}
	if u.Progress != nil {
		p := fmt.Sprintf("%.0f%%", u.Progress.Done*100)
		if u.Progress.Message != "" {
			p += " " + u.Progress.Message
		}
		parts = append(parts, p)
	}
	if u.ExitStatus != nil {
		parts = append(parts, fmt.Sprintf("exit %d", *u.ExitStatus))
	}
	if u.Exception != nil {
		e := u.Exception.Message
		if u.Exception.Error != "" {
			e += ": " + u.Exception.Error
		}
		if u.Exception.Fatal {
			e = "fatal " + e
		}
		parts = append(parts, e)
	}
	return truncate(strings.Join(parts, " | "))
}

func truncate(s string) string {
	s = strings.ReplaceAll(s, "\n", `\n`)
	if len(s) <= summaryWidth {
		return s
	}
	return s[:summaryWidth-3] + "..."
}

func prettyJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
