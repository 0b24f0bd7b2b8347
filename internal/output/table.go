package output

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/reelforge/reelforge/internal/ailink/admission"
	"github.com/reelforge/reelforge/internal/ailink/keypool"
	"github.com/reelforge/reelforge/internal/core"
)

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	return t
}

// CredentialsTable renders one row per credential, grouped by service, with
// the admission window in the service footer.
func CredentialsTable(stats []keypool.ServiceStats, snaps []admission.Snapshot) string {
	bySvc := make(map[string]admission.Snapshot, len(snaps))
	for _, s := range snaps {
		bySvc[s.Service] = s
	}

	t := newTable()
	t.AppendHeader(table.Row{"Service", "#", "Key", "OK", "Errors", "Status", "Last Used", "Last Error"})
	for _, svc := range stats {
		for _, c := range svc.Credentials {
			t.AppendRow(table.Row{
				svc.Service,
				c.Index,
				c.Hint,
				c.SuccessCount,
				c.ErrorCount,
				credentialStatus(c),
				formatTime(c.LastUsedAt),
				truncate(c.LastError, 40),
			})
		}
		snap := bySvc[svc.Service]
		t.AppendRow(table.Row{
			"",
			"",
			fmt.Sprintf("%d/%d available", svc.Available, svc.Total),
			"",
			"",
			fmt.Sprintf("burst %d/%d", snap.InBurst, snap.BurstMax),
			fmt.Sprintf("%d/%d per sec", snap.InLastSec, snap.MaxPerSecond),
			"",
		})
		t.AppendSeparator()
	}
	return t.Render()
}

func credentialStatus(c keypool.CredentialStats) string {
	if c.Blocked {
		return fmt.Sprintf("blocked %ds", c.BlockRemainingSeconds)
	}
	return "ready"
}

// ProjectsTable renders a project list.
func ProjectsTable(projects []core.Project) string {
	t := newTable()
	t.AppendHeader(table.Row{"ID", "Title", "Status", "Assets", "Version", "Updated"})
	for _, p := range projects {
		t.AppendRow(table.Row{
			p.ID,
			truncate(p.Title, 40),
			string(p.Status),
			len(p.Assets),
			p.Version,
			p.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	if len(projects) == 0 {
		t.AppendRow(table.Row{"(no projects)", "", "", "", "", ""})
	}
	return t.Render()
}

// ProjectDetail renders a single project with its assets.
func ProjectDetail(p *core.Project) string {
	if p == nil {
		return ""
	}

	head := newTable()
	head.AppendRows([]table.Row{
		{"ID", p.ID},
		{"Title", p.Title},
		{"Status", string(p.Status)},
		{"Version", p.Version},
		{"Created", p.CreatedAt.UTC().Format(time.RFC3339)},
		{"Updated", p.UpdatedAt.UTC().Format(time.RFC3339)},
	})
	if p.Prompt != "" {
		head.AppendRow(table.Row{"Prompt", truncate(p.Prompt, 80)})
	}
	keys := make([]string, 0, len(p.Metadata))
	for k := range p.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		head.AppendRow(table.Row{"meta." + k, p.Metadata[k]})
	}

	var b strings.Builder
	b.WriteString(head.Render())
	if len(p.Assets) == 0 {
		return b.String()
	}

	assets := newTable()
	assets.AppendHeader(table.Row{"Kind", "Location", "Service", "Model", "Task"})
	for _, a := range p.Assets {
		location := a.URL
		if location == "" {
			location = truncate(a.Text, 60)
		}
		assets.AppendRow(table.Row{string(a.Kind), location, a.Service, a.Model, a.TaskID})
	}
	b.WriteString("\n")
	b.WriteString(assets.Render())
	return b.String()
}

// CallsTable renders call log entries.
func CallsTable(records []core.CallRecord) string {
	t := newTable()
	t.AppendHeader(table.Row{"Started", "Service", "Operation", "Model", "Key", "Attempts", "Elapsed", "Result"})
	failed := 0
	for _, r := range records {
		result := "ok"
		if !r.Succeeded() {
			failed++
			result = r.Kind
			if result == "" {
				result = "error"
			}
		}
		t.AppendRow(table.Row{
			r.StartedAt.UTC().Format(time.RFC3339),
			r.Service,
			r.Operation,
			r.Model,
			r.Credential,
			r.Attempts,
			r.Elapsed.Round(time.Millisecond).String(),
			result,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "", fmt.Sprintf("%d/%d failed", failed, len(records))})
	return t.Render()
}

func formatTime(ts *time.Time) string {
	if ts == nil {
		return "-"
	}
	return ts.UTC().Format(time.RFC3339)
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if limit <= 3 || len(runes) <= limit {
		return value
	}
	return string(runes[:limit-3]) + "..."
}
