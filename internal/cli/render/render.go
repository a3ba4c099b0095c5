// Package render formats check and service statuses for the CLI.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mr-karan/checkchef/internal/cli/client"
	"github.com/mr-karan/checkchef/pkg/models"
)

// Options configures the renderer
type Options struct {
	Format string // text, table, json
	Color  bool
}

// Renderer writes statuses to an output stream.
type Renderer struct {
	opts Options
	w    io.Writer
}

// New creates a new renderer
func New(w io.Writer, opts Options) (*Renderer, error) {
	switch opts.Format {
	case "":
		opts.Format = "text"
	case "text", "table", "json":
	default:
		return nil, fmt.Errorf("unknown output format: %s (valid: text, table, json)", opts.Format)
	}
	return &Renderer{opts: opts, w: w}, nil
}

var (
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	criticalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("202"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	passStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

// Check renders one check status.
func (r *Renderer) Check(st *client.CheckStatus) error {
	if r.opts.Format == "json" {
		return r.json(st)
	}
	label := "PASSING"
	if st.Status == models.CheckFailing {
		label = severityLabel(st.Severity)
	}
	fmt.Fprintf(r.w, "%s %s %s\n", r.style(label), st.CheckID, dimStyle.Render(st.Name))
	if !st.Active {
		fmt.Fprintf(r.w, "  %s\n", dimStyle.Render("inactive"))
	}
	if res := st.LastResult; res != nil {
		fmt.Fprintf(r.w, "  last run %s (%s)\n", formatRelativeTime(res.CompletedAt), res.Duration())
		if res.Error != "" {
			fmt.Fprintf(r.w, "  %s\n", res.Error)
		}
	}
	return nil
}

// Service renders a service roll-up and its checks.
func (r *Renderer) Service(st *client.ServiceStatus) error {
	switch r.opts.Format {
	case "json":
		return r.json(st)
	case "table":
		rows := make([][]string, 0, len(st.Checks))
		for _, c := range st.Checks {
			rows = append(rows, checkRow(c))
		}
		fmt.Fprintf(r.w, "%s %s\n", r.style(st.Current.String()), st.Name)
		r.table([]string{"CHECK", "ACTIVE", "STATUS"}, rows)
		return nil
	}

	fmt.Fprintf(r.w, "%s %s %s\n", r.style(st.Current.String()), st.ID, dimStyle.Render("(was "+st.Previous.String()+")"))
	if st.LastAlertAt != nil {
		fmt.Fprintf(r.w, "  last alert %s\n", formatRelativeTime(*st.LastAlertAt))
	}
	for _, c := range st.Checks {
		row := checkRow(c)
		fmt.Fprintf(r.w, "  %-24s %s\n", row[0], r.style(row[2]))
	}
	return nil
}

// Services renders the list of services.
func (r *Renderer) Services(services []models.ServiceState) error {
	if r.opts.Format == "json" {
		return r.json(services)
	}
	if len(services) == 0 {
		fmt.Fprintln(r.w, "No services defined.")
		return nil
	}
	if r.opts.Format == "table" {
		rows := make([][]string, 0, len(services))
		for _, s := range services {
			rows = append(rows, []string{s.ID, s.Name, s.Current.String(), fmt.Sprint(len(s.CheckIDs))})
		}
		r.table([]string{"ID", "NAME", "STATUS", "CHECKS"}, rows)
		return nil
	}
	for _, s := range services {
		fmt.Fprintf(r.w, "%-10s %s %s\n", r.style(s.Current.String()), s.ID, dimStyle.Render(s.Name))
	}
	return nil
}

// Result renders the outcome of one evaluation.
func (r *Renderer) Result(res *models.CheckResult) error {
	if r.opts.Format == "json" {
		return r.json(res)
	}
	if res.Succeeded {
		fmt.Fprintf(r.w, "%s %s %s\n", r.style("PASSING"), res.CheckID, dimStyle.Render(res.Duration().String()))
		return nil
	}
	fmt.Fprintf(r.w, "%s %s %s\n  %s\n", r.style(severityLabel(res.Severity)), res.CheckID, dimStyle.Render(res.Duration().String()), res.Error)
	return nil
}

func (r *Renderer) json(v any) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (r *Renderer) table(headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("238"))).
		Headers(headers...).
		Rows(rows...)

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("252"))
	t.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return headerStyle
		}
		if row%2 == 0 {
			return lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
		}
		return lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	})
	fmt.Fprintln(r.w, t.Render())
}

func (r *Renderer) style(label string) string {
	if !r.opts.Color {
		return label
	}
	switch label {
	case "CRITICAL":
		return criticalStyle.Render(label)
	case "ERROR":
		return errorStyle.Render(label)
	case "WARNING":
		return warnStyle.Render(label)
	case "PASSING":
		return passStyle.Render(label)
	default:
		return label
	}
}

func checkRow(c models.CheckState) []string {
	status := "PASSING"
	if c.Status == models.CheckFailing {
		status = severityLabel(c.Severity)
	}
	return []string{c.CheckID, fmt.Sprint(c.Active), status}
}

// severityLabel treats an unset severity as an error, as the roll-up does.
func severityLabel(s models.Severity) string {
	if !s.Valid() {
		return models.SeverityError.String()
	}
	return s.String()
}

func formatRelativeTime(t time.Time) string {
	d := time.Since(t)
	if d < 0 {
		d = -d
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
