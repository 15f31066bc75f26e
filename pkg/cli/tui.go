package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the color scheme for styled terminal output.
type Theme struct {
	Primary lipgloss.Color // Main accent color
	Danger  lipgloss.Color // Failure color
	Dim     lipgloss.Color // Dimmed/detail text color
}

// DefaultTheme is the default bright green theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Danger:  lipgloss.Color("#f85149"),
	Dim:     lipgloss.Color("#6e7681"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Title lipgloss.Style
	Label lipgloss.Style
	OK    lipgloss.Style
	Fail  lipgloss.Style
	Help  lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title: lipgloss.NewStyle().Bold(true).Foreground(t.Primary).Padding(0, 1),
		Label: lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		OK:    lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Fail:  lipgloss.NewStyle().Bold(true).Foreground(t.Danger),
		Help:  lipgloss.NewStyle().Foreground(t.Dim),
	}
}

// Report prints one line per checked file plus a closing tally.
type Report struct {
	Styles Styles
	W      io.Writer

	passed int
	failed int
}

// NewReport creates a Report writing to w with the default theme.
func NewReport(w io.Writer) *Report {
	return &Report{Styles: NewStyles(DefaultTheme), W: w}
}

// OK records a passing file. A non-empty detail is appended dimmed.
func (r *Report) OK(name, detail string) {
	r.passed++
	line := r.Styles.OK.Render("  OK") + "  " + name
	if detail != "" {
		line += "  " + r.Styles.Help.Render(detail)
	}
	fmt.Fprintln(r.W, line)
}

// Fail records a failing file. Each line of err is printed indented under
// the file name, which keeps joined validation errors readable.
func (r *Report) Fail(name string, err error) {
	r.failed++
	fmt.Fprintf(r.W, "%s  %s\n", r.Styles.Fail.Render("FAIL"), name)
	for _, line := range strings.Split(err.Error(), "\n") {
		fmt.Fprintf(r.W, "      %s\n", line)
	}
}

// Failed returns how many files failed so far.
func (r *Report) Failed() int {
	return r.failed
}

// Summary prints the closing tally line.
func (r *Report) Summary() {
	line := r.Styles.Label.Render(fmt.Sprintf("%d passed", r.passed))
	if r.failed > 0 {
		line += "  " + r.Styles.Fail.Render(fmt.Sprintf("%d failed", r.failed))
	}
	fmt.Fprintln(r.W, line)
}
