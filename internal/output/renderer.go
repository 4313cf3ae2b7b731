package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/nethalo/tableshift/internal/osc"
)

// Renderer defines the output interface.
type Renderer interface {
	RenderSummary(summary *osc.Summary)
	RenderError(err error)
}

// NewRenderer creates a renderer for the given format.
func NewRenderer(format string, w io.Writer) Renderer {
	switch format {
	case "plain":
		return &PlainRenderer{w: w}
	default:
		return &TextRenderer{w: w}
	}
}

// TextRenderer produces styled terminal output.
type TextRenderer struct {
	w io.Writer
}

func (r *TextRenderer) RenderSummary(summary *osc.Summary) {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Schema change — "+summary.Table) + "\n")
	if summary.NoOp {
		b.WriteString(SafeText.Render("table already has the desired schema") + "\n")
	} else {
		b.WriteString(row("State", summary.FinalState))
		b.WriteString(row("Chunks copied", formatNumber(summary.ChunksCopied)))
		b.WriteString(row("Rows copied", formatNumber(summary.RowsCopied)))
		b.WriteString(row("Changes replayed", formatNumber(summary.RowsReplayed)))
		b.WriteString(row("Time in lock", summary.LockTime.String()))
		b.WriteString(row("Wall time", summary.WallTime.String()))
	}
	fmt.Fprintln(r.w, SummaryBox.Render(strings.TrimRight(b.String(), "\n")))
}

func (r *TextRenderer) RenderError(err error) {
	fmt.Fprintln(r.w, DangerText.Render("ERROR: ")+err.Error())
}

func row(label, value string) string {
	return LabelStyle.Render(label+":") + " " + value + "\n"
}

// PlainRenderer produces unformatted text output safe for piping.
type PlainRenderer struct {
	w io.Writer
}

func (r *PlainRenderer) RenderSummary(summary *osc.Summary) {
	fmt.Fprintf(r.w, "=== tableshift — %s ===\n", summary.Table)
	if summary.NoOp {
		fmt.Fprintln(r.w, "table already has the desired schema")
		return
	}
	fmt.Fprintf(r.w, "State:            %s\n", summary.FinalState)
	fmt.Fprintf(r.w, "Chunks copied:    %s\n", formatNumber(summary.ChunksCopied))
	fmt.Fprintf(r.w, "Rows copied:      %s\n", formatNumber(summary.RowsCopied))
	fmt.Fprintf(r.w, "Changes replayed: %s\n", formatNumber(summary.RowsReplayed))
	fmt.Fprintf(r.w, "Time in lock:     %s\n", summary.LockTime)
	fmt.Fprintf(r.w, "Wall time:        %s\n", summary.WallTime)
}

func (r *PlainRenderer) RenderError(err error) {
	fmt.Fprintf(r.w, "ERROR: %v\n", err)
}

// formatNumber adds thousands separators.
func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	return s + "," + strings.Join(parts, ",")
}
