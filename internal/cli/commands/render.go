package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/term"

	"github.com/leapstack-labs/leaprepl/internal/engine"
)

// Output formats accepted by eval and repl.
const (
	FormatText     = "text"
	FormatJSON     = "json"
	FormatCSV      = "csv"
	FormatMarkdown = "markdown"
)

var outputFormats = []string{FormatText, FormatJSON, FormatCSV, FormatMarkdown}

func validFormat(format string) error {
	for _, f := range outputFormats {
		if f == format {
			return nil
		}
	}
	return fmt.Errorf("unknown output format %q (valid: %s)", format, strings.Join(outputFormats, ", "))
}

// styles colors terminal output. Writers that are not terminals get plain
// text.
type styles struct {
	color  bool
	status lipgloss.Style
	errors lipgloss.Style
	muted  lipgloss.Style
}

func newStyles(w io.Writer) styles {
	color := false
	if f, ok := w.(*os.File); ok {
		color = term.IsTerminal(int(f.Fd()))
	}
	return styles{
		color:  color,
		status: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		errors: lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		muted:  lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

func (s styles) render(style lipgloss.Style, text string) string {
	if !s.color {
		return text
	}
	return style.Render(text)
}

// renderResponse writes resp to out, and failures and error output to errOut.
func renderResponse(out, errOut io.Writer, resp engine.Response, format string, st styles) error {
	if format == FormatJSON {
		data, err := engine.Encode(resp)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, string(data))
		return nil
	}

	success, ok := resp.(*engine.Success)
	if !ok {
		_, _ = fmt.Fprintf(errOut, "%s %s\n",
			st.render(st.status, string(resp.Status())+":"),
			st.render(st.errors, strings.TrimRight(resp.Text(), "\n")))
		return nil
	}

	if success.ErrorOutput != "" {
		_, _ = fmt.Fprint(errOut, st.render(st.errors, ensureNewline(success.ErrorOutput)))
	}

	if format == FormatCSV || format == FormatMarkdown {
		if aug := success.Augmentation(); aug != nil && aug.Type == engine.GridType {
			return renderGrid(out, aug.Output, format)
		}
	}
	_, _ = fmt.Fprint(out, ensureNewline(success.Output))
	return nil
}

// gridDocument is the augmented rendering of a query result.
type gridDocument struct {
	Fields []struct {
		Name string `json:"name"`
	} `json:"fields"`
	Records [][]any `json:"records"`
}

func renderGrid(w io.Writer, doc, format string) error {
	var g gridDocument
	if err := json.Unmarshal([]byte(doc), &g); err != nil {
		return fmt.Errorf("failed to decode result grid: %w", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)

	header := make(table.Row, len(g.Fields))
	for i, f := range g.Fields {
		header[i] = f.Name
	}
	t.AppendHeader(header)

	for _, rec := range g.Records {
		row := make(table.Row, len(rec))
		for i, v := range rec {
			row[i] = formatValue(v)
		}
		t.AppendRow(row)
	}

	renderTable(t, format)
	return nil
}

func writeIndentedJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", v)
}

func ensureNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
