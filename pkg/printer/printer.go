// Package printer formats command output: styled status messages, tables
// and machine readable JSON or YAML.
package printer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"
	"go.yaml.in/yaml/v3"
)

type OutputType string

const (
	OutputTypeTable OutputType = "table"
	OutputTypeJSON  OutputType = "json"
	OutputTypeYAML  OutputType = "yaml"
)

// ParseOutputType accepts table, json and yaml.
func ParseOutputType(s string) (OutputType, error) {
	switch t := OutputType(s); t {
	case OutputTypeTable, OutputTypeJSON, OutputTypeYAML:
		return t, nil
	case "":
		return OutputTypeTable, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", s)
	}
}

// DefaultWidth is the column messages are wrapped at.
const DefaultWidth = 100

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	headingStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// Printer writes structured values in one output format.
type Printer struct {
	out io.Writer
	typ OutputType
}

// NewWithWriter returns a Printer writing to w.
func NewWithWriter(w io.Writer, typ OutputType) *Printer {
	return &Printer{out: w, typ: typ}
}

// PrintJSON writes v as indented JSON.
func (p *Printer) PrintJSON(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintYAML writes v as YAML.
func (p *Printer) PrintYAML(v any) error {
	enc := yaml.NewEncoder(p.out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// Print writes v in the printer's format. Table output is left to the
// caller; Print falls back to YAML for it.
func (p *Printer) Print(v any) error {
	if p.typ == OutputTypeJSON {
		return p.PrintJSON(v)
	}
	return p.PrintYAML(v)
}

func styled(w io.Writer, style lipgloss.Style, prefix, msg string) {
	fmt.Fprintln(w, style.Render(wordwrap.String(prefix+msg, DefaultWidth)))
}

func Success(w io.Writer, msg string) { styled(w, successStyle, "✓ ", msg) }
func Info(w io.Writer, msg string)    { styled(w, infoStyle, "", msg) }
func Warning(w io.Writer, msg string) { styled(w, warningStyle, "! ", msg) }
func Error(w io.Writer, msg string)   { styled(w, errorStyle, "✗ ", msg) }
func Heading(w io.Writer, msg string) { fmt.Fprintln(w, headingStyle.Render(msg)) }

// PrintError writes msg to stderr in the error style.
func PrintError(msg string) { Error(os.Stderr, msg) }

// TruncateString shortens s to at most n cells, ending in "...".
func TruncateString(s string, n int) string {
	if n <= 0 {
		return ""
	}
	return truncate.StringWithTail(s, uint(n), "...")
}
