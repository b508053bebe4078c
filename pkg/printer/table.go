package printer

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

// TablePrinter collects rows and renders them with a border.
type TablePrinter struct {
	out     io.Writer
	headers []string
	rows    [][]string
}

func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{out: w}
}

func (t *TablePrinter) SetHeaders(headers ...string) {
	t.headers = headers
}

// AddRow appends a row; missing cells are rendered empty.
func (t *TablePrinter) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *TablePrinter) Render() error {
	if len(t.headers) == 0 {
		return fmt.Errorf("table has no headers")
	}
	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(t.headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, r := range t.rows {
		cells := make([]string, len(t.headers))
		copy(cells, r)
		tbl.Row(cells...)
	}
	_, err := fmt.Fprintln(t.out, tbl.Render())
	return err
}
