package output

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Table prints rows as aligned columns under a dim header.
type Table struct {
	headers []string
	widths  []int
	rows    [][]string
}

// NewTable starts a table with the given column headers.
func NewTable(headers ...string) *Table {
	t := &Table{headers: headers, widths: make([]int, len(headers))}
	for i, h := range headers {
		t.widths[i] = utf8.RuneCountInString(h)
	}
	return t
}

// Row appends a row. Missing cells are blank, extra cells are dropped.
func (t *Table) Row(cells ...string) {
	row := make([]string, len(t.headers))
	copy(row, cells)
	for i, c := range row {
		if n := utf8.RuneCountInString(c); n > t.widths[i] {
			t.widths[i] = min(n, maxColumnWidth)
		}
	}
	t.rows = append(t.rows, row)
}

const maxColumnWidth = 40

// Render writes the table. colorize is applied to each cell after padding
// so escape codes do not disturb alignment.
func (t *Table) Render(w io.Writer, c *Colorizer, colorize func(col int, cell string) string) {
	head := make([]string, len(t.headers))
	for i, h := range t.headers {
		head[i] = c.Dim(padToWidth(strings.ToUpper(h), t.widths[i]))
	}
	fmt.Fprintln(w, strings.TrimRight(strings.Join(head, "  "), " "))

	for _, row := range t.rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			padded := padToWidth(cell, t.widths[i])
			if colorize != nil {
				trimmed := strings.TrimRight(padded, " ")
				padded = colorize(i, trimmed) + padded[len(trimmed):]
			}
			cells[i] = padded
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(cells, "  "), " "))
	}
}

// padToWidth pads or truncates a string to exactly the given width.
func padToWidth(s string, width int) string {
	runeCount := utf8.RuneCountInString(s)

	if runeCount > width {
		runes := []rune(s)
		if width > 3 {
			return string(runes[:width-3]) + "..."
		}
		return string(runes[:width])
	}

	if runeCount < width {
		return s + strings.Repeat(" ", width-runeCount)
	}

	return s
}
