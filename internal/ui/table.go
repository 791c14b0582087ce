package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// colGap separates adjacent columns.
const colGap = "  "

// Table lays out rows of pre-rendered cells under fixed-width columns.
// Cells may carry ANSI styling (status words, addresses); widths are
// measured on the visible text, not the raw bytes.
type Table struct {
	Headers  []string
	Rows     [][]string
	MaxWidth int // cap per column, 0 = unbounded

	// AlignRight marks columns rendered flush right, for numeric data
	// like cost estimates.
	AlignRight map[int]bool
}

// ColumnWidths returns the visible width of each column: the widest cell,
// capped at MaxWidth.
func (t *Table) ColumnWidths() []int {
	widths := make([]int, len(t.Headers))
	for i, h := range t.Headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	if t.MaxWidth > 0 {
		for i, w := range widths {
			if w > t.MaxWidth {
				widths[i] = t.MaxWidth
			}
		}
	}
	return widths
}

// Render writes the header, a rule, and every row.
func (t *Table) Render() string {
	if len(t.Headers) == 0 {
		return ""
	}
	widths := t.ColumnWidths()

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)
	ruleStyle := lipgloss.NewStyle().Foreground(ColorSecondary)

	var sb strings.Builder
	cells := make([]string, len(t.Headers))
	for i, h := range t.Headers {
		cells[i] = headerStyle.Render(t.fit(h, widths[i], i))
	}
	sb.WriteString(" " + strings.Join(cells, colGap) + "\n")

	for i, w := range widths {
		cells[i] = ruleStyle.Render(strings.Repeat("─", w))
	}
	sb.WriteString(" " + strings.Join(cells, "──") + "\n")

	for _, row := range t.Rows {
		for i := range t.Headers {
			val := ""
			if i < len(row) {
				val = row[i]
			}
			cells[i] = t.fit(val, widths[i], i)
		}
		sb.WriteString(" " + strings.Join(cells, colGap) + "\n")
	}
	return sb.String()
}

// fit clips or pads a cell to the column width, honoring the column's
// alignment. Styled cells are never clipped: cutting into an escape
// sequence would corrupt the rest of the line, and the views keep their
// styled columns narrow anyway.
func (t *Table) fit(cell string, width, col int) string {
	visible := lipgloss.Width(cell)
	if visible > width && visible == len([]rune(cell)) {
		if width < 2 {
			cell, visible = "…", 1
		} else {
			cell = string([]rune(cell)[:width-1]) + "…"
			visible = width
		}
	}
	if visible >= width {
		return cell
	}
	pad := strings.Repeat(" ", width-visible)
	if t.AlignRight[col] {
		return pad + cell
	}
	return cell + pad
}
