package main

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/goliatone/go-tablestate"
	runewidth "github.com/mattn/go-runewidth"
)

const maxHeaderWidth = 28

var previewHeaders = []string{"", "COLUMN", "HEADER", "TYPE", "WIDTH", "FLAGS"}

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	hiddenStyle = lipgloss.NewStyle().Faint(true)
	pinStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
)

func (a *app) printPreview(state tablestate.TableState) error {
	_, err := fmt.Fprint(a.stdout, renderPreview(state, a.noColor))
	return err
}

// renderPreview lays the table columns out one per row: pinned columns
// first, then the rest in display order. Hidden columns stay listed.
func renderPreview(state tablestate.TableState, noColor bool) string {
	type row struct {
		cells  []string
		hidden bool
		pinned bool
	}

	pinnedLeft := make(map[string]bool, len(state.Pinning.Left))
	for _, id := range state.Pinning.Left {
		pinnedLeft[id] = true
	}

	var pinned, rest []row
	for _, column := range state.Columns {
		visible, known := state.Visibility[column.ID]
		if !known {
			visible = true
		}
		side := ""
		switch {
		case pinnedLeft[column.ID]:
			side = "◀"
		case slices.Contains(state.Pinning.Right, column.ID):
			side = "▶"
		}

		var flags []string
		if !visible {
			flags = append(flags, "hidden")
		}
		if column.Removed {
			flags = append(flags, "removed")
		}
		if state.Wrapping[column.ID] {
			flags = append(flags, "wrap")
		}
		if len(column.MatrixColumns) > 0 {
			flags = append(flags, "matrix:"+strconv.Itoa(len(column.MatrixColumns)))
		}

		header := column.Header
		if header == "" {
			header = "-"
		}
		r := row{
			cells: []string{
				side,
				column.ID,
				runewidth.Truncate(header, maxHeaderWidth, "…"),
				column.Type,
				strconv.Itoa(state.Sizing[column.ID]),
				strings.Join(flags, ","),
			},
			hidden: !visible,
			pinned: pinnedLeft[column.ID],
		}
		if r.pinned {
			pinned = append(pinned, r)
		} else {
			rest = append(rest, r)
		}
	}
	rows := append(pinned, rest...)

	widths := make([]int, len(previewHeaders))
	for i, h := range previewHeaders {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, r := range rows {
		for i, cell := range r.cells {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}

	line := func(cells []string) string {
		padded := make([]string, len(cells))
		for i, cell := range cells {
			padded[i] = runewidth.FillRight(cell, widths[i])
		}
		return strings.TrimRight(strings.Join(padded, "  "), " ")
	}

	var b strings.Builder
	title := fmt.Sprintf("%s (%d columns)", state.Table, len(state.Columns))
	head := line(previewHeaders)
	if !noColor {
		title = headerStyle.Render(title)
		head = headerStyle.Render(head)
	}
	b.WriteString(title + "\n")
	b.WriteString(head + "\n")
	for _, r := range rows {
		text := line(r.cells)
		if !noColor {
			switch {
			case r.hidden:
				text = hiddenStyle.Render(text)
			case r.pinned:
				text = pinStyle.Render(text)
			}
		}
		b.WriteString(text + "\n")
	}
	return b.String()
}
