package frontend

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/rivo/uniseg"

	"github.com/dshills/patchbay/internal/console"
)

var (
	badgeCalm  = colorful.Color{R: 0.30, G: 0.69, B: 0.31}
	badgeAlarm = colorful.Color{R: 0.90, G: 0.22, B: 0.21}

	headerStyle  = tcell.StyleDefault.Reverse(true)
	footerStyle  = tcell.StyleDefault.Dim(true)
	warningStyle = tcell.StyleDefault.Foreground(tcell.ColorYellow)
	errorStyle   = tcell.StyleDefault.Foreground(tcell.ColorRed).Bold(true)
)

// badgeColor blends from calm to alarm as alert goes from 0 to 1.
func badgeColor(alert float64) tcell.Color {
	alert = min(max(alert, 0), 1)
	r, g, b := badgeCalm.BlendLab(badgeAlarm, alert).Clamped().RGB255()
	return tcell.NewRGBColor(int32(r), int32(g), int32(b))
}

func severityStyle(s console.Severity) tcell.Style {
	switch s {
	case console.SeverityWarning:
		return warningStyle
	case console.SeverityError:
		return errorStyle
	default:
		return tcell.StyleDefault
	}
}

// row is one screen line of a wrapped record.
type row struct {
	text  string
	style tcell.Style
}

// wrap splits s into rows no wider than width cells, breaking between
// grapheme clusters.
func wrap(s string, width int) []string {
	if width <= 0 {
		return nil
	}
	var rows []string
	var sb strings.Builder
	col := 0
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		w := g.Width()
		if col+w > width && col > 0 {
			rows = append(rows, sb.String())
			sb.Reset()
			col = 0
		}
		sb.WriteString(g.Str())
		col += w
	}
	if sb.Len() > 0 || len(rows) == 0 {
		rows = append(rows, sb.String())
	}
	return rows
}

// drawString draws s from (x, y), clipped at x+width. It returns the number
// of cells used.
func drawString(s tcell.Screen, x, y, width int, text string, style tcell.Style) int {
	used := 0
	g := uniseg.NewGraphemes(text)
	for g.Next() {
		w := g.Width()
		if w == 0 {
			continue
		}
		if used+w > width {
			break
		}
		runes := g.Runes()
		s.SetContent(x+used, y, runes[0], runes[1:], style)
		used += w
	}
	return used
}

// rows wraps the visible records to width.
func (t *Terminal) rows(width int) []row {
	var out []row
	for _, r := range t.console.Visible(t.filter) {
		text := r.Text
		if r.Repeats > 1 {
			text += fmt.Sprintf(" (x%d)", r.Repeats)
		}
		style := severityStyle(r.Severity)
		for _, line := range wrap(text, width) {
			out = append(out, row{text: line, style: style})
		}
	}
	return out
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (t *Terminal) draw() {
	t.dirty = false
	s := t.screen
	s.Clear()
	width, height := s.Size()
	if width <= 0 || height <= 0 {
		return
	}

	stats := t.console.Stats()
	header := fmt.Sprintf(" patchbay  records %d  history %d  dropped %d  dsp %s ",
		stats.Records, stats.History, stats.Dropped, onOff(t.dsp))
	for x := 0; x < width; x++ {
		s.SetContent(x, 0, ' ', nil, headerStyle)
	}
	drawString(s, 0, 0, width, header, headerStyle)

	badge := " OK "
	if t.alert > 0 {
		badge = " ERR "
	}
	if bx := width - len(badge); bx > 0 {
		drawString(s, bx, 0, len(badge), badge,
			tcell.StyleDefault.Background(badgeColor(t.alert)).Foreground(tcell.ColorBlack))
	}

	body := height - 2
	if body > 0 {
		rows := t.rows(width)
		start := max(len(rows)-body, 0)
		for i, r := range rows[start:] {
			drawString(s, 0, 1+i, width, r.text, r.style)
		}
	}

	if height > 1 {
		footer := fmt.Sprintf(" [c]lear [r]estore [m]essages %s [e]rrors %s [q]uit  %s",
			onOff(t.filter.ShowMessages), onOff(t.filter.ShowErrors), t.last)
		drawString(s, 0, height-1, width, footer, footerStyle)
	}
	s.Show()
}
