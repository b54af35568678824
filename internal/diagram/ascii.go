package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// statusTag returns a short ASCII indicator for a status string.
func statusTag(status string) string {
	switch status {
	case StatusCompleted:
		return "[OK]"
	case StatusFailed:
		return "[FAIL]"
	case StatusPending:
		return "[PEND]"
	default:
		return ""
	}
}

// RenderASCII renders a DiagramModel as boxes, one row per level. Graphs
// without levels (cyclic ones) are listed in node order followed by their
// edges.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder
	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}

	levels := model.Levels
	if levels == nil {
		for _, n := range model.Nodes {
			levels = append(levels, []string{n.ID})
		}
	}

	for i, level := range levels {
		var boxes []asciiBox
		for _, id := range level {
			if node := model.Node(id); node != nil {
				boxes = append(boxes, makeBox(node))
			}
		}
		renderBoxRow(&b, boxes)
		if i < len(levels)-1 && len(boxes) > 0 {
			b.WriteString("       │\n")
			b.WriteString("       ▼\n")
		}
	}

	if model.Levels == nil && len(model.Edges) > 0 {
		b.WriteString("\nedges:\n")
		for _, e := range model.Edges {
			fmt.Fprintf(&b, "  %s ─→ %s\n", e.From, e.To)
		}
	}
	return b.String()
}

type asciiBox struct {
	lines []string
	width int
}

func makeBox(node *Node) asciiBox {
	content := []string{node.Label}
	if node.Detail != "" {
		content = append(content, node.Detail)
	}
	if node.Status != nil {
		tag := statusTag(node.Status.Status)
		if node.Status.DurationMs > 0 {
			tag = fmt.Sprintf("%s %dms", tag, node.Status.DurationMs)
		}
		if tag != "" {
			content = append(content, tag)
		}
	}

	maxLen := 0
	for _, line := range content {
		if n := utf8.RuneCountInString(line); n > maxLen {
			maxLen = n
		}
	}
	width := maxLen + 4

	lines := []string{"┌" + strings.Repeat("─", width-2) + "┐"}
	for _, c := range content {
		lines = append(lines, "│ "+c+strings.Repeat(" ", maxLen-utf8.RuneCountInString(c))+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", width-2)+"┘")
	return asciiBox{lines: lines, width: width}
}

// renderBoxRow writes boxes side by side.
func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	height := 0
	for _, box := range boxes {
		height = max(height, len(box.lines))
	}
	for row := range height {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ")
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}
