package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/wordwrap"

	"draftwire/pkg/layout"
	"draftwire/pkg/models"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	offStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))

	selfBubble = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)
	peerBubble = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
	draftStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("245"))
	inputStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true, false, false, false).
			BorderForeground(lipgloss.Color("240"))
)

func (m model) View() string {
	if m.quitting {
		return ""
	}
	width := m.width
	if width <= 0 {
		width = 80
	}
	height := m.height
	if height <= 0 {
		height = 24
	}

	header := headerStyle.Render("draftwire") + "  " +
		statusStyle.Render(string(m.self)+" <-> "+string(m.peer))
	if !m.connected {
		header += "  " + offStyle.Render("disconnected")
	}

	var body []string
	body = append(body, m.renderHistory(width)...)
	if d := m.renderPeerDraft(width); d != "" {
		body = append(body, d)
	}

	// keep the newest rows that fit above the input line
	avail := height - 4
	if avail < 1 {
		avail = 1
	}
	joined := strings.Join(body, "\n")
	lines := strings.Split(joined, "\n")
	if len(lines) > avail {
		lines = lines[len(lines)-avail:]
	}

	input := inputStyle.Width(width).Render(m.input.View())
	return header + "\n" + strings.Join(lines, "\n") + "\n" + input
}

// renderHistory lays the finalized messages out as two per-sender threads
// merged by start row, one bubble per row.
func (m model) renderHistory(width int) []string {
	rows := layout.Assign(m.sess.Messages())
	merged := layout.Merge(
		layout.Thread(rows, m.self),
		layout.Thread(rows, m.peer),
	)

	bubbleWidth := width * 2 / 3
	if bubbleWidth < 16 {
		bubbleWidth = 16
	}
	out := make([]string, 0, len(merged))
	for _, r := range merged {
		out = append(out, m.renderBubble(r.Message, width, bubbleWidth))
	}
	return out
}

func (m model) renderBubble(msg models.Message, width, bubbleWidth int) string {
	content := wordwrap.String(msg.Content, bubbleWidth-4)
	if msg.Sender == m.self {
		b := selfBubble.Render(content)
		return lipgloss.PlaceHorizontal(width, lipgloss.Right, b)
	}
	label := statusStyle.Render(runewidth.Truncate(string(msg.Sender), 20, "…"))
	return label + "\n" + peerBubble.Render(content)
}

// renderPeerDraft shows the live remote draft under the history, the way
// the composer sees it right now.
func (m model) renderPeerDraft(width int) string {
	drafts := m.sess.RemoteDrafts()
	d, ok := drafts[m.peer]
	if !ok {
		return ""
	}
	text := d.Content
	if text == "" {
		text = "..."
	}
	line := string(m.peer) + " is typing: " + text
	return draftStyle.Render(runewidth.Truncate(line, width-2, "…"))
}
