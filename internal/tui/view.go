package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"forum-client/internal/chat"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	connStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")).
			MarginLeft(2)

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	ownNameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("170")).
			Bold(true)

	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	adminStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	typingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

func (m *Model) View() string {
	if m.screen == screenRooms {
		var b strings.Builder
		b.WriteString(m.picker.View())
		b.WriteString("\n")
		b.WriteString(m.footer("enter: open • r: reload • /: filter • ctrl+c: quit"))
		return b.String()
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(m.current.Name))
	b.WriteString(connStyle.Render(m.snap.Conn.String()))
	if m.snap.Archived {
		b.WriteString(connStyle.Render("offline copy"))
	}
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(typingStyle.Render(typingLine(m.snap.Typing)))
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.footer("enter: send • ctrl+r: refresh • pgup/pgdown: scroll • esc: rooms"))
	return b.String()
}

func (m *Model) footer(help string) string {
	switch {
	case m.err != nil:
		return errorStyle.Render(m.err.Error())
	case m.snap.Send == chat.Sending:
		return helpStyle.Render("sending…")
	case m.status != "":
		return helpStyle.Render(m.status)
	default:
		return helpStyle.Render(help)
	}
}

// renderMessages draws the conversation, one message per line block. Own Direct messages
// carry a read mark once the peer has read them.
func renderMessages(msgs []chat.Message, me string, width int) string {
	if len(msgs) == 0 {
		return helpStyle.Render("No messages yet.")
	}
	body := lipgloss.NewStyle()
	if width > 0 {
		body = body.Width(width)
	}
	var b strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		own := msg.Sender.Username == me
		name := nameStyle.Render(msg.Sender.Name())
		if own {
			name = ownNameStyle.Render(msg.Sender.Name())
		}
		if msg.Group != nil && msg.Group.SenderIsAdmin {
			name += adminStyle.Render(" ★")
		}
		line := fmt.Sprintf("%s %s %s", timeStyle.Render(msg.CreatedAt.Local().Format("15:04")), name, msg.Summary())
		if own && msg.IsRead() {
			line += timeStyle.Render(" ✓")
		}
		b.WriteString(body.Render(line))
	}
	return b.String()
}

func typingLine(users []string) string {
	switch len(users) {
	case 0:
		return ""
	case 1:
		return users[0] + " is typing…"
	case 2:
		return users[0] + " and " + users[1] + " are typing…"
	default:
		return fmt.Sprintf("%s and %d others are typing…", users[0], len(users)-1)
	}
}
