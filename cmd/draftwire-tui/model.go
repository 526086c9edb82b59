package main

import (
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"draftwire/pkg/client"
	"draftwire/pkg/logger"
	"draftwire/pkg/models"
	"draftwire/pkg/protocol"
	"draftwire/pkg/session"
)

type packetMsg protocol.Envelope

type disconnectedMsg struct{}

type model struct {
	conn *client.Conn
	sess *session.Session
	self models.UserID
	peer models.UserID

	input     textinput.Model
	width     int
	height    int
	lastTyped string
	connected bool
	quitting  bool
}

func newModel(conn *client.Conn, self, peer models.UserID) model {
	ti := textinput.New()
	ti.Placeholder = "Type a message..."
	ti.CharLimit = 2000
	ti.Focus()
	return model{
		conn:      conn,
		sess:      session.New(self),
		self:      self,
		peer:      peer,
		input:     ti,
		connected: true,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForPacket(m.conn))
}

// waitForPacket blocks on the transport's inbound stream and re-arms after
// every delivery.
func waitForPacket(c *client.Conn) tea.Cmd {
	return func() tea.Msg {
		env, ok := <-c.Packets()
		if !ok {
			return disconnectedMsg{}
		}
		return packetMsg(env)
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = msg.Width - 6
		return m, nil

	case disconnectedMsg:
		// the whole conversation state dies with the transport
		m.apply(session.Reset{})
		m.connected = false
		m.lastTyped = ""
		return m, nil

	case packetMsg:
		m.apply(session.HandlePacket{Env: protocol.Envelope(msg)})
		return m, waitForPacket(m.conn)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			_ = m.conn.Close()
			return m, tea.Quit
		case "enter":
			content := m.input.Value()
			if content == "" {
				return m, nil
			}
			m.apply(session.SendDraft{Content: content})
			m.input.SetValue("")
			m.lastTyped = ""
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if v := m.input.Value(); v != m.lastTyped {
		m.lastTyped = v
		m.apply(session.TypeDraft{To: m.peer, Content: v})
	}
	return m, cmd
}

// apply runs one command through the reducer and flushes whatever packets
// it wants sent. Protocol errors abort the single command, never the UI.
func (m *model) apply(cmd session.Command) {
	outs, err := m.sess.Apply(cmd)
	if err != nil {
		logger.Warn("command_failed", "error", err)
		return
	}
	if !m.connected {
		return
	}
	for _, env := range outs {
		if err := m.conn.Send(env); err != nil {
			logger.Warn("send_failed", "error", err)
			return
		}
	}
}
