package session

import (
	"draftwire/pkg/models"
	"draftwire/pkg/protocol"
)

// Command is the closed set of inputs that drive a conversation. The two
// event sources (local text input, inbound packets) are both expressed as
// commands so every transition runs through the same single-writer Apply.
type Command interface {
	isCommand()
}

// TypeDraft reflects the local input field changing while composing to a
// destination. It fires on every content change; there is no debouncing.
type TypeDraft struct {
	To      models.UserID
	Content string
}

// SendDraft is the explicit send action for the local draft.
type SendDraft struct {
	Content string
}

// HandlePacket delivers one inbound envelope from the transport.
type HandlePacket struct {
	Env protocol.Envelope
}

// Reset is the transport-closed signal; it discards the whole conversation
// state. There is no partial recovery or draft resumption.
type Reset struct{}

func (TypeDraft) isCommand()    {}
func (SendDraft) isCommand()    {}
func (HandlePacket) isCommand() {}
func (Reset) isCommand()       {}
