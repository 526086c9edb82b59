// Package session holds the client-side conversation state: finalized
// message history, the one local draft, and the per-peer remote drafts.
// All mutation happens inside Apply, which consumes a typed command and
// returns the packets to hand to the transport, so the whole state machine
// is testable without a live connection.
package session

import (
	"errors"
	"fmt"
	"time"

	"draftwire/pkg/ident"
	"draftwire/pkg/logger"
	"draftwire/pkg/models"
	"draftwire/pkg/protocol"
)

// LocalPhase is the local draft automaton state.
type LocalPhase int

const (
	// LocalIdle means no local draft exists.
	LocalIdle LocalPhase = iota
	// LocalPending means StartDraft was sent but no id has arrived yet.
	LocalPending
	// LocalActive means the draft has a bound id and edits flow.
	LocalActive
)

var (
	// ErrMissingSender marks an inbound packet that needs a sender but
	// carries none.
	ErrMissingSender = errors.New("session: packet missing sender")
	// ErrMissingTimestamp marks an inbound packet that needs a far-end
	// timestamp but carries none.
	ErrMissingTimestamp = errors.New("session: packet missing timestamp")
)

// Session is the conversation state for one local user. It has exactly one
// writer: whoever calls Apply. Transitions are atomic; a failed packet
// leaves the state untouched.
type Session struct {
	self models.UserID

	messages []models.Message
	remote   map[models.UserID]models.Draft

	localPhase LocalPhase
	localDest  models.UserID
	localDraft models.Draft

	now func() int64
}

// Option configures a Session.
type Option func(*Session)

// WithClock overrides the microsecond clock, for tests.
func WithClock(now func() int64) Option {
	return func(s *Session) { s.now = now }
}

// New builds an empty session for the given local identity. The identity
// must be known before any packet is processed.
func New(self models.UserID, opts ...Option) *Session {
	s := &Session{
		self:   self,
		remote: map[models.UserID]models.Draft{},
		now:    func() int64 { return time.Now().UnixMicro() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Self returns the local identity.
func (s *Session) Self() models.UserID { return s.self }

// Messages returns the finalized history in arrival order.
func (s *Session) Messages() []models.Message {
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// LocalDraft returns the local draft and its phase.
func (s *Session) LocalDraft() (models.Draft, LocalPhase) {
	return s.localDraft, s.localPhase
}

// RemoteDrafts returns a copy of the peer draft map. A peer appears here
// only while it has an unfinalized draft.
func (s *Session) RemoteDrafts() map[models.UserID]models.Draft {
	out := make(map[models.UserID]models.Draft, len(s.remote))
	for k, v := range s.remote {
		out[k] = v
	}
	return out
}

// Apply runs one command against the state and returns the envelopes to
// send outbound. An error means that single command was aborted; the
// session itself stays usable.
func (s *Session) Apply(cmd Command) ([]protocol.Envelope, error) {
	switch c := cmd.(type) {
	case TypeDraft:
		return s.typeDraft(c), nil
	case SendDraft:
		return s.sendDraft(c), nil
	case HandlePacket:
		return s.handlePacket(c.Env)
	case Reset:
		s.reset()
		return nil, nil
	default:
		return nil, fmt.Errorf("session: unknown command %T", cmd)
	}
}

func (s *Session) reset() {
	s.messages = nil
	s.remote = map[models.UserID]models.Draft{}
	s.localPhase = LocalIdle
	s.localDest = ""
	s.localDraft = models.Draft{}
}

func (s *Session) typeDraft(c TypeDraft) []protocol.Envelope {
	switch s.localPhase {
	case LocalIdle:
		s.localPhase = LocalPending
		s.localDest = c.To
		s.localDraft = models.Draft{Content: c.Content, StartTime: s.now()}
		return []protocol.Envelope{{
			Content:     protocol.Packet{StartDraft: &protocol.StartDraft{}},
			Destination: models.ToUser(c.To),
		}}
	case LocalPending:
		if c.To != s.localDest {
			// one in-flight local draft at a time
			return nil
		}
		s.localDraft.Content = c.Content
		return nil
	case LocalActive:
		if c.To != s.localDest {
			return nil
		}
		s.localDraft.Content = c.Content
		id, err := ident.Parse(s.localDraft.ID)
		if err != nil {
			logger.Error("local_draft_bad_id", "id", s.localDraft.ID, "error", err)
			return nil
		}
		return []protocol.Envelope{{
			Content: protocol.Packet{Edit: &protocol.Edit{
				ID: id, Content: c.Content, EditingDraft: true,
			}},
			Destination: models.ToUser(s.localDest),
		}}
	}
	return nil
}

func (s *Session) sendDraft(c SendDraft) []protocol.Envelope {
	if s.localPhase != LocalActive {
		// nothing to finalize; Pending drafts have no id yet
		return nil
	}
	s.localDraft.Content = c.Content
	id, err := ident.Parse(s.localDraft.ID)
	if err != nil {
		logger.Error("local_draft_bad_id", "id", s.localDraft.ID, "error", err)
		return nil
	}
	// the draft stays Active until the EndDraft echo finalizes it
	return []protocol.Envelope{{
		Content: protocol.Packet{EndDraft: &protocol.EndDraft{
			ID: id, Content: c.Content,
		}},
		Destination: models.ToUser(s.localDest),
	}}
}

func (s *Session) handlePacket(env protocol.Envelope) ([]protocol.Envelope, error) {
	kind, err := env.Content.Validate()
	if err != nil {
		return nil, err
	}
	switch kind {
	case protocol.KindNewMessage:
		return nil, s.onNewMessage(env, env.Content.NewMessage)
	case protocol.KindStartDraft:
		// a peer's StartDraft carries no id yet; nothing to track
		return nil, nil
	case protocol.KindNewDraft:
		return s.onNewDraft(env, env.Content.NewDraft)
	case protocol.KindEdit:
		s.onEdit(env.Content.Edit)
		return nil, nil
	case protocol.KindEndDraft:
		return nil, s.onEndDraft(env, env.Content.EndDraft)
	case protocol.KindDiscardDraft:
		s.onDiscardDraft(env.Content.DiscardDraft)
		return nil, nil
	}
	return nil, nil
}

func (s *Session) onNewMessage(env protocol.Envelope, p *protocol.NewMessage) error {
	if env.Sender == "" {
		return ErrMissingSender
	}
	if env.Timestamp == 0 {
		return ErrMissingTimestamp
	}
	s.messages = append(s.messages, models.Message{
		Sender:      env.Sender,
		Destination: env.Destination,
		Content:     p.Content,
		ID:          p.ID.String(),
		StartTime:   env.Timestamp,
		EndTime:     env.Timestamp,
	})
	return nil
}

// selfAddressed reports whether a NewDraft confirms our own draft slot:
// the sender is us, or absent on a locally scoped channel.
func (s *Session) selfAddressed(env protocol.Envelope) bool {
	return env.Sender == "" || env.Sender == s.self
}

func (s *Session) onNewDraft(env protocol.Envelope, p *protocol.NewDraft) ([]protocol.Envelope, error) {
	if s.selfAddressed(env) {
		if s.localPhase != LocalPending {
			logger.Debug("new_draft_without_pending", "id", p.ID.String())
			return nil, nil
		}
		s.localPhase = LocalActive
		s.localDraft.ID = p.ID.String()
		if env.Timestamp != 0 {
			s.localDraft.StartTime = env.Timestamp
		} else if p.StartTime != 0 {
			s.localDraft.StartTime = p.StartTime
		}
		if s.localDraft.Content == "" {
			return nil, nil
		}
		// flush the keystrokes buffered while Pending
		return []protocol.Envelope{{
			Content: protocol.Packet{Edit: &protocol.Edit{
				ID: p.ID, Content: s.localDraft.Content, EditingDraft: true,
			}},
			Destination: models.ToUser(s.localDest),
		}}, nil
	}
	if env.Timestamp == 0 {
		return nil, ErrMissingTimestamp
	}
	s.remote[env.Sender] = models.Draft{
		ID:        p.ID.String(),
		StartTime: env.Timestamp,
	}
	return nil, nil
}

func (s *Session) onEdit(p *protocol.Edit) {
	id := p.ID.String()
	if s.localPhase == LocalActive && s.localDraft.ID == id {
		// echo of our own edit; content is already current
		return
	}
	for peer, d := range s.remote {
		if d.ID == id {
			d.Content = p.Content
			s.remote[peer] = d
			return
		}
	}
	// an id may legitimately arrive after its draft was abandoned
}

func (s *Session) onEndDraft(env protocol.Envelope, p *protocol.EndDraft) error {
	id := p.ID.String()
	if s.localPhase != LocalIdle && s.localDraft.ID == id {
		if env.Timestamp == 0 {
			return ErrMissingTimestamp
		}
		if s.localDraft.StartTime == 0 {
			return fmt.Errorf("session: finalize without start time for %s", id)
		}
		msg := s.localDraft.Finalize(s.self, models.ToUser(s.localDest), p.Content, env.Timestamp)
		s.messages = append(s.messages, msg)
		s.localPhase = LocalIdle
		s.localDest = ""
		s.localDraft = models.Draft{}
		return nil
	}
	// ids are minted once, so at most one peer can match; map order is
	// irrelevant for the "first" match
	for peer, d := range s.remote {
		if d.ID != id {
			continue
		}
		if env.Sender == "" {
			return ErrMissingSender
		}
		if env.Timestamp == 0 {
			return ErrMissingTimestamp
		}
		if d.StartTime == 0 {
			return fmt.Errorf("session: finalize without start time for %s", id)
		}
		msg := d.Finalize(env.Sender, env.Destination, p.Content, env.Timestamp)
		s.messages = append(s.messages, msg)
		delete(s.remote, peer)
		return nil
	}
	// unmatched finalize is a no-op, not an error
	return nil
}

func (s *Session) onDiscardDraft(p *protocol.DiscardDraft) {
	id := p.ID.String()
	if s.localPhase != LocalIdle && s.localDraft.ID == id {
		s.localPhase = LocalIdle
		s.localDest = ""
		s.localDraft = models.Draft{}
		return
	}
	for peer, d := range s.remote {
		if d.ID == id {
			delete(s.remote, peer)
			return
		}
	}
}
