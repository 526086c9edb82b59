package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"draftwire/pkg/ident"
	"draftwire/pkg/models"
	"draftwire/pkg/protocol"
)

func fixedClock(t int64) func() int64 {
	return func() int64 { return t }
}

func inbound(sender models.UserID, dest models.UserID, ts int64, p protocol.Packet) HandlePacket {
	return HandlePacket{Env: protocol.Envelope{
		Content:     p,
		Destination: models.ToUser(dest),
		Sender:      sender,
		Timestamp:   ts,
	}}
}

func TestLocalDraftLifecycle(t *testing.T) {
	s := New("alice", WithClock(fixedClock(10)))

	// first keystroke announces the draft
	out, err := s.Apply(TypeDraft{To: "bob", Content: "H"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].Content.StartDraft)
	require.Equal(t, models.UserID("bob"), out[0].Destination.User)
	_, phase := s.LocalDraft()
	require.Equal(t, LocalPending, phase)

	// more typing while Pending buffers locally, no packets
	out, err = s.Apply(TypeDraft{To: "bob", Content: "He"})
	require.NoError(t, err)
	require.Empty(t, out)

	// the self-addressed NewDraft binds the id and flushes the buffer
	id := ident.New()
	out, err = s.Apply(inbound("alice", "bob", 12, protocol.Packet{
		NewDraft: &protocol.NewDraft{ID: id},
	}))
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].Content.Edit)
	require.Equal(t, "He", out[0].Content.Edit.Content)

	d, phase := s.LocalDraft()
	require.Equal(t, LocalActive, phase)
	require.Equal(t, id.String(), d.ID)
	require.Equal(t, int64(12), d.StartTime)

	// typing while Active emits an Edit per change
	out, err = s.Apply(TypeDraft{To: "bob", Content: "Hey"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, id, out[0].Content.Edit.ID)

	// explicit send emits EndDraft but does not finalize yet
	out, err = s.Apply(SendDraft{Content: "Hey!"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].Content.EndDraft)
	require.Empty(t, s.Messages())

	// the echo finalizes: exactly one message, draft back to Idle
	out, err = s.Apply(inbound("alice", "bob", 20, protocol.Packet{
		EndDraft: &protocol.EndDraft{ID: id, Content: "Hey!"},
	}))
	require.NoError(t, err)
	require.Empty(t, out)
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, models.UserID("alice"), msgs[0].Sender)
	require.Equal(t, "Hey!", msgs[0].Content)
	require.Equal(t, int64(12), msgs[0].StartTime)
	require.Equal(t, int64(20), msgs[0].EndTime)
	_, phase = s.LocalDraft()
	require.Equal(t, LocalIdle, phase)

	// a second echo with the same id is a no-op
	_, err = s.Apply(inbound("alice", "bob", 22, protocol.Packet{
		EndDraft: &protocol.EndDraft{ID: id, Content: "Hey!"},
	}))
	require.NoError(t, err)
	require.Len(t, s.Messages(), 1)
}

func TestSecondLocalDraftIgnored(t *testing.T) {
	s := New("alice", WithClock(fixedClock(5)))
	out, err := s.Apply(TypeDraft{To: "bob", Content: "a"})
	require.NoError(t, err)
	require.Len(t, out, 1)

	// typing toward a different destination resolves to nothing
	out, err = s.Apply(TypeDraft{To: "carol", Content: "b"})
	require.NoError(t, err)
	require.Empty(t, out)
	d, _ := s.LocalDraft()
	require.Equal(t, "a", d.Content)
}

func TestSendWithoutActiveDraftIsNoop(t *testing.T) {
	s := New("alice")
	out, err := s.Apply(SendDraft{Content: "hi"})
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestRemoteDraftFinalContentWins(t *testing.T) {
	s := New("alice")
	id := ident.New()

	_, err := s.Apply(inbound("bob", "alice", 2, protocol.Packet{
		NewDraft: &protocol.NewDraft{ID: id},
	}))
	require.NoError(t, err)
	drafts := s.RemoteDrafts()
	require.Contains(t, drafts, models.UserID("bob"))
	require.Equal(t, "", drafts["bob"].Content)

	_, err = s.Apply(inbound("bob", "alice", 4, protocol.Packet{
		Edit: &protocol.Edit{ID: id, Content: "hi", EditingDraft: true},
	}))
	require.NoError(t, err)
	require.Equal(t, "hi", s.RemoteDrafts()["bob"].Content)

	_, err = s.Apply(inbound("bob", "alice", 6, protocol.Packet{
		EndDraft: &protocol.EndDraft{ID: id, Content: "hi there"},
	}))
	require.NoError(t, err)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "hi there", msgs[0].Content, "final EndDraft content wins")
	require.NotContains(t, s.RemoteDrafts(), models.UserID("bob"))
}

func TestEndToEndScenario(t *testing.T) {
	s := New("alice")
	id := ident.New()

	_, err := s.Apply(inbound("bob", "alice", 2, protocol.Packet{NewDraft: &protocol.NewDraft{ID: id}}))
	require.NoError(t, err)
	_, err = s.Apply(inbound("bob", "alice", 4, protocol.Packet{Edit: &protocol.Edit{ID: id, Content: "Hi", EditingDraft: true}}))
	require.NoError(t, err)
	_, err = s.Apply(inbound("bob", "alice", 6, protocol.Packet{EndDraft: &protocol.EndDraft{ID: id, Content: "Hi!"}}))
	require.NoError(t, err)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, models.UserID("bob"), msgs[0].Sender)
	require.Equal(t, "Hi!", msgs[0].Content)
	require.Equal(t, int64(2), msgs[0].StartTime)
	require.Equal(t, int64(6), msgs[0].EndTime)
	require.Empty(t, s.RemoteDrafts())

	// transport closed: everything resets
	_, err = s.Apply(Reset{})
	require.NoError(t, err)
	require.Empty(t, s.Messages())
	require.Empty(t, s.RemoteDrafts())
	_, phase := s.LocalDraft()
	require.Equal(t, LocalIdle, phase)
}

func TestUnmatchedEditAndEndDraftAreNoops(t *testing.T) {
	s := New("alice")
	id := ident.New()

	_, err := s.Apply(inbound("bob", "alice", 3, protocol.Packet{Edit: &protocol.Edit{ID: id, Content: "ghost"}}))
	require.NoError(t, err)
	_, err = s.Apply(inbound("bob", "alice", 4, protocol.Packet{EndDraft: &protocol.EndDraft{ID: id, Content: "ghost"}}))
	require.NoError(t, err)
	require.Empty(t, s.Messages())
	require.Empty(t, s.RemoteDrafts())
}

func TestNewMessageAppendsInstantly(t *testing.T) {
	s := New("alice")
	id := ident.New()
	_, err := s.Apply(inbound("bob", "alice", 9, protocol.Packet{
		NewMessage: &protocol.NewMessage{ID: id, Content: "howdy"},
	}))
	require.NoError(t, err)
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, msgs[0].StartTime, msgs[0].EndTime)
	require.Equal(t, id.String(), msgs[0].ID)
}

func TestNewMessageMissingEnvelopeFields(t *testing.T) {
	s := New("alice")
	id := ident.New()
	_, err := s.Apply(inbound("", "alice", 9, protocol.Packet{NewMessage: &protocol.NewMessage{ID: id, Content: "x"}}))
	require.ErrorIs(t, err, ErrMissingSender)
	_, err = s.Apply(inbound("bob", "alice", 0, protocol.Packet{NewMessage: &protocol.NewMessage{ID: id, Content: "x"}}))
	require.ErrorIs(t, err, ErrMissingTimestamp)
	// a failed packet leaves no partial state behind
	require.Empty(t, s.Messages())
}

func TestDiscardDraftRemovesRemote(t *testing.T) {
	s := New("alice")
	id := ident.New()
	_, err := s.Apply(inbound("bob", "alice", 2, protocol.Packet{NewDraft: &protocol.NewDraft{ID: id}}))
	require.NoError(t, err)
	_, err = s.Apply(inbound("bob", "alice", 5, protocol.Packet{DiscardDraft: &protocol.DiscardDraft{ID: id}}))
	require.NoError(t, err)
	require.Empty(t, s.RemoteDrafts())
	require.Empty(t, s.Messages())
}

func TestPeerStartDraftIgnored(t *testing.T) {
	s := New("alice")
	out, err := s.Apply(inbound("bob", "alice", 2, protocol.Packet{StartDraft: &protocol.StartDraft{}}))
	require.NoError(t, err)
	require.Empty(t, out)
	require.Empty(t, s.RemoteDrafts())
}

func TestInvalidPacketAborted(t *testing.T) {
	s := New("alice")
	_, err := s.Apply(HandlePacket{Env: protocol.Envelope{Destination: models.ToUser("alice")}})
	require.ErrorIs(t, err, protocol.ErrNoVariant)
}
