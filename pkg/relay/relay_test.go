package relay

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"draftwire/pkg/ident"
	"draftwire/pkg/models"
	"draftwire/pkg/protocol"
	"draftwire/pkg/store"
)

func newTestRelay(t *testing.T) (*Relay, *store.MemoryStore, *int64) {
	t.Helper()
	clock := int64(0)
	st := store.NewMemoryStore()
	r := New(st, Options{
		QueueCapacity: 16,
		BacklogLimit:  8,
		Now: func() int64 {
			clock++
			return clock
		},
	})
	return r, st, &clock
}

// push encodes env as the named sender would send it and runs it through
// the processor synchronously.
func push(t *testing.T, r *Relay, sender models.UserID, pkt protocol.Packet, dest models.UserID) {
	t.Helper()
	data, err := protocol.Encode(protocol.Envelope{Content: pkt, Destination: models.ToUser(dest)})
	require.NoError(t, err)
	r.process(&Submission{Sender: sender, Payload: data, TS: r.now()})
}

func recv(t *testing.T, ch <-chan protocol.Envelope) protocol.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(time.Second):
		t.Fatal("no packet delivered")
		return protocol.Envelope{}
	}
}

func TestRegisterRejectsSecondConnection(t *testing.T) {
	r, _, _ := newTestRelay(t)
	_, err := r.Register("alice")
	require.NoError(t, err)
	_, err = r.Register("alice")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	r.Deregister("alice")
	_, err = r.Register("alice")
	assert.NoError(t, err, "slot frees up after deregister")
}

func TestStartDraftMintsIDForBothParties(t *testing.T) {
	r, _, _ := newTestRelay(t)
	aliceCh, err := r.Register("alice")
	require.NoError(t, err)
	bobCh, err := r.Register("bob")
	require.NoError(t, err)

	push(t, r, "alice", protocol.Packet{StartDraft: &protocol.StartDraft{}}, "bob")

	toBob := recv(t, bobCh)
	require.NotNil(t, toBob.Content.NewDraft)
	assert.Equal(t, models.UserID("alice"), toBob.Sender)
	assert.NotZero(t, toBob.Content.NewDraft.StartTime)

	toAlice := recv(t, aliceCh)
	require.NotNil(t, toAlice.Content.NewDraft)
	assert.Empty(t, toAlice.Sender, "composer copy carries no sender")
	assert.Equal(t, toBob.Content.NewDraft.ID, toAlice.Content.NewDraft.ID)
	assert.Equal(t, models.UserID("bob"), toAlice.Destination.User)
}

func TestDraftLifecyclePersistsFinalContent(t *testing.T) {
	r, st, _ := newTestRelay(t)
	aliceCh, _ := r.Register("alice")
	bobCh, _ := r.Register("bob")

	push(t, r, "alice", protocol.Packet{StartDraft: &protocol.StartDraft{}}, "bob")
	id := recv(t, bobCh).Content.NewDraft.ID
	recv(t, aliceCh)

	push(t, r, "alice", protocol.Packet{Edit: &protocol.Edit{ID: id, Content: "hi", EditingDraft: true}}, "bob")
	edit := recv(t, bobCh)
	require.NotNil(t, edit.Content.Edit)
	assert.Equal(t, "hi", edit.Content.Edit.Content)

	// the finalizing content wins over the last edit the registry saw
	push(t, r, "alice", protocol.Packet{EndDraft: &protocol.EndDraft{ID: id, Content: "hi there"}}, "bob")
	end := recv(t, bobCh)
	require.NotNil(t, end.Content.EndDraft)
	assert.Equal(t, "hi there", end.Content.EndDraft.Content)

	echo := recv(t, aliceCh)
	require.NotNil(t, echo.Content.EndDraft)
	assert.Empty(t, echo.Sender)

	room := store.NewRoomID("alice", "bob")
	msgs, err := st.List(room, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi there", msgs[0].Content)
	assert.Equal(t, id.String(), msgs[0].ID)
	assert.Less(t, msgs[0].StartTime, msgs[0].EndTime)
}

func TestBacklogFlushedInOrderOnRegister(t *testing.T) {
	r, _, _ := newTestRelay(t)
	r.mustRegister(t, "alice")

	id1, id2 := ident.New(), ident.New()
	push(t, r, "alice", protocol.Packet{NewMessage: &protocol.NewMessage{ID: id1, Content: "first"}}, "bob")
	push(t, r, "alice", protocol.Packet{NewMessage: &protocol.NewMessage{ID: id2, Content: "second"}}, "bob")

	bobCh, err := r.Register("bob")
	require.NoError(t, err)
	assert.Equal(t, "first", recv(t, bobCh).Content.NewMessage.Content)
	assert.Equal(t, "second", recv(t, bobCh).Content.NewMessage.Content)
}

func TestBacklogOverflowDropsOldest(t *testing.T) {
	r, _, _ := newTestRelay(t)
	r.mustRegister(t, "alice")

	for i := 0; i < 10; i++ { // backlog limit is 8
		push(t, r, "alice", protocol.Packet{StartDraft: &protocol.StartDraft{}}, "bob")
		push(t, r, "alice", protocol.Packet{DiscardDraft: &protocol.DiscardDraft{ID: lastDraftID(r, "alice", "bob")}}, "bob")
	}
	bobCh, err := r.Register("bob")
	require.NoError(t, err)
	// 20 packets sent, 8 kept; the oldest fell off
	n := 0
	for {
		select {
		case <-bobCh:
			n++
			continue
		default:
		}
		break
	}
	assert.Equal(t, 8, n)
}

// lastDraftID digs the live draft id out of the registry so tests can
// discard without decoding the composer echo.
func lastDraftID(r *Relay, sender, dest models.UserID) ident.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.drafts[draftKey{Sender: sender, Dest: dest}]; ok {
		return e.ID
	}
	return ident.ID{}
}

func (r *Relay) mustRegister(t *testing.T, user models.UserID) <-chan protocol.Envelope {
	t.Helper()
	ch, err := r.Register(user)
	require.NoError(t, err)
	return ch
}

func TestRegisterReplaysInFlightDrafts(t *testing.T) {
	r, _, _ := newTestRelay(t)
	aliceCh := r.mustRegister(t, "alice")

	push(t, r, "alice", protocol.Packet{StartDraft: &protocol.StartDraft{}}, "bob")
	ack := recv(t, aliceCh)
	id := ack.Content.NewDraft.ID
	push(t, r, "alice", protocol.Packet{Edit: &protocol.Edit{ID: id, Content: "wip", EditingDraft: true}}, "bob")

	bobCh := r.mustRegister(t, "bob")
	nd := recv(t, bobCh)
	require.NotNil(t, nd.Content.NewDraft)
	assert.Equal(t, id, nd.Content.NewDraft.ID)
	assert.Equal(t, models.UserID("alice"), nd.Sender)

	ed := recv(t, bobCh)
	require.NotNil(t, ed.Content.Edit)
	assert.Equal(t, "wip", ed.Content.Edit.Content)
	assert.True(t, ed.Content.Edit.EditingDraft)
}

func TestRegisterSurvivesLargeDraftFanIn(t *testing.T) {
	r, _, _ := newTestRelay(t)

	// 40 composers each hold an in-flight draft addressed to the same
	// user; the register-time replay emits two packets per draft, far
	// more than the steady-state slack
	for i := 0; i < 40; i++ {
		sender := models.UserID(fmt.Sprintf("composer-%02d", i))
		push(t, r, sender, protocol.Packet{StartDraft: &protocol.StartDraft{}}, "victim")
		id := lastDraftID(r, sender, "victim")
		push(t, r, sender, protocol.Packet{Edit: &protocol.Edit{ID: id, Content: "wip", EditingDraft: true}}, "victim")
	}

	type result struct {
		ch  <-chan protocol.Envelope
		err error
	}
	done := make(chan result, 1)
	go func() {
		ch, err := r.Register("victim")
		done <- result{ch, err}
	}()
	var ch <-chan protocol.Envelope
	select {
	case res := <-done:
		require.NoError(t, res.err)
		ch = res.ch
	case <-time.After(2 * time.Second):
		t.Fatal("register blocked on the flush")
	}

	// the 8 newest backlogged packets, then a NewDraft plus an Edit per
	// in-flight draft
	got := 0
	for {
		select {
		case <-ch:
			got++
			continue
		default:
		}
		break
	}
	assert.Equal(t, 8+2*40, got)
}

func TestDeregisterDiscardsComposerDrafts(t *testing.T) {
	r, _, _ := newTestRelay(t)
	aliceCh := r.mustRegister(t, "alice")
	bobCh := r.mustRegister(t, "bob")

	push(t, r, "alice", protocol.Packet{StartDraft: &protocol.StartDraft{}}, "bob")
	id := recv(t, bobCh).Content.NewDraft.ID
	recv(t, aliceCh)

	r.Deregister("alice")
	disc := recv(t, bobCh)
	require.NotNil(t, disc.Content.DiscardDraft)
	assert.Equal(t, id, disc.Content.DiscardDraft.ID)
	assert.Equal(t, models.UserID("alice"), disc.Sender)
}

func TestDiscardStaleSweepsIdleDrafts(t *testing.T) {
	r, _, clock := newTestRelay(t)
	aliceCh := r.mustRegister(t, "alice")
	bobCh := r.mustRegister(t, "bob")

	push(t, r, "alice", protocol.Packet{StartDraft: &protocol.StartDraft{}}, "bob")
	recv(t, aliceCh)
	recv(t, bobCh)

	*clock += 10_000_000 // 10s idle
	assert.Equal(t, 0, r.DiscardStale(time.Minute), "fresh enough")
	assert.Equal(t, 1, r.DiscardStale(time.Second))

	require.NotNil(t, recv(t, bobCh).Content.DiscardDraft)
	composer := recv(t, aliceCh)
	require.NotNil(t, composer.Content.DiscardDraft)
	assert.Empty(t, composer.Sender)
}

func TestEditFallsThroughToStoredMessage(t *testing.T) {
	r, st, _ := newTestRelay(t)
	bobCh := r.mustRegister(t, "bob")

	id := ident.New()
	push(t, r, "alice", protocol.Packet{NewMessage: &protocol.NewMessage{ID: id, Content: "typo"}}, "bob")
	recv(t, bobCh)

	push(t, r, "alice", protocol.Packet{Edit: &protocol.Edit{ID: id, Content: "fixed"}}, "bob")
	fwd := recv(t, bobCh)
	require.NotNil(t, fwd.Content.Edit)

	msg, err := st.Get(id.String())
	require.NoError(t, err)
	assert.Equal(t, "fixed", msg.Content)
}

func TestUnmatchedPacketsAreDropped(t *testing.T) {
	r, _, _ := newTestRelay(t)
	bobCh := r.mustRegister(t, "bob")

	ghost := ident.New()
	push(t, r, "alice", protocol.Packet{EndDraft: &protocol.EndDraft{ID: ghost, Content: "x"}}, "bob")
	push(t, r, "alice", protocol.Packet{DiscardDraft: &protocol.DiscardDraft{ID: ghost}}, "bob")
	push(t, r, "alice", protocol.Packet{NewDraft: &protocol.NewDraft{ID: ghost}}, "bob")
	// malformed payloads never reach a handler
	r.process(&Submission{Sender: "alice", Payload: []byte(`{"content":{}}`), TS: 1})
	r.process(&Submission{Sender: "alice", Payload: []byte(`not json`), TS: 1})

	select {
	case env := <-bobCh:
		t.Fatalf("unexpected delivery: %+v", env)
	default:
	}
}

func TestUnknownDestinationDeliversToNobody(t *testing.T) {
	r, _, _ := newTestRelay(t)
	aliceCh := r.mustRegister(t, "alice")

	push(t, r, "alice", protocol.Packet{StartDraft: &protocol.StartDraft{}}, "")

	// the composer still gets its id so the client machine is not wedged
	ack := recv(t, aliceCh)
	require.NotNil(t, ack.Content.NewDraft)
	assert.Equal(t, 0, len(r.backlog), "nothing parked for nobody")
}

func TestSubmitLimits(t *testing.T) {
	st := store.NewMemoryStore()
	r := New(st, Options{QueueCapacity: 1, MaxPacketBytes: 8})

	assert.ErrorIs(t, r.Submit("alice", []byte("0123456789")), ErrPacketTooLarge)

	require.NoError(t, r.Submit("alice", []byte(`{}`)))
	assert.ErrorIs(t, r.Submit("alice", []byte(`{}`)), ErrQueueFull)
}

func TestRunDrainsQueue(t *testing.T) {
	r, _, _ := newTestRelay(t)
	bobCh := r.mustRegister(t, "bob")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	data, err := protocol.Encode(protocol.Envelope{
		Content:     protocol.Packet{NewMessage: &protocol.NewMessage{ID: ident.New(), Content: "via queue"}},
		Destination: models.ToUser("bob"),
	})
	require.NoError(t, err)
	require.NoError(t, r.Submit("alice", data))

	got := recv(t, bobCh)
	require.NotNil(t, got.Content.NewMessage)
	assert.Equal(t, "via queue", got.Content.NewMessage.Content)
	assert.Equal(t, models.UserID("alice"), got.Sender)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}
}
