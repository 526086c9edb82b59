// Package relay implements the server-side packet router: one live
// connection per user, per-user backlogs for offline delivery, and the
// draft registry that mints ids and finalizes messages into room storage.
// All packet processing happens on a single goroutine draining a bounded
// inbound queue; connection read loops only enqueue.
package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"draftwire/pkg/ident"
	"draftwire/pkg/logger"
	"draftwire/pkg/models"
	"draftwire/pkg/protocol"
	"draftwire/pkg/store"
	"draftwire/pkg/telemetry"
)

var (
	// ErrAlreadyRegistered is returned when a second connection registers
	// for a user that already has a live one.
	ErrAlreadyRegistered = errors.New("relay: user already registered")
	// ErrPacketTooLarge is returned by Submit for oversized payloads.
	ErrPacketTooLarge = errors.New("relay: packet exceeds size limit")
)

// outboundSlack is extra outbound channel capacity beyond the
// register-time flush volume, so steady-state deliveries have headroom
// before falling back to the backlog.
const outboundSlack = 64

// draftKey identifies one in-flight draft: a composer can hold at most one
// draft per destination.
type draftKey struct {
	Sender models.UserID
	Dest   models.UserID
}

type draftEntry struct {
	ID        ident.ID
	Content   string
	StartTime int64
	// LastEdit is the receive time of the most recent packet touching this
	// draft (unix microseconds); retention sweeps compare against it.
	LastEdit int64
}

// Options configures a Relay. Zero values fall back to sane defaults.
type Options struct {
	QueueCapacity  int
	BacklogLimit   int
	MaxPacketBytes int
	// Now overrides the clock (unix microseconds). Tests only.
	Now func() int64
}

// Relay routes packets between registered users and owns the server-side
// draft registry. Register/Deregister/Submit are safe for concurrent use;
// packet handling itself is serialized through Run.
type Relay struct {
	queue        *Queue
	store        store.RoomStore
	now          func() int64
	backlogLimit int
	maxPacket    int

	mu      sync.Mutex
	conns   map[models.UserID]chan protocol.Envelope
	backlog map[models.UserID][]protocol.Envelope
	drafts  map[draftKey]*draftEntry
}

// New creates a Relay writing finalized messages through st.
func New(st store.RoomStore, opts Options) *Relay {
	if opts.BacklogLimit <= 0 {
		opts.BacklogLimit = 1024
	}
	now := opts.Now
	if now == nil {
		now = func() int64 { return time.Now().UnixMicro() }
	}
	return &Relay{
		queue:        NewQueue(opts.QueueCapacity),
		store:        st,
		now:          now,
		backlogLimit: opts.BacklogLimit,
		maxPacket:    opts.MaxPacketBytes,
		conns:        make(map[models.UserID]chan protocol.Envelope),
		backlog:      make(map[models.UserID][]protocol.Envelope),
		drafts:       make(map[draftKey]*draftEntry),
	}
}

// Submit enqueues one raw inbound packet from sender. It never blocks; a
// full queue or oversized payload returns an error and the packet is
// dropped.
func (r *Relay) Submit(sender models.UserID, payload []byte) error {
	if r.maxPacket > 0 && len(payload) > r.maxPacket {
		telemetry.PacketsDropped.WithLabelValues("oversize").Inc()
		return ErrPacketTooLarge
	}
	if err := r.queue.TryEnqueue(sender, payload, r.now()); err != nil {
		telemetry.PacketsDropped.WithLabelValues("queue_full").Inc()
		return err
	}
	return nil
}

// Run drains the inbound queue until ctx is done, then releases whatever
// remains queued. It is the only goroutine that touches the draft registry
// through packet handling.
func (r *Relay) Run(ctx context.Context) {
	for {
		select {
		case it, ok := <-r.queue.Out():
			if !ok {
				return
			}
			r.process(it.Sub)
			it.Done()
		case <-ctx.Done():
			r.queue.CloseAndDrain()
			return
		}
	}
}

// QueueDepth reports the current inbound queue occupancy.
func (r *Relay) QueueDepth() int { return r.queue.Len() }

// Connected reports the number of live connections.
func (r *Relay) Connected() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Register claims the live connection slot for user and returns the
// outbound channel to drain. Any backlogged packets are flushed first, in
// arrival order, followed by a catch-up replay of every in-flight draft
// addressed to user. The channel is closed by Deregister.
func (r *Relay) Register(user models.UserID) (<-chan protocol.Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[user]; ok {
		return nil, ErrAlreadyRegistered
	}
	// size the channel from the actual flush volume: every parked packet,
	// plus a NewDraft and at most one Edit per in-flight draft addressed
	// here. Nobody drains the channel until Register returns, so a flush
	// larger than the buffer would block forever holding r.mu.
	replay := 0
	for key := range r.drafts {
		if key.Dest == user {
			replay++
		}
	}
	ch := make(chan protocol.Envelope, len(r.backlog[user])+2*replay+outboundSlack)
	if parked := r.backlog[user]; len(parked) > 0 {
		for _, env := range parked {
			ch <- env
		}
		telemetry.BacklogDepth.Sub(float64(len(parked)))
		delete(r.backlog, user)
		logger.Info("backlog_flushed", "user", user, "packets", len(parked))
	}
	for key, e := range r.drafts {
		if key.Dest != user {
			continue
		}
		dest := models.ToUser(user)
		ch <- protocol.Envelope{
			Content:     protocol.Packet{NewDraft: &protocol.NewDraft{ID: e.ID, StartTime: e.StartTime}},
			Destination: dest,
			Sender:      key.Sender,
			Timestamp:   e.StartTime,
		}
		if e.Content != "" {
			ch <- protocol.Envelope{
				Content:     protocol.Packet{Edit: &protocol.Edit{ID: e.ID, Content: e.Content, EditingDraft: true}},
				Destination: dest,
				Sender:      key.Sender,
				Timestamp:   e.LastEdit,
			}
		}
	}
	r.conns[user] = ch
	telemetry.ConnectedUsers.Inc()
	logger.Info("user_registered", "user", user)
	return ch, nil
}

// Deregister releases user's connection slot and closes its outbound
// channel. Every in-flight draft the user was composing is discarded and
// the affected destinations are told via DiscardDraft. Unknown users are a
// no-op.
func (r *Relay) Deregister(user models.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.conns[user]
	if !ok {
		return
	}
	delete(r.conns, user)
	close(ch)
	telemetry.ConnectedUsers.Dec()
	for key, e := range r.drafts {
		if key.Sender != user {
			continue
		}
		delete(r.drafts, key)
		telemetry.ActiveDrafts.Dec()
		telemetry.DraftsDiscarded.WithLabelValues("disconnect").Inc()
		r.deliverTo(key.Dest, protocol.Envelope{
			Content:     protocol.Packet{DiscardDraft: &protocol.DiscardDraft{ID: e.ID}},
			Destination: models.ToUser(key.Dest),
			Sender:      user,
			Timestamp:   r.now(),
		})
		logger.Info("draft_discarded", "user", user, "dest", key.Dest, "cause", "disconnect")
	}
	logger.Info("user_deregistered", "user", user)
}

// DiscardStale drops every registry draft untouched for longer than
// maxIdle, notifying both the composer and the destination. It returns the
// number of drafts discarded.
func (r *Relay) DiscardStale(maxIdle time.Duration) int {
	cutoff := r.now() - maxIdle.Microseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	dropped := 0
	for key, e := range r.drafts {
		if e.LastEdit >= cutoff {
			continue
		}
		delete(r.drafts, key)
		dropped++
		telemetry.ActiveDrafts.Dec()
		telemetry.DraftsDiscarded.WithLabelValues("stale").Inc()
		pkt := protocol.Packet{DiscardDraft: &protocol.DiscardDraft{ID: e.ID}}
		r.deliverTo(key.Dest, protocol.Envelope{
			Content:     pkt,
			Destination: models.ToUser(key.Dest),
			Sender:      key.Sender,
			Timestamp:   r.now(),
		})
		// composer copy carries no sender, so the client resets its own
		// draft instead of looking for a peer
		r.deliverTo(key.Sender, protocol.Envelope{
			Content:     pkt,
			Destination: models.ToUser(key.Dest),
			Timestamp:   r.now(),
		})
		logger.Warn("draft_discarded", "user", key.Sender, "dest", key.Dest, "cause", "stale")
	}
	return dropped
}

func (r *Relay) process(sub *Submission) {
	env, err := protocol.Decode(sub.Payload)
	if err != nil {
		telemetry.PacketsDropped.WithLabelValues("decode").Inc()
		logger.Warn("packet_decode_failed", "sender", sub.Sender, "error", err)
		return
	}
	kind, _ := env.Content.Validate()
	// sender and timestamp are stamped server-side; whatever the client
	// put there is not trusted
	env.Sender = sub.Sender
	env.Timestamp = sub.TS

	r.mu.Lock()
	defer r.mu.Unlock()
	switch kind {
	case protocol.KindNewMessage:
		r.onNewMessage(env)
	case protocol.KindStartDraft:
		r.onStartDraft(env)
	case protocol.KindEdit:
		r.onEdit(env)
	case protocol.KindEndDraft:
		r.onEndDraft(env)
	case protocol.KindDiscardDraft:
		r.onDiscardDraft(env)
	case protocol.KindNewDraft:
		// only the relay mints draft ids
		telemetry.PacketsDropped.WithLabelValues("unexpected").Inc()
		logger.Warn("unexpected_new_draft", "sender", env.Sender)
	}
}

func (r *Relay) onNewMessage(env protocol.Envelope) {
	p := env.Content.NewMessage
	msg := models.Message{
		Sender:      env.Sender,
		Destination: env.Destination,
		Content:     p.Content,
		ID:          p.ID.String(),
		StartTime:   env.Timestamp,
		EndTime:     env.Timestamp,
	}
	r.persist(msg)
	r.deliver(env)
	// echo so the composer's own history picks it up too
	r.deliverTo(env.Sender, env)
}

func (r *Relay) onStartDraft(env protocol.Envelope) {
	target, _ := env.Destination.Target()
	key := draftKey{Sender: env.Sender, Dest: target}
	if old, ok := r.drafts[key]; ok {
		// composer restarted a draft it never closed; the old slot is dead
		logger.Warn("draft_replaced", "user", env.Sender, "dest", target, "old_id", old.ID)
		telemetry.DraftsDiscarded.WithLabelValues("replaced").Inc()
		telemetry.ActiveDrafts.Dec()
	}
	id := ident.New()
	r.drafts[key] = &draftEntry{ID: id, StartTime: env.Timestamp, LastEdit: env.Timestamp}
	telemetry.ActiveDrafts.Inc()

	pkt := protocol.Packet{NewDraft: &protocol.NewDraft{ID: id, StartTime: env.Timestamp}}
	r.deliver(protocol.Envelope{Content: pkt, Destination: env.Destination, Sender: env.Sender, Timestamp: env.Timestamp})
	// self-addressed copy binds the composer's pending draft to the id
	r.deliverTo(env.Sender, protocol.Envelope{Content: pkt, Destination: env.Destination, Timestamp: env.Timestamp})
	logger.Debug("draft_started", "user", env.Sender, "dest", target, "id", id)
}

func (r *Relay) onEdit(env protocol.Envelope) {
	p := env.Content.Edit
	target, _ := env.Destination.Target()
	key := draftKey{Sender: env.Sender, Dest: target}
	if e, ok := r.drafts[key]; ok && e.ID == p.ID {
		e.Content = p.Content
		e.LastEdit = env.Timestamp
		r.deliver(env)
		return
	}
	// no live draft with that id: the edit targets a finalized message
	if err := r.store.Edit(p.ID.String(), p.Content); err != nil {
		if !errors.Is(err, store.ErrMissingMessage) {
			logger.Error("message_edit_failed", "id", p.ID, "error", err)
		}
		telemetry.PacketsDropped.WithLabelValues("unmatched").Inc()
		return
	}
	r.deliver(env)
}

func (r *Relay) onEndDraft(env protocol.Envelope) {
	p := env.Content.EndDraft
	target, _ := env.Destination.Target()
	key := draftKey{Sender: env.Sender, Dest: target}
	e, ok := r.drafts[key]
	if !ok || e.ID != p.ID {
		telemetry.PacketsDropped.WithLabelValues("unmatched").Inc()
		logger.Warn("end_draft_unmatched", "user", env.Sender, "id", p.ID)
		return
	}
	delete(r.drafts, key)
	telemetry.ActiveDrafts.Dec()

	// the finalizing packet's content wins over the registry copy
	draft := models.Draft{ID: e.ID.String(), Content: e.Content, StartTime: e.StartTime}
	msg := draft.Finalize(env.Sender, env.Destination, p.Content, env.Timestamp)
	r.persist(msg)

	pkt := protocol.Packet{EndDraft: &protocol.EndDraft{ID: p.ID, Content: p.Content}}
	r.deliver(protocol.Envelope{Content: pkt, Destination: env.Destination, Sender: env.Sender, Timestamp: env.Timestamp})
	// composer echo finalizes the local draft with the server timestamp
	r.deliverTo(env.Sender, protocol.Envelope{Content: pkt, Destination: env.Destination, Timestamp: env.Timestamp})
	logger.Debug("draft_finalized", "user", env.Sender, "dest", target, "id", p.ID)
}

func (r *Relay) onDiscardDraft(env protocol.Envelope) {
	p := env.Content.DiscardDraft
	target, _ := env.Destination.Target()
	key := draftKey{Sender: env.Sender, Dest: target}
	e, ok := r.drafts[key]
	if !ok || e.ID != p.ID {
		telemetry.PacketsDropped.WithLabelValues("unmatched").Inc()
		return
	}
	delete(r.drafts, key)
	telemetry.ActiveDrafts.Dec()
	telemetry.DraftsDiscarded.WithLabelValues("client").Inc()
	r.deliver(env)
	logger.Debug("draft_discarded", "user", env.Sender, "dest", target, "cause", "client")
}

func (r *Relay) persist(msg models.Message) {
	room, ok := store.RoomFor(msg.Sender, msg.Destination)
	if !ok {
		return
	}
	if err := r.store.Append(room, msg); err != nil {
		logger.Error("message_persist_failed", "room", room.Key(), "id", msg.ID, "error", err)
		return
	}
	telemetry.MessagesStored.Inc()
}

// deliver routes env by its destination. Unknown destination variants
// deliver to nobody.
func (r *Relay) deliver(env protocol.Envelope) {
	target, ok := env.Destination.Target()
	if !ok {
		logger.Debug("packet_unroutable", "sender", env.Sender)
		return
	}
	r.deliverTo(target, env)
}

// deliverTo hands env to user's live connection, or parks it in the
// per-user backlog. Callers hold r.mu.
func (r *Relay) deliverTo(user models.UserID, env protocol.Envelope) {
	if user == "" {
		return
	}
	if ch, ok := r.conns[user]; ok {
		select {
		case ch <- env:
			kind, _ := env.Content.Validate()
			telemetry.PacketsRouted.WithLabelValues(string(kind)).Inc()
			return
		default:
			// writer stalled; fall through to the backlog
		}
	}
	parked := r.backlog[user]
	if len(parked) >= r.backlogLimit {
		telemetry.PacketsDropped.WithLabelValues("backlog_full").Inc()
		telemetry.BacklogDepth.Dec()
		copy(parked, parked[1:])
		parked = parked[:len(parked)-1]
		logger.Warn("backlog_overflow", "user", user)
	}
	r.backlog[user] = append(parked, env)
	telemetry.PacketsBacklogged.Inc()
	telemetry.BacklogDepth.Inc()
}
