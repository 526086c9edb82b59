package store

import (
	"sort"
	"sync"

	"draftwire/pkg/models"
)

type memoryEntry struct {
	msg models.Message
	seq uint64
}

// MemoryStore keeps room history in maps. It is the default backend when
// no db path is configured, and what the tests run against.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[RoomID][]memoryEntry
	byID  map[string]RoomID
	seq   uint64
}

// NewMemoryStore builds an empty in-memory room store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: map[RoomID][]memoryEntry{},
		byID:  map[string]RoomID{},
	}
}

// Append stores a finalized message in its room.
func (m *MemoryStore) Append(room RoomID, msg models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.rooms[room] = append(m.rooms[room], memoryEntry{msg: msg, seq: m.seq})
	if msg.ID != "" {
		m.byID[msg.ID] = room
	}
	return nil
}

// List returns a room's messages ordered by (end time, insertion seq).
func (m *MemoryStore) List(room RoomID, limit int) ([]models.Message, error) {
	m.mu.RLock()
	entries, ok := m.rooms[room]
	if !ok {
		m.mu.RUnlock()
		return nil, ErrMissingRoom
	}
	sorted := make([]memoryEntry, len(entries))
	copy(sorted, entries)
	m.mu.RUnlock()

	sort.SliceStable(sorted, func(a, b int) bool {
		if sorted[a].msg.EndTime != sorted[b].msg.EndTime {
			return sorted[a].msg.EndTime < sorted[b].msg.EndTime
		}
		return sorted[a].seq < sorted[b].seq
	})
	out := make([]models.Message, len(sorted))
	for i, e := range sorted {
		out[i] = e.msg
	}
	if limit > 0 && limit < len(out) {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Get fetches one message by id.
func (m *MemoryStore) Get(id string) (models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.byID[id]
	if !ok {
		return models.Message{}, ErrMissingMessage
	}
	for _, e := range m.rooms[room] {
		if e.msg.ID == id {
			return e.msg, nil
		}
	}
	return models.Message{}, ErrMissingMessage
}

// Edit replaces the content of a stored message.
func (m *MemoryStore) Edit(id string, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.byID[id]
	if !ok {
		return ErrMissingMessage
	}
	entries := m.rooms[room]
	for i := range entries {
		if entries[i].msg.ID == id {
			entries[i].msg.Content = content
			return nil
		}
	}
	return ErrMissingMessage
}

// Close is a no-op for the memory backend.
func (m *MemoryStore) Close() error { return nil }
