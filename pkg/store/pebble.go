package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"draftwire/pkg/logger"
	"draftwire/pkg/models"
)

// PebbleStore is the durable room-history backend. Key layout:
//
//	room:<a|b>:msg:<end_time_padded>-<seq>  -> message JSON
//	msg:<id>                                -> primary key bytes
//	meta:seq                                -> last issued seq, big endian
//
// The padded end time keeps prefix iteration in display order; seq breaks
// ties for messages finalized in the same microsecond. The counter is
// persisted with every append so a reopen cannot reissue a seq and
// overwrite an old key.
type PebbleStore struct {
	db  *pebble.DB
	seq uint64
}

var seqKey = []byte("meta:seq")

// OpenPebble opens (or creates) a pebble database at the given path.
func OpenPebble(path string) (*PebbleStore, error) {
	logger.Info("opening_pebble_db", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	p := &PebbleStore{db: db}
	v, closer, err := db.Get(seqKey)
	switch {
	case err == nil:
		if len(v) == 8 {
			p.seq = binary.BigEndian.Uint64(v)
		}
		_ = closer.Close()
	case err != pebble.ErrNotFound:
		_ = db.Close()
		return nil, err
	}
	logger.Info("pebble_opened", "path", path, "seq", p.seq)
	return p, nil
}

// Close closes the underlying database.
func (p *PebbleStore) Close() error {
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	logger.Info("pebble_closed")
	return err
}

func msgKey(room RoomID, endTime int64, seq uint64) string {
	return fmt.Sprintf("room:%s:msg:%020d-%012d", room.Key(), endTime, seq)
}

func idxKey(id string) []byte {
	return []byte("msg:" + id)
}

// Append stores a finalized message in its room and indexes it by id.
func (p *PebbleStore) Append(room RoomID, msg models.Message) error {
	if p.db == nil {
		return fmt.Errorf("store: pebble not opened")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("store: marshal message: %w", err)
	}
	seq := atomic.AddUint64(&p.seq, 1)
	key := msgKey(room, msg.EndTime, seq)
	wb := new(pebble.Batch)
	if err := wb.Set([]byte(key), data, nil); err != nil {
		return err
	}
	if msg.ID != "" {
		if err := wb.Set(idxKey(msg.ID), []byte(key), nil); err != nil {
			return err
		}
	}
	var sv [8]byte
	binary.BigEndian.PutUint64(sv[:], seq)
	if err := wb.Set(seqKey, sv[:], nil); err != nil {
		return err
	}
	if err := p.db.Apply(wb, pebble.Sync); err != nil {
		logger.Error("save_message_failed", "room", room.Key(), "key", key, "error", err)
		return err
	}
	logger.Debug("message_saved", "room", room.Key(), "msg_id", msg.ID)
	return nil
}

// List returns a room's messages in key order (end time, then seq).
func (p *PebbleStore) List(room RoomID, limit int) ([]models.Message, error) {
	if p.db == nil {
		return nil, fmt.Errorf("store: pebble not opened")
	}
	prefix := []byte("room:" + room.Key() + ":msg:")
	iter, err := p.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []models.Message
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Warn("list_invalid_message_json", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, m)
	}
	if out == nil {
		return nil, ErrMissingRoom
	}
	if limit > 0 && limit < len(out) {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (p *PebbleStore) primaryKey(id string) ([]byte, error) {
	v, closer, err := p.db.Get(idxKey(id))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, ErrMissingMessage
		}
		return nil, err
	}
	key := append([]byte(nil), v...)
	_ = closer.Close()
	return key, nil
}

// Get fetches one message by its text-form id.
func (p *PebbleStore) Get(id string) (models.Message, error) {
	if p.db == nil {
		return models.Message{}, fmt.Errorf("store: pebble not opened")
	}
	key, err := p.primaryKey(id)
	if err != nil {
		return models.Message{}, err
	}
	v, closer, err := p.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return models.Message{}, ErrMissingMessage
		}
		return models.Message{}, err
	}
	defer closer.Close()
	var m models.Message
	if err := json.Unmarshal(v, &m); err != nil {
		return models.Message{}, fmt.Errorf("store: invalid message JSON: %w", err)
	}
	return m, nil
}

// Edit replaces the content of a stored message in place.
func (p *PebbleStore) Edit(id string, content string) error {
	if p.db == nil {
		return fmt.Errorf("store: pebble not opened")
	}
	key, err := p.primaryKey(id)
	if err != nil {
		return err
	}
	v, closer, err := p.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return ErrMissingMessage
		}
		return err
	}
	var m models.Message
	uerr := json.Unmarshal(v, &m)
	_ = closer.Close()
	if uerr != nil {
		return fmt.Errorf("store: invalid message JSON: %w", uerr)
	}
	m.Content = content
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := p.db.Set(key, data, pebble.Sync); err != nil {
		logger.Error("edit_message_failed", "msg_id", id, "error", err)
		return err
	}
	logger.Debug("message_edited", "msg_id", id)
	return nil
}
