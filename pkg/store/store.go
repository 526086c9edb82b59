// Package store holds finalized message history on the relay side, keyed
// by room. A DM room is an unordered user pair; the id normalizes the
// order so both directions land in the same room.
package store

import (
	"errors"

	"draftwire/pkg/models"
)

var (
	// ErrMissingMessage is returned when a message id is unknown.
	ErrMissingMessage = errors.New("store: message not found")
	// ErrMissingRoom is returned when a room has no history.
	ErrMissingRoom = errors.New("store: room not found")
)

// RoomID names a two-party conversation. A and B are ordered so that
// NewRoomID(x, y) == NewRoomID(y, x).
type RoomID struct {
	A models.UserID
	B models.UserID
}

// NewRoomID builds the canonical room id for a user pair.
func NewRoomID(x, y models.UserID) RoomID {
	if y < x {
		x, y = y, x
	}
	return RoomID{A: x, B: y}
}

// RoomFor resolves the room a packet's finalized message belongs to.
func RoomFor(sender models.UserID, dest models.Destination) (RoomID, bool) {
	to, ok := dest.Target()
	if !ok {
		return RoomID{}, false
	}
	return NewRoomID(sender, to), true
}

// Key returns the room's stable key fragment ("a|b").
func (r RoomID) Key() string {
	return string(r.A) + "|" + string(r.B)
}

// RoomStore is the history interface the relay writes through. Backends:
// in-memory (tests, ephemeral runs) and pebble (durable relay history).
type RoomStore interface {
	// Append stores a finalized message in its room.
	Append(room RoomID, msg models.Message) error
	// List returns a room's messages ordered by (end time, insertion).
	// A non-positive limit means all; otherwise the newest limit entries.
	List(room RoomID, limit int) ([]models.Message, error)
	// Get fetches one message by its text-form id.
	Get(id string) (models.Message, error)
	// Edit replaces the content of an already-finalized message.
	Edit(id string, content string) error
	// Close releases backend resources.
	Close() error
}
