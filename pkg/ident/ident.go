package ident

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Size is the length in bytes of every identifier.
const Size = 16

// ID is the fixed-length binary identifier used to correlate drafts and
// messages across the wire. On the wire it travels as its raw bytes (a JSON
// array of small integers); locally it is handled in the compact base64
// text form returned by String.
type ID [Size]byte

// Nil is the zero identifier. It is never minted and marks "no id yet".
var Nil ID

// New mints a fresh random identifier.
func New() ID {
	return ID(uuid.New())
}

// FromBytes builds an ID from raw bytes, rejecting wrong lengths.
func FromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != Size {
		return id, fmt.Errorf("ident: want %d bytes, got %d", Size, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Parse decodes the compact text form produced by String.
func Parse(s string) (ID, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Nil, fmt.Errorf("ident: decode %q: %w", s, err)
	}
	return FromBytes(b)
}

// String returns the canonical compact text form (standard base64 of the
// raw bytes). Parse(String(id)) == id for every id.
func (id ID) String() string {
	return base64.StdEncoding.EncodeToString(id[:])
}

// IsNil reports whether the id is the zero value.
func (id ID) IsNil() bool {
	return id == Nil
}

// MarshalJSON encodes the id as its wire form, an array of byte values.
func (id ID) MarshalJSON() ([]byte, error) {
	out := make([]int, Size)
	for i, b := range id {
		out[i] = int(b)
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the wire array form. Anything that is not exactly
// Size integers in [0,255] is rejected; identifier-bearing fields are
// untrusted input.
func (id *ID) UnmarshalJSON(data []byte) error {
	var raw []int
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("ident: %w", err)
	}
	if len(raw) != Size {
		return fmt.Errorf("ident: want %d bytes, got %d", Size, len(raw))
	}
	for i, v := range raw {
		if v < 0 || v > 255 {
			return fmt.Errorf("ident: byte %d out of range: %d", i, v)
		}
		id[i] = byte(v)
	}
	return nil
}
