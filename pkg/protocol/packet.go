// Package protocol defines the wire packets exchanged over a conversation
// transport. A packet is a tagged union carried inside an envelope; exactly
// one variant must be populated, and that rule is enforced here at the
// boundary rather than inside the state machine.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"draftwire/pkg/ident"
	"draftwire/pkg/models"
)

var (
	// ErrNoVariant marks a packet with zero populated variants.
	ErrNoVariant = errors.New("protocol: packet has no content variant")
	// ErrMultiVariant marks a packet with more than one populated variant.
	ErrMultiVariant = errors.New("protocol: packet has multiple content variants")
)

// NewMessage is a complete, non-drafted message (instantaneous send).
type NewMessage struct {
	ID      ident.ID `json:"uuid"`
	Content string   `json:"content"`
}

// StartDraft announces intent to begin composing. It carries no id; the
// far end assigns one via NewDraft.
type StartDraft struct{}

// NewDraft assigns an id to a just-started draft. StartTime is stamped by
// the id issuer so late joiners see when composition began.
type NewDraft struct {
	ID        ident.ID `json:"uuid"`
	StartTime int64    `json:"start_time,omitempty"`
}

// EndDraft finalizes a draft into a message with the given final content.
type EndDraft struct {
	ID      ident.ID `json:"uuid"`
	Content string   `json:"content"`
}

// Edit updates the live content of an in-progress draft. EditingDraft is
// false only for edits addressed at already-finalized messages.
type Edit struct {
	ID           ident.ID `json:"uuid"`
	Content      string   `json:"content"`
	EditingDraft bool     `json:"editing_draft,omitempty"`
}

// DiscardDraft abandons an in-flight draft without finalizing it.
type DiscardDraft struct {
	ID ident.ID `json:"uuid"`
}

// Packet is the tagged union of payload variants. Exactly one field is
// non-nil on a valid packet; use Validate (or Decode, which calls it) to
// enforce that.
type Packet struct {
	NewMessage   *NewMessage   `json:"NewMessage,omitempty"`
	StartDraft   *StartDraft   `json:"StartDraft,omitempty"`
	NewDraft     *NewDraft     `json:"NewDraft,omitempty"`
	EndDraft     *EndDraft     `json:"EndDraft,omitempty"`
	Edit         *Edit         `json:"Edit,omitempty"`
	DiscardDraft *DiscardDraft `json:"DiscardDraft,omitempty"`
}

// Envelope is the packet metadata surrounding the content payload. Sender
// and Timestamp are present only on packets stamped by the far end;
// locally originated packets leave them zero.
type Envelope struct {
	Content     Packet             `json:"content"`
	Destination models.Destination `json:"destination"`
	Sender      models.UserID      `json:"sender,omitempty"`
	Timestamp   int64              `json:"timestamp,omitempty"`
}

// Kind names a packet variant for dispatch and logging.
type Kind string

const (
	KindNewMessage   Kind = "NewMessage"
	KindStartDraft   Kind = "StartDraft"
	KindNewDraft     Kind = "NewDraft"
	KindEndDraft     Kind = "EndDraft"
	KindEdit         Kind = "Edit"
	KindDiscardDraft Kind = "DiscardDraft"
)

// Validate checks the exactly-one-variant rule and returns the populated
// variant's kind.
func (p *Packet) Validate() (Kind, error) {
	var kind Kind
	n := 0
	if p.NewMessage != nil {
		kind, n = KindNewMessage, n+1
	}
	if p.StartDraft != nil {
		kind, n = KindStartDraft, n+1
	}
	if p.NewDraft != nil {
		kind, n = KindNewDraft, n+1
	}
	if p.EndDraft != nil {
		kind, n = KindEndDraft, n+1
	}
	if p.Edit != nil {
		kind, n = KindEdit, n+1
	}
	if p.DiscardDraft != nil {
		kind, n = KindDiscardDraft, n+1
	}
	switch n {
	case 0:
		return "", ErrNoVariant
	case 1:
		return kind, nil
	default:
		return "", ErrMultiVariant
	}
}

// UnmarshalJSON decodes the union by key presence so that a unit variant
// sent as `{"StartDraft":null}` still registers as populated.
func (p *Packet) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("protocol: %w", err)
	}
	*p = Packet{}
	for key, val := range raw {
		switch key {
		case "NewMessage":
			p.NewMessage = &NewMessage{}
			if err := unmarshalVariant(val, p.NewMessage); err != nil {
				return err
			}
		case "StartDraft":
			p.StartDraft = &StartDraft{}
		case "NewDraft":
			p.NewDraft = &NewDraft{}
			if err := unmarshalVariant(val, p.NewDraft); err != nil {
				return err
			}
		case "EndDraft":
			p.EndDraft = &EndDraft{}
			if err := unmarshalVariant(val, p.EndDraft); err != nil {
				return err
			}
		case "Edit":
			p.Edit = &Edit{}
			if err := unmarshalVariant(val, p.Edit); err != nil {
				return err
			}
		case "DiscardDraft":
			p.DiscardDraft = &DiscardDraft{}
			if err := unmarshalVariant(val, p.DiscardDraft); err != nil {
				return err
			}
		}
		// unknown keys are ignored for forward compatibility; a packet
		// carrying only unknown variants fails Validate as no-variant
	}
	return nil
}

func unmarshalVariant(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("protocol: %w", err)
	}
	return nil
}

// Decode parses a wire envelope and rejects protocol violations (malformed
// JSON, zero or multiple populated variants) before the packet can reach
// any state machine.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	if _, err := env.Content.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Encode serializes an envelope, applying the same validation as Decode so
// a malformed packet never leaves the process either.
func Encode(env Envelope) ([]byte, error) {
	if _, err := env.Content.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(env)
}
