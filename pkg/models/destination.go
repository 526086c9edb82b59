package models

// Destination identifies the addressee of a packet. It is a tagged value
// with a single known variant today (a direct user); decoding a payload
// with an unknown tag yields the zero Destination, which delivers to
// nobody rather than failing.
type Destination struct {
	User UserID `json:"User,omitempty"`
}

// ToUser builds the single-user destination variant.
func ToUser(u UserID) Destination {
	return Destination{User: u}
}

// Target returns the destination user and whether the destination names a
// known, deliverable variant.
func (d Destination) Target() (UserID, bool) {
	if d.User == "" {
		return "", false
	}
	return d.User, true
}
