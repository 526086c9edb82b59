package models

// UserID is an opaque participant name; equality is exact string match.
type UserID string

// Message is an immutable finalized message. It is created when a draft
// finalizes or when an instantaneous NewMessage packet arrives, and is
// destroyed only when the conversation is reset.
type Message struct {
	Sender      UserID      `json:"sender"`
	Destination Destination `json:"destination"`
	Content     string      `json:"content"`
	// ID is the identifier in its compact text form.
	ID string `json:"id"`
	// StartTime/EndTime are unix microseconds. StartTime <= EndTime always.
	StartTime int64 `json:"start_time"`
	EndTime   int64 `json:"end_time"`
}

// Draft is one in-progress composition. ID is empty until a draft slot has
// been confirmed; StartTime/EndTime are zero until known.
type Draft struct {
	ID        string `json:"id,omitempty"`
	Content   string `json:"content"`
	StartTime int64  `json:"start_time,omitempty"`
	EndTime   int64  `json:"end_time,omitempty"`
}

// Finalize converts the draft into a Message. The final content is passed
// in by the caller because the finalizing packet's content wins over
// whatever the draft last held.
func (d Draft) Finalize(sender UserID, dest Destination, content string, endTime int64) Message {
	return Message{
		Sender:      sender,
		Destination: dest,
		Content:     content,
		ID:          d.ID,
		StartTime:   d.StartTime,
		EndTime:     endTime,
	}
}
