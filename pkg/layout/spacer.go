package layout

import "draftwire/pkg/models"

// Spacer is decorative padding for the gap between two non-adjacent
// messages in a single sender's thread. Spacer insertion is a purely
// cosmetic post-processing pass; renderers that do not want it simply
// never call WithSpacers.
type Spacer struct {
	StartRow int
	EndRow   int
	Sender   models.UserID
}

// Item is one element of a render-ready sequence: either a message row or
// a spacer, never both.
type Item struct {
	Row    *Row
	Spacer *Spacer
}

// StartRow returns the item's grid start row regardless of which side of
// the union is populated.
func (it Item) StartRow() int {
	if it.Row != nil {
		return it.Row.StartRow
	}
	if it.Spacer != nil {
		return it.Spacer.StartRow
	}
	return 0
}

// WithSpacers walks one sender's thread (ordered by StartRow) and inserts
// a spacer wherever consecutive rows leave a vertical gap.
func WithSpacers(thread []Row, sender models.UserID) []Item {
	out := make([]Item, 0, len(thread))
	prevEnd := -1
	for i := range thread {
		r := thread[i]
		if prevEnd >= 0 && r.StartRow > prevEnd {
			out = append(out, Item{Spacer: &Spacer{
				StartRow: prevEnd,
				EndRow:   r.StartRow,
				Sender:   sender,
			}})
		}
		out = append(out, Item{Row: &thread[i]})
		prevEnd = r.EndRow
	}
	return out
}
