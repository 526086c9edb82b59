// Package layout turns a flat collection of finalized messages into the
// ordered display rows of a merged two-party timeline. Rows are assigned
// from a global monotonic cell counter rather than literal timestamps, so
// no two events ever collide on a grid row; ordering is preserved,
// duration is not.
package layout

import (
	"sort"

	"draftwire/pkg/models"
)

// Row is the derived vertical position of one message in the merged grid.
// EndRow is exclusive, so a message always spans at least one row.
type Row struct {
	StartRow int
	EndRow   int
	Message  models.Message
}

type event struct {
	time  int64
	index int
	start bool
}

// Assign computes display rows for every message. Each message yields a
// start event at StartTime and an end event at EndTime; events are stable
// sorted by time and handed strictly increasing cells starting at 1. The
// result is ordered by StartRow. An end event seen before its start is
// ignored; the start still claims a minimal one-cell row.
func Assign(msgs []models.Message) []Row {
	events := make([]event, 0, 2*len(msgs))
	for i, m := range msgs {
		events = append(events, event{time: m.StartTime, index: i, start: true})
		events = append(events, event{time: m.EndTime, index: i, start: false})
	}
	sort.SliceStable(events, func(a, b int) bool {
		return events[a].time < events[b].time
	})

	rows := make(map[int]*Row, len(msgs))
	for i, ev := range events {
		cell := i + 1
		if r, ok := rows[ev.index]; ok {
			if ev.start {
				r.StartRow = cell
			} else {
				r.EndRow = cell + 1
			}
			continue
		}
		if ev.start {
			rows[ev.index] = &Row{
				StartRow: cell,
				EndRow:   cell + 1,
				Message:  msgs[ev.index],
			}
		}
		// orphan end event; the start will claim its own row
	}

	out := make([]Row, 0, len(rows))
	for i := range msgs {
		if r, ok := rows[i]; ok {
			out = append(out, *r)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].StartRow < out[b].StartRow
	})
	return out
}

// Thread extracts one sender's rows, ordered by StartRow.
func Thread(rows []Row, sender models.UserID) []Row {
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if r.Message.Sender == sender {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].StartRow < out[b].StartRow
	})
	return out
}

// Merge combines per-sender threads into one sequence ordered by StartRow.
// The sort is stable, so ties keep each thread's internal relative order.
func Merge(threads ...[]Row) []Row {
	var out []Row
	for _, t := range threads {
		out = append(out, t...)
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].StartRow < out[b].StartRow
	})
	return out
}
