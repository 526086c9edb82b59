package layout

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"draftwire/pkg/models"
)

func msg(sender models.UserID, id string, start, end int64) models.Message {
	return models.Message{
		Sender:    sender,
		Content:   id,
		ID:        id,
		StartTime: start,
		EndTime:   end,
	}
}

func TestAssignBasicOrdering(t *testing.T) {
	msgs := []models.Message{
		msg("alice", "a1", 1, 3),
		msg("bob", "b1", 2, 4),
	}
	rows := Assign(msgs)
	require.Len(t, rows, 2)

	// events: a1 start(1), b1 start(2), a1 end(3), b1 end(4)
	require.Equal(t, 1, rows[0].StartRow)
	require.Equal(t, 4, rows[0].EndRow)
	require.Equal(t, "a1", rows[0].Message.ID)
	require.Equal(t, 2, rows[1].StartRow)
	require.Equal(t, 5, rows[1].EndRow)
}

func TestAssignInstantMessage(t *testing.T) {
	rows := Assign([]models.Message{msg("alice", "a1", 7, 7)})
	require.Len(t, rows, 1)
	// start event before end event for equal times (stable sort)
	require.Equal(t, 1, rows[0].StartRow)
	require.Equal(t, 3, rows[0].EndRow)
	require.Less(t, rows[0].StartRow, rows[0].EndRow)
}

func TestAssignMonotonicity(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	var msgs []models.Message
	for i := 0; i < 50; i++ {
		start := rng.Int63n(1000)
		end := start + rng.Int63n(100)
		sender := models.UserID("alice")
		if i%2 == 1 {
			sender = "bob"
		}
		msgs = append(msgs, msg(sender, string(rune('A'+i%26))+string(rune('0'+i%10)), start, end))
	}
	rows := Assign(msgs)
	require.Len(t, rows, len(msgs))

	seen := map[int]bool{}
	prev := 0
	for _, r := range rows {
		require.Greater(t, r.StartRow, prev, "start rows strictly increasing")
		prev = r.StartRow
		require.Less(t, r.StartRow, r.EndRow)
		require.False(t, seen[r.StartRow], "no duplicate rows")
		seen[r.StartRow] = true
	}
}

func TestThreadPartition(t *testing.T) {
	msgs := []models.Message{
		msg("alice", "a1", 1, 2),
		msg("bob", "b1", 3, 4),
		msg("alice", "a2", 5, 6),
	}
	rows := Assign(msgs)
	al := Thread(rows, "alice")
	bo := Thread(rows, "bob")
	require.Len(t, al, 2)
	require.Len(t, bo, 1)
	require.Equal(t, "a1", al[0].Message.ID)
	require.Equal(t, "a2", al[1].Message.ID)

	// per-sender ranges never overlap within a thread
	require.LessOrEqual(t, al[0].EndRow, al[1].StartRow+1)
}

func TestMergeStability(t *testing.T) {
	a := []Row{
		{StartRow: 1, EndRow: 3, Message: msg("alice", "a1", 0, 0)},
		{StartRow: 5, EndRow: 6, Message: msg("alice", "a2", 0, 0)},
	}
	b := []Row{
		{StartRow: 2, EndRow: 4, Message: msg("bob", "b1", 0, 0)},
		{StartRow: 5, EndRow: 7, Message: msg("bob", "b2", 0, 0)},
	}
	merged := Merge(a, b)
	require.Len(t, merged, 4)
	ids := []string{}
	prev := 0
	for _, r := range merged {
		require.GreaterOrEqual(t, r.StartRow, prev, "merged sequence sorted by start row")
		prev = r.StartRow
		ids = append(ids, r.Message.ID)
	}
	// tie at StartRow 5 keeps a2 before b2 (input order preserved)
	require.Equal(t, []string{"a1", "b1", "a2", "b2"}, ids)
}

func TestEndBeforeStartGetsMinimalRow(t *testing.T) {
	// end_time earlier than start_time puts the end event first; the
	// orphan end is ignored and the start still claims a one-cell row
	rows := Assign([]models.Message{msg("alice", "inverted", 10, 1)})
	require.Len(t, rows, 1)
	require.Equal(t, rows[0].StartRow+1, rows[0].EndRow)
}

func TestWithSpacersFillsGaps(t *testing.T) {
	thread := []Row{
		{StartRow: 1, EndRow: 2, Message: msg("alice", "a1", 0, 0)},
		{StartRow: 5, EndRow: 6, Message: msg("alice", "a2", 0, 0)},
	}
	items := WithSpacers(thread, "alice")
	require.Len(t, items, 3)
	require.NotNil(t, items[0].Row)
	require.NotNil(t, items[1].Spacer)
	require.Equal(t, 2, items[1].Spacer.StartRow)
	require.Equal(t, 5, items[1].Spacer.EndRow)
	require.NotNil(t, items[2].Row)
}

func TestWithSpacersAdjacentRowsNoSpacer(t *testing.T) {
	thread := []Row{
		{StartRow: 1, EndRow: 3, Message: msg("alice", "a1", 0, 0)},
		{StartRow: 3, EndRow: 4, Message: msg("alice", "a2", 0, 0)},
	}
	items := WithSpacers(thread, "alice")
	require.Len(t, items, 2)
	for _, it := range items {
		require.Nil(t, it.Spacer)
	}
}
