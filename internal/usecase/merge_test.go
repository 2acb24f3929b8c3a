package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"agrolink/internal/domain/entity"
)

func conv(id, last string, at time.Time) entity.Conversation {
	return entity.Conversation{
		CounterpartID: id,
		LastMessage:   last,
		LastMessageAt: at,
	}
}

func TestMergeRemoteWins(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	local := []entity.Conversation{conv("u1", "old", t0)}
	remote := []entity.Conversation{conv("u1", "new", t1)}

	merged := MergeConversations(remote, local)

	assert.Len(t, merged, 1)
	assert.Equal(t, "u1", merged[0].CounterpartID)
	assert.Equal(t, "new", merged[0].LastMessage)
}

func TestMergeIdempotence(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	a := []entity.Conversation{conv("u1", "a", t0.Add(time.Minute)), conv("u2", "b", t0)}
	b := []entity.Conversation{conv("u2", "c", t0.Add(time.Hour)), conv("u3", "d", t0)}

	once := MergeConversations(a, b)
	twice := MergeConversations(once, once)

	assert.Equal(t, once, twice)

	// The canonical list carries no origin tag, including on entries that
	// existed only on one side.
	for _, conv := range once {
		assert.Empty(t, conv.Origin)
	}
}

func TestMergeSortDescendingRegardlessOfInsertionOrder(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1, t2, t3 := t0.Add(time.Minute), t0.Add(2*time.Minute), t0.Add(3*time.Minute)

	for _, input := range [][]entity.Conversation{
		{conv("a", "", t3), conv("b", "", t1), conv("c", "", t2)},
		{conv("b", "", t1), conv("c", "", t2), conv("a", "", t3)},
		{conv("c", "", t2), conv("a", "", t3), conv("b", "", t1)},
	} {
		merged := MergeConversations(input, nil)
		assert.Equal(t, t3, merged[0].LastMessageAt)
		assert.Equal(t, t2, merged[1].LastMessageAt)
		assert.Equal(t, t1, merged[2].LastMessageAt)
	}
}

func TestMergeTiesKeepInsertionOrder(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	local := []entity.Conversation{conv("first", "", t0), conv("second", "", t0)}
	merged := MergeConversations(nil, local)

	assert.Equal(t, "first", merged[0].CounterpartID)
	assert.Equal(t, "second", merged[1].CounterpartID)
}

func TestMergeToleratesEmptyAndMalformedEntries(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Empty(t, MergeConversations(nil, nil))

	merged := MergeConversations(
		[]entity.Conversation{{CounterpartID: ""}, conv("u1", "hi", t0)},
		[]entity.Conversation{{CounterpartID: ""}},
	)
	assert.Len(t, merged, 1)
	assert.Equal(t, "u1", merged[0].CounterpartID)
}

func TestMergeClockGuardKeepsFresherLocalEntry(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	local := conv("u1", "push-delivered", t0.Add(time.Hour))
	local.Clock = 10

	stale := conv("u1", "stale-snapshot", t0)

	merged := mergeWithClock([]entity.Conversation{stale}, []entity.Conversation{local}, 5)

	assert.Len(t, merged, 1)
	assert.Equal(t, "push-delivered", merged[0].LastMessage)

	// A snapshot issued after the local mutation may overwrite it.
	merged = mergeWithClock([]entity.Conversation{stale}, []entity.Conversation{local}, 10)
	assert.Equal(t, "stale-snapshot", merged[0].LastMessage)
}
