package usecase

import (
	"sort"

	"agrolink/internal/domain/entity"
)

// MergeConversations combines a freshly fetched server list with the durable
// local list into one canonical list: deduplicated by counterpart id, remote
// entries overwriting local ones, sorted by last-message time descending with
// ties kept in insertion order. Merging a list with itself is a no-op.
func MergeConversations(remote, local []entity.Conversation) []entity.Conversation {
	return mergeWithClock(remote, local, ^uint64(0))
}

// mergeWithClock is the clock-guarded variant used by the controller: a
// remote entry may not overwrite a local entry mutated after the remote
// snapshot was requested (snapshotClock). This keeps a slow refresh from
// clobbering state already advanced by a push event.
func mergeWithClock(remote, local []entity.Conversation, snapshotClock uint64) []entity.Conversation {
	index := make(map[string]int, len(local)+len(remote))
	merged := make([]entity.Conversation, 0, len(local)+len(remote))

	for _, conv := range local {
		if conv.CounterpartID == "" {
			continue
		}
		if _, ok := index[conv.CounterpartID]; ok {
			continue
		}
		conv.Origin = entity.OriginLocal
		index[conv.CounterpartID] = len(merged)
		merged = append(merged, conv)
	}

	for _, conv := range remote {
		if conv.CounterpartID == "" {
			continue
		}
		conv.Origin = entity.OriginRemote
		if i, ok := index[conv.CounterpartID]; ok {
			if merged[i].Clock > snapshotClock {
				// Local entry is fresher than the snapshot; keep it.
				continue
			}
			conv.Clock = merged[i].Clock
			merged[i] = conv
		} else {
			index[conv.CounterpartID] = len(merged)
			merged = append(merged, conv)
		}
	}

	// The origin tag only drives the passes above; the canonical list carries
	// no trace of which side an entry came from, so re-merging a result with
	// itself reproduces it exactly.
	for i := range merged {
		merged[i].Origin = ""
	}

	sortCanonical(merged)
	return merged
}

func sortCanonical(list []entity.Conversation) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].LastMessageAt.After(list[j].LastMessageAt)
	})
}
