package domain

import "sort"

// MergeSets combines the remote snapshot with the local cache into the view
// shown to the owner.
//
// A local record wins when the remote has no entry for it or when the local
// record has not been confirmed (draft, pending_sync, failed). A confirmed
// local record yields to the remote copy, which is authoritative once synced.
// Entries the remote does not hold are local-only whatever their status.
// The result is ordered by CreatedAt, newest first.
func MergeSets(remote []*BookmarkSet, local map[string]CachedSet) []*BookmarkSet {
	merged := make(map[string]*BookmarkSet, len(remote)+len(local))
	for _, s := range remote {
		if s == nil {
			continue
		}
		merged[s.SetID] = s
	}

	for id, rec := range local {
		_, onRemote := merged[id]
		if onRemote && !rec.Set.SyncStatus.Unsynced() {
			continue
		}
		set := rec.Set.Clone()
		if set.SetID == "" {
			set.SetID = id
		}
		set.Unconfirmed = !onRemote
		merged[id] = set
	}

	out := make([]*BookmarkSet, 0, len(merged))
	for _, s := range merged {
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SetID < out[j].SetID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
