package queue

import "sort"

// Batch is the run of entries for one entity that may be applied in order
// during a drain.
type Batch struct {
	EntityType string
	EntityID   string
	Entries    []Entry
}

// Sort orders entries FIFO by creation time, breaking ties by sequence.
func Sort(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].Seq < entries[j].Seq
	})
}

// Blocks reports whether e holds back later entries for the same entity.
// Parked entries, entries waiting out a backoff and entries already in flight
// block; completed and terminal ones do not.
func Blocks(e Entry) bool {
	switch e.Status {
	case StatusPending, StatusProcessing:
		return true
	case StatusFailed:
		return !Terminal(e)
	}
	return false
}

// Schedule selects what a drain may apply from the unfinished entries.
//
// Entries are taken in global FIFO order, at most limit in total (limit <= 0
// means no limit). For each entity only the pending entries before its first
// blocking entry are taken, so an entity never applies out of creation order.
// Batches are returned in the order of their first entry.
func Schedule(entries []Entry, limit int) []Batch {
	sorted := append([]Entry(nil), entries...)
	Sort(sorted)

	type key struct{ typ, id string }
	var (
		batches []Batch
		index   = make(map[key]int)
		blocked = make(map[key]bool)
		taken   int
	)
	for _, e := range sorted {
		k := key{e.EntityType, e.EntityID}
		if blocked[k] {
			continue
		}
		if e.Status != StatusPending {
			if Blocks(e) {
				blocked[k] = true
			}
			continue
		}
		if limit > 0 && taken >= limit {
			break
		}
		i, ok := index[k]
		if !ok {
			i = len(batches)
			index[k] = i
			batches = append(batches, Batch{EntityType: e.EntityType, EntityID: e.EntityID})
		}
		batches[i].Entries = append(batches[i].Entries, e)
		taken++
	}
	return batches
}
