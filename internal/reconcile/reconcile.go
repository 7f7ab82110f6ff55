// Package reconcile merges freshly fetched inbox records with local state.
package reconcile

import (
	"slices"

	"homedash/internal/model"
)

// Result is the outcome of one reconciliation.
type Result struct {
	// Visible is the next authoritative collection, sorted.
	Visible []model.Record
	// Arrivals are fetched records that were not visible before, unread and not deleted.
	Arrivals []model.Record
}

// Reconcile computes the next visible collection from a fetched batch.
//
// Records whose id is in deleted, invalid records and records flagged
// Deleted are dropped. Ids in read are forced to read. An empty batch keeps
// previous (minus deleted ids) so a transient empty response never wipes
// the collection. Inputs are not modified.
func Reconcile(fetched, previous []model.Record, deleted, read model.IDSet) Result {
	if len(fetched) == 0 {
		return Result{Visible: overlay(previous, deleted, read)}
	}

	known := make(model.IDSet, len(previous))
	for _, r := range previous {
		known.Add(r.ID)
	}

	visible := make([]model.Record, 0, len(fetched))
	var arrivals []model.Record
	batch := make(model.IDSet, len(fetched))
	for _, r := range fetched {
		if r.Deleted || deleted.Has(r.ID) || !r.Valid() || batch.Has(r.ID) {
			continue
		}
		batch.Add(r.ID)
		if read.Has(r.ID) {
			r.Read = true
		}
		if !r.Read && !known.Has(r.ID) {
			arrivals = append(arrivals, r)
		}
		visible = append(visible, r)
	}

	Sort(visible)
	return Result{Visible: visible, Arrivals: arrivals}
}

// overlay re-applies deleted and read state to an existing collection.
func overlay(records []model.Record, deleted, read model.IDSet) []model.Record {
	out := make([]model.Record, 0, len(records))
	for _, r := range records {
		if deleted.Has(r.ID) {
			continue
		}
		if read.Has(r.ID) {
			r.Read = true
		}
		out = append(out, r)
	}
	Sort(out)
	return out
}

// Sort orders records unread first, then newest first. The sort is stable.
func Sort(records []model.Record) {
	slices.SortStableFunc(records, compare)
}

func compare(a, b model.Record) int {
	if a.Read != b.Read {
		if !a.Read {
			return -1
		}
		return 1
	}
	return b.Timestamp.Compare(a.Timestamp)
}
