package reconcile

import (
	"slices"
	"sync"

	"homedash/internal/model"
)

// Engine holds the authoritative visible collection of one domain.
//
// Every replacement of the collection happens under a single lock, so readers
// never observe a partially applied reconciliation.
type Engine struct {
	domain model.Domain

	mu      sync.RWMutex
	visible []model.Record
	seen    model.IDSet

	inflight sync.Mutex
}

// NewEngine creates an empty engine for domain.
func NewEngine(domain model.Domain) *Engine {
	return &Engine{domain: domain, seen: model.IDSet{}}
}

// Domain returns the domain the engine reconciles.
func (e *Engine) Domain() model.Domain {
	return e.domain
}

// TryBegin claims the engine for one sync. It returns ok=false when another
// sync of the same domain is still running; otherwise end must be called
// once the sync is done.
func (e *Engine) TryBegin() (end func(), ok bool) {
	if !e.inflight.TryLock() {
		return nil, false
	}
	return e.inflight.Unlock, true
}

// Apply reconciles fetched against the current collection, replaces it, and
// returns the records worth notifying about.
//
// deleted and read are evaluated under the engine lock, so a user action
// persisted before its local mutation is never undone by a concurrent Apply.
// A nil func stands for an empty set.
//
// Arrivals also exclude ids observed in the previous non-empty fetch. Until
// a non-empty fetch has been observed, Apply is a cold start and reports no
// arrivals.
func (e *Engine) Apply(fetched []model.Record, deleted, read func() model.IDSet) []model.Record {
	e.mu.Lock()
	defer e.mu.Unlock()

	res := Reconcile(fetched, e.visible, load(deleted), load(read))
	e.visible = res.Visible

	var arrivals []model.Record
	if len(e.seen) > 0 {
		for _, r := range res.Arrivals {
			if !e.seen.Has(r.ID) {
				arrivals = append(arrivals, r)
			}
		}
	}

	if len(fetched) > 0 {
		seen := make(model.IDSet, len(fetched))
		for _, r := range fetched {
			seen.Add(r.ID)
		}
		e.seen = seen
	}
	return arrivals
}

func load(set func() model.IDSet) model.IDSet {
	if set == nil {
		return nil
	}
	return set()
}

// Visible returns a copy of the current collection.
func (e *Engine) Visible() []model.Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]model.Record(nil), e.visible...)
}

// VisibleFrom returns the visible records of one origin.
func (e *Engine) VisibleFrom(origin string) []model.Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []model.Record
	for _, r := range e.visible {
		if r.Origin == origin {
			out = append(out, r)
		}
	}
	return out
}

// Lookup returns the visible record with id.
func (e *Engine) Lookup(id string) (model.Record, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, r := range e.visible {
		if r.ID == id {
			return r, true
		}
	}
	return model.Record{}, false
}

// Unread counts unread visible records.
func (e *Engine) Unread() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, r := range e.visible {
		if !r.Read {
			n++
		}
	}
	return n
}

// MarkRead flags a visible record as read and re-sorts.
func (e *Engine) MarkRead(id string) bool {
	return e.mutate(func(records []model.Record) []model.Record {
		for i := range records {
			if records[i].ID == id {
				records[i].Read = true
			}
		}
		return records
	}, id)
}

// Remove drops a visible record.
func (e *Engine) Remove(id string) bool {
	return e.mutate(func(records []model.Record) []model.Record {
		return slices.DeleteFunc(records, func(r model.Record) bool { return r.ID == id })
	}, id)
}

// RemoveRead drops every read record and returns their ids.
func (e *Engine) RemoveRead() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []string
	next := make([]model.Record, 0, len(e.visible))
	for _, r := range e.visible {
		if r.Read {
			ids = append(ids, r.ID)
			continue
		}
		next = append(next, r)
	}
	e.visible = next
	return ids
}

// Clear empties the collection, e.g. after the domain lost its credential.
// The next Apply is treated as a cold start again.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.visible = nil
	e.seen = model.IDSet{}
}

func (e *Engine) mutate(fn func([]model.Record) []model.Record, id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	found := false
	for _, r := range e.visible {
		if r.ID == id {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	next := fn(append([]model.Record(nil), e.visible...))
	Sort(next)
	e.visible = next
	return true
}
