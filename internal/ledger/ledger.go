// Package ledger implements the view-state engine that keeps a displayed
// ledger consistent with in-flight backend operations.
//
// Every function takes the current value and returns a new one; nothing here
// holds state or talks to the network. Callers own the snapshots and decide
// when to apply, revert or replace them.
package ledger

import (
	"sort"
	"time"

	"vatledger/internal/core"
)

type datedEntry struct {
	entry core.Entry
	index int
	day   time.Time
	ok    bool
}

// SortByDateDescending returns a copy of l with every category ordered by
// date, most recent first. Entries sharing a date are ordered by reverse
// input position: the one that appeared later in the input comes first.
// Dates that cannot be parsed never fail the sort; such entries go after all
// dated entries, again in reverse input order.
func SortByDateDescending(l core.Ledger) core.Ledger {
	out := l
	for _, c := range core.Categories() {
		entries := l.Entries(c)
		if entries == nil {
			continue
		}
		out = out.WithEntries(c, sortEntries(entries))
	}
	return out
}

func sortEntries(entries []core.Entry) []core.Entry {
	dated := make([]datedEntry, len(entries))
	for i, e := range entries {
		d, err := core.ParseAnyDate(e.Date)
		dated[i] = datedEntry{entry: e, index: i, day: d.Time, ok: err == nil}
	}
	sort.Slice(dated, func(i, j int) bool {
		a, b := dated[i], dated[j]
		switch {
		case a.ok && !b.ok:
			return true
		case !a.ok && b.ok:
			return false
		case a.ok && b.ok && !a.day.Equal(b.day):
			return a.day.After(b.day)
		}
		return a.index > b.index
	})
	out := make([]core.Entry, len(dated))
	for i, d := range dated {
		out[i] = d.entry
	}
	return out
}

// ApplyOptimisticCreate prepends entries, in the given order, to the list
// for category c. Existing entries keep their relative order.
func ApplyOptimisticCreate(l core.Ledger, entries []core.Entry, c core.Category) core.Ledger {
	current := l.Entries(c)
	next := make([]core.Entry, 0, len(entries)+len(current))
	next = append(next, entries...)
	next = append(next, current...)
	return l.WithEntries(c, next)
}

// RevertOptimisticCreate removes the entries whose id is in tempIDs from
// category c. Calling it again with the same ids changes nothing.
func RevertOptimisticCreate(l core.Ledger, tempIDs []string, c core.Category) core.Ledger {
	drop := make(map[string]struct{}, len(tempIDs))
	for _, id := range tempIDs {
		drop[id] = struct{}{}
	}
	current := l.Entries(c)
	next := make([]core.Entry, 0, len(current))
	for _, e := range current {
		if _, ok := drop[e.ID]; ok {
			continue
		}
		next = append(next, e)
	}
	return l.WithEntries(c, next)
}

// ApplyOptimisticDelete removes the entry with id from category c and
// returns it so the caller can restore it if the backend call fails. The
// boolean is false, and the ledger unchanged, when no such entry exists.
func ApplyOptimisticDelete(l core.Ledger, id string, c core.Category) (core.Ledger, core.Entry, bool) {
	current := l.Entries(c)
	for i, e := range current {
		if e.ID != id {
			continue
		}
		next := make([]core.Entry, 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)
		return l.WithEntries(c, next), e, true
	}
	return l, core.Entry{}, false
}

// RestoreEntry puts a removed entry back at the front of category c. The
// original position is not tracked.
func RestoreEntry(l core.Ledger, e core.Entry, c core.Category) core.Ledger {
	return ApplyOptimisticCreate(l, []core.Entry{e}, c)
}

// ApplyStatusChange sets the status of a spending entry and reports the
// status it had before, for rollback.
func ApplyStatusChange(l core.Ledger, id string, s core.Status) (core.Ledger, core.Status, bool) {
	current := l.Entries(core.Spending)
	for i, e := range current {
		if e.ID != id {
			continue
		}
		next := make([]core.Entry, len(current))
		copy(next, current)
		next[i] = e.WithStatus(s)
		return l.WithEntries(core.Spending, next), e.Status(), true
	}
	return l, "", false
}
