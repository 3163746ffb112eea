package ledger

import (
	"fmt"

	"vatledger/internal/core"
)

// View names one of the two list snapshots a screen keeps.
type View string

const (
	// ViewRecent lists entries of the last few days.
	ViewRecent View = "recent"
	// ViewFilter lists entries of a user chosen date range.
	ViewFilter View = "filter"
)

// SelectionMode decides what the selection is used for.
type SelectionMode string

const (
	// ModeTotals keeps every entry of the active snapshot selected so the
	// selection totals cover the whole list.
	ModeTotals SelectionMode = "totals"
	// ModeDelete starts from an empty selection for bulk actions.
	ModeDelete SelectionMode = "delete"
)

func ParseView(s string) (View, error) {
	switch View(s) {
	case ViewRecent, ViewFilter:
		return View(s), nil
	}
	return "", fmt.Errorf("invalid view %q", s)
}

func ParseSelectionMode(s string) (SelectionMode, error) {
	switch SelectionMode(s) {
	case ModeTotals, ModeDelete:
		return SelectionMode(s), nil
	}
	return "", fmt.Errorf("invalid selection mode %q", s)
}

// State is the complete view state of the tracking screen. Every method
// returns a new State and leaves the receiver untouched.
type State struct {
	Recent    core.Ledger
	Filtered  core.Ledger
	View      View
	Range     core.DateRange
	Mode      SelectionMode
	Selection Selection
	Pending   PendingChanges
}

// NewState returns an empty state on the recent view in totals mode.
func NewState(filterRange core.DateRange) State {
	return State{
		View:      ViewRecent,
		Range:     filterRange,
		Mode:      ModeTotals,
		Selection: Selection{},
		Pending:   PendingChanges{},
	}
}

// Active returns the snapshot of the current view.
func (s State) Active() core.Ledger {
	if s.View == ViewFilter {
		return s.Filtered
	}
	return s.Recent
}

// Snapshot returns the snapshot of view v.
func (s State) Snapshot(v View) core.Ledger {
	if v == ViewFilter {
		return s.Filtered
	}
	return s.Recent
}

// WithSnapshot replaces the snapshot of view v. When v is the active view,
// selection keys and pending changes that no longer match an entry are
// dropped, and totals mode reselects the whole list.
func (s State) WithSnapshot(v View, l core.Ledger) State {
	if v == ViewFilter {
		s.Filtered = l
	} else {
		s.Recent = l
	}
	if v != s.View {
		return s
	}
	if s.Mode == ModeTotals {
		s.Selection = SelectAll(l)
	} else {
		sel := make(Selection, len(s.Selection))
		for k := range s.Selection {
			if _, ok := l.Find(k.Category, k.ID); ok {
				sel[k] = struct{}{}
			}
		}
		s.Selection = sel
	}
	pending := make(PendingChanges, len(s.Pending))
	for id, c := range s.Pending {
		if _, ok := l.Find(core.Spending, id); ok {
			pending[id] = c
		}
	}
	s.Pending = pending
	return s
}

// SwitchView changes the visible snapshot. Selection and pending status
// changes belong to the previous view and are cleared.
func (s State) SwitchView(v View) State {
	if v == s.View {
		return s
	}
	s.View = v
	s.Pending = PendingChanges{}
	s.Selection = s.initialSelection()
	return s
}

// SetMode switches the selection mode and resets the selection.
func (s State) SetMode(m SelectionMode) State {
	s.Mode = m
	s.Selection = s.initialSelection()
	return s
}

// WithRange sets the date range used by the filter view.
func (s State) WithRange(r core.DateRange) State {
	s.Range = r
	return s
}

func (s State) Toggle(k EntryKey) State {
	s.Selection = s.Selection.Toggle(k)
	return s
}

func (s State) SelectAll() State {
	s.Selection = SelectAll(s.Active())
	return s
}

func (s State) ClearSelection() State {
	s.Selection = Selection{}
	return s
}

// ProposeStatus records a pending status change for a spending entry of the
// active snapshot. The current status is read from the snapshot, never from
// earlier proposals.
func (s State) ProposeStatus(id string, next core.Status) (State, bool) {
	e, ok := s.Active().Find(core.Spending, id)
	if !ok {
		return s, false
	}
	s.Pending = ProposeStatusChange(s.Pending, id, e.Status(), next, e.Description())
	return s, true
}

func (s State) ClearPending() State {
	s.Pending = PendingChanges{}
	return s
}

// SelectionTotals sums the selected entries of the active snapshot.
func (s State) SelectionTotals() Totals {
	return ComputeSelectionTotals(s.Active(), s.Selection)
}

func (s State) initialSelection() Selection {
	if s.Mode == ModeTotals {
		return SelectAll(s.Active())
	}
	return Selection{}
}
