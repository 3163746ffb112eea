package ledger

import (
	"sort"

	"vatledger/internal/core"
)

// StatusChange is a proposed, unconfirmed status transition for one entry.
// From is always the status the entry had before the first proposal.
type StatusChange struct {
	EntryID     string
	From        core.Status
	To          core.Status
	Description string
}

// PendingChanges holds at most one StatusChange per entry id.
type PendingChanges map[string]StatusChange

// ProposeStatusChange records that entry id should move from current to
// next and returns the updated set; p itself is not modified.
//
// Proposing the status the entry currently has drops any pending change for
// it. Repeated proposals keep the From of the first one, so spent→requested
// followed by requested→claimed is recorded as spent→claimed.
func ProposeStatusChange(p PendingChanges, id string, current, next core.Status, description string) PendingChanges {
	out := make(PendingChanges, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	if next == current {
		delete(out, id)
		return out
	}
	from := current
	if prev, ok := out[id]; ok {
		from = prev.From
	}
	out[id] = StatusChange{EntryID: id, From: from, To: next, Description: description}
	return out
}

// Changes lists the pending changes ordered by entry id.
func (p PendingChanges) Changes() []StatusChange {
	out := make([]StatusChange, 0, len(p))
	for _, c := range p {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryID < out[j].EntryID })
	return out
}
