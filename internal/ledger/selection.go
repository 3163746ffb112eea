package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"vatledger/internal/core"
)

var ErrInvalidKey = errors.New("invalid selection key")

// EntryKey identifies an entry across categories.
type EntryKey struct {
	Category core.Category
	ID       string
}

// Key builds the EntryKey of e.
func Key(e core.Entry) EntryKey {
	return EntryKey{Category: e.Category(), ID: e.ID}
}

// String renders the key as "category:id".
func (k EntryKey) String() string {
	return string(k.Category) + ":" + k.ID
}

// ParseEntryKey splits "category:id" on the first colon only.
func ParseEntryKey(s string) (EntryKey, error) {
	cat, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return EntryKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	c, err := core.ParseCategory(cat)
	if err != nil {
		return EntryKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return EntryKey{Category: c, ID: id}, nil
}

func (k EntryKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *EntryKey) UnmarshalText(b []byte) error {
	parsed, err := ParseEntryKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Selection is the set of entries chosen for a bulk action.
type Selection map[EntryKey]struct{}

// NewSelection builds a selection from keys.
func NewSelection(keys ...EntryKey) Selection {
	s := make(Selection, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// SelectAll selects every spending and VAT-collected entry of l. Receiving
// entries are included when present.
func SelectAll(l core.Ledger) Selection {
	s := make(Selection, l.Len())
	for _, c := range core.Categories() {
		for _, e := range l.Entries(c) {
			s[EntryKey{Category: c, ID: e.ID}] = struct{}{}
		}
	}
	return s
}

func (s Selection) Has(k EntryKey) bool {
	_, ok := s[k]
	return ok
}

// Toggle returns a copy of s with k added or removed.
func (s Selection) Toggle(k EntryKey) Selection {
	out := make(Selection, len(s)+1)
	for key := range s {
		out[key] = struct{}{}
	}
	if _, ok := out[k]; ok {
		delete(out, k)
	} else {
		out[k] = struct{}{}
	}
	return out
}

// Keys lists the selection ordered by category then id.
func (s Selection) Keys() []EntryKey {
	out := make([]EntryKey, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Totals summarises the selected entries.
type Totals struct {
	Paid      core.Money
	Collected core.Money
	Remaining core.Money
}

// ComputeSelectionTotals sums the selected spending entries as paid and the
// selected VAT-collected and receiving entries as collected. Remaining is
// collected minus paid and never negative.
func ComputeSelectionTotals(l core.Ledger, sel Selection) Totals {
	paid, collected := core.Zero(), core.Zero()
	for _, c := range core.Categories() {
		for _, e := range l.Entries(c) {
			if !sel.Has(EntryKey{Category: c, ID: e.ID}) {
				continue
			}
			if c == core.Spending {
				paid = paid.Add(e.Amount)
			} else {
				collected = collected.Add(e.Amount)
			}
		}
	}
	return Totals{Paid: paid, Collected: collected, Remaining: core.Remaining(paid, collected)}
}
