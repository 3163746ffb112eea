// Package memory is an in-process ledger backend for development and tests.
package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"vatledger/internal/core"
	ports "vatledger/internal/sheets"
)

// Operation names passed to a FaultFunc.
const (
	OpAppend       = "append"
	OpDelete       = "delete"
	OpUpdateStatus = "update_status"
	OpList         = "list"
	OpTotals       = "totals"
)

// FaultFunc decides whether an operation fails. id is the entry id for
// delete and status updates and the description for appends.
type FaultFunc func(op, id string) error

// Ensure interface conformance
var (
	_ ports.EntryWriter   = (*Store)(nil)
	_ ports.EntryDeleter  = (*Store)(nil)
	_ ports.StatusUpdater = (*Store)(nil)
	_ ports.LedgerReader  = (*Store)(nil)
	_ ports.TotalsReader  = (*Store)(nil)
	_ ports.MonthlyReader = (*Store)(nil)
	_ ports.VATLister     = (*Store)(nil)
)

type record struct {
	entry   core.Entry
	created time.Time
}

type Store struct {
	mu    sync.Mutex
	seq   int
	items map[core.Category][]record
	fault FaultFunc
	calls map[string]int
	now   func() time.Time
}

func New(seed ...core.Entry) *Store {
	s := &Store{
		items: map[core.Category][]record{},
		calls: map[string]int{},
		now:   time.Now,
	}
	for _, e := range seed {
		s.insert(e)
	}
	return s
}

// NewFromFiles seeds the store from base/seed_ledger.txt. Each line is
// "category|date|amount|description|status"; blank lines and lines starting
// with # are skipped, as are lines that do not parse.
func NewFromFiles(base string) *Store {
	var seed []core.Entry
	for _, line := range readLines(filepath.Join(base, "seed_ledger.txt")) {
		if e, err := parseSeedLine(line); err == nil {
			seed = append(seed, e)
		}
	}
	return New(seed...)
}

// InjectFault installs f; nil removes it.
func (s *Store) InjectFault(f FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

// Calls reports how many times op was invoked.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Append stores the entry under a fresh numeric id.
func (s *Store) Append(_ context.Context, e core.Entry) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpAppend, e.Description()); err != nil {
		return "", err
	}
	return s.insert(e), nil
}

func (s *Store) Delete(_ context.Context, id string, c core.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpDelete, id); err != nil {
		return err
	}
	recs := s.items[c]
	for i, r := range recs {
		if r.entry.ID == id {
			s.items[c] = append(recs[:i:i], recs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("delete %s %s: %w", c, id, ports.ErrNotFound)
}

func (s *Store) UpdateStatus(_ context.Context, id string, st core.Status) error {
	if !st.Valid() {
		return core.ErrInvalidStatus
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpUpdateStatus, id); err != nil {
		return err
	}
	for i, r := range s.items[core.Spending] {
		if r.entry.ID == id {
			s.items[core.Spending][i].entry = r.entry.WithStatus(st)
			return nil
		}
	}
	return fmt.Errorf("update status %s: %w", id, ports.ErrNotFound)
}

// ListRecent returns up to limit entries per category, most recently
// created first.
func (s *Store) ListRecent(_ context.Context, limit int) (core.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpList, ""); err != nil {
		return core.Ledger{}, err
	}
	return s.collect(func(core.Entry) bool { return true }, limit), nil
}

// ListRange returns the entries dated inside r, most recently created first.
func (s *Store) ListRange(_ context.Context, r core.DateRange) (core.Ledger, error) {
	if err := r.Validate(); err != nil {
		return core.Ledger{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpList, ""); err != nil {
		return core.Ledger{}, err
	}
	return s.collect(func(e core.Entry) bool {
		d, err := core.ParseAnyDate(e.Date)
		return err == nil && r.Contains(d)
	}, 0), nil
}

func (s *Store) ListVATCollected(ctx context.Context, limit int) ([]core.Entry, error) {
	l, err := s.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	return l.VATCollected, nil
}

func (s *Store) Total(ctx context.Context) (core.Money, error) {
	t, err := s.OverallTotals(ctx)
	if err != nil {
		return core.Money{}, err
	}
	return t.Spending, nil
}

func (s *Store) OverallTotals(_ context.Context) (core.OverallTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpTotals, ""); err != nil {
		return core.OverallTotals{}, err
	}
	return core.SummarizeEntries(s.all()), nil
}

func (s *Store) AvailableMonths(_ context.Context) ([]core.MonthYear, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpTotals, ""); err != nil {
		return nil, err
	}
	return core.AvailableMonths(s.all()), nil
}

func (s *Store) MonthlyTotals(_ context.Context, p core.MonthYear) (core.MonthlyTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpTotals, ""); err != nil {
		return core.MonthlyTotals{}, err
	}
	return core.SummarizeMonth(s.all(), p), nil
}

// check counts the call and consults the fault hook. Callers hold mu.
func (s *Store) check(op, id string) error {
	s.calls[op]++
	if s.fault == nil {
		return nil
	}
	return s.fault(op, id)
}

// insert stores e with a new id and the date in display format. Callers
// hold mu or own s exclusively.
func (s *Store) insert(e core.Entry) string {
	s.seq++
	e.ID = strconv.Itoa(s.seq)
	e.Date = core.WireToDisplay(e.Date)
	c := e.Category()
	s.items[c] = append(s.items[c], record{entry: e, created: s.now()})
	return e.ID
}

func (s *Store) collect(keep func(core.Entry) bool, limit int) core.Ledger {
	var l core.Ledger
	for _, c := range core.Categories() {
		recs := s.items[c]
		out := make([]core.Entry, 0, len(recs))
		for i := len(recs) - 1; i >= 0; i-- {
			if limit > 0 && len(out) == limit {
				break
			}
			if keep(recs[i].entry) {
				out = append(out, recs[i].entry)
			}
		}
		l = l.WithEntries(c, out)
	}
	return l
}

func (s *Store) all() core.Ledger {
	return s.collect(func(core.Entry) bool { return true }, 0)
}

func parseSeedLine(line string) (core.Entry, error) {
	parts := strings.Split(line, "|")
	for len(parts) < 5 {
		parts = append(parts, "")
	}
	c, err := core.ParseCategory(parts[0])
	if err != nil {
		return core.Entry{}, err
	}
	amount, err := core.ParseAmount(parts[2])
	if err != nil {
		return core.Entry{}, err
	}
	date := strings.TrimSpace(parts[1])
	desc := strings.TrimSpace(parts[3])
	switch c {
	case core.Spending:
		st, err := core.ParseStatus(parts[4])
		if err != nil {
			return core.Entry{}, err
		}
		return core.NewSpending("", date, amount, desc, st), nil
	case core.Receiving:
		return core.NewReceiving("", date, amount, desc), nil
	}
	return core.NewVATCollected("", date, amount), nil
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}
