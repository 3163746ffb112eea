package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// OverallTotals is the all-time balance between what was paid and what was
// collected.
type OverallTotals struct {
	Spending     Money
	VATCollected Money
	Remaining    Money
}

// MonthYear identifies a calendar month. Its wire form is yyyy-mm.
type MonthYear struct {
	Year  int
	Month int // 1-12
}

// MonthlyTotals summarises one month.
type MonthlyTotals struct {
	Period       MonthYear
	Spending     Money
	VATCollected Money
	Remaining    Money
}

func ParseMonthYear(s string) (MonthYear, error) {
	ys, ms, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return MonthYear{}, fmt.Errorf("%w: month %q", ErrInvalidDate, s)
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return MonthYear{}, fmt.Errorf("%w: month %q", ErrInvalidDate, s)
	}
	m, err := strconv.Atoi(ms)
	if err != nil || m < 1 || m > 12 {
		return MonthYear{}, fmt.Errorf("%w: month %q", ErrInvalidMonth, s)
	}
	return MonthYear{Year: y, Month: m}, nil
}

func (p MonthYear) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// Contains reports whether d falls inside the month.
func (p MonthYear) Contains(d Date) bool {
	return d.Year() == p.Year && int(d.Month()) == p.Month
}

// Remaining is collected minus paid, floored at zero.
func Remaining(paid, collected Money) Money {
	return collected.Sub(paid).FloorZero()
}

// SummarizeEntries computes overall totals from a complete ledger.
// Receiving amounts count as collected.
func SummarizeEntries(l Ledger) OverallTotals {
	paid := sumAmounts(l.Spending, nil)
	collected := sumAmounts(l.VATCollected, nil).Add(sumAmounts(l.Receiving, nil))
	return OverallTotals{Spending: paid, VATCollected: collected, Remaining: Remaining(paid, collected)}
}

// SummarizeMonth computes the totals of entries dated inside p. Entries with
// unparseable dates are skipped.
func SummarizeMonth(l Ledger, p MonthYear) MonthlyTotals {
	in := func(e Entry) bool {
		d, err := ParseAnyDate(e.Date)
		return err == nil && p.Contains(d)
	}
	paid := sumAmounts(l.Spending, in)
	collected := sumAmounts(l.VATCollected, in).Add(sumAmounts(l.Receiving, in))
	return MonthlyTotals{Period: p, Spending: paid, VATCollected: collected, Remaining: Remaining(paid, collected)}
}

// AvailableMonths lists the distinct months that have at least one dated
// entry, newest first.
func AvailableMonths(l Ledger) []MonthYear {
	seen := map[MonthYear]struct{}{}
	for _, c := range Categories() {
		for _, e := range l.Entries(c) {
			d, err := ParseAnyDate(e.Date)
			if err != nil {
				continue
			}
			seen[MonthYear{Year: d.Year(), Month: int(d.Month())}] = struct{}{}
		}
	}
	out := make([]MonthYear, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		return out[i].Month > out[j].Month
	})
	return out
}

func sumAmounts(entries []Entry, keep func(Entry) bool) Money {
	total := Zero()
	for _, e := range entries {
		if keep != nil && !keep(e) {
			continue
		}
		total = total.Add(e.Amount)
	}
	return total
}
