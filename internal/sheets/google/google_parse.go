package google

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"vatledger/internal/core"
)

type record struct {
	entry   core.Entry
	created time.Time
	row     int
}

// records holds parsed rows per category in sheet order.
type records map[core.Category][]record

// ledger orders each category newest created first (later rows first on
// ties), keeps the entries accepted by keep and truncates to limit when
// limit is positive.
func (r records) ledger(keep func(core.Entry) bool, limit int) core.Ledger {
	var l core.Ledger
	for _, c := range core.Categories() {
		recs := append([]record(nil), r[c]...)
		sort.SliceStable(recs, func(i, j int) bool {
			if !recs[i].created.Equal(recs[j].created) {
				return recs[i].created.After(recs[j].created)
			}
			return recs[i].row > recs[j].row
		})
		out := make([]core.Entry, 0, len(recs))
		for _, rec := range recs {
			if limit > 0 && len(out) == limit {
				break
			}
			if keep(rec.entry) {
				out = append(out, rec.entry)
			}
		}
		l = l.WithEntries(c, out)
	}
	return l
}

// entryRow builds the cells written for e.
func entryRow(id string, e core.Entry, now time.Time) []any {
	date := core.WireToDisplay(e.Date)
	amount := e.Amount.InexactFloat64()
	created := now.UTC().Format(time.RFC3339)
	switch e.Category() {
	case core.Spending:
		return []any{id, date, e.Description(), amount, string(e.Status()), created}
	case core.Receiving:
		return []any{id, date, e.Description(), amount, created}
	}
	return []any{id, date, amount, created}
}

// parseSpendingRows reads ID | Date | Description | Amount | Status | CreatedAt.
func parseSpendingRows(values [][]any) []record {
	var out []record
	for i, row := range values {
		cols := toStrings(row)
		id := safeGet(cols, 0)
		amount, ok := parseAmountCell(safeGetAny(row, 3))
		if id == "" || !ok {
			continue
		}
		status, err := core.ParseStatus(safeGet(cols, 4))
		if err != nil {
			status = core.StatusSpent
		}
		e := core.NewSpending(id, core.WireToDisplay(safeGet(cols, 1)), amount, safeGet(cols, 2), status)
		out = append(out, record{entry: e, created: parseCreated(safeGet(cols, 5)), row: i})
	}
	return out
}

// parseVATRows reads ID | Date | Amount | CreatedAt.
func parseVATRows(values [][]any) []record {
	var out []record
	for i, row := range values {
		cols := toStrings(row)
		id := safeGet(cols, 0)
		amount, ok := parseAmountCell(safeGetAny(row, 2))
		if id == "" || !ok {
			continue
		}
		e := core.NewVATCollected(id, core.WireToDisplay(safeGet(cols, 1)), amount)
		out = append(out, record{entry: e, created: parseCreated(safeGet(cols, 3)), row: i})
	}
	return out
}

// parseReceivingRows reads ID | Date | Description | Amount | CreatedAt.
func parseReceivingRows(values [][]any) []record {
	var out []record
	for i, row := range values {
		cols := toStrings(row)
		id := safeGet(cols, 0)
		amount, ok := parseAmountCell(safeGetAny(row, 3))
		if id == "" || !ok {
			continue
		}
		e := core.NewReceiving(id, core.WireToDisplay(safeGet(cols, 1)), amount, safeGet(cols, 2))
		out = append(out, record{entry: e, created: parseCreated(safeGet(cols, 4)), row: i})
	}
	return out
}

// indexOfID returns the position of the row whose first cell is id, or -1.
func indexOfID(values [][]any, id string) int {
	id = strings.TrimSpace(id)
	for i, row := range values {
		if len(row) > 0 && strings.TrimSpace(fmt.Sprint(row[0])) == id {
			return i
		}
	}
	return -1
}

// parseAmountCell accepts numeric cells and text cells. Text is read the
// way users type it by hand ("2.500" is two thousand five hundred).
// Negative values are rejected.
func parseAmountCell(v any) (core.Money, bool) {
	var d decimal.Decimal
	switch x := v.(type) {
	case float64:
		d = decimal.NewFromFloat(x)
	case int:
		d = decimal.NewFromInt(int64(x))
	case int64:
		d = decimal.NewFromInt(x)
	case string:
		m, err := core.ParseAmount(x)
		if err != nil {
			return core.Money{}, false
		}
		return m, true
	default:
		return core.Money{}, false
	}
	if d.IsNegative() {
		return core.Money{}, false
	}
	return core.Money{Decimal: d}, true
}

func parseCreated(s string) time.Time {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}
	return t
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}

func safeGetAny(arr []any, idx int) any {
	if idx < 0 || idx >= len(arr) {
		return nil
	}
	return arr[idx]
}
