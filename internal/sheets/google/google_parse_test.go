package google

import (
	"testing"
	"time"

	"vatledger/internal/core"
)

func TestParseSpendingRows(t *testing.T) {
	values := [][]interface{}{
		{"a1", "01/05/2024", "taxi", 1000.0, "claimed", "2024-05-01T08:00:00Z"},
		{"a2", "2024-05-02", "lunch", "2.500", "", "2024-05-02T08:00:00Z"},
		{"", "03/05/2024", "no id", 10.0},
		{"a3", "03/05/2024", "bad amount", "abc"},
		{"a4", "04/05/2024", "negative", -5.0},
		{"a5", "05/05/2024", "short row", 42.0},
	}
	recs := parseSpendingRows(values)
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	first := recs[0].entry
	if first.ID != "a1" || first.Status() != core.StatusClaimed || first.Amount.String() != "1000" {
		t.Errorf("first row parsed wrong: %+v", first)
	}
	second := recs[1].entry
	if second.Date != "02/05/2024" {
		t.Errorf("expected display date, got %q", second.Date)
	}
	if second.Amount.String() != "2500" || second.Status() != core.StatusSpent {
		t.Errorf("second row parsed wrong: %+v", second)
	}
	if !recs[2].created.IsZero() {
		t.Errorf("missing created cell should give zero time")
	}
}

func TestParseVATAndReceivingRows(t *testing.T) {
	vat := parseVATRows([][]interface{}{
		{45.0, "02/05/2024", 2500.0, "2024-05-02T08:00:00Z"},
		{"v2", "02/05/2024"},
	})
	if len(vat) != 1 || vat[0].entry.ID != "45" || vat[0].entry.Category() != core.VATCollected {
		t.Fatalf("unexpected vat records %+v", vat)
	}

	recv := parseReceivingRows([][]interface{}{
		{"r1", "03/05/2024", "refund", 700.0, "2024-05-03T08:00:00Z"},
	})
	if len(recv) != 1 || recv[0].entry.Description() != "refund" || recv[0].entry.Category() != core.Receiving {
		t.Fatalf("unexpected receiving records %+v", recv)
	}
}

func TestRecordsLedgerOrdersAndLimits(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	recs := records{
		core.Spending: {
			{entry: core.NewSpending("old", "01/05/2024", core.NewMoney(1), "a", ""), created: t0, row: 0},
			{entry: core.NewSpending("new", "01/05/2024", core.NewMoney(2), "b", ""), created: t0.Add(time.Hour), row: 1},
			{entry: core.NewSpending("tie", "01/05/2024", core.NewMoney(3), "c", ""), created: t0, row: 2},
		},
	}
	l := recs.ledger(func(core.Entry) bool { return true }, 0)
	got := []string{l.Spending[0].ID, l.Spending[1].ID, l.Spending[2].ID}
	want := []string{"new", "tie", "old"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	l = recs.ledger(func(e core.Entry) bool { return e.ID != "new" }, 1)
	if len(l.Spending) != 1 || l.Spending[0].ID != "tie" {
		t.Fatalf("filter and limit not applied: %+v", l.Spending)
	}
	if len(recs[core.Spending]) != 3 || recs[core.Spending][0].entry.ID != "old" {
		t.Fatalf("ledger must not reorder the source records")
	}
}

func TestEntryRow(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	row := entryRow("id-1", core.NewSpending("", "2024-05-01", core.NewMoney(50000), "coffee", core.StatusRequested), now)
	if len(row) != 6 || row[1] != "01/05/2024" || row[3] != 50000.0 || row[4] != "requested" || row[5] != "2024-05-01T10:00:00Z" {
		t.Fatalf("unexpected spending row %v", row)
	}
	row = entryRow("id-2", core.NewVATCollected("", "01/05/2024", core.NewMoney(2500)), now)
	if len(row) != 4 || row[2] != 2500.0 {
		t.Fatalf("unexpected vat row %v", row)
	}
}

func TestIndexOfID(t *testing.T) {
	rows := [][]interface{}{{"x"}, {}, {42.0}, {" y "}}
	cases := map[string]int{"x": 0, "42": 2, "y": 3, "missing": -1}
	for id, want := range cases {
		if got := indexOfID(rows, id); got != want {
			t.Errorf("indexOfID(%q) = %d, want %d", id, got, want)
		}
	}
}
