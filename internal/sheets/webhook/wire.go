package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"vatledger/internal/core"
)

// Request bodies. The webhook reads them as plain text and parses the JSON
// itself.
type (
	createRequest struct {
		Type        string     `json:"type"`
		OccurredAt  string     `json:"occurredAt"`
		Amount      core.Money `json:"amount"`
		Description string     `json:"description,omitempty"`
		Status      string     `json:"status,omitempty"`
	}

	actionRequest struct {
		Action string `json:"action"`
		ID     string `json:"id"`
		Type   string `json:"type"`
		Status string `json:"status,omitempty"`
	}
)

// Response bodies.
type (
	envelope struct {
		Error string `json:"error"`
	}

	writeResponse struct {
		ID flexString `json:"id"`
	}

	listItem struct {
		ID          flexString `json:"id"`
		Date        flexString `json:"date"`
		Amount      flexMoney  `json:"amount"`
		Description string     `json:"description"`
		Status      string     `json:"status"`
	}

	listResponse struct {
		Spending     []listItem `json:"spending"`
		Receiving    []listItem `json:"receiving"`
		VAT          []listItem `json:"vat"`
		VATCollected []listItem `json:"vatCollected"`
	}

	totalResponse struct {
		Total core.Money `json:"total"`
	}

	totalsResponse struct {
		TotalSpending     core.Money `json:"totalSpending"`
		TotalVATCollected core.Money `json:"totalVatCollected"`
	}

	monthsResponse struct {
		Months []string `json:"months"`
	}

	monthlyResponse struct {
		MonthYear string `json:"monthYear"`
		totalsResponse
	}
)

// flexString accepts a JSON string or number. Spreadsheet cells holding ids
// and dates come back as either.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		*f = flexString(strconv.FormatInt(i, 10))
		return nil
	}
	*f = flexString(n.String())
	return nil
}

// flexMoney reads an amount cell. Blank cells are zero. Text that is not a
// number also reads as zero and sets unreadable, so one bad row cannot fail
// a whole list.
type flexMoney struct {
	core.Money
	unreadable bool
}

func (f *flexMoney) UnmarshalJSON(b []byte) error {
	f.Money, f.unreadable = core.Zero(), false
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	raw := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil
		}
	}
	if d, err := decimal.NewFromString(raw); err == nil {
		f.Money = core.Money{Decimal: d}
		return nil
	}
	// Cells formatted for display, such as "1.250.000".
	if m, err := core.ParseAmount(raw); err == nil {
		f.Money = m
		return nil
	}
	f.unreadable = true
	return nil
}

func newCreateRequest(e core.Entry) createRequest {
	req := createRequest{
		Type:       string(e.Category()),
		OccurredAt: core.DisplayToWire(e.Date),
		Amount:     e.Amount,
	}
	switch e.Category() {
	case core.Spending:
		req.Description = e.Description()
		req.Status = string(e.Status())
	case core.Receiving:
		req.Description = e.Description()
	}
	return req
}

func (r listResponse) ledger() core.Ledger {
	vat := r.VAT
	if len(vat) == 0 {
		vat = r.VATCollected
	}
	l := core.Ledger{
		Spending:     make([]core.Entry, 0, len(r.Spending)),
		Receiving:    make([]core.Entry, 0, len(r.Receiving)),
		VATCollected: make([]core.Entry, 0, len(vat)),
	}
	for _, it := range r.Spending {
		status, err := core.ParseStatus(it.Status)
		if err != nil {
			status = core.StatusSpent
		}
		l.Spending = append(l.Spending, core.NewSpending(string(it.ID), string(it.Date), it.Amount.Money, it.Description, status))
	}
	for _, it := range r.Receiving {
		l.Receiving = append(l.Receiving, core.NewReceiving(string(it.ID), string(it.Date), it.Amount.Money, it.Description))
	}
	for _, it := range vat {
		l.VATCollected = append(l.VATCollected, core.NewVATCollected(string(it.ID), string(it.Date), it.Amount.Money))
	}
	return l
}

// unreadableAmounts returns the ids of rows whose amount cell did not parse.
func (r listResponse) unreadableAmounts() []string {
	var ids []string
	for _, items := range [][]listItem{r.Spending, r.Receiving, r.VAT, r.VATCollected} {
		for _, it := range items {
			if it.Amount.unreadable {
				ids = append(ids, string(it.ID))
			}
		}
	}
	return ids
}

func (r totalsResponse) overall() core.OverallTotals {
	return core.OverallTotals{
		Spending:     r.TotalSpending,
		VATCollected: r.TotalVATCollected,
		Remaining:    core.Remaining(r.TotalSpending, r.TotalVATCollected),
	}
}
