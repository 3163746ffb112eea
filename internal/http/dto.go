package http

import (
	"vatledger/internal/core"
	"vatledger/internal/ledger"
	"vatledger/internal/services"
)

type entryDTO struct {
	Key         string      `json:"key"`
	ID          string      `json:"id"`
	Category    string      `json:"category"`
	Date        string      `json:"date"`
	Amount      core.Money  `json:"amount"`
	AmountText  string      `json:"amountText"`
	Description string      `json:"description,omitempty"`
	Status      core.Status `json:"status,omitempty"`
	Pending     bool        `json:"pending,omitempty"`
}

type ledgerDTO struct {
	Spending     []entryDTO `json:"spending"`
	Receiving    []entryDTO `json:"receiving"`
	VATCollected []entryDTO `json:"vatCollected"`
}

type totalsDTO struct {
	Spending     core.Money `json:"spending"`
	VATCollected core.Money `json:"vatCollected"`
	Remaining    core.Money `json:"remaining"`
}

type selectionTotalsDTO struct {
	Paid      core.Money `json:"paid"`
	Collected core.Money `json:"collected"`
	Remaining core.Money `json:"remaining"`
}

type pendingDTO struct {
	ID          string      `json:"id"`
	From        core.Status `json:"from"`
	To          core.Status `json:"to"`
	Description string      `json:"description"`
}

type rangeDTO struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type bannersDTO struct {
	Submit services.Banner `json:"submit"`
	VAT    services.Banner `json:"vat"`
	Logs   services.Banner `json:"logs"`
}

type stateDTO struct {
	Tab             ledger.View          `json:"tab"`
	Mode            ledger.SelectionMode `json:"mode"`
	Range           rangeDTO             `json:"range"`
	Entries         ledgerDTO            `json:"entries"`
	Recent          ledgerDTO            `json:"recent"`
	Filtered        ledgerDTO            `json:"filtered"`
	Selection       []string             `json:"selection"`
	SelectionTotals selectionTotalsDTO   `json:"selectionTotals"`
	Pending         []pendingDTO         `json:"pending"`
	Total           core.Money           `json:"total"`
	Overall         totalsDTO            `json:"overall"`
	Loaded          bool                 `json:"loaded"`
	Banners         bannersDTO           `json:"banners"`
}

type monthlyDTO struct {
	MonthYear    string     `json:"monthYear"`
	Spending     core.Money `json:"spending"`
	VATCollected core.Money `json:"vatCollected"`
	Remaining    core.Money `json:"remaining"`
}

func newEntryDTO(e core.Entry, pending map[string]bool) entryDTO {
	return entryDTO{
		Key:         ledger.Key(e).String(),
		ID:          e.ID,
		Category:    string(e.Category()),
		Date:        e.Date,
		Amount:      e.Amount,
		AmountText:  e.Amount.Format(),
		Description: e.Description(),
		Status:      e.Status(),
		Pending:     pending[e.ID] && e.Category() == core.Spending,
	}
}

func newLedgerDTO(l core.Ledger, pending map[string]bool) ledgerDTO {
	conv := func(entries []core.Entry) []entryDTO {
		out := make([]entryDTO, 0, len(entries))
		for _, e := range entries {
			out = append(out, newEntryDTO(e, pending))
		}
		return out
	}
	return ledgerDTO{
		Spending:     conv(l.Spending),
		Receiving:    conv(l.Receiving),
		VATCollected: conv(l.VATCollected),
	}
}

func newStateDTO(v services.View) stateDTO {
	pending := make(map[string]bool, len(v.Pending))
	changes := make([]pendingDTO, 0, len(v.Pending))
	for _, c := range v.Pending {
		pending[c.EntryID] = true
		changes = append(changes, pendingDTO{ID: c.EntryID, From: c.From, To: c.To, Description: c.Description})
	}
	keys := make([]string, 0, len(v.Selection))
	for _, k := range v.Selection {
		keys = append(keys, k.String())
	}

	out := stateDTO{
		Tab:       v.Active,
		Mode:      v.Mode,
		Range:     rangeDTO{From: v.Range.From.Display(), To: v.Range.To.Display()},
		Recent:    newLedgerDTO(v.Recent, nil),
		Filtered:  newLedgerDTO(v.Filtered, nil),
		Selection: keys,
		SelectionTotals: selectionTotalsDTO{
			Paid:      v.SelectionTotals.Paid,
			Collected: v.SelectionTotals.Collected,
			Remaining: v.SelectionTotals.Remaining,
		},
		Pending: changes,
		Total:   v.Total,
		Overall: totalsDTO{
			Spending:     v.Overall.Spending,
			VATCollected: v.Overall.VATCollected,
			Remaining:    v.Overall.Remaining,
		},
		Loaded:  v.Loaded,
		Banners: bannersDTO{Submit: v.Submit, VAT: v.VAT, Logs: v.Log},
	}
	active := v.Recent
	if v.Active == ledger.ViewFilter {
		active = v.Filtered
	}
	out.Entries = newLedgerDTO(active, pending)
	return out
}

func newMonthlyDTO(t core.MonthlyTotals) monthlyDTO {
	return monthlyDTO{
		MonthYear:    t.Period.String(),
		Spending:     t.Spending,
		VATCollected: t.VATCollected,
		Remaining:    t.Remaining,
	}
}
