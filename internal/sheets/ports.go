package sheets

import (
	"context"

	"vatledger/internal/core"
)

// Ports for outbound adapters.
type (
	// EntryWriter persists a new entry and returns the id the backend
	// assigned, or an empty id when the backend does not report one.
	EntryWriter interface {
		Append(ctx context.Context, e core.Entry) (id string, err error)
	}

	EntryDeleter interface {
		Delete(ctx context.Context, id string, c core.Category) error
	}

	// StatusUpdater changes the status of a spending entry.
	StatusUpdater interface {
		UpdateStatus(ctx context.Context, id string, s core.Status) error
	}

	// LedgerReader lists entries grouped by category, in backend order.
	LedgerReader interface {
		// ListRecent returns the most recently created entries, at most
		// limit per category.
		ListRecent(ctx context.Context, limit int) (core.Ledger, error)
		// ListRange returns the entries whose date falls inside r.
		ListRange(ctx context.Context, r core.DateRange) (core.Ledger, error)
	}

	// TotalsReader provides the aggregate figures shown above the lists.
	TotalsReader interface {
		// Total is the sum of all spending entries.
		Total(ctx context.Context) (core.Money, error)
		OverallTotals(ctx context.Context) (core.OverallTotals, error)
	}

	// MonthlyReader provides per-month summaries.
	MonthlyReader interface {
		AvailableMonths(ctx context.Context) ([]core.MonthYear, error)
		MonthlyTotals(ctx context.Context, p core.MonthYear) (core.MonthlyTotals, error)
	}

	// VATLister returns the most recent VAT-collected entries.
	VATLister interface {
		ListVATCollected(ctx context.Context, limit int) ([]core.Entry, error)
	}
)
