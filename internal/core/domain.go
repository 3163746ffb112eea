package core

import (
	"errors"
	"fmt"
	"strings"
)

const (
	Spending     Category = "spending"
	Receiving    Category = "receiving"
	VATCollected Category = "vatCollected"
)

const (
	StatusSpent     Status = "spent"
	StatusRequested Status = "requested"
	StatusClaimed   Status = "claimed"
)

type (
	// Category tags which list of the ledger an entry belongs to.
	Category string

	// Status is the reimbursement state of a spending entry.
	Status string

	// Details carries the fields that are valid for one category only.
	// The set of implementations is closed: SpendingDetails, ReceivingDetails
	// and VATDetails.
	Details interface {
		category() Category
	}

	SpendingDetails struct {
		Description string
		Status      Status
	}

	ReceivingDetails struct {
		Description string
	}

	VATDetails struct{}

	// Entry is one financial record. Date holds the date as it was received
	// (dd/mm/yyyy for listed entries) so that malformed values survive until
	// they are displayed or sorted.
	Entry struct {
		ID      string
		Date    string
		Amount  Money
		Details Details
	}

	// Ledger is a fetched set of entries grouped by category. Within a
	// category the slice keeps the order the backend returned.
	Ledger struct {
		Spending     []Entry
		Receiving    []Entry
		VATCollected []Entry
	}
)

var (
	ErrInvalidDay       = errors.New("invalid day")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrInvalidDate      = errors.New("invalid date")
	ErrInvalidRange     = errors.New("start date must be less than or equal to end date")
	ErrInvalidAmount    = errors.New("value must be greater than 0")
	ErrEmptyDescription = errors.New("this field is required")
	ErrInvalidCategory  = errors.New("invalid category")
	ErrInvalidStatus    = errors.New("invalid status")
)

func (SpendingDetails) category() Category  { return Spending }
func (ReceivingDetails) category() Category { return Receiving }
func (VATDetails) category() Category       { return VATCollected }

// Categories lists every known category in display order.
func Categories() []Category {
	return []Category{Spending, Receiving, VATCollected}
}

// ParseCategory accepts the wire names. "vat" is accepted as an alias for
// vatCollected because list responses use it as the key.
func ParseCategory(s string) (Category, error) {
	switch strings.TrimSpace(s) {
	case string(Spending):
		return Spending, nil
	case string(Receiving):
		return Receiving, nil
	case string(VATCollected), "vat":
		return VATCollected, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
}

func (c Category) Valid() bool {
	switch c {
	case Spending, Receiving, VATCollected:
		return true
	}
	return false
}

func (c Category) String() string {
	return string(c)
}

// ParseStatus maps the wire value to a Status. An empty value means spent.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(StatusSpent):
		return StatusSpent, nil
	case string(StatusRequested):
		return StatusRequested, nil
	case string(StatusClaimed):
		return StatusClaimed, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

func (s Status) Valid() bool {
	switch s {
	case StatusSpent, StatusRequested, StatusClaimed:
		return true
	}
	return false
}

// Label returns the capitalised status for display.
func (s Status) Label() string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}

// NewSpending builds a spending entry. An empty status defaults to spent.
func NewSpending(id, date string, amount Money, description string, status Status) Entry {
	if status == "" {
		status = StatusSpent
	}
	return Entry{ID: id, Date: date, Amount: amount, Details: SpendingDetails{Description: description, Status: status}}
}

func NewReceiving(id, date string, amount Money, description string) Entry {
	return Entry{ID: id, Date: date, Amount: amount, Details: ReceivingDetails{Description: description}}
}

func NewVATCollected(id, date string, amount Money) Entry {
	return Entry{ID: id, Date: date, Amount: amount, Details: VATDetails{}}
}

// Category returns the tag carried by the entry details.
func (e Entry) Category() Category {
	if e.Details == nil {
		return ""
	}
	return e.Details.category()
}

// Description is empty for categories that do not carry one.
func (e Entry) Description() string {
	switch d := e.Details.(type) {
	case SpendingDetails:
		return d.Description
	case ReceivingDetails:
		return d.Description
	}
	return ""
}

// Status returns the spending status, spent when unset. Other categories
// have no status and return the empty value.
func (e Entry) Status() Status {
	d, ok := e.Details.(SpendingDetails)
	if !ok {
		return ""
	}
	if d.Status == "" {
		return StatusSpent
	}
	return d.Status
}

// WithStatus returns a copy with the status replaced. Non-spending entries
// are returned unchanged.
func (e Entry) WithStatus(s Status) Entry {
	if d, ok := e.Details.(SpendingDetails); ok {
		d.Status = s
		e.Details = d
	}
	return e
}

// Validate checks the fields a user must provide before an entry is sent.
func (e Entry) Validate() error {
	if !e.Category().Valid() {
		return ErrInvalidCategory
	}
	if _, err := ParseAnyDate(e.Date); err != nil {
		return err
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	switch d := e.Details.(type) {
	case SpendingDetails:
		if strings.TrimSpace(d.Description) == "" {
			return ErrEmptyDescription
		}
		if len(d.Description) > 200 {
			return errors.New("description too long (max 200 characters)")
		}
		if d.Status != "" && !d.Status.Valid() {
			return ErrInvalidStatus
		}
	case ReceivingDetails:
		if len(d.Description) > 200 {
			return errors.New("description too long (max 200 characters)")
		}
	}
	return nil
}

// Entries returns the list for a category. The slice is shared with l.
func (l Ledger) Entries(c Category) []Entry {
	switch c {
	case Spending:
		return l.Spending
	case Receiving:
		return l.Receiving
	case VATCollected:
		return l.VATCollected
	}
	return nil
}

// WithEntries returns a copy of l whose list for c is replaced by entries.
func (l Ledger) WithEntries(c Category, entries []Entry) Ledger {
	switch c {
	case Spending:
		l.Spending = entries
	case Receiving:
		l.Receiving = entries
	case VATCollected:
		l.VATCollected = entries
	}
	return l
}

// Clone copies every category slice so the result can be modified freely.
func (l Ledger) Clone() Ledger {
	return Ledger{
		Spending:     cloneEntries(l.Spending),
		Receiving:    cloneEntries(l.Receiving),
		VATCollected: cloneEntries(l.VATCollected),
	}
}

// Len counts entries across all categories.
func (l Ledger) Len() int {
	return len(l.Spending) + len(l.Receiving) + len(l.VATCollected)
}

// Find looks up an entry by id within a category.
func (l Ledger) Find(c Category, id string) (Entry, bool) {
	for _, e := range l.Entries(c) {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

func cloneEntries(in []Entry) []Entry {
	if in == nil {
		return nil
	}
	out := make([]Entry, len(in))
	copy(out, in)
	return out
}
