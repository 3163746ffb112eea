package amqp

import (
	"encoding/json"
	"time"

	"vatledger/internal/core"
)

// EventType names a change to the ledger.
type EventType string

const (
	EventCreated       EventType = "entry.created"
	EventDeleted       EventType = "entry.deleted"
	EventStatusUpdated EventType = "entry.status_updated"
)

// LedgerEvent is published after the backend accepted a write. It carries
// enough to rebuild the change without reading the spreadsheet back.
type LedgerEvent struct {
	Type           EventType   `json:"type"`
	EntryID        string      `json:"entryId"`
	Category       string      `json:"category"`
	Date           string      `json:"date,omitempty"`
	Amount         *core.Money `json:"amount,omitempty"`
	Description    string      `json:"description,omitempty"`
	Status         string      `json:"status,omitempty"`
	PreviousStatus string      `json:"previousStatus,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}

// NewCreatedEvent describes an entry stored under id.
func NewCreatedEvent(id string, e core.Entry) *LedgerEvent {
	amount := e.Amount
	ev := &LedgerEvent{
		Type:        EventCreated,
		EntryID:     id,
		Category:    string(e.Category()),
		Date:        e.Date,
		Amount:      &amount,
		Description: e.Description(),
		Timestamp:   time.Now(),
	}
	if e.Category() == core.Spending {
		ev.Status = string(e.Status())
	}
	return ev
}

func NewDeletedEvent(id string, c core.Category) *LedgerEvent {
	return &LedgerEvent{
		Type:      EventDeleted,
		EntryID:   id,
		Category:  string(c),
		Timestamp: time.Now(),
	}
}

func NewStatusEvent(id string, from, to core.Status) *LedgerEvent {
	return &LedgerEvent{
		Type:           EventStatusUpdated,
		EntryID:        id,
		Category:       string(core.Spending),
		Status:         string(to),
		PreviousStatus: string(from),
		Timestamp:      time.Now(),
	}
}

// ToJSON converts the event to JSON bytes
func (m *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEventFromJSON decodes an event published by ToJSON.
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var msg LedgerEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
