package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind doubles as the routing key of a ledger event.
type EventKind string

const (
	AccountCreated EventKind = "account.created"
	AccountUpdated EventKind = "account.updated"
	AccountDeleted EventKind = "account.deleted"
	SpendAdded     EventKind = "spend.added"
	SpendUpdated   EventKind = "spend.updated"
	SpendDeleted   EventKind = "spend.deleted"
)

// AllKinds lists every kind the queue is bound to.
var AllKinds = []EventKind{
	AccountCreated, AccountUpdated, AccountDeleted,
	SpendAdded, SpendUpdated, SpendDeleted,
}

func (k EventKind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// LedgerEvent announces a committed ledger mutation. It carries ids only;
// consumers load current state from the ledger store.
type LedgerEvent struct {
	Kind      EventKind `json:"kind"`
	AccountID int64     `json:"account_id"`
	SpendID   int64     `json:"spend_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewLedgerEvent(kind EventKind, accountID, spendID int64) *LedgerEvent {
	return &LedgerEvent{
		Kind:      kind,
		AccountID: accountID,
		SpendID:   spendID,
		Timestamp: time.Now().UTC(),
	}
}

func (m *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEventFromJSON decodes an event and rejects unknown kinds.
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var msg LedgerEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if !msg.Kind.Valid() {
		return nil, fmt.Errorf("unknown event kind %q", msg.Kind)
	}
	return &msg, nil
}
