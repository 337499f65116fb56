package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Ledger entities and actions carried by LedgerEvent.
const (
	EntityUser    = "user"
	EntityExpense = "expense"
	EntityEarning = "earning"
	EntityBudget  = "budget"

	ActionCreated = "created"
	ActionUpdated = "updated"
)

// LedgerEvent announces a committed write. It carries only identifiers; the
// consumer reads the full row back from the repository.
type LedgerEvent struct {
	ID        string    `json:"id"`
	Entity    string    `json:"entity"`
	Action    string    `json:"action"`
	EntityID  int64     `json:"entity_id"`
	UserID    int64     `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewLedgerEvent creates an event with a fresh id.
func NewLedgerEvent(entity, action string, entityID, userID int64) *LedgerEvent {
	return &LedgerEvent{
		ID:        uuid.NewString(),
		Entity:    entity,
		Action:    action,
		EntityID:  entityID,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	}
}

// Type returns "<entity>.<action>", e.g. "expense.created".
func (e *LedgerEvent) Type() string {
	return e.Entity + "." + e.Action
}

// ToJSON converts the event to JSON bytes
func (e *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// LedgerEventFromJSON decodes an event and rejects payloads missing the
// fields every consumer relies on.
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var e LedgerEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(e.ID); err != nil {
		return nil, errors.New("ledger event: invalid id")
	}
	if e.Entity == "" || e.Action == "" {
		return nil, errors.New("ledger event: missing entity or action")
	}
	return &e, nil
}
