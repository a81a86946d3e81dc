package amqp

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"fibudget/internal/core"
)

// BudgetSavedMessage announces that the budget figures of one line item were
// replaced. It carries the written values so consumers need no database access.
type BudgetSavedMessage struct {
	LineItemID string         `json:"line_item_id"`
	Version    string         `json:"version"`
	Periods    core.PeriodMap `json:"periods"`
	Timestamp  time.Time      `json:"timestamp"`
}

// NewBudgetSavedMessage creates a message stamped with the current time.
func NewBudgetSavedMessage(lineItemID, version string, periods core.PeriodMap) *BudgetSavedMessage {
	return &BudgetSavedMessage{
		LineItemID: lineItemID,
		Version:    version,
		Periods:    periods,
		Timestamp:  time.Now(),
	}
}

func (m *BudgetSavedMessage) Validate() error {
	if strings.TrimSpace(m.LineItemID) == "" {
		return core.ErrEmptyLineItemID
	}
	for p := range m.Periods {
		if !p.IsValid() {
			return errors.New("invalid period " + string(p))
		}
	}
	return nil
}

// ToJSON converts the message to JSON bytes
func (m *BudgetSavedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// BudgetSavedMessageFromJSON decodes and validates a message.
func BudgetSavedMessageFromJSON(data []byte) (*BudgetSavedMessage, error) {
	var msg BudgetSavedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
