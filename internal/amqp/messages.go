package amqp

import (
	"encoding/json"
	"time"
)

// PayoutSyncMessage asks the mirror worker to append one paid payout.
// It carries only identifiers, the worker fetches the full payout from
// the database.
type PayoutSyncMessage struct {
	ID        int64     `json:"id"`
	RunID     int64     `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewPayoutSyncMessage creates a new payout sync message
func NewPayoutSyncMessage(id, runID int64) *PayoutSyncMessage {
	return &PayoutSyncMessage{
		ID:        id,
		RunID:     runID,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *PayoutSyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// PayoutSyncMessageFromJSON creates a message from JSON bytes
func PayoutSyncMessageFromJSON(data []byte) (*PayoutSyncMessage, error) {
	var msg PayoutSyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// RunCompletedMessage announces a finished schedule generation with
// its headline numbers
type RunCompletedMessage struct {
	RunID            int64     `json:"run_id"`
	Year             int       `json:"year"`
	Month            int       `json:"month"`
	ModelsPaid       int       `json:"models_paid"`
	TotalPayoutCents int64     `json:"total_payout_cents"`
	Currency         string    `json:"currency"`
	Timestamp        time.Time `json:"timestamp"`
}

// NewRunCompletedMessage creates a new run completed message
func NewRunCompletedMessage(runID int64, year, month, modelsPaid int, totalPayoutCents int64, currency string) *RunCompletedMessage {
	return &RunCompletedMessage{
		RunID:            runID,
		Year:             year,
		Month:            month,
		ModelsPaid:       modelsPaid,
		TotalPayoutCents: totalPayoutCents,
		Currency:         currency,
		Timestamp:        time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *RunCompletedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// RunCompletedMessageFromJSON creates a message from JSON bytes
func RunCompletedMessageFromJSON(data []byte) (*RunCompletedMessage, error) {
	var msg RunCompletedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
