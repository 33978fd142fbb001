package mq

import "time"

// Ledger event types, used as routing keys under the events exchange
const (
	EventReadingApplied  = "reading.applied"
	EventReadingRejected = "reading.rejected"
	EventReadingFailed   = "reading.failed"
	EventBillIssued      = "bill.issued"
	EventBillPaid        = "bill.paid"
	EventPrepayIssued    = "prepay.issued"
	EventPrepayPaid      = "prepay.paid"
)

// LedgerEvent is published after a ledger change or pipeline outcome commits
type LedgerEvent struct {
	Type          string    `json:"type"`
	AccountNumber string    `json:"account_number"`
	EntityID      string    `json:"entity_id,omitempty"`
	TaskName      string    `json:"task_name,omitempty"`
	Quantity      int64     `json:"quantity_m3"`
	Amount        float64   `json:"amount,omitempty"`
	Balance       int64     `json:"balance_m3"`
	Flag          string    `json:"flag,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// ResultMessage is an OCR result delivered over AMQP
type ResultMessage struct {
	TaskName    string `json:"task_name"`
	TaskPayload string `json:"task_payload"`
	Result      int64  `json:"result"`
	Error       string `json:"error"`
	Human       bool   `json:"human"`
}
