package db

import (
	"time"

	"github.com/google/uuid"
)

// MeterModel is the physical device type of a meter, used by OCR to pick a dial layout
type MeterModel string

const (
	ModelAV3Star MeterModel = "AV3-STAR"
	ModelDorot   MeterModel = "Dorot"
	ModelCicasa  MeterModel = "Cicasa"
	ModelIUSA    MeterModel = "IUSA"
)

// Status is the payment status of a Bill or Prepay
type Status string

const (
	StatusUnpaid Status = "Unpaid"
	StatusPaid   Status = "Paid"
)

// User represents an account holder that can receive push notifications
type User struct {
	ID             uuid.UUID
	Email          string
	Name           string
	InstallationID string
	CreatedAt      time.Time
}

// Meter represents a water meter. Balance is in m3: positive is debt, zero or negative is credit.
type Meter struct {
	AccountNumber string
	Balance       int64
	Model         MeterModel
	// OwnerID is a lookup key, not an owning reference.
	OwnerID   *uuid.UUID
	CreatedAt time.Time
}

// Reading represents an applied OCR reading
type Reading struct {
	ID            uuid.UUID
	AccountNumber string
	TaskName      string
	Measure       int64
	Consumption   int64
	Human         bool
	Timestamp     time.Time
}

// Bill represents a postpay bill issued for a positive balance
type Bill struct {
	ID            uuid.UUID
	AccountNumber string
	Date          time.Time
	Balance       int64
	Amount        float64
	Status        Status
	PaidAt        *time.Time
}

// Prepay represents a prepayment of m3 for a meter with non-positive balance
type Prepay struct {
	ID            uuid.UUID
	AccountNumber string
	Date          time.Time
	Balance       int64
	Prepay        int64
	Amount        float64
	Status        Status
	PaidAt        *time.Time
}
