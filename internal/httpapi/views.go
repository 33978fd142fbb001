package httpapi

import (
	"time"

	"github.com/google/uuid"
	"github.com/septivank/water-metering-ledger/internal/db"
	"github.com/septivank/water-metering-ledger/internal/service"
)

type meterView struct {
	AccountNumber string     `json:"account_number"`
	Balance       int64      `json:"balance"`
	Model         string     `json:"model"`
	OwnerID       *uuid.UUID `json:"owner_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func newMeterView(m *db.Meter) meterView {
	return meterView{
		AccountNumber: m.AccountNumber,
		Balance:       m.Balance,
		Model:         string(m.Model),
		OwnerID:       m.OwnerID,
		CreatedAt:     m.CreatedAt,
	}
}

type readingView struct {
	ID          uuid.UUID `json:"id"`
	TaskName    string    `json:"task_name"`
	Measure     int64     `json:"measure"`
	Consumption int64     `json:"consumption"`
	Human       bool      `json:"human"`
	Timestamp   time.Time `json:"timestamp"`
}

func newReadingView(r db.Reading) readingView {
	return readingView{
		ID:          r.ID,
		TaskName:    r.TaskName,
		Measure:     r.Measure,
		Consumption: r.Consumption,
		Human:       r.Human,
		Timestamp:   r.Timestamp,
	}
}

type billView struct {
	ID            uuid.UUID  `json:"id"`
	AccountNumber string     `json:"account_number"`
	Date          time.Time  `json:"date"`
	Balance       int64      `json:"balance"`
	Amount        float64    `json:"amount"`
	Status        string     `json:"status"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
}

func newBillView(b db.Bill) billView {
	return billView{
		ID:            b.ID,
		AccountNumber: b.AccountNumber,
		Date:          b.Date,
		Balance:       b.Balance,
		Amount:        b.Amount,
		Status:        string(b.Status),
		PaidAt:        b.PaidAt,
	}
}

func newBillViews(bills []db.Bill) []billView {
	out := make([]billView, 0, len(bills))
	for _, b := range bills {
		out = append(out, newBillView(b))
	}
	return out
}

type prepayView struct {
	ID            uuid.UUID  `json:"id"`
	AccountNumber string     `json:"account_number"`
	Date          time.Time  `json:"date"`
	Balance       int64      `json:"balance"`
	Prepay        int64      `json:"prepay"`
	Amount        float64    `json:"amount"`
	Status        string     `json:"status"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
}

func newPrepayView(p db.Prepay) prepayView {
	return prepayView{
		ID:            p.ID,
		AccountNumber: p.AccountNumber,
		Date:          p.Date,
		Balance:       p.Balance,
		Prepay:        p.Prepay,
		Amount:        p.Amount,
		Status:        string(p.Status),
		PaidAt:        p.PaidAt,
	}
}

type resultView struct {
	Outcome       string       `json:"outcome"`
	AccountNumber string       `json:"account_number"`
	Image         string       `json:"image"`
	Reading       *readingView `json:"reading,omitempty"`
	Consumption   int64        `json:"consumption"`
	Balance       int64        `json:"balance"`
	Flag          string       `json:"flag,omitempty"`
	Warnings      []string     `json:"warnings,omitempty"`
}

func newResultView(o *service.ResultOutcome) *resultView {
	if o == nil {
		return nil
	}
	v := &resultView{
		Outcome:       string(o.Outcome),
		AccountNumber: o.AccountNumber,
		Image:         o.Image,
		Consumption:   o.Consumption,
		Balance:       o.Balance,
		Flag:          o.Flag,
		Warnings:      o.Warnings,
	}
	if o.Reading != nil {
		r := newReadingView(*o.Reading)
		v.Reading = &r
	}
	return v
}
