package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/water-metering-ledger/internal/db"
	"github.com/septivank/water-metering-ledger/internal/service"
	"github.com/septivank/water-metering-ledger/internal/tasks"
	"go.uber.org/zap"
)

// maxLease caps how many tasks one /tasks/lease call may hand out.
const maxLease = 100

// Ledger is the set of operations the API exposes.
type Ledger interface {
	EnqueueReading(ctx context.Context, accountNumber, image, queue string) (tasks.Task, error)
	CorrelateResult(ctx context.Context, in service.ResultInput) (*service.ResultOutcome, error)
	ListReadings(ctx context.Context, accountNumber string) ([]db.Reading, error)

	IssueBill(ctx context.Context, accountNumber string) (*db.Bill, error)
	PayBill(ctx context.Context, billID uuid.UUID) (*db.Bill, error)
	ImportHistory(ctx context.Context, accountNumber string, history map[string]float64) ([]db.Bill, error)
	ListBills(ctx context.Context, accountNumber, status string) ([]db.Bill, error)

	IssuePrepay(ctx context.Context, accountNumber string, m3 int64) (*db.Prepay, error)
	PayPrepay(ctx context.Context, prepayID uuid.UUID) (*db.Prepay, error)
	PrepayFactor(ctx context.Context, m3 int64) (float64, error)
	ListPrepays(ctx context.Context, accountNumber, status string) ([]db.Prepay, error)

	GetMeter(ctx context.Context, accountNumber string) (*db.Meter, error)
	LeaseTasks(ctx context.Context, queue string, max int, leaseFor time.Duration) ([]tasks.Task, error)
	DeleteTask(ctx context.Context, queue, name string) (bool, error)
}

var _ Ledger = (*service.LedgerService)(nil)

type App struct {
	Ledger  Ledger
	Logger  *zap.Logger
	started time.Time
}

// NewApp creates the handler set over l.
func NewApp(l Ledger, logger *zap.Logger) *App {
	return &App{Ledger: l, Logger: logger, started: time.Now()}
}

// decode reads a POST JSON body into req and answers the error itself when it cannot.
func decode(w http.ResponseWriter, r *http.Request, req any) bool {
	if r.Method != http.MethodPost {
		WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		WriteJSONError(w, http.StatusUnsupportedMediaType, "expected application/json")
		return false
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return false
	}
	return true
}

type accountRequest struct {
	AccountNumber string `json:"account_number"`
}

type listRequest struct {
	AccountNumber string `json:"account_number"`
	Status        string `json:"status"`
}

type enqueueRequest struct {
	AccountNumber string `json:"account_number"`
	Image         string `json:"image"`
	Queue         string `json:"queue"`
}

func (a *App) enqueueReadingHandler(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if !decode(w, r, &req) {
		return
	}
	task, err := a.Ledger.EnqueueReading(r.Context(), req.AccountNumber, req.Image, req.Queue)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK   bool       `json:"ok"`
		Task tasks.Task `json:"task"`
	}{true, task})
}

type resultRequest struct {
	TaskName    string `json:"task_name"`
	TaskPayload string `json:"task_payload"`
	Result      int64  `json:"result"`
	Error       string `json:"error"`
	Human       bool   `json:"human"`
}

type resultResponse struct {
	OK     bool        `json:"ok"`
	Error  string      `json:"error,omitempty"`
	Result *resultView `json:"result,omitempty"`
}

func (a *App) readingResultHandler(w http.ResponseWriter, r *http.Request) {
	var req resultRequest
	if !decode(w, r, &req) {
		return
	}
	if req.TaskName == "" {
		WriteJSONError(w, http.StatusBadRequest, "task_name is required")
		return
	}
	out, err := a.Ledger.CorrelateResult(r.Context(), service.ResultInput{
		TaskName: req.TaskName,
		Payload:  req.TaskPayload,
		Measure:  req.Result,
		Error:    req.Error,
		Human:    req.Human,
	})
	if err != nil {
		// the ledger may have committed before a queue failure, report both
		writeJSON(w, statusFor(err), resultResponse{OK: false, Error: err.Error(), Result: newResultView(out)})
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{OK: true, Result: newResultView(out)})
}

func (a *App) listReadingsHandler(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if !decode(w, r, &req) {
		return
	}
	readings, err := a.Ledger.ListReadings(r.Context(), req.AccountNumber)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]readingView, 0, len(readings))
	for _, rd := range readings {
		views = append(views, newReadingView(rd))
	}
	writeJSON(w, http.StatusOK, struct {
		OK       bool          `json:"ok"`
		Readings []readingView `json:"readings"`
	}{true, views})
}

type billResponse struct {
	OK   bool     `json:"ok"`
	Bill billView `json:"bill"`
}

func (a *App) issueBillHandler(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if !decode(w, r, &req) {
		return
	}
	bill, err := a.Ledger.IssueBill(r.Context(), req.AccountNumber)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, billResponse{true, newBillView(*bill)})
}

func (a *App) payBillHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BillID uuid.UUID `json:"bill_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	bill, err := a.Ledger.PayBill(r.Context(), req.BillID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, billResponse{true, newBillView(*bill)})
}

func (a *App) importBillsHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountNumber string             `json:"account_number"`
		History       map[string]float64 `json:"history"`
	}
	if !decode(w, r, &req) {
		return
	}
	bills, err := a.Ledger.ImportHistory(r.Context(), req.AccountNumber, req.History)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK    bool       `json:"ok"`
		Bills []billView `json:"bills"`
	}{true, newBillViews(bills)})
}

func (a *App) listBillsHandler(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if !decode(w, r, &req) {
		return
	}
	bills, err := a.Ledger.ListBills(r.Context(), req.AccountNumber, req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK    bool       `json:"ok"`
		Bills []billView `json:"bills"`
	}{true, newBillViews(bills)})
}

type prepayResponse struct {
	OK     bool       `json:"ok"`
	Prepay prepayView `json:"prepay"`
	Amount float64    `json:"amount"`
}

func (a *App) issuePrepayHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountNumber string `json:"account_number"`
		Prepay        int64  `json:"prepay"`
	}
	if !decode(w, r, &req) {
		return
	}
	p, err := a.Ledger.IssuePrepay(r.Context(), req.AccountNumber, req.Prepay)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prepayResponse{true, newPrepayView(*p), p.Amount})
}

func (a *App) payPrepayHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PrepayID uuid.UUID `json:"prepay_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	p, err := a.Ledger.PayPrepay(r.Context(), req.PrepayID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prepayResponse{true, newPrepayView(*p), p.Amount})
}

func (a *App) prepayFactorHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		M3 int64 `json:"m3"`
	}
	if !decode(w, r, &req) {
		return
	}
	factor, err := a.Ledger.PrepayFactor(r.Context(), req.M3)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK     bool    `json:"ok"`
		Factor float64 `json:"factor"`
	}{true, factor})
}

func (a *App) listPrepaysHandler(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if !decode(w, r, &req) {
		return
	}
	prepays, err := a.Ledger.ListPrepays(r.Context(), req.AccountNumber, req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]prepayView, 0, len(prepays))
	for _, p := range prepays {
		views = append(views, newPrepayView(p))
	}
	writeJSON(w, http.StatusOK, struct {
		OK      bool         `json:"ok"`
		Prepays []prepayView `json:"prepays"`
	}{true, views})
}

func (a *App) getMeterHandler(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := a.Ledger.GetMeter(r.Context(), req.AccountNumber)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK    bool      `json:"ok"`
		Meter meterView `json:"meter"`
	}{true, newMeterView(m)})
}

func (a *App) leaseTasksHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Queue        string `json:"queue"`
		Max          int    `json:"max"`
		LeaseSeconds int    `json:"lease_seconds"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Max > maxLease {
		req.Max = maxLease
	}
	leased, err := a.Ledger.LeaseTasks(r.Context(), req.Queue, req.Max, time.Duration(req.LeaseSeconds)*time.Second)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK    bool         `json:"ok"`
		Tasks []tasks.Task `json:"tasks"`
	}{true, leased})
}

func (a *App) deleteTaskHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Queue string `json:"queue"`
		Name  string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	deleted, err := a.Ledger.DeleteTask(r.Context(), req.Queue, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK      bool `json:"ok"`
		Deleted bool `json:"deleted"`
	}{true, deleted})
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK     bool   `json:"ok"`
		Uptime string `json:"uptime"`
	}{true, time.Since(a.started).Round(time.Second).String()})
}
