package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter registers the operation routes and wraps them with request id and logging middleware.
func NewRouter(app *App) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/reading/enqueue", app.enqueueReadingHandler)
	mux.HandleFunc("/reading/result", app.readingResultHandler)
	mux.HandleFunc("/reading/list", app.listReadingsHandler)
	mux.HandleFunc("/bill/issue", app.issueBillHandler)
	mux.HandleFunc("/bill/pay", app.payBillHandler)
	mux.HandleFunc("/bill/import", app.importBillsHandler)
	mux.HandleFunc("/bill/list", app.listBillsHandler)
	mux.HandleFunc("/prepay/issue", app.issuePrepayHandler)
	mux.HandleFunc("/prepay/pay", app.payPrepayHandler)
	mux.HandleFunc("/prepay/factor", app.prepayFactorHandler)
	mux.HandleFunc("/prepay/list", app.listPrepaysHandler)
	mux.HandleFunc("/meter/get", app.getMeterHandler)
	mux.HandleFunc("/tasks/lease", app.leaseTasksHandler)
	mux.HandleFunc("/tasks/delete", app.deleteTaskHandler)
	mux.HandleFunc("/healthz", app.healthHandler)
	mux.Handle("/metrics", promhttp.Handler())
	return WithRequestID(WithLogging(app.Logger, mux))
}
