// Operations HTTP handlers: maintenance jobs and reports.
//
//   - POST /jobs/reservation-expiry  (expire uncollected holds)
//   - POST /jobs/credit-recovery     (monthly +10 credit)
//   - GET  /jobs/runs                (job run history)
//   - GET  /reports/overdue
//   - GET  /reports/damage
//   - GET  /reports/summary
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-circulation-backend/internal/domain"
	"github.com/tbourn/go-circulation-backend/internal/reports"
	"github.com/tbourn/go-circulation-backend/internal/services"
	"github.com/tbourn/go-circulation-backend/internal/utils"
)

// ListJobRunsResponse wraps recent job runs.
type ListJobRunsResponse struct {
	Runs []domain.JobRun `json:"runs"`
}

// OverdueReportResponse wraps the overdue report.
type OverdueReportResponse struct {
	Loans       []reports.OverdueLoan `json:"loans"`
	GeneratedAt time.Time             `json:"generated_at"`
}

// DamageReportResponse wraps the damage report.
type DamageReportResponse struct {
	Entries []reports.DamageRow `json:"entries"`
}

func runOptions(c *gin.Context) services.RunOptions {
	force, _ := strconv.ParseBool(c.Query("force"))
	return services.RunOptions{Trigger: services.TriggerManual, Force: force}
}

// RunReservationExpiry godoc
// @ID          runReservationExpiry
// @Summary     Run the reservation expiry sweep
// @Description Expires allocated holds past their pickup window, releases the copies and charges each reader once.
// @Tags        Jobs
// @Produce     json
//
// @Param       X-Actor-ID    header  string  true  "Operator id"
// @Param       X-Actor-Role  header  string  true  "system"
//
// @Success     200  {object}  services.JobResult
// @Failure     403  {object}  handlers.ErrorResponse  "System role required"
// @Failure     409  {object}  handlers.ErrorResponse  "Job already running"
// @Router      /jobs/reservation-expiry [post]
func (h *Handlers) RunReservationExpiry(c *gin.Context) {
	res, err := h.jobs.ScanReservationExpiry(c.Request.Context(), identity(c), runOptions(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// RunCreditRecovery godoc
// @ID          runCreditRecovery
// @Summary     Run the monthly credit recovery
// @Description Adds 10 credit (capped at 100) to every reader below 100. Runs at most once per calendar month unless force=true.
// @Tags        Jobs
// @Produce     json
//
// @Param       X-Actor-ID    header  string  true   "Operator id"
// @Param       X-Actor-Role  header  string  true   "system"
// @Param       force         query   bool    false  "Run even if it already ran this month"
//
// @Success     200  {object}  services.JobResult
// @Failure     403  {object}  handlers.ErrorResponse  "System role required"
// @Failure     409  {object}  handlers.ErrorResponse  "Job already running"
// @Router      /jobs/credit-recovery [post]
func (h *Handlers) RunCreditRecovery(c *gin.Context) {
	res, err := h.jobs.MonthlyCreditRecovery(c.Request.Context(), identity(c), runOptions(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// ListJobRuns godoc
// @ID          listJobRuns
// @Summary     List recent job runs
// @Tags        Jobs
// @Produce     json
//
// @Param       X-Actor-ID    header  string  true   "Operator id"
// @Param       X-Actor-Role  header  string  true   "system"
// @Param       job           query   string  false  "reservation-expiry|credit-recovery"
// @Param       limit         query   int     false  "Max rows"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListJobRunsResponse
// @Failure     403  {object}  handlers.ErrorResponse  "System role required"
// @Router      /jobs/runs [get]
func (h *Handlers) ListJobRuns(c *gin.Context) {
	runs, err := h.jobs.ListRuns(c.Request.Context(), identity(c), c.Query("job"), utils.IntOr(c.Query("limit"), 0))
	if err != nil {
		failErr(c, err)
		return
	}
	if runs == nil {
		runs = []domain.JobRun{}
	}
	ok(c, http.StatusOK, ListJobRunsResponse{Runs: runs})
}

// OverdueReport godoc
// @ID          overdueReport
// @Summary     Overdue loans
// @Description Active loans past their due date, most overdue first.
// @Tags        Reports
// @Produce     json
//
// @Param       X-Actor-ID    header  string  true   "Operator id"
// @Param       X-Actor-Role  header  string  true   "circulation|system"
// @Param       limit         query   int     false  "Max rows"  minimum(1) maximum(1000) default(100)
//
// @Success     200  {object}  handlers.OverdueReportResponse
// @Router      /reports/overdue [get]
func (h *Handlers) OverdueReport(c *gin.Context) {
	now := h.now()
	rows, err := h.reports.Overdue(c.Request.Context(), now, utils.IntOr(c.Query("limit"), 0))
	if err != nil {
		failErr(c, err)
		return
	}
	if rows == nil {
		rows = []reports.OverdueLoan{}
	}
	ok(c, http.StatusOK, OverdueReportResponse{Loans: rows, GeneratedAt: now})
}

// DamageReport godoc
// @ID          damageReport
// @Summary     Damage log
// @Description Damage log entries, newest first, optionally since an RFC 3339 timestamp.
// @Tags        Reports
// @Produce     json
//
// @Param       X-Actor-ID    header  string  true   "Operator id"
// @Param       X-Actor-Role  header  string  true   "circulation|system"
// @Param       since         query   string  false  "RFC 3339 lower bound"  example(2025-01-01T00:00:00Z)
// @Param       limit         query   int     false  "Max rows"  minimum(1) maximum(1000) default(100)
//
// @Success     200  {object}  handlers.DamageReportResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad since"
// @Router      /reports/damage [get]
func (h *Handlers) DamageReport(c *gin.Context) {
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = t
	}
	rows, err := h.reports.Damage(c.Request.Context(), since, utils.IntOr(c.Query("limit"), 0))
	if err != nil {
		failErr(c, err)
		return
	}
	if rows == nil {
		rows = []reports.DamageRow{}
	}
	ok(c, http.StatusOK, DamageReportResponse{Entries: rows})
}

// SummaryReport godoc
// @ID          summaryReport
// @Summary     Circulation summary
// @Description Copies by status, active and overdue loans, open reservations and reader counts.
// @Tags        Reports
// @Produce     json
//
// @Param       X-Actor-ID    header  string  true  "Operator id"
// @Param       X-Actor-Role  header  string  true  "circulation|system"
//
// @Success     200  {object}  reports.Summary
// @Router      /reports/summary [get]
func (h *Handlers) SummaryReport(c *gin.Context) {
	s, err := h.reports.Summary(c.Request.Context(), h.now())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, s)
}
