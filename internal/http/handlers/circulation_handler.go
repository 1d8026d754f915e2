// Circulation desk HTTP handlers.
//
//   - POST /circulation/borrow       (lend a copy)
//   - POST /circulation/return       (take a copy back)
//   - POST /copies/{barcode}/damage  (retire a copy)
//
// Borrow supports the Idempotency-Key header: a retried request with the same
// key returns the loan created by the first one instead of lending again.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// BorrowRequest is the JSON payload for lending a copy.
type BorrowRequest struct {
	Barcode  string `json:"barcode"   binding:"required" example:"B000123"`
	ReaderID string `json:"reader_id" binding:"required" example:"r-2025-0042"`
}

// ReturnRequest is the JSON payload for returning a copy.
type ReturnRequest struct {
	Barcode string `json:"barcode" binding:"required" example:"B000123"`
}

// DamageRequest is the JSON payload for reporting a damaged copy.
type DamageRequest struct {
	Reason string `json:"reason" binding:"required,max=255" example:"water damage, pages stuck"`
}

// Borrow godoc
// @ID          borrowCopy
// @Summary     Lend a copy to a reader
// @Description Creates an active loan due in 30 days. Credit, tier quota and copy state are checked in that order.
// @Description A held copy can only be lent to the reader it is allocated to; doing so fulfils the reservation.
// @Tags        Circulation
// @Accept      json
// @Produce     json
//
// @Param       X-Actor-ID       header  string  true  "Operator id"          example(desk-1)
// @Param       X-Actor-Role     header  string  true  "circulation|system"   example(circulation)
// @Param       Idempotency-Key  header  string  false "Key for safe retries" example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.BorrowRequest  true  "Copy and reader"
//
// @Success     201  {object}  domain.BorrowRecord
// @Success     200  {object}  domain.BorrowRecord     "Idempotent replay"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Credit or quota violation"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown copy or reader"
// @Failure     409  {object}  handlers.ErrorResponse  "Copy not lendable"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /circulation/borrow [post]
func (h *Handlers) Borrow(c *gin.Context) {
	ctx := c.Request.Context()
	if id, found := h.replayID(c); found {
		if rec, err := h.replay.Borrow(ctx, id); err == nil {
			replayed(c, rec)
			return
		}
	}

	var req BorrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "barcode and reader_id are required")
		return
	}

	rec, err := h.circ.Borrow(ctx, identity(c), strings.TrimSpace(req.Barcode), strings.TrimSpace(req.ReaderID))
	if err != nil {
		failErr(c, err)
		return
	}
	h.remember(c, rec.ID)
	ok(c, http.StatusCreated, rec)
}

// Return godoc
// @ID          returnCopy
// @Summary     Take a copy back
// @Description Closes the active loan. Late returns cost 10 credit. If readers are queued for the title
// @Description the copy goes to the hold shelf for the oldest request, otherwise back to stock.
// @Tags        Circulation
// @Accept      json
// @Produce     json
//
// @Param       X-Actor-ID    header  string  true  "Operator id"         example(desk-1)
// @Param       X-Actor-Role  header  string  true  "circulation|system"  example(circulation)
// @Param       body          body    handlers.ReturnRequest  true  "Copy"
//
// @Success     200  {object}  services.ReturnResult
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown copy"
// @Failure     409  {object}  handlers.ErrorResponse  "Copy not on loan"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /circulation/return [post]
func (h *Handlers) Return(c *gin.Context) {
	var req ReturnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "barcode is required")
		return
	}

	res, err := h.circ.Return(c.Request.Context(), identity(c), strings.TrimSpace(req.Barcode))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// ReportDamage godoc
// @ID          reportDamage
// @Summary     Retire a damaged copy
// @Description Marks the copy Damaged (terminal) and appends a damage log entry. An open loan on the copy is closed.
// @Tags        Circulation
// @Accept      json
// @Produce     json
//
// @Param       X-Actor-ID    header  string  true  "Operator id"         example(desk-1)
// @Param       X-Actor-Role  header  string  true  "circulation|system"  example(circulation)
// @Param       barcode       path    string  true  "Copy barcode"        example(B000123)
// @Param       body          body    handlers.DamageRequest  true  "Reason"
//
// @Success     201  {object}  domain.DamageLogEntry
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown copy"
// @Failure     409  {object}  handlers.ErrorResponse  "Already damaged"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /copies/{barcode}/damage [post]
func (h *Handlers) ReportDamage(c *gin.Context) {
	var req DamageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Reason) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "reason required (1-255 chars)")
		return
	}

	entry, err := h.circ.ReportDamage(c.Request.Context(), identity(c), c.Param("barcode"), strings.TrimSpace(req.Reason))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, entry)
}
