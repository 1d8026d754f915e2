// Reservation and extension HTTP handlers.
//
//   - POST /reservations                (join a title's waiting list)
//   - GET  /reservations/{id}           (status and queue position)
//   - POST /borrows/{id}/extensions     (ask for a later due date)
//   - POST /extensions/{id}/review      (approve or reject)
//
// The two creating endpoints honor Idempotency-Key.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-circulation-backend/internal/services"
)

// ReserveRequest is the JSON payload for a reservation. Readers reserve for
// themselves; staff name the reader explicitly.
type ReserveRequest struct {
	ISBN     string `json:"isbn"                binding:"required" example:"9780134190440"`
	ReaderID string `json:"reader_id,omitempty" example:"r-2025-0042"`
}

// ExtensionRequestBody is the JSON payload for an extension request.
type ExtensionRequestBody struct {
	Days   int    `json:"days"   binding:"required,min=1,max=90" example:"14"`
	Reason string `json:"reason" binding:"max=255"        example:"field trip"`
}

// ReviewRequest is the JSON payload for reviewing an extension.
type ReviewRequest struct {
	Decision string `json:"decision" binding:"required,oneof=approve reject" example:"approve"`
}

// Reserve godoc
// @ID          reserveTitle
// @Summary     Reserve a title
// @Description Queues the reader for the title. Requires credit >= 90, no copy in stock and no other open reservation.
// @Tags        Reservations
// @Accept      json
// @Produce     json
//
// @Param       X-Actor-ID       header  string  true  "Reader or operator id"         example(r-2025-0042)
// @Param       X-Actor-Role     header  string  true  "reader|circulation|system"     example(reader)
// @Param       Idempotency-Key  header  string  false "Key for safe retries"
// @Param       body             body    handlers.ReserveRequest  true  "Title"
//
// @Success     201  {object}  domain.ReservationRequest
// @Success     200  {object}  domain.ReservationRequest  "Idempotent replay"
// @Failure     400  {object}  handlers.ErrorResponse     "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse     "Credit too low"
// @Failure     404  {object}  handlers.ErrorResponse     "Unknown title or reader"
// @Failure     409  {object}  handlers.ErrorResponse     "Copy in stock or reservation already open"
// @Failure     500  {object}  handlers.ErrorResponse     "Internal error"
// @Router      /reservations [post]
func (h *Handlers) Reserve(c *gin.Context) {
	ctx := c.Request.Context()
	if id, found := h.replayID(c); found {
		if r, err := h.replay.Reservation(ctx, id); err == nil {
			replayed(c, r)
			return
		}
	}

	var req ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "isbn is required")
		return
	}
	caller := identity(c)
	readerID := strings.TrimSpace(req.ReaderID)
	if readerID == "" && caller.Role == services.RoleReader {
		readerID = caller.ActorID
	}
	if readerID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "reader_id is required for staff")
		return
	}

	r, err := h.resv.Enqueue(ctx, caller, readerID, strings.TrimSpace(req.ISBN))
	if err != nil {
		failErr(c, err)
		return
	}
	h.remember(c, r.ID)
	ok(c, http.StatusCreated, r)
}

// GetReservation godoc
// @ID          getReservation
// @Summary     Get a reservation
// @Description Returns the reservation with its 1-based queue position while it is queued.
// @Tags        Reservations
// @Produce     json
//
// @Param       X-Actor-ID    header  string  true  "Reader or operator id"
// @Param       X-Actor-Role  header  string  true  "reader|circulation|system"
// @Param       id            path    int     true  "Reservation id"  minimum(1)
//
// @Success     200  {object}  services.ReservationView
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Not your reservation"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Router      /reservations/{id} [get]
func (h *Handlers) GetReservation(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	v, err := h.resv.Get(c.Request.Context(), identity(c), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, v)
}

// RequestExtension godoc
// @ID          requestExtension
// @Summary     Request a loan extension
// @Description Files a pending extension for an active loan. Requires credit >= 80 and no other pending request on the loan.
// @Tags        Extensions
// @Accept      json
// @Produce     json
//
// @Param       X-Actor-ID       header  string  true  "Reader or operator id"
// @Param       X-Actor-Role     header  string  true  "reader|circulation|system"
// @Param       Idempotency-Key  header  string  false "Key for safe retries"
// @Param       id               path    int     true  "Loan id"  minimum(1)
// @Param       body             body    handlers.ExtensionRequestBody  true  "Days and reason"
//
// @Success     201  {object}  domain.ExtensionRequest
// @Success     200  {object}  domain.ExtensionRequest  "Idempotent replay"
// @Failure     400  {object}  handlers.ErrorResponse   "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse   "Credit too low or not your loan"
// @Failure     404  {object}  handlers.ErrorResponse   "Unknown loan"
// @Failure     409  {object}  handlers.ErrorResponse   "Loan closed or request already pending"
// @Router      /borrows/{id}/extensions [post]
func (h *Handlers) RequestExtension(c *gin.Context) {
	ctx := c.Request.Context()
	borrowID, valid := pathID(c, "id")
	if !valid {
		return
	}
	if id, found := h.replayID(c); found {
		if e, err := h.replay.Extension(ctx, id); err == nil {
			replayed(c, e)
			return
		}
	}

	var req ExtensionRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "days must be a positive integer")
		return
	}

	e, err := h.ext.Request(ctx, identity(c), borrowID, req.Days, strings.TrimSpace(req.Reason))
	if err != nil {
		failErr(c, err)
		return
	}
	h.remember(c, e.ID)
	ok(c, http.StatusCreated, e)
}

// ReviewExtension godoc
// @ID          reviewExtension
// @Summary     Approve or reject an extension
// @Description Approval moves the loan's due date by the requested days.
// @Tags        Extensions
// @Accept      json
// @Produce     json
//
// @Param       X-Actor-ID    header  string  true  "Operator id"
// @Param       X-Actor-Role  header  string  true  "circulation|system"
// @Param       id            path    int     true  "Extension id"  minimum(1)
// @Param       body          body    handlers.ReviewRequest  true  "Decision"
//
// @Success     200  {object}  domain.ExtensionRequest
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown extension"
// @Failure     409  {object}  handlers.ErrorResponse  "Already reviewed"
// @Router      /extensions/{id}/review [post]
func (h *Handlers) ReviewExtension(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "decision must be approve or reject")
		return
	}

	e, err := h.ext.Review(c.Request.Context(), identity(c), id, req.Decision)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, e)
}
