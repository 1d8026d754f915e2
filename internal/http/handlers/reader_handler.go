// Reader and catalog HTTP handlers.
//
//   - GET  /readers/{reader_id}             (profile with current credit)
//   - GET  /readers/{reader_id}/borrows     (loan history, paginated)
//   - GET  /readers/{reader_id}/credit-log  (ledger, paginated)
//   - POST /readers/{reader_id}/credit      (manual adjustment, system only)
//   - GET  /titles?q=                       (search with availability)
//   - GET  /copies/{barcode}                (copy with damage history)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-circulation-backend/internal/domain"
	"github.com/tbourn/go-circulation-backend/internal/services"
)

// AdjustCreditRequest is the JSON payload for a manual credit change.
type AdjustCreditRequest struct {
	Delta  int    `json:"delta"  binding:"required" example:"-5"`
	Reason string `json:"reason" binding:"required,max=255" example:"lost library card"`
}

// ListBorrowsResponse wraps a page of loans.
type ListBorrowsResponse struct {
	Borrows    []domain.BorrowRecord `json:"borrows"`
	Pagination Pagination            `json:"pagination"`
}

// ListCreditLogResponse wraps a page of ledger entries.
type ListCreditLogResponse struct {
	Entries    []domain.CreditLogEntry `json:"entries"`
	Pagination Pagination              `json:"pagination"`
}

// SearchTitlesResponse wraps a page of search hits. The total is not known
// for ranked queries, so only the page coordinates are echoed.
type SearchTitlesResponse struct {
	Titles   []services.TitleAvailability `json:"titles"`
	Page     int                          `json:"page"`
	PageSize int                          `json:"page_size"`
}

// GetReader godoc
// @ID          getReader
// @Summary     Get a reader
// @Tags        Readers
// @Produce     json
//
// @Param       X-Actor-ID    header  string  true  "Reader or operator id"
// @Param       X-Actor-Role  header  string  true  "reader|circulation|system"
// @Param       reader_id     path    string  true  "Reader id"
//
// @Success     200  {object}  domain.Reader
// @Failure     403  {object}  handlers.ErrorResponse  "Not your record"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown reader"
// @Router      /readers/{reader_id} [get]
func (h *Handlers) GetReader(c *gin.Context) {
	r, err := h.catalog.GetReader(c.Request.Context(), identity(c), c.Param("reader_id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, r)
}

// ListReaderBorrows godoc
// @ID          listReaderBorrows
// @Summary     List a reader's loans (paginated, newest first)
// @Tags        Readers
// @Produce     json
//
// @Param       X-Actor-ID    header  string  true   "Reader or operator id"
// @Param       X-Actor-Role  header  string  true   "reader|circulation|system"
// @Param       reader_id     path    string  true   "Reader id"
// @Param       page          query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size     query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListBorrowsResponse
// @Failure     403  {object}  handlers.ErrorResponse  "Not your record"
// @Router      /readers/{reader_id}/borrows [get]
func (h *Handlers) ListReaderBorrows(c *gin.Context) {
	page, pageSize := clampPagination(c)
	items, total, err := h.catalog.ReaderBorrows(c.Request.Context(), identity(c), c.Param("reader_id"), page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.BorrowRecord{}
	}
	ok(c, http.StatusOK, ListBorrowsResponse{Borrows: items, Pagination: newPagination(page, pageSize, total)})
}

// ListCreditLog godoc
// @ID          listCreditLog
// @Summary     List a reader's credit ledger (paginated, newest first)
// @Tags        Readers
// @Produce     json
//
// @Param       X-Actor-ID    header  string  true   "Reader or operator id"
// @Param       X-Actor-Role  header  string  true   "reader|circulation|system"
// @Param       reader_id     path    string  true   "Reader id"
// @Param       page          query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size     query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListCreditLogResponse
// @Failure     403  {object}  handlers.ErrorResponse  "Not your record"
// @Router      /readers/{reader_id}/credit-log [get]
func (h *Handlers) ListCreditLog(c *gin.Context) {
	page, pageSize := clampPagination(c)
	items, total, err := h.catalog.CreditLog(c.Request.Context(), identity(c), c.Param("reader_id"), page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.CreditLogEntry{}
	}
	ok(c, http.StatusOK, ListCreditLogResponse{Entries: items, Pagination: newPagination(page, pageSize, total)})
}

// AdjustCredit godoc
// @ID          adjustCredit
// @Summary     Adjust a reader's credit
// @Description Applies a clamped delta through the ledger. The log records the delta actually applied.
// @Tags        Readers
// @Accept      json
// @Produce     json
//
// @Param       X-Actor-ID    header  string  true  "Operator id"
// @Param       X-Actor-Role  header  string  true  "system"
// @Param       reader_id     path    string  true  "Reader id"
// @Param       body          body    handlers.AdjustCreditRequest  true  "Delta and reason"
//
// @Success     200  {object}  services.CreditChange
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "System role required"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown reader"
// @Router      /readers/{reader_id}/credit [post]
func (h *Handlers) AdjustCredit(c *gin.Context) {
	var req AdjustCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "non-zero delta and reason are required")
		return
	}
	ch, err := h.ledger.AdjustCredit(c.Request.Context(), identity(c), c.Param("reader_id"), req.Delta, req.Reason)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ch)
}

// SearchTitles godoc
// @ID          searchTitles
// @Summary     Search the catalog
// @Description Case-folded match on title, author, call number and ISBN, ranked by relevance, with copy availability.
// @Tags        Catalog
// @Produce     json
//
// @Param       X-Actor-ID    header  string  true   "Reader or operator id"
// @Param       X-Actor-Role  header  string  true   "reader|circulation|system"
// @Param       q             query   string  false  "Search text"  example(go programming)
// @Param       page          query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size     query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.SearchTitlesResponse
// @Router      /titles [get]
func (h *Handlers) SearchTitles(c *gin.Context) {
	page, pageSize := clampPagination(c)
	hits, err := h.catalog.SearchTitles(c.Request.Context(), strings.TrimSpace(c.Query("q")), page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	if hits == nil {
		hits = []services.TitleAvailability{}
	}
	ok(c, http.StatusOK, SearchTitlesResponse{Titles: hits, Page: page, PageSize: pageSize})
}

// GetCopy godoc
// @ID          getCopy
// @Summary     Get a copy
// @Description Returns the copy's status; damaged copies include their damage history.
// @Tags        Catalog
// @Produce     json
//
// @Param       X-Actor-ID    header  string  true  "Reader or operator id"
// @Param       X-Actor-Role  header  string  true  "reader|circulation|system"
// @Param       barcode       path    string  true  "Copy barcode"
//
// @Success     200  {object}  services.CopyDetail
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown copy"
// @Router      /copies/{barcode} [get]
func (h *Handlers) GetCopy(c *gin.Context) {
	cp, err := h.catalog.GetCopy(c.Request.Context(), c.Param("barcode"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, cp)
}
