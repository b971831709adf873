// Ticket HTTP handlers.
//
// This file exposes the operator dashboard endpoints:
//   - GET  /tickets               (list, paginated, ETag support)
//   - GET  /tickets/{id}          (detail)
//   - GET  /tickets/{id}/messages (history, ETag support)
//   - POST /tickets/{id}/reply    (operator reply, Idempotency-Key support)
//   - POST /tickets/{id}/close    (close)
//   - GET  /stats                 (counters)
//   - GET  /categories            (fixed category set)
//
// Handlers are transport-thin: they validate input, call the ticket engine
// and translate results into HTTP responses. Every engine call reads the
// shared database, so the dashboard sees bot writes on the next request.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-support-desk/internal/domain"
	"github.com/tbourn/go-support-desk/internal/http/middleware"
	"github.com/tbourn/go-support-desk/internal/repo"
	"github.com/tbourn/go-support-desk/internal/services"
	"github.com/tbourn/go-support-desk/internal/utils"
)

// TicketEngine is the subset of *services.TicketService used by the dashboard.
type TicketEngine interface {
	ListTickets(ctx context.Context, f services.TicketFilter) ([]domain.Ticket, int64, error)
	GetTicket(ctx context.Context, id int64) (*domain.Ticket, error)
	GetHistory(ctx context.Context, ticketID int64) ([]domain.Message, error)
	AppendOutboundOnce(ctx context.Context, ticketID int64, operator, text string, rk services.ReplyKey) (*domain.Message, bool, error)
	CloseTicket(ctx context.Context, ticketID int64) (*domain.Ticket, error)
	ComputeStats(ctx context.Context) (*services.Stats, error)
}

var _ TicketEngine = (*services.TicketService)(nil)

// Handlers groups the dashboard endpoints.
//
// DB is optional: without it, ETags and Idempotency-Key replays are off and
// every request goes straight to the engine.
type Handlers struct {
	tickets TicketEngine
	db      *gorm.DB
	idemTTL time.Duration
}

// New returns Handlers bound to the engine. idemTTL is how long a reply's
// Idempotency-Key stays replayable.
func New(tickets TicketEngine, db *gorm.DB, idemTTL time.Duration) *Handlers {
	if idemTTL <= 0 {
		idemTTL = 24 * time.Hour
	}
	return &Handlers{tickets: tickets, db: db, idemTTL: idemTTL}
}

//
// DTOs
//

// ReplyRequest is the JSON payload of an operator reply.
type ReplyRequest struct {
	// Message is the reply text delivered to the user.
	Message string `json:"message" binding:"required" example:"Your withdrawal has been processed."`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListTicketsResponse wraps a page of tickets and pagination information.
type ListTicketsResponse struct {
	Tickets    []domain.Ticket `json:"tickets"`
	Pagination Pagination      `json:"pagination"`
}

// TicketHistoryResponse is a ticket with its full message history.
type TicketHistoryResponse struct {
	Ticket   *domain.Ticket   `json:"ticket"`
	Messages []domain.Message `json:"messages"`
}

// CategoriesResponse lists the fixed support categories.
type CategoriesResponse struct {
	Categories []domain.Category `json:"categories"`
}

//
// Helpers
//

func clampPagination(c *gin.Context) (page, pageSize, offset int) {
	const (
		defaultPageSize = 20
		maxPageSize     = 100
	)
	return utils.ClampPage(
		utils.AtoiDefault(c.Query("page"), 1),
		utils.AtoiDefault(c.Query("page_size"), defaultPageSize),
		maxPageSize,
	)
}

// parseStatus maps the status query parameter; empty means all tickets.
func parseStatus(s string) (domain.TicketStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return "", true
	case string(domain.StatusOpen):
		return domain.StatusOpen, true
	case string(domain.StatusClosed):
		return domain.StatusClosed, true
	}
	return "", false
}

func ticketID(c *gin.Context) (int64, bool) {
	id, valid := utils.ParseID(c.Param("id"))
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "ticket id must be a positive integer")
	}
	return id, valid
}

// notModified sets the ETag and reports whether the client already has it.
func notModified(c *gin.Context, etag string) bool {
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

func unixNano(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixNano()
}

//
// Handlers
//

// ListTickets godoc
// @ID          listTickets
// @Summary     List tickets (paginated)
// @Description Returns tickets ordered by most recent activity. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Tickets
// @Produce     json
//
// @Param       X-Operator-ID  header  string  false "Operator name"               example(alice)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"tickets:open::3:0:1\")
// @Param       status         query   string  false "Ticket status"               Enums(open, closed, all) default(all)
// @Param       category       query   string  false "Category slug or name"       example(withdrawals)
// @Param       page           query   int     false "Page number"                 minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"              minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListTicketsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     503  {object} handlers.ErrorResponse "Store unavailable"
// @Router      /tickets [get]
func (h *Handlers) ListTickets(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize, offset := clampPagination(c)

	status, valid := parseStatus(c.Query("status"))
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "status must be open, closed or all")
		return
	}
	f := services.TicketFilter{Status: status, Offset: offset, Limit: pageSize}
	if raw := strings.TrimSpace(c.Query("category")); raw != "" {
		cat, err := domain.ParseCategory(raw)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown category")
			return
		}
		f.Category = cat.Name
	}

	// ETag pre-check (best effort). Closing a ticket changes no timestamp,
	// so the global open count is part of the tag.
	if h.db != nil {
		count, latest, err := repo.TicketsStats(ctx, h.db, f)
		counts, cerr := repo.CountTicketsByStatus(ctx, h.db)
		if err == nil && cerr == nil {
			etag := fmt.Sprintf(`W/"tickets:%s:%s:%d:%d:%d:%d:%d"`,
				status, f.Category, page, pageSize, count, unixNano(latest), counts.Open)
			if notModified(c, etag) {
				return
			}
		}
	}

	items, total, err := h.tickets.ListTickets(ctx, f)
	if err != nil {
		failErr(c, err)
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListTicketsResponse{
		Tickets: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetTicket godoc
// @ID          getTicket
// @Summary     Get a ticket
// @Tags        Tickets
// @Produce     json
// @Param       id   path  int  true  "Ticket ID"  minimum(1)
// @Success     200  {object} domain.Ticket
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Ticket not found"
// @Failure     503  {object} handlers.ErrorResponse "Store unavailable"
// @Router      /tickets/{id} [get]
func (h *Handlers) GetTicket(c *gin.Context) {
	id, valid := ticketID(c)
	if !valid {
		return
	}
	t, err := h.tickets.GetTicket(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}

// GetTicketMessages godoc
// @ID          getTicketMessages
// @Summary     Ticket history
// @Description Returns the ticket and all of its messages in chronological order. Supports weak ETag via If-None-Match.
// @Tags        Tickets
// @Produce     json
// @Param       id             path    int     true   "Ticket ID"                   minimum(1)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Success     200  {object} handlers.TicketHistoryResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Ticket not found"
// @Failure     503  {object} handlers.ErrorResponse "Store unavailable"
// @Router      /tickets/{id}/messages [get]
func (h *Handlers) GetTicketMessages(c *gin.Context) {
	id, valid := ticketID(c)
	if !valid {
		return
	}
	ctx := c.Request.Context()

	t, err := h.tickets.GetTicket(ctx, id)
	if err != nil {
		failErr(c, err)
		return
	}

	if h.db != nil {
		count, latest, err := repo.MessagesStats(ctx, h.db, id)
		pending, perr := repo.CountPendingOutbound(ctx, h.db, id)
		if err == nil && perr == nil {
			etag := fmt.Sprintf(`W/"messages:%d:%s:%d:%d:%d"`, id, t.Status, count, unixNano(latest), pending)
			if notModified(c, etag) {
				return
			}
		}
	}

	msgs, err := h.tickets.GetHistory(ctx, id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, TicketHistoryResponse{Ticket: t, Messages: msgs})
}

// ReplyTicket godoc
// @ID          replyTicket
// @Summary     Reply to a ticket
// @Description Queues an operator reply for delivery to the user. Only open tickets accept replies.
// @Description Supports safe retries via the Idempotency-Key header (same operator, ticket and key → same message).
// @Tags        Tickets
// @Accept      json
// @Produce     json
//
// @Param       X-Operator-ID    header  string  false "Operator name"                                example(alice)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    int     true  "Ticket ID"                                    minimum(1)
// @Param       body             body    handlers.ReplyRequest  true  "Reply payload"
//
// @Success     201  {object}  domain.Message  "Reply queued"
// @Success     200  {object}  domain.Message  "Idempotent replay"
// @Header      200  {string}  Idempotency-Replayed  "true when the response is a replay"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Ticket not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Ticket is closed"
// @Failure     429  {object}  handlers.ErrorResponse  "Too many requests"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /tickets/{id}/reply [post]
func (h *Handlers) ReplyTicket(c *gin.Context) {
	id, valid := ticketID(c)
	if !valid {
		return
	}
	var req ReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message is required")
		return
	}

	operator := middleware.OperatorFrom(c)
	key, _ := middleware.GetIdempotencyKey(c)
	if h.db == nil {
		key = ""
	}

	m, replayed, err := h.tickets.AppendOutboundOnce(c.Request.Context(), id, operator, req.Message, services.ReplyKey{
		Key:    key,
		TTL:    h.idemTTL,
		Status: http.StatusCreated,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	if replayed {
		c.Header("Idempotency-Replayed", "true")
		ok(c, http.StatusOK, m)
		return
	}
	ok(c, http.StatusCreated, m)
}

// IdempotencyLookup adapts the idempotency table to
// middleware.IdempotencyValidator.
func (h *Handlers) IdempotencyLookup() middleware.IdempotencyLookup {
	return func(ctx context.Context, operator string, ticketID int64, key string, now time.Time) (bool, error) {
		if h.db == nil {
			return false, nil
		}
		_, err := repo.GetIdempotency(ctx, h.db, operator, ticketID, key, now)
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	}
}

// CloseTicket godoc
// @ID          closeTicket
// @Summary     Close a ticket
// @Description Closes the ticket and returns its state. Closing a closed ticket is a no-op. History is kept.
// @Tags        Tickets
// @Produce     json
// @Param       X-Operator-ID  header  string  false "Operator name"  example(alice)
// @Param       id             path    int     true  "Ticket ID"      minimum(1)
// @Success     200  {object} domain.Ticket
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Ticket not found"
// @Failure     503  {object} handlers.ErrorResponse "Store unavailable"
// @Router      /tickets/{id}/close [post]
func (h *Handlers) CloseTicket(c *gin.Context) {
	id, valid := ticketID(c)
	if !valid {
		return
	}
	t, err := h.tickets.CloseTicket(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	middleware.LoggerFrom(c).Info().Int64("ticket_id", t.ID).
		Str("operator", middleware.OperatorFrom(c)).Msg("ticket closed")
	ok(c, http.StatusOK, t)
}

// GetStats godoc
// @ID          getStats
// @Summary     Dashboard counters
// @Description Open and closed ticket totals, distinct users, open tickets per category. Always recomputed.
// @Tags        Stats
// @Produce     json
// @Success     200  {object} services.Stats
// @Failure     503  {object} handlers.ErrorResponse "Store unavailable"
// @Router      /stats [get]
func (h *Handlers) GetStats(c *gin.Context) {
	st, err := h.tickets.ComputeStats(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}

// ListCategories godoc
// @ID          listCategories
// @Summary     Support categories
// @Tags        Stats
// @Produce     json
// @Success     200  {object} handlers.CategoriesResponse
// @Router      /categories [get]
func (h *Handlers) ListCategories(c *gin.Context) {
	ok(c, http.StatusOK, CategoriesResponse{Categories: domain.Categories})
}
