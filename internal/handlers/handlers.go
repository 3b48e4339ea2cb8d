package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"libledger/internal/services"
)

type LedgerHandler struct {
	svc services.LedgerService
}

func RegisterRoutes(r *gin.Engine, svc services.LedgerService) {
	h := &LedgerHandler{svc: svc}

	// Catalog
	r.POST("/books", h.addBook)
	r.GET("/books", h.listBooks)
	r.GET("/books/:id", h.getBook)
	r.DELETE("/books/:id", h.deleteBook)

	// Readers
	r.POST("/readers", h.addReader)
	r.GET("/readers", h.readerSummaries)
	r.DELETE("/readers/:id", h.deleteReader)

	// Ledger
	r.POST("/books/:id/borrow", h.borrowBook)
	r.POST("/books/:id/return", h.returnBook)

	// Reporting
	r.GET("/activity", h.recentActivity)
}

// statusFor maps service sentinel errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrBookNotFound),
		errors.Is(err, services.ErrReaderNotFound),
		errors.Is(err, services.ErrTransactionNotFound),
		errors.Is(err, services.ErrNotBorrowed):
		return http.StatusNotFound
	case errors.Is(err, services.ErrDuplicateReaderName),
		errors.Is(err, services.ErrNoCopiesAvailable),
		errors.Is(err, services.ErrReaderHasOpenLoans),
		errors.Is(err, services.ErrAmbiguousReturn),
		errors.Is(err, services.ErrAlreadyReturned):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

type addBookRequest struct {
	Title      string  `json:"title" binding:"required"`
	Author     string  `json:"author" binding:"required"`
	Year       *int    `json:"year"`
	FinePerDay float64 `json:"fine_per_day"`
	Quantity   int     `json:"quantity" binding:"required,min=1"`
}

func (h *LedgerHandler) addBook(c *gin.Context) {
	var req addBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	book, err := h.svc.AddBook(req.Title, req.Author, req.Year, req.FinePerDay, req.Quantity)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, book)
}

func (h *LedgerHandler) listBooks(c *gin.Context) {
	rows, err := h.svc.ListBooks(c.Query("q"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *LedgerHandler) getBook(c *gin.Context) {
	bookID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid book id"})
		return
	}

	book, err := h.svc.GetBook(bookID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func (h *LedgerHandler) deleteBook(c *gin.Context) {
	bookID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid book id"})
		return
	}

	if err := h.svc.DeleteBook(bookID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type addReaderRequest struct {
	Name string `json:"name" binding:"required"`
}

func (h *LedgerHandler) addReader(c *gin.Context) {
	var req addReaderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reader, err := h.svc.AddReader(req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, reader)
}

func (h *LedgerHandler) readerSummaries(c *gin.Context) {
	summaries, err := h.svc.ReaderSummaries()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summaries)
}

func (h *LedgerHandler) deleteReader(c *gin.Context) {
	readerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reader id"})
		return
	}

	if err := h.svc.DeleteReader(readerID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type borrowRequest struct {
	ReaderName string `json:"reader_name" binding:"required"`
	LoanDays   int    `json:"loan_days" binding:"required,min=1"`
}

func (h *LedgerHandler) borrowBook(c *gin.Context) {
	bookID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid book id"})
		return
	}

	var req borrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	txn, err := h.svc.Borrow(bookID, req.ReaderName, req.LoanDays)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, txn)
}

type returnRequest struct {
	// TransactionID is required only when several copies of the book are out.
	TransactionID *string `json:"transaction_id"`
}

func (h *LedgerHandler) returnBook(c *gin.Context) {
	bookID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid book id"})
		return
	}

	// The body is optional: a bare return works while one copy is out.
	var req returnRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	var txnID *uuid.UUID
	if req.TransactionID != nil {
		parsed, err := uuid.Parse(*req.TransactionID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction id"})
			return
		}
		txnID = &parsed
	}

	receipt, err := h.svc.Return(bookID, txnID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (h *LedgerHandler) recentActivity(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	entries, err := h.svc.RecentActivity(limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}
