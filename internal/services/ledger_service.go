package services

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"libledger/internal/models"
	"libledger/internal/repositories"
)

// ─── Sentinel Errors ──────────────────────────────────────────────────────────

var (
	// ErrValidation is returned for malformed input: blank title/author/name,
	// negative fine rate, quantity below 1, or non-positive loan days.
	ErrValidation = errors.New("validation failed")

	// ErrBookNotFound is returned when the referenced book does not exist.
	ErrBookNotFound = errors.New("book not found")

	// ErrReaderNotFound is returned when the referenced reader does not exist.
	ErrReaderNotFound = errors.New("reader not found")

	// ErrTransactionNotFound is returned when the referenced transaction does not exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrNotBorrowed is returned when a return is attempted on a book with no
	// open transaction.
	ErrNotBorrowed = errors.New("book is not currently borrowed")

	// ErrDuplicateReaderName is returned when a reader with the same name
	// already exists.
	ErrDuplicateReaderName = errors.New("reader name already exists")

	// ErrNoCopiesAvailable is returned when every copy of the book is out.
	ErrNoCopiesAvailable = errors.New("no copies available")

	// ErrReaderHasOpenLoans blocks deletion of a reader who still holds
	// borrowed books.
	ErrReaderHasOpenLoans = errors.New("reader has open loans")

	// ErrAmbiguousReturn is returned when several copies of the book are out
	// and the caller did not say which transaction to close.
	ErrAmbiguousReturn = errors.New("multiple open loans, transaction id required")

	// ErrAlreadyReturned is returned when the named transaction is already closed.
	ErrAlreadyReturned = errors.New("transaction already returned")
)

// ─── View Types ───────────────────────────────────────────────────────────────

// BookAvailability is a catalog row with derived loan state.
type BookAvailability struct {
	models.Book
	OpenCount       int  `json:"open_count"`
	AvailableCopies int  `json:"available_copies"`
	Overdue         bool `json:"overdue"`
}

// ReaderSummary aggregates a reader's open loans and lifetime fine total.
// TotalFines includes fines on already-closed transactions.
type ReaderSummary struct {
	models.Reader
	OpenLoans  int     `json:"open_loans"`
	TotalFines float64 `json:"total_fines"`
}

// ReturnReceipt is handed back to the caller for display after a return.
type ReturnReceipt struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	ReaderName    string    `json:"reader_name"`
	DaysOverdue   int       `json:"days_overdue"`
	FineAmount    float64   `json:"fine_amount"`
}

// ActivityEntry is one row of the recent-activity feed.
type ActivityEntry struct {
	BorrowDate time.Time `json:"borrow_date"`
	BookTitle  string    `json:"book_title"`
	ReaderName string    `json:"reader_name"`
	Status     string    `json:"status"` // "Borrowed" or "Returned"
}

// ─── Service Interface ────────────────────────────────────────────────────────

// LedgerService defines the application-level operations of the lending ledger.
type LedgerService interface {
	AddBook(title, author string, year *int, finePerDay float64, quantity int) (*models.Book, error)
	GetBook(bookID uuid.UUID) (*models.Book, error)
	DeleteBook(bookID uuid.UUID) error
	ListBooks(query string) ([]BookAvailability, error)

	AddReader(name string) (*models.Reader, error)
	FindReaderByName(name string) (*models.Reader, error)
	DeleteReader(readerID uuid.UUID) error
	ReaderSummaries() ([]ReaderSummary, error)

	Borrow(bookID uuid.UUID, readerName string, loanDays int) (*models.Transaction, error)
	Return(bookID uuid.UUID, transactionID *uuid.UUID) (*ReturnReceipt, error)

	RecentActivity(limit int) ([]ActivityEntry, error)
}

// ─── Implementation ───────────────────────────────────────────────────────────

type ledgerService struct {
	db       *gorm.DB
	bookRepo repositories.BookRepository
	readRepo repositories.ReaderRepository
	txnRepo  repositories.TransactionRepository
	now      func() time.Time
}

// Option configures a LedgerService.
type Option func(*ledgerService)

// WithClock replaces the wall clock. Fines are computed at calendar-day
// granularity, so tests pin the clock to exercise overdue math.
func WithClock(now func() time.Time) Option {
	return func(s *ledgerService) {
		s.now = now
	}
}

// NewLedgerService wires up all dependencies and returns a LedgerService.
func NewLedgerService(
	db *gorm.DB,
	bookRepo repositories.BookRepository,
	readRepo repositories.ReaderRepository,
	txnRepo repositories.TransactionRepository,
	opts ...Option,
) LedgerService {
	s := &ledgerService{
		db:       db,
		bookRepo: bookRepo,
		readRepo: readRepo,
		txnRepo:  txnRepo,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ─── Catalog ──────────────────────────────────────────────────────────────────

// AddBook creates a catalog entry. Year is optional; fine rate must be
// non-negative and quantity at least 1.
func (s *ledgerService) AddBook(title, author string, year *int, finePerDay float64, quantity int) (*models.Book, error) {
	title = strings.TrimSpace(title)
	author = strings.TrimSpace(author)
	if title == "" || author == "" {
		return nil, fmt.Errorf("%w: title and author are required", ErrValidation)
	}
	if finePerDay < 0 {
		return nil, fmt.Errorf("%w: fine per day must not be negative", ErrValidation)
	}
	if quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
	}

	book := &models.Book{
		Title:      title,
		Author:     author,
		Year:       year,
		FinePerDay: finePerDay,
		Quantity:   quantity,
	}
	if err := s.bookRepo.Create(nil, book); err != nil {
		log.Printf("[ERROR] AddBook: failed to create book record: %v", err)
		return nil, err
	}
	log.Printf("[INFO] AddBook: created book %q (id=%s) with %d copies", book.Title, book.ID, quantity)
	return book, nil
}

// GetBook returns a single catalog entry.
func (s *ledgerService) GetBook(bookID uuid.UUID) (*models.Book, error) {
	book, err := s.bookRepo.GetByID(nil, bookID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookNotFound
		}
		return nil, err
	}
	return book, nil
}

// DeleteBook removes a book together with its entire transaction history,
// open loans included. This is deliberate: the catalog entry owns its history.
func (s *ledgerService) DeleteBook(bookID uuid.UUID) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.bookRepo.GetByID(tx, bookID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBookNotFound
			}
			return err
		}
		if err := s.txnRepo.DeleteByBook(tx, bookID); err != nil {
			log.Printf("[ERROR] DeleteBook: failed to delete transactions for book %s: %v", bookID, err)
			return err
		}
		if err := s.bookRepo.Delete(tx, bookID); err != nil {
			log.Printf("[ERROR] DeleteBook: failed to delete book %s: %v", bookID, err)
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Printf("[INFO] DeleteBook: deleted book %s and its transaction history", bookID)
	return nil
}

// ListBooks returns catalog rows matching the query (case-insensitive
// substring on title or author; empty matches everything), each with derived
// availability and an overdue flag.
func (s *ledgerService) ListBooks(query string) ([]BookAvailability, error) {
	books, err := s.bookRepo.Search(nil, query)
	if err != nil {
		return nil, err
	}

	today := dateOnly(s.now())
	rows := make([]BookAvailability, 0, len(books))
	for _, book := range books {
		open, err := s.txnRepo.ListOpenByBook(nil, book.ID)
		if err != nil {
			return nil, err
		}
		overdue := false
		for _, t := range open {
			if t.DueDate.Before(today) {
				overdue = true
				break
			}
		}
		rows = append(rows, BookAvailability{
			Book:            book,
			OpenCount:       len(open),
			AvailableCopies: book.Quantity - len(open),
			Overdue:         overdue,
		})
	}
	return rows, nil
}

// ─── Readers ──────────────────────────────────────────────────────────────────

// AddReader registers a reader. Names are trimmed and must be unique
// (case-sensitive exact match).
func (s *ledgerService) AddReader(name string) (*models.Reader, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: reader name is required", ErrValidation)
	}

	reader := &models.Reader{Name: name}
	if err := s.readRepo.Create(nil, reader); err != nil {
		if isUniqueViolation(err) {
			log.Printf("[WARN] AddReader: name %q already exists", name)
			return nil, ErrDuplicateReaderName
		}
		log.Printf("[ERROR] AddReader: failed to create reader %q: %v", name, err)
		return nil, err
	}
	log.Printf("[INFO] AddReader: created reader %q (id=%s)", name, reader.ID)
	return reader, nil
}

// FindReaderByName looks up a reader by exact name.
func (s *ledgerService) FindReaderByName(name string) (*models.Reader, error) {
	reader, err := s.readRepo.FindByName(nil, strings.TrimSpace(name))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReaderNotFound
		}
		return nil, err
	}
	return reader, nil
}

// DeleteReader removes a reader and their transaction history. Unlike
// DeleteBook this is guarded: a reader holding open loans cannot be deleted
// until every loan is returned.
func (s *ledgerService) DeleteReader(readerID uuid.UUID) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.readRepo.GetByID(tx, readerID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrReaderNotFound
			}
			return err
		}
		open, err := s.txnRepo.CountOpenByReader(tx, readerID)
		if err != nil {
			return err
		}
		if open > 0 {
			log.Printf("[WARN] DeleteReader: reader %s has %d open loans, refusing delete", readerID, open)
			return ErrReaderHasOpenLoans
		}
		if err := s.txnRepo.DeleteByReader(tx, readerID); err != nil {
			log.Printf("[ERROR] DeleteReader: failed to delete transactions for reader %s: %v", readerID, err)
			return err
		}
		if err := s.readRepo.Delete(tx, readerID); err != nil {
			log.Printf("[ERROR] DeleteReader: failed to delete reader %s: %v", readerID, err)
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Printf("[INFO] DeleteReader: deleted reader %s and their transaction history", readerID)
	return nil
}

// ReaderSummaries returns every reader with their open-loan count and
// lifetime fine total (fines on closed transactions included).
func (s *ledgerService) ReaderSummaries() ([]ReaderSummary, error) {
	readers, err := s.readRepo.List(nil)
	if err != nil {
		return nil, err
	}
	summaries := make([]ReaderSummary, 0, len(readers))
	for _, reader := range readers {
		open, err := s.txnRepo.CountOpenByReader(nil, reader.ID)
		if err != nil {
			return nil, err
		}
		fines, err := s.txnRepo.SumFinesByReader(nil, reader.ID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, ReaderSummary{
			Reader:     reader,
			OpenLoans:  int(open),
			TotalFines: fines,
		})
	}
	return summaries, nil
}

// ─── Borrow ───────────────────────────────────────────────────────────────────

// Borrow opens a lending transaction.
//
// All steps run in one DB transaction: the book row is locked (SELECT … FOR
// UPDATE), availability is derived as quantity minus open-transaction count,
// the reader is resolved (created on first borrow), and the transaction row
// is inserted. The row lock serializes the read-then-write availability check,
// so the open count can never exceed the copy count.
func (s *ledgerService) Borrow(bookID uuid.UUID, readerName string, loanDays int) (*models.Transaction, error) {
	if loanDays < 1 {
		return nil, fmt.Errorf("%w: loan days must be a positive integer", ErrValidation)
	}
	readerName = strings.TrimSpace(readerName)
	if readerName == "" {
		return nil, fmt.Errorf("%w: reader name is required", ErrValidation)
	}

	var created *models.Transaction

	err := s.db.Transaction(func(tx *gorm.DB) error {
		book, err := s.bookRepo.GetByIDForUpdate(tx, bookID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBookNotFound
			}
			return err
		}

		open, err := s.txnRepo.CountOpenByBook(tx, bookID)
		if err != nil {
			return err
		}
		if book.Quantity-int(open) <= 0 {
			log.Printf("[WARN] Borrow: no copies of book %s available (%d of %d out)", bookID, open, book.Quantity)
			return ErrNoCopiesAvailable
		}

		reader, err := s.getOrCreateReader(tx, readerName)
		if err != nil {
			return err
		}

		borrowDate := dateOnly(s.now())
		txn := &models.Transaction{
			BookID:     book.ID,
			ReaderID:   reader.ID,
			BorrowDate: borrowDate,
			DueDate:    borrowDate.AddDate(0, 0, loanDays),
		}
		if err := s.txnRepo.Create(tx, txn); err != nil {
			log.Printf("[ERROR] Borrow: failed to create transaction: %v", err)
			return err
		}
		created = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] Borrow: book %s borrowed by %q (txn=%s, due %s)",
		bookID, readerName, created.ID, created.DueDate.Format("2006-01-02"))
	return created, nil
}

// ─── Return ───────────────────────────────────────────────────────────────────

// Return closes a lending transaction and computes the overdue fine.
//
// When exactly one copy of the book is out the transaction id may be omitted.
// With several copies out the caller must say which loan is being returned;
// guessing an arbitrary one would close the wrong reader's loan.
func (s *ledgerService) Return(bookID uuid.UUID, transactionID *uuid.UUID) (*ReturnReceipt, error) {
	var receipt *ReturnReceipt

	err := s.db.Transaction(func(tx *gorm.DB) error {
		book, err := s.bookRepo.GetByIDForUpdate(tx, bookID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBookNotFound
			}
			return err
		}

		txn, err := s.resolveOpenTransaction(tx, bookID, transactionID)
		if err != nil {
			return err
		}

		today := dateOnly(s.now())
		daysOverdue := daysBetween(txn.DueDate, today)
		if daysOverdue < 0 {
			daysOverdue = 0
		}
		fine := float64(daysOverdue) * book.FinePerDay

		if err := s.txnRepo.MarkReturned(tx, txn.ID, today, fine); err != nil {
			log.Printf("[ERROR] Return: failed to close transaction %s: %v", txn.ID, err)
			return err
		}

		reader, err := s.readRepo.GetByID(tx, txn.ReaderID)
		if err != nil {
			return err
		}
		receipt = &ReturnReceipt{
			TransactionID: txn.ID,
			ReaderName:    reader.Name,
			DaysOverdue:   daysOverdue,
			FineAmount:    fine,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] Return: book %s returned by %q, %d day(s) overdue, fine=%.2f",
		bookID, receipt.ReaderName, receipt.DaysOverdue, receipt.FineAmount)
	return receipt, nil
}

// resolveOpenTransaction picks the loan to close. An explicit id wins; without
// one there must be exactly one open loan for the book.
func (s *ledgerService) resolveOpenTransaction(tx *gorm.DB, bookID uuid.UUID, transactionID *uuid.UUID) (*models.Transaction, error) {
	if transactionID != nil {
		txn, err := s.txnRepo.GetByID(tx, *transactionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrTransactionNotFound
			}
			return nil, err
		}
		if txn.BookID != bookID {
			return nil, fmt.Errorf("%w: transaction %s does not belong to book %s", ErrValidation, txn.ID, bookID)
		}
		if !txn.Open() {
			return nil, ErrAlreadyReturned
		}
		return txn, nil
	}

	open, err := s.txnRepo.ListOpenByBook(tx, bookID)
	if err != nil {
		return nil, err
	}
	switch len(open) {
	case 0:
		return nil, ErrNotBorrowed
	case 1:
		return &open[0], nil
	default:
		log.Printf("[WARN] Return: book %s has %d open loans, transaction id required", bookID, len(open))
		return nil, ErrAmbiguousReturn
	}
}

// ─── Reporting ────────────────────────────────────────────────────────────────

// DefaultActivityLimit caps the recent-activity feed when the caller does not
// ask for a specific size.
const DefaultActivityLimit = 10

// RecentActivity returns the most recent transactions by borrow date, newest
// first, rendered for display.
func (s *ledgerService) RecentActivity(limit int) ([]ActivityEntry, error) {
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	txns, err := s.txnRepo.ListRecent(nil, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]ActivityEntry, 0, len(txns))
	for _, t := range txns {
		status := "Returned"
		if t.Open() {
			status = "Borrowed"
		}
		entries = append(entries, ActivityEntry{
			BorrowDate: t.BorrowDate,
			BookTitle:  t.Book.Title,
			ReaderName: t.Reader.Name,
			Status:     status,
		})
	}
	return entries, nil
}

// ─── Internal Helpers ─────────────────────────────────────────────────────────

// getOrCreateReader resolves a reader by exact name, registering them on
// first borrow. Runs inside the caller's transaction.
func (s *ledgerService) getOrCreateReader(tx *gorm.DB, name string) (*models.Reader, error) {
	reader, err := s.readRepo.FindByName(tx, name)
	if err == nil {
		return reader, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	reader = &models.Reader{Name: name}
	if err := s.readRepo.Create(tx, reader); err != nil {
		log.Printf("[ERROR] getOrCreateReader: failed to create reader %q: %v", name, err)
		return nil, err
	}
	log.Printf("[INFO] getOrCreateReader: registered new reader %q (id=%s)", name, reader.ID)
	return reader, nil
}

// isUniqueViolation checks for a unique-constraint error. PostgreSQL reports
// SQLSTATE 23505; SQLite (used in tests) reports a UNIQUE constraint message.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "UNIQUE constraint")
}

// ─── Date Arithmetic ──────────────────────────────────────────────────────────

// dateOnly truncates a timestamp to midnight UTC. All ledger dates are
// compared at calendar-day granularity; partial days never count.
func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// daysBetween returns the number of whole calendar days from a to b. Both
// arguments must already be midnight-truncated.
func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}
