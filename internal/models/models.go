package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Book is a catalog entry. Quantity is the total number of physical copies;
// availability is never stored, it is derived from the open transactions
// referencing the book.
type Book struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Title      string    `gorm:"size:255;not null" json:"title"`
	Author     string    `gorm:"size:255;not null" json:"author"`
	Year       *int      `json:"year,omitempty"`
	FinePerDay float64   `gorm:"not null" json:"fine_per_day"`
	Quantity   int       `gorm:"not null;default:1" json:"quantity"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

type Reader struct {
	ID   uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name string    `gorm:"size:255;not null;uniqueIndex" json:"name"`
}

// Transaction is one lending event. ReturnDate nil means the loan is open;
// a closed transaction is never mutated again.
type Transaction struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	BookID     uuid.UUID  `gorm:"type:uuid;not null;index" json:"book_id"`
	Book       Book       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	ReaderID   uuid.UUID  `gorm:"type:uuid;not null;index" json:"reader_id"`
	Reader     Reader     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	BorrowDate time.Time  `gorm:"not null" json:"borrow_date"`
	DueDate    time.Time  `gorm:"not null" json:"due_date"`
	ReturnDate *time.Time `json:"return_date,omitempty"`
	FineAmount float64    `gorm:"not null;default:0" json:"fine_amount"`
}

// Open reports whether the loan has not been returned yet.
func (t *Transaction) Open() bool {
	return t.ReturnDate == nil
}

// IDs are generated application-side so the schema works identically on
// Postgres and the in-memory SQLite used by tests.

func (b *Book) BeforeCreate(*gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

func (r *Reader) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

func (t *Transaction) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// AutoMigrate creates the schema. It is idempotent and meant to run once at
// setup time (tests, or main with AUTO_MIGRATE=1).
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Book{}, &Reader{}, &Transaction{})
}
