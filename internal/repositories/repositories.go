package repositories

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"libledger/internal/models"
)

type BookRepository interface {
	Create(db *gorm.DB, book *models.Book) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.Book, error)
	GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Book, error)
	Search(db *gorm.DB, query string) ([]models.Book, error)
	Delete(db *gorm.DB, id uuid.UUID) error
}

type ReaderRepository interface {
	Create(db *gorm.DB, reader *models.Reader) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.Reader, error)
	FindByName(db *gorm.DB, name string) (*models.Reader, error)
	List(db *gorm.DB) ([]models.Reader, error)
	Delete(db *gorm.DB, id uuid.UUID) error
}

type TransactionRepository interface {
	Create(db *gorm.DB, txn *models.Transaction) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.Transaction, error)
	CountOpenByBook(db *gorm.DB, bookID uuid.UUID) (int64, error)
	ListOpenByBook(db *gorm.DB, bookID uuid.UUID) ([]models.Transaction, error)
	CountOpenByReader(db *gorm.DB, readerID uuid.UUID) (int64, error)
	MarkReturned(db *gorm.DB, txnID uuid.UUID, returnDate time.Time, fineAmount float64) error
	DeleteByBook(db *gorm.DB, bookID uuid.UUID) error
	DeleteByReader(db *gorm.DB, readerID uuid.UUID) error
	ListRecent(db *gorm.DB, limit int) ([]models.Transaction, error)
	SumFinesByReader(db *gorm.DB, readerID uuid.UUID) (float64, error)
}

// concrete implementations

type bookRepository struct {
	db *gorm.DB
}

func NewBookRepository(db *gorm.DB) BookRepository {
	return &bookRepository{db: db}
}

func (r *bookRepository) Create(db *gorm.DB, book *models.Book) error {
	if db == nil {
		db = r.db
	}
	return db.Create(book).Error
}

func (r *bookRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.Book, error) {
	if db == nil {
		db = r.db
	}
	var book models.Book
	if err := db.First(&book, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

// GetByIDForUpdate locks the book row for the duration of the surrounding
// transaction. Borrow serializes its availability check through this lock.
func (r *bookRepository) GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Book, error) {
	if db == nil {
		db = r.db
	}
	var book models.Book
	err := db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&book, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *bookRepository) Search(db *gorm.DB, query string) ([]models.Book, error) {
	if db == nil {
		db = r.db
	}
	var books []models.Book
	tx := db.Order("created_at")
	if query != "" {
		pattern := "%" + query + "%"
		tx = tx.Where("LOWER(title) LIKE LOWER(?) OR LOWER(author) LIKE LOWER(?)", pattern, pattern)
	}
	if err := tx.Find(&books).Error; err != nil {
		return nil, err
	}
	return books, nil
}

func (r *bookRepository) Delete(db *gorm.DB, id uuid.UUID) error {
	if db == nil {
		db = r.db
	}
	return db.Delete(&models.Book{}, "id = ?", id).Error
}

type readerRepository struct {
	db *gorm.DB
}

func NewReaderRepository(db *gorm.DB) ReaderRepository {
	return &readerRepository{db: db}
}

func (r *readerRepository) Create(db *gorm.DB, reader *models.Reader) error {
	if db == nil {
		db = r.db
	}
	return db.Create(reader).Error
}

func (r *readerRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.Reader, error) {
	if db == nil {
		db = r.db
	}
	var reader models.Reader
	if err := db.First(&reader, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &reader, nil
}

// FindByName matches exactly and case-sensitively.
func (r *readerRepository) FindByName(db *gorm.DB, name string) (*models.Reader, error) {
	if db == nil {
		db = r.db
	}
	var reader models.Reader
	if err := db.First(&reader, "name = ?", name).Error; err != nil {
		return nil, err
	}
	return &reader, nil
}

func (r *readerRepository) List(db *gorm.DB) ([]models.Reader, error) {
	if db == nil {
		db = r.db
	}
	var readers []models.Reader
	if err := db.Order("name").Find(&readers).Error; err != nil {
		return nil, err
	}
	return readers, nil
}

func (r *readerRepository) Delete(db *gorm.DB, id uuid.UUID) error {
	if db == nil {
		db = r.db
	}
	return db.Delete(&models.Reader{}, "id = ?", id).Error
}

type transactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) Create(db *gorm.DB, txn *models.Transaction) error {
	if db == nil {
		db = r.db
	}
	return db.Create(txn).Error
}

func (r *transactionRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.Transaction, error) {
	if db == nil {
		db = r.db
	}
	var txn models.Transaction
	if err := db.First(&txn, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *transactionRepository) CountOpenByBook(db *gorm.DB, bookID uuid.UUID) (int64, error) {
	if db == nil {
		db = r.db
	}
	var count int64
	err := db.Model(&models.Transaction{}).
		Where("book_id = ? AND return_date IS NULL", bookID).
		Count(&count).Error
	return count, err
}

func (r *transactionRepository) ListOpenByBook(db *gorm.DB, bookID uuid.UUID) ([]models.Transaction, error) {
	if db == nil {
		db = r.db
	}
	var txns []models.Transaction
	err := db.
		Where("book_id = ? AND return_date IS NULL", bookID).
		Order("borrow_date").
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *transactionRepository) CountOpenByReader(db *gorm.DB, readerID uuid.UUID) (int64, error) {
	if db == nil {
		db = r.db
	}
	var count int64
	err := db.Model(&models.Transaction{}).
		Where("reader_id = ? AND return_date IS NULL", readerID).
		Count(&count).Error
	return count, err
}

// MarkReturned closes an open transaction. The return_date IS NULL guard makes
// the close a one-way transition even under a racing double return.
func (r *transactionRepository) MarkReturned(db *gorm.DB, txnID uuid.UUID, returnDate time.Time, fineAmount float64) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.Transaction{}).
		Where("id = ? AND return_date IS NULL", txnID).
		Updates(map[string]interface{}{
			"return_date": returnDate,
			"fine_amount": fineAmount,
		}).Error
}

func (r *transactionRepository) DeleteByBook(db *gorm.DB, bookID uuid.UUID) error {
	if db == nil {
		db = r.db
	}
	return db.Delete(&models.Transaction{}, "book_id = ?", bookID).Error
}

func (r *transactionRepository) DeleteByReader(db *gorm.DB, readerID uuid.UUID) error {
	if db == nil {
		db = r.db
	}
	return db.Delete(&models.Transaction{}, "reader_id = ?", readerID).Error
}

func (r *transactionRepository) ListRecent(db *gorm.DB, limit int) ([]models.Transaction, error) {
	if db == nil {
		db = r.db
	}
	var txns []models.Transaction
	err := db.
		Preload("Book").
		Preload("Reader").
		Order("borrow_date DESC").
		Limit(limit).
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *transactionRepository) SumFinesByReader(db *gorm.DB, readerID uuid.UUID) (float64, error) {
	if db == nil {
		db = r.db
	}
	var total float64
	err := db.Model(&models.Transaction{}).
		Where("reader_id = ?", readerID).
		Select("COALESCE(SUM(fine_amount), 0)").
		Scan(&total).Error
	return total, err
}
