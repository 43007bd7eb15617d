package main

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// Table names on the remote tabular backend.
const (
	BooksTable      = "my-books"
	ShelvesTable    = "bookshelves"
	MembershipTable = "book_shelves"
)

// Reading statuses the library cares about. Other free-form
// values coming from imports are stored untouched.
const (
	StatusToBeRead         = "tbr"
	StatusCurrentlyReading = "currently-reading"
)

// ShelfList holds the shelf ids a book belongs to. Its decoder tolerates
// a lone scalar (number or numeric string) and coerces it to a one-element
// list, so payloads built by older clients keep working.
type ShelfList []int64

// UnmarshalJSON implements json.Unmarshaler.
func (s *ShelfList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*s = ShelfList{}
		return nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var ids []int64
		if err := json.Unmarshal(data, &ids); err != nil {
			return err
		}
		*s = ids
		return nil
	}

	// lone scalar: bare number or quoted number.
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		id, convErr := n.Int64()
		if convErr != nil {
			return convErr
		}
		*s = ShelfList{id}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return err
	}
	*s = ShelfList{id}
	return nil
}

// Book represents one catalog entry. Bookshelves is a derived view over
// the membership table and is never written to the primary books table.
type Book struct {
	ID                int64     `json:"book_id,omitempty"`
	Title             string    `json:"title,omitempty"`
	Author            string    `json:"author,omitempty"`
	AdditionalAuthors string    `json:"additional_authors,omitempty"`
	Publisher         string    `json:"publisher,omitempty"`
	ISBN              string    `json:"isbn,omitempty"`
	ISBN13            string    `json:"isbn13,omitempty"`
	Binding           string    `json:"binding,omitempty"`
	CoverURL          string    `json:"cover_url,omitempty"`
	NumberOfPages     *int32    `json:"number_of_pages,omitempty"`
	PublicationYear   *int32    `json:"publication_year,omitempty"`
	ReadingStatus     string    `json:"reading_status,omitempty"`
	MyRating          string    `json:"my_rating,omitempty"`
	MyReview          string    `json:"my_review,omitempty"`
	ReadCount         *int16    `json:"read_count,omitempty"`
	OwnedCopies       bool      `json:"owned_copies,omitempty"`
	StartDate         *string   `json:"start_date,omitempty"`
	FinishDate        *string   `json:"finish_date,omitempty"`
	DateAdded         string    `json:"date_added,omitempty"`
	Bookshelves       ShelfList `json:"book_bookshelves"`
}

// Shelf represents a named collection a book can be filed under.
type Shelf struct {
	ID   int64  `json:"id"`
	Name string `json:"shelve"`
}

// ShelfMembership is one row of the book/shelf relation table.
type ShelfMembership struct {
	BookID  int64 `json:"book_id"`
	ShelfID int64 `json:"shelf_id"`
}

// NormalizeISBNs strips whitespace and hyphens from both isbn fields
// before the book reaches the backend or the cover lookup.
func (b *Book) NormalizeISBNs() {
	b.ISBN = normalizeISBN(b.ISBN)
	b.ISBN13 = normalizeISBN(b.ISBN13)
}

func normalizeISBN(isbn string) string {
	isbn = strings.ReplaceAll(isbn, "-", "")
	return strings.Join(strings.Fields(isbn), "")
}

// tableRecord returns the payload destined for the primary books table:
// the book's columns without the backend-owned id and without the derived
// shelf list, which only exists as membership rows. The backend rejects
// unknown columns, so the field has to go entirely, not just be null.
func (b Book) tableRecord() map[string]interface{} {
	b.ID = 0
	raw, _ := json.Marshal(b)
	fields := make(map[string]interface{})
	_ = json.Unmarshal(raw, &fields)
	delete(fields, "book_bookshelves")
	return fields
}

// MembershipRows projects a shelf list into relation-table rows.
func MembershipRows(bookID int64, shelves ShelfList) []ShelfMembership {
	rows := make([]ShelfMembership, 0, len(shelves))
	for _, shelfID := range shelves {
		rows = append(rows, ShelfMembership{BookID: bookID, ShelfID: shelfID})
	}
	return rows
}

// ValidateCreateBookRequestBody is a helper function to check if the content of a book creation request is valid.
func ValidateCreateBookRequestBody(book *Book) error {
	if len(book.Title) == 0 {
		return missingFieldError("title")
	}

	if len(book.Author) == 0 {
		return missingFieldError("author")
	}

	return nil
}

// ValidateUpdateBookRequestBody is a helper function to check if the content of a book update request is valid.
func ValidateUpdateBookRequestBody(book *Book) error {
	return ValidateCreateBookRequestBody(book)
}

// DecodeBookID parses a book id path parameter.
func DecodeBookID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("book id provided is not valid")
	}
	return id, nil
}
