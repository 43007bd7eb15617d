package main

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// BookStoreProvider defines the operations the api layer consumes.
type BookStoreProvider interface {
	ListBooks(ctx context.Context, page, pageSize int) error
	SearchBooks(ctx context.Context, query string) ([]Book, error)
	AddBook(ctx context.Context, book Book) (int64, error)
	UpdateBook(ctx context.Context, id int64, updates Book) (Book, error)
	DeleteBook(ctx context.Context, id int64) error
	ListShelves(ctx context.Context)
	Books() []Book
	Shelves() []Shelf
	Page() Page
	LastError() string
}

// BookStore owns the in-memory page of books and mediates every mutation
// against the record store, keeping each book's shelf list in step with
// the membership table. It assumes a single logical caller: the loading
// flag and the page state are store-wide, not per operation.
type BookStore struct {
	logger  *zap.Logger
	clock   Clocker
	records RecordStore
	queue   Queuer
	auth    Authorizer

	books       []Book
	shelves     []Shelf
	loading     bool
	lastErr     string
	currentPage int
	perPage     int
	total       int
}

// NewBookStore provides a ready to use book store. The queue may be nil
// when no mutation-event mirroring is wanted.
func NewBookStore(logger *zap.Logger, config *Config, clock Clocker, records RecordStore, queue Queuer, auth Authorizer) *BookStore {
	perPage := config.Library.PerPage
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	return &BookStore{
		logger:      logger,
		clock:       clock,
		records:     records,
		queue:       queue,
		auth:        auth,
		books:       []Book{},
		shelves:     []Shelf{},
		currentPage: 1,
		perPage:     perPage,
	}
}

// DefaultPerPage is the page size used when none is configured.
const DefaultPerPage = 16

// Books returns the current page of books.
func (bs *BookStore) Books() []Book {
	out := make([]Book, len(bs.books))
	copy(out, bs.books)
	return out
}

// Shelves returns the cached shelf catalog.
func (bs *BookStore) Shelves() []Shelf {
	out := make([]Shelf, len(bs.shelves))
	copy(out, bs.shelves)
	return out
}

// Loading reports whether an operation is in flight.
func (bs *BookStore) Loading() bool {
	return bs.loading
}

// LastError returns the user-facing message of the last failing primary
// operation. It is cleared at the start of every new attempt.
func (bs *BookStore) LastError() string {
	return bs.lastErr
}

// Page returns the current pagination snapshot.
func (bs *BookStore) Page() Page {
	return NewPage(bs.currentPage, bs.perPage, bs.total)
}

// ListShelves refreshes the shelf catalog, ordered by name. Shelf names
// are supplementary metadata, so a failure here is logged and swallowed.
func (bs *BookStore) ListShelves(ctx context.Context) {
	result, err := bs.records.Select(ctx, Query{Table: ShelvesTable, OrderBy: "shelve"})
	if err != nil {
		bs.logger.Warn("store: failed to load the shelf catalog", zap.Error(err))
		return
	}
	shelves := make([]Shelf, 0, len(result.Rows))
	for _, raw := range result.Rows {
		var shelf Shelf
		if err = json.Unmarshal(raw, &shelf); err != nil {
			bs.logger.Warn("store: failed to decode a shelf row", zap.Error(err))
			return
		}
		shelves = append(shelves, shelf)
	}
	bs.shelves = shelves
}

// enrichWithShelves attaches each book's shelf-id list with one batched
// membership query. It fails open: on any error the input books are
// returned untouched and the failure is logged as a non-fatal diagnostic.
func (bs *BookStore) enrichWithShelves(ctx context.Context, books []Book) []Book {
	if len(books) == 0 {
		return books
	}

	ids := make([]interface{}, 0, len(books))
	for _, b := range books {
		ids = append(ids, b.ID)
	}

	result, err := bs.records.Select(ctx, Query{
		Table:   MembershipTable,
		Filters: []Filter{In("book_id", ids...)},
	})
	if err != nil {
		bs.logger.Warn("store: failed to enrich books with shelves", zap.Error(err))
		return books
	}

	memberships := make([]ShelfMembership, 0, len(result.Rows))
	for _, raw := range result.Rows {
		var m ShelfMembership
		if err = json.Unmarshal(raw, &m); err != nil {
			bs.logger.Warn("store: failed to decode a membership row", zap.Error(err))
			return books
		}
		memberships = append(memberships, m)
	}

	enriched := make([]Book, len(books))
	for i, b := range books {
		shelves := ShelfList{}
		for _, m := range memberships {
			if m.BookID == b.ID {
				shelves = append(shelves, m.ShelfID)
			}
		}
		b.Bookshelves = shelves
		enriched[i] = b
	}
	return enriched
}

// ListBooks loads one page of books ordered by date added, newest first,
// enriches it with shelf lists and pins any currently-reading book to the
// front. Non-positive inputs are coerced to their defaults. On failure the
// in-memory books are left untouched.
func (bs *BookStore) ListBooks(ctx context.Context, page, pageSize int) error {
	bs.lastErr = ""
	bs.loading = true
	defer func() { bs.loading = false }()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = bs.perPage
	}

	result, err := bs.records.Select(ctx, Query{
		Table:      BooksTable,
		OrderBy:    "date_added",
		Descending: true,
		Ranged:     true,
		From:       (page - 1) * pageSize,
		To:         page*pageSize - 1,
		Count:      true,
	})
	if err != nil {
		bs.lastErr = "could not load the books"
		bs.logger.Error("store: failed to list books", zap.Int("page", page), zap.Error(err))
		return err
	}

	books, err := decodeBooks(result.Rows)
	if err != nil {
		bs.lastErr = "could not load the books"
		bs.logger.Error("store: failed to decode books page", zap.Error(err))
		return err
	}

	books = bs.enrichWithShelves(ctx, books)
	bs.books = bs.ReorderCurrentlyReading(books)
	bs.total = result.Total
	bs.currentPage = page
	bs.perPage = pageSize
	return nil
}

// ReorderCurrentlyReading returns a copy of books with the first
// currently-reading entry moved to the front, everything else keeping its
// relative order. Applying it twice equals applying it once.
func (bs *BookStore) ReorderCurrentlyReading(books []Book) []Book {
	out := make([]Book, len(books))
	copy(out, books)
	for i, b := range out {
		if b.ReadingStatus != StatusCurrentlyReading {
			continue
		}
		if i > 0 {
			copy(out[1:i+1], out[:i])
			out[0] = b
		}
		break
	}
	return out
}

// SearchBooks runs a case-insensitive substring match across title,
// author, isbn and isbn13, without pagination. The match set replaces the
// in-memory books. The query string goes through the record store's
// structured filters, so it can never alter the filter expression.
func (bs *BookStore) SearchBooks(ctx context.Context, query string) ([]Book, error) {
	bs.lastErr = ""
	bs.loading = true
	defer func() { bs.loading = false }()

	result, err := bs.records.Select(ctx, Query{
		Table: BooksTable,
		Filters: []Filter{
			ILike("title", query),
			ILike("author", query),
			ILike("isbn", query),
			ILike("isbn13", query),
		},
		MatchAny: true,
	})
	if err != nil {
		bs.lastErr = "could not search the books"
		bs.logger.Error("store: failed to search books", zap.Error(err))
		return nil, err
	}

	books, err := decodeBooks(result.Rows)
	if err != nil {
		bs.lastErr = "could not search the books"
		bs.logger.Error("store: failed to decode search results", zap.Error(err))
		return nil, err
	}

	books = bs.enrichWithShelves(ctx, books)
	bs.books = books
	return books, nil
}

// AddBook inserts a new book and links it to the given shelves, then
// refreshes the current page. The shelf list is stripped from the record
// destined for the primary table. If linking fails after the primary
// insert succeeded, the book row stays behind without its links and the
// error is surfaced; no rollback is attempted.
func (bs *BookStore) AddBook(ctx context.Context, book Book) (int64, error) {
	bs.lastErr = ""
	if !bs.auth.CanCreate() {
		return 0, denied("create books")
	}
	bs.loading = true
	defer func() { bs.loading = false }()

	shelves := book.Bookshelves
	if shelves == nil {
		shelves = ShelfList{}
	}

	record := book
	record.NormalizeISBNs()
	record.DateAdded = bs.clock.Now().UTC().Format(time.RFC3339)

	inserted, err := bs.records.Insert(ctx, BooksTable, []map[string]interface{}{record.tableRecord()})
	if err != nil {
		bs.lastErr = "could not add the book"
		bs.logger.Error("store: failed to insert book", zap.String("book.title", book.Title), zap.Error(err))
		return 0, err
	}
	if len(inserted) == 0 {
		bs.lastErr = "could not add the book"
		return 0, NewRemoteError("insert", BooksTable, 0, "", "backend returned no inserted row", "")
	}

	var created Book
	if err = json.Unmarshal(inserted[0], &created); err != nil {
		bs.lastErr = "could not add the book"
		bs.logger.Error("store: failed to decode inserted book", zap.Error(err))
		return 0, err
	}

	if len(shelves) > 0 {
		if _, err = bs.records.Insert(ctx, MembershipTable, MembershipRows(created.ID, shelves)); err != nil {
			// the book row already exists without its links at this point.
			bs.lastErr = "could not link the book to its shelves"
			bs.logger.Error("store: failed to insert shelf links",
				zap.Int64("book.id", created.ID),
				zap.Int("shelves", len(shelves)),
				zap.Error(err),
			)
			return created.ID, err
		}
	}
	created.Bookshelves = shelves

	bs.pushEvent(ctx, CreateQueue, created)
	_ = bs.ListBooks(ctx, bs.currentPage, bs.perPage)
	return created.ID, nil
}

// UpdateBook patches the primary record and replaces the book's shelf
// links wholesale: all existing membership rows are deleted, then the new
// set is inserted. An empty list therefore clears every membership. A
// failure while clearing is logged and tolerated; a failure while
// inserting the new links is the operation's error.
func (bs *BookStore) UpdateBook(ctx context.Context, id int64, updates Book) (Book, error) {
	bs.lastErr = ""
	if !bs.auth.CanEdit() {
		return Book{}, denied("edit books")
	}
	bs.loading = true
	defer func() { bs.loading = false }()

	shelves := updates.Bookshelves
	if shelves == nil {
		shelves = ShelfList{}
	}

	record := updates
	record.NormalizeISBNs()

	raw, err := bs.records.Update(ctx, BooksTable, Eq("book_id", id), record.tableRecord())
	if err != nil {
		bs.lastErr = "could not update the book"
		bs.logger.Error("store: failed to update book", zap.Int64("book.id", id), zap.Error(err))
		return Book{}, err
	}

	var updated Book
	if err = json.Unmarshal(raw, &updated); err != nil {
		bs.lastErr = "could not update the book"
		bs.logger.Error("store: failed to decode updated book", zap.Int64("book.id", id), zap.Error(err))
		return Book{}, err
	}

	if err = bs.records.Delete(ctx, MembershipTable, Eq("book_id", id)); err != nil {
		// stale membership rows may remain; the insert below still runs.
		bs.logger.Error("store: failed to clear shelf links", zap.Int64("book.id", id), zap.Error(err))
	}

	if len(shelves) > 0 {
		if _, err = bs.records.Insert(ctx, MembershipTable, MembershipRows(id, shelves)); err != nil {
			bs.lastErr = "could not update the book shelves"
			bs.logger.Error("store: failed to insert shelf links", zap.Int64("book.id", id), zap.Error(err))
			return updated, err
		}
	}
	updated.Bookshelves = shelves

	for i := range bs.books {
		if bs.books[i].ID == id {
			bs.books[i] = updated
			break
		}
	}

	bs.pushEvent(ctx, UpdateQueue, updated)
	_ = bs.ListBooks(ctx, bs.currentPage, bs.perPage)
	return updated, nil
}

// DeleteBook removes the primary record and drops the matching entry from
// the in-memory page. Orphaned membership rows are left to the backend's
// cascade rule.
func (bs *BookStore) DeleteBook(ctx context.Context, id int64) error {
	bs.lastErr = ""
	if !bs.auth.CanDelete() {
		return denied("delete books")
	}
	bs.loading = true
	defer func() { bs.loading = false }()

	if err := bs.records.Delete(ctx, BooksTable, Eq("book_id", id)); err != nil {
		bs.lastErr = "could not delete the book"
		bs.logger.Error("store: failed to delete book", zap.Int64("book.id", id), zap.Error(err))
		return err
	}

	kept := make([]Book, 0, len(bs.books))
	for _, b := range bs.books {
		if b.ID != id {
			kept = append(kept, b)
		}
	}
	bs.books = kept

	bs.pushEvent(ctx, DeleteQueue, Book{ID: id})
	_ = bs.ListBooks(ctx, bs.currentPage, bs.perPage)
	return nil
}

// pushEvent mirrors a mutation onto the replica queue. Queue trouble
// never fails the mutation itself.
func (bs *BookStore) pushEvent(ctx context.Context, qid string, book Book) {
	if bs.queue == nil {
		return
	}
	if err := bs.queue.Push(ctx, qid, book); err != nil {
		bs.logger.Error("store: failed to push book event", zap.String("qid", qid), zap.Error(err))
	}
}

func decodeBooks(rows []json.RawMessage) ([]Book, error) {
	books := make([]Book, 0, len(rows))
	for _, raw := range rows {
		var book Book
		if err := json.Unmarshal(raw, &book); err != nil {
			return nil, err
		}
		books = append(books, book)
	}
	return books, nil
}
