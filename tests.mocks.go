package main

import (
	"context"
	"encoding/json"
	"time"
)

// This file contains mocks definitions needed to perform unit tests.

// MockRecordStore implements RecordStore with overridable behaviors
// and counts the calls made against each operation.
type MockRecordStore struct {
	SelectFunc func(ctx context.Context, q Query) (Result, error)
	InsertFunc func(ctx context.Context, table string, rows interface{}) ([]json.RawMessage, error)
	UpdateFunc func(ctx context.Context, table string, filter Filter, changes interface{}) (json.RawMessage, error)
	DeleteFunc func(ctx context.Context, table string, filter Filter) error

	SelectCalls int
	InsertCalls int
	UpdateCalls int
	DeleteCalls int
}

// Select mocks the behavior of reading rows from a table.
func (m *MockRecordStore) Select(ctx context.Context, q Query) (Result, error) {
	m.SelectCalls++
	return m.SelectFunc(ctx, q)
}

// Insert mocks the behavior of inserting rows into a table.
func (m *MockRecordStore) Insert(ctx context.Context, table string, rows interface{}) ([]json.RawMessage, error) {
	m.InsertCalls++
	return m.InsertFunc(ctx, table, rows)
}

// Update mocks the behavior of patching matched rows of a table.
func (m *MockRecordStore) Update(ctx context.Context, table string, filter Filter, changes interface{}) (json.RawMessage, error) {
	m.UpdateCalls++
	return m.UpdateFunc(ctx, table, filter, changes)
}

// Delete mocks the behavior of deleting matched rows of a table.
func (m *MockRecordStore) Delete(ctx context.Context, table string, filter Filter) error {
	m.DeleteCalls++
	return m.DeleteFunc(ctx, table, filter)
}

// MockQueuer implements a fake Queuer recording every pushed event.
type MockQueuer struct {
	PushFunc func(ctx context.Context, qid string, book Book) error
	Pushed   []string
}

// Push records the target queue and delegates when a behavior is set.
func (m *MockQueuer) Push(ctx context.Context, qid string, book Book) error {
	m.Pushed = append(m.Pushed, qid)
	if m.PushFunc != nil {
		return m.PushFunc(ctx, qid, book)
	}
	return nil
}

// Pop is not exercised by the unit tests.
func (m *MockQueuer) Pop(_ context.Context, qids ...string) (string, Book, error) {
	return qids[0], Book{}, nil
}

// MockAuthorizer implements a fake Authorizer with fixed capabilities.
type MockAuthorizer struct {
	Create, Edit, Delete bool
}

func (m *MockAuthorizer) CanCreate() bool { return m.Create }
func (m *MockAuthorizer) CanEdit() bool   { return m.Edit }
func (m *MockAuthorizer) CanDelete() bool { return m.Delete }

// MockClocker implements a fake Clocker.
type MockClocker struct {
	MockNow time.Time
}

// NewMockClocker returns a mocked instance with fixed time.
func NewMockClocker() *MockClocker {
	return &MockClocker{time.Date(2026, 0o3, 0o1, 0o0, 0o0, 0o0, 0o00000000, time.UTC)}
}

// Now returns an already defined time to be used as mock. This
// equals to `2026-03-01 00:00:00 +0000 UTC` in String format.
func (mck *MockClocker) Now() time.Time {
	return mck.MockNow
}

// MockUIDHandler implements a fake UIDHandler.
type MockUIDHandler struct {
	MockedUID string
	Valid     bool
}

// NewMockUIDHandler returns a mocked instance with predictable id.
func NewMockUIDHandler(id string, valid bool) *MockUIDHandler {
	return &MockUIDHandler{MockedUID: id, Valid: valid}
}

// Generate constructs a predictable id to be used as mock.
func (muid *MockUIDHandler) Generate(prefix string) string {
	return prefix + ":" + muid.MockedUID
}

// IsValid mocks IsValid behavior by providing configured status.
func (muid *MockUIDHandler) IsValid(_, _ string) bool {
	return muid.Valid
}

// MockBookStore implements a fake BookStoreProvider for handlers tests.
type MockBookStore struct {
	ListBooksFunc   func(ctx context.Context, page, pageSize int) error
	SearchBooksFunc func(ctx context.Context, query string) ([]Book, error)
	AddBookFunc     func(ctx context.Context, book Book) (int64, error)
	UpdateBookFunc  func(ctx context.Context, id int64, updates Book) (Book, error)
	DeleteBookFunc  func(ctx context.Context, id int64) error

	MockBooks   []Book
	MockShelves []Shelf
	MockPage    Page
	MockLastErr string
}

func (m *MockBookStore) ListBooks(ctx context.Context, page, pageSize int) error {
	return m.ListBooksFunc(ctx, page, pageSize)
}

func (m *MockBookStore) SearchBooks(ctx context.Context, query string) ([]Book, error) {
	return m.SearchBooksFunc(ctx, query)
}

func (m *MockBookStore) AddBook(ctx context.Context, book Book) (int64, error) {
	return m.AddBookFunc(ctx, book)
}

func (m *MockBookStore) UpdateBook(ctx context.Context, id int64, updates Book) (Book, error) {
	return m.UpdateBookFunc(ctx, id, updates)
}

func (m *MockBookStore) DeleteBook(ctx context.Context, id int64) error {
	return m.DeleteBookFunc(ctx, id)
}

func (m *MockBookStore) ListShelves(_ context.Context) {}

func (m *MockBookStore) Books() []Book { return m.MockBooks }

func (m *MockBookStore) Shelves() []Shelf { return m.MockShelves }

func (m *MockBookStore) Page() Page { return m.MockPage }

func (m *MockBookStore) LastError() string { return m.MockLastErr }

// MockCoverProvider implements a fake CoverProvider.
type MockCoverProvider struct {
	FetchFunc              func(ctx context.Context, book Book) (*Cover, error)
	FetchByISBNFunc        func(ctx context.Context, isbn string) (*Cover, error)
	FetchByTitleAuthorFunc func(ctx context.Context, title, author string) (*Cover, error)
}

func (m *MockCoverProvider) Fetch(ctx context.Context, book Book) (*Cover, error) {
	return m.FetchFunc(ctx, book)
}

func (m *MockCoverProvider) FetchByISBN(ctx context.Context, isbn string) (*Cover, error) {
	return m.FetchByISBNFunc(ctx, isbn)
}

func (m *MockCoverProvider) FetchByTitleAuthor(ctx context.Context, title, author string) (*Cover, error) {
	return m.FetchByTitleAuthorFunc(ctx, title, author)
}
