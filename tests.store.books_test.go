package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestBookStore builds a book store over the given mocks with an
// all-capabilities authorizer unless one is provided.
func newTestBookStore(records RecordStore, queue Queuer, auth Authorizer) *BookStore {
	if auth == nil {
		auth = &MockAuthorizer{Create: true, Edit: true, Delete: true}
	}
	config := &Config{Library: LibraryConfig{PerPage: 16}}
	return NewBookStore(zap.NewNop(), config, NewMockClocker(), records, queue, auth)
}

func mustRawBooks(t *testing.T, books ...Book) []json.RawMessage {
	t.Helper()
	rows := make([]json.RawMessage, 0, len(books))
	for _, b := range books {
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rows = append(rows, raw)
	}
	return rows
}

func mustRawMemberships(t *testing.T, rows ...ShelfMembership) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(rows))
	for _, m := range rows {
		raw, err := json.Marshal(m)
		require.NoError(t, err)
		out = append(out, raw)
	}
	return out
}

// Ensure a page load is ranged, ordered newest first, enriched with one
// batched membership query and served with the right pagination snapshot.
func TestBookStore_ListBooks(t *testing.T) {
	var booksQuery Query
	records := &MockRecordStore{
		SelectFunc: func(_ context.Context, q Query) (Result, error) {
			switch q.Table {
			case BooksTable:
				booksQuery = q
				return Result{
					Rows: mustRawBooks(t,
						Book{ID: 1, Title: "The Left Hand of Darkness", ReadingStatus: "read"},
						Book{ID: 2, Title: "Piranesi", ReadingStatus: StatusCurrentlyReading},
						Book{ID: 3, Title: "The Dispossessed", ReadingStatus: StatusToBeRead},
					),
					Total: 35,
				}, nil
			case MembershipTable:
				return Result{Rows: mustRawMemberships(t,
					ShelfMembership{BookID: 2, ShelfID: 7},
					ShelfMembership{BookID: 2, ShelfID: 9},
				)}, nil
			}
			t.Fatalf("unexpected table %q", q.Table)
			return Result{}, nil
		},
	}
	bs := newTestBookStore(records, nil, nil)

	err := bs.ListBooks(context.TODO(), 2, 3)
	require.NoError(t, err)

	assert.Equal(t, "date_added", booksQuery.OrderBy)
	assert.True(t, booksQuery.Descending)
	assert.True(t, booksQuery.Count)
	assert.True(t, booksQuery.Ranged)
	assert.Equal(t, 3, booksQuery.From)
	assert.Equal(t, 5, booksQuery.To)
	assert.Equal(t, 2, records.SelectCalls, "one books query plus one membership query")

	books := bs.Books()
	require.Len(t, books, 3)
	assert.Equal(t, "Piranesi", books[0].Title, "currently reading book pinned to front")
	assert.Equal(t, "The Left Hand of Darkness", books[1].Title)
	assert.Equal(t, "The Dispossessed", books[2].Title)
	assert.Equal(t, ShelfList{7, 9}, books[0].Bookshelves)
	assert.Equal(t, ShelfList{}, books[1].Bookshelves, "books without links get an empty list")

	page := bs.Page()
	assert.Equal(t, 2, page.CurrentPage)
	assert.Equal(t, 35, page.Total)
	assert.Equal(t, 12, page.PagesCount)
	require.NotNil(t, page.NextPage)
	assert.Equal(t, 3, *page.NextPage)
	require.NotNil(t, page.PrevPage)
	assert.Equal(t, 1, *page.PrevPage)
	assert.Empty(t, bs.LastError())
	assert.False(t, bs.Loading(), "loading flag dropped once the call returns")
}

// Ensure non-positive paging inputs fall back to the defaults.
func TestBookStore_ListBooks_CoercesPagingInputs(t *testing.T) {
	var booksQuery Query
	records := &MockRecordStore{
		SelectFunc: func(_ context.Context, q Query) (Result, error) {
			booksQuery = q
			return Result{}, nil
		},
	}
	bs := newTestBookStore(records, nil, nil)

	require.NoError(t, bs.ListBooks(context.TODO(), 0, -5))
	assert.Equal(t, 0, booksQuery.From)
	assert.Equal(t, 15, booksQuery.To)
	assert.Equal(t, 1, bs.Page().CurrentPage)
	assert.Equal(t, 16, bs.Page().PerPage)
}

// Ensure an empty page triggers no membership query at all.
func TestBookStore_ListBooks_EmptyPageSkipsEnrichment(t *testing.T) {
	records := &MockRecordStore{
		SelectFunc: func(_ context.Context, q Query) (Result, error) {
			require.Equal(t, BooksTable, q.Table)
			return Result{}, nil
		},
	}
	bs := newTestBookStore(records, nil, nil)

	require.NoError(t, bs.ListBooks(context.TODO(), 1, 16))
	assert.Equal(t, 1, records.SelectCalls)
	assert.Empty(t, bs.Books())
}

// Ensure a failing page load leaves the in-memory books untouched and
// records a user-facing message.
func TestBookStore_ListBooks_Failure(t *testing.T) {
	calls := 0
	records := &MockRecordStore{
		SelectFunc: func(_ context.Context, q Query) (Result, error) {
			calls++
			if calls <= 2 {
				if q.Table == BooksTable {
					return Result{Rows: mustRawBooks(t, Book{ID: 1, Title: "Solaris"}), Total: 1}, nil
				}
				return Result{}, nil
			}
			return Result{}, NewRemoteError("select", BooksTable, 503, "", "backend down", "")
		},
	}
	bs := newTestBookStore(records, nil, nil)
	require.NoError(t, bs.ListBooks(context.TODO(), 1, 16))
	require.Len(t, bs.Books(), 1)

	err := bs.ListBooks(context.TODO(), 2, 16)
	require.Error(t, err)
	var rErr *RemoteError
	require.ErrorAs(t, err, &rErr)
	assert.Equal(t, "could not load the books", bs.LastError())
	assert.Len(t, bs.Books(), 1, "previous page kept on failure")
}

// Ensure a failing membership lookup degrades to books without shelf
// lists instead of failing the page load.
func TestBookStore_ListBooks_EnrichmentFailsOpen(t *testing.T) {
	records := &MockRecordStore{
		SelectFunc: func(_ context.Context, q Query) (Result, error) {
			if q.Table == BooksTable {
				return Result{Rows: mustRawBooks(t, Book{ID: 4, Title: "Annihilation"}), Total: 1}, nil
			}
			return Result{}, NewRemoteError("select", MembershipTable, 500, "", "boom", "")
		},
	}
	bs := newTestBookStore(records, nil, nil)

	err := bs.ListBooks(context.TODO(), 1, 16)
	require.NoError(t, err)
	require.Len(t, bs.Books(), 1)
	assert.Equal(t, ShelfList{}, bs.Books()[0].Bookshelves)
	assert.Empty(t, bs.LastError())
}

// Ensure the reorder pins the first currently-reading book, keeps every
// other book in its relative order and is idempotent.
func TestBookStore_ReorderCurrentlyReading(t *testing.T) {
	bs := newTestBookStore(&MockRecordStore{}, nil, nil)
	books := []Book{
		{ID: 1, Title: "A"},
		{ID: 2, Title: "B", ReadingStatus: StatusCurrentlyReading},
		{ID: 3, Title: "C", ReadingStatus: StatusCurrentlyReading},
		{ID: 4, Title: "D"},
	}

	once := bs.ReorderCurrentlyReading(books)
	require.Len(t, once, 4)
	assert.Equal(t, int64(2), once[0].ID)
	assert.Equal(t, int64(1), once[1].ID)
	assert.Equal(t, int64(3), once[2].ID, "second currently-reading book stays in place")
	assert.Equal(t, int64(4), once[3].ID)

	twice := bs.ReorderCurrentlyReading(once)
	assert.Equal(t, once, twice)

	assert.Equal(t, int64(1), books[0].ID, "input slice left untouched")

	plain := []Book{{ID: 5}, {ID: 6}}
	assert.Equal(t, plain, bs.ReorderCurrentlyReading(plain))
	assert.Empty(t, bs.ReorderCurrentlyReading(nil))
}

// Ensure searching matches any of the four fields case-insensitively and
// replaces the in-memory books.
func TestBookStore_SearchBooks(t *testing.T) {
	var searchQuery Query
	records := &MockRecordStore{
		SelectFunc: func(_ context.Context, q Query) (Result, error) {
			if q.Table == BooksTable {
				searchQuery = q
				return Result{Rows: mustRawBooks(t, Book{ID: 8, Title: "Dune Messiah"}), Total: 1}, nil
			}
			return Result{}, nil
		},
	}
	bs := newTestBookStore(records, nil, nil)

	books, err := bs.SearchBooks(context.TODO(), "dune")
	require.NoError(t, err)
	require.Len(t, books, 1)

	assert.True(t, searchQuery.MatchAny)
	assert.False(t, searchQuery.Ranged)
	require.Len(t, searchQuery.Filters, 4)
	fields := []string{}
	for _, f := range searchQuery.Filters {
		assert.Equal(t, OpILike, f.Op)
		assert.Equal(t, "dune", f.Value)
		fields = append(fields, f.Field)
	}
	assert.ElementsMatch(t, []string{"title", "author", "isbn", "isbn13"}, fields)
	assert.Equal(t, books, bs.Books())
}

func TestBookStore_SearchBooks_Failure(t *testing.T) {
	records := &MockRecordStore{
		SelectFunc: func(_ context.Context, _ Query) (Result, error) {
			return Result{}, NewRemoteError("select", BooksTable, 500, "", "boom", "")
		},
	}
	bs := newTestBookStore(records, nil, nil)

	books, err := bs.SearchBooks(context.TODO(), "dune")
	require.Error(t, err)
	assert.Nil(t, books)
	assert.Equal(t, "could not search the books", bs.LastError())
}

// Ensure adding a book strips the shelf list from the primary record,
// stamps the addition date, links the shelves and mirrors the event.
func TestBookStore_AddBook(t *testing.T) {
	var bookRows []map[string]interface{}
	var membershipRows []ShelfMembership
	records := &MockRecordStore{
		SelectFunc: func(_ context.Context, _ Query) (Result, error) {
			return Result{}, nil
		},
		InsertFunc: func(_ context.Context, table string, rows interface{}) ([]json.RawMessage, error) {
			switch table {
			case BooksTable:
				bookRows = rows.([]map[string]interface{})
				created := make(map[string]interface{}, len(bookRows[0])+1)
				for k, v := range bookRows[0] {
					created[k] = v
				}
				created["book_id"] = 42
				raw, err := json.Marshal(created)
				require.NoError(t, err)
				return []json.RawMessage{raw}, nil
			case MembershipTable:
				membershipRows = rows.([]ShelfMembership)
				return nil, nil
			}
			t.Fatalf("unexpected table %q", table)
			return nil, nil
		},
	}
	queue := &MockQueuer{}
	bs := newTestBookStore(records, queue, nil)

	id, err := bs.AddBook(context.TODO(), Book{
		Title:       "Dune",
		Author:      "Frank Herbert",
		ISBN13:      "978-0-441-17271-9",
		Bookshelves: ShelfList{3, 5},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	require.Len(t, bookRows, 1)
	record := bookRows[0]
	assert.NotContains(t, record, "book_id", "identity left to the backend")
	assert.NotContains(t, record, "book_bookshelves", "shelf list never reaches the books table")
	assert.Equal(t, "9780441172719", record["isbn13"])
	assert.Equal(t, "2026-03-01T00:00:00Z", record["date_added"])

	assert.Equal(t, []ShelfMembership{{BookID: 42, ShelfID: 3}, {BookID: 42, ShelfID: 5}}, membershipRows)
	assert.Equal(t, []string{CreateQueue}, queue.Pushed)
	assert.GreaterOrEqual(t, records.SelectCalls, 1, "current page refreshed after the mutation")
	assert.Empty(t, bs.LastError())
}

// Ensure a read-only role is rejected before any backend call.
func TestBookStore_AddBook_PermissionDenied(t *testing.T) {
	records := &MockRecordStore{}
	bs := newTestBookStore(records, nil, &MockAuthorizer{})

	id, err := bs.AddBook(context.TODO(), Book{Title: "Dune", Author: "Frank Herbert"})
	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.Zero(t, id)
	assert.Zero(t, records.InsertCalls)
	assert.Zero(t, records.SelectCalls)
}

// Ensure a failed shelf linking surfaces the created id with the error.
func TestBookStore_AddBook_LinkFailure(t *testing.T) {
	records := &MockRecordStore{
		InsertFunc: func(_ context.Context, table string, rows interface{}) ([]json.RawMessage, error) {
			if table == BooksTable {
				created := make(map[string]interface{})
				for k, v := range rows.([]map[string]interface{})[0] {
					created[k] = v
				}
				created["book_id"] = 7
				raw, err := json.Marshal(created)
				require.NoError(t, err)
				return []json.RawMessage{raw}, nil
			}
			return nil, NewRemoteError("insert", MembershipTable, 409, "23503", "violates foreign key", "")
		},
	}
	queue := &MockQueuer{}
	bs := newTestBookStore(records, queue, nil)

	id, err := bs.AddBook(context.TODO(), Book{Title: "Dune", Author: "Frank Herbert", Bookshelves: ShelfList{99}})
	require.Error(t, err)
	assert.Equal(t, int64(7), id, "the created id is still reported")
	assert.Equal(t, "could not link the book to its shelves", bs.LastError())
	assert.Empty(t, queue.Pushed, "no event mirrored for a half-done creation")
}

// Ensure updating replaces the shelf links wholesale: clear then insert.
func TestBookStore_UpdateBook(t *testing.T) {
	var deleted []Filter
	var membershipRows []ShelfMembership
	records := &MockRecordStore{
		SelectFunc: func(_ context.Context, _ Query) (Result, error) {
			return Result{}, nil
		},
		UpdateFunc: func(_ context.Context, table string, filter Filter, changes interface{}) (json.RawMessage, error) {
			require.Equal(t, BooksTable, table)
			assert.Equal(t, Eq("book_id", int64(42)), filter)
			record := changes.(map[string]interface{})
			assert.NotContains(t, record, "book_id")
			assert.NotContains(t, record, "book_bookshelves")
			raw, err := json.Marshal(map[string]interface{}{
				"book_id": 42,
				"title":   record["title"],
				"author":  record["author"],
			})
			require.NoError(t, err)
			return raw, nil
		},
		DeleteFunc: func(_ context.Context, table string, filter Filter) error {
			require.Equal(t, MembershipTable, table)
			deleted = append(deleted, filter)
			return nil
		},
		InsertFunc: func(_ context.Context, table string, rows interface{}) ([]json.RawMessage, error) {
			require.Equal(t, MembershipTable, table)
			membershipRows = rows.([]ShelfMembership)
			return nil, nil
		},
	}
	queue := &MockQueuer{}
	bs := newTestBookStore(records, queue, nil)

	updated, err := bs.UpdateBook(context.TODO(), 42, Book{
		Title:       "Dune",
		Author:      "Frank Herbert",
		Bookshelves: ShelfList{5, 8},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), updated.ID)
	assert.Equal(t, ShelfList{5, 8}, updated.Bookshelves)

	require.Len(t, deleted, 1, "existing links cleared exactly once")
	assert.Equal(t, Eq("book_id", int64(42)), deleted[0])
	assert.Equal(t, []ShelfMembership{{BookID: 42, ShelfID: 5}, {BookID: 42, ShelfID: 8}}, membershipRows)
	assert.Equal(t, []string{UpdateQueue}, queue.Pushed)
}

// Ensure an empty shelf list clears every link and inserts none.
func TestBookStore_UpdateBook_EmptyShelves(t *testing.T) {
	records := &MockRecordStore{
		SelectFunc: func(_ context.Context, _ Query) (Result, error) {
			return Result{}, nil
		},
		UpdateFunc: func(_ context.Context, _ string, _ Filter, _ interface{}) (json.RawMessage, error) {
			return json.RawMessage(`{"book_id":42,"title":"Dune"}`), nil
		},
		DeleteFunc: func(_ context.Context, _ string, _ Filter) error {
			return nil
		},
	}
	bs := newTestBookStore(records, nil, nil)

	updated, err := bs.UpdateBook(context.TODO(), 42, Book{Title: "Dune", Author: "Frank Herbert"})
	require.NoError(t, err)
	assert.Equal(t, ShelfList{}, updated.Bookshelves)
	assert.Equal(t, 1, records.DeleteCalls)
	assert.Zero(t, records.InsertCalls)
}

// Ensure a failure while clearing old links is tolerated and the new
// links are still inserted.
func TestBookStore_UpdateBook_ClearFailureTolerated(t *testing.T) {
	records := &MockRecordStore{
		SelectFunc: func(_ context.Context, _ Query) (Result, error) {
			return Result{}, nil
		},
		UpdateFunc: func(_ context.Context, _ string, _ Filter, _ interface{}) (json.RawMessage, error) {
			return json.RawMessage(`{"book_id":42,"title":"Dune"}`), nil
		},
		DeleteFunc: func(_ context.Context, _ string, _ Filter) error {
			return errors.New("clear failed")
		},
		InsertFunc: func(_ context.Context, _ string, _ interface{}) ([]json.RawMessage, error) {
			return nil, nil
		},
	}
	bs := newTestBookStore(records, nil, nil)

	updated, err := bs.UpdateBook(context.TODO(), 42, Book{Title: "Dune", Author: "Frank Herbert", Bookshelves: ShelfList{5}})
	require.NoError(t, err)
	assert.Equal(t, ShelfList{5}, updated.Bookshelves)
	assert.Equal(t, 1, records.InsertCalls)
	assert.Empty(t, bs.LastError())
}

// Ensure an editor role cannot delete while an update on a missing book
// maps to a remote not-found error.
func TestBookStore_UpdateBook_Errors(t *testing.T) {
	records := &MockRecordStore{
		UpdateFunc: func(_ context.Context, _ string, _ Filter, _ interface{}) (json.RawMessage, error) {
			return nil, NewRemoteError("update", BooksTable, 404, "PGRST116", "no row matched the update filter", "")
		},
	}
	bs := newTestBookStore(records, nil, nil)
	_, err := bs.UpdateBook(context.TODO(), 404, Book{Title: "Ghost"})
	var rErr *RemoteError
	require.ErrorAs(t, err, &rErr)
	assert.Equal(t, 404, rErr.Status)
	assert.Equal(t, "could not update the book", bs.LastError())

	bs = newTestBookStore(&MockRecordStore{}, nil, &MockAuthorizer{Create: true, Edit: false})
	_, err = bs.UpdateBook(context.TODO(), 1, Book{Title: "Dune"})
	require.ErrorIs(t, err, ErrPermissionDenied)
}

// Ensure deletion drops the row, trims the in-memory page and mirrors
// the event. Deleting an absent id is not an error.
func TestBookStore_DeleteBook(t *testing.T) {
	records := &MockRecordStore{
		SelectFunc: func(_ context.Context, _ Query) (Result, error) {
			return Result{Rows: mustRawBooks(t, Book{ID: 2, Title: "Kept"}), Total: 1}, nil
		},
		DeleteFunc: func(_ context.Context, table string, filter Filter) error {
			require.Equal(t, BooksTable, table)
			assert.Equal(t, Eq("book_id", int64(1)), filter)
			return nil
		},
	}
	queue := &MockQueuer{}
	bs := newTestBookStore(records, queue, nil)
	bs.books = []Book{{ID: 1, Title: "Doomed"}, {ID: 2, Title: "Kept"}}

	require.NoError(t, bs.DeleteBook(context.TODO(), 1))
	assert.Equal(t, []string{DeleteQueue}, queue.Pushed)

	// absent id: the backend reports zero affected rows, not an error.
	require.NoError(t, bs.DeleteBook(context.TODO(), 999))
}

func TestBookStore_DeleteBook_PermissionDenied(t *testing.T) {
	records := &MockRecordStore{}
	bs := newTestBookStore(records, nil, &MockAuthorizer{Create: true, Edit: true, Delete: false})

	err := bs.DeleteBook(context.TODO(), 1)
	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.Zero(t, records.DeleteCalls)
}

// Ensure the shelf catalog loads ordered by name and a failure keeps the
// previous catalog.
func TestBookStore_ListShelves(t *testing.T) {
	fail := false
	records := &MockRecordStore{
		SelectFunc: func(_ context.Context, q Query) (Result, error) {
			require.Equal(t, ShelvesTable, q.Table)
			assert.Equal(t, "shelve", q.OrderBy)
			if fail {
				return Result{}, errors.New("backend down")
			}
			return Result{Rows: []json.RawMessage{
				json.RawMessage(`{"id":1,"shelve":"fantasy"}`),
				json.RawMessage(`{"id":2,"shelve":"sci-fi"}`),
			}}, nil
		},
	}
	bs := newTestBookStore(records, nil, nil)

	bs.ListShelves(context.TODO())
	require.Len(t, bs.Shelves(), 2)
	assert.Equal(t, Shelf{ID: 1, Name: "fantasy"}, bs.Shelves()[0])

	fail = true
	bs.ListShelves(context.TODO())
	assert.Len(t, bs.Shelves(), 2, "catalog kept on failure")
}
