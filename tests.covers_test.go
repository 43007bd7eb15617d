package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestCoverService points a cover service at a fake volumes API,
// rate limiting relaxed so the tests never wait.
func newTestCoverService(t *testing.T, handler http.HandlerFunc) *CoverService {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewCoverService(zap.NewNop(), &CoversConfig{
		BaseURL:           srv.URL,
		RequestTimeout:    5 * time.Second,
		RequestsPerSecond: 1000,
	}, nil)
}

const volumesHit = `{
	"totalItems": 1,
	"items": [{"volumeInfo": {
		"title": "Dune",
		"imageLinks": {
			"thumbnail": "http://books.google.com/books/content?id=B1hSG45JCX4C&zoom=1&edge=curl",
			"smallThumbnail": "http://books.google.com/books/content?id=B1hSG45JCX4C&zoom=5&edge=curl"
		}
	}}]
}`

// Ensure a book carrying its own cover url never reaches the lookup API.
func TestCoverService_Fetch_OwnCoverURL(t *testing.T) {
	calls := 0
	cs := newTestCoverService(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
	})

	cover, err := cs.Fetch(context.TODO(), Book{Title: "Dune", CoverURL: "https://cdn.example/dune.jpg"})
	require.NoError(t, err)
	require.NotNil(t, cover)
	assert.Equal(t, "https://cdn.example/dune.jpg", cover.Thumbnail)
	assert.Equal(t, "https://cdn.example/dune.jpg", cover.Large)
	assert.Zero(t, calls)
}

// Ensure an isbn lookup hits the volumes endpoint and derives the large
// image from the zoom=0 variant.
func TestCoverService_FetchByISBN(t *testing.T) {
	var query string
	cs := newTestCoverService(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("q")
		w.Write([]byte(volumesHit))
	})

	cover, err := cs.FetchByISBN(context.TODO(), "978-0-441-17271-9")
	require.NoError(t, err)
	require.NotNil(t, cover)
	assert.Equal(t, "isbn:9780441172719", query)
	assert.Contains(t, cover.Thumbnail, "zoom=1")
	assert.Contains(t, cover.Large, "zoom=0")
	assert.Contains(t, cover.SmallThumbnail, "zoom=5")

	cover, err = cs.FetchByISBN(context.TODO(), "   ")
	require.NoError(t, err)
	assert.Nil(t, cover, "blank isbn is a silent miss")
}

// Ensure the fallback order walks ISBN-13 first, then ISBN-10, then
// title/author, stopping at the first hit.
func TestCoverService_Fetch_FallbackOrder(t *testing.T) {
	var queries []string
	cs := newTestCoverService(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		queries = append(queries, q)
		if q == "isbn:0441172717" {
			w.Write([]byte(volumesHit))
			return
		}
		w.Write([]byte(`{"totalItems": 0}`))
	})

	cover, err := cs.Fetch(context.TODO(), Book{
		Title:  "Dune",
		Author: "Frank Herbert",
		ISBN:   "0441172717",
		ISBN13: "9780000000000",
	})
	require.NoError(t, err)
	require.NotNil(t, cover)
	assert.Equal(t, []string{"isbn:9780000000000", "isbn:0441172717"}, queries)
}

// Ensure a title query narrows by author and a miss yields nil, nil.
func TestCoverService_FetchByTitleAuthor(t *testing.T) {
	var query string
	cs := newTestCoverService(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("q")
		w.Write([]byte(`{"totalItems": 0}`))
	})

	cover, err := cs.FetchByTitleAuthor(context.TODO(), "Dune", "Frank Herbert")
	require.NoError(t, err)
	assert.Nil(t, cover)
	assert.Equal(t, "Dune inauthor:Frank Herbert", query)

	cover, err = cs.FetchByTitleAuthor(context.TODO(), "", "Frank Herbert")
	require.NoError(t, err)
	assert.Nil(t, cover, "no title means no query at all")
}

// Ensure a failing volumes API surfaces as an error, not a silent miss.
func TestCoverService_LookupFailure(t *testing.T) {
	cs := newTestCoverService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	cover, err := cs.FetchByISBN(context.TODO(), "9780441172719")
	require.Error(t, err)
	assert.Nil(t, cover)
	assert.Contains(t, err.Error(), "429")
}
