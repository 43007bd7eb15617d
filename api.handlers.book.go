package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

// DecodeBookRequestBody checks and parses the request body.
func DecodeBookRequestBody(r *http.Request, book *Book) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(book)
}

// GetBooks serves one page of the library, ordered from newest to oldest addition.
func (api *APIHandler) GetBooks(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	requestID := GetValueFromContext(r.Context(), RequestIDContextKey)
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))

	if err := api.store.ListBooks(r.Context(), page, perPage); err != nil {
		api.logger.Error("failed to get the books", zap.String("request.id", requestID), zap.Error(err))
		WriteErrorResponse(w, NewAPIError(requestID, statusForError(err), "failed to get the books", EmptyData))
		return
	}
	WriteResponse(w, PagedResponse(requestID, http.StatusOK, "books fetched successfully", api.store.Page(), api.store.Books()))
}

// SearchBooks serves all books matching the query on title, author or isbn.
func (api *APIHandler) SearchBooks(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	requestID := GetValueFromContext(r.Context(), RequestIDContextKey)
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		WriteErrorResponse(w, NewAPIError(requestID, http.StatusBadRequest, "query parameter 'q' is required", EmptyData))
		return
	}

	books, err := api.store.SearchBooks(r.Context(), query)
	if err != nil {
		api.logger.Error("failed to search the books", zap.String("request.id", requestID), zap.String("query", query), zap.Error(err))
		WriteErrorResponse(w, NewAPIError(requestID, statusForError(err), "failed to search the books", EmptyData))
		return
	}
	total := len(books)
	WriteResponse(w, GenericResponse(requestID, http.StatusOK, "books searched successfully", &total, books))
}

// CreateBook adds a new book to the library along with its shelf memberships.
func (api *APIHandler) CreateBook(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	requestID := GetValueFromContext(r.Context(), RequestIDContextKey)
	var book Book
	if err := DecodeBookRequestBody(r, &book); err != nil {
		api.logger.Error("failed to parse create book request body", zap.String("request.id", requestID), zap.Error(err))
		WriteErrorResponse(w, NewAPIError(requestID, http.StatusBadRequest, "invalid request body", EmptyData))
		return
	}
	if err := ValidateCreateBookRequestBody(&book); err != nil {
		WriteErrorResponse(w, NewAPIError(requestID, http.StatusBadRequest, err.Error(), EmptyData))
		return
	}

	id, err := api.store.AddBook(r.Context(), book)
	if err != nil {
		api.logger.Error("failed to create the book", zap.String("request.id", requestID), zap.Error(err))
		WriteErrorResponse(w, NewAPIError(requestID, statusForError(err), "failed to create the book", EmptyData))
		return
	}
	WriteResponse(w, GenericResponse(requestID, http.StatusCreated, "book created successfully", nil, map[string]int64{"book_id": id}))
}

// UpdateBook replaces the stored fields of an existing book and its shelves.
func (api *APIHandler) UpdateBook(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	requestID := GetValueFromContext(r.Context(), RequestIDContextKey)
	id, err := DecodeBookID(params.ByName("id"))
	if err != nil {
		WriteErrorResponse(w, NewAPIError(requestID, http.StatusBadRequest, "invalid book id", EmptyData))
		return
	}
	var book Book
	if err := DecodeBookRequestBody(r, &book); err != nil {
		api.logger.Error("failed to parse update book request body", zap.String("request.id", requestID), zap.Error(err))
		WriteErrorResponse(w, NewAPIError(requestID, http.StatusBadRequest, "invalid request body", EmptyData))
		return
	}
	if err := ValidateUpdateBookRequestBody(&book); err != nil {
		WriteErrorResponse(w, NewAPIError(requestID, http.StatusBadRequest, err.Error(), EmptyData))
		return
	}

	updated, err := api.store.UpdateBook(r.Context(), id, book)
	if err != nil {
		api.logger.Error("failed to update the book", zap.String("request.id", requestID), zap.Int64("book.id", id), zap.Error(err))
		WriteErrorResponse(w, NewAPIError(requestID, statusForError(err), "failed to update the book", EmptyData))
		return
	}
	WriteResponse(w, GenericResponse(requestID, http.StatusOK, "book updated successfully", nil, updated))
}

// DeleteBook removes a book from the library.
func (api *APIHandler) DeleteBook(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	requestID := GetValueFromContext(r.Context(), RequestIDContextKey)
	id, err := DecodeBookID(params.ByName("id"))
	if err != nil {
		WriteErrorResponse(w, NewAPIError(requestID, http.StatusBadRequest, "invalid book id", EmptyData))
		return
	}

	if err := api.store.DeleteBook(r.Context(), id); err != nil {
		api.logger.Error("failed to delete the book", zap.String("request.id", requestID), zap.Int64("book.id", id), zap.Error(err))
		WriteErrorResponse(w, NewAPIError(requestID, statusForError(err), "failed to delete the book", EmptyData))
		return
	}
	WriteResponse(w, GenericResponse(requestID, http.StatusOK, "book deleted successfully", nil, EmptyData))
}

// GetBookshelves serves the full list of shelves, ordered by name.
func (api *APIHandler) GetBookshelves(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	requestID := GetValueFromContext(r.Context(), RequestIDContextKey)
	api.store.ListShelves(r.Context())
	shelves := api.store.Shelves()
	total := len(shelves)
	WriteResponse(w, GenericResponse(requestID, http.StatusOK, "bookshelves fetched successfully", &total, shelves))
}

// GetCover looks up cover image urls by isbn or by title and author.
func (api *APIHandler) GetCover(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	requestID := GetValueFromContext(r.Context(), RequestIDContextKey)
	isbn := strings.TrimSpace(r.URL.Query().Get("isbn"))
	title := strings.TrimSpace(r.URL.Query().Get("title"))
	author := strings.TrimSpace(r.URL.Query().Get("author"))

	var cover *Cover
	var err error
	switch {
	case isbn != "":
		cover, err = api.covers.FetchByISBN(r.Context(), normalizeISBN(isbn))
	case title != "":
		cover, err = api.covers.FetchByTitleAuthor(r.Context(), title, author)
	default:
		WriteErrorResponse(w, NewAPIError(requestID, http.StatusBadRequest, "query parameter 'isbn' or 'title' is required", EmptyData))
		return
	}

	if err != nil {
		api.logger.Error("failed to fetch the cover", zap.String("request.id", requestID), zap.Error(err))
		WriteErrorResponse(w, NewAPIError(requestID, http.StatusBadGateway, "failed to fetch the cover", EmptyData))
		return
	}
	if cover == nil {
		WriteErrorResponse(w, NewAPIError(requestID, http.StatusNotFound, "no cover found", EmptyData))
		return
	}
	WriteResponse(w, GenericResponse(requestID, http.StatusOK, "cover fetched successfully", nil, cover))
}
