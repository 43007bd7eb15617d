package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

var _ RecordStore = (*restRecordStore)(nil) // ensure restRecordStore implements RecordStore.

// restRecordStore talks to a PostgREST-compatible tabular backend over
// HTTP: row ranges travel as Range headers, exact counts come back in
// Content-Range and writes ask for their representation back.
type restRecordStore struct {
	logger *zap.Logger
	client *http.Client
	base   string
	apiKey string
	token  string
}

// NewRESTRecordStore provides a record store backed by the configured
// remote tabular backend.
func NewRESTRecordStore(logger *zap.Logger, config *BackendConfig) RecordStore {
	return &restRecordStore{
		logger: logger,
		client: &http.Client{Timeout: config.RequestTimeout},
		base:   strings.TrimRight(config.URL, "/"),
		apiKey: config.APIKey,
		token:  config.ServiceToken,
	}
}

// backendErrorBody is the error document a PostgREST backend returns.
type backendErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (rs *restRecordStore) newRequest(ctx context.Context, method, table, rawQuery string, body io.Reader) (*http.Request, error) {
	endpoint := rs.base + "/" + url.PathEscape(table)
	if rawQuery != "" {
		endpoint += "?" + rawQuery
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if rs.apiKey != "" {
		req.Header.Set("apikey", rs.apiKey)
	}
	if rs.token != "" {
		req.Header.Set("Authorization", "Bearer "+rs.token)
	}
	return req, nil
}

// Select retrieves rows of a single table with optional filters,
// ordering, inclusive row range and exact total count.
func (rs *restRecordStore) Select(ctx context.Context, q Query) (Result, error) {
	params := url.Values{}
	params.Set("select", "*")
	if q.OrderBy != "" {
		direction := "asc"
		if q.Descending {
			direction = "desc"
		}
		params.Set("order", q.OrderBy+"."+direction)
	}
	encodeFilters(params, q.Filters, q.MatchAny)

	req, err := rs.newRequest(ctx, http.MethodGet, q.Table, params.Encode(), nil)
	if err != nil {
		return Result{}, NewRemoteError("select", q.Table, 0, "", "failed to build backend request", err.Error())
	}
	if q.Ranged {
		req.Header.Set("Range-Unit", "items")
		req.Header.Set("Range", fmt.Sprintf("%d-%d", q.From, q.To))
	}
	if q.Count {
		req.Header.Set("Prefer", "count=exact")
	}

	resp, err := rs.client.Do(req)
	if err != nil {
		return Result{}, NewRemoteError("select", q.Table, 0, "", "backend unreachable", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, rs.remoteFailure("select", q.Table, resp)
	}

	var rows []json.RawMessage
	if err = json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return Result{}, NewRemoteError("select", q.Table, resp.StatusCode, "", "invalid backend response", err.Error())
	}

	result := Result{Rows: rows, Total: len(rows)}
	if q.Count {
		result.Total = parseContentRangeTotal(resp.Header.Get("Content-Range"), len(rows))
	}
	return result, nil
}

// Insert writes a batch of rows and returns their stored representation.
func (rs *restRecordStore) Insert(ctx context.Context, table string, rows interface{}) ([]json.RawMessage, error) {
	payload, err := json.Marshal(rows)
	if err != nil {
		return nil, NewRemoteError("insert", table, 0, "", "failed to encode rows", err.Error())
	}
	req, err := rs.newRequest(ctx, http.MethodPost, table, "", bytes.NewReader(payload))
	if err != nil {
		return nil, NewRemoteError("insert", table, 0, "", "failed to build backend request", err.Error())
	}
	req.Header.Set("Prefer", "return=representation")

	resp, err := rs.client.Do(req)
	if err != nil {
		return nil, NewRemoteError("insert", table, 0, "", "backend unreachable", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, rs.remoteFailure("insert", table, resp)
	}

	var inserted []json.RawMessage
	if err = json.NewDecoder(resp.Body).Decode(&inserted); err != nil {
		return nil, NewRemoteError("insert", table, resp.StatusCode, "", "invalid backend response", err.Error())
	}
	return inserted, nil
}

// Update patches the rows matching an equality filter and returns the
// updated row. Matching no row at all is reported as a failure, the same
// way a single-row fetch behaves on the backend.
func (rs *restRecordStore) Update(ctx context.Context, table string, filter Filter, changes interface{}) (json.RawMessage, error) {
	payload, err := json.Marshal(changes)
	if err != nil {
		return nil, NewRemoteError("update", table, 0, "", "failed to encode changes", err.Error())
	}
	params := url.Values{}
	encodeFilters(params, []Filter{filter}, false)

	req, err := rs.newRequest(ctx, http.MethodPatch, table, params.Encode(), bytes.NewReader(payload))
	if err != nil {
		return nil, NewRemoteError("update", table, 0, "", "failed to build backend request", err.Error())
	}
	req.Header.Set("Prefer", "return=representation")

	resp, err := rs.client.Do(req)
	if err != nil {
		return nil, NewRemoteError("update", table, 0, "", "backend unreachable", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, rs.remoteFailure("update", table, resp)
	}

	var updated []json.RawMessage
	if err = json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		return nil, NewRemoteError("update", table, resp.StatusCode, "", "invalid backend response", err.Error())
	}
	if len(updated) == 0 {
		return nil, NewRemoteError("update", table, http.StatusNotFound, "PGRST116", "no row matched the update filter", "")
	}
	return updated[0], nil
}

// Delete removes the rows matching an equality filter. Deleting zero
// rows is not an error.
func (rs *restRecordStore) Delete(ctx context.Context, table string, filter Filter) error {
	params := url.Values{}
	encodeFilters(params, []Filter{filter}, false)

	req, err := rs.newRequest(ctx, http.MethodDelete, table, params.Encode(), nil)
	if err != nil {
		return NewRemoteError("delete", table, 0, "", "failed to build backend request", err.Error())
	}
	resp, err := rs.client.Do(req)
	if err != nil {
		return NewRemoteError("delete", table, 0, "", "backend unreachable", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return rs.remoteFailure("delete", table, resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// remoteFailure builds a RemoteError out of a non-2xx backend response
// and logs the full diagnostic detail.
func (rs *restRecordStore) remoteFailure(op, table string, resp *http.Response) error {
	var body backendErrorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	_ = json.Unmarshal(raw, &body)
	if body.Message == "" {
		body.Message = http.StatusText(resp.StatusCode)
	}
	rErr := NewRemoteError(op, table, resp.StatusCode, body.Code, body.Message, body.Details)
	rs.logger.Error("record store call failed",
		zap.String("store.op", op),
		zap.String("store.table", table),
		zap.Int("store.status", resp.StatusCode),
		zap.String("store.code", body.Code),
		zap.String("store.detail", body.Details),
		zap.String("store.hint", body.Hint),
	)
	return rErr
}

// encodeFilters translates structured filters into the backend's query
// string syntax. All values pass through escaping here, so user input can
// never change the meaning of a filter expression.
func encodeFilters(params url.Values, filters []Filter, matchAny bool) {
	if len(filters) == 0 {
		return
	}
	if matchAny {
		parts := make([]string, 0, len(filters))
		for _, f := range filters {
			parts = append(parts, f.Field+"."+f.Op+"."+filterOperand(f))
		}
		params.Set("or", "("+strings.Join(parts, ",")+")")
		return
	}
	for _, f := range filters {
		params.Add(f.Field, f.Op+"."+filterOperand(f))
	}
}

func filterOperand(f Filter) string {
	switch f.Op {
	case OpIn:
		parts := make([]string, 0, len(f.Values))
		for _, v := range f.Values {
			parts = append(parts, quoteFilterValue(fmt.Sprint(v)))
		}
		return "(" + strings.Join(parts, ",") + ")"
	case OpILike:
		return "*" + escapeLikePattern(fmt.Sprint(f.Value)) + "*"
	default:
		return quoteFilterValue(fmt.Sprint(f.Value))
	}
}

// quoteFilterValue wraps values holding reserved characters in double
// quotes, with backslash escaping inside the quotes.
func quoteFilterValue(v string) string {
	if !strings.ContainsAny(v, `,.:()" \`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}

// escapeLikePattern neutralises wildcard and reserved characters in a
// user-supplied substring so it only ever matches literally.
func escapeLikePattern(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `%`, `\%`)
	v = strings.ReplaceAll(v, `_`, `\_`)
	v = strings.ReplaceAll(v, `*`, "")
	v = strings.ReplaceAll(v, `,`, `\,`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	v = strings.ReplaceAll(v, `(`, `\(`)
	v = strings.ReplaceAll(v, `)`, `\)`)
	return v
}

// parseContentRangeTotal extracts the total row count from a
// Content-Range header shaped like "0-15/87". A "*" or missing total
// falls back to the number of returned rows.
func parseContentRangeTotal(header string, fallback int) int {
	idx := strings.LastIndex(header, "/")
	if idx < 0 {
		return fallback
	}
	total, err := strconv.Atoi(header[idx+1:])
	if err != nil {
		return fallback
	}
	return total
}
