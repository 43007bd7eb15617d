package main

import (
	"context"
	"encoding/json"
)

// Filter operators supported by every record store implementation.
const (
	OpEq    = "eq"
	OpILike = "ilike"
	OpIn    = "in"
)

// Filter is one predicate of a query. Values are passed as-is and escaped
// by the store implementation; callers never build filter strings.
type Filter struct {
	Field  string
	Op     string
	Value  interface{}
	Values []interface{} // used by OpIn only
}

// Eq builds an equality filter.
func Eq(field string, value interface{}) Filter {
	return Filter{Field: field, Op: OpEq, Value: value}
}

// ILike builds a case-insensitive substring filter.
func ILike(field, substring string) Filter {
	return Filter{Field: field, Op: OpILike, Value: substring}
}

// In builds a membership filter.
func In(field string, values ...interface{}) Filter {
	return Filter{Field: field, Op: OpIn, Values: values}
}

// Query describes a select call against one table.
type Query struct {
	Table      string
	Filters    []Filter
	MatchAny   bool   // combine filters with OR instead of AND
	OrderBy    string // empty means backend default order
	Descending bool
	Ranged     bool // restrict rows to the range below; false means unbounded
	From       int  // zero-based inclusive row range, read when Ranged
	To         int
	Count      bool // request an exact total row count
}

// Result carries the rows of a select call plus the exact total
// row count when the query asked for one.
type Result struct {
	Rows  []json.RawMessage
	Total int
}

// RecordStore is the generic tabular-store protocol every backend
// implements: select with filter/range/order/count, batch insert,
// update by equality filter and delete by equality filter. Failures
// are returned as *RemoteError.
type RecordStore interface {
	Select(ctx context.Context, q Query) (Result, error)
	Insert(ctx context.Context, table string, rows interface{}) ([]json.RawMessage, error)
	Update(ctx context.Context, table string, filter Filter, changes interface{}) (json.RawMessage, error)
	Delete(ctx context.Context, table string, filter Filter) error
}
