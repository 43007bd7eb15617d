package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/boltdb/bolt"
	"go.uber.org/zap"
)

var _ RecordStore = (*boltRecordStore)(nil) // ensure boltRecordStore implements RecordStore.

// boltRecordStore keeps one bucket per table with rows stored as JSON
// under big-endian sequence keys. Filtering, ordering and ranging happen
// in memory, which is fine for a single user's library.
type boltRecordStore struct {
	logger *zap.Logger
	client *bolt.DB
	config *BoltDBConfig
}

// GetBoltDBClient opens the database file and makes sure one bucket
// exists per known table.
func GetBoltDBClient(config *Config) (*bolt.DB, error) {
	db, err := bolt.Open(config.BoltDB.FilePath, 0o600, &bolt.Options{Timeout: config.BoltDB.Timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open the database: %v", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, table := range []string{BooksTable, ShelvesTable, MembershipTable} {
			if _, errB := tx.CreateBucketIfNotExists([]byte(table)); errB != nil {
				return fmt.Errorf("failed to create %s bucket: %v", table, errB)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up buckets: %v", err)
	}
	return db, nil
}

// NewBoltRecordStore provides a bolt-based record store.
func NewBoltRecordStore(logger *zap.Logger, boltConfig *BoltDBConfig, client *bolt.DB) RecordStore {
	return &boltRecordStore{
		logger: logger,
		client: client,
		config: boltConfig,
	}
}

// Close shuts down the underlying bolt database.
func (bs *boltRecordStore) Close() error {
	return bs.client.Close()
}

// idColumnFor returns the backend-assigned identity column of a table.
func idColumnFor(table string) string {
	if table == BooksTable {
		return "book_id"
	}
	return "id"
}

type boltRow struct {
	key    uint64
	fields map[string]interface{}
}

// Select retrieves the rows of a table matching the query.
func (bs *boltRecordStore) Select(_ context.Context, q Query) (Result, error) {
	tx, err := bs.client.Begin(false)
	if err != nil {
		return Result{}, NewRemoteError("select", q.Table, 0, "", "failed to open transaction", err.Error())
	}
	defer tx.Rollback()

	bucket := tx.Bucket([]byte(q.Table))
	if bucket == nil {
		return Result{}, NewRemoteError("select", q.Table, 0, "", "unknown table", "")
	}

	var matched []boltRow
	c := bucket.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		fields := make(map[string]interface{})
		if err = json.Unmarshal(v, &fields); err != nil {
			return Result{}, NewRemoteError("select", q.Table, 0, "", "corrupt row", err.Error())
		}
		if matchesFilters(fields, q.Filters, q.MatchAny) {
			matched = append(matched, boltRow{key: binary.BigEndian.Uint64(k), fields: fields})
		}
	}

	if q.OrderBy != "" {
		orderRows(matched, q.OrderBy, q.Descending)
	}

	total := len(matched)
	if q.Ranged {
		matched = sliceRange(matched, q.From, q.To)
	}

	rows := make([]json.RawMessage, 0, len(matched))
	for _, row := range matched {
		raw, mErr := json.Marshal(row.fields)
		if mErr != nil {
			return Result{}, NewRemoteError("select", q.Table, 0, "", "failed to encode row", mErr.Error())
		}
		rows = append(rows, raw)
	}
	return Result{Rows: rows, Total: total}, nil
}

// Insert writes a batch of rows, stamping the table's identity column
// from the bucket sequence, and returns the stored representation.
func (bs *boltRecordStore) Insert(_ context.Context, table string, rows interface{}) ([]json.RawMessage, error) {
	records, err := toRecords(rows)
	if err != nil {
		return nil, NewRemoteError("insert", table, 0, "", "failed to encode rows", err.Error())
	}

	inserted := make([]json.RawMessage, 0, len(records))
	err = bs.client.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(table))
		if bucket == nil {
			return fmt.Errorf("unknown table %q", table)
		}
		idColumn := idColumnFor(table)
		for _, fields := range records {
			seq, sErr := bucket.NextSequence()
			if sErr != nil {
				return sErr
			}
			if !hasIdentity(fields, idColumn) {
				fields[idColumn] = seq
			}
			raw, mErr := json.Marshal(fields)
			if mErr != nil {
				return mErr
			}
			key := make([]byte, 8)
			binary.BigEndian.PutUint64(key, seq)
			if pErr := bucket.Put(key, raw); pErr != nil {
				return pErr
			}
			inserted = append(inserted, raw)
		}
		return nil
	})
	if err != nil {
		return nil, NewRemoteError("insert", table, 0, "", "failed to write rows", err.Error())
	}
	return inserted, nil
}

// Update merges the changes into every row matching the filter and
// returns the first updated row. Matching no row is a failure, in line
// with the remote backend's single-row update semantics.
func (bs *boltRecordStore) Update(_ context.Context, table string, filter Filter, changes interface{}) (json.RawMessage, error) {
	changed, err := toRecords(changes)
	if err != nil || len(changed) != 1 {
		return nil, NewRemoteError("update", table, 0, "", "failed to encode changes", "update changes must be a single record")
	}

	var updated json.RawMessage
	err = bs.client.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(table))
		if bucket == nil {
			return fmt.Errorf("unknown table %q", table)
		}
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			fields := make(map[string]interface{})
			if uErr := json.Unmarshal(v, &fields); uErr != nil {
				return uErr
			}
			if !matchesFilters(fields, []Filter{filter}, false) {
				continue
			}
			for name, value := range changed[0] {
				fields[name] = value
			}
			raw, mErr := json.Marshal(fields)
			if mErr != nil {
				return mErr
			}
			if pErr := bucket.Put(append([]byte{}, k...), raw); pErr != nil {
				return pErr
			}
			if updated == nil {
				updated = raw
			}
		}
		return nil
	})
	if err != nil {
		return nil, NewRemoteError("update", table, 0, "", "failed to update rows", err.Error())
	}
	if updated == nil {
		return nil, NewRemoteError("update", table, 404, "", "no row matched the update filter", "")
	}
	return updated, nil
}

// Delete removes every row matching the filter. Deleting zero rows is
// not an error.
func (bs *boltRecordStore) Delete(_ context.Context, table string, filter Filter) error {
	err := bs.client.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(table))
		if bucket == nil {
			return fmt.Errorf("unknown table %q", table)
		}
		var doomed [][]byte
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			fields := make(map[string]interface{})
			if uErr := json.Unmarshal(v, &fields); uErr != nil {
				return uErr
			}
			if matchesFilters(fields, []Filter{filter}, false) {
				doomed = append(doomed, append([]byte{}, k...))
			}
		}
		for _, k := range doomed {
			if dErr := bucket.Delete(k); dErr != nil {
				return dErr
			}
		}
		return nil
	})
	if err != nil {
		return NewRemoteError("delete", table, 0, "", "failed to delete rows", err.Error())
	}
	return nil
}

// toRecords normalizes a slice or a single struct/map into generic
// field maps through a JSON round trip.
func toRecords(rows interface{}) ([]map[string]interface{}, error) {
	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, err
	}
	var records []map[string]interface{}
	if err = json.Unmarshal(raw, &records); err == nil {
		return records, nil
	}
	single := make(map[string]interface{})
	if err = json.Unmarshal(raw, &single); err != nil {
		return nil, err
	}
	return []map[string]interface{}{single}, nil
}

func hasIdentity(fields map[string]interface{}, idColumn string) bool {
	v, ok := fields[idColumn]
	if !ok || v == nil {
		return false
	}
	n, isNum := v.(float64)
	return !isNum || n != 0
}

func matchesFilters(fields map[string]interface{}, filters []Filter, matchAny bool) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		ok := matchesFilter(fields, f)
		if matchAny && ok {
			return true
		}
		if !matchAny && !ok {
			return false
		}
	}
	return !matchAny
}

func matchesFilter(fields map[string]interface{}, f Filter) bool {
	value, present := fields[f.Field]
	switch f.Op {
	case OpEq:
		return present && scalarEqual(value, f.Value)
	case OpILike:
		if !present || value == nil {
			return false
		}
		return strings.Contains(
			strings.ToLower(fmt.Sprint(value)),
			strings.ToLower(fmt.Sprint(f.Value)),
		)
	case OpIn:
		if !present {
			return false
		}
		for _, candidate := range f.Values {
			if scalarEqual(value, candidate) {
				return true
			}
		}
		return false
	}
	return false
}

// scalarEqual compares a stored JSON value against a filter operand,
// tolerating the float64/int64 type split the JSON round trip causes.
func scalarEqual(stored, operand interface{}) bool {
	sn, sErr := strconv.ParseFloat(fmt.Sprint(stored), 64)
	on, oErr := strconv.ParseFloat(fmt.Sprint(operand), 64)
	if sErr == nil && oErr == nil {
		return sn == on
	}
	return fmt.Sprint(stored) == fmt.Sprint(operand)
}

// orderRows sorts rows by one column, numbers numerically and anything
// else lexically. The sort is stable so equal keys keep insert order.
func orderRows(rows []boltRow, column string, descending bool) {
	sort.SliceStable(rows, func(i, j int) bool {
		less := lessValue(rows[i].fields[column], rows[j].fields[column])
		if descending {
			return lessValue(rows[j].fields[column], rows[i].fields[column])
		}
		return less
	})
}

func lessValue(a, b interface{}) bool {
	an, aErr := strconv.ParseFloat(fmt.Sprint(a), 64)
	bn, bErr := strconv.ParseFloat(fmt.Sprint(b), 64)
	if aErr == nil && bErr == nil {
		return an < bn
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

func sliceRange(rows []boltRow, from, to int) []boltRow {
	if from >= len(rows) {
		return nil
	}
	if to >= len(rows) {
		to = len(rows) - 1
	}
	return rows[from : to+1]
}
