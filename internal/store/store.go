// Package store keeps the table of live bandwidth records.
//
// A Store has no locking of its own. It is owned by a single goroutine,
// the reconciliation loop.
package store

import (
	"errors"
	"sort"

	"github.com/nozo-moto/gnethogs/pkg/types"
)

// ErrUnknownRecord is returned when removing a record id that is not live.
var ErrUnknownRecord = errors.New("unknown record")

// Record is one live record together with the handle of its presented row.
type Record struct {
	ID     int32
	Handle types.RowHandle
	Row    types.Row
}

type Store struct {
	records    map[int32]*Record
	nextHandle types.RowHandle
}

func New() *Store {
	return &Store{
		records: make(map[int32]*Record),
	}
}

// ApplySet inserts a record for id or overwrites the fields of the existing
// one. It returns the row handle of the record and whether it was created.
func (s *Store) ApplySet(id int32, row types.Row) (types.RowHandle, bool) {
	if rec, ok := s.records[id]; ok {
		rec.Row = row
		return rec.Handle, false
	}

	s.nextHandle++
	s.records[id] = &Record{
		ID:     id,
		Handle: s.nextHandle,
		Row:    row,
	}
	return s.nextHandle, true
}

// ApplyRemove deletes the record for id and returns the handle its row had.
func (s *Store) ApplyRemove(id int32) (types.RowHandle, error) {
	rec, ok := s.records[id]
	if !ok {
		return 0, ErrUnknownRecord
	}
	delete(s.records, id)
	return rec.Handle, nil
}

// Lookup returns a copy of the record for id.
func (s *Store) Lookup(id int32) (Record, bool) {
	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Totals sums the rates of every live record.
func (s *Store) Totals() types.Totals {
	var t types.Totals
	for _, rec := range s.records {
		t.Sent += rec.Row.Sent
		t.Received += rec.Row.Received
	}
	return t
}

func (s *Store) Len() int {
	return len(s.records)
}

// Records returns copies of all live records ordered by id.
func (s *Store) Records() []Record {
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}
