// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package aggregator folds a row-ordered stream of cells into one value per row.
package aggregator

import (
	"fmt"
	"io"

	apierrors "github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/proto"
)

// Cursor yields cells grouped by row, it returns io.EOF once exhausted.
type Cursor interface {
	Next() (*proto.Cell, error)
}

// RowReader builds one E from the cells of a row. BeginRow is called with the
// first cell of the row, ReadEntry with every cell of the row including the first.
type RowReader[E any] interface {
	BeginRow(first *proto.Cell) error
	ReadEntry(cell *proto.Cell) error
	EndRow() (E, error)
}

// Stream pulls one entity at a time from a cursor. It holds at most the
// cells of one row and cannot be restarted.
type Stream[E any] struct {
	cur    Cursor
	reader RowReader[E]
	// pending is the first cell of the next row, read while closing the previous one.
	pending *proto.Cell
	err     error
}

func NewStream[E any](cur Cursor, reader RowReader[E]) *Stream[E] {
	return &Stream[E]{cur: cur, reader: reader}
}

// Next returns the entity of the next row, or io.EOF when the cursor is exhausted.
// A failure in the middle of a row drops that row and is returned as is.
func (s *Stream[E]) Next() (e E, err error) {
	if s.err != nil {
		return e, s.err
	}
	defer func() {
		if err != nil {
			s.err = err
		}
	}()

	first := s.pending
	s.pending = nil
	if first == nil {
		if first, err = s.cur.Next(); err != nil {
			return e, err
		}
	}
	if err = s.reader.BeginRow(first); err != nil {
		return e, err
	}
	if err = s.reader.ReadEntry(first); err != nil {
		return e, err
	}
	for {
		cell, err := s.cur.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return e, err
		}
		if cell.Row != first.Row {
			s.pending = cell
			break
		}
		if err = s.reader.ReadEntry(cell); err != nil {
			return e, err
		}
	}
	return s.reader.EndRow()
}

// QueryForObject reads at most one row. It reports false when the cursor is empty
// and ErrAmbiguousResult when a second row follows.
func QueryForObject[E any](cur Cursor, reader RowReader[E]) (e E, found bool, err error) {
	s := NewStream(cur, reader)
	e, err = s.Next()
	if err == io.EOF {
		return e, false, nil
	}
	if err != nil {
		return e, false, err
	}
	if s.pending != nil {
		var zero E
		return zero, false, fmt.Errorf("rows %v and %q: %w", e, s.pending.Row, apierrors.ErrAmbiguousResult)
	}
	return e, true, nil
}

// QueryForList collects the entities accepted by include. Once proceed rejects an
// entity no further cells are read, that entity is still kept when include accepts it.
func QueryForList[E any](cur Cursor, reader RowReader[E], include, proceed func(E) bool) ([]E, error) {
	s := NewStream(cur, reader)
	var ret []E
	for {
		e, err := s.Next()
		if err == io.EOF {
			return ret, nil
		}
		if err != nil {
			return nil, err
		}
		if include == nil || include(e) {
			ret = append(ret, e)
		}
		if proceed != nil && !proceed(e) {
			return ret, nil
		}
	}
}
