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

// Package searchindex keeps term postings of entities in a side table.
// All postings live in one row: the family is the term and the qualifier the
// entity's row key, so a search is a single column scan.
package searchindex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/cubefs/entitydb/aggregator"
	apierrors "github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/gateway"
	"github.com/cubefs/entitydb/keycodec"
	"github.com/cubefs/entitydb/mutation"
	"github.com/cubefs/entitydb/proto"
)

const (
	tablePrefix = "idx_"
	postingsRow = "postings"
)

type Config struct {
	Name string `json:"name"`
	// Component labels the index's metrics, defaults to "searchindex.<name>".
	Component string `json:"component"`
}

// TermFunc extracts the indexed term of an object, false when it has none.
type TermFunc[T any] func(obj *T) (string, bool)

type Index[T any] struct {
	session *gateway.Session
	table   string
	term    TermFunc[T]

	emptyLock sync.Mutex
	probed    bool
	empty     bool
}

func New[T any](ctx context.Context, gw *gateway.Gateway, cfg Config, term TermFunc[T]) (*Index[T], error) {
	if cfg.Name == "" || term == nil {
		return nil, fmt.Errorf("index needs a name and a term function: %w", apierrors.ErrInvalidTable)
	}
	if cfg.Component == "" {
		cfg.Component = "searchindex." + cfg.Name
	}
	x := &Index[T]{
		session: gw.Session(cfg.Component),
		table:   tablePrefix + cfg.Name,
		term:    term,
	}
	if err := x.session.CreateTableIfNotExist(ctx, x.table); err != nil {
		return nil, err
	}
	return x, nil
}

func (x *Index[T]) Table() string { return x.table }

func (x *Index[T]) termOf(obj *T) (string, bool) {
	if obj == nil {
		return "", false
	}
	return x.term(obj)
}

// Save moves the posting of id from the term of old to the term of updated in one
// atomic write. old is nil on first insert.
func (x *Index[T]) Save(ctx context.Context, id proto.EntityID, old, updated *T) error {
	key, err := keycodec.Encode(id)
	if err != nil {
		return err
	}
	oldTerm, hasOld := x.termOf(old)
	newTerm, hasNew := x.termOf(updated)
	dropOld := hasOld && (!hasNew || oldTerm != newTerm)
	if !dropOld && !hasNew {
		return nil
	}
	var posting []byte
	if hasNew {
		if posting, err = json.Marshal(id); err != nil {
			return fmt.Errorf("posting of %s: %v: %w", id, err, apierrors.ErrEncoding)
		}
	}

	err = x.session.Save(ctx, x.table, postingsRow, func(b *mutation.Builder) error {
		if dropOld {
			b.SetFamily(oldTerm).PutDelete(key)
		}
		if hasNew {
			b.SetFamily(newTerm).Put(key, posting)
		}
		return nil
	})
	if err != nil {
		trace.SpanFromContextSafe(ctx).Warnf("index %s save %s failed: %s", x.table, id, err)
	}
	return err
}

// Delete removes the posting of id under the term of obj.
func (x *Index[T]) Delete(ctx context.Context, id proto.EntityID, obj *T) error {
	term, ok := x.termOf(obj)
	if !ok {
		return nil
	}
	key, err := keycodec.Encode(id)
	if err != nil {
		return err
	}
	return x.session.Save(ctx, x.table, postingsRow, func(b *mutation.Builder) error {
		b.SetFamily(term).PutDelete(key)
		return nil
	})
}

// Search returns every id posted under term, in row key order.
func (x *Index[T]) Search(ctx context.Context, term string) ([]proto.EntityID, error) {
	sc, err := x.session.CreateScanner(ctx, x.table)
	if err != nil {
		return nil, err
	}
	defer sc.Close()
	sc.SetRange(proto.ExactRow(postingsRow))
	sc.FetchFamily(term)

	ids, _, err := aggregator.QueryForObject[[]proto.EntityID](sc, &postingReader{})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// IsEmpty reports whether the index held no posting when first asked. The
// answer is kept for the lifetime of the index once a probe succeeded.
func (x *Index[T]) IsEmpty(ctx context.Context) (bool, error) {
	x.emptyLock.Lock()
	defer x.emptyLock.Unlock()
	if x.probed {
		return x.empty, nil
	}

	sc, err := x.session.CreateScanner(ctx, x.table)
	if err != nil {
		return false, err
	}
	defer sc.Close()
	_, err = sc.Next()
	if err != nil && err != io.EOF {
		return false, err
	}
	x.probed = true
	x.empty = err == io.EOF
	return x.empty, nil
}

// postingReader collects the ids of the postings row, newest version of each posting only.
type postingReader struct {
	ids  []proto.EntityID
	last string
}

func (r *postingReader) BeginRow(*proto.Cell) error {
	r.ids = nil
	r.last = ""
	return nil
}

func (r *postingReader) ReadEntry(cell *proto.Cell) error {
	if len(r.ids) > 0 && cell.Qualifier == r.last {
		return nil
	}
	var id proto.EntityID
	if err := json.Unmarshal(cell.Value, &id); err != nil {
		return fmt.Errorf("posting %s: %v: %w", cell.Qualifier, err, apierrors.ErrEncoding)
	}
	r.ids = append(r.ids, id)
	r.last = cell.Qualifier
	return nil
}

func (r *postingReader) EndRow() ([]proto.EntityID, error) {
	return r.ids, nil
}
