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

// Package entitystore persists hierarchical entities as rows of a gateway table.
// An entity's row key is its encoded path, its fields are the cells of the
// family named after its type, so one table can hold a whole entity tree and
// deleting an entity deletes its descendants.
package entitystore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"reflect"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/cubefs/entitydb/aggregator"
	apierrors "github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/flatten"
	"github.com/cubefs/entitydb/gateway"
	"github.com/cubefs/entitydb/keycodec"
	"github.com/cubefs/entitydb/mutation"
	"github.com/cubefs/entitydb/proto"
)

type Config struct {
	Table         string `json:"table"`
	SchemaVersion int    `json:"schema_version"`
	// Component labels the store's metrics, defaults to "entitystore.<type>".
	Component string `json:"component"`
}

type Store[T any] struct {
	session *gateway.Session
	table   string
	typ     string
	schema  int
}

func New[T any](ctx context.Context, gw *gateway.Gateway, cfg Config) (*Store[T], error) {
	typ, err := typeName[T]()
	if err != nil {
		return nil, err
	}
	if cfg.Component == "" {
		cfg.Component = "entitystore." + typ
	}
	s := &Store[T]{
		session: gw.Session(cfg.Component),
		table:   cfg.Table,
		typ:     typ,
		schema:  cfg.SchemaVersion,
	}
	if err = s.session.CreateTableIfNotExist(ctx, cfg.Table); err != nil {
		return nil, err
	}
	return s, nil
}

func typeName[T any]() (string, error) {
	var zero T
	if typer, ok := any(&zero).(proto.EntityTyper); ok {
		return typer.EntityType(), nil
	}
	t := reflect.TypeOf(zero)
	if t == nil || t.Kind() != reflect.Struct || t.Name() == "" {
		return "", fmt.Errorf("entity type %T must be a named struct: %w", zero, apierrors.ErrEncoding)
	}
	return t.Name(), nil
}

// Type is the entity type name, also the column family of its cells.
func (s *Store[T]) Type() string { return s.typ }

func (s *Store[T]) Save(ctx context.Context, id proto.EntityID, obj *T) error {
	span := trace.SpanFromContextSafe(ctx)
	if obj == nil {
		return fmt.Errorf("save nil %s: %w", s.typ, apierrors.ErrEncoding)
	}
	row, err := keycodec.Encode(id)
	if err != nil {
		return err
	}
	if id.Type() != s.typ {
		return fmt.Errorf("id %s saved as %s: %w", id, s.typ, apierrors.ErrInvalidEntityID)
	}
	fields, err := flatten.Flatten(obj)
	if err != nil {
		return err
	}
	generation, err := json.Marshal(marker{Schema: s.schema, ID: id})
	if err != nil {
		return fmt.Errorf("generation marker of %s: %v: %w", id, err, apierrors.ErrEncoding)
	}

	err = s.session.Save(ctx, s.table, row, func(b *mutation.Builder) error {
		b.SetFamily(s.typ)
		for _, f := range fields {
			if f.Path == GenerationQualifier {
				return fmt.Errorf("field %s of %s is reserved: %w", f.Path, s.typ, apierrors.ErrEncoding)
			}
			b.Put(f.Path, f.Value)
		}
		b.Put(GenerationQualifier, generation)
		return nil
	})
	if err != nil {
		span.Warnf("save %s failed: %s", id, err)
		return err
	}
	span.Debugf("saved %s with %d fields", id, len(fields))
	return nil
}

func (s *Store[T]) Read(ctx context.Context, id proto.EntityID) (*T, error) {
	e, err := s.ReadEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.Object, nil
}

// ReadEntity returns the latest generation of id, or ErrNotFound.
func (s *Store[T]) ReadEntity(ctx context.Context, id proto.EntityID) (*Entity[T], error) {
	row, err := keycodec.Encode(id)
	if err != nil {
		return nil, err
	}
	sc, err := s.scanner(ctx, proto.ExactRow(row))
	if err != nil {
		return nil, err
	}
	defer sc.Close()

	e, found, err := aggregator.QueryForObject[*Entity[T]](sc, &generationReader[T]{})
	if err != nil {
		trace.SpanFromContextSafe(ctx).Warnf("read %s failed: %s", id, err)
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%s: %w", id, apierrors.ErrNotFound)
	}
	return e, nil
}

// Stream iterates the entities of the store's type below parent, a nil parent
// iterates root entities.
func (s *Store[T]) Stream(ctx context.Context, parent proto.EntityID) (*Iterator[T], error) {
	prefix, err := keycodec.TypePrefix(parent, s.typ)
	if err != nil {
		return nil, err
	}
	return s.iterate(ctx, proto.PrefixRange(prefix))
}

// StreamFrom iterates every entity of the store's type from start onward, start included.
func (s *Store[T]) StreamFrom(ctx context.Context, start proto.EntityID) (*Iterator[T], error) {
	row, err := keycodec.Encode(start)
	if err != nil {
		return nil, err
	}
	return s.iterate(ctx, proto.StartRow(row))
}

// List reads the entities below parent accepted by include, it stops reading
// once limit entities are accepted. A nil include accepts everything and a
// non positive limit reads to the end.
func (s *Store[T]) List(ctx context.Context, parent proto.EntityID, include func(*Entity[T]) bool, limit int) ([]*Entity[T], error) {
	prefix, err := keycodec.TypePrefix(parent, s.typ)
	if err != nil {
		return nil, err
	}
	sc, err := s.scanner(ctx, proto.PrefixRange(prefix))
	if err != nil {
		return nil, err
	}
	defer sc.Close()

	accepted := 0
	return aggregator.QueryForList[*Entity[T]](sc, &generationReader[T]{},
		func(e *Entity[T]) bool {
			if include != nil && !include(e) {
				return false
			}
			accepted++
			return true
		},
		func(*Entity[T]) bool {
			return limit <= 0 || accepted < limit
		})
}

// Delete removes id and all of its descendants, whatever their type.
func (s *Store[T]) Delete(ctx context.Context, id proto.EntityID) error {
	row, err := keycodec.Encode(id)
	if err != nil {
		return err
	}
	return s.session.DeleteRowIDPrefix(ctx, s.table, row)
}

// DeleteChildren removes every entity of the store's type below parent, with their descendants.
func (s *Store[T]) DeleteChildren(ctx context.Context, parent proto.EntityID) error {
	prefix, err := keycodec.TypePrefix(parent, s.typ)
	if err != nil {
		return err
	}
	return s.session.DeleteRowIDPrefix(ctx, s.table, prefix)
}

func (s *Store[T]) scanner(ctx context.Context, rng proto.Range) (*gateway.Scanner, error) {
	sc, err := s.session.CreateScanner(ctx, s.table)
	if err != nil {
		return nil, err
	}
	sc.SetRange(rng)
	sc.FetchFamily(s.typ)
	return sc, nil
}

func (s *Store[T]) iterate(ctx context.Context, rng proto.Range) (*Iterator[T], error) {
	sc, err := s.scanner(ctx, rng)
	if err != nil {
		return nil, err
	}
	return &Iterator[T]{
		scanner: sc,
		stream:  aggregator.NewStream[*Entity[T]](sc, &generationReader[T]{}),
	}, nil
}

// Iterator yields entities lazily. It releases its scanner once exhausted or
// failed, Close must be called when it is abandoned earlier.
type Iterator[T any] struct {
	scanner *gateway.Scanner
	stream  *aggregator.Stream[*Entity[T]]
}

// Next returns the next entity, or io.EOF at the end.
func (it *Iterator[T]) Next() (*Entity[T], error) {
	e, err := it.stream.Next()
	if err != nil {
		it.Close()
		return nil, err
	}
	return e, nil
}

func (it *Iterator[T]) Close() {
	it.scanner.Close()
}

// Collect drains it.
func (it *Iterator[T]) Collect() ([]*Entity[T], error) {
	defer it.Close()
	var ret []*Entity[T]
	for {
		e, err := it.Next()
		if err == io.EOF {
			return ret, nil
		}
		if err != nil {
			return nil, err
		}
		ret = append(ret, e)
	}
}
