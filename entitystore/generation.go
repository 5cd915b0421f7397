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

package entitystore

import (
	"encoding/json"
	"fmt"

	apierrors "github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/flatten"
	"github.com/cubefs/entitydb/proto"
)

// GenerationQualifier names the marker cell written with every save. Its
// timestamp is the row's live timestamp, cells older than it belong to
// earlier saves and are never returned.
const GenerationQualifier = "!generation"

type marker struct {
	Schema int            `json:"schema"`
	ID     proto.EntityID `json:"id"`
}

type Generation struct {
	Timestamp     int64 `json:"timestamp"`
	SchemaVersion int   `json:"schema_version"`
}

type Entity[T any] struct {
	ID         proto.EntityID
	Object     *T
	Generation Generation
}

// generationReader buffers a whole row before filtering, the marker is not
// assumed to be the first cell of its row.
type generationReader[T any] struct {
	row   string
	cells []*proto.Cell
}

func (r *generationReader[T]) BeginRow(first *proto.Cell) error {
	r.row = first.Row
	r.cells = r.cells[:0]
	return nil
}

func (r *generationReader[T]) ReadEntry(cell *proto.Cell) error {
	r.cells = append(r.cells, cell)
	return nil
}

func (r *generationReader[T]) EndRow() (*Entity[T], error) {
	var live *proto.Cell
	for _, c := range r.cells {
		if c.Qualifier == GenerationQualifier && (live == nil || c.Timestamp > live.Timestamp) {
			live = c
		}
	}
	if live == nil {
		return nil, fmt.Errorf("row %q has no generation marker: %w", r.row, apierrors.ErrEncoding)
	}
	var m marker
	if err := json.Unmarshal(live.Value, &m); err != nil {
		return nil, fmt.Errorf("generation marker of row %q: %v: %w", r.row, err, apierrors.ErrEncoding)
	}

	fields := make([]flatten.Field, 0, len(r.cells))
	seen := make(map[string]struct{}, len(r.cells))
	for _, c := range r.cells {
		if c.Qualifier == GenerationQualifier || c.Timestamp < live.Timestamp {
			continue
		}
		if _, ok := seen[c.Qualifier]; ok {
			continue
		}
		seen[c.Qualifier] = struct{}{}
		fields = append(fields, flatten.Field{Path: c.Qualifier, Value: c.Value})
	}

	obj := new(T)
	if err := flatten.Unflatten(fields, obj); err != nil {
		return nil, fmt.Errorf("row %q: %w", r.row, err)
	}
	return &Entity[T]{
		ID:         m.ID,
		Object:     obj,
		Generation: Generation{Timestamp: live.Timestamp, SchemaVersion: m.Schema},
	}, nil
}
