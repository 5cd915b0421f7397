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

package proto

import (
	"fmt"
	"strings"

	apierrors "github.com/cubefs/entitydb/errors"
)

// PathElement is one (type, identifier) hop of a materialized entity path.
type PathElement struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// EntityID identifies an entity by its path from the root entity to itself.
// The last element's Type is the entity's own type.
type EntityID []PathElement

// EntityTyper overrides the type name (and column family) an object is stored under.
type EntityTyper interface {
	EntityType() string
}

func NewEntityID(typ, id string) EntityID {
	return EntityID{{Type: typ, ID: id}}
}

// Child returns a new id extending e, e itself is never modified.
func (e EntityID) Child(typ, id string) EntityID {
	ret := make(EntityID, len(e), len(e)+1)
	copy(ret, e)
	return append(ret, PathElement{Type: typ, ID: id})
}

// Parent returns the id of the enclosing entity, or nil for a root entity.
func (e EntityID) Parent() EntityID {
	if len(e) <= 1 {
		return nil
	}
	ret := make(EntityID, len(e)-1)
	copy(ret, e[:len(e)-1])
	return ret
}

func (e EntityID) Type() string {
	if len(e) == 0 {
		return ""
	}
	return e[len(e)-1].Type
}

func (e EntityID) ID() string {
	if len(e) == 0 {
		return ""
	}
	return e[len(e)-1].ID
}

func (e EntityID) Equal(other EntityID) bool {
	if len(e) != len(other) {
		return false
	}
	for i := range e {
		if e[i] != other[i] {
			return false
		}
	}
	return true
}

func (e EntityID) Validate() error {
	if len(e) == 0 {
		return fmt.Errorf("empty path: %w", apierrors.ErrInvalidEntityID)
	}
	for i := range e {
		if e[i].Type == "" || e[i].ID == "" {
			return fmt.Errorf("element %d of %s has empty type or id: %w", i, e, apierrors.ErrInvalidEntityID)
		}
	}
	return nil
}

func (e EntityID) String() string {
	sb := strings.Builder{}
	for i := range e {
		if i > 0 {
			sb.WriteByte('/')
		}
		sb.WriteString(e[i].Type)
		sb.WriteByte('/')
		sb.WriteString(e[i].ID)
	}
	return sb.String()
}
