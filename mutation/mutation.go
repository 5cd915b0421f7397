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

package mutation

import (
	"fmt"

	apierrors "github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/proto"
)

type Entry struct {
	Family     string
	Qualifier  string
	Visibility proto.Label
	Value      []byte
	// Delete removes every version of the column instead of writing a value.
	Delete bool
}

// Mutation is the set of changes to one row, applied atomically.
type Mutation struct {
	Row     string
	Entries []Entry
}

// Builder accumulates the writes of one row:
//
//	b.Begin(row).SetFamily("Patient").Put("name", v).Put("age", w)
//	m, err := b.Build()
//
// Errors are sticky and reported by Build.
type Builder struct {
	table   string
	policy  proto.VisibilityPolicy
	row     string
	begun   bool
	family  string
	entries []Entry
	err     error
}

// NewBuilder returns a builder labelling cells of table through policy, a nil policy labels nothing.
func NewBuilder(table string, policy proto.VisibilityPolicy) *Builder {
	if policy == nil {
		policy = proto.NoVisibility
	}
	return &Builder{table: table, policy: policy}
}

func (b *Builder) Begin(row string) *Builder {
	b.row = row
	b.begun = true
	b.family = ""
	b.entries = nil
	b.err = nil
	if row == "" {
		b.err = fmt.Errorf("empty row: %w", apierrors.ErrInvalidMutation)
	}
	return b
}

func (b *Builder) SetFamily(family string) *Builder {
	if family == "" && b.err == nil {
		b.err = fmt.Errorf("empty family for row %q: %w", b.row, apierrors.ErrInvalidMutation)
	}
	b.family = family
	return b
}

// Put queues a value for qualifier in the current family. Nil values are skipped.
func (b *Builder) Put(qualifier string, value []byte) *Builder {
	if value == nil {
		return b
	}
	return b.add(qualifier, value, false)
}

func (b *Builder) PutDelete(qualifier string) *Builder {
	return b.add(qualifier, nil, true)
}

func (b *Builder) add(qualifier string, value []byte, del bool) *Builder {
	if b.err != nil {
		return b
	}
	if !b.begun || b.family == "" {
		b.err = fmt.Errorf("put %q before begin or family: %w", qualifier, apierrors.ErrInvalidMutation)
		return b
	}
	entry := Entry{Family: b.family, Qualifier: qualifier, Value: value, Delete: del}
	if !del {
		label := b.policy.Label(b.table, qualifier)
		if err := label.Validate(); err != nil {
			b.err = fmt.Errorf("qualifier %q of table %s: %v: %w", qualifier, b.table, err, apierrors.ErrEncoding)
			return b
		}
		entry.Visibility = label
	}
	b.entries = append(b.entries, entry)
	return b
}

func (b *Builder) Build() (*Mutation, error) {
	if b.err != nil {
		return nil, b.err
	}
	if !b.begun {
		return nil, fmt.Errorf("build before begin: %w", apierrors.ErrInvalidMutation)
	}
	if len(b.entries) == 0 {
		return nil, fmt.Errorf("empty mutation for row %q: %w", b.row, apierrors.ErrInvalidMutation)
	}
	entries := make([]Entry, len(b.entries))
	copy(entries, b.entries)
	return &Mutation{Row: b.row, Entries: entries}, nil
}

// Size is the number of payload bytes carried by the mutation.
func (m *Mutation) Size() (n int) {
	for i := range m.Entries {
		n += len(m.Entries[i].Family) + len(m.Entries[i].Qualifier) + len(m.Entries[i].Value)
	}
	return n + len(m.Row)
}
