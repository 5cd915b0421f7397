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
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	apierrors "github.com/cubefs/entitydb/errors"
)

func TestEntityID(t *testing.T) {
	p := NewEntityID("Patient", "p1")
	v := p.Child("Visit", "v1")
	w := p.Child("Visit", "v2")

	require.Len(t, p, 1)
	require.Equal(t, "Visit", v.Type())
	require.Equal(t, "v1", v.ID())
	require.Equal(t, "v2", w.ID())
	require.True(t, v.Parent().Equal(p))
	require.Nil(t, p.Parent())
	require.False(t, v.Equal(w))
	require.Equal(t, "Patient/p1/Visit/v1", v.String())
	require.Equal(t, "", EntityID(nil).Type())

	require.NoError(t, v.Validate())
	require.True(t, errors.Is(EntityID(nil).Validate(), apierrors.ErrInvalidEntityID))
	require.True(t, errors.Is(p.Child("", "x").Validate(), apierrors.ErrInvalidEntityID))

	raw, err := json.Marshal(v)
	require.NoError(t, err)
	require.JSONEq(t, `[{"type":"Patient","id":"p1"},{"type":"Visit","id":"v1"}]`, string(raw))
}

func TestRange(t *testing.T) {
	require.Equal(t, "ab", PrefixEnd("aa"))
	require.Equal(t, "b", PrefixEnd("a\xff"))
	require.Equal(t, "", PrefixEnd("\xff\xff"))
	require.Equal(t, Range{Type: RangeBounded, Start: "a", End: "b"}, BoundedRange("a", "b"))

	c := &Cell{Row: "r", Family: "f", Qualifier: "q", Value: []byte("v"), Visibility: "phi"}
	require.Equal(t, "r f:q [phi]", c.String())
}
