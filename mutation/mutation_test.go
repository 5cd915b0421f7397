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
	"errors"
	"testing"

	apierrors "github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/proto"
	"github.com/stretchr/testify/require"
)

func TestBuilder_Build(t *testing.T) {
	b := NewBuilder("records", nil)
	m, err := b.Begin("Patient:p1/").SetFamily("Patient").
		Put("name", []byte("alice")).
		Put("nickname", nil).
		Put("age", []byte{5}).
		Build()
	require.NoError(t, err)
	require.Equal(t, "Patient:p1/", m.Row)
	require.Equal(t, []Entry{
		{Family: "Patient", Qualifier: "name", Value: []byte("alice")},
		{Family: "Patient", Qualifier: "age", Value: []byte{5}},
	}, m.Entries)
	require.Equal(t, len("Patient:p1/")+len("Patientname")+5+len("Patientage")+1, m.Size())
}

func TestBuilder_BeginResets(t *testing.T) {
	b := NewBuilder("records", nil)
	b.Begin("r1").SetFamily("f").Put("q", []byte("v"))
	m, err := b.Begin("r2").SetFamily("g").PutDelete("q").Build()
	require.NoError(t, err)
	require.Equal(t, &Mutation{Row: "r2", Entries: []Entry{{Family: "g", Qualifier: "q", Delete: true}}}, m)
}

func TestBuilder_Invalid(t *testing.T) {
	_, err := NewBuilder("t", nil).Build()
	require.True(t, errors.Is(err, apierrors.ErrInvalidMutation))

	_, err = NewBuilder("t", nil).Begin("").SetFamily("f").Put("q", []byte("v")).Build()
	require.True(t, errors.Is(err, apierrors.ErrInvalidMutation))

	_, err = NewBuilder("t", nil).Begin("r").Put("q", []byte("v")).Build()
	require.True(t, errors.Is(err, apierrors.ErrInvalidMutation))

	// only nil values
	_, err = NewBuilder("t", nil).Begin("r").SetFamily("f").Put("q", nil).Build()
	require.True(t, errors.Is(err, apierrors.ErrInvalidMutation))
}

func TestBuilder_Visibility(t *testing.T) {
	policy := &proto.StaticVisibility{
		Default:    "public",
		Qualifiers: map[string]proto.Label{"ssn": "phi&admin"},
	}
	m, err := NewBuilder("t", policy).Begin("r").SetFamily("f").
		Put("ssn", []byte("123")).
		Put("name", []byte("bob")).
		Build()
	require.NoError(t, err)
	require.Equal(t, proto.Label("phi&admin"), m.Entries[0].Visibility)
	require.Equal(t, proto.Label("public"), m.Entries[1].Visibility)

	bad := &proto.StaticVisibility{Default: "a&"}
	_, err = NewBuilder("t", bad).Begin("r").SetFamily("f").Put("q", []byte("v")).Build()
	require.True(t, errors.Is(err, apierrors.ErrEncoding))
}
