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
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	apierrors "github.com/cubefs/entitydb/errors"
)

func TestLabel_Evaluate(t *testing.T) {
	auths := NewAuthorizations("phi", "audit", "org:a/b")
	for _, c := range []struct {
		label   Label
		visible bool
	}{
		{"", true},
		{"phi", true},
		{"admin", false},
		{"phi&audit", true},
		{"phi&admin", false},
		{"admin|audit", true},
		{"admin|phi&audit", true},
		{"(admin|phi)&clinician", false},
		{"phi&(clinician|audit)", true},
		{"org:a/b", true},
		{"((phi))", true},
	} {
		ok, err := c.label.Evaluate(auths)
		require.NoError(t, err, c.label)
		require.Equal(t, c.visible, ok, c.label)
	}

	ok, err := Label("phi").Evaluate(nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLabel_Invalid(t *testing.T) {
	for _, l := range []Label{"&", "a&", "a|", "(a", "a)", "a b", "()", "a&&b", "a!"} {
		require.True(t, errors.Is(l.Validate(), apierrors.ErrInvalidLabel), l)
	}
	require.NoError(t, Label("a&(b|c)").Validate())
}

func TestVisibilityPolicies(t *testing.T) {
	require.Equal(t, Label(""), NoVisibility.Label("t", "q"))

	v := &StaticVisibility{Default: "public", Qualifiers: map[string]Label{"ssn": "phi"}}
	require.Equal(t, Label("phi"), v.Label("t", "ssn"))
	require.Equal(t, Label("public"), v.Label("t", "name"))

	ctx := context.Background()
	static := StaticAuthorizations(NewAuthorizations("a"))
	require.True(t, static.Authorizations(ctx).Contains("a"))

	fromCtx := ContextAuthorizations{Default: NewAuthorizations("d")}
	require.True(t, fromCtx.Authorizations(ctx).Contains("d"))
	got := fromCtx.Authorizations(WithAuthorizations(ctx, NewAuthorizations("x")))
	require.True(t, got.Contains("x"))
	require.False(t, got.Contains("d"))
}
