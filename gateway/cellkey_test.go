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

package gateway

import (
	"bytes"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	apierrors "github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/proto"
)

func TestCellKey_RoundTrip(t *testing.T) {
	for _, c := range []proto.Cell{
		{Row: "Patient:p1/", Family: "Patient", Qualifier: "name", Timestamp: 42},
		{Row: "a\x00b\x01c", Family: "\x01", Qualifier: "\x00", Timestamp: 1},
		{Row: "r", Family: "f", Qualifier: "", Timestamp: 1<<62 + 7},
	} {
		var got proto.Cell
		require.NoError(t, decodeCellKey(encodeCellKey(c.Row, c.Family, c.Qualifier, c.Timestamp), &got))
		require.Equal(t, c, got)
	}
}

func TestCellKey_Order(t *testing.T) {
	type kv struct {
		row string
		ts  int64
	}
	in := []kv{{"a", 1}, {"a", 9}, {"a\x00", 1}, {"a\x01", 1}, {"ab", 1}, {"b", 1}, {"p1/", 1}, {"p10/", 1}}
	keys := make([][]byte, 0, len(in))
	for _, e := range in {
		keys = append(keys, encodeCellKey(e.row, "f", "q", e.ts))
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })

	var got []kv
	for _, key := range keys {
		var c proto.Cell
		require.NoError(t, decodeCellKey(key, &c))
		got = append(got, kv{c.Row, c.Timestamp})
	}
	// rows ascending, newest version first
	require.Equal(t, []kv{{"a", 9}, {"a", 1}, {"a\x00", 1}, {"a\x01", 1}, {"ab", 1}, {"b", 1}, {"p1/", 1}, {"p10/", 1}}, got)
}

func TestCellKey_Prefixes(t *testing.T) {
	key := encodeCellKey("p1/", "f", "name", 3)
	require.True(t, bytes.HasPrefix(key, rowKeyPrefix("p1")))
	require.True(t, bytes.HasPrefix(key, exactRowPrefix("p1/")))
	require.False(t, bytes.HasPrefix(key, exactRowPrefix("p1")))
	require.True(t, bytes.HasPrefix(key, columnPrefix("p1/", "f")))
	require.True(t, bytes.HasPrefix(key, qualifierPrefix("p1/", "f", "name")))
	require.False(t, bytes.HasPrefix(key, qualifierPrefix("p1/", "f", "nam")))
	require.False(t, bytes.HasPrefix(encodeCellKey("p10/", "f", "name", 3), rowKeyPrefix("p1/")))
}

func TestCellKey_Corrupted(t *testing.T) {
	var c proto.Cell
	require.True(t, errors.Is(decodeCellKey([]byte("short"), &c), apierrors.ErrEncoding))

	key := encodeCellKey("r", "f", "q", 1)
	key = append([]byte("x\x00"), key...)
	require.True(t, errors.Is(decodeCellKey(key, &c), apierrors.ErrEncoding))

	key = append(appendEscaped(nil, "r"), escByte, 0x07, sep, 'f', sep, 'q', sep, 0, 0, 0, 0, 0, 0, 0, 0)
	require.True(t, errors.Is(decodeCellKey(key, &c), apierrors.ErrEncoding))
}

func TestCellValue(t *testing.T) {
	var c proto.Cell
	require.NoError(t, decodeCellValue(encodeCellValue("phi&admin", []byte("v")), &c))
	require.Equal(t, proto.Label("phi&admin"), c.Visibility)
	require.Equal(t, []byte("v"), c.Value)

	require.NoError(t, decodeCellValue(encodeCellValue("", nil), &c))
	require.Equal(t, proto.Label(""), c.Visibility)
	require.Len(t, c.Value, 0)

	require.True(t, errors.Is(decodeCellValue([]byte{5, 'a'}, &c), apierrors.ErrEncoding))
	require.True(t, errors.Is(decodeCellValue(nil, &c), apierrors.ErrEncoding))
}
