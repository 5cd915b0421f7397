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
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/cubefs/entitydb/common/kvstore"
	apierrors "github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/metrics"
	"github.com/cubefs/entitydb/mutation"
	"github.com/cubefs/entitydb/proto"
	"github.com/cubefs/entitydb/util/limiter"
)

const testTable = "records"

func newTestGateway(t *testing.T, opts ...Option) *Gateway {
	g, err := Open(context.Background(), &Config{Engine: kvstore.LeveldbLsmKVType, InMemory: true}, opts...)
	require.NoError(t, err)
	t.Cleanup(g.Close)
	require.NoError(t, g.Session("test").CreateTableIfNotExist(context.Background(), testTable))
	return g
}

func put(t *testing.T, s *Session, row, family string, kvs ...string) {
	err := s.Save(context.Background(), testTable, row, func(b *mutation.Builder) error {
		b.SetFamily(family)
		for i := 0; i+1 < len(kvs); i += 2 {
			b.Put(kvs[i], []byte(kvs[i+1]))
		}
		return nil
	})
	require.NoError(t, err)
}

func scanAll(t *testing.T, ctx context.Context, s *Session, rng proto.Range, families ...string) []*proto.Cell {
	sc, err := s.CreateScanner(ctx, testTable)
	require.NoError(t, err)
	defer sc.Close()
	sc.SetRange(rng)
	for _, f := range families {
		sc.FetchFamily(f)
	}
	var ret []*proto.Cell
	for {
		c, err := sc.Next()
		if err == io.EOF {
			return ret
		}
		require.NoError(t, err)
		ret = append(ret, c)
	}
}

func rowsOf(cells []*proto.Cell) []string {
	var rows []string
	for _, c := range cells {
		if len(rows) == 0 || rows[len(rows)-1] != c.Row {
			rows = append(rows, c.Row)
		}
	}
	return rows
}

func TestGateway_CreateTableIfNotExist(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t)
	s := g.Session("test")

	eg := errgroup.Group{}
	for i := 0; i < 16; i++ {
		eg.Go(func() error { return s.CreateTableIfNotExist(ctx, "index") })
	}
	require.NoError(t, eg.Wait())
	require.Equal(t, []string{"index", testTable}, s.Tables())

	require.True(t, errors.Is(s.CreateTableIfNotExist(ctx, ""), apierrors.ErrInvalidTable))

	_, err := s.CreateScanner(ctx, "missing")
	require.True(t, errors.Is(err, apierrors.ErrTableNotFound))
	_, err = s.GetBatchWriter(ctx, "missing")
	require.True(t, errors.Is(err, apierrors.ErrTableNotFound))
}

func TestGateway_ReopenKeepsTables(t *testing.T) {
	ctx := context.Background()
	kv, err := kvstore.NewKVStore(ctx, "", kvstore.LeveldbLsmKVType, &kvstore.Option{InMemory: true})
	require.NoError(t, err)
	defer kv.Close()

	g, err := Open(ctx, &Config{}, WithKVStore(kv))
	require.NoError(t, err)
	require.NoError(t, g.Session("test").CreateTableIfNotExist(ctx, "t1"))
	g.Close()

	g, err = Open(ctx, &Config{}, WithKVStore(kv))
	require.NoError(t, err)
	defer g.Close()
	require.Equal(t, []string{"t1"}, g.Tables())
}

func TestGateway_VersionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestGateway(t).Session("test")

	put(t, s, "r1", "f", "name", "old")
	put(t, s, "r1", "f", "name", "new", "age", "3")

	cells := scanAll(t, ctx, s, proto.ExactRow("r1"))
	require.Len(t, cells, 3)
	require.Equal(t, "age", cells[0].Qualifier)
	require.Equal(t, "name", cells[1].Qualifier)
	require.Equal(t, []byte("new"), cells[1].Value)
	require.Equal(t, []byte("old"), cells[2].Value)
	require.Greater(t, cells[1].Timestamp, cells[2].Timestamp)
	require.Equal(t, cells[0].Timestamp, cells[1].Timestamp)
}

func TestGateway_Ranges(t *testing.T) {
	ctx := context.Background()
	s := newTestGateway(t).Session("test")
	for _, row := range []string{"a", "ab", "b", "c", "p1/", "p10/"} {
		put(t, s, row, "f", "q", row)
	}

	require.Equal(t, []string{"a", "ab", "b", "c", "p1/", "p10/"}, rowsOf(scanAll(t, ctx, s, proto.Range{})))
	require.Equal(t, []string{"a"}, rowsOf(scanAll(t, ctx, s, proto.ExactRow("a"))))
	require.Equal(t, []string{"a", "ab"}, rowsOf(scanAll(t, ctx, s, proto.PrefixRange("a"))))
	require.Equal(t, []string{"p1/"}, rowsOf(scanAll(t, ctx, s, proto.PrefixRange("p1/"))))
	require.Equal(t, []string{"ab", "b", "c", "p1/", "p10/"}, rowsOf(scanAll(t, ctx, s, proto.StartRow("ab"))))
	require.Equal(t, []string{"ab", "b"}, rowsOf(scanAll(t, ctx, s, proto.BoundedRange("aa", "c"))))
	require.Nil(t, scanAll(t, ctx, s, proto.ExactRow("zz")))
}

func TestGateway_FetchFamily(t *testing.T) {
	ctx := context.Background()
	s := newTestGateway(t).Session("test")
	put(t, s, "r1", "Patient", "name", "alice")
	put(t, s, "r1", "Visit", "date", "today")
	put(t, s, "r2", "Patient", "name", "bob")

	cells := scanAll(t, ctx, s, proto.ExactRow("r1"), "Visit")
	require.Len(t, cells, 1)
	require.Equal(t, "date", cells[0].Qualifier)

	cells = scanAll(t, ctx, s, proto.Range{}, "Patient")
	require.Equal(t, []string{"r1", "r2"}, rowsOf(cells))

	cells = scanAll(t, ctx, s, proto.ExactRow("r1"), "Patient", "Visit")
	require.Len(t, cells, 2)
}

func TestGateway_Visibility(t *testing.T) {
	ctx := context.Background()
	policy := &proto.StaticVisibility{Qualifiers: map[string]proto.Label{"ssn": "phi&(clinician|audit)"}}
	s := newTestGateway(t, WithVisibility(policy), WithAuthorizations(proto.ContextAuthorizations{})).Session("test")
	put(t, s, "r1", "f", "name", "alice", "ssn", "123")

	cells := scanAll(t, ctx, s, proto.ExactRow("r1"))
	require.Len(t, cells, 1)
	require.Equal(t, "name", cells[0].Qualifier)

	cells = scanAll(t, proto.WithAuthorizations(ctx, proto.NewAuthorizations("phi")), s, proto.ExactRow("r1"))
	require.Len(t, cells, 1)

	cells = scanAll(t, proto.WithAuthorizations(ctx, proto.NewAuthorizations("phi", "audit")), s, proto.ExactRow("r1"))
	require.Len(t, cells, 2)
	require.Equal(t, proto.Label("phi&(clinician|audit)"), cells[1].Visibility)
}

func TestGateway_PutDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestGateway(t).Session("test")
	put(t, s, "r1", "f", "name", "v1", "namex", "keep")
	put(t, s, "r1", "f", "name", "v2")

	err := s.Save(ctx, testTable, "r1", func(b *mutation.Builder) error {
		b.SetFamily("f").PutDelete("name")
		return nil
	})
	require.NoError(t, err)

	cells := scanAll(t, ctx, s, proto.ExactRow("r1"))
	require.Len(t, cells, 1)
	require.Equal(t, "namex", cells[0].Qualifier)
}

func TestGateway_DeleteRowIDPrefix(t *testing.T) {
	ctx := context.Background()
	s := newTestGateway(t).Session("test")
	for _, row := range []string{"p1/", "p1/v1/", "p1/v2/", "p10/", "p2/"} {
		put(t, s, row, "f", "q", "v")
	}

	require.NoError(t, s.DeleteRowIDPrefix(ctx, testTable, "p1/"))
	require.Equal(t, []string{"p10/", "p2/"}, rowsOf(scanAll(t, ctx, s, proto.Range{})))

	require.NoError(t, s.DeleteRange(ctx, testTable, "p10/", "p2/"))
	require.Equal(t, []string{"p2/"}, rowsOf(scanAll(t, ctx, s, proto.Range{})))

	require.True(t, errors.Is(s.DeleteRowIDPrefix(ctx, testTable, ""), apierrors.ErrInvalidMutation))
	require.True(t, errors.Is(s.DeleteRange(ctx, testTable, "b", "a"), apierrors.ErrInvalidMutation))
}

func TestGateway_ScannerSnapshot(t *testing.T) {
	ctx := context.Background()
	s := newTestGateway(t).Session("test")
	put(t, s, "r1", "f", "q", "v1")

	sc, err := s.CreateScanner(ctx, testTable)
	require.NoError(t, err)
	defer sc.Close()
	put(t, s, "r2", "f", "q", "v2")

	c, err := sc.Next()
	require.NoError(t, err)
	require.Equal(t, "r1", c.Row)
	_, err = sc.Next()
	require.Equal(t, io.EOF, err)
	_, err = sc.Next()
	require.Equal(t, io.EOF, err)
}

func TestGateway_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t)

	w1, err := g.Session("a").GetBatchWriter(ctx, testTable)
	require.NoError(t, err)
	w2, err := g.Session("b").GetBatchWriter(ctx, testTable)
	require.NoError(t, err)
	require.Same(t, w1.tableWriter, w2.tableWriter)
	require.Equal(t, "a", w1.component)

	eg, egCtx := errgroup.WithContext(ctx)
	for i := 0; i < 8; i++ {
		i := i
		eg.Go(func() error {
			s := g.Session(fmt.Sprintf("writer-%d", i))
			for j := 0; j < 20; j++ {
				err := s.Save(egCtx, testTable, fmt.Sprintf("r%02d", j), func(b *mutation.Builder) error {
					b.SetFamily("f").Put(fmt.Sprintf("q%d", i), []byte("v"))
					return nil
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	require.Len(t, scanAll(t, ctx, g.Session("test"), proto.Range{}), 8*20)
	require.Equal(t, int64(8*20), w1.Mutations())

	stats, err := g.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Writers)
	require.Equal(t, []string{testTable}, stats.Tables)
}

func TestGateway_SharedRegistry(t *testing.T) {
	ctx := context.Background()
	reg := NewWriterRegistry()
	ga := newTestGateway(t, WithRegistry(reg))
	gb := newTestGateway(t, WithRegistry(reg))
	sa, sb := ga.Session("a"), gb.Session("b")

	put(t, sa, "row", "f", "q", "from-a")
	put(t, sb, "row", "f", "q", "from-b")

	cells := scanAll(t, ctx, sa, proto.ExactRow("row"))
	require.Len(t, cells, 1)
	require.Equal(t, []byte("from-a"), cells[0].Value)
	cells = scanAll(t, ctx, sb, proto.ExactRow("row"))
	require.Len(t, cells, 1)
	require.Equal(t, []byte("from-b"), cells[0].Value)

	wa, err := sa.GetBatchWriter(ctx, testTable)
	require.NoError(t, err)
	wb, err := sb.GetBatchWriter(ctx, testTable)
	require.NoError(t, err)
	require.NotSame(t, wa.tableWriter, wb.tableWriter)
	require.Equal(t, 2, reg.count(ga)+reg.count(gb))

	// closing one gateway keeps the other's writers
	ga.Close()
	require.Equal(t, 0, reg.count(ga))
	require.Equal(t, 1, reg.count(gb))
	put(t, sb, "row2", "f", "q", "v")
	stats, err := gb.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Writers)
}

func TestGateway_WriteTimerComponent(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t)
	w, err := g.Session("write-timer").GetBatchWriter(ctx, testTable)
	require.NoError(t, err)
	g.Close()

	m, err := mutation.NewBuilder(testTable, nil).Begin("r").SetFamily("f").Put("q", []byte("v")).Build()
	require.NoError(t, err)
	require.Error(t, w.Write(ctx, m))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.OperationErrors.WithLabelValues("write-timer", "write")))
	require.Equal(t, float64(0), testutil.ToFloat64(metrics.OperationErrors.WithLabelValues(testTable, "write")))
}

func TestGateway_WriteTimestamps(t *testing.T) {
	ctx := context.Background()
	s := newTestGateway(t).Session("test")
	b := mutation.NewBuilder(testTable, nil)
	m1, err := b.Begin("r").SetFamily("f").Put("q", []byte("first")).Build()
	require.NoError(t, err)
	m2, err := b.Begin("r").SetFamily("f").Put("q", []byte("second")).Build()
	require.NoError(t, err)

	w, err := s.GetBatchWriter(ctx, testTable)
	require.NoError(t, err)
	require.NoError(t, w.Write(ctx, m1, m2))

	cells := scanAll(t, ctx, s, proto.ExactRow("r"))
	require.Len(t, cells, 2)
	require.Equal(t, []byte("second"), cells[0].Value)
	require.NoError(t, w.Write(ctx))
}

func TestGateway_Closed(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t)
	s := g.Session("test")
	w, err := s.GetBatchWriter(ctx, testTable)
	require.NoError(t, err)
	g.Close()

	_, err = s.CreateScanner(ctx, testTable)
	require.True(t, errors.Is(err, apierrors.ErrStorageUnavailable))
	require.True(t, errors.Is(s.CreateTableIfNotExist(ctx, "other"), apierrors.ErrStorageUnavailable))
	m, err := mutation.NewBuilder(testTable, nil).Begin("r").SetFamily("f").Put("q", []byte("v")).Build()
	require.NoError(t, err)
	require.True(t, errors.Is(w.Write(ctx, m), apierrors.ErrStorageUnavailable))
	_, err = g.Stats(ctx)
	require.True(t, errors.Is(err, apierrors.ErrStorageUnavailable))
}

func TestClock(t *testing.T) {
	var c clock
	last := c.Now()
	for i := 0; i < 1000; i++ {
		now := c.Now()
		require.Greater(t, now, last)
		last = now
	}
}

func TestGateway_Limit(t *testing.T) {
	ctx := context.Background()
	g, err := Open(ctx, &Config{
		Engine:   kvstore.LeveldbLsmKVType,
		InMemory: true,
		Limit:    limiter.Config{ReadConcurrency: 1},
	})
	require.NoError(t, err)
	defer g.Close()
	s := g.Session("test")
	require.NoError(t, s.CreateTableIfNotExist(ctx, testTable))

	sc, err := s.CreateScanner(ctx, testTable)
	require.NoError(t, err)
	_, err = s.CreateScanner(ctx, testTable)
	require.True(t, errors.Is(err, apierrors.ErrStorageUnavailable))

	sc.Close()
	sc.Close()
	sc, err = s.CreateScanner(ctx, testTable)
	require.NoError(t, err)
	sc.Close()

	stats, err := g.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, stats.Limit.ReadRunning)
	require.Equal(t, 1, stats.Limit.Config.ReadConcurrency)
}
