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
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/cubefs/entitydb/common/kvstore"
	apierrors "github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/metrics"
	"github.com/cubefs/entitydb/mutation"
)

// WriterRegistry caches one table writer per gateway and table. A registry may
// be shared by several gateways, each only sees the writers it created.
type WriterRegistry struct {
	writers sync.Map
}

type writerKey struct {
	gw    *Gateway
	table string
}

func NewWriterRegistry() *WriterRegistry {
	return &WriterRegistry{}
}

func (r *WriterRegistry) getOrCreate(gw *Gateway, table string) *tableWriter {
	key := writerKey{gw: gw, table: table}
	if w, ok := r.writers.Load(key); ok {
		return w.(*tableWriter)
	}
	w, _ := r.writers.LoadOrStore(key, &tableWriter{gw: gw, table: table, cf: kvstore.CF(table)})
	return w.(*tableWriter)
}

func (r *WriterRegistry) count(gw *Gateway) (n int) {
	r.writers.Range(func(key, _ interface{}) bool {
		if key.(writerKey).gw == gw {
			n++
		}
		return true
	})
	return
}

// release drops the writers of gw, writers handed out before keep failing
// with the gateway closed error.
func (r *WriterRegistry) release(gw *Gateway) {
	r.writers.Range(func(key, _ interface{}) bool {
		if key.(writerKey).gw == gw {
			r.writers.Delete(key)
		}
		return true
	})
}

// tableWriter commits mutations of one table of one gateway. It is shared by
// every session writing the table.
type tableWriter struct {
	gw    *Gateway
	table string
	cf    kvstore.CF

	mutations int64
}

// BatchWriter is a session's handle on the shared writer of a table.
type BatchWriter struct {
	*tableWriter
	component string
}

func (w *BatchWriter) Table() string { return w.table }

// Mutations is the number of mutations committed to the table through any session.
func (w *BatchWriter) Mutations() int64 { return atomic.LoadInt64(&w.mutations) }

// Write applies muts in one atomic batch. Each mutation gets its own timestamp,
// later mutations of the call get later timestamps. Write returns once the
// store has acknowledged the batch.
func (w *BatchWriter) Write(ctx context.Context, muts ...*mutation.Mutation) (err error) {
	t := metrics.StartTimer(w.component, "write")
	defer func() { t.Done(err) }()
	return w.write(ctx, muts)
}

func (w *tableWriter) write(ctx context.Context, muts []*mutation.Mutation) (err error) {
	if err = w.gw.hasTable(w.table); err != nil {
		return err
	}
	if len(muts) == 0 {
		return nil
	}

	if err = w.gw.limiter.AcquireWrite(); err != nil {
		return fmt.Errorf("write table %s: %v: %w", w.table, err, apierrors.ErrStorageUnavailable)
	}
	defer w.gw.limiter.ReleaseWrite()

	size := 0
	batch := w.gw.kv.NewWriteBatch()
	defer batch.Close()
	for _, m := range muts {
		if m == nil || m.Row == "" {
			return fmt.Errorf("mutation without row: %w", apierrors.ErrInvalidMutation)
		}
		size += m.Size()
		ts := w.gw.clock.Now()
		for i := range m.Entries {
			e := &m.Entries[i]
			if e.Delete {
				start := qualifierPrefix(m.Row, e.Family, e.Qualifier)
				batch.DeleteRange(w.cf, start, prefixEnd(start))
				continue
			}
			batch.Put(w.cf, encodeCellKey(m.Row, e.Family, e.Qualifier, ts), encodeCellValue(e.Visibility, e.Value))
		}
	}

	if err = w.gw.limiter.WaitWrite(ctx, size); err != nil {
		return err
	}
	if err = w.gw.kv.Write(ctx, batch, w.gw.writeOpt); err != nil {
		trace.SpanFromContextSafe(ctx).Errorf("write %d mutations to table %s failed: %s", len(muts), w.table, err)
		return fmt.Errorf("write table %s: %v: %w", w.table, err, apierrors.ErrStorageUnavailable)
	}
	atomic.AddInt64(&w.mutations, int64(len(muts)))
	return nil
}
