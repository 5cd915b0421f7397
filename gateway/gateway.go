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
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"golang.org/x/sync/singleflight"

	"github.com/cubefs/entitydb/common/kvstore"
	apierrors "github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/metrics"
	"github.com/cubefs/entitydb/mutation"
	"github.com/cubefs/entitydb/proto"
	"github.com/cubefs/entitydb/util/limiter"
)

type Config struct {
	Path     string            `json:"path"`
	Engine   kvstore.LsmKVType `json:"engine"`
	InMemory bool              `json:"in_memory"`
	KVOption kvstore.Option    `json:"kv_option"`
	Limit    limiter.Config    `json:"limit"`
}

type Option func(g *Gateway)

// WithAuthorizations sets the provider of reader authorizations, readers see only unlabelled cells by default.
func WithAuthorizations(provider proto.AuthorizationsProvider) Option {
	return func(g *Gateway) { g.auths = provider }
}

// WithVisibility sets the policy labelling written cells.
func WithVisibility(policy proto.VisibilityPolicy) Option {
	return func(g *Gateway) { g.policy = policy }
}

func WithRegistry(registry *WriterRegistry) Option {
	return func(g *Gateway) { g.writers = registry }
}

// WithKVStore runs the gateway on an opened store, which stays owned by the caller.
func WithKVStore(kv kvstore.Store) Option {
	return func(g *Gateway) { g.kv = kv }
}

// Gateway is the single access point to the tables of one key value store.
type Gateway struct {
	kv       kvstore.Store
	ownKV    bool
	auths    proto.AuthorizationsProvider
	policy   proto.VisibilityPolicy
	writers  *WriterRegistry
	writeOpt kvstore.WriteOption
	limiter  limiter.Limiter

	clock     clock
	tables    sync.Map
	singleRun *singleflight.Group
	closed    int32
}

type Stats struct {
	Tables  []string       `json:"tables"`
	Writers int            `json:"writers"`
	KV      kvstore.Stats  `json:"kv"`
	Limit   limiter.Status `json:"limit"`
}

func Open(ctx context.Context, cfg *Config, opts ...Option) (*Gateway, error) {
	span := trace.SpanFromContextSafe(ctx)

	g := &Gateway{
		auths:     proto.StaticAuthorizations(nil),
		policy:    proto.NoVisibility,
		singleRun: &singleflight.Group{},
		limiter:   limiter.New(cfg.Limit),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.writers == nil {
		g.writers = NewWriterRegistry()
	}
	if g.kv == nil {
		engine := cfg.Engine
		if engine == "" {
			engine = kvstore.RocksdbLsmKVType
		}
		kvOption := cfg.KVOption
		kvOption.CreateIfMissing = true
		kvOption.InMemory = cfg.InMemory
		kv, err := kvstore.NewKVStore(ctx, cfg.Path, engine, &kvOption)
		if err != nil {
			return nil, fmt.Errorf("open %s store at %s: %v: %w", engine, cfg.Path, err, apierrors.ErrStorageUnavailable)
		}
		g.kv = kv
		g.ownKV = true
	}
	g.writeOpt = g.kv.NewWriteOption()
	g.writeOpt.SetSync(cfg.KVOption.Sync)
	g.writeOpt.DisableWAL(cfg.KVOption.DisableWal)

	for _, col := range g.kv.GetAllColumns() {
		g.tables.Store(col.String(), struct{}{})
	}
	span.Infof("gateway opened, engine: %s, path: %s, tables: %v", cfg.Engine, cfg.Path, g.Tables())
	return g, nil
}

// Session binds the gateway to the component reported in metrics.
func (g *Gateway) Session(component string) *Session {
	return &Session{gw: g, component: component}
}

func (g *Gateway) Tables() []string {
	var ret []string
	g.tables.Range(func(key, _ interface{}) bool {
		ret = append(ret, key.(string))
		return true
	})
	sort.Strings(ret)
	return ret
}

func (g *Gateway) Stats(ctx context.Context) (Stats, error) {
	if err := g.checkOpen(); err != nil {
		return Stats{}, err
	}
	kvStats, err := g.kv.Stats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("kv stats: %v: %w", err, apierrors.ErrStorageUnavailable)
	}
	return Stats{Tables: g.Tables(), Writers: g.writers.count(g), KV: kvStats, Limit: g.limiter.Status()}, nil
}

func (g *Gateway) Close() {
	if !atomic.CompareAndSwapInt32(&g.closed, 0, 1) {
		return
	}
	g.writers.release(g)
	g.writeOpt.Close()
	if g.ownKV {
		g.kv.Close()
	}
}

func (g *Gateway) checkOpen() error {
	if atomic.LoadInt32(&g.closed) == 1 {
		return fmt.Errorf("gateway closed: %w", apierrors.ErrStorageUnavailable)
	}
	return nil
}

func (g *Gateway) hasTable(table string) error {
	if err := g.checkOpen(); err != nil {
		return err
	}
	if _, ok := g.tables.Load(table); !ok {
		return fmt.Errorf("table %s: %w", table, apierrors.ErrTableNotFound)
	}
	return nil
}

// Session is a component's handle on the gateway. Sessions are cheap and safe for concurrent use.
type Session struct {
	gw        *Gateway
	component string
}

func (s *Session) Component() string { return s.component }

func (s *Session) Tables() []string { return s.gw.Tables() }

func (s *Session) CreateTableIfNotExist(ctx context.Context, table string) (err error) {
	t := metrics.StartTimer(s.component, "create_table")
	defer func() { t.Done(err) }()

	if table == "" {
		return fmt.Errorf("empty table name: %w", apierrors.ErrInvalidTable)
	}
	if err = s.gw.checkOpen(); err != nil {
		return err
	}
	if _, ok := s.gw.tables.Load(table); ok {
		return nil
	}

	span := trace.SpanFromContextSafe(ctx)
	_, err, _ = s.gw.singleRun.Do(table, func() (interface{}, error) {
		if _, ok := s.gw.tables.Load(table); ok {
			return nil, nil
		}
		if err := s.gw.kv.CreateColumn(kvstore.CF(table)); err != nil {
			return nil, err
		}
		s.gw.tables.Store(table, struct{}{})
		span.Infof("table %s created by %s", table, s.component)
		return nil, nil
	})
	if err != nil {
		span.Errorf("create table %s failed: %s", table, err)
		return fmt.Errorf("create table %s: %v: %w", table, err, apierrors.ErrTableNotFound)
	}
	return nil
}

func (s *Session) GetBatchWriter(ctx context.Context, table string) (*BatchWriter, error) {
	if err := s.gw.hasTable(table); err != nil {
		return nil, err
	}
	return &BatchWriter{tableWriter: s.gw.writers.getOrCreate(s.gw, table), component: s.component}, nil
}

// Save builds the mutation of row through fn and commits it.
func (s *Session) Save(ctx context.Context, table, row string, fn func(b *mutation.Builder) error) (err error) {
	t := metrics.StartTimer(s.component, "save")
	defer func() { t.Done(err) }()

	b := mutation.NewBuilder(table, s.gw.policy).Begin(row)
	if err = fn(b); err != nil {
		return err
	}
	m, err := b.Build()
	if err != nil {
		return err
	}
	w, err := s.GetBatchWriter(ctx, table)
	if err != nil {
		return err
	}
	return w.Write(ctx, m)
}

// DeleteRange removes every row in [start, end).
func (s *Session) DeleteRange(ctx context.Context, table, start, end string) (err error) {
	t := metrics.StartTimer(s.component, "delete_range")
	defer func() { t.Done(err) }()

	if end == "" || start >= end {
		return fmt.Errorf("delete range [%q, %q): %w", start, end, apierrors.ErrInvalidMutation)
	}
	return s.deleteKeys(ctx, table, rowKeyPrefix(start), rowKeyPrefix(end))
}

// DeleteRowIDPrefix removes every row whose key starts with prefix.
func (s *Session) DeleteRowIDPrefix(ctx context.Context, table, prefix string) (err error) {
	t := metrics.StartTimer(s.component, "delete_prefix")
	defer func() { t.Done(err) }()

	if prefix == "" {
		return fmt.Errorf("delete with empty row prefix: %w", apierrors.ErrInvalidMutation)
	}
	start := rowKeyPrefix(prefix)
	return s.deleteKeys(ctx, table, start, prefixEnd(start))
}

func (s *Session) deleteKeys(ctx context.Context, table string, start, end []byte) error {
	if err := s.gw.hasTable(table); err != nil {
		return err
	}
	if err := s.gw.limiter.AcquireWrite(); err != nil {
		return fmt.Errorf("delete range of table %s: %v: %w", table, err, apierrors.ErrStorageUnavailable)
	}
	defer s.gw.limiter.ReleaseWrite()
	batch := s.gw.kv.NewWriteBatch()
	defer batch.Close()
	batch.DeleteRange(kvstore.CF(table), start, end)
	if err := s.gw.kv.Write(ctx, batch, s.gw.writeOpt); err != nil {
		trace.SpanFromContextSafe(ctx).Errorf("delete range of table %s failed: %s", table, err)
		return fmt.Errorf("delete range of table %s: %v: %w", table, err, apierrors.ErrStorageUnavailable)
	}
	return nil
}

func prefixEnd(prefix []byte) []byte {
	return []byte(proto.PrefixEnd(string(prefix)))
}
