// Copyright 2023 The Cuber Authors.
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

package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	rdb "github.com/tecbot/gorocksdb"
)

type (
	rocksdb struct {
		db        *rdb.DB
		opt       *rdb.Options
		readOpt   *rdb.ReadOptions
		writeOpt  *rdb.WriteOptions
		cfHandles map[CF]*rdb.ColumnFamilyHandle
		lock      sync.RWMutex
	}
	snapshot struct {
		db   *rdb.DB
		snap *rdb.Snapshot
	}
	readOption struct {
		opt *rdb.ReadOptions
	}
	writeOption struct {
		opt *rdb.WriteOptions
	}
	listReader struct {
		iterator *rdb.Iterator
		prefix   []byte
		started  bool
	}
	writeBatch struct {
		s     *rocksdb
		batch *rdb.WriteBatch
	}
)

func newRocksdb(ctx context.Context, path string, option *Option) (Store, error) {
	if path == "" {
		return nil, errors.New("path is empty")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	dbOpt := genRocksdbOpts(option)

	// column families created by earlier runs must be opened together with the db
	existing, _ := rdb.ListColumnFamilies(dbOpt, path)
	cols := []CF{defaultCF}
	seen := map[CF]bool{defaultCF: true}
	for _, name := range append(existing, cfNames(option.ColumnFamily)...) {
		if !seen[CF(name)] {
			seen[CF(name)] = true
			cols = append(cols, CF(name))
		}
	}
	cfOpts := make([]*rdb.Options, len(cols))
	for i := range cfOpts {
		cfOpts[i] = dbOpt
	}
	db, handles, err := rdb.OpenDbColumnFamilies(dbOpt, path, cfNames(cols), cfOpts)
	if err != nil {
		return nil, err
	}

	s := &rocksdb{
		db:        db,
		opt:       dbOpt,
		readOpt:   rdb.NewDefaultReadOptions(),
		writeOpt:  rdb.NewDefaultWriteOptions(),
		cfHandles: make(map[CF]*rdb.ColumnFamilyHandle, len(cols)),
	}
	for i, h := range handles {
		s.cfHandles[cols[i]] = h
	}
	s.writeOpt.SetSync(option.Sync)
	s.writeOpt.DisableWAL(option.DisableWal)
	return s, nil
}

func cfNames(cols []CF) []string {
	ret := make([]string, len(cols))
	for i := range cols {
		ret[i] = cols[i].String()
	}
	return ret
}

func (ss *snapshot) Close() { ss.db.ReleaseSnapshot(ss.snap) }

func (ro *readOption) SetSnapShot(snap Snapshot) { ro.opt.SetSnapshot(snap.(*snapshot).snap) }

func (ro *readOption) Close() { ro.opt.Destroy() }

func (wo *writeOption) SetSync(value bool) { wo.opt.SetSync(value) }

func (wo *writeOption) DisableWAL(value bool) { wo.opt.DisableWAL(value) }

func (wo *writeOption) Close() { wo.opt.Destroy() }

func (lr *listReader) ReadNextCopy() (key []byte, value []byte, err error) {
	if lr.started {
		lr.iterator.Next()
	}
	lr.started = true
	if err = lr.iterator.Err(); err != nil {
		return nil, nil, err
	}
	if !lr.iterator.Valid() || (lr.prefix != nil && !lr.iterator.ValidForPrefix(lr.prefix)) {
		return nil, nil, nil
	}
	k, v := lr.iterator.Key(), lr.iterator.Value()
	key = append([]byte(nil), k.Data()...)
	value = append(make([]byte, 0, v.Size()), v.Data()...)
	k.Free()
	v.Free()
	return key, value, nil
}

func (lr *listReader) Close() { lr.iterator.Close() }

func (w *writeBatch) Put(col CF, key, value []byte) {
	w.batch.PutCF(w.s.getColumnFamily(col), key, value)
}

func (w *writeBatch) DeleteRange(col CF, startKey, endKey []byte) {
	w.batch.DeleteRangeCF(w.s.getColumnFamily(col), startKey, endKey)
}

func (w *writeBatch) Close() { w.batch.Destroy() }

func (s *rocksdb) NewSnapshot() Snapshot {
	return &snapshot{db: s.db, snap: s.db.NewSnapshot()}
}

func (s *rocksdb) NewReadOption() ReadOption {
	return &readOption{opt: rdb.NewDefaultReadOptions()}
}

func (s *rocksdb) NewWriteOption() WriteOption {
	return &writeOption{opt: rdb.NewDefaultWriteOptions()}
}

func (s *rocksdb) NewWriteBatch() WriteBatch {
	return &writeBatch{s: s, batch: rdb.NewWriteBatch()}
}

func (s *rocksdb) CreateColumn(col CF) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.cfHandles[col] != nil {
		return nil
	}
	h, err := s.db.CreateColumnFamily(s.opt, col.String())
	if err != nil {
		return err
	}
	s.cfHandles[col] = h
	return nil
}

func (s *rocksdb) GetAllColumns() (ret []CF) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	for col := range s.cfHandles {
		if col != defaultCF {
			ret = append(ret, col)
		}
	}
	return
}

func (s *rocksdb) List(ctx context.Context, col CF, prefix []byte, marker []byte, readOpt ReadOption) ListReader {
	ro := s.readOpt
	if readOpt != nil {
		ro = readOpt.(*readOption).opt
	}
	it := s.db.NewIteratorCF(ro, s.getColumnFamily(col))
	switch {
	case len(marker) > 0:
		it.Seek(marker)
	case prefix != nil:
		it.Seek(prefix)
	default:
		it.SeekToFirst()
	}
	return &listReader{iterator: it, prefix: prefix}
}

func (s *rocksdb) Write(ctx context.Context, batch WriteBatch, writeOpt WriteOption) error {
	wo := s.writeOpt
	if writeOpt != nil {
		wo = writeOpt.(*writeOption).opt
	}
	return s.db.Write(wo, batch.(*writeBatch).batch)
}

func (s *rocksdb) Stats(ctx context.Context) (stats Stats, err error) {
	property := func(name string, cf *rdb.ColumnFamilyHandle) uint64 {
		var v string
		if cf == nil {
			v = s.db.GetProperty(name)
		} else {
			v = s.db.GetPropertyCF(name, cf)
		}
		n, _ := strconv.ParseUint(v, 10, 64)
		return n
	}

	for _, f := range s.db.GetLiveFilesMetaData() {
		stats.Used += uint64(f.Size)
	}
	usage := &stats.MemoryUsage
	s.lock.RLock()
	for _, cf := range s.cfHandles {
		usage.IndexAndFilterUsage += property("rocksdb.estimate-table-readers-mem", cf)
		usage.MemtableUsage += property("rocksdb.cur-size-all-mem-tables", cf)
	}
	s.lock.RUnlock()
	usage.BlockCacheUsage = property("rocksdb.block-cache-usage", nil)
	usage.BlockPinnedUsage = property("rocksdb.block-cache-pinned-usage", nil)
	usage.Total = usage.BlockCacheUsage + usage.IndexAndFilterUsage + usage.MemtableUsage + usage.BlockPinnedUsage
	return
}

func (s *rocksdb) Close() {
	s.writeOpt.Destroy()
	s.readOpt.Destroy()
	for _, h := range s.cfHandles {
		h.Destroy()
	}
	s.db.Close()
	s.opt.Destroy()
}

// getColumnFamily panics on an unknown column, callers check table existence first.
func (s *rocksdb) getColumnFamily(col CF) *rdb.ColumnFamilyHandle {
	if col == "" {
		col = defaultCF
	}
	s.lock.RLock()
	cf, ok := s.cfHandles[col]
	s.lock.RUnlock()
	if !ok {
		panic(fmt.Sprintf("column family %s does not exist", col))
	}
	return cf
}

func genRocksdbOpts(opt *Option) *rdb.Options {
	opts := rdb.NewDefaultOptions()
	tableOpt := rdb.NewDefaultBlockBasedTableOptions()
	fifoOpt := rdb.NewDefaultFIFOCompactionOptions()

	positive := func(v int, set func(int)) {
		if v > 0 {
			set(v)
		}
	}
	positive64 := func(v uint64, set func(uint64)) {
		if v > 0 {
			set(v)
		}
	}

	opts.SetCreateIfMissing(opt.CreateIfMissing)
	opts.SetCreateIfMissingColumnFamilies(true)
	opts.SetEnablePipelinedWrite(opt.EnablePipelinedWrite)
	opts.SetLevelCompactionDynamicLevelBytes(opt.LevelCompactionDynamicLevelBytes)

	positive(opt.BlockSize, tableOpt.SetBlockSize)
	if opt.BlockCache > 0 {
		tableOpt.SetBlockCache(rdb.NewLRUCache(opt.BlockCache))
	}
	positive(opt.MaxBackgroundCompactions, opts.SetMaxBackgroundCompactions)
	positive(opt.MaxBackgroundFlushes, opts.SetMaxBackgroundFlushes)
	positive(opt.MaxSubCompactions, opts.SetMaxSubCompactions)
	positive(opt.MaxOpenFiles, opts.SetMaxOpenFiles)
	positive(opt.MinWriteBufferNumberToMerge, opts.SetMinWriteBufferNumberToMerge)
	positive(opt.MaxWriteBufferNumber, opts.SetMaxWriteBufferNumber)
	positive(opt.WriteBufferSize, opts.SetWriteBufferSize)
	positive(opt.ArenaBlockSize, opts.SetArenaBlockSize)
	positive(opt.KeepLogFileNum, opts.SetKeepLogFileNum)
	positive(opt.MaxLogFileSize, opts.SetMaxLogFileSize)
	positive(opt.Level0SlowdownWritesTrigger, opts.SetLevel0SlowdownWritesTrigger)
	positive(opt.Level0StopWritesTrigger, opts.SetLevel0StopWritesTrigger)
	positive64(opt.TargetFileSizeBase, opts.SetTargetFileSizeBase)
	positive64(opt.MaxBytesForLevelBase, opts.SetMaxBytesForLevelBase)
	positive64(opt.SoftPendingCompactionBytesLimit, opts.SetSoftPendingCompactionBytesLimit)
	positive64(opt.HardPendingCompactionBytesLimit, opts.SetHardPendingCompactionBytesLimit)
	positive64(opt.MaxWalLogSize, opts.SetMaxTotalWalSize)
	positive(opt.CompactionOptionFIFO.MaxTableFileSize, func(v int) { fifoOpt.SetMaxTableFilesSize(uint64(v)) })

	switch opt.CompactionStyle {
	case FIFOStyle:
		opts.SetCompactionStyle(rdb.FIFOCompactionStyle)
	case LevelStyle:
		opts.SetCompactionStyle(rdb.LevelCompactionStyle)
	case UniversalStyle:
		opts.SetCompactionStyle(rdb.UniversalCompactionStyle)
	}

	opts.SetEnv(rdb.NewDefaultEnv())
	opts.SetStatsDumpPeriodSec(0)
	opts.SetStatsPersistPeriodSec(0)
	opts.SetBlockBasedTableFactory(tableOpt)
	opts.SetFIFOCompactionOptions(fifoOpt)
	return opts
}
