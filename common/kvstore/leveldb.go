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

package kvstore

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	ldbopt "github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// column families are emulated by prefixing keys with "<cf>\x00"; the set of
// created families lives under columnRegistryPrefix.
var columnRegistryPrefix = []byte{0x00, 'c', 'f', 0x00}

type (
	leveldbStore struct {
		db   *leveldb.DB
		wo   *ldbopt.WriteOptions
		cols map[CF]struct{}
		lock sync.RWMutex
		// serializes batches, range deletes read before they write
		writeLock sync.Mutex
	}
	leveldbSnapshot struct {
		snap *leveldb.Snapshot
	}
	leveldbReadOption struct {
		snap *leveldb.Snapshot
	}
	leveldbWriteOption struct {
		opt ldbopt.WriteOptions
	}
	leveldbListReader struct {
		iterator  iterator.Iterator
		cfPrefix  []byte
		marker    []byte
		started   bool
		exhausted bool
	}
	// leveldbBatchOp is a put, or a range delete of [key, end). An empty end
	// deletes up to the end of the column.
	leveldbBatchOp struct {
		col   CF
		key   []byte
		value []byte
		end   []byte
		rng   bool
	}
	leveldbWriteBatch struct {
		ops []leveldbBatchOp
	}
)

func newLeveldb(ctx context.Context, path string, option *Option) (Store, error) {
	o := &ldbopt.Options{
		ErrorIfMissing: !option.CreateIfMissing && !option.InMemory,
		NoSync:         !option.Sync,
	}
	if option.BlockSize > 0 {
		o.BlockSize = option.BlockSize
	}
	if option.BlockCache > 0 {
		o.BlockCacheCapacity = int(option.BlockCache)
	}
	if option.WriteBufferSize > 0 {
		o.WriteBuffer = option.WriteBufferSize
	}
	if option.MaxOpenFiles > 0 {
		o.OpenFilesCacheCapacity = option.MaxOpenFiles
	}

	var (
		db  *leveldb.DB
		err error
	)
	if option.InMemory {
		db, err = leveldb.Open(storage.NewMemStorage(), o)
	} else {
		if path == "" {
			return nil, errors.New("path is empty")
		}
		db, err = leveldb.OpenFile(path, o)
	}
	if err != nil {
		return nil, err
	}

	s := &leveldbStore{
		db:   db,
		wo:   &ldbopt.WriteOptions{Sync: option.Sync},
		cols: map[CF]struct{}{defaultCF: {}},
	}
	iter := db.NewIterator(util.BytesPrefix(columnRegistryPrefix), nil)
	for iter.Next() {
		s.cols[CF(iter.Key()[len(columnRegistryPrefix):])] = struct{}{}
	}
	iter.Release()
	if err = iter.Error(); err != nil {
		db.Close()
		return nil, err
	}
	for _, col := range option.ColumnFamily {
		if err = s.CreateColumn(col); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

func leveldbCFPrefix(col CF) []byte {
	if col == "" {
		col = defaultCF
	}
	ret := make([]byte, len(col)+1)
	copy(ret, col)
	return ret
}

func leveldbKey(col CF, key []byte) []byte {
	prefix := leveldbCFPrefix(col)
	ret := make([]byte, len(prefix)+len(key))
	copy(ret, prefix)
	copy(ret[len(prefix):], key)
	return ret
}

func (ss *leveldbSnapshot) Close() {
	ss.snap.Release()
}

func (ro *leveldbReadOption) SetSnapShot(snap Snapshot) {
	ro.snap = snap.(*leveldbSnapshot).snap
}

func (ro *leveldbReadOption) Close() {}

func (wo *leveldbWriteOption) SetSync(value bool) {
	wo.opt.Sync = value
}

// DisableWAL is a no-op, leveldb always journals.
func (wo *leveldbWriteOption) DisableWAL(value bool) {}

func (wo *leveldbWriteOption) Close() {}

func (lr *leveldbListReader) ReadNextCopy() (key []byte, value []byte, err error) {
	if lr.exhausted {
		return nil, nil, nil
	}
	var ok bool
	switch {
	case lr.started:
		ok = lr.iterator.Next()
	case lr.marker != nil:
		ok = lr.iterator.Seek(lr.marker)
	default:
		ok = lr.iterator.First()
	}
	lr.started = true
	if err = lr.iterator.Error(); err != nil {
		return nil, nil, err
	}
	if !ok {
		lr.exhausted = true
		return nil, nil, nil
	}
	key = append([]byte(nil), lr.iterator.Key()[len(lr.cfPrefix):]...)
	value = append([]byte(nil), lr.iterator.Value()...)
	return key, value, nil
}

func (lr *leveldbListReader) Close() {
	lr.iterator.Release()
}

func (w *leveldbWriteBatch) Put(col CF, key, value []byte) {
	w.ops = append(w.ops, leveldbBatchOp{
		col:   col,
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
}

func (w *leveldbWriteBatch) DeleteRange(col CF, startKey, endKey []byte) {
	w.ops = append(w.ops, leveldbBatchOp{
		col: col,
		key: append([]byte(nil), startKey...),
		end: append([]byte(nil), endKey...),
		rng: true,
	})
}

func (w *leveldbWriteBatch) Close() {
	w.ops = nil
}

func (s *leveldbStore) NewSnapshot() Snapshot {
	snap, err := s.db.GetSnapshot()
	if err != nil {
		panic(err)
	}
	return &leveldbSnapshot{snap: snap}
}

func (s *leveldbStore) NewReadOption() ReadOption {
	return &leveldbReadOption{}
}

func (s *leveldbStore) NewWriteOption() WriteOption {
	return &leveldbWriteOption{opt: *s.wo}
}

func (s *leveldbStore) NewWriteBatch() WriteBatch {
	return &leveldbWriteBatch{}
}

func (s *leveldbStore) CreateColumn(col CF) error {
	if col == "" || bytes.IndexByte([]byte(col), 0) >= 0 {
		return errors.New("invalid column name")
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.cols[col]; ok {
		return nil
	}
	key := append(append([]byte(nil), columnRegistryPrefix...), col...)
	if err := s.db.Put(key, nil, s.wo); err != nil {
		return err
	}
	s.cols[col] = struct{}{}
	return nil
}

func (s *leveldbStore) GetAllColumns() (ret []CF) {
	s.lock.RLock()
	for col := range s.cols {
		if col != defaultCF {
			ret = append(ret, col)
		}
	}
	s.lock.RUnlock()
	return
}

func (s *leveldbStore) List(ctx context.Context, col CF, prefix []byte, marker []byte, readOpt ReadOption) ListReader {
	cfPrefix := leveldbCFPrefix(col)
	rng := util.BytesPrefix(append(append([]byte(nil), cfPrefix...), prefix...))

	var iter iterator.Iterator
	if ro, ok := readOpt.(*leveldbReadOption); ok && ro.snap != nil {
		iter = ro.snap.NewIterator(rng, nil)
	} else {
		iter = s.db.NewIterator(rng, nil)
	}
	lr := &leveldbListReader{iterator: iter, cfPrefix: cfPrefix}
	if len(marker) > 0 {
		lr.marker = append(append([]byte(nil), cfPrefix...), marker...)
	}
	return lr
}

func (s *leveldbStore) Write(ctx context.Context, batch WriteBatch, writeOpt WriteOption) error {
	wo := s.wo
	if writeOpt != nil {
		wo = &writeOpt.(*leveldbWriteOption).opt
	}
	ops := batch.(*leveldbWriteBatch).ops

	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	b := new(leveldb.Batch)
	var pending [][]byte
	for i := range ops {
		op := &ops[i]
		if !op.rng {
			key := leveldbKey(op.col, op.key)
			b.Put(key, op.value)
			pending = append(pending, key)
			continue
		}

		start, end := leveldbKey(op.col, op.key), leveldbKey(op.col, op.end)
		if len(op.end) == 0 {
			// the column prefix ends with 0x00
			end[len(end)-1]++
		}
		iter := s.db.NewIterator(&util.Range{Start: start, Limit: end}, nil)
		for iter.Next() {
			b.Delete(append([]byte(nil), iter.Key()...))
		}
		iter.Release()
		if err := iter.Error(); err != nil {
			return err
		}
		// puts queued earlier in this batch are not visible to the iterator
		for _, key := range pending {
			if bytes.Compare(key, start) >= 0 && bytes.Compare(key, end) < 0 {
				b.Delete(key)
			}
		}
	}
	return s.db.Write(b, wo)
}

func (s *leveldbStore) Stats(ctx context.Context) (stats Stats, err error) {
	sizes, err := s.db.SizeOf([]util.Range{{Limit: []byte{0xff, 0xff, 0xff, 0xff}}})
	if err != nil {
		return
	}
	stats.Used = uint64(sizes.Sum())
	return
}

func (s *leveldbStore) Close() {
	s.db.Close()
}
