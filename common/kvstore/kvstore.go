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
)

const (
	defaultCF = "default"

	RocksdbLsmKVType = LsmKVType("rocksdb")
	LeveldbLsmKVType = LsmKVType("leveldb")

	FIFOStyle      = CompactionStyle("fifo")
	LevelStyle     = CompactionStyle("level")
	UniversalStyle = CompactionStyle("universal")
)

var ErrKVTypeNotFound = errors.New("kv type not found")

type (
	CF              string
	LsmKVType       string
	CompactionStyle string

	// Store is a sorted key value engine whose keys are split in column families.
	Store interface {
		NewSnapshot() Snapshot
		// CreateColumn is idempotent, columns created by earlier runs are
		// reported by GetAllColumns after a reopen.
		CreateColumn(col CF) error
		GetAllColumns() []CF
		List(ctx context.Context, col CF, prefix []byte, marker []byte, readOpt ReadOption) ListReader
		Write(ctx context.Context, batch WriteBatch, writeOpt WriteOption) error
		NewReadOption() (readOption ReadOption)
		NewWriteOption() (writeOption WriteOption)
		NewWriteBatch() (writeBatch WriteBatch)
		Stats(ctx context.Context) (Stats, error)
		Close()
	}
	// ListReader iterates keys in ascending order, bounded by the prefix it was
	// created with and starting at its marker. ReadNextCopy returns a nil key
	// once the range is exhausted.
	ListReader interface {
		ReadNextCopy() (key []byte, value []byte, err error)
		Close()
	}
	Snapshot interface {
		Close()
	}
	ReadOption interface {
		SetSnapShot(snap Snapshot)
		Close()
	}
	WriteOption interface {
		SetSync(value bool)
		DisableWAL(value bool)
		Close()
	}
	// WriteBatch is applied atomically by Store.Write, in the order the
	// operations were added.
	WriteBatch interface {
		Put(col CF, key, value []byte)
		// DeleteRange removes [startKey, endKey) of col.
		DeleteRange(col CF, startKey, endKey []byte)
		Close()
	}

	Stats struct {
		Used        uint64      `json:"used"`
		MemoryUsage MemoryUsage `json:"memory_usage"`
	}
	MemoryUsage struct {
		BlockCacheUsage     uint64 `json:"block_cache_usage"`
		IndexAndFilterUsage uint64 `json:"index_and_filter_usage"`
		MemtableUsage       uint64 `json:"memtable_usage"`
		BlockPinnedUsage    uint64 `json:"block_pinned_usage"`
		Total               uint64 `json:"total"`
	}
	Option struct {
		Sync                             bool                 `json:"sync"`
		DisableWal                       bool                 `json:"disable_wal"`
		ColumnFamily                     []CF                 `json:"column_family"`
		CreateIfMissing                  bool                 `json:"create_if_missing"`
		// InMemory keeps the whole store in memory, only honoured by leveldb.
		InMemory                         bool                 `json:"in_memory"`
		BlockSize                        int                  `json:"block_size"`
		BlockCache                       uint64               `json:"block_cache"`
		EnablePipelinedWrite             bool                 `json:"enable_pipelined_write"`
		MaxBackgroundCompactions         int                  `json:"max_background_compactions"`
		MaxBackgroundFlushes             int                  `json:"max_background_flushes"`
		MaxSubCompactions                int                  `json:"max_sub_compactions"`
		LevelCompactionDynamicLevelBytes bool                 `json:"level_compaction_dynamic_level_bytes"`
		MaxOpenFiles                     int                  `json:"max_open_files"`
		MinWriteBufferNumberToMerge      int                  `json:"min_write_buffer_number_to_merge"`
		MaxWriteBufferNumber             int                  `json:"max_write_buffer_number"`
		WriteBufferSize                  int                  `json:"write_buffer_size"`
		ArenaBlockSize                   int                  `json:"arena_block_size"`
		TargetFileSizeBase               uint64               `json:"target_file_size_base"`
		MaxBytesForLevelBase             uint64               `json:"max_bytes_for_level_base"`
		KeepLogFileNum                   int                  `json:"keep_log_file_num"`
		MaxLogFileSize                   int                  `json:"max_log_file_size"`
		Level0SlowdownWritesTrigger      int                  `json:"level0_slowdown_writes_trigger"`
		Level0StopWritesTrigger          int                  `json:"level0_stop_writes_trigger"`
		SoftPendingCompactionBytesLimit  uint64               `json:"soft_pending_compaction_bytes_limit"`
		HardPendingCompactionBytesLimit  uint64               `json:"hard_pending_compaction_bytes_limit"`
		MaxWalLogSize                    uint64               `json:"max_wal_log_size"`
		CompactionStyle                  CompactionStyle      `json:"compaction_style"`
		CompactionOptionFIFO             CompactionOptionFIFO `json:"compaction_option_fifo"`
	}
	CompactionOptionFIFO struct {
		MaxTableFileSize int  `json:"max_table_file_size"`
		AllowCompaction  bool `json:"allow_compaction"`
	}
)

func NewKVStore(ctx context.Context, path string, lsmType LsmKVType, option *Option) (Store, error) {
	switch lsmType {
	case RocksdbLsmKVType:
		return newRocksdb(ctx, path, option)
	case LeveldbLsmKVType:
		return newLeveldb(ctx, path, option)
	default:
		return nil, ErrKVTypeNotFound
	}
}

func (cf CF) String() string {
	return string(cf)
}
