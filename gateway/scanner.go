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
	"context"
	"fmt"
	"io"

	"github.com/cubefs/entitydb/common/kvstore"
	apierrors "github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/metrics"
	"github.com/cubefs/entitydb/proto"
)

// Scanner iterates the cells of a table in (row, family, qualifier, newest first) order.
// It reads from its own snapshot and is not safe for concurrent use.
type Scanner struct {
	ctx      context.Context
	session  *Session
	table    string
	cf       kvstore.CF
	snap     kvstore.Snapshot
	readOpt  kvstore.ReadOption
	auths    proto.Authorizations
	timer    *metrics.Timer
	rng      proto.Range
	families map[string]struct{}
	reader   kvstore.ListReader
	endKey   []byte
	err      error
	closed   bool
}

func (s *Session) CreateScanner(ctx context.Context, table string) (*Scanner, error) {
	if err := s.gw.hasTable(table); err != nil {
		metrics.StartTimer(s.component, "create_scanner").Done(err)
		return nil, err
	}
	if err := s.gw.limiter.AcquireRead(); err != nil {
		err = fmt.Errorf("scan table %s: %v: %w", table, err, apierrors.ErrStorageUnavailable)
		metrics.StartTimer(s.component, "create_scanner").Done(err)
		return nil, err
	}
	snap := s.gw.kv.NewSnapshot()
	readOpt := s.gw.kv.NewReadOption()
	readOpt.SetSnapShot(snap)
	return &Scanner{
		ctx:     ctx,
		session: s,
		table:   table,
		cf:      kvstore.CF(table),
		snap:    snap,
		readOpt: readOpt,
		auths:   s.gw.auths.Authorizations(ctx),
		timer:   metrics.StartTimer(s.component, "scan"),
		rng:     proto.Range{Type: proto.RangeAll},
	}, nil
}

// SetRange restricts the rows visited. It has no effect once Next was called.
func (sc *Scanner) SetRange(rng proto.Range) {
	sc.rng = rng
}

// FetchFamily restricts the scan to family, calling it again adds families.
func (sc *Scanner) FetchFamily(family string) {
	if sc.families == nil {
		sc.families = make(map[string]struct{})
	}
	sc.families[family] = struct{}{}
}

func (sc *Scanner) open() {
	var prefix, marker []byte
	switch sc.rng.Type {
	case proto.RangeExactRow:
		prefix = exactRowPrefix(sc.rng.Start)
		if len(sc.families) == 1 {
			for family := range sc.families {
				prefix = columnPrefix(sc.rng.Start, family)
			}
		}
	case proto.RangePrefix:
		if sc.rng.Start != "" {
			prefix = rowKeyPrefix(sc.rng.Start)
		}
	case proto.RangeStartRow:
		marker = rowKeyPrefix(sc.rng.Start)
	case proto.RangeBounded:
		marker = rowKeyPrefix(sc.rng.Start)
		sc.endKey = rowKeyPrefix(sc.rng.End)
	}
	sc.reader = sc.session.gw.kv.List(sc.ctx, sc.cf, prefix, marker, sc.readOpt)
}

// Next returns the next visible cell, or io.EOF once the range is exhausted.
func (sc *Scanner) Next() (*proto.Cell, error) {
	if sc.err != nil {
		return nil, sc.err
	}
	if sc.closed {
		return nil, fmt.Errorf("scanner of table %s closed: %w", sc.table, apierrors.ErrStorageUnavailable)
	}
	if sc.reader == nil {
		sc.open()
	}
	for {
		if err := sc.ctx.Err(); err != nil {
			sc.err = err
			return nil, err
		}
		key, value, err := sc.reader.ReadNextCopy()
		if err != nil {
			sc.err = fmt.Errorf("scan table %s: %v: %w", sc.table, err, apierrors.ErrStorageUnavailable)
			return nil, sc.err
		}
		if key == nil || (sc.endKey != nil && bytes.Compare(key, sc.endKey) >= 0) {
			sc.err = io.EOF
			return nil, io.EOF
		}

		cell := &proto.Cell{}
		if err = decodeCellKey(key, cell); err != nil {
			sc.err = err
			return nil, err
		}
		if sc.families != nil {
			if _, ok := sc.families[cell.Family]; !ok {
				continue
			}
		}
		if err = decodeCellValue(value, cell); err != nil {
			sc.err = err
			return nil, err
		}
		visible, err := cell.Visibility.Evaluate(sc.auths)
		if err != nil {
			sc.err = fmt.Errorf("cell %s: %v: %w", cell, err, apierrors.ErrEncoding)
			return nil, sc.err
		}
		if !visible {
			continue
		}
		if err = sc.session.gw.limiter.WaitRead(sc.ctx, len(key)+len(value)); err != nil {
			sc.err = err
			return nil, err
		}
		metrics.ScannedCells.WithLabelValues(sc.session.component).Inc()
		return cell, nil
	}
}

// Close releases the snapshot, it is safe to call more than once.
func (sc *Scanner) Close() {
	if sc.closed {
		return
	}
	sc.closed = true
	if sc.reader != nil {
		sc.reader.Close()
	}
	sc.readOpt.Close()
	sc.snap.Close()
	sc.session.gw.limiter.ReleaseRead()
	if sc.err == io.EOF {
		sc.timer.Done(nil)
		return
	}
	sc.timer.Done(sc.err)
}
