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
	"encoding/binary"
	"fmt"
	"math"

	apierrors "github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/proto"
	"github.com/cubefs/entitydb/util"
)

// A cell is laid out in the table's column family as
//
//	key:   esc(row) 0x00 esc(family) 0x00 esc(qualifier) 0x00 ^timestamp
//	value: uvarint(len(label)) label payload
//
// esc never emits 0x00, so rows stay contiguous and sort before their extensions,
// and the inverted timestamp puts the newest version of a column first.

const (
	sep      = 0x00
	escByte  = 0x01
	tsSize   = 8
	maxLabel = 1 << 16
)

func appendEscaped(dst []byte, s string) []byte {
	for _, c := range util.StringsToBytes(s) {
		switch c {
		case sep:
			dst = append(dst, escByte, 0x01)
		case escByte:
			dst = append(dst, escByte, 0x02)
		default:
			dst = append(dst, c)
		}
	}
	return dst
}

func unescape(raw []byte) (string, error) {
	if bytes.IndexByte(raw, escByte) < 0 {
		return util.BytesToString(raw), nil
	}
	ret := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] != escByte {
			ret = append(ret, raw[i])
			continue
		}
		i++
		if i >= len(raw) {
			return "", fmt.Errorf("truncated escape in key: %w", apierrors.ErrEncoding)
		}
		switch raw[i] {
		case 0x01:
			ret = append(ret, sep)
		case 0x02:
			ret = append(ret, escByte)
		default:
			return "", fmt.Errorf("bad escape 0x%02x in key: %w", raw[i], apierrors.ErrEncoding)
		}
	}
	return string(ret), nil
}

// rowKeyPrefix is the key prefix shared by all cells of rows starting with rowPrefix.
func rowKeyPrefix(rowPrefix string) []byte {
	return appendEscaped(make([]byte, 0, len(rowPrefix)+1), rowPrefix)
}

// exactRowPrefix is the key prefix of every cell of exactly row.
func exactRowPrefix(row string) []byte {
	return append(rowKeyPrefix(row), sep)
}

func columnPrefix(row, family string) []byte {
	return append(appendEscaped(exactRowPrefix(row), family), sep)
}

func qualifierPrefix(row, family, qualifier string) []byte {
	return append(appendEscaped(columnPrefix(row, family), qualifier), sep)
}

func encodeCellKey(row, family, qualifier string, ts int64) []byte {
	key := qualifierPrefix(row, family, qualifier)
	var raw [tsSize]byte
	binary.BigEndian.PutUint64(raw[:], math.MaxUint64-uint64(ts))
	return append(key, raw[:]...)
}

func decodeCellKey(key []byte, cell *proto.Cell) (err error) {
	if len(key) < tsSize+1 || key[len(key)-tsSize-1] != sep {
		return fmt.Errorf("cell key too short: %w", apierrors.ErrEncoding)
	}
	cell.Timestamp = int64(math.MaxUint64 - binary.BigEndian.Uint64(key[len(key)-tsSize:]))
	parts := bytes.Split(key[:len(key)-tsSize-1], []byte{sep})
	if len(parts) != 3 {
		return fmt.Errorf("cell key has %d components: %w", len(parts), apierrors.ErrEncoding)
	}
	if cell.Row, err = unescape(parts[0]); err != nil {
		return
	}
	if cell.Family, err = unescape(parts[1]); err != nil {
		return
	}
	cell.Qualifier, err = unescape(parts[2])
	return
}

func encodeCellValue(label proto.Label, payload []byte) []byte {
	value := make([]byte, 0, binary.MaxVarintLen32+len(label)+len(payload))
	value = binary.AppendUvarint(value, uint64(len(label)))
	value = append(value, label...)
	return append(value, payload...)
}

func decodeCellValue(raw []byte, cell *proto.Cell) error {
	n, size := binary.Uvarint(raw)
	if size <= 0 || n > maxLabel || uint64(len(raw)-size) < n {
		return fmt.Errorf("corrupted cell value: %w", apierrors.ErrEncoding)
	}
	cell.Visibility = proto.Label(raw[size : size+int(n)])
	cell.Value = make([]byte, len(raw)-size-int(n))
	copy(cell.Value, raw[size+int(n):])
	return nil
}
