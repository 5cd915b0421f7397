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

// Cell is one versioned datum of a row.
type Cell struct {
	Row        string
	Family     string
	Qualifier  string
	Timestamp  int64
	Value      []byte
	Visibility Label
}

func (c *Cell) String() string {
	return c.Row + " " + c.Family + ":" + c.Qualifier + " [" + string(c.Visibility) + "]"
}

type RangeType uint8

const (
	RangeAll RangeType = iota
	RangeExactRow
	RangePrefix
	RangeStartRow
	RangeBounded
)

// Range selects the rows a scanner visits.
type Range struct {
	Type  RangeType
	Start string
	// End is exclusive and only used by bounded ranges.
	End string
}

func ExactRow(row string) Range {
	return Range{Type: RangeExactRow, Start: row}
}

// PrefixRange selects every row starting with prefix.
func PrefixRange(prefix string) Range {
	return Range{Type: RangePrefix, Start: prefix}
}

// StartRow selects every row greater than or equal to start.
func StartRow(start string) Range {
	return Range{Type: RangeStartRow, Start: start}
}

// BoundedRange selects rows in [start, end).
func BoundedRange(start, end string) Range {
	return Range{Type: RangeBounded, Start: start, End: end}
}

// PrefixEnd returns the smallest key greater than every key with the prefix,
// or "" when no such key exists.
func PrefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}
