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
	"sync/atomic"
	"time"
)

// clock hands out strictly increasing nanosecond timestamps. Two mutations
// never share a timestamp, so the later write always wins on read.
type clock struct {
	last int64
}

func (c *clock) Now() int64 {
	for {
		last := atomic.LoadInt64(&c.last)
		now := time.Now().UnixNano()
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&c.last, last, now) {
			return now
		}
	}
}
