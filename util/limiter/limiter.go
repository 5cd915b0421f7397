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

package limiter

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

var ErrLimitExceeded = errors.New("limit exceeded")

type (
	// Limiter throttles a store: concurrency limits reject, byte rates block.
	Limiter interface {
		AcquireRead() error
		ReleaseRead()
		AcquireWrite() error
		ReleaseWrite()
		// WaitRead blocks until n more bytes may be read.
		WaitRead(ctx context.Context, n int) error
		WaitWrite(ctx context.Context, n int) error
		SetReadConcurrency(value uint32)
		SetWriteConcurrency(value uint32)
		Status() Status
	}
	CountLimit interface {
		Running() int
		Acquire() error
		Release()
		SetLimit(limit uint32)
	}
	// Config zero values disable the corresponding limit.
	Config struct {
		ReadConcurrency  int `json:"read_concurrency"`
		WriteConcurrency int `json:"write_concurrency"`
		ReadMBPS         int `json:"read_mbps"`
		WriteMBPS        int `json:"write_mbps"`
	}
	Status struct {
		Config       Config `json:"config"`
		ReadRunning  int    `json:"read_running"`
		WriteRunning int    `json:"write_running"`
		ReadWaitMs   int    `json:"read_wait_ms"`
		WriteWaitMs  int    `json:"write_wait_ms"`
	}
	limiter struct {
		config          Config
		readCountLimit  CountLimit
		writeCountLimit CountLimit
		rateReader      *rate.Limiter
		rateWriter      *rate.Limiter
	}
)

func New(cfg Config) Limiter {
	mb := 1 << 20
	l := &limiter{config: cfg}
	if cfg.ReadConcurrency > 0 {
		l.readCountLimit = NewCountLimit(cfg.ReadConcurrency)
	}
	if cfg.WriteConcurrency > 0 {
		l.writeCountLimit = NewCountLimit(cfg.WriteConcurrency)
	}
	if cfg.ReadMBPS > 0 {
		l.rateReader = rate.NewLimiter(rate.Limit(cfg.ReadMBPS*mb), cfg.ReadMBPS*mb)
	}
	if cfg.WriteMBPS > 0 {
		l.rateWriter = rate.NewLimiter(rate.Limit(cfg.WriteMBPS*mb), cfg.WriteMBPS*mb)
	}
	return l
}

func (l *limiter) AcquireRead() error {
	if l.readCountLimit != nil {
		return l.readCountLimit.Acquire()
	}
	return nil
}

func (l *limiter) ReleaseRead() {
	if l.readCountLimit != nil {
		l.readCountLimit.Release()
	}
}

func (l *limiter) AcquireWrite() error {
	if l.writeCountLimit != nil {
		return l.writeCountLimit.Acquire()
	}
	return nil
}

func (l *limiter) ReleaseWrite() {
	if l.writeCountLimit != nil {
		l.writeCountLimit.Release()
	}
}

func (l *limiter) WaitRead(ctx context.Context, n int) error {
	return waitN(ctx, l.rateReader, n)
}

func (l *limiter) WaitWrite(ctx context.Context, n int) error {
	return waitN(ctx, l.rateWriter, n)
}

// waitN splits n by the burst size, rate.Limiter refuses larger requests.
func waitN(ctx context.Context, r *rate.Limiter, n int) error {
	if r == nil {
		return nil
	}
	burst := r.Burst()
	for n > 0 {
		m := n
		if m > burst {
			m = burst
		}
		if err := r.WaitN(ctx, m); err != nil {
			return err
		}
		n -= m
	}
	return nil
}

// SetReadConcurrency changes the limit of concurrent reads, a limit set at
// runtime stays in place even when New disabled it.
func (l *limiter) SetReadConcurrency(value uint32) {
	if l.readCountLimit == nil {
		l.readCountLimit = NewCountLimit(int(value))
	} else {
		l.readCountLimit.SetLimit(value)
	}
	l.config.ReadConcurrency = int(value)
}

func (l *limiter) SetWriteConcurrency(value uint32) {
	if l.writeCountLimit == nil {
		l.writeCountLimit = NewCountLimit(int(value))
	} else {
		l.writeCountLimit.SetLimit(value)
	}
	l.config.WriteConcurrency = int(value)
}

func (l *limiter) Status() Status {
	st := Status{Config: l.config}
	if l.readCountLimit != nil {
		st.ReadRunning = l.readCountLimit.Running()
	}
	if l.writeCountLimit != nil {
		st.WriteRunning = l.writeCountLimit.Running()
	}
	st.ReadWaitMs = rateWait(l.rateReader)
	st.WriteWaitMs = rateWait(l.rateWriter)
	return st
}

func rateWait(r *rate.Limiter) int {
	if r == nil {
		return 0
	}
	now := time.Now()
	reserve := r.ReserveN(now, int(r.Limit())/2)
	duration := reserve.DelayFrom(now)
	reserve.Cancel()
	return int(duration.Milliseconds())
}

const minusOne = ^uint32(0)

type countLimit struct {
	limit   uint32
	current uint32
}

// NewCountLimit returns limiter with concurrent n
func NewCountLimit(n int) CountLimit {
	return &countLimit{limit: uint32(n)}
}

func (l *countLimit) Running() int {
	return int(atomic.LoadUint32(&l.current))
}

func (l *countLimit) Acquire() error {
	if atomic.AddUint32(&l.current, 1) > atomic.LoadUint32(&l.limit) {
		atomic.AddUint32(&l.current, minusOne)
		return ErrLimitExceeded
	}
	return nil
}

func (l *countLimit) Release() {
	atomic.AddUint32(&l.current, minusOne)
}

func (l *countLimit) SetLimit(limit uint32) {
	atomic.StoreUint32(&l.limit, limit)
}
