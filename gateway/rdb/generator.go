// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

package rdb

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/datagate/datagate/gateway/invoke"
	"github.com/datagate/datagate/gateway/model"
)

// snowflake issues 64-bit ids: 41 bits of milliseconds since epoch,
// 10 bits of node id, 12 bits of per-millisecond sequence.
type snowflake struct {
	mu       sync.Mutex
	node     int64
	lastMs   int64
	sequence int64
}

// snowflakeEpoch anchors the 41-bit millisecond counter.
var snowflakeEpoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

func newSnowflake(node int64) *snowflake {
	return &snowflake{node: node & 0x3ff}
}

func (s *snowflake) next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := time.Now().UnixMilli() - snowflakeEpoch
	if ms == s.lastMs {
		s.sequence = (s.sequence + 1) & 0xfff
		if s.sequence == 0 {
			// sequence exhausted for this millisecond, spin to the next
			for ms <= s.lastMs {
				ms = time.Now().UnixMilli() - snowflakeEpoch
			}
		}
	} else {
		s.sequence = 0
	}
	s.lastMs = ms
	return ms<<22 | s.node<<12 | s.sequence
}

// generate resolves a generator tag into a column value. Autoincrement
// is handled by the insert path itself (omit and read back) and never
// reaches here. On insert both cur_* and mod_* tags capture; on update
// only the mod_* tags fire, so creation fields stay untouched.
func (e *Executor) generate(ic *invoke.Context, tag string, updating bool) (any, bool) {
	now := time.Now()
	switch tag {
	case model.GenSnowflakeID:
		if !updating {
			return e.flake.next(), true
		}
	case model.GenUUID:
		if !updating {
			return uuid.NewString(), true
		}
	case model.GenCurUserID:
		if !updating {
			return ic.UserID(), true
		}
	case model.GenCurUserName:
		if !updating {
			return ic.UserName(), true
		}
	case model.GenCurDatetime:
		if !updating {
			return now.Format("2006-01-02 15:04:05"), true
		}
	case model.GenCurDate:
		if !updating {
			return now.Format("2006-01-02"), true
		}
	case model.GenCurTime:
		if !updating {
			return now.Format("15:04:05"), true
		}
	case model.GenModUserID:
		return ic.UserID(), true
	case model.GenModUserName:
		return ic.UserName(), true
	case model.GenModDatetime:
		return now.Format("2006-01-02 15:04:05"), true
	case model.GenModDate:
		return now.Format("2006-01-02"), true
	case model.GenModTime:
		return now.Format("15:04:05"), true
	}
	return nil, false
}
