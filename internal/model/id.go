// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strconv"
	"sync/atomic"
	"time"
)

var lastID atomic.Int64

// NewID returns a time-derived identifier: the current Unix time in
// milliseconds, bumped past the previous value so IDs are unique and ordered
// within the process.
func NewID() string {
	for {
		prev := lastID.Load()
		next := time.Now().UnixMilli()
		if next <= prev {
			next = prev + 1
		}
		if lastID.CompareAndSwap(prev, next) {
			return strconv.FormatInt(next, 10)
		}
	}
}

// ObserveID advances the generator past a previously issued ID so IDs loaded
// from storage are never reissued. Non-numeric IDs are ignored.
func ObserveID(id string) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return
	}
	for {
		prev := lastID.Load()
		if n <= prev || lastID.CompareAndSwap(prev, n) {
			return
		}
	}
}
