/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package ratelimit bounds how often a given neighbour's frames may
// trigger expensive handling (a fresh 3DH exchange started by the key
// manager), a TID-keyed adaptation of the teacher's IP-keyed handshake
// ratelimiter.
package ratelimit

import (
	"sync"
	"time"

	"github.com/iqyx/umeshfw/pkg/wire"
)

const (
	eventsPerSecond    = 10
	eventsBurstable    = 4
	garbageCollectTime = 5 * time.Second
	eventCost          = 1_000_000_000 / eventsPerSecond
	maxTokens          = eventCost * eventsBurstable
)

type entry struct {
	mu       sync.Mutex
	lastTime time.Time
	tokens   int64
}

// Limiter is a token-bucket rate limiter keyed by neighbour TID, used to
// cap how often a single neighbour can trigger a fresh 3DH exchange or
// key-manager session allocation (§4.2, §4.4's retry/backoff discussion),
// standing in for the radio-layer DoS defenses a real MAC would need.
type Limiter struct {
	mu      sync.RWMutex
	timeNow func() time.Time

	stopReset chan struct{}
	table     map[wire.TID]*entry
}

func New() *Limiter {
	l := &Limiter{timeNow: time.Now}
	l.Init()
	return l
}

// Init (re)starts the limiter's garbage-collection goroutine, mirroring
// the teacher's Ratelimiter.Init so the limiter can be reused across
// Stack restarts without re-allocating.
func (l *Limiter) Init() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.timeNow == nil {
		l.timeNow = time.Now
	}
	if l.stopReset != nil {
		close(l.stopReset)
	}
	l.stopReset = make(chan struct{})
	l.table = make(map[wire.TID]*entry)

	stopReset := l.stopReset
	go func() {
		ticker := time.NewTicker(garbageCollectTime)
		ticker.Stop()
		for {
			select {
			case _, ok := <-stopReset:
				ticker.Stop()
				if !ok {
					return
				}
				ticker = time.NewTicker(garbageCollectTime)
			case <-ticker.C:
				if l.cleanup() {
					ticker.Stop()
				}
			}
		}
	}()
}

func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopReset != nil {
		close(l.stopReset)
		l.stopReset = nil
	}
}

func (l *Limiter) cleanup() (empty bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for tid, e := range l.table {
		e.mu.Lock()
		if l.timeNow().Sub(e.lastTime) > garbageCollectTime {
			delete(l.table, tid)
		}
		e.mu.Unlock()
	}
	return len(l.table) == 0
}

// Allow reports whether a new rate-limited event from tid (a fresh AKE
// attempt, a new key-manager session) should proceed, consuming a token
// if so.
func (l *Limiter) Allow(tid wire.TID) bool {
	l.mu.RLock()
	e := l.table[tid]
	l.mu.RUnlock()

	if e == nil {
		e = &entry{tokens: maxTokens - eventCost, lastTime: l.timeNow()}
		l.mu.Lock()
		l.table[tid] = e
		if len(l.table) == 1 && l.stopReset != nil {
			l.stopReset <- struct{}{}
		}
		l.mu.Unlock()
		return true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	now := l.timeNow()
	e.tokens += now.Sub(e.lastTime).Nanoseconds()
	e.lastTime = now
	if e.tokens > maxTokens {
		e.tokens = maxTokens
	}
	if e.tokens > eventCost {
		e.tokens -= eventCost
		return true
	}
	return false
}
