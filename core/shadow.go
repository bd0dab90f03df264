// Copyright checkpointcore authors.
//
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"sync"

	"github.com/corerun/checkpointcore/pkg/badge"
)

// sessionCommon is the set of fields every session shadow kind
// shares: creation/upgrade argument strings (bit-preserved), the
// session capability's own badge and kcap, and the bootstrapped flag.
// It is embedded by value in each session kind, guarded by that
// session's own mutex.
type sessionCommon struct {
	label        string
	creationArgs string
	upgradeArgs  string
	badge        badge.Badge
	kcap         badge.Kcap
	bootstrapped bool
}

func newSessionCommon(label, creationArgs string, b badge.Badge, bootstrapped bool) sessionCommon {
	return sessionCommon{
		label:        label,
		creationArgs: creationArgs,
		badge:        b,
		bootstrapped: bootstrapped,
	}
}

func (s *sessionCommon) Badge() badge.Badge { return s.badge }

// upgrade records the latest upgrade-args string verbatim. Invariant:
// callers upgrade only after the real parent call succeeds.
func (s *sessionCommon) upgrade(args string) {
	s.upgradeArgs = args
}

// clearBootstrapped is monotonic: once cleared it never reverts
// (invariant 4). Calling it twice is a no-op.
func (s *sessionCommon) clearBootstrapped() {
	s.bootstrapped = false
}

// destroyQueue is the tombstone queue a session's live set drains at
// checkpoint time. It shares its caller's mutex by convention: every
// method below assumes the caller already holds that lock, keeping
// "remove-from-live-then-enqueue" atomic per the design notes.
type destroyQueue[T any] struct {
	pending []T
}

func (q *destroyQueue[T]) push(v T) {
	q.pending = append(q.pending, v)
}

// drain returns and clears the queue. Called only from checkpoint
// step 4, never from the RPC hot path.
func (q *destroyQueue[T]) drain() []T {
	if len(q.pending) == 0 {
		return nil
	}
	out := q.pending
	q.pending = nil
	return out
}

// lockedMap is a tiny helper pairing a map with the mutex that guards
// it, used by every session kind's live set. badge-keyed maps avoid
// the O(n^2) find_by_badge walks the original intrusive lists needed.
type lockedMap[T any] struct {
	mu sync.Mutex
	m  map[badge.Badge]T
}

func newLockedMap[T any]() *lockedMap[T] {
	return &lockedMap[T]{m: make(map[badge.Badge]T)}
}

func (l *lockedMap[T]) get(b badge.Badge) (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.m[b]
	return v, ok
}

func (l *lockedMap[T]) put(b badge.Badge, v T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.m[b] = v
}

func (l *lockedMap[T]) delete(b badge.Badge) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.m, b)
}

// snapshot returns a shallow copy of the live map, taken under lock
// and released immediately: the stored-info graph the checkpoint
// orchestrator reconciles against is never touched while a session's
// lock is held (spec.md §5's shared-resource policy).
func (l *lockedMap[T]) snapshot() map[badge.Badge]T {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[badge.Badge]T, len(l.m))
	for k, v := range l.m {
		out[k] = v
	}
	return out
}

func (l *lockedMap[T]) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
