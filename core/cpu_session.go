// Copyright checkpointcore authors.
//
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"sync"

	"github.com/corerun/checkpointcore/pkg/badge"
	"github.com/corerun/checkpointcore/pkg/config"
	persistapi "github.com/corerun/checkpointcore/pkg/persist/api"
)

// minWeight and maxWeight clamp a thread's scheduling weight to the
// range the real CPU service accepts (SPEC_FULL.md's weight-clamp
// supplement, carried over from the original thread constructor).
const (
	minWeight uint8 = 1
	maxWeight uint8 = 255
)

func clampWeight(w uint8) uint8 {
	if w < minWeight {
		return minWeight
	}
	if w > maxWeight {
		return maxWeight
	}
	return w
}

// threadRecord is the shadow of a single CPU thread: its creation
// parameters, its started/paused flags and the signal handler
// registered for its exceptions (spec.md §4.4). Single-step state is
// not tracked; ThreadInfo.SingleStep is always false in a snapshot.
type threadRecord struct {
	badge     badge.Badge
	name      string
	weight    uint8
	affX      int
	affY      int
	affW      int
	affH      int
	utcb      uint64
	pdBadge   badge.Badge
	started   bool
	paused    bool
	handler   badge.Badge

	priority uint32
	deadline uint64
}

// CpuSession is the impersonating CPU session: a registry of threads
// plus the session-wide exception-signal handler and affinity space
// (spec.md §4.4).
type CpuSession struct {
	sessionCommon

	parentCPU ParentCPU
	pdLookup  func(pd badge.Badge) bool

	mu            sync.Mutex
	threads       map[badge.Badge]*threadRecord
	signalHandler badge.Badge
	affX, affY    int
	affW, affH    int

	destroyMu sync.Mutex
	destroyed destroyQueue[*threadRecord]
}

// newCpuSession constructs an empty CPU session. pdLookup validates
// that a PD badge presented to CreateThread is one this parent-facing
// layer actually tracks, raising ErrUnknownPdBadge otherwise. affinity
// is the child's resolved static-config affinity (spec.md §4.4 step
// 3; the zero value is (0,0,0,0) when the child has no config entry),
// seeded into both the session-wide affinity space and every thread
// shadow it subsequently creates.
func newCpuSession(label, creationArgs string, b badge.Badge, bootstrapped bool, parentCPU ParentCPU, pdLookup func(badge.Badge) bool, affinity config.ResolvedEntry) *CpuSession {
	return &CpuSession{
		sessionCommon: newSessionCommon(label, creationArgs, b, bootstrapped),
		parentCPU:     parentCPU,
		pdLookup:      pdLookup,
		threads:       make(map[badge.Badge]*threadRecord),
		affX:          affinity.AffinityX,
		affY:          affinity.AffinityY,
		affW:          affinity.AffinityW,
		affH:          affinity.AffinityH,
	}
}

// CreateThread forwards affX/affY/affW/affH to the real CPU service
// verbatim, together with the clamped weight; the thread shadow records
// the caller's weight unclamped. The thread shadow itself is
// seeded with the session's configured affinity rather than the
// caller's argument -- spec.md §4.4 step 3 reads the child's affinity
// from static config by label, defaulting to (0,0,0,0), independent of
// whatever the child's own create_thread call happened to request. The
// pd badge must belong to a PD session this layer already tracks.
func (s *CpuSession) CreateThread(ctx context.Context, pd badge.Badge, name string, affX, affY, affW, affH int, weight uint8, utcb uint64) (badge.Badge, error) {
	if !s.pdLookup(pd) {
		return badge.Invalid, ErrUnknownPdBadge
	}

	b, err := s.parentCPU.CreateThread(ctx, pd, name, affX, affY, affW, affH, clampWeight(weight), utcb)
	if err != nil {
		return badge.Invalid, errorContext(ErrParentFailure, err.Error())
	}

	s.mu.Lock()
	s.threads[b] = &threadRecord{
		badge:   b,
		name:    name,
		weight:  weight,
		affX:    s.affX,
		affY:    s.affY,
		affW:    s.affW,
		affH:    s.affH,
		utcb:    utcb,
		pdBadge: pd,
		started: true,
	}
	s.mu.Unlock()
	return b, nil
}

// KillThread forwards to the real CPU service, then enqueues the
// thread record for destruction.
func (s *CpuSession) KillThread(ctx context.Context, thread badge.Badge) error {
	s.mu.Lock()
	rec, ok := s.threads[thread]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownBadge
	}

	if err := s.parentCPU.KillThread(ctx, thread); err != nil {
		return errorContext(ErrParentFailure, err.Error())
	}

	s.mu.Lock()
	delete(s.threads, thread)
	s.mu.Unlock()

	s.destroyMu.Lock()
	s.destroyed.push(rec)
	s.destroyMu.Unlock()
	return nil
}

// Pause and Resume are invoked by the child itself (as opposed to the
// administrative pause-all/resume-all the checkpoint orchestrator
// drives); both update the thread's paused flag after the real call
// succeeds.
func (s *CpuSession) Pause(ctx context.Context, thread badge.Badge) error {
	s.mu.Lock()
	rec, ok := s.threads[thread]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownBadge
	}
	if err := s.parentCPU.Pause(ctx, thread); err != nil {
		return errorContext(ErrParentFailure, err.Error())
	}
	s.mu.Lock()
	rec.paused = true
	s.mu.Unlock()
	return nil
}

func (s *CpuSession) Resume(ctx context.Context, thread badge.Badge) error {
	s.mu.Lock()
	rec, ok := s.threads[thread]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownBadge
	}
	if err := s.parentCPU.Resume(ctx, thread); err != nil {
		return errorContext(ErrParentFailure, err.Error())
	}
	s.mu.Lock()
	rec.paused = false
	s.mu.Unlock()
	return nil
}

// ExceptionSigh sets a thread's exception-signal handler.
func (s *CpuSession) ExceptionSigh(ctx context.Context, thread, handler badge.Badge) error {
	s.mu.Lock()
	rec, ok := s.threads[thread]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownBadge
	}
	if err := s.parentCPU.ExceptionSigh(ctx, thread, handler); err != nil {
		return errorContext(ErrParentFailure, err.Error())
	}
	s.mu.Lock()
	rec.handler = handler
	s.mu.Unlock()
	return nil
}

// SetSchedType forwards to the real CPU service's real-time
// extension and records priority/deadline for snapshotting.
func (s *CpuSession) SetSchedType(ctx context.Context, thread badge.Badge, priority uint32, deadline uint64) error {
	s.mu.Lock()
	rec, ok := s.threads[thread]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownBadge
	}
	if err := s.parentCPU.SetSchedType(ctx, thread, priority, deadline); err != nil {
		return errorContext(ErrParentFailure, err.Error())
	}
	s.mu.Lock()
	rec.priority = priority
	rec.deadline = deadline
	s.mu.Unlock()
	return nil
}

// GetSchedType forwards to the real CPU service's real-time
// extension, returning whatever priority/deadline the parent reports
// rather than the shadow's own record, since the parent is the
// authority on the thread's live scheduling state.
func (s *CpuSession) GetSchedType(ctx context.Context, thread badge.Badge) (uint32, uint64, error) {
	s.mu.Lock()
	_, ok := s.threads[thread]
	s.mu.Unlock()
	if !ok {
		return 0, 0, ErrUnknownBadge
	}
	priority, deadline, err := s.parentCPU.GetSchedType(ctx, thread)
	if err != nil {
		return 0, 0, errorContext(ErrParentFailure, err.Error())
	}
	return priority, deadline, nil
}

// refreshRegisters fetches a thread's current register state from the
// real CPU service; called only from snapshot while the checkpoint
// rebuilds the stored-info record, never from the RPC hot path.
func (s *CpuSession) refreshRegisters(ctx context.Context, rec *threadRecord) ([]byte, error) {
	regs, err := s.parentCPU.RegisterState(ctx, rec.badge)
	if err != nil {
		return nil, errorContext(ErrParentFailure, err.Error())
	}
	return regs, nil
}

// recordUpgrade records the latest upgrade-args string verbatim,
// called only after the real parent call has already succeeded.
func (s *CpuSession) recordUpgrade(args string) {
	s.mu.Lock()
	s.sessionCommon.upgrade(args)
	s.mu.Unlock()
}

// liveThreads returns every live thread record of this session.
// Registry.pauseAll and Registry.resumeAll use it for the
// administrative pause/resume of every thread, regardless of the
// child's own pause state (spec.md §4.4).
func (s *CpuSession) liveThreads() []*threadRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*threadRecord, 0, len(s.threads))
	for _, rec := range s.threads {
		out = append(out, rec)
	}
	return out
}

func (s *CpuSession) drainDestroyed() []*threadRecord {
	s.destroyMu.Lock()
	defer s.destroyMu.Unlock()
	return s.destroyed.drain()
}

func (s *CpuSession) snapshot(ctx context.Context) *persistapi.CpuSessionInfo {
	s.mu.Lock()
	info := &persistapi.CpuSessionInfo{
		SessionBase:   s.base(),
		SignalHandler: s.signalHandler,
		AffinityX:     s.affX,
		AffinityY:     s.affY,
		AffinityW:     s.affW,
		AffinityH:     s.affH,
	}
	threads := make([]*threadRecord, 0, len(s.threads))
	for _, rec := range s.threads {
		threads = append(threads, rec)
	}
	s.mu.Unlock()

	for _, rec := range threads {
		regs, err := s.refreshRegisters(ctx, rec)
		if err != nil {
			regs = nil
		}
		info.Threads = append(info.Threads, &persistapi.ThreadInfo{
			Badge:         rec.badge,
			Name:          rec.name,
			Weight:        rec.weight,
			AffinityX:     rec.affX,
			AffinityY:     rec.affY,
			AffinityW:     rec.affW,
			AffinityH:     rec.affH,
			UTCB:          rec.utcb,
			Started:       rec.started,
			Paused:        rec.paused,
			SignalHandler: rec.handler,
			Registers:     regs,
			Priority:      rec.priority,
			Deadline:      rec.deadline,
		})
	}
	return info
}
