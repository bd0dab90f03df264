// Copyright checkpointcore authors.
//
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"sync"

	"github.com/corerun/checkpointcore/pkg/badge"
	"github.com/sirupsen/logrus"
)

// ChildRecord is the per-child aggregate: which sessions a child owns,
// its capability translation map, and its lifecycle flags (spec.md
// §3 "Child record").
type ChildRecord struct {
	mu sync.Mutex

	label string
	// bootstrapped is set while the child is first being populated and
	// cleared once bootstrap completes. It is monotonic (invariant 4):
	// nothing in this type ever sets it back to true.
	bootstrapped bool
	destroyed    bool

	pd    *PdSession
	ram   *RamSession
	cpu   *CpuSession
	rm    *RmSession
	log   *LogSession
	rom   *RomSession
	timer *TimerSession

	// capMap is rebuilt from scratch at the start of every checkpoint
	// (invariant 6); it is never mutated incrementally outside that.
	capMap map[badge.Badge]badge.Kcap
}

func newChildRecord(label string) *ChildRecord {
	return &ChildRecord{
		label:        label,
		bootstrapped: true,
		capMap:       make(map[badge.Badge]badge.Kcap),
	}
}

func (c *ChildRecord) Label() string { return c.label }

func (c *ChildRecord) Logger() *logrus.Entry {
	return log().WithField("child", c.label)
}

// ClearBootstrapped clears the bootstrapped flag for the child and
// every session it already owns. Once cleared, a session record
// created later is no longer "part of the initial image" even if this
// child's own flag happens to still read true for a caller that raced
// ahead of population -- sessions track their own flag independently,
// seeded from the child's flag at construction time.
func (c *ChildRecord) ClearBootstrapped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bootstrapped = false
	if c.pd != nil {
		c.pd.clearBootstrapped()
	}
	if c.ram != nil {
		c.ram.clearBootstrapped()
	}
	if c.cpu != nil {
		c.cpu.clearBootstrapped()
	}
	if c.rm != nil {
		c.rm.clearBootstrapped()
	}
	if c.log != nil {
		c.log.clearBootstrapped()
	}
	if c.rom != nil {
		c.rom.clearBootstrapped()
	}
	if c.timer != nil {
		c.timer.clearBootstrapped()
	}
}

func (c *ChildRecord) Bootstrapped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bootstrapped
}

func (c *ChildRecord) MarkDestroyed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed = true
}

func (c *ChildRecord) Destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

func (c *ChildRecord) setCapMap(m map[badge.Badge]badge.Kcap) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capMap = m
}

func (c *ChildRecord) CapMap() map[badge.Badge]badge.Kcap {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[badge.Badge]badge.Kcap, len(c.capMap))
	for k, v := range c.capMap {
		out[k] = v
	}
	return out
}

// attachSession type-switches onto exactly one of the seven slots a
// child record carries, mirroring the "one optional session record
// per session kind" field set of spec.md §3.
func (c *ChildRecord) attachSession(kind SessionKind, session any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch kind {
	case KindPD:
		c.pd = session.(*PdSession)
	case KindRAM:
		c.ram = session.(*RamSession)
	case KindCPU:
		c.cpu = session.(*CpuSession)
	case KindRM:
		c.rm = session.(*RmSession)
	case KindLOG:
		c.log = session.(*LogSession)
	case KindROM:
		c.rom = session.(*RomSession)
	case KindTimer:
		c.timer = session.(*TimerSession)
	}
}

func (c *ChildRecord) PD() *PdSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pd
}

func (c *ChildRecord) RAM() *RamSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ram
}

func (c *ChildRecord) CPU() *CpuSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cpu
}

func (c *ChildRecord) RM() *RmSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rm
}

func (c *ChildRecord) LOG() *LogSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log
}

func (c *ChildRecord) ROM() *RomSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rom
}

func (c *ChildRecord) Timer() *TimerSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer
}

// ChildRegistry is the parent-wide table of monitored children, keyed
// by label. It is guarded by its own mutex, acquired only during
// create/destroy (spec.md §5).
type ChildRegistry struct {
	mu      sync.Mutex
	byLabel map[string]*ChildRecord
}

// NewChildRegistry constructs an empty registry.
func NewChildRegistry() *ChildRegistry {
	return &ChildRegistry{byLabel: make(map[string]*ChildRecord)}
}

// GetOrCreate looks up the child record by label, creating it if
// absent (spec.md §4.1 step 3).
func (r *ChildRegistry) GetOrCreate(label string) *ChildRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byLabel[label]
	if !ok {
		c = newChildRecord(label)
		r.byLabel[label] = c
	}
	return c
}

func (r *ChildRegistry) Get(label string) (*ChildRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byLabel[label]
	return c, ok
}

// All returns a snapshot slice of every known child record.
func (r *ChildRegistry) All() []*ChildRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ChildRecord, 0, len(r.byLabel))
	for _, c := range r.byLabel {
		out = append(out, c)
	}
	return out
}

// Remove drops a child record entirely. Registry.DestroyChild calls it
// right after marking the child destroyed, so the child is absent from
// every later checkpoint's ChildList (SPEC_FULL.md's
// destroy-all-on-child-exit supplement).
func (r *ChildRegistry) Remove(label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byLabel, label)
}
