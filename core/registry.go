// Copyright checkpointcore authors.
//
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"

	"github.com/corerun/checkpointcore/pkg/badge"
	"github.com/corerun/checkpointcore/pkg/config"
)

// Parents bundles every real-parent collaborator interface a Registry
// needs to hand sessions. A host constructs exactly one of these
// against its actual transport and passes it to NewRegistry; nothing
// in this package reaches for a package-level singleton (the original
// rtcr sources keep most of this as process-global state -- this
// rework makes the dependency explicit and constructor-injected).
type Parents struct {
	Factory   ParentFactory
	PD        ParentPD
	RegionMap ParentRegionMap
	CPU       ParentCPU
	RAM       ParentRAM
	CapTable  ParentCapTable
	Threads   ParentThreads
}

// Registry is the single entry point a host builds once per
// monitored target: it owns the child table and knows how to create
// and tear down every session kind against the real parent.
type Registry struct {
	parents  Parents
	children *ChildRegistry
	affinity *config.Affinity
}

// RegistryOption configures optional Registry behavior at construction.
type RegistryOption func(*Registry)

// WithAffinity attaches the static per-child affinity configuration
// (spec.md §6.3) a Registry consults when it creates a CPU session
// (spec.md §4.4 step 3). Without this option every child resolves to
// the zero affinity (0,0,0,0).
func WithAffinity(affinity *config.Affinity) RegistryOption {
	return func(r *Registry) { r.affinity = affinity }
}

// NewRegistry constructs a Registry bound to parents. Call sites that
// need a second, independently-configured registry (for example, two
// unrelated monitored targets in the same process) construct a second
// Registry rather than sharing one.
func NewRegistry(parents Parents, opts ...RegistryOption) *Registry {
	r := &Registry{
		parents:  parents,
		children: NewChildRegistry(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Children() *ChildRegistry { return r.children }

// CreateSession materialises one session of kind for the named child,
// creating the child record if this is its first session (spec.md
// §4.1). creationArgs is the original, unadjusted argument string the
// child presented; CreateSession itself computes the ram_quota
// readjustment (step 2) and forwards the readjusted string to the
// real parent, while the session record keeps creationArgs verbatim
// for snapshot fidelity. Fails with ErrQuotaExceeded, before the real
// parent is contacted, when the readjusted quota exceeds the child's
// configured RAM ceiling.
func (r *Registry) CreateSession(ctx context.Context, kind SessionKind, label, creationArgs string) (badge.Badge, error) {
	child := r.children.GetOrCreate(label)
	bootstrapped := child.Bootstrapped()

	ceiling := r.affinity.Resolve(label).RAMQuotaBytes
	readjustedArgs, err := readjustRamQuota(creationArgs, ceiling)
	if err != nil {
		return badge.Invalid, err
	}

	b, err := r.parents.Factory.CreateSession(ctx, kind, label, readjustedArgs)
	if err != nil {
		return badge.Invalid, errorContext(ErrParentFailure, err.Error())
	}

	switch kind {
	case KindPD:
		s, err := newPdSession(ctx, label, creationArgs, b, bootstrapped, r.parents.PD, r.parents.RegionMap, r.parents.Factory)
		if err != nil {
			return badge.Invalid, err
		}
		child.attachSession(KindPD, s)
	case KindRAM:
		child.attachSession(KindRAM, newRamSession(label, creationArgs, b, bootstrapped, r.parents.RAM))
	case KindCPU:
		child.attachSession(KindCPU, newCpuSession(label, creationArgs, b, bootstrapped, r.parents.CPU, func(pd badge.Badge) bool {
			return child.PD() != nil && child.PD().Badge() == pd
		}, r.affinity.Resolve(label)))
	case KindRM:
		child.attachSession(KindRM, newRmSession(label, creationArgs, b, bootstrapped, r.parents.Factory, r.parents.RegionMap))
	case KindLOG:
		child.attachSession(KindLOG, newLogSession(label, creationArgs, b, bootstrapped))
	case KindROM:
		child.attachSession(KindROM, newRomSession(label, creationArgs, b, bootstrapped))
	case KindTimer:
		child.attachSession(KindTimer, newTimerSession(label, creationArgs, b, bootstrapped))
	}

	return b, nil
}

// UpgradeSession forwards an upgrade-args string to the real parent
// and records it verbatim on label's session of the given kind.
func (r *Registry) UpgradeSession(ctx context.Context, kind SessionKind, label string, sessionBadge badge.Badge, upgradeArgs string) error {
	if err := r.parents.Factory.UpgradeSession(ctx, sessionBadge, upgradeArgs); err != nil {
		return errorContext(ErrParentFailure, err.Error())
	}

	child, ok := r.children.Get(label)
	if !ok {
		return ErrUnknownBadge
	}

	switch kind {
	case KindPD:
		if s := child.PD(); s != nil {
			s.recordUpgrade(upgradeArgs)
		}
	case KindRAM:
		if s := child.RAM(); s != nil {
			s.recordUpgrade(upgradeArgs)
		}
	case KindCPU:
		if s := child.CPU(); s != nil {
			s.recordUpgrade(upgradeArgs)
		}
	case KindRM:
		if s := child.RM(); s != nil {
			s.recordUpgrade(upgradeArgs)
		}
	case KindLOG:
		if s := child.LOG(); s != nil {
			s.upgrade(upgradeArgs)
		}
	case KindROM:
		if s := child.ROM(); s != nil {
			s.upgrade(upgradeArgs)
		}
	case KindTimer:
		if s := child.Timer(); s != nil {
			s.upgrade(upgradeArgs)
		}
	}
	return nil
}

// DestroyChild removes a child's record entirely once the real parent
// confirms the child process has exited, dropping it from any future
// checkpoint's ChildList (SPEC_FULL.md's destroy-all-on-child-exit
// supplement).
func (r *Registry) DestroyChild(label string) {
	if c, ok := r.children.Get(label); ok {
		c.MarkDestroyed()
	}
	r.children.Remove(label)
}
