// Copyright checkpointcore authors.
//
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"sync"

	"github.com/corerun/checkpointcore/pkg/badge"
	persistapi "github.com/corerun/checkpointcore/pkg/persist/api"
)

type signalSourceRecord struct {
	badge badge.Badge
}

// signalContextRecord keeps (source_badge, imprint) -- both are
// required for faithful replay of alloc_context (spec.md §4.2).
type signalContextRecord struct {
	badge       badge.Badge
	sourceBadge badge.Badge
	imprint     uint64
}

// nativeCapRecord tracks a native RPC cap by both its own badge and
// the badge of the endpoint it wraps. find_by_native_badge keys on
// the endpoint badge because the kernel reuses endpoint badges across
// allocations (spec.md §4.2, design notes).
type nativeCapRecord struct {
	badge         badge.Badge
	endpointBadge badge.Badge
}

// PdSession is the impersonating protection-domain session: three
// owned region maps materialised at construction and never replaced,
// plus ordered sequences of signal sources, signal contexts and
// native RPC caps (spec.md §3, §4.2).
type PdSession struct {
	sessionCommon

	parentPD      ParentPD
	parentRM      ParentRegionMap
	parentFactory ParentFactory

	addressSpace *RegionMapShadow
	stackArea    *RegionMapShadow
	linkerArea   *RegionMapShadow

	mu                   sync.Mutex
	signalSources        map[badge.Badge]*signalSourceRecord
	signalContexts       map[badge.Badge]*signalContextRecord
	nativeCaps           map[badge.Badge]*nativeCapRecord
	nativeCapsByEndpoint map[badge.Badge]*nativeCapRecord

	destroyMu         sync.Mutex
	destroySources    destroyQueue[*signalSourceRecord]
	destroyContexts   destroyQueue[*signalContextRecord]
	destroyNativeCaps destroyQueue[*nativeCapRecord]
}

// newPdSession materialises the three owned region maps from the real
// parent PD and returns the new session. The three region maps'
// backing capabilities come from the real parent PD and are never
// replaced for the session's lifetime.
func newPdSession(ctx context.Context, label, creationArgs string, b badge.Badge, bootstrapped bool, parentPD ParentPD, parentRM ParentRegionMap, factory ParentFactory) (*PdSession, error) {
	s := &PdSession{
		sessionCommon:        newSessionCommon(label, creationArgs, b, bootstrapped),
		parentPD:             parentPD,
		parentRM:             parentRM,
		parentFactory:        factory,
		signalSources:        make(map[badge.Badge]*signalSourceRecord),
		signalContexts:       make(map[badge.Badge]*signalContextRecord),
		nativeCaps:           make(map[badge.Badge]*nativeCapRecord),
		nativeCapsByEndpoint: make(map[badge.Badge]*nativeCapRecord),
	}

	owned := []struct {
		get  func(context.Context, badge.Badge) (badge.Badge, error)
		dest **RegionMapShadow
	}{
		{parentPD.AddressSpace, &s.addressSpace},
		{parentPD.StackArea, &s.stackArea},
		{parentPD.LinkerArea, &s.linkerArea},
	}
	for _, o := range owned {
		rmBadge, err := o.get(ctx, b)
		if err != nil {
			return nil, errorContext(ErrParentFailure, err.Error())
		}
		dsBadge, err := parentRM.ManagingDataspace(ctx, rmBadge)
		if err != nil {
			return nil, errorContext(ErrParentFailure, err.Error())
		}
		*o.dest = newRegionMapShadow(rmBadge, dsBadge, parentRM)
	}

	return s, nil
}

func (s *PdSession) AddressSpace() *RegionMapShadow { return s.addressSpace }
func (s *PdSession) StackArea() *RegionMapShadow    { return s.stackArea }
func (s *PdSession) LinkerArea() *RegionMapShadow   { return s.linkerArea }

// OwnedRegionMaps returns the three region maps this PD session owns,
// used by the checkpoint orchestrator to build the region-map badge
// set (step 3).
func (s *PdSession) OwnedRegionMaps() []*RegionMapShadow {
	return []*RegionMapShadow{s.addressSpace, s.stackArea, s.linkerArea}
}

// AllocSignalSource forwards to the parent, then creates a signal
// source record.
func (s *PdSession) AllocSignalSource(ctx context.Context) (badge.Badge, error) {
	b, err := s.parentPD.AllocSignalSource(ctx, s.badge)
	if err != nil {
		return badge.Invalid, errorContext(ErrParentFailure, err.Error())
	}

	s.mu.Lock()
	s.signalSources[b] = &signalSourceRecord{badge: b}
	s.mu.Unlock()
	return b, nil
}

// FreeSignalSource forwards to the parent, then enqueues the record
// for destruction.
func (s *PdSession) FreeSignalSource(ctx context.Context, src badge.Badge) error {
	s.mu.Lock()
	rec, ok := s.signalSources[src]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownBadge
	}

	if err := s.parentPD.FreeSignalSource(ctx, s.badge, src); err != nil {
		return errorContext(ErrParentFailure, err.Error())
	}

	s.mu.Lock()
	delete(s.signalSources, src)
	s.mu.Unlock()

	s.destroyMu.Lock()
	s.destroySources.push(rec)
	s.destroyMu.Unlock()
	return nil
}

// AllocContext forwards to the parent, then creates a signal context
// record keeping (source, imprint).
func (s *PdSession) AllocContext(ctx context.Context, source badge.Badge, imprint uint64) (badge.Badge, error) {
	b, err := s.parentPD.AllocContext(ctx, s.badge, source, imprint)
	if err != nil {
		return badge.Invalid, errorContext(ErrParentFailure, err.Error())
	}

	s.mu.Lock()
	s.signalContexts[b] = &signalContextRecord{badge: b, sourceBadge: source, imprint: imprint}
	s.mu.Unlock()
	return b, nil
}

// FreeContext forwards to the parent, then enqueues the record for
// destruction.
func (s *PdSession) FreeContext(ctx context.Context, sigCtx badge.Badge) error {
	s.mu.Lock()
	rec, ok := s.signalContexts[sigCtx]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownBadge
	}

	if err := s.parentPD.FreeContext(ctx, s.badge, sigCtx); err != nil {
		return errorContext(ErrParentFailure, err.Error())
	}

	s.mu.Lock()
	delete(s.signalContexts, sigCtx)
	s.mu.Unlock()

	s.destroyMu.Lock()
	s.destroyContexts.push(rec)
	s.destroyMu.Unlock()
	return nil
}

// AllocRpcCap forwards to the parent, then tracks the native RPC cap
// by both its own badge and the endpoint badge.
func (s *PdSession) AllocRpcCap(ctx context.Context, ep badge.Badge) (badge.Badge, error) {
	b, err := s.parentPD.AllocRpcCap(ctx, s.badge, ep)
	if err != nil {
		return badge.Invalid, errorContext(ErrParentFailure, err.Error())
	}

	rec := &nativeCapRecord{badge: b, endpointBadge: ep}
	s.mu.Lock()
	s.nativeCaps[b] = rec
	s.nativeCapsByEndpoint[ep] = rec
	s.mu.Unlock()
	return b, nil
}

// FreeRpcCap forwards to the parent, then enqueues the record for
// destruction.
func (s *PdSession) FreeRpcCap(ctx context.Context, cap badge.Badge) error {
	s.mu.Lock()
	rec, ok := s.nativeCaps[cap]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownBadge
	}

	if err := s.parentPD.FreeRpcCap(ctx, s.badge, cap); err != nil {
		return errorContext(ErrParentFailure, err.Error())
	}

	s.mu.Lock()
	delete(s.nativeCaps, cap)
	if s.nativeCapsByEndpoint[rec.endpointBadge] == rec {
		delete(s.nativeCapsByEndpoint, rec.endpointBadge)
	}
	s.mu.Unlock()

	s.destroyMu.Lock()
	s.destroyNativeCaps.push(rec)
	s.destroyMu.Unlock()
	return nil
}

// FindByNativeBadge looks up a native cap record by the badge of the
// endpoint it wraps, not by the cap's own badge -- the kernel reuses
// endpoint badges across allocations, so this is the stable lookup
// key (spec.md §4.2, design notes).
func (s *PdSession) FindByNativeBadge(ep badge.Badge) (badge.Badge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.nativeCapsByEndpoint[ep]
	if !ok {
		return badge.Invalid, false
	}
	return rec.badge, true
}

// Pure quota/pass-through forwarding: no shadow effect (spec.md
// §4.2).

func (s *PdSession) RefAccount(ctx context.Context, ref badge.Badge) error {
	return forward(s.parentPD.RefAccount(ctx, s.badge, ref))
}

func (s *PdSession) TransferQuota(ctx context.Context, to badge.Badge, amount uint64) error {
	return forward(s.parentPD.TransferQuota(ctx, s.badge, to, amount))
}

func (s *PdSession) CapQuota(ctx context.Context) (uint64, error) {
	v, err := s.parentPD.CapQuota(ctx, s.badge)
	if err != nil {
		return 0, errorContext(ErrParentFailure, err.Error())
	}
	return v, nil
}

func (s *PdSession) UsedCaps(ctx context.Context) (uint64, error) {
	v, err := s.parentPD.UsedCaps(ctx, s.badge)
	if err != nil {
		return 0, errorContext(ErrParentFailure, err.Error())
	}
	return v, nil
}

func (s *PdSession) RamQuota(ctx context.Context) (uint64, error) {
	v, err := s.parentPD.RamQuota(ctx, s.badge)
	if err != nil {
		return 0, errorContext(ErrParentFailure, err.Error())
	}
	return v, nil
}

func (s *PdSession) UsedRam(ctx context.Context) (uint64, error) {
	v, err := s.parentPD.UsedRam(ctx, s.badge)
	if err != nil {
		return 0, errorContext(ErrParentFailure, err.Error())
	}
	return v, nil
}

func (s *PdSession) AssignParent(ctx context.Context, parent badge.Badge) error {
	return forward(s.parentPD.AssignParent(ctx, s.badge, parent))
}

func (s *PdSession) AssignPci(ctx context.Context, addr string, bdf uint16) error {
	return forward(s.parentPD.AssignPci(ctx, s.badge, addr, bdf))
}

// forward normalizes a plain parent-call error into ErrParentFailure,
// or returns nil untouched.
func forward(err error) error {
	if err == nil {
		return nil
	}
	return ErrParentFailure
}

// recordUpgrade records the latest upgrade-args string verbatim. The
// ram_quota inside upgradeArgs is not parsed or accumulated, neither
// here nor in Registry.UpgradeSession.
func (s *PdSession) recordUpgrade(args string) {
	s.mu.Lock()
	s.sessionCommon.upgrade(args)
	s.mu.Unlock()
}

func (s *PdSession) drainDestroyed() ([]*signalSourceRecord, []*signalContextRecord, []*nativeCapRecord) {
	s.destroyMu.Lock()
	defer s.destroyMu.Unlock()
	return s.destroySources.drain(), s.destroyContexts.drain(), s.destroyNativeCaps.drain()
}

func (s *PdSession) snapshot() *persistapi.PdSessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := &persistapi.PdSessionInfo{
		SessionBase:  s.base(),
		AddressSpace: s.addressSpace.snapshot(),
		StackArea:    s.stackArea.snapshot(),
		LinkerArea:   s.linkerArea.snapshot(),
	}
	for _, rec := range s.signalSources {
		info.SignalSources = append(info.SignalSources, &persistapi.SignalSourceInfo{Badge: rec.badge})
	}
	for _, rec := range s.signalContexts {
		info.SignalContexts = append(info.SignalContexts, &persistapi.SignalContextInfo{
			Badge:       rec.badge,
			SourceBadge: rec.sourceBadge,
			Imprint:     rec.imprint,
		})
	}
	for _, rec := range s.nativeCaps {
		info.NativeCaps = append(info.NativeCaps, &persistapi.NativeCapInfo{
			Badge:         rec.badge,
			EndpointBadge: rec.endpointBadge,
		})
	}
	return info
}
