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

// AttachedRegion is the shadow of one attach() call into a region
// map: the attached dataspace badge, where it landed, and how
// (spec.md §3 "attached-region record").
type AttachedRegion struct {
	DataspaceBadge badge.Badge
	RelAddr        uint64
	Size           uint64
	Offset         uint64
	Executable     bool
}

// RegionMapShadow interposes attach, detach, fault_handler and state
// for a single region map (spec.md §4.3). It is bound to exactly one
// real region-map badge for its whole lifetime.
type RegionMapShadow struct {
	mu sync.Mutex

	b              badge.Badge
	parent         ParentRegionMap
	dataspaceBadge badge.Badge
	dataspaceSize  uint64
	signalHandler  badge.Badge
	// attached is keyed by RelAddr: two regions never share an address
	// (the tie-break rule when use_local_addr is false -- whatever the
	// real region map returns becomes the key).
	attached map[uint64]*AttachedRegion
}

func newRegionMapShadow(b badge.Badge, dataspaceBadge badge.Badge, parent ParentRegionMap) *RegionMapShadow {
	return &RegionMapShadow{
		b:              b,
		dataspaceBadge: dataspaceBadge,
		parent:         parent,
		attached:       make(map[uint64]*AttachedRegion),
	}
}

func (rm *RegionMapShadow) Badge() badge.Badge { return rm.b }

func (rm *RegionMapShadow) DataspaceBadge() badge.Badge {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.dataspaceBadge
}

// Attach forwards to the real region map, then inserts an
// attached-region record keyed by the returned relative address.
func (rm *RegionMapShadow) Attach(ctx context.Context, ds badge.Badge, size, offset, localAddr uint64, executable, useLocalAddr bool) (uint64, error) {
	relAddr, err := rm.parent.Attach(ctx, rm.b, ds, size, offset, localAddr, executable, useLocalAddr)
	if err != nil {
		return 0, errorContext(ErrParentFailure, err.Error())
	}

	rm.mu.Lock()
	rm.attached[relAddr] = &AttachedRegion{
		DataspaceBadge: ds,
		RelAddr:        relAddr,
		Size:           size,
		Offset:         offset,
		Executable:     executable,
	}
	rm.mu.Unlock()

	return relAddr, nil
}

// Detach forwards to the real region map, then removes the record by
// address.
func (rm *RegionMapShadow) Detach(ctx context.Context, relAddr uint64) error {
	if err := rm.parent.Detach(ctx, rm.b, relAddr); err != nil {
		return errorContext(ErrParentFailure, err.Error())
	}

	rm.mu.Lock()
	delete(rm.attached, relAddr)
	rm.mu.Unlock()
	return nil
}

// FaultHandler sets the region map's page-fault signal handler badge.
func (rm *RegionMapShadow) FaultHandler(ctx context.Context, handler badge.Badge) error {
	if err := rm.parent.SetFaultHandler(ctx, rm.b, handler); err != nil {
		return errorContext(ErrParentFailure, err.Error())
	}
	rm.mu.Lock()
	rm.signalHandler = handler
	rm.mu.Unlock()
	return nil
}

// State is pure forwarding with no shadow effect: it returns the size
// of the region map's backing dataspace as the real parent reports it.
// No fault state is queried.
func (rm *RegionMapShadow) State(ctx context.Context) (uint64, error) {
	return rm.parent.DataspaceSize(ctx, rm.dataspaceBadge)
}

// cacheDataspaceSize caches the backing dataspace's size, avoiding a
// repeat RPC when the checkpoint orchestrator computes the
// region-map badge set (SPEC_FULL.md's dataspace_size cache
// supplement).
func (rm *RegionMapShadow) cacheDataspaceSize(ctx context.Context) (uint64, error) {
	rm.mu.Lock()
	if rm.dataspaceSize != 0 {
		size := rm.dataspaceSize
		rm.mu.Unlock()
		return size, nil
	}
	ds := rm.dataspaceBadge
	rm.mu.Unlock()

	if !ds.Valid() {
		return 0, nil
	}

	size, err := rm.parent.DataspaceSize(ctx, ds)
	if err != nil {
		return 0, errorContext(ErrParentFailure, err.Error())
	}

	rm.mu.Lock()
	rm.dataspaceSize = size
	rm.mu.Unlock()
	return size, nil
}

// snapshot renders the shadow into its stored-info form for the
// serializer.
func (rm *RegionMapShadow) snapshot() *persistapi.RegionMapInfo {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	info := &persistapi.RegionMapInfo{
		Badge:          rm.b,
		DataspaceBadge: rm.dataspaceBadge,
		DataspaceSize:  rm.dataspaceSize,
		SignalHandler:  rm.signalHandler,
		Attached:       make(map[uint64]*persistapi.AttachedRegionInfo, len(rm.attached)),
	}
	for addr, region := range rm.attached {
		info.Attached[addr] = &persistapi.AttachedRegionInfo{
			DataspaceBadge: region.DataspaceBadge,
			RelAddr:        region.RelAddr,
			Size:           region.Size,
			Offset:         region.Offset,
			Executable:     region.Executable,
		}
	}
	return info
}

// RmSession is a factory of additional region-map shadows (spec.md
// §4.3).
type RmSession struct {
	sessionCommon
	parentFactory ParentFactory
	parentRM      ParentRegionMap

	regionMaps *lockedMap[*RegionMapShadow]
	destroyed  destroyQueue[*RegionMapShadow]
	destroyMu  sync.Mutex
}

func newRmSession(label, creationArgs string, b badge.Badge, bootstrapped bool, factory ParentFactory, parentRM ParentRegionMap) *RmSession {
	return &RmSession{
		sessionCommon: newSessionCommon(label, creationArgs, b, bootstrapped),
		parentFactory: factory,
		parentRM:      parentRM,
		regionMaps:    newLockedMap[*RegionMapShadow](),
	}
}

// CreateRegionMap forwards to the real RM session, then inserts a new
// region-map shadow.
func (s *RmSession) CreateRegionMap(ctx context.Context) (*RegionMapShadow, error) {
	rmBadge, err := s.parentRM.CreateRegionMap(ctx)
	if err != nil {
		return nil, errorContext(ErrParentFailure, err.Error())
	}

	shadow := newRegionMapShadow(rmBadge, badge.Invalid, s.parentRM)
	s.regionMaps.put(rmBadge, shadow)
	return shadow, nil
}

// DestroyRegionMap enqueues the shadow for destruction; storage is
// reclaimed at the next checkpoint.
func (s *RmSession) DestroyRegionMap(ctx context.Context, rmBadge badge.Badge) error {
	shadow, ok := s.regionMaps.get(rmBadge)
	if !ok {
		return ErrUnknownBadge
	}
	if err := s.parentRM.DestroyRegionMap(ctx, rmBadge); err != nil {
		return errorContext(ErrParentFailure, err.Error())
	}

	s.destroyMu.Lock()
	s.regionMaps.delete(rmBadge)
	s.destroyed.push(shadow)
	s.destroyMu.Unlock()
	return nil
}

// recordUpgrade records the latest upgrade-args string verbatim,
// called only after the real parent call has already succeeded.
func (s *RmSession) recordUpgrade(args string) {
	s.destroyMu.Lock()
	s.sessionCommon.upgrade(args)
	s.destroyMu.Unlock()
}

func (s *RmSession) Find(b badge.Badge) (*RegionMapShadow, bool) {
	return s.regionMaps.get(b)
}

// drainDestroyed removes and returns every region map queued for
// destruction, called only from checkpoint step 4.
func (s *RmSession) drainDestroyed() []*RegionMapShadow {
	s.destroyMu.Lock()
	defer s.destroyMu.Unlock()
	return s.destroyed.drain()
}

func (s *RmSession) liveRegionMaps() map[badge.Badge]*RegionMapShadow {
	return s.regionMaps.snapshot()
}

func (s *RmSession) snapshot() *persistapi.RmSessionInfo {
	info := &persistapi.RmSessionInfo{SessionBase: s.base()}
	for _, rm := range s.liveRegionMaps() {
		info.RegionMaps = append(info.RegionMaps, rm.snapshot())
	}
	return info
}
