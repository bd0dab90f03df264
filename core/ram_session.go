// Copyright checkpointcore authors.
//
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"sync"

	"github.com/corerun/checkpointcore/pkg/badge"
	"github.com/corerun/checkpointcore/pkg/coremetrics"
	persistapi "github.com/corerun/checkpointcore/pkg/persist/api"
	"github.com/corerun/checkpointcore/pkg/persist/wire"
	"github.com/hashicorp/go-multierror"
)

// managedGranularity is the sub-dataspace size a managed dataspace is
// sliced into (spec.md §4.5). It matches the region-map attach
// granularity the original designated-dataspace mechanism used.
const managedGranularity = 4096 * 16

// RamSession owns the set of dataspaces a child has allocated, each
// wrapped in a DataspaceShadow (spec.md §4.5).
type RamSession struct {
	sessionCommon

	parentRAM ParentRAM

	dataspaces *lockedMap[*DataspaceShadow]
	destroyed  destroyQueue[*DataspaceShadow]
	destroyMu  sync.Mutex
}

func newRamSession(label, creationArgs string, b badge.Badge, bootstrapped bool, parentRAM ParentRAM) *RamSession {
	return &RamSession{
		sessionCommon: newSessionCommon(label, creationArgs, b, bootstrapped),
		parentRAM:     parentRAM,
		dataspaces:    newLockedMap[*DataspaceShadow](),
	}
}

// Alloc forwards to the real RAM service, then wraps the returned
// dataspace in a shadow. managed designates the dataspace as a
// sliced, incrementally-copied one (spec.md §4.5's managed-dataspace
// mechanism), sliced at granularity bytes (0 selects
// managedGranularity); an ordinary allocation gets a single unmanaged
// shadow and ignores granularity.
func (s *RamSession) Alloc(ctx context.Context, size uint64, cached, managed bool, granularity uint64) (badge.Badge, error) {
	b, err := s.parentRAM.Alloc(ctx, size, cached)
	if err != nil {
		return badge.Invalid, errorContext(ErrParentFailure, err.Error())
	}

	var shadow *DataspaceShadow
	if managed {
		if granularity == 0 {
			granularity = managedGranularity
		}
		shadow = newManagedDataspaceShadow(b, size, granularity, cached)
	} else {
		shadow = newDataspaceShadow(b, size, cached)
	}
	s.dataspaces.put(b, shadow)
	return b, nil
}

// Free forwards to the real RAM service, then enqueues the dataspace
// shadow for destruction.
func (s *RamSession) Free(ctx context.Context, ds badge.Badge) error {
	shadow, ok := s.dataspaces.get(ds)
	if !ok {
		return ErrUnknownBadge
	}
	if err := s.parentRAM.Free(ctx, ds); err != nil {
		return errorContext(ErrParentFailure, err.Error())
	}

	s.destroyMu.Lock()
	s.dataspaces.delete(ds)
	s.destroyed.push(shadow)
	s.destroyMu.Unlock()
	return nil
}

// DataspaceSize is pure forwarding: size has no shadow effect beyond
// what Alloc already recorded.
func (s *RamSession) DataspaceSize(ctx context.Context, ds badge.Badge) (uint64, error) {
	v, err := s.parentRAM.DataspaceSize(ctx, ds)
	if err != nil {
		return 0, errorContext(ErrParentFailure, err.Error())
	}
	return v, nil
}

// recordUpgrade records the latest upgrade-args string verbatim,
// called only after the real parent call has already succeeded.
func (s *RamSession) recordUpgrade(args string) {
	s.destroyMu.Lock()
	s.sessionCommon.upgrade(args)
	s.destroyMu.Unlock()
}

func (s *RamSession) Find(b badge.Badge) (*DataspaceShadow, bool) {
	return s.dataspaces.get(b)
}

func (s *RamSession) liveDataspaces() map[badge.Badge]*DataspaceShadow {
	return s.dataspaces.snapshot()
}

func (s *RamSession) drainDestroyed() []*DataspaceShadow {
	s.destroyMu.Lock()
	defer s.destroyMu.Unlock()
	return s.destroyed.drain()
}

// copiedSub is one designated sub-dataspace copied out by copyModified,
// carrying its content alongside the offset/size so the caller can
// build both the attachment and the stored SubDataspaceInfo from it.
type copiedSub struct {
	offset, size uint64
	data         []byte
}

// copyModified copies the bytes of every modified sub-dataspace (or,
// for an unmanaged dataspace, the whole thing) from the real RAM
// service into the shadow's content-backing dataspace, clearing the
// modified flag as each sub is copied (checkpoint step 7). The backing
// dataspace is allocated once per shadow and reused on every
// subsequent checkpoint as long as the shadow's own badge is unchanged
// (spec.md §3, §8 testable property 4), so a checkpoint that finds
// nothing modified leaves the same backing dataspace in place.
func (s *RamSession) copyModified(ctx context.Context, shadow *DataspaceShadow) ([]byte, []copiedSub, error) {
	backingAlloc := func(size uint64) (badge.Badge, error) {
		return s.parentRAM.Alloc(ctx, size, false)
	}
	if _, _, err := shadow.ensureBacking(backingAlloc); err != nil {
		return nil, nil, errorContext(ErrParentFailure, err.Error())
	}

	if !shadow.Managed() {
		data, err := s.parentRAM.ReadBytes(ctx, shadow.Badge(), 0, shadow.Size())
		if err != nil {
			return nil, nil, errorContext(ErrParentFailure, err.Error())
		}
		shadow.writeBacking(0, data)
		return shadow.backingSnapshot(), nil, nil
	}

	var copied []copiedSub
	for _, sub := range shadow.modifiedSubs() {
		data, err := s.parentRAM.ReadBytes(ctx, shadow.Badge(), sub.offset, sub.size)
		if err != nil {
			return nil, nil, errorContext(ErrParentFailure, err.Error())
		}
		shadow.writeBacking(sub.offset, data)
		shadow.clearModified(sub)
		copied = append(copied, copiedSub{offset: sub.offset, size: sub.size, data: data})
	}
	return nil, copied, nil
}

// reconcile is checkpoint steps 6-7 for this session: detach every
// designated sub-dataspace, copy modified content for every dataspace
// whose badge is not part of the region-map badge set, and build the
// stored-info record. Copied content is appended to attachments and
// referenced by index; attachments stays nil (and no content is
// copied) when include_binary is false.
func (s *RamSession) reconcile(ctx context.Context, regionMapBadges map[badge.Badge]bool, attachments *[]wire.Attachment) (*persistapi.RamSessionInfo, error) {
	var merr *multierror.Error
	info := &persistapi.RamSessionInfo{SessionBase: s.base()}

	dataspaces := s.liveDataspaces()
	for _, shadow := range dataspaces {
		shadow.detachDesignated()
	}

	for _, shadow := range dataspaces {
		dsInfo := &persistapi.DataspaceInfo{
			Badge:           shadow.Badge(),
			Size:            shadow.Size(),
			Cached:          shadow.Cached(),
			Managed:         shadow.Managed(),
			AttachmentIndex: -1,
		}

		if regionMapBadges[shadow.Badge()] || attachments == nil {
			for _, sub := range shadow.subsSnapshot() {
				dsInfo.Subs = append(dsInfo.Subs, &persistapi.SubDataspaceInfo{
					Offset:          sub.offset,
					Size:            sub.size,
					Modified:        sub.modified,
					Attached:        sub.attached,
					AttachmentIndex: -1,
				})
			}
			info.Dataspaces = append(info.Dataspaces, dsInfo)
			continue
		}

		full, copied, err := s.copyModified(ctx, shadow)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}

		kind := "unmanaged"
		if shadow.Managed() {
			kind = "managed"
		}

		if shadow.Managed() {
			byOffset := make(map[uint64][]byte, len(copied))
			for _, c := range copied {
				byOffset[c.offset] = c.data
				coremetrics.BytesCopied.WithLabelValues(kind).Add(float64(len(c.data)))
			}
			for _, sub := range shadow.subsSnapshot() {
				subInfo := &persistapi.SubDataspaceInfo{
					Offset:          sub.offset,
					Size:            sub.size,
					Attached:        sub.attached,
					AttachmentIndex: -1,
				}
				if data, ok := byOffset[sub.offset]; ok {
					subInfo.Modified = true
					subInfo.AttachmentIndex = len(*attachments)
					*attachments = append(*attachments, wire.Attachment{Size: uint64(len(data)), Bytes: data})
				} else {
					subInfo.Modified = sub.modified
				}
				dsInfo.Subs = append(dsInfo.Subs, subInfo)
			}
		} else {
			coremetrics.BytesCopied.WithLabelValues(kind).Add(float64(len(full)))
			dsInfo.AttachmentIndex = len(*attachments)
			*attachments = append(*attachments, wire.Attachment{Size: uint64(len(full)), Bytes: full})
		}

		info.Dataspaces = append(info.Dataspaces, dsInfo)
	}

	return info, merr.ErrorOrNil()
}
