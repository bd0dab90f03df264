// Copyright checkpointcore authors.
//
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"sync"

	"github.com/corerun/checkpointcore/pkg/badge"
)

// subDataspace is one designated sub-dataspace of a managed
// dataspace: only attached to the address space when the child first
// touches it, at which point modified is set (spec.md §4.5).
type subDataspace struct {
	offset   uint64
	size     uint64
	modified bool
	attached bool
}

// DataspaceShadow is the shadow of a single RAM-allocated dataspace.
// The content-backing dataspace is lazily allocated and reused across
// consecutive checkpoints when the badge is unchanged, enabling
// incremental copy (spec.md §3 "Dataspace shadow").
type DataspaceShadow struct {
	mu sync.Mutex

	b      badge.Badge
	size   uint64
	cached bool

	managed        bool
	granularity    uint64
	subs           []*subDataspace
	backingBadge   badge.Badge
	backingContent []byte
}

func newDataspaceShadow(b badge.Badge, size uint64, cached bool) *DataspaceShadow {
	return &DataspaceShadow{b: b, size: size, cached: cached}
}

// newManagedDataspaceShadow creates a dataspace shadow backed by a
// list of granularity-sized sub-dataspaces, none of which are
// attached yet.
func newManagedDataspaceShadow(b badge.Badge, size, granularity uint64, cached bool) *DataspaceShadow {
	s := newDataspaceShadow(b, size, cached)
	s.managed = true
	s.granularity = granularity

	for off := uint64(0); off < size; off += granularity {
		subSize := granularity
		if off+subSize > size {
			subSize = size - off
		}
		s.subs = append(s.subs, &subDataspace{offset: off, size: subSize})
	}
	return s
}

func (d *DataspaceShadow) Badge() badge.Badge { return d.b }

func (d *DataspaceShadow) Size() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.size
}

func (d *DataspaceShadow) Managed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.managed
}

func (d *DataspaceShadow) Cached() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cached
}

// touch marks the sub-dataspace covering offset as attached and
// modified: the page-fault signal path calls this the first time the
// child touches a designated sub-range.
func (d *DataspaceShadow) touch(offset uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sub := range d.subs {
		if offset >= sub.offset && offset < sub.offset+sub.size {
			sub.attached = true
			sub.modified = true
			return
		}
	}
}

// detachDesignated clears the attached flag on every sub-dataspace so
// that subsequent child faults re-set modified (checkpoint step 6).
// modified is left untouched here: it is cleared only once the
// checkpoint has actually copied the sub's bytes (so an aborted
// checkpoint does not silently lose a modification).
func (d *DataspaceShadow) detachDesignated() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sub := range d.subs {
		sub.attached = false
	}
}

// modifiedSubs returns the subset of sub-dataspaces whose modified
// flag is set, for checkpoint step 7's incremental copy.
func (d *DataspaceShadow) modifiedSubs() []*subDataspace {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*subDataspace
	for _, sub := range d.subs {
		if sub.modified {
			out = append(out, sub)
		}
	}
	return out
}

func (d *DataspaceShadow) clearModified(sub *subDataspace) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sub.modified = false
}

// ensureBacking allocates the content-backing dataspace on first use
// and reuses it on every subsequent checkpoint as long as the shadow's
// own badge hasn't changed (spec.md §3's incremental-copy invariant).
func (d *DataspaceShadow) ensureBacking(alloc func(size uint64) (badge.Badge, error)) (badge.Badge, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.backingBadge.Valid() {
		return d.backingBadge, false, nil
	}
	b, err := alloc(d.size)
	if err != nil {
		return badge.Invalid, false, err
	}
	d.backingBadge = b
	d.backingContent = make([]byte, d.size)
	return b, true, nil
}

func (d *DataspaceShadow) writeBacking(offset uint64, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.backingContent[offset:], data)
}

// subsSnapshot returns a shallow copy of the sub-dataspace list for
// callers outside the package-private locking discipline (the
// checkpoint serializer's snapshot builders).
func (d *DataspaceShadow) subsSnapshot() []*subDataspace {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*subDataspace, len(d.subs))
	copy(out, d.subs)
	return out
}

func (d *DataspaceShadow) backingSnapshot() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, len(d.backingContent))
	copy(out, d.backingContent)
	return out
}
