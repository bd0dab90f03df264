// Copyright checkpointcore authors.
//
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"time"

	"github.com/corerun/checkpointcore/pkg/badge"
	"github.com/corerun/checkpointcore/pkg/coremetrics"
	"github.com/corerun/checkpointcore/pkg/corelog"
	"github.com/corerun/checkpointcore/pkg/coretrace"
	persistapi "github.com/corerun/checkpointcore/pkg/persist/api"
	"github.com/corerun/checkpointcore/pkg/persist/compress"
	"github.com/corerun/checkpointcore/pkg/persist/wire"
	"github.com/corerun/checkpointcore/pkg/retry"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// Snapshot is the result of one successful Checkpoint call: the
// compressed wire stream and its uncompressed size, mirroring
// spec.md §4.8's `serialize(children, include_binary) -> (bytes,
// size)` entry point after the compression step. ID identifies this
// particular checkpoint run for logging and correlation with a
// restore attempt.
type Snapshot struct {
	ID               string
	Compressed       []byte
	UncompressedSize int
}

// Checkpoint runs the nine-step sequence of spec.md §4.7 across every
// child this registry currently tracks. It is not cancellable once
// started: a step failure aborts the remaining steps, resumes every
// thread that was paused, and returns the error without producing a
// snapshot (spec.md §5 "Checkpoint itself is not cancellable").
func (r *Registry) Checkpoint(ctx context.Context, includeBinary bool) (*Snapshot, error) {
	ctx, span := coretrace.Session(ctx, "checkpoint", "run")
	defer span.End()

	id := uuid.New().String()
	children := r.children.All()
	clog := corelog.Logger().WithFields(map[string]any{"component": "checkpoint", "snapshot": id})

	paused, err := r.pauseAll(ctx, children)
	if err != nil {
		r.resumeAll(ctx, paused)
		return nil, errorContext(err, "checkpoint step 1 (pause)")
	}

	if err := r.buildCapMap(ctx, children); err != nil {
		r.resumeAll(ctx, paused)
		return nil, errorContext(err, "checkpoint step 2 (capmap)")
	}

	regionMapBadges, err := buildRegionMapBadgeSet(ctx, children)
	if err != nil {
		r.resumeAll(ctx, paused)
		return nil, errorContext(err, "checkpoint step 3 (regionmap badges)")
	}

	var attachments []wire.Attachment
	childInfos := make([]*persistapi.ChildInfo, 0, len(children))
	for _, child := range children {
		if child.Destroyed() {
			continue
		}
		info, err := r.reconcileChild(ctx, child, regionMapBadges, &attachments, includeBinary)
		if err != nil {
			r.resumeAll(ctx, paused)
			return nil, errorContext(err, "checkpoint step 4-7 (reconcile)")
		}
		childInfos = append(childInfos, info)
	}

	stepStart := time.Now()
	data, size, err := wire.Serialize(&persistapi.ChildList{Children: childInfos}, attachments, includeBinary)
	coremetrics.StepDuration.WithLabelValues("serialize").Observe(time.Since(stepStart).Seconds())
	if err != nil {
		r.resumeAll(ctx, paused)
		return nil, errorContext(err, "checkpoint step 8 (serialize)")
	}

	stepStart = time.Now()
	compressed, err := compress.Compress(data)
	coremetrics.StepDuration.WithLabelValues("compress").Observe(time.Since(stepStart).Seconds())
	if err != nil {
		r.resumeAll(ctx, paused)
		return nil, errorContext(err, "checkpoint step 8 (compress)")
	}
	coremetrics.SnapshotBytes.Set(float64(len(compressed)))

	if err := r.resumeAll(ctx, paused); err != nil {
		return nil, errorContext(err, "checkpoint step 9 (resume)")
	}

	clog.WithFields(map[string]any{"children": len(childInfos), "bytes": size}).Debug("checkpoint complete")
	return &Snapshot{ID: id, Compressed: compressed, UncompressedSize: size}, nil
}

// pauseAll is checkpoint step 1: pause every thread of every CPU
// session across every tracked child.
func (r *Registry) pauseAll(ctx context.Context, children []*ChildRecord) ([]badge.Badge, error) {
	_, span := coretrace.Step(ctx, "pause")
	defer span.End()
	corelog.Logger().Debug("checkpoint.pause")

	var threads []badge.Badge
	for _, child := range children {
		cpu := child.CPU()
		if cpu == nil {
			continue
		}
		for _, rec := range cpu.liveThreads() {
			threads = append(threads, rec.badge)
		}
	}
	if len(threads) == 0 {
		return nil, nil
	}
	if err := retry.Do(func() error { return r.parents.Threads.PauseAll(ctx, threads) }); err != nil {
		return nil, errorContext(ErrParentFailure, err.Error())
	}
	return threads, nil
}

// resumeAll is checkpoint step 9.
func (r *Registry) resumeAll(ctx context.Context, threads []badge.Badge) error {
	_, span := coretrace.Step(ctx, "resume")
	defer span.End()

	if len(threads) == 0 {
		return nil
	}
	if err := retry.Do(func() error { return r.parents.Threads.ResumeAll(ctx, threads) }); err != nil {
		return errorContext(ErrParentFailure, err.Error())
	}
	return nil
}

// buildCapMap is checkpoint step 2: attach each child's cap-map
// dataspace and translate every (badge, kcap) entry into that child's
// record, dropping entries for badges the shadow graph no longer
// knows about.
func (r *Registry) buildCapMap(ctx context.Context, children []*ChildRecord) error {
	_, span := coretrace.Step(ctx, "capmap")
	defer span.End()
	corelog.Logger().Debug("checkpoint.capmap")

	for _, child := range children {
		var table map[badge.Badge]badge.Kcap
		err := retry.Do(func() error {
			var readErr error
			table, readErr = r.parents.CapTable.ReadCapTable(ctx, child.Label())
			return readErr
		})
		if err != nil {
			return errorContext(ErrParentFailure, err.Error())
		}

		live := liveBadgeSet(child)
		pruned := make(map[badge.Badge]badge.Kcap, len(table))
		for b, kcap := range table {
			if live[b] {
				pruned[b] = kcap
			}
		}
		child.setCapMap(pruned)
	}
	return nil
}

// liveBadgeSet collects every badge a child's shadow graph currently
// knows about, used to prune stale cap-map entries.
func liveBadgeSet(child *ChildRecord) map[badge.Badge]bool {
	live := make(map[badge.Badge]bool)
	if pd := child.PD(); pd != nil {
		live[pd.Badge()] = true
		for _, rm := range pd.OwnedRegionMaps() {
			live[rm.Badge()] = true
		}
		pd.mu.Lock()
		for b := range pd.signalSources {
			live[b] = true
		}
		for b := range pd.signalContexts {
			live[b] = true
		}
		for b := range pd.nativeCaps {
			live[b] = true
		}
		pd.mu.Unlock()
	}
	if ram := child.RAM(); ram != nil {
		live[ram.Badge()] = true
		for b := range ram.liveDataspaces() {
			live[b] = true
		}
	}
	if cpu := child.CPU(); cpu != nil {
		live[cpu.Badge()] = true
		for _, t := range cpu.liveThreads() {
			live[t.badge] = true
		}
	}
	if rm := child.RM(); rm != nil {
		live[rm.Badge()] = true
		for b := range rm.liveRegionMaps() {
			live[b] = true
		}
	}
	if s := child.LOG(); s != nil {
		live[s.Badge()] = true
	}
	if s := child.ROM(); s != nil {
		live[s.Badge()] = true
	}
	if s := child.Timer(); s != nil {
		live[s.Badge()] = true
	}
	return live
}

// buildRegionMapBadgeSet is checkpoint step 3: the union of the
// backing-dataspace badges of every region-map shadow across every
// child's PD and RM sessions. RAM dataspaces whose badge appears here
// are region-map backing dataspaces, never content-copied (invariant
// 5 of spec.md §3). It also primes each shadow's dataspace_size cache
// (SPEC_FULL.md §3.1) so that the later stored-info snapshot never
// issues a redundant DataspaceSize RPC for a region map already
// visited this checkpoint.
func buildRegionMapBadgeSet(ctx context.Context, children []*ChildRecord) (map[badge.Badge]bool, error) {
	set := make(map[badge.Badge]bool)
	var merr *multierror.Error
	for _, child := range children {
		if pd := child.PD(); pd != nil {
			for _, rm := range pd.OwnedRegionMaps() {
				set[rm.DataspaceBadge()] = true
				if _, err := rm.cacheDataspaceSize(ctx); err != nil {
					merr = multierror.Append(merr, err)
				}
			}
		}
		if rmSession := child.RM(); rmSession != nil {
			for _, shadow := range rmSession.liveRegionMaps() {
				set[shadow.DataspaceBadge()] = true
				if _, err := shadow.cacheDataspaceSize(ctx); err != nil {
					merr = multierror.Append(merr, err)
				}
			}
		}
	}
	return set, merr.ErrorOrNil()
}

// reconcileChild runs steps 4-7 for a single child: drain destruction
// queues, rebuild the stored-info record, detach designated
// sub-dataspaces, and copy modified dataspace content. Copied content
// is appended to attachments (shared across every child this
// checkpoint) unless includeBinary is false, in which case no content
// is copied at all and every AttachmentIndex stays -1.
func (r *Registry) reconcileChild(ctx context.Context, child *ChildRecord, regionMapBadges map[badge.Badge]bool, attachments *[]wire.Attachment, includeBinary bool) (*persistapi.ChildInfo, error) {
	corelog.Logger().WithField("child", child.Label()).Debug("checkpoint.reconcile")
	var merr *multierror.Error

	if pd := child.PD(); pd != nil {
		pd.drainDestroyed()
	}
	if ram := child.RAM(); ram != nil {
		ram.drainDestroyed()
	}
	if cpu := child.CPU(); cpu != nil {
		cpu.drainDestroyed()
	}
	if rm := child.RM(); rm != nil {
		rm.drainDestroyed()
	}

	info := &persistapi.ChildInfo{
		Label:                 child.Label(),
		Bootstrapped:          child.Bootstrapped(),
		BinaryAttachmentIndex: -1,
	}
	if pd := child.PD(); pd != nil {
		info.PD = pd.snapshot()
	}
	if cpu := child.CPU(); cpu != nil {
		info.CPU = cpu.snapshot(ctx)
	}
	if rm := child.RM(); rm != nil {
		info.RM = rm.snapshot()
	}
	if s := child.LOG(); s != nil {
		info.LOG = s.snapshot()
	}
	if s := child.ROM(); s != nil {
		info.ROM = s.snapshot()
	}
	if s := child.Timer(); s != nil {
		info.Timer = s.snapshot()
	}
	for b, kcap := range child.CapMap() {
		info.CapabilityMap = append(info.CapabilityMap, &persistapi.CapMapEntry{Badge: b, Kcap: kcap})
	}

	if ram := child.RAM(); ram != nil {
		var ramAttachments *[]wire.Attachment
		if includeBinary {
			ramAttachments = attachments
		}
		ramInfo, err := ram.reconcile(ctx, regionMapBadges, ramAttachments)
		if err != nil {
			merr = multierror.Append(merr, err)
		}
		info.RAM = ramInfo
	}

	return info, merr.ErrorOrNil()
}
