// Copyright checkpointcore authors.
//
// Package persistapi defines the stored-info graph the checkpoint
// orchestrator reconciles on every checkpoint and which the wire
// serializer (pkg/persist/wire) walks to produce a snapshot. The
// shapes here mirror the live shadow records field-for-field (see
// core's shadow types); a ChildInfo is what `checkpoint()` steps 4-8
// build and stream out.
package persistapi

import "github.com/corerun/checkpointcore/pkg/badge"

// SessionBase is the set of fields every session kind's stored info
// shares.
type SessionBase struct {
	// CreationArgs is the bit-preserved argument string the session
	// was created with (before ram_quota readjustment for snapshot
	// fidelity; see core.Registry.CreateSession and
	// core/sessionargs.go).
	CreationArgs string
	// UpgradeArgs is the most recent upgrade-args string, verbatim.
	UpgradeArgs string
	Badge       badge.Badge
	Kcap        badge.Kcap
	Bootstrapped bool
}

// AttachedRegionInfo is one entry of a region map's attached-region
// list.
type AttachedRegionInfo struct {
	DataspaceBadge badge.Badge
	RelAddr        uint64
	Size           uint64
	Offset         uint64
	Executable     bool
}

// RegionMapInfo mirrors a region-map shadow: the dataspace that backs
// the region map itself, its fault handler, and the regions attached
// inside it.
type RegionMapInfo struct {
	Badge          badge.Badge
	DataspaceBadge badge.Badge
	DataspaceSize  uint64
	SignalHandler  badge.Badge
	// Attached is keyed by RelAddr: two regions never share an address
	// (spec's tie-break rule for use_local_addr=false).
	Attached map[uint64]*AttachedRegionInfo
}

// SignalSourceInfo records a PD-owned signal source.
type SignalSourceInfo struct {
	Badge badge.Badge
}

// SignalContextInfo records a PD-owned signal context. Both fields are
// required to faithfully replay alloc_context(source, imprint).
type SignalContextInfo struct {
	Badge       badge.Badge
	SourceBadge badge.Badge
	Imprint     uint64
}

// NativeCapInfo records an RPC capability allocated through a PD
// session. EndpointBadge is the key used by find_by_native_badge,
// because the kernel reuses the endpoint badge across allocations
// while the cap badge itself does not repeat.
type NativeCapInfo struct {
	Badge         badge.Badge
	EndpointBadge badge.Badge
}

// PdSessionInfo is the stored info for a protection-domain session.
type PdSessionInfo struct {
	SessionBase
	AddressSpace *RegionMapInfo
	StackArea    *RegionMapInfo
	LinkerArea   *RegionMapInfo

	SignalSources  []*SignalSourceInfo
	SignalContexts []*SignalContextInfo
	NativeCaps     []*NativeCapInfo
}

// ThreadInfo is the stored info for a single CPU thread, including a
// register-state snapshot retrieved at checkpoint time.
type ThreadInfo struct {
	Badge         badge.Badge
	Name          string
	Weight        uint8
	AffinityX     int
	AffinityY     int
	AffinityW     int
	AffinityH     int
	UTCB          uint64
	Started       bool
	Paused        bool
	SingleStep    bool
	SignalHandler badge.Badge
	Registers     []byte

	// Real-time extension.
	Priority uint32
	Deadline uint64
}

// CpuSessionInfo is the stored info for a CPU session.
type CpuSessionInfo struct {
	SessionBase
	Threads       []*ThreadInfo
	SignalHandler badge.Badge
	AffinityX     int
	AffinityY     int
	AffinityW     int
	AffinityH     int
}

// DataspaceInfo is the stored info for one RAM-allocated dataspace.
// Content travels out-of-band as an attachment; AttachmentIndex is -1
// when the dataspace's badge is part of the region-map badge set
// (region-map backing dataspaces are never content-copied, invariant
// 5) or when include_binary was false.
type DataspaceInfo struct {
	Badge           badge.Badge
	Size            uint64
	Cached          bool
	AttachmentIndex int

	Managed bool
	Subs    []*SubDataspaceInfo
}

// SubDataspaceInfo is one designated sub-dataspace of a managed
// dataspace. AttachmentIndex is -1 when the sub was not modified since
// the previous checkpoint and therefore was not re-copied.
type SubDataspaceInfo struct {
	Offset          uint64
	Size            uint64
	Modified        bool
	Attached        bool
	AttachmentIndex int
}

// RamSessionInfo is the stored info for a RAM session.
type RamSessionInfo struct {
	SessionBase
	Dataspaces []*DataspaceInfo
}

// RmSessionInfo is the stored info for an RM session: the set of
// region maps the child created through it (as opposed to the three
// PD-owned region maps).
type RmSessionInfo struct {
	SessionBase
	RegionMaps []*RegionMapInfo
}

// LogSessionInfo, RomSessionInfo and TimerSessionInfo are the passive
// sessions: creation args only, no shadow effect beyond SessionBase.
type LogSessionInfo struct{ SessionBase }
type RomSessionInfo struct{ SessionBase }
type TimerSessionInfo struct{ SessionBase }

// CapMapEntry is one row of a child's capability translation map.
type CapMapEntry struct {
	Badge badge.Badge
	Kcap  badge.Kcap
}

// ChildInfo is the stored-info graph for a single monitored child: the
// unit the serializer tags and streams out.
type ChildInfo struct {
	Label        string
	Bootstrapped bool

	PD    *PdSessionInfo
	RAM   *RamSessionInfo
	CPU   *CpuSessionInfo
	RM    *RmSessionInfo
	LOG   *LogSessionInfo
	ROM   *RomSessionInfo
	Timer *TimerSessionInfo

	CapabilityMap []*CapMapEntry

	// AttachmentIndex of the child's own binary/bootstrap ROM content,
	// or -1 if not applicable.
	BinaryAttachmentIndex int
}

// ChildList is the top-level value the serializer walks.
type ChildList struct {
	Children []*ChildInfo
}
