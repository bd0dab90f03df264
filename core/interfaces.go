// Copyright checkpointcore authors.
//
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"

	"github.com/corerun/checkpointcore/pkg/badge"
)

// SessionKind identifies one of the seven session types a child can
// hold against the impersonating servers.
type SessionKind string

const (
	KindPD    SessionKind = "pd"
	KindCPU   SessionKind = "cpu"
	KindRAM   SessionKind = "ram"
	KindRM    SessionKind = "rm"
	KindLOG   SessionKind = "log"
	KindROM   SessionKind = "rom"
	KindTimer SessionKind = "timer"
)

// ParentFactory is the real parent environment's session-creation
// entry point. Registry forwards session create and upgrade through
// here (spec.md §4.1); DestroySession is part of the interface but no
// code in this package calls it. It is the single collaborator
// interface onto the excluded kernel/launcher layer.
type ParentFactory interface {
	// CreateSession asks the real parent to create a session of the
	// given kind and returns the badge of the resulting session
	// capability. creationArgs is the readjusted argument string.
	CreateSession(ctx context.Context, kind SessionKind, label, creationArgs string) (badge.Badge, error)
	// UpgradeSession forwards the (verbatim) upgrade-args string for an
	// existing session.
	UpgradeSession(ctx context.Context, session badge.Badge, upgradeArgs string) error
	// DestroySession tells the real parent to release a session.
	DestroySession(ctx context.Context, session badge.Badge) error
}

// ParentPD is the real PD service a PdSession forwards to.
type ParentPD interface {
	AllocSignalSource(ctx context.Context, pd badge.Badge) (badge.Badge, error)
	FreeSignalSource(ctx context.Context, pd badge.Badge, source badge.Badge) error
	AllocContext(ctx context.Context, pd badge.Badge, source badge.Badge, imprint uint64) (badge.Badge, error)
	FreeContext(ctx context.Context, pd badge.Badge, sigCtx badge.Badge) error
	AllocRpcCap(ctx context.Context, pd badge.Badge, ep badge.Badge) (badge.Badge, error)
	FreeRpcCap(ctx context.Context, pd badge.Badge, cap badge.Badge) error

	// AddressSpace, StackArea and LinkerArea return the badges of the
	// three region maps the real PD service materialises for every PD
	// session at construction time (spec.md §4.2).
	AddressSpace(ctx context.Context, pd badge.Badge) (badge.Badge, error)
	StackArea(ctx context.Context, pd badge.Badge) (badge.Badge, error)
	LinkerArea(ctx context.Context, pd badge.Badge) (badge.Badge, error)

	// Quota and pass-through operations: pure forwarding, no shadow
	// effect (spec.md §4.2).
	RefAccount(ctx context.Context, pd, ref badge.Badge) error
	TransferQuota(ctx context.Context, pd, to badge.Badge, amount uint64) error
	CapQuota(ctx context.Context, pd badge.Badge) (uint64, error)
	UsedCaps(ctx context.Context, pd badge.Badge) (uint64, error)
	RamQuota(ctx context.Context, pd badge.Badge) (uint64, error)
	UsedRam(ctx context.Context, pd badge.Badge) (uint64, error)
	AssignParent(ctx context.Context, pd badge.Badge, parent badge.Badge) error
	AssignPci(ctx context.Context, pd badge.Badge, addr string, bdf uint16) error
}

// ParentRegionMap is the real region-map service a RegionMapShadow
// forwards to (spec.md §4.3). Each region-map shadow is bound to one
// real region map badge at construction.
type ParentRegionMap interface {
	// CreateRegionMap and DestroyRegionMap back an RM session's factory
	// of additional region maps (spec.md §4.3, "The RM session is
	// simply a factory of additional region-map shadows").
	CreateRegionMap(ctx context.Context) (badge.Badge, error)
	DestroyRegionMap(ctx context.Context, rm badge.Badge) error

	Attach(ctx context.Context, rm badge.Badge, ds badge.Badge, size, offset, localAddr uint64, executable, useLocalAddr bool) (relAddr uint64, err error)
	Detach(ctx context.Context, rm badge.Badge, relAddr uint64) error
	SetFaultHandler(ctx context.Context, rm badge.Badge, handler badge.Badge) error
	DataspaceSize(ctx context.Context, ds badge.Badge) (uint64, error)

	// ManagingDataspace returns the badge of the dataspace that
	// represents rm itself when rm is attached into another address
	// space (used for the three PD-owned region maps, whose dataspace
	// badge is otherwise not produced by any create call).
	ManagingDataspace(ctx context.Context, rm badge.Badge) (badge.Badge, error)
}

// ParentCPU is the real CPU service a CpuSession forwards to (spec.md
// §4.4).
type ParentCPU interface {
	CreateThread(ctx context.Context, pd badge.Badge, name string, affX, affY, affW, affH int, weight uint8, utcb uint64) (badge.Badge, error)
	KillThread(ctx context.Context, thread badge.Badge) error
	Pause(ctx context.Context, thread badge.Badge) error
	Resume(ctx context.Context, thread badge.Badge) error
	ExceptionSigh(ctx context.Context, thread badge.Badge, handler badge.Badge) error
	RegisterState(ctx context.Context, thread badge.Badge) ([]byte, error)

	// Real-time extension.
	SetSchedType(ctx context.Context, thread badge.Badge, priority uint32, deadline uint64) error
	GetSchedType(ctx context.Context, thread badge.Badge) (priority uint32, deadline uint64, err error)
}

// ParentRAM is the real RAM service a RamSession forwards to (spec.md
// §4.5).
type ParentRAM interface {
	Alloc(ctx context.Context, size uint64, cached bool) (badge.Badge, error)
	Free(ctx context.Context, ds badge.Badge) error
	DataspaceSize(ctx context.Context, ds badge.Badge) (uint64, error)
	ReadBytes(ctx context.Context, ds badge.Badge, offset, length uint64) ([]byte, error)
	WriteBytes(ctx context.Context, ds badge.Badge, offset uint64, data []byte) error
}

// ParentPassive is the real LOG/ROM/Timer service; every operation is
// forwarded verbatim (spec.md §4.6). The core only needs to know the
// session exists, so no method is required beyond ParentFactory.
type ParentPassive interface {
	ParentFactory
}

// ParentCapTable exposes the child's capability table, read by
// attaching its inspectable dataspace into our own address space
// (spec.md §3's kcap definition, §4.7 step 2).
type ParentCapTable interface {
	ReadCapTable(ctx context.Context, label string) (map[badge.Badge]badge.Kcap, error)
}

// ParentThreads is the administrative pause/resume surface the
// checkpoint orchestrator drives directly, independent of any single
// child's CPU session (spec.md §4.4 "administrative operations").
type ParentThreads interface {
	PauseAll(ctx context.Context, threads []badge.Badge) error
	ResumeAll(ctx context.Context, threads []badge.Badge) error
}
