// Copyright checkpointcore authors.
//
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/corerun/checkpointcore/pkg/badge"
)

// mockParent is an in-memory stand-in for the real parent environment,
// used by this package's own tests. It hands out monotonically
// increasing badges and keeps just enough state to make Attach/Detach
// and dataspace reads round-trip, mirroring the trivial in-memory
// bookkeeping of mock_hypervisor.go / mock_agent.go.
type mockParent struct {
	mu       sync.Mutex
	next     uint64
	contents map[badge.Badge][]byte
	sizes    map[badge.Badge]uint64
	attached map[badge.Badge]map[uint64]badge.Badge

	capTable map[string]map[badge.Badge]badge.Kcap
}

func newMockParent() *mockParent {
	return &mockParent{
		contents: make(map[badge.Badge][]byte),
		sizes:    make(map[badge.Badge]uint64),
		attached: make(map[badge.Badge]map[uint64]badge.Badge),
		capTable: make(map[string]map[badge.Badge]badge.Kcap),
	}
}

func (m *mockParent) alloc() badge.Badge {
	return badge.Badge(atomic.AddUint64(&m.next, 1))
}

// ParentFactory

func (m *mockParent) CreateSession(ctx context.Context, kind SessionKind, label, creationArgs string) (badge.Badge, error) {
	return m.alloc(), nil
}

func (m *mockParent) UpgradeSession(ctx context.Context, session badge.Badge, upgradeArgs string) error {
	return nil
}

func (m *mockParent) DestroySession(ctx context.Context, session badge.Badge) error {
	return nil
}

// ParentPD

func (m *mockParent) AllocSignalSource(ctx context.Context, pd badge.Badge) (badge.Badge, error) {
	return m.alloc(), nil
}

func (m *mockParent) FreeSignalSource(ctx context.Context, pd, source badge.Badge) error { return nil }

func (m *mockParent) AllocContext(ctx context.Context, pd, source badge.Badge, imprint uint64) (badge.Badge, error) {
	return m.alloc(), nil
}

func (m *mockParent) FreeContext(ctx context.Context, pd, sigCtx badge.Badge) error { return nil }

func (m *mockParent) AllocRpcCap(ctx context.Context, pd, ep badge.Badge) (badge.Badge, error) {
	return m.alloc(), nil
}

func (m *mockParent) FreeRpcCap(ctx context.Context, pd, cap badge.Badge) error { return nil }

func (m *mockParent) AddressSpace(ctx context.Context, pd badge.Badge) (badge.Badge, error) {
	return m.alloc(), nil
}

func (m *mockParent) StackArea(ctx context.Context, pd badge.Badge) (badge.Badge, error) {
	return m.alloc(), nil
}

func (m *mockParent) LinkerArea(ctx context.Context, pd badge.Badge) (badge.Badge, error) {
	return m.alloc(), nil
}

func (m *mockParent) RefAccount(ctx context.Context, pd, ref badge.Badge) error { return nil }

func (m *mockParent) TransferQuota(ctx context.Context, pd, to badge.Badge, amount uint64) error {
	return nil
}

func (m *mockParent) CapQuota(ctx context.Context, pd badge.Badge) (uint64, error) { return 0, nil }
func (m *mockParent) UsedCaps(ctx context.Context, pd badge.Badge) (uint64, error) { return 0, nil }
func (m *mockParent) RamQuota(ctx context.Context, pd badge.Badge) (uint64, error) { return 0, nil }
func (m *mockParent) UsedRam(ctx context.Context, pd badge.Badge) (uint64, error)  { return 0, nil }

func (m *mockParent) AssignParent(ctx context.Context, pd, parent badge.Badge) error { return nil }

func (m *mockParent) AssignPci(ctx context.Context, pd badge.Badge, addr string, bdf uint16) error {
	return nil
}

// ParentRegionMap

func (m *mockParent) CreateRegionMap(ctx context.Context) (badge.Badge, error) {
	return m.alloc(), nil
}

func (m *mockParent) DestroyRegionMap(ctx context.Context, rm badge.Badge) error { return nil }

func (m *mockParent) Attach(ctx context.Context, rm, ds badge.Badge, size, offset, localAddr uint64, executable, useLocalAddr bool) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attached[rm] == nil {
		m.attached[rm] = make(map[uint64]badge.Badge)
	}
	relAddr := localAddr
	if !useLocalAddr {
		relAddr = uint64(len(m.attached[rm])) * 0x1000
	}
	m.attached[rm][relAddr] = ds
	return relAddr, nil
}

func (m *mockParent) Detach(ctx context.Context, rm badge.Badge, relAddr uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attached[rm], relAddr)
	return nil
}

func (m *mockParent) SetFaultHandler(ctx context.Context, rm, handler badge.Badge) error { return nil }

func (m *mockParent) DataspaceSize(ctx context.Context, ds badge.Badge) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sizes[ds], nil
}

func (m *mockParent) ManagingDataspace(ctx context.Context, rm badge.Badge) (badge.Badge, error) {
	return m.alloc(), nil
}

// ParentCPU

func (m *mockParent) CreateThread(ctx context.Context, pd badge.Badge, name string, affX, affY, affW, affH int, weight uint8, utcb uint64) (badge.Badge, error) {
	return m.alloc(), nil
}

func (m *mockParent) KillThread(ctx context.Context, thread badge.Badge) error { return nil }
func (m *mockParent) Pause(ctx context.Context, thread badge.Badge) error      { return nil }
func (m *mockParent) Resume(ctx context.Context, thread badge.Badge) error     { return nil }

func (m *mockParent) ExceptionSigh(ctx context.Context, thread, handler badge.Badge) error {
	return nil
}

func (m *mockParent) RegisterState(ctx context.Context, thread badge.Badge) ([]byte, error) {
	return []byte("regs"), nil
}

func (m *mockParent) SetSchedType(ctx context.Context, thread badge.Badge, priority uint32, deadline uint64) error {
	return nil
}

func (m *mockParent) GetSchedType(ctx context.Context, thread badge.Badge) (uint32, uint64, error) {
	return 0, 0, nil
}

// ParentRAM

func (m *mockParent) Alloc(ctx context.Context, size uint64, cached bool) (badge.Badge, error) {
	b := m.alloc()
	m.mu.Lock()
	m.sizes[b] = size
	m.contents[b] = make([]byte, size)
	m.mu.Unlock()
	return b, nil
}

func (m *mockParent) Free(ctx context.Context, ds badge.Badge) error {
	m.mu.Lock()
	delete(m.sizes, ds)
	delete(m.contents, ds)
	m.mu.Unlock()
	return nil
}

func (m *mockParent) ReadBytes(ctx context.Context, ds badge.Badge, offset, length uint64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content := m.contents[ds]
	end := offset + length
	if end > uint64(len(content)) {
		end = uint64(len(content))
	}
	if offset > end {
		return nil, nil
	}
	out := make([]byte, end-offset)
	copy(out, content[offset:end])
	return out, nil
}

func (m *mockParent) WriteBytes(ctx context.Context, ds badge.Badge, offset uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	content := m.contents[ds]
	needed := offset + uint64(len(data))
	if needed > uint64(len(content)) {
		grown := make([]byte, needed)
		copy(grown, content)
		content = grown
	}
	copy(content[offset:], data)
	m.contents[ds] = content
	return nil
}

// ParentCapTable

func (m *mockParent) ReadCapTable(ctx context.Context, label string) (map[badge.Badge]badge.Kcap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[badge.Badge]badge.Kcap, len(m.capTable[label]))
	for b, k := range m.capTable[label] {
		out[b] = k
	}
	return out, nil
}

func (m *mockParent) setCapTable(label string, table map[badge.Badge]badge.Kcap) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capTable[label] = table
}

// ParentThreads

func (m *mockParent) PauseAll(ctx context.Context, threads []badge.Badge) error  { return nil }
func (m *mockParent) ResumeAll(ctx context.Context, threads []badge.Badge) error { return nil }

// newMockParents bundles mockParent as every interface of Parents.
func newMockParents() (*mockParent, Parents) {
	m := newMockParent()
	return m, Parents{
		Factory:   m,
		PD:        m,
		RegionMap: m,
		CPU:       m,
		RAM:       m,
		CapTable:  m,
		Threads:   m,
	}
}
