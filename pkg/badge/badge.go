// Package badge defines the identifiers the checkpoint engine uses to
// refer to capabilities across a child's lifetime.
//
// A Badge is the only identity that survives into a snapshot: raw
// kernel capability handles are never serialized (see the core
// checkpoint design notes on why intrusive capability pointers must
// not outlive the capability they shadow).
package badge

import "fmt"

// Badge is the 16-bit identifier the kernel assigns to a capability at
// creation time. It is stable for the lifetime of the capability and
// is the only cross-snapshot identity a shadow record carries.
type Badge uint16

// Invalid is the zero badge; no real capability is ever assigned it.
const Invalid Badge = 0

func (b Badge) String() string {
	return fmt.Sprintf("badge(%d)", uint16(b))
}

// Valid reports whether b could name a real capability.
func (b Badge) Valid() bool {
	return b != Invalid
}

// Kcap is the per-child virtual address at which a badge is visible
// inside the child's capability table. It is rebuilt from scratch on
// every checkpoint (invariant 6) and is never assumed stable across
// checkpoints.
type Kcap uint64

func (k Kcap) String() string {
	return fmt.Sprintf("kcap(0x%x)", uint64(k))
}
