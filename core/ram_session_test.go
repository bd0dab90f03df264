// Copyright checkpointcore authors.
//
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"testing"

	"github.com/corerun/checkpointcore/pkg/badge"
	"github.com/corerun/checkpointcore/pkg/persist/wire"
	"github.com/stretchr/testify/require"
)

func TestRamSessionReconcileUnmanagedAttachesContent(t *testing.T) {
	ctx := context.Background()
	m, parents := newMockParents()
	ram := newRamSession("child-a", "", m.alloc(), true, parents.RAM)

	ds, err := ram.Alloc(ctx, 32, false, false, 0)
	require.NoError(t, err)
	require.NoError(t, m.WriteBytes(ctx, ds, 0, []byte("payload")))

	var attachments []wire.Attachment
	info, err := ram.reconcile(ctx, map[badge.Badge]bool{}, &attachments)
	require.NoError(t, err)
	require.Len(t, info.Dataspaces, 1)

	dsInfo := info.Dataspaces[0]
	require.False(t, dsInfo.Managed)
	require.GreaterOrEqual(t, dsInfo.AttachmentIndex, 0)
	require.Equal(t, []byte("payload"), attachments[dsInfo.AttachmentIndex].Bytes[:len("payload")])
}

func TestRamSessionReconcileManagedAttachesOnlyModifiedSubs(t *testing.T) {
	ctx := context.Background()
	m, parents := newMockParents()
	ram := newRamSession("child-a", "", m.alloc(), true, parents.RAM)

	ds, err := ram.Alloc(ctx, managedGranularity*2, false, true, 0)
	require.NoError(t, err)

	shadow, ok := ram.Find(ds)
	require.True(t, ok)
	shadow.touch(managedGranularity) // second sub, offset > 0

	var attachments []wire.Attachment
	info, err := ram.reconcile(ctx, map[badge.Badge]bool{}, &attachments)
	require.NoError(t, err)
	require.Len(t, info.Dataspaces, 1)

	dsInfo := info.Dataspaces[0]
	require.True(t, dsInfo.Managed)
	require.Len(t, dsInfo.Subs, 2)

	var attachedCount, unattachedCount int
	for _, sub := range dsInfo.Subs {
		if sub.AttachmentIndex >= 0 {
			attachedCount++
			require.True(t, sub.Modified)
		} else {
			unattachedCount++
		}
	}
	require.Equal(t, 1, attachedCount)
	require.Equal(t, 1, unattachedCount)
	require.Len(t, attachments, 1)
}

func TestRamSessionReconcileSkipsRegionMapBadges(t *testing.T) {
	ctx := context.Background()
	m, parents := newMockParents()
	ram := newRamSession("child-a", "", m.alloc(), true, parents.RAM)

	ds, err := ram.Alloc(ctx, 16, false, false, 0)
	require.NoError(t, err)

	var attachments []wire.Attachment
	info, err := ram.reconcile(ctx, map[badge.Badge]bool{ds: true}, &attachments)
	require.NoError(t, err)
	require.Len(t, info.Dataspaces, 1)
	require.Equal(t, -1, info.Dataspaces[0].AttachmentIndex)
	require.Empty(t, attachments)
}

func TestRamSessionReconcileCustomGranularityReusesBacking(t *testing.T) {
	ctx := context.Background()
	m, parents := newMockParents()
	ram := newRamSession("child-a", "", m.alloc(), true, parents.RAM)

	const granularity = 4096
	ds, err := ram.Alloc(ctx, granularity*16, false, true, granularity)
	require.NoError(t, err)

	shadow, ok := ram.Find(ds)
	require.True(t, ok)
	require.Len(t, shadow.subsSnapshot(), 16)

	shadow.touch(0x3000)
	require.NoError(t, m.WriteBytes(ctx, ds, 0x3000, []byte{0xAB}))

	var attachmentsA []wire.Attachment
	infoA, err := ram.reconcile(ctx, map[badge.Badge]bool{}, &attachmentsA)
	require.NoError(t, err)
	backingA := shadow.backingBadge
	require.True(t, backingA.Valid())

	shadow.touch(0x7000)
	require.NoError(t, m.WriteBytes(ctx, ds, 0x7000, []byte{0xCD}))

	var attachmentsB []wire.Attachment
	infoB, err := ram.reconcile(ctx, map[badge.Badge]bool{}, &attachmentsB)
	require.NoError(t, err)

	// The dataspace's own badge is unchanged across both checkpoints, so
	// the content-backing dataspace allocated by the first is reused by
	// the second (testable property 4).
	require.Equal(t, backingA, shadow.backingBadge)
	require.Len(t, infoA.Dataspaces[0].Subs, 16)
	require.Len(t, infoB.Dataspaces[0].Subs, 16)
}

func TestRamSessionReconcileWithoutBinaryLeavesAttachmentsNil(t *testing.T) {
	ctx := context.Background()
	m, parents := newMockParents()
	ram := newRamSession("child-a", "", m.alloc(), true, parents.RAM)

	_, err := ram.Alloc(ctx, 16, false, false, 0)
	require.NoError(t, err)

	info, err := ram.reconcile(ctx, map[badge.Badge]bool{}, nil)
	require.NoError(t, err)
	require.Equal(t, -1, info.Dataspaces[0].AttachmentIndex)
}
