// Copyright checkpointcore authors.
//
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPdSessionSignalSourceLifecycle(t *testing.T) {
	ctx := context.Background()
	m, parents := newMockParents()

	pd, err := newPdSession(ctx, "child-a", "", m.alloc(), true, parents.PD, parents.RegionMap, parents.Factory)
	require.NoError(t, err)
	require.NotNil(t, pd.AddressSpace())
	require.NotNil(t, pd.StackArea())
	require.NotNil(t, pd.LinkerArea())

	src, err := pd.AllocSignalSource(ctx)
	require.NoError(t, err)
	require.True(t, src.Valid())

	require.NoError(t, pd.FreeSignalSource(ctx, src))
	require.ErrorIs(t, pd.FreeSignalSource(ctx, src), ErrUnknownBadge)

	sources, _, _ := pd.drainDestroyed()
	require.Len(t, sources, 1)
}

func TestPdSessionNativeCapFindByEndpoint(t *testing.T) {
	ctx := context.Background()
	m, parents := newMockParents()
	pd, err := newPdSession(ctx, "child-a", "", m.alloc(), true, parents.PD, parents.RegionMap, parents.Factory)
	require.NoError(t, err)

	ep := m.alloc()
	rpcCap, err := pd.AllocRpcCap(ctx, ep)
	require.NoError(t, err)

	found, ok := pd.FindByNativeBadge(ep)
	require.True(t, ok)
	require.Equal(t, rpcCap, found)

	require.NoError(t, pd.FreeRpcCap(ctx, rpcCap))
	_, ok = pd.FindByNativeBadge(ep)
	require.False(t, ok)
}
