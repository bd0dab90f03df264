// Copyright checkpointcore authors.
//
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"testing"

	"github.com/corerun/checkpointcore/pkg/badge"
	"github.com/corerun/checkpointcore/pkg/persist/compress"
	"github.com/corerun/checkpointcore/pkg/persist/wire"
	"github.com/stretchr/testify/require"
)

func TestCheckpointRoundTrip(t *testing.T) {
	ctx := context.Background()
	m, parents := newMockParents()
	m.setCapTable("child-a", map[badge.Badge]badge.Kcap{})

	engine := NewEngine(parents)

	pdBadge, err := engine.CreateSession(ctx, KindPD, "child-a", "")
	require.NoError(t, err)

	_, err = engine.CreateSession(ctx, KindCPU, "child-a", "")
	require.NoError(t, err)

	_, err = engine.CreateSession(ctx, KindRAM, "child-a", "")
	require.NoError(t, err)

	session, ok := engine.Session("child-a")
	require.True(t, ok)
	require.NotNil(t, session.PD)
	require.NotNil(t, session.CPU)
	require.NotNil(t, session.RAM)

	thread, err := session.CPU.CreateThread(ctx, pdBadge, "main", 0, 0, 1, 1, 128, 0)
	require.NoError(t, err)
	require.True(t, thread.Valid())

	ds, err := session.RAM.Alloc(ctx, 64, false, false, 0)
	require.NoError(t, err)
	require.NoError(t, m.WriteBytes(ctx, ds, 0, []byte("hello, checkpoint")))

	engine.Bootstrap("child-a")

	snap, err := engine.Checkpoint(ctx, true)
	require.NoError(t, err)
	require.NotEmpty(t, snap.ID)
	require.NotEmpty(t, snap.Compressed)

	raw, err := compress.Decompress(snap.Compressed)
	require.NoError(t, err)

	children, _, err := wire.Parse(raw)
	require.NoError(t, err)
	require.Len(t, children.Children, 1)

	info := children.Children[0]
	require.Equal(t, "child-a", info.Label)
	require.False(t, info.Bootstrapped)
	require.NotNil(t, info.PD)
	require.NotNil(t, info.CPU)
	require.Len(t, info.CPU.Threads, 1)
	require.Len(t, info.RAM.Dataspaces, 1)
}

func TestCreateThreadWithUnknownPdBadge(t *testing.T) {
	ctx := context.Background()
	_, parents := newMockParents()
	engine := NewEngine(parents)

	_, err := engine.CreateSession(ctx, KindCPU, "child-a", "")
	require.NoError(t, err)

	session, ok := engine.Session("child-a")
	require.True(t, ok)

	_, err = session.CPU.CreateThread(ctx, badge.Badge(9999), "main", 0, 0, 1, 1, 1, 0)
	require.ErrorIs(t, err, ErrUnknownPdBadge)
}

func TestClampWeight(t *testing.T) {
	require.Equal(t, minWeight, clampWeight(0))
	require.Equal(t, maxWeight, clampWeight(255))
	require.Equal(t, uint8(100), clampWeight(100))
}
