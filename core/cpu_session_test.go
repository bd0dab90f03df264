// Copyright checkpointcore authors.
//
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"testing"

	"github.com/corerun/checkpointcore/pkg/badge"
	"github.com/corerun/checkpointcore/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestCreateThreadSeedsAffinityFromStaticConfig(t *testing.T) {
	ctx := context.Background()
	_, parents := newMockParents()

	aff, err := config.Parse(`
[[child]]
name = "child-a"
xpos = 1
ypos = 2

[affinity]
width = 4
height = 2
`)
	require.NoError(t, err)

	registry := NewRegistry(parents, WithAffinity(aff))
	pdBadge, err := registry.CreateSession(ctx, KindPD, "child-a", "")
	require.NoError(t, err)
	_, err = registry.CreateSession(ctx, KindCPU, "child-a", "")
	require.NoError(t, err)

	child, ok := registry.Children().Get("child-a")
	require.True(t, ok)

	// The thread's requested affinity (99,99,99,99) is forwarded to the
	// parent but must not leak into the shadow: the shadow is seeded
	// from static config regardless (spec.md §4.4 step 3).
	thread, err := child.CPU().CreateThread(ctx, pdBadge, "main", 99, 99, 99, 99, 1, 0)
	require.NoError(t, err)

	rec, ok := child.CPU().threads[thread]
	require.True(t, ok)
	require.Equal(t, 1, rec.affX)
	require.Equal(t, 2, rec.affY)
	require.Equal(t, 4, rec.affW)
	require.Equal(t, 2, rec.affH)
}

func TestCreateThreadDefaultsToZeroAffinityWithoutConfig(t *testing.T) {
	ctx := context.Background()
	_, parents := newMockParents()

	registry := NewRegistry(parents)
	pdBadge, err := registry.CreateSession(ctx, KindPD, "child-a", "")
	require.NoError(t, err)
	_, err = registry.CreateSession(ctx, KindCPU, "child-a", "")
	require.NoError(t, err)

	child, _ := registry.Children().Get("child-a")
	thread, err := child.CPU().CreateThread(ctx, pdBadge, "main", 5, 5, 5, 5, 1, 0)
	require.NoError(t, err)

	rec := child.CPU().threads[thread]
	require.Zero(t, rec.affX)
	require.Zero(t, rec.affY)
	require.Zero(t, rec.affW)
	require.Zero(t, rec.affH)
}

func TestGetSchedType(t *testing.T) {
	ctx := context.Background()
	m, parents := newMockParents()
	session := newCpuSession("child-a", "", m.alloc(), true, parents.CPU, func(badge.Badge) bool { return true }, config.ResolvedEntry{})

	thread, err := session.CreateThread(ctx, badge.Badge(1), "main", 0, 0, 1, 1, 1, 0)
	require.NoError(t, err)

	priority, deadline, err := session.GetSchedType(ctx, thread)
	require.NoError(t, err)
	require.Zero(t, priority)
	require.Zero(t, deadline)

	_, _, err = session.GetSchedType(ctx, badge.Badge(9999))
	require.ErrorIs(t, err, ErrUnknownBadge)
}
