// Copyright checkpointcore authors.
//
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"testing"

	"github.com/corerun/checkpointcore/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestCreateSessionPreservesOriginalCreationArgs(t *testing.T) {
	ctx := context.Background()
	_, parents := newMockParents()
	registry := NewRegistry(parents)

	b, err := registry.CreateSession(ctx, KindPD, "child-a", "label=child-a,ram_quota=1000")
	require.NoError(t, err)
	require.True(t, b.Valid())

	child, ok := registry.Children().Get("child-a")
	require.True(t, ok)
	require.Equal(t, "label=child-a,ram_quota=1000", child.PD().base().CreationArgs)
}

func TestCreateSessionFailsWithQuotaExceededBeforeContactingParent(t *testing.T) {
	ctx := context.Background()
	_, parents := newMockParents()

	aff, err := config.Parse(`[[child]]
name = "child-a"
ram_quota = "512"
`)
	require.NoError(t, err)

	registry := NewRegistry(parents, WithAffinity(aff))
	b, err := registry.CreateSession(ctx, KindPD, "child-a", "ram_quota=1000")
	require.ErrorIs(t, err, ErrQuotaExceeded)
	require.False(t, b.Valid())
}

func TestReadjustRamQuotaAddsOverheadAndPreservesOtherArgs(t *testing.T) {
	adjusted, err := readjustRamQuota("label=child-a,ram_quota=1000", 0)
	require.NoError(t, err)
	require.Equal(t, "label=child-a,ram_quota=1256", adjusted)
}

func TestReadjustRamQuotaNoOpWithoutRamQuota(t *testing.T) {
	adjusted, err := readjustRamQuota("label=child-a", 0)
	require.NoError(t, err)
	require.Equal(t, "label=child-a", adjusted)
}
