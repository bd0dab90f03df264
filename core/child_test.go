// Copyright checkpointcore authors.
//
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"testing"

	"github.com/corerun/checkpointcore/pkg/badge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildRegistryGetOrCreate(t *testing.T) {
	reg := NewChildRegistry()
	a := reg.GetOrCreate("child-a")
	b := reg.GetOrCreate("child-a")
	assert.Same(t, a, b)
	assert.True(t, a.Bootstrapped())
}

func TestChildRecordClearBootstrappedIsMonotonic(t *testing.T) {
	c := newChildRecord("x")
	require.True(t, c.Bootstrapped())
	c.ClearBootstrapped()
	assert.False(t, c.Bootstrapped())
	c.ClearBootstrapped()
	assert.False(t, c.Bootstrapped())
}

func TestChildRecordClearBootstrappedPropagatesToSessions(t *testing.T) {
	c := newChildRecord("x")
	c.attachSession(KindLOG, newLogSession("x", "", badge.Badge(1), true))
	require.True(t, c.LOG().base().Bootstrapped)

	c.ClearBootstrapped()
	require.False(t, c.LOG().base().Bootstrapped)
}

func TestChildRecordCapMapIsCopied(t *testing.T) {
	c := newChildRecord("x")
	c.setCapMap(map[badge.Badge]badge.Kcap{1: 0x100})
	got := c.CapMap()
	got[2] = 0x200
	assert.Len(t, c.CapMap(), 1)
}

func TestChildRegistryRemove(t *testing.T) {
	reg := NewChildRegistry()
	reg.GetOrCreate("child-a")
	reg.Remove("child-a")
	_, ok := reg.Get("child-a")
	assert.False(t, ok)
}
