// Copyright checkpointcore authors.
//
// SPDX-License-Identifier: Apache-2.0

package badge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBadgeValid(t *testing.T) {
	assert.False(t, Invalid.Valid())
	assert.True(t, Badge(1).Valid())
}

func TestBadgeString(t *testing.T) {
	assert.Equal(t, "badge(42)", Badge(42).String())
}

func TestKcapString(t *testing.T) {
	assert.Equal(t, "kcap(0xff)", Kcap(0xff).String())
}
