// Copyright checkpointcore authors.
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[[child]]
name = "worker-0"
xpos = 1
ypos = 0
ram_quota = "256M"

[[child]]
name = "worker-1"
ram_quota = "1G"

[affinity]
xpos = 0
ypos = 0
width = 4
height = 1
`

func TestParse(t *testing.T) {
	aff, err := Parse(sampleConfig)
	require.NoError(t, err)
	require.Len(t, aff.ByLabel, 2)

	w0 := aff.ByLabel["worker-0"]
	require.Equal(t, 1, w0.AffinityX)
	require.Equal(t, 4, w0.AffinityW)
	require.Equal(t, 1, w0.AffinityH)
	require.EqualValues(t, 256*1024*1024, w0.RAMQuotaBytes)

	w1 := aff.ByLabel["worker-1"]
	require.Equal(t, 0, w1.AffinityX)
	require.EqualValues(t, 1024*1024*1024, w1.RAMQuotaBytes)
}

func TestParseInvalidQuota(t *testing.T) {
	_, err := Parse(`[[child]]
name = "bad"
ram_quota = "not-a-size"
`)
	require.Error(t, err)
}

func TestParseMissingAttributesDefaultToZero(t *testing.T) {
	aff, err := Parse(`[[child]]
name = "solo"
`)
	require.NoError(t, err)
	e := aff.ByLabel["solo"]
	require.Zero(t, e.AffinityX)
	require.Zero(t, e.AffinityY)
	require.Zero(t, e.AffinityW)
	require.Zero(t, e.AffinityH)
}

func TestResolveFallsBackToDefault(t *testing.T) {
	aff, err := Parse(`[affinity]
xpos = 2
ypos = 3
width = 4
height = 5
`)
	require.NoError(t, err)
	r := aff.Resolve("unlisted")
	require.Equal(t, 2, r.AffinityX)
	require.Equal(t, 3, r.AffinityY)
	require.Equal(t, 4, r.AffinityW)
	require.Equal(t, 5, r.AffinityH)
}

func TestResolveNilAffinity(t *testing.T) {
	var aff *Affinity
	require.Equal(t, ResolvedEntry{}, aff.Resolve("anything"))
}
