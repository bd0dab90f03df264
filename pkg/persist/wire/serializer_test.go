// Copyright checkpointcore authors.
//
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"testing"

	"github.com/corerun/checkpointcore/pkg/badge"
	persistapi "github.com/corerun/checkpointcore/pkg/persist/api"
	"github.com/stretchr/testify/require"
)

func TestSerializeParseRoundTrip(t *testing.T) {
	children := &persistapi.ChildList{
		Children: []*persistapi.ChildInfo{
			{
				Label:        "child-a",
				Bootstrapped: true,
				PD: &persistapi.PdSessionInfo{
					SessionBase: persistapi.SessionBase{Badge: badge.Badge(1)},
				},
				CapabilityMap:         []*persistapi.CapMapEntry{{Badge: badge.Badge(1), Kcap: badge.Kcap(0x1000)}},
				BinaryAttachmentIndex: -1,
			},
		},
	}
	attachments := []Attachment{{Size: 3, Bytes: []byte("abc")}}

	data, size, err := Serialize(children, attachments, true)
	require.NoError(t, err)
	require.Equal(t, len(data), size)

	gotChildren, gotAttachments, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, gotChildren.Children, 1)
	require.Equal(t, "child-a", gotChildren.Children[0].Label)
	require.Equal(t, badge.Badge(1), gotChildren.Children[0].PD.Badge)
	require.Len(t, gotAttachments, 1)
	require.Equal(t, []byte("abc"), gotAttachments[0].Bytes)
}

func TestSerializeExcludesBinary(t *testing.T) {
	children := &persistapi.ChildList{Children: []*persistapi.ChildInfo{{Label: "x", BinaryAttachmentIndex: -1}}}
	data, _, err := Serialize(children, []Attachment{{Size: 1, Bytes: []byte("x")}}, false)
	require.NoError(t, err)

	_, attachments, err := Parse(data)
	require.NoError(t, err)
	require.Empty(t, attachments)
}
