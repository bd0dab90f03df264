// Copyright checkpointcore authors.
//
// SPDX-License-Identifier: Apache-2.0

package retry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Do(func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}, Attempts(5), Delay(0))
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestDoStopsOnUnrecoverable(t *testing.T) {
	attempts := 0
	err := Do(func() error {
		attempts++
		return Unrecoverable(errors.New("fatal"))
	}, Attempts(5), Delay(0))
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestDoExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Do(func() error {
		attempts++
		return errors.New("always fails")
	}, Attempts(3), Delay(0))
	require.Error(t, err)
	require.Equal(t, 3, attempts)
}
