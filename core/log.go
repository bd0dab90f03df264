// Copyright checkpointcore authors.
//
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"github.com/corerun/checkpointcore/pkg/corelog"
	"github.com/sirupsen/logrus"
)

// log returns the package-wide base entry, pre-tagged with "core".
func log() *logrus.Entry {
	return corelog.Logger().WithField("component", "core")
}
