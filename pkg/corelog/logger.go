// Copyright checkpointcore authors.
//
// SPDX-License-Identifier: Apache-2.0

// Package corelog supplies the package-level logger used throughout
// the checkpoint core, following the same SetLogger/package-global
// pattern as katautils' logger.
package corelog

import (
	"github.com/sirupsen/logrus"
)

var coreLogger = logrus.NewEntry(logrus.New())

// SetLogger installs logger as the base entry for every "source"
// sub-field the core packages attach; level controls the underlying
// logrus.Logger's threshold.
func SetLogger(logger *logrus.Entry, level logrus.Level) {
	logger.Logger.SetLevel(level)
	coreLogger = logger.WithFields(logrus.Fields{"source": "checkpointcore"})
}

// Logger returns the current base entry. Callers attach their own
// per-component fields with WithField/WithFields.
func Logger() *logrus.Entry {
	return coreLogger
}
