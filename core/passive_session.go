// Copyright checkpointcore authors.
//
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"github.com/corerun/checkpointcore/pkg/badge"
	persistapi "github.com/corerun/checkpointcore/pkg/persist/api"
)

// LogSession, RomSession and TimerSession are the passive sessions:
// creation/upgrade args are tracked by sessionCommon and every
// operation is forwarded verbatim, with no shadow bookkeeping beyond
// that (spec.md §4.6).
type LogSession struct{ sessionCommon }
type RomSession struct{ sessionCommon }
type TimerSession struct{ sessionCommon }

func newLogSession(label, creationArgs string, b badge.Badge, bootstrapped bool) *LogSession {
	return &LogSession{sessionCommon: newSessionCommon(label, creationArgs, b, bootstrapped)}
}

func newRomSession(label, creationArgs string, b badge.Badge, bootstrapped bool) *RomSession {
	return &RomSession{sessionCommon: newSessionCommon(label, creationArgs, b, bootstrapped)}
}

func newTimerSession(label, creationArgs string, b badge.Badge, bootstrapped bool) *TimerSession {
	return &TimerSession{sessionCommon: newSessionCommon(label, creationArgs, b, bootstrapped)}
}

func (s *LogSession) snapshot() *persistapi.LogSessionInfo {
	return &persistapi.LogSessionInfo{SessionBase: s.base()}
}

func (s *RomSession) snapshot() *persistapi.RomSessionInfo {
	return &persistapi.RomSessionInfo{SessionBase: s.base()}
}

func (s *TimerSession) snapshot() *persistapi.TimerSessionInfo {
	return &persistapi.TimerSessionInfo{SessionBase: s.base()}
}

// base renders sessionCommon into its stored-info form, shared by the
// three passive session kinds.
func (s *sessionCommon) base() persistapi.SessionBase {
	return persistapi.SessionBase{
		CreationArgs: s.creationArgs,
		UpgradeArgs:  s.upgradeArgs,
		Badge:        s.badge,
		Kcap:         s.kcap,
		Bootstrapped: s.bootstrapped,
	}
}
