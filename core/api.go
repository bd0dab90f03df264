// Copyright checkpointcore authors.
//
// SPDX-License-Identifier: Apache-2.0

// Package core implements the session-interposition layer and
// checkpoint orchestrator: every session a monitored child holds
// against PD, CPU, RAM, RM, LOG, ROM and Timer services is shadowed
// here so that a point-in-time snapshot can be produced without the
// real parent environment's cooperation beyond the RPCs it already
// serves.
package core

// Engine is the facade a host's transport layer drives: one per
// monitored target, built once against that target's real parent
// collaborators via NewEngine.
type Engine struct {
	*Registry
}

// NewEngine constructs an Engine bound to parents, applying any
// RegistryOption (for example WithAffinity) to the Registry it builds.
func NewEngine(parents Parents, opts ...RegistryOption) *Engine {
	return &Engine{Registry: NewRegistry(parents, opts...)}
}

// Session is a read-only view of one child's sessions, returned by
// Engine.Session for a host that needs to dispatch an RPC to the
// right shadow without reaching into the registry's internals.
type Session struct {
	PD    *PdSession
	RAM   *RamSession
	CPU   *CpuSession
	RM    *RmSession
	LOG   *LogSession
	ROM   *RomSession
	Timer *TimerSession
}

// Session looks up every session a labeled child currently owns.
func (e *Engine) Session(label string) (Session, bool) {
	child, ok := e.Children().Get(label)
	if !ok {
		return Session{}, false
	}
	return Session{
		PD:    child.PD(),
		RAM:   child.RAM(),
		CPU:   child.CPU(),
		RM:    child.RM(),
		LOG:   child.LOG(),
		ROM:   child.ROM(),
		Timer: child.Timer(),
	}, true
}

// Bootstrap clears the bootstrapped flag on a child once its initial
// session set has been fully populated (spec.md invariant 4: the flag
// never reverts once cleared).
func (e *Engine) Bootstrap(label string) {
	if child, ok := e.Children().Get(label); ok {
		child.ClearBootstrapped()
	}
}
