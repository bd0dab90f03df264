// Copyright checkpointcore authors.
//
// SPDX-License-Identifier: Apache-2.0

package core

import (
	stderrors "errors"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Sentinel errors for the error table in the checkpoint design: every
// error a session server can raise traces back to exactly one of
// these via errors.Is.
var (
	// ErrUnknownBadge is raised when a shadow lookup is given a badge
	// the child presented that isn't tracked. The shadow graph is left
	// unchanged.
	ErrUnknownBadge = stderrors.New("unknown badge")

	// ErrUnknownPdBadge is raised by CPU create_thread when the given
	// PD capability is outside our PD registry.
	ErrUnknownPdBadge = stderrors.New("unknown pd badge")

	// ErrParentFailure wraps a failure returned by the real parent
	// service; it never has a shadow side-effect.
	ErrParentFailure = stderrors.New("parent service failure")

	// ErrQuotaExceeded is raised when the readjusted quota cannot be
	// satisfied.
	ErrQuotaExceeded = stderrors.New("quota exceeded")

	// ErrCheckpointConsistency classifies a capability-map table that
	// is inconsistent with the shadow graph. No code path in this
	// package returns it: checkpoint step 2 (buildCapMap) drops
	// cap-table entries for badges the shadow graph does not know
	// instead of failing.
	ErrCheckpointConsistency = stderrors.New("checkpoint consistency violation")
)

// errorContext wraps err with ctx using pkg/errors, matching
// virtcontainers/errors.ErrorContext: a no-op on a nil error, and it
// preserves the original error for errors.Is/errors.As.
func errorContext(err error, ctx string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, ctx)
}

// grpcCode maps one of the sentinel errors above to the status code a
// future transport layer would surface it as, mirroring how
// kata_agent.go classifies agent failures for its callers.
func grpcCode(err error) codes.Code {
	switch {
	case stderrors.Is(err, ErrUnknownBadge), stderrors.Is(err, ErrUnknownPdBadge):
		return codes.NotFound
	case stderrors.Is(err, ErrParentFailure):
		return codes.Unavailable
	case stderrors.Is(err, ErrQuotaExceeded):
		return codes.ResourceExhausted
	case stderrors.Is(err, ErrCheckpointConsistency):
		return codes.Internal
	default:
		return codes.Unknown
	}
}

// ToStatus renders err as a *status.Status using grpcCode, for hosts
// that expose the session interposition layer over a gRPC-shaped
// transport.
func ToStatus(err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}
	return status.New(grpcCode(err), err.Error())
}
