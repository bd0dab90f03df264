// Copyright checkpointcore authors.
//
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"strconv"
	"strings"
)

// sessionRecordOverhead approximates the bookkeeping cost of the
// shadow session record this layer inserts between the child and the
// real parent, mirroring pd_session.cc's
// `sizeof(Pd_session) + md_alloc()->overhead(sizeof(Pd_session))`
// readjustment.
const sessionRecordOverhead uint64 = 256

// findRamQuota extracts the ram_quota argument from a Genode-style
// comma-separated "key=value" session-args string.
func findRamQuota(args string) (uint64, bool) {
	for _, part := range strings.Split(args, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found || strings.TrimSpace(k) != "ram_quota" {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// setRamQuota rewrites the ram_quota argument in place, or appends it
// if args carries none.
func setRamQuota(args string, quota uint64) string {
	parts := strings.Split(args, ",")
	for i, part := range parts {
		k, _, found := strings.Cut(strings.TrimSpace(part), "=")
		if found && strings.TrimSpace(k) == "ram_quota" {
			parts[i] = "ram_quota=" + strconv.FormatUint(quota, 10)
			return strings.Join(parts, ",")
		}
	}
	entry := "ram_quota=" + strconv.FormatUint(quota, 10)
	if strings.TrimSpace(args) == "" {
		return entry
	}
	return args + "," + entry
}

// readjustRamQuota computes the args string forwarded to the real
// parent (spec.md §4.1 step 2): ram_quota is bumped by
// sessionRecordOverhead to cover this layer's own bookkeeping, while
// the caller's original args are left untouched for storage in
// SessionBase.CreationArgs ("the original quota is preserved in the
// record for snapshot fidelity"). ceiling is the per-child RAM quota
// configured in static config (0 disables the check); a readjusted
// quota that exceeds it fails with ErrQuotaExceeded before the real
// parent is ever called.
func readjustRamQuota(args string, ceiling uint64) (string, error) {
	quota, ok := findRamQuota(args)
	if !ok {
		return args, nil
	}
	adjusted := quota + sessionRecordOverhead
	if ceiling != 0 && adjusted > ceiling {
		return "", ErrQuotaExceeded
	}
	return setRamQuota(args, adjusted), nil
}
