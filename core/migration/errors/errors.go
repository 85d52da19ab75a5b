// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package errors

import "github.com/juju/errors"

const (
	// MutationFailed is returned when a cloud mutation call is
	// rejected. It is fatal for the current step; resources created
	// by prior completed steps remain recorded for cleanup or resume.
	// A waited-upon resource that lands in a terminal error state
	// (rather than timing out) is also classified as MutationFailed.
	MutationFailed = errors.ConstError("cloud mutation rejected")

	// UnresolvedReference is reported for a security-group rule whose
	// group reference cannot be resolved and is not an external
	// reference. The rule is dropped and surfaces in the resolver
	// result's Skipped list; resolution continues.
	UnresolvedReference = errors.ConstError("unresolved group reference")
)

// Validation failures use errors.NotValidf and timeouts use
// errors.Timeoutf from github.com/juju/errors directly; both are
// checked with errors.Is against errors.NotValid and errors.Timeout.
// Idempotency conflicts ("already exists", "duplicate rule") are
// absorbed as success by the cloud layer and never surface here.
