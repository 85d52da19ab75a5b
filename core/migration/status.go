// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package migration

import (
	"github.com/juju/errors"
)

// Status describes the progress of a migration or of a single step
// within one. The values are persisted in the state file, so they must
// never be renamed.
type Status string

const (
	// StatusNotStarted indicates no work has happened yet.
	StatusNotStarted Status = "not_started"

	// StatusInProgress indicates work has begun and has neither
	// completed nor failed. A record left in this state by an
	// interrupted process is treated as not-yet-completed on resume.
	StatusInProgress Status = "in_progress"

	// StatusCompleted indicates the work finished successfully.
	// Completed steps are never re-executed.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the work was attempted and failed. The
	// only way out of this state is explicit re-invocation, which
	// moves it back to StatusInProgress.
	StatusFailed Status = "failed"
)

// Validate returns an error if the status is not a known value.
func (s Status) Validate() error {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusCompleted, StatusFailed:
		return nil
	}
	return errors.NotValidf("status %q", s)
}

// Terminal reports whether the status is an end state for a run.
// A failed migration is terminal for the current invocation but may
// be re-entered by a later one.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a record may move from s to next.
// The automatic paths are not_started/in_progress onwards; the only
// re-entry from failed is back to in_progress via re-invocation.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusNotStarted:
		return next == StatusInProgress
	case StatusInProgress:
		return next == StatusCompleted || next == StatusFailed
	case StatusFailed:
		return next == StatusInProgress
	}
	return false
}
