// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package engine

import (
	"context"
	"time"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/retry"

	migrationerrors "github.com/cloudlift/cloudlift/core/migration/errors"
)

// stateCondition names the states that end a wait. Any state in Failed
// is a terminal service-side failure, surfaced as MutationFailed rather
// than a timeout.
type stateCondition struct {
	Ready  string
	Failed set.Strings
}

var (
	imageReady      = stateCondition{Ready: "available", Failed: set.NewStrings("failed", "error", "invalid")}
	instanceReady   = stateCondition{Ready: "running", Failed: set.NewStrings("terminated", "shutting-down")}
	natReady        = stateCondition{Ready: "available", Failed: set.NewStrings("failed")}
	dbSnapshotReady = stateCondition{Ready: "available", Failed: set.NewStrings("failed", "error")}
	dbInstanceReady = stateCondition{Ready: "available", Failed: set.NewStrings("failed", "incompatible-restore", "incompatible-parameters", "incompatible-network")}
)

// maxPollErrors bounds consecutive poll failures. A single failed
// describe call costs one poll interval; a cloud that keeps erroring
// aborts the wait with the poll error rather than burning the whole
// timeout and reporting it as "never became ready".
const maxPollErrors = 5

// waitFor polls until the resource reaches the ready state. A terminal
// failure state aborts immediately; running out of time surfaces as a
// timeout error, kept distinct so callers can tell "the cloud said no"
// from "the cloud never answered".
func (r *run) waitFor(ctx context.Context, what string, cond stateCondition, timeout time.Duration, poll func(context.Context) (string, error)) error {
	var last string
	var lastErr error
	var pollErrs int
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			state, err := poll(ctx)
			if err != nil {
				pollErrs++
				lastErr = err
				return errors.Annotatef(err, "polling %s", what)
			}
			pollErrs = 0
			lastErr = nil
			if state != last {
				logger.Debugf("%s is %q", what, state)
				last = state
			}
			if state == cond.Ready {
				return nil
			}
			if cond.Failed.Contains(state) {
				return errors.Annotatef(migrationerrors.MutationFailed, "%s entered state %q", what, state)
			}
			return errors.Errorf("%s is %q", what, state)
		},
		IsFatalError: func(err error) bool {
			return errors.Is(err, migrationerrors.MutationFailed) || pollErrs >= maxPollErrors
		},
		Delay:       r.orch.pollInterval,
		MaxDuration: timeout,
		Clock:       r.orch.clock,
		Stop:        ctx.Done(),
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, migrationerrors.MutationFailed):
		return errors.Trace(err)
	case retry.IsDurationExceeded(err) || retry.IsAttemptsExceeded(err):
		if lastErr != nil {
			return errors.Timeoutf("waiting for %s (last poll failed: %v)", what, lastErr)
		}
		return errors.Timeoutf("waiting for %s", what)
	case retry.IsRetryStopped(err) && ctx.Err() != nil:
		return errors.Trace(ctx.Err())
	}
	return errors.Trace(err)
}
