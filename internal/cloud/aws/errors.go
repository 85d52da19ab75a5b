// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package aws

import (
	stderrors "errors"

	"github.com/aws/smithy-go"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

// alreadyExistsCodes are the service rejections that mean the work was
// already done, by this process or a concurrent one. They are absorbed
// as success, never surfaced as failures.
var alreadyExistsCodes = set.NewStrings(
	"InvalidGroup.Duplicate",
	"InvalidPermission.Duplicate",
	"RouteAlreadyExists",
	"Resource.AlreadyAssociated",
	"DBSnapshotAlreadyExists",
	"DBInstanceAlreadyExists",
	"AuthorizationAlreadyExists",
)

// ErrorCode returns the service error code carried by err, or the
// empty string for non-API errors.
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// classify translates idempotency conflicts into errors satisfying
// errors.AlreadyExists and leaves everything else alone.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if code := ErrorCode(err); alreadyExistsCodes.Contains(code) {
		return errors.NewAlreadyExists(err, code)
	}
	return err
}
