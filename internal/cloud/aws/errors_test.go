// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package aws

import (
	"github.com/aws/smithy-go"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
)

type errorsSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&errorsSuite{})

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: "rejected"}
}

func (s *errorsSuite) TestErrorCode(c *gc.C) {
	c.Check(ErrorCode(apiError("InvalidGroup.Duplicate")), gc.Equals, "InvalidGroup.Duplicate")
	c.Check(ErrorCode(errors.New("plain")), gc.Equals, "")
	c.Check(ErrorCode(nil), gc.Equals, "")
}

func (s *errorsSuite) TestErrorCodeWrapped(c *gc.C) {
	err := errors.Annotate(apiError("RouteAlreadyExists"), "creating route")
	c.Check(ErrorCode(err), gc.Equals, "RouteAlreadyExists")
}

func (s *errorsSuite) TestClassifyDuplicateCodes(c *gc.C) {
	for _, code := range []string{
		"InvalidGroup.Duplicate",
		"InvalidPermission.Duplicate",
		"RouteAlreadyExists",
		"Resource.AlreadyAssociated",
		"DBSnapshotAlreadyExists",
		"DBInstanceAlreadyExists",
		"AuthorizationAlreadyExists",
	} {
		err := classify(apiError(code))
		c.Check(err, jc.ErrorIs, errors.AlreadyExists, gc.Commentf("code %s", code))
	}
}

func (s *errorsSuite) TestClassifyLeavesOtherCodes(c *gc.C) {
	err := classify(apiError("UnauthorizedOperation"))
	c.Check(err, gc.Not(jc.ErrorIs), errors.AlreadyExists)
	c.Check(ErrorCode(err), gc.Equals, "UnauthorizedOperation")
}

func (s *errorsSuite) TestClassifyLeavesPlainErrors(c *gc.C) {
	original := errors.New("network down")
	c.Check(classify(original), gc.Equals, original)
	c.Check(classify(nil), gc.IsNil)
}
