// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package engine

import (
	"context"
	"strings"

	"github.com/juju/errors"

	"github.com/cloudlift/cloudlift/core/migration"
	"github.com/cloudlift/cloudlift/internal/cloud"
	"github.com/cloudlift/cloudlift/internal/secgroup"
)

// resolverTarget adapts a cloud connection to the narrow surface the
// security-group resolver works against.
type resolverTarget struct {
	conn cloud.Connection
}

func (t resolverTarget) GroupByName(ctx context.Context, vpcID string, names []string) (string, error) {
	return t.conn.Inventory.SecurityGroupByName(ctx, vpcID, names)
}

func (t resolverTarget) DefaultGroup(ctx context.Context, vpcID string) (string, error) {
	return t.conn.Inventory.DefaultSecurityGroup(ctx, vpcID)
}

func (t resolverTarget) CreateGroup(ctx context.Context, vpcID, name, description string) (string, error) {
	return t.conn.Mutator.CreateSecurityGroup(ctx, vpcID, name, description)
}

func (t resolverTarget) AuthorizeIngress(ctx context.Context, groupID string, rules []secgroup.Rule) error {
	return t.conn.Mutator.AuthorizeIngress(ctx, groupID, rules)
}

func (t resolverTarget) AuthorizeEgress(ctx context.Context, groupID string, rules []secgroup.Rule) error {
	return t.conn.Mutator.AuthorizeEgress(ctx, groupID, rules)
}

// replicateGroups resolves a set of source groups into the target VPC,
// registering each created group on the migration record the moment
// its shell exists.
func (r *run) replicateGroups(ctx context.Context, groups []secgroup.Group, targetVPC string) (*secgroup.Result, error) {
	resolver := secgroup.NewResolver(resolverTarget{conn: r.target}, targetVPC)
	resolver.OnCreated = func(groupID string) {
		if err := r.addCreated(migration.SecurityGroup, groupID, r.target.AccountID); err != nil {
			logger.Errorf("cannot record created security group %q: %v", groupID, err)
		}
	}
	result, err := resolver.Resolve(ctx, groups)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !result.External.IsEmpty() {
		logger.Warningf("rules reference group(s) outside the migrated set, left unchanged: %s",
			strings.Join(result.External.SortedValues(), ", "))
	}
	return result, nil
}
