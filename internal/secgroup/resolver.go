// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package secgroup

import (
	"context"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	migrationerrors "github.com/cloudlift/cloudlift/core/migration/errors"
)

var logger = loggo.GetLogger("cloudlift.secgroup")

// TargetClient is the target-account surface the resolver needs.
// Implementations absorb "already exists" and "duplicate rule"
// rejections, returning errors satisfying errors.AlreadyExists which
// the resolver treats as success.
type TargetClient interface {
	// GroupByName returns the id of a group in the VPC matching any
	// of the given names, or "" when none exists.
	GroupByName(ctx context.Context, vpcID string, names []string) (string, error)

	// DefaultGroup returns the id of the VPC's implicit default group.
	DefaultGroup(ctx context.Context, vpcID string) (string, error)

	// CreateGroup creates an empty group and returns its id.
	CreateGroup(ctx context.Context, vpcID, name, description string) (string, error)

	AuthorizeIngress(ctx context.Context, groupID string, rules []Rule) error
	AuthorizeEgress(ctx context.Context, groupID string, rules []Rule) error
}

// Result is what one resolution produced. It is rebuilt fresh on every
// call; the durable effects live in the target account and in the
// migration record's created-resource list.
type Result struct {
	// Mapping is source group id to target group id for every group
	// in the input set.
	Mapping map[string]string

	// Created and Reused list the source ids whose target groups were
	// created by this resolution or discovered from an earlier one.
	Created []string
	Reused  []string

	// External holds referenced group ids outside the input set,
	// intentionally left unrewritten.
	External set.Strings

	// Skipped holds one error per rule dropped during rewrite. A rule
	// whose group reference could not be resolved satisfies
	// errors.Is(err, migrationerrors.UnresolvedReference).
	Skipped []error
}

// Resolver replicates a set of source security groups into a target
// VPC. Creation happens in two passes: empty shells first, then rules,
// so groups that reference each other (or themselves) can be created
// in any order.
type Resolver struct {
	target    TargetClient
	targetVPC string

	// OnCreated, when set, is called immediately after each group
	// shell is created, before any rules are applied, so the caller
	// can persist the new resource id at once.
	OnCreated func(groupID string)
}

// NewResolver returns a resolver that replicates groups into targetVPC.
func NewResolver(target TargetClient, targetVPC string) *Resolver {
	return &Resolver{target: target, targetVPC: targetVPC}
}

// Resolve runs the five phases: discovery, shell creation, mapping,
// rule rewrite, and rule application. A group-creation failure is
// fatal; a malformed or unresolvable rule is dropped and reported in
// the result's Skipped list; an unmapped reference is preserved and
// reported as external, never an error.
func (r *Resolver) Resolve(ctx context.Context, groups []Group) (*Result, error) {
	result := &Result{
		Mapping:  make(map[string]string),
		External: set.NewStrings(),
	}

	// Discovery and shell creation. No rules are attached yet, so
	// creation order is irrelevant even for cyclic references.
	for _, group := range groups {
		targetID, reused, err := r.ensureGroup(ctx, group)
		if err != nil {
			return nil, errors.Annotatef(err, "replicating security group %q", group.ID)
		}
		result.Mapping[group.ID] = targetID
		if reused {
			result.Reused = append(result.Reused, group.ID)
		} else {
			result.Created = append(result.Created, group.ID)
		}
	}

	// Rule rewrite and application against the now-complete mapping.
	for _, group := range groups {
		if group.IsDefault {
			// The implicit default group keeps the target VPC's own
			// rules; nothing is applied.
			continue
		}
		targetID := result.Mapping[group.ID]
		if ingress := r.rewrite(group, group.Ingress, result); len(ingress) > 0 {
			if err := r.target.AuthorizeIngress(ctx, targetID, ingress); err != nil && !errors.Is(err, errors.AlreadyExists) {
				return nil, errors.Annotatef(err, "applying ingress rules to %q", targetID)
			}
		}
		if egress := r.rewrite(group, group.Egress, result); len(egress) > 0 {
			if err := r.target.AuthorizeEgress(ctx, targetID, egress); err != nil && !errors.Is(err, errors.AlreadyExists) {
				return nil, errors.Annotatef(err, "applying egress rules to %q", targetID)
			}
		}
	}

	logger.Infof("resolved %d security group(s): %d created, %d reused, %d external reference(s)",
		len(groups), len(result.Created), len(result.Reused), result.External.Size())
	return result, nil
}

// ensureGroup finds or creates the target-side counterpart of a source
// group and reports whether it was reused.
func (r *Resolver) ensureGroup(ctx context.Context, group Group) (string, bool, error) {
	if group.IsDefault {
		id, err := r.target.DefaultGroup(ctx, r.targetVPC)
		if err != nil {
			return "", false, errors.Trace(err)
		}
		logger.Debugf("mapping default group %q to target default %q", group.ID, id)
		return id, true, nil
	}

	name := TargetName(group.Name)
	existing, err := r.target.GroupByName(ctx, r.targetVPC, []string{group.Name, name})
	if err != nil {
		return "", false, errors.Trace(err)
	}
	if existing != "" {
		logger.Debugf("reusing existing group %q for %q", existing, group.ID)
		return existing, true, nil
	}

	description := group.Description
	if description == "" {
		description = "Migrated security group"
	}
	id, err := r.target.CreateGroup(ctx, r.targetVPC, name, description)
	if errors.Is(err, errors.AlreadyExists) {
		// A concurrent invocation created it between our lookup and
		// the create; look it up again and reuse.
		id, err = r.target.GroupByName(ctx, r.targetVPC, []string{name})
		if err != nil {
			return "", false, errors.Trace(err)
		}
		return id, true, nil
	} else if err != nil {
		return "", false, errors.Trace(err)
	}
	logger.Infof("created security group %q for %q (%s)", id, group.ID, group.Name)
	if r.OnCreated != nil {
		r.OnCreated(id)
	}
	return id, false, nil
}

// rewrite maps rule references through the source-to-target mapping. A
// reference absent from the mapping is kept as-is and recorded as
// external; a malformed rule is dropped with a warning.
func (r *Resolver) rewrite(group Group, rules []Rule, result *Result) []Rule {
	var out []Rule
	skip := func(err error) {
		logger.Warningf("skipping rule: %v", err)
		result.Skipped = append(result.Skipped, err)
	}
	for _, rule := range rules {
		switch rule := rule.(type) {
		case CidrRule:
			if rule.CIDR == "" || rule.Protocol == "" {
				skip(errors.Errorf("malformed CIDR rule %+v on group %q", rule, group.ID))
				continue
			}
			out = append(out, rule)
		case GroupRule:
			if rule.GroupID == "" {
				skip(errors.Annotatef(migrationerrors.UnresolvedReference, "rule %+v on group %q", rule, group.ID))
				continue
			}
			if rule.Protocol == "" {
				skip(errors.Errorf("malformed group rule %+v on group %q", rule, group.ID))
				continue
			}
			if targetID, ok := result.Mapping[rule.GroupID]; ok {
				rule.GroupID = targetID
			} else {
				result.External.Add(rule.GroupID)
				logger.Debugf("group %q references %q outside the migrated set; left unchanged", group.ID, rule.GroupID)
			}
			out = append(out, rule)
		default:
			skip(errors.Errorf("rule of unknown kind %T on group %q", rule, group.ID))
		}
	}
	return out
}
