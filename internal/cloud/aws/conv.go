// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package aws

import (
	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/cloudlift/cloudlift/internal/secgroup"
)

// ipPermissions converts rules to the wire shape, one permission per
// rule. The service accepts the expanded form and deduplicates on its
// side.
func ipPermissions(rules []secgroup.Rule) []types.IpPermission {
	perms := make([]types.IpPermission, 0, len(rules))
	for _, rule := range rules {
		switch rule := rule.(type) {
		case secgroup.CidrRule:
			perms = append(perms, types.IpPermission{
				IpProtocol: awssdk.String(rule.Protocol),
				FromPort:   awssdk.Int32(rule.FromPort),
				ToPort:     awssdk.Int32(rule.ToPort),
				IpRanges:   []types.IpRange{{CidrIp: awssdk.String(rule.CIDR)}},
			})
		case secgroup.GroupRule:
			perms = append(perms, types.IpPermission{
				IpProtocol:       awssdk.String(rule.Protocol),
				FromPort:         awssdk.Int32(rule.FromPort),
				ToPort:           awssdk.Int32(rule.ToPort),
				UserIdGroupPairs: []types.UserIdGroupPair{{GroupId: awssdk.String(rule.GroupID)}},
			})
		}
	}
	return perms
}

// rulesFromPermissions expands wire permissions into one rule per
// source, so each reference can be rewritten independently.
func rulesFromPermissions(perms []types.IpPermission) []secgroup.Rule {
	var rules []secgroup.Rule
	for _, perm := range perms {
		protocol := awssdk.ToString(perm.IpProtocol)
		from := awssdk.ToInt32(perm.FromPort)
		to := awssdk.ToInt32(perm.ToPort)
		for _, ipRange := range perm.IpRanges {
			rules = append(rules, secgroup.CidrRule{
				Protocol: protocol,
				FromPort: from,
				ToPort:   to,
				CIDR:     awssdk.ToString(ipRange.CidrIp),
			})
		}
		for _, pair := range perm.UserIdGroupPairs {
			rules = append(rules, secgroup.GroupRule{
				Protocol: protocol,
				FromPort: from,
				ToPort:   to,
				GroupID:  awssdk.ToString(pair.GroupId),
			})
		}
	}
	return rules
}

func nameTag(tags []types.Tag) string {
	for _, tag := range tags {
		if awssdk.ToString(tag.Key) == "Name" {
			return awssdk.ToString(tag.Value)
		}
	}
	return ""
}

func tagMap(tags []types.Tag) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	m := make(map[string]string, len(tags))
	for _, tag := range tags {
		m[awssdk.ToString(tag.Key)] = awssdk.ToString(tag.Value)
	}
	return m
}

func ec2Tags(tags map[string]string) []types.Tag {
	out := make([]types.Tag, 0, len(tags))
	for k, v := range tags {
		out = append(out, types.Tag{Key: awssdk.String(k), Value: awssdk.String(v)})
	}
	return out
}

func tagSpec(resourceType types.ResourceType, tags map[string]string) []types.TagSpecification {
	if len(tags) == 0 {
		return nil
	}
	return []types.TagSpecification{{
		ResourceType: resourceType,
		Tags:         ec2Tags(tags),
	}}
}
