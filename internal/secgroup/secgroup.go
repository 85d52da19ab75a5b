// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package secgroup maps source-account security groups onto a target
// account where every identifier changes, rewriting rule references
// (including self-references and cycles) along the way.
package secgroup

// Group describes one source security group and its rules.
type Group struct {
	ID          string
	Name        string
	Description string
	VPC         string

	// IsDefault marks the VPC's implicit default group. Default
	// groups are never recreated; they map to the target VPC's own
	// default group.
	IsDefault bool

	Ingress []Rule
	Egress  []Rule
}

// Rule is a single security-group rule. It is a closed variant:
// CidrRule for address-block sources and GroupRule for references to
// another group, so the reference rewrite can switch exhaustively.
type Rule interface {
	rule()
}

// CidrRule permits traffic from an address block.
type CidrRule struct {
	Protocol string
	FromPort int32
	ToPort   int32
	CIDR     string
}

func (CidrRule) rule() {}

// GroupRule permits traffic from another security group, referenced by
// id. The reference may point at a group in the migrated set (rewritten
// to the target id, with self-references and cycles allowed) or at one
// outside it (preserved unchanged and reported as external).
type GroupRule struct {
	Protocol string
	FromPort int32
	ToPort   int32
	GroupID  string
}

func (GroupRule) rule() {}

// TargetName is the deterministic name a migrated group gets in the
// target account, used both for creation and for discovering an
// earlier run's group to reuse.
func TargetName(sourceName string) string {
	return sourceName + "-migrated"
}
