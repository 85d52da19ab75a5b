// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package engine

import (
	"github.com/juju/errors"

	"github.com/cloudlift/cloudlift/core/migration"
)

// Params is the caller-supplied placement for one migration. Which
// fields are required depends on the resource type being migrated.
type Params struct {
	// TargetVPC is the VPC to place the migrated resource in.
	TargetVPC string

	// TargetSubnet is the subnet for an instance, or the db subnet
	// group name for a database restore.
	TargetSubnet string

	// TargetSecurityGroups, when set, are attached verbatim instead
	// of replicating the source groups.
	TargetSecurityGroups []string

	// TargetKMSKey re-encrypts copied database snapshots. Required
	// when the source database is encrypted.
	TargetKMSKey string

	// TargetCIDR overrides the address block of a replicated VPC.
	TargetCIDR string

	// DryRun simulates every mutation instead of performing it.
	DryRun bool
}

// Validate checks that the placement is sufficient for the resource
// type. Validation happens before any cloud call or state write.
func (p Params) Validate(resourceType migration.ResourceType) error {
	switch resourceType {
	case migration.EC2Instance:
		if p.TargetVPC == "" {
			return errors.NotValidf("instance migration without target VPC")
		}
		if p.TargetSubnet == "" {
			return errors.NotValidf("instance migration without target subnet")
		}
	case migration.RDSDatabase:
		if p.TargetSubnet == "" {
			return errors.NotValidf("database migration without target subnet group")
		}
	case migration.VPC:
		// A replicated VPC carries its own placement.
	default:
		return errors.NotValidf("resource type %q", resourceType)
	}
	return nil
}
