// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package dryrun

import (
	"context"

	"github.com/cloudlift/cloudlift/internal/cloud"
)

var _ cloud.Inventory = (*Inventory)(nil)

// Inventory answers reads against resources a dry run pretended to
// create, and passes everything else to the real account. State polls
// on simulated resources report the ready state immediately, so waits
// complete without sleeping.
type Inventory struct {
	cloud.Inventory
	log *Log
}

// NewInventory wraps the real inventory of one account.
func NewInventory(inner cloud.Inventory, log *Log) *Inventory {
	return &Inventory{Inventory: inner, log: log}
}

func (i *Inventory) simulated(id string) bool {
	return IsPlaceholder(id) || i.log.wasCreated(id)
}

// SecurityGroupByName implements cloud.Inventory. A simulated VPC holds
// nothing, so lookups inside one always miss.
func (i *Inventory) SecurityGroupByName(ctx context.Context, vpcID string, names []string) (string, error) {
	if i.simulated(vpcID) {
		return "", nil
	}
	return i.Inventory.SecurityGroupByName(ctx, vpcID, names)
}

// DefaultSecurityGroup implements cloud.Inventory.
func (i *Inventory) DefaultSecurityGroup(ctx context.Context, vpcID string) (string, error) {
	if i.simulated(vpcID) {
		return i.log.record("target", "assume-default-security-group", "of "+vpcID, "security-group"), nil
	}
	return i.Inventory.DefaultSecurityGroup(ctx, vpcID)
}

// SubnetByCIDR implements cloud.Inventory. A simulated VPC holds
// nothing, so lookups inside one always miss.
func (i *Inventory) SubnetByCIDR(ctx context.Context, vpcID, cidr string) (string, error) {
	if i.simulated(vpcID) {
		return "", nil
	}
	return i.Inventory.SubnetByCIDR(ctx, vpcID, cidr)
}

// InternetGatewayForVPC implements cloud.Inventory.
func (i *Inventory) InternetGatewayForVPC(ctx context.Context, vpcID string) (string, error) {
	if i.simulated(vpcID) {
		return "", nil
	}
	return i.Inventory.InternetGatewayForVPC(ctx, vpcID)
}

// MainRouteTable implements cloud.Inventory.
func (i *Inventory) MainRouteTable(ctx context.Context, vpcID string) (string, error) {
	if i.simulated(vpcID) {
		return i.log.record("target", "assume-main-route-table", "of "+vpcID, "route-table"), nil
	}
	return i.Inventory.MainRouteTable(ctx, vpcID)
}

// ImageEncryptionKeys implements cloud.Inventory.
func (i *Inventory) ImageEncryptionKeys(ctx context.Context, imageID string) ([]string, error) {
	if i.simulated(imageID) {
		return nil, nil
	}
	return i.Inventory.ImageEncryptionKeys(ctx, imageID)
}

// ImageState implements cloud.Inventory.
func (i *Inventory) ImageState(ctx context.Context, imageID string) (string, error) {
	if i.simulated(imageID) {
		return "available", nil
	}
	return i.Inventory.ImageState(ctx, imageID)
}

// InstanceState implements cloud.Inventory.
func (i *Inventory) InstanceState(ctx context.Context, instanceID string) (string, error) {
	if i.simulated(instanceID) {
		return "running", nil
	}
	return i.Inventory.InstanceState(ctx, instanceID)
}

// NATGatewayState implements cloud.Inventory.
func (i *Inventory) NATGatewayState(ctx context.Context, natID string) (string, error) {
	if i.simulated(natID) {
		return "available", nil
	}
	return i.Inventory.NATGatewayState(ctx, natID)
}

// DBSnapshotState implements cloud.Inventory.
func (i *Inventory) DBSnapshotState(ctx context.Context, snapshotID string) (string, error) {
	if i.simulated(snapshotID) {
		return "available", nil
	}
	return i.Inventory.DBSnapshotState(ctx, snapshotID)
}

// DBInstanceState implements cloud.Inventory.
func (i *Inventory) DBInstanceState(ctx context.Context, instanceID string) (string, error) {
	if i.simulated(instanceID) {
		return "available", nil
	}
	return i.Inventory.DBInstanceState(ctx, instanceID)
}

// HasElasticIP implements cloud.Inventory.
func (i *Inventory) HasElasticIP(ctx context.Context, instanceID string) (bool, error) {
	if i.simulated(instanceID) {
		return false, nil
	}
	return i.Inventory.HasElasticIP(ctx, instanceID)
}

// Wrap decorates a connection for a dry run, keeping its real reads
// and replacing its mutations with simulated ones.
func Wrap(conn cloud.Connection, log *Log, account string) cloud.Connection {
	return cloud.Connection{
		AccountID: conn.AccountID,
		Region:    conn.Region,
		Inventory: NewInventory(conn.Inventory, log),
		Mutator:   NewMutator(log, account),
	}
}
