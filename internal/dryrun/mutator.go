// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package dryrun

import (
	"context"
	"fmt"

	"github.com/cloudlift/cloudlift/internal/cloud"
	"github.com/cloudlift/cloudlift/internal/secgroup"
)

var _ cloud.Mutator = (*Mutator)(nil)

// Mutator satisfies cloud.Mutator without touching the cloud. Every
// call is appended to the shared log; calls that create a resource
// return a placeholder id.
type Mutator struct {
	log     *Log
	account string
}

// NewMutator returns a simulated mutator labelled with the account
// side it stands in for.
func NewMutator(log *Log, account string) *Mutator {
	return &Mutator{log: log, account: account}
}

func (m *Mutator) CreateImage(ctx context.Context, instanceID, name, description string) (string, error) {
	return m.log.record(m.account, "create-image",
		fmt.Sprintf("from %s as %q", instanceID, name), "image"), nil
}

func (m *Mutator) ShareImage(ctx context.Context, imageID, accountID string) error {
	m.log.record(m.account, "share-image", fmt.Sprintf("%s with account %s", imageID, accountID), "")
	return nil
}

func (m *Mutator) GrantSnapshotAccess(ctx context.Context, imageID, accountID string) error {
	m.log.record(m.account, "grant-snapshot-access",
		fmt.Sprintf("snapshots of %s to account %s", imageID, accountID), "")
	return nil
}

func (m *Mutator) CopyImage(ctx context.Context, sourceImageID, sourceRegion, name string) (string, error) {
	return m.log.record(m.account, "copy-image",
		fmt.Sprintf("%s from %s", sourceImageID, sourceRegion), "image"), nil
}

func (m *Mutator) CreateKeyGrant(ctx context.Context, keyID, accountID string) (string, error) {
	return m.log.record(m.account, "create-key-grant",
		fmt.Sprintf("on %s for account %s", keyID, accountID), "grant"), nil
}

func (m *Mutator) CreateSecurityGroup(ctx context.Context, vpcID, name, description string) (string, error) {
	return m.log.record(m.account, "create-security-group",
		fmt.Sprintf("%q in %s", name, vpcID), "security-group"), nil
}

func (m *Mutator) AuthorizeIngress(ctx context.Context, groupID string, rules []secgroup.Rule) error {
	m.log.record(m.account, "authorize-ingress",
		fmt.Sprintf("%d rules on %s", len(rules), groupID), "")
	return nil
}

func (m *Mutator) AuthorizeEgress(ctx context.Context, groupID string, rules []secgroup.Rule) error {
	m.log.record(m.account, "authorize-egress",
		fmt.Sprintf("%d rules on %s", len(rules), groupID), "")
	return nil
}

func (m *Mutator) RunInstance(ctx context.Context, args cloud.RunInstanceArgs) (string, error) {
	return m.log.record(m.account, "run-instance",
		fmt.Sprintf("from %s type %s in %s", args.ImageID, args.InstanceType, args.SubnetID), "instance"), nil
}

func (m *Mutator) AllocateElasticIP(ctx context.Context) (string, string, error) {
	id := m.log.record(m.account, "allocate-elastic-ip", "", "allocation")
	return id, "198.51.100.1", nil
}

func (m *Mutator) AssociateElasticIP(ctx context.Context, instanceID, allocationID string) error {
	m.log.record(m.account, "associate-elastic-ip",
		fmt.Sprintf("%s with %s", allocationID, instanceID), "")
	return nil
}

func (m *Mutator) CreateDBSnapshot(ctx context.Context, databaseID, snapshotID string) error {
	m.log.record(m.account, "create-db-snapshot",
		fmt.Sprintf("%q of %s", snapshotID, databaseID), "")
	m.log.noteCreated(snapshotID)
	return nil
}

func (m *Mutator) ShareDBSnapshot(ctx context.Context, snapshotID, accountID string) error {
	m.log.record(m.account, "share-db-snapshot",
		fmt.Sprintf("%s with account %s", snapshotID, accountID), "")
	return nil
}

func (m *Mutator) CopyDBSnapshot(ctx context.Context, sourceID, targetID, kmsKeyID string) (string, error) {
	detail := fmt.Sprintf("%s as %q", sourceID, targetID)
	if kmsKeyID != "" {
		detail += fmt.Sprintf(" re-encrypted under %s", kmsKeyID)
	}
	return m.log.record(m.account, "copy-db-snapshot", detail, "db-snapshot"), nil
}

func (m *Mutator) RestoreDatabase(ctx context.Context, args cloud.RestoreDatabaseArgs) (string, error) {
	m.log.record(m.account, "restore-database",
		fmt.Sprintf("%q from %s class %s", args.InstanceID, args.SnapshotID, args.InstanceClass), "")
	// Restores keep the requested identifier, no placeholder needed.
	m.log.noteCreated(args.InstanceID)
	return args.InstanceID, nil
}

func (m *Mutator) CreateVPC(ctx context.Context, cidr string) (string, error) {
	return m.log.record(m.account, "create-vpc", cidr, "vpc"), nil
}

func (m *Mutator) SetVPCAttributes(ctx context.Context, vpcID string, dnsSupport, dnsHostnames bool) error {
	m.log.record(m.account, "set-vpc-attributes",
		fmt.Sprintf("%s dns-support=%t dns-hostnames=%t", vpcID, dnsSupport, dnsHostnames), "")
	return nil
}

func (m *Mutator) CreateSubnet(ctx context.Context, vpcID, cidr, availabilityZone string, mapPublicIP bool) (string, error) {
	return m.log.record(m.account, "create-subnet",
		fmt.Sprintf("%s in %s az %s", cidr, vpcID, availabilityZone), "subnet"), nil
}

func (m *Mutator) CreateInternetGateway(ctx context.Context, vpcID string) (string, error) {
	return m.log.record(m.account, "create-internet-gateway",
		fmt.Sprintf("attached to %s", vpcID), "internet-gateway"), nil
}

func (m *Mutator) CreateNATGateway(ctx context.Context, subnetID, allocationID string) (string, error) {
	return m.log.record(m.account, "create-nat-gateway",
		fmt.Sprintf("in %s using %s", subnetID, allocationID), "nat-gateway"), nil
}

func (m *Mutator) CreateRouteTable(ctx context.Context, vpcID string) (string, error) {
	return m.log.record(m.account, "create-route-table",
		fmt.Sprintf("in %s", vpcID), "route-table"), nil
}

func (m *Mutator) CreateRoute(ctx context.Context, routeTableID string, route cloud.RouteDescriptor) error {
	gateway := route.GatewayID
	if route.NATGatewayID != "" {
		gateway = route.NATGatewayID
	}
	m.log.record(m.account, "create-route",
		fmt.Sprintf("%s via %s in %s", route.DestinationCIDR, gateway, routeTableID), "")
	return nil
}

func (m *Mutator) AssociateRouteTable(ctx context.Context, routeTableID, subnetID string) error {
	m.log.record(m.account, "associate-route-table",
		fmt.Sprintf("%s with %s", routeTableID, subnetID), "")
	return nil
}

func (m *Mutator) Tag(ctx context.Context, resourceID string, tags map[string]string) error {
	m.log.record(m.account, "tag", fmt.Sprintf("%s with %d tags", resourceID, len(tags)), "")
	return nil
}
