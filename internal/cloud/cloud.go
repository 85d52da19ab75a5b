// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package cloud defines the operation contracts the migration engine
// consumes: an Inventory for read/describe calls and a Mutator for the
// blocking mutations. The aws subpackage implements both; the dryrun
// package wraps a Mutator with a non-mutating stand-in.
package cloud

import (
	"context"
	"strings"

	"github.com/cloudlift/cloudlift/internal/secgroup"
)

// Connection binds the providers and identity of one account side.
type Connection struct {
	// AccountID is the twelve-digit account number, used for
	// cross-account sharing and KMS grants.
	AccountID string
	// Region the connection's clients operate in.
	Region    string
	Inventory Inventory
	Mutator   Mutator
}

// InstanceDescriptor is the snapshot of a compute instance's attributes
// the pipeline needs.
type InstanceDescriptor struct {
	ID               string
	Type             string
	State            string
	ImageID          string
	KeyName          string
	SubnetID         string
	UserData         string
	Monitoring       bool
	SecurityGroupIDs []string
	Volumes          []VolumeDescriptor
	Tags             map[string]string
	PublicIP         string
}

// VolumeDescriptor describes one attached block volume.
type VolumeDescriptor struct {
	ID        string
	Device    string
	SizeGiB   int32
	Encrypted bool
	KMSKeyID  string
}

// DatabaseDescriptor is the snapshot of a managed database instance.
type DatabaseDescriptor struct {
	ID               string
	Engine           string
	EngineVersion    string
	Class            string
	AllocatedStorage int32
	StorageType      string
	Encrypted        bool
	KMSKeyID         string
	MultiAZ          bool
	Port             int32
}

// SubnetDescriptor describes one subnet of a VPC.
type SubnetDescriptor struct {
	ID               string
	CIDR             string
	AvailabilityZone string
	Name             string
	MapPublicIP      bool
}

// NATGatewayDescriptor describes an active NAT gateway.
type NATGatewayDescriptor struct {
	ID       string
	SubnetID string
	Name     string
}

// RouteDescriptor is a single route. Exactly one of GatewayID or
// NATGatewayID is set for the routes the engine replicates; anything
// else (peering, ENI) is skipped upstream.
type RouteDescriptor struct {
	DestinationCIDR string
	GatewayID       string
	NATGatewayID    string
}

// RouteTableDescriptor describes one route table and its associations.
type RouteTableDescriptor struct {
	ID        string
	Name      string
	Main      bool
	Routes    []RouteDescriptor
	SubnetIDs []string
}

// VPCTopology is the full network snapshot the vpc pipeline works from.
type VPCTopology struct {
	ID             string
	CIDR           string
	Name           string
	DNSSupport     bool
	DNSHostnames   bool
	Subnets        []SubnetDescriptor
	HasInternetGW  bool
	NATGateways    []NATGatewayDescriptor
	RouteTables    []RouteTableDescriptor
	SecurityGroups []secgroup.Group
}

// Inventory is the read-only describe surface of one account. These
// calls are safe in dry runs.
type Inventory interface {
	DescribeInstance(ctx context.Context, id string) (*InstanceDescriptor, error)
	DescribeDatabase(ctx context.Context, id string) (*DatabaseDescriptor, error)
	DescribeVPC(ctx context.Context, id string) (*VPCTopology, error)
	DescribeSecurityGroups(ctx context.Context, ids []string) ([]secgroup.Group, error)

	// SecurityGroupByName returns the id of a group in the VPC
	// matching any of the names, or "" when none does.
	SecurityGroupByName(ctx context.Context, vpcID string, names []string) (string, error)
	DefaultSecurityGroup(ctx context.Context, vpcID string) (string, error)

	// VPCByCIDR and SubnetByCIDR return "" when nothing matches; the
	// vpc pipeline uses them for discovery-reuse.
	VPCByCIDR(ctx context.Context, cidr string) (string, error)
	SubnetByCIDR(ctx context.Context, vpcID, cidr string) (string, error)
	InternetGatewayForVPC(ctx context.Context, vpcID string) (string, error)
	MainRouteTable(ctx context.Context, vpcID string) (string, error)

	// ImageEncryptionKeys returns the customer KMS key ids encrypting
	// the snapshots behind an image.
	ImageEncryptionKeys(ctx context.Context, imageID string) ([]string, error)

	// HasElasticIP reports whether an address is associated with the
	// instance.
	HasElasticIP(ctx context.Context, instanceID string) (bool, error)

	// State polls, consumed by wait steps.
	ImageState(ctx context.Context, imageID string) (string, error)
	InstanceState(ctx context.Context, instanceID string) (string, error)
	NATGatewayState(ctx context.Context, natID string) (string, error)
	DBSnapshotState(ctx context.Context, snapshotID string) (string, error)
	DBInstanceState(ctx context.Context, instanceID string) (string, error)
}

// RunInstanceArgs carries everything needed to launch the replacement
// instance in the target account.
type RunInstanceArgs struct {
	ImageID          string
	InstanceType     string
	SubnetID         string
	KeyName          string
	UserData         string
	Monitoring       bool
	SecurityGroupIDs []string
	Tags             map[string]string
}

// RestoreDatabaseArgs carries everything needed to restore the target
// database from a shared snapshot.
type RestoreDatabaseArgs struct {
	SnapshotID       string
	InstanceID       string
	InstanceClass    string
	SubnetGroup      string
	SecurityGroupIDs []string
	MultiAZ          bool
}

// Mutator is the mutating surface of one account. Every call blocks
// until the service accepts or rejects the request; completion of the
// underlying work is observed separately through Inventory state polls.
// Implementations classify "already exists" and duplicate-rule
// rejections as errors satisfying errors.AlreadyExists so callers can
// absorb them as success.
type Mutator interface {
	CreateImage(ctx context.Context, instanceID, name, description string) (string, error)
	ShareImage(ctx context.Context, imageID, accountID string) error
	GrantSnapshotAccess(ctx context.Context, imageID, accountID string) error
	CopyImage(ctx context.Context, sourceImageID, sourceRegion, name string) (string, error)

	// CreateKeyGrant grants the target account decrypt access to a
	// customer KMS key and returns the grant id.
	CreateKeyGrant(ctx context.Context, keyID, accountID string) (string, error)

	CreateSecurityGroup(ctx context.Context, vpcID, name, description string) (string, error)
	AuthorizeIngress(ctx context.Context, groupID string, rules []secgroup.Rule) error
	AuthorizeEgress(ctx context.Context, groupID string, rules []secgroup.Rule) error

	RunInstance(ctx context.Context, args RunInstanceArgs) (string, error)
	AllocateElasticIP(ctx context.Context) (allocationID, publicIP string, err error)
	AssociateElasticIP(ctx context.Context, instanceID, allocationID string) error

	CreateDBSnapshot(ctx context.Context, databaseID, snapshotID string) error
	ShareDBSnapshot(ctx context.Context, snapshotID, accountID string) error
	CopyDBSnapshot(ctx context.Context, sourceID, targetID, kmsKeyID string) (string, error)
	RestoreDatabase(ctx context.Context, args RestoreDatabaseArgs) (string, error)

	CreateVPC(ctx context.Context, cidr string) (string, error)
	SetVPCAttributes(ctx context.Context, vpcID string, dnsSupport, dnsHostnames bool) error
	CreateSubnet(ctx context.Context, vpcID, cidr, availabilityZone string, mapPublicIP bool) (string, error)
	CreateInternetGateway(ctx context.Context, vpcID string) (string, error)
	CreateNATGateway(ctx context.Context, subnetID, allocationID string) (string, error)
	CreateRouteTable(ctx context.Context, vpcID string) (string, error)
	CreateRoute(ctx context.Context, routeTableID string, route RouteDescriptor) error
	AssociateRouteTable(ctx context.Context, routeTableID, subnetID string) error
	Tag(ctx context.Context, resourceID string, tags map[string]string) error
}

// IsAWSManagedKey reports whether a KMS key id refers to an AWS-managed
// key. Grants cannot be created on those; the target side falls back to
// its own service default key instead.
func IsAWSManagedKey(keyID string) bool {
	return strings.Contains(keyID, "/aws/") || strings.HasPrefix(keyID, "alias/aws/")
}
