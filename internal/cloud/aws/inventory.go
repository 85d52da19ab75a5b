// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package aws

import (
	"context"
	"encoding/base64"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/cloudlift/cloudlift/internal/cloud"
	"github.com/cloudlift/cloudlift/internal/secgroup"
)

var _ cloud.Inventory = (*Inventory)(nil)

// Inventory reads resource attributes from one account.
type Inventory struct {
	ec2 ec2API
	rds rdsAPI
}

// NewInventory returns an Inventory over the given clients.
func NewInventory(ec2Client ec2API, rdsClient rdsAPI) *Inventory {
	return &Inventory{ec2: ec2Client, rds: rdsClient}
}

func filter(name string, values ...string) types.Filter {
	return types.Filter{Name: awssdk.String(name), Values: values}
}

// DescribeInstance implements cloud.Inventory.
func (i *Inventory) DescribeInstance(ctx context.Context, id string) (*cloud.InstanceDescriptor, error) {
	resp, err := i.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil {
		return nil, errors.Annotatef(err, "describing instance %q", id)
	}
	if len(resp.Reservations) == 0 || len(resp.Reservations[0].Instances) == 0 {
		return nil, errors.NotFoundf("instance %q", id)
	}
	inst := resp.Reservations[0].Instances[0]

	desc := &cloud.InstanceDescriptor{
		ID:       awssdk.ToString(inst.InstanceId),
		Type:     string(inst.InstanceType),
		ImageID:  awssdk.ToString(inst.ImageId),
		KeyName:  awssdk.ToString(inst.KeyName),
		SubnetID: awssdk.ToString(inst.SubnetId),
		PublicIP: awssdk.ToString(inst.PublicIpAddress),
		Tags:     tagMap(inst.Tags),
	}
	if inst.State != nil {
		desc.State = string(inst.State.Name)
	}
	if inst.Monitoring != nil {
		desc.Monitoring = inst.Monitoring.State == types.MonitoringStateEnabled
	}
	for _, group := range inst.SecurityGroups {
		desc.SecurityGroupIDs = append(desc.SecurityGroupIDs, awssdk.ToString(group.GroupId))
	}

	userData, err := i.instanceUserData(ctx, id)
	if err != nil {
		return nil, errors.Trace(err)
	}
	desc.UserData = userData

	volumes, err := i.instanceVolumes(ctx, inst.BlockDeviceMappings)
	if err != nil {
		return nil, errors.Trace(err)
	}
	desc.Volumes = volumes
	return desc, nil
}

func (i *Inventory) instanceUserData(ctx context.Context, id string) (string, error) {
	resp, err := i.ec2.DescribeInstanceAttribute(ctx, &ec2.DescribeInstanceAttributeInput{
		InstanceId: awssdk.String(id),
		Attribute:  types.InstanceAttributeNameUserData,
	})
	if err != nil {
		return "", errors.Annotatef(err, "reading user data of %q", id)
	}
	if resp.UserData == nil || resp.UserData.Value == nil {
		return "", nil
	}
	decoded, err := base64.StdEncoding.DecodeString(*resp.UserData.Value)
	if err != nil {
		// Pass through as-is; some tooling stores it unencoded.
		return *resp.UserData.Value, nil
	}
	return string(decoded), nil
}

func (i *Inventory) instanceVolumes(ctx context.Context, mappings []types.InstanceBlockDeviceMapping) ([]cloud.VolumeDescriptor, error) {
	var ids []string
	device := make(map[string]string)
	for _, mapping := range mappings {
		if mapping.Ebs == nil {
			continue
		}
		id := awssdk.ToString(mapping.Ebs.VolumeId)
		ids = append(ids, id)
		device[id] = awssdk.ToString(mapping.DeviceName)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	resp, err := i.ec2.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{VolumeIds: ids})
	if err != nil {
		return nil, errors.Annotate(err, "describing volumes")
	}
	var volumes []cloud.VolumeDescriptor
	for _, vol := range resp.Volumes {
		id := awssdk.ToString(vol.VolumeId)
		volumes = append(volumes, cloud.VolumeDescriptor{
			ID:        id,
			Device:    device[id],
			SizeGiB:   awssdk.ToInt32(vol.Size),
			Encrypted: awssdk.ToBool(vol.Encrypted),
			KMSKeyID:  awssdk.ToString(vol.KmsKeyId),
		})
	}
	return volumes, nil
}

// DescribeDatabase implements cloud.Inventory.
func (i *Inventory) DescribeDatabase(ctx context.Context, id string) (*cloud.DatabaseDescriptor, error) {
	resp, err := i.rds.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: awssdk.String(id),
	})
	if err != nil {
		return nil, errors.Annotatef(err, "describing database %q", id)
	}
	if len(resp.DBInstances) == 0 {
		return nil, errors.NotFoundf("database %q", id)
	}
	db := resp.DBInstances[0]
	desc := &cloud.DatabaseDescriptor{
		ID:               awssdk.ToString(db.DBInstanceIdentifier),
		Engine:           awssdk.ToString(db.Engine),
		EngineVersion:    awssdk.ToString(db.EngineVersion),
		Class:            awssdk.ToString(db.DBInstanceClass),
		AllocatedStorage: awssdk.ToInt32(db.AllocatedStorage),
		StorageType:      awssdk.ToString(db.StorageType),
		Encrypted:        awssdk.ToBool(db.StorageEncrypted),
		KMSKeyID:         awssdk.ToString(db.KmsKeyId),
		MultiAZ:          awssdk.ToBool(db.MultiAZ),
	}
	if db.Endpoint != nil {
		desc.Port = awssdk.ToInt32(db.Endpoint.Port)
	}
	return desc, nil
}

// DescribeSecurityGroups implements cloud.Inventory.
func (i *Inventory) DescribeSecurityGroups(ctx context.Context, ids []string) ([]secgroup.Group, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	resp, err := i.ec2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{GroupIds: ids})
	if err != nil {
		return nil, errors.Annotate(err, "describing security groups")
	}
	return groupsFromAPI(resp.SecurityGroups), nil
}

func groupsFromAPI(apiGroups []types.SecurityGroup) []secgroup.Group {
	groups := make([]secgroup.Group, 0, len(apiGroups))
	for _, g := range apiGroups {
		groups = append(groups, secgroup.Group{
			ID:          awssdk.ToString(g.GroupId),
			Name:        awssdk.ToString(g.GroupName),
			Description: awssdk.ToString(g.Description),
			VPC:         awssdk.ToString(g.VpcId),
			IsDefault:   awssdk.ToString(g.GroupName) == "default",
			Ingress:     rulesFromPermissions(g.IpPermissions),
			Egress:      rulesFromPermissions(g.IpPermissionsEgress),
		})
	}
	return groups
}

// SecurityGroupByName implements cloud.Inventory.
func (i *Inventory) SecurityGroupByName(ctx context.Context, vpcID string, names []string) (string, error) {
	resp, err := i.ec2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []types.Filter{
			filter("vpc-id", vpcID),
			filter("group-name", names...),
		},
	})
	if err != nil {
		return "", errors.Annotate(err, "looking up security group by name")
	}
	if len(resp.SecurityGroups) == 0 {
		return "", nil
	}
	return awssdk.ToString(resp.SecurityGroups[0].GroupId), nil
}

// DefaultSecurityGroup implements cloud.Inventory.
func (i *Inventory) DefaultSecurityGroup(ctx context.Context, vpcID string) (string, error) {
	id, err := i.SecurityGroupByName(ctx, vpcID, []string{"default"})
	if err != nil {
		return "", errors.Trace(err)
	}
	if id == "" {
		return "", errors.NotFoundf("default security group of %q", vpcID)
	}
	return id, nil
}

// DescribeVPC implements cloud.Inventory. It assembles the full
// topology snapshot the vpc pipeline plans from.
func (i *Inventory) DescribeVPC(ctx context.Context, id string) (*cloud.VPCTopology, error) {
	vpcs, err := i.ec2.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{VpcIds: []string{id}})
	if err != nil {
		return nil, errors.Annotatef(err, "describing vpc %q", id)
	}
	if len(vpcs.Vpcs) == 0 {
		return nil, errors.NotFoundf("vpc %q", id)
	}
	vpc := vpcs.Vpcs[0]
	topo := &cloud.VPCTopology{
		ID:   awssdk.ToString(vpc.VpcId),
		CIDR: awssdk.ToString(vpc.CidrBlock),
		Name: nameTag(vpc.Tags),
	}

	dnsSupport, err := i.ec2.DescribeVpcAttribute(ctx, &ec2.DescribeVpcAttributeInput{
		VpcId: awssdk.String(id), Attribute: types.VpcAttributeNameEnableDnsSupport,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if dnsSupport.EnableDnsSupport != nil {
		topo.DNSSupport = awssdk.ToBool(dnsSupport.EnableDnsSupport.Value)
	}
	dnsHostnames, err := i.ec2.DescribeVpcAttribute(ctx, &ec2.DescribeVpcAttributeInput{
		VpcId: awssdk.String(id), Attribute: types.VpcAttributeNameEnableDnsHostnames,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if dnsHostnames.EnableDnsHostnames != nil {
		topo.DNSHostnames = awssdk.ToBool(dnsHostnames.EnableDnsHostnames.Value)
	}

	vpcFilter := []types.Filter{filter("vpc-id", id)}

	subnets, err := i.ec2.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{Filters: vpcFilter})
	if err != nil {
		return nil, errors.Trace(err)
	}
	for _, subnet := range subnets.Subnets {
		topo.Subnets = append(topo.Subnets, cloud.SubnetDescriptor{
			ID:               awssdk.ToString(subnet.SubnetId),
			CIDR:             awssdk.ToString(subnet.CidrBlock),
			AvailabilityZone: awssdk.ToString(subnet.AvailabilityZone),
			Name:             nameTag(subnet.Tags),
			MapPublicIP:      awssdk.ToBool(subnet.MapPublicIpOnLaunch),
		})
	}

	igws, err := i.ec2.DescribeInternetGateways(ctx, &ec2.DescribeInternetGatewaysInput{
		Filters: []types.Filter{filter("attachment.vpc-id", id)},
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	topo.HasInternetGW = len(igws.InternetGateways) > 0

	nats, err := i.ec2.DescribeNatGateways(ctx, &ec2.DescribeNatGatewaysInput{
		Filter: vpcFilter,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	for _, nat := range nats.NatGateways {
		if nat.State != types.NatGatewayStateAvailable {
			continue
		}
		topo.NATGateways = append(topo.NATGateways, cloud.NATGatewayDescriptor{
			ID:       awssdk.ToString(nat.NatGatewayId),
			SubnetID: awssdk.ToString(nat.SubnetId),
			Name:     nameTag(nat.Tags),
		})
	}

	routeTables, err := i.ec2.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{Filters: vpcFilter})
	if err != nil {
		return nil, errors.Trace(err)
	}
	for _, rt := range routeTables.RouteTables {
		desc := cloud.RouteTableDescriptor{
			ID:   awssdk.ToString(rt.RouteTableId),
			Name: nameTag(rt.Tags),
		}
		for _, assoc := range rt.Associations {
			if awssdk.ToBool(assoc.Main) {
				desc.Main = true
			}
			if assoc.SubnetId != nil {
				desc.SubnetIDs = append(desc.SubnetIDs, *assoc.SubnetId)
			}
		}
		for _, route := range rt.Routes {
			gatewayID := awssdk.ToString(route.GatewayId)
			if gatewayID == "local" {
				continue
			}
			desc.Routes = append(desc.Routes, cloud.RouteDescriptor{
				DestinationCIDR: awssdk.ToString(route.DestinationCidrBlock),
				GatewayID:       gatewayID,
				NATGatewayID:    awssdk.ToString(route.NatGatewayId),
			})
		}
		topo.RouteTables = append(topo.RouteTables, desc)
	}

	groups, err := i.ec2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{Filters: vpcFilter})
	if err != nil {
		return nil, errors.Trace(err)
	}
	topo.SecurityGroups = groupsFromAPI(groups.SecurityGroups)
	return topo, nil
}

// VPCByCIDR implements cloud.Inventory.
func (i *Inventory) VPCByCIDR(ctx context.Context, cidr string) (string, error) {
	resp, err := i.ec2.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{
		Filters: []types.Filter{filter("cidr", cidr)},
	})
	if err != nil {
		return "", errors.Annotate(err, "looking up vpc by cidr")
	}
	if len(resp.Vpcs) == 0 {
		return "", nil
	}
	return awssdk.ToString(resp.Vpcs[0].VpcId), nil
}

// SubnetByCIDR implements cloud.Inventory.
func (i *Inventory) SubnetByCIDR(ctx context.Context, vpcID, cidr string) (string, error) {
	resp, err := i.ec2.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
		Filters: []types.Filter{filter("vpc-id", vpcID), filter("cidr-block", cidr)},
	})
	if err != nil {
		return "", errors.Annotate(err, "looking up subnet by cidr")
	}
	if len(resp.Subnets) == 0 {
		return "", nil
	}
	return awssdk.ToString(resp.Subnets[0].SubnetId), nil
}

// InternetGatewayForVPC implements cloud.Inventory.
func (i *Inventory) InternetGatewayForVPC(ctx context.Context, vpcID string) (string, error) {
	resp, err := i.ec2.DescribeInternetGateways(ctx, &ec2.DescribeInternetGatewaysInput{
		Filters: []types.Filter{filter("attachment.vpc-id", vpcID)},
	})
	if err != nil {
		return "", errors.Annotate(err, "looking up internet gateway")
	}
	if len(resp.InternetGateways) == 0 {
		return "", nil
	}
	return awssdk.ToString(resp.InternetGateways[0].InternetGatewayId), nil
}

// MainRouteTable implements cloud.Inventory.
func (i *Inventory) MainRouteTable(ctx context.Context, vpcID string) (string, error) {
	resp, err := i.ec2.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{
		Filters: []types.Filter{filter("vpc-id", vpcID), filter("association.main", "true")},
	})
	if err != nil {
		return "", errors.Annotate(err, "looking up main route table")
	}
	if len(resp.RouteTables) == 0 {
		return "", errors.NotFoundf("main route table of %q", vpcID)
	}
	return awssdk.ToString(resp.RouteTables[0].RouteTableId), nil
}

// ImageEncryptionKeys implements cloud.Inventory. AWS-managed keys are
// excluded; grants cannot be created on them.
func (i *Inventory) ImageEncryptionKeys(ctx context.Context, imageID string) ([]string, error) {
	resp, err := i.ec2.DescribeImages(ctx, &ec2.DescribeImagesInput{ImageIds: []string{imageID}})
	if err != nil {
		return nil, errors.Annotatef(err, "describing image %q", imageID)
	}
	if len(resp.Images) == 0 {
		return nil, errors.NotFoundf("image %q", imageID)
	}
	keys := set.NewStrings()
	for _, mapping := range resp.Images[0].BlockDeviceMappings {
		ebs := mapping.Ebs
		if ebs == nil || !awssdk.ToBool(ebs.Encrypted) || ebs.SnapshotId == nil {
			continue
		}
		snaps, err := i.ec2.DescribeSnapshots(ctx, &ec2.DescribeSnapshotsInput{
			SnapshotIds: []string{*ebs.SnapshotId},
		})
		if err != nil {
			logger.Warningf("cannot describe snapshot %q: %v", *ebs.SnapshotId, err)
			continue
		}
		for _, snap := range snaps.Snapshots {
			key := awssdk.ToString(snap.KmsKeyId)
			if key != "" && !cloud.IsAWSManagedKey(key) {
				keys.Add(key)
			}
		}
	}
	return keys.SortedValues(), nil
}

// HasElasticIP implements cloud.Inventory.
func (i *Inventory) HasElasticIP(ctx context.Context, instanceID string) (bool, error) {
	resp, err := i.ec2.DescribeAddresses(ctx, &ec2.DescribeAddressesInput{
		Filters: []types.Filter{filter("instance-id", instanceID)},
	})
	if err != nil {
		return false, errors.Annotate(err, "looking up elastic ips")
	}
	return len(resp.Addresses) > 0, nil
}

// ImageState implements cloud.Inventory.
func (i *Inventory) ImageState(ctx context.Context, imageID string) (string, error) {
	resp, err := i.ec2.DescribeImages(ctx, &ec2.DescribeImagesInput{ImageIds: []string{imageID}})
	if err != nil {
		return "", errors.Annotatef(err, "describing image %q", imageID)
	}
	if len(resp.Images) == 0 {
		// Copies propagate asynchronously; absence means not yet visible.
		return "pending", nil
	}
	return string(resp.Images[0].State), nil
}

// InstanceState implements cloud.Inventory.
func (i *Inventory) InstanceState(ctx context.Context, instanceID string) (string, error) {
	resp, err := i.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{instanceID}})
	if err != nil {
		return "", errors.Annotatef(err, "describing instance %q", instanceID)
	}
	if len(resp.Reservations) == 0 || len(resp.Reservations[0].Instances) == 0 {
		return "", errors.NotFoundf("instance %q", instanceID)
	}
	inst := resp.Reservations[0].Instances[0]
	if inst.State == nil {
		return "", nil
	}
	return string(inst.State.Name), nil
}

// NATGatewayState implements cloud.Inventory.
func (i *Inventory) NATGatewayState(ctx context.Context, natID string) (string, error) {
	resp, err := i.ec2.DescribeNatGateways(ctx, &ec2.DescribeNatGatewaysInput{
		NatGatewayIds: []string{natID},
	})
	if err != nil {
		return "", errors.Annotatef(err, "describing nat gateway %q", natID)
	}
	if len(resp.NatGateways) == 0 {
		return "", errors.NotFoundf("nat gateway %q", natID)
	}
	return string(resp.NatGateways[0].State), nil
}

// DBSnapshotState implements cloud.Inventory.
func (i *Inventory) DBSnapshotState(ctx context.Context, snapshotID string) (string, error) {
	resp, err := i.rds.DescribeDBSnapshots(ctx, &rds.DescribeDBSnapshotsInput{
		DBSnapshotIdentifier: awssdk.String(snapshotID),
	})
	if err != nil {
		return "", errors.Annotatef(err, "describing db snapshot %q", snapshotID)
	}
	if len(resp.DBSnapshots) == 0 {
		// Shared copies appear asynchronously on the target side.
		return "pending", nil
	}
	return awssdk.ToString(resp.DBSnapshots[0].Status), nil
}

// DBInstanceState implements cloud.Inventory.
func (i *Inventory) DBInstanceState(ctx context.Context, instanceID string) (string, error) {
	resp, err := i.rds.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: awssdk.String(instanceID),
	})
	if err != nil {
		return "", errors.Annotatef(err, "describing db instance %q", instanceID)
	}
	if len(resp.DBInstances) == 0 {
		return "", errors.NotFoundf("db instance %q", instanceID)
	}
	return awssdk.ToString(resp.DBInstances[0].DBInstanceStatus), nil
}
