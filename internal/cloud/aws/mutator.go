// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package aws

import (
	"context"
	"encoding/base64"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/juju/errors"

	"github.com/cloudlift/cloudlift/internal/cloud"
	"github.com/cloudlift/cloudlift/internal/secgroup"
)

var _ cloud.Mutator = (*Mutator)(nil)

// Mutator issues mutating requests against one account. Errors from
// duplicate submissions are classified so that callers can treat them
// as success.
type Mutator struct {
	ec2 ec2API
	rds rdsAPI
	kms kmsAPI
}

// NewMutator returns a Mutator over the given clients.
func NewMutator(ec2Client ec2API, rdsClient rdsAPI, kmsClient kmsAPI) *Mutator {
	return &Mutator{ec2: ec2Client, rds: rdsClient, kms: kmsClient}
}

// CreateImage implements cloud.Mutator. The instance is not rebooted;
// the filesystem is captured as-is.
func (m *Mutator) CreateImage(ctx context.Context, instanceID, name, description string) (string, error) {
	logger.Infof("creating image %q from instance %q", name, instanceID)
	resp, err := m.ec2.CreateImage(ctx, &ec2.CreateImageInput{
		InstanceId:  awssdk.String(instanceID),
		Name:        awssdk.String(name),
		Description: awssdk.String(description),
		NoReboot:    awssdk.Bool(true),
	})
	if err != nil {
		return "", errors.Annotatef(classify(err), "creating image from %q", instanceID)
	}
	return awssdk.ToString(resp.ImageId), nil
}

// ShareImage implements cloud.Mutator.
func (m *Mutator) ShareImage(ctx context.Context, imageID, accountID string) error {
	_, err := m.ec2.ModifyImageAttribute(ctx, &ec2.ModifyImageAttributeInput{
		ImageId: awssdk.String(imageID),
		LaunchPermission: &types.LaunchPermissionModifications{
			Add: []types.LaunchPermission{{UserId: awssdk.String(accountID)}},
		},
	})
	if err != nil {
		return errors.Annotatef(classify(err), "sharing image %q with %s", imageID, accountID)
	}
	return nil
}

// GrantSnapshotAccess implements cloud.Mutator. Sharing an image is not
// enough for encrypted volumes; the backing snapshots need their own
// createVolumePermission entries.
func (m *Mutator) GrantSnapshotAccess(ctx context.Context, imageID, accountID string) error {
	images, err := m.ec2.DescribeImages(ctx, &ec2.DescribeImagesInput{ImageIds: []string{imageID}})
	if err != nil {
		return errors.Annotatef(err, "describing image %q", imageID)
	}
	if len(images.Images) == 0 {
		return errors.NotFoundf("image %q", imageID)
	}
	for _, mapping := range images.Images[0].BlockDeviceMappings {
		if mapping.Ebs == nil || mapping.Ebs.SnapshotId == nil {
			continue
		}
		snapshotID := *mapping.Ebs.SnapshotId
		logger.Debugf("granting %s access to snapshot %q", accountID, snapshotID)
		_, err := m.ec2.ModifySnapshotAttribute(ctx, &ec2.ModifySnapshotAttributeInput{
			SnapshotId:    awssdk.String(snapshotID),
			Attribute:     types.SnapshotAttributeNameCreateVolumePermission,
			OperationType: types.OperationTypeAdd,
			UserIds:       []string{accountID},
		})
		if err != nil {
			return errors.Annotatef(classify(err), "granting access to snapshot %q", snapshotID)
		}
	}
	return nil
}

// CopyImage implements cloud.Mutator. It is invoked on the target
// account's connection, pulling the shared image across.
func (m *Mutator) CopyImage(ctx context.Context, sourceImageID, sourceRegion, name string) (string, error) {
	logger.Infof("copying image %q from %s", sourceImageID, sourceRegion)
	resp, err := m.ec2.CopyImage(ctx, &ec2.CopyImageInput{
		SourceImageId: awssdk.String(sourceImageID),
		SourceRegion:  awssdk.String(sourceRegion),
		Name:          awssdk.String(name),
	})
	if err != nil {
		return "", errors.Annotatef(classify(err), "copying image %q", sourceImageID)
	}
	return awssdk.ToString(resp.ImageId), nil
}

// CreateKeyGrant implements cloud.Mutator.
func (m *Mutator) CreateKeyGrant(ctx context.Context, keyID, accountID string) (string, error) {
	logger.Infof("granting account %s access to key %q", accountID, keyID)
	resp, err := m.kms.CreateGrant(ctx, &kms.CreateGrantInput{
		KeyId:            awssdk.String(keyID),
		GranteePrincipal: awssdk.String(fmt.Sprintf("arn:aws:iam::%s:root", accountID)),
		Operations: []kmstypes.GrantOperation{
			kmstypes.GrantOperationDecrypt,
			kmstypes.GrantOperationDescribeKey,
			kmstypes.GrantOperationCreateGrant,
		},
	})
	if err != nil {
		return "", errors.Annotatef(classify(err), "creating grant on key %q", keyID)
	}
	return awssdk.ToString(resp.GrantId), nil
}

// CreateSecurityGroup implements cloud.Mutator.
func (m *Mutator) CreateSecurityGroup(ctx context.Context, vpcID, name, description string) (string, error) {
	logger.Debugf("creating security group %q in %q", name, vpcID)
	resp, err := m.ec2.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		VpcId:             awssdk.String(vpcID),
		GroupName:         awssdk.String(name),
		Description:       awssdk.String(description),
		TagSpecifications: tagSpec(types.ResourceTypeSecurityGroup, map[string]string{"Name": name}),
	})
	if err != nil {
		return "", errors.Annotatef(classify(err), "creating security group %q", name)
	}
	return awssdk.ToString(resp.GroupId), nil
}

// AuthorizeIngress implements cloud.Mutator.
func (m *Mutator) AuthorizeIngress(ctx context.Context, groupID string, rules []secgroup.Rule) error {
	if len(rules) == 0 {
		return nil
	}
	_, err := m.ec2.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId:       awssdk.String(groupID),
		IpPermissions: ipPermissions(rules),
	})
	if err != nil {
		return errors.Annotatef(classify(err), "authorizing ingress on %q", groupID)
	}
	return nil
}

// AuthorizeEgress implements cloud.Mutator.
func (m *Mutator) AuthorizeEgress(ctx context.Context, groupID string, rules []secgroup.Rule) error {
	if len(rules) == 0 {
		return nil
	}
	_, err := m.ec2.AuthorizeSecurityGroupEgress(ctx, &ec2.AuthorizeSecurityGroupEgressInput{
		GroupId:       awssdk.String(groupID),
		IpPermissions: ipPermissions(rules),
	})
	if err != nil {
		return errors.Annotatef(classify(err), "authorizing egress on %q", groupID)
	}
	return nil
}

// RunInstance implements cloud.Mutator.
func (m *Mutator) RunInstance(ctx context.Context, args cloud.RunInstanceArgs) (string, error) {
	logger.Infof("launching instance from image %q", args.ImageID)
	input := &ec2.RunInstancesInput{
		ImageId:      awssdk.String(args.ImageID),
		InstanceType: types.InstanceType(args.InstanceType),
		MinCount:     awssdk.Int32(1),
		MaxCount:     awssdk.Int32(1),
		Monitoring: &types.RunInstancesMonitoringEnabled{
			Enabled: awssdk.Bool(args.Monitoring),
		},
		SecurityGroupIds:  args.SecurityGroupIDs,
		TagSpecifications: tagSpec(types.ResourceTypeInstance, args.Tags),
	}
	if args.SubnetID != "" {
		input.SubnetId = awssdk.String(args.SubnetID)
	}
	if args.KeyName != "" {
		input.KeyName = awssdk.String(args.KeyName)
	}
	if args.UserData != "" {
		input.UserData = awssdk.String(base64.StdEncoding.EncodeToString([]byte(args.UserData)))
	}
	resp, err := m.ec2.RunInstances(ctx, input)
	if err != nil {
		return "", errors.Annotate(classify(err), "launching instance")
	}
	if len(resp.Instances) == 0 {
		return "", errors.Errorf("launch of image %q returned no instances", args.ImageID)
	}
	return awssdk.ToString(resp.Instances[0].InstanceId), nil
}

// AllocateElasticIP implements cloud.Mutator.
func (m *Mutator) AllocateElasticIP(ctx context.Context) (string, string, error) {
	resp, err := m.ec2.AllocateAddress(ctx, &ec2.AllocateAddressInput{
		Domain: types.DomainTypeVpc,
	})
	if err != nil {
		return "", "", errors.Annotate(classify(err), "allocating elastic ip")
	}
	return awssdk.ToString(resp.AllocationId), awssdk.ToString(resp.PublicIp), nil
}

// AssociateElasticIP implements cloud.Mutator.
func (m *Mutator) AssociateElasticIP(ctx context.Context, instanceID, allocationID string) error {
	_, err := m.ec2.AssociateAddress(ctx, &ec2.AssociateAddressInput{
		InstanceId:   awssdk.String(instanceID),
		AllocationId: awssdk.String(allocationID),
	})
	if err != nil {
		return errors.Annotatef(classify(err), "associating address with %q", instanceID)
	}
	return nil
}

// CreateDBSnapshot implements cloud.Mutator.
func (m *Mutator) CreateDBSnapshot(ctx context.Context, databaseID, snapshotID string) error {
	logger.Infof("creating snapshot %q of database %q", snapshotID, databaseID)
	_, err := m.rds.CreateDBSnapshot(ctx, &rds.CreateDBSnapshotInput{
		DBInstanceIdentifier: awssdk.String(databaseID),
		DBSnapshotIdentifier: awssdk.String(snapshotID),
	})
	if err != nil {
		return errors.Annotatef(classify(err), "creating db snapshot %q", snapshotID)
	}
	return nil
}

// ShareDBSnapshot implements cloud.Mutator.
func (m *Mutator) ShareDBSnapshot(ctx context.Context, snapshotID, accountID string) error {
	_, err := m.rds.ModifyDBSnapshotAttribute(ctx, &rds.ModifyDBSnapshotAttributeInput{
		DBSnapshotIdentifier: awssdk.String(snapshotID),
		AttributeName:        awssdk.String("restore"),
		ValuesToAdd:          []string{accountID},
	})
	if err != nil {
		return errors.Annotatef(classify(err), "sharing db snapshot %q with %s", snapshotID, accountID)
	}
	return nil
}

// CopyDBSnapshot implements cloud.Mutator. A KMS key must be supplied
// when the source snapshot is encrypted; copies re-encrypt under the
// target account's key.
func (m *Mutator) CopyDBSnapshot(ctx context.Context, sourceID, targetID, kmsKeyID string) (string, error) {
	logger.Infof("copying db snapshot %q", sourceID)
	input := &rds.CopyDBSnapshotInput{
		SourceDBSnapshotIdentifier: awssdk.String(sourceID),
		TargetDBSnapshotIdentifier: awssdk.String(targetID),
	}
	if kmsKeyID != "" {
		input.KmsKeyId = awssdk.String(kmsKeyID)
	}
	resp, err := m.rds.CopyDBSnapshot(ctx, input)
	if err != nil {
		return "", errors.Annotatef(classify(err), "copying db snapshot %q", sourceID)
	}
	if resp.DBSnapshot == nil {
		return targetID, nil
	}
	return awssdk.ToString(resp.DBSnapshot.DBSnapshotIdentifier), nil
}

// RestoreDatabase implements cloud.Mutator.
func (m *Mutator) RestoreDatabase(ctx context.Context, args cloud.RestoreDatabaseArgs) (string, error) {
	logger.Infof("restoring database %q from snapshot %q", args.InstanceID, args.SnapshotID)
	input := &rds.RestoreDBInstanceFromDBSnapshotInput{
		DBSnapshotIdentifier: awssdk.String(args.SnapshotID),
		DBInstanceIdentifier: awssdk.String(args.InstanceID),
		DBInstanceClass:      awssdk.String(args.InstanceClass),
		VpcSecurityGroupIds:  args.SecurityGroupIDs,
		MultiAZ:              awssdk.Bool(args.MultiAZ),
	}
	if args.SubnetGroup != "" {
		input.DBSubnetGroupName = awssdk.String(args.SubnetGroup)
	}
	resp, err := m.rds.RestoreDBInstanceFromDBSnapshot(ctx, input)
	if err != nil {
		return "", errors.Annotatef(classify(err), "restoring database %q", args.InstanceID)
	}
	if resp.DBInstance == nil {
		return args.InstanceID, nil
	}
	return awssdk.ToString(resp.DBInstance.DBInstanceIdentifier), nil
}

// CreateVPC implements cloud.Mutator.
func (m *Mutator) CreateVPC(ctx context.Context, cidr string) (string, error) {
	logger.Infof("creating vpc %s", cidr)
	resp, err := m.ec2.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock: awssdk.String(cidr),
	})
	if err != nil {
		return "", errors.Annotate(classify(err), "creating vpc")
	}
	return awssdk.ToString(resp.Vpc.VpcId), nil
}

// SetVPCAttributes implements cloud.Mutator. The two attributes cannot
// be modified in a single request.
func (m *Mutator) SetVPCAttributes(ctx context.Context, vpcID string, dnsSupport, dnsHostnames bool) error {
	_, err := m.ec2.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
		VpcId:            awssdk.String(vpcID),
		EnableDnsSupport: &types.AttributeBooleanValue{Value: awssdk.Bool(dnsSupport)},
	})
	if err != nil {
		return errors.Annotatef(classify(err), "setting dns support on %q", vpcID)
	}
	_, err = m.ec2.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
		VpcId:              awssdk.String(vpcID),
		EnableDnsHostnames: &types.AttributeBooleanValue{Value: awssdk.Bool(dnsHostnames)},
	})
	if err != nil {
		return errors.Annotatef(classify(err), "setting dns hostnames on %q", vpcID)
	}
	return nil
}

// CreateSubnet implements cloud.Mutator.
func (m *Mutator) CreateSubnet(ctx context.Context, vpcID, cidr, availabilityZone string, mapPublicIP bool) (string, error) {
	logger.Debugf("creating subnet %s in %q", cidr, vpcID)
	input := &ec2.CreateSubnetInput{
		VpcId:     awssdk.String(vpcID),
		CidrBlock: awssdk.String(cidr),
	}
	if availabilityZone != "" {
		input.AvailabilityZone = awssdk.String(availabilityZone)
	}
	resp, err := m.ec2.CreateSubnet(ctx, input)
	if err != nil {
		return "", errors.Annotatef(classify(err), "creating subnet %s", cidr)
	}
	subnetID := awssdk.ToString(resp.Subnet.SubnetId)
	if mapPublicIP {
		_, err := m.ec2.ModifySubnetAttribute(ctx, &ec2.ModifySubnetAttributeInput{
			SubnetId:            awssdk.String(subnetID),
			MapPublicIpOnLaunch: &types.AttributeBooleanValue{Value: awssdk.Bool(true)},
		})
		if err != nil {
			return "", errors.Annotatef(classify(err), "setting public ip mapping on %q", subnetID)
		}
	}
	return subnetID, nil
}

// CreateInternetGateway implements cloud.Mutator. The gateway is
// attached to the VPC before returning.
func (m *Mutator) CreateInternetGateway(ctx context.Context, vpcID string) (string, error) {
	resp, err := m.ec2.CreateInternetGateway(ctx, &ec2.CreateInternetGatewayInput{})
	if err != nil {
		return "", errors.Annotate(classify(err), "creating internet gateway")
	}
	igwID := awssdk.ToString(resp.InternetGateway.InternetGatewayId)
	_, err = m.ec2.AttachInternetGateway(ctx, &ec2.AttachInternetGatewayInput{
		InternetGatewayId: awssdk.String(igwID),
		VpcId:             awssdk.String(vpcID),
	})
	if err != nil && !errors.Is(classify(err), errors.AlreadyExists) {
		return "", errors.Annotatef(err, "attaching internet gateway %q", igwID)
	}
	return igwID, nil
}

// CreateNATGateway implements cloud.Mutator.
func (m *Mutator) CreateNATGateway(ctx context.Context, subnetID, allocationID string) (string, error) {
	logger.Infof("creating nat gateway in %q", subnetID)
	resp, err := m.ec2.CreateNatGateway(ctx, &ec2.CreateNatGatewayInput{
		SubnetId:     awssdk.String(subnetID),
		AllocationId: awssdk.String(allocationID),
	})
	if err != nil {
		return "", errors.Annotate(classify(err), "creating nat gateway")
	}
	return awssdk.ToString(resp.NatGateway.NatGatewayId), nil
}

// CreateRouteTable implements cloud.Mutator.
func (m *Mutator) CreateRouteTable(ctx context.Context, vpcID string) (string, error) {
	resp, err := m.ec2.CreateRouteTable(ctx, &ec2.CreateRouteTableInput{
		VpcId: awssdk.String(vpcID),
	})
	if err != nil {
		return "", errors.Annotate(classify(err), "creating route table")
	}
	return awssdk.ToString(resp.RouteTable.RouteTableId), nil
}

// CreateRoute implements cloud.Mutator.
func (m *Mutator) CreateRoute(ctx context.Context, routeTableID string, route cloud.RouteDescriptor) error {
	input := &ec2.CreateRouteInput{
		RouteTableId:         awssdk.String(routeTableID),
		DestinationCidrBlock: awssdk.String(route.DestinationCIDR),
	}
	switch {
	case route.NATGatewayID != "":
		input.NatGatewayId = awssdk.String(route.NATGatewayID)
	case route.GatewayID != "":
		input.GatewayId = awssdk.String(route.GatewayID)
	default:
		return errors.NotValidf("route to %s with no gateway", route.DestinationCIDR)
	}
	_, err := m.ec2.CreateRoute(ctx, input)
	if err != nil {
		return errors.Annotatef(classify(err), "creating route to %s", route.DestinationCIDR)
	}
	return nil
}

// AssociateRouteTable implements cloud.Mutator.
func (m *Mutator) AssociateRouteTable(ctx context.Context, routeTableID, subnetID string) error {
	_, err := m.ec2.AssociateRouteTable(ctx, &ec2.AssociateRouteTableInput{
		RouteTableId: awssdk.String(routeTableID),
		SubnetId:     awssdk.String(subnetID),
	})
	if err != nil {
		return errors.Annotatef(classify(err), "associating route table %q with %q", routeTableID, subnetID)
	}
	return nil
}

// Tag implements cloud.Mutator.
func (m *Mutator) Tag(ctx context.Context, resourceID string, tags map[string]string) error {
	if len(tags) == 0 {
		return nil
	}
	_, err := m.ec2.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{resourceID},
		Tags:      ec2Tags(tags),
	})
	if err != nil {
		return errors.Annotatef(classify(err), "tagging %q", resourceID)
	}
	return nil
}
