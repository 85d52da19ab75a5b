// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/juju/errors"

	"github.com/cloudlift/cloudlift/core/migration"
	"github.com/cloudlift/cloudlift/internal/cloud"
)

// ec2Pipeline migrates one compute instance: image the source, share
// the image (and its snapshots' encryption keys) with the target
// account, copy it across, replicate the security groups, and launch.
var ec2Pipeline = pipeline{
	steps: []step{
		{"analyze_instance", stepAnalyzeInstance},
		{"create_ami", stepCreateAMI},
		{"wait_source_ami", stepWaitSourceAMI},
		{"grant_snapshot_permissions", stepGrantSnapshotPermissions},
		{"share_ami", stepShareAMI},
		{"copy_ami", stepCopyAMI},
		{"wait_target_ami", stepWaitTargetAMI},
		{"replicate_security_groups", stepReplicateInstanceGroups},
		{"launch_instance", stepLaunchInstance},
		{"wait_instance", stepWaitInstance},
		{"associate_elastic_ip", stepAssociateElasticIP},
	},
	targetID: func(rec *migration.Record) string {
		return rec.StepData("launch_instance")["instance_id"]
	},
}

func stepAnalyzeInstance(ctx context.Context, r *run) (migration.StepData, error) {
	inst, err := r.source.Inventory.DescribeInstance(ctx, r.sourceID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	hasEIP, err := r.source.Inventory.HasElasticIP(ctx, r.sourceID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	name := inst.Tags["Name"]
	if name == "" {
		name = inst.ID
	}
	logger.Infof("instance %q: type %s, %d volume(s), %d security group(s)",
		inst.ID, inst.Type, len(inst.Volumes), len(inst.SecurityGroupIDs))
	return migration.StepData{
		"name":               name,
		"instance_type":      inst.Type,
		"key_name":           inst.KeyName,
		"monitoring":         strconv.FormatBool(inst.Monitoring),
		"user_data":          inst.UserData,
		"security_group_ids": strings.Join(inst.SecurityGroupIDs, ","),
		"has_elastic_ip":     strconv.FormatBool(hasEIP),
	}, nil
}

func stepCreateAMI(ctx context.Context, r *run) (migration.StepData, error) {
	name := fmt.Sprintf("%s-migration", r.sourceID)
	imageID, err := r.source.Mutator.CreateImage(ctx, r.sourceID, name,
		fmt.Sprintf("Migration image of %s", r.sourceID))
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := r.addCreated(migration.AMI, imageID, r.source.AccountID); err != nil {
		return nil, errors.Trace(err)
	}
	return migration.StepData{"image_id": imageID}, nil
}

func stepWaitSourceAMI(ctx context.Context, r *run) (migration.StepData, error) {
	imageID := r.data("create_ami", "image_id")
	err := r.waitFor(ctx, fmt.Sprintf("image %s", imageID), imageReady, r.orch.waitTimeout,
		func(ctx context.Context) (string, error) {
			return r.source.Inventory.ImageState(ctx, imageID)
		})
	return nil, errors.Trace(err)
}

// stepGrantSnapshotPermissions gives the target account access to the
// image's backing snapshots and, for encrypted volumes, to the
// customer keys they are encrypted under. AWS-managed keys cannot be
// granted on; those volumes will not be readable and are reported.
func stepGrantSnapshotPermissions(ctx context.Context, r *run) (migration.StepData, error) {
	imageID := r.data("create_ami", "image_id")
	if err := r.source.Mutator.GrantSnapshotAccess(ctx, imageID, r.target.AccountID); err != nil {
		return nil, errors.Trace(err)
	}
	keys, err := r.source.Inventory.ImageEncryptionKeys(ctx, imageID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var grants []string
	for _, key := range keys {
		grantID, err := r.source.Mutator.CreateKeyGrant(ctx, key, r.target.AccountID)
		if err != nil {
			return nil, errors.Annotatef(err, "granting access to key %q", key)
		}
		if err := r.addCreated(migration.KMSGrant, grantID, r.source.AccountID); err != nil {
			return nil, errors.Trace(err)
		}
		grants = append(grants, grantID)
	}
	return migration.StepData{"kms_grants": strings.Join(grants, ",")}, nil
}

func stepShareAMI(ctx context.Context, r *run) (migration.StepData, error) {
	imageID := r.data("create_ami", "image_id")
	return nil, errors.Trace(r.source.Mutator.ShareImage(ctx, imageID, r.target.AccountID))
}

func stepCopyAMI(ctx context.Context, r *run) (migration.StepData, error) {
	sourceImage := r.data("create_ami", "image_id")
	name := fmt.Sprintf("%s-migration", r.sourceID)
	imageID, err := r.target.Mutator.CopyImage(ctx, sourceImage, r.source.Region, name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := r.addCreated(migration.AMI, imageID, r.target.AccountID); err != nil {
		return nil, errors.Trace(err)
	}
	return migration.StepData{"image_id": imageID}, nil
}

func stepWaitTargetAMI(ctx context.Context, r *run) (migration.StepData, error) {
	imageID := r.data("copy_ami", "image_id")
	err := r.waitFor(ctx, fmt.Sprintf("image %s", imageID), imageReady, r.orch.waitTimeout,
		func(ctx context.Context) (string, error) {
			return r.target.Inventory.ImageState(ctx, imageID)
		})
	return nil, errors.Trace(err)
}

func stepReplicateInstanceGroups(ctx context.Context, r *run) (migration.StepData, error) {
	if len(r.params.TargetSecurityGroups) > 0 {
		logger.Infof("using caller-supplied security groups: %s",
			strings.Join(r.params.TargetSecurityGroups, ", "))
		return migration.StepData{
			"security_group_ids": strings.Join(r.params.TargetSecurityGroups, ","),
		}, nil
	}
	sourceIDs := splitList(r.data("analyze_instance", "security_group_ids"))
	groups, err := r.source.Inventory.DescribeSecurityGroups(ctx, sourceIDs)
	if err != nil {
		return nil, errors.Trace(err)
	}
	result, err := r.replicateGroups(ctx, groups, r.params.TargetVPC)
	if err != nil {
		return nil, errors.Trace(err)
	}
	targetIDs := make([]string, 0, len(sourceIDs))
	for _, id := range sourceIDs {
		targetIDs = append(targetIDs, result.Mapping[id])
	}
	return migration.StepData{"security_group_ids": strings.Join(targetIDs, ",")}, nil
}

func stepLaunchInstance(ctx context.Context, r *run) (migration.StepData, error) {
	monitoring, _ := strconv.ParseBool(r.data("analyze_instance", "monitoring"))
	instanceID, err := r.target.Mutator.RunInstance(ctx, cloud.RunInstanceArgs{
		ImageID:          r.data("copy_ami", "image_id"),
		InstanceType:     r.data("analyze_instance", "instance_type"),
		SubnetID:         r.params.TargetSubnet,
		KeyName:          r.data("analyze_instance", "key_name"),
		UserData:         r.data("analyze_instance", "user_data"),
		Monitoring:       monitoring,
		SecurityGroupIDs: splitList(r.data("replicate_security_groups", "security_group_ids")),
		Tags: map[string]string{
			"Name":          r.data("analyze_instance", "name"),
			"MigratedFrom":  r.sourceID,
			"MigrationTool": "cloudlift",
		},
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := r.addCreated(migration.Instance, instanceID, r.target.AccountID); err != nil {
		return nil, errors.Trace(err)
	}
	return migration.StepData{"instance_id": instanceID}, nil
}

func stepWaitInstance(ctx context.Context, r *run) (migration.StepData, error) {
	instanceID := r.data("launch_instance", "instance_id")
	err := r.waitFor(ctx, fmt.Sprintf("instance %s", instanceID), instanceReady, r.orch.waitTimeout,
		func(ctx context.Context) (string, error) {
			return r.target.Inventory.InstanceState(ctx, instanceID)
		})
	return nil, errors.Trace(err)
}

// stepAssociateElasticIP gives the migrated instance a public address
// of its own when the source held one. The source address itself
// cannot move between accounts.
func stepAssociateElasticIP(ctx context.Context, r *run) (migration.StepData, error) {
	if held, _ := strconv.ParseBool(r.data("analyze_instance", "has_elastic_ip")); !held {
		return migration.StepData{"required": "false"}, nil
	}
	allocationID, publicIP, err := r.target.Mutator.AllocateElasticIP(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := r.addCreated(migration.ElasticIP, allocationID, r.target.AccountID); err != nil {
		return nil, errors.Trace(err)
	}
	instanceID := r.data("launch_instance", "instance_id")
	if err := r.target.Mutator.AssociateElasticIP(ctx, instanceID, allocationID); err != nil {
		return nil, errors.Trace(err)
	}
	return migration.StepData{
		"required":      "true",
		"allocation_id": allocationID,
		"public_ip":     publicIP,
	}, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
