// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/juju/errors"

	"github.com/cloudlift/cloudlift/core/migration"
	"github.com/cloudlift/cloudlift/internal/cloud"
)

// rdsPipeline migrates one managed database by snapshot: snapshot the
// source, share it, copy it into the target account (re-encrypting
// under the target's key), and restore.
var rdsPipeline = pipeline{
	steps: []step{
		{"analyze_database", stepAnalyzeDatabase},
		{"grant_kms_access", stepGrantKMSAccess},
		{"create_db_snapshot", stepCreateDBSnapshot},
		{"wait_source_snapshot", stepWaitSourceSnapshot},
		{"share_db_snapshot", stepShareDBSnapshot},
		{"copy_db_snapshot", stepCopyDBSnapshot},
		{"wait_target_snapshot", stepWaitTargetSnapshot},
		{"restore_db_instance", stepRestoreDBInstance},
		{"wait_db_instance", stepWaitDBInstance},
	},
	targetID: func(rec *migration.Record) string {
		return rec.StepData("restore_db_instance")["db_instance_id"]
	},
}

func stepAnalyzeDatabase(ctx context.Context, r *run) (migration.StepData, error) {
	db, err := r.source.Inventory.DescribeDatabase(ctx, r.sourceID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if db.Encrypted && r.params.TargetKMSKey == "" {
		return nil, errors.NotValidf("encrypted database %q without target KMS key", db.ID)
	}
	logger.Infof("database %q: %s %s, class %s, encrypted=%t",
		db.ID, db.Engine, db.EngineVersion, db.Class, db.Encrypted)
	return migration.StepData{
		"engine":         db.Engine,
		"engine_version": db.EngineVersion,
		"class":          db.Class,
		"multi_az":       strconv.FormatBool(db.MultiAZ),
		"encrypted":      strconv.FormatBool(db.Encrypted),
		"kms_key_id":     db.KMSKeyID,
	}, nil
}

// stepGrantKMSAccess lets the target account read snapshots encrypted
// under the source's customer key. Unencrypted databases and databases
// under an AWS-managed key need (and can have) no grant; the latter
// are re-encrypted wholly on the copy.
func stepGrantKMSAccess(ctx context.Context, r *run) (migration.StepData, error) {
	encrypted, _ := strconv.ParseBool(r.data("analyze_database", "encrypted"))
	keyID := r.data("analyze_database", "kms_key_id")
	if !encrypted || keyID == "" || cloud.IsAWSManagedKey(keyID) {
		return migration.StepData{"required": "false"}, nil
	}
	grantID, err := r.source.Mutator.CreateKeyGrant(ctx, keyID, r.target.AccountID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := r.addCreated(migration.KMSGrant, grantID, r.source.AccountID); err != nil {
		return nil, errors.Trace(err)
	}
	return migration.StepData{"required": "true", "grant_id": grantID}, nil
}

func stepCreateDBSnapshot(ctx context.Context, r *run) (migration.StepData, error) {
	snapshotID := fmt.Sprintf("%s-migration", r.sourceID)
	if err := r.source.Mutator.CreateDBSnapshot(ctx, r.sourceID, snapshotID); err != nil {
		return nil, errors.Trace(err)
	}
	if err := r.addCreated(migration.DBSnapshot, snapshotID, r.source.AccountID); err != nil {
		return nil, errors.Trace(err)
	}
	return migration.StepData{"snapshot_id": snapshotID}, nil
}

func stepWaitSourceSnapshot(ctx context.Context, r *run) (migration.StepData, error) {
	snapshotID := r.data("create_db_snapshot", "snapshot_id")
	err := r.waitFor(ctx, fmt.Sprintf("db snapshot %s", snapshotID), dbSnapshotReady, r.orch.waitTimeout,
		func(ctx context.Context) (string, error) {
			return r.source.Inventory.DBSnapshotState(ctx, snapshotID)
		})
	return nil, errors.Trace(err)
}

func stepShareDBSnapshot(ctx context.Context, r *run) (migration.StepData, error) {
	snapshotID := r.data("create_db_snapshot", "snapshot_id")
	return nil, errors.Trace(r.source.Mutator.ShareDBSnapshot(ctx, snapshotID, r.target.AccountID))
}

func stepCopyDBSnapshot(ctx context.Context, r *run) (migration.StepData, error) {
	snapshotID := r.data("create_db_snapshot", "snapshot_id")
	// Shared snapshots are addressed by ARN from the other account.
	sourceARN := fmt.Sprintf("arn:aws:rds:%s:%s:snapshot:%s",
		r.source.Region, r.source.AccountID, snapshotID)
	var kmsKey string
	if encrypted, _ := strconv.ParseBool(r.data("analyze_database", "encrypted")); encrypted {
		kmsKey = r.params.TargetKMSKey
	}
	copyID, err := r.target.Mutator.CopyDBSnapshot(ctx, sourceARN, snapshotID, kmsKey)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := r.addCreated(migration.DBSnapshot, copyID, r.target.AccountID); err != nil {
		return nil, errors.Trace(err)
	}
	return migration.StepData{"snapshot_id": copyID}, nil
}

func stepWaitTargetSnapshot(ctx context.Context, r *run) (migration.StepData, error) {
	snapshotID := r.data("copy_db_snapshot", "snapshot_id")
	err := r.waitFor(ctx, fmt.Sprintf("db snapshot %s", snapshotID), dbSnapshotReady, r.orch.waitTimeout,
		func(ctx context.Context) (string, error) {
			return r.target.Inventory.DBSnapshotState(ctx, snapshotID)
		})
	return nil, errors.Trace(err)
}

func stepRestoreDBInstance(ctx context.Context, r *run) (migration.StepData, error) {
	multiAZ, _ := strconv.ParseBool(r.data("analyze_database", "multi_az"))
	instanceID, err := r.target.Mutator.RestoreDatabase(ctx, cloud.RestoreDatabaseArgs{
		SnapshotID:       r.data("copy_db_snapshot", "snapshot_id"),
		InstanceID:       r.sourceID,
		InstanceClass:    r.data("analyze_database", "class"),
		SubnetGroup:      r.params.TargetSubnet,
		SecurityGroupIDs: r.params.TargetSecurityGroups,
		MultiAZ:          multiAZ,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := r.addCreated(migration.DBInstance, instanceID, r.target.AccountID); err != nil {
		return nil, errors.Trace(err)
	}
	return migration.StepData{"db_instance_id": instanceID}, nil
}

func stepWaitDBInstance(ctx context.Context, r *run) (migration.StepData, error) {
	instanceID := r.data("restore_db_instance", "db_instance_id")
	err := r.waitFor(ctx, fmt.Sprintf("db instance %s", instanceID), dbInstanceReady, r.orch.waitTimeout,
		func(ctx context.Context) (string, error) {
			return r.target.Inventory.DBInstanceState(ctx, instanceID)
		})
	return nil, errors.Trace(err)
}
