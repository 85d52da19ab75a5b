// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package engine

import (
	"context"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/cloudlift/cloudlift/core/migration"
	migrationerrors "github.com/cloudlift/cloudlift/core/migration/errors"
	"github.com/cloudlift/cloudlift/internal/cloud"
	"github.com/cloudlift/cloudlift/internal/dryrun"
	"github.com/cloudlift/cloudlift/internal/secgroup"
	"github.com/cloudlift/cloudlift/internal/state"
)

type orchestratorSuite struct {
	testing.IsolationSuite

	source *fakeCloud
	target *fakeCloud
	store  *state.Store
	orch   *Orchestrator
}

var _ = gc.Suite(&orchestratorSuite{})

func (s *orchestratorSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)

	s.source = newFakeCloud()
	s.source.instance = &cloud.InstanceDescriptor{
		ID:               "i-0aaa",
		Type:             "t3.large",
		State:            "running",
		ImageID:          "ami-base",
		KeyName:          "ops",
		SubnetID:         "subnet-src",
		UserData:         "#cloud-config\npackages: [nginx]\n",
		Monitoring:       true,
		SecurityGroupIDs: []string{"sg-web"},
		Tags:             map[string]string{"Name": "web-1"},
	}
	s.source.groups["sg-web"] = secgroup.Group{
		ID:   "sg-web",
		Name: "web",
		VPC:  "vpc-src",
		Ingress: []secgroup.Rule{
			secgroup.CidrRule{Protocol: "tcp", FromPort: 443, ToPort: 443, CIDR: "0.0.0.0/0"},
			secgroup.GroupRule{Protocol: "tcp", FromPort: 8080, ToPort: 8080, GroupID: "sg-web"},
		},
	}
	s.source.database = &cloud.DatabaseDescriptor{
		ID:            "orders-db",
		Engine:        "postgres",
		EngineVersion: "14.11",
		Class:         "db.m6g.large",
		Encrypted:     true,
		KMSKeyID:      "arn:aws:kms:eu-west-1:111111111111:key/src",
		MultiAZ:       true,
	}

	s.target = newFakeCloud()
	s.target.defaultGroup = "sg-tgt-default"

	s.store = s.newStore(c)
	s.orch = s.newOrchestrator(c, s.store)
}

func (s *orchestratorSuite) newStore(c *gc.C) *state.Store {
	store, err := state.NewStore(filepath.Join(c.MkDir(), "state.json"), clock.WallClock)
	c.Assert(err, jc.ErrorIsNil)
	return store
}

func (s *orchestratorSuite) newOrchestrator(c *gc.C, store *state.Store) *Orchestrator {
	orch, err := New(Config{
		Store:        store,
		Source:       s.source.connection("111111111111", "eu-west-1"),
		Target:       s.target.connection("222233334444", "eu-west-1"),
		Clock:        clock.WallClock,
		PollInterval: time.Millisecond,
		WaitTimeout:  100 * time.Millisecond,
	})
	c.Assert(err, jc.ErrorIsNil)
	return orch
}

func (s *orchestratorSuite) instanceParams() Params {
	return Params{TargetVPC: "vpc-tgt", TargetSubnet: "subnet-tgt"}
}

func (s *orchestratorSuite) TestConfigValidate(c *gc.C) {
	_, err := New(Config{})
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}

func (s *orchestratorSuite) TestInstanceMigration(c *gc.C) {
	outcome, err := s.orch.Execute(context.Background(), migration.EC2Instance, "i-0aaa", s.instanceParams())
	c.Assert(err, jc.ErrorIsNil)

	c.Check(outcome.TargetID, gc.Equals, "i-new-0001")
	c.Check(outcome.StepsRun, gc.HasLen, 11)
	c.Check(outcome.StepsSkipped, gc.HasLen, 0)
	c.Check(outcome.Actions, gc.IsNil)

	s.source.stub.CheckCallNames(c, "CreateImage", "GrantSnapshotAccess", "ShareImage")
	s.target.stub.CheckCallNames(c, "CopyImage", "CreateSecurityGroup", "AuthorizeIngress", "RunInstance")

	c.Check(s.target.lastRunArgs.ImageID, gc.Equals, "ami-copy-0001")
	c.Check(s.target.lastRunArgs.InstanceType, gc.Equals, "t3.large")
	c.Check(s.target.lastRunArgs.SubnetID, gc.Equals, "subnet-tgt")
	c.Check(s.target.lastRunArgs.KeyName, gc.Equals, "ops")
	c.Check(s.target.lastRunArgs.Monitoring, jc.IsTrue)
	// The self-referencing source group maps to the replicated one.
	c.Check(s.target.lastRunArgs.SecurityGroupIDs, jc.DeepEquals, []string{"sg-new-0001"})

	rec, ok := s.store.Record(outcome.MigrationID)
	c.Assert(ok, jc.IsTrue)
	c.Check(rec.Status, gc.Equals, migration.StatusCompleted)
	c.Check(rec.TargetID, gc.Equals, "i-new-0001")
	c.Check(rec.HasCreated(migration.AMI, "ami-0001"), jc.IsTrue)
	c.Check(rec.HasCreated(migration.AMI, "ami-copy-0001"), jc.IsTrue)
	c.Check(rec.HasCreated(migration.SecurityGroup, "sg-new-0001"), jc.IsTrue)
	c.Check(rec.HasCreated(migration.Instance, "i-new-0001"), jc.IsTrue)
}

func (s *orchestratorSuite) TestInstanceEncryptionGrants(c *gc.C) {
	s.source.imageKeys = []string{"arn:aws:kms:eu-west-1:111111111111:key/vol"}

	outcome, err := s.orch.Execute(context.Background(), migration.EC2Instance, "i-0aaa", s.instanceParams())
	c.Assert(err, jc.ErrorIsNil)

	s.source.stub.CheckCallNames(c, "CreateImage", "GrantSnapshotAccess", "CreateKeyGrant", "ShareImage")
	rec, _ := s.store.Record(outcome.MigrationID)
	c.Check(rec.HasCreated(migration.KMSGrant, "grant-0001"), jc.IsTrue)
}

func (s *orchestratorSuite) TestInstanceElasticIP(c *gc.C) {
	s.source.hasEIP = true

	outcome, err := s.orch.Execute(context.Background(), migration.EC2Instance, "i-0aaa", s.instanceParams())
	c.Assert(err, jc.ErrorIsNil)

	rec, _ := s.store.Record(outcome.MigrationID)
	c.Check(rec.StepData("associate_elastic_ip")["public_ip"], gc.Equals, "203.0.113.7")
	c.Check(rec.HasCreated(migration.ElasticIP, "eipalloc-0001"), jc.IsTrue)
	s.target.stub.CheckCallNames(c,
		"CopyImage", "CreateSecurityGroup", "AuthorizeIngress", "RunInstance",
		"AllocateElasticIP", "AssociateElasticIP")
}

func (s *orchestratorSuite) TestCompletedMigrationIsIdempotent(c *gc.C) {
	first, err := s.orch.Execute(context.Background(), migration.EC2Instance, "i-0aaa", s.instanceParams())
	c.Assert(err, jc.ErrorIsNil)

	s.source.stub.ResetCalls()
	s.target.stub.ResetCalls()

	second, err := s.orch.Execute(context.Background(), migration.EC2Instance, "i-0aaa", s.instanceParams())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(second.TargetID, gc.Equals, first.TargetID)
	c.Check(second.StepsRun, gc.HasLen, 0)
	c.Check(second.StepsSkipped, gc.HasLen, 11)
	s.source.stub.CheckNoCalls(c)
	s.target.stub.CheckNoCalls(c)
}

func (s *orchestratorSuite) TestFailureAbortsPipeline(c *gc.C) {
	s.target.fail["CopyImage"] = errors.New("boom")

	outcome, err := s.orch.Execute(context.Background(), migration.EC2Instance, "i-0aaa", s.instanceParams())
	c.Assert(err, gc.ErrorMatches, `step copy_ami: .*boom`)
	c.Check(outcome.TargetID, gc.Equals, "")

	rec, _ := s.store.Record(outcome.MigrationID)
	c.Check(rec.Status, gc.Equals, migration.StatusFailed)
	c.Check(rec.Step("copy_ami").Status, gc.Equals, migration.StatusFailed)
	c.Check(rec.Step("create_ami").Status, gc.Equals, migration.StatusCompleted)
	// Nothing after the failed step ran.
	c.Check(rec.Step("launch_instance"), gc.IsNil)
	// Resources created before the failure stay on the record.
	c.Check(rec.HasCreated(migration.AMI, "ami-0001"), jc.IsTrue)
}

func (s *orchestratorSuite) TestResumeSkipsCompletedSteps(c *gc.C) {
	s.target.fail["CopyImage"] = errors.New("boom")
	_, err := s.orch.Execute(context.Background(), migration.EC2Instance, "i-0aaa", s.instanceParams())
	c.Assert(err, gc.NotNil)

	delete(s.target.fail, "CopyImage")
	s.source.stub.ResetCalls()
	s.target.stub.ResetCalls()

	outcome, err := s.orch.Execute(context.Background(), migration.EC2Instance, "i-0aaa", s.instanceParams())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(outcome.StepsSkipped, jc.DeepEquals, []string{
		"analyze_instance", "create_ami", "wait_source_ami",
		"grant_snapshot_permissions", "share_ami",
	})
	c.Check(outcome.StepsRun[0], gc.Equals, "copy_ami")

	// The source side finished before the failure; nothing re-runs.
	s.source.stub.CheckNoCalls(c)
	rec, _ := s.store.Record(outcome.MigrationID)
	c.Check(rec.Status, gc.Equals, migration.StatusCompleted)

	// The image created before the crash is registered exactly once.
	var amis int
	for _, res := range rec.ResourcesCreated {
		if res.Type == migration.AMI && res.Account == "111111111111" {
			amis++
		}
	}
	c.Check(amis, gc.Equals, 1)
}

func (s *orchestratorSuite) TestDryRunMutatesNothing(c *gc.C) {
	params := s.instanceParams()
	params.DryRun = true

	outcome, err := s.orch.Execute(context.Background(), migration.EC2Instance, "i-0aaa", params)
	c.Assert(err, jc.ErrorIsNil)

	s.source.stub.CheckNoCalls(c)
	s.target.stub.CheckNoCalls(c)
	c.Assert(outcome.Actions, gc.NotNil)
	c.Check(len(outcome.Actions.Actions()) > 0, jc.IsTrue)
	c.Check(dryrun.IsPlaceholder(outcome.TargetID), jc.IsTrue)

	rec, _ := s.store.Record(outcome.MigrationID)
	c.Check(rec.Simulated, jc.IsTrue)
	c.Check(rec.Status, gc.Equals, migration.StatusCompleted)
}

func (s *orchestratorSuite) TestRealRunIgnoresDryRunProgress(c *gc.C) {
	params := s.instanceParams()
	params.DryRun = true
	_, err := s.orch.Execute(context.Background(), migration.EC2Instance, "i-0aaa", params)
	c.Assert(err, jc.ErrorIsNil)

	outcome, err := s.orch.Execute(context.Background(), migration.EC2Instance, "i-0aaa", s.instanceParams())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(outcome.StepsRun, gc.HasLen, 11)
	c.Check(outcome.TargetID, gc.Equals, "i-new-0001")
}

func (s *orchestratorSuite) TestDryRunPreservesCompletedRealMigration(c *gc.C) {
	first, err := s.orch.Execute(context.Background(), migration.EC2Instance, "i-0aaa", s.instanceParams())
	c.Assert(err, jc.ErrorIsNil)

	params := s.instanceParams()
	params.DryRun = true
	_, err = s.orch.Execute(context.Background(), migration.EC2Instance, "i-0aaa", params)
	c.Assert(err, jc.ErrorIsNil)

	// The real record, created-resource ledger included, is untouched,
	// so the next real invocation short-circuits with nothing to do.
	s.source.stub.ResetCalls()
	s.target.stub.ResetCalls()
	second, err := s.orch.Execute(context.Background(), migration.EC2Instance, "i-0aaa", s.instanceParams())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(second.TargetID, gc.Equals, first.TargetID)
	c.Check(second.StepsRun, gc.HasLen, 0)
	s.source.stub.CheckNoCalls(c)
	s.target.stub.CheckNoCalls(c)

	rec, ok := s.store.Record(first.MigrationID)
	c.Assert(ok, jc.IsTrue)
	c.Check(rec.Simulated, jc.IsFalse)
	c.Check(rec.HasCreated(migration.AMI, "ami-0001"), jc.IsTrue)
	c.Check(rec.HasCreated(migration.Instance, "i-new-0001"), jc.IsTrue)
}

func (s *orchestratorSuite) TestDryRunWalksTheRealStepSequence(c *gc.C) {
	params := s.instanceParams()
	params.DryRun = true
	dry, err := s.orch.Execute(context.Background(), migration.EC2Instance, "i-0aaa", params)
	c.Assert(err, jc.ErrorIsNil)

	live, err := s.newOrchestrator(c, s.newStore(c)).Execute(
		context.Background(), migration.EC2Instance, "i-0aaa", s.instanceParams())
	c.Assert(err, jc.ErrorIsNil)

	c.Check(dry.StepsRun, jc.DeepEquals, live.StepsRun)
}

func (s *orchestratorSuite) TestParamsValidatedBeforeAnyWork(c *gc.C) {
	_, err := s.orch.Execute(context.Background(), migration.EC2Instance, "i-0aaa", Params{})
	c.Assert(err, jc.ErrorIs, errors.NotValid)
	s.source.stub.CheckNoCalls(c)
	s.target.stub.CheckNoCalls(c)
	c.Check(s.store.All(), gc.HasLen, 0)
}

func (s *orchestratorSuite) TestWaitTimeout(c *gc.C) {
	s.target.states["ami-copy-0001"] = "pending"

	outcome, err := s.orch.Execute(context.Background(), migration.EC2Instance, "i-0aaa", s.instanceParams())
	c.Assert(err, jc.ErrorIs, errors.Timeout)
	c.Assert(err, gc.ErrorMatches, `step wait_target_ami: .*`)

	rec, _ := s.store.Record(outcome.MigrationID)
	c.Check(rec.Status, gc.Equals, migration.StatusFailed)
	c.Check(rec.Step("wait_target_ami").Status, gc.Equals, migration.StatusFailed)
}

func (s *orchestratorSuite) TestWaitTerminalStateIsMutationFailure(c *gc.C) {
	s.target.states["ami-copy-0001"] = "failed"

	_, err := s.orch.Execute(context.Background(), migration.EC2Instance, "i-0aaa", s.instanceParams())
	c.Assert(err, jc.ErrorIs, migrationerrors.MutationFailed)
	c.Assert(err, gc.Not(jc.ErrorIs), errors.Timeout)
}

func (s *orchestratorSuite) TestWaitSurfacesPersistentPollFailure(c *gc.C) {
	s.target.fail["ImageState"] = errors.New("api throttled")

	_, err := s.orch.Execute(context.Background(), migration.EC2Instance, "i-0aaa", s.instanceParams())
	c.Assert(err, gc.ErrorMatches, `step wait_target_ami: polling image .*: api throttled`)
	c.Assert(err, gc.Not(jc.ErrorIs), errors.Timeout)
}

func (s *orchestratorSuite) TestDatabaseMigration(c *gc.C) {
	params := Params{
		TargetSubnet:         "db-subnets",
		TargetKMSKey:         "arn:aws:kms:eu-west-1:222233334444:key/tgt",
		TargetSecurityGroups: []string{"sg-db"},
	}
	outcome, err := s.orch.Execute(context.Background(), migration.RDSDatabase, "orders-db", params)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(outcome.TargetID, gc.Equals, "orders-db")

	s.source.stub.CheckCallNames(c, "CreateKeyGrant", "CreateDBSnapshot", "ShareDBSnapshot")
	s.target.stub.CheckCallNames(c, "CopyDBSnapshot", "RestoreDatabase")

	// The shared snapshot is addressed by ARN and re-encrypted under
	// the target account's key.
	c.Check(s.target.copiedSnapshot, gc.Equals,
		"arn:aws:rds:eu-west-1:111111111111:snapshot:orders-db-migration")
	c.Check(s.target.copiedWithKey, gc.Equals, params.TargetKMSKey)
	c.Check(s.target.lastRestoreArgs.SubnetGroup, gc.Equals, "db-subnets")
	c.Check(s.target.lastRestoreArgs.SecurityGroupIDs, jc.DeepEquals, []string{"sg-db"})
	c.Check(s.target.lastRestoreArgs.MultiAZ, jc.IsTrue)

	rec, _ := s.store.Record(outcome.MigrationID)
	c.Check(rec.HasCreated(migration.DBSnapshot, "orders-db-migration"), jc.IsTrue)
	c.Check(rec.HasCreated(migration.DBInstance, "orders-db"), jc.IsTrue)
	c.Check(rec.HasCreated(migration.KMSGrant, "grant-0001"), jc.IsTrue)
}

func (s *orchestratorSuite) TestEncryptedDatabaseNeedsTargetKey(c *gc.C) {
	_, err := s.orch.Execute(context.Background(), migration.RDSDatabase, "orders-db",
		Params{TargetSubnet: "db-subnets"})
	c.Assert(err, jc.ErrorIs, errors.NotValid)
	c.Assert(err, gc.ErrorMatches, `step analyze_database: .*KMS key.*`)
}

func (s *orchestratorSuite) TestUnencryptedDatabaseSkipsGrant(c *gc.C) {
	s.source.database.Encrypted = false
	s.source.database.KMSKeyID = ""

	outcome, err := s.orch.Execute(context.Background(), migration.RDSDatabase, "orders-db",
		Params{TargetSubnet: "db-subnets"})
	c.Assert(err, jc.ErrorIsNil)

	s.source.stub.CheckCallNames(c, "CreateDBSnapshot", "ShareDBSnapshot")
	rec, _ := s.store.Record(outcome.MigrationID)
	c.Check(rec.StepData("grant_kms_access")["required"], gc.Equals, "false")
	c.Check(s.target.copiedWithKey, gc.Equals, "")
}

func (s *orchestratorSuite) TestVPCMigration(c *gc.C) {
	s.source.topology = &cloud.VPCTopology{
		ID:           "vpc-src",
		CIDR:         "10.10.0.0/16",
		Name:         "prod",
		DNSSupport:   true,
		DNSHostnames: true,
		Subnets: []cloud.SubnetDescriptor{
			{ID: "subnet-a", CIDR: "10.10.1.0/24", AvailabilityZone: "eu-west-1a", Name: "public-a", MapPublicIP: true},
			{ID: "subnet-b", CIDR: "10.10.2.0/24", AvailabilityZone: "eu-west-1b", Name: "private-b"},
		},
		HasInternetGW: true,
		NATGateways: []cloud.NATGatewayDescriptor{
			{ID: "nat-src", SubnetID: "subnet-a", Name: "nat-a"},
		},
		RouteTables: []cloud.RouteTableDescriptor{
			{
				ID:   "rtb-src-main",
				Main: true,
				Routes: []cloud.RouteDescriptor{
					{DestinationCIDR: "0.0.0.0/0", GatewayID: "igw-src"},
				},
			},
			{
				ID:   "rtb-src-private",
				Name: "private",
				Routes: []cloud.RouteDescriptor{
					{DestinationCIDR: "0.0.0.0/0", NATGatewayID: "nat-src"},
				},
				SubnetIDs: []string{"subnet-b"},
			},
		},
		SecurityGroups: []secgroup.Group{
			{ID: "sg-def", Name: "default", VPC: "vpc-src", IsDefault: true},
			{
				ID: "sg-app", Name: "app", VPC: "vpc-src",
				Ingress: []secgroup.Rule{
					secgroup.GroupRule{Protocol: "tcp", FromPort: 9000, ToPort: 9000, GroupID: "sg-app"},
				},
			},
		},
	}

	outcome, err := s.orch.Execute(context.Background(), migration.VPC, "vpc-src", Params{})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(outcome.TargetID, gc.Equals, "vpc-new-0001")

	rec, _ := s.store.Record(outcome.MigrationID)
	c.Check(rec.Status, gc.Equals, migration.StatusCompleted)
	c.Check(rec.HasCreated(migration.VPC, "vpc-new-0001"), jc.IsTrue)
	c.Check(rec.HasCreated(migration.Subnet, "subnet-new-0001"), jc.IsTrue)
	c.Check(rec.HasCreated(migration.Subnet, "subnet-new-0002"), jc.IsTrue)
	c.Check(rec.HasCreated(migration.InternetGateway, "igw-new-0001"), jc.IsTrue)
	c.Check(rec.HasCreated(migration.ElasticIP, "eipalloc-0001"), jc.IsTrue)
	c.Check(rec.HasCreated(migration.NATGateway, "nat-new-0001"), jc.IsTrue)
	c.Check(rec.HasCreated(migration.SecurityGroup, "sg-new-0001"), jc.IsTrue)
	c.Check(rec.HasCreated(migration.RouteTable, "rtb-new-0001"), jc.IsTrue)

	// The default group is mapped, never recreated; only "app" is.
	c.Check(rec.HasCreated(migration.SecurityGroup, "sg-tgt-default"), jc.IsFalse)

	// Route gateways are rewritten to the replicated ones.
	c.Check(s.target.routes, jc.DeepEquals, []cloud.RouteDescriptor{
		{DestinationCIDR: "0.0.0.0/0", GatewayID: "igw-new-0001"},
		{DestinationCIDR: "0.0.0.0/0", NATGatewayID: "nat-new-0001"},
	})

	// The private table is associated with the replicated subnet.
	s.target.stub.CheckCall(c, len(s.target.stub.Calls())-1,
		"AssociateRouteTable", "rtb-new-0001", "subnet-new-0002")
}

func (s *orchestratorSuite) TestVPCMigrationReusesMatchingResources(c *gc.C) {
	s.source.topology = &cloud.VPCTopology{
		ID:   "vpc-src",
		CIDR: "10.10.0.0/16",
		Name: "prod",
		Subnets: []cloud.SubnetDescriptor{
			{ID: "subnet-a", CIDR: "10.10.1.0/24", AvailabilityZone: "eu-west-1a"},
			{ID: "subnet-b", CIDR: "10.10.2.0/24", AvailabilityZone: "eu-west-1b"},
		},
	}
	// A previous interrupted run left the VPC and one subnet behind.
	s.target.vpcsByCIDR["10.10.0.0/16"] = "vpc-pre"
	s.target.subnetsByCIDR["vpc-pre/10.10.1.0/24"] = "subnet-pre"

	outcome, err := s.orch.Execute(context.Background(), migration.VPC, "vpc-src", Params{})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(outcome.TargetID, gc.Equals, "vpc-pre")

	// Only the missing subnet is created; nothing pre-existing is
	// recreated or claimed on the created-resource ledger.
	for _, call := range s.target.stub.Calls() {
		c.Check(call.FuncName, gc.Not(gc.Equals), "CreateVPC")
	}
	rec, _ := s.store.Record(outcome.MigrationID)
	c.Check(rec.HasCreated(migration.VPC, "vpc-pre"), jc.IsFalse)
	c.Check(rec.HasCreated(migration.Subnet, "subnet-pre"), jc.IsFalse)
	c.Check(rec.HasCreated(migration.Subnet, "subnet-new-0001"), jc.IsTrue)
	mapped := rec.StepData("create_subnets")
	c.Check(mapped["map:subnet-a"], gc.Equals, "subnet-pre")
	c.Check(mapped["map:subnet-b"], gc.Equals, "subnet-new-0001")
}

func (s *orchestratorSuite) TestUnknownResourceType(c *gc.C) {
	_, err := s.orch.Execute(context.Background(), migration.ResourceType("dns_zone"), "z-1", Params{})
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}

func (s *orchestratorSuite) TestResumableListsIncomplete(c *gc.C) {
	s.target.fail["CopyImage"] = errors.New("boom")
	_, err := s.orch.Execute(context.Background(), migration.EC2Instance, "i-0aaa", s.instanceParams())
	c.Assert(err, gc.NotNil)

	c.Check(s.orch.Resumable(), jc.DeepEquals, []string{"ec2_instance:i-0aaa"})
}
