// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state_test

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/cloudlift/cloudlift/core/migration"
	"github.com/cloudlift/cloudlift/internal/state"
)

type storeSuite struct {
	testing.IsolationSuite

	path string
}

var _ = gc.Suite(&storeSuite{})

func (s *storeSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.path = filepath.Join(c.MkDir(), "migration_state.json")
}

func (s *storeSuite) newStore(c *gc.C) *state.Store {
	store, err := state.NewStore(s.path, clock.WallClock)
	c.Assert(err, jc.ErrorIsNil)
	return store
}

func (s *storeSuite) TestMissingFileIsEmptyCollection(c *gc.C) {
	store := s.newStore(c)
	c.Check(store.All(), gc.HasLen, 0)
	// Nothing is written until the first mutating operation.
	_, err := os.Stat(s.path)
	c.Check(err, jc.Satisfies, os.IsNotExist)
}

func (s *storeSuite) TestCorruptFileIsAnError(c *gc.C) {
	err := os.WriteFile(s.path, []byte("{not json"), 0600)
	c.Assert(err, jc.ErrorIsNil)
	_, err = state.NewStore(s.path, clock.WallClock)
	c.Assert(err, gc.ErrorMatches, `parsing state file .*`)
}

func (s *storeSuite) TestGetOrCreatePersists(c *gc.C) {
	store := s.newStore(c)
	rec, err := store.GetOrCreate(migration.EC2Instance, "i-001", map[string]string{"target_vpc": "vpc-1"}, false)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(rec.Status, gc.Equals, migration.StatusNotStarted)
	c.Check(rec.SourceMetadata["target_vpc"], gc.Equals, "vpc-1")

	// A second store over the same file sees the same record.
	reloaded := s.newStore(c)
	got, ok := reloaded.Record("ec2_instance:i-001")
	c.Assert(ok, jc.IsTrue)
	c.Check(got.SourceID, gc.Equals, "i-001")
}

func (s *storeSuite) TestGetOrCreateReturnsExisting(c *gc.C) {
	store := s.newStore(c)
	_, err := store.GetOrCreate(migration.EC2Instance, "i-001", nil, false)
	c.Assert(err, jc.ErrorIsNil)
	err = store.SetTarget("ec2_instance:i-001", "i-target")
	c.Assert(err, jc.ErrorIsNil)

	rec, err := store.GetOrCreate(migration.EC2Instance, "i-001", nil, false)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(rec.TargetID, gc.Equals, "i-target")
}

func (s *storeSuite) TestSimulatedRecordInvisibleToRealRun(c *gc.C) {
	store := s.newStore(c)
	rec, err := store.GetOrCreate(migration.EC2Instance, "i-001", nil, true)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(rec.ID(), gc.Equals, "ec2_instance:i-001:dryrun")
	err = store.CompleteStep(rec.ID(), "create_ami", migration.StepData{"source_ami_id": "dryrun-ami-0001"})
	c.Assert(err, jc.ErrorIsNil)

	// A real run must not see the dry run's progress.
	real, err := store.GetOrCreate(migration.EC2Instance, "i-001", nil, false)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(real.Simulated, jc.IsFalse)
	c.Check(real.StepCompleted("create_ami"), jc.IsFalse)
}

func (s *storeSuite) TestRealRecordSurvivesDryRun(c *gc.C) {
	store := s.newStore(c)
	rec, err := store.GetOrCreate(migration.EC2Instance, "i-001", nil, false)
	c.Assert(err, jc.ErrorIsNil)
	res := migration.CreatedResource{Type: migration.AMI, ID: "ami-123", Account: "222222222222"}
	c.Assert(store.AddCreatedResource(rec.ID(), res), jc.ErrorIsNil)
	c.Assert(store.CompleteStep(rec.ID(), "create_ami", migration.StepData{"source_ami_id": "ami-123"}), jc.ErrorIsNil)

	// A dry run over the same resource gets its own fresh record and
	// leaves the real one, created-resource ledger included, intact.
	sim, err := store.GetOrCreate(migration.EC2Instance, "i-001", nil, true)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(sim.Simulated, jc.IsTrue)
	c.Check(sim.StepCompleted("create_ami"), jc.IsFalse)

	real, ok := store.Record("ec2_instance:i-001")
	c.Assert(ok, jc.IsTrue)
	c.Check(real.Simulated, jc.IsFalse)
	c.Check(real.StepCompleted("create_ami"), jc.IsTrue)
	c.Check(real.HasCreated(migration.AMI, "ami-123"), jc.IsTrue)
}

func (s *storeSuite) TestStepLifecycle(c *gc.C) {
	store := s.newStore(c)
	rec, err := store.GetOrCreate(migration.EC2Instance, "i-001", nil, false)
	c.Assert(err, jc.ErrorIsNil)
	id := rec.ID()

	err = store.StartStep(id, "create_ami")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(rec.Step("create_ami").Status, gc.Equals, migration.StatusInProgress)

	err = store.CompleteStep(id, "create_ami", migration.StepData{"source_ami_id": "ami-123"})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(rec.StepCompleted("create_ami"), jc.IsTrue)

	// Progress survives a reload.
	reloaded := s.newStore(c)
	got, ok := reloaded.Record(id)
	c.Assert(ok, jc.IsTrue)
	c.Check(got.StepCompleted("create_ami"), jc.IsTrue)
	c.Check(got.StepData("create_ami")["source_ami_id"], gc.Equals, "ami-123")
}

func (s *storeSuite) TestFailStepMarksMigrationFailed(c *gc.C) {
	store := s.newStore(c)
	rec, err := store.GetOrCreate(migration.EC2Instance, "i-001", nil, false)
	c.Assert(err, jc.ErrorIsNil)
	id := rec.ID()

	err = store.StartStep(id, "copy_ami")
	c.Assert(err, jc.ErrorIsNil)
	err = store.FailStep(id, "copy_ami", errors.New("copy rejected"))
	c.Assert(err, jc.ErrorIsNil)

	c.Check(rec.Status, gc.Equals, migration.StatusFailed)
	c.Check(rec.Step("copy_ami").Status, gc.Equals, migration.StatusFailed)
	c.Check(rec.Step("copy_ami").Error, gc.Equals, "copy rejected")

	// Explicit re-invocation is the only path out of failed.
	err = store.StartStep(id, "copy_ami")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(rec.Step("copy_ami").Status, gc.Equals, migration.StatusInProgress)
}

func (s *storeSuite) TestAddCreatedResourceIsAppendOnlyAndDeduplicated(c *gc.C) {
	store := s.newStore(c)
	rec, err := store.GetOrCreate(migration.EC2Instance, "i-001", nil, false)
	c.Assert(err, jc.ErrorIsNil)
	id := rec.ID()

	res := migration.CreatedResource{Type: migration.AMI, ID: "ami-123", Account: "222222222222"}
	c.Assert(store.AddCreatedResource(id, res), jc.ErrorIsNil)
	c.Assert(store.AddCreatedResource(id, res), jc.ErrorIsNil)
	c.Check(rec.ResourcesCreated, gc.HasLen, 1)

	other := migration.CreatedResource{Type: migration.Snapshot, ID: "snap-1", Account: "111111111111"}
	c.Assert(store.AddCreatedResource(id, other), jc.ErrorIsNil)
	c.Check(rec.ResourcesCreated, gc.HasLen, 2)
}

func (s *storeSuite) TestCompletionClearsFailureMessage(c *gc.C) {
	store := s.newStore(c)
	rec, err := store.GetOrCreate(migration.EC2Instance, "i-001", nil, false)
	c.Assert(err, jc.ErrorIsNil)
	id := rec.ID()

	c.Assert(store.SetStatus(id, migration.StatusInProgress), jc.ErrorIsNil)
	c.Assert(store.FailStep(id, "copy_ami", errors.New("copy rejected")), jc.ErrorIsNil)
	c.Check(rec.Error, gc.Equals, "copy rejected")

	// Resumed to success, the record does not keep the stale failure.
	c.Assert(store.SetStatus(id, migration.StatusInProgress), jc.ErrorIsNil)
	c.Assert(store.SetStatus(id, migration.StatusCompleted), jc.ErrorIsNil)
	c.Check(rec.Status, gc.Equals, migration.StatusCompleted)
	c.Check(rec.Error, gc.Equals, "")
}

func (s *storeSuite) TestIllegalStatusTransitionRejected(c *gc.C) {
	store := s.newStore(c)
	rec, err := store.GetOrCreate(migration.EC2Instance, "i-001", nil, false)
	c.Assert(err, jc.ErrorIsNil)
	id := rec.ID()

	c.Assert(store.SetStatus(id, migration.StatusInProgress), jc.ErrorIsNil)
	c.Assert(store.SetStatus(id, migration.StatusCompleted), jc.ErrorIsNil)

	err = store.SetStatus(id, migration.StatusInProgress)
	c.Check(err, jc.ErrorIs, errors.NotValid)
	c.Check(rec.Status, gc.Equals, migration.StatusCompleted)

	// Re-setting the current status is a harmless no-op.
	c.Assert(store.SetStatus(id, migration.StatusCompleted), jc.ErrorIsNil)
}

func (s *storeSuite) TestUnknownMigrationIsNotFound(c *gc.C) {
	store := s.newStore(c)
	err := store.SetTarget("ec2_instance:i-missing", "i-1")
	c.Check(err, jc.ErrorIs, errors.NotFound)
	err = store.StartStep("ec2_instance:i-missing", "create_ami")
	c.Check(err, jc.ErrorIs, errors.NotFound)
}

func (s *storeSuite) TestSaveWritesWellFormedFile(c *gc.C) {
	store := s.newStore(c)
	_, err := store.GetOrCreate(migration.VPC, "vpc-1", nil, false)
	c.Assert(err, jc.ErrorIsNil)

	data, err := os.ReadFile(s.path)
	c.Assert(err, jc.ErrorIsNil)
	var doc map[string]interface{}
	c.Assert(json.Unmarshal(data, &doc), jc.ErrorIsNil)
	c.Check(doc["version"], gc.Equals, "1.0")
	migrations := doc["migrations"].(map[string]interface{})
	c.Check(migrations, gc.HasLen, 1)
	_, ok := migrations["vpc:vpc-1"]
	c.Check(ok, jc.IsTrue)
}

func (s *storeSuite) TestIncompleteMigrations(c *gc.C) {
	store := s.newStore(c)
	rec, err := store.GetOrCreate(migration.EC2Instance, "i-001", nil, false)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(store.SetStatus(rec.ID(), migration.StatusInProgress), jc.ErrorIsNil)

	done, err := store.GetOrCreate(migration.EC2Instance, "i-002", nil, false)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(store.SetStatus(done.ID(), migration.StatusInProgress), jc.ErrorIsNil)
	c.Assert(store.SetStatus(done.ID(), migration.StatusCompleted), jc.ErrorIsNil)

	// Abandoned dry runs are scratch work, never resume candidates.
	sim, err := store.GetOrCreate(migration.EC2Instance, "i-003", nil, true)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(store.SetStatus(sim.ID(), migration.StatusInProgress), jc.ErrorIsNil)

	c.Check(store.IncompleteMigrations(), jc.SameContents, []string{"ec2_instance:i-001"})
}
