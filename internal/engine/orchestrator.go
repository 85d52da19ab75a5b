// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package engine drives migrations as fixed sequences of persisted,
// idempotent steps. Progress survives process death: a re-invocation
// skips completed steps, feeds their stored data to the rest, and
// retries the step that failed.
package engine

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/cloudlift/cloudlift/core/migration"
	"github.com/cloudlift/cloudlift/internal/cloud"
	"github.com/cloudlift/cloudlift/internal/dryrun"
	"github.com/cloudlift/cloudlift/internal/state"
)

var logger = loggo.GetLogger("cloudlift.engine")

const (
	defaultPollInterval = 15 * time.Second
	defaultWaitTimeout  = 30 * time.Minute
)

// Config holds the orchestrator's dependencies.
type Config struct {
	Store  *state.Store
	Source cloud.Connection
	Target cloud.Connection
	Clock  clock.Clock

	// PollInterval and WaitTimeout bound the wait steps. Zero means
	// the defaults.
	PollInterval time.Duration
	WaitTimeout  time.Duration
}

// Validate checks the configuration is complete.
func (c Config) Validate() error {
	if c.Store == nil {
		return errors.NotValidf("nil Store")
	}
	if c.Source.Inventory == nil || c.Source.Mutator == nil {
		return errors.NotValidf("incomplete source connection")
	}
	if c.Target.Inventory == nil || c.Target.Mutator == nil {
		return errors.NotValidf("incomplete target connection")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	return nil
}

// step is one unit of pipeline work. Run receives the live run context
// and returns the data to persist with the completed step.
type step struct {
	name string
	run  func(ctx context.Context, r *run) (migration.StepData, error)
}

// pipeline is the fixed step sequence for one resource type. targetID
// recovers the migrated resource's identifier from a (possibly
// resumed) record once every step has completed.
type pipeline struct {
	steps    []step
	targetID func(*migration.Record) string
}

// Orchestrator executes migration pipelines against a pair of cloud
// connections, persisting progress through the state store.
type Orchestrator struct {
	store        *state.Store
	source       cloud.Connection
	target       cloud.Connection
	clock        clock.Clock
	pollInterval time.Duration
	waitTimeout  time.Duration
	pipelines    map[migration.ResourceType]pipeline
}

// New returns an Orchestrator with the standard pipelines registered.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.WaitTimeout == 0 {
		cfg.WaitTimeout = defaultWaitTimeout
	}
	return &Orchestrator{
		store:        cfg.Store,
		source:       cfg.Source,
		target:       cfg.Target,
		clock:        cfg.Clock,
		pollInterval: cfg.PollInterval,
		waitTimeout:  cfg.WaitTimeout,
		pipelines: map[migration.ResourceType]pipeline{
			migration.EC2Instance: ec2Pipeline,
			migration.RDSDatabase: rdsPipeline,
			migration.VPC:         vpcPipeline,
		},
	}, nil
}

// Outcome reports what one Execute call did.
type Outcome struct {
	// MigrationID is the record's identifier in the state file.
	MigrationID string

	// TargetID is the migrated resource's identifier in the target
	// account. For a dry run it is a placeholder.
	TargetID string

	// StepsRun and StepsSkipped list the pipeline's steps by what
	// happened to them in this invocation.
	StepsRun     []string
	StepsSkipped []string

	// Actions is the simulated mutation log of a dry run, nil for a
	// real run.
	Actions *dryrun.Log
}

// run is the per-invocation context threaded through pipeline steps.
type run struct {
	orch     *Orchestrator
	rec      *migration.Record
	params   Params
	sourceID string
	source   cloud.Connection
	target   cloud.Connection
}

// data reads one value a completed step stored earlier.
func (r *run) data(stepName, key string) string {
	return r.rec.StepData(stepName)[key]
}

// addCreated registers a created cloud resource on the record. The
// registration persists before any later step runs, so an interrupted
// run still leaves a trace for manual cleanup, and a resumed step does
// not register twice.
func (r *run) addCreated(resourceType migration.ResourceType, id, accountID string) error {
	return errors.Trace(r.orch.store.AddCreatedResource(r.rec.ID(), migration.CreatedResource{
		Type:    resourceType,
		ID:      id,
		Account: accountID,
	}))
}

// Execute runs (or resumes) the migration of one resource. A completed
// migration short-circuits without touching the cloud. A failed one
// re-enters at its failed step. The first step failure aborts the rest
// of the pipeline and leaves the record failed but re-runnable.
func (o *Orchestrator) Execute(ctx context.Context, resourceType migration.ResourceType, sourceID string, params Params) (*Outcome, error) {
	if err := params.Validate(resourceType); err != nil {
		return nil, errors.Trace(err)
	}
	pipe, ok := o.pipelines[resourceType]
	if !ok {
		return nil, errors.NotValidf("resource type %q", resourceType)
	}

	source, target := o.source, o.target
	var actions *dryrun.Log
	if params.DryRun {
		actions = dryrun.NewLog()
		source = dryrun.Wrap(source, actions, "source")
		target = dryrun.Wrap(target, actions, "target")
		logger.Infof("dry run: no mutations will be performed")
	}

	metadata := map[string]string{
		"source_account": source.AccountID,
		"source_region":  source.Region,
	}
	rec, err := o.store.GetOrCreate(resourceType, sourceID, metadata, params.DryRun)
	if err != nil {
		return nil, errors.Trace(err)
	}
	outcome := &Outcome{MigrationID: rec.ID(), Actions: actions}

	if rec.Status == migration.StatusCompleted {
		logger.Infof("migration %q already completed; target is %q", rec.ID(), rec.TargetID)
		outcome.TargetID = rec.TargetID
		for _, s := range pipe.steps {
			outcome.StepsSkipped = append(outcome.StepsSkipped, s.name)
		}
		return outcome, nil
	}

	if err := o.store.SetStatus(rec.ID(), migration.StatusInProgress); err != nil {
		return nil, errors.Trace(err)
	}

	r := &run{
		orch:     o,
		rec:      rec,
		params:   params,
		sourceID: sourceID,
		source:   source,
		target:   target,
	}
	for _, s := range pipe.steps {
		if rec.StepCompleted(s.name) {
			logger.Debugf("step %s already completed; skipping", s.name)
			outcome.StepsSkipped = append(outcome.StepsSkipped, s.name)
			continue
		}
		if err := o.store.StartStep(rec.ID(), s.name); err != nil {
			return nil, errors.Trace(err)
		}
		logger.Infof("running step %s for %q", s.name, rec.ID())
		data, err := s.run(ctx, r)
		if err != nil {
			if ferr := o.store.FailStep(rec.ID(), s.name, err); ferr != nil {
				logger.Errorf("cannot record failure of step %s: %v", s.name, ferr)
			}
			return outcome, errors.Annotatef(err, "step %s", s.name)
		}
		if err := o.store.CompleteStep(rec.ID(), s.name, data); err != nil {
			return nil, errors.Trace(err)
		}
		outcome.StepsRun = append(outcome.StepsRun, s.name)
	}

	targetID := pipe.targetID(rec)
	if err := o.store.SetTarget(rec.ID(), targetID); err != nil {
		return nil, errors.Trace(err)
	}
	if err := o.store.SetStatus(rec.ID(), migration.StatusCompleted); err != nil {
		return nil, errors.Trace(err)
	}
	outcome.TargetID = targetID
	logger.Infof("migration %q completed; target is %q", rec.ID(), targetID)
	return outcome, nil
}

// Resumable returns the migration ids that are in progress or failed,
// i.e. candidates for re-invocation.
func (o *Orchestrator) Resumable() []string {
	return o.store.IncompleteMigrations()
}
