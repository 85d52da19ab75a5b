// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package migration holds the model types shared by the state store and
// the step orchestrator: one Record per resource being moved between
// accounts, made up of ordered step records and an append-only list of
// the cloud resources created along the way.
package migration

import (
	"time"
)

// ResourceType identifies the kind of a migrated or created cloud
// resource. The values appear in migration ids and in the state file.
type ResourceType string

const (
	// Migratable resource types, each with its own step pipeline.
	EC2Instance ResourceType = "ec2_instance"
	RDSDatabase ResourceType = "rds_database"
	VPC         ResourceType = "vpc"

	// Resource types recorded in ResourcesCreated by pipeline steps.
	AMI             ResourceType = "ami"
	Snapshot        ResourceType = "snapshot"
	SecurityGroup   ResourceType = "security_group"
	Subnet          ResourceType = "subnet"
	InternetGateway ResourceType = "internet_gateway"
	NATGateway      ResourceType = "nat_gateway"
	RouteTable      ResourceType = "route_table"
	ElasticIP       ResourceType = "elastic_ip"
	KMSGrant        ResourceType = "kms_grant"
	DBSnapshot      ResourceType = "db_snapshot"
	DBInstance      ResourceType = "db_instance"
	Instance        ResourceType = "instance"
)

// ID returns the unique migration id for a resource,
// "<resource_type>:<source_id>".
func ID(resourceType ResourceType, sourceID string) string {
	return string(resourceType) + ":" + sourceID
}

// SimulatedID returns the id a dry run's record is kept under,
// "<resource_type>:<source_id>:dryrun". Simulated and real records
// never share a key, so neither can overwrite the other's progress or
// shrink the other's created-resource list.
func SimulatedID(resourceType ResourceType, sourceID string) string {
	return ID(resourceType, sourceID) + ":dryrun"
}

// StepData is the opaque payload a step produces on success. Later
// steps read it back as input, e.g. the id of an image created earlier.
type StepData map[string]string

// StepRecord tracks the progress of one named step within a migration.
type StepRecord struct {
	Status      Status     `json:"status"`
	Data        StepData   `json:"data,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// CreatedResource records a cloud resource created by a migration step,
// with the account that now owns it. The list a record keeps of these
// never shrinks; cleanup is an operator concern.
type CreatedResource struct {
	Type      ResourceType `json:"type"`
	ID        string       `json:"id"`
	Account   string       `json:"account"`
	CreatedAt time.Time    `json:"created_at"`
}

// Record is the persisted unit of progress for one resource's
// cross-account move.
type Record struct {
	ResourceType ResourceType `json:"resource_type"`
	SourceID     string       `json:"source_id"`

	// TargetID is the identifier of the replacement resource in the
	// target account, assigned once known.
	TargetID string `json:"target_id,omitempty"`

	Status Status `json:"status"`

	// Simulated marks a record written by a dry run. Such records are
	// never interpreted as real progress by a non-simulated run.
	Simulated bool `json:"simulated,omitempty"`

	// SourceMetadata is a snapshot of source attributes needed by
	// later steps.
	SourceMetadata map[string]string `json:"source_metadata,omitempty"`

	// Steps maps step name to its record. Ordering is not stored
	// here; each resource type declares a fixed step order and the
	// orchestrator walks it.
	Steps map[string]*StepRecord `json:"steps"`

	// ResourcesCreated is append-only.
	ResourcesCreated []CreatedResource `json:"resources_created"`

	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewRecord returns a fresh not-started record for the given resource.
func NewRecord(resourceType ResourceType, sourceID string, now time.Time) *Record {
	return &Record{
		ResourceType:     resourceType,
		SourceID:         sourceID,
		Status:           StatusNotStarted,
		Steps:            make(map[string]*StepRecord),
		ResourcesCreated: []CreatedResource{},
		CreatedAt:        now,
	}
}

// ID returns the record's migration id.
func (r *Record) ID() string {
	if r.Simulated {
		return SimulatedID(r.ResourceType, r.SourceID)
	}
	return ID(r.ResourceType, r.SourceID)
}

// Step returns the named step record, or nil if the step has not been
// touched yet.
func (r *Record) Step(name string) *StepRecord {
	return r.Steps[name]
}

// StepCompleted reports whether the named step finished successfully in
// a previous run, in which case its stored data is reused and the step
// is not executed again.
func (r *Record) StepCompleted(name string) bool {
	step := r.Steps[name]
	return step != nil && step.Status == StatusCompleted
}

// StepData returns the data recorded by a completed step. Missing steps
// yield an empty map so callers can index without nil checks.
func (r *Record) StepData(name string) StepData {
	if step := r.Steps[name]; step != nil && step.Data != nil {
		return step.Data
	}
	return StepData{}
}

// HasCreated reports whether a resource with the given type and id was
// already registered by a prior step, so a resumed run does not record
// it twice.
func (r *Record) HasCreated(resourceType ResourceType, id string) bool {
	for _, res := range r.ResourcesCreated {
		if res.Type == resourceType && res.ID == id {
			return true
		}
	}
	return false
}
