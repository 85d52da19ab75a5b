// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package state persists migration progress to a single JSON file so
// an interrupted or failed migration can be resumed without repeating
// completed work. The store owns the on-disk collection; the
// orchestrator is its only writer during a run.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/utils/v4"

	"github.com/cloudlift/cloudlift/core/migration"
)

var logger = loggo.GetLogger("cloudlift.state")

// fileVersion is written into new state files. Readers accept any file
// carrying a version; the field exists so a future format change can
// tell old files apart.
const fileVersion = "1.0"

// Collection is the full on-disk document.
type Collection struct {
	Version     string                       `json:"version"`
	CreatedAt   string                       `json:"created_at"`
	LastUpdated string                       `json:"last_updated"`
	Migrations  map[string]*migration.Record `json:"migrations"`
}

// Store is a file-backed collection of migration records. It provides
// no inter-process locking; concurrent invocations racing to create
// the same shared dependency rely on the cloud layer absorbing
// "already exists" as success.
type Store struct {
	path  string
	clock clock.Clock

	collection *Collection
}

// NewStore loads (or initialises) the collection at path. A missing
// file is not an error; it yields an empty collection that is written
// on the first Save.
func NewStore(path string, clk clock.Clock) (*Store, error) {
	s := &Store{path: path, clock: clk}
	if err := s.load(); err != nil {
		return nil, errors.Trace(err)
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		now := s.now()
		s.collection = &Collection{
			Version:     fileVersion,
			CreatedAt:   now,
			LastUpdated: now,
			Migrations:  make(map[string]*migration.Record),
		}
		logger.Debugf("no state file at %q, starting a new collection", s.path)
		return nil
	} else if err != nil {
		return errors.Annotatef(err, "reading state file %q", s.path)
	}

	var collection Collection
	if err := json.Unmarshal(data, &collection); err != nil {
		// A corrupt state file is never silently replaced; doing so
		// would discard the record of created cloud resources.
		return errors.Annotatef(err, "parsing state file %q", s.path)
	}
	if collection.Migrations == nil {
		collection.Migrations = make(map[string]*migration.Record)
	}
	s.collection = &collection
	logger.Infof("loaded %d migration record(s) from %q", len(collection.Migrations), s.path)
	return nil
}

// Save writes the whole collection atomically (write to a temp file in
// the same directory, then rename) so a crash mid-write never corrupts
// previously persisted progress. It is called after every mutating
// store operation.
func (s *Store) Save() error {
	s.collection.LastUpdated = s.now()
	data, err := json.MarshalIndent(s.collection, "", "  ")
	if err != nil {
		return errors.Trace(err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Annotatef(err, "creating state dir %q", dir)
	}
	if err := utils.AtomicWriteFile(s.path, data, 0600); err != nil {
		return errors.Annotatef(err, "writing state file %q", s.path)
	}
	return nil
}

// All returns the record collection keyed by migration id.
func (s *Store) All() map[string]*migration.Record {
	return s.collection.Migrations
}

// Record returns the record for a migration id, if present.
func (s *Store) Record(id string) (*migration.Record, bool) {
	rec, ok := s.collection.Migrations[id]
	return rec, ok
}

// GetOrCreate returns the existing record for the resource or creates
// a fresh not-started one. A dry run's record lives under its own key:
// a real record is never replaced or shrunk by a simulation, and a
// real run never mistakes simulated progress for its own.
func (s *Store) GetOrCreate(resourceType migration.ResourceType, sourceID string, metadata map[string]string, simulated bool) (*migration.Record, error) {
	id := migration.ID(resourceType, sourceID)
	if simulated {
		id = migration.SimulatedID(resourceType, sourceID)
	}
	if rec, ok := s.collection.Migrations[id]; ok {
		logger.Infof("found existing migration state for %q (status %s)", id, rec.Status)
		return rec, nil
	}
	rec := migration.NewRecord(resourceType, sourceID, s.clock.Now().UTC())
	rec.Simulated = simulated
	rec.SourceMetadata = metadata
	s.collection.Migrations[id] = rec
	if err := s.Save(); err != nil {
		return nil, errors.Trace(err)
	}
	logger.Infof("initialised migration %q", id)
	return rec, nil
}

// SetStatus transitions the overall record status, stamping started/
// completed times, and persists. Setting the current status again is a
// no-op transition; anything else must be a legal move.
func (s *Store) SetStatus(id string, status migration.Status) error {
	rec, err := s.record(id)
	if err != nil {
		return errors.Trace(err)
	}
	if status != rec.Status && !rec.Status.CanTransition(status) {
		return errors.NotValidf("status transition %s -> %s", rec.Status, status)
	}
	rec.Status = status
	now := s.clock.Now().UTC()
	if status == migration.StatusInProgress && rec.StartedAt == nil {
		rec.StartedAt = &now
	}
	if status == migration.StatusCompleted {
		rec.CompletedAt = &now
		// A record resumed to success sheds the failure that parked it.
		rec.Error = ""
	}
	return errors.Trace(s.Save())
}

// SetTarget records the target-side identifier and persists.
func (s *Store) SetTarget(id, targetID string) error {
	rec, err := s.record(id)
	if err != nil {
		return errors.Trace(err)
	}
	rec.TargetID = targetID
	return errors.Trace(s.Save())
}

// StartStep marks a step in progress and persists. Re-invoking a
// previously failed step is the explicit re-entry path; the status
// simply moves back to in_progress.
func (s *Store) StartStep(id, step string) error {
	rec, err := s.record(id)
	if err != nil {
		return errors.Trace(err)
	}
	sr := rec.Steps[step]
	if sr == nil {
		sr = &migration.StepRecord{}
		rec.Steps[step] = sr
	}
	sr.Status = migration.StatusInProgress
	if sr.StartedAt == nil {
		now := s.clock.Now().UTC()
		sr.StartedAt = &now
	}
	return errors.Trace(s.Save())
}

// CompleteStep marks a step completed with its result data and
// persists.
func (s *Store) CompleteStep(id, step string, data migration.StepData) error {
	rec, err := s.record(id)
	if err != nil {
		return errors.Trace(err)
	}
	sr := rec.Steps[step]
	if sr == nil {
		sr = &migration.StepRecord{}
		rec.Steps[step] = sr
	}
	sr.Status = migration.StatusCompleted
	sr.Data = data
	sr.Error = ""
	now := s.clock.Now().UTC()
	sr.CompletedAt = &now
	return errors.Trace(s.Save())
}

// FailStep marks a step failed with the error message, marks the whole
// migration failed, and persists. The record remains re-runnable.
func (s *Store) FailStep(id, step string, stepErr error) error {
	rec, err := s.record(id)
	if err != nil {
		return errors.Trace(err)
	}
	sr := rec.Steps[step]
	if sr == nil {
		sr = &migration.StepRecord{}
		rec.Steps[step] = sr
	}
	sr.Status = migration.StatusFailed
	sr.Error = stepErr.Error()
	now := s.clock.Now().UTC()
	sr.CompletedAt = &now
	rec.Status = migration.StatusFailed
	rec.Error = stepErr.Error()
	return errors.Trace(s.Save())
}

// AddCreatedResource appends to the record's created-resource list and
// persists immediately, before any subsequent step runs, so an abrupt
// termination still leaves a traceable record for manual cleanup.
// Appending the same resource twice (a resumed creating step) is a
// no-op.
func (s *Store) AddCreatedResource(id string, res migration.CreatedResource) error {
	rec, err := s.record(id)
	if err != nil {
		return errors.Trace(err)
	}
	if rec.HasCreated(res.Type, res.ID) {
		return nil
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = s.clock.Now().UTC()
	}
	rec.ResourcesCreated = append(rec.ResourcesCreated, res)
	return errors.Trace(s.Save())
}

// IncompleteMigrations returns the ids of migrations that are in
// progress or failed, i.e. candidates for resume. Simulated records
// are scratch work and never listed.
func (s *Store) IncompleteMigrations() []string {
	var ids []string
	for id, rec := range s.collection.Migrations {
		if rec.Simulated {
			continue
		}
		if rec.Status == migration.StatusInProgress || rec.Status == migration.StatusFailed {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Store) record(id string) (*migration.Record, error) {
	rec, ok := s.collection.Migrations[id]
	if !ok {
		return nil, errors.NotFoundf("migration %q", id)
	}
	return rec, nil
}

func (s *Store) now() string {
	return s.clock.Now().UTC().Format(time.RFC3339)
}
