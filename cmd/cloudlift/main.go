// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// cloudlift migrates individual cloud resources between two accounts.
// It resumes where it left off: re-running the same command after a
// failure or interruption skips the work already done.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"

	"github.com/cloudlift/cloudlift/core/migration"
	"github.com/cloudlift/cloudlift/internal/cloud"
	"github.com/cloudlift/cloudlift/internal/cloud/aws"
	"github.com/cloudlift/cloudlift/internal/engine"
	"github.com/cloudlift/cloudlift/internal/state"
)

var logger = loggo.GetLogger("cloudlift.cmd")

type options struct {
	resourceType  string
	sourceID      string
	sourceProfile string
	sourceRegion  string
	sourceAccount string
	targetProfile string
	targetRegion  string
	targetAccount string
	targetVPC     string
	targetSubnet  string
	targetGroups  string
	targetKMSKey  string
	targetCIDR    string
	stateFile     string
	dryRun        bool
	listResumable bool
	debug         bool
	waitTimeout   time.Duration
	pollInterval  time.Duration
}

func parseArgs(args []string) (*options, error) {
	var o options
	f := gnuflag.NewFlagSetWithFlagKnownAs("cloudlift", gnuflag.ContinueOnError, "option")
	f.StringVar(&o.resourceType, "type", "", "resource type to migrate: ec2_instance, rds_database or vpc")
	f.StringVar(&o.sourceID, "source-id", "", "identifier of the resource in the source account")
	f.StringVar(&o.sourceProfile, "source-profile", "", "AWS shared-config profile of the source account")
	f.StringVar(&o.sourceRegion, "source-region", "", "region of the source resource")
	f.StringVar(&o.sourceAccount, "source-account", "", "twelve-digit id of the source account")
	f.StringVar(&o.targetProfile, "target-profile", "", "AWS shared-config profile of the target account")
	f.StringVar(&o.targetRegion, "target-region", "", "target region (defaults to the source region)")
	f.StringVar(&o.targetAccount, "target-account", "", "twelve-digit id of the target account")
	f.StringVar(&o.targetVPC, "target-vpc", "", "VPC to place a migrated instance in")
	f.StringVar(&o.targetSubnet, "target-subnet", "", "subnet id, or db subnet group for databases")
	f.StringVar(&o.targetGroups, "target-security-groups", "", "comma-separated group ids to attach instead of replicating")
	f.StringVar(&o.targetKMSKey, "target-kms-key", "", "KMS key re-encrypting copied database snapshots")
	f.StringVar(&o.targetCIDR, "target-cidr", "", "override the address block of a replicated VPC")
	f.StringVar(&o.stateFile, "state-file", "migration-state.json", "path of the migration state file")
	f.BoolVar(&o.dryRun, "dry-run", false, "simulate: log every mutation instead of performing it")
	f.BoolVar(&o.listResumable, "list-resumable", false, "list incomplete migrations in the state file and exit")
	f.BoolVar(&o.debug, "debug", false, "enable debug logging")
	f.DurationVar(&o.waitTimeout, "wait-timeout", 30*time.Minute, "how long to wait for a cloud resource to become ready")
	f.DurationVar(&o.pollInterval, "poll-interval", 15*time.Second, "how often to poll a pending cloud resource")
	if err := f.Parse(true, args); err != nil {
		return nil, errors.Trace(err)
	}
	return &o, nil
}

func (o *options) validate() error {
	if o.listResumable {
		return nil
	}
	if o.resourceType == "" {
		return errors.NotValidf("missing --type")
	}
	if o.sourceID == "" {
		return errors.NotValidf("missing --source-id")
	}
	if o.sourceAccount == "" || o.targetAccount == "" {
		return errors.NotValidf("missing --source-account or --target-account")
	}
	if o.sourceRegion == "" {
		return errors.NotValidf("missing --source-region")
	}
	return nil
}

func main() {
	os.Exit(Main(os.Args[1:]))
}

// Main runs the command and returns the process exit code.
func Main(args []string) int {
	o, err := parseArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	if err := o.validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	level := "INFO"
	if o.debug {
		level = "DEBUG"
	}
	if err := loggo.ConfigureLoggers("cloudlift=" + level); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	if err := run(context.Background(), o); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, o *options) error {
	store, err := state.NewStore(o.stateFile, clock.WallClock)
	if err != nil {
		return errors.Trace(err)
	}

	if o.listResumable {
		ids := store.IncompleteMigrations()
		if len(ids) == 0 {
			fmt.Println("no incomplete migrations")
			return nil
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	}

	if o.targetRegion == "" {
		o.targetRegion = o.sourceRegion
	}
	source, err := connect(ctx, o.sourceProfile, o.sourceRegion, o.sourceAccount)
	if err != nil {
		return errors.Annotate(err, "connecting to source account")
	}
	target, err := connect(ctx, o.targetProfile, o.targetRegion, o.targetAccount)
	if err != nil {
		return errors.Annotate(err, "connecting to target account")
	}

	orch, err := engine.New(engine.Config{
		Store:        store,
		Source:       source,
		Target:       target,
		Clock:        clock.WallClock,
		PollInterval: o.pollInterval,
		WaitTimeout:  o.waitTimeout,
	})
	if err != nil {
		return errors.Trace(err)
	}

	params := engine.Params{
		TargetVPC:    o.targetVPC,
		TargetSubnet: o.targetSubnet,
		TargetKMSKey: o.targetKMSKey,
		TargetCIDR:   o.targetCIDR,
		DryRun:       o.dryRun,
	}
	if o.targetGroups != "" {
		params.TargetSecurityGroups = strings.Split(o.targetGroups, ",")
	}

	outcome, err := orch.Execute(ctx, migration.ResourceType(o.resourceType), o.sourceID, params)
	if err != nil {
		return errors.Trace(err)
	}
	if outcome.Actions != nil {
		fmt.Print(outcome.Actions.String())
		fmt.Printf("dry run of %s complete: %d step(s) simulated\n",
			outcome.MigrationID, len(outcome.StepsRun))
		return nil
	}
	fmt.Printf("migration %s complete: target is %s (%d step(s) run, %d skipped)\n",
		outcome.MigrationID, outcome.TargetID, len(outcome.StepsRun), len(outcome.StepsSkipped))
	return nil
}

// connect builds both halves of one account's connection from its
// shared-config profile.
func connect(ctx context.Context, profile, region, accountID string) (cloud.Connection, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return cloud.Connection{}, errors.Trace(err)
	}
	logger.Debugf("loaded AWS config for account %s in %s", accountID, region)
	ec2Client, rdsClient, kmsClient := aws.NewClients(cfg)
	return cloud.Connection{
		AccountID: accountID,
		Region:    region,
		Inventory: aws.NewInventory(ec2Client, rdsClient),
		Mutator:   aws.NewMutator(ec2Client, rdsClient, kmsClient),
	}, nil
}
