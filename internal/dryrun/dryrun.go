// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package dryrun simulates cloud mutations. A dry run walks the exact
// step sequence a real run would, reading real source attributes, but
// every mutation is recorded to an action log and answered with a
// placeholder id instead of reaching the service.
package dryrun

import (
	"fmt"
	"strings"
	"sync"
)

const placeholderPrefix = "dryrun-"

// IsPlaceholder reports whether id was minted by a dry run rather than
// by the cloud.
func IsPlaceholder(id string) bool {
	return strings.HasPrefix(id, placeholderPrefix)
}

// Action is one simulated mutation.
type Action struct {
	// Account labels which side the mutation targets, "source" or
	// "target".
	Account string
	// Operation is the mutation name, e.g. "create-image".
	Operation string
	// Detail is a human-readable summary of the arguments.
	Detail string
	// Result is the placeholder id minted for the mutation, if any.
	Result string
}

// Log collects the actions of one dry run. Both account wrappers share
// a single log so the printed sequence interleaves the way a real run
// would execute.
type Log struct {
	mu       sync.Mutex
	actions  []Action
	counters map[string]int
	created  map[string]bool
}

// NewLog returns an empty action log.
func NewLog() *Log {
	return &Log{
		counters: make(map[string]int),
		created:  make(map[string]bool),
	}
}

// noteCreated marks a caller-chosen identifier, such as a db snapshot
// name, as created in this run. Placeholder ids are recognised by
// prefix and need no marking.
func (l *Log) noteCreated(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.created[id] = true
}

func (l *Log) wasCreated(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.created[id]
}

// placeholder mints a deterministic fake id for one created resource.
// Ids are numbered per kind in creation order, so repeated dry runs of
// the same plan produce identical logs.
func (l *Log) placeholder(kind string) string {
	l.counters[kind]++
	return fmt.Sprintf("%s%s-%04d", placeholderPrefix, kind, l.counters[kind])
}

func (l *Log) record(account, operation, detail, kind string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	action := Action{Account: account, Operation: operation, Detail: detail}
	if kind != "" {
		action.Result = l.placeholder(kind)
	}
	l.actions = append(l.actions, action)
	return action.Result
}

// Actions returns the recorded actions in execution order.
func (l *Log) Actions() []Action {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Action, len(l.actions))
	copy(out, l.actions)
	return out
}

// String renders the log one action per line.
func (l *Log) String() string {
	var b strings.Builder
	for _, action := range l.Actions() {
		fmt.Fprintf(&b, "[%s] %s %s", action.Account, action.Operation, action.Detail)
		if action.Result != "" {
			fmt.Fprintf(&b, " -> %s", action.Result)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
