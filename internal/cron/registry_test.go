package cron

import (
	"context"
	"testing"
)

type namedJob struct {
	name string
}

func (j *namedJob) Name() string              { return j.name }
func (j *namedJob) Run(context.Context) error { return nil }

func TestRegistryPreservesRegistrationOrder(t *testing.T) {
	t.Parallel()

	sweep := &namedJob{name: "reservation-sweep"}
	recovery := &namedJob{name: "print-recovery"}
	registry := NewRegistry(sweep, nil, recovery)
	registry.Register(nil)

	jobs := registry.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("nil jobs must be skipped, got %d jobs", len(jobs))
	}
	if jobs[0] != sweep || jobs[1] != recovery {
		t.Fatal("jobs returned out of registration order")
	}

	jobs[0] = nil
	if registry.Jobs()[0] != sweep {
		t.Fatal("Jobs must return a copy")
	}
}
