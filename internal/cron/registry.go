package cron

import "context"

// Job is one sweep run by the worker on every tick.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry holds the sweeps in registration order. Order matters: the
// reservation sweep registers before the print recovery sweep so freed
// items are visible to later jobs in the same tick.
type Registry struct {
	jobs []Job
}

func NewRegistry(jobs ...Job) *Registry {
	r := &Registry{}
	for _, job := range jobs {
		r.Register(job)
	}
	return r
}

// Register appends a job; nil jobs (optional wiring left unconfigured)
// are skipped.
func (r *Registry) Register(job Job) {
	if job == nil {
		return
	}
	r.jobs = append(r.jobs, job)
}

// Jobs returns a copy so callers cannot reorder the schedule.
func (r *Registry) Jobs() []Job {
	out := make([]Job, len(r.jobs))
	copy(out, r.jobs)
	return out
}
