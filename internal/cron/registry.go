package cron

import "context"

// Job is one maintenance task the worker runs per cycle.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry holds the jobs a worker will run, in registration order.
type Registry struct {
	jobs []Job
}

// NewRegistry builds a registry from the given jobs, skipping nils.
func NewRegistry(jobs ...Job) *Registry {
	r := &Registry{}
	r.Register(jobs...)
	return r
}

// Register appends jobs to the run order, skipping nils.
func (r *Registry) Register(jobs ...Job) {
	for _, job := range jobs {
		if job == nil {
			continue
		}
		r.jobs = append(r.jobs, job)
	}
}

// Jobs returns a copy of the run order.
func (r *Registry) Jobs() []Job {
	out := make([]Job, len(r.jobs))
	copy(out, r.jobs)
	return out
}
