package types

// JobScheduler runs named maintenance jobs on cron expressions with
// seconds resolution.
type JobScheduler interface {
	LifecycleManager
	Add(name, expr string, job func()) error
	Remove(name string)
	Jobs() []string
}
