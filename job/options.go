package job

import "time"

// Options configures per-job behavior such as priority, retries, and
// scheduling. Zero values mean "use the engine default".
type Options struct {
	// Priority routes the job into a tier. 1 is most urgent, 10 least.
	Priority int

	// MaxRetries is the number of retry attempts after the initial
	// failure before the job is dead-lettered.
	MaxRetries int

	// Timeout is the maximum wall-clock duration for one execution
	// attempt.
	Timeout time.Duration

	// Delay postpones the first eligible dispatch by this duration.
	Delay time.Duration

	// ScheduledFor sets an absolute earliest dispatch time. When set it
	// overrides Delay.
	ScheduledFor time.Time

	// CorrelationID is propagated through the job's lifecycle for
	// cross-system tracing. Generated if empty.
	CorrelationID string

	// maxRetriesSet distinguishes an explicit zero from "not specified".
	maxRetriesSet bool
}

// DefaultOptions returns Options matching the engine's stock defaults.
func DefaultOptions() Options {
	return Options{
		Priority: 5,
		Timeout:  5 * time.Minute,
	}
}

// MaxRetriesSet reports whether WithMaxRetries was applied, so an explicit
// zero ("never retry") is distinguishable from the default budget.
func (o Options) MaxRetriesSet() bool { return o.maxRetriesSet }

// Option is a functional option for configuring a job.
type Option func(*Options)

// WithPriority sets the job priority (1 most urgent … 10 least urgent).
// Out-of-range values are clamped at enqueue time.
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

// WithMaxRetries sets the retry budget. Zero means the job is never
// retried: a single failed attempt dead-letters it.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
		o.maxRetriesSet = true
	}
}

// WithTimeout sets the per-attempt execution ceiling.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithDelay postpones the first dispatch by d.
func WithDelay(d time.Duration) Option {
	return func(o *Options) { o.Delay = d }
}

// WithScheduledFor sets an absolute earliest dispatch time, overriding
// any delay.
func WithScheduledFor(t time.Time) Option {
	return func(o *Options) { o.ScheduledFor = t }
}

// WithCorrelationID propagates an externally supplied tracing token.
func WithCorrelationID(cid string) Option {
	return func(o *Options) { o.CorrelationID = cid }
}
