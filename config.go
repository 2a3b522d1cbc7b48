package workq

import "time"

// Config holds configuration for the job engine. Construct one with
// DefaultConfig and override fields as needed; the engine takes it by
// value at construction time and never reads it again afterwards.
type Config struct {
	// Concurrency is the maximum number of jobs executing simultaneously.
	// This is the sole admission-control mechanism for workers.
	Concurrency int

	// PollInterval is how often the dispatcher checks for eligible work.
	// Each tick performs at most one capacity-check / pull / hand-off cycle.
	PollInterval time.Duration

	// MaxQueueSize caps the total number of jobs across all non-terminal
	// stores (tier buckets plus active workers). Enqueue fails fast with
	// ErrQueueFull once the ceiling is reached.
	MaxQueueSize int

	// DefaultPriority is the priority assigned to jobs that don't specify
	// one. Priorities are clamped to 1 (most urgent) through 10.
	DefaultPriority int

	// DefaultMaxRetries is the retry budget for jobs that don't specify one.
	DefaultMaxRetries int

	// DefaultTimeout is the per-attempt execution ceiling for jobs that
	// don't specify one.
	DefaultTimeout time.Duration

	// BaseDelay and MaxDelay bound the exponential retry backoff:
	// delay(attempt) = min(BaseDelay * 2^(attempt-1), MaxDelay).
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// CleanupInterval is how often the sweeper evicts expired history and
	// dead-letter entries.
	CleanupInterval time.Duration

	// CompletedTTL is how long completed (and cancelled) jobs are retained
	// in history for result lookup.
	CompletedTTL time.Duration

	// FailedTTL is how long dead-lettered jobs are retained.
	FailedTTL time.Duration

	// MetricsInterval is how often the engine emits a metrics snapshot to
	// registered reporters. Zero disables periodic emission.
	MetricsInterval time.Duration

	// ShutdownTimeout is the maximum time Stop waits for in-flight jobs
	// when the caller's context carries no deadline of its own.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       10,
		PollInterval:      1 * time.Second,
		MaxQueueSize:      10000,
		DefaultPriority:   5,
		DefaultMaxRetries: 3,
		DefaultTimeout:    5 * time.Minute,
		BaseDelay:         1 * time.Second,
		MaxDelay:          60 * time.Second,
		CleanupInterval:   5 * time.Minute,
		CompletedTTL:      24 * time.Hour,
		FailedTTL:         7 * 24 * time.Hour,
		MetricsInterval:   1 * time.Minute,
		ShutdownTimeout:   30 * time.Second,
	}
}
