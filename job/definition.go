package job

import "context"

// Definition is a typed job definition with a handler function.
// T is the payload type (must be JSON-serializable).
type Definition[T any] struct {
	// Name is the unique job-type identifier.
	Name string

	// Handler processes the job payload. A non-nil first return value is
	// JSON-marshalled into the job's Result on success. Returning an
	// error (or panicking) signals failure and feeds the retry path.
	Handler func(ctx context.Context, payload T) (any, error)

	// Opts are the default enqueue options for this job type; callers may
	// override them per enqueue.
	Opts Options
}

// NewDefinition creates a typed job definition. It panics if handler is
// nil, since that is always a programming error caught at startup.
func NewDefinition[T any](name string, handler func(ctx context.Context, payload T) (any, error), opts ...Option) *Definition[T] {
	if handler == nil {
		panic("job: nil handler for definition " + name)
	}

	def := &Definition[T]{
		Name:    name,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
