// Package job defines the job entity, its state machine, typed handler
// definitions, and the handler registry.
//
// # Job Entity
//
// A [Job] is a unit of deferred work. It carries a JSON payload, a
// numeric priority mapped to one of five tiers, a retry budget, and a
// per-attempt timeout, and progresses through a state machine:
//
//	pending → processing → completed
//	pending → processing → pending (retry, scheduledFor advanced)
//	pending → processing → failed (retries exhausted → dead letter)
//	pending → cancelled (only while still queued)
//
// Retries only decrease, Attempts only increase, and
// Attempts ≤ MaxRetries+1 always holds.
//
// # Defining a Job
//
// Use [Definition] with a typed handler. The payload is JSON-serialized
// at enqueue time and deserialized before the handler runs; a non-nil
// result is stored on the job at completion:
//
//	var VerifyPayment = job.NewDefinition("payment.verify",
//	    func(ctx context.Context, p VerifyPayload) (any, error) {
//	        return gateway.Verify(ctx, p.PaymentID)
//	    },
//	    job.WithPriority(2),
//	)
//
// Handlers may call [ReportProgress] to surface 0–100 progress through
// the job:progress observer hook.
//
// # Registry
//
// [Registry] maps job-type names to type-erased [HandlerFunc] values.
// Register definitions at startup via [RegisterDefinition]. The engine
// package provides higher-level engine.Register and engine.Enqueue
// wrappers.
package job
