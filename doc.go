// Package workq provides the in-process background job engine for the
// StagePass events platform. It decouples request handling from slow or
// unreliable side effects — payment verification, webhook processing,
// notification dispatch, cleanup — behind a multi-priority, retrying,
// dead-lettering job queue.
//
// workq is a library, not a service. Construct an engine, register typed
// handlers, and enqueue jobs as ordinary Go values:
//
//	eng := engine.New(workq.DefaultConfig())
//	engine.Register(eng, job.NewDefinition("payment.verify",
//	    func(ctx context.Context, p VerifyPayload) (any, error) {
//	        return gateway.Verify(ctx, p.PaymentID)
//	    },
//	))
//	eng.Start(ctx)
//	engine.Enqueue(ctx, eng, "payment.verify", VerifyPayload{PaymentID: id},
//	    job.WithPriority(2))
//
// # Architecture
//
// Jobs are routed by numeric priority (1–10) into five ordered tiers
// (critical, high, normal, low, bulk). A single dispatcher goroutine polls
// the tier buckets on a fixed interval; whenever a worker slot is free it
// pulls the highest-priority eligible job and hands it to a bounded worker
// pool. Failed attempts are retried with exponential backoff up to the
// job's retry budget, then moved to a dead-letter queue for inspection and
// administrative replay. Completed jobs are kept in a TTL-expiring history
// for result lookup.
//
// All job state lives in process memory. A restart loses pending and
// in-flight jobs.
package workq
