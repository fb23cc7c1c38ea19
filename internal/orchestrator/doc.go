// Package orchestrator drives a job through its two execution phases.
//
// Phase one partitions the job's work items into fixed-size batches and
// dispatches each batch to the worker, running up to the configured number
// of invocations in parallel. A batch whose invocation exits non-zero is
// conservatively requeued whole, since the worker reports no per-item
// verdicts. Phase two drains the retry queue one item at a time for up to
// max_retries cycles; items still failing after the final cycle are
// recorded as permanent failures. A job completes only when no item failed
// permanently.
package orchestrator
