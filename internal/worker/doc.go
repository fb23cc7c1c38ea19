// Package worker invokes the extraction worker process for one batch at a
// time. The batch is handed over as JSON in the JOB_INPUT environment
// variable; the worker's exit code is the sole success signal for the
// invocation, while stdout carries progress evidence and stderr carries
// diagnostics.
package worker
