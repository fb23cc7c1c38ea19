// Package jobs persists job, work item, and log state in SQLite.
//
// A job moves through a strict lifecycle (pending, running, then completed
// or failed) and carries a monotonically increasing progress percentage.
// Work items record per-item retry accounting, and job logs are append-only.
package jobs
